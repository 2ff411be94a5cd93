//nolint:mnd
package webserver

import (
	"time"

	"github.com/dustin/go-humanize"
)

// avgReadTime returns a string of the average file read time.
func (d *FSDashboard) avgReadTime() string {
	return time.Duration(d.fsys.Metrics.TotalReadTime.Load() / max(1, d.fsys.Metrics.TotalReads.Load())).String()
}

// avgReadSpeed returns a string of the average file read throughput.
func (d *FSDashboard) avgReadSpeed() string {
	bytes := d.fsys.Metrics.TotalReadBytes.Load()
	ns := d.fsys.Metrics.TotalReadTime.Load()

	if ns == 0 {
		return "0 B/s"
	}

	bps := float64(bytes) / (float64(ns) / 1e9)

	return humanize.IBytes(uint64(bps)) + "/s"
}

// totalReadBytes returns a string of the total bytes read from files.
func (d *FSDashboard) totalReadBytes() string {
	bytes := d.fsys.Metrics.TotalReadBytes.Load()

	if bytes < 0 {
		return humanize.IBytes(0)
	}

	return humanize.IBytes(uint64(bytes))
}

// enabledOrDisabled returns string "Enabled" or "Disabled" based on a boolean.
func enabledOrDisabled(v bool) string {
	if v {
		return "Enabled"
	}

	return "Disabled"
}

// durationOrNever returns the string of d, or "Never" if it is not positive.
func durationOrNever(d time.Duration) string {
	if d <= 0 {
		return "Never"
	}

	return d.String()
}
