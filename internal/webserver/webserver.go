// Package webserver implements the diagnostics server.
package webserver

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"sync/atomic"

	"github.com/desertwitch/nitrofuse/assets"
	"github.com/desertwitch/nitrofuse/internal/filesystem"
	"github.com/desertwitch/nitrofuse/internal/logging"
	"github.com/desertwitch/nitrofuse/internal/nitro"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
)

var (
	//go:embed templates/*.html
	templateFS    embed.FS
	indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

	// errInvalidArgument is for an invalid constructor argument.
	errInvalidArgument = errors.New("invalid argument")
)

// FSDashboard is the implementation of the filesystem dashboard.
type FSDashboard struct {
	version string
	fsys    *filesystem.FS
	rbuf    *logging.RingBuffer
}

// NewFSDashboard returns a pointer to a new [FSDashboard].
func NewFSDashboard(fsys *filesystem.FS, rbuf *logging.RingBuffer, version string) (*FSDashboard, error) {
	if fsys == nil {
		return nil, fmt.Errorf("%w: need filesystem", errInvalidArgument)
	}
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need ring buffer", errInvalidArgument)
	}

	return &FSDashboard{
		version: version,
		fsys:    fsys,
		rbuf:    rbuf,
	}, nil
}

// Serve serves the diagnostics dashboard as part of a [http.Server].
func (d *FSDashboard) Serve(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: d.dashboardMux()} //nolint:gosec

	go func() {
		defer func() {
			r := recover()
			if r != nil {
				fmt.Fprintf(os.Stderr, "(webserver) PANIC: %v\n", r)
				debug.PrintStack()
			}
		}()
		d.rbuf.Printf("serving dashboard on %s\n", addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.rbuf.Printf("HTTP error: %v\n", err)
		}
	}()

	return srv
}

func (d *FSDashboard) dashboardMux() *mux.Router {
	mux := mux.NewRouter()

	mux.HandleFunc("/", d.dashboardHandler)
	mux.HandleFunc("/metrics.json", d.metricsHandler)
	mux.HandleFunc("/tree.json", d.treeHandler)
	mux.HandleFunc("/gc", d.gcHandler)
	mux.HandleFunc("/reset", d.resetMetricsHandler)

	mux.HandleFunc("/set/verbose/{value}",
		d.booleanHandler("Verbose logging", &d.rbuf.Verbose))

	mux.HandleFunc("/nitrofuse.svg", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = w.Write(assets.Logo)
	})

	return mux
}

type fsDashboardData struct {
	AllocBytes          string   `json:"allocBytes"`
	AvgReadSpeed        string   `json:"avgReadSpeed"`
	AvgReadTime         string   `json:"avgReadTime"`
	Directories         int      `json:"directories"`
	FileBytes           string   `json:"fileBytes"`
	Files               int      `json:"files"`
	HandleTTL           string   `json:"handleTtl"`
	Logs                []string `json:"logs"`
	MaxDepth            int      `json:"maxDepth"`
	MaxDepthLimit       int      `json:"maxDepthLimit"`
	NumGC               uint32   `json:"numGc"`
	OpenHandles         int64    `json:"openHandles"`
	RingBufferSize      int      `json:"ringBufferSize"`
	ROMPath             string   `json:"romPath"`
	ROMSize             string   `json:"romSize"`
	StrictCache         string   `json:"strictCache"`
	SysBytes            string   `json:"sysBytes"`
	TotalAlloc          string   `json:"totalAlloc"`
	TotalClosedHandles  int64    `json:"totalClosedHandles"`
	TotalErrors         int64    `json:"totalErrors"`
	TotalExpiredHandles int64    `json:"totalExpiredHandles"`
	TotalOpens          int64    `json:"totalOpens"`
	TotalReadBytes      string   `json:"totalReadBytes"`
	TotalReadDirs       int64    `json:"totalReadDirs"`
	TotalReads          int64    `json:"totalReads"`
	TotalStats          int64    `json:"totalStats"`
	Uptime              string   `json:"uptime"`
	Verbose             string   `json:"verbose"`
	Version             string   `json:"version"`
}

func (d *FSDashboard) collectMetrics() fsDashboardData {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	lines := d.rbuf.Lines()
	slices.Reverse(lines)

	stats := d.fsys.Tree.Stats()

	return fsDashboardData{
		AllocBytes:          humanize.IBytes(m.Alloc),
		AvgReadSpeed:        d.avgReadSpeed(),
		AvgReadTime:         d.avgReadTime(),
		Directories:         stats.Dirs,
		FileBytes:           humanize.IBytes(stats.FileBytes),
		Files:               stats.Files,
		HandleTTL:           durationOrNever(d.fsys.Options.HandleTTL),
		Logs:                lines,
		MaxDepth:            stats.MaxDepth,
		MaxDepthLimit:       d.fsys.Options.MaxDepth,
		NumGC:               m.NumGC,
		OpenHandles:         d.fsys.Metrics.OpenHandles.Load(),
		RingBufferSize:      d.rbuf.Size(),
		ROMPath:             d.fsys.Image.Path(),
		ROMSize:             humanize.IBytes(uint64(d.fsys.Image.Len())), //nolint:gosec
		StrictCache:         enabledOrDisabled(d.fsys.Options.StrictCache),
		SysBytes:            humanize.IBytes(m.Sys),
		TotalAlloc:          humanize.IBytes(m.TotalAlloc),
		TotalClosedHandles:  d.fsys.Metrics.TotalClosedHandles.Load(),
		TotalErrors:         d.fsys.Metrics.Errors.Load(),
		TotalExpiredHandles: d.fsys.Metrics.TotalExpiredHandles.Load(),
		TotalOpens:          d.fsys.Metrics.TotalOpens.Load(),
		TotalReadBytes:      d.totalReadBytes(),
		TotalReadDirs:       d.fsys.Metrics.TotalReadDirs.Load(),
		TotalReads:          d.fsys.Metrics.TotalReads.Load(),
		TotalStats:          d.fsys.Metrics.TotalStats.Load(),
		Uptime:              humanize.Time(d.fsys.MountTime),
		Verbose:             enabledOrDisabled(d.rbuf.Verbose.Load()),
		Version:             d.version,
	}
}

func (d *FSDashboard) dashboardHandler(w http.ResponseWriter, _ *http.Request) {
	data := d.collectMetrics()

	if err := indexTemplate.Execute(w, data); err != nil {
		d.rbuf.Printf("HTTP template execution error: %v\n", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *FSDashboard) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	data := d.collectMetrics()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type treeEntry struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	ID    uint16 `json:"id"`
	Inode uint64 `json:"inode"`
	Size  uint32 `json:"size"`
	Links uint32 `json:"links"`
}

// treeHandler lists the entries at and below the "path" query parameter.
func (d *FSDashboard) treeHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}

	start, ok := d.fsys.Tree.Resolve(path)
	if !ok {
		http.Error(w, fmt.Sprintf("No such entry: %q", path), http.StatusNotFound)

		return
	}

	var entries []treeEntry
	_ = d.fsys.Tree.WalkFrom(start, func(path string, e *nitro.Entry) error {
		entries = append(entries, treeEntry{
			Path:  path,
			Kind:  e.Kind().String(),
			ID:    e.ID(),
			Inode: e.Inode(),
			Size:  e.Size(),
			Links: e.Links(),
		})

		return nil
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *FSDashboard) gcHandler(w http.ResponseWriter, _ *http.Request) {
	runtime.GC()
	debug.FreeOSMemory()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	d.rbuf.Printf("GC forced via API, current heap: %s.\n", humanize.IBytes(m.Alloc))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "GC forced, current heap: %s.\n", humanize.IBytes(m.Alloc))
}

func (d *FSDashboard) resetMetricsHandler(w http.ResponseWriter, _ *http.Request) {
	d.fsys.Metrics.Reset()

	d.rbuf.Println("Metrics reset via API.")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Metrics reset.")
}

func (d *FSDashboard) booleanHandler(desc string, target *atomic.Bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		val, err := strconv.ParseBool(vars["value"])
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid boolean value: %v", err), http.StatusBadRequest)

			return
		}
		target.Store(val)

		d.rbuf.Printf("%s set via API: %t.\n", desc, val)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s set: %t.\n", desc, val)
	}
}
