package image

import (
	"time"

	"golang.org/x/sys/unix"
)

// statTimes returns the access, modification and change times of st.
func statTimes(st *unix.Stat_t) (atime, mtime, ctime time.Time) { //nolint:nonamedreturns
	return time.Unix(st.Atim.Unix()), time.Unix(st.Mtim.Unix()), time.Unix(st.Ctim.Unix())
}
