package filesystem

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/desertwitch/nitrofuse/internal/nitro"
	"github.com/jellydator/ttlcache/v3"
)

const minExpireInterval = 10 * time.Millisecond

// HandleID identifies an open file or directory within the [FS].
type HandleID uint64

// handleTable associates open handles with their resolved [nitro.Entry].
// Reading from a handle extends its lifetime, when a TTL was configured.
type handleTable struct {
	fsys  *FS
	ttl   time.Duration
	next  atomic.Uint64
	cache *ttlcache.Cache[HandleID, *nitro.Entry]

	unsubscribe func()
	stop        chan struct{}
	done        chan struct{}
}

func newHandleTable(fsys *FS, ttl time.Duration) *handleTable {
	h := &handleTable{
		fsys: fsys,
		ttl:  ttl,
	}

	if ttl > 0 {
		h.cache = ttlcache.New(ttlcache.WithTTL[HandleID, *nitro.Entry](ttl))
	} else {
		h.cache = ttlcache.New[HandleID, *nitro.Entry]()
	}

	h.unsubscribe = h.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[HandleID, *nitro.Entry]) {
		if reason != ttlcache.EvictionReasonExpired {
			return // accounted for by the caller
		}

		fsys.Metrics.OpenHandles.Add(-1)
		fsys.Metrics.TotalClosedHandles.Add(1)
		fsys.Metrics.TotalExpiredHandles.Add(1)

		fsys.rbuf.Debugf("%q->Release: handle %d expired (unused for %s)\n", item.Value().Path(), item.Key(), ttl)
	})

	if ttl > 0 {
		h.stop = make(chan struct{})
		h.done = make(chan struct{})

		go h.expire(max(ttl/2, minExpireInterval)) //nolint:mnd
	}

	return h
}

// expire removes the expired handles every interval, until stopped.
// Handles are therefore released between one and one and a half TTL
// after their last use.
func (h *handleTable) expire(interval time.Duration) {
	defer close(h.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.cache.DeleteExpired()
		}
	}
}

// add associates e with a new [HandleID] and returns it.
func (h *handleTable) add(e *nitro.Entry) HandleID {
	id := HandleID(h.next.Add(1))

	h.cache.Set(id, e, ttlcache.DefaultTTL)

	h.fsys.Metrics.OpenHandles.Add(1)
	h.fsys.Metrics.TotalOpens.Add(1)

	return id
}

// get returns the [nitro.Entry] associated with id.
func (h *handleTable) get(id HandleID) (*nitro.Entry, bool) {
	item := h.cache.Get(id)
	if item == nil {
		return nil, false
	}

	return item.Value(), true
}

// remove disassociates id and returns the [nitro.Entry] it was associated with.
func (h *handleTable) remove(id HandleID) (*nitro.Entry, bool) {
	item, ok := h.cache.GetAndDelete(id)
	if !ok || item == nil {
		return nil, false
	}

	h.fsys.Metrics.OpenHandles.Add(-1)
	h.fsys.Metrics.TotalClosedHandles.Add(1)

	return item.Value(), true
}

// len returns the amount of open handles.
func (h *handleTable) len() int {
	return h.cache.Len()
}

// close stops the expiration and removes all handles, returning how many
// handles were still open. The table can no longer be used afterwards.
func (h *handleTable) close() int {
	if h.stop != nil {
		close(h.stop)
		<-h.done
	}
	h.unsubscribe()

	n := h.cache.Len()
	h.cache.DeleteAll()

	h.fsys.Metrics.OpenHandles.Store(0)
	h.fsys.Metrics.TotalClosedHandles.Add(int64(n))

	return n
}
