package bytesource

import (
	"sync"
	"sync/atomic"

	"github.com/llmengine/llm-engine/internal/loaderr"
	"github.com/llmengine/llm-engine/internal/metrics"
)

// Region is a reference-counted view over mapped (or pinned) file bytes.
// It starts with one holder; the bytes are unmapped exactly when the
// holder count drops to zero.
type Region struct {
	name    string
	size    int64
	data    []byte
	unmap   func([]byte) error // nil for regions that need no unmapping
	holders atomic.Int32

	mu       sync.Mutex // guards data and released
	released bool
}

// newRegion creates a region with a holder count of one.
func newRegion(name string, data []byte, unmap func([]byte) error) *Region {
	r := &Region{name: name, size: int64(len(data)), data: data, unmap: unmap}
	r.holders.Store(1)
	if unmap != nil {
		metrics.MappedRegions.Inc()
		metrics.MappedBytes.Add(float64(len(data)))
	}
	return r
}

// Name returns the path (or label) the region was created from.
func (r *Region) Name() string {
	return r.name
}

// Len returns the region size in bytes.
func (r *Region) Len() int64 {
	return r.size
}

// Holders returns the current holder count.
func (r *Region) Holders() int32 {
	return r.holders.Load()
}

// Mapped reports whether the region bytes are still accessible.
func (r *Region) Mapped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.released
}

// Bytes returns the full region. It returns nil once the region is released.
func (r *Region) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	return r.data
}

// Slice returns the window [off, off+n) of the region without copying.
func (r *Region) Slice(off, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off > r.size-n {
		return nil, loaderr.New(loaderr.ErrRange, "window [%d, %d) escapes [0, %d)", off, off+n, r.size).
			In(r.name).At(off)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, loaderr.New(loaderr.ErrMap, "region already released").In(r.name)
	}
	return r.data[off : off+n : off+n], nil
}

// Retain adds a holder. It fails when the region has already been released,
// since a released mapping cannot be revived.
func (r *Region) Retain() bool {
	for {
		n := r.holders.Load()
		if n <= 0 {
			return false
		}
		if r.holders.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a holder and unmaps the region when none remain.
// Releasing more times than retained is a no-op.
func (r *Region) Release() error {
	for {
		n := r.holders.Load()
		if n <= 0 {
			return nil
		}
		if r.holders.CompareAndSwap(n, n-1) {
			if n == 1 {
				return r.teardown()
			}
			return nil
		}
	}
}

func (r *Region) teardown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.released = true

	var err error
	if r.unmap != nil {
		if len(r.data) > 0 {
			err = r.unmap(r.data)
		}
		metrics.MappedRegions.Dec()
		metrics.MappedBytes.Sub(float64(len(r.data)))
	}
	r.data = nil
	if err != nil {
		return loaderr.Wrap(loaderr.ErrMap, err, "unmap failed").In(r.name)
	}
	return nil
}
