package bytesource

import (
	"errors"
	"io"
	"math"
	"os"
	"sync"

	"github.com/llmengine/llm-engine/internal/loaderr"
)

// chunkSize is the read-through buffer size used when a file is not mapped.
const chunkSize = 64 * 1024

// File is a read-only, random-access view over a model file.
type File struct {
	path string
	file *os.File // nil for in-memory sources
	size int64

	mu      sync.Mutex
	region  *Region // non-nil once mapped
	chunk   []byte  // last buffered chunk; never reused once replaced
	chunkAt int64
	closed  bool
}

// Open opens path for buffered reads. Call Map to switch to zero-copy reads.
//
// Important: Always call Close() when done (use defer).
func Open(path string) (*File, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	f, err := os.Open(path)
	if err != nil {
		return nil, loaderr.Wrap(loaderr.ErrIO, err, "open failed").In(path)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, loaderr.Wrap(loaderr.ErrIO, err, "stat failed").In(path)
	}
	if stat.IsDir() {
		_ = f.Close()
		return nil, loaderr.New(loaderr.ErrIO, "is a directory").In(path)
	}
	if uint64(stat.Size()) > math.MaxInt {
		_ = f.Close()
		return nil, loaderr.New(loaderr.ErrTooLarge, "size %d exceeds addressable memory", stat.Size()).In(path)
	}

	return &File{path: path, file: f, size: stat.Size(), chunkAt: -1}, nil
}

// FromBytes wraps an in-memory buffer. The buffer behaves like an
// already mapped file: Map succeeds and At never copies.
func FromBytes(name string, data []byte) *File {
	return &File{
		path:    name,
		size:    int64(len(data)),
		region:  newRegion(name, data, nil),
		chunkAt: -1,
	}
}

// Path returns the path the source was opened from.
func (f *File) Path() string {
	return f.path
}

// Len returns the file size in bytes.
func (f *File) Len() int64 {
	return f.size
}

// Region returns the mapping backing the file, or nil when not mapped.
func (f *File) Region() *Region {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.region
}

// Mapped reports whether reads are served from a mapping.
func (f *File) Mapped() bool {
	return f.Region() != nil
}

// Map memory-maps the whole file. Calling Map on an already mapped file
// returns the existing region. On failure the File keeps working in
// buffered mode.
func (f *File) Map() (*Region, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, loaderr.New(loaderr.ErrMap, "source is closed").In(f.path)
	}
	if f.region != nil {
		return f.region, nil
	}
	if f.size == 0 {
		f.region = newRegion(f.path, []byte{}, nil)
		return f.region, nil
	}

	// Memory map the file (platform-specific implementation)
	data, err := mmapFile(f.file, f.size)
	if err != nil {
		return nil, loaderr.Wrap(loaderr.ErrMap, err, "mmap failed").In(f.path)
	}
	adviseWillNeed(data)
	f.region = newRegion(f.path, data, munmapFile)
	f.chunk = nil
	return f.region, nil
}

// At returns the window [off, off+n). Windows that escape the file fail
// with a range error; reads are never silently truncated. The returned
// slice is read-only and stays valid while the source (or its region) is
// held.
func (f *File) At(off, n int64) ([]byte, error) {
	if err := f.CheckWindow(off, n); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.at(off, n)
}

// CheckWindow fails with a range error when [off, off+n) escapes the file.
func (f *File) CheckWindow(off, n int64) error {
	if off < 0 || n < 0 || off > f.size-n {
		return loaderr.New(loaderr.ErrRange, "window [%d, %d) escapes [0, %d)", off, off+n, f.size).
			In(f.path).At(off)
	}
	return nil
}

// at serves a checked window; f.mu is held.
func (f *File) at(off, n int64) ([]byte, error) {
	if f.closed {
		return nil, loaderr.New(loaderr.ErrIO, "source is closed").In(f.path)
	}
	if f.region != nil {
		return f.region.Slice(off, n)
	}
	if n == 0 {
		return []byte{}, nil
	}

	if f.chunkAt >= 0 && off >= f.chunkAt && off+n <= f.chunkAt+int64(len(f.chunk)) {
		start := off - f.chunkAt
		return f.chunk[start : start+n : start+n], nil
	}

	if n > chunkSize {
		buf := make([]byte, n)
		if err := f.readFull(buf, off); err != nil {
			return nil, err
		}
		return buf, nil
	}

	size := int64(chunkSize)
	if off+size > f.size {
		size = f.size - off
	}
	chunk := make([]byte, size)
	if err := f.readFull(chunk, off); err != nil {
		return nil, err
	}
	f.chunk = chunk
	f.chunkAt = off
	return chunk[:n:n], nil
}

// ReadAt copies [off, off+len(p)) into p. It implements io.ReaderAt.
// Large unmapped reads go straight into p.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	n := int64(len(p))
	if err := f.CheckWindow(off, n); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed && f.region == nil && n > chunkSize {
		if err := f.readFull(p, off); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	data, err := f.at(off, n)
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

func (f *File) readFull(buf []byte, off int64) error {
	if _, err := f.file.ReadAt(buf, off); err != nil {
		if errors.Is(err, io.EOF) {
			return loaderr.Wrap(loaderr.ErrIO, io.ErrUnexpectedEOF, "file shrank while reading").In(f.path).At(off)
		}
		return loaderr.Wrap(loaderr.ErrIO, err, "read failed").In(f.path).At(off)
	}
	return nil
}

// Close drops the source's own hold on its mapping and closes the file.
// The mapping itself survives until every other holder releases it.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.chunk = nil

	var err error
	if f.region != nil {
		err = f.region.Release()
		f.region = nil
	}
	if f.file != nil {
		if closeErr := f.file.Close(); closeErr != nil && err == nil {
			err = loaderr.Wrap(loaderr.ErrIO, closeErr, "close failed").In(f.path)
		}
	}
	return err
}
