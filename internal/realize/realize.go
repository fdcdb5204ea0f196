package realize

import (
	"errors"

	"github.com/llmengine/llm-engine/internal/bytesource"
	"github.com/llmengine/llm-engine/internal/loaderr"
	"github.com/llmengine/llm-engine/internal/logger"
	"github.com/llmengine/llm-engine/internal/metrics"
	"github.com/llmengine/llm-engine/internal/onnx"
	"github.com/llmengine/llm-engine/internal/tensor"
)

// Options controls realization.
type Options struct {
	// Mmap and MmapThreshold decide whether sidecar files are mapped.
	Mmap          bytesource.Policy
	MmapThreshold int64

	// VerifyChecksums makes a missing checksum on external data an error.
	VerifyChecksums bool

	// DTypes, when non-empty, is the set of dtypes allowed.
	DTypes tensor.DTypeSet

	// MaxTensorBytes rejects larger tensors. Zero means unbounded.
	MaxTensorBytes int64

	Logger *logger.Logger
}

// Realizer turns Records into Tensors. It is used by one load and is not
// safe for concurrent use.
type Realizer struct {
	src      *bytesource.File
	sandbox  *sandbox
	opts     Options
	log      *logger.Logger
	sidecars map[string]*bytesource.File // keyed by resolved absolute path
	order    []string                    // sidecar open order
	opened   int
	tensors  []*tensor.Tensor // produced since the last Finish
}

// New creates a Realizer reading inline and raw payloads from src and
// external payloads from files under dir. An empty dir rejects every
// external record.
func New(src *bytesource.File, dir string, opts Options) (*Realizer, error) {
	sb, err := newSandbox(dir)
	if err != nil {
		return nil, err
	}
	if opts.MmapThreshold <= 0 {
		opts.MmapThreshold = bytesource.DefaultMapThreshold
	}
	log := opts.Logger
	if log == nil {
		log = logger.Log
	}
	return &Realizer{
		src:      src,
		sandbox:  sb,
		opts:     opts,
		log:      log,
		sidecars: make(map[string]*bytesource.File),
	}, nil
}

// Sidecars returns the number of distinct sidecar files opened.
func (r *Realizer) Sidecars() int {
	return r.opened
}

// Realize produces the tensor for rec. Errors name the record.
func (r *Realizer) Realize(rec *onnx.Record) (*tensor.Tensor, error) {
	t, err := r.realize(rec)
	if err != nil {
		var le *loaderr.Error
		if !errors.As(err, &le) {
			err = loaderr.Wrap(loaderr.ErrIO, err, "realize")
		}
		return nil, loaderr.Annotate(err, rec.Name, r.src.Path())
	}
	r.tensors = append(r.tensors, t)
	return t, nil
}

func (r *Realizer) realize(rec *onnx.Record) (*tensor.Tensor, error) {
	if !r.opts.DTypes.Empty() && !r.opts.DTypes.Has(rec.DType) {
		return nil, loaderr.New(loaderr.ErrUnsupportedDType, "%s not in allowed set {%s}", rec.DType, r.opts.DTypes)
	}
	size, ok := tensor.ByteSize(rec.DType, rec.Shape)
	if !ok {
		return nil, loaderr.New(loaderr.ErrResourceLimit, "%s%s overflows", rec.DType, rec.Shape)
	}
	if r.opts.MaxTensorBytes > 0 && size > r.opts.MaxTensorBytes {
		return nil, loaderr.New(loaderr.ErrResourceLimit, "%d bytes exceeds limit of %d", size, r.opts.MaxTensorBytes)
	}

	switch loc := rec.Locator.(type) {
	case onnx.Raw:
		return r.fromSource(r.src, rec, loc.Offset, loc.Length, tensor.BorrowedFromFile, "")
	case onnx.External:
		return r.realizeExternal(rec, loc, size)
	case *onnx.Inline:
		return r.realizeInline(rec, loc, size)
	default:
		return nil, loaderr.New(loaderr.ErrDecode, "no payload locator")
	}
}

func (r *Realizer) realizeExternal(rec *onnx.Record, ext onnx.External, size int64) (*tensor.Tensor, error) {
	if ext.Checksum == "" && r.opts.VerifyChecksums {
		return nil, loaderr.New(loaderr.ErrChecksum, "external data %q has no checksum", ext.Location)
	}
	path, err := r.sandbox.resolve(ext.Location)
	if err != nil {
		return nil, err
	}
	sc, err := r.sidecar(path)
	if err != nil {
		return nil, err
	}

	length := ext.Length
	if length < 0 {
		if ext.Offset > sc.Len() {
			return nil, loaderr.New(loaderr.ErrRange, "offset %d beyond end of %d-byte file", ext.Offset, sc.Len()).
				In(path).At(ext.Offset)
		}
		length = sc.Len() - ext.Offset
	}
	if err := sc.CheckWindow(ext.Offset, length); err != nil {
		return nil, loaderr.Annotate(err, rec.Name, path)
	}
	if length != size {
		return nil, loaderr.New(loaderr.ErrShapeMismatch,
			"external payload is %d bytes, %s%s needs %d", length, rec.DType, rec.Shape, size).In(path)
	}
	return r.fromSource(sc, rec, ext.Offset, length, tensor.BorrowedFromSidecar, ext.Checksum)
}

// fromSource realizes [off, off+n) of src, borrowing from its mapping when
// possible and copying otherwise.
func (r *Realizer) fromSource(src *bytesource.File, rec *onnx.Record, off, n int64,
	owner tensor.Owner, checksum string,
) (*tensor.Tensor, error) {
	if region := src.Region(); region != nil && tensor.HostLittleEndian {
		data, err := region.Slice(off, n)
		if err != nil {
			return nil, err
		}
		if checksum != "" {
			if err := verifyChecksum(checksum, data); err != nil {
				return nil, loaderr.Annotate(err, rec.Name, src.Path())
			}
		}
		if tensor.IsAligned(data, rec.DType.Alignment()) && region.Retain() {
			t, err := tensor.NewBorrowed(rec.DType, rec.Shape, data, owner, region)
			if err != nil {
				_ = region.Release()
				return nil, loaderr.Wrap(loaderr.ErrShapeMismatch, err, "borrow payload").In(src.Path()).At(off)
			}
			return t, nil
		}
		r.log.Debug("copying misaligned payload", "initializer", rec.Name, "offset", off)
		return owned(rec, data)
	}

	if err := src.CheckWindow(off, n); err != nil {
		return nil, err
	}
	buf := tensor.AlignedBytes(int(n))
	if _, err := src.ReadAt(buf, off); err != nil {
		return nil, err
	}
	if checksum != "" {
		if err := verifyChecksum(checksum, buf); err != nil {
			return nil, loaderr.Annotate(err, rec.Name, src.Path())
		}
	}
	tensor.ToHostOrder(rec.DType, buf)
	return newOwned(rec, buf)
}

// owned copies little-endian payload bytes into an aligned buffer.
func owned(rec *onnx.Record, data []byte) (*tensor.Tensor, error) {
	buf := tensor.AlignedBytes(len(data))
	copy(buf, data)
	tensor.ToHostOrder(rec.DType, buf)
	return newOwned(rec, buf)
}

func newOwned(rec *onnx.Record, buf []byte) (*tensor.Tensor, error) {
	t, err := tensor.NewOwned(rec.DType, rec.Shape, buf)
	if err != nil {
		return nil, loaderr.Wrap(loaderr.ErrShapeMismatch, err, "build tensor").At(rec.Offset)
	}
	return t, nil
}

func (r *Realizer) realizeInline(rec *onnx.Record, in *onnx.Inline, size int64) (*tensor.Tensor, error) {
	buf := tensor.AlignedBytes(int(size))
	if err := in.DecodeInto(r.src, rec.DType, buf); err != nil {
		return nil, err
	}
	return newOwned(rec, buf)
}

// sidecar returns the open sidecar for path, opening it on first use.
func (r *Realizer) sidecar(path string) (*bytesource.File, error) {
	if f, ok := r.sidecars[path]; ok {
		metrics.SidecarCacheHits.Inc()
		return f, nil
	}
	f, err := bytesource.OpenWith(path, r.opts.Mmap, r.opts.MmapThreshold)
	if err != nil {
		return nil, err
	}
	r.sidecars[path] = f
	r.order = append(r.order, path)
	r.opened++
	r.log.Debug("opened external data", "path", path, "bytes", f.Len(), "mapped", f.Mapped())
	return f, nil
}

// Finish hands every produced tensor over to the caller and closes the
// sidecar files. Mapped sidecars stay alive for as long as a tensor
// borrows from them.
func (r *Realizer) Finish() error {
	r.tensors = nil
	return r.closeSidecars()
}

// Abort releases every tensor produced so far and every sidecar mapping
// opened by this Realizer. It returns the first error encountered.
func (r *Realizer) Abort() error {
	var first error
	for i := len(r.tensors) - 1; i >= 0; i-- {
		if err := r.tensors[i].Release(); err != nil && first == nil {
			first = err
		}
	}
	r.tensors = nil
	if err := r.closeSidecars(); err != nil && first == nil {
		first = err
	}
	return first
}

func (r *Realizer) closeSidecars() error {
	var first error
	for _, path := range r.order {
		if err := r.sidecars[path].Close(); err != nil && first == nil {
			first = err
		}
	}
	r.order = nil
	clear(r.sidecars)
	return first
}
