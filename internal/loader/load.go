package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/llmengine/llm-engine/internal/bytesource"
	"github.com/llmengine/llm-engine/internal/loaderr"
	"github.com/llmengine/llm-engine/internal/logger"
	"github.com/llmengine/llm-engine/internal/metrics"
	"github.com/llmengine/llm-engine/internal/onnx"
	"github.com/llmengine/llm-engine/internal/realize"
	"github.com/llmengine/llm-engine/internal/registry"
)

// State is a stage of a load attempt.
type State int

// Load states. Frozen and Failed are terminal.
const (
	StateStart State = iota
	StateParsing
	StateRealizing
	StateFrozen
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateParsing:
		return "parsing"
	case StateRealizing:
		return "realizing"
	case StateFrozen:
		return "frozen"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Load reads the initializers of the ONNX model at path. External data is
// resolved relative to the directory holding path.
func Load(path string, opts Options) (*registry.Registry, error) {
	return LoadContext(context.Background(), path, opts)
}

// LoadContext is Load with cancellation. ctx is checked between
// initializers; a canceled load fails with loaderr.ErrCanceled wrapping
// ctx.Err() and leaves nothing allocated.
func LoadContext(ctx context.Context, path string, opts Options) (*registry.Registry, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	l := &load{opts: opts, log: opts.Logger, name: path}
	return l.run(ctx, filepath.Dir(path), func() (*bytesource.File, error) {
		return bytesource.OpenWith(path, opts.Mmap, opts.MmapThreshold)
	})
}

// LoadBytes loads a model held in memory. name labels errors and logs.
// External data is resolved relative to dir; an empty dir rejects every
// external initializer with loaderr.ErrPathEscape. Tensors may borrow from
// data, which must not be modified while the registry is open.
func LoadBytes(name string, data []byte, dir string, opts Options) (*registry.Registry, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	l := &load{opts: opts, log: opts.Logger, name: name}
	return l.run(context.Background(), dir, func() (*bytesource.File, error) {
		return bytesource.FromBytes(name, data), nil
	})
}

// load is the state of one attempt.
type load struct {
	opts  Options
	log   *logger.Logger
	name  string
	state State
}

func (l *load) enter(s State) {
	l.log.Debug("load state", "path", l.name, "from", l.state.String(), "to", s.String())
	l.state = s
}

func (l *load) run(ctx context.Context, dir string, open func() (*bytesource.File, error)) (*registry.Registry, error) {
	start := time.Now()
	reg, stats, err := l.build(ctx, dir, open)
	elapsed := time.Since(start)

	if err != nil {
		l.enter(StateFailed)
		kind := loaderr.KindOf(err)
		metrics.RecordLoad(elapsed.Seconds(), kind)
		l.log.Warn("load failed", "path", l.name, "kind", kind, "state", stats.failedIn.String(), "error", err)
		return nil, err
	}

	l.enter(StateFrozen)
	metrics.RecordLoad(elapsed.Seconds(), "")
	for _, t := range reg.All() {
		metrics.RecordTensor(t.DType().String(), t.Owner().String(), t.ByteSize())
	}
	l.log.Info("model loaded",
		"path", l.name,
		"initializers", reg.Len(),
		"bytes", reg.TotalBytes(),
		"mapped", stats.mapped,
		"sidecars", stats.sidecars,
		"duration", elapsed)
	return reg, nil
}

type loadStats struct {
	mapped   bool
	sidecars int
	failedIn State
}

func (l *load) build(ctx context.Context, dir string, open func() (*bytesource.File, error)) (_ *registry.Registry, stats loadStats, err error) {
	defer func() {
		if err != nil {
			stats.failedIn = l.state
		}
	}()

	if err := canceled(ctx, ""); err != nil {
		return nil, stats, err
	}
	src, err := open()
	if err != nil {
		return nil, stats, err
	}
	// Borrowed tensors hold the mapping; the file itself is not needed
	// once realization is over.
	defer func() {
		if cerr := src.Close(); cerr != nil {
			l.log.Warn("closing model file", "path", src.Path(), "error", cerr)
		}
	}()
	stats.mapped = src.Mapped()

	l.enter(StateParsing)
	model, err := onnx.Decode(src, onnx.DecodeOptions{EnableQ4Packed: l.opts.EnableQ4Packed})
	if err != nil {
		return nil, stats, err
	}
	l.log.Debug("decoded model",
		"path", src.Path(),
		"ir_version", model.IRVersion,
		"opset", model.OpsetVersion,
		"producer", model.ProducerName,
		"initializers", len(model.Records))
	if model.SparseInitializers > 0 {
		l.log.Warn("skipping sparse initializers", "path", src.Path(), "count", model.SparseInitializers)
	}

	l.enter(StateRealizing)
	r, err := realize.New(src, dir, realize.Options{
		Mmap:            l.opts.Mmap,
		MmapThreshold:   l.opts.MmapThreshold,
		VerifyChecksums: l.opts.VerifyChecksums,
		DTypes:          l.opts.DTypeWhitelist,
		MaxTensorBytes:  l.opts.MaxTensorBytes,
		Logger:          l.log,
	})
	if err != nil {
		return nil, stats, err
	}

	b := registry.NewBuilder(model, len(model.Records))
	for _, rec := range model.Records {
		if err := l.realizeInto(ctx, r, b, rec); err != nil {
			// The realizer owns every tensor it produced, inserted or not.
			if aerr := r.Abort(); aerr != nil {
				l.log.Warn("releasing partial load", "path", src.Path(), "error", aerr)
			}
			return nil, stats, err
		}
	}
	stats.sidecars = r.Sidecars()
	if err := r.Finish(); err != nil {
		_ = b.Discard()
		return nil, stats, err
	}
	return b.Freeze(), stats, nil
}

func (l *load) realizeInto(ctx context.Context, r *realize.Realizer, b *registry.Builder, rec *onnx.Record) error {
	if err := canceled(ctx, rec.Name); err != nil {
		return err
	}
	t, err := r.Realize(rec)
	if err != nil {
		return err
	}
	if err := b.Insert(rec.Name, t); err != nil {
		return loaderr.Annotate(err, rec.Name, l.name)
	}
	if l.log.DebugEnabled() {
		l.log.Debug("realized initializer",
			"name", rec.Name,
			"dtype", t.DType().String(),
			"shape", t.Shape().String(),
			"owner", t.Owner().String(),
			"bytes", t.ByteSize())
	}
	return nil
}

// canceled reports ctx cancellation before the initializer named next.
func canceled(ctx context.Context, next string) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	e := loaderr.Wrap(loaderr.ErrCanceled, err, "load interrupted")
	if next != "" {
		e = e.For(next)
	}
	return e
}

// Inspect decodes the model at path without realizing any initializer.
// Version checks and record validation still apply; external files are
// not opened.
func Inspect(path string, opts Options) (*onnx.Model, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	src, err := bytesource.OpenWith(path, opts.Mmap, opts.withDefaults().MmapThreshold)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return onnx.Decode(src, onnx.DecodeOptions{EnableQ4Packed: opts.EnableQ4Packed})
}
