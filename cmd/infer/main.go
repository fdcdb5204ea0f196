// Package main provides the infer CLI, which loads the initializers of an
// ONNX model and reports the result.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/llmengine/llm-engine/internal/loader"
	"github.com/llmengine/llm-engine/internal/logger"
	"github.com/llmengine/llm-engine/internal/registry"
)

const version = "v0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type config struct {
	model       string
	opts        loader.Options
	logLevel    string
	logFormat   string
	list        bool
	dumpMetrics bool
	version     bool
}

func parseFlags(args []string, stderr io.Writer) (*config, error) {
	cfg := &config{opts: loader.DefaultOptions()}

	fs := flag.NewFlagSet("infer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.model, "model", "", "Path to the ONNX model file")
	fs.Var(&cfg.opts.Mmap, "mmap", "Mapping policy: auto, always or never")
	fs.Int64Var(&cfg.opts.MmapThreshold, "mmap-threshold", loader.DefaultMmapThreshold, "File size from which auto maps")
	fs.BoolVar(&cfg.opts.VerifyChecksums, "verify-checksums", false, "Require a checksum on every external tensor")
	fs.Var(&cfg.opts.DTypeWhitelist, "dtypes", "Comma-separated dtypes to accept (default all)")
	fs.Int64Var(&cfg.opts.MaxTensorBytes, "max-tensor-bytes", 0, "Reject tensors larger than this (0 = unbounded)")
	fs.BoolVar(&cfg.opts.EnableQ4Packed, "enable-q4", false, "Accept 4-bit packed initializers")
	fs.StringVar(&cfg.logLevel, "log-level", "WARN", "Log level: DEBUG, INFO, WARN or ERROR")
	fs.StringVar(&cfg.logFormat, "log-format", "console", "Log format: console or json")
	fs.BoolVar(&cfg.list, "list", false, "Print one line per initializer")
	fs.BoolVar(&cfg.dumpMetrics, "metrics", false, "Print load metrics in Prometheus text format")
	fs.BoolVar(&cfg.version, "version", false, "Print the version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.version {
		return cfg, nil
	}
	if cfg.model == "" {
		return nil, errors.New("--model is required")
	}
	return cfg, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "infer: %v\n", err)
		}
		return 1
	}
	if cfg.version {
		fmt.Fprintf(stdout, "infer %s\n", version)
		return 0
	}

	logger.Setup(cfg.logLevel, cfg.logFormat)
	cfg.opts.Logger = logger.Log

	reg, err := loader.Load(cfg.model, cfg.opts)
	if err != nil {
		fmt.Fprintf(stderr, "infer: %v\n", err)
		return 1
	}
	defer func() { _ = reg.Close() }()

	fmt.Fprintf(stdout, "Successfully loaded %d initializers\n", reg.Len())
	if cfg.list {
		list(stdout, reg)
	}
	if cfg.dumpMetrics {
		if err := writeMetrics(stdout, prometheus.DefaultGatherer); err != nil {
			fmt.Fprintf(stderr, "infer: %v\n", err)
			return 1
		}
	}
	return 0
}

func list(w io.Writer, reg *registry.Registry) {
	for name, t := range reg.All() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, t.DType(), t.Shape(), t.Owner())
	}
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return nil
}
