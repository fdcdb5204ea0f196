// Package metrics exposes Prometheus instrumentation for model loading.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_engine_loads_total",
		Help: "Model load attempts by result (ok, failed)",
	}, []string{"result"})

	LoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llm_engine_load_duration_seconds",
		Help:    "Wall time of successful and failed loads",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	LoadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_engine_load_errors_total",
		Help: "Failed loads by error kind",
	}, []string{"kind"})

	InitializersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_engine_initializers_total",
		Help: "Initializers realized into tensors",
	}, []string{"dtype", "owner"})

	TensorBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_engine_tensor_bytes_total",
		Help: "Bytes of realized tensor payloads",
	}, []string{"owner"})

	MappedRegions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "llm_engine_mapped_regions",
		Help: "Memory mappings currently alive",
	})

	MappedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "llm_engine_mapped_bytes",
		Help: "Bytes currently memory mapped",
	})

	SidecarCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llm_engine_sidecar_cache_hits_total",
		Help: "External data lookups served by an already opened sidecar",
	})
)

// RecordLoad records the outcome of one load call.
func RecordLoad(seconds float64, kind string) {
	LoadDuration.Observe(seconds)
	if kind == "" {
		LoadsTotal.WithLabelValues("ok").Inc()
		return
	}
	LoadsTotal.WithLabelValues("failed").Inc()
	LoadErrors.WithLabelValues(kind).Inc()
}

// RecordTensor records one realized tensor.
func RecordTensor(dtype, owner string, bytes int64) {
	InitializersTotal.WithLabelValues(dtype, owner).Inc()
	TensorBytesTotal.WithLabelValues(owner).Add(float64(bytes))
}
