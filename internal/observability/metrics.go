package observability

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_requests_total",
			Help: "Ingestion calls by origin and result",
		},
		[]string{"origin", "result"},
	)

	ingestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_duration_seconds",
			Help:    "Wall time of one ingestion call",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"origin"},
	)

	orphanedObjectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_orphaned_objects_total",
		Help: "Objects written whose metadata insert failed",
	})

	extractionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_total",
			Help: "Extraction outcomes by method and resulting state",
		},
		[]string{"method", "state"},
	)

	namespaceResolveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "namespace_resolve_total",
			Help: "Namespace resolutions by the path that answered",
		},
		[]string{"path"},
	)

	objectStoreOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "object_store_ops_total",
			Help: "Object store gateway operations",
		},
		[]string{"op", "result"},
	)

	indexTriggerTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "index_trigger_total",
			Help: "Indexing notifications by result",
		},
		[]string{"result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveIngest(origin, result string, d time.Duration) {
	if origin == "" {
		origin = "unknown"
	}
	ingestRequestsTotal.WithLabelValues(origin, result).Inc()
	ingestDuration.WithLabelValues(origin).Observe(d.Seconds())
}

func IncOrphanedObject() {
	orphanedObjectsTotal.Inc()
}

func IncExtraction(method, state string) {
	extractionTotal.WithLabelValues(method, state).Inc()
}

func IncNamespaceResolve(path string) {
	namespaceResolveTotal.WithLabelValues(path).Inc()
}

func ObserveObjectStoreOp(op string, err error) {
	objectStoreOpsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

func IncIndexTrigger(result string) {
	indexTriggerTotal.WithLabelValues(result).Inc()
}

func ObserveHTTP(method, path string, status string, d time.Duration) {
	if path == "" {
		path = "unmatched"
	}
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
