package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aihub/docqa/internal/knowledge"
)

// Collector 索引与检索指标，同时实现 knowledge.IndexObserver 与 knowledge.QueryObserver
type Collector struct {
	documentsIndexed *prometheus.CounterVec
	chunksIndexed    prometheus.Counter
	indexDuration    prometheus.Histogram
	chunksDeleted    prometheus.Counter
	queriesTotal     *prometheus.CounterVec
	queryDuration    prometheus.Histogram
	queryHits        prometheus.Histogram
}

// NewCollector 在reg上注册指标；reg为nil时使用默认注册表
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		documentsIndexed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_documents_indexed_total",
				Help: "Number of index attempts by outcome",
			},
			[]string{"status"}, // success, failed
		),
		chunksIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "docqa_chunks_indexed_total",
			Help: "Number of chunks written to the vector store",
		}),
		indexDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docqa_index_duration_seconds",
			Help:    "Duration of indexing a single file",
			Buckets: prometheus.DefBuckets,
		}),
		chunksDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "docqa_chunks_deleted_total",
			Help: "Number of chunks removed through document deletion",
		}),
		queriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_queries_total",
				Help: "Number of answered queries by outcome",
			},
			[]string{"outcome"}, // answered, no_context
		),
		queryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docqa_query_duration_seconds",
			Help:    "Duration of retrieval and answer synthesis",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		queryHits: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docqa_query_hits",
			Help:    "Number of hits returned per query",
			Buckets: prometheus.LinearBuckets(0, 2, 11),
		}),
	}
}

func (c *Collector) OnIndexed(_ context.Context, result *knowledge.IndexResult, elapsed time.Duration) {
	c.documentsIndexed.WithLabelValues("success").Inc()
	c.chunksIndexed.Add(float64(len(result.ChunkIDs)))
	c.indexDuration.Observe(elapsed.Seconds())
}

func (c *Collector) OnIndexFailed(_ context.Context, _ string, _ error) {
	c.documentsIndexed.WithLabelValues("failed").Inc()
}

func (c *Collector) OnRemoved(_ context.Context, _ knowledge.DeleteFilter, deleted int64) {
	c.chunksDeleted.Add(float64(deleted))
}

func (c *Collector) OnQuery(_ context.Context, hits int, answered bool, elapsed time.Duration) {
	outcome := "no_context"
	if answered {
		outcome = "answered"
	}
	c.queriesTotal.WithLabelValues(outcome).Inc()
	c.queryDuration.Observe(elapsed.Seconds())
	c.queryHits.Observe(float64(hits))
}
