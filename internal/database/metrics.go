package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// MetricsCollector 登记库连接池与查询指标
type MetricsCollector struct {
	db              *sql.DB
	logger          *logrus.Logger
	collectInterval time.Duration

	connections   *prometheus.GaugeVec
	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	errors        *prometheus.CounterVec
}

// NewMetricsCollector 创建指标收集器；reg为nil时注册到默认注册表
func NewMetricsCollector(db *sql.DB, reg prometheus.Registerer, logger *logrus.Logger) *MetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &MetricsCollector{
		db:              db,
		logger:          logger,
		collectInterval: 15 * time.Second,
		connections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docqa_registry_connections",
				Help: "Registry connection pool state",
			},
			[]string{"state"}, // idle, in_use, open, wait_count
		),
		queries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_registry_queries_total",
				Help: "Total number of registry queries executed",
			},
			[]string{"operation", "table", "status"},
		),
		queryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docqa_registry_query_duration_seconds",
				Help:    "Duration of registry queries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_registry_errors_total",
				Help: "Total number of registry errors",
			},
			[]string{"operation", "error_type"},
		),
	}
}

// Start 周期性采集连接池状态，直到ctx取消
func (mc *MetricsCollector) Start(ctx context.Context) {
	mc.logger.Info("Starting registry metrics collection")

	go func() {
		ticker := time.NewTicker(mc.collectInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mc.collect()
			}
		}
	}()
}

func (mc *MetricsCollector) collect() {
	stats := mc.db.Stats()

	mc.connections.WithLabelValues("idle").Set(float64(stats.Idle))
	mc.connections.WithLabelValues("in_use").Set(float64(stats.InUse))
	mc.connections.WithLabelValues("open").Set(float64(stats.OpenConnections))
	mc.connections.WithLabelValues("wait_count").Set(float64(stats.WaitCount))

	mc.logger.WithFields(logrus.Fields{
		"idle":   stats.Idle,
		"in_use": stats.InUse,
		"open":   stats.OpenConnections,
	}).Debug("Registry connection pool stats collected")
}

// RecordQuery 记录查询操作
func (mc *MetricsCollector) RecordQuery(operation, table string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		mc.errors.WithLabelValues(operation, "query_error").Inc()
	}

	mc.queries.WithLabelValues(operation, table, status).Inc()
	mc.queryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordMigration 记录迁移操作
func (mc *MetricsCollector) RecordMigration(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		mc.errors.WithLabelValues("migration", "migration_error").Inc()
	}

	mc.queries.WithLabelValues("migration", operation, status).Inc()
	if err == nil {
		mc.queryDuration.WithLabelValues("migration", operation).Observe(duration.Seconds())
	}
}
