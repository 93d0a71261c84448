package database

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mc := NewMetricsCollector(db, prometheus.NewRegistry(), quietLogger())

	mc.RecordQuery("select", "documents", 10*time.Millisecond, nil)
	mc.RecordQuery("select", "documents", 10*time.Millisecond, errors.New("timeout"))
	mc.RecordMigration("up", time.Second, nil)
	mc.collect()

	assert.Equal(t, 1.0, testutil.ToFloat64(mc.queries.WithLabelValues("select", "documents", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.queries.WithLabelValues("select", "documents", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.errors.WithLabelValues("select", "query_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.queries.WithLabelValues("migration", "up", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(mc.connections.WithLabelValues("in_use")))
}
