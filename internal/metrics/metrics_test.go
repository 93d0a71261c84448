package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/aihub/docqa/internal/knowledge"
)

func TestCollector_RecordsIndexAndQuery(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	ctx := context.Background()

	c.OnIndexed(ctx, &knowledge.IndexResult{ChunkIDs: []int64{1, 2, 3}}, 20*time.Millisecond)
	c.OnIndexFailed(ctx, "bad.pdf", errors.New("corrupt"))
	c.OnRemoved(ctx, knowledge.DeleteFilter{DocID: knowledge.Int64Ptr(1)}, 3)
	c.OnQuery(ctx, 4, true, time.Second)
	c.OnQuery(ctx, 0, false, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.documentsIndexed.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.documentsIndexed.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.chunksIndexed))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.chunksDeleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queriesTotal.WithLabelValues("answered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queriesTotal.WithLabelValues("no_context")))

	count, err := testutil.GatherAndCount(reg, "docqa_query_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_SatisfiesObservers(t *testing.T) {
	var _ knowledge.IndexObserver = (*Collector)(nil)
	var _ knowledge.QueryObserver = (*Collector)(nil)
}
