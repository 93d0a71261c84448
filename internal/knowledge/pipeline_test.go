package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/docqa/internal/errors"
)

type recordingObserver struct {
	mu      sync.Mutex
	indexed []*IndexResult
	failed  []string
	removed []int64
}

func (r *recordingObserver) OnIndexed(_ context.Context, result *IndexResult, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, result)
}

func (r *recordingObserver) OnIndexFailed(_ context.Context, path string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, path)
}

func (r *recordingObserver) OnRemoved(_ context.Context, _ DeleteFilter, deleted int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, deleted)
}

type pipelineFixture struct {
	converter *stubConverter
	embedder  *hashEmbedder
	store     *MemoryVectorStore
	observer  *recordingObserver
	pipeline  *IndexingPipeline
}

func newPipelineFixture(t *testing.T, docs map[string]string) *pipelineFixture {
	t.Helper()
	chunker, err := NewChunker(newWordTokenizer(), 10, 2)
	require.NoError(t, err)

	f := &pipelineFixture{
		converter: &stubConverter{docs: docs, err: map[string]error{}},
		embedder:  newHashEmbedder(8),
		store:     NewMemoryVectorStore(8),
		observer:  &recordingObserver{},
	}
	f.pipeline = NewIndexingPipeline(f.converter, chunker, f.embedder, f.store, f.observer)
	return f
}

func TestIndexingPipeline_IndexFile(t *testing.T) {
	f := newPipelineFixture(t, map[string]string{
		"a.md": words("a", 8) + "\n\n" + words("b", 8),
	})
	ctx := context.Background()

	res, err := f.pipeline.IndexFile(ctx, "a.md", "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSection, res.Section)
	assert.Len(t, res.ChunkIDs, 2)
	assert.Equal(t, DocumentID([]byte(f.converter.docs["a.md"])), res.DocID)
	assert.Nil(t, res.OwnerID)

	// 所有分块一次性嵌入
	require.Equal(t, 1, f.embedder.callCount())
	assert.Len(t, f.embedder.calls[0], 2)

	hits, err := f.store.Search(ctx, make8(1), 10, SearchFilter{DocID: Int64Ptr(res.DocID)})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, DefaultSection, *h.Section)
		assert.Equal(t, "a.md", *h.SourcePath)
	}
	assert.Len(t, f.observer.indexed, 1)
}

func make8(axis int) []float32 { return unit(8, axis) }

func TestIndexingPipeline_ReindexReplaces(t *testing.T) {
	f := newPipelineFixture(t, map[string]string{"a.md": words("a", 8) + "\n\n" + words("b", 8)})
	ctx := context.Background()

	first, err := f.pipeline.IndexFile(ctx, "a.md", "hr", nil)
	require.NoError(t, err)
	second, err := f.pipeline.IndexFile(ctx, "a.md", "hr", nil)
	require.NoError(t, err)

	assert.Equal(t, first.DocID, second.DocID)
	assert.Equal(t, 2, f.store.Count())
	assert.NotEqual(t, first.ChunkIDs, second.ChunkIDs)

	hits, err := f.store.Search(ctx, make8(0), 10, SearchFilter{})
	require.NoError(t, err)
	var chunkIDs []int64
	for _, h := range hits {
		chunkIDs = append(chunkIDs, *h.ChunkID)
	}
	assert.ElementsMatch(t, []int64{0, 1}, chunkIDs)
}

func TestIndexingPipeline_ReindexKeepsOtherOwners(t *testing.T) {
	f := newPipelineFixture(t, map[string]string{"shared.md": words("s", 5)})
	ctx := context.Background()

	_, err := f.pipeline.IndexFile(ctx, "shared.md", "", Int64Ptr(1))
	require.NoError(t, err)
	_, err = f.pipeline.IndexFile(ctx, "shared.md", "", Int64Ptr(2))
	require.NoError(t, err)
	_, err = f.pipeline.IndexFile(ctx, "shared.md", "", Int64Ptr(1))
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.Count())

	hits, err := f.store.Search(ctx, make8(0), 10, SearchFilter{OwnerID: Int64Ptr(2)})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestIndexingPipeline_ZeroChunksLeavesStoreUntouched(t *testing.T) {
	f := newPipelineFixture(t, map[string]string{"a.md": words("a", 4), "blank.md": "\n\n  \n\n"})
	ctx := context.Background()

	_, err := f.pipeline.IndexFile(ctx, "a.md", "", nil)
	require.NoError(t, err)

	res, err := f.pipeline.IndexFile(ctx, "blank.md", "", nil)
	require.NoError(t, err)
	assert.Empty(t, res.ChunkIDs)
	assert.Equal(t, 1, f.store.Count())
	assert.Equal(t, 1, f.embedder.callCount())
	assert.Len(t, f.observer.indexed, 1)
}

func TestIndexingPipeline_EmbedFailureAfterDelete(t *testing.T) {
	f := newPipelineFixture(t, map[string]string{"a.md": words("a", 4)})
	ctx := context.Background()

	_, err := f.pipeline.IndexFile(ctx, "a.md", "", nil)
	require.NoError(t, err)

	f.embedder.err = errors.New("embedding service down")
	_, err = f.pipeline.IndexFile(ctx, "a.md", "", nil)
	require.Error(t, err)

	// 删除与写入之间没有事务
	assert.Zero(t, f.store.Count())
	assert.Equal(t, []string{"a.md"}, f.observer.failed)
}

func TestIndexingPipeline_IndexFolder(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(nested, 0o755))
	good := writeFile(t, dir, "good.md", "x")
	bad := writeFile(t, dir, "bad.md", "y")
	deep := writeFile(t, nested, "deep.md", "z")

	f := newPipelineFixture(t, map[string]string{
		good: words("g", 3),
		deep: words("d", 3),
	})
	f.converter.err[bad] = apperrors.NewConversionError(bad, errors.New("corrupt"))
	ctx := context.Background()

	report, err := f.pipeline.IndexFolder(ctx, dir, "", false, nil)
	require.NoError(t, err)
	require.Len(t, report.Items, 2)
	assert.Equal(t, bad, report.Items[0].Path)
	assert.True(t, apperrors.IsCode(report.Items[0].Err, apperrors.ErrCodeConversion))
	assert.Len(t, report.Succeeded(), 1)
	assert.Len(t, report.Failed(), 1)

	report, err = f.pipeline.IndexFolder(ctx, dir, "", true, nil)
	require.NoError(t, err)
	require.Len(t, report.Items, 3)
	assert.Equal(t, []string{bad, good, deep}, []string{report.Items[0].Path, report.Items[1].Path, report.Items[2].Path})
	assert.Len(t, report.Succeeded(), 2)

	_, err = f.pipeline.IndexFolder(ctx, filepath.Join(dir, "missing"), "", false, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeResourceNotFound))

	_, err = f.pipeline.IndexFolder(ctx, good, "", false, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestIndexingPipeline_RemoveDocument(t *testing.T) {
	f := newPipelineFixture(t, map[string]string{"a.md": words("a", 4)})
	ctx := context.Background()

	res, err := f.pipeline.IndexFile(ctx, "a.md", "", Int64Ptr(5))
	require.NoError(t, err)

	_, err = f.pipeline.RemoveDocument(ctx, DeleteFilter{OwnerID: Int64Ptr(5)})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))

	n, err := f.pipeline.RemoveDocument(ctx, DeleteFilter{DocID: Int64Ptr(res.DocID), OwnerID: Int64Ptr(6)})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.pipeline.RemoveDocument(ctx, DeleteFilter{SourcePath: StringPtr("a.md")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []int64{1}, f.observer.removed)
}
