package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/docqa/internal/errors"
)

func TestBuildFilterExpr(t *testing.T) {
	tests := []struct {
		name   string
		docID  *int64
		path   *string
		owner  *int64
		expect string
	}{
		{"empty", nil, nil, nil, ""},
		{"doc id wins over path", Int64Ptr(9), StringPtr("a.md"), nil, "doc_id == 9"},
		{"path escaped", nil, StringPtr(`a"b\c.md`), nil, `source_path == "a\"b\\c.md"`},
		{"empty path ignored", nil, StringPtr(""), Int64Ptr(2), "owner_id == 2"},
		{"doc and owner", Int64Ptr(1), nil, Int64Ptr(-1), "doc_id == 1 && owner_id == -1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, buildFilterExpr(tt.docID, tt.path, tt.owner))
		})
	}
}

func TestMemoryVectorStore_SearchOrdersByCosine(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(3)
	require.NoError(t, store.Open(ctx))

	ids, err := store.AddChunks(ctx, ChunkBatch{
		DocID:      1,
		SourcePath: "a.md",
		Sections:   []string{"s", "s", "s"},
		Contents:   []string{"x", "y", "xy"},
		Embeddings: [][]float32{unit(3, 0), unit(3, 1), mix(3, map[int]float64{0: 1, 1: 1})},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	hits, err := store.Search(ctx, unit(3, 0), 2, SearchFilter{})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "x", *hits[0].Content)
	assert.Equal(t, "xy", *hits[1].Content)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.True(t, hits[0].Score >= hits[1].Score)
	assert.Equal(t, int64(2), *hits[1].ChunkID)
}

func TestMemoryVectorStore_FiltersAndOwners(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(2)

	_, err := store.AddChunks(ctx, ChunkBatch{DocID: 1, SourcePath: "shared.md", OwnerID: Int64Ptr(7),
		Contents: []string{"seven"}, Embeddings: [][]float32{unit(2, 0)}})
	require.NoError(t, err)
	_, err = store.AddChunks(ctx, ChunkBatch{DocID: 1, SourcePath: "shared.md", OwnerID: Int64Ptr(8),
		Contents: []string{"eight"}, Embeddings: [][]float32{unit(2, 0)}})
	require.NoError(t, err)
	_, err = store.AddChunks(ctx, ChunkBatch{DocID: 2, SourcePath: "other.md",
		Contents: []string{"nobody"}, Embeddings: [][]float32{unit(2, 1)}})
	require.NoError(t, err)

	hits, err := store.Search(ctx, unit(2, 0), 10, SearchFilter{OwnerID: Int64Ptr(7)})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "seven", *hits[0].Content)

	hits, err = store.Search(ctx, unit(2, 0), 10, SearchFilter{OwnerID: Int64Ptr(NoOwner)})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "nobody", *hits[0].Content)

	hits, err = store.Search(ctx, unit(2, 0), 10, SearchFilter{SourcePath: StringPtr("shared.md")})
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	// 仅删除owner 8的副本
	n, err := store.DeleteDocument(ctx, DeleteFilter{DocID: Int64Ptr(1), OwnerID: Int64Ptr(8)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 2, store.Count())

	n, err = store.DeleteDocument(ctx, DeleteFilter{SourcePath: StringPtr("missing.md")})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = store.DeleteDocument(ctx, DeleteFilter{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))

	require.NoError(t, store.Clear(ctx))
	assert.Zero(t, store.Count())
	hits, err = store.Search(ctx, unit(2, 0), 0, SearchFilter{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryVectorStore_RejectsInvalidBatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(2)

	_, err := store.AddChunks(ctx, ChunkBatch{Contents: []string{"a", "b"}, Embeddings: [][]float32{unit(2, 0), {1}}})
	require.Error(t, err)
	assert.Zero(t, store.Count())

	_, err = store.Search(ctx, []float32{1}, 1, SearchFilter{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))

	assert.Error(t, NewMemoryVectorStore(0).Open(ctx))
}

func TestDocumentID(t *testing.T) {
	a := DocumentID([]byte("hello"))
	assert.Equal(t, a, DocumentID([]byte("hello")))
	assert.NotEqual(t, a, DocumentID([]byte("hello!")))
	assert.GreaterOrEqual(t, a, int64(0))
}
