package knowledge

import (
	"context"
	"math"
	"sort"
	"sync"

	apperrors "github.com/aihub/docqa/internal/errors"
)

// MemoryVectorStore 进程内向量存储，用于开发环境与测试，语义与Milvus实现一致
type MemoryVectorStore struct {
	mu      sync.RWMutex
	dim     int
	nextID  int64
	records []ChunkRecord
}

// NewMemoryVectorStore 创建内存向量存储
func NewMemoryVectorStore(dim int) *MemoryVectorStore {
	return &MemoryVectorStore{dim: dim, nextID: 1}
}

func (s *MemoryVectorStore) Open(ctx context.Context) error {
	if s.dim <= 0 {
		return apperrors.NewSchemaMismatchError("memory vector store requires a positive dimension")
	}
	return nil
}

func (s *MemoryVectorStore) AddChunks(ctx context.Context, batch ChunkBatch) ([]int64, error) {
	if err := validateBatch(batch, s.dim); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(batch.Contents))
	for i, content := range batch.Contents {
		emb := make([]float32, len(batch.Embeddings[i]))
		copy(emb, batch.Embeddings[i])
		rec := ChunkRecord{
			ID:         s.nextID,
			DocID:      batch.DocID,
			ChunkIndex: int64(i),
			Section:    sectionAt(batch, i),
			Content:    content,
			SourcePath: batch.SourcePath,
			OwnerID:    ownerValue(batch.OwnerID),
			Embedding:  emb,
		}
		s.nextID++
		s.records = append(s.records, rec)
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

func (s *MemoryVectorStore) Search(ctx context.Context, query []float32, topK int, filter SearchFilter) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if len(query) != s.dim {
		return nil, apperrors.NewValidationError("query embedding dimension does not match collection")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		rec   ChunkRecord
		score float64
	}
	var matches []scored
	for _, rec := range s.records {
		if !matchRecord(rec, filter.DocID, filter.SourcePath, filter.OwnerID) {
			continue
		}
		matches = append(matches, scored{rec: rec, score: cosine(query, rec.Embedding)})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > topK {
		matches = matches[:topK]
	}

	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		rec := m.rec
		hits = append(hits, Hit{
			ID:         rec.ID,
			Score:      m.score,
			DocID:      Int64Ptr(rec.DocID),
			ChunkID:    Int64Ptr(rec.ChunkIndex),
			Section:    StringPtr(rec.Section),
			SourcePath: StringPtr(rec.SourcePath),
			Content:    StringPtr(rec.Content),
		})
	}
	return hits, nil
}

func (s *MemoryVectorStore) DeleteDocument(ctx context.Context, filter DeleteFilter) (int64, error) {
	if !filter.HasIdentifier() {
		return 0, apperrors.NewValidationError("doc_id or source_path is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var deleted int64
	for _, rec := range s.records {
		if matchRecord(rec, filter.DocID, filter.SourcePath, filter.OwnerID) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return deleted, nil
}

func (s *MemoryVectorStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	return nil
}

func (s *MemoryVectorStore) Close() error { return nil }

// Count 当前分块数量
func (s *MemoryVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// matchRecord 与 buildFilterExpr 的语义一致
func matchRecord(rec ChunkRecord, docID *int64, sourcePath *string, ownerID *int64) bool {
	if docID != nil {
		if rec.DocID != *docID {
			return false
		}
	} else if sourcePath != nil && *sourcePath != "" {
		if rec.SourcePath != *sourcePath {
			return false
		}
	}
	if ownerID != nil && rec.OwnerID != *ownerID {
		return false
	}
	return true
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
