package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/aihub/docqa/internal/errors"
)

// DefaultTopK 未指定时返回的命中数
const DefaultTopK = 5

// VectorStore 分块向量存储抽象
type VectorStore interface {
	// Open 打开或创建集合，已有集合维度与嵌入模型不一致时返回SchemaMismatchError
	Open(ctx context.Context) error
	// AddChunks 写入同一文档的分块，返回分配的主键
	AddChunks(ctx context.Context, batch ChunkBatch) ([]int64, error)
	// Search 按余弦相似度降序返回命中
	Search(ctx context.Context, query []float32, topK int, filter SearchFilter) ([]Hit, error)
	// DeleteDocument 删除匹配的分块并返回删除条数
	DeleteDocument(ctx context.Context, filter DeleteFilter) (int64, error)
	// Clear 清空所有分块，保留集合与索引
	Clear(ctx context.Context) error
	Close() error
}

// validateBatch 在任何写操作之前校验批次
func validateBatch(batch ChunkBatch, dim int) error {
	if len(batch.Contents) != len(batch.Embeddings) {
		return apperrors.NewValidationError(fmt.Sprintf(
			"contents and embeddings differ in length: %d != %d", len(batch.Contents), len(batch.Embeddings)))
	}
	if len(batch.Sections) > 0 && len(batch.Sections) != len(batch.Contents) {
		return apperrors.NewValidationError(fmt.Sprintf(
			"sections and contents differ in length: %d != %d", len(batch.Sections), len(batch.Contents)))
	}
	for i, emb := range batch.Embeddings {
		if len(emb) != dim {
			return apperrors.NewValidationError(fmt.Sprintf(
				"embedding %d has dimension %d, collection expects %d", i, len(emb), dim))
		}
	}
	return nil
}

// sectionAt 未提供sections时为空串
func sectionAt(batch ChunkBatch, i int) string {
	if len(batch.Sections) == 0 {
		return ""
	}
	return batch.Sections[i]
}

// buildFilterExpr 生成AND组合的布尔表达式；doc_id优先于source_path
func buildFilterExpr(docID *int64, sourcePath *string, ownerID *int64) string {
	var parts []string
	if docID != nil {
		parts = append(parts, "doc_id == "+strconv.FormatInt(*docID, 10))
	} else if sourcePath != nil && *sourcePath != "" {
		parts = append(parts, `source_path == "`+escapeExprString(*sourcePath)+`"`)
	}
	if ownerID != nil {
		parts = append(parts, "owner_id == "+strconv.FormatInt(*ownerID, 10))
	}
	return strings.Join(parts, " && ")
}

var exprEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeExprString(s string) string {
	return exprEscaper.Replace(s)
}
