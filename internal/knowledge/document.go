package knowledge

import (
	"crypto/sha1"
	"encoding/binary"
)

// NoOwner 无归属分块在向量库中的owner_id取值
const NoOwner int64 = -1

// DefaultSection 未指定section时使用的值
const DefaultSection = "default"

// DocumentID 根据原始字节计算文档ID：SHA-1前8字节右移一位，保证非负
func DocumentID(raw []byte) int64 {
	sum := sha1.Sum(raw)
	return int64(binary.BigEndian.Uint64(sum[:8]) >> 1)
}

// ChunkBatch 一次写入的同一文档的全部分块
type ChunkBatch struct {
	DocID      int64
	SourcePath string
	OwnerID    *int64
	Sections   []string
	Contents   []string
	Embeddings [][]float32
}

// ChunkRecord 向量库中的一条分块记录
type ChunkRecord struct {
	ID         int64
	DocID      int64
	ChunkIndex int64
	Section    string
	Content    string
	SourcePath string
	OwnerID    int64
	Embedding  []float32
}

// Hit 检索命中；可空字段对应未返回的列
type Hit struct {
	ID         int64   `json:"id"`
	Score      float64 `json:"score"`
	DocID      *int64  `json:"doc_id"`
	ChunkID    *int64  `json:"chunk_id"`
	Section    *string `json:"section"`
	SourcePath *string `json:"source_path"`
	Content    *string `json:"content"`
}

// SearchFilter 检索过滤条件，字段之间为AND关系
type SearchFilter struct {
	DocID      *int64
	SourcePath *string
	OwnerID    *int64
}

// DeleteFilter 删除条件，DocID与SourcePath至少提供一个
type DeleteFilter struct {
	DocID      *int64
	SourcePath *string
	OwnerID    *int64
}

// HasIdentifier 是否提供了文档标识
func (f DeleteFilter) HasIdentifier() bool {
	return f.DocID != nil || (f.SourcePath != nil && *f.SourcePath != "")
}

// Conversion 文件转换结果
type Conversion struct {
	Markdown string
	DocID    int64
}

// IndexResult 单个文件的索引结果
type IndexResult struct {
	DocID      int64   `json:"doc_id"`
	ChunkIDs   []int64 `json:"ids"`
	SourcePath string  `json:"source_path"`
	Section    string  `json:"section"`
	OwnerID    *int64  `json:"owner_id"`
}

// ItemResult 批量索引中单个文件的结果
type ItemResult struct {
	Path   string
	Result *IndexResult
	Err    error
}

// BatchReport 批量索引报告
type BatchReport struct {
	Folder string
	Items  []ItemResult
}

// Succeeded 成功的条目
func (r *BatchReport) Succeeded() []ItemResult {
	out := make([]ItemResult, 0, len(r.Items))
	for _, item := range r.Items {
		if item.Err == nil {
			out = append(out, item)
		}
	}
	return out
}

// Failed 失败的条目
func (r *BatchReport) Failed() []ItemResult {
	var out []ItemResult
	for _, item := range r.Items {
		if item.Err != nil {
			out = append(out, item)
		}
	}
	return out
}

// Int64Ptr 返回v的指针
func Int64Ptr(v int64) *int64 { return &v }

// StringPtr 返回v的指针
func StringPtr(v string) *string { return &v }

func ownerValue(ownerID *int64) int64 {
	if ownerID == nil {
		return NoOwner
	}
	return *ownerID
}
