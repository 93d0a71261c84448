package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/logger"
)

// IndexObserver 索引事件回调；回调失败只记录日志，不影响索引结果
type IndexObserver interface {
	OnIndexed(ctx context.Context, result *IndexResult, elapsed time.Duration)
	OnIndexFailed(ctx context.Context, path string, err error)
	OnRemoved(ctx context.Context, filter DeleteFilter, deleted int64)
}

// NopObserver 空实现，便于只关心部分事件的观察者嵌入
type NopObserver struct{}

func (NopObserver) OnIndexed(context.Context, *IndexResult, time.Duration) {}
func (NopObserver) OnIndexFailed(context.Context, string, error)           {}
func (NopObserver) OnRemoved(context.Context, DeleteFilter, int64)         {}

// IndexingPipeline 文件 -> markdown -> 分块 -> 向量 -> 向量库
type IndexingPipeline struct {
	converter Converter
	chunker   *Chunker
	embedder  Embedder
	store     VectorStore
	observers []IndexObserver
}

// NewIndexingPipeline 创建索引流水线
func NewIndexingPipeline(converter Converter, chunker *Chunker, embedder Embedder, store VectorStore, observers ...IndexObserver) *IndexingPipeline {
	return &IndexingPipeline{
		converter: converter,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		observers: observers,
	}
}

// AddObserver 追加观察者
func (p *IndexingPipeline) AddObserver(o IndexObserver) {
	p.observers = append(p.observers, o)
}

// IndexFile 索引单个文件。同一(doc_id, owner)的旧分块会先被删除；
// 没有产生分块时直接返回空结果，不触碰向量库。
// 无归属(ownerID为nil)的重建只替换owner_id为NoOwner的副本，其他owner的副本保留，
// 不带owner过滤的检索因此可能返回同一文档的多份分块

func (p *IndexingPipeline) IndexFile(ctx context.Context, path, section string, ownerID *int64) (*IndexResult, error) {
	start := time.Now()
	if section == "" {
		section = DefaultSection
	}

	result, err := p.indexFile(ctx, path, section, ownerID)
	if err != nil {
		for _, o := range p.observers {
			o.OnIndexFailed(ctx, path, err)
		}
		return nil, err
	}

	if len(result.ChunkIDs) > 0 {
		elapsed := time.Since(start)
		for _, o := range p.observers {
			o.OnIndexed(ctx, result, elapsed)
		}
	}
	return result, nil
}

func (p *IndexingPipeline) indexFile(ctx context.Context, path, section string, ownerID *int64) (*IndexResult, error) {
	conv, err := p.converter.Convert(ctx, path)
	if err != nil {
		return nil, err
	}

	result := &IndexResult{
		DocID:      conv.DocID,
		ChunkIDs:   []int64{},
		SourcePath: path,
		Section:    section,
		OwnerID:    ownerID,
	}

	chunks := p.chunker.Chunk(conv.Markdown)
	if len(chunks) == 0 {
		logger.Info("Document produced no chunks",
			zap.String("path", path),
			zap.Int64("doc_id", conv.DocID))
		return result, nil
	}

	replaced, err := p.store.DeleteDocument(ctx, DeleteFilter{
		DocID:   Int64Ptr(conv.DocID),
		OwnerID: Int64Ptr(ownerValue(ownerID)),
	})
	if err != nil {
		return nil, err
	}

	embeddings, err := p.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(chunks) {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeExternalService,
			fmt.Sprintf("embedder returned %d vectors for %d chunks", len(embeddings), len(chunks)), nil)
	}

	sections := make([]string, len(chunks))
	for i := range sections {
		sections[i] = section
	}

	ids, err := p.store.AddChunks(ctx, ChunkBatch{
		DocID:      conv.DocID,
		SourcePath: path,
		OwnerID:    ownerID,
		Sections:   sections,
		Contents:   chunks,
		Embeddings: embeddings,
	})
	if err != nil {
		return nil, err
	}
	result.ChunkIDs = ids

	logger.Info("Document indexed",
		zap.String("path", path),
		zap.Int64("doc_id", conv.DocID),
		zap.Int("chunks", len(ids)),
		zap.Int64("replaced", replaced))
	return result, nil
}

// IndexFolder 顺序索引目录中的文件。单个文件失败会被记录在报告中，不会中断循环；
// 只有目录本身不可用时才返回错误
func (p *IndexingPipeline) IndexFolder(ctx context.Context, folder, section string, recursive bool, ownerID *int64) (*BatchReport, error) {
	info, err := os.Stat(folder)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError("folder " + folder)
		}
		return nil, apperrors.NewInvalidInputError("folder", err.Error())
	}
	if !info.IsDir() {
		return nil, apperrors.NewInvalidInputError("folder", folder+" is not a directory")
	}

	files, err := listFiles(folder, recursive)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("folder", err.Error())
	}

	report := &BatchReport{Folder: folder, Items: make([]ItemResult, 0, len(files))}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			report.Items = append(report.Items, ItemResult{Path: path, Err: err})
			continue
		}

		res, err := p.IndexFile(ctx, path, section, ownerID)
		if err != nil {
			logger.Warn("Failed to index file", zap.String("path", path), zap.Error(err))
		}
		report.Items = append(report.Items, ItemResult{Path: path, Result: res, Err: err})
	}

	logger.Info("Folder indexed",
		zap.String("folder", folder),
		zap.Int("succeeded", len(report.Succeeded())),
		zap.Int("failed", len(report.Failed())))
	return report, nil
}

// listFiles 返回排序后的普通文件路径
func listFiles(folder string, recursive bool) ([]string, error) {
	var files []string
	if recursive {
		err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logger.Warn("Skipping unreadable path", zap.String("path", path), zap.Error(err))
				if d != nil && d.IsDir() && path != folder {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		entries, err := os.ReadDir(folder)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				files = append(files, filepath.Join(folder, e.Name()))
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// RemoveDocument 删除文档分块，至少需要doc_id或source_path
func (p *IndexingPipeline) RemoveDocument(ctx context.Context, filter DeleteFilter) (int64, error) {
	if !filter.HasIdentifier() {
		return 0, apperrors.NewValidationError("doc_id or source_path is required")
	}

	deleted, err := p.store.DeleteDocument(ctx, filter)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		for _, o := range p.observers {
			o.OnRemoved(ctx, filter, deleted)
		}
	}
	return deleted, nil
}
