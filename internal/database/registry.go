package database

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aihub/docqa/internal/knowledge"
)

// Document 已索引文档的登记记录，每个(doc_id, owner_id)一行
type Document struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	DocID      int64     `gorm:"column:doc_id;not null" json:"doc_id"`
	OwnerID    int64     `gorm:"column:owner_id;not null" json:"owner_id"`
	SourcePath string    `gorm:"column:source_path;size:512" json:"source_path"`
	Section    string    `gorm:"column:section;size:256" json:"section"`
	Chunks     int       `gorm:"column:chunks" json:"chunks"`
	IndexedAt  time.Time `gorm:"column:indexed_at" json:"indexed_at"`
}

func (Document) TableName() string {
	return "documents"
}

// Registry 文档登记表，作为索引观察者维护记录
type Registry struct {
	db      *gorm.DB
	logger  *logrus.Logger
	metrics *MetricsCollector
	now     func() time.Time
}

// NewRegistry 创建文档登记表；metrics可为nil
func NewRegistry(db *gorm.DB, logger *logrus.Logger, metrics *MetricsCollector) *Registry {
	return &Registry{db: db, logger: logger, metrics: metrics, now: time.Now}
}

func (r *Registry) observe(op string, start time.Time, err error) {
	if r.metrics != nil {
		r.metrics.RecordQuery(op, "documents", time.Since(start), err)
	}
}

// Upsert 写入或更新登记记录
func (r *Registry) Upsert(ctx context.Context, doc *Document) error {
	start := time.Now()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "doc_id"}, {Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"source_path", "section", "chunks", "indexed_at"}),
	}).Create(doc).Error
	r.observe("upsert", start, err)
	return err
}

// Remove 按与向量库相同的过滤语义删除记录
func (r *Registry) Remove(ctx context.Context, filter knowledge.DeleteFilter) (int64, error) {
	start := time.Now()
	query := r.db.WithContext(ctx)
	if filter.DocID != nil {
		query = query.Where("doc_id = ?", *filter.DocID)
	} else if filter.SourcePath != nil && *filter.SourcePath != "" {
		query = query.Where("source_path = ?", *filter.SourcePath)
	} else {
		return 0, nil
	}
	if filter.OwnerID != nil {
		query = query.Where("owner_id = ?", *filter.OwnerID)
	}

	res := query.Delete(&Document{})
	r.observe("delete", start, res.Error)
	return res.RowsAffected, res.Error
}

// ListByOwner 列出owner的文档，最近索引的在前；ownerID为nil时列出无归属文档
func (r *Registry) ListByOwner(ctx context.Context, ownerID *int64) ([]Document, error) {
	start := time.Now()
	owner := knowledge.NoOwner
	if ownerID != nil {
		owner = *ownerID
	}

	var docs []Document
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", owner).
		Order("indexed_at DESC").
		Find(&docs).Error
	r.observe("select", start, err)
	return docs, err
}

func (r *Registry) OnIndexed(ctx context.Context, result *knowledge.IndexResult, _ time.Duration) {
	owner := knowledge.NoOwner
	if result.OwnerID != nil {
		owner = *result.OwnerID
	}

	doc := &Document{
		DocID:      result.DocID,
		OwnerID:    owner,
		SourcePath: result.SourcePath,
		Section:    result.Section,
		Chunks:     len(result.ChunkIDs),
		IndexedAt:  r.now(),
	}
	if err := r.Upsert(ctx, doc); err != nil {
		r.logger.WithFields(logrus.Fields{
			"doc_id": result.DocID,
			"error":  err.Error(),
		}).Warn("Failed to register indexed document")
	}
}

func (r *Registry) OnIndexFailed(context.Context, string, error) {}

func (r *Registry) OnRemoved(ctx context.Context, filter knowledge.DeleteFilter, _ int64) {
	if _, err := r.Remove(ctx, filter); err != nil {
		r.logger.WithField("error", err.Error()).Warn("Failed to unregister document")
	}
}
