package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/logger"
)

// Milvus集合字段
const (
	fieldID         = "id"
	fieldOwnerID    = "owner_id"
	fieldDocID      = "doc_id"
	fieldChunkID    = "chunk_id"
	fieldSourcePath = "source_path"
	fieldSection    = "section"
	fieldContent    = "content"
	fieldEmbedding  = "embedding"

	sourcePathMaxLength     = 512
	sectionMaxLength        = 256
	defaultContentMaxLength = 8192

	hnswM              = 8
	hnswEfConstruction = 64
	hnswSearchEf       = 64
)

var milvusOutputFields = []string{fieldOwnerID, fieldDocID, fieldChunkID, fieldSourcePath, fieldSection, fieldContent}

// milvusAPI 向量存储用到的Milvus客户端方法子集，client.Client满足该接口
type milvusAPI interface {
	HasCollection(ctx context.Context, collName string) (bool, error)
	DescribeCollection(ctx context.Context, collName string) (*entity.Collection, error)
	CreateCollection(ctx context.Context, schema *entity.Schema, shardsNum int32, opts ...client.CreateCollectionOption) error
	CreateIndex(ctx context.Context, collName string, fieldName string, idx entity.Index, async bool, opts ...client.IndexOption) error
	LoadCollection(ctx context.Context, collName string, async bool, opts ...client.LoadCollectionOption) error
	Insert(ctx context.Context, collName string, partitionName string, columns ...entity.Column) (entity.Column, error)
	Flush(ctx context.Context, collName string, async bool, opts ...client.FlushOption) error
	Delete(ctx context.Context, collName string, partitionName string, expr string) error
	Query(ctx context.Context, collectionName string, partitionNames []string, expr string, outputFields []string, opts ...client.SearchQueryOptionFunc) (client.ResultSet, error)
	Search(ctx context.Context, collName string, partitions []string, expr string, outputFields []string, vectors []entity.Vector, vectorField string, metricType entity.MetricType, topK int, sp entity.SearchParam, opts ...client.SearchQueryOptionFunc) ([]client.SearchResult, error)
	Close() error
}

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address          string
	Username         string
	Password         string
	Database         string
	Collection       string
	UseTLS           bool
	Dimension        int
	ContentMaxLength int
	Timeout          time.Duration
}

// MilvusVectorStore 基于Milvus的向量存储
type MilvusVectorStore struct {
	client     milvusAPI
	collection string
	dim        int
	contentMax int
}

// NewMilvusVectorStore 连接Milvus并创建向量存储，需随后调用Open
func NewMilvusVectorStore(ctx context.Context, opts MilvusOptions) (*MilvusVectorStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	milvusClient, err := client.NewClient(dialCtx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "failed to create milvus client", err)
	}

	return newMilvusVectorStore(milvusClient, opts), nil
}

func newMilvusVectorStore(api milvusAPI, opts MilvusOptions) *MilvusVectorStore {
	if opts.Collection == "" {
		opts.Collection = "rag_chunks"
	}
	if opts.ContentMaxLength <= 0 {
		opts.ContentMaxLength = defaultContentMaxLength
	}
	return &MilvusVectorStore{
		client:     api,
		collection: opts.Collection,
		dim:        opts.Dimension,
		contentMax: opts.ContentMaxLength,
	}
}

// Open 校验或创建集合，随后加载到内存
func (s *MilvusVectorStore) Open(ctx context.Context) error {
	if s.dim <= 0 {
		return apperrors.NewConfigError("embedding dimension must be known before opening the collection")
	}

	exists, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "failed to check collection", err)
	}

	if exists {
		if err := s.validateSchema(ctx); err != nil {
			return err
		}
	} else if err := s.createCollection(ctx); err != nil {
		return err
	}

	if err := s.client.LoadCollection(ctx, s.collection, false); err != nil {
		return apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "failed to load collection", err)
	}

	logger.Info("Milvus collection ready",
		zap.String("collection", s.collection),
		zap.Int("dim", s.dim),
		zap.Bool("created", !exists))
	return nil
}

func (s *MilvusVectorStore) validateSchema(ctx context.Context) error {
	coll, err := s.client.DescribeCollection(ctx, s.collection)
	if err != nil {
		return apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "failed to describe collection", err)
	}
	if coll == nil || coll.Schema == nil {
		return apperrors.NewSchemaMismatchError(fmt.Sprintf("collection %s has no schema", s.collection))
	}

	var hasOwner, hasEmbedding bool
	for _, field := range coll.Schema.Fields {
		switch field.Name {
		case fieldOwnerID:
			hasOwner = true
		case fieldEmbedding:
			hasEmbedding = true
			dim, err := strconv.Atoi(field.TypeParams[entity.TypeParamDim])
			if err != nil {
				return apperrors.NewSchemaMismatchError(fmt.Sprintf("collection %s has no readable embedding dimension", s.collection))
			}
			if dim != s.dim {
				return apperrors.NewSchemaMismatchError(fmt.Sprintf(
					"collection %s has embedding dimension %d, embedder produces %d", s.collection, dim, s.dim))
			}
		}
	}
	if !hasEmbedding {
		return apperrors.NewSchemaMismatchError(fmt.Sprintf("collection %s has no %s field", s.collection, fieldEmbedding))
	}
	if !hasOwner {
		return apperrors.NewSchemaMismatchError(fmt.Sprintf("collection %s has no %s field", s.collection, fieldOwnerID))
	}
	return nil
}

func (s *MilvusVectorStore) createCollection(ctx context.Context) error {
	schema := &entity.Schema{
		CollectionName: s.collection,
		Description:    "RAG document chunks",
		AutoID:         true,
		Fields: []*entity.Field{
			{Name: fieldID, DataType: entity.FieldTypeInt64, PrimaryKey: true, AutoID: true},
			{Name: fieldOwnerID, DataType: entity.FieldTypeInt64},
			{Name: fieldDocID, DataType: entity.FieldTypeInt64},
			{Name: fieldChunkID, DataType: entity.FieldTypeInt32},
			{
				Name:       fieldSourcePath,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{entity.TypeParamMaxLength: strconv.Itoa(sourcePathMaxLength)},
			},
			{
				Name:       fieldSection,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{entity.TypeParamMaxLength: strconv.Itoa(sectionMaxLength)},
			},
			{
				Name:       fieldContent,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{entity.TypeParamMaxLength: strconv.Itoa(s.contentMax)},
			},
			{
				Name:       fieldEmbedding,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{entity.TypeParamDim: strconv.Itoa(s.dim)},
			},
		},
	}

	if err := s.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "failed to create collection", err)
	}

	index, err := entity.NewIndexHNSW(entity.COSINE, hnswM, hnswEfConstruction)
	if err != nil {
		return apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "failed to build index params", err)
	}
	if err := s.client.CreateIndex(ctx, s.collection, fieldEmbedding, index, false); err != nil {
		return apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "failed to create index", err)
	}
	return nil
}

func (s *MilvusVectorStore) AddChunks(ctx context.Context, batch ChunkBatch) ([]int64, error) {
	if err := validateBatch(batch, s.dim); err != nil {
		return nil, err
	}
	if err := s.validateLengths(batch); err != nil {
		return nil, err
	}

	n := len(batch.Contents)
	if n == 0 {
		return []int64{}, nil
	}

	owner := ownerValue(batch.OwnerID)
	owners := make([]int64, n)
	docIDs := make([]int64, n)
	chunkIDs := make([]int32, n)
	paths := make([]string, n)
	sections := make([]string, n)
	for i := 0; i < n; i++ {
		owners[i] = owner
		docIDs[i] = batch.DocID
		chunkIDs[i] = int32(i)
		paths[i] = batch.SourcePath
		sections[i] = sectionAt(batch, i)
	}

	ids, err := s.client.Insert(ctx, s.collection, "",
		entity.NewColumnInt64(fieldOwnerID, owners),
		entity.NewColumnInt64(fieldDocID, docIDs),
		entity.NewColumnInt32(fieldChunkID, chunkIDs),
		entity.NewColumnVarChar(fieldSourcePath, paths),
		entity.NewColumnVarChar(fieldSection, sections),
		entity.NewColumnVarChar(fieldContent, batch.Contents),
		entity.NewColumnFloatVector(fieldEmbedding, s.dim, batch.Embeddings),
	)
	if err != nil {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "milvus insert failed", err)
	}

	if err := s.client.Flush(ctx, s.collection, false); err != nil {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "milvus flush failed", err)
	}

	idCol, ok := ids.(*entity.ColumnInt64)
	if !ok {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeVectorStore,
			fmt.Sprintf("unexpected primary key column type %T", ids), nil)
	}
	return idCol.Data(), nil
}

// validateLengths VARCHAR字段超长会使整批写入失败，提前拒绝
func (s *MilvusVectorStore) validateLengths(batch ChunkBatch) error {
	if len(batch.SourcePath) > sourcePathMaxLength {
		return apperrors.NewValidationError(fmt.Sprintf("source path exceeds %d bytes", sourcePathMaxLength))
	}
	for i, section := range batch.Sections {
		if len(section) > sectionMaxLength {
			return apperrors.NewValidationError(fmt.Sprintf("section %d exceeds %d bytes", i, sectionMaxLength))
		}
	}
	for i, content := range batch.Contents {
		if len(content) > s.contentMax {
			return apperrors.NewValidationError(fmt.Sprintf("content %d exceeds %d bytes", i, s.contentMax))
		}
	}
	return nil
}

func (s *MilvusVectorStore) Search(ctx context.Context, query []float32, topK int, filter SearchFilter) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if len(query) != s.dim {
		return nil, apperrors.NewValidationError(fmt.Sprintf(
			"query embedding has dimension %d, collection expects %d", len(query), s.dim))
	}

	sp, err := entity.NewIndexHNSWSearchParam(hnswSearchEf)
	if err != nil {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "failed to build search params", err)
	}

	expr := buildFilterExpr(filter.DocID, filter.SourcePath, filter.OwnerID)
	results, err := s.client.Search(
		ctx,
		s.collection,
		[]string{},
		expr,
		milvusOutputFields,
		[]entity.Vector{entity.FloatVector(query)},
		fieldEmbedding,
		entity.COSINE,
		topK,
		sp,
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "milvus search failed", err)
	}

	// 只有一个查询向量，取第一个结果
	if len(results) == 0 {
		return []Hit{}, nil
	}
	if results[0].Err != nil {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "milvus search failed", results[0].Err)
	}
	return hitsFromResult(results[0]), nil
}

func hitsFromResult(result client.SearchResult) []Hit {
	hits := make([]Hit, 0, result.ResultCount)
	if result.ResultCount == 0 {
		return hits
	}

	var ids []int64
	if idCol, ok := result.IDs.(*entity.ColumnInt64); ok {
		ids = idCol.Data()
	}

	var docIDs, chunkIDs []int64
	var paths, sections, contents []string
	for _, field := range result.Fields {
		switch col := field.(type) {
		case *entity.ColumnInt64:
			if col.Name() == fieldDocID {
				docIDs = col.Data()
			}
		case *entity.ColumnInt32:
			if col.Name() == fieldChunkID {
				for _, v := range col.Data() {
					chunkIDs = append(chunkIDs, int64(v))
				}
			}
		case *entity.ColumnVarChar:
			switch col.Name() {
			case fieldSourcePath:
				paths = col.Data()
			case fieldSection:
				sections = col.Data()
			case fieldContent:
				contents = col.Data()
			}
		}
	}

	for i := 0; i < result.ResultCount; i++ {
		hit := Hit{}
		if i < len(ids) {
			hit.ID = ids[i]
		}
		if i < len(result.Scores) {
			hit.Score = float64(result.Scores[i])
		}
		if i < len(docIDs) {
			hit.DocID = Int64Ptr(docIDs[i])
		}
		if i < len(chunkIDs) {
			hit.ChunkID = Int64Ptr(chunkIDs[i])
		}
		if i < len(paths) {
			hit.SourcePath = StringPtr(paths[i])
		}
		if i < len(sections) {
			hit.Section = StringPtr(sections[i])
		}
		if i < len(contents) {
			hit.Content = StringPtr(contents[i])
		}
		hits = append(hits, hit)
	}
	return hits
}

func (s *MilvusVectorStore) DeleteDocument(ctx context.Context, filter DeleteFilter) (int64, error) {
	if !filter.HasIdentifier() {
		return 0, apperrors.NewValidationError("doc_id or source_path is required")
	}

	expr := buildFilterExpr(filter.DocID, filter.SourcePath, filter.OwnerID)
	count, err := s.count(ctx, expr)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.client.Delete(ctx, s.collection, "", expr); err != nil {
		return 0, apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "milvus delete failed", err)
	}
	if err := s.client.Flush(ctx, s.collection, false); err != nil {
		return 0, apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "milvus flush failed", err)
	}

	logger.Debug("Deleted chunks", zap.String("expr", expr), zap.Int64("count", count))
	return count, nil
}

// count 统计匹配表达式的分块数
func (s *MilvusVectorStore) count(ctx context.Context, expr string) (int64, error) {
	rs, err := s.client.Query(ctx, s.collection, []string{}, expr, []string{"count(*)"},
		client.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return 0, apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "milvus count failed", err)
	}

	col := rs.GetColumn("count(*)")
	if col == nil {
		return 0, apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "milvus count returned no column", nil)
	}
	countCol, ok := col.(*entity.ColumnInt64)
	if !ok || len(countCol.Data()) == 0 {
		return 0, apperrors.NewExternalError(apperrors.ErrCodeVectorStore,
			fmt.Sprintf("unexpected count column %T", col), nil)
	}
	return countCol.Data()[0], nil
}

// Clear 删除全部分块，自增主键恒为正
func (s *MilvusVectorStore) Clear(ctx context.Context) error {
	if err := s.client.Delete(ctx, s.collection, "", fieldID+" >= 0"); err != nil {
		return apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "milvus clear failed", err)
	}
	if err := s.client.Flush(ctx, s.collection, false); err != nil {
		return apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "milvus flush failed", err)
	}
	logger.Info("Milvus collection cleared", zap.String("collection", s.collection))
	return nil
}

func (s *MilvusVectorStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Collection 集合名称
func (s *MilvusVectorStore) Collection() string {
	return strings.TrimSpace(s.collection)
}
