package storage

import (
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/aihub/docqa/internal/config"
	"github.com/aihub/docqa/internal/knowledge"
	"github.com/aihub/docqa/internal/logger"
)

const (
	sourcePrefix   = "sources"
	sourcePathMeta = "Source-Path"
)

// objectAPI 归档用到的MinIO客户端方法，*minio.Client满足
type objectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
}

// SourceArchive 把成功索引的源文件归档到对象存储，文档删除时同步移除
type SourceArchive struct {
	client objectAPI
	bucket string
}

// NewSourceArchive 连接MinIO并确保bucket存在
func NewSourceArchive(ctx context.Context, cfg config.MinIOConfig) (*SourceArchive, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint not configured")
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "docqa-sources"
	}

	// minio.New 不接受协议前缀
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	archive := newSourceArchive(client, bucket)
	if err := archive.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return archive, nil
}

func newSourceArchive(client objectAPI, bucket string) *SourceArchive {
	return &SourceArchive{client: client, bucket: bucket}
}

func (a *SourceArchive) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "BucketAlreadyExists") || strings.Contains(errStr, "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	logger.Info("MinIO bucket created", zap.String("bucket", a.bucket))
	return nil
}

// Bucket 归档bucket名
func (a *SourceArchive) Bucket() string {
	return a.bucket
}

// ObjectKey sources/<owner>/<doc_id><ext>，无归属文档的owner段为-1
func ObjectKey(ownerID int64, docID int64, sourcePath string) string {
	name := strconv.FormatInt(docID, 10) + strings.ToLower(filepath.Ext(sourcePath))
	return path.Join(sourcePrefix, strconv.FormatInt(ownerID, 10), name)
}

// Put 归档单个源文件
func (a *SourceArchive) Put(ctx context.Context, result *knowledge.IndexResult) (string, error) {
	owner := knowledge.NoOwner
	if result.OwnerID != nil {
		owner = *result.OwnerID
	}
	key := ObjectKey(owner, result.DocID, result.SourcePath)

	contentType := mime.TypeByExtension(filepath.Ext(result.SourcePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := a.client.FPutObject(ctx, a.bucket, key, result.SourcePath, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			sourcePathMeta: result.SourcePath,
			"Section":      result.Section,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", result.SourcePath, err)
	}
	return key, nil
}

// Remove 删除与过滤条件匹配的归档，doc_id优先于source_path
func (a *SourceArchive) Remove(ctx context.Context, filter knowledge.DeleteFilter) (int, error) {
	if !filter.HasIdentifier() {
		return 0, nil
	}

	prefix := sourcePrefix + "/"
	if filter.OwnerID != nil {
		prefix = path.Join(sourcePrefix, strconv.FormatInt(*filter.OwnerID, 10)) + "/"
	}

	var keys []string
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return 0, fmt.Errorf("failed to list archived sources: %w", obj.Err)
		}
		if matchesFilter(obj, filter) {
			keys = append(keys, obj.Key)
		}
	}

	removed := 0
	for _, key := range keys {
		if err := a.client.RemoveObject(ctx, a.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", key, err)
		}
		removed++
	}
	return removed, nil
}

func matchesFilter(obj minio.ObjectInfo, filter knowledge.DeleteFilter) bool {
	if filter.DocID != nil {
		base := path.Base(obj.Key)
		stem := strings.TrimSuffix(base, path.Ext(base))
		return stem == strconv.FormatInt(*filter.DocID, 10)
	}
	for k, v := range obj.UserMetadata {
		if strings.HasSuffix(strings.ToLower(k), strings.ToLower(sourcePathMeta)) && v == *filter.SourcePath {
			return true
		}
	}
	return false
}

func (a *SourceArchive) OnIndexed(ctx context.Context, result *knowledge.IndexResult, _ time.Duration) {
	key, err := a.Put(ctx, result)
	if err != nil {
		logger.Warn("源文件归档失败", zap.Int64("doc_id", result.DocID), zap.Error(err))
		return
	}
	logger.Debug("源文件已归档", zap.String("bucket", a.bucket), zap.String("key", key))
}

func (a *SourceArchive) OnIndexFailed(context.Context, string, error) {}

func (a *SourceArchive) OnRemoved(ctx context.Context, filter knowledge.DeleteFilter, _ int64) {
	if _, err := a.Remove(ctx, filter); err != nil {
		logger.Warn("删除归档失败", zap.Error(err))
	}
}
