package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/knowledge"
	"github.com/aihub/docqa/internal/logger"
)

// 索引任务动作
const (
	ActionIndex       = "index"
	ActionIndexFolder = "index_folder"
	ActionRemove      = "remove"
)

// IndexJob 异步索引任务
type IndexJob struct {
	JobID      string `json:"job_id,omitempty"`
	Action     string `json:"action"`
	Path       string `json:"path,omitempty"`
	Section    string `json:"section,omitempty"`
	Recursive  bool   `json:"recursive,omitempty"`
	OwnerID    *int64 `json:"owner_id,omitempty"`
	DocID      *int64 `json:"doc_id,omitempty"`
	SourcePath string `json:"source_path,omitempty"`
}

// ParseIndexJob 解析并校验索引任务
func ParseIndexJob(data []byte) (*IndexJob, error) {
	var job IndexJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, apperrors.NewValidationError("解析消息失败").WithCause(err)
	}

	switch job.Action {
	case ActionIndex, ActionIndexFolder:
		if job.Path == "" {
			return nil, apperrors.NewInvalidInputError("path", "required for "+job.Action)
		}
		if job.Section == "" {
			job.Section = "default"
		}
	case ActionRemove:
		if job.DocID == nil && job.SourcePath == "" {
			return nil, apperrors.NewValidationError("doc_id or source_path is required")
		}
	default:
		return nil, apperrors.NewInvalidInputError("action", fmt.Sprintf("unknown action %q", job.Action))
	}
	return &job, nil
}

// Indexer 任务处理需要的索引操作，*knowledge.IndexingPipeline满足
type Indexer interface {
	IndexFile(ctx context.Context, path, section string, ownerID *int64) (*knowledge.IndexResult, error)
	IndexFolder(ctx context.Context, folder, section string, recursive bool, ownerID *int64) (*knowledge.BatchReport, error)
	RemoveDocument(ctx context.Context, filter knowledge.DeleteFilter) (int64, error)
}

// JobHandler 把索引任务交给流水线执行
type JobHandler struct {
	indexer Indexer
}

// NewJobHandler 创建任务处理器
func NewJobHandler(indexer Indexer) *JobHandler {
	return &JobHandler{indexer: indexer}
}

// Handle 处理单条任务。格式错误、文件不存在等不可重试的错误只记录日志并确认消息；
// 其余错误返回给消费者，消息保持未标记
func (h *JobHandler) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	job, err := ParseIndexJob(message.Value)
	if err != nil {
		logger.Warn("丢弃无效的索引任务", zap.Int64("offset", message.Offset), zap.Error(err))
		return nil
	}

	err = h.run(ctx, job)
	if err != nil && isPermanent(err) {
		logger.Warn("索引任务失败，不再重试",
			zap.String("job_id", job.JobID),
			zap.String("action", job.Action),
			zap.Error(err))
		return nil
	}
	return err
}

func (h *JobHandler) run(ctx context.Context, job *IndexJob) error {
	switch job.Action {
	case ActionIndex:
		_, err := h.indexer.IndexFile(ctx, job.Path, job.Section, job.OwnerID)
		return err
	case ActionIndexFolder:
		report, err := h.indexer.IndexFolder(ctx, job.Path, job.Section, job.Recursive, job.OwnerID)
		if err != nil {
			return err
		}
		logger.Info("目录索引任务完成",
			zap.String("job_id", job.JobID),
			zap.Int("succeeded", len(report.Succeeded())),
			zap.Int("failed", len(report.Failed())))
		return nil
	default:
		filter := knowledge.DeleteFilter{DocID: job.DocID, OwnerID: job.OwnerID}
		if job.SourcePath != "" {
			filter.SourcePath = &job.SourcePath
		}
		_, err := h.indexer.RemoveDocument(ctx, filter)
		return err
	}
}

// isPermanent 客户端类错误重试也不会成功
func isPermanent(err error) bool {
	return apperrors.IsAppError(err) && apperrors.GetAppError(err).HTTPCode < 500
}
