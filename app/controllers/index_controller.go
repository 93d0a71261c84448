package controllers

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/knowledge"
	"github.com/aihub/docqa/internal/logger"
)

// IndexResponse 上传索引结果
type IndexResponse struct {
	DocID         int64   `json:"doc_id"`
	ChunksIndexed int     `json:"chunks_indexed"`
	IDs           []int64 `json:"ids"`
	Section       string  `json:"section"`
	OwnerID       *int64  `json:"owner_id"`
}

// IndexController 文件上传与索引
type IndexController struct {
	BaseController
	Pipeline      *knowledge.IndexingPipeline
	UploadDir     string
	MaxUploadSize int64
}

// Index 接收multipart文件，写入临时文件后交给流水线
func (c *IndexController) Index() {
	file, header, err := c.GetFile("file")
	if err != nil {
		c.HandleError(apperrors.NewValidationError("file is required"))
		return
	}
	defer file.Close()

	if c.MaxUploadSize > 0 && header.Size > c.MaxUploadSize {
		c.HandleError(apperrors.NewInvalidInputError("file", "exceeds the upload size limit"))
		return
	}

	ownerID, err := c.optionalInt64("owner_id")
	if err != nil {
		c.HandleError(err)
		return
	}
	section := strings.TrimSpace(c.GetString("section"))
	if section == "" {
		section = "default"
	}

	tmpPath, size, err := c.saveUpload(file, header.Filename)
	if err != nil {
		c.HandleError(apperrors.NewSystemError(apperrors.ErrCodeInternalServer, "failed to store upload").WithCause(err))
		return
	}
	defer os.Remove(tmpPath)

	if size == 0 {
		c.HandleError(apperrors.NewValidationError("uploaded file is empty"))
		return
	}

	result, err := c.Pipeline.IndexFile(c.Ctx.Request.Context(), tmpPath, section, ownerID)
	if err != nil {
		c.HandleError(err)
		return
	}
	if len(result.ChunkIDs) == 0 {
		c.HandleError(apperrors.NewValidationError("file produced no chunks, make sure it contains text"))
		return
	}

	logger.Info("Indexed upload",
		zap.String("filename", header.Filename),
		zap.Int64("doc_id", result.DocID),
		zap.Int("chunks", len(result.ChunkIDs)))

	c.JSONSuccess(IndexResponse{
		DocID:         result.DocID,
		ChunksIndexed: len(result.ChunkIDs),
		IDs:           result.ChunkIDs,
		Section:       section,
		OwnerID:       result.OwnerID,
	})
}

// saveUpload 保留原始扩展名，转换器按扩展名选择解析器
func (c *IndexController) saveUpload(src io.Reader, filename string) (string, int64, error) {
	suffix := filepath.Ext(filename)
	if suffix == "" {
		suffix = ".tmp"
	}

	tmp, err := os.CreateTemp(c.UploadDir, "upload-*"+suffix)
	if err != nil {
		return "", 0, err
	}
	defer tmp.Close()

	n, err := io.Copy(tmp, src)
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, err
	}
	return tmp.Name(), n, nil
}
