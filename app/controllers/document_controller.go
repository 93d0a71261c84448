package controllers

import (
	"context"

	"github.com/aihub/docqa/internal/database"
	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/knowledge"
)

// DocumentLister 按owner列出已登记文档
type DocumentLister interface {
	ListByOwner(ctx context.Context, ownerID *int64) ([]database.Document, error)
}

// DeleteResponse 删除结果
type DeleteResponse struct {
	DeletedChunks int64 `json:"deleted_chunks"`
}

// DocumentController 文档控制器
type DocumentController struct {
	BaseController
	Pipeline *knowledge.IndexingPipeline
	Registry DocumentLister
}

// Delete 按doc_id或source_path删除分块，owner_id可选
func (c *DocumentController) Delete() {
	docID, err := c.optionalInt64("doc_id")
	if err != nil {
		c.HandleError(err)
		return
	}
	ownerID, err := c.optionalInt64("owner_id")
	if err != nil {
		c.HandleError(err)
		return
	}

	filter := knowledge.DeleteFilter{
		DocID:      docID,
		SourcePath: c.optionalString("source_path"),
		OwnerID:    ownerID,
	}
	if !filter.HasIdentifier() {
		c.HandleError(apperrors.NewValidationError("doc_id or source_path is required"))
		return
	}

	deleted, err := c.Pipeline.RemoveDocument(c.Ctx.Request.Context(), filter)
	if err != nil {
		c.HandleError(err)
		return
	}
	if deleted == 0 {
		c.HandleError(apperrors.NewNotFoundError("document"))
		return
	}

	c.JSONSuccess(DeleteResponse{DeletedChunks: deleted})
}

// List 列出owner的文档
func (c *DocumentController) List() {
	if c.Registry == nil {
		c.HandleError(apperrors.NewBusinessError(apperrors.ErrCodeConfig, "document registry is not enabled"))
		return
	}

	ownerID, err := c.optionalInt64("owner_id")
	if err != nil {
		c.HandleError(err)
		return
	}

	docs, err := c.Registry.ListByOwner(c.Ctx.Request.Context(), ownerID)
	if err != nil {
		c.HandleError(apperrors.NewSystemError(apperrors.ErrCodeInternalServer, "failed to list documents").WithCause(err))
		return
	}
	if docs == nil {
		docs = []database.Document{}
	}
	c.JSONSuccess(map[string]interface{}{
		"documents": docs,
	})
}
