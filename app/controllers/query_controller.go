package controllers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/knowledge"
)

// QueryRequest 问答请求
type QueryRequest struct {
	Question   string  `json:"question" validate:"required,min=1"`
	TopK       int     `json:"top_k"`
	DocID      *int64  `json:"doc_id"`
	SourcePath *string `json:"source_path"`
	OwnerID    *int64  `json:"owner_id"`
}

// SearchRequest 纯检索请求
type SearchRequest struct {
	Query      string  `json:"query" validate:"required,min=1"`
	TopK       int     `json:"top_k"`
	DocID      *int64  `json:"doc_id"`
	SourcePath *string `json:"source_path"`
	OwnerID    *int64  `json:"owner_id"`
}

// SearchResponse 检索结果
type SearchResponse struct {
	Hits []knowledge.Hit `json:"hits"`
}

var requestValidator = validator.New()

// QueryController 检索与问答
type QueryController struct {
	BaseController
	Retrieval   *knowledge.RetrievalService
	DefaultTopK int
	MaxTopK     int
}

// Query 检索上下文并生成答案
func (c *QueryController) Query() {
	var req QueryRequest
	if err := c.decode(&req); err != nil {
		c.HandleError(err)
		return
	}
	req.Question = strings.TrimSpace(req.Question)

	topK, err := c.validate(&req, req.TopK)
	if err != nil {
		c.HandleError(err)
		return
	}

	answer, err := c.Retrieval.Answer(c.Ctx.Request.Context(), req.Question, topK, knowledge.SearchFilter{
		DocID:      req.DocID,
		SourcePath: req.SourcePath,
		OwnerID:    req.OwnerID,
	})
	if err != nil {
		c.HandleError(err)
		return
	}
	c.JSONSuccess(answer)
}

// Search 只返回检索命中，不调用模型
func (c *QueryController) Search() {
	var req SearchRequest
	if err := c.decode(&req); err != nil {
		c.HandleError(err)
		return
	}
	req.Query = strings.TrimSpace(req.Query)

	topK, err := c.validate(&req, req.TopK)
	if err != nil {
		c.HandleError(err)
		return
	}

	hits, err := c.Retrieval.Search(c.Ctx.Request.Context(), req.Query, topK, knowledge.SearchFilter{
		DocID:      req.DocID,
		SourcePath: req.SourcePath,
		OwnerID:    req.OwnerID,
	})
	if err != nil {
		c.HandleError(err)
		return
	}
	if hits == nil {
		hits = []knowledge.Hit{}
	}
	c.JSONSuccess(SearchResponse{Hits: hits})
}

func (c *QueryController) decode(dst interface{}) error {
	if c.Ctx.Request.Body == nil {
		return apperrors.NewValidationError("request body is required")
	}
	if err := json.NewDecoder(c.Ctx.Request.Body).Decode(dst); err != nil {
		return apperrors.NewValidationError("invalid JSON body").WithCause(err)
	}
	return nil
}

// validate 校验请求体，top_k为0时取默认值
func (c *QueryController) validate(req interface{}, topK int) (int, error) {
	if err := requestValidator.Struct(req); err != nil {
		return 0, err
	}

	if topK == 0 {
		topK = c.DefaultTopK
		if topK == 0 {
			topK = knowledge.DefaultTopK
		}
	}
	maxTopK := c.MaxTopK
	if maxTopK == 0 {
		maxTopK = 20
	}
	if err := requestValidator.Var(topK, fmt.Sprintf("min=1,max=%d", maxTopK)); err != nil {
		return 0, apperrors.NewInvalidInputError("top_k", fmt.Sprintf("must be between 1 and %d", maxTopK))
	}
	return topK, nil
}
