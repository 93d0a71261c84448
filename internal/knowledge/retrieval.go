package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/logger"
)

// DefaultSystemPrompt 约束模型只依据检索到的上下文作答
const DefaultSystemPrompt = "You are the assistant of a retrieval-augmented QA system. " +
	"Answer only from the provided context. " +
	"If the context does not contain enough information, say so plainly. " +
	"Do not invent facts or add information that is not in the context. " +
	"If fragments contradict each other, point that out. " +
	"Answer concisely and in the language of the user's question."

// DefaultContextLimit 进入上下文的最多命中数
const DefaultContextLimit = 5

// Answer 问答结果；Hits为完整检索结果，包括未进入上下文的命中
type Answer struct {
	Text string `json:"answer"`
	Hits []Hit  `json:"hits"`
}

// QueryObserver 检索事件回调
type QueryObserver interface {
	OnQuery(ctx context.Context, hits int, answered bool, elapsed time.Duration)
}

// RetrievalService 检索与答案生成
type RetrievalService struct {
	embedder     Embedder
	store        VectorStore
	llm          LanguageModel
	contextLimit int
	systemPrompt string
	observers    []QueryObserver
}

// RetrievalOption 检索服务选项
type RetrievalOption func(*RetrievalService)

// WithContextLimit 设置上下文命中数，最小为1
func WithContextLimit(n int) RetrievalOption {
	return func(s *RetrievalService) {
		if n < 1 {
			n = 1
		}
		s.contextLimit = n
	}
}

// WithSystemPrompt 覆盖默认系统提示词
func WithSystemPrompt(prompt string) RetrievalOption {
	return func(s *RetrievalService) {
		if strings.TrimSpace(prompt) != "" {
			s.systemPrompt = prompt
		}
	}
}

// WithQueryObserver 注册检索观察者
func WithQueryObserver(o QueryObserver) RetrievalOption {
	return func(s *RetrievalService) { s.observers = append(s.observers, o) }
}

// NewRetrievalService 创建检索服务
func NewRetrievalService(embedder Embedder, store VectorStore, llm LanguageModel, opts ...RetrievalOption) *RetrievalService {
	s := &RetrievalService{
		embedder:     embedder,
		store:        store,
		llm:          llm,
		contextLimit: DefaultContextLimit,
		systemPrompt: DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search 将查询文本向量化后在向量库中检索
func (s *RetrievalService) Search(ctx context.Context, query string, topK int, filter SearchFilter) ([]Hit, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, apperrors.NewValidationError("query produced no embedding")
	}
	return s.store.Search(ctx, vectors[0], topK, filter)
}

// Answer 检索并生成答案；没有命中或上下文为空时不调用模型
func (s *RetrievalService) Answer(ctx context.Context, question string, topK int, filter SearchFilter) (*Answer, error) {
	start := time.Now()

	hits, err := s.Search(ctx, question, topK, filter)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		s.notify(ctx, 0, false, time.Since(start))
		return &Answer{Text: "", Hits: []Hit{}}, nil
	}

	contextText := s.formatContext(hits)
	if contextText == "" {
		logger.Debug("No usable context in hits", zap.Int("hits", len(hits)))
		s.notify(ctx, len(hits), false, time.Since(start))
		return &Answer{Text: "", Hits: hits}, nil
	}

	text, err := s.llm.Complete(ctx, s.systemPrompt, buildUserPrompt(question, contextText))
	if err != nil {
		return nil, err
	}

	s.notify(ctx, len(hits), true, time.Since(start))
	return &Answer{Text: strings.TrimSpace(text), Hits: hits}, nil
}

func (s *RetrievalService) notify(ctx context.Context, hits int, answered bool, elapsed time.Duration) {
	for _, o := range s.observers {
		o.OnQuery(ctx, hits, answered, elapsed)
	}
}

// formatContext 取前contextLimit个命中，跳过空内容；编号为命中在列表中的位置
func (s *RetrievalService) formatContext(hits []Hit) string {
	limit := s.contextLimit
	if limit > len(hits) {
		limit = len(hits)
	}

	blocks := make([]string, 0, limit)
	for i, hit := range hits[:limit] {
		if hit.Content == nil {
			continue
		}
		content := strings.TrimSpace(*hit.Content)
		if content == "" {
			continue
		}

		source := "unknown"
		if hit.SourcePath != nil && *hit.SourcePath != "" {
			source = *hit.SourcePath
		}
		prefix := fmt.Sprintf("[%d] source=%s", i+1, source)
		if hit.ChunkID != nil {
			prefix += fmt.Sprintf(" chunk=%d", *hit.ChunkID)
		}
		blocks = append(blocks, prefix+"\n"+content)
	}
	return strings.TrimSpace(strings.Join(blocks, "\n\n"))
}

func buildUserPrompt(question, contextText string) string {
	return "Context:\n" + contextText + "\n\n" +
		"Question:\n" + question + "\n\n" +
		"Write a clear answer grounded in the context above."
}
