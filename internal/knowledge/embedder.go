package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/aihub/docqa/internal/errors"
)

// Embedder 定义文本批量向量化接口，返回L2归一化后的向量
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

var embeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// EmbedderOptions OpenAI兼容嵌入服务配置
type EmbedderOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
}

// OpenAIEmbedder 使用OpenAI兼容的Embedding API
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	batchSize  int
	requestDim int

	mu         sync.Mutex
	dimensions int
}

// NewOpenAIEmbedder 创建OpenAI嵌入向量生成器
func NewOpenAIEmbedder(opts EmbedderOptions) (*OpenAIEmbedder, error) {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "text-embedding-3-small"
	}
	if strings.TrimSpace(opts.APIKey) == "" && opts.BaseURL == "" {
		return nil, apperrors.NewConfigError("embedding api key or base url must be configured")
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}

	dims := opts.Dimensions
	if dims == 0 {
		dims = embeddingDimensions[model]
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		batchSize:  batchSize,
		requestDim: opts.Dimensions,
		dimensions: dims,
	}, nil
}

// Embed 分批请求嵌入，输出顺序与输入一致
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	}
	if e.requestDim > 0 {
		req.Dimensions = e.requestDim
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeExternalService, "embedding request failed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeExternalService,
			fmt.Sprintf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts)), nil)
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, item := range data {
		out[i] = normalize(item.Embedding)
	}

	e.mu.Lock()
	if e.dimensions == 0 && len(out) > 0 {
		e.dimensions = len(out[0])
	}
	e.mu.Unlock()

	return out, nil
}

// Dimensions 向量维度；未知模型在首次请求前为0，可调用 ProbeDimensions
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimensions
}

// ProbeDimensions 通过一次真实请求确定维度
func (e *OpenAIEmbedder) ProbeDimensions(ctx context.Context) (int, error) {
	if dims := e.Dimensions(); dims > 0 {
		return dims, nil
	}
	vecs, err := e.embedBatch(ctx, []string{"probe"})
	if err != nil {
		return 0, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, errors.New("embedding probe returned an empty vector")
	}
	return len(vecs[0]), nil
}

// normalize 返回L2归一化后的副本，零向量原样返回
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	out := make([]float32, len(vec))
	if sum == 0 {
		copy(out, vec)
		return out
	}
	norm := math.Sqrt(sum)
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
