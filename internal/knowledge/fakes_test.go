package knowledge

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
)

// wordTokenizer 以空白分词，便于在测试中精确控制token数
type wordTokenizer struct {
	mu    sync.Mutex
	vocab map[string]int
	words []string
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{vocab: map[string]int{}}
}

func (w *wordTokenizer) Encode(text string) []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	fields := strings.Fields(text)
	out := make([]int, len(fields))
	for i, f := range fields {
		id, ok := w.vocab[f]
		if !ok {
			id = len(w.words)
			w.vocab[f] = id
			w.words = append(w.words, f)
		}
		out[i] = id
	}
	return out
}

func (w *wordTokenizer) Decode(tokens []int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = w.words[t]
	}
	return strings.Join(parts, " ")
}

func (w *wordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

// words 生成n个互不相同的单词，prefix用于区分块
func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

// hashEmbedder 根据文本确定性地生成单位向量
type hashEmbedder struct {
	mu    sync.Mutex
	dim   int
	calls [][]string
	err   error
}

func newHashEmbedder(dim int) *hashEmbedder {
	return &hashEmbedder{dim: dim}
}

func (h *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	h.mu.Lock()
	h.calls = append(h.calls, append([]string(nil), texts...))
	err := h.err
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, h.dim)
		for j, r := range text {
			vec[j%h.dim] += float32(r%31) + 1
		}
		out[i] = normalize(vec)
	}
	return out, nil
}

func (h *hashEmbedder) Dimensions() int { return h.dim }

func (h *hashEmbedder) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// axisEmbedder 将已知文本映射到固定向量，其余文本映射到零向量之外的默认方向
type axisEmbedder struct {
	dim     int
	vectors map[string][]float32
}

func (a *axisEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := a.vectors[t]; ok {
			out[i] = v
			continue
		}
		v := make([]float32, a.dim)
		v[a.dim-1] = 1
		out[i] = v
	}
	return out, nil
}

func (a *axisEmbedder) Dimensions() int { return a.dim }

func unit(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func mix(dim int, weights map[int]float64) []float32 {
	v := make([]float32, dim)
	var norm float64
	for axis, w := range weights {
		v[axis] = float32(w)
		norm += w * w
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// stubConverter 返回预设的markdown
type stubConverter struct {
	docs map[string]string
	err  map[string]error
}

func (s *stubConverter) Convert(_ context.Context, path string) (*Conversion, error) {
	if err, ok := s.err[path]; ok {
		return nil, err
	}
	md, ok := s.docs[path]
	if !ok {
		return nil, fmt.Errorf("no fixture for %s", path)
	}
	return &Conversion{Markdown: md, DocID: DocumentID([]byte(md))}, nil
}

// fakeLLM 记录调用并返回预设回答
type fakeLLM struct {
	mu      sync.Mutex
	answer  string
	err     error
	systems []string
	prompts []string
}

func (f *fakeLLM) Complete(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.systems = append(f.systems, system)
	f.prompts = append(f.prompts, user)
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}
