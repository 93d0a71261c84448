package knowledge

import (
	"fmt"
	"strings"

	apperrors "github.com/aihub/docqa/internal/errors"
)

const (
	DefaultMaxTokens = 250
	DefaultOverlap   = 50

	blockSeparator = "\n\n"
)

// Chunker 按token预算切分markdown文本
//
// 文本先按空行切成块，块依次累积直到再加一块就会超出预算；
// 单块本身超出预算时按 maxTokens 大小、maxTokens-overlap 步长滑窗硬切。
type Chunker struct {
	tokenizer Tokenizer
	maxTokens int
	overlap   int
}

// NewChunker 创建分块器，overlap必须小于maxTokens
func NewChunker(tokenizer Tokenizer, maxTokens, overlap int) (*Chunker, error) {
	if tokenizer == nil {
		return nil, apperrors.NewConfigError("chunker requires a tokenizer")
	}
	if maxTokens <= 0 {
		return nil, apperrors.NewConfigError(fmt.Sprintf("max tokens must be positive, got %d", maxTokens))
	}
	if overlap < 0 {
		return nil, apperrors.NewConfigError(fmt.Sprintf("overlap must not be negative, got %d", overlap))
	}
	if overlap >= maxTokens {
		return nil, apperrors.NewConfigError(fmt.Sprintf("overlap (%d) must be smaller than max tokens (%d)", overlap, maxTokens))
	}
	return &Chunker{
		tokenizer: tokenizer,
		maxTokens: maxTokens,
		overlap:   overlap,
	}, nil
}

// MaxTokens 单个分块的token上限
func (c *Chunker) MaxTokens() int { return c.maxTokens }

// Overlap 硬切窗口之间重叠的token数
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk 将文本切分为有序、非空的分块
func (c *Chunker) Chunk(text string) []string {
	var chunks []string
	current := ""

	flush := func() {
		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
	}

	for _, block := range splitBlocks(text) {
		candidate := block
		if current != "" {
			candidate = strings.TrimSpace(current + blockSeparator + block)
		}
		if c.tokenizer.Count(candidate) <= c.maxTokens {
			current = candidate
			continue
		}

		flush()

		tokens := c.tokenizer.Encode(block)
		if len(tokens) > c.maxTokens {
			chunks = append(chunks, c.window(tokens)...)
			continue
		}
		current = block
	}
	flush()

	return chunks
}

// window 对超长块做滑窗硬切
func (c *Chunker) window(tokens []int) []string {
	stride := c.maxTokens - c.overlap
	var out []string
	for start := 0; start < len(tokens); start += stride {
		end := start + c.maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		// 窗口边界可能切在多字节字符中间，丢弃残缺字节
		piece := strings.TrimSpace(strings.ToValidUTF8(c.tokenizer.Decode(tokens[start:end]), ""))
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

func splitBlocks(text string) []string {
	raw := strings.Split(text, blockSeparator)
	blocks := make([]string, 0, len(raw))
	for _, b := range raw {
		if b = strings.TrimSpace(b); b != "" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}
