package knowledge

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	apperrors "github.com/aihub/docqa/internal/errors"
)

// Tokenizer 分块使用的分词器
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
	Count(text string) int
}

var bpeLoaderOnce sync.Once

// TiktokenTokenizer 基于tiktoken的BPE分词器，词表离线加载
type TiktokenTokenizer struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenTokenizer 按编码名称创建分词器，如 cl100k_base
func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	bpeLoaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("unknown tokenizer encoding %q", encoding)).WithCause(err)
	}
	return &TiktokenTokenizer{encoding: enc}, nil
}

func (t *TiktokenTokenizer) Encode(text string) []int {
	return t.encoding.Encode(text, nil, nil)
}

func (t *TiktokenTokenizer) Decode(tokens []int) string {
	return t.encoding.Decode(tokens)
}

func (t *TiktokenTokenizer) Count(text string) int {
	return len(t.Encode(text))
}
