package knowledge

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/logger"
)

// Converter 将源文件转换为markdown并给出文档ID
type Converter interface {
	Convert(ctx context.Context, path string) (*Conversion, error)
}

// ConversionCache 按文档ID缓存转换结果
type ConversionCache interface {
	Get(ctx context.Context, docID int64) (string, bool, error)
	Set(ctx context.Context, docID int64, markdown string) error
}

// MarkdownConverter 基于FileParserManager的转换器
type MarkdownConverter struct {
	parsers     *FileParserManager
	markdownDir string
	cache       ConversionCache
}

// ConverterOption 转换器选项
type ConverterOption func(*MarkdownConverter)

// WithMarkdownDir 将转换结果另存到目录
func WithMarkdownDir(dir string) ConverterOption {
	return func(c *MarkdownConverter) { c.markdownDir = dir }
}

// WithConversionCache 设置转换缓存
func WithConversionCache(cache ConversionCache) ConverterOption {
	return func(c *MarkdownConverter) { c.cache = cache }
}

// NewMarkdownConverter 创建转换器
func NewMarkdownConverter(opts ...ConverterOption) *MarkdownConverter {
	c := &MarkdownConverter{parsers: NewFileParserManager()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MarkdownConverter) Convert(ctx context.Context, path string) (*Conversion, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewNotFoundError("file " + path)
		}
		return nil, apperrors.NewConversionError(path, err)
	}

	docID := DocumentID(raw)

	if c.cache != nil {
		md, ok, err := c.cache.Get(ctx, docID)
		if err != nil {
			logger.Warn("Conversion cache lookup failed", zap.Int64("doc_id", docID), zap.Error(err))
		} else if ok {
			return &Conversion{Markdown: md, DocID: docID}, nil
		}
	}

	parser, ok := c.parsers.ParserFor(path)
	if !ok {
		return nil, apperrors.NewConversionError(path,
			fmt.Errorf("unsupported format %q", filepath.Ext(path)))
	}

	text, err := parser.Parse(raw, filepath.Base(path))
	if err != nil {
		return nil, apperrors.NewConversionError(path, err)
	}
	md := postProcessMarkdown(text)

	if c.markdownDir != "" {
		if err := c.writeMarkdown(path, raw, md); err != nil {
			return nil, err
		}
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, docID, md); err != nil {
			logger.Warn("Conversion cache store failed", zap.Int64("doc_id", docID), zap.Error(err))
		}
	}

	return &Conversion{Markdown: md, DocID: docID}, nil
}

// postProcessMarkdown 统一换行并保留一个结尾换行
func postProcessMarkdown(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(text) + "\n"
}

// markdownFileName <stem>-<sha1前10位>.md，同一内容重复转换不会产生新文件
func markdownFileName(path string, raw []byte) string {
	sum := sha1.Sum(raw)
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return stem + "-" + hex.EncodeToString(sum[:])[:10] + ".md"
}

func (c *MarkdownConverter) writeMarkdown(path string, raw []byte, md string) error {
	if err := os.MkdirAll(c.markdownDir, 0o755); err != nil {
		return apperrors.NewConversionError(path, err)
	}
	target := filepath.Join(c.markdownDir, markdownFileName(path, raw))
	if err := os.WriteFile(target, []byte(md), 0o644); err != nil {
		return apperrors.NewConversionError(path, err)
	}
	logger.Debug("Markdown saved", zap.String("path", target))
	return nil
}

// SupportedFormats 支持的扩展名
func (c *MarkdownConverter) SupportedFormats() []string {
	return c.parsers.GetSupportedFormats()
}
