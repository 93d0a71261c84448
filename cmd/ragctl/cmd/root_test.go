package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/dig"

	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/knowledge"
)

type constantEmbedder struct{}

func (constantEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0, 1, 0}
	}
	return out, nil
}

func (constantEmbedder) Dimensions() int { return 3 }

type cannedLLM struct{}

func (cannedLLM) Complete(context.Context, string, string) (string, error) {
	return "It is 28 days.", nil
}

// testInvoker 以内存向量库组装与服务端相同的依赖
func testInvoker(t *testing.T) Invoker {
	t.Helper()

	tok, err := knowledge.NewTiktokenTokenizer("cl100k_base")
	require.NoError(t, err)
	chunker, err := knowledge.NewChunker(tok, 250, 20)
	require.NoError(t, err)
	store := knowledge.NewMemoryVectorStore(3)
	require.NoError(t, store.Open(context.Background()))

	c := dig.New()
	require.NoError(t, c.Provide(func() knowledge.VectorStore { return store }))
	require.NoError(t, c.Provide(func(s knowledge.VectorStore) *knowledge.IndexingPipeline {
		return knowledge.NewIndexingPipeline(knowledge.NewMarkdownConverter(), chunker, constantEmbedder{}, s)
	}))
	require.NoError(t, c.Provide(func(s knowledge.VectorStore) *knowledge.RetrievalService {
		return knowledge.NewRetrievalService(constantEmbedder{}, s, cannedLLM{})
	}))
	return func(fn interface{}) error { return c.Invoke(fn) }
}

func run(t *testing.T, invoke Invoker, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(invoke)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()
	names := make([]string, 0)
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"index", "index-folder", "query", "delete", "clear", "convert", "chunk", "migrate"})
}

func TestIndexAndQuery(t *testing.T) {
	invoke := testInvoker(t)
	path := writeFile(t, t.TempDir(), "handbook.md", "vacation is 28 days")

	out, err := run(t, invoke, "index", path, "--section", "hr", "--owner", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "chunks=1 section=hr owner=7")

	out, err = run(t, invoke, "query", "how", "long", "is", "vacation?", "--owner", "7")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "It is 28 days.\n"))
	assert.Contains(t, out, "handbook.md#0")

	out, err = run(t, invoke, "query", "vacation", "--owner", "8", "--search-only")
	require.NoError(t, err)
	assert.Equal(t, "no hits\n", out)
}

func TestIndexFolder_JSON(t *testing.T) {
	invoke := testInvoker(t)
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	writeFile(t, dir, "nested/b.txt", "beta")
	writeFile(t, dir, "c.bin", "binary")

	out, err := run(t, invoke, "index-folder", dir, "--json")
	require.NoError(t, err)

	var summary folderSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Len(t, summary.Indexed, 1, "non-recursive pass only sees a.txt")
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, filepath.Join(dir, "c.bin"), summary.Failed[0].Path)

	out, err = run(t, invoke, "index-folder", dir, "--recursive")
	require.NoError(t, err)
	assert.Contains(t, out, "2 indexed, 1 failed")
}

func TestDelete(t *testing.T) {
	invoke := testInvoker(t)
	path := writeFile(t, t.TempDir(), "a.txt", "alpha")

	_, err := run(t, invoke, "delete")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))

	_, err = run(t, invoke, "index", path)
	require.NoError(t, err)

	out, err := run(t, invoke, "delete", "--source-path", path, "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"deleted_chunks": 1}`, out)

	out, err = run(t, invoke, "delete", "--source-path", path)
	require.NoError(t, err)
	assert.Equal(t, "deleted 0 chunks\n", out)
}

func TestClear(t *testing.T) {
	invoke := testInvoker(t)
	path := writeFile(t, t.TempDir(), "a.txt", "alpha")
	_, err := run(t, invoke, "index", path)
	require.NoError(t, err)

	_, err = run(t, invoke, "clear")
	require.Error(t, err)

	out, err := run(t, invoke, "clear", "--yes")
	require.NoError(t, err)
	assert.Equal(t, "vector store cleared\n", out)

	out, err = run(t, invoke, "query", "alpha", "--search-only")
	require.NoError(t, err)
	assert.Equal(t, "no hits\n", out)
}

func TestConvertAndChunk(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", "line one\r\nline two\r\n\r\n")

	out, err := run(t, nil, "convert", path)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", out)

	target := filepath.Join(dir, "notes.md")
	_, err = run(t, nil, "convert", path, "-o", target)
	require.NoError(t, err)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(data))

	out, err = run(t, nil, "chunk", path, "--json")
	require.NoError(t, err)
	var result struct {
		Chunks []string `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, []string{"line one\nline two"}, result.Chunks)

	_, err = run(t, nil, "chunk", path, "--max-tokens", "10", "--overlap", "10")
	require.Error(t, err)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n b\t\tc", 10))
	assert.Equal(t, "abcde...", preview("abcdefgh", 5))
}
