package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aihub/docqa/internal/knowledge"
)

func newConvertCmd(out func(*cobra.Command) printer) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a file to the markdown the indexer sees",
		Long: `Run the same PDF/DOCX/XLSX/CSV/text conversion used by the indexing
pipeline and print the markdown, or write it to --output.

Examples:
  ragctl convert handbook.pdf
  ragctl convert report.docx -o report.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			conv, err := knowledge.NewMarkdownConverter().Convert(c.Context(), args[0])
			if err != nil {
				return err
			}

			if output != "" {
				if err := os.WriteFile(output, []byte(conv.Markdown), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(c.ErrOrStderr(), "converted %s -> %s (doc_id=%d)\n", args[0], output, conv.DocID)
				return nil
			}

			return out(c).emit(map[string]interface{}{"doc_id": conv.DocID, "markdown": conv.Markdown}, func(w io.Writer) {
				fmt.Fprint(w, conv.Markdown)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write markdown to this file instead of stdout")
	return cmd
}

type chunkOptions struct {
	maxTokens int
	overlap   int
	encoding  string
}

func newChunkCmd(out func(*cobra.Command) printer) *cobra.Command {
	var opts chunkOptions

	cmd := &cobra.Command{
		Use:   "chunk <file>",
		Short: "Show how a file would be split into chunks",
		Long: `Convert a file and split it with the token chunker, printing each chunk
with its token count. Useful for tuning --max-tokens and --overlap.

Examples:
  ragctl chunk handbook.pdf --max-tokens 250 --overlap 50`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			tok, err := knowledge.NewTiktokenTokenizer(opts.encoding)
			if err != nil {
				return err
			}
			chunker, err := knowledge.NewChunker(tok, opts.maxTokens, opts.overlap)
			if err != nil {
				return err
			}

			conv, err := knowledge.NewMarkdownConverter().Convert(c.Context(), args[0])
			if err != nil {
				return err
			}
			chunks := chunker.Chunk(conv.Markdown)

			return out(c).emit(map[string]interface{}{"doc_id": conv.DocID, "chunks": chunks}, func(w io.Writer) {
				for i, chunk := range chunks {
					fmt.Fprintf(w, "--- chunk %d (%d tokens) ---\n%s\n", i, tok.Count(chunk), chunk)
				}
				fmt.Fprintf(w, "%d chunks\n", len(chunks))
			})
		},
	}

	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", 250, "Maximum tokens per chunk")
	cmd.Flags().IntVar(&opts.overlap, "overlap", 50, "Tokens shared by consecutive chunks")
	cmd.Flags().StringVar(&opts.encoding, "encoding", "cl100k_base", "Tiktoken encoding")
	return cmd
}
