package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aihub/docqa/internal/knowledge"
)

type queryOptions struct {
	topK       int
	docID      int64
	sourcePath string
	searchOnly bool
}

func newQueryCmd(invoke Invoker, out func(*cobra.Command) printer) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question from the indexed documents",
		Long: `Retrieve the chunks closest to the question and ask the language model
to answer from them. With --search-only, print the hits without calling
the model.

Examples:
  ragctl query "how long is the vacation?"
  ragctl query "sick leave" --owner 42 --top-k 3 --search-only`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			filter := knowledge.SearchFilter{OwnerID: ownerFlag(c)}
			if c.Flags().Changed("doc-id") {
				filter.DocID = knowledge.Int64Ptr(opts.docID)
			}
			if opts.sourcePath != "" {
				filter.SourcePath = knowledge.StringPtr(opts.sourcePath)
			}

			return invoke(func(retrieval *knowledge.RetrievalService) error {
				if opts.searchOnly {
					hits, err := retrieval.Search(c.Context(), question, opts.topK, filter)
					if err != nil {
						return err
					}
					return out(c).emit(map[string]interface{}{"hits": hits}, func(w io.Writer) {
						printHits(w, hits)
					})
				}

				answer, err := retrieval.Answer(c.Context(), question, opts.topK, filter)
				if err != nil {
					return err
				}
				return out(c).emit(answer, func(w io.Writer) {
					fmt.Fprintln(w, answer.Text)
					if len(answer.Hits) > 0 {
						fmt.Fprintln(w)
						printHits(w, answer.Hits)
					}
				})
			})
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", knowledge.DefaultTopK, "Number of chunks to retrieve")
	cmd.Flags().Int64("owner", 0, "Only search documents of this owner")
	cmd.Flags().Int64Var(&opts.docID, "doc-id", 0, "Only search this document")
	cmd.Flags().StringVar(&opts.sourcePath, "source-path", "", "Only search chunks from this source path")
	cmd.Flags().BoolVar(&opts.searchOnly, "search-only", false, "Print hits without generating an answer")
	return cmd
}

func printHits(w io.Writer, hits []knowledge.Hit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "no hits")
		return
	}
	for i, hit := range hits {
		source := "unknown"
		if hit.SourcePath != nil {
			source = *hit.SourcePath
		}
		chunk := "?"
		if hit.ChunkID != nil {
			chunk = fmt.Sprintf("%d", *hit.ChunkID)
		}
		fmt.Fprintf(w, "[%d] %.4f %s#%s\n", i+1, hit.Score, source, chunk)
		if hit.Content != nil {
			fmt.Fprintf(w, "    %s\n", preview(*hit.Content, 160))
		}
	}
}

// preview 截断为单行摘要
func preview(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
