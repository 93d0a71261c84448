package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/knowledge"
)

func newDeleteCmd(invoke Invoker, out func(*cobra.Command) printer) *cobra.Command {
	var (
		docID      int64
		sourcePath string
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the chunks of a document",
		Long: `Delete chunks by --doc-id or --source-path. --doc-id wins when both are
given. --owner restricts the deletion to one owner's copy.

Examples:
  ragctl delete --doc-id 4242
  ragctl delete --source-path /docs/handbook.pdf --owner 42`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			filter := knowledge.DeleteFilter{OwnerID: ownerFlag(c)}
			if c.Flags().Changed("doc-id") {
				filter.DocID = knowledge.Int64Ptr(docID)
			}
			if sourcePath != "" {
				filter.SourcePath = knowledge.StringPtr(sourcePath)
			}
			if !filter.HasIdentifier() {
				return apperrors.NewValidationError("--doc-id or --source-path is required")
			}

			return invoke(func(pipeline *knowledge.IndexingPipeline) error {
				deleted, err := pipeline.RemoveDocument(c.Context(), filter)
				if err != nil {
					return err
				}
				return out(c).emit(map[string]int64{"deleted_chunks": deleted}, func(w io.Writer) {
					fmt.Fprintf(w, "deleted %d chunks\n", deleted)
				})
			})
		},
	}

	cmd.Flags().Int64Var(&docID, "doc-id", 0, "Document id")
	cmd.Flags().StringVar(&sourcePath, "source-path", "", "Source path the document was indexed from")
	cmd.Flags().Int64("owner", 0, "Only delete this owner's copy")
	return cmd
}

func newClearCmd(invoke Invoker, out func(*cobra.Command) printer) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every chunk from the vector store",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if !yes {
				return apperrors.NewValidationError("refusing to clear the store without --yes")
			}
			return invoke(func(store knowledge.VectorStore) error {
				if err := store.Clear(c.Context()); err != nil {
					return err
				}
				return out(c).emit(map[string]bool{"cleared": true}, func(w io.Writer) {
					fmt.Fprintln(w, "vector store cleared")
				})
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm clearing the store")
	return cmd
}
