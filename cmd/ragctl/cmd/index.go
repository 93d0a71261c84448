package cmd

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aihub/docqa/internal/knowledge"
)

func newIndexCmd(invoke Invoker, out func(*cobra.Command) printer) *cobra.Command {
	var section string

	cmd := &cobra.Command{
		Use:   "index <file>",
		Short: "Index a single file",
		Long: `Convert, chunk, embed and store a single file. Re-indexing the same
content for the same owner replaces the previous chunks.

Examples:
  ragctl index handbook.pdf --section hr
  ragctl index notes.md --owner 42`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			owner := ownerFlag(c)
			return invoke(func(pipeline *knowledge.IndexingPipeline) error {
				result, err := pipeline.IndexFile(c.Context(), args[0], section, owner)
				if err != nil {
					return err
				}
				return out(c).emit(result, func(w io.Writer) {
					fmt.Fprintf(w, "indexed %s: doc_id=%d chunks=%d section=%s owner=%s\n",
						result.SourcePath, result.DocID, len(result.ChunkIDs), result.Section, formatOwner(result.OwnerID))
				})
			})
		},
	}

	cmd.Flags().StringVarP(&section, "section", "s", knowledge.DefaultSection, "Section label stored with every chunk")
	cmd.Flags().Int64("owner", 0, "Owner id; omit for unowned documents")
	return cmd
}

type folderOptions struct {
	section   string
	recursive bool
	watch     bool
	debounce  time.Duration
}

func newIndexFolderCmd(invoke Invoker, out func(*cobra.Command) printer) *cobra.Command {
	var opts folderOptions

	cmd := &cobra.Command{
		Use:   "index-folder <dir>",
		Short: "Index every file in a folder",
		Long: `Index the files of a folder in order. A failing file is reported and
does not stop the batch. With --watch, keep running and re-index files as
they change; removed files are deleted from the store.

Examples:
  ragctl index-folder ./docs --recursive
  ragctl index-folder ./inbox --watch --owner 42`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			owner := ownerFlag(c)
			return invoke(func(pipeline *knowledge.IndexingPipeline) error {
				return runIndexFolder(c, pipeline, args[0], owner, opts, out(c))
			})
		},
	}

	cmd.Flags().StringVarP(&opts.section, "section", "s", knowledge.DefaultSection, "Section label stored with every chunk")
	cmd.Flags().Int64("owner", 0, "Owner id; omit for unowned documents")
	cmd.Flags().BoolVarP(&opts.recursive, "recursive", "r", false, "Descend into subfolders")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Keep watching the folder after the initial pass")
	cmd.Flags().DurationVar(&opts.debounce, "debounce", knowledge.DefaultDebounce, "Quiet period before a changed file is re-indexed")
	return cmd
}

func runIndexFolder(c *cobra.Command, pipeline *knowledge.IndexingPipeline, folder string, owner *int64, opts folderOptions, p printer) error {
	report, err := pipeline.IndexFolder(c.Context(), folder, opts.section, opts.recursive, owner)
	if err != nil {
		return err
	}

	err = p.emit(batchSummary(report), func(w io.Writer) {
		for _, item := range report.Items {
			if item.Err != nil {
				fmt.Fprintf(w, "FAIL %s: %v\n", item.Path, item.Err)
				continue
			}
			fmt.Fprintf(w, "ok   %s: doc_id=%d chunks=%d\n", item.Path, item.Result.DocID, len(item.Result.ChunkIDs))
		}
		fmt.Fprintf(w, "%d indexed, %d failed\n", len(report.Succeeded()), len(report.Failed()))
	})
	if err != nil || !opts.watch {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := knowledge.NewFolderWatcher(pipeline, opts.section, opts.recursive, owner)
	watcher.SetDebounce(opts.debounce)
	fmt.Fprintf(c.ErrOrStderr(), "watching %s (Ctrl+C to stop)\n", folder)

	return watcher.Watch(ctx, folder)
}

// folderSummary JSON输出的批量结果
type folderSummary struct {
	Folder  string       `json:"folder"`
	Indexed []fileResult `json:"indexed"`
	Failed  []fileResult `json:"failed"`
}

type fileResult struct {
	Path   string `json:"path"`
	DocID  int64  `json:"doc_id,omitempty"`
	Chunks int    `json:"chunks,omitempty"`
	Error  string `json:"error,omitempty"`
}

func batchSummary(report *knowledge.BatchReport) folderSummary {
	summary := folderSummary{Folder: report.Folder, Indexed: []fileResult{}, Failed: []fileResult{}}
	for _, item := range report.Items {
		if item.Err != nil {
			summary.Failed = append(summary.Failed, fileResult{Path: item.Path, Error: item.Err.Error()})
			continue
		}
		summary.Indexed = append(summary.Indexed, fileResult{
			Path:   item.Path,
			DocID:  item.Result.DocID,
			Chunks: len(item.Result.ChunkIDs),
		})
	}
	return summary
}
