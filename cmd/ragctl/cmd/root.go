// Package cmd provides the ragctl commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/aihub/docqa/app/bootstrap"
)

// Invoker 在依赖容器中执行fn，签名与dig.Container.Invoke一致
type Invoker func(fn interface{}) error

// bootstrapInvoker 每条命令启动一次完整容器，执行完毕后释放
func bootstrapInvoker(fn interface{}) error {
	app, err := bootstrap.Init(bootstrap.Options{})
	if err != nil {
		return err
	}
	defer app.Shutdown()
	return app.Container.Invoke(fn)
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// NewRootCmd creates the root command for the ragctl CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(bootstrapInvoker)
}

func newRootCmd(invoke Invoker) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ragctl",
		Short: "Index documents and query the knowledge base",
		Long: `ragctl drives the same indexing pipeline and retrieval service as the
HTTP server, using DOCQA_* variables and the optional CONFIG_FILE.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	out := func(c *cobra.Command) printer {
		return printer{w: c.OutOrStdout(), json: asJSON}
	}

	cmd.AddCommand(
		newIndexCmd(invoke, out),
		newIndexFolderCmd(invoke, out),
		newQueryCmd(invoke, out),
		newDeleteCmd(invoke, out),
		newClearCmd(invoke, out),
		newConvertCmd(out),
		newChunkCmd(out),
		newMigrateCmd(),
	)
	return cmd
}

// printer 文本或JSON输出
type printer struct {
	w    io.Writer
	json bool
}

// emit JSON模式下输出v，否则调用text
func (p printer) emit(v interface{}, text func(w io.Writer)) error {
	if p.json {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(p.w)
	return nil
}

func ownerFlag(c *cobra.Command) *int64 {
	if !c.Flags().Changed("owner") {
		return nil
	}
	v, _ := c.Flags().GetInt64("owner")
	return &v
}

func formatOwner(owner *int64) string {
	if owner == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *owner)
}
