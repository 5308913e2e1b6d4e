// Package cli implements the tenexd command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pablof7z/tenex-sub009/internal/config"
)

type homeKey struct{}

func withHome(ctx context.Context, home string) context.Context {
	return context.WithValue(ctx, homeKey{}, home)
}

func homeFrom(ctx context.Context) string {
	s, _ := ctx.Value(homeKey{}).(string)
	return s
}

// NewRootCmd builds the root command.
func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "tenexd",
		Short:        "tenexd — multi-agent conversation orchestration daemon",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(withHome(cmd.Context(), home))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override tenex home directory (default: ~/.tenex, env: TENEX_HOME)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConvoCmd())
	return cmd
}

// Run executes the CLI and returns a process exit code.
func Run(ctx context.Context, version string, args []string) int {
	cmd := NewRootCmd(version)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
