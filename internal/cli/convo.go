package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pablof7z/tenex-sub009/internal/store"
)

func newConvoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convo",
		Short: "Inspect stored conversations",
	}
	cmd.AddCommand(newConvoListCmd())
	cmd.AddCommand(newConvoShowCmd())
	return cmd
}

func newConvoListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(homeFrom(cmd.Context()))
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			sums, err := st.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range sums {
				fmt.Printf("%-36s  %-10s  %3d events  %s\n", s.ID, s.Phase, s.EventCount, s.Title)
			}
			return nil
		},
	}
}

func newConvoShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one conversation as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(homeFrom(cmd.Context()))
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			c, err := st.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if c == nil {
				return fmt.Errorf("%w: %s", store.ErrNotFound, args[0])
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(c)
		},
	}
}
