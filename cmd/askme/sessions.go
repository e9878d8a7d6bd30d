package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/askme/internal/session"
)

func newSessionsCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := resolveConfig(flags)
			if err != nil {
				return err
			}
			adapter, err := openAdapter(cmd.Context(), cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer adapter.Close()

			sessions, err := adapter.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read sessions: %w", err)
			}
			metas := session.State{Sessions: sessions}.Metas()

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(metas)
			}
			if len(metas) == 0 {
				fmt.Fprintln(out, "no conversations stored")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tID\tMESSAGES\tTITLE")
			for i, m := range metas {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", i+1, m.ID, m.Messages, m.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
