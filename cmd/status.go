package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored-publication count and pending resume cursor",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		count, err := st.CountPublications(ctx)
		if err != nil {
			return eris.Wrap(err, "count publications")
		}
		cursor, err := st.LoadCursor(ctx, "portal")
		if err != nil {
			return eris.Wrap(err, "load cursor")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"driver":         cfg.Store.Driver,
			"publications":   count,
			"pending_cursor": cursor,
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
