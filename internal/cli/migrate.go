package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Argus/server/internal/db"
)

// NewMigrateCommand applies pending schema migrations and lists what is
// applied.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := db.Open(ctx, db.Config{Path: opts.Config.DBPath, Env: opts.Config.Env})
			if err != nil {
				return err
			}
			defer conn.Close()

			versions, err := db.Applied(ctx, conn)
			if err != nil {
				return err
			}
			opts.Logger.Info("migrations applied", "db", opts.Config.DBPath, "versions", versions)
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d (%d migrations)\n", latest(versions), len(versions))
			return nil
		},
	}
}

func latest(versions []int) int {
	max := 0
	for _, v := range versions {
		if v > max {
			max = v
		}
	}
	return max
}
