package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Argus/server/internal/db"
)

// NewSeedDevCommand inserts a dev assessment and an open session.
func NewSeedDevCommand(opts *RootOptions) *cobra.Command {
	var seed db.SeedDevOptions

	cmd := &cobra.Command{
		Use:   "seed-dev",
		Short: "Seed a development assessment, session and supervisors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Config.Env != "dev" {
				return errors.New("seed-dev refuses to run outside ARGUS_ENV=dev")
			}
			if len(seed.Supervisors) == 0 {
				seed.Supervisors = opts.Config.SeedSupervisors
			}

			ctx := cmd.Context()
			conn, err := db.Open(ctx, db.Config{Path: opts.Config.DBPath, Env: opts.Config.Env})
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := db.SeedDev(ctx, conn, seed); err != nil {
				return err
			}
			opts.Logger.Info("dev data seeded", "db", opts.Config.DBPath)
			fmt.Fprintln(cmd.OutOrStdout(), "seeded")
			return nil
		},
	}

	cmd.Flags().StringVar(&seed.AssessmentID, "assessment", "", "assessment id (default assess-dev)")
	cmd.Flags().StringVar(&seed.SessionID, "session", "", "session id (default session-dev)")
	cmd.Flags().StringVar(&seed.StudentID, "student", "", "student id (default student-dev)")
	cmd.Flags().StringSliceVar(&seed.Supervisors, "supervisor", nil, "supervisor ids (default $ARGUS_SEED_SUPERVISORS or teacher-dev)")

	return cmd
}
