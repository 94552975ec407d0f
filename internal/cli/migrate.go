package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"flockbridge.io/flockbridge/internal/infrastructure"
)

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the entity schema and queue tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := infrastructure.NewDatabaseClients(ctx, opts.Config.Database)
			if err != nil {
				return fmt.Errorf("init database: %w", err)
			}
			defer db.Close()
			if err := db.AutoMigrate(ctx); err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), map[string]string{"status": "migrated"}, func(w io.Writer) {
				fmt.Fprintln(w, "schema up to date")
			})
		},
	}
}
