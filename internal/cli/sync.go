package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"flockbridge.io/flockbridge/internal/syncer"
)

type syncOptions struct {
	org    string
	types  []string
	dryRun bool
}

func newSyncCommand(opts *RootOptions) *cobra.Command {
	so := &syncOptions{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a pull sync of one org in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := opts.Config.Sync.FindOrg(so.org); !ok {
				return fmt.Errorf("org %q is not configured", so.org)
			}
			ctx := cmd.Context()
			eng, err := opts.openEngine(ctx, so.dryRun)
			if err != nil {
				return err
			}
			defer eng.close()

			var total syncer.SyncResult
			if len(so.types) == 0 {
				total, err = eng.syncer.SyncAll(ctx, so.org)
			} else if _, err = eng.syncer.Recover(ctx, so.org); err == nil {
				for _, t := range so.types {
					var res syncer.SyncResult
					res, err = eng.syncer.SyncEntityType(ctx, so.org, t)
					total.Add(res)
					if err != nil {
						break
					}
				}
			}
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), total, func(w io.Writer) {
				fmt.Fprintf(w, "org %s: %d pages, %d entities, %d changed, %d skipped, %d edges\n",
					so.org, total.Pages, total.Entities, total.Changed, total.Skipped, total.Edges)
			})
		},
	}
	cmd.Flags().StringVar(&so.org, "org", "", "org id (required)")
	cmd.Flags().StringSliceVar(&so.types, "type", nil, "entity types to sync (default all)")
	cmd.Flags().BoolVar(&so.dryRun, "dry-run", false, "fetch and transform without writing to the database")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
