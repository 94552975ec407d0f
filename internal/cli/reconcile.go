package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

func newReconcileCommand(opts *RootOptions) *cobra.Command {
	var (
		org    string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Create or re-activate the org's webhook subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := opts.Config.Sync.FindOrg(org); !ok {
				return fmt.Errorf("org %q is not configured", org)
			}
			if opts.Config.Sync.CallbackBaseURL == "" {
				return fmt.Errorf("sync.callback_base_url is required")
			}
			ctx := cmd.Context()
			eng, err := opts.openEngine(ctx, dryRun)
			if err != nil {
				return err
			}
			defer eng.close()

			if dryRun {
				statuses, err := eng.reconciler.Statuses(ctx, org)
				if err != nil {
					return err
				}
				return opts.render(cmd.OutOrStdout(), statuses, func(w io.Writer) {
					names := make([]string, 0, len(statuses))
					for n := range statuses {
						names = append(names, n)
					}
					sort.Strings(names)
					for _, n := range names {
						fmt.Fprintf(w, "%-8s %s\n", statuses[n], n)
					}
				})
			}

			rep, err := eng.reconciler.Reconcile(ctx, org)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), rep, func(w io.Writer) {
				fmt.Fprintf(w, "org %s: %d created, %d activated, %d unchanged\n",
					org, len(rep.Created), len(rep.Activated), len(rep.Unchanged))
			})
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "org id (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report subscription status without changing anything")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
