package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"flockbridge.io/flockbridge/internal/api/middleware"
	"flockbridge.io/flockbridge/internal/app/modules"
)

func newTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := modules.JWTConfig(opts.Config)
			if ttl > 0 {
				cfg.ExpiresIn = ttl
			}
			token, exp, err := middleware.GenerateToken(cfg, subject, scopes)
			if err != nil {
				return err
			}
			out := map[string]any{"token": token, "expires_at": exp.UTC().Format(time.RFC3339)}
			return opts.render(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintln(w, token)
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{middleware.ScopeSync}, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt_expires_in)")
	return cmd
}
