package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/identity"
)

// TokenCmd issues an API token signed with the configured secret.
func TokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			subject, _ := cmd.Flags().GetString("subject")
			roleName, _ := cmd.Flags().GetString("role")
			role := domain.Role(roleName)
			if subject == "" {
				return errors.New("--subject is required")
			}
			if !role.IsValid() {
				return fmt.Errorf("%w: %q", identity.ErrInvalidRole, role)
			}

			auth, err := identity.NewAuthenticator(identity.Config{
				SecretKey: cfg.Auth.SecretKey,
				TokenTTL:  cfg.Auth.TokenTTL,
				Issuer:    cfg.Auth.Issuer,
			})
			if err != nil {
				return fmt.Errorf("create authenticator: %w", err)
			}

			token, err := auth.IssueToken(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("subject", "", "token subject, e.g. an operator name")
	cmd.Flags().String("role", string(domain.RoleOperator), "role: viewer, operator or admin")
	return cmd
}
