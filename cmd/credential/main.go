package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/approval-core/internal/auth"
	"github.com/spec-kit/approval-core/internal/config"
	"github.com/spec-kit/approval-core/internal/domain"
)

func main() {
	if err := rootCmd(os.Stdout, config.Load).Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd(out io.Writer, load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "credential",
		Short:        "Manage API session credentials",
		SilenceUsage: true,
	}
	cmd.AddCommand(issueCmd(out, load))
	return cmd
}

func issueCmd(out io.Writer, load func() (*config.Config, error)) *cobra.Command {
	var (
		role       string
		ttlMinutes int
	)
	cmd := &cobra.Command{
		Use:     "issue USER_ID",
		Short:   "Sign a bearer credential for a directory user",
		Example: "  credential issue 6f1c... --role supervisor --ttl 1440",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if ttlMinutes <= 0 {
				ttlMinutes = cfg.Auth.AccessTokenTTLMinutes
			}
			switch domain.Role(role) {
			case domain.RoleAdmin, domain.RoleSupervisor, domain.RoleEngineer, domain.RolePurchasing,
				domain.RoleFinance, domain.RoleEmployee, domain.RoleClient:
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, ttlMinutes)
			token, expiresAt, err := tokens.GenerateToken(args[0], domain.Role(role))
			if err != nil {
				return fmt.Errorf("signing credential: %w", err)
			}
			fmt.Fprintf(out, "%s\nexpires %s\n", token, expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", string(domain.RoleEmployee), "Role recorded in the credential")
	cmd.Flags().IntVar(&ttlMinutes, "ttl", 0, "Lifetime in minutes (defaults to AUTH_ACCESS_TOKEN_TTL_MINUTES)")
	return cmd
}
