package main

import (
	"fmt"
	"time"

	"github.com/forgo/somi/api/internal/config"
	"github.com/forgo/somi/api/pkg/jwt"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with JWT_SECRET",
		Example: `  somictl token --account indexer --role operator
  somictl token --account alice --exp 60 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			account, _ := cmd.Flags().GetString("account")
			role, _ := cmd.Flags().GetString("role")
			expMins, _ := cmd.Flags().GetInt("exp")
			outputJSON, _ := cmd.Flags().GetBool("json")

			if role != jwt.RoleAccount && role != jwt.RoleOperator {
				return fmt.Errorf("role must be %q or %q", jwt.RoleAccount, jwt.RoleOperator)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			svc, err := jwt.NewService(jwt.Config{
				Secret:         cfg.JWT.Secret,
				Issuer:         cfg.JWT.Issuer,
				ExpirationMins: expMins,
			})
			if err != nil {
				return fmt.Errorf("%w (set JWT_SECRET)", err)
			}

			token, err := svc.Sign(account, role)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				return printJSON(out, map[string]any{
					"access_token": token,
					"token_type":   "Bearer",
					"expires_in":   expMins * 60,
					"account":      account,
					"role":         role,
				})
			}

			expTime := time.Now().Add(svc.GetExpiration())
			fmt.Fprintln(out, "Token Generated")
			fmt.Fprintln(out, "===============")
			fmt.Fprintf(out, "Account:  %s\n", account)
			fmt.Fprintf(out, "Role:     %s\n", role)
			fmt.Fprintf(out, "Expires:  %s\n", expTime.Format(time.RFC3339))
			fmt.Fprintln(out)
			fmt.Fprintln(out, token)
			return nil
		},
	}
	cmd.Flags().String("account", "", "account the token acts for")
	cmd.Flags().String("role", jwt.RoleAccount, "account or operator")
	cmd.Flags().Int("exp", 60*24*7, "expiration in minutes (default: 7 days)")
	cmd.Flags().Bool("json", false, "output as JSON")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
