package main

import (
	"fmt"
	"time"

	"github.com/forgo/somi/api/internal/model"
	"github.com/forgo/somi/api/internal/service"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func plansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "Print the plan catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), model.Catalog())
		},
	}
}

func simulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Preview the return of a plan",
		Example: `  somictl simulate --plan 1y --principal 1000
  somictl simulate --plan custom --custom-days 45 --principal 250 --audience pod`,
		RunE: func(cmd *cobra.Command, args []string) error {
			audience, _ := cmd.Flags().GetString("audience")
			planLabel, _ := cmd.Flags().GetString("plan")
			customDays, _ := cmd.Flags().GetInt("custom-days")
			rawPrincipal, _ := cmd.Flags().GetString("principal")

			kind, err := model.ParsePlanKind(planLabel)
			if err != nil {
				return err
			}
			principal, err := decimal.NewFromString(rawPrincipal)
			if err != nil {
				return fmt.Errorf("invalid principal %q: %w", rawPrincipal, err)
			}

			sim, err := service.DefaultCalculator().Simulate(model.Audience(audience), kind, customDays, principal)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sim)
		},
	}
	cmd.Flags().String("audience", string(model.AudienceSolo), "solo or pod")
	cmd.Flags().String("plan", "flex", "plan label: flex, custom, 6m, 1y, 2y")
	cmd.Flags().Int("custom-days", 0, "lock length for the custom plan (1-150)")
	cmd.Flags().String("principal", "", "amount to lock")
	_ = cmd.MarkFlagRequired("principal")
	return cmd
}

func interestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interest",
		Short: "Compute accrued interest for a principal, rate and time span",
		Example: `  somictl interest --principal 500 --apr-bps 1200 --start 2026-01-01T00:00:00Z --as-of 2026-04-01T00:00:00Z
  somictl interest --principal 500 --apr-bps 1200 --start 2026-01-01T00:00:00Z --term-days 180`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rawPrincipal, _ := cmd.Flags().GetString("principal")
			aprBps, _ := cmd.Flags().GetInt64("apr-bps")
			rawStart, _ := cmd.Flags().GetString("start")
			rawAsOf, _ := cmd.Flags().GetString("as-of")
			termDays, _ := cmd.Flags().GetInt("term-days")

			principal, err := decimal.NewFromString(rawPrincipal)
			if err != nil {
				return fmt.Errorf("invalid principal %q: %w", rawPrincipal, err)
			}
			start, err := time.Parse(time.RFC3339, rawStart)
			if err != nil {
				return fmt.Errorf("invalid start: %w", err)
			}
			asOf := time.Now().UTC()
			if rawAsOf != "" {
				if asOf, err = time.Parse(time.RFC3339, rawAsOf); err != nil {
					return fmt.Errorf("invalid as-of: %w", err)
				}
			}

			calc := service.DefaultCalculator()
			preview, err := calc.Preview(principal, aprBps, start, asOf)
			if err != nil {
				return err
			}
			term := int64(termDays) * model.SecondsPerDay
			claimable, err := calc.Claimable(principal, aprBps, start, term, asOf)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), map[string]any{
				"principal": principal,
				"apr_bps":   aprBps,
				"start":     start,
				"as_of":     asOf,
				"accrued":   preview,
				"claimable": claimable,
			})
		},
	}
	cmd.Flags().String("principal", "", "principal amount")
	cmd.Flags().Int64("apr-bps", 0, "annual rate in basis points")
	cmd.Flags().String("start", "", "accrual start, RFC 3339")
	cmd.Flags().String("as-of", "", "evaluation instant, RFC 3339 (defaults to now)")
	cmd.Flags().Int("term-days", 0, "fixed term in days; 0 accrues continuously")
	_ = cmd.MarkFlagRequired("principal")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}
