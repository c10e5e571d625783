package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"meal-plan-service/internal/auth"
)

func usageCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show daily LLM token usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.svc.UsageReport(cmd.Context(), days)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Token usage, last %d day(s):\n", report.Days)
			if len(report.Daily) == 0 {
				fmt.Fprintln(out, "  no data yet")
			}
			for _, d := range report.Daily {
				fmt.Fprintf(out, "  %s  prompt=%d completion=%d executions=%d\n",
					d.Date, d.TotalPrompt, d.TotalCompletion, d.TotalExecution)
			}
			fmt.Fprintf(out, "Disk data: %s\n", report.System.DataDiskSize)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "number of days to report")
	return cmd
}

func metricsCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "metrics-cleanup",
		Short: "Delete execution metrics older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			rt, err := setup(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.metrics.Cleanup(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d metric row(s) older than %d day(s)\n", n, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "retention in days")
	return cmd
}

// tokenCmd issues API tokens. It only needs JWT settings, so it reads
// them directly instead of loading the full configuration.
func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer := os.Getenv("JWT_ISSUER")
			if issuer == "" {
				issuer = "meal-plan-service"
			}
			v, err := auth.NewVerifier(os.Getenv("JWT_SECRET"), issuer)
			if err != nil {
				return fmt.Errorf("JWT_SECRET environment variable not set")
			}
			token, err := v.Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, usually the client name")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
