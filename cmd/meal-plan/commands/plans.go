package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"meal-plan-service/internal/mealplan"
)

func generateCmd() *cobra.Command {
	var (
		tags      []string
		mealCount int
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate and store a new meal plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			plan, err := rt.svc.GeneratePlan(cmd.Context(), mealplan.GenerateRequest{
				MealTags:  tags,
				MealCount: mealCount,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), plan)
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "comma separated meal tags (e.g. vegan,quick)")
	cmd.Flags().IntVar(&mealCount, "meals", 0, "number of meals (default from DEFAULT_MEAL_COUNT)")
	_ = cmd.MarkFlagRequired("tags")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print a stored meal plan as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			plan, err := rt.svc.GetPlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), plan)
		},
	}
}

func listCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the newest meal plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			plans, err := rt.svc.ListPlans(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMEALS\tTAGS\tCREATED")
			for _, p := range plans {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					p.ID, p.Name, len(p.Meals), strings.Join(p.MealTags, ","), p.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of plans (default 20, max 100)")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a stored meal plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			plan, err := rt.svc.DeletePlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%s)\n", plan.ID, plan.Name)
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
