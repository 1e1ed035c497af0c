package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPeriodCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "period",
		Aliases: []string{"periods"},
		Short:   "Provision and transition closing periods",
	}

	cmd.AddCommand(
		newPeriodProvisionCommand(g),
		newPeriodGetCommand(g),
		newPeriodTransitionCommand(g, "soft-close", "Soft-close a period", "SoftClosePeriod"),
		newPeriodTransitionCommand(g, "hard-close", "Hard-close a soft-closed period", "HardClosePeriod"),
		newPeriodReopenCommand(g),
		newPeriodGuardCommand(g),
	)
	return cmd
}

func newPeriodProvisionCommand(g *globals) *cobra.Command {
	var date, templateID string

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the period containing a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkDate(date); err != nil {
				return err
			}
			in := map[string]interface{}{"date": date}
			if templateID != "" {
				in["template_id"] = templateID
			}
			return g.call(cmd, "ProvisionPeriod", in)
		},
	}

	cmd.Flags().StringVar(&date, "date", time.Now().Format("2006-01-02"), "any date inside the period (YYYY-MM-DD)")
	cmd.Flags().StringVar(&templateID, "template", "", "template id (default template when empty)")
	return cmd
}

func newPeriodGetCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get <period-id>",
		Short: "Show one period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(cmd, "GetPeriod", map[string]interface{}{"id": args[0]})
		},
	}
}

func newPeriodTransitionCommand(g *globals, use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <period-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(cmd, method, map[string]interface{}{"id": args[0]})
		},
	}
}

func newPeriodReopenCommand(g *globals) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reopen <period-id>",
		Short: "Reopen a closed period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(cmd, "ReopenPeriod", map[string]interface{}{"id": args[0], "reason": reason})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the period is reopened (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newPeriodGuardCommand(g *globals) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "guard",
		Short: "Show how a journal dated on a day may be changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkDate(date); err != nil {
				return err
			}
			return g.call(cmd, "GuardJournalMutation", map[string]interface{}{"date": date})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "journal date (YYYY-MM-DD, required)")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func checkDate(s string) error {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return nil
}
