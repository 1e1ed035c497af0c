package commands

import (
	"github.com/spf13/cobra"
)

func newRevisionsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "revisions",
		Aliases: []string{"revision"},
		Short:   "Review journal revisions in closed periods",
	}

	cmd.AddCommand(
		newRevisionsPendingCommand(g),
		newRevisionDecisionCommand(g, "approve", "Approve and apply a pending revision", "ApproveRevision"),
		newRevisionDecisionCommand(g, "reject", "Reject a pending revision", "RejectRevision"),
	)
	return cmd
}

func newRevisionsPendingCommand(g *globals) *cobra.Command {
	var periodID string

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List revisions awaiting a decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(cmd, "ListPendingRevisions", map[string]interface{}{"period_id": periodID})
		},
	}

	cmd.Flags().StringVar(&periodID, "period", "", "only revisions in this period")
	return cmd
}

func newRevisionDecisionCommand(g *globals, use, short, method string) *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   use + " <revision-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(cmd, method, withNotes(map[string]interface{}{"id": args[0]}, notes))
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "reviewer notes")
	return cmd
}
