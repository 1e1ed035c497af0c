package commands

import (
	"github.com/spf13/cobra"
)

func newApprovalsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Inspect and decide approvals",
	}

	cmd.AddCommand(
		newApprovalsPendingCommand(g),
		newApprovalsGetCommand(g),
		newApprovalsApproveCommand(g),
		newApprovalsRejectCommand(g),
		newApprovalsEscalateCommand(g),
	)
	return cmd
}

func newApprovalsPendingCommand(g *globals) *cobra.Command {
	var approvalType string
	var limit int

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List open approvals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := map[string]interface{}{"limit": limit}
			if approvalType != "" {
				in["approval_type"] = approvalType
			}
			return g.call(cmd, "ListPendingApprovals", in)
		},
	}

	cmd.Flags().StringVar(&approvalType, "type", "", "filter by approval type")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	return cmd
}

func newApprovalsGetCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get <approval-id>",
		Short: "Show one approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(cmd, "GetApproval", map[string]interface{}{"id": args[0]})
		},
	}
}

func newApprovalsApproveCommand(g *globals) *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "approve <approval-id>",
		Short: "Approve an open approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(cmd, "ApproveApproval", withNotes(map[string]interface{}{"id": args[0]}, notes))
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "approver notes")
	return cmd
}

func newApprovalsRejectCommand(g *globals) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <approval-id>",
		Short: "Reject an open approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(cmd, "RejectApproval", map[string]interface{}{"id": args[0], "reason": reason})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newApprovalsEscalateCommand(g *globals) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "escalate <approval-id>",
		Short: "Escalate an open approval to another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(cmd, "EscalateApproval", map[string]interface{}{"id": args[0], "escalate_to": to})
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "user id to escalate to (required)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
