package main

import (
	"fmt"
	"time"

	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/store"
	"github.com/spf13/cobra"
)

// actionCmd builds a command that applies one store action to a
// conversation. build turns the remaining arguments into the action.
func actionCmd(use, short string, args cobra.PositionalArgs, build func(e *env, args []string) (store.Action, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			a, err := build(e, args[1:])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			conv, err := e.client.Act(ctx, args[0], a)
			if err != nil {
				return err
			}
			return printConversation(cmd, e, conv)
		},
	}
}

func fixed(kind store.ActionKind) func(*env, []string) (store.Action, error) {
	return func(*env, []string) (store.Action, error) { return store.Action{Kind: kind}, nil }
}

func printConversation(cmd *cobra.Command, e *env, c model.Conversation) error {
	if flagJSON {
		return writeJSON(cmd.OutOrStdout(), c)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  status=%s purpose=%s assignee=%s flags=%s\n",
		c.ID, contactLabel(c.Contact), orDash(string(c.Status)), orDash(string(c.Purpose)),
		orDash(c.AssigneeID), flags(c, e.cfg.Agent.ID))
	return nil
}

var readCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		return e.client.MarkRead(ctx, args[0])
	},
}

func init() {
	one := cobra.ExactArgs(1)
	two := cobra.ExactArgs(2)

	rootCmd.AddCommand(
		readCmd,
		actionCmd("star <conversation-id>", "Star a conversation", one, fixed(store.ActionStar)),
		actionCmd("unstar <conversation-id>", "Remove the star", one, fixed(store.ActionUnstar)),
		actionCmd("archive <conversation-id>", "Archive a conversation", one, fixed(store.ActionArchive)),
		actionCmd("unarchive <conversation-id>", "Move a conversation out of the archive", one, fixed(store.ActionUnarchive)),
		actionCmd("unassign <conversation-id>", "Clear the assignee", one, fixed(store.ActionUnassign)),
		actionCmd("unsnooze <conversation-id>", "Wake a snoozed conversation", one, fixed(store.ActionUnsnooze)),
		actionCmd("assign <conversation-id> [agent-id]", "Assign a conversation (default: yourself)", cobra.RangeArgs(1, 2),
			func(e *env, args []string) (store.Action, error) {
				agent := e.cfg.Agent.ID
				if len(args) > 0 {
					agent = args[0]
				}
				return store.Action{Kind: store.ActionAssign, Value: agent}, nil
			}),
		actionCmd("set-status <conversation-id> <open|pending|resolved>", "Set the workflow status", two,
			func(_ *env, args []string) (store.Action, error) {
				if !model.Status(args[0]).Valid() {
					return store.Action{}, fmt.Errorf("invalid status %q", args[0])
				}
				return store.Action{Kind: store.ActionStatus, Value: args[0]}, nil
			}),
		actionCmd("set-purpose <conversation-id> <purpose>", "Tag the business purpose", two,
			func(_ *env, args []string) (store.Action, error) {
				if !model.Purpose(args[0]).Valid() {
					return store.Action{}, fmt.Errorf("invalid purpose %q", args[0])
				}
				return store.Action{Kind: store.ActionPurpose, Value: args[0]}, nil
			}),
		actionCmd("snooze <conversation-id> <duration>", "Snooze a conversation, e.g. 2h or 30m", two,
			func(_ *env, args []string) (store.Action, error) {
				d, err := time.ParseDuration(args[0])
				if err != nil || d <= 0 {
					return store.Action{}, fmt.Errorf("invalid snooze duration %q", args[0])
				}
				return store.Action{Kind: store.ActionSnooze, Until: time.Now().Add(d)}, nil
			}),
	)
}
