package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/matheus3301/inbox/internal/classify"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/signature"
	"github.com/matheus3301/inbox/internal/thread"
	"github.com/spf13/cobra"
)

var messagesLimit int

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Print the latest messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()

		s := thread.New(args[0], e.client.History(), nil,
			thread.WithPageSize(messagesLimit),
			thread.WithLogger(e.logger))
		defer s.Close()
		if err := s.LoadHistory(ctx); err != nil {
			return fmt.Errorf("messages: %w", err)
		}
		msgs := s.Messages()
		out := cmd.OutOrStdout()
		if flagJSON {
			return writeJSON(out, msgs)
		}
		if len(msgs) == 0 {
			fmt.Fprintln(out, "No messages.")
			return nil
		}
		printUnits(out, classify.Classify(msgs))
		return nil
	},
}

var (
	sendNoSignature bool
	sendSignatureID string
)

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text...>",
	Short: "Send a message, with the agent's signature appended",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()

		id := args[0]
		draft := strings.Join(args[1:], " ")
		conv, err := e.client.Conversation(ctx, id)
		if err != nil {
			return err
		}
		body := draft
		if !sendNoSignature {
			templates, err := e.client.Signatures(ctx)
			if err != nil {
				return fmt.Errorf("load signatures: %w", err)
			}
			explicit := sendSignatureID
			if explicit == "" {
				explicit = e.cfg.Agent.Signature
			}
			body = signature.Resolve(draft, templates, conv.Channel, explicit, e.cfg.Agent.Profile)
		}

		s := thread.New(id, e.client.History(), e.client,
			thread.WithChannel(conv.Channel),
			thread.WithSenderLabel(senderLabel(e)),
			thread.WithLogger(e.logger))
		defer s.Close()

		it, err := s.SendOptimistic(ctx, body, nil)
		if err != nil {
			return err
		}
		m, _ := s.Get(it.Key)
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), m)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", m.Status, orDash(m.ID), m.CorrelationID)
		return nil
	},
}

var (
	searchConversation string
	searchLimit        int
)

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search message bodies",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()

		msgs, err := e.client.Search(ctx, strings.Join(args, " "), searchConversation, searchLimit)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		out := cmd.OutOrStdout()
		if flagJSON {
			return writeJSON(out, msgs)
		}
		if len(msgs) == 0 {
			fmt.Fprintln(out, "No matches.")
			return nil
		}
		w := newTable(out)
		fmt.Fprintln(w, "CONVERSATION\tWHEN\tDIR\tTEXT")
		for _, m := range msgs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ConversationID, ago(m.CreatedAt), m.Direction, oneLine(m.Body, 64))
		}
		return w.Flush()
	},
}

func init() {
	messagesCmd.Flags().IntVar(&messagesLimit, "limit", thread.DefaultPageSize, "number of messages")
	sendCmd.Flags().BoolVar(&sendNoSignature, "no-signature", false, "send the text as is")
	sendCmd.Flags().StringVar(&sendSignatureID, "signature", "", "signature template id (default from config)")
	searchCmd.Flags().StringVar(&searchConversation, "conversation", "", "limit to one conversation")
	searchCmd.Flags().IntVar(&searchLimit, "limit", thread.DefaultPageSize, "maximum matches")
	rootCmd.AddCommand(messagesCmd, sendCmd, searchCmd)
}

func senderLabel(e *env) string {
	if e.cfg.Agent.Profile.Name != "" {
		return e.cfg.Agent.Profile.Name
	}
	return e.cfg.Agent.ID
}

func printUnits(out io.Writer, units []classify.Unit) {
	for _, u := range units {
		first := u.Messages[0]
		prefix := fmt.Sprintf("%s %s", first.CreatedAt.Local().Format("Jan 02 15:04"), arrow(u.Direction))
		if u.Kind == classify.UnitImageGroup {
			if u.Len() == 1 {
				fmt.Fprintf(out, "%s [image]\n", prefix)
			} else {
				fmt.Fprintf(out, "%s [%d images]\n", prefix, u.Len())
			}
			continue
		}
		text := classify.DisplayText(first)
		if first.Media != nil {
			text = strings.TrimSpace(fmt.Sprintf("[%s] %s", classify.KindOf(first.Media), text))
		}
		line := fmt.Sprintf("%s %s", prefix, text)
		if first.Direction == model.Outbound && first.Status != model.DeliverySent {
			line += fmt.Sprintf(" (%s)", first.Status)
		}
		fmt.Fprintln(out, line)
	}
}

func arrow(d model.Direction) string {
	if d == model.Outbound {
		return ">"
	}
	return "<"
}
