package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/matheus3301/inbox/internal/filter"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/spf13/cobra"
)

// listFlags are shared by the commands that show a filtered list.
type listFlags struct {
	channel  string
	account  string
	bucket   string
	starred  bool
	snoozed  bool
	archived bool
	status   string
	purpose  string
	search   string
}

func (f *listFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.channel, "channel", "", "channel (chat, sms, email, voice)")
	fs.StringVar(&f.account, "account", "", "channel account id")
	fs.StringVar(&f.bucket, "bucket", "", "assignment bucket (mine, unassigned)")
	fs.BoolVar(&f.starred, "starred", false, "only starred conversations")
	fs.BoolVar(&f.snoozed, "snoozed", false, "only snoozed conversations")
	fs.BoolVar(&f.archived, "archived", false, "only archived conversations")
	fs.StringVar(&f.status, "status", "", "status (open, pending, resolved)")
	fs.StringVar(&f.purpose, "purpose", "", "purpose (general, sales, support, service, marketing)")
	fs.StringVar(&f.search, "search", "", "match contact name, handle or last message")
}

// descriptor reduces the flags into a filter.
func (f *listFlags) descriptor() (filter.Descriptor, error) {
	actions, err := f.actions()
	if err != nil {
		return filter.Descriptor{}, err
	}
	return filter.Apply(filter.Descriptor{}, actions...), nil
}

// actions turns the flags into filter actions. A bucket and the toggle
// group exclude each other.
func (f *listFlags) actions() ([]filter.Action, error) {
	var actions []filter.Action
	if f.channel != "" {
		c := model.Channel(f.channel)
		if !c.Valid() {
			return nil, fmt.Errorf("invalid channel %q", f.channel)
		}
		actions = append(actions, filter.ChannelOf(c))
	}
	if f.account != "" {
		actions = append(actions, filter.AccountOf(f.account))
	}
	toggles := f.starred || f.snoozed || f.archived
	switch filter.Bucket(f.bucket) {
	case filter.BucketNone:
	case filter.BucketMine, filter.BucketUnassigned:
		if toggles {
			return nil, errors.New("--bucket cannot be combined with --starred, --snoozed or --archived")
		}
		actions = append(actions, filter.Bucketed(filter.Bucket(f.bucket)))
	default:
		return nil, fmt.Errorf("invalid bucket %q", f.bucket)
	}
	if f.starred {
		actions = append(actions, filter.Toggled(filter.Starred, true))
	}
	if f.snoozed {
		actions = append(actions, filter.Toggled(filter.Snoozed, true))
	}
	if f.archived {
		actions = append(actions, filter.Toggled(filter.Archived, true))
	}
	if f.status != "" {
		s := model.Status(f.status)
		if !s.Valid() {
			return nil, fmt.Errorf("invalid status %q", f.status)
		}
		actions = append(actions, filter.StatusOf(s))
	}
	if f.purpose != "" {
		p := model.Purpose(f.purpose)
		if !p.Valid() {
			return nil, fmt.Errorf("invalid purpose %q", f.purpose)
		}
		actions = append(actions, filter.PurposeOf(p))
	}
	if f.search != "" {
		actions = append(actions, filter.Searching(f.search))
	}
	return actions, nil
}

var conversationsFlags listFlags

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := conversationsFlags.descriptor()
		if err != nil {
			return err
		}
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()

		convs, err := e.client.List(ctx, q)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		out := cmd.OutOrStdout()
		if flagJSON {
			return writeJSON(out, convs)
		}
		if len(convs) == 0 {
			fmt.Fprintln(out, "No conversations.")
			return nil
		}
		w := newTable(out)
		fmt.Fprintln(w, "ID\tCHANNEL\tCONTACT\tSTATUS\tFLAGS\tUNREAD\tLAST\tPREVIEW")
		for _, c := range convs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				c.ID, c.Channel, contactLabel(c.Contact), orDash(string(c.Status)), flags(c, e.cfg.Agent.ID),
				unread(c.UnreadCount), ago(c.LastMessageAt), oneLine(c.LastMessagePreview, 48))
		}
		return w.Flush()
	},
}

var countsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Show account-wide counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()

		c, err := e.client.Counts(ctx)
		if err != nil {
			return fmt.Errorf("counts: %w", err)
		}
		out := cmd.OutOrStdout()
		if flagJSON {
			return writeJSON(out, c)
		}
		w := newTable(out)
		rows := []struct {
			label string
			n     int
		}{
			{"open", c.Open}, {"pending", c.Pending}, {"resolved", c.Resolved},
			{"mine", c.Mine}, {"assigned", c.Assigned}, {"unassigned", c.Unassigned},
			{"starred", c.Starred}, {"snoozed", c.Snoozed}, {"archived", c.Archived},
		}
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%d\n", r.label, r.n)
		}
		for _, ch := range model.Channels {
			fmt.Fprintf(w, "%s\t%d\n", ch, c.ByChannel[ch])
		}
		return w.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Show one conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()

		c, err := e.client.Conversation(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if flagJSON {
			return writeJSON(out, c)
		}
		w := newTable(out)
		fmt.Fprintf(w, "ID:\t%s\n", c.ID)
		fmt.Fprintf(w, "Channel:\t%s\n", c.Channel)
		fmt.Fprintf(w, "Contact:\t%s\n", contactLabel(c.Contact))
		fmt.Fprintf(w, "Phone:\t%s\n", orDash(c.PhoneTarget()))
		fmt.Fprintf(w, "Status:\t%s\n", orDash(string(c.Status)))
		fmt.Fprintf(w, "Purpose:\t%s\n", orDash(string(c.Purpose)))
		fmt.Fprintf(w, "Assignee:\t%s\n", orDash(c.AssigneeID))
		fmt.Fprintf(w, "Flags:\t%s\n", flags(c, e.cfg.Agent.ID))
		fmt.Fprintf(w, "Unread:\t%d\n", c.UnreadCount)
		fmt.Fprintf(w, "Last message:\t%s\n", ago(c.LastMessageAt))
		return w.Flush()
	},
}

func init() {
	conversationsFlags.register(conversationsCmd)
	rootCmd.AddCommand(conversationsCmd, countsCmd, showCmd)
}

func contactLabel(c model.Contact) string {
	switch {
	case c.Name != "":
		return c.Name
	case c.Handle != "":
		return c.Handle
	case c.Email != "":
		return c.Email
	}
	return orDash(c.Phone)
}

func unread(n int) string {
	if n == 0 {
		return "-"
	}
	return strconv.Itoa(n)
}

// flags renders the markers of c: * starred, z snoozed, a archived,
// m assigned to me.
func flags(c model.Conversation, me string) string {
	var b []byte
	if c.Starred {
		b = append(b, '*')
	}
	if c.SnoozedUntil != nil {
		b = append(b, 'z')
	}
	if c.Archived {
		b = append(b, 'a')
	}
	if me != "" && c.AssigneeID == me {
		b = append(b, 'm')
	}
	if len(b) == 0 {
		return "-"
	}
	return string(b)
}
