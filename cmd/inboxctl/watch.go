package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/inbox"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/thread"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchFlags  listFlags
	watchSelect string
	watchReply  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live changes to the inbox",
	Long: "watch keeps a filtered conversation list in sync with the daemon's event feed and prints every change. " +
		"With --select it also follows one conversation; add --reply to send each line read from stdin to it.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		actions, err := watchFlags.actions()
		if err != nil {
			return err
		}
		if watchReply && watchSelect == "" {
			return errors.New("--reply needs --select")
		}
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		loadCtx, cancelLoad := withTimeout(cmd)
		defer cancelLoad()
		templates, err := e.client.Signatures(loadCtx)
		if err != nil {
			return fmt.Errorf("load signatures: %w", err)
		}

		b := bus.New()
		events, unsubscribe := b.Subscribe("", 256)
		defer unsubscribe()

		in := inbox.New(e.client, e.client.History(), e.client.Events(e.logger.Named("events")),
			inbox.WithBus(b),
			inbox.WithLogger(e.logger),
			inbox.WithAgent(e.cfg.Agent.ID),
			inbox.WithProfile(e.cfg.Agent.Profile),
			inbox.WithSignatures(templates, e.cfg.Agent.Signature))
		defer in.Close()

		if len(actions) > 0 {
			if _, err := in.SetFilter(loadCtx, actions...); err != nil {
				return err
			}
		}
		if err := in.Load(loadCtx); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		w := &watcher{out: out, in: in, me: e.cfg.Agent.ID, seen: map[thread.Key]model.DeliveryStatus{}}
		w.printList()

		if watchSelect != "" {
			if _, err := in.Select(loadCtx, watchSelect); err != nil {
				return fmt.Errorf("select %s: %w", watchSelect, err)
			}
		}

		go func() {
			if err := in.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Warn("event feed stopped", zap.Error(err))
			}
		}()
		if watchReply {
			go w.reply(ctx, cmd.InOrStdin(), cancel)
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-events:
				w.handle(ev)
			}
		}
	},
}

func init() {
	watchFlags.register(watchCmd)
	watchCmd.Flags().StringVar(&watchSelect, "select", "", "follow the messages of one conversation")
	watchCmd.Flags().BoolVar(&watchReply, "reply", false, "send stdin lines to the selected conversation")
	rootCmd.AddCommand(watchCmd)
}

// watcher renders bus events as lines of text.
type watcher struct {
	out  io.Writer
	in   *inbox.Inbox
	me   string
	seen map[thread.Key]model.DeliveryStatus
}

func (w *watcher) handle(ev bus.Event) {
	switch ev.Kind {
	case bus.ConversationsChanged:
		// The payload is a conversation id for single updates and a query
		// key after a refetch.
		id, _ := ev.Payload.(string)
		convs := w.in.Conversations()
		if i := slices.IndexFunc(convs, func(c model.Conversation) bool { return c.ID == id }); i >= 0 {
			w.printConversation(convs[i])
			return
		}
		w.printList()
	case bus.ConversationsCounts:
		if c, ok := ev.Payload.(model.Counters); ok {
			fmt.Fprintf(w.out, "-- %s\n", countersLine(c))
		}
	case bus.ConversationsError:
		fmt.Fprintf(w.out, "!! %v\n", ev.Payload)
	case bus.ThreadChanged:
		w.printThread()
	case bus.ThreadFailed:
		if f, ok := ev.Payload.(thread.FailedSend); ok {
			fmt.Fprintf(w.out, "!! send %s failed: %s\n", f.CorrelationID, f.Reason)
		}
	}
}

func (w *watcher) printList() {
	convs := w.in.Conversations()
	fmt.Fprintf(w.out, "== %d conversations (%s)\n", len(convs), orDash(w.in.Filter().Key()))
	for _, c := range convs {
		w.printConversation(c)
	}
	fmt.Fprintf(w.out, "-- %s\n", countersLine(w.in.Counters()))
}

func (w *watcher) printConversation(c model.Conversation) {
	fmt.Fprintf(w.out, "%s  %-5s %-20s %s %s  %s\n", c.ID, c.Channel, oneLine(contactLabel(c.Contact), 20),
		flags(c, w.me), unread(c.UnreadCount), oneLine(c.LastMessagePreview, 48))
}

// printThread prints messages of the open stream that are new or changed
// status since the last call.
func (w *watcher) printThread() {
	s := w.in.Stream()
	if s == nil {
		return
	}
	for _, it := range s.Items() {
		m := it.Message
		if prev, ok := w.seen[it.Key]; ok && prev == m.Status {
			continue
		}
		w.seen[it.Key] = m.Status
		text := oneLine(m.Body, 64)
		if m.Media != nil {
			text = strings.TrimSpace("[media] " + text)
		}
		fmt.Fprintf(w.out, "%s %s %s (%s)\n", arrow(m.Direction), ago(m.CreatedAt), text, m.Status)
	}
}

// reply sends each non-empty line to the selected conversation and cancels
// the watch at end of input.
func (w *watcher) reply(ctx context.Context, r io.Reader, done context.CancelFunc) {
	defer done()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if _, err := w.in.Send(ctx, line, nil); err != nil {
			fmt.Fprintf(w.out, "!! %v\n", err)
		}
	}
	w.in.Wait()
}

func countersLine(c model.Counters) string {
	s := fmt.Sprintf("open %d  pending %d  mine %d  unassigned %d", c.Open, c.Pending, c.Mine, c.Unassigned)
	for _, ch := range model.Channels {
		if n := c.ByChannel[ch]; n > 0 {
			s += fmt.Sprintf("  %s %d", ch, n)
		}
	}
	return s
}
