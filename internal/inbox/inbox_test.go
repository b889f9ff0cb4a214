package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/inbox/internal/call"
	"github.com/matheus3301/inbox/internal/filter"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/signature"
	"github.com/matheus3301/inbox/internal/thread"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu      sync.Mutex
	convs   []model.Conversation
	history map[string][]model.Message
	queries []filter.Descriptor
	sent    []thread.SendRequest
	reads   []string
}

func newBackend() *fakeBackend {
	return &fakeBackend{
		convs: []model.Conversation{
			{ID: "c1", Channel: model.ChannelEmail, Contact: model.Contact{Name: "Alice", Email: "a@example.com"}, UnreadCount: 2, LastMessageAt: t0},
			{ID: "c2", Channel: model.ChannelSMS, Contact: model.Contact{Name: "Bob", Phone: "+15550100"}, Starred: true, LastMessageAt: t0.Add(-time.Hour)},
		},
		history: map[string][]model.Message{
			"c1": {
				{ID: "m1", ConversationID: "c1", Direction: model.Inbound, Body: "hi", Status: model.DeliveryDelivered, CreatedAt: t0.Add(-time.Minute)},
				{ID: "m2", ConversationID: "c1", Direction: model.Inbound, Media: &model.Media{URL: "https://cdn.example.com/a.png", Type: "image"}, Status: model.DeliveryDelivered, CreatedAt: t0.Add(-50 * time.Second)},
				{ID: "m3", ConversationID: "c1", Direction: model.Inbound, Media: &model.Media{URL: "https://cdn.example.com/a.png", Type: "image"}, Status: model.DeliveryDelivered, CreatedAt: t0.Add(-40 * time.Second)},
			},
		},
	}
}

func (b *fakeBackend) List(_ context.Context, q filter.Descriptor) ([]model.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, q)
	var out []model.Conversation
	for _, c := range b.convs {
		if q.Matches(&c, "agent-1", t0) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (b *fakeBackend) Counts(context.Context) (model.Counters, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return model.Counters{Open: len(b.convs), Starred: 1}, nil
}

func (b *fakeBackend) Send(_ context.Context, req thread.SendRequest) (model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, req)
	if strings.Contains(req.Body, "fail") {
		return model.Message{}, errors.New("carrier rejected")
	}
	return model.Message{
		ID: fmt.Sprintf("srv-%d", len(b.sent)), ConversationID: req.ConversationID, CorrelationID: req.CorrelationID,
		Direction: model.Outbound, Body: req.Body, Status: model.DeliverySent, CreatedAt: t0,
	}, nil
}

func (b *fakeBackend) MarkRead(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads = append(b.reads, id)
	return nil
}

func (b *fakeBackend) historyService() thread.HistoryService { return historyFunc(b.listHistory) }

func (b *fakeBackend) listHistory(_ context.Context, id string, _ thread.Page) ([]model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Message(nil), b.history[id]...), nil
}

type historyFunc func(context.Context, string, thread.Page) ([]model.Message, error)

func (f historyFunc) List(ctx context.Context, id string, p thread.Page) ([]model.Message, error) {
	return f(ctx, id, p)
}

// chanSource serves one connection fed by the test.
type chanSource struct{ ch chan model.Event }

func (s chanSource) Events(context.Context) (<-chan model.Event, error) { return s.ch, nil }

// queuedSource hands out the connections the test queues, one per
// connect, and blocks until the next one is queued.
type queuedSource struct{ conns chan chan model.Event }

func (s queuedSource) Events(ctx context.Context) (<-chan model.Event, error) {
	select {
	case ch := <-s.conns:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type idleTransport struct{}

func (idleTransport) Initiate(context.Context, string, call.Mode) (<-chan call.Signal, error) {
	return make(chan call.Signal), nil
}
func (idleTransport) Hangup(context.Context) error { return nil }

func newInbox(t *testing.T, opts ...Option) (*Inbox, *fakeBackend) {
	t.Helper()
	b := newBackend()
	i := New(b, b.historyService(), chanSource{ch: make(chan model.Event)}, append([]Option{WithAgent("agent-1")}, opts...)...)
	if err := i.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(i.Close)
	return i, b
}

func TestSetFilterRefetches(t *testing.T) {
	i, b := newInbox(t)

	q, err := i.SetFilter(context.Background(), filter.Toggled(filter.Starred, true))
	if err != nil {
		t.Fatal(err)
	}
	if !q.Toggles.Starred || i.Filter() != q {
		t.Errorf("filter = %+v", q)
	}
	convs := i.Conversations()
	if len(convs) != 1 || convs[0].ID != "c2" {
		t.Errorf("conversations = %+v", convs)
	}
	if last := b.queries[len(b.queries)-1]; !last.Toggles.Starred {
		t.Errorf("last query = %+v", last)
	}

	// Choosing a bucket clears the toggle group.
	q, _ = i.SetFilter(context.Background(), filter.Bucketed(filter.BucketUnassigned))
	if q.Toggles.Any() || q.Bucket != filter.BucketUnassigned {
		t.Errorf("filter after bucket = %+v", q)
	}
	if c := i.Counters(); c.Open != 2 {
		t.Errorf("counters = %+v", c)
	}
}

func TestSelectLoadsAndMarksRead(t *testing.T) {
	i, b := newInbox(t)
	ctx := context.Background()

	s, err := i.Select(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Messages()) != 3 {
		t.Fatalf("messages = %d", len(s.Messages()))
	}
	if s.TakeScroll() != thread.ScrollJump {
		t.Error("first load should jump to the end")
	}
	if len(b.reads) != 1 || b.reads[0] != "c1" {
		t.Errorf("reads = %v", b.reads)
	}
	if c, _ := i.list.Get("c1"); c.UnreadCount != 0 {
		t.Errorf("unread = %d", c.UnreadCount)
	}

	units := i.Units()
	if len(units) != 2 || units[1].Len() != 2 {
		t.Errorf("units = %+v", units)
	}

	// Selecting another conversation closes the first stream.
	if _, err := i.Select(ctx, "c2"); err != nil {
		t.Fatal(err)
	}
	if !s.Closed() {
		t.Error("previous stream still open")
	}
	if _, err := i.Select(ctx, "nope"); !errors.Is(err, ErrUnknown) {
		t.Errorf("unknown select err = %v", err)
	}
}

func TestPushReachesSelectedStream(t *testing.T) {
	i, _ := newInbox(t)
	ctx := context.Background()
	s, err := i.Select(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}

	ev := model.Event{
		Kind: model.MessageCreated, ConversationID: "c1", Seq: 1,
		Message: &model.Message{ID: "m4", ConversationID: "c1", Direction: model.Inbound, Body: "new", CreatedAt: t0},
	}
	if err := i.push.Apply(ctx, ev); err != nil {
		t.Fatal(err)
	}
	msgs := s.Messages()
	if msgs[len(msgs)-1].ID != "m4" {
		t.Errorf("last message = %+v", msgs[len(msgs)-1])
	}
	// The selected conversation does not collect unread pushes.
	if c, _ := i.list.Get("c1"); c.UnreadCount != 0 {
		t.Errorf("unread = %d", c.UnreadCount)
	}
}

func TestSendAppendsSignature(t *testing.T) {
	templates := []signature.Template{
		{ID: "sms", Scope: "sms", Active: true, Default: true, Body: "-- {{first name}}"},
		{ID: "mail", Scope: "email", Active: true, Default: true, Body: "Regards,\n{{ name }}"},
	}
	i, b := newInbox(t, WithSignatures(templates, ""), WithProfile(signature.Profile{Name: "Dana Lee", FirstName: "Dana"}))
	ctx := context.Background()

	if _, err := i.Send(ctx, "hello", nil); !errors.Is(err, ErrNoSelection) {
		t.Errorf("send without selection err = %v", err)
	}

	s, err := i.Select(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	it, err := i.Send(ctx, "Thanks!", nil)
	if err != nil {
		t.Fatal(err)
	}
	if it.Message.Body != "Thanks!\n\nRegards,\nDana Lee" || it.Message.Status != model.DeliveryPending {
		t.Errorf("pending = %+v", it.Message)
	}
	i.Wait()

	got, ok := s.Get(it.Key)
	if !ok || got.Status != model.DeliverySent || got.ID != "srv-1" {
		t.Errorf("confirmed = %+v", got)
	}
	if len(b.sent) != 1 || b.sent[0].CorrelationID != it.Message.CorrelationID || b.sent[0].Channel != model.ChannelEmail {
		t.Errorf("sent = %+v", b.sent)
	}
	if n := len(s.Messages()); n != 4 {
		t.Errorf("messages = %d, want 4", n)
	}

	it, err = i.Send(ctx, "this will fail", nil)
	if err != nil {
		t.Fatal(err)
	}
	i.Wait()
	got, _ = s.Get(it.Key)
	if got.Status != model.DeliveryFailed || got.FailureReason == "" {
		t.Errorf("failed send = %+v", got)
	}
}

func TestStartCall(t *testing.T) {
	i, _ := newInbox(t)
	ctx := context.Background()

	if _, err := i.StartCall(ctx, call.Voice); !errors.Is(err, ErrNoTransport) {
		t.Errorf("no transport err = %v", err)
	}

	i, _ = newInbox(t, WithTransport(idleTransport{}))
	if _, err := i.StartCall(ctx, call.Voice); !errors.Is(err, ErrNoSelection) {
		t.Errorf("no selection err = %v", err)
	}
	if _, err := i.Select(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	cs, err := i.StartCall(ctx, call.Voice)
	if !errors.Is(err, call.ErrNoTarget) || cs.State() != call.Idle {
		t.Errorf("email call = %v, state %s", err, cs.State())
	}

	if _, err := i.Select(ctx, "c2"); err != nil {
		t.Fatal(err)
	}
	cs, err = i.StartCall(ctx, call.Voice)
	if err != nil {
		t.Fatal(err)
	}
	if cs.State() != call.Initiating || i.Call() != cs {
		t.Errorf("call state = %s", cs.State())
	}
	i.Close()
	if i.Call() != nil {
		t.Error("call kept after close")
	}
}

func TestSelectionSurvivesFilterChange(t *testing.T) {
	templates := []signature.Template{
		{ID: "any", Scope: signature.ScopeAll, Active: true, Body: "ANY"},
		{ID: "mail", Scope: "email", Active: true, Default: true, Body: "EMAIL SIG"},
	}
	i, _ := newInbox(t, WithSignatures(templates, ""), WithTransport(idleTransport{}))
	ctx := context.Background()

	if _, err := i.Select(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	// c1 is not starred, so it leaves the list but stays open.
	if _, err := i.SetFilter(ctx, filter.Toggled(filter.Starred, true)); err != nil {
		t.Fatal(err)
	}
	if _, listed := i.list.Get("c1"); listed {
		t.Fatal("c1 still listed under the starred filter")
	}

	conv, ok := i.Selected()
	if !ok || conv.ID != "c1" || conv.Channel != model.ChannelEmail {
		t.Errorf("selected = %+v, %v", conv, ok)
	}
	body, err := i.Compose("hi")
	if err != nil || body != "hi\n\nEMAIL SIG" {
		t.Errorf("compose = %q, %v", body, err)
	}
	// The email conversation has no phone, so the call is rejected for
	// that reason rather than for a missing selection.
	if _, err := i.StartCall(ctx, call.Voice); !errors.Is(err, call.ErrNoTarget) {
		t.Errorf("start call err = %v, want ErrNoTarget", err)
	}

	i.Deselect()
	if _, ok := i.Selected(); ok {
		t.Error("selection kept after deselect")
	}
}

func TestReconnectRefetches(t *testing.T) {
	b := newBackend()
	src := queuedSource{conns: make(chan chan model.Event, 2)}
	i := New(b, b.historyService(), src, WithAgent("agent-1"))
	t.Cleanup(i.Close)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := i.Load(ctx); err != nil {
		t.Fatal(err)
	}
	s, err := i.Select(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	first := make(chan model.Event)
	src.conns <- first
	done := make(chan error, 1)
	go func() { done <- i.Run(ctx) }()

	// Upstream changes while the push channel is down.
	b.mu.Lock()
	b.history["c1"] = append(b.history["c1"], model.Message{ID: "m4", ConversationID: "c1", Direction: model.Inbound, Body: "missed", Status: model.DeliveryDelivered, CreatedAt: t0})
	b.convs = append(b.convs, model.Conversation{ID: "c3", Channel: model.ChannelChat, Contact: model.Contact{Name: "Carol"}, LastMessageAt: t0.Add(-2 * time.Hour)})
	b.mu.Unlock()
	close(first)
	src.conns <- make(chan model.Event)

	deadline := time.After(2 * time.Second)
	for len(s.Messages()) != 4 || len(i.Conversations()) != 3 {
		select {
		case <-deadline:
			t.Fatalf("after reconnect: messages=%d conversations=%d, want 4 and 3", len(s.Messages()), len(i.Conversations()))
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
