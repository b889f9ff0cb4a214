package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/inbox/internal/api"
	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/conversations"
	"github.com/matheus3301/inbox/internal/filter"
	"github.com/matheus3301/inbox/internal/ingest"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/outbox"
	"github.com/matheus3301/inbox/internal/push"
	"github.com/matheus3301/inbox/internal/signature"
	"github.com/matheus3301/inbox/internal/status"
	"github.com/matheus3301/inbox/internal/store"
	"github.com/matheus3301/inbox/internal/thread"
)

type echoProvider struct{}

func (echoProvider) Deliver(_ context.Context, o outbox.Outbound) (string, error) {
	return "prov-" + o.CorrelationID, nil
}

func newDaemon(t *testing.T) (*Client, *ingest.Engine, *api.Hub) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	engine := ingest.NewEngine(db, b, nil)
	svc := api.NewService(db, engine, outbox.NewSender(db, engine, echoProvider{}, nil), status.NewMachine(b), "default", "agent-1")
	hub := api.NewHub(b, svc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(api.NewRouter(nil, svc, hub))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	conv := &model.Conversation{ID: "c1", Channel: model.ChannelChat, Contact: model.Contact{Name: "Alice", Handle: "alice"}}
	if err := engine.IngestConversation(context.Background(), conv); err != nil {
		t.Fatal(err)
	}
	return New(srv.URL + "/"), engine, hub
}

func TestQueriesRoundTrip(t *testing.T) {
	c, _, _ := newDaemon(t)
	ctx := context.Background()

	convs, err := c.List(ctx, filter.Descriptor{Channel: model.ChannelChat})
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].Contact.Name != "Alice" {
		t.Errorf("list = %+v", convs)
	}
	convs, err = c.List(ctx, filter.Descriptor{Channel: model.ChannelSMS})
	if err != nil || len(convs) != 0 {
		t.Errorf("sms list = %+v, %v", convs, err)
	}

	counts, err := c.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Open != 1 || counts.ByChannel[model.ChannelChat] != 1 {
		t.Errorf("counts = %+v", counts)
	}

	if _, err := c.Conversation(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("missing conversation err = %v", err)
	}
	st, err := c.Status(ctx)
	if err != nil || st.Agent != "agent-1" {
		t.Errorf("status = %+v, %v", st, err)
	}
}

func TestSendHistoryAndActions(t *testing.T) {
	c, _, _ := newDaemon(t)
	ctx := context.Background()

	m, err := c.Send(ctx, thread.SendRequest{ConversationID: "c1", CorrelationID: "k1", Body: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if m.CorrelationID != "k1" || m.Status != model.DeliverySent {
		t.Errorf("sent = %+v", m)
	}

	msgs, err := c.History().List(ctx, "c1", thread.Page{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != m.ID {
		t.Errorf("history = %+v", msgs)
	}
	older, err := c.Messages(ctx, "c1", thread.Page{Before: m.CreatedAt, Limit: 10})
	if err != nil || len(older) != 0 {
		t.Errorf("older = %+v, %v", older, err)
	}

	conv, err := c.Act(ctx, "c1", store.Action{Kind: store.ActionStar})
	if err != nil || !conv.Starred {
		t.Errorf("star = %+v, %v", conv, err)
	}
	if err := c.MarkRead(ctx, "c1"); err != nil {
		t.Error(err)
	}

	hits, err := c.Search(ctx, "HELLO", "c1", 5)
	if err != nil || len(hits) != 1 {
		t.Errorf("search = %+v, %v", hits, err)
	}
}

func TestSignatures(t *testing.T) {
	c, _, _ := newDaemon(t)
	ctx := context.Background()

	tpl := signature.Template{ID: "s1", Name: "Email", Scope: "email", Variant: signature.VariantLogo, Active: true, Body: "{name}", LogoURL: "https://example.com/logo.png"}
	if err := c.SaveSignature(ctx, tpl, 0); err != nil {
		t.Fatal(err)
	}
	ts, err := c.Signatures(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ts) != 1 || ts[0].Variant != signature.VariantLogo || ts[0].LogoURL != tpl.LogoURL {
		t.Errorf("signatures = %+v", ts)
	}
	if err := c.DeleteSignature(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteSignature(ctx, "s1"); !IsNotFound(err) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Counts(context.Background())
	e, ok := err.(*Error)
	if !ok || e.Status != http.StatusServiceUnavailable {
		t.Errorf("err = %#v", err)
	}
}

// TestPushReachesConversationList runs the client side end to end: the list
// loads over HTTP and a message ingested on the daemon arrives through the
// websocket feed and the dispatcher.
func TestPushReachesConversationList(t *testing.T) {
	c, engine, hub := newDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	list := conversations.NewStore(c, conversations.WithAgent("agent-1"))
	if err := list.SetQuery(ctx, filter.Descriptor{}); err != nil {
		t.Fatal(err)
	}
	d := push.NewDispatcher(c.Events(nil), list, push.WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	go func() { _ = d.Run(ctx) }()

	waitFor(t, func() bool { return hub.Len() == 1 })

	msg := &model.Message{ID: "m1", ConversationID: "c1", Direction: model.Inbound, Body: "ping", Status: model.DeliveryDelivered, CreatedAt: time.Now().UTC()}
	if err := engine.IngestMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		got, ok := list.Get("c1")
		return ok && got.UnreadCount == 1 && got.LastMessagePreview == "ping"
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
