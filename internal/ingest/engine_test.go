package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/push"
	"github.com/matheus3301/inbox/internal/store"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func drain(ch <-chan bus.Event) []model.Event {
	var out []model.Event
	for {
		select {
		case evt := <-ch:
			out = append(out, evt.Payload.(model.Event))
		default:
			return out
		}
	}
}

func conversationEvent(id string) model.Event {
	return model.Event{
		ID:   "evt-conv-" + id,
		Kind: model.ConversationUpdated,
		Conversation: &model.Conversation{
			ID: id, Channel: model.ChannelSMS,
			Contact: model.Contact{Name: "Alice", Handle: "+15550100"},
		},
	}
}

func messageEvent(eventID, msgID string) model.Event {
	return model.Event{
		ID:             eventID,
		Kind:           model.MessageCreated,
		ConversationID: "c1",
		Message: &model.Message{
			ID: msgID, ConversationID: "c1", Direction: model.Inbound,
			Body: "hello", Status: model.DeliveryDelivered, CreatedAt: t0,
		},
	}
}

func TestIngestMessagePublishesPush(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil)
	ctx := context.Background()

	ch, unsub := b.Subscribe(bus.PushPrefix, 16)
	defer unsub()

	if err := e.Ingest(ctx, conversationEvent("c1")); err != nil {
		t.Fatal(err)
	}
	if err := e.Ingest(ctx, messageEvent("evt-1", "m1")); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != 1 || c.LastMessagePreview != "hello" {
		t.Errorf("conversation = %+v", c)
	}

	got := drain(ch)
	kinds := make([]model.EventKind, len(got))
	for i, ev := range got {
		kinds[i] = ev.Kind
	}
	want := []model.EventKind{model.ConversationUpdated, model.MessageCreated, model.ConversationUpdated}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
		if i > 0 && got[i].Seq <= got[i-1].Seq {
			t.Errorf("seq not increasing: %d after %d", got[i].Seq, got[i-1].Seq)
		}
	}
	if got[2].Conversation.UnreadCount != 1 {
		t.Errorf("pushed conversation unread = %d", got[2].Conversation.UnreadCount)
	}
}

func TestIngestRedeliveryIsNoop(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil)
	ctx := context.Background()

	if err := e.Ingest(ctx, conversationEvent("c1")); err != nil {
		t.Fatal(err)
	}
	ch, unsub := b.Subscribe(bus.PushPrefix, 16)
	defer unsub()

	for i := 0; i < 3; i++ {
		if err := e.Ingest(ctx, messageEvent("evt-1", "m1")); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(drain(ch)); n != 2 {
		t.Errorf("published %d events for one delivery, want 2", n)
	}

	// Same message under a new event id: stored once, unread not bumped.
	if err := e.Ingest(ctx, messageEvent("evt-2", "m1")); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetConversation(ctx, "c1")
	if c.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", c.UnreadCount)
	}
}

func TestIngestStatusMonotonic(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil)
	ctx := context.Background()

	if err := e.Ingest(ctx, conversationEvent("c1")); err != nil {
		t.Fatal(err)
	}
	out := model.Event{
		Kind: model.MessageCreated, ConversationID: "c1",
		Message: &model.Message{ID: "m1", ConversationID: "c1", CorrelationID: "k1", Direction: model.Outbound, Status: model.DeliverySent, CreatedAt: t0},
	}
	if err := e.Ingest(ctx, out); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe(bus.PushPrefix+string(model.MessageStatusChanged), 16)
	defer unsub()

	for _, s := range []model.DeliveryStatus{model.DeliveryRead, model.DeliveryDelivered} {
		ev := model.Event{Kind: model.MessageStatusChanged, ConversationID: "c1", CorrelationID: "k1", Status: s}
		if err := e.Ingest(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	got := drain(ch)
	if len(got) != 1 || got[0].Status != model.DeliveryRead || got[0].MessageID != "m1" {
		t.Fatalf("status events = %+v", got)
	}

	// Unknown message ids are ignored.
	ev := model.Event{Kind: model.MessageStatusChanged, ConversationID: "c1", MessageID: "ghost", Status: model.DeliveryRead}
	if err := e.Ingest(ctx, ev); err != nil {
		t.Errorf("unknown message: %v", err)
	}
}

func TestIngestRejects(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil)
	ctx := context.Background()

	if err := e.Ingest(ctx, messageEvent("evt-1", "m1")); !errors.Is(err, ErrUnknownConversation) {
		t.Errorf("orphan message err = %v", err)
	}
	if err := e.Ingest(ctx, model.Event{Kind: "typing"}); !errors.Is(err, push.ErrMalformed) {
		t.Errorf("unknown kind err = %v", err)
	}
}

func TestIngestRemoval(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil)
	ctx := context.Background()

	if err := e.Ingest(ctx, conversationEvent("c1")); err != nil {
		t.Fatal(err)
	}
	ch, unsub := b.Subscribe(bus.PushPrefix, 4)
	defer unsub()

	rm := model.Event{Kind: model.ConversationRemoved, ConversationID: "c1"}
	if err := e.Ingest(ctx, rm); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetConversation(ctx, "c1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("conversation still stored: %v", err)
	}
	got := drain(ch)
	if len(got) != 1 || got[0].Kind != model.ConversationRemoved {
		t.Fatalf("events = %+v", got)
	}
	// Removing again is harmless.
	if err := e.Ingest(ctx, rm); err != nil {
		t.Errorf("second removal: %v", err)
	}
}

func TestAgentChangesArePublished(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil)
	ctx := context.Background()

	if err := e.Ingest(ctx, conversationEvent("c1")); err != nil {
		t.Fatal(err)
	}
	if err := e.Ingest(ctx, messageEvent("evt-1", "m1")); err != nil {
		t.Fatal(err)
	}
	ch, unsub := b.Subscribe(bus.PushPrefix+string(model.ConversationUpdated), 8)
	defer unsub()

	if err := e.MarkRead(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	c, err := e.ApplyAction(ctx, "c1", store.Action{Kind: store.ActionStar})
	if err != nil {
		t.Fatal(err)
	}
	if !c.Starred || c.UnreadCount != 0 {
		t.Errorf("conversation = %+v", c)
	}

	got := drain(ch)
	if len(got) != 2 {
		t.Fatalf("events = %+v", got)
	}
	if got[0].Conversation.UnreadCount != 0 || !got[1].Conversation.Starred {
		t.Errorf("pushed states = %+v, %+v", got[0].Conversation, got[1].Conversation)
	}

	if err := e.MarkRead(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("mark read ghost err = %v", err)
	}
}
