package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/ingest"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/outbox"
	"github.com/matheus3301/inbox/internal/status"
	"github.com/matheus3301/inbox/internal/store"
)

type stubProvider struct{ err error }

func (p stubProvider) Deliver(_ context.Context, o outbox.Outbound) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return "prov-" + o.CorrelationID, nil
}

type fixture struct {
	db     *store.DB
	bus    *bus.Bus
	engine *ingest.Engine
	hub    *Hub
	srv    *httptest.Server
}

func newFixture(t *testing.T, p outbox.Provider) *fixture {
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
	svc := NewService(db, engine, outbox.NewSender(db, engine, p, nil), status.NewMachine(b), "default", "agent-1")
	hub := NewHub(b, svc, nil)
	svc.Subscribers = hub.Len

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(NewRouter(nil, svc, hub))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	f := &fixture{db: db, bus: b, engine: engine, hub: hub, srv: srv}
	for _, c := range []model.Conversation{
		{ID: "c1", Channel: model.ChannelSMS, Contact: model.Contact{Name: "Alice", Handle: "+15550100"}, LastMessageAt: time.Unix(200, 0)},
		{ID: "c2", Channel: model.ChannelEmail, Contact: model.Contact{Name: "Bob", Email: "bob@example.com"}, AssigneeID: "agent-1", LastMessageAt: time.Unix(100, 0)},
	} {
		if err := db.UpsertConversation(context.Background(), &c); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

// do sends a request and decodes the envelope's data into out.
func (f *fixture) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	if env.Success != (resp.StatusCode < 300) {
		t.Errorf("%s %s: success=%v with status %d", method, path, env.Success, resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestListConversationsFilters(t *testing.T) {
	f := newFixture(t, stubProvider{})
	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"c1", "c2"}},
		{"?channel=email", []string{"c2"}},
		{"?bucket=mine", []string{"c2"}},
		{"?bucket=unassigned", []string{"c1"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var convs []model.Conversation
			if code := f.do(t, http.MethodGet, "/v1/conversations"+tt.query, nil, &convs); code != http.StatusOK {
				t.Fatalf("status = %d", code)
			}
			var ids []string
			for _, c := range convs {
				ids = append(ids, c.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestCountsAndGet(t *testing.T) {
	f := newFixture(t, stubProvider{})

	var c model.Counters
	if code := f.do(t, http.MethodGet, "/v1/conversations/counts", nil, &c); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if c.Open != 2 || c.Mine != 1 || c.Unassigned != 1 {
		t.Errorf("counters = %+v", c)
	}

	var conv model.Conversation
	if code := f.do(t, http.MethodGet, "/v1/conversations/c2", nil, &conv); code != http.StatusOK || conv.Contact.Name != "Bob" {
		t.Errorf("get = %d %+v", code, conv)
	}
	if code := f.do(t, http.MethodGet, "/v1/conversations/nope", nil, nil); code != http.StatusNotFound {
		t.Errorf("missing conversation status = %d", code)
	}
}

func TestSendAndHistory(t *testing.T) {
	f := newFixture(t, stubProvider{})

	var m model.Message
	code := f.do(t, http.MethodPost, "/v1/conversations/c1/messages", map[string]any{"correlation_id": "k1", "body": "hi"}, &m)
	if code != http.StatusCreated {
		t.Fatalf("send status = %d", code)
	}
	if m.CorrelationID != "k1" || m.Status != model.DeliverySent || m.ConversationID != "c1" {
		t.Errorf("sent = %+v", m)
	}

	var msgs []model.Message
	if code := f.do(t, http.MethodGet, "/v1/conversations/c1/messages?limit=10", nil, &msgs); code != http.StatusOK {
		t.Fatalf("history status = %d", code)
	}
	if len(msgs) != 1 || msgs[0].ID != m.ID {
		t.Errorf("history = %+v", msgs)
	}

	tests := []struct {
		name string
		path string
		body map[string]any
		want int
	}{
		{"missing correlation", "/v1/conversations/c1/messages", map[string]any{"body": "x"}, http.StatusBadRequest},
		{"empty", "/v1/conversations/c1/messages", map[string]any{"correlation_id": "k2"}, http.StatusBadRequest},
		{"unknown conversation", "/v1/conversations/nope/messages", map[string]any{"correlation_id": "k3", "body": "x"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := f.do(t, http.MethodPost, tt.path, tt.body, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestSendProviderFailure(t *testing.T) {
	f := newFixture(t, stubProvider{err: errors.New("carrier down")})
	code := f.do(t, http.MethodPost, "/v1/conversations/c1/messages", map[string]any{"correlation_id": "k1", "body": "hi"}, nil)
	if code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", code)
	}
	code = f.do(t, http.MethodPost, "/v1/conversations/c1/messages", map[string]any{"correlation_id": "k1", "body": "hi"}, nil)
	if code != http.StatusConflict {
		t.Errorf("resend status = %d, want 409", code)
	}
}

func TestActionsAndRead(t *testing.T) {
	f := newFixture(t, stubProvider{})

	var c model.Conversation
	if code := f.do(t, http.MethodPost, "/v1/conversations/c1/actions", map[string]any{"kind": "assign", "value": "agent-1"}, &c); code != http.StatusOK {
		t.Fatalf("assign status = %d", code)
	}
	if c.AssigneeID != "agent-1" {
		t.Errorf("assignee = %q", c.AssigneeID)
	}
	if code := f.do(t, http.MethodPost, "/v1/conversations/c1/actions", map[string]any{"kind": "explode"}, nil); code != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d", code)
	}
	if code := f.do(t, http.MethodPost, "/v1/conversations/c1/actions", map[string]any{"kind": "status", "value": "bogus"}, nil); code != http.StatusBadRequest {
		t.Errorf("bad status value = %d", code)
	}
	if code := f.do(t, http.MethodPost, "/v1/conversations/c1/read", nil, nil); code != http.StatusOK {
		t.Errorf("read status = %d", code)
	}
	if code := f.do(t, http.MethodPost, "/v1/conversations/nope/read", nil, nil); code != http.StatusNotFound {
		t.Errorf("read missing status = %d", code)
	}
}

func TestSignaturesCRUD(t *testing.T) {
	f := newFixture(t, stubProvider{})

	body := map[string]any{"name": "Default", "scope": "all", "active": true, "default": true, "body": "-- {name}"}
	if code := f.do(t, http.MethodPut, "/v1/signatures/s1", body, nil); code != http.StatusOK {
		t.Fatalf("save status = %d", code)
	}
	if code := f.do(t, http.MethodPut, "/v1/signatures/s2", map[string]any{"name": "x", "variant": "neon"}, nil); code != http.StatusBadRequest {
		t.Errorf("bad variant status = %d", code)
	}
	var list []map[string]any
	f.do(t, http.MethodGet, "/v1/signatures", nil, &list)
	if len(list) != 1 || list[0]["id"] != "s1" {
		t.Errorf("list = %+v", list)
	}
	if code := f.do(t, http.MethodDelete, "/v1/signatures/s1", nil, nil); code != http.StatusOK {
		t.Errorf("delete status = %d", code)
	}
	if code := f.do(t, http.MethodDelete, "/v1/signatures/s1", nil, nil); code != http.StatusNotFound {
		t.Errorf("second delete status = %d", code)
	}
}

func TestIngestWebhook(t *testing.T) {
	f := newFixture(t, stubProvider{})

	ev := model.Event{
		ID: "evt-1", Kind: model.MessageCreated, ConversationID: "c1",
		Message: &model.Message{ID: "m1", ConversationID: "c1", Direction: model.Inbound, Body: "ping", Status: model.DeliveryDelivered, CreatedAt: time.Unix(300, 0)},
	}
	for i := 0; i < 2; i++ {
		if code := f.do(t, http.MethodPost, "/v1/ingest", ev, nil); code != http.StatusOK {
			t.Fatalf("ingest status = %d", code)
		}
	}
	c, err := f.db.GetConversation(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", c.UnreadCount)
	}

	if code := f.do(t, http.MethodPost, "/v1/ingest", model.Event{Kind: "typing"}, nil); code != http.StatusBadRequest {
		t.Errorf("malformed status = %d", code)
	}
	orphan := ev
	orphan.ID, orphan.ConversationID = "evt-2", "ghost"
	orphan.Message = &model.Message{ID: "m2", ConversationID: "ghost", Body: "x"}
	if code := f.do(t, http.MethodPost, "/v1/ingest", orphan, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("orphan status = %d", code)
	}
}

func TestSearchAndStatus(t *testing.T) {
	f := newFixture(t, stubProvider{})
	f.do(t, http.MethodPost, "/v1/conversations/c1/messages", map[string]any{"correlation_id": "k1", "body": "Invoice attached"}, nil)

	var hits []model.Message
	if code := f.do(t, http.MethodGet, "/v1/search?q=invoice", nil, &hits); code != http.StatusOK || len(hits) != 1 {
		t.Errorf("search = %d %+v", code, hits)
	}
	if code := f.do(t, http.MethodGet, "/v1/search", nil, nil); code != http.StatusBadRequest {
		t.Errorf("empty search status = %d", code)
	}

	var st Status
	f.do(t, http.MethodGet, "/v1/status", nil, &st)
	if st.Session != "default" || st.Agent != "agent-1" || st.State != status.Booting {
		t.Errorf("status = %+v", st)
	}
	if code := f.do(t, http.MethodGet, "/v1/nowhere", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown route status = %d", code)
	}
}

func TestEventsWebsocket(t *testing.T) {
	f := newFixture(t, stubProvider{})

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A read receipt from the client goes through the engine and comes
	// back as a conversation update.
	if err := conn.WriteJSON(map[string]string{"type": "mark_read", "conversation_id": "c1"}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev model.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != model.ConversationUpdated || ev.ConversationID != "c1" || ev.Seq == 0 {
		t.Errorf("event = %+v", ev)
	}
}
