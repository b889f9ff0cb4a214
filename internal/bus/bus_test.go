package bus

import (
	"testing"
	"time"
)

// drain returns the kinds buffered on ch without blocking.
func drain(ch <-chan Event) []string {
	var kinds []string
	for {
		select {
		case evt := <-ch:
			kinds = append(kinds, evt.Kind)
		default:
			return kinds
		}
	}
}

func TestPrefixRouting(t *testing.T) {
	kinds := []string{ConversationsChanged, ConversationsCounts, ThreadChanged, CallTick, PushPrefix + "message.created"}
	tests := []struct {
		prefix string
		want   []string
	}{
		{"", kinds},
		{"conversations.", []string{ConversationsChanged, ConversationsCounts}},
		{ThreadChanged, []string{ThreadChanged}},
		{PushPrefix + "message.", []string{PushPrefix + "message.created"}},
		{"daemon.", nil},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			b := New()
			ch, cancel := b.Subscribe(tt.prefix, len(kinds))
			defer cancel()
			for _, k := range kinds {
				b.Emit(k, nil)
			}
			got := drain(ch)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("event %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPublishStampsTime(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("", 2)
	defer cancel()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b.Emit(ThreadChanged, "x")
	b.Publish(Event{Kind: ThreadChanged, Timestamp: at})

	if evt := <-ch; evt.Timestamp.IsZero() || evt.Payload != "x" {
		t.Errorf("emitted %+v", evt)
	}
	if evt := <-ch; !evt.Timestamp.Equal(at) {
		t.Errorf("timestamp overwritten: %v", evt.Timestamp)
	}
}

func TestCancel(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("", 4)
	_, keep := b.Subscribe("", 4)
	defer keep()
	if b.Len() != 2 {
		t.Fatalf("Len = %d, want 2", b.Len())
	}
	cancel()
	cancel()
	if b.Len() != 1 {
		t.Errorf("Len after cancel = %d, want 1", b.Len())
	}
	b.Emit(ThreadChanged, nil)
	if got := drain(ch); len(got) != 0 {
		t.Errorf("cancelled subscriber got %v", got)
	}
}

func TestFullBufferDrops(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(PushPrefix, 1)
	defer cancel()

	b.Emit(PushPrefix+"one", nil)
	b.Emit(PushPrefix+"two", nil)
	b.Emit(ThreadChanged, nil)

	if got := drain(ch); len(got) != 1 || got[0] != "push.one" {
		t.Errorf("got %v, want [push.one]", got)
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", b.Dropped())
	}
}

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Emit(ThreadChanged, nil)
}
