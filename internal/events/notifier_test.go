package events

import (
	"sync"
	"testing"
	"time"
)

func receive(t *testing.T, sub *Subscriber) Notification {
	t.Helper()
	select {
	case n := <-sub.Ch:
		return n
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive notification within timeout")
		return Notification{}
	}
}

func TestNotifier_PublishNoSubscribers(t *testing.T) {
	n := NewNotifier(4)
	n.Publish(Notification{Type: DocumentsInserted, Collection: "people"})
	if n.Dropped() != 0 {
		t.Errorf("expected nothing dropped, got %d", n.Dropped())
	}
}

func TestNotifier_SubscribeReceives(t *testing.T) {
	n := NewNotifier(4)
	sub := n.Subscribe()

	n.Publish(Notification{Type: SchemaEvolved, Collection: "people", LSN: 7})

	got := receive(t, sub)
	if got.Collection != "people" || got.Type != SchemaEvolved || got.LSN != 7 {
		t.Errorf("unexpected notification %+v", got)
	}
	if got.Timestamp == 0 {
		t.Error("expected timestamp to be set")
	}
}

func TestNotifier_Filters(t *testing.T) {
	tests := []struct {
		name       string
		filters    []string
		collection string
		want       bool
	}{
		{"no filter", nil, "people", true},
		{"exact", []string{"people"}, "people", true},
		{"prefix", []string{"log_"}, "log_2024", true},
		{"other", []string{"log_"}, "people", false},
		{"empty filter matches all", []string{""}, "people", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscriber{Filters: tt.filters}
			if got := sub.matches(tt.collection); got != tt.want {
				t.Errorf("matches(%q) = %v, want %v", tt.collection, got, tt.want)
			}
		})
	}
}

func TestNotifier_FullChannelDrops(t *testing.T) {
	n := NewNotifier(1)
	sub := n.Subscribe()

	n.Publish(Notification{Collection: "a", LSN: 1})
	n.Publish(Notification{Collection: "a", LSN: 2})

	if got := receive(t, sub); got.LSN != 1 {
		t.Errorf("expected first notification, got lsn %d", got.LSN)
	}
	if n.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", n.Dropped())
	}
}

func TestNotifier_Unsubscribe(t *testing.T) {
	n := NewNotifier(4)
	sub := n.Subscribe()
	n.Unsubscribe(sub.ID)
	n.Unsubscribe(sub.ID)

	if _, ok := <-sub.Ch; ok {
		t.Fatal("expected closed channel")
	}
	if n.Subscribers() != 0 {
		t.Errorf("expected no subscribers, got %d", n.Subscribers())
	}
	n.Publish(Notification{Collection: "a"})
}

func TestNotifier_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	n := NewNotifier(8)
	subs := make([]*Subscriber, 10)
	for i := range subs {
		subs[i] = n.Subscribe()
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				n.Publish(Notification{Collection: "c", LSN: uint64(j)})
			}
		}()
	}
	for _, sub := range subs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			n.Unsubscribe(id)
		}(sub.ID)
	}
	wg.Wait()
	n.Close()
	if n.Subscribers() != 0 {
		t.Errorf("expected no subscribers, got %d", n.Subscribers())
	}
}

func TestType_String(t *testing.T) {
	if DocumentsInserted.String() != "documents_inserted" || CollectionDropped.String() != "collection_dropped" {
		t.Error("unexpected type names")
	}
	if Type(99).String() != "unknown" {
		t.Error("expected unknown")
	}
}
