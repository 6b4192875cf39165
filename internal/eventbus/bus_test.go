package eventbus

import "testing"

func TestSubscribeFiltersByPrefix(t *testing.T) {
	t.Parallel()
	b := New()
	tips, unsubTips := b.Subscribe(4, "tips.")
	defer unsubTips()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: "config.reloaded"})
	b.Publish(Event{Type: "tips.fired", Data: 1})

	ev := <-tips
	if ev.Type != "tips.fired" || ev.Time.IsZero() {
		t.Fatalf("tips subscriber got %+v", ev)
	}
	if len(tips) != 0 {
		t.Fatalf("tips subscriber received unrelated events")
	}
	if len(all) != 2 {
		t.Fatalf("catch-all subscriber got %d events, want 2", len(all))
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
	b.Publish(Event{Type: "after"})
}
