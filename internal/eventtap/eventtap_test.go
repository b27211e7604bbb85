package eventtap

import "testing"

func TestBroadcastFanout(t *testing.T) {
	h := New()
	c1 := NewClient(4)
	c2 := NewClient(4)
	h.Add(c1)
	h.Add(c2)

	ev := Event{Session: 1, Type: 9}
	h.Broadcast(ev)

	select {
	case got := <-c1.Out:
		if got.Session != 1 {
			t.Fatalf("c1 got %v", got)
		}
	default:
		t.Fatal("c1 did not receive event")
	}
	select {
	case got := <-c2.Out:
		if got.Type != 9 {
			t.Fatalf("c2 got %v", got)
		}
	default:
		t.Fatal("c2 did not receive event")
	}
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	h := New()
	h.Policy = PolicyDrop
	c := NewClient(1)
	h.Add(c)

	h.Broadcast(Event{Session: 1})
	h.Broadcast(Event{Session: 2}) // queue full, dropped

	if len(c.Out) != 1 {
		t.Fatalf("expected 1 queued event, got %d", len(c.Out))
	}
	got := <-c.Out
	if got.Session != 1 {
		t.Fatalf("expected first event retained, got %v", got)
	}
}

func TestBroadcastKicksWhenFull(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	c := NewClient(1)
	h.Add(c)

	h.Broadcast(Event{Session: 1})
	h.Broadcast(Event{Session: 2})

	select {
	case <-c.Closed:
	default:
		t.Fatal("expected client to be kicked (closed)")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	h := New()
	c := NewClient(1)
	h.Add(c)
	h.Remove(c)
	h.Remove(c)
	if h.Count() != 0 {
		t.Fatalf("expected 0 clients, got %d", h.Count())
	}
}
