package escrow

import (
	"encoding/json"
	"testing"
)

func TestBroadcastReachesAllMembers(t *testing.T) {
	reg := NewRegistry()
	t1 := &fakeTransport{}
	t2 := &fakeTransport{}
	reg.Register("alice", "1", t1)
	reg.Register("bob", "1", t2)

	b := NewBroadcaster(reg, nil)
	b.Broadcast("1", Event{Type: EventGamePaired, GameID: "1"})

	if t1.sentCount() != 1 || t2.sentCount() != 1 {
		t.Errorf("delivery counts: alice=%d bob=%d", t1.sentCount(), t2.sentCount())
	}

	var evt Event
	if err := json.Unmarshal(t1.sent[0], &evt); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if evt.Type != EventGamePaired || evt.GameID != "1" {
		t.Errorf("payload wrong: %+v", evt)
	}
}

func TestBroadcastSurvivesFailingTransport(t *testing.T) {
	reg := NewRegistry()
	bad := &fakeTransport{fail: true}
	good := &fakeTransport{}
	reg.Register("alice", "1", bad)
	reg.Register("bob", "1", good)

	b := NewBroadcaster(reg, nil)
	b.Broadcast("1", Event{Type: EventGameFinished, GameID: "1"})

	if good.sentCount() != 1 {
		t.Error("send failure to one member blocked the other")
	}
}

func TestBroadcastSkipsDisconnectedMembers(t *testing.T) {
	reg := NewRegistry()
	t1 := &fakeTransport{}
	t2 := &fakeTransport{}
	reg.Register("alice", "1", t1)
	reg.Register("bob", "1", t2)
	reg.Unregister("bob", "1")

	b := NewBroadcaster(reg, nil)
	b.Broadcast("1", Event{Type: EventGamePaired, GameID: "1"})

	if t2.sentCount() != 0 {
		t.Error("broadcast reached a disconnected transport")
	}
	if t1.sentCount() != 1 {
		t.Error("connected member missed the broadcast")
	}
}

func TestBroadcastDuringReconnect(t *testing.T) {
	reg := NewRegistry()
	reg.Register("alice", "1", &fakeTransport{})
	reg.Register("bob", "1", &fakeTransport{})

	b := NewBroadcaster(reg, nil)

	// Reconnects swap the transport while broadcasts are in flight; the
	// race detector flags any delivery reading connection state outside
	// the room lock.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			b.Broadcast("1", Event{Type: EventGamePaired, GameID: "1"})
		}
	}()
	for i := 0; i < 500; i++ {
		if _, _, err := reg.Register("alice", "1", &fakeTransport{}); err != nil {
			t.Errorf("reconnect %d: %v", i, err)
			break
		}
	}
	<-done
}

func TestEventEnvelopeOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Event{Type: EventBothDeposited, GameID: "1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	if len(raw) != 2 {
		t.Errorf("envelope carries empty fields: %s", data)
	}
}
