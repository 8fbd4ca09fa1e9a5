package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func startHub(t *testing.T) (*Hub, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := NewHub(nil)
	go h.Run(ctx)
	return h, ctx
}

func recv(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		if !ok {
			t.Fatalf("subscriber channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestHub_PublishFanOut(t *testing.T) {
	h, ctx := startHub(t)
	a, err := h.Subscribe(ctx, 4)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b, err := h.Subscribe(ctx, 4)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	mkt := common.HexToAddress("0x01")
	h.Publish(New(TypeMinted, mkt, map[string]uint64{"amount": 5}))

	for _, sub := range []*Subscriber{a, b} {
		ev := recv(t, sub)
		if ev.Type != TypeMinted || ev.Market != mkt {
			t.Fatalf("event=%+v want type=%s market=%s", ev, TypeMinted, mkt.Hex())
		}
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h, ctx := startHub(t)
	sub, err := h.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	h.Unsubscribe(ctx, sub)

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after Unsubscribe")
	}
	if n := h.SubscriberCount(); n != 0 {
		t.Fatalf("SubscriberCount=%d want=0", n)
	}
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	h, ctx := startHub(t)
	sub, err := h.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	waitCount(t, h, 1)
	h.Publish(New(TypeDeposit, common.Address{}, nil))
	h.Publish(New(TypeDeposit, common.Address{}, nil))
	waitCount(t, h, 0)

	// buffered event is still readable, then the channel is closed
	recv(t, sub)
	if _, ok := <-sub.C; ok {
		t.Fatalf("expected closed channel")
	}
}

func waitCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.After(time.Second)
	for h.SubscriberCount() != want {
		select {
		case <-deadline:
			t.Fatalf("SubscriberCount=%d want=%d", h.SubscriberCount(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEvent_Marshal(t *testing.T) {
	ev := New(TypeResolved, common.HexToAddress("0xabc"), map[string]string{"winner": "yes"})
	data, err := ev.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out["type"] != TypeResolved {
		t.Fatalf("type=%v want=%s", out["type"], TypeResolved)
	}
	if out["id"] == "" {
		t.Fatalf("missing id")
	}
}

func TestHub_DrainOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(nil)
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	sub, err := h.Subscribe(ctx, 8)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitCount(t, h, 1)
	for i := 0; i < 3; i++ {
		h.Publish(New(TypeClaimed, common.Address{}, i))
	}
	cancel()
	<-done

	n := 0
	for range sub.C {
		n++
	}
	if n != 3 {
		t.Fatalf("delivered=%d want=3", n)
	}
}
