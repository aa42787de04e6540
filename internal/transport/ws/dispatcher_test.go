package ws

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/coopchat/coopchat-client/internal/proto"
)

func TestDispatchOrderAndUnsubscribe(t *testing.T) {
	logger := zerolog.Nop()
	d := NewDispatcher(&logger)

	var order []string
	unsubA := d.AddListener(func(proto.Event) { order = append(order, "a") })
	d.AddListener(func(proto.Event) { order = append(order, "b") })

	d.Dispatch(proto.Event{Type: proto.TypeMessage})
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected registration order [a b], got %v", order)
	}

	unsubA()
	unsubA() // repeated unsubscribe is a no-op
	order = order[:0]

	d.Dispatch(proto.Event{Type: proto.TypeMessage})
	if len(order) != 1 || order[0] != "b" {
		t.Fatalf("expected only [b] after unsubscribe, got %v", order)
	}
}

func TestDispatchSurvivesPanickingListener(t *testing.T) {
	logger := zerolog.Nop()
	d := NewDispatcher(&logger)

	d.AddListener(func(proto.Event) { panic("broken listener") })
	var called bool
	d.AddListener(func(proto.Event) { called = true })

	d.Dispatch(proto.Event{Type: proto.TypeTyping})
	if !called {
		t.Fatalf("listener after a panicking one must still run")
	}
}
