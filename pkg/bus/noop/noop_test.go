package noop

import (
	"context"
	"errors"
	"testing"

	"github.com/chenxilol/echohub/pkg/bus"
)

func TestNoopBus(t *testing.T) {
	n := New()
	ctx := context.Background()

	if err := n.Publish(ctx, "topic", []byte("x")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := n.Publish(ctx, "", []byte("x")); !errors.Is(err, bus.ErrTopicEmpty) {
		t.Fatalf("Publish(empty) error = %v, want ErrTopicEmpty", err)
	}

	if err := n.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := n.Publish(ctx, "topic", nil); !errors.Is(err, bus.ErrBusClosed) {
		t.Fatalf("Publish after close error = %v, want ErrBusClosed", err)
	}
}
