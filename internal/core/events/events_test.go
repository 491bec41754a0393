package events

import (
	"context"
	"testing"
)

func TestNewEventStampsIDAndTime(t *testing.T) {
	e1 := NewEvent(KindSessionCreated, 1, 0, nil)
	e2 := NewEvent(KindSessionCreated, 1, 0, nil)
	if e1.ID == "" || e2.ID == "" {
		t.Fatal("expected non-empty event ids")
	}
	if e1.ID == e2.ID {
		t.Fatal("successive events should get distinct ids")
	}
	if e1.Time.IsZero() {
		t.Fatal("expected a non-zero timestamp")
	}
}

func TestChannelPublisherDropsOnFullBuffer(t *testing.T) {
	p := NewChannelPublisher(1)
	ctx := context.Background()

	p.Publish(ctx, NewEvent(KindHandleAttached, 1, 2, nil))
	p.Publish(ctx, NewEvent(KindHandleAttached, 1, 2, nil)) // buffer full, should drop

	if p.DroppedCount() != 1 {
		t.Fatalf("DroppedCount() = %d, want 1", p.DroppedCount())
	}
	<-p.Events()
}

func TestChannelPublisherPublishAfterCloseIsNoop(t *testing.T) {
	p := NewChannelPublisher(1)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p.Publish(context.Background(), NewEvent(KindSessionTimeout, 1, 0, nil))
	if p.DroppedCount() != 0 {
		t.Fatal("publishing after close should neither enqueue nor count as dropped")
	}
}

type countingPublisher struct{ n int }

func (c *countingPublisher) Publish(context.Context, Event) { c.n++ }
func (c *countingPublisher) Close() error                   { return nil }

func TestMultiPublisherFansOutToAll(t *testing.T) {
	a, b := &countingPublisher{}, &countingPublisher{}
	m := NewMultiPublisher(a, b)
	m.Publish(context.Background(), NewEvent(KindModule, 1, 1, nil))
	if a.n != 1 || b.n != 1 {
		t.Fatalf("fan-out counts = %d, %d, want 1, 1", a.n, b.n)
	}
}
