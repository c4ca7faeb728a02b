package events

import (
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 8)
	otherCh := bus.Subscribe(TopicConsensus, 8)

	bus.Publish(TopicTask, TaskSubmittedEvent{ID: "t1", Timestamp: time.Now()})

	select {
	case ev := <-taskCh:
		if ev.EventType() != EventTypeTaskSubmitted || ev.TaskID() != "t1" {
			t.Errorf("got %s/%s, want task.submitted/t1", ev.EventType(), ev.TaskID())
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case ev := <-otherCh:
		t.Errorf("consensus subscriber received task event %v", ev)
	default:
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.SubscribeAll(8)
	bus.Publish(TopicTask, TaskSubmittedEvent{ID: "t1"})
	bus.Publish(TopicConsensus, ConsensusReachedEvent{Task: "t1", Decision: "accept"})

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(time.Second):
			t.Fatalf("all-topic subscriber received %d of 2 events", i)
		}
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)
	done := make(chan struct{})
	go func() {
		// Must not block even though the subscriber never drains.
		for i := 0; i < 100; i++ {
			bus.Publish(TopicTask, TaskSubmittedEvent{ID: "t1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(ch) != 1 {
		t.Errorf("buffered events = %d, want 1 (rest dropped)", len(ch))
	}
}

func TestBusCloseIdempotent(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 1)

	bus.Close()
	bus.Close() // second close must not panic

	if _, open := <-ch; open {
		t.Error("subscriber channel should be closed")
	}

	// Publish and subscribe after close are safe no-ops.
	bus.Publish(TopicTask, TaskSubmittedEvent{ID: "t1"})
	late := bus.Subscribe(TopicTask, 1)
	if _, open := <-late; open {
		t.Error("late subscriber channel should arrive closed")
	}
}
