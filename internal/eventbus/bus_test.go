package eventbus

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestFanout(t *testing.T) {
	t.Parallel()
	b := New()
	ch1, cancel1 := b.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(4)
	defer cancel2()

	b.Publish(Event{Topic: TopicExecutionFinished, Payload: "x"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		e := recv(t, ch)
		if e.Topic != TopicExecutionFinished || e.Payload != "x" {
			t.Fatalf("unexpected event: %+v", e)
		}
		if e.At.IsZero() {
			t.Fatal("Publish should stamp At")
		}
	}
}

func TestTopicFilter(t *testing.T) {
	t.Parallel()
	b := New()
	alerts, cancel := b.Subscribe(4, TopicAlertRaised)
	defer cancel()

	b.Publish(Event{Topic: TopicExecutionFinished})
	b.Publish(Event{Topic: TopicAlertRaised})

	e := recv(t, alerts)
	if e.Topic != TopicAlertRaised {
		t.Fatalf("filtered subscriber got %q", e.Topic)
	}
	select {
	case e := <-alerts:
		t.Fatalf("unexpected extra event: %+v", e)
	default:
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{Topic: TopicAlertRaised, Payload: 1})
	b.Publish(Event{Topic: TopicAlertRaised, Payload: 2}) // buffer full, dropped

	if got := Dropped(b); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
	if e := recv(t, ch); e.Payload != 1 {
		t.Fatalf("kept event payload = %v, want 1", e.Payload)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, cancel := b.Subscribe(1)

	cancel()
	cancel() // second call must be a no-op, not a double close

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}

	// Publishing after unsubscribe must not panic or count drops.
	b.Publish(Event{Topic: TopicAlertRaised})
	if got := Dropped(b); got != 0 {
		t.Fatalf("dropped = %d, want 0", got)
	}
}
