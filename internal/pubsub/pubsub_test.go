package pubsub

import "testing"

func TestPublish_DeliversToSubscriber(t *testing.T) {
	topics := New()
	ch := make(chan Event, 1)
	topics.Subscribe("sess-1", ch)

	topics.Publish("sess-1", Event{Kind: EventRoundAdvanced, SessionID: "sess-1", Round: 2})

	select {
	case evt := <-ch:
		if evt.Kind != EventRoundAdvanced || evt.Round != 2 {
			t.Fatalf("unexpected event: %+v", evt)
		}
	default:
		t.Fatalf("expected event to be delivered")
	}
}

func TestPublish_DropsSlowSubscriberInsteadOfBlocking(t *testing.T) {
	topics := New()
	ch := make(chan Event) // unbuffered, never read: always full from Publish's view
	topics.Subscribe("sess-1", ch)

	topics.Publish("sess-1", Event{Kind: EventRoundAdvanced, SessionID: "sess-1"})

	if _, ok := topics.subs["sess-1"]; ok {
		t.Fatalf("expected slow subscriber to be dropped and topic cleaned up")
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	topics := New()
	ch := make(chan Event, 1)
	topics.Subscribe("sess-1", ch)
	topics.Unsubscribe("sess-1", ch)

	topics.Publish("sess-1", Event{Kind: EventSessionConcluded, SessionID: "sess-1"})

	select {
	case evt := <-ch:
		t.Fatalf("expected no delivery after unsubscribe, got %+v", evt)
	default:
	}
}

func TestPublish_NoSubscribersIsNoop(t *testing.T) {
	topics := New()
	topics.Publish("sess-none", Event{Kind: EventRoundAdvanced})
}
