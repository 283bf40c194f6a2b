package bus

import "testing"

func TestBus_BroadcastDeliversToAllSubscribers(t *testing.T) {
	b := New()
	var gotA, gotB Event
	b.Subscribe("a", func(e Event) { gotA = e })
	b.Subscribe("b", func(e Event) { gotB = e })

	b.Broadcast(Event{Name: EventMonitoringStatus, Payload: MonitoringStatusPayload{Platform: "wechat"}})

	if gotA.Name != EventMonitoringStatus || gotB.Name != EventMonitoringStatus {
		t.Fatalf("not all subscribers received the event: a=%+v b=%+v", gotA, gotB)
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe("a", func(e Event) { calls++ })
	b.Unsubscribe("a")

	b.Broadcast(Event{Name: EventLoginQR})
	if calls != 0 {
		t.Errorf("calls = %d, want 0 after Unsubscribe", calls)
	}
}
