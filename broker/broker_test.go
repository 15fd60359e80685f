package broker

import "testing"

type recordingTransport struct {
	deliveries []delivery
}

type delivery struct {
	clientID string
	topic    string
	payload  string
	qos      uint8
	retain   bool
}

func (r *recordingTransport) Deliver(clientID, topic string, payload []byte, qos uint8, retain, dup bool, packetID uint16) error {
	r.deliveries = append(r.deliveries, delivery{clientID, topic, string(payload), qos, retain})
	return nil
}

func TestConnectCleanSessionHasNoSessionPresent(t *testing.T) {
	b := New(Config{})
	present, err := b.Connect("client-1", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if present {
		t.Fatalf("clean session should never report session present")
	}
}

func TestPersistentSessionSurvivesReconnect(t *testing.T) {
	b := New(Config{})

	if _, err := b.Connect("client-1", false); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := b.Subscribe("client-1", []string{"sensors/+/temp"}, []uint8{1}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	b.Disconnect("client-1")

	present, err := b.Connect("client-1", false)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !present {
		t.Fatalf("expected session present on reconnect")
	}

	info, ok := b.GetClientInfo("client-1")
	if !ok {
		t.Fatalf("expected client info after reconnect")
	}
	if qos, ok := info.Subscriptions["sensors/+/temp"]; !ok || qos != 1 {
		t.Fatalf("expected restored subscription, got %v", info.Subscriptions)
	}
}

func TestCleanSessionDropsSubscriptionsOnDisconnect(t *testing.T) {
	b := New(Config{})
	b.Connect("client-1", true)
	b.Subscribe("client-1", []string{"a/b"}, []uint8{0})
	b.Disconnect("client-1")

	if stats := b.GetTopicStats(); stats.UniqueFilters != 0 {
		t.Fatalf("expected no filters left after clean session disconnect, got %d", stats.UniqueFilters)
	}
}

func TestPublishRoutesToMatchingSubscriber(t *testing.T) {
	b := New(Config{})
	transport := &recordingTransport{}
	b = New(Config{}, WithTransport(transport))

	b.Connect("sub", true)
	b.Subscribe("sub", []string{"home/+/temp"}, []uint8{1})

	b.Connect("pub", true)
	if err := b.Publish("pub", "home/kitchen/temp", []byte("21.5"), 0, false); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(transport.deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(transport.deliveries))
	}
	if transport.deliveries[0].payload != "21.5" {
		t.Fatalf("unexpected payload: %s", transport.deliveries[0].payload)
	}
}

func TestRetainedMessageDeliveredOnSubscribe(t *testing.T) {
	transport := &recordingTransport{}
	b := New(Config{}, WithTransport(transport))

	b.Connect("pub", true)
	b.Publish("pub", "status/online", []byte("true"), 0, true)

	b.Connect("sub", true)
	b.Subscribe("sub", []string{"status/online"}, []uint8{0})

	if len(transport.deliveries) != 1 {
		t.Fatalf("expected retained delivery, got %d", len(transport.deliveries))
	}
	if !transport.deliveries[0].retain {
		t.Fatalf("expected retain flag set on delivered retained message")
	}
}

func TestEmptyRetainedPayloadClearsRetained(t *testing.T) {
	b := New(Config{})
	b.Connect("pub", true)
	b.Publish("pub", "status/online", []byte("true"), 0, true)
	b.Publish("pub", "status/online", nil, 0, true)

	if stats := b.GetTopicStats(); stats.RetainedMessages != 0 {
		t.Fatalf("expected retained message cleared, got %d", stats.RetainedMessages)
	}
}

func TestPublishRejectsWildcardTopic(t *testing.T) {
	b := New(Config{})
	b.Connect("pub", true)
	if err := b.Publish("pub", "a/+/b", []byte("x"), 0, false); err == nil {
		t.Fatalf("expected error publishing to a wildcard topic")
	}
}

func TestOfflineQoS1MessageQueuedAndRedeliveredOnReconnect(t *testing.T) {
	b := New(Config{})

	if _, err := b.Connect("sub", false); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := b.Subscribe("sub", []string{"alerts"}, []uint8{1}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	b.Disconnect("sub")

	b.Connect("pub", true)
	if err := b.Publish("pub", "alerts", []byte("fire"), 1, false); err != nil {
		t.Fatalf("publish: %v", err)
	}

	present, err := b.Connect("sub", false)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !present {
		t.Fatalf("expected session present on reconnect")
	}

	pending := b.PendingRedelivery("sub")
	if len(pending) != 1 {
		t.Fatalf("expected 1 queued message redelivered, got %d", len(pending))
	}
	if string(pending[0].Payload) != "fire" || pending[0].Topic != "alerts" {
		t.Fatalf("unexpected pending message: %+v", pending[0])
	}
}

func TestOfflineQoS0MessageIsDropped(t *testing.T) {
	b := New(Config{})

	b.Connect("sub", false)
	b.Subscribe("sub", []string{"alerts"}, []uint8{0})
	b.Disconnect("sub")

	b.Connect("pub", true)
	if err := b.Publish("pub", "alerts", []byte("x"), 0, false); err != nil {
		t.Fatalf("publish: %v", err)
	}

	b.Connect("sub", false)
	if pending := b.PendingRedelivery("sub"); len(pending) != 0 {
		t.Fatalf("expected QoS0 message dropped for offline client, got %d pending", len(pending))
	}
}

func TestFixtureResponseDoesNotRecurse(t *testing.T) {
	transport := &recordingTransport{}
	reg := NewFixtureRegistry()
	reg.Register(&Fixture{
		Identifier:   "echo",
		TopicFilter:  "echo/request",
		ResponseBody: []byte(`{"echo":"{{payload}}"}`),
		QoS:          0,
	})

	b := New(Config{}, WithTransport(transport), WithFixtureRegistry(reg))
	b.Connect("sub", true)
	b.Subscribe("sub", []string{"echo/request"}, []uint8{0})
	b.Connect("pub", true)

	if err := b.Publish("pub", "echo/request", []byte("hi"), 0, false); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(transport.deliveries) != 2 {
		t.Fatalf("expected original publish + one fixture echo, got %d", len(transport.deliveries))
	}
}
