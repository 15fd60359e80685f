package broker

import "strings"

// matchTopic reports whether topic matches filter under MQTT wildcard rules
// ('+' single level, '#' multi level, trailing) and the MQTT-4.7.2-1 rule
// that filters beginning with a wildcard never match topics beginning with
// '$'.
func matchTopic(filter, topic string) bool {
	if len(topic) > 0 && topic[0] == '$' {
		if len(filter) > 0 && (filter[0] == '+' || filter[0] == '#') {
			return false
		}
	}

	fIdx, tIdx := 0, 0
	fLen, tLen := len(filter), len(topic)

	for fIdx <= fLen {
		var fLevel string
		var fNext int
		if idx := strings.IndexByte(filter[fIdx:], '/'); idx >= 0 {
			fNext = fIdx + idx
			fLevel = filter[fIdx:fNext]
		} else {
			fNext = fLen
			fLevel = filter[fIdx:]
		}

		if fLevel == "#" {
			return true
		}

		if tIdx > tLen {
			return false
		}

		var tLevel string
		var tNext int
		if idx := strings.IndexByte(topic[tIdx:], '/'); idx >= 0 {
			tNext = tIdx + idx
			tLevel = topic[tIdx:tNext]
		} else {
			tNext = tLen
			tLevel = topic[tIdx:]
		}

		if fLevel == "+" {
			// matches this level unconditionally
		} else if fLevel != tLevel {
			return false
		}

		if fNext == fLen {
			fIdx = fLen + 1
		} else {
			fIdx = fNext + 1
		}

		if tNext == tLen {
			tIdx = tLen + 1
		} else {
			tIdx = tNext + 1
		}
	}

	return tIdx > tLen
}

// Subscriber is a single client's subscription to a topic filter.
type Subscriber struct {
	ClientID string
	Filter   string
	QoS      uint8
}

// retainedMessage is a stored retained PUBLISH payload for a concrete topic.
type retainedMessage struct {
	Payload []byte
	QoS     uint8
}

// TopicStats summarizes the topic tree, mirroring topics::TopicStats.
type TopicStats struct {
	TotalSubscriptions int
	RetainedMessages   int
	UniqueFilters      int
}

// TopicTree tracks subscriptions (by filter) and retained messages (by
// concrete topic). It is not safe for concurrent use; callers hold Broker's
// mutex.
type TopicTree struct {
	subscriptions map[string]map[string]uint8 // filter -> clientID -> qos
	retained      map[string]retainedMessage   // topic -> message
}

func newTopicTree() *TopicTree {
	return &TopicTree{
		subscriptions: make(map[string]map[string]uint8),
		retained:      make(map[string]retainedMessage),
	}
}

func (t *TopicTree) subscribe(filter string, qos uint8, clientID string) {
	clients, ok := t.subscriptions[filter]
	if !ok {
		clients = make(map[string]uint8)
		t.subscriptions[filter] = clients
	}
	clients[clientID] = qos
}

func (t *TopicTree) unsubscribe(filter, clientID string) {
	clients, ok := t.subscriptions[filter]
	if !ok {
		return
	}
	delete(clients, clientID)
	if len(clients) == 0 {
		delete(t.subscriptions, filter)
	}
}

// unsubscribeAll removes clientID from every filter it is subscribed to.
func (t *TopicTree) unsubscribeAll(clientID string) {
	for filter, clients := range t.subscriptions {
		delete(clients, clientID)
		if len(clients) == 0 {
			delete(t.subscriptions, filter)
		}
	}
}

func (t *TopicTree) matchSubscribers(topic string) []Subscriber {
	var subs []Subscriber
	for filter, clients := range t.subscriptions {
		if !matchTopic(filter, topic) {
			continue
		}
		for clientID, qos := range clients {
			subs = append(subs, Subscriber{ClientID: clientID, Filter: filter, QoS: qos})
		}
	}
	return subs
}

func (t *TopicTree) retainMessage(topic string, payload []byte, qos uint8) {
	if len(payload) == 0 {
		// An empty retained payload clears the retained message (3.1.1 §3.3.1.3).
		delete(t.retained, topic)
		return
	}
	t.retained[topic] = retainedMessage{Payload: payload, QoS: qos}
}

// retainedForFilter returns every retained message whose topic matches filter.
func (t *TopicTree) retainedForFilter(filter string) map[string]retainedMessage {
	out := make(map[string]retainedMessage)
	for topic, msg := range t.retained {
		if matchTopic(filter, topic) {
			out[topic] = msg
		}
	}
	return out
}

func (t *TopicTree) allTopicFilters() []string {
	out := make([]string, 0, len(t.subscriptions))
	for filter := range t.subscriptions {
		out = append(out, filter)
	}
	return out
}

func (t *TopicTree) allRetainedTopics() []string {
	out := make([]string, 0, len(t.retained))
	for topic := range t.retained {
		out = append(out, topic)
	}
	return out
}

func (t *TopicTree) stats() TopicStats {
	total := 0
	for _, clients := range t.subscriptions {
		total += len(clients)
	}
	return TopicStats{
		TotalSubscriptions: total,
		RetainedMessages:   len(t.retained),
		UniqueFilters:      len(t.subscriptions),
	}
}
