// Package broker implements the server side of MQTT 3.1.1: session
// lifecycle, topic subscription and retained-message storage, QoS 0/1/2
// delivery bookkeeping, and fixture-triggered responses. The wire codec
// lives in the sibling broker/packets package; this package is transport
// agnostic — Server (in server.go) is the TCP/TLS listener that drives it.
package broker

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/SaaSy-Solutions/mockforge-sub003/mockerr"
	"github.com/SaaSy-Solutions/mockforge-sub003/templating"
)

// Transport delivers a PUBLISH to a connected client. The network layer
// (Server) implements this; Broker never touches a net.Conn directly.
type Transport interface {
	Deliver(clientID, topic string, payload []byte, qos uint8, retain, dup bool, packetID uint16) error
}

// Config configures a Broker's protocol limits and defaults.
type Config struct {
	MaxTopicLength    int
	MaxPayloadSize    int
	MaxIncomingPacket int
}

func (c Config) withDefaults() Config {
	if c.MaxTopicLength <= 0 {
		c.MaxTopicLength = DefaultMaxTopicLength
	}
	if c.MaxPayloadSize <= 0 {
		c.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if c.MaxIncomingPacket <= 0 {
		c.MaxIncomingPacket = DefaultMaxIncomingPacket
	}
	return c
}

// Option configures a Broker at construction time.
type Option func(*Broker)

// WithLogger sets the structured logger used for warnings and lifecycle
// events. The default discards all output.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// WithSessionStore overrides the default in-memory persistent session store.
func WithSessionStore(store SessionStore) Option {
	return func(b *Broker) { b.sessions = store }
}

// WithFixtureRegistry attaches a fixture registry for publish auto-response.
func WithFixtureRegistry(reg *FixtureRegistry) Option {
	return func(b *Broker) { b.fixtures = reg }
}

// WithTransport sets the delivery transport used to push PUBLISH packets to
// connected clients. Required before clients can receive anything.
func WithTransport(t Transport) Option {
	return func(b *Broker) { b.transport = t }
}

// clientState is a broker-side view of one connected client.
type clientState struct {
	session  *Session
	inflight *inflightTable
}

// Broker is the server-side MQTT engine: the topic tree, retained store,
// session table, and fixture-response logic. It holds no network state.
type Broker struct {
	config Config
	logger *slog.Logger

	mu      sync.RWMutex
	topics  *TopicTree
	clients map[string]*clientState

	sessions  SessionStore
	fixtures  *FixtureRegistry
	transport Transport

	packetIDs *packetIDGenerator
}

// New constructs a Broker. Without WithTransport, Publish still updates
// topic/retained/fixture state but delivery to subscribers is a no-op.
func New(config Config, opts ...Option) *Broker {
	b := &Broker{
		config:    config.withDefaults(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		topics:    newTopicTree(),
		clients:   make(map[string]*clientState),
		sessions:  NewMemorySessionStore(),
		fixtures:  NewFixtureRegistry(),
		packetIDs: newPacketIDGenerator(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect establishes or restores a client's session, per MQTT 3.1.1 §3.1.
// It returns whether a persistent session was restored (the CONNACK
// Session Present flag).
func (b *Broker) Connect(clientID string, cleanSession bool) (sessionPresent bool, err error) {
	if clientID == "" {
		return false, protocolErr("empty_client_id", "client identifier must not be empty")
	}

	now := time.Now().Unix()

	b.mu.Lock()
	defer b.mu.Unlock()

	if cleanSession {
		b.sessions.Delete(clientID)
		b.clients[clientID] = &clientState{
			session:  newSession(clientID, true, now),
			inflight: newInflightTable(),
		}
		return false, nil
	}

	if restored, ok := b.sessions.Load(clientID); ok {
		restored.CleanSession = false
		restored.ConnectedAt = now
		restored.LastSeen = now
		for filter, qos := range restored.Subscriptions {
			b.topics.subscribe(filter, qos, clientID)
		}

		inflight := newInflightTable()
		flushed := flushPending(b.packetIDs, inflight, restored.Pending)
		restored.Pending = nil

		b.clients[clientID] = &clientState{session: restored, inflight: inflight}
		b.logger.Info("restored persistent session", "client_id", clientID, "flushed_pending", flushed)
		return true, nil
	}

	b.clients[clientID] = &clientState{
		session:  newSession(clientID, false, now),
		inflight: newInflightTable(),
	}
	return false, nil
}

// Disconnect tears down a client's connection-time state, persisting the
// session if it is not a clean session, and dropping its subscriptions
// otherwise.
func (b *Broker) Disconnect(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.clients[clientID]
	if !ok {
		return
	}
	delete(b.clients, clientID)

	if !state.session.CleanSession {
		state.session.LastSeen = time.Now().Unix()
		for _, m := range state.inflight.pending() {
			state.session.Pending = append(state.session.Pending, PendingMessage{
				PacketID: m.PacketID,
				Topic:    m.Topic,
				Payload:  m.Payload,
				QoS:      m.QoS,
				State:    m.State,
				Sent:     true,
			})
		}
		b.sessions.Save(state.session)
		b.logger.Info("persisted session", "client_id", clientID, "pending_messages", len(state.session.Pending))
		return
	}

	b.topics.unsubscribeAll(clientID)
	b.logger.Info("cleaned up clean session", "client_id", clientID)
}

// Touch updates a client's last-seen timestamp. Per the design note that
// last_seen advances on every inbound packet, not only PINGREQ, callers
// invoke this from the read loop for every decoded packet.
func (b *Broker) Touch(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state, ok := b.clients[clientID]; ok {
		state.session.LastSeen = time.Now().Unix()
	}
}

// Subscribe adds filter/qos pairs to a client's session and immediately
// delivers any matching retained messages.
func (b *Broker) Subscribe(clientID string, topics []string, qos []uint8) ([]uint8, error) {
	if len(topics) != len(qos) {
		return nil, protocolErr("mismatched_subscribe", "topic and QoS slice lengths differ")
	}

	b.mu.Lock()
	state, ok := b.clients[clientID]
	if !ok {
		b.mu.Unlock()
		return nil, protocolErr("unknown_client", "client is not connected")
	}

	grantedCodes := make([]uint8, len(topics))
	var retainedDeliveries []func()

	for i, filter := range topics {
		if err := validateSubscribeTopic(filter, b.config.MaxTopicLength); err != nil {
			grantedCodes[i] = 0x80
			continue
		}

		granted := qos[i]
		if granted > 2 {
			granted = 2
		}
		b.topics.subscribe(filter, granted, clientID)
		state.session.Subscriptions[filter] = granted
		grantedCodes[i] = granted

		for topic, msg := range b.topics.retainedForFilter(filter) {
			topic, msg := topic, msg
			retainedDeliveries = append(retainedDeliveries, func() {
				b.deliver(clientID, topic, msg.Payload, msg.QoS, true)
			})
		}
	}

	if !state.session.CleanSession {
		b.sessions.Save(state.session)
	}
	b.mu.Unlock()

	for _, deliver := range retainedDeliveries {
		deliver()
	}

	return grantedCodes, nil
}

// Unsubscribe removes filters from a client's session.
func (b *Broker) Unsubscribe(clientID string, filters []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.clients[clientID]
	if !ok {
		return protocolErr("unknown_client", "client is not connected")
	}

	for _, filter := range filters {
		b.topics.unsubscribe(filter, clientID)
		delete(state.session.Subscriptions, filter)
	}

	if !state.session.CleanSession {
		b.sessions.Save(state.session)
	}
	return nil
}

// Publish handles an inbound PUBLISH: it stores retained state, matches
// fixtures for an auto-response (unless this call IS already a fixture
// response, preventing infinite recursion), and routes the payload to every
// matching subscriber.
func (b *Broker) Publish(clientID, topic string, payload []byte, qos uint8, retain bool) error {
	return b.publish(clientID, topic, payload, qos, retain, false)
}

// publishFixtureResponse re-publishes a fixture-generated payload without
// re-triggering fixture lookup.
func (b *Broker) publishFixtureResponse(clientID, topic string, payload []byte, qos uint8, retain bool) error {
	return b.publish(clientID, topic, payload, qos, retain, true)
}

func (b *Broker) publish(clientID, topic string, payload []byte, qos uint8, retain bool, isFixtureResponse bool) error {
	if err := validatePublishTopic(topic, b.config.MaxTopicLength); err != nil {
		return err
	}
	if err := validatePayload(payload, b.config.MaxPayloadSize); err != nil {
		return err
	}

	b.mu.Lock()
	if retain {
		b.topics.retainMessage(topic, payload, qos)
	}
	subscribers := b.topics.matchSubscribers(topic)
	var fixture *Fixture
	if !isFixtureResponse && b.fixtures != nil {
		fixture = b.fixtures.FindByTopic(topic)
	}
	b.mu.Unlock()

	for _, sub := range subscribers {
		b.deliver(sub.ClientID, topic, payload, minQoS(qos, sub.QoS), false)
	}

	if fixture != nil {
		response, err := b.renderFixture(fixture, topic, payload)
		if err != nil {
			b.logger.Warn("failed to render fixture response", "fixture", fixture.Identifier, "error", err)
		} else if err := b.publishFixtureResponse(clientID, topic, response, fixture.QoS, fixture.Retained); err != nil {
			b.logger.Warn("failed to publish fixture response", "fixture", fixture.Identifier, "error", err)
		}
	}

	return nil
}

func minQoS(a, b uint8) uint8 {
	if a < b {
		return a
	}
	return b
}

func (b *Broker) renderFixture(f *Fixture, topic string, receivedPayload []byte) ([]byte, error) {
	ctx := templating.New()
	ctx.Set("topic", topic)
	ctx.Set("payload", string(receivedPayload))
	return []byte(ctx.ExpandString(string(f.ResponseBody))), nil
}

// deliver sends a message to a connected client via the configured
// Transport, assigning a packet ID and recording inflight state for QoS>0.
// If the client is not currently connected, the message is queued onto the
// client's persistent session (QoS>0) or dropped (QoS 0), per MQTT 3.1.1's
// offline message queuing for non-clean sessions.
func (b *Broker) deliver(clientID, topic string, payload []byte, qos uint8, retain bool) {
	b.mu.Lock()
	state, ok := b.clients[clientID]
	if !ok {
		b.mu.Unlock()
		b.queueOffline(clientID, topic, payload, qos)
		return
	}

	var packetID uint16
	if qos > 0 {
		packetID = b.packetIDs.Next()
		state.inflight.addOutbound(&inflightMessage{
			PacketID: packetID,
			Topic:    topic,
			Payload:  payload,
			QoS:      qos,
			State:    stateAwaitingPuback,
		})
	}
	b.mu.Unlock()

	if b.transport == nil {
		return
	}
	if err := b.transport.Deliver(clientID, topic, payload, qos, retain, false, packetID); err != nil {
		b.logger.Warn("delivery failed", "client_id", clientID, "topic", topic, "error", err)
	}
}

// queueOffline enqueues a QoS>0 message for a disconnected client's
// persistent session, so it is redelivered on the next reconnect. QoS 0
// messages and messages addressed to clean sessions (or clients unknown to
// the session store) are dropped, matching the at-most-once contract.
func (b *Broker) queueOffline(clientID, topic string, payload []byte, qos uint8) {
	if qos == 0 {
		b.logger.Debug("dropping QoS0 message for disconnected client", "client_id", clientID)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sess, ok := b.sessions.Load(clientID)
	if !ok || sess.CleanSession {
		b.logger.Warn("cannot route message to disconnected client", "client_id", clientID)
		return
	}

	state := stateAwaitingPuback
	if qos == 2 {
		state = stateAwaitingPubrec
	}
	sess.Pending = append(sess.Pending, PendingMessage{
		Topic:   topic,
		Payload: append([]byte(nil), payload...),
		QoS:     qos,
		State:   state,
	})
	b.sessions.Save(sess)
	b.logger.Info("queued message for offline persistent session", "client_id", clientID, "topic", topic)
}

// flushPending converts a restored session's queued messages into inflight
// outbound entries, assigning fresh packet ids to messages that were never
// actually dispatched before the client went offline, and preserving the
// original packet id (for DUP redelivery) for messages that were. It
// returns the number of messages flushed.
func flushPending(packetIDs *packetIDGenerator, inflight *inflightTable, pending []PendingMessage) int {
	for _, pm := range pending {
		packetID := pm.PacketID
		state := pm.State
		if !pm.Sent || packetID == 0 {
			packetID = packetIDs.Next()
			state = stateAwaitingPuback
			if pm.QoS == 2 {
				state = stateAwaitingPubrec
			}
		}
		inflight.addOutbound(&inflightMessage{
			PacketID: packetID,
			Topic:    pm.Topic,
			Payload:  pm.Payload,
			QoS:      pm.QoS,
			State:    state,
		})
	}
	return len(pending)
}

// AckPuback completes a QoS1 delivery for clientID.
func (b *Broker) AckPuback(clientID string, packetID uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state, ok := b.clients[clientID]; ok {
		state.inflight.ackPuback(packetID)
	}
}

// AckPubrec advances a QoS2 delivery to awaiting-PUBCOMP and reports the
// PUBREL the broker must now send.
func (b *Broker) AckPubrec(clientID string, packetID uint16) (ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, exists := b.clients[clientID]
	if !exists {
		return false
	}
	_, ok = state.inflight.ackPubrec(packetID)
	return ok
}

// AckPubcomp completes a QoS2 delivery for clientID.
func (b *Broker) AckPubcomp(clientID string, packetID uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state, ok := b.clients[clientID]; ok {
		state.inflight.ackPubcomp(packetID)
	}
}

// MarkQoS2Received/ReleaseQoS2 govern the inbound QoS2 handshake: handling a
// PUBLISH with QoS2 calls MarkQoS2Received, which reports whether the packet
// ID is already awaiting PUBREL, so a PUBLISH retransmitted with DUP before
// the PUBREL arrives is not routed a second time; receiving the PUBREL calls
// ReleaseQoS2, which clears the packet ID and reports whether it had been
// seen.
func (b *Broker) MarkQoS2Received(clientID string, packetID uint16) (duplicate bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.clients[clientID]
	if !ok {
		return false
	}
	duplicate = state.inflight.isDuplicateInbound(packetID)
	state.inflight.markInboundReceived(packetID)
	return duplicate
}

func (b *Broker) ReleaseQoS2(clientID string, packetID uint16) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.clients[clientID]
	if !ok {
		return false
	}
	return state.inflight.releaseInbound(packetID)
}

// PendingRedelivery returns the redelivery plan for a client's in-flight
// messages on reconnect: QoS2 deliveries already past PUBREC resend PUBREL;
// everything else resends PUBLISH with DUP set.
func (b *Broker) PendingRedelivery(clientID string) []*inflightMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	state, ok := b.clients[clientID]
	if !ok {
		return nil
	}
	return state.inflight.pending()
}

// GetConnectedClients lists every currently connected client ID.
func (b *Broker) GetConnectedClients() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.clients))
	for id := range b.clients {
		out = append(out, id)
	}
	return out
}

// GetClientInfo returns a snapshot of a connected client's session.
func (b *Broker) GetClientInfo(clientID string) (*Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	state, ok := b.clients[clientID]
	if !ok {
		return nil, false
	}
	return state.session.clone(), true
}

// GetActiveTopics returns every subscription filter and retained topic,
// deduplicated and sorted.
func (b *Broker) GetActiveTopics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, t := range b.topics.allTopicFilters() {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	for _, t := range b.topics.allRetainedTopics() {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// GetTopicStats reports subscription and retained-message counts.
func (b *Broker) GetTopicStats() TopicStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.topics.stats()
}

// DisconnectClient forcibly tears down a client's session (administrative
// disconnect), equivalent to the client sending DISCONNECT.
func (b *Broker) DisconnectClient(clientID string) error {
	b.mu.RLock()
	_, ok := b.clients[clientID]
	b.mu.RUnlock()
	if !ok {
		return mockerr.New(mockerr.KindProtocol, "unknown_client", fmt.Sprintf("client %s is not connected", clientID))
	}
	b.Disconnect(clientID)
	return nil
}
