package broker

// PendingMessage is a QoS>0 delivery destined for a persistent session that
// currently has no connected client: either it was never dispatched because
// the client was already offline, or it was in flight (sent but not yet
// acknowledged) when the client disconnected. Both cases are queued here and
// flushed back into a fresh inflightTable when the client reconnects.
type PendingMessage struct {
	PacketID uint16 // 0 if never dispatched; a fresh packet id is assigned on flush
	Topic    string
	Payload  []byte
	QoS      uint8
	State    inflightState
	Sent     bool // true if PacketID was already handed to the client before disconnect
}

func (m PendingMessage) clone() PendingMessage {
	payload := make([]byte, len(m.Payload))
	copy(payload, m.Payload)
	m.Payload = payload
	return m
}

// Session is a client's MQTT session state: its subscription set, queued
// QoS>0 deliveries awaiting a reconnect, and liveness bookkeeping. Clean
// sessions are discarded on disconnect; persistent (non-clean) sessions
// survive disconnects and are restored on reconnect, per MQTT 3.1.1
// §3.1.2.4.
type Session struct {
	ClientID      string
	Subscriptions map[string]uint8 // filter -> qos
	Pending       []PendingMessage
	CleanSession  bool
	ConnectedAt   int64
	LastSeen      int64
}

func newSession(clientID string, clean bool, now int64) *Session {
	return &Session{
		ClientID:      clientID,
		Subscriptions: make(map[string]uint8),
		CleanSession:  clean,
		ConnectedAt:   now,
		LastSeen:      now,
	}
}

func (s *Session) clone() *Session {
	subs := make(map[string]uint8, len(s.Subscriptions))
	for k, v := range s.Subscriptions {
		subs[k] = v
	}
	pending := make([]PendingMessage, len(s.Pending))
	for i, m := range s.Pending {
		pending[i] = m.clone()
	}
	return &Session{
		ClientID:      s.ClientID,
		Subscriptions: subs,
		Pending:       pending,
		CleanSession:  s.CleanSession,
		ConnectedAt:   s.ConnectedAt,
		LastSeen:      s.LastSeen,
	}
}

// SessionStore persists sessions for clients that connect with
// CleanSession=false, so subscriptions and queued QoS>0 deliveries survive a
// disconnect/reconnect cycle.
//
// The default implementation is an in-memory map; a file-backed store can be
// substituted the way the client's file_store.go substitutes for its
// in-memory token store.
type SessionStore interface {
	Load(clientID string) (*Session, bool)
	Save(session *Session)
	Delete(clientID string)
}

type memorySessionStore struct {
	sessions map[string]*Session
}

// NewMemorySessionStore returns a SessionStore backed by an in-process map.
// Sessions do not survive process restart.
func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{sessions: make(map[string]*Session)}
}

func (m *memorySessionStore) Load(clientID string) (*Session, bool) {
	s, ok := m.sessions[clientID]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

func (m *memorySessionStore) Save(session *Session) {
	m.sessions[session.ClientID] = session.clone()
}

func (m *memorySessionStore) Delete(clientID string) {
	delete(m.sessions, clientID)
}
