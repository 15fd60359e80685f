package broker

import "sort"

// inflightState tracks where a QoS>0 delivery sits in its handshake.
type inflightState uint8

const (
	// stateAwaitingPuback: QoS 1 PUBLISH sent, waiting for PUBACK.
	stateAwaitingPuback inflightState = iota
	// stateAwaitingPubrec: QoS 2 PUBLISH sent, waiting for PUBREC.
	stateAwaitingPubrec
	// stateAwaitingPubcomp: QoS 2 PUBREC received, PUBREL sent, waiting for PUBCOMP.
	stateAwaitingPubcomp
)

// inflightMessage is an outbound QoS>0 delivery awaiting acknowledgment.
type inflightMessage struct {
	PacketID uint16
	Topic    string
	Payload  []byte
	QoS      uint8
	State    inflightState
}

// inflightTable tracks outbound in-flight deliveries per client, keyed by
// packet ID, and the packet IDs of inbound QoS2 PUBLISH packets a client has
// sent but not yet released with PUBREL.
type inflightTable struct {
	outbound map[uint16]*inflightMessage // packet id -> message
	inbound  map[uint16]bool             // packet ids received, awaiting PUBREL from the sender
}

func newInflightTable() *inflightTable {
	return &inflightTable{
		outbound: make(map[uint16]*inflightMessage),
		inbound:  make(map[uint16]bool),
	}
}

func (t *inflightTable) addOutbound(msg *inflightMessage) {
	t.outbound[msg.PacketID] = msg
}

func (t *inflightTable) get(packetID uint16) (*inflightMessage, bool) {
	m, ok := t.outbound[packetID]
	return m, ok
}

// ackPuback completes a QoS1 delivery.
func (t *inflightTable) ackPuback(packetID uint16) {
	delete(t.outbound, packetID)
}

// ackPubrec transitions a QoS2 delivery from awaiting-PUBREC to
// awaiting-PUBCOMP. Returns false if the packet ID is unknown, so the
// caller can decide whether this PUBREC is stale.
func (t *inflightTable) ackPubrec(packetID uint16) (*inflightMessage, bool) {
	m, ok := t.outbound[packetID]
	if !ok {
		return nil, false
	}
	m.State = stateAwaitingPubcomp
	return m, true
}

// ackPubcomp completes a QoS2 delivery.
func (t *inflightTable) ackPubcomp(packetID uint16) {
	delete(t.outbound, packetID)
}

// shouldResendAsPubrel reports whether a given outbound packet ID has
// already progressed past PUBREC, so broker-side redelivery on reconnect
// should resend PUBREL rather than re-publish with DUP set.
func (t *inflightTable) shouldResendAsPubrel(packetID uint16) bool {
	m, ok := t.outbound[packetID]
	return ok && m.State == stateAwaitingPubcomp
}

// markInboundReceived records that a QoS2 PUBLISH with this packet ID has
// been received and a PUBREC issued; the broker now waits for PUBREL.
func (t *inflightTable) markInboundReceived(packetID uint16) {
	t.inbound[packetID] = true
}

// releaseInbound completes the inbound QoS2 handshake on PUBREL, returning
// whether the packet ID had been seen (a duplicate PUBLISH during the
// handshake is not re-delivered to subscribers).
func (t *inflightTable) releaseInbound(packetID uint16) bool {
	seen := t.inbound[packetID]
	delete(t.inbound, packetID)
	return seen
}

func (t *inflightTable) isDuplicateInbound(packetID uint16) bool {
	return t.inbound[packetID]
}

// pending returns every outbound message still awaiting acknowledgment, in
// packet-ID order, for redelivery when a persistent session reconnects.
func (t *inflightTable) pending() []*inflightMessage {
	out := make([]*inflightMessage, 0, len(t.outbound))
	for _, m := range t.outbound {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PacketID < out[j].PacketID })
	return out
}
