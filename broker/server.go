package broker

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/SaaSy-Solutions/mockforge-sub003/broker/packets"
)

// Default listener ports per the MQTT specification.
const (
	DefaultPort    = 1883
	DefaultTLSPort = 8883
)

// ServerConfig configures the TCP/TLS listener that fronts a Broker.
type ServerConfig struct {
	Address      string // host:port; defaults to ":1883" (or ":8883" with TLSConfig set)
	TLSConfig    *tls.Config
	ReadTimeout  time.Duration // 1.5x KeepAlive per 3.1.1 §3.1.2.10 when KeepAlive > 0
	KeepAlive    time.Duration
	Logger       *slog.Logger
}

// Server accepts TCP/TLS connections and drives the MQTT session protocol
// against a Broker using a single goroutine per connection: read a packet,
// handle it synchronously, write any reply, repeat. This mirrors the
// client's own cooperative single-goroutine logic loop, just turned inside
// out for the accepting side.
type Server struct {
	broker *Broker
	config ServerConfig
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]net.Conn
	ln    net.Listener
}

// NewServer wires a Server to a Broker and registers itself as the Broker's
// delivery Transport.
func NewServer(b *Broker, config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.Address == "" {
		if config.TLSConfig != nil {
			config.Address = fmt.Sprintf(":%d", DefaultTLSPort)
		} else {
			config.Address = fmt.Sprintf(":%d", DefaultPort)
		}
	}
	if config.ReadTimeout == 0 && config.KeepAlive > 0 {
		config.ReadTimeout = config.KeepAlive * 3 / 2
	}

	s := &Server{
		broker: b,
		config: config,
		logger: logger,
		conns:  make(map[string]net.Conn),
	}
	b.transport = s
	return s
}

// Deliver implements broker.Transport by writing a PUBLISH packet directly
// to the client's connection, if still registered.
func (s *Server) Deliver(clientID, topic string, payload []byte, qos uint8, retain, dup bool, packetID uint16) error {
	s.mu.Lock()
	conn, ok := s.conns[clientID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("client %s has no active connection", clientID)
	}

	pkt := &packets.PublishPacket{
		Dup:      dup,
		QoS:      qos,
		Retain:   retain,
		Topic:    topic,
		PacketID: packetID,
		Payload:  payload,
	}
	_, err := pkt.WriteTo(conn)
	return err
}

// ListenAndServe starts accepting connections and blocks until the listener
// is closed or Serve returns an error.
func (s *Server) ListenAndServe() error {
	var ln net.Listener
	var err error

	if s.config.TLSConfig != nil {
		ln, err = tls.Listen("tcp", s.config.Address, s.config.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", s.config.Address)
	}
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Address, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	return s.Serve(ln)
}

// Serve accepts connections on an already-bound listener.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReader(conn)

	clientID, err := s.handshake(conn, br)
	if err != nil {
		s.logger.Warn("connect handshake failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	s.mu.Lock()
	s.conns[clientID] = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, clientID)
		s.mu.Unlock()
		s.broker.Disconnect(clientID)
	}()

	s.sessionLoop(clientID, conn, br)
}

// handshake reads and validates the CONNECT packet and writes a CONNACK.
// It returns the negotiated client ID.
func (s *Server) handshake(conn net.Conn, br *bufio.Reader) (string, error) {
	pkt, err := packets.ReadPacket(br, DefaultMaxIncomingPacket)
	if err != nil {
		return "", fmt.Errorf("read CONNECT: %w", err)
	}

	connect, ok := pkt.(*packets.ConnectPacket)
	if !ok {
		return "", fmt.Errorf("expected CONNECT, got %s", packets.TypeName(pkt.Type()))
	}

	if connect.ProtocolName != "MQTT" || connect.ProtocolLevel != 4 {
		ack := &packets.ConnackPacket{ReturnCode: packets.ConnRefusedUnacceptableProtocol}
		ack.WriteTo(conn)
		return "", fmt.Errorf("unacceptable protocol %q level %d", connect.ProtocolName, connect.ProtocolLevel)
	}

	clientID := connect.ClientID
	if clientID == "" {
		if !connect.CleanSession {
			ack := &packets.ConnackPacket{ReturnCode: packets.ConnRefusedIdentifierRejected}
			ack.WriteTo(conn)
			return "", fmt.Errorf("empty client id requires clean session")
		}
		clientID = generateClientID()
	}

	present, err := s.broker.Connect(clientID, connect.CleanSession)
	if err != nil {
		ack := &packets.ConnackPacket{ReturnCode: packets.ConnRefusedServerUnavailable}
		ack.WriteTo(conn)
		return "", err
	}

	ack := &packets.ConnackPacket{SessionPresent: present, ReturnCode: packets.ConnAccepted}
	if _, err := ack.WriteTo(conn); err != nil {
		return "", fmt.Errorf("write CONNACK: %w", err)
	}

	for _, pending := range s.broker.PendingRedelivery(clientID) {
		s.redeliver(conn, pending)
	}

	return clientID, nil
}

func (s *Server) redeliver(conn net.Conn, msg *inflightMessage) {
	if msg.State == stateAwaitingPubcomp {
		rel := &packets.PubrelPacket{PacketID: msg.PacketID}
		rel.WriteTo(conn)
		return
	}
	pub := &packets.PublishPacket{
		Dup:      true,
		QoS:      msg.QoS,
		Topic:    msg.Topic,
		PacketID: msg.PacketID,
		Payload:  msg.Payload,
	}
	pub.WriteTo(conn)
}

// sessionLoop reads and handles packets for an already-connected client
// until the connection closes, a DISCONNECT arrives, or the keep-alive
// window elapses without any inbound packet.
func (s *Server) sessionLoop(clientID string, conn net.Conn, br *bufio.Reader) {
	for {
		if s.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		pkt, err := packets.ReadPacket(br, DefaultMaxIncomingPacket)
		if err != nil {
			s.logger.Debug("read error, closing session", "client_id", clientID, "error", err)
			return
		}

		s.broker.Touch(clientID)

		if err := s.handlePacket(clientID, conn, pkt); err != nil {
			s.logger.Warn("error handling packet", "client_id", clientID, "type", packets.TypeName(pkt.Type()), "error", err)
		}

		if pkt.Type() == packets.DISCONNECT {
			return
		}
	}
}

func (s *Server) handlePacket(clientID string, conn net.Conn, pkt packets.Packet) error {
	switch p := pkt.(type) {
	case *packets.PublishPacket:
		return s.handlePublish(clientID, conn, p)
	case *packets.PubackPacket:
		s.broker.AckPuback(clientID, p.PacketID)
		return nil
	case *packets.PubrecPacket:
		if s.broker.AckPubrec(clientID, p.PacketID) {
			rel := &packets.PubrelPacket{PacketID: p.PacketID}
			_, err := rel.WriteTo(conn)
			return err
		}
		return nil
	case *packets.PubrelPacket:
		s.broker.ReleaseQoS2(clientID, p.PacketID)
		comp := &packets.PubcompPacket{PacketID: p.PacketID}
		_, err := comp.WriteTo(conn)
		return err
	case *packets.PubcompPacket:
		s.broker.AckPubcomp(clientID, p.PacketID)
		return nil
	case *packets.SubscribePacket:
		codes, err := s.broker.Subscribe(clientID, p.Topics, p.QoS)
		if err != nil {
			return err
		}
		ack := &packets.SubackPacket{PacketID: p.PacketID, ReturnCodes: codes}
		_, err = ack.WriteTo(conn)
		return err
	case *packets.UnsubscribePacket:
		if err := s.broker.Unsubscribe(clientID, p.Topics); err != nil {
			return err
		}
		ack := &packets.UnsubackPacket{PacketID: p.PacketID}
		_, err := ack.WriteTo(conn)
		return err
	case *packets.PingreqPacket:
		resp := &packets.PingrespPacket{}
		_, err := resp.WriteTo(conn)
		return err
	case *packets.DisconnectPacket:
		return nil
	default:
		return fmt.Errorf("unexpected packet type %s", packets.TypeName(pkt.Type()))
	}
}

func (s *Server) handlePublish(clientID string, conn net.Conn, p *packets.PublishPacket) error {
	switch p.QoS {
	case packets.QoS0:
		return s.broker.Publish(clientID, p.Topic, p.Payload, 0, p.Retain)

	case packets.QoS1:
		if err := s.broker.Publish(clientID, p.Topic, p.Payload, 1, p.Retain); err != nil {
			return err
		}
		ack := &packets.PubackPacket{PacketID: p.PacketID}
		_, err := ack.WriteTo(conn)
		return err

	case packets.QoS2:
		duplicate := s.broker.MarkQoS2Received(clientID, p.PacketID)
		if !duplicate {
			if err := s.broker.Publish(clientID, p.Topic, p.Payload, 2, p.Retain); err != nil {
				return err
			}
		}
		rec := &packets.PubrecPacket{PacketID: p.PacketID}
		_, err := rec.WriteTo(conn)
		return err

	default:
		return fmt.Errorf("invalid QoS %d in PUBLISH", p.QoS)
	}
}

var clientIDCounter uint64
var clientIDMu sync.Mutex

// generateClientID produces a server-assigned identifier for clients that
// connect with an empty ClientID and CleanSession set, staying within
// MaxClientIDLength.
func generateClientID() string {
	clientIDMu.Lock()
	clientIDCounter++
	id := clientIDCounter
	clientIDMu.Unlock()
	return fmt.Sprintf("mockforge-%08x", id)
}
