package packets

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ConnectPacket represents an MQTT 3.1.1 CONNECT control packet.
type ConnectPacket struct {
	ProtocolName  string
	ProtocolLevel uint8

	CleanSession bool
	WillFlag     bool
	WillQoS      uint8
	WillRetain   bool
	PasswordFlag bool
	UsernameFlag bool

	KeepAlive uint16

	ClientID    string
	WillTopic   string
	WillMessage []byte
	Username    string
	Password    []byte
}

// Type returns the packet type.
func (p *ConnectPacket) Type() uint8 {
	return CONNECT
}

// connectFlags packs the CONNECT flags byte (3.1.1 §3.1.2.3).
func (p *ConnectPacket) connectFlags() byte {
	var flags byte
	if p.UsernameFlag {
		flags |= 1 << 7
	}
	if p.PasswordFlag {
		flags |= 1 << 6
	}
	if p.WillRetain {
		flags |= 1 << 5
	}
	flags |= (p.WillQoS & 0x03) << 3
	if p.WillFlag {
		flags |= 1 << 2
	}
	if p.CleanSession {
		flags |= 1 << 1
	}
	return flags
}

// Encode serializes the CONNECT packet into dst.
func (p *ConnectPacket) Encode(dst []byte) ([]byte, error) {
	protocolName := p.ProtocolName
	if protocolName == "" {
		protocolName = "MQTT"
	}

	var payload []byte
	payload = appendString(payload, protocolName)
	payload = append(payload, p.ProtocolLevel)
	payload = append(payload, p.connectFlags())
	payload = binary.BigEndian.AppendUint16(payload, p.KeepAlive)
	payload = appendString(payload, p.ClientID)

	if p.WillFlag {
		payload = appendString(payload, p.WillTopic)
		payload = appendBinary(payload, p.WillMessage)
	}
	if p.UsernameFlag {
		payload = appendString(payload, p.Username)
	}
	if p.PasswordFlag {
		payload = appendBinary(payload, p.Password)
	}

	header := FixedHeader{
		PacketType:      CONNECT,
		Flags:           0,
		RemainingLength: len(payload),
	}
	dst = header.appendBytes(dst)
	dst = append(dst, payload...)

	return dst, nil
}

// WriteTo writes the CONNECT packet to the writer.
func (p *ConnectPacket) WriteTo(w io.Writer) (int64, error) {
	bufPtr := GetBuffer(4096)
	defer PutBuffer(bufPtr)

	data, err := p.Encode((*bufPtr)[:0])
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// DecodeConnect decodes a CONNECT packet from the buffer.
func DecodeConnect(buf []byte) (*ConnectPacket, error) {
	pkt := &ConnectPacket{}

	protocolName, n, err := decodeString(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode protocol name: %w", err)
	}
	pkt.ProtocolName = protocolName
	offset := n

	if offset >= len(buf) {
		return nil, fmt.Errorf("buffer too short for protocol level")
	}
	pkt.ProtocolLevel = buf[offset]
	offset++

	if offset >= len(buf) {
		return nil, fmt.Errorf("buffer too short for connect flags")
	}
	flags := buf[offset]
	offset++

	pkt.UsernameFlag = flags&(1<<7) != 0
	pkt.PasswordFlag = flags&(1<<6) != 0
	pkt.WillRetain = flags&(1<<5) != 0
	pkt.WillQoS = (flags >> 3) & 0x03
	pkt.WillFlag = flags&(1<<2) != 0
	pkt.CleanSession = flags&(1<<1) != 0

	if offset+2 > len(buf) {
		return nil, fmt.Errorf("buffer too short for keep alive")
	}
	pkt.KeepAlive = binary.BigEndian.Uint16(buf[offset : offset+2])
	offset += 2

	clientID, n, err := decodeString(buf[offset:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode client id: %w", err)
	}
	pkt.ClientID = clientID
	offset += n

	if pkt.WillFlag {
		willTopic, n, err := decodeString(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode will topic: %w", err)
		}
		pkt.WillTopic = willTopic
		offset += n

		willMessage, n, err := decodeBinary(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode will message: %w", err)
		}
		pkt.WillMessage = willMessage
		offset += n
	}

	if pkt.UsernameFlag {
		username, n, err := decodeString(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode username: %w", err)
		}
		pkt.Username = username
		offset += n
	}

	if pkt.PasswordFlag {
		password, n, err := decodeBinary(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode password: %w", err)
		}
		pkt.Password = password
		offset += n
	}

	return pkt, nil
}
