package packets

import (
	"bytes"
	"testing"
)

func TestVarIntRoundTrip(t *testing.T) {
	cases := []int{0, 1, 127, 128, 16383, 16384, 2097151, 2097152, maxRemainingLength}
	for _, v := range cases {
		encoded := encodeVarInt(v)
		got, err := decodeVarInt(bytes.NewReader(encoded))
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %d: got %d", v, got)
		}
	}
}

func TestVarIntRejectsOverLimit(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic encoding over-limit value")
		}
	}()
	encodeVarInt(maxRemainingLength + 1)
}

func TestFixedHeaderRoundTrip(t *testing.T) {
	h := &FixedHeader{PacketType: PUBLISH, Flags: 0x0B, RemainingLength: 300}
	var buf bytes.Buffer
	if _, err := h.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := DecodeFixedHeader(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PacketType != h.PacketType || got.Flags != h.Flags || got.RemainingLength != h.RemainingLength {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestConnectRoundTrip(t *testing.T) {
	pkt := &ConnectPacket{
		ProtocolName:  "MQTT",
		ProtocolLevel: 4,
		CleanSession:  true,
		WillFlag:      true,
		WillQoS:       1,
		WillRetain:    false,
		UsernameFlag:  true,
		PasswordFlag:  true,
		KeepAlive:     60,
		ClientID:      "test-client",
		WillTopic:     "clients/test-client/status",
		WillMessage:   []byte("offline"),
		Username:      "alice",
		Password:      []byte("s3cret"),
	}

	var buf bytes.Buffer
	if _, err := pkt.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	header, err := DecodeFixedHeader(&buf)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if header.PacketType != CONNECT {
		t.Fatalf("expected CONNECT, got %d", header.PacketType)
	}

	body := make([]byte, header.RemainingLength)
	if _, err := buf.Read(body); err != nil {
		t.Fatalf("read body: %v", err)
	}

	got, err := DecodeConnect(body)
	if err != nil {
		t.Fatalf("decode connect: %v", err)
	}

	if got.ClientID != pkt.ClientID || got.Username != pkt.Username || string(got.Password) != string(pkt.Password) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.WillTopic != pkt.WillTopic || string(got.WillMessage) != string(pkt.WillMessage) {
		t.Fatalf("will fields mismatch: %+v", got)
	}
	if !got.CleanSession || !got.WillFlag || got.WillQoS != 1 {
		t.Fatalf("flag fields mismatch: %+v", got)
	}
}

func TestPublishRoundTripQoS1(t *testing.T) {
	pkt := &PublishPacket{
		QoS:      1,
		Retain:   true,
		Topic:    "sensors/kitchen/temp",
		PacketID: 42,
		Payload:  []byte("21.5"),
	}

	var buf bytes.Buffer
	if _, err := pkt.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	decoded, err := ReadPacket(&buf, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got, ok := decoded.(*PublishPacket)
	if !ok {
		t.Fatalf("expected *PublishPacket, got %T", decoded)
	}
	if got.Topic != pkt.Topic || string(got.Payload) != string(pkt.Payload) || got.PacketID != 42 || !got.Retain {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestPublishQoS0HasNoPacketID(t *testing.T) {
	pkt := &PublishPacket{QoS: 0, Topic: "a/b", Payload: []byte("x")}
	data, err := pkt.Encode(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := ReadPacket(bytes.NewReader(data), 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := decoded.(*PublishPacket)
	if got.PacketID != 0 {
		t.Fatalf("expected zero packet id for QoS0, got %d", got.PacketID)
	}
}

func TestSubscribeRoundTrip(t *testing.T) {
	pkt := &SubscribePacket{
		PacketID: 7,
		Topics:   []string{"a/b", "c/+/d", "e/#"},
		QoS:      []uint8{0, 1, 2},
	}

	var buf bytes.Buffer
	if _, err := pkt.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	decoded, err := ReadPacket(&buf, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := decoded.(*SubscribePacket)
	if len(got.Topics) != 3 || got.QoS[2] != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestPingPacketsHaveNoBody(t *testing.T) {
	for _, pkt := range []Packet{&PingreqPacket{}, &PingrespPacket{}, &DisconnectPacket{}} {
		var buf bytes.Buffer
		if _, err := pkt.WriteTo(&buf); err != nil {
			t.Fatalf("write %T: %v", pkt, err)
		}
		if buf.Len() != 2 {
			t.Fatalf("expected 2-byte packet for %T, got %d bytes", pkt, buf.Len())
		}
	}
}

func TestReadPacketRejectsOversizedPacket(t *testing.T) {
	var buf bytes.Buffer
	h := &FixedHeader{PacketType: PUBLISH, RemainingLength: 1000}
	h.WriteTo(&buf)
	buf.Write(make([]byte, 1000))

	if _, err := ReadPacket(&buf, 10); err == nil {
		t.Fatalf("expected size-limit error")
	}
}

func FuzzReadPacket(f *testing.F) {
	f.Add([]byte{0x10, 0x00})
	f.Add([]byte{0x20, 0x02, 0x00, 0x00})
	f.Add([]byte{0x30, 0x00})
	f.Add([]byte{0xc0, 0x00})
	f.Add([]byte{0xd0, 0x00})
	f.Add([]byte{0xe0, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = ReadPacket(bytes.NewReader(data), 0)
	})
}

func FuzzDecodeFixedHeader(f *testing.F) {
	f.Add([]byte{0x10, 0x00})
	f.Add([]byte{0x30, 0x7f})
	f.Add([]byte{0x30, 0x80, 0x01})
	f.Add([]byte{0x30, 0xff, 0xff, 0xff, 0x7f})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodeFixedHeader(bytes.NewReader(data))
	})
}
