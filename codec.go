package mdns

import (
	"golang.org/x/net/dns/dnsmessage"
)

// PacketType discriminates queries from responses.
type PacketType int

const (
	TypeQuery PacketType = iota
	TypeResponse
)

func (t PacketType) String() string {
	if t == TypeResponse {
		return "response"
	}
	return "query"
}

// Packet is a DNS message travelling over the transport.
type Packet struct {
	Type PacketType
	dnsmessage.Message
}

// Codec converts packets to and from their wire format.
type Codec interface {
	Encode(p *Packet) ([]byte, error)
	Decode(b []byte) (*Packet, error)
}

// DNSMessageCodec is the default Codec, built on x/net/dns/dnsmessage.
type DNSMessageCodec struct{}

// Encode packs p with name compression. The header's response bit follows
// p.Type.
func (DNSMessageCodec) Encode(p *Packet) ([]byte, error) {
	if p == nil {
		return nil, &EncodeError{Err: errNilPacket}
	}
	msg := p.Message
	msg.Header.Response = p.Type == TypeResponse
	b, err := msg.Pack()
	if err != nil {
		return nil, &EncodeError{Err: err}
	}
	return b, nil
}

// Decode unpacks a full DNS message. Truncated or malformed input returns
// a *DecodeError.
func (DNSMessageCodec) Decode(b []byte) (*Packet, error) {
	p := &Packet{}
	if err := p.Message.Unpack(b); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if p.Header.Response {
		p.Type = TypeResponse
	}
	return p, nil
}
