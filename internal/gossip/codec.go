package gossip

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout, protobuf encoded by hand:
//
//	Envelope: 1 version (varint), then exactly one of
//	          2 memlist (bytes), 3 data (string), 4 error (string)
//	MemList:  1 self (varint, omitted when 0), 2 member (bytes, repeated)
//	Member:   1 port, 2 count, 3 last_seen (all varint)
//
// Members are written in ascending port order so encoding is deterministic.
const (
	// WireVersion is the only envelope version this package speaks.
	WireVersion = 1

	// DefaultMaxDatagramSize is the receive buffer size and the largest
	// message Encode will produce by default.
	DefaultMaxDatagramSize = 1024
)

const (
	envVersion protowire.Number = 1
	envMemList protowire.Number = 2
	envData    protowire.Number = 3
	envError   protowire.Number = 4

	listSelf   protowire.Number = 1
	listMember protowire.Number = 2

	memberPort     protowire.Number = 1
	memberCount    protowire.Number = 2
	memberLastSeen protowire.Number = 3
)

var (
	// ErrMessageTooLarge is returned by Encode when the message would not
	// fit in a single datagram.
	ErrMessageTooLarge = errors.New("gossip: message exceeds datagram size")

	// ErrMalformed is returned by Decode for payloads that are not a valid
	// envelope.
	ErrMalformed = errors.New("gossip: malformed message")

	// ErrUnsupportedVersion is returned by Decode for envelopes written by
	// an incompatible peer.
	ErrUnsupportedVersion = errors.New("gossip: unsupported wire version")
)

// Encode serializes m. A non-positive maxSize disables the size check.
func Encode(m Message, maxSize int) ([]byte, error) {
	b := protowire.AppendTag(nil, envVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, WireVersion)

	switch m.Kind {
	case KindMemList:
		b = protowire.AppendTag(b, envMemList, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeMemList(m.MemList))
	case KindData:
		b = protowire.AppendTag(b, envData, protowire.BytesType)
		b = protowire.AppendString(b, m.Text)
	case KindError:
		b = protowire.AppendTag(b, envError, protowire.BytesType)
		b = protowire.AppendString(b, m.Text)
	default:
		return nil, fmt.Errorf("gossip: cannot encode message kind %d", m.Kind)
	}

	if maxSize > 0 && len(b) > maxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(b), maxSize)
	}
	return b, nil
}

func encodeMemList(s Snapshot) []byte {
	var b []byte
	if s.Self != 0 {
		b = protowire.AppendTag(b, listSelf, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.Self))
	}
	for _, p := range s.Ports() {
		hb := s.Members[p]
		var mb []byte
		mb = protowire.AppendTag(mb, memberPort, protowire.VarintType)
		mb = protowire.AppendVarint(mb, uint64(p))
		mb = protowire.AppendTag(mb, memberCount, protowire.VarintType)
		mb = protowire.AppendVarint(mb, hb.Count)
		mb = protowire.AppendTag(mb, memberLastSeen, protowire.VarintType)
		mb = protowire.AppendVarint(mb, uint64(hb.LastSeen))

		b = protowire.AppendTag(b, listMember, protowire.BytesType)
		b = protowire.AppendBytes(b, mb)
	}
	return b
}

// Decode parses a datagram produced by Encode. Unknown fields are skipped.
func Decode(b []byte) (Message, error) {
	var (
		m          Message
		version    uint64
		hasVersion bool
		cases      int
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, malformed("envelope tag", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == envVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, malformed("version", protowire.ParseError(n))
			}
			version, hasVersion = v, true
			b = b[n:]

		case num == envMemList && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Message{}, malformed("memlist", protowire.ParseError(n))
			}
			s, err := decodeMemList(raw)
			if err != nil {
				return Message{}, err
			}
			m = MemListMessage(s)
			cases++
			b = b[n:]

		case (num == envData || num == envError) && typ == protowire.BytesType:
			text, n := protowire.ConsumeString(b)
			if n < 0 {
				return Message{}, malformed("text", protowire.ParseError(n))
			}
			if num == envData {
				m = DataMessage(text)
			} else {
				m = ErrorMessage(text)
			}
			cases++
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, malformed("unknown field", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if !hasVersion {
		return Message{}, malformed("envelope", errors.New("missing version"))
	}
	if version != WireVersion {
		return Message{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	if cases != 1 {
		return Message{}, malformed("envelope", fmt.Errorf("%d message cases present, want 1", cases))
	}
	return m, nil
}

func decodeMemList(b []byte) (Snapshot, error) {
	s := Snapshot{Members: make(map[Port]Heartbeat)}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Snapshot{}, malformed("memlist tag", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == listSelf && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Snapshot{}, malformed("self", protowire.ParseError(n))
			}
			p, err := toPort(v)
			if err != nil {
				return Snapshot{}, err
			}
			s.Self = p
			b = b[n:]

		case num == listMember && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Snapshot{}, malformed("member", protowire.ParseError(n))
			}
			p, hb, err := decodeMember(raw)
			if err != nil {
				return Snapshot{}, err
			}
			s.Members[p] = hb
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Snapshot{}, malformed("memlist field", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return s, nil
}

func decodeMember(b []byte) (Port, Heartbeat, error) {
	var (
		port Port
		hb   Heartbeat
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, Heartbeat{}, malformed("member tag", protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.VarintType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, Heartbeat{}, malformed("member field", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, Heartbeat{}, malformed("member value", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case memberPort:
			p, err := toPort(v)
			if err != nil {
				return 0, Heartbeat{}, err
			}
			port = p
		case memberCount:
			hb.Count = v
		case memberLastSeen:
			hb.LastSeen = int64(v)
		}
	}
	if port == 0 {
		return 0, Heartbeat{}, malformed("member", errors.New("missing port"))
	}
	return port, hb, nil
}

func toPort(v uint64) (Port, error) {
	if v == 0 || v > 0xFFFF {
		return 0, malformed("port", fmt.Errorf("%d out of range", v))
	}
	return Port(v), nil
}

func malformed(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformed, what, err)
}
