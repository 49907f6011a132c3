package gossip

import (
	"bytes"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestCodec_MemListRoundTrip(t *testing.T) {
	in := MemListMessage(Snapshot{
		Self: 9001,
		Members: map[Port]Heartbeat{
			9001:  {Count: 0, LastSeen: 1_700_000_000},
			9002:  {Count: 5, LastSeen: 1_700_000_003},
			65535: {Count: 1 << 40, LastSeen: -1},
		},
	})

	b, err := Encode(in, DefaultMaxDatagramSize)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if out.Kind != KindMemList {
		t.Fatalf("Kind = %v, want memlist", out.Kind)
	}
	if out.MemList.Self != 9001 {
		t.Errorf("Self = %d, want 9001", out.MemList.Self)
	}
	if len(out.MemList.Members) != 3 {
		t.Fatalf("Expected 3 members, got %d", len(out.MemList.Members))
	}
	for p, hb := range in.MemList.Members {
		if out.MemList.Members[p] != hb {
			t.Errorf("Member %d = %+v, want %+v", p, out.MemList.Members[p], hb)
		}
	}
}

func TestCodec_TextMessages(t *testing.T) {
	for _, in := range []Message{DataMessage("hello from 9002"), ErrorMessage("timed out"), DataMessage("")} {
		b, err := Encode(in, DefaultMaxDatagramSize)
		if err != nil {
			t.Fatalf("Encode(%v): %v", in.Kind, err)
		}
		out, err := Decode(b)
		if err != nil {
			t.Fatalf("Decode(%v): %v", in.Kind, err)
		}
		if out.Kind != in.Kind || out.Text != in.Text {
			t.Errorf("Got %+v, want %+v", out, in)
		}
	}
}

func TestCodec_NoSelfAndEmptyView(t *testing.T) {
	b, err := Encode(MemListMessage(Snapshot{}), 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Kind != KindMemList || out.MemList.Self != 0 || len(out.MemList.Members) != 0 {
		t.Errorf("Unexpected decode of empty view: %+v", out)
	}
}

func TestCodec_Deterministic(t *testing.T) {
	members := map[Port]Heartbeat{}
	for p := Port(9001); p < 9030; p++ {
		members[p] = Heartbeat{Count: uint64(p), LastSeen: int64(p)}
	}
	s := Snapshot{Self: 9001, Members: members}

	first, err := Encode(MemListMessage(s), 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, _ := Encode(MemListMessage(s), 0)
		if !bytes.Equal(first, again) {
			t.Fatal("Encoding the same snapshot produced different bytes")
		}
	}
}

func TestCodec_TooLarge(t *testing.T) {
	members := map[Port]Heartbeat{}
	for p := Port(10000); p < 10200; p++ {
		members[p] = Heartbeat{Count: 1, LastSeen: 1_700_000_000}
	}
	msg := MemListMessage(Snapshot{Self: 10000, Members: members})

	if _, err := Encode(msg, DefaultMaxDatagramSize); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("Expected ErrMessageTooLarge, got %v", err)
	}
	if _, err := Encode(msg, 0); err != nil {
		t.Errorf("Size check disabled, got %v", err)
	}
}

func TestCodec_UnknownKind(t *testing.T) {
	if _, err := Encode(Message{}, 0); err == nil {
		t.Error("Expected error encoding a zero Message")
	}
}

func envelope(fields ...func([]byte) []byte) []byte {
	var b []byte
	for _, f := range fields {
		b = f(b)
	}
	return b
}

func withVersion(v uint64) func([]byte) []byte {
	return func(b []byte) []byte {
		b = protowire.AppendTag(b, envVersion, protowire.VarintType)
		return protowire.AppendVarint(b, v)
	}
}

func withData(s string) func([]byte) []byte {
	return func(b []byte) []byte {
		b = protowire.AppendTag(b, envData, protowire.BytesType)
		return protowire.AppendString(b, s)
	}
}

func withUnknown() func([]byte) []byte {
	return func(b []byte) []byte {
		b = protowire.AppendTag(b, 15, protowire.BytesType)
		return protowire.AppendBytes(b, []byte("future"))
	}
}

func withMember(port uint64) func([]byte) []byte {
	return func(b []byte) []byte {
		var mb []byte
		mb = protowire.AppendTag(mb, memberPort, protowire.VarintType)
		mb = protowire.AppendVarint(mb, port)
		var lb []byte
		lb = protowire.AppendTag(lb, listMember, protowire.BytesType)
		lb = protowire.AppendBytes(lb, mb)
		b = protowire.AppendTag(b, envMemList, protowire.BytesType)
		return protowire.AppendBytes(b, lb)
	}
}

func TestCodec_DecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		wantErr error
	}{
		{"garbage", []byte{0xff, 0xff, 0xff}, ErrMalformed},
		{"truncated", func() []byte {
			b, _ := Encode(DataMessage("hello world"), 0)
			return b[:len(b)-3]
		}(), ErrMalformed},
		{"empty", nil, ErrMalformed},
		{"missing version", envelope(withData("x")), ErrMalformed},
		{"future version", envelope(withVersion(2), withData("x")), ErrUnsupportedVersion},
		{"no case", envelope(withVersion(1)), ErrMalformed},
		{"two cases", envelope(withVersion(1), withData("a"), withData("b")), ErrMalformed},
		{"port zero", envelope(withVersion(1), withMember(0)), ErrMalformed},
		{"port overflow", envelope(withVersion(1), withMember(70000)), ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCodec_SkipsUnknownFields(t *testing.T) {
	m, err := Decode(envelope(withVersion(1), withUnknown(), withData("still readable")))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Kind != KindData || m.Text != "still readable" {
		t.Errorf("Got %+v", m)
	}
}
