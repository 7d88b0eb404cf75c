package common

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeRequest(t *testing.T) {
	bytes, err := EncodeRequest(RRQ, "a.txt", ModeOctet)
	if err != nil {
		t.Fatal(err)
	}

	want := []byte{0, 1, 'a', '.', 't', 'x', 't', 0, 'o', 'c', 't', 'e', 't', 0}
	if !cmp.Equal(bytes, want) {
		t.Error(cmp.Diff(want, bytes))
	}
}

func TestEncodeRequestRejectsBadFields(t *testing.T) {
	tests := []struct {
		name     string
		op       Opcode
		filename string
		mode     string
	}{
		{"data opcode", DATA, "a", ModeOctet},
		{"empty filename", WRQ, "", ModeOctet},
		{"nul in filename", WRQ, "a\x00b", ModeOctet},
		{"empty mode", RRQ, "a", ""},
		{"nul in mode", RRQ, "a", "oct\x00et"},
		{"too long", RRQ, string(bytes.Repeat([]byte{'x'}, MaxPacketSize)), ModeOctet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeRequest(tt.op, tt.filename, tt.mode)
			var encErr *EncodingError
			if !errors.As(err, &encErr) {
				t.Fatalf("expected EncodingError, got %v", err)
			}
		})
	}
}

func TestDataRoundTrip(t *testing.T) {
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4242}

	for _, size := range []int{0, 1, 511, 512} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i * 7)
		}

		for _, block := range []uint16{1, 2, 65535, 0} {
			raw, err := EncodeData(block, payload)
			if err != nil {
				t.Fatal(err)
			}
			if len(raw) != HeaderSize+size {
				t.Fatalf("encoded length %d, want %d", len(raw), HeaderSize+size)
			}

			pck, err := DecodeData(raw, peer)
			if err != nil {
				t.Fatal(err)
			}

			want := &DataPacket{Block: block, Payload: payload, Peer: peer}
			if !cmp.Equal(pck, want) {
				t.Errorf("size %d block %d: %s", size, block, cmp.Diff(want, pck))
			}
			if pck.IsLast() != (size < BlockSize) {
				t.Errorf("size %d: IsLast() = %v", size, pck.IsLast())
			}
		}
	}
}

func TestDecodeDataCopiesPayload(t *testing.T) {
	raw, _ := EncodeData(1, []byte{1, 2, 3})
	pck, err := DecodeData(raw, nil)
	if err != nil {
		t.Fatal(err)
	}

	raw[4] = 99
	if pck.Payload[0] != 1 {
		t.Error("payload aliases the receive buffer")
	}
}

func TestEncodeDataTooLarge(t *testing.T) {
	_, err := EncodeData(1, make([]byte, BlockSize+1))
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError, got %v", err)
	}
}

func TestDecodeDataMalformed(t *testing.T) {
	tests := map[string][]byte{
		"empty":        {},
		"one byte":     {0},
		"three bytes":  {0, 3, 0},
		"ack opcode":   {0, 4, 0, 1},
		"rrq opcode":   {0, 1, 'a', 0, 'o', 0},
		"oversized":    append([]byte{0, 3, 0, 1}, make([]byte, BlockSize+1)...),
		"error opcode": {0, 5, 0, 1, 'x', 0},
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeData(raw, nil)
			var malformed *MalformedPacketError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedPacketError, got %v", err)
			}
		})
	}
}

func TestAck(t *testing.T) {
	raw := EncodeAck(513)
	if !cmp.Equal(raw, []byte{0, 4, 2, 1}) {
		t.Errorf("unexpected encoding %v", raw)
	}

	pck, err := DecodeAck(raw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if pck.Block != 513 {
		t.Errorf("block %d, want 513", pck.Block)
	}

	for _, raw := range [][]byte{{0, 4, 0}, {0, 4, 0, 1, 0}, {0, 3, 0, 1}} {
		_, err := DecodeAck(raw, nil)
		var malformed *MalformedPacketError
		if !errors.As(err, &malformed) {
			t.Errorf("%v: expected MalformedPacketError, got %v", raw, err)
		}
	}
}

func TestNewAck(t *testing.T) {
	peer := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 50000}
	ack := NewAck(&DataPacket{Block: 7, Payload: []byte{1}, Peer: peer})

	want := &AckPacket{Block: 7, Peer: peer}
	if !cmp.Equal(ack, want) {
		t.Error(cmp.Diff(want, ack))
	}
}

func TestErrorPacket(t *testing.T) {
	raw, err := EncodeError(ErrFileNotFound, "no such file")
	if err != nil {
		t.Fatal(err)
	}

	pck, err := DecodeError(raw, nil)
	if err != nil {
		t.Fatal(err)
	}

	want := &ErrorPacket{Code: ErrFileNotFound, Message: "no such file"}
	if !cmp.Equal(pck, want) {
		t.Error(cmp.Diff(want, pck))
	}

	// missing terminator
	pck, err = DecodeError([]byte{0, 5, 0, 2, 'n', 'o'}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if pck.Message != "no" || pck.Code != ErrAccessViolation {
		t.Errorf("unexpected packet %+v", pck)
	}
}

func TestDecodeRequest(t *testing.T) {
	raw, err := EncodeRequest(WRQ, "dir/file.bin", ModeOctet)
	if err != nil {
		t.Fatal(err)
	}

	pck, err := DecodeRequest(raw, nil)
	if err != nil {
		t.Fatal(err)
	}

	want := &RequestPacket{Opcode: WRQ, Filename: "dir/file.bin", Mode: ModeOctet}
	if !cmp.Equal(pck, want) {
		t.Error(cmp.Diff(want, pck))
	}

	for _, raw := range [][]byte{{0}, {0, 3, 0, 1}, {0, 1, 'a', 0}, {0, 2, 0, 'o', 0}} {
		if _, err := DecodeRequest(raw, nil); err == nil {
			t.Errorf("%v: expected error", raw)
		}
	}
}

func TestPeekOpcode(t *testing.T) {
	op, err := PeekOpcode([]byte{0, 5, 0, 0})
	if err != nil || op != ERROR {
		t.Errorf("got %v, %v", op, err)
	}
	if _, err := PeekOpcode([]byte{0}); err == nil {
		t.Error("expected error for one-byte datagram")
	}
}
