package common

import "fmt"

// EncodingError reports a packet that cannot be put on the wire as requested.
// It is always a caller bug.
type EncodingError struct {
	Opcode Opcode
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("cannot encode %v packet: %s", e.Opcode, e.Reason)
}

// MalformedPacketError reports an inbound datagram that failed opcode or
// length validation.
type MalformedPacketError struct {
	Expected Opcode
	Opcode   Opcode
	Length   int
	Reason   string
}

func (e *MalformedPacketError) Error() string {
	return fmt.Sprintf("malformed packet (expected %v, got opcode %d, %d bytes): %s",
		e.Expected, uint16(e.Opcode), e.Length, e.Reason)
}
