package common

import (
	"bytes"
	"encoding/binary"
	"net"
)

type RequestPacket struct {
	Opcode   Opcode
	Filename string
	Mode     string

	// NOT IN BYTES THAT ARE SENT
	Peer *net.UDPAddr
}

type DataPacket struct {
	Block   uint16
	Payload []byte

	// NOT IN BYTES THAT ARE SENT
	Peer *net.UDPAddr
}

// IsLast reports whether the packet is short and therefore ends the transfer.
func (pck *DataPacket) IsLast() bool {
	return len(pck.Payload) < BlockSize
}

type AckPacket struct {
	Block uint16

	// NOT IN BYTES THAT ARE SENT
	Peer *net.UDPAddr
}

type ErrorPacket struct {
	Code    ErrorCode
	Message string

	// NOT IN BYTES THAT ARE SENT
	Peer *net.UDPAddr
}

func NewAck(pckToAck *DataPacket) *AckPacket {
	return &AckPacket{
		Block: pckToAck.Block,
		Peer:  pckToAck.Peer,
	}
}

func (pck *RequestPacket) ToBytes() ([]byte, error) {
	return EncodeRequest(pck.Opcode, pck.Filename, pck.Mode)
}

func (pck *DataPacket) ToBytes() ([]byte, error) {
	return EncodeData(pck.Block, pck.Payload)
}

func (pck *AckPacket) ToBytes() []byte {
	return EncodeAck(pck.Block)
}

func (pck *ErrorPacket) ToBytes() ([]byte, error) {
	return EncodeError(pck.Code, pck.Message)
}

func EncodeRequest(op Opcode, filename string, mode string) ([]byte, error) {
	if op != RRQ && op != WRQ {
		return nil, &EncodingError{Opcode: op, Reason: "request opcode must be RRQ or WRQ"}
	}
	if err := checkField(op, "filename", filename); err != nil {
		return nil, err
	}
	if err := checkField(op, "mode", mode); err != nil {
		return nil, err
	}

	size := 2 + len(filename) + 1 + len(mode) + 1
	if size > MaxPacketSize {
		return nil, &EncodingError{Opcode: op, Reason: "request exceeds maximum packet size"}
	}

	arr := make([]byte, size)
	binary.BigEndian.PutUint16(arr[0:2], uint16(op))
	offset := 2
	offset += copy(arr[offset:], filename)
	offset++
	copy(arr[offset:], mode)

	return arr, nil
}

func EncodeData(block uint16, payload []byte) ([]byte, error) {
	if len(payload) > BlockSize {
		return nil, &EncodingError{Opcode: DATA, Reason: "payload exceeds 512 bytes"}
	}

	arr := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(arr[0:2], uint16(DATA))
	binary.BigEndian.PutUint16(arr[2:4], block)
	copy(arr[HeaderSize:], payload)

	return arr, nil
}

func EncodeAck(block uint16) []byte {
	arr := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(arr[0:2], uint16(ACK))
	binary.BigEndian.PutUint16(arr[2:4], block)
	return arr
}

func EncodeError(code ErrorCode, message string) ([]byte, error) {
	if bytes.IndexByte([]byte(message), 0) >= 0 {
		return nil, &EncodingError{Opcode: ERROR, Reason: "message contains a NUL byte"}
	}
	if HeaderSize+len(message)+1 > MaxPacketSize {
		return nil, &EncodingError{Opcode: ERROR, Reason: "message exceeds maximum packet size"}
	}

	arr := make([]byte, HeaderSize+len(message)+1)
	binary.BigEndian.PutUint16(arr[0:2], uint16(ERROR))
	binary.BigEndian.PutUint16(arr[2:4], uint16(code))
	copy(arr[HeaderSize:], message)

	return arr, nil
}

// PeekOpcode returns the opcode of a raw datagram without validating the rest.
func PeekOpcode(buf []byte) (Opcode, error) {
	if len(buf) < 2 {
		return 0, &MalformedPacketError{Length: len(buf), Reason: "datagram shorter than an opcode"}
	}
	return Opcode(binary.BigEndian.Uint16(buf[0:2])), nil
}

func DecodeData(buf []byte, peer *net.UDPAddr) (*DataPacket, error) {
	if err := checkHeader(buf, DATA); err != nil {
		return nil, err
	}
	if len(buf) > MaxPacketSize {
		return nil, &MalformedPacketError{Expected: DATA, Opcode: DATA, Length: len(buf), Reason: "payload exceeds 512 bytes"}
	}

	payload := make([]byte, len(buf)-HeaderSize)
	copy(payload, buf[HeaderSize:])

	return &DataPacket{
		Block:   binary.BigEndian.Uint16(buf[2:4]),
		Payload: payload,
		Peer:    peer,
	}, nil
}

func DecodeAck(buf []byte, peer *net.UDPAddr) (*AckPacket, error) {
	if err := checkHeader(buf, ACK); err != nil {
		return nil, err
	}
	if len(buf) != HeaderSize {
		return nil, &MalformedPacketError{Expected: ACK, Opcode: ACK, Length: len(buf), Reason: "ack must be exactly 4 bytes"}
	}

	return &AckPacket{
		Block: binary.BigEndian.Uint16(buf[2:4]),
		Peer:  peer,
	}, nil
}

func DecodeError(buf []byte, peer *net.UDPAddr) (*ErrorPacket, error) {
	if err := checkHeader(buf, ERROR); err != nil {
		return nil, err
	}

	// Some servers omit the trailing NUL, accept the message either way.
	message := buf[HeaderSize:]
	if i := bytes.IndexByte(message, 0); i >= 0 {
		message = message[:i]
	}

	return &ErrorPacket{
		Code:    ErrorCode(binary.BigEndian.Uint16(buf[2:4])),
		Message: string(message),
		Peer:    peer,
	}, nil
}

func DecodeRequest(buf []byte, peer *net.UDPAddr) (*RequestPacket, error) {
	if len(buf) < 2 {
		return nil, &MalformedPacketError{Expected: RRQ, Length: len(buf), Reason: "datagram shorter than an opcode"}
	}
	op := Opcode(binary.BigEndian.Uint16(buf[0:2]))
	if op != RRQ && op != WRQ {
		return nil, &MalformedPacketError{Expected: RRQ, Opcode: op, Length: len(buf), Reason: "not a request opcode"}
	}

	fields := bytes.Split(buf[2:], []byte{0})
	// filename, mode and the empty tail after the final NUL
	if len(fields) < 3 || len(fields[0]) == 0 || len(fields[1]) == 0 {
		return nil, &MalformedPacketError{Expected: op, Opcode: op, Length: len(buf), Reason: "request needs filename and mode fields"}
	}

	return &RequestPacket{
		Opcode:   op,
		Filename: string(fields[0]),
		Mode:     string(fields[1]),
		Peer:     peer,
	}, nil
}

func checkHeader(buf []byte, want Opcode) error {
	if len(buf) < HeaderSize {
		var op Opcode
		if len(buf) >= 2 {
			op = Opcode(binary.BigEndian.Uint16(buf[0:2]))
		}
		return &MalformedPacketError{Expected: want, Opcode: op, Length: len(buf), Reason: "datagram shorter than header"}
	}
	if op := Opcode(binary.BigEndian.Uint16(buf[0:2])); op != want {
		return &MalformedPacketError{Expected: want, Opcode: op, Length: len(buf), Reason: "unexpected opcode"}
	}
	return nil
}

func checkField(op Opcode, name string, value string) error {
	if value == "" {
		return &EncodingError{Opcode: op, Reason: name + " is empty"}
	}
	if bytes.IndexByte([]byte(value), 0) >= 0 {
		return &EncodingError{Opcode: op, Reason: name + " contains a NUL byte"}
	}
	return nil
}
