package common

const DefaultPort = 69

const ModeOctet = "octet"

const (
	HeaderSize    int = 2 + 2
	BlockSize     int = 512
	MaxPacketSize int = HeaderSize + BlockSize
)

type Opcode uint16

const (
	RRQ   Opcode = iota + 1
	WRQ   Opcode = iota + 1
	DATA  Opcode = iota + 1
	ACK   Opcode = iota + 1
	ERROR Opcode = iota + 1
)

func (op Opcode) String() string {
	switch op {
	case RRQ:
		return "RRQ"
	case WRQ:
		return "WRQ"
	case DATA:
		return "DATA"
	case ACK:
		return "ACK"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrorCode is the code field of an ERROR packet.
type ErrorCode uint16

const (
	ErrNotDefined ErrorCode = iota
	ErrFileNotFound
	ErrAccessViolation
	ErrDiskFull
	ErrIllegalOperation
	ErrUnknownTransferID
	ErrFileExists
	ErrNoSuchUser
)
