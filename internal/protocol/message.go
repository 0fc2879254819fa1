package protocol

import "fmt"

// Type identifies the kind of a framed message.
type Type byte

// Message types. FileEnd closes both a single file and the whole transfer;
// the receiver tells them apart by whether a file is currently open.
const (
	TypeRequest   Type = 'R'
	TypeFileStart Type = 'F'
	TypeFileChunk Type = 'C'
	TypeFileEnd   Type = 'E'
	TypeResult    Type = 'S'
	TypeError     Type = 'X'
	TypeAck       Type = 'A'
)

func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "Request"
	case TypeFileStart:
		return "FileStart"
	case TypeFileChunk:
		return "FileChunk"
	case TypeFileEnd:
		return "FileEnd"
	case TypeResult:
		return "Result"
	case TypeError:
		return "Error"
	case TypeAck:
		return "Ack"
	default:
		return fmt.Sprintf("Type(%q)", byte(t))
	}
}

// Message is one decoded frame. The encoded length is always len(Payload).
type Message struct {
	Type    Type
	Payload []byte
}
