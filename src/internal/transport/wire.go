// FILE: src/internal/transport/wire.go
package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
)

// Message framing: little-endian header of four int32s (total length,
// request id, response-to, opcode), a uint32 of flag bits, then one
// kind-0 section holding a single BSON document. Checksums and document
// sequences are not used.

const (
	opMsg = 2013

	headerLen = 16

	// length + request id + response to + opcode + flags + section kind
	envelopeLen = headerLen + 4 + 1

	// MaxMessageSize bounds a single frame in either direction.
	MaxMessageSize = 48 * 1000 * 1000
)

// Message is one decoded frame.
type Message struct {
	RequestID  int32
	ResponseTo int32
	Doc        bson.Raw
}

// EncodeMsg builds a complete frame around one BSON document.
func EncodeMsg(requestID, responseTo int32, doc []byte) []byte {
	total := envelopeLen + len(doc)
	frame := make([]byte, 0, total)

	var hdr [envelopeLen]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(total))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(requestID))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(responseTo))
	binary.LittleEndian.PutUint32(hdr[12:], opMsg)
	binary.LittleEndian.PutUint32(hdr[16:], 0) // flag bits
	hdr[20] = 0                                // section kind 0

	frame = append(frame, hdr[:]...)
	frame = append(frame, doc...)
	return frame
}

// DecodeMsg parses a complete frame. A frame without a kind-0 document
// section yields ErrNoDocument.
func DecodeMsg(frame []byte) (*Message, error) {
	if len(frame) < headerLen {
		return nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	total := int(int32(binary.LittleEndian.Uint32(frame[0:])))
	if total != len(frame) {
		return nil, fmt.Errorf("frame length mismatch: header says %d, have %d", total, len(frame))
	}
	if opcode := int32(binary.LittleEndian.Uint32(frame[12:])); opcode != opMsg {
		return nil, fmt.Errorf("unexpected opcode %d", opcode)
	}
	if len(frame) < envelopeLen {
		return nil, ErrNoDocument
	}
	if kind := frame[headerLen+4]; kind != 0 {
		return nil, fmt.Errorf("unsupported section kind %d", kind)
	}

	doc := bson.Raw(frame[envelopeLen:])
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid document in frame: %w", err)
	}

	return &Message{
		RequestID:  int32(binary.LittleEndian.Uint32(frame[4:])),
		ResponseTo: int32(binary.LittleEndian.Uint32(frame[8:])),
		Doc:        doc,
	}, nil
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	total := int(int32(binary.LittleEndian.Uint32(lenBuf[:])))
	if total < headerLen || total > MaxMessageSize {
		return nil, fmt.Errorf("invalid frame length %d", total)
	}

	frame := make([]byte, total)
	copy(frame, lenBuf[:])
	if _, err := io.ReadFull(r, frame[4:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// PeekFrameLen reports the total length of the frame starting at buf,
// or false if fewer than four bytes are available. The length is not
// yet validated beyond basic bounds; used for incremental reads.
func PeekFrameLen(buf []byte) (int, bool) {
	if len(buf) < 4 {
		return 0, false
	}
	total := int(int32(binary.LittleEndian.Uint32(buf)))
	return total, true
}
