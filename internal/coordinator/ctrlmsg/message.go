// Package ctrlmsg implements the minimal control-message codec the
// data demultiplexer decodes channel 1 payloads into: a small
// length-prefixed TLV layout dispatched to an embedder-supplied
// on_message-style handler.
package ctrlmsg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type identifies the kind of control message.
type Type uint8

const headerLen = 3 // 1 byte type + 2 byte length

// ErrMalformed is returned by Decode for any input that is not a
// well-formed message. A malformed control message is logged and its
// buffer dropped; the peer is never disconnected.
var ErrMalformed = errors.New("ctrlmsg: malformed control message")

// Message is a decoded control-channel payload.
type Message struct {
	Type  Type
	Value []byte
}

// Encode serializes a message into its wire form.
func Encode(m Message) []byte {
	buf := make([]byte, headerLen+len(m.Value))
	buf[0] = byte(m.Type)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(m.Value)))
	copy(buf[headerLen:], m.Value)
	return buf
}

// Decode parses a wire-form control message. It copies Value out of
// buf so the returned Message remains valid after the caller's buffer
// is reused, honoring callers' buffer-ownership rule.
func Decode(buf []byte) (Message, error) {
	if len(buf) < headerLen {
		return Message{}, fmt.Errorf("%w: %d byte(s), need at least %d", ErrMalformed, len(buf), headerLen)
	}
	length := binary.BigEndian.Uint16(buf[1:3])
	if int(length) != len(buf)-headerLen {
		return Message{}, fmt.Errorf("%w: declared length %d, got %d byte(s) of payload", ErrMalformed, length, len(buf)-headerLen)
	}
	value := make([]byte, length)
	copy(value, buf[headerLen:])
	return Message{Type: Type(buf[0]), Value: value}, nil
}
