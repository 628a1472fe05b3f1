package mcpwire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Codec encodes and decodes protocol messages to and from the wire framing:
// one JSON-RPC message per newline-terminated frame. Decoding is round-trip
// exact for every valid message, and a malformed frame yields a *DecodeError
// carrying the raw bytes instead of a process-fatal fault. The zero value is
// ready to use.
type Codec struct{}

// Encode serializes msg into a single newline-terminated frame.
func (Codec) Encode(msg Message) ([]byte, error) {
	if msg.JSONRPC != JSONRPCVersion {
		return nil, fmt.Errorf("unsupported jsonrpc version: %q", msg.JSONRPC)
	}
	if msg.Type() == MessageTypeInvalid {
		return nil, errors.New("message is neither request, response nor notification")
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	return append(frame, '\n'), nil
}

// Decode parses one frame back into a Message. A trailing newline is
// accepted and ignored. Frames that are not valid JSON, carry the wrong
// jsonrpc version, or fit none of the three message shapes yield a
// *DecodeError.
func (Codec) Decode(frame []byte) (Message, error) {
	raw := bytes.TrimRight(frame, "\r\n")

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, &DecodeError{Raw: raw, Err: err}
	}

	if msg.JSONRPC != JSONRPCVersion {
		return Message{}, &DecodeError{
			Raw: raw,
			Err: fmt.Errorf("unsupported jsonrpc version: %q", msg.JSONRPC),
		}
	}
	if msg.Type() == MessageTypeInvalid {
		return Message{}, &DecodeError{
			Raw: raw,
			Err: errors.New("message is neither request, response nor notification"),
		}
	}

	return msg, nil
}
