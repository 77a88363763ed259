// Package codec converts (topic, payload) pairs to and from the two-frame wire
// message: frame one is the UTF-8 topic, frame two the payload as UTF-8 JSON.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/zeusync/pocketbus/internal/core/protocol"
)

var (
	// ErrEncode is returned when a topic or payload cannot be put on the wire.
	ErrEncode = errors.New("encode event")
	// ErrDecode is returned for messages that are not a valid event.
	ErrDecode = errors.New("decode event")
)

// Encode builds the wire message for topic and payload. The payload must be
// JSON-encodable.
func Encode(topic string, payload any) (protocol.Message, error) {
	if !utf8.ValidString(topic) {
		return nil, fmt.Errorf("%w: topic is not valid UTF-8", ErrEncode)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return protocol.Message{[]byte(topic), body}, nil
}

// Decode parses a wire message. The payload is returned as a generic JSON
// value: nil, bool, float64, string, []any or map[string]any.
func Decode(msg protocol.Message) (string, any, error) {
	if len(msg) != 2 {
		return "", nil, fmt.Errorf("%w: want 2 frames, got %d", ErrDecode, len(msg))
	}
	if !utf8.Valid(msg[0]) {
		return "", nil, fmt.Errorf("%w: topic is not valid UTF-8", ErrDecode)
	}
	if !utf8.Valid(msg[1]) {
		return "", nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrDecode)
	}
	var payload any
	if err := json.Unmarshal(msg[1], &payload); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return string(msg[0]), payload, nil
}

// Digest fingerprints a payload frame for log correlation across processes.
func Digest(frame []byte) uint64 {
	return xxhash.Sum64(frame)
}

// Preview returns at most limit bytes of a payload frame for debug logs,
// cut on a rune boundary.
func Preview(frame []byte, limit int) string {
	if len(frame) <= limit {
		return string(frame)
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(frame[cut]) {
		cut--
	}
	return string(frame[:cut]) + "..."
}
