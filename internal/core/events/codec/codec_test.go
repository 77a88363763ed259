package codec

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeusync/pocketbus/internal/core/protocol"
)

func TestRoundTrip(t *testing.T) {
	payloads := []any{
		map[string]any{"v": 1, "tags": []string{"a", "b"}, "nested": map[string]any{"ok": true}},
		[]any{1, "two", nil},
		"plain string",
		42.5,
		nil,
		false,
	}
	for _, p := range payloads {
		msg, err := Encode("ag_ui.text_message.start", p)
		require.NoError(t, err)
		require.Len(t, msg, 2)

		topic, got, err := Decode(msg)
		require.NoError(t, err)
		assert.Equal(t, "ag_ui.text_message.start", topic)

		// Structural equality after a JSON round trip.
		raw, err := json.Marshal(p)
		require.NoError(t, err)
		var want any
		require.NoError(t, json.Unmarshal(raw, &want))
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("payload mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEncodeRejectsUnencodablePayload(t *testing.T) {
	_, err := Encode("t", make(chan int))
	assert.ErrorIs(t, err, ErrEncode)

	_, err = Encode("t", math.NaN())
	assert.ErrorIs(t, err, ErrEncode)

	_, err = Encode(string([]byte{0xff, 0xfe}), 1)
	assert.ErrorIs(t, err, ErrEncode)
}

func TestDecodeRejectsMalformedMessages(t *testing.T) {
	tests := map[string]protocol.Message{
		"one frame":        {[]byte("t")},
		"three frames":     {[]byte("t"), []byte("1"), []byte("2")},
		"bad topic utf8":   {{0xc3, 0x28}, []byte("1")},
		"bad payload utf8": {[]byte("t"), {'"', 0xff, '"'}},
		"invalid json":     {[]byte("t"), []byte("{not json")},
		"trailing garbage": {[]byte("t"), []byte(`{"a":1} x`)},
		"empty payload":    {[]byte("t"), {}},
	}
	for name, msg := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode(msg)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview([]byte("short"), 16))
	assert.Equal(t, "abc...", Preview([]byte("abcdef"), 3))
	// "é" is two bytes; the cut never splits it.
	assert.Equal(t, "a...", Preview([]byte("aéb"), 2))
}

func TestDigestIsStable(t *testing.T) {
	assert.Equal(t, Digest([]byte(`{"v":1}`)), Digest([]byte(`{"v":1}`)))
	assert.NotEqual(t, Digest([]byte(`{"v":1}`)), Digest([]byte(`{"v":2}`)))
}
