package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeusync/pocketbus/pkg/generic"
)

// MaxFrames bounds the number of frames a single message may carry.
const MaxFrames = 16

// DefaultMaxMessageSize is used when a Config leaves MaxMessageSize at zero.
const DefaultMaxMessageSize = 4 << 20

// Message is one multipart message: an ordered list of opaque frames.
type Message [][]byte

// Size is the sum of the frame lengths.
func (m Message) Size() int {
	n := 0
	for _, f := range m {
		n += len(f)
	}
	return n
}

// Control message commands, as used by XPUB/XSUB sockets.
const (
	cmdUnsubscribe byte = 0x00
	cmdSubscribe   byte = 0x01
)

// SubscribeMessage builds the control message announcing interest in prefix.
func SubscribeMessage(prefix string) Message {
	return Message{append([]byte{cmdSubscribe}, prefix...)}
}

// UnsubscribeMessage builds the control message withdrawing interest in prefix.
func UnsubscribeMessage(prefix string) Message {
	return Message{append([]byte{cmdUnsubscribe}, prefix...)}
}

// ParseControl decodes a subscription control message.
func ParseControl(m Message) (subscribe bool, prefix string, err error) {
	if len(m) != 1 || len(m[0]) == 0 {
		return false, "", ErrInvalidControl
	}
	switch m[0][0] {
	case cmdSubscribe:
		return true, string(m[0][1:]), nil
	case cmdUnsubscribe:
		return false, string(m[0][1:]), nil
	default:
		return false, "", fmt.Errorf("%w: command 0x%02x", ErrInvalidControl, m[0][0])
	}
}

// MarshalFrames encodes a message body as a sequence of uvarint
// length-prefixed frames.
func MarshalFrames(m Message) ([]byte, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidFrame)
	}
	if len(m) > MaxFrames {
		return nil, ErrTooManyFrames
	}
	size := 0
	for _, f := range m {
		size += binary.MaxVarintLen64 + len(f)
	}
	buf := make([]byte, 0, size)
	for _, f := range m {
		buf = binary.AppendUvarint(buf, uint64(len(f)))
		buf = append(buf, f...)
	}
	return buf, nil
}

// UnmarshalFrames is the inverse of MarshalFrames. The returned frames alias data.
func UnmarshalFrames(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidFrame)
	}
	var m Message
	for len(data) > 0 {
		if len(m) == MaxFrames {
			return nil, ErrTooManyFrames
		}
		n, k := binary.Uvarint(data)
		if k <= 0 {
			return nil, fmt.Errorf("%w: bad length prefix", ErrInvalidFrame)
		}
		data = data[k:]
		if n > uint64(len(data)) {
			return nil, fmt.Errorf("%w: frame length %d exceeds remaining %d bytes", ErrInvalidFrame, n, len(data))
		}
		m = append(m, data[:n:n])
		data = data[n:]
	}
	return m, nil
}

// maxPooledRecord caps the buffers kept for reuse.
const maxPooledRecord = 64 << 10

var recordPool = generic.NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }, (*bytes.Buffer).Reset)

// WriteRecord writes a length-delimited message to a byte stream in a single
// Write call.
func WriteRecord(w io.Writer, m Message, maxSize int) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	body, err := MarshalFrames(m)
	if err != nil {
		return err
	}
	if len(body) > maxSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(body), maxSize)
	}

	buf := recordPool.Get()
	defer func() {
		if buf.Cap() <= maxPooledRecord {
			recordPool.Put(buf)
		}
	}()
	var hdr [binary.MaxVarintLen64]byte
	buf.Write(hdr[:binary.PutUvarint(hdr[:], uint64(len(body)))])
	buf.Write(body)
	_, err = w.Write(buf.Bytes())
	return err
}

// ReadRecord reads one message written by WriteRecord.
func ReadRecord(r *bufio.Reader, maxSize int) (Message, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return UnmarshalFrames(body)
}
