package tcp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

// Errors returned by the framing layer.
var (
	// ErrMessageTooLarge is returned when a frame exceeds the maximum allowed size.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrInvalidFrame is returned when a frame contains the terminator byte.
	ErrInvalidFrame = errors.New("frame contains terminator")
)

// Terminator separates records on the wire.
const Terminator byte = 0

// Codec splits a byte stream into frames.
//
// Decode reads from an io.Reader so that the codec controls exactly how
// many bytes are consumed; this is what reassembles frames split across
// TCP segments.
type Codec interface {
	// Decode reads one complete frame.
	Decode(r io.Reader) (string, error)
	// Encode renders a frame for transmission.
	Encode(frame string) ([]byte, error)
}

// resyncer is implemented by codecs that can skip the rest of a frame that
// was rejected as too large.
type resyncer interface {
	Resync(r *bufio.Reader) error
}

// TerminatorCodec frames records by a trailing terminator byte. The zero
// value uses the NUL terminator.
type TerminatorCodec struct {
	Terminator byte
}

// Decode reads up to and including the next terminator and returns the
// bytes before it.
func (c TerminatorCodec) Decode(r io.Reader) (string, error) {
	var b strings.Builder
	if br, ok := r.(io.ByteReader); ok {
		for {
			ch, err := br.ReadByte()
			if err != nil {
				return "", err
			}
			if ch == c.Terminator {
				return b.String(), nil
			}
			b.WriteByte(ch)
		}
	}

	var one [1]byte
	for {
		n, err := r.Read(one[:])
		if n == 1 {
			if one[0] == c.Terminator {
				return b.String(), nil
			}
			b.WriteByte(one[0])
			continue
		}
		if err != nil {
			return "", err
		}
	}
}

func (c TerminatorCodec) Encode(frame string) ([]byte, error) {
	if strings.IndexByte(frame, c.Terminator) >= 0 {
		return nil, ErrInvalidFrame
	}
	out := make([]byte, 0, len(frame)+1)
	out = append(out, frame...)
	return append(out, c.Terminator), nil
}

// Resync discards input up to and including the next terminator.
func (c TerminatorCodec) Resync(r *bufio.Reader) error {
	for {
		chunk, err := r.ReadSlice(c.Terminator)
		if err == nil {
			return nil
		}
		if err != bufio.ErrBufferFull {
			return err
		}
		if bytes.IndexByte(chunk, c.Terminator) >= 0 {
			return nil
		}
	}
}

// limitedReader wraps a reader and returns ErrMessageTooLarge when the limit is exceeded.
type limitedReader struct {
	r         *bufio.Reader
	remaining int64
}

func newLimitedReader(r *bufio.Reader, limit int64) *limitedReader {
	return &limitedReader{r: r, remaining: limit}
}

func (l *limitedReader) Read(p []byte) (n int, err error) {
	if l.remaining <= 0 {
		return 0, ErrMessageTooLarge
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err = l.r.Read(p)
	l.remaining -= int64(n)
	return
}

func (l *limitedReader) ReadByte() (byte, error) {
	if l.remaining <= 0 {
		return 0, ErrMessageTooLarge
	}
	b, err := l.r.ReadByte()
	if err == nil {
		l.remaining--
	}
	return b, err
}

// reset resets the limit counter for reuse with a new message.
// Only remaining is reset because the underlying bufio.Reader keeps its
// own buffer state and continues reading from where it left off.
func (l *limitedReader) reset(limit int64) {
	l.remaining = limit
}
