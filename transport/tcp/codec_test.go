package tcp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"
)

func TestTerminatorCodec_Encode(t *testing.T) {
	codec := TerminatorCodec{}

	data, err := codec.Encode("{ping:[1]}")
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if want := []byte("{ping:[1]}\x00"); !bytes.Equal(data, want) {
		t.Errorf("Encode = %q, want %q", data, want)
	}

	if _, err := codec.Encode("a\x00b"); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Encode with terminator error = %v, want ErrInvalidFrame", err)
	}
}

func TestTerminatorCodec_Decode(t *testing.T) {
	codec := TerminatorCodec{}
	r := bufio.NewReader(bytes.NewBufferString("{}\x00{pong:[2]}\x00tail"))

	for _, want := range []string{"{}", "{pong:[2]}"} {
		got, err := codec.Decode(r)
		if err != nil {
			t.Fatalf("Decode error: %v", err)
		}
		if got != want {
			t.Errorf("Decode = %q, want %q", got, want)
		}
	}

	if _, err := codec.Decode(r); err != io.EOF {
		t.Errorf("Decode of incomplete frame error = %v, want io.EOF", err)
	}
}

func TestTerminatorCodec_DecodeSplitReads(t *testing.T) {
	codec := TerminatorCodec{}
	// one byte per Read, as a fragmented stream would deliver it
	r := iotest.OneByteReader(bytes.NewBufferString("{call:[1,'a'],b:[]}\x00"))

	got, err := codec.Decode(r)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if got != "{call:[1,'a'],b:[]}" {
		t.Errorf("Decode = %q", got)
	}
}

func TestTerminatorCodec_CustomTerminator(t *testing.T) {
	codec := TerminatorCodec{Terminator: '\n'}

	data, err := codec.Encode("{}")
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	got, err := codec.Decode(bufio.NewReader(bytes.NewReader(data)))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if got != "{}" {
		t.Errorf("Decode = %q, want {}", got)
	}
}

func TestLimitedReader(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("0123456789\x00{}\x00"))
	lr := newLimitedReader(r, 4)
	codec := TerminatorCodec{}

	if _, err := codec.Decode(lr); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("Decode error = %v, want ErrMessageTooLarge", err)
	}

	if err := codec.Resync(r); err != nil {
		t.Fatalf("Resync error: %v", err)
	}

	lr.reset(4)
	got, err := codec.Decode(lr)
	if err != nil {
		t.Fatalf("Decode after resync error: %v", err)
	}
	if got != "{}" {
		t.Errorf("Decode after resync = %q, want {}", got)
	}
}

func TestTerminatorCodec_ResyncLongFrame(t *testing.T) {
	long := bytes.Repeat([]byte("x"), 100)
	input := append(append(long, 0), []byte("{}\x00")...)
	// a buffer smaller than the frame forces ErrBufferFull inside Resync
	r := bufio.NewReaderSize(bytes.NewReader(input), 16)
	codec := TerminatorCodec{}

	if err := codec.Resync(r); err != nil {
		t.Fatalf("Resync error: %v", err)
	}
	got, err := codec.Decode(r)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if got != "{}" {
		t.Errorf("Decode = %q, want {}", got)
	}
}
