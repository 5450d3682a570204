package hostlink

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		f    Frame
	}{
		{"hello", Frame{Type: FrameTypeHello, Seq: 1, Payload: nil}},
		{"cmdTxMsg", Frame{Type: FrameTypeCmdTxMsg, Seq: 42, Payload: []byte{0x01, 0x02, 0x03}}},
		{"maxPayload", Frame{Type: FrameTypeEvAppData, Seq: 0xffff, Payload: make([]byte, MaxPayloadLen)}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b, err := Encode(c.f)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			d := NewDecoder()
			d.Append(b)
			frames, err := d.Decode()
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(frames) != 1 {
				t.Fatalf("expected 1 frame, got %d", len(frames))
			}
			got := frames[0]
			if got.Type != c.f.Type || got.Seq != c.f.Seq {
				t.Fatalf("got %+v, want %+v", got, c.f)
			}
			if !bytes.Equal(got.Payload, c.f.Payload) {
				t.Fatalf("payload mismatch: got %v want %v", got.Payload, c.f.Payload)
			}
		})
	}
}

func TestDecodeResyncsOnBadSof(t *testing.T) {
	b, _ := Encode(Frame{Type: FrameTypeHello, Seq: 1})
	garbage := append([]byte{0xde, 0xad, 0xbe, 0xef}, b...)

	d := NewDecoder()
	d.Append(garbage)
	frames, err := d.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame after resync, got %d", len(frames))
	}
	if len(d.Events()) == 0 {
		t.Fatalf("expected resync events to be recorded")
	}
}

func TestDecodeCrcMismatchConsumesWholeFrame(t *testing.T) {
	b, _ := Encode(Frame{Type: FrameTypeHello, Seq: 1})
	b[len(b)-1] ^= 0xff // corrupt the trailing CRC byte

	d := NewDecoder()
	d.Append(b)
	frames, err := d.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("expected 0 valid frames, got %d", len(frames))
	}
	if len(d.buf) != 0 {
		t.Fatalf("expected the whole bad frame to be consumed, %d bytes remain", len(d.buf))
	}
}

func TestDecodePartialBufferDoesNotBlock(t *testing.T) {
	b, _ := Encode(Frame{Type: FrameTypeHello, Seq: 1, Payload: []byte{1, 2, 3}})

	d := NewDecoder()
	d.Append(b[:5])
	frames, err := d.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("expected no frames from a partial buffer, got %d", len(frames))
	}

	d.Append(b[5:])
	frames, err = d.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame once the buffer completes, got %d", len(frames))
	}
}

func TestLengthTooLargeResyncs(t *testing.T) {
	b, _ := Encode(Frame{Type: FrameTypeHello, Seq: 1})
	b[6] = 0xff
	b[7] = 0xff

	d := NewDecoder()
	d.Append(b)
	_, err := d.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	events := d.Events()
	if len(events) == 0 || events[0].Err != ErrLengthTooLarge {
		t.Fatalf("expected a length-too-large event, got %+v", events)
	}
}
