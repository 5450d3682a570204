package hostlink

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidSof is reported when the magic or version byte does not
// match and the decoder has resynchronized by advancing one byte.
var ErrInvalidSof = errors.New("hostlink: invalid start of frame")

// ErrLengthTooLarge is reported when a declared payload length exceeds
// MaxPayloadLen.
var ErrLengthTooLarge = errors.New("hostlink: declared length too large")

// ErrCrcMismatch is reported when a complete frame's trailing CRC does
// not match the computed CRC over magic..payload.
var ErrCrcMismatch = errors.New("hostlink: crc mismatch")

const frameHeaderLen = 2 + 1 + 1 + 2 + 2 // magic + version + type + seq + len

// Frame is one decoded HostLink frame.
type Frame struct {
	Type    FrameType
	Seq     uint16
	Payload []byte
}

// ResyncEvent is reported to the decoder's observer whenever a byte is
// discarded trying to regain frame sync, or a complete frame's CRC
// failed. It exists so inspector tooling can watch the raw byte stream
// without the decoder's output queue being the only signal.
type ResyncEvent struct {
	Err    error
	Offset int
}

// Decoder is a streaming HostLink frame decoder. Bytes arrive in
// arbitrary chunks via Append; Decode repeatedly extracts whatever
// complete, valid frames are available, resynchronizing past bad
// bytes as defined by the frame layout.
type Decoder struct {
	buf    []byte
	events []ResyncEvent
}

// NewDecoder returns an empty streaming decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Append adds newly received bytes to the decoder's internal buffer.
func (d *Decoder) Append(b []byte) {
	d.buf = append(d.buf, b...)
}

// Events drains and returns any resync/CRC-mismatch observations
// accumulated since the last call.
func (d *Decoder) Events() []ResyncEvent {
	ev := d.events
	d.events = nil
	return ev
}

func (d *Decoder) recordEvent(err error, offset int) {
	d.events = append(d.events, ResyncEvent{Err: err, Offset: offset})
}

// Decode extracts as many complete, valid frames as are currently
// available in the buffer. It never blocks; call it again after more
// bytes have been appended.
func (d *Decoder) Decode() (frames []Frame, err error) {
	for {
		f, ok, decErr := d.decodeOne()
		if decErr != nil {
			return frames, decErr
		}
		if !ok {
			return frames, nil
		}
		if f != nil {
			frames = append(frames, *f)
		}
	}
}

// decodeOne attempts to extract a single frame from the front of the
// buffer. It returns ok=false when there are not yet enough bytes to
// make progress. A returned frame of nil with ok=true means a byte (or
// a whole bad frame) was discarded during resync and the caller should
// try again immediately.
func (d *Decoder) decodeOne() (frame *Frame, ok bool, err error) {
	if len(d.buf) < 2 {
		return nil, false, nil
	}

	if d.buf[0] != magic0 || d.buf[1] != magic1 {
		d.recordEvent(ErrInvalidSof, 0)
		d.buf = d.buf[1:]
		return nil, true, nil
	}

	if len(d.buf) < frameHeaderLen {
		return nil, false, nil
	}

	if d.buf[2] != ProtocolVersion {
		d.recordEvent(ErrInvalidSof, 0)
		d.buf = d.buf[1:]
		return nil, true, nil
	}

	declLen := binary.LittleEndian.Uint16(d.buf[6:8])
	if declLen > MaxPayloadLen {
		d.recordEvent(ErrLengthTooLarge, 0)
		d.buf = d.buf[1:]
		return nil, true, nil
	}

	total := frameHeaderLen + int(declLen) + 2 // + trailing crc
	if len(d.buf) < total {
		return nil, false, nil
	}

	computed := crc16(d.buf[:frameHeaderLen+int(declLen)])
	trailing := binary.LittleEndian.Uint16(d.buf[total-2 : total])
	if computed != trailing {
		d.recordEvent(ErrCrcMismatch, 0)
		d.buf = d.buf[total:]
		return nil, true, nil
	}

	f := &Frame{
		Type:    FrameType(d.buf[3]),
		Seq:     binary.LittleEndian.Uint16(d.buf[4:6]),
		Payload: append([]byte(nil), d.buf[frameHeaderLen:frameHeaderLen+int(declLen)]...),
	}
	d.buf = d.buf[total:]
	return f, true, nil
}

// Encode renders a frame as wire bytes, computing length and CRC.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayloadLen {
		return nil, fmt.Errorf("hostlink: payload length %d exceeds max %d", len(f.Payload), MaxPayloadLen)
	}

	out := make([]byte, frameHeaderLen+len(f.Payload)+2)
	out[0] = magic0
	out[1] = magic1
	out[2] = ProtocolVersion
	out[3] = byte(f.Type)
	binary.LittleEndian.PutUint16(out[4:6], f.Seq)
	binary.LittleEndian.PutUint16(out[6:8], uint16(len(f.Payload)))
	copy(out[frameHeaderLen:], f.Payload)

	crc := crc16(out[:frameHeaderLen+len(f.Payload)])
	binary.LittleEndian.PutUint16(out[len(out)-2:], crc)
	return out, nil
}
