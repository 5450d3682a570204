package hostlink

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// configTableSplit separates "status" TLV keys (< configTableSplit)
// from "config" TLV keys (>= configTableSplit) within an EvStatus
// payload's combined TLV stream (Status yields a
// status record plus a parallel config map populated from known
// keys").
const configTableSplit = 20

func readString8(r *bytes.Reader) (string, error) {
	l, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, l)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeString8(buf *bytes.Buffer, s string) error {
	if len(s) > 0xff {
		return fmt.Errorf("hostlink: string %q too long for u8 length prefix", s)
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

func readString16(r *bytes.Reader) (string, error) {
	var l uint16
	if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
		return "", err
	}
	b := make([]byte, l)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeString16(buf *bytes.Buffer, s string) error {
	if len(s) > 0xffff {
		return fmt.Errorf("hostlink: string %q too long for u16 length prefix", s)
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

// HelloAckPayload is the decoded body of a HelloAck frame.
type HelloAckPayload struct {
	ProtoVersion uint16
	MaxFrame     uint16
	Caps         uint32
	Model        string
	Fw           string
}

// DecodeHelloAck decodes a HelloAck frame payload.
func DecodeHelloAck(b []byte) (*HelloAckPayload, error) {
	r := bytes.NewReader(b)
	p := &HelloAckPayload{}
	if err := binary.Read(r, binary.LittleEndian, &p.ProtoVersion); err != nil {
		return nil, fmt.Errorf("hostlink: decode HelloAck proto version: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &p.MaxFrame); err != nil {
		return nil, fmt.Errorf("hostlink: decode HelloAck max frame: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &p.Caps); err != nil {
		return nil, fmt.Errorf("hostlink: decode HelloAck caps: %w", err)
	}
	var err error
	if p.Model, err = readString8(r); err != nil {
		return nil, fmt.Errorf("hostlink: decode HelloAck model: %w", err)
	}
	if p.Fw, err = readString8(r); err != nil {
		return nil, fmt.Errorf("hostlink: decode HelloAck fw: %w", err)
	}
	return p, nil
}

// HasCap reports whether the advertised capability bitmask includes bit.
func (p *HelloAckPayload) HasCap(bit uint32) bool {
	return p.Caps&bit != 0
}

// AckPayload is the decoded body of an Ack frame.
type AckPayload struct {
	Code AckCode
}

// DecodeAck decodes an Ack frame payload.
func DecodeAck(b []byte) (*AckPayload, error) {
	if len(b) != 1 {
		return nil, fmt.Errorf("hostlink: Ack payload must be 1 byte, got %d", len(b))
	}
	return &AckPayload{Code: AckCode(b[0])}, nil
}

// CmdTxMsgPayload is the encoded body of a CmdTxMsg frame.
type CmdTxMsgPayload struct {
	To      uint32
	Channel byte
	Flags   byte
	Text    string
}

// Encode renders the CmdTxMsg payload as bytes.
func (p CmdTxMsgPayload) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, p.To); err != nil {
		return nil, err
	}
	buf.WriteByte(p.Channel)
	buf.WriteByte(p.Flags)
	if err := writeString16(buf, p.Text); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CmdSetConfigPayload carries a TLV stream of configuration keys.
type CmdSetConfigPayload struct {
	TLVs []TLV
}

// Encode renders the CmdSetConfig payload as bytes.
func (p CmdSetConfigPayload) Encode() []byte {
	return encodeTLVs(p.TLVs)
}

// CmdSetTimePayload is the encoded body of a CmdSetTime frame.
type CmdSetTimePayload struct {
	EpochS uint64
}

// Encode renders the CmdSetTime payload as bytes.
func (p CmdSetTimePayload) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, p.EpochS); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CmdTxAppDataPayload is one outbound AppData fragment. TimestampS is
// present only for the "with embedded timestamp" wire variant tried by
// the compatibility fallback ladder.
type CmdTxAppDataPayload struct {
	Port       uint32
	From       uint32
	To         uint32
	Channel    byte
	Flags      byte
	TeamID     [8]byte
	KeyID      uint32
	TimestampS *uint32
	Total      uint32
	Offset     uint32
	Chunk      []byte
}

// Encode renders the CmdTxAppData payload as bytes.
func (p CmdTxAppDataPayload) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	fields := []interface{}{p.Port, p.From, p.To}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	buf.WriteByte(p.Channel)
	buf.WriteByte(p.Flags)
	buf.Write(p.TeamID[:])
	if err := binary.Write(buf, binary.LittleEndian, p.KeyID); err != nil {
		return nil, err
	}
	if p.TimestampS != nil {
		if err := binary.Write(buf, binary.LittleEndian, *p.TimestampS); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(buf, binary.LittleEndian, p.Total); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, p.Offset); err != nil {
		return nil, err
	}
	if len(p.Chunk) > 0xffff {
		return nil, fmt.Errorf("hostlink: CmdTxAppData chunk too large: %d bytes", len(p.Chunk))
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(p.Chunk))); err != nil {
		return nil, err
	}
	buf.Write(p.Chunk)
	return buf.Bytes(), nil
}

// EvRxMsgPayload is the decoded body of an EvRxMsg frame.
type EvRxMsgPayload struct {
	MsgID  uint32
	From   uint32
	To     uint32
	Chan   byte
	TsS    uint32
	Text   string
	RxMeta *RxMetadata
}

// DecodeEvRxMsg decodes an EvRxMsg frame payload.
func DecodeEvRxMsg(b []byte) (*EvRxMsgPayload, error) {
	r := bytes.NewReader(b)
	p := &EvRxMsgPayload{}
	for _, f := range []*uint32{&p.MsgID, &p.From, &p.To} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("hostlink: decode EvRxMsg header: %w", err)
		}
	}
	var err error
	if p.Chan, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("hostlink: decode EvRxMsg channel: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &p.TsS); err != nil {
		return nil, fmt.Errorf("hostlink: decode EvRxMsg timestamp: %w", err)
	}
	if p.Text, err = readString16(r); err != nil {
		return nil, fmt.Errorf("hostlink: decode EvRxMsg text: %w", err)
	}
	if r.Len() > 0 {
		tail := make([]byte, r.Len())
		_, _ = r.Read(tail)
		p.RxMeta = DecodeRxMetadata(tail)
	}
	return p, nil
}

// EvTxResultPayload is the decoded body of an EvTxResult frame.
type EvTxResultPayload struct {
	MsgID   uint32
	Success bool
}

// DecodeEvTxResult decodes an EvTxResult frame payload.
func DecodeEvTxResult(b []byte) (*EvTxResultPayload, error) {
	if len(b) != 5 {
		return nil, fmt.Errorf("hostlink: EvTxResult payload must be 5 bytes, got %d", len(b))
	}
	return &EvTxResultPayload{
		MsgID:   binary.LittleEndian.Uint32(b[:4]),
		Success: b[4] != 0,
	}, nil
}

// EvStatusPayload is the decoded body of an EvStatus frame: a status
// TLV set and a parallel config TLV set, split by key range.
type EvStatusPayload struct {
	Status []TLV
	Config []TLV
}

// DecodeEvStatus decodes an EvStatus frame payload.
func DecodeEvStatus(b []byte) *EvStatusPayload {
	p := &EvStatusPayload{}
	for _, t := range decodeTLVs(b) {
		if t.Key < configTableSplit {
			p.Status = append(p.Status, t)
		} else {
			p.Config = append(p.Config, t)
		}
	}
	return p
}

// ConfigMap returns the config TLVs as a key->bytes map, the shape
// session.Client.GetConfig hands to its caller.
func (p *EvStatusPayload) ConfigMap() map[byte][]byte {
	out := make(map[byte][]byte, len(p.Config))
	for _, t := range p.Config {
		out[t.Key] = t.Value
	}
	return out
}

// EvGpsPayload is the decoded body of an EvGps frame.
type EvGpsPayload struct {
	Flags      byte
	Sats       byte
	AgeMs      uint32
	LatE7      int32
	LonE7      int32
	AltCm      int32
	SpeedCms   uint16
	CourseCdeg uint16
}

// DecodeEvGps decodes an EvGps frame payload.
func DecodeEvGps(b []byte) (*EvGpsPayload, error) {
	r := bytes.NewReader(b)
	p := &EvGpsPayload{}
	var err error
	if p.Flags, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("hostlink: decode EvGps flags: %w", err)
	}
	if p.Sats, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("hostlink: decode EvGps sats: %w", err)
	}
	for _, f := range []interface{}{&p.AgeMs, &p.LatE7, &p.LonE7, &p.AltCm, &p.SpeedCms, &p.CourseCdeg} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("hostlink: decode EvGps field: %w", err)
		}
	}
	return p, nil
}

// EvAppDataPayload is the decoded body of an EvAppData frame: one
// fragment of a (possibly multi-fragment) AppData packet.
type EvAppDataPayload struct {
	Port          uint32
	From          uint32
	To            uint32
	Channel       byte
	Flags         byte
	TeamID        [8]byte
	KeyID         uint32
	DeviceUptimeS uint32
	Total         uint32
	Offset        uint32
	Chunk         []byte
	RxMeta        *RxMetadata
}

// DecodeEvAppData decodes an EvAppData frame payload.
func DecodeEvAppData(b []byte) (*EvAppDataPayload, error) {
	r := bytes.NewReader(b)
	p := &EvAppDataPayload{}
	for _, f := range []*uint32{&p.Port, &p.From, &p.To} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("hostlink: decode EvAppData header: %w", err)
		}
	}
	var err error
	if p.Channel, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("hostlink: decode EvAppData channel: %w", err)
	}
	if p.Flags, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("hostlink: decode EvAppData flags: %w", err)
	}
	if _, err := io.ReadFull(r, p.TeamID[:]); err != nil {
		return nil, fmt.Errorf("hostlink: decode EvAppData team id: %w", err)
	}
	for _, f := range []*uint32{&p.KeyID, &p.DeviceUptimeS, &p.Total, &p.Offset} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("hostlink: decode EvAppData field: %w", err)
		}
	}
	var chunkLen uint16
	if err := binary.Read(r, binary.LittleEndian, &chunkLen); err != nil {
		return nil, fmt.Errorf("hostlink: decode EvAppData chunk length: %w", err)
	}
	p.Chunk = make([]byte, chunkLen)
	if _, err := io.ReadFull(r, p.Chunk); err != nil {
		return nil, fmt.Errorf("hostlink: decode EvAppData chunk: %w", err)
	}
	if r.Len() > 0 {
		tail := make([]byte, r.Len())
		_, _ = r.Read(tail)
		p.RxMeta = DecodeRxMetadata(tail)
	}
	return p, nil
}

// EvTeamStatePayload is the decoded body of an EvTeamState frame. The
// the frame layout defers to "source schema" for this frame's contents
// without naming fields; this decode covers the team-identity triplet
// the session client needs to seed its team context cache and preserves
// any trailing bytes unparsed rather than rejecting the frame.
type EvTeamStatePayload struct {
	TeamID      [8]byte
	KeyID       uint32
	Channel     byte
	MemberCount byte
	Trailing    []byte
}

// DecodeEvTeamState decodes an EvTeamState frame payload.
func DecodeEvTeamState(b []byte) (*EvTeamStatePayload, error) {
	r := bytes.NewReader(b)
	p := &EvTeamStatePayload{}
	if _, err := io.ReadFull(r, p.TeamID[:]); err != nil {
		return nil, fmt.Errorf("hostlink: decode EvTeamState team id: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &p.KeyID); err != nil {
		return nil, fmt.Errorf("hostlink: decode EvTeamState key id: %w", err)
	}
	var err error
	if p.Channel, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("hostlink: decode EvTeamState channel: %w", err)
	}
	if p.MemberCount, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("hostlink: decode EvTeamState member count: %w", err)
	}
	if r.Len() > 0 {
		p.Trailing = make([]byte, r.Len())
		_, _ = r.Read(p.Trailing)
	}
	return p, nil
}
