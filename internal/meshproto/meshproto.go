// Package meshproto decodes the subset of the Meshtastic protobuf
// schema that C7 needs: Position, User, NodeInfo, Waypoint, Telemetry,
// MapReport, and the ATAK-plugin Status submessage. Full generated
// .pb.go types were not available (no
// .proto source survived into original_source/, see its _INDEX.md), so
// these are hand-authored field readers built directly on
// google.golang.org/protobuf's low-level wire decoder, following the
// manual tag/length/value dispatch idiom the AVP codec uses for
// HostLink's own TLV streams.
package meshproto

import (
	"errors"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrUnparseable is returned when a buffer does not parse as a valid
// protobuf message at all (as opposed to parsing but lacking fields
// this decoder understands, which is not an error).
var ErrUnparseable = errors.New("meshproto: malformed protobuf buffer")

// field is one decoded (number, wire value) pair.
type field struct {
	num protowire.Number
	typ protowire.Type
	u64 uint64
	buf []byte
}

func parseFields(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, ErrUnparseable
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrUnparseable
			}
			out = append(out, field{num: num, typ: typ, u64: v})
			b = b[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, ErrUnparseable
			}
			out = append(out, field{num: num, typ: typ, u64: uint64(v)})
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, ErrUnparseable
			}
			out = append(out, field{num: num, typ: typ, u64: v})
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, ErrUnparseable
			}
			out = append(out, field{num: num, typ: typ, buf: v})
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, ErrUnparseable
			}
			b = b[n:]
		}
	}
	return out, nil
}

func findField(fields []field, num protowire.Number) (field, bool) {
	for _, f := range fields {
		if f.num == num {
			return f, true
		}
	}
	return field{}, false
}

func sint32(v uint64) int32    { return int32(v) }
func uint32v(v uint64) uint32  { return uint32(v) }
func float32v(v uint64) float32 { return math.Float32frombits(uint32(v)) }

// Position mirrors the fields of Meshtastic's Position message that C7
// consumes. Missing latitude/longitude is reported via
// HasCoordinates=false.
type Position struct {
	LatitudeI       int32
	LongitudeI      int32
	HasCoordinates  bool
	AltitudeM       int32
	TimeS           uint32
	GroundSpeed     uint32
	GroundTrackCdeg uint32
}

// DecodePosition decodes a Position protobuf message.
func DecodePosition(b []byte) (*Position, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	p := &Position{}
	if f, ok := findField(fields, 1); ok {
		p.LatitudeI = sint32(f.u64)
		p.HasCoordinates = true
	}
	if f, ok := findField(fields, 2); ok {
		p.LongitudeI = sint32(f.u64)
	} else {
		p.HasCoordinates = false
	}
	if f, ok := findField(fields, 3); ok {
		p.AltitudeM = sint32(f.u64)
	}
	if f, ok := findField(fields, 4); ok {
		p.TimeS = uint32v(f.u64)
	}
	if f, ok := findField(fields, 15); ok {
		p.GroundSpeed = uint32v(f.u64)
	}
	if f, ok := findField(fields, 16); ok {
		p.GroundTrackCdeg = uint32v(f.u64)
	}
	return p, nil
}

// User mirrors Meshtastic's User message.
type User struct {
	ID        string
	LongName  string
	ShortName string
	HwModel   uint32
}

// DecodeUser decodes a User protobuf message.
func DecodeUser(b []byte) (*User, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	u := &User{}
	if f, ok := findField(fields, 1); ok {
		u.ID = string(f.buf)
	}
	if f, ok := findField(fields, 2); ok {
		u.LongName = string(f.buf)
	}
	if f, ok := findField(fields, 3); ok {
		u.ShortName = string(f.buf)
	}
	if f, ok := findField(fields, 5); ok {
		u.HwModel = uint32v(f.u64)
	}
	if u.ID == "" && u.LongName == "" && u.ShortName == "" {
		return nil, ErrUnparseable
	}
	return u, nil
}

// NodeInfo mirrors Meshtastic's NodeInfo message: a node number plus
// embedded User and optional Position.
type NodeInfo struct {
	Num      uint32
	User     *User
	Position *Position
}

// DecodeNodeInfo decodes a NodeInfo protobuf message.
func DecodeNodeInfo(b []byte) (*NodeInfo, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	n := &NodeInfo{}
	if f, ok := findField(fields, 1); ok {
		n.Num = uint32v(f.u64)
	}
	if f, ok := findField(fields, 2); ok {
		if u, err := DecodeUser(f.buf); err == nil {
			n.User = u
		}
	}
	if f, ok := findField(fields, 3); ok {
		if p, err := DecodePosition(f.buf); err == nil {
			n.Position = p
		}
	}
	return n, nil
}

// Waypoint mirrors Meshtastic's Waypoint message.
type Waypoint struct {
	ID          uint32
	LatitudeI   int32
	LongitudeI  int32
	Expire      uint32
	Name        string
	Description string
}

// DecodeWaypoint decodes a Waypoint protobuf message.
func DecodeWaypoint(b []byte) (*Waypoint, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	w := &Waypoint{}
	if f, ok := findField(fields, 1); ok {
		w.ID = uint32v(f.u64)
	}
	if f, ok := findField(fields, 2); ok {
		w.LatitudeI = sint32(f.u64)
	}
	if f, ok := findField(fields, 3); ok {
		w.LongitudeI = sint32(f.u64)
	}
	if f, ok := findField(fields, 4); ok {
		w.Expire = uint32v(f.u64)
	}
	if f, ok := findField(fields, 6); ok {
		w.Name = string(f.buf)
	}
	if f, ok := findField(fields, 7); ok {
		w.Description = string(f.buf)
	}
	return w, nil
}

// Alive reports whether the waypoint should still be considered
// active (expire acts as an alive/killed hint).
func (w *Waypoint) Alive(nowUnix uint32) bool {
	return w.Expire == 0 || w.Expire > nowUnix
}

// DeviceMetrics mirrors Meshtastic's DeviceMetrics telemetry variant.
type DeviceMetrics struct {
	BatteryLevel       uint32
	VoltageV           float32
	ChannelUtilization float32
	AirUtilTx          float32
	UptimeSeconds      uint32
}

// EnvironmentMetrics mirrors Meshtastic's EnvironmentMetrics variant.
type EnvironmentMetrics struct {
	TemperatureC       float32
	RelativeHumidity   float32
	BarometricPressure float32
	WindDirectionDeg   uint32
	WindSpeedMs        float32
	Voltage            float32
}

// Telemetry mirrors Meshtastic's Telemetry message: a timestamp plus
// exactly one populated metrics variant, of which this decoder covers
// the two that feed the APRS weather/status emitters directly
// the other five variants (air quality, power,
// local stats, health, host) are recognized by field presence only and
// surfaced as an opaque populated-fields summary by the caller.
type Telemetry struct {
	TimeS       uint32
	Device      *DeviceMetrics
	Environment *EnvironmentMetrics
	OtherFields []uint32
}

// DecodeTelemetry decodes a Telemetry protobuf message.
func DecodeTelemetry(b []byte) (*Telemetry, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	t := &Telemetry{}
	for _, f := range fields {
		switch f.num {
		case 1:
			t.TimeS = uint32v(f.u64)
		case 2:
			sub, _ := parseFields(f.buf)
			dm := &DeviceMetrics{}
			if v, ok := findField(sub, 1); ok {
				dm.BatteryLevel = uint32v(v.u64)
			}
			if v, ok := findField(sub, 2); ok {
				dm.VoltageV = float32v(v.u64)
			}
			if v, ok := findField(sub, 3); ok {
				dm.ChannelUtilization = float32v(v.u64)
			}
			if v, ok := findField(sub, 4); ok {
				dm.AirUtilTx = float32v(v.u64)
			}
			if v, ok := findField(sub, 5); ok {
				dm.UptimeSeconds = uint32v(v.u64)
			}
			t.Device = dm
		case 3:
			sub, _ := parseFields(f.buf)
			em := &EnvironmentMetrics{}
			if v, ok := findField(sub, 1); ok {
				em.TemperatureC = float32v(v.u64)
			}
			if v, ok := findField(sub, 2); ok {
				em.RelativeHumidity = float32v(v.u64)
			}
			if v, ok := findField(sub, 3); ok {
				em.BarometricPressure = float32v(v.u64)
			}
			if v, ok := findField(sub, 5); ok {
				em.Voltage = float32v(v.u64)
			}
			if v, ok := findField(sub, 13); ok {
				em.WindDirectionDeg = uint32v(v.u64)
			}
			if v, ok := findField(sub, 14); ok {
				em.WindSpeedMs = float32v(v.u64)
			}
			t.Environment = em
		default:
			t.OtherFields = append(t.OtherFields, uint32(f.num))
		}
	}
	return t, nil
}

// Status mirrors the status submessage Meshtastic's ATAK plugin port
// carries alongside position/chat traffic: a battery reading plus a
// short free-text status line (callsign, team, or health note).
type Status struct {
	BatteryPct uint32
	HasBattery bool
	Text       string
}

// DecodeStatus decodes a Status protobuf message.
func DecodeStatus(b []byte) (*Status, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	s := &Status{}
	if f, ok := findField(fields, 1); ok {
		s.BatteryPct = uint32v(f.u64)
		s.HasBattery = true
	}
	if f, ok := findField(fields, 2); ok {
		s.Text = string(f.buf)
	}
	if !s.HasBattery && s.Text == "" {
		return nil, ErrUnparseable
	}
	return s, nil
}

// MapReport mirrors the subset of Meshtastic's MapReport message C7
// falls back from/to when decoding a position: identity plus a
// position fix.
type MapReport struct {
	LongName   string
	ShortName  string
	LatitudeI  int32
	LongitudeI int32
	AltitudeM  int32
}

// DecodeMapReport decodes a MapReport protobuf message.
func DecodeMapReport(b []byte) (*MapReport, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	m := &MapReport{}
	if f, ok := findField(fields, 1); ok {
		m.LongName = string(f.buf)
	}
	if f, ok := findField(fields, 2); ok {
		m.ShortName = string(f.buf)
	}
	if f, ok := findField(fields, 9); ok {
		m.LatitudeI = sint32(f.u64)
	}
	if f, ok := findField(fields, 10); ok {
		m.LongitudeI = sint32(f.u64)
	}
	if f, ok := findField(fields, 11); ok {
		m.AltitudeM = sint32(f.u64)
	}
	return m, nil
}
