package appdata

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/vicliu624/trail-mate-center-sub001/internal/meshproto"
	"github.com/vicliu624/trail-mate-center-sub001/internal/store"
)

// Port numbers dispatched by the decoder, matching the port
// ("the 300-304 range is reserved for team applications").
const (
	PortTeamMgmt     uint32 = 300
	PortTeamPosition uint32 = 301
	PortTeamWaypoint uint32 = 302
	PortTeamChat     uint32 = 303
	PortTeamTrack    uint32 = 304
	PortPosition     uint32 = 3
	PortNodeInfo     uint32 = 4
	PortWaypoint     uint32 = 8
	PortTelemetry    uint32 = 67
	PortMapReport    uint32 = 73
	PortAtakStatus   uint32 = 72
)

// Team Chat body type tags.
const (
	chatTypeText     byte = 1
	chatTypeLocation byte = 2
	chatTypeCommand  byte = 3
)

// Result holds every typed record a single decoded packet produced.
// A packet may legitimately produce more than one (e.g. NodeInfo with
// an embedded Position).
type Result struct {
	Positions []store.PositionUpdate
	NodeInfos []store.NodeInfoUpdate
	Messages  []store.MessageEntry
	Tactical  []store.TacticalEvent
}

func (r *Result) addTactical(source uint32, kind string, fields map[string]interface{}, rx *Packet) {
	r.Tactical = append(r.Tactical, store.TacticalEvent{
		Source: source, Kind: kind, Fields: fields, Timestamp: rx.ReceivedAt, RxMeta: rx.RxMeta,
	})
}

// Decode dispatches a completed AppData packet by port and produces
// typed records. Decode never returns an error: every failure path
// degrades to an opaque "unknown" tactical event.
func Decode(p *Packet) Result {
	var r Result
	switch p.Port {
	case PortTeamTrack:
		decodeTeamTrack(p, &r)
	case PortTeamChat:
		decodeTeamChat(p, &r)
	case PortTeamMgmt:
		decodeTeamMgmt(p, &r)
	case PortPosition, PortTeamPosition:
		decodeMeshPosition(p, &r, tagForPort(p.Port))
	case PortWaypoint, PortTeamWaypoint:
		decodeMeshWaypoint(p, &r)
	case PortNodeInfo:
		decodeMeshNodeInfo(p, &r)
	case PortTelemetry:
		decodeTelemetry(p, &r)
	case PortMapReport:
		decodeMapReport(p, &r)
	case PortAtakStatus:
		decodeStatus(p, &r)
	default:
		r.addTactical(p.From, "unknown", map[string]interface{}{
			"port":        p.Port,
			"payload_len": len(p.Payload),
		}, p)
	}
	return r
}

func tagForPort(port uint32) string {
	if port == PortTeamPosition {
		return "TeamPosition"
	}
	return "Position"
}

func decodeMeshPosition(p *Packet, r *Result, kind string) {
	pos, err := meshproto.DecodePosition(p.Payload)
	if err != nil || !pos.HasCoordinates {
		r.addTactical(p.From, "unknown", map[string]interface{}{"port": p.Port, "reason": "position decode failed"}, p)
		return
	}
	r.Positions = append(r.Positions, store.PositionUpdate{
		Source: p.From, LatitudeE7: pos.LatitudeI, LongitudeE7: pos.LongitudeI,
		AltitudeM: pos.AltitudeM, SpeedMs: float64(pos.GroundSpeed),
		CourseDeg: float64(pos.GroundTrackCdeg) / 100.0, Kind: kind,
		Timestamp: p.ReceivedAt, RxMeta: p.RxMeta,
	})
}

func decodeMeshWaypoint(p *Packet, r *Result) {
	wp, err := meshproto.DecodeWaypoint(p.Payload)
	if err != nil {
		r.addTactical(p.From, "unknown", map[string]interface{}{"port": p.Port, "reason": "waypoint decode failed"}, p)
		return
	}
	nowUnix := uint32(p.ReceivedAt.Unix())
	r.addTactical(p.From, "Waypoint", map[string]interface{}{
		"id": wp.ID, "lat_e7": wp.LatitudeI, "lon_e7": wp.LongitudeI,
		"name": wp.Name, "description": wp.Description, "alive": wp.Alive(nowUnix),
	}, p)
}

func decodeMeshNodeInfo(p *Packet, r *Result) {
	if u, err := meshproto.DecodeUser(p.Payload); err == nil {
		r.NodeInfos = append(r.NodeInfos, store.NodeInfoUpdate{
			Source: p.From, UserID: u.ID, LongName: u.LongName, ShortName: u.ShortName,
			Timestamp: p.ReceivedAt, RxMeta: p.RxMeta,
		})
		return
	}
	ni, err := meshproto.DecodeNodeInfo(p.Payload)
	if err != nil {
		r.addTactical(p.From, "unknown", map[string]interface{}{"port": p.Port, "reason": "nodeinfo decode failed"}, p)
		return
	}
	if ni.User != nil {
		r.NodeInfos = append(r.NodeInfos, store.NodeInfoUpdate{
			Source: p.From, UserID: ni.User.ID, LongName: ni.User.LongName, ShortName: ni.User.ShortName,
			Timestamp: p.ReceivedAt, RxMeta: p.RxMeta,
		})
	}
	if ni.Position != nil && ni.Position.HasCoordinates {
		r.Positions = append(r.Positions, store.PositionUpdate{
			Source: p.From, LatitudeE7: ni.Position.LatitudeI, LongitudeE7: ni.Position.LongitudeI,
			AltitudeM: ni.Position.AltitudeM, Kind: "NodeInfo",
			Timestamp: p.ReceivedAt, RxMeta: p.RxMeta,
		})
	}
}

func decodeTelemetry(p *Packet, r *Result) {
	t, err := meshproto.DecodeTelemetry(p.Payload)
	if err != nil {
		r.addTactical(p.From, "unknown", map[string]interface{}{"port": p.Port, "reason": "telemetry decode failed"}, p)
		return
	}
	fields := map[string]interface{}{"time_s": t.TimeS}
	if t.Device != nil {
		fields["variant"] = "device"
		fields["battery_level"] = t.Device.BatteryLevel
		fields["voltage"] = t.Device.VoltageV
		fields["channel_utilization"] = t.Device.ChannelUtilization
		fields["air_util_tx"] = t.Device.AirUtilTx
		fields["uptime_seconds"] = t.Device.UptimeSeconds
	} else if t.Environment != nil {
		fields["variant"] = "environment"
		fields["temperature_c"] = t.Environment.TemperatureC
		fields["relative_humidity"] = t.Environment.RelativeHumidity
		fields["barometric_pressure"] = t.Environment.BarometricPressure
		fields["wind_direction_deg"] = t.Environment.WindDirectionDeg
		fields["wind_speed_ms"] = t.Environment.WindSpeedMs
		fields["voltage"] = t.Environment.Voltage
	} else {
		fields["variant"] = "other"
		fields["populated_field_numbers"] = t.OtherFields
	}
	r.addTactical(p.From, "Telemetry", fields, p)
}

func decodeStatus(p *Packet, r *Result) {
	st, err := meshproto.DecodeStatus(p.Payload)
	if err != nil {
		r.addTactical(p.From, "unknown", map[string]interface{}{"port": p.Port, "reason": "status decode failed"}, p)
		return
	}
	fields := map[string]interface{}{"text": st.Text}
	if st.HasBattery {
		fields["battery_pct"] = st.BatteryPct
	}
	r.addTactical(p.From, "Status", fields, p)
}

func decodeMapReport(p *Packet, r *Result) {
	mr, err := meshproto.DecodeMapReport(p.Payload)
	if err == nil && (mr.LatitudeI != 0 || mr.LongitudeI != 0) {
		r.NodeInfos = append(r.NodeInfos, store.NodeInfoUpdate{
			Source: p.From, LongName: mr.LongName, ShortName: mr.ShortName,
			Timestamp: p.ReceivedAt, RxMeta: p.RxMeta,
		})
		r.Positions = append(r.Positions, store.PositionUpdate{
			Source: p.From, LatitudeE7: mr.LatitudeI, LongitudeE7: mr.LongitudeI,
			AltitudeM: mr.AltitudeM, Kind: "MapReport",
			Timestamp: p.ReceivedAt, RxMeta: p.RxMeta,
		})
		return
	}
	// Fall back to NodeInfo/Position decoding.
	decodeMeshNodeInfo(p, r)
}

func decodeTeamMgmt(p *Packet, r *Result) {
	if len(p.Payload) < 4 {
		r.addTactical(p.From, "unknown", map[string]interface{}{"port": p.Port, "reason": "team mgmt header too short"}, p)
		return
	}
	version := p.Payload[0]
	typ := p.Payload[1]
	payloadLen := binary.LittleEndian.Uint16(p.Payload[2:4])
	r.addTactical(p.From, "TeamMgmt", map[string]interface{}{
		"version": version, "type": typ, "payload_len": payloadLen,
	}, p)
}

func decodeTeamTrack(p *Packet, r *Result) {
	buf := bytes.NewReader(p.Payload)
	fail := func() {
		r.addTactical(p.From, "unknown", map[string]interface{}{"port": p.Port, "reason": "team track decode failed"}, p)
	}

	if _, err := buf.ReadByte(); err != nil { // version, unused
		fail()
		return
	}
	var startTs, interval, validMask uint32
	if err := binary.Read(buf, binary.LittleEndian, &startTs); err != nil {
		fail()
		return
	}
	if err := binary.Read(buf, binary.LittleEndian, &interval); err != nil {
		fail()
		return
	}
	count, err := buf.ReadByte()
	if err != nil {
		fail()
		return
	}
	if err := binary.Read(buf, binary.LittleEndian, &validMask); err != nil {
		fail()
		return
	}
	if count > 20 {
		count = 20
	}
	for i := byte(0); i < count; i++ {
		if validMask&(1<<uint(i)) == 0 {
			continue
		}
		var latE7, lonE7 int32
		if err := binary.Read(buf, binary.LittleEndian, &latE7); err != nil {
			fail()
			return
		}
		if err := binary.Read(buf, binary.LittleEndian, &lonE7); err != nil {
			fail()
			return
		}
		r.Positions = append(r.Positions, store.PositionUpdate{
			Source: p.From, LatitudeE7: latE7, LongitudeE7: lonE7, Kind: "TeamTrack",
			Timestamp: time.Unix(int64(startTs)+int64(i)*int64(interval), 0), RxMeta: p.RxMeta,
		})
	}
}

func decodeTeamChat(p *Packet, r *Result) {
	buf := bytes.NewReader(p.Payload)
	var version, typ byte
	var flags uint16
	var msgID, tsS, from uint32
	var err error
	if version, err = buf.ReadByte(); err != nil {
		r.addTactical(p.From, "unknown", map[string]interface{}{"port": p.Port, "reason": "team chat header too short"}, p)
		return
	}
	if typ, err = buf.ReadByte(); err != nil {
		r.addTactical(p.From, "unknown", map[string]interface{}{"port": p.Port, "reason": "team chat header too short"}, p)
		return
	}
	for _, f := range []interface{}{&flags, &msgID, &tsS, &from} {
		if err := binary.Read(buf, binary.LittleEndian, f); err != nil {
			r.addTactical(p.From, "unknown", map[string]interface{}{"port": p.Port, "reason": "team chat header too short"}, p)
			return
		}
	}
	_ = version
	ts := time.Unix(int64(tsS), 0)
	bodyDecoded := false

	switch typ {
	case chatTypeText:
		text := remaining(buf)
		r.Messages = append(r.Messages, store.MessageEntry{
			MsgID: msgID, From: from, To: p.To, Channel: p.Channel, Text: text,
			Status: store.MessageStatusSucceeded, CreatedAt: ts, RxMeta: p.RxMeta,
		})
		r.addTactical(from, "Chat", map[string]interface{}{"msg_id": msgID, "text": text}, p)

	case chatTypeLocation:
		var latE7, lonE7 int32
		var altM int16
		var accM uint16
		var locTs uint32
		var source byte
		var labelLen uint16
		if err := binary.Read(buf, binary.LittleEndian, &latE7); err != nil {
			break
		}
		if err := binary.Read(buf, binary.LittleEndian, &lonE7); err != nil {
			break
		}
		if err := binary.Read(buf, binary.LittleEndian, &altM); err != nil {
			break
		}
		if err := binary.Read(buf, binary.LittleEndian, &accM); err != nil {
			break
		}
		if err := binary.Read(buf, binary.LittleEndian, &locTs); err != nil {
			break
		}
		if source, err = buf.ReadByte(); err != nil {
			break
		}
		if err := binary.Read(buf, binary.LittleEndian, &labelLen); err != nil {
			break
		}
		label := make([]byte, labelLen)
		_, _ = io.ReadFull(buf, label)

		r.Positions = append(r.Positions, store.PositionUpdate{
			Source: from, LatitudeE7: latE7, LongitudeE7: lonE7, AltitudeM: int32(altM),
			Kind: "ChatLocation", Timestamp: time.Unix(int64(locTs), 0), RxMeta: p.RxMeta,
		})
		r.Messages = append(r.Messages, store.MessageEntry{
			MsgID: msgID, From: from, To: p.To, Channel: p.Channel,
			Text: "shared location: " + string(label), Status: store.MessageStatusSucceeded, CreatedAt: ts, RxMeta: p.RxMeta,
		})
		r.addTactical(from, "ChatLocation", map[string]interface{}{
			"lat_e7": latE7, "lon_e7": lonE7, "acc_m": accM, "source": namedLocationSource(source), "source_id": source, "label": string(label),
		}, p)
		bodyDecoded = true

	case chatTypeCommand:
		var cmdType, priority byte
		var latE7, lonE7 int32
		var radiusM uint32
		var noteLen uint16
		if cmdType, err = buf.ReadByte(); err != nil {
			break
		}
		if err := binary.Read(buf, binary.LittleEndian, &latE7); err != nil {
			break
		}
		if err := binary.Read(buf, binary.LittleEndian, &lonE7); err != nil {
			break
		}
		if err := binary.Read(buf, binary.LittleEndian, &radiusM); err != nil {
			break
		}
		if priority, err = buf.ReadByte(); err != nil {
			break
		}
		if err := binary.Read(buf, binary.LittleEndian, &noteLen); err != nil {
			break
		}
		note := make([]byte, noteLen)
		_, _ = io.ReadFull(buf, note)

		r.Messages = append(r.Messages, store.MessageEntry{
			MsgID: msgID, From: from, To: p.To, Channel: p.Channel,
			Text: "command: " + string(note), Status: store.MessageStatusSucceeded, CreatedAt: ts, RxMeta: p.RxMeta,
		})
		r.addTactical(from, "ChatCommand", map[string]interface{}{
			"cmd_type": cmdType, "lat_e7": latE7, "lon_e7": lonE7,
			"radius_m": radiusM, "priority": priority, "note": string(note),
		}, p)
		bodyDecoded = true

	default:
		r.addTactical(from, "unknown", map[string]interface{}{"port": p.Port, "chat_type": typ}, p)
	}
	if (typ == chatTypeLocation || typ == chatTypeCommand) && !bodyDecoded {
		r.addTactical(p.From, "unknown", map[string]interface{}{"port": p.Port, "reason": "team chat body too short"}, p)
	}
}

func remaining(r *bytes.Reader) string {
	b := make([]byte, r.Len())
	_, _ = r.Read(b)
	return string(b)
}

// namedLocationSource maps the Team Chat location "source" byte to a
// marker name; values outside 0..5 render as the generic "unknown".
// The raw byte is kept beside the name in the ChatLocation event's
// "source_id" field.
func namedLocationSource(source byte) string {
	names := []string{"gps", "manual", "network", "last_known", "shared", "estimated"}
	if int(source) < len(names) {
		return names[source]
	}
	return "unknown"
}
