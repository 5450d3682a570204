package aprs

import (
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/vicliu624/trail-mate-center-sub001/internal/hostlink"
	"github.com/vicliu624/trail-mate-center-sub001/internal/store"
)

// Enqueuer is the APRS-IS client's ingress side: one text line with an
// expiry the client may use to drop it if it has gone stale sitting in
// the outbound queue.
type Enqueuer interface {
	Enqueue(line string, expiresAt time.Time)
}

// GatewayConfig carries the igate identity and policy knobs the
// gateway service needs. NodeCallsigns is the explicit node_id ->
// callsign map taken from the daemon's settings file; the device's
// config TLV at key hostlink.ConfigKeyNodeIDCallsignMap is not read
// for it.
type GatewayConfig struct {
	IgateCallsign     string
	IgateSSID         int
	NodeCallsigns     map[uint32]string
	PathTokens        []string
	PositionIntervalS int
	TxMinIntervalS    int
	DedupWindowS      int
	TelemetryTitle    string
	AnalogLabels      [5]string
	AnalogUnits       [5]string
	BitLabels         [8]string
}

// Counters are the gateway's observability counters, read by the
// metrics collector via Snapshot.
type Counters struct {
	Errors      atomic.Uint64
	Dropped     atomic.Uint64
	RateLimited atomic.Uint64
	DedupeHits  atomic.Uint64
	Sent        atomic.Uint64
}

// CounterSnapshot is a point-in-time copy of Counters' values.
type CounterSnapshot struct {
	Errors, Dropped, RateLimited, DedupeHits, Sent uint64
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Errors:      c.Errors.Load(),
		Dropped:     c.Dropped.Load(),
		RateLimited: c.RateLimited.Load(),
		DedupeHits:  c.DedupeHits.Load(),
		Sent:        c.Sent.Load(),
	}
}

type rateKey struct {
	source uint32
	kind   string
}

type telemetryState struct {
	seq       int
	lastDefAt time.Time
}

var callsignPattern = regexp.MustCompile(`^[A-Z0-9]{1,9}(-[0-9]{1,2})?$`)

// Gateway subscribes to the session store's event feed and turns
// qualifying records into APRS-IS text lines. All policy state
// (rate-limit, dedup, telemetry definition timers) is held in sync.Map
// so the housekeeping sweep and the hot ingest path never contend on a
// single lock, matching the "concurrent maps, atomic counters" shape
// of the gateway service.
type Gateway struct {
	logger log.Logger
	cfg    GatewayConfig
	st     *store.Store
	out    Enqueuer

	Counters Counters

	rateLimit   sync.Map // rateKey -> time.Time
	dedup       sync.Map // string -> time.Time
	telemetry   sync.Map // uint32 -> *telemetryState
	dedupWindow time.Duration
}

// NewGateway constructs a gateway service bound to a session store and
// an outbound enqueuer (the APRS-IS client).
func NewGateway(st *store.Store, out Enqueuer, logger log.Logger, cfg GatewayConfig) *Gateway {
	return &Gateway{
		logger:      logger,
		cfg:         cfg,
		st:          st,
		out:         out,
		dedupWindow: time.Duration(cfg.DedupWindowS) * time.Second,
	}
}

// Run subscribes to the store and processes events until stop is
// closed. It also starts the 10 s dedup housekeeping sweep.
func (g *Gateway) Run(stop <-chan struct{}) {
	events := g.st.Subscribe()
	housekeeping := time.NewTicker(10 * time.Second)
	defer housekeeping.Stop()

	for {
		select {
		case <-stop:
			return
		case ev := <-events:
			g.handle(ev)
		case <-housekeeping.C:
			g.sweepDedup()
		}
	}
}

func (g *Gateway) handle(ev store.Event) {
	switch {
	case ev.Position != nil:
		g.handlePosition(*ev.Position)
	case ev.Message != nil:
		g.handleMessage(*ev.Message)
	case ev.Tactical != nil:
		g.handleTactical(*ev.Tactical)
	}
}

func (g *Gateway) igateSuffix() string {
	if g.cfg.IgateSSID == 0 {
		return g.cfg.IgateCallsign
	}
	return fmt.Sprintf("%s-%d", g.cfg.IgateCallsign, g.cfg.IgateSSID)
}

// buildPath drops RF-spread tokens and appends the q-construct plus
// the igate's own callsign.
func (g *Gateway) buildPath(direct bool) []string {
	path := make([]string, 0, len(g.cfg.PathTokens)+2)
	for _, tok := range g.cfg.PathTokens {
		if len(tok) == 0 {
			continue
		}
		switch {
		case len(tok) >= 4 && tok[:4] == "WIDE":
			continue
		case len(tok) >= 5 && tok[:5] == "TRACE":
			continue
		case tok[0] == 'Q':
			continue
		}
		path = append(path, tok)
	}
	if direct {
		path = append(path, "qAR")
	} else {
		path = append(path, "qAO")
	}
	path = append(path, g.igateSuffix())
	return path
}

// resolveCallsign implements the lookup order: explicit config map,
// then last-seen NodeInfo.user_id.
func (g *Gateway) resolveCallsign(source uint32) (string, bool) {
	if cs, ok := g.cfg.NodeCallsigns[source]; ok {
		return cs, true
	}
	if ni, ok := g.st.NodeInfo(source); ok {
		call := ni.UserID
		if callsignPattern.MatchString(call) {
			return call, true
		}
	}
	return "", false
}

// checkIngressGate applies the common candidate gate: required RX
// metadata fields, then the from_is/External loop-prevention drop. A
// false return means the caller must not emit anything further; the
// appropriate counter has already been incremented.
func (g *Gateway) checkIngressGate(rx *hostlink.RxMetadata) bool {
	if !rx.HasRequiredAprsFields() {
		g.Counters.Errors.Add(1)
		return false
	}
	if (rx.FromIS != nil && *rx.FromIS) || rx.Origin == hostlink.OriginExternal {
		g.Counters.Dropped.Add(1)
		return false
	}
	return true
}

func (g *Gateway) checkRateLimit(source uint32, kind string, intervalS int) bool {
	if intervalS <= 0 {
		return true
	}
	key := rateKey{source: source, kind: kind}
	now := time.Now()
	if v, ok := g.rateLimit.Load(key); ok {
		if now.Sub(v.(time.Time)) < time.Duration(intervalS)*time.Second {
			g.Counters.RateLimited.Add(1)
			return false
		}
	}
	g.rateLimit.Store(key, now)
	return true
}

func (g *Gateway) checkDedup(kind string, source uint32, packetID uint32, info string) bool {
	var key string
	if packetID != 0 {
		key = fmt.Sprintf("%s|%d|%d", kind, source, packetID)
	} else {
		key = fmt.Sprintf("%s|%d|%s", kind, source, info)
	}
	now := time.Now()
	if v, ok := g.dedup.Load(key); ok {
		if now.Sub(v.(time.Time)) < g.dedupWindow {
			g.Counters.DedupeHits.Add(1)
			return false
		}
	}
	g.dedup.Store(key, now)
	return true
}

func (g *Gateway) sweepDedup() {
	cutoff := time.Now().Add(-g.dedupWindow)
	g.dedup.Range(func(k, v interface{}) bool {
		if v.(time.Time).Before(cutoff) {
			g.dedup.Delete(k)
		}
		return true
	})
}

func rxTimestamp(rx *hostlink.RxMetadata) time.Time {
	if rx == nil {
		return time.Now()
	}
	if rx.TimestampUTC != nil {
		return time.Unix(int64(*rx.TimestampUTC), 0)
	}
	if rx.TimestampMs != nil {
		return time.UnixMilli(int64(*rx.TimestampMs))
	}
	return time.Now()
}

func (g *Gateway) enqueue(kind string, source uint32, rx *hostlink.RxMetadata, src, toCall string, path []string, info string) {
	if !g.checkDedup(kind, source, packetIDOf(rx), info) {
		return
	}
	line := FormatPacket(src, toCall, path, info)
	expiresAt := rxTimestamp(rx).Add(time.Duration(maxInt(5, g.cfg.DedupWindowS*2)) * time.Second)
	if now := time.Now(); expiresAt.Before(now) {
		expiresAt = now
	}
	g.out.Enqueue(line, expiresAt)
	g.Counters.Sent.Add(1)
}

func packetIDOf(rx *hostlink.RxMetadata) uint32 {
	if rx == nil || rx.PacketID == nil {
		return 0
	}
	return *rx.PacketID
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

const toCall = "APZTMC"

func (g *Gateway) handlePosition(p store.PositionUpdate) {
	if p.Kind == "LocalGps" {
		return // locally originated; not a gateway candidate
	}
	if !g.checkIngressGate(p.RxMeta) {
		return
	}
	call, ok := g.resolveCallsign(p.Source)
	if !ok {
		return
	}
	if !g.checkRateLimit(p.Source, "position", g.cfg.PositionIntervalS) {
		return
	}
	lat := float64(p.LatitudeE7) / 1e7
	lon := float64(p.LongitudeE7) / 1e7
	altFt := int(float64(p.AltitudeM) * 3.28084)
	speedKnots := p.SpeedMs * 1.94384
	ts := p.Timestamp.UTC()
	info := FormatPosition(lat, lon, PositionOptions{
		SymbolTable: '/',
		SymbolCode:  '>',
		Compressed:  false,
		CourseDeg:   p.CourseDeg,
		SpeedKnots:  speedKnots,
		AltitudeFt:  &altFt,
		Timestamp:   &ts,
	})
	direct := p.RxMeta.Direct != nil && *p.RxMeta.Direct
	g.enqueue("position", p.Source, p.RxMeta, call, toCall, g.buildPath(direct), info)
}

func (g *Gateway) handleMessage(m store.MessageEntry) {
	if m.RxMeta == nil {
		return // locally originated; not a gateway candidate
	}
	if !g.checkIngressGate(m.RxMeta) {
		return
	}
	call, ok := g.resolveCallsign(m.From)
	if !ok {
		return
	}
	if !g.checkRateLimit(m.From, "message", g.cfg.TxMinIntervalS) {
		return
	}
	addressee, ok := g.resolveCallsign(m.To)
	if !ok {
		addressee = "BLNALL"
	}
	info := FormatMessage(addressee, m.Text, MessageIDHex(m.MsgID))
	direct := m.RxMeta.Direct != nil && *m.RxMeta.Direct
	g.enqueue("message", m.From, m.RxMeta, call, toCall, g.buildPath(direct), info)
}

func (g *Gateway) handleTactical(t store.TacticalEvent) {
	switch t.Kind {
	case "Waypoint":
		g.handleWaypoint(t)
	case "Telemetry":
		g.handleTelemetry(t)
	case "Status":
		g.handleStatus(t)
	}
}

func (g *Gateway) handleWaypoint(t store.TacticalEvent) {
	if !g.checkIngressGate(t.RxMeta) {
		return
	}
	call, ok := g.resolveCallsign(t.Source)
	if !ok {
		return
	}
	if !g.checkRateLimit(t.Source, "waypoint", g.cfg.TxMinIntervalS) {
		return
	}
	latE7, _ := t.Fields["lat_e7"].(int32)
	lonE7, _ := t.Fields["lon_e7"].(int32)
	name, _ := t.Fields["name"].(string)
	alive, _ := t.Fields["alive"].(bool)
	lat := float64(latE7) / 1e7
	lon := float64(lonE7) / 1e7
	info := FormatObject(name, alive, t.Timestamp.UTC(), lat, lon, '/', '\\', "")
	direct := t.RxMeta.Direct != nil && *t.RxMeta.Direct
	g.enqueue("waypoint", t.Source, t.RxMeta, call, toCall, g.buildPath(direct), info)
}

func (g *Gateway) handleStatus(t store.TacticalEvent) {
	if !g.checkIngressGate(t.RxMeta) {
		return
	}
	call, ok := g.resolveCallsign(t.Source)
	if !ok {
		return
	}
	if !g.checkRateLimit(t.Source, "status", g.cfg.TxMinIntervalS) {
		return
	}
	text, _ := t.Fields["text"].(string)
	if text == "" {
		if battery, ok := t.Fields["battery_pct"].(uint32); ok {
			text = fmt.Sprintf("battery %d%%", battery)
		}
	}
	info := FormatStatus(text)
	direct := t.RxMeta.Direct != nil && *t.RxMeta.Direct
	g.enqueue("status", t.Source, t.RxMeta, call, toCall, g.buildPath(direct), info)
}

func (g *Gateway) handleTelemetry(t store.TacticalEvent) {
	if !g.checkIngressGate(t.RxMeta) {
		return
	}
	call, ok := g.resolveCallsign(t.Source)
	if !ok {
		return
	}
	if !g.checkRateLimit(t.Source, "telemetry", g.cfg.TxMinIntervalS) {
		return
	}
	direct := t.RxMeta.Direct != nil && *t.RxMeta.Direct
	path := g.buildPath(direct)

	variant, _ := t.Fields["variant"].(string)
	switch variant {
	case "device":
		g.emitDeviceTelemetry(t, call, path)
	case "environment":
		g.emitEnvironmentTelemetry(t, call, path)
	default:
		level.Debug(g.logger).Log("msg", "unhandled telemetry variant", "variant", variant, "source", t.Source)
	}
}

func (g *Gateway) emitDeviceTelemetry(t store.TacticalEvent, call string, path []string) {
	g.maybeEmitDefinitions(t.Source, call, path)
	st := g.telemetrySeq(t.Source)
	battery, _ := t.Fields["battery_level"].(uint32)
	voltage, _ := t.Fields["voltage"].(float32)
	chUtil, _ := t.Fields["channel_utilization"].(float32)
	airUtil, _ := t.Fields["air_util_tx"].(float32)
	uptime, _ := t.Fields["uptime_seconds"].(uint32)
	analog := [5]float64{float64(battery), float64(voltage * 100), float64(chUtil * 10), float64(airUtil * 10), float64(uptime % 256)}
	info := FormatTelemetry(st.seq, analog, [8]bool{})
	g.enqueue("telemetry", t.Source, t.RxMeta, call, toCall, path, info)
}

func (g *Gateway) emitEnvironmentTelemetry(t store.TacticalEvent, call string, path []string) {
	temp, hasTemp := t.Fields["temperature_c"].(float32)
	humidity, hasHumidity := t.Fields["relative_humidity"].(float32)
	pressure, hasPressure := t.Fields["barometric_pressure"].(float32)
	windDir, hasWindDir := t.Fields["wind_direction_deg"].(uint32)
	windSpeed, hasWindSpeed := t.Fields["wind_speed_ms"].(float32)

	wx := WeatherData{
		TemperatureC: float64(temp), HasTemperature: hasTemp,
		HumidityPct: float64(humidity), HasHumidity: hasHumidity,
		PressureHpa: float64(pressure), HasPressure: hasPressure,
		WindDirectionDeg: float64(windDir), HasWindDirection: hasWindDir,
		WindSpeedMs: float64(windSpeed), HasWindSpeed: hasWindSpeed,
	}
	if !wx.HasAnyField() {
		return
	}
	info := FormatWeather(wx)
	g.enqueue("weather", t.Source, t.RxMeta, call, toCall, path, info)
}

func (g *Gateway) telemetrySeq(source uint32) *telemetryState {
	v, _ := g.telemetry.LoadOrStore(source, &telemetryState{})
	st := v.(*telemetryState)
	st.seq++
	return st
}

// maybeEmitDefinitions sends PARM/UNIT/EQNS/BITS lines if none have
// been sent for this source in the last 30 minutes.
func (g *Gateway) maybeEmitDefinitions(source uint32, call string, path []string) {
	v, _ := g.telemetry.LoadOrStore(source, &telemetryState{})
	st := v.(*telemetryState)
	now := time.Now()
	if !st.lastDefAt.IsZero() && now.Sub(st.lastDefAt) < 30*time.Minute {
		return
	}
	st.lastDefAt = now

	identity := [5]EqnsCoeffs{{0, 1, 0}, {0, 1, 0}, {0, 1, 0}, {0, 1, 0}, {0, 1, 0}}
	lines := []string{
		FormatParmLine(g.cfg.AnalogLabels, g.cfg.BitLabels),
		FormatUnitLine(g.cfg.AnalogUnits, [8]string{}),
		FormatEqnsLine(identity),
		FormatBitsLine(g.cfg.TelemetryTitle),
	}
	for _, info := range lines {
		g.enqueue("telemetry-def", source, nil, call, toCall, path, info)
	}
}
