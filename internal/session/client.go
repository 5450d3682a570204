package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/vicliu624/trail-mate-center-sub001/internal/appdata"
	"github.com/vicliu624/trail-mate-center-sub001/internal/hostlink"
	"github.com/vicliu624/trail-mate-center-sub001/internal/store"
)

// appdataPortTeamChat is the portnum C7 dispatches team chat packets
// on; it carries the same value as appdata.PortTeamChat.
const appdataPortTeamChat = 303

// Config holds the session client's tunable parameters, loaded from
// the [serial]/[device] settings tables (internal/config).
type Config struct {
	HelloTimeout   time.Duration
	AckTimeout     time.Duration
	MaxRetries     uint
	WatchdogPeriod time.Duration
	AutoReconnect  bool
	Backoff        BackoffPolicy
	MaxFrameLen    int
}

// DefaultConfig returns sensible operational defaults for handshake,
// ACK, watchdog, and reconnect timing.
func DefaultConfig() Config {
	return Config{
		HelloTimeout:   3 * time.Second,
		AckTimeout:     500 * time.Millisecond,
		MaxRetries:     3,
		WatchdogPeriod: 200 * time.Millisecond,
		AutoReconnect:  true,
		Backoff:        BackoffPolicy{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2},
		MaxFrameLen:    hostlink.MaxPayloadLen,
	}
}

// teamContext caches the most recently observed team identity so
// outbound team chat/command sends can reuse it without the caller
// re-specifying it.
type teamContext struct {
	teamID  [8]byte
	keyID   uint32
	channel byte
	valid   bool
}

// pendingResult tracks a unicast message awaiting its EvTxResult, in
// send order: the next EvTxResult pops the head.
type pendingResult struct {
	msgID uint32
}

// Client owns one transport, one codec, one request tracker, one
// AppData reassembler, and dispatches decoded records to the session
// store, grounded on
// l2tp_dynamic_tunnel.go's per-tunnel ownership of its control
// connection and transport.go's sender loop shape.
type Client struct {
	logger log.Logger
	cfg    Config

	openTransport func() (Transport, error)
	transport     Transport

	decoder *hostlink.Decoder
	tracker *Tracker
	reasm   *appdata.Reassembler
	conn    *Connection
	store   *store.Store

	mu             sync.Mutex
	deviceCaps     uint32
	deviceModel    string
	deviceFw       string
	team           teamContext
	resultQueue    []pendingResult
	awaitingStatus chan *hostlink.EvStatusPayload

	cancel  context.CancelFunc
	baseCtx context.Context
	wg      sync.WaitGroup

	// connCancel stops the readLoop/watchdogLoop pair of the *current*
	// transport, one generation at a time, so a mid-session transport
	// error can tear down that generation's watchdogLoop before
	// reconnectLoop starts a fresh one on the new transport.
	connCancel context.CancelFunc
}

// NewClient constructs a session client around an as-yet-unopened
// transport. openTransport is called on Connect and every reconnect
// attempt, so it can point at the same serial port each time.
func NewClient(openTransport func() (Transport, error), st *store.Store, logger log.Logger, cfg Config) *Client {
	return &Client{
		logger:        logger,
		cfg:           cfg,
		openTransport: openTransport,
		decoder:       hostlink.NewDecoder(),
		tracker:       NewTracker(),
		reasm:         appdata.NewReassembler(),
		conn:          NewConnection(),
		store:         st,
	}
}

// State returns the current connection FSM state.
func (c *Client) State() string { return c.conn.State() }

// Connect opens the transport, performs the Hello/HelloAck handshake,
// and starts the background read, watchdog, and (if configured)
// reconnect loops.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.baseCtx = ctx

	go c.forwardConnectionState(ctx)

	if err := c.conn.Fire(EvConnect); err != nil {
		return err
	}
	if err := c.handshake(ctx); err != nil {
		_ = c.conn.FireError(EvTransportError, err.Error())
		if c.cfg.AutoReconnect {
			c.wg.Add(1)
			go c.reconnectLoop(ctx)
			return nil
		}
		return err
	}

	c.startConnectionLoops(ctx)
	return nil
}

// startConnectionLoops starts readLoop and watchdogLoop for the
// current transport under a fresh cancellable scope, so a later
// transport error can stop just this generation's loops without
// tearing down the client's overall ctx.
func (c *Client) startConnectionLoops(ctx context.Context) {
	connCtx, connCancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.connCancel = connCancel
	c.mu.Unlock()

	c.wg.Add(2)
	go c.readLoop(connCtx)
	go c.watchdogLoop(connCtx)
}

// Close stops all background loops and closes the transport.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.transport != nil {
		return c.transport.Close()
	}
	return nil
}

func (c *Client) forwardConnectionState(ctx context.Context) {
	sub := c.conn.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case sc := <-sub:
			c.store.SetConnectionState(sc.State)
			level.Info(c.logger).Log("event", "state_change", "state", sc.State, "reason", sc.Reason)
		}
	}
}

// handshake opens the transport and runs the Hello/HelloAck exchange.
// The caller must already have driven the connection FSM into
// Connecting or Reconnecting (via EvConnect or EvReconnect) before
// calling this, since both states share the EvTransportOpen edge into
// Handshaking.
func (c *Client) handshake(ctx context.Context) error {
	tr, err := c.openTransport()
	if err != nil {
		return fmt.Errorf("session: open transport: %w", err)
	}
	c.transport = tr
	c.decoder = hostlink.NewDecoder()
	c.tracker.Reset()

	if err := c.conn.Fire(EvTransportOpen); err != nil {
		return err
	}

	seq := c.tracker.NextSeq()
	helloBytes, err := hostlink.Encode(hostlink.Frame{Type: hostlink.FrameTypeHello, Seq: seq})
	if err != nil {
		return err
	}
	pending := c.tracker.Register(seq, hostlink.FrameTypeHello, helloBytes, c.cfg.HelloTimeout, 0)
	if _, err := c.transport.Write(helloBytes); err != nil {
		return fmt.Errorf("session: write Hello: %w", err)
	}

	ack, err := c.awaitHelloAck(ctx, pending)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.deviceCaps = ack.Caps
	c.deviceModel = ack.Model
	c.deviceFw = ack.Fw
	c.mu.Unlock()

	if ack.HasCap(hostlink.CapSetTime) {
		c.sendSetTime(time.Now())
	}

	return c.conn.Fire(EvHelloAcked)
}

// awaitHelloAck blocks reading raw bytes directly off the transport
// until the Hello's HelloAck frame arrives or HelloTimeout elapses;
// this bypasses the (not-yet-started) readLoop since the handshake
// happens before it is running.
func (c *Client) awaitHelloAck(ctx context.Context, pending *Pending) (*hostlink.HelloAckPayload, error) {
	deadline := time.Now().Add(c.cfg.HelloTimeout)
	buf := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, err := c.transport.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("session: read during handshake: %w", err)
		}
		if n > 0 {
			c.decoder.Append(buf[:n])
			frames, err := c.decoder.Decode()
			if err != nil {
				return nil, err
			}
			for _, f := range frames {
				if f.Type == hostlink.FrameTypeHelloAck {
					c.tracker.Complete(pending.Seq)
					return hostlink.DecodeHelloAck(f.Payload)
				}
			}
		}
	}
	c.tracker.TimeoutExpired(pending.Seq)
	return nil, fmt.Errorf("session: HelloAck not received within %s", c.cfg.HelloTimeout)
}

func (c *Client) sendSetTime(now time.Time) {
	seq := c.tracker.NextSeq()
	payload, err := hostlink.CmdSetTimePayload{EpochS: uint64(now.Unix())}.Encode()
	if err != nil {
		level.Error(c.logger).Log("event", "set_time_encode_failed", "err", err)
		return
	}
	frameBytes, err := hostlink.Encode(hostlink.Frame{Type: hostlink.FrameTypeCmdSetTime, Seq: seq, Payload: payload})
	if err != nil {
		level.Error(c.logger).Log("event", "set_time_encode_failed", "err", err)
		return
	}
	c.tracker.Register(seq, hostlink.FrameTypeCmdSetTime, frameBytes, c.cfg.AckTimeout, c.cfg.MaxRetries)
	if _, err := c.transport.Write(frameBytes); err != nil {
		level.Error(c.logger).Log("event", "set_time_write_failed", "err", err)
	}
}

// readLoop pumps bytes from the transport into the decoder and
// dispatches whatever frames come out, until ctx is cancelled or the
// transport errors. A transport error here is a genuine link failure
// (device unplugged, serial port gone) rather than a protocol error,
// so it drives the connection FSM into Error and, if configured,
// hands off to reconnectLoop rather than just ending the goroutine.
func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := c.transport.Read(buf)
		if err != nil {
			_ = c.conn.FireError(EvTransportError, err.Error())
			if c.cfg.AutoReconnect {
				c.mu.Lock()
				if c.connCancel != nil {
					c.connCancel()
				}
				base := c.baseCtx
				c.mu.Unlock()
				c.wg.Add(1)
				go c.reconnectLoop(base)
			}
			return
		}
		if n == 0 {
			continue
		}
		c.decoder.Append(buf[:n])
		frames, err := c.decoder.Decode()
		if err != nil {
			level.Error(c.logger).Log("event", "decode_error", "err", err)
			continue
		}
		for _, ev := range c.decoder.Events() {
			level.Debug(c.logger).Log("event", "resync", "err", ev.Err, "offset", ev.Offset)
		}
		for _, f := range frames {
			c.dispatch(f)
		}
	}
}

func (c *Client) dispatch(f hostlink.Frame) {
	switch f.Type {
	case hostlink.FrameTypeAck:
		ack, err := hostlink.DecodeAck(f.Payload)
		if err != nil {
			level.Error(c.logger).Log("event", "bad_ack_payload", "err", err)
			return
		}
		c.tracker.HandleAck(f.Seq, ack.Code)

	case hostlink.FrameTypeEvRxMsg:
		rx, err := hostlink.DecodeEvRxMsg(f.Payload)
		if err != nil {
			level.Error(c.logger).Log("event", "bad_ev_rx_msg", "err", err)
			return
		}
		c.store.PutMessage(store.MessageEntry{
			MsgID: rx.MsgID, From: rx.From, To: rx.To, Channel: rx.Chan,
			Text: rx.Text, Status: store.MessageStatusSucceeded, CreatedAt: time.Unix(int64(rx.TsS), 0),
			RxMeta: rx.RxMeta,
		})

	case hostlink.FrameTypeEvTxResult:
		res, err := hostlink.DecodeEvTxResult(f.Payload)
		if err != nil {
			level.Error(c.logger).Log("event", "bad_ev_tx_result", "err", err)
			return
		}
		c.finalizeUnicastResult(res)

	case hostlink.FrameTypeEvStatus:
		status := hostlink.DecodeEvStatus(f.Payload)
		c.store.PutTactical(store.TacticalEvent{Kind: "DeviceStatus", Fields: map[string]interface{}{
			"status": status.Status, "config": status.ConfigMap(),
		}, Timestamp: time.Now()})
		c.mu.Lock()
		waiter := c.awaitingStatus
		c.mu.Unlock()
		if waiter != nil {
			select {
			case waiter <- status:
			default:
			}
		}

	case hostlink.FrameTypeEvGps:
		gps, err := hostlink.DecodeEvGps(f.Payload)
		if err != nil {
			level.Error(c.logger).Log("event", "bad_ev_gps", "err", err)
			return
		}
		c.store.PutPosition(store.PositionUpdate{
			LatitudeE7: gps.LatE7, LongitudeE7: gps.LonE7, AltitudeM: gps.AltCm / 100,
			SpeedMs: float64(gps.SpeedCms) / 100, CourseDeg: float64(gps.CourseCdeg) / 100,
			Kind: "LocalGps", Timestamp: time.Now(),
		})

	case hostlink.FrameTypeEvAppData:
		frag, err := hostlink.DecodeEvAppData(f.Payload)
		if err != nil {
			level.Error(c.logger).Log("event", "bad_ev_app_data", "err", err)
			return
		}
		c.handleAppData(frag)

	case hostlink.FrameTypeEvTeamState:
		ts, err := hostlink.DecodeEvTeamState(f.Payload)
		if err != nil {
			level.Error(c.logger).Log("event", "bad_ev_team_state", "err", err)
			return
		}
		c.mu.Lock()
		c.team = teamContext{teamID: ts.TeamID, keyID: ts.KeyID, channel: ts.Channel, valid: true}
		c.mu.Unlock()
	}
}

func (c *Client) finalizeUnicastResult(res *hostlink.EvTxResultPayload) {
	c.mu.Lock()
	if len(c.resultQueue) == 0 {
		c.mu.Unlock()
		level.Error(c.logger).Log("event", "ev_tx_result_with_empty_queue", "msg_id", res.MsgID)
		return
	}
	head := c.resultQueue[0]
	c.resultQueue = c.resultQueue[1:]
	c.mu.Unlock()

	status := store.MessageStatusSucceeded
	if !res.Success {
		status = store.MessageStatusFailed
	}
	c.store.PutMessage(store.MessageEntry{MsgID: head.msgID, Status: status, CreatedAt: time.Now()})
}

// handleAppData hands a fragment to the reassembler, and on completion
// runs C7's port dispatch, fanning every produced record out to the
// store, and caching team context when present.
func (c *Client) handleAppData(f *hostlink.EvAppDataPayload) {
	pkt := c.reasm.Feed(f)
	if pkt == nil {
		return
	}
	if pkt.TeamKeyID != 0 || pkt.TeamID != ([8]byte{}) {
		c.mu.Lock()
		c.team = teamContext{teamID: pkt.TeamID, keyID: pkt.TeamKeyID, channel: pkt.Channel, valid: true}
		c.mu.Unlock()
	}

	res := appdata.Decode(pkt)
	for _, p := range res.Positions {
		c.store.PutPosition(p)
	}
	for _, n := range res.NodeInfos {
		c.store.PutNodeInfo(n)
	}
	for _, m := range res.Messages {
		c.store.PutMessage(m)
	}
	for _, t := range res.Tactical {
		c.store.PutTactical(t)
	}
}

// SendMessage builds and transmits a CmdTxMsg. The
// returned msgID is this request's HostLink sequence number, which
// also keys the store's MessageEntry; for unicast destinations the
// entry later transitions Acked->Succeeded/Failed as the matching
// EvTxResult arrives.
func (c *Client) SendMessage(to uint32, channel, flags byte, text string) (uint32, error) {
	seq := c.tracker.NextSeq()
	payload, err := hostlink.CmdTxMsgPayload{To: to, Channel: channel, Flags: flags, Text: text}.Encode()
	if err != nil {
		return 0, err
	}
	frameBytes, err := hostlink.Encode(hostlink.Frame{Type: hostlink.FrameTypeCmdTxMsg, Seq: seq, Payload: payload})
	if err != nil {
		return 0, err
	}

	broadcast := to == 0 || to == 0xFFFFFFFF
	c.store.PutMessage(store.MessageEntry{
		MsgID: uint32(seq), From: 0, To: to, Channel: channel, Text: text,
		Status: store.MessageStatusPending, CreatedAt: time.Now(),
	})

	pending := c.tracker.Register(seq, hostlink.FrameTypeCmdTxMsg, frameBytes, c.cfg.AckTimeout, c.cfg.MaxRetries)
	if _, err := c.transport.Write(frameBytes); err != nil {
		return 0, fmt.Errorf("session: write CmdTxMsg: %w", err)
	}

	go c.awaitSendAck(pending, broadcast)
	return uint32(seq), nil
}

func (c *Client) awaitSendAck(pending *Pending, broadcast bool) {
	outcome := <-pending.AckChan()
	msgID := uint32(pending.Seq)

	if outcome.TimedOut {
		c.store.PutMessage(store.MessageEntry{MsgID: msgID, Status: store.MessageStatusTimeout, CreatedAt: time.Now()})
		return
	}
	if outcome.Code != hostlink.AckOk {
		c.store.PutMessage(store.MessageEntry{MsgID: msgID, Status: store.MessageStatusFailed,
			Err: outcome.Code.String(), CreatedAt: time.Now()})
		return
	}
	if broadcast {
		c.store.PutMessage(store.MessageEntry{MsgID: msgID, Status: store.MessageStatusSucceeded, CreatedAt: time.Now()})
		return
	}
	c.store.PutMessage(store.MessageEntry{MsgID: msgID, Status: store.MessageStatusAcked, CreatedAt: time.Now()})
	c.mu.Lock()
	c.resultQueue = append(c.resultQueue, pendingResult{msgID: msgID})
	c.mu.Unlock()
}

// GetConfig requests the device's current configuration and blocks for
// the next EvStatus frame's config TLVs.
func (c *Client) GetConfig() (map[byte][]byte, error) {
	seq := c.tracker.NextSeq()
	frameBytes, err := hostlink.Encode(hostlink.Frame{Type: hostlink.FrameTypeCmdGetConfig, Seq: seq})
	if err != nil {
		return nil, err
	}

	statusCh := make(chan *hostlink.EvStatusPayload, 1)
	c.mu.Lock()
	c.awaitingStatus = statusCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.awaitingStatus == statusCh {
			c.awaitingStatus = nil
		}
		c.mu.Unlock()
	}()

	pending := c.tracker.Register(seq, hostlink.FrameTypeCmdGetConfig, frameBytes, c.cfg.AckTimeout, c.cfg.MaxRetries)
	if _, err := c.transport.Write(frameBytes); err != nil {
		return nil, fmt.Errorf("session: write CmdGetConfig: %w", err)
	}
	outcome := <-pending.AckChan()
	if outcome.TimedOut {
		return nil, fmt.Errorf("session: CmdGetConfig timed out")
	}
	if outcome.Code != hostlink.AckOk {
		return nil, fmt.Errorf("session: CmdGetConfig nacked: %s", outcome.Code)
	}

	select {
	case status := <-statusCh:
		return status.ConfigMap(), nil
	case <-time.After(c.cfg.AckTimeout):
		return nil, fmt.Errorf("session: no EvStatus followed CmdGetConfig ack")
	}
}

// SetConfig writes a TLV configuration set and blocks for its ACK.
func (c *Client) SetConfig(tlvs []hostlink.TLV) error {
	seq := c.tracker.NextSeq()
	payload := hostlink.CmdSetConfigPayload{TLVs: tlvs}.Encode()
	frameBytes, err := hostlink.Encode(hostlink.Frame{Type: hostlink.FrameTypeCmdSetConfig, Seq: seq, Payload: payload})
	if err != nil {
		return err
	}
	pending := c.tracker.Register(seq, hostlink.FrameTypeCmdSetConfig, frameBytes, c.cfg.AckTimeout, c.cfg.MaxRetries)
	if _, err := c.transport.Write(frameBytes); err != nil {
		return fmt.Errorf("session: write CmdSetConfig: %w", err)
	}
	outcome := <-pending.AckChan()
	if outcome.TimedOut {
		return fmt.Errorf("session: CmdSetConfig timed out")
	}
	if outcome.Code != hostlink.AckOk {
		return fmt.Errorf("session: CmdSetConfig nacked: %s", outcome.Code)
	}
	return nil
}

// buildTeamChatText renders a Team Chat text body.
func buildTeamChatText(msgID, from uint32, text string) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(1) // version
	buf.WriteByte(1) // chat type: text
	binary.Write(buf, binary.LittleEndian, uint16(0))
	binary.Write(buf, binary.LittleEndian, msgID)
	binary.Write(buf, binary.LittleEndian, uint32(time.Now().Unix()))
	binary.Write(buf, binary.LittleEndian, from)
	buf.WriteString(text)
	return buf.Bytes()
}

// SendTeamChat fragments a team chat text message across CmdTxAppData
// frames sized so each payload fits Config.MaxFrameLen (the max frame
// length the device reports in HelloAck is not consulted), reusing the
// cached team context, and runs the compatibility fallback ladder for
// every fragment.
func (c *Client) SendTeamChat(text string) (uint32, error) {
	c.mu.Lock()
	team := c.team
	c.mu.Unlock()
	if !team.valid {
		return 0, fmt.Errorf("session: no team context cached; cannot address a team chat send")
	}

	msgID := uint32(c.tracker.NextSeq())
	body := buildTeamChatText(msgID, 0, text)

	fragmentBudget := c.cfg.MaxFrameLen - 40
	if fragmentBudget <= 0 {
		fragmentBudget = 64
	}
	total := uint32(len(body))

	var lastAck hostlink.AckCode
	offset := uint32(0)
	for {
		end := offset + uint32(fragmentBudget)
		if end > total {
			end = total
		}
		chunk := body[offset:end]

		ack, err := c.sendAppDataFragmentWithFallback(appdataPortTeamChat, 0, team, total, offset, chunk)
		if err != nil {
			return 0, err
		}
		lastAck = ack

		if end >= total {
			break
		}
		offset = end
	}
	if lastAck != hostlink.AckOk {
		return 0, fmt.Errorf("session: team chat send nacked: %s", lastAck)
	}
	return msgID, nil
}

// sendAppDataFragmentWithFallback tries each txAppDataVariant in order,
// logging every attempt with a trace id, and stops at the first
// non-InvalidParam ACK.
func (c *Client) sendAppDataFragmentWithFallback(port uint32, from uint32, team teamContext, total, offset uint32, chunk []byte) (hostlink.AckCode, error) {
	traceID := newTraceID()
	var lastOutcome AckOutcome
	for _, v := range txAppDataVariants {
		payload := buildTxAppData(v, port, from, 0, team.channel, 0, team.teamID, team.keyID,
			uint32(time.Now().Unix()), total, offset, chunk)
		body, err := payload.Encode()
		if err != nil {
			return 0, err
		}
		seq := c.tracker.NextSeq()
		frameBytes, err := hostlink.Encode(hostlink.Frame{Type: hostlink.FrameTypeCmdTxAppData, Seq: seq, Payload: body})
		if err != nil {
			return 0, err
		}
		pending := c.tracker.Register(seq, hostlink.FrameTypeCmdTxAppData, frameBytes, c.cfg.AckTimeout, c.cfg.MaxRetries)

		level.Debug(c.logger).Log("event", "tx_app_data_attempt", "trace_id", traceID, "variant", v.name, "offset", offset)
		if _, err := c.transport.Write(frameBytes); err != nil {
			return 0, fmt.Errorf("session: write CmdTxAppData (%s): %w", v.name, err)
		}

		outcome := <-pending.AckChan()
		lastOutcome = outcome
		level.Debug(c.logger).Log("event", "tx_app_data_result", "trace_id", traceID, "variant", v.name,
			"timed_out", outcome.TimedOut, "code", outcome.Code)

		if outcome.TimedOut {
			continue
		}
		if outcome.Code != hostlink.AckInvalidParam {
			return outcome.Code, nil
		}
	}
	return lastOutcome.Code, nil
}

// watchdogLoop sweeps the tracker for timed-out requests every
// WatchdogPeriod, retrying up to MaxRetries before finalizing as a
// timeout.
func (c *Client) watchdogLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.WatchdogPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, p := range c.tracker.GetTimedOut(now) {
				if p.Retries < p.MaxRetries {
					c.tracker.Retry(p)
					if _, err := c.transport.Write(p.FrameBytes); err != nil {
						level.Error(c.logger).Log("event", "retry_write_failed", "seq", p.Seq, "err", err)
					}
					continue
				}
				c.tracker.TimeoutExpired(p.Seq)
			}
		}
	}
}

// reconnectLoop retries the handshake with the configured backoff
// until it succeeds or ctx is cancelled.
func (c *Client) reconnectLoop(ctx context.Context) {
	defer c.wg.Done()
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.Backoff.Next(attempt)):
		}

		if err := c.conn.Fire(EvReconnect); err != nil {
			// already left StateError by some other path; give up this loop
			return
		}
		c.mu.Lock()
		c.team = teamContext{}
		c.resultQueue = nil
		c.mu.Unlock()

		if err := c.handshake(ctx); err != nil {
			_ = c.conn.FireError(EvTransportError, err.Error())
			attempt++
			continue
		}
		c.startConnectionLoops(ctx)
		return
	}
}
