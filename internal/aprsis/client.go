// Package aprsis implements the persistent APRS-IS TCP uplink: login,
// a bounded outbound queue, and a reconnecting writer/reader pair.
// Grounded on the session package's connection-state/reconnect idiom
// (internal/session/connection.go, internal/session/reconnect.go),
// generalized from HostLink's framed binary transport to APRS-IS's
// line-oriented ASCII one.
package aprsis

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// State is the APRS-IS client's lifecycle state.
type State string

const (
	StateDisabled   State = "Disabled"
	StateConnecting State = "Connecting"
	StateConnected  State = "Connected"
	StateError      State = "Error"
)

const queueCapacity = 2000
const reconnectDelay = 3 * time.Second

// Config carries the settings required to bring the client up.
type Config struct {
	Enabled         bool
	Host            string
	Port            int
	IgateCallsign   string
	IgateSSID       int
	Passcode        string
	Filter          string
	SoftwareName    string
	SoftwareVersion string
}

func (c Config) callsign() string {
	if c.IgateSSID == 0 {
		return c.IgateCallsign
	}
	return fmt.Sprintf("%s-%d", c.IgateCallsign, c.IgateSSID)
}

func (c Config) loginLine() string {
	line := fmt.Sprintf("user %s pass %s vers %s %s", c.callsign(), c.Passcode, c.SoftwareName, c.SoftwareVersion)
	if c.Filter != "" {
		line += " filter " + c.Filter
	}
	return line
}

type queueItem struct {
	line      string
	expiresAt time.Time
}

// Counters are the client's observability counters.
type Counters struct {
	Sent    atomic.Uint64
	Dropped atomic.Uint64
}

// Client is a persistent, reconnecting APRS-IS uplink. It implements
// aprs.Enqueuer.
type Client struct {
	logger log.Logger
	cfg    Config

	Counters Counters

	queue chan queueItem

	mu        sync.Mutex
	state     State
	stateErr  string
}

// NewClient constructs a client; call Run to start the connection loop.
func NewClient(logger log.Logger, cfg Config) *Client {
	state := StateConnecting
	if !cfg.Enabled || cfg.IgateCallsign == "" || cfg.Passcode == "" {
		state = StateDisabled
	}
	return &Client{
		logger: logger,
		cfg:    cfg,
		queue:  make(chan queueItem, queueCapacity),
		state:  state,
	}
}

// State returns the current lifecycle state and, for Error, the last
// failure reason.
func (c *Client) State() (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.stateErr
}

func (c *Client) setState(s State, reason string) {
	c.mu.Lock()
	c.state = s
	c.stateErr = reason
	c.mu.Unlock()
	level.Info(c.logger).Log("component", "aprsis", "state", s, "reason", reason)
}

// Enqueue pushes a line onto the bounded outbound queue, dropping it
// with a counter increment if the queue is full.
func (c *Client) Enqueue(line string, expiresAt time.Time) {
	if st, _ := c.State(); st == StateDisabled {
		return
	}
	select {
	case c.queue <- queueItem{line: line, expiresAt: expiresAt}:
	default:
		c.Counters.Dropped.Add(1)
		level.Debug(c.logger).Log("component", "aprsis", "msg", "queue full, dropping", "line", line)
	}
}

// Run drives the connect/login/relay/reconnect loop until ctx is
// cancelled. If the client is disabled it returns immediately.
func (c *Client) Run(ctx context.Context) {
	if st, _ := c.State(); st == StateDisabled {
		level.Info(c.logger).Log("component", "aprsis", "msg", "disabled, not starting")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := c.runOnce(ctx); err != nil {
			c.setState(StateError, err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	c.setState(StateConnecting, "")
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(c.cfg.loginLine() + "\r\n")); err != nil {
		return fmt.Errorf("login write: %w", err)
	}
	c.setState(StateConnected, "")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh <- c.writeLoop(runCtx, conn)
	}()
	go func() {
		defer wg.Done()
		errCh <- c.readLoop(runCtx, conn)
	}()

	err = <-errCh
	cancel()
	wg.Wait()
	return err
}

func (c *Client) writeLoop(ctx context.Context, conn net.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-c.queue:
			if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
				c.Counters.Dropped.Add(1)
				continue
			}
			if _, err := conn.Write([]byte(item.line + "\r\n")); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			c.Counters.Sent.Add(1)
		}
	}
}

// readLoop drains server input (server comments, ack lines) so the
// socket's receive buffer never backs up; APRS-IS only expects the
// client to write, but an idle reader risks the peer's TCP window
// filling and the connection stalling silently.
func (c *Client) readLoop(ctx context.Context, conn net.Conn) error {
	scanner := bufio.NewScanner(conn)
	done := make(chan struct{})
	var scanErr error
	go func() {
		defer close(done)
		for scanner.Scan() {
			level.Debug(c.logger).Log("component", "aprsis", "rx", scanner.Text())
		}
		scanErr = scanner.Err()
	}()
	select {
	case <-ctx.Done():
		return nil
	case <-done:
		if scanErr != nil {
			return fmt.Errorf("read: %w", scanErr)
		}
		return fmt.Errorf("read: connection closed by peer")
	}
}
