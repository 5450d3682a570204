package aprsis

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
)

func TestNewClientDisabledWhenNotEnabled(t *testing.T) {
	c := NewClient(log.NewNopLogger(), Config{Enabled: false, IgateCallsign: "N0CALL", Passcode: "1234"})
	if st, _ := c.State(); st != StateDisabled {
		t.Fatalf("expected Disabled state, got %v", st)
	}
}

func TestNewClientDisabledWhenCallsignMissing(t *testing.T) {
	c := NewClient(log.NewNopLogger(), Config{Enabled: true, Passcode: "1234"})
	if st, _ := c.State(); st != StateDisabled {
		t.Fatalf("expected Disabled state, got %v", st)
	}
}

func TestNewClientDisabledWhenPasscodeMissing(t *testing.T) {
	c := NewClient(log.NewNopLogger(), Config{Enabled: true, IgateCallsign: "N0CALL"})
	if st, _ := c.State(); st != StateDisabled {
		t.Fatalf("expected Disabled state, got %v", st)
	}
}

func TestNewClientConnectingWhenFullyConfigured(t *testing.T) {
	c := NewClient(log.NewNopLogger(), Config{Enabled: true, IgateCallsign: "N0CALL", Passcode: "1234"})
	if st, _ := c.State(); st != StateConnecting {
		t.Fatalf("expected Connecting state, got %v", st)
	}
}

func TestLoginLineWithoutFilter(t *testing.T) {
	cfg := Config{IgateCallsign: "N0CALL", IgateSSID: 10, Passcode: "1234", SoftwareName: "tmcgwd", SoftwareVersion: "1.0"}
	got := cfg.loginLine()
	want := "user N0CALL-10 pass 1234 vers tmcgwd 1.0"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestLoginLineWithFilter(t *testing.T) {
	cfg := Config{IgateCallsign: "N0CALL", Passcode: "1234", SoftwareName: "tmcgwd", SoftwareVersion: "1.0", Filter: "r/35/-120/50"}
	got := cfg.loginLine()
	if !strings.HasSuffix(got, " filter r/35/-120/50") {
		t.Fatalf("expected filter suffix, got %q", got)
	}
	if !strings.HasPrefix(got, "user N0CALL pass 1234") {
		t.Fatalf("expected no SSID suffix when IgateSSID is 0, got %q", got)
	}
}

func TestEnqueueNoopWhenDisabled(t *testing.T) {
	c := NewClient(log.NewNopLogger(), Config{})
	c.Enqueue("test line", time.Now().Add(time.Minute))
	select {
	case <-c.queue:
		t.Fatalf("expected no item queued while disabled")
	default:
	}
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	c := NewClient(log.NewNopLogger(), Config{Enabled: true, IgateCallsign: "N0CALL", Passcode: "1234"})
	c.queue = make(chan queueItem, 1)
	c.Enqueue("first", time.Now().Add(time.Minute))
	c.Enqueue("second", time.Now().Add(time.Minute))
	if c.Counters.Dropped.Load() != 1 {
		t.Fatalf("expected one dropped item, got %d", c.Counters.Dropped.Load())
	}
}

func TestRunOnceLoginAndRelay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)

	serverDone := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- ""
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		login, _ := reader.ReadString('\n')
		relayed, _ := reader.ReadString('\n')
		serverDone <- login + relayed
	}()

	c := NewClient(log.NewNopLogger(), Config{
		Enabled: true, Host: addr.IP.String(), Port: addr.Port,
		IgateCallsign: "N0CALL", Passcode: "1234",
		SoftwareName: "tmcgwd", SoftwareVersion: "1.0",
	})
	c.Enqueue("N0CALL>APZTMC:!hello", time.Now().Add(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- c.runOnce(ctx) }()

	select {
	case got := <-serverDone:
		if !strings.Contains(got, "user N0CALL pass 1234") {
			t.Fatalf("expected login line, got %q", got)
		}
		if !strings.Contains(got, "N0CALL>APZTMC:!hello") {
			t.Fatalf("expected relayed line, got %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for server to observe login/relay")
	}
	cancel()
	<-errCh
}

func TestWriteLoopDropsExpiredItems(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewClient(log.NewNopLogger(), Config{Enabled: true, IgateCallsign: "N0CALL", Passcode: "1234"})
	c.queue <- queueItem{line: "stale", expiresAt: time.Now().Add(-time.Minute)}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_ = c.writeLoop(ctx, client)
	if c.Counters.Dropped.Load() != 1 {
		t.Fatalf("expected expired item dropped, got dropped=%d", c.Counters.Dropped.Load())
	}
	if c.Counters.Sent.Load() != 0 {
		t.Fatalf("expected no sent items, got sent=%d", c.Counters.Sent.Load())
	}
}
