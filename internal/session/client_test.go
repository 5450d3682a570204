package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/vicliu624/trail-mate-center-sub001/internal/hostlink"
	"github.com/vicliu624/trail-mate-center-sub001/internal/store"
)

// fakeDevice drives the "device side" of a net.Pipe connection,
// decoding frames the client writes and replying through a
// caller-supplied handler.
type fakeDevice struct {
	conn    net.Conn
	decoder *hostlink.Decoder
}

func newFakeDevice(conn net.Conn) *fakeDevice {
	return &fakeDevice{conn: conn, decoder: hostlink.NewDecoder()}
}

func (d *fakeDevice) run(t *testing.T, handle func(f hostlink.Frame) []byte) {
	buf := make([]byte, 4096)
	for {
		n, err := d.conn.Read(buf)
		if err != nil {
			return
		}
		d.decoder.Append(buf[:n])
		frames, err := d.decoder.Decode()
		if err != nil {
			t.Logf("fake device decode error: %v", err)
			continue
		}
		for _, f := range frames {
			if reply := handle(f); reply != nil {
				if _, err := d.conn.Write(reply); err != nil {
					return
				}
			}
		}
	}
}

func helloAckFrame(t *testing.T, seq uint16, caps uint32) []byte {
	t.Helper()
	payload := make([]byte, 2+2+4+1+1)
	payload[0], payload[1] = 1, 0 // proto version 1 LE
	payload[2], payload[3] = 0xfe, 0x01
	payload[4] = byte(caps)
	payload[5] = byte(caps >> 8)
	payload[6] = byte(caps >> 16)
	payload[7] = byte(caps >> 24)
	payload[8] = 0 // model length 0
	payload[9] = 0 // fw length 0
	b, err := hostlink.Encode(hostlink.Frame{Type: hostlink.FrameTypeHelloAck, Seq: seq, Payload: payload})
	if err != nil {
		t.Fatalf("encode HelloAck: %v", err)
	}
	return b
}

func ackFrame(t *testing.T, seq uint16, code hostlink.AckCode) []byte {
	t.Helper()
	b, err := hostlink.Encode(hostlink.Frame{Type: hostlink.FrameTypeAck, Seq: seq, Payload: []byte{byte(code)}})
	if err != nil {
		t.Fatalf("encode Ack: %v", err)
	}
	return b
}

func newTestClient(t *testing.T) (*Client, *store.Store, net.Conn) {
	t.Helper()
	clientConn, deviceConn := net.Pipe()
	st := store.New()
	cfg := DefaultConfig()
	cfg.AckTimeout = 200 * time.Millisecond
	cfg.HelloTimeout = 500 * time.Millisecond
	cfg.AutoReconnect = false
	opened := false
	c := NewClient(func() (Transport, error) {
		if opened {
			return nil, context.Canceled
		}
		opened = true
		return clientConn, nil
	}, st, log.NewNopLogger(), cfg)
	return c, st, deviceConn
}

func TestConnectHandshakeReachesReady(t *testing.T) {
	c, _, deviceConn := newTestClient(t)
	dev := newFakeDevice(deviceConn)
	go dev.run(t, func(f hostlink.Frame) []byte {
		if f.Type == hostlink.FrameTypeHello {
			return helloAckFrame(t, f.Seq, 0)
		}
		return nil
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != StateReady {
		t.Fatalf("expected state Ready, got %s", c.State())
	}
	c.Close()
}

func TestSendMessageBroadcastSucceedsOnOkAck(t *testing.T) {
	c, st, deviceConn := newTestClient(t)
	dev := newFakeDevice(deviceConn)
	go dev.run(t, func(f hostlink.Frame) []byte {
		switch f.Type {
		case hostlink.FrameTypeHello:
			return helloAckFrame(t, f.Seq, 0)
		case hostlink.FrameTypeCmdTxMsg:
			return ackFrame(t, f.Seq, hostlink.AckOk)
		}
		return nil
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	msgID, err := c.SendMessage(0xFFFFFFFF, 1, 0, "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m, ok := st.Message(msgID); ok && m.Status == store.MessageStatusSucceeded {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected message %d to reach Succeeded", msgID)
}

// TestReadLoopTransportErrorTriggersReconnect drives a mid-session
// transport failure (device unplugged while Ready) and asserts the
// client reopens the transport and re-reaches Ready, rather than
// getting stranded in Error with AutoReconnect set.
func TestReadLoopTransportErrorTriggersReconnect(t *testing.T) {
	clientConn1, deviceConn1 := net.Pipe()
	clientConn2, deviceConn2 := net.Pipe()
	conns := []net.Conn{clientConn1, clientConn2}
	attempt := 0

	st := store.New()
	cfg := DefaultConfig()
	cfg.AckTimeout = 200 * time.Millisecond
	cfg.HelloTimeout = 500 * time.Millisecond
	cfg.AutoReconnect = true
	cfg.Backoff = BackoffPolicy{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2}

	c := NewClient(func() (Transport, error) {
		if attempt >= len(conns) {
			return nil, context.Canceled
		}
		conn := conns[attempt]
		attempt++
		return conn, nil
	}, st, log.NewNopLogger(), cfg)

	dev1 := newFakeDevice(deviceConn1)
	go dev1.run(t, func(f hostlink.Frame) []byte {
		if f.Type == hostlink.FrameTypeHello {
			return helloAckFrame(t, f.Seq, 0)
		}
		return nil
	})
	dev2 := newFakeDevice(deviceConn2)
	go dev2.run(t, func(f hostlink.Frame) []byte {
		if f.Type == hostlink.FrameTypeHello {
			return helloAckFrame(t, f.Seq, 0)
		}
		return nil
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	if c.State() != StateReady {
		t.Fatalf("expected initial state Ready, got %s", c.State())
	}

	// Simulate the device disappearing mid-session: closing its end of
	// the pipe makes the client's next Read fail with a transport
	// error, exercising the readLoop -> reconnectLoop handoff.
	deviceConn1.Close()

	deadline := time.Now().Add(2 * time.Second)
	sawReconnecting := false
	for time.Now().Before(deadline) {
		switch c.State() {
		case StateReconnecting, StateError:
			sawReconnecting = true
		case StateReady:
			if sawReconnecting {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected client to reconnect and reach Ready again, last state %s (saw reconnecting=%v)", c.State(), sawReconnecting)
}

func TestSendMessageUnicastAwaitsTxResult(t *testing.T) {
	c, st, deviceConn := newTestClient(t)
	dev := newFakeDevice(deviceConn)
	go dev.run(t, func(f hostlink.Frame) []byte {
		switch f.Type {
		case hostlink.FrameTypeHello:
			return helloAckFrame(t, f.Seq, 0)
		case hostlink.FrameTypeCmdTxMsg:
			return ackFrame(t, f.Seq, hostlink.AckOk)
		}
		return nil
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	msgID, err := c.SendMessage(42, 1, 0, "direct")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m, ok := st.Message(msgID); ok && m.Status == store.MessageStatusAcked {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if m, ok := st.Message(msgID); !ok || m.Status != store.MessageStatusAcked {
		t.Fatalf("expected unicast message to reach Acked pending EvTxResult, got %+v ok=%v", m, ok)
	}

	resultFrame, err := hostlink.Encode(hostlink.Frame{
		Type: hostlink.FrameTypeEvTxResult,
		Payload: func() []byte {
			b := make([]byte, 5)
			b[0], b[1], b[2], b[3] = byte(msgID), byte(msgID>>8), byte(msgID>>16), byte(msgID>>24)
			b[4] = 1
			return b
		}(),
	})
	if err != nil {
		t.Fatalf("encode EvTxResult: %v", err)
	}
	if _, err := deviceConn.Write(resultFrame); err != nil {
		t.Fatalf("write EvTxResult: %v", err)
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m, ok := st.Message(msgID); ok && m.Status == store.MessageStatusSucceeded {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected unicast message to reach Succeeded after EvTxResult")
}
