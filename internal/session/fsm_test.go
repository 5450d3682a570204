package session

import "testing"

func TestConnectionHappyPath(t *testing.T) {
	c := NewConnection()
	sub := c.Subscribe()

	steps := []string{EvConnect, EvTransportOpen, EvHelloAcked}
	want := []string{StateConnecting, StateHandshaking, StateReady}
	for i, ev := range steps {
		if err := c.Fire(ev); err != nil {
			t.Fatalf("fire %v: %v", ev, err)
		}
		sc := <-sub
		if sc.State != want[i] {
			t.Fatalf("step %d: got %v want %v", i, sc.State, want[i])
		}
	}
}

func TestConnectionErrorCarriesReason(t *testing.T) {
	c := NewConnection()
	sub := c.Subscribe()

	_ = c.Fire(EvConnect)
	<-sub
	if err := c.FireError(EvTransportError, "open failed"); err != nil {
		t.Fatalf("fire error: %v", err)
	}
	sc := <-sub
	if sc.State != StateError || sc.Reason != "open failed" {
		t.Fatalf("got %+v", sc)
	}
}

func TestConnectionIllegalTransitionIsRejected(t *testing.T) {
	c := NewConnection()
	if err := c.Fire(EvHelloAcked); err == nil {
		t.Fatalf("expected an error firing HelloAcked from Disconnected")
	}
}

func TestConnectionReconnectLoop(t *testing.T) {
	c := NewConnection()
	sub := c.Subscribe()

	for _, ev := range []string{EvConnect, EvTransportOpen} {
		_ = c.Fire(ev)
		<-sub
	}
	_ = c.FireError(EvTransportError, "link down")
	<-sub
	_ = c.Fire(EvReconnect)
	<-sub
	if c.State() != StateReconnecting {
		t.Fatalf("got %v want %v", c.State(), StateReconnecting)
	}
	_ = c.Fire(EvTransportOpen)
	sc := <-sub
	if sc.State != StateHandshaking {
		t.Fatalf("got %+v", sc)
	}
}
