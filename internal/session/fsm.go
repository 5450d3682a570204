package session

import "fmt"

// Connection states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateHandshaking  = "handshaking"
	StateReady        = "ready"
	StateError        = "error"
	StateReconnecting = "reconnecting"
)

// Events that drive the connection state machine.
const (
	EvConnect        = "connect"
	EvTransportOpen  = "transport_open"
	EvHelloAcked     = "hello_acked"
	EvTransportError = "transport_error"
	EvDisconnect     = "disconnect"
	EvReconnect      = "reconnect"
)

type fsmCallback func(args []interface{})

type eventDesc struct {
	from, to string
	events   []string
	cb       fsmCallback
}

// fsm is the generic table-driven state machine every state-carrying
// component in this package is built from, carried over near-verbatim
// from the L2TP tunnel/session FSM engine; only the transition table
// built by newConnectionFSM below is HostLink-specific.
type fsm struct {
	current string
	table   []eventDesc
}

func (f *fsm) handleEvent(e string, args ...interface{}) error {
	for _, t := range f.table {
		if f.current == t.from {
			for _, event := range t.events {
				if e == event {
					f.current = t.to
					if t.cb != nil {
						t.cb(args)
					}
					return nil
				}
			}
		}
	}
	return fmt.Errorf("no transition defined for event %v in state %v", e, f.current)
}

// newConnectionFSM builds the table backing the HostLink connection
// lifecycle.
func newConnectionFSM(onError, onReady, onDisconnected fsmCallback) *fsm {
	return &fsm{
		current: StateDisconnected,
		table: []eventDesc{
			{from: StateDisconnected, to: StateConnecting, events: []string{EvConnect}},
			{from: StateConnecting, to: StateHandshaking, events: []string{EvTransportOpen}},
			{from: StateConnecting, to: StateError, events: []string{EvTransportError}, cb: onError},
			{from: StateHandshaking, to: StateReady, events: []string{EvHelloAcked}, cb: onReady},
			{from: StateHandshaking, to: StateError, events: []string{EvTransportError}, cb: onError},
			{from: StateReady, to: StateError, events: []string{EvTransportError}, cb: onError},
			{from: StateReady, to: StateDisconnected, events: []string{EvDisconnect}, cb: onDisconnected},
			{from: StateError, to: StateReconnecting, events: []string{EvReconnect}},
			{from: StateError, to: StateDisconnected, events: []string{EvDisconnect}, cb: onDisconnected},
			{from: StateReconnecting, to: StateHandshaking, events: []string{EvTransportOpen}},
			{from: StateReconnecting, to: StateError, events: []string{EvTransportError}, cb: onError},
		},
	}
}
