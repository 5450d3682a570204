package session

import "sync"

// StateChange is published on a Connection's subscriber channels on
// every transition. Reason is always non-empty when State is
// StateError.
type StateChange struct {
	State  string
	Reason string
}

// Connection wraps the generic fsm with the reason-tracking and
// observability this needs: state changes are broadcast over
// unidirectional channels to subscribers rather than via callback,
// avoiding re-entrancy into the FSM from a subscriber callback.
type Connection struct {
	mu     sync.Mutex
	f      *fsm
	reason string
	subs   []chan StateChange
}

// NewConnection returns a connection state machine starting in
// StateDisconnected.
func NewConnection() *Connection {
	c := &Connection{}
	clearReason := func(args []interface{}) { c.reason = ""; c.onTransition() }
	keepReason := func(args []interface{}) { c.onTransition() }
	c.f = newConnectionFSM(keepReason, clearReason, clearReason)
	// Transitions with no explicit callback in newConnectionFSM's table
	// still need subscribers notified; wrap the whole table instead of
	// relying on per-entry callbacks for that.
	for i := range c.f.table {
		if c.f.table[i].cb == nil {
			c.f.table[i].cb = clearReason
		}
	}
	return c
}

// Subscribe returns a channel that receives every subsequent state
// change. The channel is buffered; a slow subscriber does not block
// the connection's own transitions.
func (c *Connection) Subscribe() <-chan StateChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan StateChange, 16)
	c.subs = append(c.subs, ch)
	return ch
}

// State returns the current state.
func (c *Connection) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.f.current
}

// Fire drives a plain transition (one with no associated reason).
func (c *Connection) Fire(event string) error {
	c.mu.Lock()
	err := c.f.handleEvent(event)
	c.mu.Unlock()
	return err
}

// FireError drives a transition into StateError carrying reason. It is
// the only way to populate Reason, matching the invariant that every
// Error transition is explained.
func (c *Connection) FireError(event, reason string) error {
	c.mu.Lock()
	c.reason = reason
	err := c.f.handleEvent(event)
	c.mu.Unlock()
	return err
}

func (c *Connection) onTransition() {
	sc := StateChange{State: c.f.current, Reason: c.reason}
	for _, ch := range c.subs {
		select {
		case ch <- sc:
		default:
		}
	}
}
