package session

import (
	"sync"
	"time"

	"github.com/vicliu624/trail-mate-center-sub001/internal/hostlink"
)

// AckOutcome is delivered exactly once on a Pending's ack channel,
// whichever of an ACK arrival or a retry-exhaustion timeout wins the
// race: the first wins and the loser is dropped silently.
type AckOutcome struct {
	Code    hostlink.AckCode
	TimedOut bool
}

// Pending is one in-flight request awaiting an Ack, grounded on
// transport.go's xmitMsg: the frame bytes needed to retransmit, the
// retry budget, and a completion channel the caller blocks on.
type Pending struct {
	Seq        uint16
	Type       hostlink.FrameType
	FrameBytes []byte
	LastSentAt time.Time
	Retries    uint
	MaxRetries uint
	AckTimeout time.Duration

	ackChan    chan AckOutcome
	isComplete bool
}

// AckChan returns the channel that receives this pending request's
// single AckOutcome.
func (p *Pending) AckChan() <-chan AckOutcome {
	return p.ackChan
}

// Tracker allocates sequence numbers and tracks in-flight requests
// awaiting an Ack, matching transport.go's ack-queue/retry-timer
// bookkeeping but keyed by HostLink's 16-bit sequence space instead of
// L2TP's Ns/Nr window.
type Tracker struct {
	mu      sync.Mutex
	nextSeq uint16
	pending map[uint16]*Pending
}

// NewTracker returns an empty request tracker.
func NewTracker() *Tracker {
	return &Tracker{pending: make(map[uint16]*Pending)}
}

// NextSeq returns the next sequence number, skipping zero on wrap per
// registered for it.
func (t *Tracker) NextSeq() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSeq++
	if t.nextSeq == 0 {
		t.nextSeq = 1
	}
	return t.nextSeq
}

// Register allocates a pending request entry for the given sequence
// number and begins tracking it for ACK/timeout.
func (t *Tracker) Register(seq uint16, typ hostlink.FrameType, frameBytes []byte, ackTimeout time.Duration, maxRetries uint) *Pending {
	p := &Pending{
		Seq:        seq,
		Type:       typ,
		FrameBytes: frameBytes,
		LastSentAt: time.Now(),
		MaxRetries: maxRetries,
		AckTimeout: ackTimeout,
		ackChan:    make(chan AckOutcome, 1),
	}
	t.mu.Lock()
	t.pending[seq] = p
	t.mu.Unlock()
	return p
}

// HandleAck resolves the pending request's ack future with the given
// code, if it is still outstanding. It reports whether a matching
// pending request was found.
func (t *Tracker) HandleAck(seq uint16, code hostlink.AckCode) bool {
	t.mu.Lock()
	p, ok := t.pending[seq]
	if ok {
		delete(t.pending, seq)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	p.complete(AckOutcome{Code: code})
	return true
}

// Complete removes a pending request without resolving its ack
// channel, used once a caller has already consumed the outcome by
// other means (e.g. reconnect teardown).
func (t *Tracker) Complete(seq uint16) {
	t.mu.Lock()
	delete(t.pending, seq)
	t.mu.Unlock()
}

// GetTimedOut returns pending requests whose ack deadline has passed
// as of now, still outstanding. Entries are left registered: the
// caller decides whether to retry (rewriting LastSentAt via Retry) or
// finalize via TimeoutExpired.
func (t *Tracker) GetTimedOut(now time.Time) []*Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Pending
	for _, p := range t.pending {
		if !p.isComplete && now.Sub(p.LastSentAt) >= p.AckTimeout {
			out = append(out, p)
		}
	}
	return out
}

// Retry bumps the retry count and timestamp of a pending request ahead
// of rewriting its frame, matching retransmitMessage's nretries++.
func (t *Tracker) Retry(p *Pending) {
	t.mu.Lock()
	p.Retries++
	p.LastSentAt = time.Now()
	t.mu.Unlock()
}

// TimeoutExpired finalizes a pending request as a synthetic timeout
// once its retry budget is exhausted, removing it from the tracker and
// resolving its ack channel exactly once.
func (t *Tracker) TimeoutExpired(seq uint16) {
	t.mu.Lock()
	p, ok := t.pending[seq]
	if ok {
		delete(t.pending, seq)
	}
	t.mu.Unlock()
	if ok {
		p.complete(AckOutcome{Code: hostlink.AckInternal, TimedOut: true})
	}
}

func (p *Pending) complete(o AckOutcome) {
	if p.isComplete {
		return
	}
	p.isComplete = true
	p.ackChan <- o
}

// Reset drops all pending requests without resolving their channels,
// used on reconnect to reset in-flight pending entries
// on reconnect"). Callers that still hold a reference to a dropped
// Pending will block forever on its ack channel unless they also select
// on a reconnect/cancellation signal, which is the session client's
// responsibility.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.pending = make(map[uint16]*Pending)
	t.mu.Unlock()
}
