package appdata

import (
	"sync"
	"time"

	"github.com/vicliu624/trail-mate-center-sub001/internal/hostlink"
)

// assemblyTTL is how long an incomplete assembly may sit idle before
// it is pruned.
const assemblyTTL = 20 * time.Second

type assembly struct {
	key        AssemblyKey
	buf        []byte
	received   []bool
	receivedN  uint32
	flags      byte
	rxMeta     *hostlink.RxMetadata
	lastUpdate time.Time
}

// Reassembler merges AppData fragments into complete packets, keyed by
// AssemblyKey, with a single lock protecting the assemblies map so
// that prune and insert happen in the same critical section,
// grounded on transport.go's pattern of guarding shared mutable state
// behind one lock per component.
type Reassembler struct {
	mu         sync.Mutex
	assemblies map[AssemblyKey]*assembly
}

// NewReassembler returns an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{assemblies: make(map[AssemblyKey]*assembly)}
}

// Feed processes one received fragment, returning a completed Packet
// if the fragment completed an assembly (or took the single-frame fast
// path), and pruning assemblies idle past assemblyTTL.
func (r *Reassembler) Feed(f *hostlink.EvAppDataPayload) *Packet {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.prune(now)

	if f.Total == 0 {
		return &Packet{
			Port: f.Port, From: f.From, To: f.To, Channel: f.Channel, Flags: f.Flags,
			TeamID: f.TeamID, TeamKeyID: f.KeyID, DeviceUptimeS: f.DeviceUptimeS,
			Payload: append([]byte(nil), f.Chunk...), RxMeta: f.RxMeta, ReceivedAt: now,
		}
	}

	key := keyFromFragment(f)
	a, ok := r.assemblies[key]
	if !ok {
		a = &assembly{
			key:      key,
			buf:      make([]byte, f.Total),
			received: make([]bool, f.Total),
			flags:    f.Flags,
		}
		r.assemblies[key] = a
	}
	if a.rxMeta == nil && f.RxMeta != nil {
		a.rxMeta = f.RxMeta
	}
	a.lastUpdate = now

	end := f.Offset + uint32(len(f.Chunk))
	if end > f.Total {
		end = f.Total
	}
	if f.Offset < end {
		copy(a.buf[f.Offset:end], f.Chunk[:end-f.Offset])
		for i := f.Offset; i < end; i++ {
			if !a.received[i] {
				a.received[i] = true
				a.receivedN++
			}
		}
	}

	if a.receivedN < f.Total {
		return nil
	}

	delete(r.assemblies, key)
	return &Packet{
		Port: key.Port, From: key.From, To: key.To, Channel: key.Channel, Flags: a.flags,
		TeamID: key.TeamID, TeamKeyID: key.TeamKeyID, DeviceUptimeS: key.DeviceUptimeS,
		Payload: a.buf, RxMeta: a.rxMeta, ReceivedAt: now,
	}
}

// prune must be called with r.mu held.
func (r *Reassembler) prune(now time.Time) {
	for k, a := range r.assemblies {
		if now.Sub(a.lastUpdate) > assemblyTTL {
			delete(r.assemblies, k)
		}
	}
}
