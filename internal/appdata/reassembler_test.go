package appdata

import (
	"bytes"
	"testing"

	"github.com/vicliu624/trail-mate-center-sub001/internal/hostlink"
)

func frag(from uint32, total, offset uint32, chunk []byte) *hostlink.EvAppDataPayload {
	return &hostlink.EvAppDataPayload{
		Port: 303, From: from, To: 0xFFFFFFFF, Channel: 1,
		Total: total, Offset: offset, Chunk: chunk,
	}
}

func TestReassemblyOutOfOrder(t *testing.T) {
	r := NewReassembler()
	part0 := bytes.Repeat([]byte{0xaa}, 320)
	part1 := bytes.Repeat([]byte{0xbb}, 320)

	if p := r.Feed(frag(0x01020304, 640, 320, part1)); p != nil {
		t.Fatalf("expected no packet yet, got %+v", p)
	}
	p := r.Feed(frag(0x01020304, 640, 0, part0))
	if p == nil {
		t.Fatalf("expected a completed packet")
	}
	want := append(append([]byte{}, part0...), part1...)
	if !bytes.Equal(p.Payload, want) {
		t.Fatalf("payload mismatch")
	}
}

func TestReassemblyDuplicateFragmentIsIdempotent(t *testing.T) {
	r := NewReassembler()
	chunk := bytes.Repeat([]byte{0x01}, 640)

	r.Feed(frag(1, 640, 0, chunk[:320]))
	r.Feed(frag(1, 640, 0, chunk[:320])) // duplicate
	p := r.Feed(frag(1, 640, 320, chunk[320:]))
	if p == nil {
		t.Fatalf("expected completion")
	}
	if !bytes.Equal(p.Payload, chunk) {
		t.Fatalf("payload mismatch after duplicate fragment")
	}
}

func TestReassemblySingleFrameFastPath(t *testing.T) {
	r := NewReassembler()
	p := r.Feed(frag(1, 0, 0, []byte("hello")))
	if p == nil || string(p.Payload) != "hello" {
		t.Fatalf("expected immediate single-frame packet, got %+v", p)
	}
}

func TestReassemblyClampsOverrun(t *testing.T) {
	r := NewReassembler()
	over := bytes.Repeat([]byte{0x09}, 10)
	p := r.Feed(frag(1, 5, 0, over))
	if p == nil {
		t.Fatalf("expected completion on first fragment when chunk covers all of total")
	}
	if len(p.Payload) != 5 {
		t.Fatalf("expected payload clamped to total_length=5, got %d bytes", len(p.Payload))
	}
}

func TestReassemblyDistinctUptimeCreatesDistinctAssembly(t *testing.T) {
	r := NewReassembler()
	f1 := frag(1, 640, 0, bytes.Repeat([]byte{1}, 320))
	f1.DeviceUptimeS = 100
	f2 := frag(1, 640, 0, bytes.Repeat([]byte{2}, 320))
	f2.DeviceUptimeS = 200

	r.Feed(f1)
	r.Feed(f2)
	if len(r.assemblies) != 2 {
		t.Fatalf("expected two distinct assemblies for two device_uptime_s values, got %d", len(r.assemblies))
	}
}
