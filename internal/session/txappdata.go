package session

import "github.com/vicliu624/trail-mate-center-sub001/internal/hostlink"

// txAppDataVariant is one shape tried by the outbound team chat/command
// compatibility fallback ladder: whether CmdTxAppData carries an
// embedded timestamp field is ambiguous across firmware revisions. The
// ladder tries the newer, with-timestamp variant first on the theory
// that current firmware is more likely to expect it, then falls back;
// this is a judgment call recorded in DESIGN.md, not an asserted
// protocol fact.
type txAppDataVariant struct {
	name          string
	withTimestamp bool
}

var txAppDataVariants = []txAppDataVariant{
	{name: "with-timestamp", withTimestamp: true},
	{name: "without-timestamp", withTimestamp: false},
}

// buildTxAppData renders one CmdTxAppData payload for a given ladder
// variant and fragment.
func buildTxAppData(v txAppDataVariant, port, from, to uint32, channel, flags byte, team [8]byte, keyID uint32, tsS uint32, total, offset uint32, chunk []byte) hostlink.CmdTxAppDataPayload {
	p := hostlink.CmdTxAppDataPayload{
		Port: port, From: from, To: to, Channel: channel, Flags: flags,
		TeamID: team, KeyID: keyID, Total: total, Offset: offset, Chunk: chunk,
	}
	if v.withTimestamp {
		ts := tsS
		p.TimestampS = &ts
	}
	return p
}
