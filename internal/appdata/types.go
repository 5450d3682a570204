package appdata

import (
	"time"

	"github.com/vicliu624/trail-mate-center-sub001/internal/hostlink"
)

// AssemblyKey identifies one logical AppData packet across fragments,
// Two distinct keys never share a buffer; in particular
// two different device_uptime_s values create distinct assemblies even
// for the same source/port, disambiguating a device reboot mid-stream.
type AssemblyKey struct {
	Port          uint32
	From          uint32
	To            uint32
	Channel       byte
	TeamKeyID     uint32
	TeamID        [8]byte
	TotalLength   uint32
	DeviceUptimeS uint32
}

// Packet is one fully assembled AppData packet, ready for C7 decode.
type Packet struct {
	Port          uint32
	From          uint32
	To            uint32
	Channel       byte
	Flags         byte
	TeamID        [8]byte
	TeamKeyID     uint32
	DeviceUptimeS uint32
	Payload       []byte
	RxMeta        *hostlink.RxMetadata
	ReceivedAt    time.Time
}

func keyFromFragment(f *hostlink.EvAppDataPayload) AssemblyKey {
	return AssemblyKey{
		Port: f.Port, From: f.From, To: f.To, Channel: f.Channel,
		TeamKeyID: f.KeyID, TeamID: f.TeamID,
		TotalLength: f.Total, DeviceUptimeS: f.DeviceUptimeS,
	}
}
