package hostlink

import "encoding/binary"

// TLV is one type-length-value record as carried by CmdSetConfig,
// EvStatus's config tail, and the optional RX-metadata tail appended
// to EvRxMsg/EvAppData.
type TLV struct {
	Key   byte
	Value []byte
}

// decodeTLVs decodes a TLV stream. It stops, without error, as soon as
// fewer than two bytes remain or a declared length would overrun the
// buffer — matching avp.go's discipline that a malformed trailing
// record is silently dropped rather than aborting the whole record.
func decodeTLVs(b []byte) []TLV {
	var out []TLV
	for len(b) >= 2 {
		key := b[0]
		length := int(b[1])
		if 2+length > len(b) {
			break
		}
		out = append(out, TLV{Key: key, Value: append([]byte(nil), b[2:2+length]...)})
		b = b[2+length:]
	}
	return out
}

func encodeTLVs(tlvs []TLV) []byte {
	var out []byte
	for _, t := range tlvs {
		out = append(out, t.Key, byte(len(t.Value)))
		out = append(out, t.Value...)
	}
	return out
}

func findTLV(tlvs []TLV, key byte) (TLV, bool) {
	for _, t := range tlvs {
		if t.Key == key {
			return t, true
		}
	}
	return TLV{}, false
}

// RX metadata TLV keys, per the HostLink wire format table.
const (
	RxMetaKeyTimestampUTC byte = 1
	RxMetaKeyTimestampMs  byte = 2
	RxMetaKeyTimeSource   byte = 3
	RxMetaKeyDirect       byte = 4
	RxMetaKeyHopCount     byte = 5
	RxMetaKeyHopLimit     byte = 6
	RxMetaKeyOrigin       byte = 7
	RxMetaKeyFromIS       byte = 8
	RxMetaKeyRssiDbm      byte = 9
	RxMetaKeySnrDb        byte = 10
	RxMetaKeyFreqHz       byte = 11
	RxMetaKeyBwHz         byte = 12
	RxMetaKeySf           byte = 13
	RxMetaKeyCr           byte = 14
	RxMetaKeyPacketID     byte = 15
)

// ConfigKeyNodeIDCallsignMap is the config TLV key carrying the
// device's explicit node_id -> callsign mapping. The APRS gateway does
// not read it; its map comes from aprs.GatewayConfig.NodeCallsigns.
const ConfigKeyNodeIDCallsignMap byte = 30

func tlvUint32(v []byte) (uint32, bool) {
	if len(v) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(v), true
}

func tlvUint64(v []byte) (uint64, bool) {
	if len(v) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(v), true
}

func tlvInt32(v []byte) (int32, bool) {
	u, ok := tlvUint32(v)
	return int32(u), ok
}

func tlvByte(v []byte) (byte, bool) {
	if len(v) != 1 {
		return 0, false
	}
	return v[0], true
}
