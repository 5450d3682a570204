package hostlink

// Origin describes where a received packet entered the mesh from the
// gateway's point of view.
type Origin byte

const (
	OriginUnknown  Origin = 0
	OriginMesh     Origin = 1
	OriginExternal Origin = 2
)

func (o Origin) String() string {
	switch o {
	case OriginMesh:
		return "Mesh"
	case OriginExternal:
		return "External"
	}
	return "Unknown"
}

// RxMetadata is the optional per-packet provenance and radio
// measurement data the APRS gateway requires before it will consider
// injecting a packet onto APRS-IS. Pointer fields distinguish "not
// present" from a legitimate zero value.
type RxMetadata struct {
	TimestampUTC *uint64
	TimestampMs  *uint32
	TimeSource   *byte
	Direct       *bool
	HopCount     *byte
	HopLimit     *byte
	Origin       Origin
	FromIS       *bool
	RssiDbm      *int32
	SnrDb        *int32
	FreqHz       *uint32
	BwHz         *uint32
	Sf           *byte
	Cr           *byte
	PacketID     *uint32
}

// HasRequiredAprsFields reports whether every field the APRS gateway's
// ingress gate requires is present. Origin defaults to
// OriginUnknown when absent, which already fails the "origin != Unknown"
// test, so it does not need its own presence flag.
func (m *RxMetadata) HasRequiredAprsFields() bool {
	if m == nil {
		return false
	}
	if m.TimestampUTC == nil && m.TimestampMs == nil {
		return false
	}
	if m.Direct == nil || m.Origin == OriginUnknown || m.FromIS == nil {
		return false
	}
	if m.RssiDbm == nil || m.SnrDb == nil {
		return false
	}
	if m.HopCount == nil && m.HopLimit == nil {
		return false
	}
	if m.PacketID == nil {
		return false
	}
	return true
}

// DecodeRxMetadata parses the optional RX metadata TLV tail appended
// to EvRxMsg/EvAppData frames. Unknown keys are ignored, never fatal,
// matching the TLV decode discipline used throughout C2.
func DecodeRxMetadata(b []byte) *RxMetadata {
	tlvs := decodeTLVs(b)
	if len(tlvs) == 0 {
		return nil
	}
	m := &RxMetadata{}
	for _, t := range tlvs {
		switch t.Key {
		case RxMetaKeyTimestampUTC:
			if v, ok := tlvUint64(t.Value); ok {
				m.TimestampUTC = &v
			}
		case RxMetaKeyTimestampMs:
			if v, ok := tlvUint32(t.Value); ok {
				m.TimestampMs = &v
			}
		case RxMetaKeyTimeSource:
			if v, ok := tlvByte(t.Value); ok {
				m.TimeSource = &v
			}
		case RxMetaKeyDirect:
			if v, ok := tlvByte(t.Value); ok {
				b := v != 0
				m.Direct = &b
			}
		case RxMetaKeyHopCount:
			if v, ok := tlvByte(t.Value); ok {
				m.HopCount = &v
			}
		case RxMetaKeyHopLimit:
			if v, ok := tlvByte(t.Value); ok {
				m.HopLimit = &v
			}
		case RxMetaKeyOrigin:
			if v, ok := tlvByte(t.Value); ok {
				m.Origin = Origin(v)
			}
		case RxMetaKeyFromIS:
			if v, ok := tlvByte(t.Value); ok {
				b := v != 0
				m.FromIS = &b
			}
		case RxMetaKeyRssiDbm:
			if v, ok := tlvInt32(t.Value); ok {
				m.RssiDbm = &v
			}
		case RxMetaKeySnrDb:
			if v, ok := tlvInt32(t.Value); ok {
				m.SnrDb = &v
			}
		case RxMetaKeyFreqHz:
			if v, ok := tlvUint32(t.Value); ok {
				m.FreqHz = &v
			}
		case RxMetaKeyBwHz:
			if v, ok := tlvUint32(t.Value); ok {
				m.BwHz = &v
			}
		case RxMetaKeySf:
			if v, ok := tlvByte(t.Value); ok {
				m.Sf = &v
			}
		case RxMetaKeyCr:
			if v, ok := tlvByte(t.Value); ok {
				m.Cr = &v
			}
		case RxMetaKeyPacketID:
			if v, ok := tlvUint32(t.Value); ok {
				m.PacketID = &v
			}
		}
		// unrecognised keys are ignored, matching the AVP codec's
		// treatment of unrecognised non-mandatory attributes.
	}
	return m
}
