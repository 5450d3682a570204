package store

import (
	"time"

	"github.com/vicliu624/trail-mate-center-sub001/internal/hostlink"
)

// MessageStatus is the lifecycle state of an outbound text message,
// per source node.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusAcked     MessageStatus = "acked"
	MessageStatusSucceeded MessageStatus = "succeeded"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusTimeout   MessageStatus = "timeout"
)

// PositionUpdate is a semantic position record created by C7. Ownership
// is read-only for consumers once published.
type PositionUpdate struct {
	Source    uint32
	LatitudeE7 int32
	LongitudeE7 int32
	AltitudeM int32
	SpeedMs   float64
	CourseDeg float64
	Kind      string // e.g. "TeamTrack", "Position", "LocalGps"
	Timestamp time.Time
	RxMeta    *hostlink.RxMetadata
}

// NodeInfoUpdate is a semantic node-identity record created by C7.
type NodeInfoUpdate struct {
	Source    uint32
	UserID    string
	LongName  string
	ShortName string
	Timestamp time.Time
	RxMeta    *hostlink.RxMetadata
}

// TacticalEvent is an opaque-ish typed summary event: team management,
// telemetry summaries, chat notifications, and the "unknown port"
// fallback all surface through this record.
type TacticalEvent struct {
	Source    uint32
	Kind      string
	Fields    map[string]interface{}
	Timestamp time.Time
	RxMeta    *hostlink.RxMetadata
}

// MessageEntry is a chat/command message record. Status is mutable,
// serialized by the session client's internal lock.
type MessageEntry struct {
	MsgID     uint32
	From      uint32
	To        uint32
	Channel   byte
	Text      string
	Status    MessageStatus
	Err       string
	CreatedAt time.Time
	// RxMeta is non-nil only for entries built from a received mesh chat
	// packet or EvRxMsg frame that carried RX metadata. Entries the
	// session client creates for
	// locally originated sends leave this nil, which the APRS gateway
	// uses to tell inbound traffic from its own outbound echo.
	RxMeta *hostlink.RxMetadata
}
