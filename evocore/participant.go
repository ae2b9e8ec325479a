package evocore

import (
	"log/slog"
	"time"
)

var (
	columnParticipantStatus = "status"
	columnParticipantClass  = "class"
	columnParticipantRole   = "role"
)

// RSVPStatus is a participant's standing on an event.
type RSVPStatus string

const (
	RSVPAccepted  RSVPStatus = "accepted"
	RSVPTentative RSVPStatus = "tentative"
	RSVPLate      RSVPStatus = "late"
	RSVPDeclined  RSVPStatus = "declined"
)

func (s RSVPStatus) Valid() bool {
	switch s {
	case RSVPAccepted, RSVPTentative, RSVPLate, RSVPDeclined:
		return true
	default:
		return false
	}
}

// rsvpStatuses lists all statuses in roster display order.
var rsvpStatuses = []RSVPStatus{
	RSVPAccepted,
	RSVPTentative,
	RSVPLate,
	RSVPDeclined,
}

// GameRole is a participant's combat role for game-themed events.
type GameRole string

const (
	GameRoleTank   GameRole = "tank"
	GameRoleHealer GameRole = "healer"
	GameRoleDPS    GameRole = "dps"
)

func (r GameRole) Valid() bool {
	switch r {
	case GameRoleTank, GameRoleHealer, GameRoleDPS:
		return true
	default:
		return false
	}
}

// EventParticipant records one user's relationship to one event: their
// RSVP status, optional class/role tags, and when they first signed up.
// Exactly one record exists per (event, user) pair.
//
//nolint:lll // struct tags can't be split
type EventParticipant struct {
	ModelUintID

	EventID uint   `json:"event_id" gorm:"uniqueIndex:idx_event_user;index"`
	UserID  string `json:"user_id" gorm:"uniqueIndex:idx_event_user;type:string"`

	Status RSVPStatus `json:"status" gorm:"type:string"`

	// Optional game class tag ("mage", "paladin", ...). Free-form;
	// meaningful only for game-themed event categories.
	Class NullableString `json:"class" gorm:"type:string"`

	// Optional combat role tag, one of tank/healer/dps
	Role NullableString `json:"role" gorm:"type:string"`

	// Optional free-text note from the participant
	Note NullableString `json:"note" gorm:"type:string"`

	// JoinedAt is when the user first RSVP'd (unix milliseconds).
	// Never updated by later status changes; roster ordering keys on it.
	JoinedAt int64 `json:"joined_at"`

	ModelUnixTime
}

func (EventParticipant) TableName() string {
	return "event_participants"
}

func (p EventParticipant) JoinedTime() time.Time {
	return time.UnixMilli(p.JoinedAt).UTC()
}

func (p EventParticipant) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Uint64("event_id", uint64(p.EventID)),
		slog.String("user_id", p.UserID),
		slog.String("status", string(p.Status)),
	}
	if p.Class != "" {
		attrs = append(attrs, slog.String("class", p.Class.String()))
	}
	if p.Role != "" {
		attrs = append(attrs, slog.String("role", p.Role.String()))
	}
	return slog.GroupValue(attrs...)
}
