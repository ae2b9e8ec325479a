package evocore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	columnEventCancelled    = "cancelled"
	columnEventCancelReason = "cancel_reason"
	columnEventCancelledAt  = "cancelled_at"
	columnEventChannelID    = "channel_id"
	columnEventMessageID    = "message_id"
)

var (
	// ErrEventNotFound is returned when an event ID doesn't resolve to
	// an existing event.
	ErrEventNotFound = errors.New("event not found")

	// ErrEventCancelled is returned on any mutation attempted against a
	// cancelled event. Cancellation is one-way.
	ErrEventCancelled = errors.New("event is cancelled")

	// ErrParticipantNotFound is returned when setting role metadata for
	// a user with no existing RSVP on the event.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrEventInPast is returned when creating an event whose scheduled
	// time isn't strictly in the future.
	ErrEventInPast = errors.New("scheduled time must be in the future")
)

// CapacityError is returned when an 'accepted' RSVP is attempted on an
// event whose accepted roster is already at capacity.
type CapacityError struct {
	EventID  uint
	Capacity int
}

func (e CapacityError) Error() string {
	return fmt.Sprintf(
		"event %d is full (capacity: %d)",
		e.EventID,
		e.Capacity,
	)
}

// EventCategory tags an event with the kind of activity it represents.
// Game-themed categories support class/role metadata on participants.
type EventCategory string

const (
	EventCategoryRaid       EventCategory = "raid"
	EventCategoryMythicPlus EventCategory = "mythic_plus"
	EventCategoryPvP        EventCategory = "pvp"
	EventCategoryGeneral    EventCategory = "general"
	EventCategoryCustom     EventCategory = "custom"
)

// SupportsRoleMetadata indicates whether participant class/role tags are
// meaningful for this category.
func (c EventCategory) SupportsRoleMetadata() bool {
	switch c {
	case EventCategoryRaid, EventCategoryMythicPlus, EventCategoryPvP:
		return true
	default:
		return false
	}
}

func (c EventCategory) Valid() bool {
	switch c {
	case EventCategoryRaid, EventCategoryMythicPlus, EventCategoryPvP,
		EventCategoryGeneral, EventCategoryCustom:
		return true
	default:
		return false
	}
}

// GuildEvent is a scheduled guild activity with an RSVP roster.
// Title, schedule and capacity are immutable after creation; the only
// post-creation mutations are the rendered-message reference and the
// one-way cancellation flag.
//
//nolint:lll // struct tags can't be split
type GuildEvent struct {
	ModelUintID

	// Discord guild the event belongs to
	GuildID string `json:"guild_id" gorm:"type:string;index"`

	// Channel hosting the event's rendered message
	ChannelID string `json:"channel_id" gorm:"type:string"`

	// Rendered message reference, empty until the first render
	MessageID NullableString `json:"message_id" gorm:"type:string"`

	Title       string `json:"title" gorm:"type:string"`
	Description string `json:"description" gorm:"type:string"`

	// ScheduledAt is the event's start time (unix milliseconds, UTC)
	ScheduledAt int64 `json:"scheduled_at" gorm:"index"`

	Category EventCategory `json:"category" gorm:"type:string"`

	// Capacity is the maximum number of 'accepted' participants.
	// 0 means unlimited.
	Capacity int `json:"capacity"`

	// Discord user ID of the organizer
	OrganizerID string `json:"organizer_id" gorm:"type:string"`

	Cancelled    bool           `json:"cancelled" gorm:"type:bool;default:false"`
	CancelReason NullableString `json:"cancel_reason" gorm:"type:string"`
	CancelledAt  int64          `json:"cancelled_at"`

	ModelUnixTime
}

func (GuildEvent) TableName() string {
	return "guild_events"
}

func (e GuildEvent) ScheduledTime() time.Time {
	return time.UnixMilli(e.ScheduledAt).UTC()
}

func (e GuildEvent) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(e.ID)),
		slog.String("guild_id", e.GuildID),
		slog.String("title", e.Title),
		slog.String("category", string(e.Category)),
		slog.Int("capacity", e.Capacity),
		slog.Bool("cancelled", e.Cancelled),
	)
}

// NewEventParams carries the already-typed inputs for event creation.
// Validation tags mirror the constraints enforced at creation time.
//
//nolint:lll // struct tags can't be split
type NewEventParams struct {
	GuildID     string        `binding:"required"`
	ChannelID   string        `binding:"required"`
	OrganizerID string        `binding:"required"`
	Title       string        `binding:"required"`
	Description string        ``
	ScheduledAt time.Time     `binding:"required"`
	Category    EventCategory `binding:"required,oneof=raid mythic_plus pvp general custom"`
	Capacity    int           `binding:"min=0"`
}

// EventManager owns the event and participant stores: event lifecycle,
// RSVP transitions, role metadata and roster aggregation. It has no
// knowledge of Discord rendering; callers trigger the view synchronizer
// after successful mutations.
type EventManager struct {
	db     DBI
	logger *slog.Logger
}

func NewEventManager(db DBI, log *slog.Logger) *EventManager {
	if log == nil {
		log = slog.Default()
	}
	return &EventManager{
		db:     db,
		logger: log.With(loggerNameKey, "event_manager"),
	}
}

// CreateEvent validates and persists a new event. The scheduled time
// must be strictly in the future.
func (em *EventManager) CreateEvent(
	ctx context.Context,
	params NewEventParams,
) (*GuildEvent, error) {
	if err := structValidator.StructCtx(ctx, params); err != nil {
		return nil, err
	}
	if !params.ScheduledAt.After(time.Now()) {
		return nil, ErrEventInPast
	}

	event := &GuildEvent{
		GuildID:     params.GuildID,
		ChannelID:   params.ChannelID,
		OrganizerID: params.OrganizerID,
		Title:       params.Title,
		Description: params.Description,
		ScheduledAt: params.ScheduledAt.UTC().UnixMilli(),
		Category:    params.Category,
		Capacity:    params.Capacity,
	}
	if _, err := em.db.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("error creating event: %w", err)
	}
	em.logger.InfoContext(ctx, "created event", "event", event)
	return event, nil
}

// GetEvent returns the event with the given ID, or ErrEventNotFound.
func (em *EventManager) GetEvent(ctx context.Context, eventID uint) (
	*GuildEvent,
	error,
) {
	var event GuildEvent
	err := em.db.DB().WithContext(ctx).First(&event, eventID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &event, nil
}

// ListUpcomingEvents returns active (non-cancelled) events for the guild
// whose scheduled time hasn't passed, soonest first.
func (em *EventManager) ListUpcomingEvents(
	ctx context.Context,
	guildID string,
	limit int,
) ([]GuildEvent, error) {
	var events []GuildEvent
	err := em.db.DB().WithContext(ctx).Where(
		"guild_id = ? AND cancelled = ? AND scheduled_at >= ?",
		guildID,
		false,
		time.Now().UTC().UnixMilli(),
	).Order("scheduled_at asc").Limit(limit).Find(&events).Error
	return events, err
}

// CancelEvent flags the event as cancelled with the given reason.
// Cancellation is one-way; a second attempt returns ErrEventCancelled
// without touching the stored reason or timestamp.
func (em *EventManager) CancelEvent(
	ctx context.Context,
	eventID uint,
	reason string,
) (*GuildEvent, error) {
	event, err := em.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Cancelled {
		return event, ErrEventCancelled
	}

	event.Cancelled = true
	event.CancelReason = NullableString(reason)
	event.CancelledAt = time.Now().UTC().UnixMilli()
	if _, err = em.db.Updates(
		ctx, event, map[string]any{
			columnEventCancelled:    true,
			columnEventCancelReason: event.CancelReason,
			columnEventCancelledAt:  event.CancelledAt,
		},
	); err != nil {
		return nil, fmt.Errorf("error cancelling event: %w", err)
	}
	em.logger.InfoContext(
		ctx,
		"cancelled event",
		"event", event,
		"reason", reason,
	)
	return event, nil
}

// AttachMessageRef stores the rendered message reference for the event.
func (em *EventManager) AttachMessageRef(
	ctx context.Context,
	eventID uint,
	channelID string,
	messageID string,
) error {
	rowsAffected, err := em.db.Updates(
		ctx,
		&GuildEvent{ModelUintID: ModelUintID{ID: eventID}},
		map[string]any{
			columnEventChannelID: channelID,
			columnEventMessageID: NullableString(messageID),
		},
	)
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// lockEvent loads the event row inside the given transaction. On
// postgres the row is locked FOR UPDATE so concurrent capacity checks
// for the same event serialize; SQLite writes already serialize behind
// the database mutex (and doesn't support row locks).
func lockEvent(tx *gorm.DB, eventID uint) (*GuildEvent, error) {
	if tx.Dialector.Name() == dbTypePostgres {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var event GuildEvent
	err := tx.First(&event, eventID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &event, nil
}
