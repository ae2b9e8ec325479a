package evocore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ApplyRSVP validates and applies a status transition for one user on
// one event, creating the participant record if it's the user's first
// interaction. Any status may move to any other status; the only gates
// are the cancelled-event check and, for 'accepted', the capacity
// check. The capacity count and the status write happen in a single
// transaction, so the accepted roster is never observed over capacity
// even under concurrent accepts.
//
// Returns the participant record in its post-transition state.
func (em *EventManager) ApplyRSVP(
	ctx context.Context,
	eventID uint,
	userID string,
	target RSVPStatus,
) (*EventParticipant, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("invalid rsvp status: %q", target)
	}

	var participant *EventParticipant
	err := em.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			event, err := lockEvent(tx, eventID)
			if err != nil {
				return err
			}
			if event.Cancelled {
				return ErrEventCancelled
			}

			if target == RSVPAccepted && event.Capacity > 0 {
				var acceptedCount int64
				err = tx.Model(&EventParticipant{}).Where(
					"event_id = ? AND status = ? AND user_id != ?",
					eventID,
					RSVPAccepted,
					userID,
				).Count(&acceptedCount).Error
				if err != nil {
					return err
				}
				if acceptedCount >= int64(event.Capacity) {
					return CapacityError{
						EventID:  eventID,
						Capacity: event.Capacity,
					}
				}
			}

			participant, err = upsertParticipant(tx, eventID, userID, target)
			return err
		},
	)
	if err != nil {
		return nil, err
	}

	em.logger.InfoContext(
		ctx,
		"applied rsvp",
		"participant", participant,
	)
	return participant, nil
}

// upsertParticipant overwrites the status of an existing (event, user)
// record, or creates one with the target status. JoinedAt is set only
// on creation.
func upsertParticipant(
	tx *gorm.DB,
	eventID uint,
	userID string,
	target RSVPStatus,
) (*EventParticipant, error) {
	var participant EventParticipant
	err := tx.Where(
		"event_id = ? AND user_id = ?",
		eventID,
		userID,
	).First(&participant).Error

	switch {
	case err == nil:
		participant.Status = target
		if e := tx.Model(&participant).Update(
			columnParticipantStatus,
			target,
		).Error; e != nil {
			return nil, e
		}
		return &participant, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		participant = EventParticipant{
			EventID:  eventID,
			UserID:   userID,
			Status:   target,
			JoinedAt: time.Now().UTC().UnixMilli(),
		}
		if e := tx.Create(&participant).Error; e != nil {
			return nil, e
		}
		return &participant, nil
	default:
		return nil, err
	}
}

// SetParticipantClass attaches a class tag to an existing participant.
// The participant must already have an RSVP status on the event; class
// and role are set independently, not atomically.
func (em *EventManager) SetParticipantClass(
	ctx context.Context,
	eventID uint,
	userID string,
	class string,
) (*EventParticipant, error) {
	return em.setParticipantTag(
		ctx,
		eventID,
		userID,
		columnParticipantClass,
		class,
	)
}

// SetParticipantRole attaches a combat role tag (tank/healer/dps) to an
// existing participant.
func (em *EventManager) SetParticipantRole(
	ctx context.Context,
	eventID uint,
	userID string,
	role GameRole,
) (*EventParticipant, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid game role: %q", role)
	}
	return em.setParticipantTag(
		ctx,
		eventID,
		userID,
		columnParticipantRole,
		string(role),
	)
}

func (em *EventManager) setParticipantTag(
	ctx context.Context,
	eventID uint,
	userID string,
	column string,
	value string,
) (*EventParticipant, error) {
	var participant *EventParticipant
	err := em.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			event, err := lockEvent(tx, eventID)
			if err != nil {
				return err
			}
			if event.Cancelled {
				return ErrEventCancelled
			}

			var existing EventParticipant
			err = tx.Where(
				"event_id = ? AND user_id = ?",
				eventID,
				userID,
			).First(&existing).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrParticipantNotFound
				}
				return err
			}

			if err = tx.Model(&existing).Update(
				column,
				NullableString(value),
			).Error; err != nil {
				return err
			}
			switch column {
			case columnParticipantClass:
				existing.Class = NullableString(value)
			case columnParticipantRole:
				existing.Role = NullableString(value)
			}
			participant = &existing
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	em.logger.InfoContext(
		ctx,
		"set participant tag",
		"column", column,
		"value", value,
		"participant", participant,
	)
	return participant, nil
}

// GetParticipants returns all participant records for the event,
// ordered by first RSVP time (earliest first).
func (em *EventManager) GetParticipants(
	ctx context.Context,
	eventID uint,
) ([]EventParticipant, error) {
	var participants []EventParticipant
	err := em.db.DB().WithContext(ctx).Where(
		"event_id = ?",
		eventID,
	).Order("joined_at asc, id asc").Find(&participants).Error
	return participants, err
}
