package evocore

import (
	"context"
	"fmt"

	"github.com/lmittmann/tint"
)

// UserResolver resolves a user ID to a display name. Resolution may
// fail per-user (account deleted, left the platform); the roster
// aggregator tolerates individual failures.
type UserResolver interface {
	ResolveDisplayName(ctx context.Context, userID string) (string, error)
}

// RosterEntry is one participant's rendered line in a roster partition.
type RosterEntry struct {
	UserID      string         `json:"user_id"`
	DisplayName string         `json:"display_name"`
	Class       NullableString `json:"class,omitempty"`
	Role        NullableString `json:"role,omitempty"`
	JoinedAt    int64          `json:"joined_at"`
}

// Label renders the entry's display name with its class/role annotation,
// combined when both tags are present.
func (r RosterEntry) Label() string {
	switch {
	case r.Class != "" && r.Role != "":
		return fmt.Sprintf("%s (%s/%s)", r.DisplayName, r.Class, r.Role)
	case r.Class != "":
		return fmt.Sprintf("%s (%s)", r.DisplayName, r.Class)
	case r.Role != "":
		return fmt.Sprintf("%s (%s)", r.DisplayName, r.Role)
	default:
		return r.DisplayName
	}
}

// Roster is the grouped-by-status, join-ordered view of an event's
// participants. Partitions are exhaustive and disjoint: every
// participant with a resolvable display name appears in exactly one.
type Roster struct {
	Accepted  []RosterEntry `json:"accepted"`
	Tentative []RosterEntry `json:"tentative"`
	Late      []RosterEntry `json:"late"`
	Declined  []RosterEntry `json:"declined"`

	// AcceptedCount is the size of the accepted partition, for
	// capacity display
	AcceptedCount int `json:"accepted_count"`

	// RoleCounts is the accepted partition split by combat role, only
	// populated for game-themed event categories
	RoleCounts map[GameRole]int `json:"role_counts,omitempty"`
}

// Partition returns the entries for the given status.
func (r *Roster) Partition(status RSVPStatus) []RosterEntry {
	switch status {
	case RSVPAccepted:
		return r.Accepted
	case RSVPTentative:
		return r.Tentative
	case RSVPLate:
		return r.Late
	case RSVPDeclined:
		return r.Declined
	default:
		return nil
	}
}

// BuildRoster derives the grouped roster view for the event. Each
// partition preserves join order (earliest first RSVP first),
// regardless of later status changes. Participants whose display name
// can't be resolved are dropped rather than failing the aggregation.
// Pure read; no store mutation.
func (em *EventManager) BuildRoster(
	ctx context.Context,
	event *GuildEvent,
	resolver UserResolver,
) (*Roster, error) {
	participants, err := em.GetParticipants(ctx, event.ID)
	if err != nil {
		return nil, err
	}

	roster := &Roster{}
	if event.Category.SupportsRoleMetadata() {
		roster.RoleCounts = map[GameRole]int{
			GameRoleTank:   0,
			GameRoleHealer: 0,
			GameRoleDPS:    0,
		}
	}

	for _, p := range participants {
		displayName, resolveErr := resolver.ResolveDisplayName(ctx, p.UserID)
		if resolveErr != nil {
			em.logger.WarnContext(
				ctx,
				"dropping unresolvable participant from roster",
				"user_id", p.UserID,
				"event_id", event.ID,
				tint.Err(resolveErr),
			)
			continue
		}

		entry := RosterEntry{
			UserID:      p.UserID,
			DisplayName: displayName,
			Class:       p.Class,
			Role:        p.Role,
			JoinedAt:    p.JoinedAt,
		}

		switch p.Status {
		case RSVPAccepted:
			roster.Accepted = append(roster.Accepted, entry)
			roster.AcceptedCount++
			if roster.RoleCounts != nil && GameRole(p.Role).Valid() {
				roster.RoleCounts[GameRole(p.Role)]++
			}
		case RSVPTentative:
			roster.Tentative = append(roster.Tentative, entry)
		case RSVPLate:
			roster.Late = append(roster.Late, entry)
		case RSVPDeclined:
			roster.Declined = append(roster.Declined, entry)
		}
	}

	return roster, nil
}
