package evocore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticResolver resolves display names from a fixed map and fails
// for anyone else.
type staticResolver map[string]string

func (r staticResolver) ResolveDisplayName(
	_ context.Context,
	userID string,
) (string, error) {
	name, ok := r[userID]
	if !ok {
		return "", fmt.Errorf("unknown user: %s", userID)
	}
	return name, nil
}

func TestBuildRosterPartitions(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)
	ctx := context.Background()

	event, err := em.CreateEvent(ctx, testEventParams(t))
	require.NoError(t, err)

	statuses := map[string]RSVPStatus{
		"alice": RSVPAccepted,
		"bob":   RSVPAccepted,
		"carol": RSVPTentative,
		"dave":  RSVPLate,
		"erin":  RSVPDeclined,
	}
	for userID, status := range statuses {
		_, err = em.ApplyRSVP(ctx, event.ID, userID, status)
		require.NoError(t, err)
	}

	resolver := staticResolver{
		"alice": "Alice",
		"bob":   "Bob",
		"carol": "Carol",
		"dave":  "Dave",
		"erin":  "Erin",
	}
	roster, err := em.BuildRoster(ctx, event, resolver)
	require.NoError(t, err)

	assert.Len(t, roster.Accepted, 2)
	assert.Len(t, roster.Tentative, 1)
	assert.Len(t, roster.Late, 1)
	assert.Len(t, roster.Declined, 1)
	assert.Equal(t, 2, roster.AcceptedCount)
	assert.Equal(t, "Carol", roster.Tentative[0].DisplayName)
}

func TestBuildRosterDropsUnresolvableUsers(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)
	ctx := context.Background()

	event, err := em.CreateEvent(ctx, testEventParams(t))
	require.NoError(t, err)

	_, err = em.ApplyRSVP(ctx, event.ID, "known", RSVPAccepted)
	require.NoError(t, err)
	_, err = em.ApplyRSVP(ctx, event.ID, "departed", RSVPAccepted)
	require.NoError(t, err)

	roster, err := em.BuildRoster(
		ctx,
		event,
		staticResolver{"known": "Known"},
	)
	require.NoError(t, err)
	require.Len(t, roster.Accepted, 1)
	assert.Equal(t, "Known", roster.Accepted[0].DisplayName)
}

func TestBuildRosterRoleCounts(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)
	ctx := context.Background()

	event, err := em.CreateEvent(ctx, testEventParams(t))
	require.NoError(t, err)

	resolver := staticResolver{
		"tank1":   "Tank One",
		"healer1": "Healer One",
		"dps1":    "DPS One",
		"late1":   "Late One",
	}

	for userID, role := range map[string]GameRole{
		"tank1":   GameRoleTank,
		"healer1": GameRoleHealer,
		"dps1":    GameRoleDPS,
	} {
		_, err = em.ApplyRSVP(ctx, event.ID, userID, RSVPAccepted)
		require.NoError(t, err)
		_, err = em.SetParticipantRole(ctx, event.ID, userID, role)
		require.NoError(t, err)
	}

	// non-accepted participants don't count toward composition
	_, err = em.ApplyRSVP(ctx, event.ID, "late1", RSVPLate)
	require.NoError(t, err)
	_, err = em.SetParticipantRole(ctx, event.ID, "late1", GameRoleTank)
	require.NoError(t, err)

	roster, err := em.BuildRoster(ctx, event, resolver)
	require.NoError(t, err)
	require.NotNil(t, roster.RoleCounts)
	assert.Equal(t, 1, roster.RoleCounts[GameRoleTank])
	assert.Equal(t, 1, roster.RoleCounts[GameRoleHealer])
	assert.Equal(t, 1, roster.RoleCounts[GameRoleDPS])
}

func TestBuildRosterNoRoleCountsForGeneralEvents(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)
	ctx := context.Background()

	params := testEventParams(t)
	params.Category = EventCategoryGeneral
	event, err := em.CreateEvent(ctx, params)
	require.NoError(t, err)

	_, err = em.ApplyRSVP(ctx, event.ID, "user1", RSVPAccepted)
	require.NoError(t, err)

	roster, err := em.BuildRoster(
		ctx,
		event,
		staticResolver{"user1": "User One"},
	)
	require.NoError(t, err)
	assert.Nil(t, roster.RoleCounts)
}

func TestRosterEntryLabel(t *testing.T) {
	t.Parallel()
	entry := RosterEntry{DisplayName: "Alice"}
	assert.Equal(t, "Alice", entry.Label())

	entry.Class = "Paladin"
	entry.Role = NullableString(GameRoleTank)
	assert.Equal(t, "Alice (Paladin/tank)", entry.Label())
}
