package evocore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyRSVPUpsert(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)
	ctx := context.Background()

	event, err := em.CreateEvent(ctx, testEventParams(t))
	require.NoError(t, err)

	p, err := em.ApplyRSVP(ctx, event.ID, "user1", RSVPTentative)
	require.NoError(t, err)
	assert.Equal(t, RSVPTentative, p.Status)
	firstJoined := p.JoinedAt
	require.NotZero(t, firstJoined)

	// changing status updates in place and preserves join order
	p, err = em.ApplyRSVP(ctx, event.ID, "user1", RSVPAccepted)
	require.NoError(t, err)
	assert.Equal(t, RSVPAccepted, p.Status)
	assert.Equal(t, firstJoined, p.JoinedAt)

	participants, err := em.GetParticipants(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, participants, 1)
}

func TestApplyRSVPInvalidStatus(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)
	ctx := context.Background()

	event, err := em.CreateEvent(ctx, testEventParams(t))
	require.NoError(t, err)

	_, err = em.ApplyRSVP(ctx, event.ID, "user1", RSVPStatus("maybe"))
	require.Error(t, err)
}

func TestApplyRSVPCapacity(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)
	ctx := context.Background()

	params := testEventParams(t)
	params.Capacity = 2
	event, err := em.CreateEvent(ctx, params)
	require.NoError(t, err)

	_, err = em.ApplyRSVP(ctx, event.ID, "user1", RSVPAccepted)
	require.NoError(t, err)
	_, err = em.ApplyRSVP(ctx, event.ID, "user2", RSVPAccepted)
	require.NoError(t, err)

	// the third accept is over capacity
	_, err = em.ApplyRSVP(ctx, event.ID, "user3", RSVPAccepted)
	var capErr CapacityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, 2, capErr.Capacity)

	// but tentative and late are never capacity gated
	_, err = em.ApplyRSVP(ctx, event.ID, "user3", RSVPTentative)
	require.NoError(t, err)
	_, err = em.ApplyRSVP(ctx, event.ID, "user4", RSVPLate)
	require.NoError(t, err)

	// an already-accepted user re-accepting isn't counted against
	// themselves
	_, err = em.ApplyRSVP(ctx, event.ID, "user2", RSVPAccepted)
	require.NoError(t, err)

	// a declined slot frees capacity
	_, err = em.ApplyRSVP(ctx, event.ID, "user1", RSVPDeclined)
	require.NoError(t, err)
	_, err = em.ApplyRSVP(ctx, event.ID, "user3", RSVPAccepted)
	require.NoError(t, err)
}

func TestApplyRSVPZeroCapacityUnlimited(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)
	ctx := context.Background()

	params := testEventParams(t)
	params.Capacity = 0
	event, err := em.CreateEvent(ctx, params)
	require.NoError(t, err)

	for n := 0; n < 50; n++ {
		_, err = em.ApplyRSVP(
			ctx,
			event.ID,
			fmt.Sprintf("user%d", n),
			RSVPAccepted,
		)
		require.NoError(t, err)
	}
}

func TestApplyRSVPCancelledEvent(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)
	ctx := context.Background()

	event, err := em.CreateEvent(ctx, testEventParams(t))
	require.NoError(t, err)

	_, err = em.ApplyRSVP(ctx, event.ID, "user1", RSVPAccepted)
	require.NoError(t, err)

	_, err = em.CancelEvent(ctx, event.ID, "done")
	require.NoError(t, err)

	_, err = em.ApplyRSVP(ctx, event.ID, "user2", RSVPAccepted)
	require.ErrorIs(t, err, ErrEventCancelled)

	// existing participant records survive cancellation
	participants, err := em.GetParticipants(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, participants, 1)
}

func TestSetParticipantTags(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)
	ctx := context.Background()

	event, err := em.CreateEvent(ctx, testEventParams(t))
	require.NoError(t, err)

	// tags require an existing RSVP
	_, err = em.SetParticipantClass(ctx, event.ID, "user1", "Paladin")
	require.ErrorIs(t, err, ErrParticipantNotFound)

	_, err = em.ApplyRSVP(ctx, event.ID, "user1", RSVPAccepted)
	require.NoError(t, err)

	p, err := em.SetParticipantClass(ctx, event.ID, "user1", "Paladin")
	require.NoError(t, err)
	assert.Equal(t, "Paladin", p.Class.String())

	p, err = em.SetParticipantRole(ctx, event.ID, "user1", GameRoleTank)
	require.NoError(t, err)
	assert.Equal(t, string(GameRoleTank), p.Role.String())

	_, err = em.SetParticipantRole(ctx, event.ID, "user1", GameRole("bard"))
	require.Error(t, err)
}

func TestGetParticipantsOrderedByJoin(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)
	ctx := context.Background()

	event, err := em.CreateEvent(ctx, testEventParams(t))
	require.NoError(t, err)

	for _, userID := range []string{"first", "second", "third"} {
		_, err = em.ApplyRSVP(ctx, event.ID, userID, RSVPAccepted)
		require.NoError(t, err)
	}

	// a later status change must not reorder
	_, err = em.ApplyRSVP(ctx, event.ID, "first", RSVPLate)
	require.NoError(t, err)

	participants, err := em.GetParticipants(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, participants, 3)
	assert.Equal(t, "first", participants[0].UserID)
	assert.Equal(t, "second", participants[1].UserID)
	assert.Equal(t, "third", participants[2].UserID)
}

func TestApplyRSVPConcurrentAccepts(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)
	ctx := context.Background()

	params := testEventParams(t)
	params.Capacity = 3
	event, err := em.CreateEvent(ctx, params)
	require.NoError(t, err)

	// every goroutine races for one of the three slots
	const contenders = 20
	rsvpErrs := make([]error, contenders)
	var wg sync.WaitGroup
	for n := 0; n < contenders; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, rsvpErrs[n] = em.ApplyRSVP(
				ctx,
				event.ID,
				fmt.Sprintf("user%d", n),
				RSVPAccepted,
			)
		}(n)
	}
	wg.Wait()

	winners := 0
	for _, rsvpErr := range rsvpErrs {
		if rsvpErr == nil {
			winners++
			continue
		}
		var capErr CapacityError
		require.True(t, errors.As(rsvpErr, &capErr))
		assert.Equal(t, 3, capErr.Capacity)
	}
	assert.Equal(t, 3, winners)

	participants, err := em.GetParticipants(ctx, event.ID)
	require.NoError(t, err)
	accepted := 0
	for _, p := range participants {
		if p.Status == RSVPAccepted {
			accepted++
		}
	}
	assert.Equal(t, 3, accepted)
}
