package evocore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEventManager(t testing.TB) *EventManager {
	t.Helper()
	writeDB, _ := newTestDatabase(t)
	return NewEventManager(writeDB, nil)
}

func testEventParams(t testing.TB) NewEventParams {
	t.Helper()
	return NewEventParams{
		GuildID:     fmt.Sprintf("guild_%s", t.Name()),
		ChannelID:   fmt.Sprintf("channel_%s", t.Name()),
		OrganizerID: fmt.Sprintf("organizer_%s", t.Name()),
		Title:       "Weekly Raid",
		Description: "Bring flasks",
		ScheduledAt: time.Now().Add(24 * time.Hour),
		Category:    EventCategoryRaid,
		Capacity:    20,
	}
}

func TestCreateAndGetEvent(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)
	ctx := context.Background()

	params := testEventParams(t)
	event, err := em.CreateEvent(ctx, params)
	require.NoError(t, err)
	require.NotZero(t, event.ID)

	got, err := em.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, params.Title, got.Title)
	assert.Equal(t, params.Capacity, got.Capacity)
	assert.Equal(t, params.Category, got.Category)
	assert.False(t, got.Cancelled)
}

func TestGetEventNotFound(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)

	_, err := em.GetEvent(context.Background(), 12345)
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestCreateEventInPast(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)

	params := testEventParams(t)
	params.ScheduledAt = time.Now().Add(-time.Hour)
	_, err := em.CreateEvent(context.Background(), params)
	require.ErrorIs(t, err, ErrEventInPast)
}

func TestCreateEventInvalidCategory(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)

	params := testEventParams(t)
	params.Category = EventCategory("bowling")
	_, err := em.CreateEvent(context.Background(), params)
	require.Error(t, err)
}

func TestListUpcomingEvents(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)
	ctx := context.Background()

	params := testEventParams(t)

	first, err := em.CreateEvent(ctx, params)
	require.NoError(t, err)

	params.Title = "Later Raid"
	params.ScheduledAt = time.Now().Add(48 * time.Hour)
	second, err := em.CreateEvent(ctx, params)
	require.NoError(t, err)

	// cancelled events are excluded
	params.Title = "Cancelled Raid"
	cancelled, err := em.CreateEvent(ctx, params)
	require.NoError(t, err)
	_, err = em.CancelEvent(ctx, cancelled.ID, "nobody signed up")
	require.NoError(t, err)

	events, err := em.ListUpcomingEvents(ctx, params.GuildID, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, first.ID, events[0].ID)
	assert.Equal(t, second.ID, events[1].ID)
}

func TestCancelEvent(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)
	ctx := context.Background()

	event, err := em.CreateEvent(ctx, testEventParams(t))
	require.NoError(t, err)

	cancelled, err := em.CancelEvent(ctx, event.ID, "server maintenance")
	require.NoError(t, err)
	assert.True(t, cancelled.Cancelled)
	assert.Equal(t, "server maintenance", cancelled.CancelReason.String())
	assert.NotZero(t, cancelled.CancelledAt)

	// a second cancellation reports the state without mutating it
	again, err := em.CancelEvent(ctx, event.ID, "different reason")
	require.ErrorIs(t, err, ErrEventCancelled)
	require.NotNil(t, again)
	assert.Equal(t, "server maintenance", again.CancelReason.String())
}

func TestAttachMessageRef(t *testing.T) {
	t.Parallel()
	em := newTestEventManager(t)
	ctx := context.Background()

	event, err := em.CreateEvent(ctx, testEventParams(t))
	require.NoError(t, err)

	require.NoError(
		t,
		em.AttachMessageRef(ctx, event.ID, "channel123", "message456"),
	)

	got, err := em.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, "message456", got.MessageID.String())

	err = em.AttachMessageRef(ctx, 99999, "channel123", "message456")
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestSupportsRoleMetadata(t *testing.T) {
	t.Parallel()
	assert.True(t, EventCategoryRaid.SupportsRoleMetadata())
	assert.True(t, EventCategoryMythicPlus.SupportsRoleMetadata())
	assert.True(t, EventCategoryPvP.SupportsRoleMetadata())
	assert.False(t, EventCategoryGeneral.SupportsRoleMetadata())
	assert.False(t, EventCategoryCustom.SupportsRoleMetadata())
}
