package evocore

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEventTestBot(t testing.TB) (*Evocore, *mockDiscordSession) {
	t.Helper()
	writeDB, db := newTestDatabase(t)
	session := newMockDiscordSession()
	em := NewEventManager(writeDB, nil)
	resolver := staticResolver{
		"user1": "User One",
		"user2": "User Two",
		"user3": "User Three",
	}
	return &Evocore{
		config:  DefaultTestConfig(t),
		db:      db,
		writeDB: writeDB,
		logger:  slog.Default(),
		events:  em,
		view:    NewViewSynchronizer(session, em, resolver, nil),
		discord: &Discord{session: session},
	}, session
}

func TestHandleRSVPComponent(t *testing.T) {
	t.Parallel()
	eco, session := newEventTestBot(t)
	ctx := context.Background()

	event, err := eco.events.CreateEvent(ctx, testEventParams(t))
	require.NoError(t, err)
	_, err = eco.view.Publish(ctx, event)
	require.NoError(t, err)

	response := eco.handleRSVPComponent(
		ctx,
		event.ID,
		&User{ID: "user1", Username: "one"},
		RSVPAccepted,
	)
	require.NotNil(t, response)
	assert.Contains(t, response.Data.Content, "accepted")

	// the click re-rendered the shared message
	require.NotEmpty(t, session.editedMessages)

	participants, err := eco.events.GetParticipants(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, RSVPAccepted, participants[0].Status)
}

func TestHandleRSVPComponentCapacityFull(t *testing.T) {
	t.Parallel()
	eco, _ := newEventTestBot(t)
	ctx := context.Background()

	params := testEventParams(t)
	params.Capacity = 1
	event, err := eco.events.CreateEvent(ctx, params)
	require.NoError(t, err)

	response := eco.handleRSVPComponent(
		ctx,
		event.ID,
		&User{ID: "user1", Username: "one"},
		RSVPAccepted,
	)
	require.NotNil(t, response)
	assert.Contains(t, response.Data.Content, "accepted")

	response = eco.handleRSVPComponent(
		ctx,
		event.ID,
		&User{ID: "user2", Username: "two"},
		RSVPAccepted,
	)
	require.NotNil(t, response)
	assert.Contains(t, response.Data.Content, "This event is full (1 accepted)")

	// tentative is not capacity-gated
	response = eco.handleRSVPComponent(
		ctx,
		event.ID,
		&User{ID: "user2", Username: "two"},
		RSVPTentative,
	)
	require.NotNil(t, response)
	assert.Contains(t, response.Data.Content, "tentative")
}

func TestHandleRSVPComponentCancelledEvent(t *testing.T) {
	t.Parallel()
	eco, _ := newEventTestBot(t)
	ctx := context.Background()

	event, err := eco.events.CreateEvent(ctx, testEventParams(t))
	require.NoError(t, err)
	_, err = eco.events.CancelEvent(ctx, event.ID, "rained out")
	require.NoError(t, err)

	response := eco.handleRSVPComponent(
		ctx,
		event.ID,
		&User{ID: "user1", Username: "one"},
		RSVPAccepted,
	)
	require.NotNil(t, response)
	assert.Contains(t, response.Data.Content, "cancelled")

	response = eco.handleRSVPComponent(
		ctx,
		99999,
		&User{ID: "user1", Username: "one"},
		RSVPAccepted,
	)
	require.NotNil(t, response)
	assert.Contains(t, response.Data.Content, "no longer exists")
}

func TestHandleTagSelectComponent(t *testing.T) {
	t.Parallel()
	eco, _ := newEventTestBot(t)
	ctx := context.Background()

	event, err := eco.events.CreateEvent(ctx, testEventParams(t))
	require.NoError(t, err)
	u := &User{ID: "user1", Username: "one"}

	// tags require an existing RSVP
	response := eco.handleTagSelectComponent(
		ctx,
		event.ID,
		u,
		customIDEventClass,
		"Paladin",
	)
	require.NotNil(t, response)
	assert.Contains(t, response.Data.Content, "RSVP to the event first")

	_, err = eco.events.ApplyRSVP(ctx, event.ID, u.ID, RSVPAccepted)
	require.NoError(t, err)

	response = eco.handleTagSelectComponent(
		ctx,
		event.ID,
		u,
		customIDEventClass,
		"Paladin",
	)
	require.NotNil(t, response)
	assert.Contains(t, response.Data.Content, "Paladin")

	response = eco.handleTagSelectComponent(
		ctx,
		event.ID,
		u,
		customIDEventRole,
		string(GameRoleTank),
	)
	require.NotNil(t, response)
	assert.Contains(
		t,
		response.Data.Content,
		fmt.Sprintf("Set to **%s**", GameRoleTank),
	)

	participants, err := eco.events.GetParticipants(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, "Paladin", participants[0].Class.String())
	assert.Equal(t, string(GameRoleTank), participants[0].Role.String())
}
