package evocore

import (
	"context"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler implements InteractionHandler, capturing responses
// and edits for assertions.
type recordingHandler struct {
	interaction *discordgo.InteractionCreate
	responses   []*discordgo.InteractionResponse
	edits       []*discordgo.WebhookEdit
}

func (r *recordingHandler) Respond(
	_ context.Context,
	response *discordgo.InteractionResponse,
) error {
	r.responses = append(r.responses, response)
	return nil
}

func (r *recordingHandler) Edit(
	_ context.Context,
	wh *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	r.edits = append(r.edits, wh)
	return &discordgo.Message{}, nil
}

func (r *recordingHandler) GetInteraction() *discordgo.InteractionCreate {
	return r.interaction
}

func (r *recordingHandler) Logger() *slog.Logger {
	return slog.Default()
}

func (r *recordingHandler) lastEditContent(t testing.TB) string {
	t.Helper()
	require.NotEmpty(t, r.edits)
	content := r.edits[len(r.edits)-1].Content
	require.NotNil(t, content)
	return *content
}

func newModerationTestBot(t testing.TB) (*Evocore, *mockDiscordSession) {
	t.Helper()
	writeDB, db := newTestDatabase(t)
	session := newMockDiscordSession()
	return &Evocore{
		config:  DefaultTestConfig(t),
		db:      db,
		writeDB: writeDB,
		logger:  slog.Default(),
		discord: &Discord{session: session},
	}, session
}

func slashCommandInteraction(
	name string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "interaction1",
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   "guild1",
			ChannelID: "channel1",
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    name,
				Options: options,
			},
		},
	}
}

func TestPurgeMessages(t *testing.T) {
	t.Parallel()
	eco, session := newModerationTestBot(t)

	deleted, err := eco.purgeMessages("channel1", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, deleted)
	assert.Len(t, session.bulkDeleted["channel1"], 10)
}

func TestPurgeMessagesSkipsStale(t *testing.T) {
	t.Parallel()
	eco, session := newModerationTestBot(t)
	session.staleMessages = 3

	deleted, err := eco.purgeMessages("channel1", 10)
	require.NoError(t, err)
	assert.Equal(t, 7, deleted)
	assert.Len(t, session.bulkDeleted["channel1"], 7)
}

func TestPurgeMessagesAllStale(t *testing.T) {
	t.Parallel()
	eco, session := newModerationTestBot(t)
	session.staleMessages = 5

	deleted, err := eco.purgeMessages("channel1", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
	assert.Empty(t, session.bulkDeleted["channel1"])
}

func TestHandleKickCommand(t *testing.T) {
	t.Parallel()
	eco, _ := newModerationTestBot(t)
	ctx := context.Background()

	i := slashCommandInteraction(
		DiscordSlashCommandKick,
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  "user",
			Type:  discordgo.ApplicationCommandOptionUser,
			Value: "target1",
		},
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  "reason",
			Type:  discordgo.ApplicationCommandOptionString,
			Value: "spamming",
		},
	)
	handler := &recordingHandler{interaction: i}
	moderator := &User{ID: "mod1", Username: "moderator"}

	eco.handleModerationCommand(ctx, handler, moderator, i)
	assert.Contains(t, handler.lastEditContent(t), "Kicked <@target1>")

	var actions []ModerationAction
	require.NoError(t, eco.db.WithContext(ctx).Find(&actions).Error)
	require.Len(t, actions, 1)
	assert.Equal(t, DiscordSlashCommandKick, actions[0].Action)
	assert.Equal(t, "target1", actions[0].TargetUserID)
	assert.Equal(t, "mod1", actions[0].ModeratorID)
	assert.Equal(t, "spamming", actions[0].Reason.String())
}

func TestHandleTimeoutCommand(t *testing.T) {
	t.Parallel()
	eco, _ := newModerationTestBot(t)
	ctx := context.Background()

	i := slashCommandInteraction(
		DiscordSlashCommandTimeout,
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  "user",
			Type:  discordgo.ApplicationCommandOptionUser,
			Value: "target1",
		},
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  "minutes",
			Type:  discordgo.ApplicationCommandOptionInteger,
			Value: float64(30),
		},
	)
	handler := &recordingHandler{interaction: i}

	eco.handleModerationCommand(
		ctx,
		handler,
		&User{ID: "mod1", Username: "moderator"},
		i,
	)
	assert.Contains(t, handler.lastEditContent(t), "Timed out <@target1>")

	var actions []ModerationAction
	require.NoError(t, eco.db.WithContext(ctx).Find(&actions).Error)
	require.Len(t, actions, 1)
	assert.Greater(t, actions[0].Until, int64(0))
}

func TestHandlePurgeCommand(t *testing.T) {
	t.Parallel()
	eco, session := newModerationTestBot(t)
	ctx := context.Background()

	i := slashCommandInteraction(
		DiscordSlashCommandPurge,
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  "count",
			Type:  discordgo.ApplicationCommandOptionInteger,
			Value: float64(4),
		},
	)
	handler := &recordingHandler{interaction: i}

	eco.handleModerationCommand(
		ctx,
		handler,
		&User{ID: "mod1", Username: "moderator"},
		i,
	)
	assert.Contains(t, handler.lastEditContent(t), "Deleted 4 message(s)")
	assert.Len(t, session.bulkDeleted["channel1"], 4)
}
