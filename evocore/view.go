package evocore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	embedColorActive    = 0x5865F2
	embedColorCancelled = 0xED4245

	// rosterFieldMaxEntries caps how many names render per status field,
	// to stay under Discord's per-field character limit
	rosterFieldMaxEntries = 30
)

var rsvpStatusLabels = map[RSVPStatus]string{
	RSVPAccepted:  "✅ Accepted",
	RSVPTentative: "❔ Tentative",
	RSVPLate:      "🕐 Late",
	RSVPDeclined:  "❌ Declined",
}

var rsvpButtonStyles = map[RSVPStatus]discordgo.ButtonStyle{
	RSVPAccepted:  discordgo.SuccessButton,
	RSVPTentative: discordgo.SecondaryButton,
	RSVPLate:      discordgo.SecondaryButton,
	RSVPDeclined:  discordgo.DangerButton,
}

// wowClassOptions are the class tags offered in the class select menu
// for game-themed events.
var wowClassOptions = []string{
	"death knight",
	"demon hunter",
	"druid",
	"evoker",
	"hunter",
	"mage",
	"monk",
	"paladin",
	"priest",
	"rogue",
	"shaman",
	"warlock",
	"warrior",
}

// ViewSynchronizer keeps an event's public rendered message consistent
// with the event and participant stores. Rendering is strictly
// best-effort: the stores are authoritative, and the message is a
// projection that can be rebuilt from scratch at any time.
type ViewSynchronizer struct {
	session  DiscordSessionHandler
	events   *EventManager
	resolver UserResolver
	logger   *slog.Logger
}

func NewViewSynchronizer(
	session DiscordSessionHandler,
	events *EventManager,
	resolver UserResolver,
	log *slog.Logger,
) *ViewSynchronizer {
	if log == nil {
		log = slog.Default()
	}
	return &ViewSynchronizer{
		session:  session,
		events:   events,
		resolver: resolver,
		logger:   log.With(loggerNameKey, "view_synchronizer"),
	}
}

// Publish sends the event's initial rendered message to its hosting
// channel and stores the message reference. Unlike Sync, a publish
// failure is surfaced: without a message reference the event has no
// public view at all.
func (v *ViewSynchronizer) Publish(
	ctx context.Context,
	event *GuildEvent,
) (*discordgo.Message, error) {
	roster, err := v.events.BuildRoster(ctx, event, v.resolver)
	if err != nil {
		return nil, err
	}
	msg, err := v.session.ChannelMessageSendComplex(
		event.ChannelID,
		&discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{eventEmbed(event, roster)},
			Components: eventComponents(event),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error publishing event message: %w", err)
	}
	if err = v.events.AttachMessageRef(
		ctx,
		event.ID,
		event.ChannelID,
		msg.ID,
	); err != nil {
		return msg, err
	}
	event.MessageID = NullableString(msg.ID)
	return msg, nil
}

// Sync re-renders the event's public message from current store state.
// Failures (message deleted, channel gone, permissions revoked) are
// logged and absorbed; the store mutation that triggered the sync is
// never rolled back because rendering failed.
func (v *ViewSynchronizer) Sync(ctx context.Context, eventID uint) {
	if err := v.Render(ctx, eventID); err != nil {
		v.logger.WarnContext(
			ctx,
			"event view sync failed",
			"event_id", eventID,
			tint.Err(err),
		)
	}
}

// Render rebuilds and pushes the event's rendered message, returning
// any failure. This is the explicit repair path; interaction handlers
// use Sync, which absorbs errors.
func (v *ViewSynchronizer) Render(ctx context.Context, eventID uint) error {
	event, err := v.events.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.MessageID == "" {
		return fmt.Errorf("event %d has no rendered message", eventID)
	}

	roster, err := v.events.BuildRoster(ctx, event, v.resolver)
	if err != nil {
		return err
	}

	embeds := []*discordgo.MessageEmbed{eventEmbed(event, roster)}
	components := eventComponents(event)

	edit := discordgo.NewMessageEdit(event.ChannelID, event.MessageID.String())
	edit.Embeds = &embeds
	edit.Components = &components

	if _, err = v.session.ChannelMessageEditComplex(edit); err != nil {
		return fmt.Errorf("error editing event message: %w", err)
	}
	return nil
}

// eventEmbed builds the embed representation of an event: title,
// schedule, capacity fraction, grouped participant lists and, for
// game-themed categories, the role composition breakdown.
func eventEmbed(event *GuildEvent, roster *Roster) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       event.Title,
		Description: event.Description,
		Color:       embedColorActive,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Event #%d", event.ID),
		},
	}
	if event.Cancelled {
		embed.Color = embedColorCancelled
		reason := event.CancelReason.String()
		if reason == "" {
			reason = "no reason given"
		}
		embed.Title = fmt.Sprintf("[CANCELLED] %s", event.Title)
		embed.Description = fmt.Sprintf("**Cancelled**: %s", reason)
	}

	scheduledUnix := event.ScheduledTime().Unix()
	embed.Fields = append(
		embed.Fields, &discordgo.MessageEmbedField{
			Name: "When",
			Value: fmt.Sprintf(
				"<t:%d:F> (<t:%d:R>)",
				scheduledUnix,
				scheduledUnix,
			),
		},
	)

	for _, status := range rsvpStatuses {
		entries := roster.Partition(status)
		if len(entries) == 0 {
			continue
		}
		name := fmt.Sprintf("%s (%d)", rsvpStatusLabels[status], len(entries))
		if status == RSVPAccepted && event.Capacity > 0 {
			name = fmt.Sprintf(
				"%s (%d/%d)",
				rsvpStatusLabels[status],
				roster.AcceptedCount,
				event.Capacity,
			)
		}
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name:   truncate(name, discordEventRosterFieldNameMaxLength),
				Value:  rosterFieldValue(entries),
				Inline: true,
			},
		)
	}

	if roster.RoleCounts != nil {
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name: "Composition",
				Value: fmt.Sprintf(
					"🛡️ %d tank | 💚 %d healer | ⚔️ %d dps",
					roster.RoleCounts[GameRoleTank],
					roster.RoleCounts[GameRoleHealer],
					roster.RoleCounts[GameRoleDPS],
				),
			},
		)
	}

	return embed
}

func rosterFieldValue(entries []RosterEntry) string {
	lines := make([]string, 0, len(entries))
	for i, entry := range entries {
		if i == rosterFieldMaxEntries {
			lines = append(
				lines,
				fmt.Sprintf("…and %d more", len(entries)-rosterFieldMaxEntries),
			)
			break
		}
		lines = append(lines, entry.Label())
	}
	return strings.Join(lines, "\n")
}

// eventComponents builds the interactive controls for an event message:
// one RSVP button per status, plus class/role select menus for
// game-themed categories. Cancelled events get no controls at all.
func eventComponents(event *GuildEvent) []discordgo.MessageComponent {
	if event.Cancelled {
		return []discordgo.MessageComponent{}
	}

	buttons := make([]discordgo.MessageComponent, 0, len(rsvpStatuses))
	for _, status := range rsvpStatuses {
		buttons = append(
			buttons, discordgo.Button{
				Label: rsvpStatusLabels[status],
				Style: rsvpButtonStyles[status],
				CustomID: fmt.Sprintf(
					"%s:%d:%s",
					customIDEventRSVP,
					event.ID,
					status,
				),
			},
		)
	}

	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: buttons},
	}

	if !event.Category.SupportsRoleMetadata() {
		return components
	}

	classOptions := make(
		[]discordgo.SelectMenuOption,
		0,
		len(wowClassOptions),
	)
	for _, class := range wowClassOptions {
		classOptions = append(
			classOptions, discordgo.SelectMenuOption{
				Label: class,
				Value: class,
			},
		)
	}
	components = append(
		components, discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					CustomID: fmt.Sprintf(
						"%s:%d",
						customIDEventClass,
						event.ID,
					),
					Placeholder: "Class",
					Options:     classOptions,
				},
			},
		},
	)

	roleOptions := []discordgo.SelectMenuOption{
		{Label: "Tank", Value: string(GameRoleTank), Emoji: &discordgo.ComponentEmoji{Name: "🛡️"}},
		{Label: "Healer", Value: string(GameRoleHealer), Emoji: &discordgo.ComponentEmoji{Name: "💚"}},
		{Label: "DPS", Value: string(GameRoleDPS), Emoji: &discordgo.ComponentEmoji{Name: "⚔️"}},
	}
	components = append(
		components, discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					CustomID: fmt.Sprintf(
						"%s:%d",
						customIDEventRole,
						event.ID,
					),
					Placeholder: "Role",
					Options:     roleOptions,
				},
			},
		},
	)

	return components
}
