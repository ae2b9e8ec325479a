package evocore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	eventSubcommandCreate   = "create"
	eventSubcommandCancel   = "cancel"
	eventSubcommandList     = "list"
	eventSubcommandRoster   = "roster"
	eventSubcommandRerender = "rerender"

	// eventTimeLayout is the accepted schedule format for /event create,
	// interpreted as UTC
	eventTimeLayout = "2006-01-02 15:04"

	eventListLimit = 10
)

func appCommandEvent() *discordgo.ApplicationCommand {
	categoryChoices := []*discordgo.ApplicationCommandOptionChoice{
		{Name: "Raid", Value: string(EventCategoryRaid)},
		{Name: "Mythic+", Value: string(EventCategoryMythicPlus)},
		{Name: "PvP", Value: string(EventCategoryPvP)},
		{Name: "General", Value: string(EventCategoryGeneral)},
		{Name: "Custom", Value: string(EventCategoryCustom)},
	}
	minCapacity := float64(0)

	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandEvent,
		Description: "Schedule and manage guild events",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        eventSubcommandCreate,
				Description: "Schedule a new event",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "title",
						Description: "Event title",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "time",
						Description: "Start time (UTC), e.g. 2026-09-01 19:30",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "category",
						Description: "Event category",
						Required:    true,
						Choices:     categoryChoices,
					},
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "capacity",
						Description: "Max accepted sign-ups (0 = unlimited)",
						MinValue:    &minCapacity,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "description",
						Description: "Event description",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        eventSubcommandCancel,
				Description: "Cancel an event and notify sign-ups",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "id",
						Description: "Event ID (shown in the event footer)",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "reason",
						Description: "Cancellation reason",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        eventSubcommandList,
				Description: "List upcoming events",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        eventSubcommandRoster,
				Description: "Show an event's sign-up roster",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "id",
						Description: "Event ID",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        eventSubcommandRerender,
				Description: "Rebuild an event's message from current state",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "id",
						Description: "Event ID",
						Required:    true,
					},
				},
			},
		},
	}
}

func (e *Evocore) handleEventCommand(
	ctx context.Context,
	handler InteractionHandler,
	u *User,
	i *discordgo.InteractionCreate,
) {
	sub, opts := subcommandOptions(i)

	switch sub {
	case eventSubcommandCreate:
		e.eventCreate(ctx, handler, u, i, opts)
	case eventSubcommandCancel:
		e.eventCancel(ctx, handler, u, i, opts)
	case eventSubcommandList:
		e.eventList(ctx, handler, i)
	case eventSubcommandRoster:
		e.eventRoster(ctx, handler, opts)
	case eventSubcommandRerender:
		e.eventRerender(ctx, handler, opts)
	default:
		editResponseContent(ctx, handler, "Unknown subcommand!")
	}
}

func (e *Evocore) eventCreate(
	ctx context.Context,
	handler InteractionHandler,
	u *User,
	i *discordgo.InteractionCreate,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	logger := handler.Logger()

	scheduledAt, err := time.Parse(eventTimeLayout, opts["time"].StringValue())
	if err != nil {
		editResponseContent(
			ctx,
			handler,
			fmt.Sprintf(
				"Couldn't parse that time - use `%s` (UTC).",
				eventTimeLayout,
			),
		)
		return
	}

	params := NewEventParams{
		GuildID:     i.GuildID,
		ChannelID:   i.ChannelID,
		OrganizerID: u.ID,
		Title:       opts["title"].StringValue(),
		ScheduledAt: scheduledAt.UTC(),
		Category:    EventCategory(opts["category"].StringValue()),
	}
	if opt, ok := opts["capacity"]; ok {
		params.Capacity = int(opt.IntValue())
	}
	if opt, ok := opts["description"]; ok {
		params.Description = opt.StringValue()
	}

	event, err := e.events.CreateEvent(ctx, params)
	if err != nil {
		if errors.Is(err, ErrEventInPast) {
			editResponseContent(
				ctx,
				handler,
				"That time is in the past - events need a future start time.",
			)
			return
		}
		logger.ErrorContext(ctx, "error creating event", tint.Err(err))
		editResponseContent(ctx, handler, "Couldn't create the event, sorry!")
		return
	}

	if _, err = e.view.Publish(ctx, event); err != nil {
		logger.ErrorContext(ctx, "error publishing event", tint.Err(err))
		editResponseContent(
			ctx,
			handler,
			fmt.Sprintf(
				"Event #%d created, but I couldn't post its message here.",
				event.ID,
			),
		)
		return
	}

	editResponseContent(
		ctx,
		handler,
		fmt.Sprintf("Event #%d created!", event.ID),
	)
}

// canManageEvent reports whether the user may cancel or repair the
// event: the organizer, or anyone with Manage Server.
func canManageEvent(
	event *GuildEvent,
	u *User,
	i *discordgo.InteractionCreate,
) bool {
	if event.OrganizerID == u.ID {
		return true
	}
	return i.Member != nil &&
		i.Member.Permissions&discordgo.PermissionManageServer != 0
}

func (e *Evocore) eventCancel(
	ctx context.Context,
	handler InteractionHandler,
	u *User,
	i *discordgo.InteractionCreate,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	logger := handler.Logger()
	eventID := uint(opts["id"].IntValue())

	reason := ""
	if opt, ok := opts["reason"]; ok {
		reason = opt.StringValue()
	}

	event, err := e.events.GetEvent(ctx, eventID)
	if err != nil {
		editResponseContent(ctx, handler, eventErrorMessage(err))
		return
	}
	if !canManageEvent(event, u, i) {
		editResponseContent(
			ctx,
			handler,
			"Only the organizer (or a server manager) can cancel this event.",
		)
		return
	}

	event, err = e.events.CancelEvent(ctx, eventID, reason)
	if err != nil {
		editResponseContent(ctx, handler, eventErrorMessage(err))
		return
	}

	// terminal render: cancelled banner, controls stripped. Best-effort,
	// the cancellation stands regardless.
	e.view.Sync(ctx, eventID)

	notified := e.notifier.NotifyCancellation(ctx, event)

	logger.InfoContext(
		ctx,
		"event cancelled",
		"event", event,
		"notified", notified,
	)
	editResponseContent(
		ctx,
		handler,
		fmt.Sprintf(
			"**%s** cancelled. %d participant(s) notified.",
			event.Title,
			notified,
		),
	)
}

func (e *Evocore) eventList(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
) {
	events, err := e.events.ListUpcomingEvents(ctx, i.GuildID, eventListLimit)
	if err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error listing events",
			tint.Err(err),
		)
		editResponseContent(ctx, handler, "Couldn't load events, sorry!")
		return
	}
	if len(events) == 0 {
		editResponseContent(ctx, handler, "No upcoming events.")
		return
	}

	lines := make([]string, 0, len(events))
	for _, event := range events {
		lines = append(
			lines, fmt.Sprintf(
				"`#%d` **%s** - <t:%d:F> (%s)",
				event.ID,
				event.Title,
				event.ScheduledTime().Unix(),
				event.Category,
			),
		)
	}
	editResponseContent(ctx, handler, strings.Join(lines, "\n"))
}

func (e *Evocore) eventRoster(
	ctx context.Context,
	handler InteractionHandler,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	eventID := uint(opts["id"].IntValue())
	event, err := e.events.GetEvent(ctx, eventID)
	if err != nil {
		editResponseContent(ctx, handler, eventErrorMessage(err))
		return
	}

	roster, err := e.events.BuildRoster(ctx, event, e.view.resolver)
	if err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error building roster",
			tint.Err(err),
		)
		editResponseContent(ctx, handler, "Couldn't load the roster, sorry!")
		return
	}

	embed := eventEmbed(event, roster)
	if _, err = handler.Edit(
		ctx,
		&discordgo.WebhookEdit{Embeds: &[]*discordgo.MessageEmbed{embed}},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error sending roster",
			tint.Err(err),
		)
	}
}

func (e *Evocore) eventRerender(
	ctx context.Context,
	handler InteractionHandler,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	eventID := uint(opts["id"].IntValue())
	if err := e.view.Render(ctx, eventID); err != nil {
		editResponseContent(
			ctx,
			handler,
			fmt.Sprintf("Re-render failed: %s", err.Error()),
		)
		return
	}
	editResponseContent(
		ctx,
		handler,
		fmt.Sprintf("Event #%d message rebuilt.", eventID),
	)
}

// handleRSVPComponent applies an RSVP button click and returns the
// ephemeral confirmation (or failure) response. On success the shared
// event message is re-rendered best-effort before responding.
func (e *Evocore) handleRSVPComponent(
	ctx context.Context,
	eventID uint,
	u *User,
	target RSVPStatus,
) *discordgo.InteractionResponse {
	ctx, logger := e.getLogger(ctx)

	participant, err := e.events.ApplyRSVP(ctx, eventID, u.ID, target)
	if err != nil {
		var capErr CapacityError
		switch {
		case errors.As(err, &capErr):
			return ephemeralResponse(
				fmt.Sprintf(
					"This event is full (%d accepted). "+
						"You can still mark yourself tentative or late!",
					capErr.Capacity,
				),
			)
		case errors.Is(err, ErrEventCancelled):
			return ephemeralResponse("This event has been cancelled.")
		case errors.Is(err, ErrEventNotFound):
			return ephemeralResponse("That event no longer exists.")
		default:
			logger.ErrorContext(ctx, "error applying rsvp", tint.Err(err))
			return ephemeralResponse("Something went wrong, sorry!")
		}
	}

	e.view.Sync(ctx, eventID)

	return ephemeralResponse(
		fmt.Sprintf("You're marked as **%s**.", participant.Status),
	)
}

// handleTagSelectComponent applies a class or role select-menu choice
// and returns the ephemeral confirmation response.
func (e *Evocore) handleTagSelectComponent(
	ctx context.Context,
	eventID uint,
	u *User,
	kind string,
	value string,
) *discordgo.InteractionResponse {
	ctx, logger := e.getLogger(ctx)

	var err error
	switch kind {
	case customIDEventClass:
		_, err = e.events.SetParticipantClass(ctx, eventID, u.ID, value)
	case customIDEventRole:
		_, err = e.events.SetParticipantRole(ctx, eventID, u.ID, GameRole(value))
	default:
		return nil
	}

	if err != nil {
		switch {
		case errors.Is(err, ErrParticipantNotFound):
			return ephemeralResponse(
				"RSVP to the event first, then pick your class/role.",
			)
		case errors.Is(err, ErrEventCancelled):
			return ephemeralResponse("This event has been cancelled.")
		case errors.Is(err, ErrEventNotFound):
			return ephemeralResponse("That event no longer exists.")
		default:
			logger.ErrorContext(
				ctx,
				"error setting participant tag",
				tint.Err(err),
			)
			return ephemeralResponse("Something went wrong, sorry!")
		}
	}

	e.view.Sync(ctx, eventID)

	return ephemeralResponse(fmt.Sprintf("Set to **%s**.", value))
}

func eventErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrEventNotFound):
		return "No event with that ID."
	case errors.Is(err, ErrEventCancelled):
		return "That event is already cancelled."
	default:
		return "Something went wrong, sorry!"
	}
}
