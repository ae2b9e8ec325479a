package evocore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// CancelNotifier fans out direct notices to an event's participants
// when it's cancelled. Delivery is best-effort and at-most-once per
// recipient; one blocked DM never aborts the rest of the fan-out.
type CancelNotifier struct {
	session DiscordSessionHandler
	events  *EventManager
	logger  *slog.Logger
}

func NewCancelNotifier(
	session DiscordSessionHandler,
	events *EventManager,
	log *slog.Logger,
) *CancelNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &CancelNotifier{
		session: session,
		events:  events,
		logger:  log.With(loggerNameKey, "cancel_notifier"),
	}
}

// NotifyCancellation sends a DM to every participant whose last status
// was accepted or tentative. Late and declined participants already
// opted out or deprioritized, and aren't notified. Returns the number
// of participants successfully notified.
func (n *CancelNotifier) NotifyCancellation(
	ctx context.Context,
	event *GuildEvent,
) int {
	participants, err := n.events.GetParticipants(ctx, event.ID)
	if err != nil {
		n.logger.ErrorContext(
			ctx,
			"error loading participants for cancellation fan-out",
			"event", event,
			tint.Err(err),
		)
		return 0
	}

	recipients := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.Status == RSVPAccepted || p.Status == RSVPTentative {
			recipients = append(recipients, p.UserID)
		}
	}

	notice := cancellationNotice(event)

	var notified atomic.Int64
	var wg sync.WaitGroup
	for _, userID := range recipients {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			if sendErr := n.sendDirectNotice(userID, notice); sendErr != nil {
				n.logger.WarnContext(
					ctx,
					"cancellation notice delivery failed",
					"user_id", userID,
					"event_id", event.ID,
					tint.Err(sendErr),
				)
				return
			}
			notified.Add(1)
		}(userID)
	}
	wg.Wait()

	n.logger.InfoContext(
		ctx,
		"cancellation fan-out complete",
		"event", event,
		"recipients", len(recipients),
		"notified", notified.Load(),
	)
	return int(notified.Load())
}

func (n *CancelNotifier) sendDirectNotice(userID string, notice string) error {
	channel, err := n.session.UserChannelCreate(
		userID,
		discordgo.WithRetryOnRatelimit(false),
		discordgo.WithRestRetries(1),
	)
	if err != nil {
		return fmt.Errorf("error creating DM channel: %w", err)
	}
	if _, err = n.session.ChannelMessageSend(
		channel.ID,
		notice,
		discordgo.WithRetryOnRatelimit(false),
		discordgo.WithRestRetries(1),
	); err != nil {
		return fmt.Errorf("error sending DM: %w", err)
	}
	return nil
}

func cancellationNotice(event *GuildEvent) string {
	reason := event.CancelReason.String()
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Sprintf(
		"**%s** scheduled for <t:%d:F> has been cancelled: %s",
		event.Title,
		event.ScheduledTime().Unix(),
		reason,
	)
}
