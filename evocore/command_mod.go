package evocore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// purgeMaxMessages is Discord's bulk-delete cap per call
	purgeMaxMessages = 100

	// timeoutMaxDuration is Discord's communication-timeout cap
	timeoutMaxDuration = 28 * 24 * time.Hour
)

// ModerationAction is an audit record of a moderation command.
//
//nolint:lll // struct tags can't be split
type ModerationAction struct {
	ModelUintID
	Action       string         `json:"action" gorm:"type:string"`
	GuildID      string         `json:"guild_id" gorm:"type:string;index"`
	ModeratorID  string         `json:"moderator_id" gorm:"type:string"`
	TargetUserID string         `json:"target_user_id" gorm:"type:string;index"`
	ChannelID    string         `json:"channel_id" gorm:"type:string"`
	Reason       NullableString `json:"reason" gorm:"type:string"`
	// MessageCount is set for purges
	MessageCount int `json:"message_count"`
	// Until is the timeout expiry (unix milliseconds), set for timeouts
	Until     int64 `json:"until"`
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

func (m ModerationAction) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("action", m.Action),
		slog.String("guild_id", m.GuildID),
		slog.String("moderator_id", m.ModeratorID),
		slog.String("target_user_id", m.TargetUserID),
		slog.String("reason", m.Reason.String()),
	)
}

func appCommandKick() *discordgo.ApplicationCommand {
	perms := int64(discordgo.PermissionKickMembers)
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandKick,
		Description:              "Kick a member from the server",
		DefaultMemberPermissions: &perms,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "Member to kick",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "reason",
				Description: "Reason",
			},
		},
	}
}

func appCommandBan() *discordgo.ApplicationCommand {
	perms := int64(discordgo.PermissionBanMembers)
	maxDays := 7.0
	minDays := 0.0
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandBan,
		Description:              "Ban a member from the server",
		DefaultMemberPermissions: &perms,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "Member to ban",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "reason",
				Description: "Reason",
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "delete_days",
				Description: "Days of messages to delete (0-7)",
				MinValue:    &minDays,
				MaxValue:    maxDays,
			},
		},
	}
}

func appCommandTimeout() *discordgo.ApplicationCommand {
	perms := int64(discordgo.PermissionModerateMembers)
	minMinutes := 1.0
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandTimeout,
		Description:              "Time out a member",
		DefaultMemberPermissions: &perms,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "Member to time out",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "minutes",
				Description: "Timeout duration in minutes",
				Required:    true,
				MinValue:    &minMinutes,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "reason",
				Description: "Reason",
			},
		},
	}
}

func appCommandPurge() *discordgo.ApplicationCommand {
	perms := int64(discordgo.PermissionManageMessages)
	minCount := 1.0
	maxCount := float64(purgeMaxMessages)
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandPurge,
		Description:              "Bulk-delete recent messages in this channel",
		DefaultMemberPermissions: &perms,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "count",
				Description: "Number of messages to delete (1-100)",
				Required:    true,
				MinValue:    &minCount,
				MaxValue:    maxCount,
			},
		},
	}
}

func (e *Evocore) handleModerationCommand(
	ctx context.Context,
	handler InteractionHandler,
	u *User,
	i *discordgo.InteractionCreate,
) {
	logger := handler.Logger()
	commandName := i.ApplicationCommandData().Name
	opts := discordInteractionOptions(i)

	reason := ""
	if opt, ok := opts["reason"]; ok {
		reason = opt.StringValue()
	}

	action := &ModerationAction{
		Action:      commandName,
		GuildID:     i.GuildID,
		ModeratorID: u.ID,
		ChannelID:   i.ChannelID,
		Reason:      NullableString(reason),
	}

	var err error
	var confirmation string

	switch commandName {
	case DiscordSlashCommandKick:
		targetID := opts["user"].UserValue(nil).ID
		action.TargetUserID = targetID
		err = e.discord.session.GuildMemberDeleteWithReason(
			i.GuildID,
			targetID,
			reason,
		)
		confirmation = fmt.Sprintf("Kicked <@%s>.", targetID)
	case DiscordSlashCommandBan:
		targetID := opts["user"].UserValue(nil).ID
		action.TargetUserID = targetID
		deleteDays := 0
		if opt, ok := opts["delete_days"]; ok {
			deleteDays = int(opt.IntValue())
		}
		err = e.discord.session.GuildBanCreateWithReason(
			i.GuildID,
			targetID,
			reason,
			deleteDays,
		)
		confirmation = fmt.Sprintf("Banned <@%s>.", targetID)
	case DiscordSlashCommandTimeout:
		targetID := opts["user"].UserValue(nil).ID
		action.TargetUserID = targetID
		duration := time.Duration(opts["minutes"].IntValue()) * time.Minute
		if duration > timeoutMaxDuration {
			duration = timeoutMaxDuration
		}
		until := time.Now().UTC().Add(duration)
		action.Until = until.UnixMilli()
		err = e.discord.session.GuildMemberTimeout(
			i.GuildID,
			targetID,
			&until,
		)
		confirmation = fmt.Sprintf(
			"Timed out <@%s> until <t:%d:F>.",
			targetID,
			until.Unix(),
		)
	case DiscordSlashCommandPurge:
		count := int(opts["count"].IntValue())
		var deleted int
		deleted, err = e.purgeMessages(i.ChannelID, count)
		action.MessageCount = deleted
		confirmation = fmt.Sprintf("Deleted %d message(s).", deleted)
	default:
		editResponseContent(ctx, handler, "Unknown moderation command!")
		return
	}

	if err != nil {
		logger.ErrorContext(
			ctx,
			"moderation command failed",
			"action", action,
			tint.Err(err),
		)
		editResponseContent(
			ctx,
			handler,
			"That didn't work - check my permissions and role position.",
		)
		return
	}

	if _, dbErr := e.writeDB.Create(ctx, action); dbErr != nil {
		logger.ErrorContext(
			ctx,
			"error recording moderation action",
			"action", action,
			tint.Err(dbErr),
		)
	}

	logger.InfoContext(ctx, "moderation action", "action", action)
	editResponseContent(ctx, handler, confirmation)
}

// purgeMessages bulk-deletes up to count recent messages from the
// channel. Messages older than two weeks can't be bulk-deleted and are
// skipped.
func (e *Evocore) purgeMessages(channelID string, count int) (int, error) {
	if count > purgeMaxMessages {
		count = purgeMaxMessages
	}
	messages, err := e.discord.session.ChannelMessages(
		channelID,
		count,
		"",
		"",
		"",
	)
	if err != nil {
		return 0, fmt.Errorf("error fetching messages: %w", err)
	}

	cutoff := time.Now().Add(-14 * 24 * time.Hour)
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Timestamp.After(cutoff) {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err = e.discord.session.ChannelMessagesBulkDelete(
		channelID,
		ids,
	); err != nil {
		return 0, fmt.Errorf("error bulk deleting: %w", err)
	}
	return len(ids), nil
}
