package evocore

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const leaderboardLimit = 10

// XPAward is the outcome of a single XP grant.
type XPAward struct {
	Amount    int
	NewXP     int64
	NewLevel  int
	LeveledUp bool
}

// Leveling manages the message-XP economy: cooldown-gated awards per
// qualifying guild message, plus flat grants for trivia wins.
type Leveling struct {
	db     DBI
	config LevelingConfig
	logger *slog.Logger
}

func NewLeveling(db DBI, config LevelingConfig, log *slog.Logger) *Leveling {
	if log == nil {
		log = slog.Default()
	}
	return &Leveling{
		db:     db,
		config: config,
		logger: log.With(loggerNameKey, "leveling"),
	}
}

// xpForNextLevel returns the XP needed to advance from the given level
// to the next one.
func xpForNextLevel(level int) int64 {
	return int64(5*level*level + 50*level + 100)
}

// levelFromXP derives the level reached with the given total XP.
func levelFromXP(xp int64) int {
	level := 0
	remaining := xp
	for {
		needed := xpForNextLevel(level)
		if remaining < needed {
			return level
		}
		remaining -= needed
		level++
	}
}

// xpIntoLevel returns how far into the current level the total XP
// reaches, and the size of the current level.
func xpIntoLevel(xp int64) (progress int64, needed int64) {
	level := 0
	remaining := xp
	for {
		needed = xpForNextLevel(level)
		if remaining < needed {
			return remaining, needed
		}
		remaining -= needed
		level++
	}
}

// AwardMessageXP grants a random amount of XP within the configured
// range, subject to the per-user cooldown. Returns nil (no error) when
// the user is still on cooldown.
func (l *Leveling) AwardMessageXP(
	ctx context.Context,
	user *User,
) (*XPAward, error) {
	now := time.Now().UTC()
	if l.config.Cooldown > 0 && user.LastXPAt > 0 {
		elapsed := now.Sub(time.UnixMilli(user.LastXPAt))
		if elapsed < l.config.Cooldown {
			return nil, nil
		}
	}

	amount := l.config.XPPerMessageMin
	if spread := l.config.XPPerMessageMax - l.config.XPPerMessageMin; spread > 0 {
		amount += rand.Intn(spread + 1)
	}

	user.LastXPAt = now.UnixMilli()
	return l.grant(ctx, user, amount, map[string]any{
		columnUserLastXPAt: user.LastXPAt,
	})
}

// AwardXP grants a flat amount of XP, bypassing the message cooldown
// (trivia rewards).
func (l *Leveling) AwardXP(
	ctx context.Context,
	user *User,
	amount int,
) (*XPAward, error) {
	return l.grant(ctx, user, amount, map[string]any{})
}

func (l *Leveling) grant(
	ctx context.Context,
	user *User,
	amount int,
	extraUpdates map[string]any,
) (*XPAward, error) {
	oldLevel := user.Level
	user.XP += int64(amount)
	user.Level = levelFromXP(user.XP)

	updates := map[string]any{
		columnUserXP:    user.XP,
		columnUserLevel: user.Level,
	}
	for k, v := range extraUpdates {
		updates[k] = v
	}
	if _, err := l.db.Updates(ctx, user, updates); err != nil {
		return nil, fmt.Errorf("error saving xp award: %w", err)
	}

	award := &XPAward{
		Amount:    amount,
		NewXP:     user.XP,
		NewLevel:  user.Level,
		LeveledUp: user.Level > oldLevel,
	}
	if award.LeveledUp {
		l.logger.InfoContext(
			ctx,
			"user leveled up",
			"user", user,
			"level", user.Level,
		)
	}
	return award, nil
}

// Leaderboard returns the top users by XP.
func (l *Leveling) Leaderboard(ctx context.Context, limit int) (
	[]User,
	error,
) {
	var users []User
	err := l.db.DB().WithContext(ctx).Where(
		"xp > 0",
	).Order("xp desc").Limit(limit).Find(&users).Error
	return users, err
}

// Rank returns the user's 1-based position by XP.
func (l *Leveling) Rank(ctx context.Context, user *User) (int64, error) {
	var ahead int64
	err := l.db.DB().WithContext(ctx).Model(&User{}).Where(
		"xp > ?",
		user.XP,
	).Count(&ahead).Error
	return ahead + 1, err
}

func appCommandRank() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandRank,
		Description: "Show your level, XP and server rank",
	}
}

func appCommandLeaderboard() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandLeaderboard,
		Description: "Show the server XP leaderboard",
	}
}

func (e *Evocore) handleRankCommand(
	ctx context.Context,
	handler InteractionHandler,
	u *User,
	_ *discordgo.InteractionCreate,
) {
	rank, err := e.leveling.Rank(ctx, u)
	if err != nil {
		handler.Logger().ErrorContext(ctx, "error getting rank", tint.Err(err))
		editResponseContent(ctx, handler, "Couldn't load your rank, sorry!")
		return
	}

	progress, needed := xpIntoLevel(u.XP)
	editResponseContent(
		ctx,
		handler,
		fmt.Sprintf(
			"**%s** - level %d (rank #%d)\n%d/%d XP to next level",
			u.DisplayName(),
			u.Level,
			rank,
			progress,
			needed,
		),
	)
}

func (e *Evocore) handleLeaderboardCommand(
	ctx context.Context,
	handler InteractionHandler,
	_ *discordgo.InteractionCreate,
) {
	users, err := e.leveling.Leaderboard(ctx, leaderboardLimit)
	if err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error getting leaderboard",
			tint.Err(err),
		)
		editResponseContent(ctx, handler, "Couldn't load the leaderboard, sorry!")
		return
	}
	if len(users) == 0 {
		editResponseContent(ctx, handler, "No one has earned XP yet!")
		return
	}

	lines := make([]string, 0, len(users))
	for n, user := range users {
		lines = append(
			lines, fmt.Sprintf(
				"%d. **%s** - level %d (%d XP)",
				n+1,
				user.DisplayName(),
				user.Level,
				user.XP,
			),
		)
	}
	editResponseContent(ctx, handler, strings.Join(lines, "\n"))
}
