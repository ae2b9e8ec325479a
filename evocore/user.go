package evocore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var (
	columnUserID         = "user_id"
	columnUserUsername   = "username"
	columnUserGlobalName = "global_name"
	columnUserLastSeen   = "last_seen"
	columnUserXP         = "xp"
	columnUserLevel      = "level"
	columnUserLastXPAt   = "last_xp_at"
)

// User is a record of a Discord user, and their current state.
// See: https://discord.com/developers/docs/resources/user
//
//nolint:lll // struct tags can't be split
type User struct {
	//
	// The first set of fields are set from the Discord user object
	//

	// ID is the Discord user ID
	ID string `json:"id" gorm:"primaryKey;unique;type:string"`

	// Username, not unique
	Username string `json:"username" gorm:"type:string"`

	// User's display name - for bots, the application name
	GlobalName string `json:"global_name" gorm:"type:string"`

	// Indicates this user is a Discord bot user. Bots will be ignored
	// by default.
	Bot bool `json:"bot" gorm:"type:bool"`

	// JSON content of the discord user object
	Content string `json:"content" gorm:"type:string"`

	//
	// The fields below are Evocore-specific
	//

	// If true, the user's interactions and messages are ignored
	Ignored bool `json:"ignored" gorm:"type:bool;default:false"`

	// Total XP accumulated from message activity and trivia wins
	XP int64 `json:"xp" gorm:"column:xp;default:0"`

	// Level derived from XP. Stored so leaderboard queries don't have to
	// recompute it, and so level-up announcements fire exactly once.
	Level int `json:"level" gorm:"column:level;default:0"`

	// LastXPAt is the last time this user was awarded message XP,
	// used for the award cooldown
	LastXPAt int64 `json:"last_xp_at" gorm:"column:last_xp_at"`

	// LastSeen is the last time this user was seen in a Discord interaction
	// (whether it was from a slash command, clicking a button, etc.)
	LastSeen int64 `json:"last_seen" gorm:"column:last_seen"`

	ModelUnixTime
}

func NewUser(u discordgo.User) (*User, error) {
	content, err := json.Marshal(u)
	user := User{
		ID:         u.ID,
		Username:   u.Username,
		Ignored:    false,
		Content:    string(content),
		GlobalName: u.GlobalName,
		Bot:        u.Bot,
		LastSeen:   time.Now().UTC().UnixMilli(),
	}
	if u.Bot {
		user.Ignored = true
	}

	return &user, err
}

func (u *User) String() string {
	return fmt.Sprintf("%s [%s]", u.Username, u.ID)
}

func (u *User) LogValue() slog.Value {
	if u == nil {
		return slog.Value{}
	}
	attrs := []slog.Attr{
		slog.String(columnUserID, u.ID),
		slog.String("username", u.Username),
		slog.String("global_name", u.GlobalName),
		slog.Bool("ignored", u.Ignored),
		slog.Int64(columnUserXP, u.XP),
		slog.Int(columnUserLevel, u.Level),
	}
	return slog.GroupValue(attrs...)
}

// DisplayName returns the user's global display name, falling back
// to their username.
func (u *User) DisplayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// userChangedDiscordUsername compares [User.Username] and [User.GlobalName] with
// the given discordgo.User, and returns a bool indicating whether either
// field has changed (true) or not (false). This helps avoid 'drift'
// if the user updates their Discord profile.
func (u *User) userChangedDiscordUsername(d discordgo.User) bool {
	return (d.Username != u.Username) || (d.GlobalName != u.GlobalName)
}

// GetOrCreateUser returns the user with the given Discord ID, creating a
// record if none exists. The bool return indicates whether the user was
// created (true) or already existed (false).
func (d *database) GetOrCreateUser(
	ctx context.Context,
	u discordgo.User,
) (*User, bool, error) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()

	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = slog.Default()
	}

	if user, cachedUser := d.userCache[u.ID]; cachedUser {
		user.LastSeen = time.Now().UTC().UnixMilli()
		updates := map[string]any{columnUserLastSeen: user.LastSeen}

		if user.userChangedDiscordUsername(u) {
			log.Info(
				"user changed username since last seen",
				slog.Group(
					"old",
					"username", user.Username,
					"global_name", user.GlobalName,
				),
				slog.Group(
					"new",
					"username", u.Username,
					"global_name", u.GlobalName,
				),
			)
			user.Username = u.Username
			user.GlobalName = u.GlobalName
			updates[columnUserUsername] = u.Username
			updates[columnUserGlobalName] = u.GlobalName
		}
		if _, err := d.Updates(context.TODO(), user, updates); err != nil {
			log.Error("error updating user", "user", user, tint.Err(err))
		}
		return user, false, nil
	}

	user, _ := NewUser(u)
	log.InfoContext(ctx, "creating new user", "user", user)

	_, err := d.Create(ctx, user)
	if err != nil {
		log.Error("error creating user", "user", user, tint.Err(err))
		return nil, true, err
	}

	d.userCache[u.ID] = user
	return user, true, nil
}

// getUserStats retrieves participation statistics for the user: how
// many events they've signed up for by status, and their trivia wins.
func (u *User) getUserStats(ctx context.Context, db *gorm.DB) (
	UserStats,
	error,
) {
	s := UserStats{RSVPs: map[string]int{}}

	var errs []error

	type statusCount struct {
		Status string
		Total  int
	}
	var counts []statusCount
	err := db.WithContext(ctx).Model(&EventParticipant{}).Select(
		"status, count(*) as total",
	).Where("user_id = ?", u.ID).Group("status").Find(&counts).Error
	if err != nil {
		errs = append(errs, fmt.Errorf("error getting rsvp stats: %w", err))
	}
	for _, c := range counts {
		s.RSVPs[c.Status] = c.Total
	}

	var triviaWins int64
	err = db.WithContext(ctx).Model(&TriviaRound{}).Where(
		"winner_user_id = ?",
		u.ID,
	).Count(&triviaWins).Error
	if err != nil {
		errs = append(errs, fmt.Errorf("error getting trivia stats: %w", err))
	}
	s.TriviaWins = int(triviaWins)

	s.XP = u.XP
	s.Level = u.Level

	return s, errors.Join(errs...)
}

type UserStats struct {
	RSVPs      map[string]int `json:"rsvps"`
	TriviaWins int            `json:"trivia_wins"`
	XP         int64          `json:"xp"`
	Level      int            `json:"level"`
}
