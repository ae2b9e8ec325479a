package evocore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

const (
	triviaSubcommandStart = "start"
	triviaSubcommandAdd   = "add"

	triviaMaxOptions = 4
)

var ErrNoTriviaQuestions = errors.New("no trivia questions available")

// TriviaQuestion is a question in the trivia pool. Options are stored
// as a JSON array; CorrectIndex points into it.
//
//nolint:lll // struct tags can't be split
type TriviaQuestion struct {
	ModelUintID
	Question     string `json:"question" gorm:"type:string"`
	OptionsJSON  string `json:"options_json" gorm:"type:string"`
	CorrectIndex int    `json:"correct_index"`
	AddedBy      string `json:"added_by" gorm:"type:string"`
	ModelUnixTime
}

func (q TriviaQuestion) Options() []string {
	var options []string
	_ = json.Unmarshal([]byte(q.OptionsJSON), &options)
	return options
}

// TriviaRound is one posted instance of a question. The first correct
// answer claims the round; the claim is a conditional update so
// concurrent answers can't both win.
//
//nolint:lll // struct tags can't be split
type TriviaRound struct {
	ModelUintID
	// RoundID is the public identifier embedded in button custom IDs
	RoundID      string         `json:"round_id" gorm:"uniqueIndex;type:string"`
	QuestionID   uint           `json:"question_id" gorm:"index"`
	GuildID      string         `json:"guild_id" gorm:"type:string"`
	ChannelID    string         `json:"channel_id" gorm:"type:string"`
	StartedBy    string         `json:"started_by" gorm:"type:string"`
	WinnerUserID NullableString `json:"winner_user_id" gorm:"type:string"`
	WonAt        int64          `json:"won_at"`
	ModelUnixTime
}

func (r TriviaRound) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("round_id", r.RoundID),
		slog.Uint64("question_id", uint64(r.QuestionID)),
		slog.String("winner_user_id", r.WinnerUserID.String()),
	)
}

// TriviaAnswerOutcome describes the result of one answer attempt.
type TriviaAnswerOutcome struct {
	Correct bool
	// Won is true when this answer was the first correct one
	Won bool
	// RewardXP is the XP granted for a win
	RewardXP int
}

// TriviaManager owns the trivia question pool and round lifecycle.
type TriviaManager struct {
	db       DBI
	leveling *Leveling
	config   TriviaConfig
	logger   *slog.Logger
}

func NewTriviaManager(
	db DBI,
	leveling *Leveling,
	config TriviaConfig,
	log *slog.Logger,
) *TriviaManager {
	if log == nil {
		log = slog.Default()
	}
	return &TriviaManager{
		db:       db,
		leveling: leveling,
		config:   config,
		logger:   log.With(loggerNameKey, "trivia"),
	}
}

// AddQuestion validates and stores a new question in the pool.
func (t *TriviaManager) AddQuestion(
	ctx context.Context,
	question string,
	options []string,
	correctIndex int,
	addedBy string,
) (*TriviaQuestion, error) {
	if len(options) < 2 || len(options) > triviaMaxOptions {
		return nil, fmt.Errorf(
			"need 2-%d answer options, got %d",
			triviaMaxOptions,
			len(options),
		)
	}
	if correctIndex < 0 || correctIndex >= len(options) {
		return nil, fmt.Errorf("correct index %d out of range", correctIndex)
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, err
	}

	q := &TriviaQuestion{
		Question:     question,
		OptionsJSON:  string(optionsJSON),
		CorrectIndex: correctIndex,
		AddedBy:      addedBy,
	}
	if _, err = t.db.Create(ctx, q); err != nil {
		return nil, fmt.Errorf("error saving question: %w", err)
	}
	return q, nil
}

// StartRound picks a random question and opens a round for it.
func (t *TriviaManager) StartRound(
	ctx context.Context,
	guildID string,
	channelID string,
	startedBy string,
) (*TriviaRound, *TriviaQuestion, error) {
	var question TriviaQuestion
	err := t.db.DB().WithContext(ctx).Order("RANDOM()").First(&question).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNoTriviaQuestions
		}
		return nil, nil, err
	}

	round := &TriviaRound{
		RoundID:    uuid.NewString(),
		QuestionID: question.ID,
		GuildID:    guildID,
		ChannelID:  channelID,
		StartedBy:  startedBy,
	}
	if _, err = t.db.Create(ctx, round); err != nil {
		return nil, nil, fmt.Errorf("error creating round: %w", err)
	}
	t.logger.InfoContext(ctx, "started trivia round", "round", round)
	return round, &question, nil
}

// Answer records one answer attempt. A wrong answer just reports
// incorrect; the first correct answer claims the round atomically and
// is granted the reward XP.
func (t *TriviaManager) Answer(
	ctx context.Context,
	roundID string,
	user *User,
	optionIdx int,
) (*TriviaAnswerOutcome, error) {
	var round TriviaRound
	err := t.db.DB().WithContext(ctx).Where(
		"round_id = ?",
		roundID,
	).First(&round).Error
	if err != nil {
		return nil, err
	}

	var question TriviaQuestion
	if err = t.db.DB().WithContext(ctx).First(
		&question,
		round.QuestionID,
	).Error; err != nil {
		return nil, err
	}

	outcome := &TriviaAnswerOutcome{
		Correct: optionIdx == question.CorrectIndex,
	}
	if !outcome.Correct {
		return outcome, nil
	}
	if round.WinnerUserID != "" {
		return outcome, nil
	}

	// conditional claim: only one correct answer can flip the winner
	// column from NULL
	t.db.Lock()
	rv := t.db.DB().WithContext(ctx).Model(&TriviaRound{}).Where(
		"round_id = ? AND winner_user_id IS NULL",
		roundID,
	).Updates(
		map[string]any{
			"winner_user_id": user.ID,
			"won_at":         time.Now().UTC().UnixMilli(),
		},
	)
	t.db.Unlock()
	if rv.Error != nil {
		return nil, rv.Error
	}
	if rv.RowsAffected == 0 {
		// someone else claimed it first
		return outcome, nil
	}

	outcome.Won = true
	outcome.RewardXP = t.config.RewardXP
	if t.config.RewardXP > 0 {
		if _, xpErr := t.leveling.AwardXP(
			ctx,
			user,
			t.config.RewardXP,
		); xpErr != nil {
			t.logger.ErrorContext(
				ctx,
				"error awarding trivia xp",
				"user", user,
				tint.Err(xpErr),
			)
		}
	}

	t.logger.InfoContext(
		ctx,
		"trivia round won",
		"round_id", roundID,
		"user", user,
	)
	return outcome, nil
}

func appCommandTrivia() *discordgo.ApplicationCommand {
	minIndex := 1.0
	maxIndex := float64(triviaMaxOptions)
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandTrivia,
		Description: "Trivia rounds",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        triviaSubcommandStart,
				Description: "Post a trivia question in this channel",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        triviaSubcommandAdd,
				Description: "Add a question to the trivia pool",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "question",
						Description: "The question",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "options",
						Description: "Answer options, separated by ';' (2-4)",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "answer",
						Description: "Which option is correct (1-4)",
						Required:    true,
						MinValue:    &minIndex,
						MaxValue:    maxIndex,
					},
				},
			},
		},
	}
}

func (e *Evocore) handleTriviaCommand(
	ctx context.Context,
	handler InteractionHandler,
	u *User,
	i *discordgo.InteractionCreate,
) {
	sub, opts := subcommandOptions(i)

	switch sub {
	case triviaSubcommandStart:
		e.triviaStart(ctx, handler, u, i)
	case triviaSubcommandAdd:
		e.triviaAdd(ctx, handler, u, opts)
	default:
		editResponseContent(ctx, handler, "Unknown subcommand!")
	}
}

func (e *Evocore) triviaStart(
	ctx context.Context,
	handler InteractionHandler,
	u *User,
	i *discordgo.InteractionCreate,
) {
	logger := handler.Logger()

	round, question, err := e.trivia.StartRound(
		ctx,
		i.GuildID,
		i.ChannelID,
		u.ID,
	)
	if err != nil {
		if errors.Is(err, ErrNoTriviaQuestions) {
			editResponseContent(
				ctx,
				handler,
				"The question pool is empty - add some with `/trivia add`.",
			)
			return
		}
		logger.ErrorContext(ctx, "error starting trivia", tint.Err(err))
		editResponseContent(ctx, handler, "Couldn't start a round, sorry!")
		return
	}

	options := question.Options()
	buttons := make([]discordgo.MessageComponent, 0, len(options))
	for n, option := range options {
		buttons = append(
			buttons, discordgo.Button{
				Label: option,
				Style: discordgo.PrimaryButton,
				CustomID: fmt.Sprintf(
					"%s:%s:%d",
					customIDTrivia,
					round.RoundID,
					n,
				),
			},
		)
	}

	content := fmt.Sprintf("❓ **Trivia**: %s", question.Question)
	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: buttons},
	}
	if _, err = handler.Edit(
		ctx, &discordgo.WebhookEdit{
			Content:    &content,
			Components: &components,
		},
	); err != nil {
		logger.ErrorContext(ctx, "error posting trivia round", tint.Err(err))
	}
}

func (e *Evocore) triviaAdd(
	ctx context.Context,
	handler InteractionHandler,
	u *User,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	options := strings.Split(opts["options"].StringValue(), ";")
	for n := range options {
		options[n] = strings.TrimSpace(options[n])
	}
	correctIndex := int(opts["answer"].IntValue()) - 1

	question, err := e.trivia.AddQuestion(
		ctx,
		opts["question"].StringValue(),
		options,
		correctIndex,
		u.ID,
	)
	if err != nil {
		editResponseContent(
			ctx,
			handler,
			fmt.Sprintf("Couldn't add that question: %s", err.Error()),
		)
		return
	}
	editResponseContent(
		ctx,
		handler,
		fmt.Sprintf("Question #%d added to the pool.", question.ID),
	)
}

// handleTriviaAnswerComponent processes a trivia answer button click.
func (e *Evocore) handleTriviaAnswerComponent(
	ctx context.Context,
	roundID string,
	u *User,
	optionIdx int,
) *discordgo.InteractionResponse {
	ctx, logger := e.getLogger(ctx)

	outcome, err := e.trivia.Answer(ctx, roundID, u, optionIdx)
	if err != nil {
		logger.ErrorContext(ctx, "error handling trivia answer", tint.Err(err))
		return ephemeralResponse("Something went wrong, sorry!")
	}

	switch {
	case outcome.Won:
		return ephemeralResponse(
			fmt.Sprintf("Correct! You won %d XP. 🎉", outcome.RewardXP),
		)
	case outcome.Correct:
		return ephemeralResponse("Correct - but someone beat you to it!")
	default:
		return ephemeralResponse("Nope, that's not it.")
	}
}
