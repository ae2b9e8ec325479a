package evocore

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	aiSystemPrompt = "You are a helpful assistant for a gaming " +
		"community Discord server. Keep answers short and friendly."

	// how often the session store sweeps for expired sessions
	aiSessionEvictionInterval = time.Minute
)

// OpenAIClient is the subset of the OpenAI API we use, as an
// interface so tests can stub completions.
type OpenAIClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

// chatSession is one user's rolling conversation history.
type chatSession struct {
	messages   []openai.ChatCompletionMessage
	lastActive time.Time
}

// trim drops the oldest user/assistant pairs so at most maxTurns
// pairs remain (the system prompt is always kept).
func (s *chatSession) trim(maxTurns int) {
	maxMessages := 1 + maxTurns*2
	if len(s.messages) <= maxMessages {
		return
	}
	trimmed := make([]openai.ChatCompletionMessage, 0, maxMessages)
	trimmed = append(trimmed, s.messages[0])
	trimmed = append(trimmed, s.messages[len(s.messages)-maxTurns*2:]...)
	s.messages = trimmed
}

// OpenAI answers `/ask` commands, keeping a short per-user
// conversation history so follow-up questions have context.
type OpenAI struct {
	client         OpenAIClient
	config         *OpenAIConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter

	sessionMu sync.Mutex
	sessions  map[string]*chatSession
}

func newOpenAI(
	config *OpenAIConfig,
	httpClient *http.Client,
) *OpenAI {
	limit := rate.Inf
	if config.MaxRequestsPerSecond > 0 {
		limit = rate.Limit(config.MaxRequestsPerSecond)
	}
	o := &OpenAI{
		config:         config,
		requestLimiter: rate.NewLimiter(limit, 1),
		sessions:       map[string]*chatSession{},
	}
	o.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "openai")

	clientCfg := openai.DefaultConfig(config.Token)
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	o.client = openai.NewClientWithConfig(clientCfg)

	return o
}

func (o *OpenAI) enabled() bool {
	return o.config.Token != ""
}

// session returns the user's session, creating it if absent or
// expired.
func (o *OpenAI) session(userID string) *chatSession {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()

	s := o.sessions[userID]
	if s == nil || time.Since(s.lastActive) > o.config.SessionTTL {
		s = &chatSession{
			messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: aiSystemPrompt,
				},
			},
		}
		o.sessions[userID] = s
	}
	s.lastActive = time.Now()
	return s
}

// Ask sends the user's question with their session history and
// returns the model's reply.
func (o *OpenAI) Ask(
	ctx context.Context,
	userID string,
	question string,
) (string, error) {
	if err := o.requestLimiter.Wait(ctx); err != nil {
		return "", err
	}

	s := o.session(userID)

	o.sessionMu.Lock()
	s.messages = append(
		s.messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: question,
		},
	)
	request := openai.ChatCompletionRequest{
		Model:    o.config.Model,
		Messages: append([]openai.ChatCompletionMessage{}, s.messages...),
	}
	o.sessionMu.Unlock()

	response, err := o.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	reply := response.Choices[0].Message.Content

	o.sessionMu.Lock()
	s.messages = append(
		s.messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: reply,
		},
	)
	s.trim(o.config.SessionMaxTurns)
	s.lastActive = time.Now()
	o.sessionMu.Unlock()

	o.logger.InfoContext(
		ctx,
		"completion finished",
		"user_id", userID,
		"model", response.Model,
		"prompt_tokens", response.Usage.PromptTokens,
		"completion_tokens", response.Usage.CompletionTokens,
	)
	return reply, nil
}

// runSessionEviction periodically drops sessions idle past their TTL.
// It returns when ctx is cancelled.
func (o *OpenAI) runSessionEviction(ctx context.Context) {
	ticker := time.NewTicker(aiSessionEvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.evictExpiredSessions()
		}
	}
}

func (o *OpenAI) evictExpiredSessions() {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()

	for userID, s := range o.sessions {
		if time.Since(s.lastActive) > o.config.SessionTTL {
			delete(o.sessions, userID)
			o.logger.Debug("evicted chat session", "user_id", userID)
		}
	}
}

func appCommandAsk() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandAsk,
		Description: "Ask the bot a question",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "question",
				Description: "What do you want to know?",
				Required:    true,
			},
		},
	}
}

func (e *Evocore) handleAskCommand(
	ctx context.Context,
	handler InteractionHandler,
	u *User,
	i *discordgo.InteractionCreate,
) {
	logger := handler.Logger()

	if !e.openai.enabled() {
		editResponseContent(
			ctx,
			handler,
			"AI replies aren't configured on this bot.",
		)
		return
	}

	opts := discordInteractionOptions(i)
	question := opts["question"].StringValue()

	reply, err := e.openai.Ask(ctx, u.ID, question)
	if err != nil {
		logger.ErrorContext(ctx, "error getting completion", tint.Err(err))
		editResponseContent(
			ctx,
			handler,
			"I couldn't come up with an answer, sorry!",
		)
		return
	}
	editResponseContent(ctx, handler, reply)
}
