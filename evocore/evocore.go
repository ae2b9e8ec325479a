package evocore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// resyncConcurrency caps how many event views are re-rendered in
// parallel during the startup catchup pass.
const resyncConcurrency = 4

// set at build time via -ldflags
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// Evocore coordinates all of the bot's functionality: the Discord
// gateway session, event scheduling and RSVP tracking, moderation,
// leveling, trivia, game-data lookups, AI replies, and the operator
// HTTP API.
type Evocore struct {
	config *Config

	// Pointer to a read-only GORM connection. This is from an
	// overabundance of caution for using SQLite.
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations. The only
	// difference between this and [Evocore.db] is that, when using
	// sqlite, a mutex is used.
	writeDB DBI

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Provides the operator back-end API
	api *API

	// Event scheduling, RSVP state machine, roster aggregation
	events *EventManager

	// Keeps event messages consistent with roster state
	view *ViewSynchronizer

	// Cancellation DM fan-out
	notifier *CancelNotifier

	// Message-XP economy
	leveling *Leveling

	// Trivia round lifecycle
	trivia *TriviaManager

	// WoW game-data lookups (Blizzard + Raider.IO)
	blizzard *BlizzardClient

	// AI-assisted replies with per-user chat sessions
	openai *OpenAI

	// signalStop enables an explicit stop signal to be sent to the bot,
	// such as by the `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady has a value sent on it once startup is complete:
	// database initialized, user cache loaded, API serving, discord
	// session open and commands registered
	signalReady chan struct{}

	// A signal is sent on this channel when shutdown finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// If true, the bot acknowledges interactions with an
	// "unavailable" notice instead of processing them
	paused atomic.Bool

	// The time Run was called
	startedAt time.Time

	// getInteractionHandlerFunc returns the InteractionHandler to use
	// for an incoming interaction. Swappable so tests can capture
	// responses without a live session.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New assembles an Evocore bot from the given config. The database
// isn't opened until Run.
func New(config *Config) (*Evocore, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	e := &Evocore{
		config:        config,
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
	}

	e.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     e.config.LogLevel,
			AddSource: true,
		},
	)

	e.logger = slog.New(e.logHandler)
	slog.SetDefault(e.logger)

	e.config.Discord.httpClient = e.config.HTTPClient

	disc, err := newDiscord(e.config.Discord)
	if err != nil {
		errs = append(errs, err)
	} else {
		e.discord = disc
		disc.eco = e
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     e.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	e.blizzard = newBlizzardClient(e.config.Blizzard, e.config.HTTPClient)
	e.openai = newOpenAI(e.config.OpenAI, e.config.HTTPClient)

	api, err := newAPI(e, config.API)
	errs = append(errs, err)
	e.api = api

	e.getInteractionHandlerFunc = func(
		_ context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler {
		return GatewayHandler{
			session:     e.discord.session,
			interaction: i,
			logger: e.logger.With(
				loggerNameKey,
				"gateway_handler",
			),
		}
	}

	return e, errors.Join(errs...)
}

func (e *Evocore) ValidateConfig() error {
	return structValidator.Struct(e.config)
}

func (e *Evocore) getLogger(ctx context.Context) (
	context.Context,
	*slog.Logger,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = e.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// Paused reports whether interaction processing is paused.
func (e *Evocore) Paused() bool {
	return e.paused.Load()
}

// Pause stops processing new interactions. Returns false if the bot
// was already paused.
func (e *Evocore) Pause(ctx context.Context) bool {
	swapped := e.paused.CompareAndSwap(false, true)
	if swapped {
		e.logger.WarnContext(ctx, "paused")
	}
	return swapped
}

// Resume resumes interaction processing. Returns false if the bot
// wasn't paused.
func (e *Evocore) Resume(ctx context.Context) bool {
	swapped := e.paused.CompareAndSwap(true, false)
	if swapped {
		e.logger.WarnContext(ctx, "resumed")
	}
	return swapped
}

// RegisterSlashCommands sends the bot's application commands to the
// discord bulk overwrite endpoint.
func (e *Evocore) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return e.discord.registerCommands(options...)
}

// Run starts the bot and blocks until the context is cancelled or a
// stop signal arrives, then shuts down gracefully.
func (e *Evocore) Run(ctx context.Context) error {
	// prevents concurrent runs
	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.signalStop = make(chan struct{}, 1)
	e.startedAt = time.Now()
	logger := e.logger

	if err := e.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", e.config))

	if e.signalReady == nil {
		e.signalReady = make(chan struct{}, 1)
	}

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-e.signalStop:
			e.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			e.logger.Warn("context canceled, sending stop signal")
			e.signalStop <- struct{}{}
			return
		}
	}()

	runtimeWG := &sync.WaitGroup{}

	go func() {
		httpErr := e.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			e.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, e.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- e.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			if e.api != nil && e.api.listener != nil {
				go func() {
					if closeErr := e.api.listener.Close(); closeErr != nil {
						logger.ErrorContext(
							ctx,
							"error closing listener",
							tint.Err(closeErr),
						)
					}
				}()
			}
			return err
		}
	}

	if discErr := e.discordInit(ctx, runtimeWG); discErr != nil {
		logger.ErrorContext(ctx, "error starting discord", tint.Err(discErr))
		return discErr
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if resyncErr := e.resyncActiveEventViews(ctx); resyncErr != nil {
			logger.ErrorContext(
				ctx,
				"error resyncing event views",
				tint.Err(resyncErr),
			)
		}
	}()

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		e.openai.runSessionEviction(ctx)
	}()

	e.signalReady <- struct{}{}
	e.logger.InfoContext(ctx, "sent ready signal")

	// block until something cancels the main runtime context - generally
	// from an interrupt, or the `/api/quit` endpoint
	<-ctx.Done()

	return e.shutdown(runtimeWG)
}

// initRun opens the database, wires the components that need it, and
// loads the user cache.
func (e *Evocore) initRun(ctx context.Context) error {
	db, err := CreateDB(ctx, e.config.DatabaseType, e.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	e.db = db
	e.writeDB = NewDatabase(
		db,
		e.logger,
		e.config.DatabaseType == dbTypePostgres,
	)

	e.events = NewEventManager(e.writeDB, e.logger)
	e.view = NewViewSynchronizer(
		e.discord.session,
		e.events,
		discordUserResolver{
			session: e.discord.session,
			db:      e.writeDB,
			guildID: e.config.Discord.GuildID,
		},
		e.logger,
	)
	e.notifier = NewCancelNotifier(e.discord.session, e.events, e.logger)
	e.leveling = NewLeveling(e.writeDB, e.config.Leveling, e.logger)
	e.trivia = NewTriviaManager(
		e.writeDB,
		e.leveling,
		e.config.Trivia,
		e.logger,
	)

	e.writeDB.UserCacheLock()
	defer e.writeDB.UserCacheUnlock()
	users := e.writeDB.LoadUsers()
	e.logger.InfoContext(ctx, "loaded user cache", "users", len(users))

	return nil
}

// discordInit opens the discord websocket connection, registers
// commands, and attaches gateway handlers.
func (e *Evocore) discordInit(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	d := e.discord

	d.discordgoRemoveHandlerFuncs = append(
		d.discordgoRemoveHandlerFuncs,
		d.session.AddHandler(d.handlerReady()),
		d.session.AddHandler(d.handlerConnect()),
		d.session.AddHandler(d.handlerDisconnect()),
		d.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					handler := e.getInteractionHandlerFunc(ctx, i)
					e.handleInteraction(ctx, handler)
				}()
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					e.handleDiscordMessage(ctx, m)
				}()
			},
		),
	)

	e.logger.InfoContext(ctx, "connecting to discord")
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	if _, err := d.registerCommands(); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}
	return nil
}

// resyncActiveEventViews re-renders the public message of every
// upcoming event that has a message reference. The rendered message is
// just a projection of the store, so this pass repairs any views that
// drifted while the bot was offline.
func (e *Evocore) resyncActiveEventViews(ctx context.Context) error {
	var events []GuildEvent
	err := e.db.WithContext(ctx).Where(
		"cancelled = ? AND message_id IS NOT NULL AND scheduled_at >= ?",
		false,
		time.Now().UTC().UnixMilli(),
	).Find(&events).Error
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resyncConcurrency)
	for _, event := range events {
		eventID := event.ID
		g.Go(
			func() error {
				// best-effort per event
				e.view.Sync(gctx, eventID)
				return nil
			},
		)
	}
	return g.Wait()
}

// handleDiscordMessage awards message XP for qualifying guild messages,
// announcing level-ups in the message's channel.
func (e *Evocore) handleDiscordMessage(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	ctx, logger := e.getLogger(ctx)

	if m.GuildID == "" || m.Author == nil || m.Author.Bot {
		return
	}
	if e.paused.Load() {
		return
	}

	user, _, err := e.writeDB.GetOrCreateUser(ctx, *m.Author)
	if err != nil {
		logger.ErrorContext(ctx, "error getting user", tint.Err(err))
		return
	}
	if user.Ignored {
		return
	}

	award, err := e.leveling.AwardMessageXP(ctx, user)
	if err != nil {
		logger.ErrorContext(ctx, "error awarding xp", tint.Err(err))
		return
	}
	if award != nil && award.LeveledUp {
		announcement := fmt.Sprintf(
			"🎉 <@%s> reached level %d!",
			user.ID,
			award.NewLevel,
		)
		if sendErr := e.discord.channelMessageSend(
			m.ChannelID,
			announcement,
			discordgo.WithRetryOnRatelimit(false),
			discordgo.WithRestRetries(1),
		); sendErr != nil {
			logger.WarnContext(
				ctx,
				"error announcing level-up",
				tint.Err(sendErr),
			)
		}
	}
}

// handleInteraction processes incoming Discord interactions: slash
// commands and message components (RSVP buttons, class/role selects,
// trivia answers, role toggles).
func (e *Evocore) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(
			ctx,
			"no user found in interaction",
			"interaction", structToSlogValue(i),
		)
		return
	}

	logger = logger.With(slog.Group("interaction", interactionLogAttrs(*i)...))
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(
		ctx,
		"received new interaction",
		"user", structToSlogValue(discordUser),
	)

	interactionLog, err := newInteractionLog(i, discordUser)
	if err != nil {
		logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
	}

	wg := &sync.WaitGroup{}
	defer wg.Wait()

	if interactionLog != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, createErr := e.writeDB.Create(ctx, interactionLog); createErr != nil {
				logger.ErrorContext(
					ctx,
					"error logging interaction",
					tint.Err(createErr),
				)
			}
		}()
	}

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring", "user", discordUser)
		return
	}

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		)
	case discordgo.InteractionMessageComponent:
		u, _, userErr := e.writeDB.GetOrCreateUser(ctx, *discordUser)
		if userErr != nil {
			logger.ErrorContext(ctx, "error getting user", tint.Err(userErr))
			return
		}
		if u.Ignored || e.paused.Load() {
			_ = handler.Respond(ctx, ephemeralResponse("Not right now!"))
			return
		}

		rv := e.interactionResponseToMessageComponent(ctx, u, i)
		if rv != nil {
			if respErr := handler.Respond(ctx, rv); respErr != nil {
				logger.ErrorContext(
					ctx,
					"error responding to component interaction",
					tint.Err(respErr),
				)
			}
		}
	case discordgo.InteractionApplicationCommand:
		commandName := i.ApplicationCommandData().Name

		u, _, userErr := e.writeDB.GetOrCreateUser(ctx, *discordUser)
		if userErr != nil {
			logger.ErrorContext(ctx, "error getting user", tint.Err(userErr))
			return
		}

		logger = logger.With(slog.Group("user", userLogAttrs(*u)...))
		ctx = WithLogger(ctx, logger)

		if u.Ignored || e.paused.Load() {
			_ = handler.Respond(
				ctx,
				ephemeralResponse("Sorry, I can't help you right now!"),
			)
			return
		}

		if ackErr := handler.Respond(
			ctx,
			e.discord.ackResponse(commandName),
		); ackErr != nil {
			logger.ErrorContext(
				ctx,
				"error acknowledging interaction",
				tint.Err(ackErr),
			)
			return
		}

		switch commandName {
		case DiscordSlashCommandEvent:
			e.handleEventCommand(ctx, handler, u, i)
		case DiscordSlashCommandKick,
			DiscordSlashCommandBan,
			DiscordSlashCommandTimeout,
			DiscordSlashCommandPurge:
			e.handleModerationCommand(ctx, handler, u, i)
		case DiscordSlashCommandRank:
			e.handleRankCommand(ctx, handler, u, i)
		case DiscordSlashCommandLeaderboard:
			e.handleLeaderboardCommand(ctx, handler, i)
		case DiscordSlashCommandTrivia:
			e.handleTriviaCommand(ctx, handler, u, i)
		case DiscordSlashCommandWoW:
			e.handleWoWCommand(ctx, handler, i)
		case DiscordSlashCommandAsk:
			e.handleAskCommand(ctx, handler, u, i)
		case DiscordSlashCommandRoleMenu:
			e.handleRoleMenuCommand(ctx, handler, i)
		default:
			logger.WarnContext(ctx, "unknown command", "command", commandName)
			editResponseContent(ctx, handler, "Unknown command!")
		}
	}
}

// interactionResponseToMessageComponent routes a component interaction
// by its custom ID prefix and returns the response to send, or nil if
// no response should be sent.
func (e *Evocore) interactionResponseToMessageComponent(
	ctx context.Context,
	u *User,
	i *discordgo.InteractionCreate,
) *discordgo.InteractionResponse {
	ctx, logger := e.getLogger(ctx)

	customID := i.MessageComponentData().CustomID
	parts := strings.Split(customID, ":")

	switch parts[0] {
	case customIDEventRSVP:
		if len(parts) != 3 {
			logger.WarnContext(ctx, "malformed rsvp custom ID", "custom_id", customID)
			return nil
		}
		eventID, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			logger.WarnContext(ctx, "bad event ID", "custom_id", customID)
			return nil
		}
		return e.handleRSVPComponent(
			ctx,
			uint(eventID),
			u,
			RSVPStatus(parts[2]),
		)
	case customIDEventClass, customIDEventRole:
		if len(parts) != 2 {
			logger.WarnContext(ctx, "malformed select custom ID", "custom_id", customID)
			return nil
		}
		eventID, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			logger.WarnContext(ctx, "bad event ID", "custom_id", customID)
			return nil
		}
		values := i.MessageComponentData().Values
		if len(values) == 0 {
			return nil
		}
		return e.handleTagSelectComponent(
			ctx,
			uint(eventID),
			u,
			parts[0],
			values[0],
		)
	case customIDTrivia:
		if len(parts) != 3 {
			logger.WarnContext(ctx, "malformed trivia custom ID", "custom_id", customID)
			return nil
		}
		optionIdx, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil
		}
		return e.handleTriviaAnswerComponent(ctx, parts[1], u, optionIdx)
	case customIDRoleToggle:
		if len(parts) != 2 {
			logger.WarnContext(ctx, "malformed role toggle custom ID", "custom_id", customID)
			return nil
		}
		return e.handleRoleToggleComponent(ctx, i, u, parts[1])
	default:
		logger.WarnContext(
			ctx,
			"unknown component custom ID",
			"custom_id", customID,
		)
		return nil
	}
}

// ephemeralResponse wraps plain text in an ephemeral channel message
// response.
func ephemeralResponse(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: shortenString(content, discordMaxMessageLength),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

func (e *Evocore) shutdown(runtimeWG *sync.WaitGroup) error {
	e.logger.Warn("shutting down")
	defer func() {
		if e.eventShutdown != nil {
			go func() {
				e.eventShutdown <- struct{}{}
			}()
		}
	}()

	shutdownStart := time.Now()
	shutdownTimeout := e.config.ShutdownTimeout
	if shutdownTimeout.Seconds() == 0 {
		e.logger.Warn("immediate shutdown")
		go func() {
			_ = e.api.httpServer.Close()
		}()
		if e.discord != nil && e.discord.session != nil {
			_ = e.discord.session.Close()
		}
		return nil
	}
	shutdownDeadline := shutdownStart.Add(shutdownTimeout)

	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownDeadline,
	)
	defer closeCancel()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()

		for _, removeHandler := range e.discord.discordgoRemoveHandlerFuncs {
			removeHandler()
		}
		if closeErr := e.discord.session.Close(); closeErr != nil {
			e.logger.Error("error closing discord session", tint.Err(closeErr))
		}

		if apiErr := e.api.httpServer.Shutdown(closeCtx); apiErr != nil {
			e.logger.Error("error shutting down api", tint.Err(apiErr))
		}

		gracefulShutdownCh <- struct{}{}
	}()

	select {
	case <-gracefulShutdownCh:
		e.logger.Info(
			"shutdown complete",
			"elapsed", time.Since(shutdownStart),
		)
		return nil
	case <-closeCtx.Done():
		go func() {
			_ = e.api.httpServer.Close()
		}()
		return fmt.Errorf("graceful shutdown deadline exceeded")
	}
}
