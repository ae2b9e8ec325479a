package evocore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiPathHealth           = "/api/health"
	apiPathEvents           = "/api/events"
	apiPathEventDetail      = "/api/events/:id"
	apiPathEventRepair      = "/api/events/:id/repair"
	apiPathPause            = "/api/pause"
	apiPathResume           = "/api/resume"
	apiPathRegisterCommands = "/api/discord/register_commands"
	apiPathQuit             = "/api/quit"

	xRequestIDHeader = "X-Request-ID"
)

// API is the operator HTTP server. It exposes health, event
// inspection and repair, bot pause/resume, command registration and
// shutdown. It binds to localhost by default and carries no
// authentication.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	eco        *Evocore
	logger     *slog.Logger

	requestMetricsMu sync.Mutex
	requestMetrics   map[string]int
}

func newAPI(e *Evocore, config *APIConfig) (*API, error) {
	if config == nil {
		return nil, errors.New("nil API config")
	}
	logger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "api")

	r := gin.New()

	api := &API{
		config:         config,
		engine:         r,
		eco:            e,
		logger:         logger,
		requestMetrics: map[string]int{},
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 && config.Development {
		corsConfig.AllowOrigins = []string{"http://localhost:5173"}
	}

	r.Use(gin.Recovery())
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware(api),
		cors.New(corsConfig),
	)

	r.GET(apiPathHealth, api.healthCheck)
	r.GET(apiPathEvents, api.listEvents)
	r.GET(apiPathEventDetail, api.eventDetail)
	r.POST(apiPathEventRepair, api.repairEvent)
	r.POST(apiPathPause, api.pauseBot)
	r.POST(apiPathResume, api.resumeBot)
	r.POST(apiPathRegisterCommands, api.registerCommands)
	r.POST(apiPathQuit, api.quit)

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener != nil {
		return a.httpServer.Serve(a.listener)
	}
	listenCfg := &net.ListenConfig{}
	ln, e := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
	if e != nil {
		return e
	}
	a.listener = ln
	a.logger.Info("api listening", "address", ln.Addr().String())
	return a.httpServer.Serve(a.listener)
}

// ready reports whether startup init has completed and the event
// manager is usable.
func (a *API) ready() bool {
	return a.eco != nil && a.eco.events != nil
}

func (a *API) healthCheck(c *gin.Context) {
	status := gin.H{
		"ready":     a.ready(),
		"paused":    a.eco.Paused(),
		"connected": a.eco.discord.connected.Load(),
	}
	if !a.eco.startedAt.IsZero() {
		status["uptime"] = time.Since(a.eco.startedAt).String()
	}
	c.JSON(http.StatusOK, status)
}

// listEvents returns upcoming events for a guild
// (`?guild_id=...&limit=N`).
func (a *API) listEvents(c *gin.Context) {
	if !a.ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not ready"})
		return
	}
	guildID := c.Query("guild_id")
	if guildID == "" {
		c.JSON(
			http.StatusBadRequest,
			gin.H{"error": "guild_id query parameter required"},
		)
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "25"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	events, err := a.eco.events.ListUpcomingEvents(
		c.Request.Context(),
		guildID,
		limit,
	)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (a *API) eventID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event ID"})
		return 0, false
	}
	return uint(id), true
}

// eventDetail returns an event along with its aggregated roster.
func (a *API) eventDetail(c *gin.Context) {
	if !a.ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not ready"})
		return
	}
	eventID, ok := a.eventID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	event, err := a.eco.events.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	roster, err := a.eco.events.BuildRoster(ctx, event, a.eco.view.resolver)
	if err != nil {
		_ = c.Error(err)
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "roster aggregation failed"},
		)
		return
	}

	c.JSON(http.StatusOK, gin.H{"event": event, "roster": roster})
}

// repairEvent re-renders the event's Discord message from stored
// state.
func (a *API) repairEvent(c *gin.Context) {
	if !a.ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not ready"})
		return
	}
	eventID, ok := a.eventID(c)
	if !ok {
		return
	}

	if err := a.eco.view.Render(c.Request.Context(), eventID); err != nil {
		if errors.Is(err, ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(
			http.StatusBadGateway,
			gin.H{"error": fmt.Sprintf("render failed: %s", err.Error())},
		)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repaired": eventID})
}

func (a *API) pauseBot(c *gin.Context) {
	changed := a.eco.Pause(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"paused": a.eco.Paused(), "changed": changed})
}

func (a *API) resumeBot(c *gin.Context) {
	changed := a.eco.Resume(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"paused": a.eco.Paused(), "changed": changed})
}

func (a *API) registerCommands(c *gin.Context) {
	commands, err := a.eco.RegisterSlashCommands(
		discordgo.WithContext(c.Request.Context()),
	)
	if err != nil {
		_ = c.Error(err)
		c.JSON(
			http.StatusBadGateway,
			gin.H{"error": "command registration failed"},
		)
		return
	}
	names := make([]string, 0, len(commands))
	for _, cmd := range commands {
		names = append(names, cmd.Name)
	}
	c.JSON(http.StatusOK, gin.H{"registered": names})
}

func (a *API) quit(c *gin.Context) {
	a.logger.Warn("shutdown requested via api")
	c.JSON(http.StatusOK, gin.H{"stopping": true})
	go func() {
		a.eco.signalStop <- struct{}{}
	}()
}

func generateRandomHexString(n int) (string, error) {
	bytes := make([]byte, n/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// requestIDMiddleware assigns a random request ID to each request and
// echoes it back in the response headers.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details
// included and stores it in the context.
func ginContextLogger(c *gin.Context) *slog.Logger {
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		if requestLogger, isLogger := logger.(*slog.Logger); isLogger {
			return requestLogger
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger := slog.Default().With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request with its duration and
// response status.
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware counts requests per method and path.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		a.requestMetrics[key]++
	}
}
