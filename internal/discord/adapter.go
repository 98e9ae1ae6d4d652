// Package discord connects the bot to the Discord gateway and serves the
// guild configuration slash command.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v5"

	"github.com/Leshaka/lunodog-bot/internal/guildconfig"
	"github.com/Leshaka/lunodog-bot/internal/observability"
	"github.com/Leshaka/lunodog-bot/internal/ratelimit"
)

// discordSession interface allows for mocking the Discord session in tests.
type discordSession interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// ConfigService is what the slash command needs from bot.Service.
type ConfigService interface {
	Factory() *guildconfig.Factory
	Render(ctx context.Context, guildID int64, scope guildconfig.Scope) (map[string]any, error)
	Update(ctx context.Context, guildID int64, scope guildconfig.Scope, changes map[string]any) error
	Reset(ctx context.Context, guildID int64, scope guildconfig.Scope) error
}

// Metrics is the subset of observability.Metrics the adapter reports to.
type Metrics interface {
	GatewayEvent(event string)
	RecordCommand(command, status string, durationSeconds float64)
	RecordError(component, errorType string)
}

type nopMetrics struct{}

func (nopMetrics) GatewayEvent(string)                   {}
func (nopMetrics) RecordCommand(string, string, float64) {}
func (nopMetrics) RecordError(string, string)            {}

var (
	// ErrMissingToken is returned by Config.Validate without a bot token.
	ErrMissingToken = errors.New("discord: token is required")

	// ErrAlreadyStarted is returned by Start on a running adapter.
	ErrAlreadyStarted = errors.New("discord: adapter already started")
)

// Config holds configuration for the Discord adapter.
type Config struct {
	// Token is the bot token from Discord Developer Portal (required)
	Token string

	// AppID is the application that owns the slash command. The bot user id
	// from the Ready event is used when empty.
	AppID string

	// DevGuildID registers the command on one guild instead of globally.
	DevGuildID string

	// CommandName is the slash command root, "config" by default.
	CommandName string

	// MaxConnectAttempts bounds the initial gateway connect. Reconnects after
	// a drop are handled by discordgo itself.
	MaxConnectAttempts uint

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// CommandRate throttles set and reset per guild member.
	CommandRate ratelimit.Config

	Logger  *slog.Logger
	Metrics Metrics
	Tracer  *observability.Tracer
}

// Validate checks if the configuration is valid and applies defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return ErrMissingToken
	}
	if c.CommandName == "" {
		c.CommandName = "config"
	}
	if c.MaxConnectAttempts == 0 {
		c.MaxConnectAttempts = 8
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}
	if c.Tracer == nil {
		c.Tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	return nil
}

// Adapter owns the gateway session. It tracks readiness from gateway
// lifecycle events and answers the config command.
type Adapter struct {
	config  Config
	session discordSession
	logger  *slog.Logger
	metrics Metrics
	tracer  *observability.Tracer
	limiter *ratelimit.Limiter

	// scopeFor overrides the state-backed scope lookup in tests.
	scopeFor func(guildID string) guildconfig.Scope

	mu         sync.RWMutex
	configs    ConfigService
	started    bool
	registered bool
	appID      string
	ctx        context.Context
	cancel     context.CancelFunc
	removers   []func()

	ready atomic.Bool
}

// NewAdapter creates a new Discord adapter with the given configuration.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:  config,
		logger:  config.Logger.With("adapter", "discord"),
		metrics: config.Metrics,
		tracer:  config.Tracer,
		limiter: ratelimit.NewLimiter(config.CommandRate),
		appID:   config.AppID,
	}, nil
}

// SetConfigService attaches the service behind the config command. It must
// be called before Start.
func (a *Adapter) SetConfigService(svc ConfigService) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configs = svc
}

// Ready reports whether the gateway connection is up.
func (a *Adapter) Ready() bool {
	return a.ready.Load()
}

// Start opens the gateway connection, retrying with exponential backoff.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return ErrAlreadyStarted
	}

	a.logger.Info("starting discord adapter", "command", a.config.CommandName, "dev_guild_id", a.config.DevGuildID)

	if a.session == nil {
		dg, err := discordgo.New("Bot " + a.config.Token)
		if err != nil {
			return fmt.Errorf("create discord session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds
		a.session = dg
	}

	a.removers = append(a.removers,
		a.session.AddHandler(a.handleReady),
		a.session.AddHandler(a.handleResumed),
		a.session.AddHandler(a.handleDisconnect),
		a.session.AddHandler(a.handleInteractionCreate),
	)

	if err := a.connectWithRetry(ctx); err != nil {
		a.metrics.RecordError("discord", "connect_failed")
		for _, remove := range a.removers {
			remove()
		}
		a.removers = nil
		return fmt.Errorf("connect to discord: %w", err)
	}

	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	a.started = true
	a.metrics.GatewayEvent("connect")
	a.logger.Info("discord adapter started")
	return nil
}

// Stop closes the gateway connection.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}
	a.logger.Info("stopping discord adapter")

	if a.cancel != nil {
		a.cancel()
	}
	for _, remove := range a.removers {
		remove()
	}
	a.removers = nil
	a.started = false
	a.ready.Store(false)

	if err := a.session.Close(); err != nil {
		a.metrics.RecordError("discord", "close_failed")
		return fmt.Errorf("close discord session: %w", err)
	}
	a.metrics.GatewayEvent("close")
	a.logger.Info("discord adapter stopped")
	return nil
}

func (a *Adapter) connectWithRetry(ctx context.Context) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = a.config.InitialBackoff
	expBackoff.MaxInterval = a.config.MaxBackoff

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		a.logger.Info("connecting to discord",
			"attempt", attempt,
			"max_attempts", a.config.MaxConnectAttempts)
		if err := a.session.Open(); err != nil {
			if isAuthError(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(a.config.MaxConnectAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			a.metrics.GatewayEvent("connect_retry")
			a.logger.Warn("connection failed, retrying",
				"error", err,
				"attempt", attempt,
				"backoff_ms", wait.Milliseconds())
		}),
	)
	return err
}

// isAuthError reports gateway failures that retrying cannot fix.
func isAuthError(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == 401 || restErr.Response.StatusCode == 403
	}
	return strings.Contains(err.Error(), "Authentication failed")
}

// Announce posts message to a text channel. It satisfies bot.Notifier.
func (a *Adapter) Announce(ctx context.Context, channelID, message string) error {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if session == nil || !a.Ready() {
		return errors.New("discord: not connected")
	}
	if _, err := session.ChannelMessageSend(channelID, truncate(message, maxMessageLength), discordgo.WithContext(ctx)); err != nil {
		a.metrics.RecordError("discord", "announce_failed")
		return fmt.Errorf("announce in channel %s: %w", channelID, err)
	}
	return nil
}

// RegisterCommands overwrites the application's slash commands with the
// config command.
func (a *Adapter) RegisterCommands() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registerCommandsLocked()
}

func (a *Adapter) registerCommandsLocked() error {
	if a.configs == nil {
		return errors.New("discord: no config service attached")
	}
	if a.appID == "" {
		return errors.New("discord: application id unknown until the session is ready")
	}
	commands := []*discordgo.ApplicationCommand{configCommand(a.config.CommandName, a.configs.Factory())}

	a.logger.Info("registering slash commands",
		"guild_id", a.config.DevGuildID,
		"command_count", len(commands))
	if _, err := a.session.ApplicationCommandBulkOverwrite(a.appID, a.config.DevGuildID, commands); err != nil {
		a.metrics.RecordError("discord", "register_failed")
		return fmt.Errorf("register slash commands: %w", err)
	}
	a.registered = true
	return nil
}

// Event handlers

func (a *Adapter) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.appID == "" && r.User != nil {
		a.appID = r.User.ID
	}
	a.ready.Store(true)
	a.metrics.GatewayEvent("ready")

	username := ""
	if r.User != nil {
		username = r.User.Username
	}
	a.logger.Info("discord connection ready",
		"user", username,
		"guilds", len(r.Guilds))

	if !a.registered && a.configs != nil {
		if err := a.registerCommandsLocked(); err != nil {
			a.logger.Error("failed to register slash commands", "error", err)
		}
	}
}

func (a *Adapter) handleResumed(s *discordgo.Session, r *discordgo.Resumed) {
	a.ready.Store(true)
	a.metrics.GatewayEvent("resume")
	a.logger.Info("discord connection resumed")
}

func (a *Adapter) handleDisconnect(s *discordgo.Session, d *discordgo.Disconnect) {
	a.ready.Store(false)
	a.metrics.GatewayEvent("disconnect")
	a.logger.Warn("disconnected from discord")
}

func (a *Adapter) handleInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.ApplicationCommandData().Name != a.config.CommandName {
		return
	}
	a.handleConfigCommand(i.Interaction)
}

// scope returns the live state of a guild.
func (a *Adapter) scope(guildID string) guildconfig.Scope {
	if a.scopeFor != nil {
		return a.scopeFor(guildID)
	}
	a.mu.RLock()
	dg, _ := a.session.(*discordgo.Session)
	a.mu.RUnlock()
	if dg != nil && dg.State != nil {
		return NewStateScope(dg.State, guildID)
	}
	return nil
}

func (a *Adapter) baseContext() context.Context {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.ctx != nil {
		return a.ctx
	}
	return context.Background()
}
