package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/Leshaka/lunodog-bot/internal/events"
	"github.com/Leshaka/lunodog-bot/internal/guildconfig"
	"github.com/Leshaka/lunodog-bot/internal/observability"
)

// Metrics is the subset of observability.Metrics the service reports to.
type Metrics interface {
	SetCachedConfigs(n int)
	ConfigEvent(kind, direction string)
	RecordError(component, errorType string)
}

type nopMetrics struct{}

func (nopMetrics) SetCachedConfigs(int)       {}
func (nopMetrics) ConfigEvent(string, string) {}
func (nopMetrics) RecordError(string, string) {}

// Options configures a Service. Every field is optional.
type Options struct {
	// Publisher receives a ConfigEvent after every committed update or reset.
	Publisher events.Publisher

	// Origin identifies this process in published events. Events carrying
	// the same origin are ignored by Run. A random id is used when empty.
	Origin string

	Logger  *slog.Logger
	Metrics Metrics
	Tracer  *observability.Tracer
}

// Service keeps one live Config per guild. Writes to a guild are
// serialized; loads of the same guild are deduplicated.
type Service struct {
	factory   *guildconfig.Factory
	publisher events.Publisher
	origin    string
	logger    *slog.Logger
	metrics   Metrics
	tracer    *observability.Tracer

	mu     sync.Mutex
	guilds map[int64]*guildEntry
	loads  singleflight.Group
}

type guildEntry struct {
	mu  sync.Mutex
	cfg *guildconfig.Config
}

// NewService creates a service over factory.
func NewService(factory *guildconfig.Factory, opts Options) (*Service, error) {
	if factory == nil {
		return nil, errors.New("bot: factory is required")
	}
	if opts.Publisher == nil {
		opts.Publisher = &events.NoopPublisher{}
	}
	if opts.Origin == "" {
		origin, err := events.NewID("proc_")
		if err != nil {
			return nil, err
		}
		opts.Origin = origin
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Tracer == nil {
		opts.Tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	return &Service{
		factory:   factory,
		publisher: opts.Publisher,
		origin:    opts.Origin,
		logger:    opts.Logger.With("component", "bot", "schema", factory.Name()),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		guilds:    make(map[int64]*guildEntry),
	}, nil
}

func (s *Service) Factory() *guildconfig.Factory { return s.factory }
func (s *Service) Origin() string                { return s.origin }

// Len returns the number of guild configs held in memory.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.guilds)
}

// Config returns the live config of a guild, loading it on first use. The
// returned value is shared: read it, but change it only through Update.
func (s *Service) Config(ctx context.Context, guildID int64, scope guildconfig.Scope) (*guildconfig.Config, error) {
	entry, err := s.load(ctx, guildID, scope)
	if err != nil {
		return nil, err
	}
	return entry.cfg, nil
}

// Render returns the display form of a guild's settings.
func (s *Service) Render(ctx context.Context, guildID int64, scope guildconfig.Scope) (map[string]any, error) {
	entry, err := s.load(ctx, guildID, scope)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.cfg.Render(), nil
}

// Update applies changes to a guild's config and announces them to other
// processes.
func (s *Service) Update(ctx context.Context, guildID int64, scope guildconfig.Scope, changes map[string]any) error {
	err := s.update(ctx, guildID, scope, changes)
	if errors.Is(err, guildconfig.ErrDeleted) {
		// Reset raced with this update; retry against a fresh config.
		err = s.update(ctx, guildID, scope, changes)
	}
	if err != nil {
		return err
	}

	changed := make([]string, 0, len(changes))
	for name := range changes {
		changed = append(changed, name)
	}
	sort.Strings(changed)
	s.publish(ctx, events.KindUpdated, guildID, changed)
	return nil
}

func (s *Service) update(ctx context.Context, guildID int64, scope guildconfig.Scope, changes map[string]any) error {
	entry, err := s.load(ctx, guildID, scope)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.cfg.Deleted() {
		s.evict(guildID, entry)
		return guildconfig.ErrDeleted
	}
	return entry.cfg.Update(ctx, scope, changes)
}

// Reset deletes a guild's stored settings. The next load yields defaults.
func (s *Service) Reset(ctx context.Context, guildID int64, scope guildconfig.Scope) error {
	return observability.WithSpan(ctx, s.tracer, "bot.Reset", func(ctx context.Context, span trace.Span) error {
		s.tracer.SetAttributes(span, "discord.guild_id", guildID)
		entry, err := s.load(ctx, guildID, scope)
		if err != nil {
			return err
		}
		entry.mu.Lock()
		err = entry.cfg.Delete(ctx)
		entry.mu.Unlock()
		if err != nil && !errors.Is(err, guildconfig.ErrDeleted) {
			return err
		}
		s.evict(guildID, entry)
		s.publish(ctx, events.KindDeleted, guildID, nil)
		return nil
	})
}

// Evict drops a guild's config from memory.
func (s *Service) Evict(guildID int64) {
	s.evict(guildID, nil)
}

// evict removes the guild entry. A non-nil only is removed only if still current.
func (s *Service) evict(guildID int64, only *guildEntry) {
	s.mu.Lock()
	if cur, ok := s.guilds[guildID]; ok && (only == nil || cur == only) {
		delete(s.guilds, guildID)
	}
	n := len(s.guilds)
	s.mu.Unlock()
	s.metrics.SetCachedConfigs(n)
}

func (s *Service) load(ctx context.Context, guildID int64, scope guildconfig.Scope) (*guildEntry, error) {
	s.mu.Lock()
	entry, ok := s.guilds[guildID]
	s.mu.Unlock()
	if ok {
		return entry, nil
	}

	// The load is shared by every caller waiting on this guild, so it must
	// not be cancelled with the first one.
	loadCtx := context.WithoutCancel(ctx)
	ch := s.loads.DoChan(strconv.FormatInt(guildID, 10), func() (any, error) {
		cfg, err := s.factory.Spawn(loadCtx, scope, guildID)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.guilds[guildID]; ok {
			return existing, nil
		}
		entry := &guildEntry{cfg: cfg}
		s.guilds[guildID] = entry
		s.metrics.SetCachedConfigs(len(s.guilds))
		return entry, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*guildEntry), nil
	}
}

func (s *Service) publish(ctx context.Context, kind string, guildID int64, changed []string) {
	id, err := events.NewID("evt_")
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create event id", "error", err)
		return
	}
	event := events.ConfigEvent{
		ID:      id,
		Kind:    kind,
		Origin:  s.origin,
		Schema:  s.factory.Name(),
		Table:   s.factory.Table(),
		GuildID: guildID,
		Changed: changed,
		At:      time.Now().UTC(),
		Trace:   observability.InjectTrace(ctx),
	}
	if err := s.publisher.Publish(ctx, event.Topic(), event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish config event",
			"guild_id", guildID,
			"kind", kind,
			"error", err,
		)
		s.metrics.RecordError("events", "publish_failed")
		return
	}
	s.metrics.ConfigEvent(kind, "published")
}

// Run evicts cached configs when other processes change them. It returns
// when ctx is cancelled or the subscription closes.
func (s *Service) Run(ctx context.Context, sub events.Subscriber) error {
	ch, cancel, err := sub.Subscribe(events.TopicConfigAll)
	if err != nil {
		return fmt.Errorf("subscribe to config events: %w", err)
	}
	defer cancel()

	s.logger.InfoContext(ctx, "listening for config events", "origin", s.origin)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, data)
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, data []byte) {
	event, err := events.DecodeConfigEvent(data)
	if err != nil {
		s.logger.WarnContext(ctx, "dropping malformed config event", "error", err)
		s.metrics.RecordError("events", "decode_failed")
		return
	}
	if event.Origin == s.origin || event.Schema != s.factory.Name() {
		return
	}

	ctx = observability.ExtractTrace(ctx, event.Trace)
	ctx, span := s.tracer.TraceConfigEvent(ctx, event.Kind, event.Schema, event.GuildID)
	defer span.End()

	s.tracer.SetAttributes(span, "config.event.id", event.ID, "config.changed", event.Changed)
	s.Evict(event.GuildID)
	s.metrics.ConfigEvent(event.Kind, "received")
	s.logger.DebugContext(ctx, "evicted guild config after remote change",
		"guild_id", event.GuildID,
		"kind", event.Kind,
		"origin", event.Origin,
		"changed", event.Changed,
	)
}
