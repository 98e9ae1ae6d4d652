package bot

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Leshaka/lunodog-bot/internal/events"
	"github.com/Leshaka/lunodog-bot/internal/guildconfig"
	"github.com/Leshaka/lunodog-bot/internal/storage"
)

type recordingMetrics struct {
	mu     sync.Mutex
	cached int
	events map[string]int
	errors map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{events: map[string]int{}, errors: map[string]int{}}
}

func (m *recordingMetrics) SetCachedConfigs(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = n
}

func (m *recordingMetrics) ConfigEvent(kind, direction string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[kind+"/"+direction]++
}

func (m *recordingMetrics) RecordError(component, errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[component+"/"+errorType]++
}

func (m *recordingMetrics) snapshot() (int, map[string]int, map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := make(map[string]int, len(m.events))
	for k, v := range m.events {
		ev[k] = v
	}
	errs := make(map[string]int, len(m.errors))
	for k, v := range m.errors {
		errs[k] = v
	}
	return m.cached, ev, errs
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) error { return errors.New("nats: connection closed") }
func (failingPublisher) Close() error                               { return nil }

// chanSubscriber hands Run a channel the test controls.
type chanSubscriber struct {
	ch     chan []byte
	topic  string
	cancel chan struct{}
}

func newChanSubscriber() *chanSubscriber {
	return &chanSubscriber{ch: make(chan []byte, 8), cancel: make(chan struct{})}
}

func (s *chanSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	s.topic = topic
	var once sync.Once
	return s.ch, func() { once.Do(func() { close(s.cancel) }) }, nil
}

func (s *chanSubscriber) Close() error { return nil }

type serviceFixture struct {
	svc     *Service
	factory *guildconfig.Factory
	store   *storage.MemoryRecordStore
	bus     *events.LocalBus
	metrics *recordingMetrics
}

func newServiceFixture(t *testing.T, origin string) *serviceFixture {
	t.Helper()
	factory, store := newSettings(t, nil)
	bus := events.NewLocalBus()
	t.Cleanup(func() { _ = bus.Close() })
	return newServiceOn(t, factory, store, bus, origin)
}

func newServiceOn(t *testing.T, factory *guildconfig.Factory, store *storage.MemoryRecordStore, bus *events.LocalBus, origin string) *serviceFixture {
	t.Helper()
	metrics := newRecordingMetrics()
	svc, err := NewService(factory, Options{
		Publisher: bus,
		Origin:    origin,
		Logger:    discardLogger(),
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return &serviceFixture{svc: svc, factory: factory, store: store, bus: bus, metrics: metrics}
}

func receiveEvent(t *testing.T, ch <-chan []byte) events.ConfigEvent {
	t.Helper()
	select {
	case data := <-ch:
		event, err := events.DecodeConfigEvent(data)
		if err != nil {
			t.Fatalf("DecodeConfigEvent() error = %v", err)
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config event")
	}
	return events.ConfigEvent{}
}

func TestNewServiceDefaults(t *testing.T) {
	factory, _ := newSettings(t, nil)
	if _, err := NewService(nil, Options{}); err == nil {
		t.Fatal("expected error without a factory")
	}
	svc, err := NewService(factory, Options{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if len(svc.Origin()) != len("proc_")+events.IDLength {
		t.Errorf("Origin() = %q", svc.Origin())
	}
	if svc.Factory() != factory {
		t.Errorf("Factory() mismatch")
	}
}

func TestServiceConfigIsShared(t *testing.T) {
	f := newServiceFixture(t, "proc_a")
	ctx := context.Background()

	const workers = 8
	results := make([]*guildconfig.Config, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg, err := f.svc.Config(ctx, testGuild, testScope())
			if err != nil {
				t.Errorf("Config() error = %v", err)
				return
			}
			results[i] = cfg
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("worker %d got a different config instance", i)
		}
	}
	if f.svc.Len() != 1 {
		t.Errorf("Len() = %d, want 1", f.svc.Len())
	}
	if cached, _, _ := f.metrics.snapshot(); cached != 1 {
		t.Errorf("cached configs gauge = %d, want 1", cached)
	}
}

func TestServiceUpdatePublishes(t *testing.T) {
	f := newServiceFixture(t, "proc_a")
	ch, cancel, err := f.bus.Subscribe(events.TopicConfigAll)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	ctx := context.Background()
	err = f.svc.Update(ctx, testGuild, testScope(), map[string]any{"volume": "75", "prefix": "?"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	event := receiveEvent(t, ch)
	if event.Kind != events.KindUpdated || event.Origin != "proc_a" || event.GuildID != testGuild {
		t.Errorf("event = %+v", event)
	}
	if event.Schema != SettingsSchema || event.Table != SettingsSchema {
		t.Errorf("event schema/table = %q/%q", event.Schema, event.Table)
	}
	if len(event.Changed) != 2 || event.Changed[0] != "prefix" || event.Changed[1] != "volume" {
		t.Errorf("Changed = %v, want sorted names", event.Changed)
	}
	if event.ID == "" || event.At.IsZero() {
		t.Errorf("event id/time missing: %+v", event)
	}

	rendered, err := f.svc.Render(ctx, testGuild, testScope())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if rendered["volume"] != "75" {
		t.Errorf("volume = %v", rendered["volume"])
	}
	if f.store.Len() != 1 {
		t.Errorf("store records = %d, want 1", f.store.Len())
	}
	if _, ev, _ := f.metrics.snapshot(); ev["updated/published"] != 1 {
		t.Errorf("published events = %v", ev)
	}
}

func TestServiceRejectedUpdateDoesNotPublish(t *testing.T) {
	f := newServiceFixture(t, "proc_a")
	ch, cancel, err := f.bus.Subscribe(events.TopicConfigAll)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	err = f.svc.Update(context.Background(), testGuild, testScope(), map[string]any{"volume": "150"})
	if !guildconfig.IsValidation(err) {
		t.Fatalf("Update() error = %v, want validation error", err)
	}
	select {
	case data := <-ch:
		t.Fatalf("unexpected event %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServiceReset(t *testing.T) {
	f := newServiceFixture(t, "proc_a")
	ctx := context.Background()
	scope := testScope()

	if err := f.svc.Update(ctx, testGuild, scope, map[string]any{"prefix": "?"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	ch, cancel, err := f.bus.Subscribe(events.TopicConfigDeleted)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	if err := f.svc.Reset(ctx, testGuild, scope); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if f.svc.Len() != 0 || f.store.Len() != 0 {
		t.Fatalf("after Reset: Len() = %d, store = %d", f.svc.Len(), f.store.Len())
	}
	if event := receiveEvent(t, ch); event.Kind != events.KindDeleted || len(event.Changed) != 0 {
		t.Errorf("event = %+v", event)
	}

	cfg, err := f.svc.Config(ctx, testGuild, scope)
	if err != nil {
		t.Fatalf("Config() error = %v", err)
	}
	if cfg.String("prefix") != "!" {
		t.Errorf("prefix after reset = %q, want default", cfg.String("prefix"))
	}

	// Resetting a guild that was never saved succeeds.
	if err := f.svc.Reset(ctx, 7, scope); err != nil {
		t.Errorf("Reset() of unsaved guild error = %v", err)
	}
}

func TestServiceUpdateAfterStaleDelete(t *testing.T) {
	f := newServiceFixture(t, "proc_a")
	ctx := context.Background()

	cfg, err := f.svc.Config(ctx, testGuild, testScope())
	if err != nil {
		t.Fatalf("Config() error = %v", err)
	}
	// Deleting the shared config behind the service's back leaves a
	// deleted entry in the cache; Update must reload it.
	if err := cfg.Delete(ctx); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := f.svc.Update(ctx, testGuild, testScope(), map[string]any{"prefix": "+"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	fresh, _ := f.svc.Config(ctx, testGuild, testScope())
	if fresh == cfg || fresh.String("prefix") != "+" {
		t.Fatalf("Update() did not reload the deleted config")
	}
}

func TestServicePublishFailureIsNotFatal(t *testing.T) {
	factory, _ := newSettings(t, nil)
	metrics := newRecordingMetrics()
	svc, err := NewService(factory, Options{
		Publisher: failingPublisher{},
		Logger:    discardLogger(),
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	if err := svc.Update(context.Background(), testGuild, testScope(), map[string]any{"prefix": "?"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, _, errs := metrics.snapshot(); errs["events/publish_failed"] != 1 {
		t.Errorf("errors = %v", errs)
	}
}

func TestServiceHandleEvent(t *testing.T) {
	f := newServiceFixture(t, "proc_a")
	ctx := context.Background()

	encode := func(event events.ConfigEvent) []byte {
		data, err := json.Marshal(event)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return data
	}
	load := func() {
		if _, err := f.svc.Config(ctx, testGuild, testScope()); err != nil {
			t.Fatalf("Config() error = %v", err)
		}
	}

	tests := []struct {
		name      string
		data      []byte
		wantEvict bool
	}{
		{"own event", encode(events.ConfigEvent{Kind: events.KindUpdated, Origin: "proc_a", Schema: SettingsSchema, GuildID: testGuild}), false},
		{"other schema", encode(events.ConfigEvent{Kind: events.KindUpdated, Origin: "proc_b", Schema: "tickets", GuildID: testGuild}), false},
		{"other guild", encode(events.ConfigEvent{Kind: events.KindUpdated, Origin: "proc_b", Schema: SettingsSchema, GuildID: 1}), false},
		{"malformed", []byte("{"), false},
		{"remote update", encode(events.ConfigEvent{Kind: events.KindUpdated, Origin: "proc_b", Schema: SettingsSchema, GuildID: testGuild}), true},
		{"remote delete", encode(events.ConfigEvent{Kind: events.KindDeleted, Origin: "proc_b", Schema: SettingsSchema, GuildID: testGuild}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			load()
			f.svc.handleEvent(ctx, tt.data)
			evicted := f.svc.Len() == 0
			if evicted != tt.wantEvict {
				t.Fatalf("evicted = %v, want %v", evicted, tt.wantEvict)
			}
		})
	}

	_, ev, errs := f.metrics.snapshot()
	if ev["updated/received"] != 2 || ev["deleted/received"] != 1 {
		t.Errorf("received events = %v", ev)
	}
	if errs["events/decode_failed"] != 1 {
		t.Errorf("errors = %v", errs)
	}
}

func TestServiceRunSeesRemoteChanges(t *testing.T) {
	factory, store := newSettings(t, nil)
	bus := events.NewLocalBus()
	defer bus.Close()

	local := newServiceOn(t, factory, store, bus, "proc_local")
	remote := newServiceOn(t, factory, store, bus, "proc_remote")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := newChanSubscriber()
	done := make(chan error, 1)
	go func() { done <- local.svc.Run(ctx, sub) }()

	if _, err := local.svc.Config(ctx, testGuild, testScope()); err != nil {
		t.Fatalf("Config() error = %v", err)
	}

	// Forward what the remote service publishes to the local subscriber.
	remoteEvents, stop, err := bus.Subscribe(events.TopicConfigAll)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer stop()
	if err := remote.svc.Update(ctx, testGuild, testScope(), map[string]any{"prefix": "#"}); err != nil {
		t.Fatalf("remote Update() error = %v", err)
	}
	sub.ch <- <-remoteEvents

	deadline := time.Now().Add(2 * time.Second)
	for local.svc.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("local config was not evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cfg, err := local.svc.Config(ctx, testGuild, testScope())
	if err != nil {
		t.Fatalf("Config() error = %v", err)
	}
	if cfg.String("prefix") != "#" {
		t.Errorf("prefix = %q, want remote value", cfg.String("prefix"))
	}
	if sub.topic != events.TopicConfigAll {
		t.Errorf("subscribed to %q", sub.topic)
	}

	close(sub.ch)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after the subscription closed")
	}
	select {
	case <-sub.cancel:
	default:
		t.Error("Run() did not cancel its subscription")
	}
}

func TestServiceRunStopsOnContext(t *testing.T) {
	f := newServiceFixture(t, "proc_a")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx, f.bus) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop")
	}
}

// gatedStore holds Get until release is closed, failing early if the
// caller's context ends first.
type gatedStore struct {
	*storage.MemoryRecordStore
	entered chan struct{}
	release chan struct{}
	mu      sync.Mutex
	gets    int
}

func (s *gatedStore) Get(ctx context.Context, table, name string, id int64) (*storage.Record, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	s.entered <- struct{}{}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.release:
	}
	return s.MemoryRecordStore.Get(ctx, table, name, id)
}

func TestServiceLoadOutlivesCancelledCaller(t *testing.T) {
	store := &gatedStore{
		MemoryRecordStore: storage.NewMemoryRecordStore(),
		entered:           make(chan struct{}, 1),
		release:           make(chan struct{}),
	}
	factory, err := NewGuildSettings(nil,
		guildconfig.WithStore(store),
		guildconfig.WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("NewGuildSettings() error = %v", err)
	}
	bus := events.NewLocalBus()
	t.Cleanup(func() { _ = bus.Close() })
	f := newServiceOn(t, factory, store.MemoryRecordStore, bus, "proc_a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Config(ctx, testGuild, testScope())
		done <- err
	}()

	<-store.entered
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Config() error = %v, want context.Canceled", err)
	}

	close(store.release)
	deadline := time.Now().Add(2 * time.Second)
	for f.svc.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("load abandoned after its caller left")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := f.svc.Config(context.Background(), testGuild, testScope()); err != nil {
		t.Fatalf("Config() error = %v", err)
	}
	store.mu.Lock()
	gets := store.gets
	store.mu.Unlock()
	if gets != 1 {
		t.Errorf("store Get called %d times, want 1", gets)
	}
}
