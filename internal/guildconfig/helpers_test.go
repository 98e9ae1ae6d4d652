package guildconfig

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/Leshaka/lunodog-bot/internal/storage"
)

func testScope() *Snapshot {
	return NewSnapshot(
		[]*discordgo.Role{
			{ID: "100", Name: "Admin"},
			{ID: "101", Name: "Moderators"},
		},
		[]*discordgo.Channel{
			{ID: "200", Name: "general", Type: discordgo.ChannelTypeGuildText},
			{ID: "201", Name: "Lounge", Type: discordgo.ChannelTypeGuildVoice},
			{ID: "202", Name: "announcements", Type: discordgo.ChannelTypeGuildNews},
		},
		[]*discordgo.Emoji{
			{ID: "300", Name: "pog"},
			{ID: "301", Name: "dance", Animated: true},
		},
	)
}

// bufferLogger returns a text logger writing to a buffer.
func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

// flakyStore wraps a memory store and fails calls on demand.
type flakyStore struct {
	*storage.MemoryRecordStore
	getErr error
	putErr error
	delErr error
	puts   int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryRecordStore: storage.NewMemoryRecordStore()}
}

func (s *flakyStore) Get(ctx context.Context, table, name string, id int64) (*storage.Record, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.MemoryRecordStore.Get(ctx, table, name, id)
}

func (s *flakyStore) Put(ctx context.Context, record *storage.Record) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	return s.MemoryRecordStore.Put(ctx, record)
}

func (s *flakyStore) Delete(ctx context.Context, table, name string, id int64) error {
	if s.delErr != nil {
		return s.delErr
	}
	return s.MemoryRecordStore.Delete(ctx, table, name, id)
}

type recordingObserver struct {
	mu        sync.Mutex
	loaded    int
	fresh     int
	fallbacks []string
	committed int
	rejected  []ErrorCode
	hookFails []string
	deleted   int
}

func (o *recordingObserver) ConfigLoaded(_ string, fresh bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loaded++
	if fresh {
		o.fresh++
	}
}

func (o *recordingObserver) VariableFallback(_ string, variable string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks = append(o.fallbacks, variable)
}

func (o *recordingObserver) UpdateCommitted(string, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.committed++
}

func (o *recordingObserver) UpdateRejected(_ string, code ErrorCode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, code)
}

func (o *recordingObserver) HookFailed(_ string, hook string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hookFails = append(o.hookFails, hook)
}

func (o *recordingObserver) ConfigDeleted(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted++
}

func mustSpawn(t *testing.T, f *Factory, scope Scope, id int64) *Config {
	t.Helper()
	cfg, err := f.Spawn(context.Background(), scope, id)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	return cfg
}
