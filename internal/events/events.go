// Package events carries guild configuration change notifications between
// bot processes that share one config database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultSubjectPrefix is prepended to every topic when no prefix is configured.
const DefaultSubjectPrefix = "lunodog"

// Event topics, relative to the subject prefix.
const (
	TopicConfigUpdated = "config.updated"
	TopicConfigDeleted = "config.deleted"

	// TopicConfigAll matches every config topic.
	TopicConfigAll = "config.>"
)

// Event kinds.
const (
	KindUpdated = "updated"
	KindDeleted = "deleted"
)

// ConfigEvent announces a committed change to one guild's config record.
type ConfigEvent struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Origin  string    `json:"origin"`
	Schema  string    `json:"schema"`
	Table   string    `json:"table"`
	GuildID int64     `json:"guild_id"`
	Changed []string  `json:"changed,omitempty"`
	At      time.Time `json:"at"`

	// Trace carries W3C trace context from the publishing process.
	Trace map[string]string `json:"trace,omitempty"`
}

// Topic returns the topic the event is published on.
func (e ConfigEvent) Topic() string {
	if e.Kind == KindDeleted {
		return TopicConfigDeleted
	}
	return TopicConfigUpdated
}

// DecodeConfigEvent parses a payload received from a Subscriber.
func DecodeConfigEvent(data []byte) (ConfigEvent, error) {
	var event ConfigEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return ConfigEvent{}, fmt.Errorf("decoding config event: %w", err)
	}
	if event.Schema == "" {
		return ConfigEvent{}, fmt.Errorf("decoding config event: schema is required")
	}
	return event, nil
}

// Subject joins a prefix and a topic into a NATS subject.
func Subject(prefix, topic string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + topic
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
