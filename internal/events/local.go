package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// LocalBus is an in-process Publisher and Subscriber with NATS subject
// matching. It serves single-process deployments and tests.
type LocalBus struct {
	mu     sync.Mutex
	subs   map[int]*localSub
	nextID int
	closed bool
}

type localSub struct {
	pattern string
	ch      chan []byte
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: map[int]*localSub{}}
}

func (b *LocalBus) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("local bus is closed")
	}
	for _, sub := range b.subs {
		if !MatchSubject(sub.pattern, topic) {
			continue
		}
		select {
		case sub.ch <- data:
		default:
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(topic string) (<-chan []byte, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, fmt.Errorf("local bus is closed")
	}
	id := b.nextID
	b.nextID++
	sub := &localSub{pattern: topic, ch: make(chan []byte, 64)}
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel, nil
}

// Close closes every open subscription channel.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	return nil
}

// MatchSubject reports whether subject matches a NATS pattern, where "*"
// matches one token and a trailing ">" matches one or more.
func MatchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, token := range pt {
		if token == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if token != "*" && token != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
