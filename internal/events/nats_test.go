package events

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestNATSPublishSubscribe(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url, "test")
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewNATSSubscriber(url, "test")
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(TopicConfigAll)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	event := ConfigEvent{ID: "evt-1", Kind: KindDeleted, Origin: "proc-a", Schema: "guild", Table: "guilds", GuildID: 7}
	if err := pub.Publish(context.Background(), event.Topic(), event); err != nil {
		t.Fatalf("publishing: %v", err)
	}
	if err := pub.Flush(); err != nil {
		t.Fatalf("flushing: %v", err)
	}

	select {
	case msg := <-ch:
		got, err := DecodeConfigEvent(msg)
		if err != nil {
			t.Fatalf("decoding: %v", err)
		}
		if got.ID != "evt-1" || got.Kind != KindDeleted || got.GuildID != 7 {
			t.Errorf("got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestNATSSubscriberIgnoresOtherPrefixes(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url, "other")
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewNATSSubscriber(url, "mine")
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(TopicConfigAll)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	if err := pub.Publish(context.Background(), TopicConfigUpdated, ConfigEvent{Schema: "guild"}); err != nil {
		t.Fatalf("publishing: %v", err)
	}
	_ = pub.Flush()

	select {
	case msg := <-ch:
		t.Fatalf("received message from another prefix: %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNATSSubscriberCancel(t *testing.T) {
	url := startTestNATS(t)

	sub, err := NewNATSSubscriber(url, "")
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(TopicConfigAll)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	cancel()
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestNATSPublisherHonoursContext(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url, "")
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.Publish(ctx, TopicConfigUpdated, ConfigEvent{}); err == nil {
		t.Fatal("Publish() with cancelled context expected error")
	}
}

func TestNewNATSPublisherBadURL(t *testing.T) {
	if _, err := NewNATSPublisher("nats://127.0.0.1:1", ""); err == nil {
		t.Fatal("expected connection error")
	}
}
