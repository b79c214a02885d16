package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/RoseVZ/Instalily-casestudy/internal/pipeline"
)

const (
	// StreamName is the name of the turn analytics stream.
	StreamName = "TURNS"

	// SubjectPrefix is the prefix for all turn subjects.
	SubjectPrefix = "turns"
)

// Publisher writes turn events to JetStream. It implements
// pipeline.EventSink.
type Publisher struct {
	client *Client
}

// NewPublisher creates a turn event publisher.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// EnsureStream creates the turns stream when it does not exist yet.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	js := p.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Per-turn pipeline analytics events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// TurnSubject returns the subject for a thread's turn events.
func TurnSubject(threadID string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, threadID)
}

// PublishTurn publishes one turn event.
func (p *Publisher) PublishTurn(ctx context.Context, ev pipeline.TurnEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal turn event: %w", err)
	}

	if _, err := p.client.JetStream().Publish(ctx, TurnSubject(ev.ThreadID), data); err != nil {
		return fmt.Errorf("failed to publish turn event: %w", err)
	}
	return nil
}
