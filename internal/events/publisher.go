package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// Type names an attempt lifecycle event.
type Type string

const (
	AttemptOpened       Type = "attempt.opened"
	AttemptFocusLost    Type = "attempt.focus_lost"
	AttemptTimeWarning  Type = "attempt.time_warning"
	AttemptExpired      Type = "attempt.expired"
	AttemptSubmitted    Type = "attempt.submitted"
	AttemptSubmitFailed Type = "attempt.submit_failed"
	AttemptClosed       Type = "attempt.closed"
)

// Event is published for instructor review and downstream processing.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	AttemptID string         `json:"attemptId"`
	QuizID    string         `json:"quizId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent fills id and timestamp.
func NewEvent(typ Type, attemptID, quizID string, now time.Time, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		AttemptID: attemptID,
		QuizID:    quizID,
		Timestamp: now,
		Data:      data,
	}
}

// Publisher publishes attempt events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// MessagePublisher adapts any watermill publisher.
type MessagePublisher struct {
	publisher message.Publisher
	topic     string
	logger    *slog.Logger
}

func NewMessagePublisher(publisher message.Publisher, topic string, logger *slog.Logger) *MessagePublisher {
	return &MessagePublisher{publisher: publisher, topic: topic, logger: logger}
}

// NewKafkaPublisher publishes to Kafka brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*MessagePublisher, error) {
	publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: kafka.DefaultMarshaler{},
	}, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	return NewMessagePublisher(publisher, topic, logger), nil
}

// NewGoChannelPubSub returns an in-process pub/sub; the subscriber side is
// useful for tests and local review tooling.
func NewGoChannelPubSub(logger *slog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NewSlogLogger(logger))
}

func (p *MessagePublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", string(event.Type))
	msg.Metadata.Set("attempt_id", event.AttemptID)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		p.logger.Error("publish attempt event", "event_type", event.Type, "attempt_id", event.AttemptID, "error", err)
		return fmt.Errorf("publish event: %w", err)
	}
	p.logger.Debug("published attempt event", "event_type", event.Type, "attempt_id", event.AttemptID, "topic", p.topic)
	return nil
}

func (p *MessagePublisher) Close() error {
	return p.publisher.Close()
}

// Decode parses a published message back into an Event.
func Decode(msg *message.Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType filters recorded events.
func (r *Recorder) OfType(typ Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
