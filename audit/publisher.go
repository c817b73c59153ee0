// Package audit publishes mentor actions and course group events to Kafka.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafka "github.com/segmentio/kafka-go"

	"github.com/fortressi/resourcesaga"
)

// Default topic names.
const (
	DefaultMentorActionTopic = "mentor-action-log"
	DefaultCourseGroupTopic  = "course-group-opened"
)

// Topics names the topics the publisher writes to.
type Topics struct {
	MentorAction string `yaml:"mentor_action"`
	CourseGroup  string `yaml:"course_group"`
}

// Writer is the subset of *kafka.Writer used by the publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes audit events synchronously. A call returns only after
// every in-sync replica acknowledged the message, so a nil error means the
// audit entry is durable.
type Publisher struct {
	writer Writer
	topics Topics
	logger zerolog.Logger
}

// NewKafkaPublisher creates a publisher writing to brokers.
func NewKafkaPublisher(brokers []string, topics Topics, logger zerolog.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
	return NewPublisher(w, topics, logger)
}

// NewPublisher wraps an existing writer. Empty topic names fall back to the
// defaults.
func NewPublisher(w Writer, topics Topics, logger zerolog.Logger) *Publisher {
	if topics.MentorAction == "" {
		topics.MentorAction = DefaultMentorActionTopic
	}
	if topics.CourseGroup == "" {
		topics.CourseGroup = DefaultCourseGroupTopic
	}
	return &Publisher{writer: w, topics: topics, logger: logger}
}

// LogMentorAction appends one mentor action to the action log.
func (p *Publisher) LogMentorAction(ctx context.Context, resourceID string, mentorID uuid.UUID, actionType resourcesaga.ActionType) error {
	ev := resourcesaga.NewAuditEvent(mentorID, resourceID, actionType)
	if err := p.publish(ctx, p.topics.MentorAction, resourceID, ev); err != nil {
		return fmt.Errorf("failed to log mentor action %s for %s: %w", actionType, resourceID, err)
	}
	p.logger.Debug().
		Str("message_id", ev.MessageID.String()).
		Str("resource_id", resourceID).
		Str("action", string(actionType)).
		Msg("mentor action logged")
	return nil
}

// PublishCourseGroupOpened announces a course group.
func (p *Publisher) PublishCourseGroupOpened(ctx context.Context, ev resourcesaga.CourseGroupOpened) error {
	if ev.MessageID == uuid.Nil {
		ev.MessageID = uuid.New()
	}
	if err := p.publish(ctx, p.topics.CourseGroup, ev.CourseID, ev); err != nil {
		return fmt.Errorf("failed to publish course group event for %s: %w", ev.CourseID, err)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, topic, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	})
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
