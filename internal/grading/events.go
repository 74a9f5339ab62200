package grading

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// MonitorEventType names a live monitor event.
type MonitorEventType string

const (
	EventOpened    MonitorEventType = "opened"
	EventViolation MonitorEventType = "violation"
	EventSubmitted MonitorEventType = "submitted"
	EventAbandoned MonitorEventType = "abandoned"
)

// MonitorEvent is published on the test's monitor channel and relayed
// verbatim to proctors.
type MonitorEvent struct {
	Type           MonitorEventType `json:"type"`
	SessionID      uuid.UUID        `json:"session_id"`
	LearnerID      int              `json:"learner_id"`
	Reason         string           `json:"reason,omitempty"`
	Kind           string           `json:"kind,omitempty"`
	ViolationCount int              `json:"violation_count"`
	Answered       int              `json:"answered"`
	Timestamp      int64            `json:"timestamp"`
}

// Publisher sends monitor events over Redis Pub/Sub.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a new Publisher.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish stamps ev and publishes it on the monitor channel of testID.
func (p *Publisher) Publish(ctx context.Context, testID uuid.UUID, ev MonitorEvent) error {
	return p.publish(ctx, p.rdb, testID, ev)
}

func (p *Publisher) publish(ctx context.Context, cmd redis.Cmdable, testID uuid.UUID, ev MonitorEvent) error {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return cmd.Publish(ctx, config.CacheKey.TestMonitorChannel(testID.String()), data).Err()
}
