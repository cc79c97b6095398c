// Package notify emits relay lifecycle events for downstream consumers and operator alerting.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/queue"
)

const (
	TopicFinalized = "withdrawals.finalized.v1"
	TopicStuck     = "withdrawals.stuck.v1"
)

var ErrInvalidConfig = errors.New("notify: invalid config")

type FinalizedEvent struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	L1TxHash string    `json:"l1_tx_hash,omitempty"`
	Via      string    `json:"via"`
	At       time.Time `json:"at"`
}

type StuckEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Attempts  int       `json:"attempts"`
	FirstSeen time.Time `json:"first_seen"`
	LastError string    `json:"last_error,omitempty"`
	At        time.Time `json:"at"`
}

type Notifier interface {
	Finalized(ctx context.Context, ev FinalizedEvent) error
	Stuck(ctx context.Context, ev StuckEvent) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Finalized(context.Context, FinalizedEvent) error { return nil }
func (Nop) Stuck(context.Context, StuckEvent) error         { return nil }

// QueueNotifier publishes events as JSON keyed by withdrawal id.
type QueueNotifier struct {
	producer    queue.Producer
	topicPrefix string
}

// NewQueueNotifier publishes to TopicFinalized and TopicStuck, prefixed with topicPrefix when set.
func NewQueueNotifier(p queue.Producer, topicPrefix string) (*QueueNotifier, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil producer", ErrInvalidConfig)
	}
	return &QueueNotifier{producer: p, topicPrefix: strings.Trim(strings.TrimSpace(topicPrefix), ".")}, nil
}

func (n *QueueNotifier) topic(base string) string {
	if n.topicPrefix == "" {
		return base
	}
	return n.topicPrefix + "." + base
}

func (n *QueueNotifier) Finalized(ctx context.Context, ev FinalizedEvent) error {
	return n.publish(ctx, n.topic(TopicFinalized), ev.ID, ev)
}

func (n *QueueNotifier) Stuck(ctx context.Context, ev StuckEvent) error {
	return n.publish(ctx, n.topic(TopicStuck), ev.ID, ev)
}

func (n *QueueNotifier) publish(ctx context.Context, topic, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", topic, err)
	}
	if err := n.producer.Publish(ctx, topic, []byte(key), b); err != nil {
		return fmt.Errorf("notify: publish %s: %w", topic, err)
	}
	return nil
}
