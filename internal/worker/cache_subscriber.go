package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/service/event"
	"github.com/jwalitptl/healthbridge/pkg/logger"
	"github.com/jwalitptl/healthbridge/pkg/messaging"
)

// CacheInvalidationSubscriber flushes local caches whenever any instance
// publishes DATA_CHANGED.
type CacheInvalidationSubscriber struct {
	broker       messaging.Broker
	invalidators []event.Invalidator
	logger       *logger.Logger
}

func NewCacheInvalidationSubscriber(broker messaging.Broker, logger *logger.Logger, invalidators ...event.Invalidator) *CacheInvalidationSubscriber {
	return &CacheInvalidationSubscriber{
		broker:       broker,
		invalidators: invalidators,
		logger:       logger,
	}
}

// Run blocks until ctx is cancelled or the subscription closes.
func (s *CacheInvalidationSubscriber) Run(ctx context.Context) error {
	messages, err := s.broker.Subscribe(ctx, messaging.ChannelDataChanged)
	if err != nil {
		return fmt.Errorf("failed to subscribe for data changes: %w", err)
	}

	for raw := range messages {
		s.handle(raw)
	}
	return ctx.Err()
}

func (s *CacheInvalidationSubscriber) handle(raw []byte) {
	var msg messaging.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Error(err, "Dropping malformed broker message")
		return
	}

	var payload model.DataChangedPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			s.logger.Warn("Unreadable data changed payload", "error", err.Error())
		}
	}

	for _, inv := range s.invalidators {
		inv.Invalidate()
	}
	s.logger.Debug("Caches invalidated", "event_type", msg.Type, "reason", payload.Reason)
}
