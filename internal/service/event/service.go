package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/repository"
)

// Invalidator drops cached views derived from stored data.
type Invalidator interface {
	Invalidate()
}

type EventService interface {
	Emit(ctx context.Context, eventType string, payload interface{}) error
	DataChanged(ctx context.Context, reason string, documentID *uuid.UUID, patientIDs []uuid.UUID)
}

// Service writes events to the outbox. The outbox processor relays them to
// the broker, so other instances learn about changes without a shared cache.
type Service struct {
	outboxRepo   repository.OutboxRepository
	invalidators []Invalidator
}

func NewEventService(outboxRepo repository.OutboxRepository, invalidators ...Invalidator) *Service {
	return &Service{
		outboxRepo:   outboxRepo,
		invalidators: invalidators,
	}
}

func (s *Service) Emit(ctx context.Context, eventType string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &model.OutboxEvent{
		EventType: eventType,
		Payload:   payloadJSON,
	}
	if err := s.outboxRepo.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

// DataChanged flushes local caches right away and queues DATA_CHANGED for
// the other instances. A failed outbox write is logged, not returned: the
// stored data is already committed and the local view is fresh.
func (s *Service) DataChanged(ctx context.Context, reason string, documentID *uuid.UUID, patientIDs []uuid.UUID) {
	for _, inv := range s.invalidators {
		inv.Invalidate()
	}

	err := s.Emit(ctx, model.EventDataChanged, model.DataChangedPayload{
		Reason:     reason,
		DocumentID: documentID,
		PatientIDs: patientIDs,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("Failed to queue data changed event")
	}
}
