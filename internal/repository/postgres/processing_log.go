package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/repository"
)

type processingLogRepository struct {
	BaseRepository
}

func NewProcessingLogRepository(base BaseRepository) repository.ProcessingLogRepository {
	return &processingLogRepository{base}
}

func (r *processingLogRepository) Create(ctx context.Context, log *model.ProcessingLog) error {
	log.ID = uuid.New()
	log.CreatedAt = time.Now()
	if log.ResponseData == nil {
		log.ResponseData = model.JSONMap{}
	}

	query := `
		INSERT INTO processing_logs (
			id, document_id, step, status, message, api_used, response_data, created_at
		) VALUES (
			:id, :document_id, :step, :status, :message, :api_used, :response_data, :created_at
		)`
	_, err := r.db.NamedExecContext(ctx, query, log)
	r.observe("processing_log_create", err)
	if err != nil {
		return fmt.Errorf("failed to create processing log: %w", err)
	}
	return nil
}

func (r *processingLogRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.ProcessingLog, error) {
	query := `
		SELECT id, document_id, step, status, message, api_used, response_data, created_at
		FROM processing_logs
		WHERE document_id = $1
		ORDER BY created_at ASC`

	logs := []*model.ProcessingLog{}
	err := r.db.SelectContext(ctx, &logs, query, documentID)
	r.observe("processing_log_list", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing logs: %w", err)
	}
	return logs, nil
}
