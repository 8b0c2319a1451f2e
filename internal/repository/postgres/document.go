package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/repository"
	apperrors "github.com/jwalitptl/healthbridge/pkg/errors"
)

const documentColumns = `
	id, original_filename, document_type, file_type, file_size, page_count,
	processing_status, processing_error, raw_extracted_text, structured_data,
	hospital_clinic_name, source_location, uploaded_by, processed_at,
	patients_count, created_at, updated_at`

type documentRepository struct {
	BaseRepository
}

func NewDocumentRepository(base BaseRepository) repository.DocumentRepository {
	return &documentRepository{base}
}

func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.ProcessingStatus == "" {
		doc.ProcessingStatus = model.StatusPending
	}
	if doc.StructuredData == nil {
		doc.StructuredData = model.JSONMap{}
	}

	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES (
			:id, :original_filename, :document_type, :file_type, :file_size, :page_count,
			:processing_status, :processing_error, :raw_extracted_text, :structured_data,
			:hospital_clinic_name, :source_location, :uploaded_by, :processed_at,
			:patients_count, :created_at, :updated_at
		)`
	_, err := r.db.NamedExecContext(ctx, query, doc)
	r.observe("document_create", err)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (r *documentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	var doc model.Document
	err := r.db.GetContext(ctx, &doc, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	r.observe("document_get", err)
	if err != nil {
		return nil, notFound("document", err)
	}
	return &doc, nil
}

func (r *documentRepository) List(ctx context.Context, filters *model.DocumentFilters) ([]*model.Document, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filters.Status != "" {
		add("processing_status = $%d", filters.Status)
	}
	if filters.DocumentType != "" {
		add("document_type = $%d", filters.DocumentType)
	}
	if filters.Search != "" {
		add("original_filename ILIKE $%d", "%"+filters.Search+"%")
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM documents`+clause, args...); err != nil {
		r.observe("document_list", err)
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	query := `SELECT ` + documentColumns + ` FROM documents` + clause + ` ORDER BY created_at DESC`
	if filters.PageSize > 0 {
		args = append(args, filters.PageSize, filters.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	docs := []*model.Document{}
	err := r.db.SelectContext(ctx, &docs, query, args...)
	r.observe("document_list", err)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, total, nil
}

func (r *documentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	r.observe("document_delete", err)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFound("document", nil)
	}
	return nil
}

func (r *documentRepository) Transition(ctx context.Context, id uuid.UUID, from []model.ProcessingStatus, to model.ProcessingStatus) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	query := `
		UPDATE documents
		SET processing_status = $1,
			processing_error = CASE WHEN $1 = 'processing' THEN NULL ELSE processing_error END,
			updated_at = NOW()
		WHERE id = $2 AND processing_status = ANY($3)`
	result, err := r.db.ExecContext(ctx, query, to, id, pq.Array(allowed))
	r.observe("document_transition", err)
	if err != nil {
		return false, fmt.Errorf("failed to update document status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update document status: %w", err)
	}
	return n == 1, nil
}

func (r *documentRepository) Complete(ctx context.Context, doc *model.Document) error {
	now := time.Now()
	doc.ProcessingStatus = model.StatusCompleted
	doc.ProcessingError = nil
	doc.ProcessedAt = &now
	doc.UpdatedAt = now

	query := `
		UPDATE documents
		SET processing_status = :processing_status,
			processing_error = NULL,
			raw_extracted_text = :raw_extracted_text,
			structured_data = :structured_data,
			patients_count = :patients_count,
			processed_at = :processed_at,
			updated_at = :updated_at
		WHERE id = :id AND processing_status = 'processing'`
	result, err := r.db.NamedExecContext(ctx, query, doc)
	r.observe("document_complete", err)
	if err != nil {
		return fmt.Errorf("failed to complete document: %w", err)
	}
	return finished(result)
}

func (r *documentRepository) Fail(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE documents
		SET processing_status = $1, processing_error = $2, processed_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND processing_status = $4`
	result, err := r.db.ExecContext(ctx, query, model.StatusFailed, message, id, model.StatusProcessing)
	r.observe("document_fail", err)
	if err != nil {
		return fmt.Errorf("failed to mark document failed: %w", err)
	}
	return finished(result)
}

// finished maps a guarded terminal update that touched no row to
// repository.ErrNotProcessing.
func finished(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if n == 0 {
		return repository.ErrNotProcessing
	}
	return nil
}

func (r *documentRepository) ListIDsByStatus(ctx context.Context, status model.ProcessingStatus) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids,
		`SELECT id FROM documents WHERE processing_status = $1 ORDER BY created_at ASC`, status)
	r.observe("document_list_ids", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list document ids: %w", err)
	}
	return ids, nil
}

func (r *documentRepository) Recent(ctx context.Context, limit int) ([]*model.Document, error) {
	docs := []*model.Document{}
	err := r.db.SelectContext(ctx, &docs,
		`SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC LIMIT $1`, limit)
	r.observe("document_recent", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent documents: %w", err)
	}
	return docs, nil
}
