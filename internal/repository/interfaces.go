package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/healthbridge/internal/model"
	apperrors "github.com/jwalitptl/healthbridge/pkg/errors"
)

var ErrNotProcessing = apperrors.Conflict("document is not being processed", nil)

// All repository interfaces in one file
type (
	DocumentRepository interface {
		Create(ctx context.Context, doc *model.Document) error
		Get(ctx context.Context, id uuid.UUID) (*model.Document, error)
		List(ctx context.Context, filters *model.DocumentFilters) ([]*model.Document, int, error)
		Delete(ctx context.Context, id uuid.UUID) error
		// Transition moves the document to `to` only if its current status is
		// one of `from`. It reports whether the row was moved.
		Transition(ctx context.Context, id uuid.UUID, from []model.ProcessingStatus, to model.ProcessingStatus) (bool, error)
		// Complete and Fail only finish a processing document; any other
		// status yields ErrNotProcessing.
		Complete(ctx context.Context, doc *model.Document) error
		Fail(ctx context.Context, id uuid.UUID, message string) error
		ListIDsByStatus(ctx context.Context, status model.ProcessingStatus) ([]uuid.UUID, error)
		Recent(ctx context.Context, limit int) ([]*model.Document, error)
	}

	ProcessingLogRepository interface {
		Create(ctx context.Context, log *model.ProcessingLog) error
		ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.ProcessingLog, error)
	}

	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		Update(ctx context.Context, patient *model.Patient) error
		Delete(ctx context.Context, id uuid.UUID) error
		// List returns one page and the total match count. PageSize 0 returns every match.
		List(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, int, error)
		// FindMatch returns nil, nil when no stored patient matches.
		FindMatch(ctx context.Context, name, phone string) (*model.Patient, error)
		LinkDisease(ctx context.Context, link *model.PatientDisease) error
		ListByDisease(ctx context.Context, diseaseID uuid.UUID, limit int) ([]*model.Patient, error)
		// WithMatchLock runs fn in one transaction holding a lock on the
		// case-folded name, so concurrent upserts of one patient serialize.
		// Nothing fn wrote survives an error.
		WithMatchLock(ctx context.Context, name string, fn func(tx PatientTx) error) error
	}

	// PatientTx is the patient upsert surface bound to one transaction.
	PatientTx interface {
		FindMatch(ctx context.Context, name, phone string) (*model.Patient, error)
		Create(ctx context.Context, patient *model.Patient) error
		Update(ctx context.Context, patient *model.Patient) error
		LinkDisease(ctx context.Context, link *model.PatientDisease) error
		GetOrCreateDisease(ctx context.Context, name, icdCode string) (*model.Disease, error)
	}

	DiseaseRepository interface {
		// GetOrCreate matches case-insensitively and fills a missing ICD code.
		GetOrCreate(ctx context.Context, name, icdCode string) (*model.Disease, error)
		Get(ctx context.Context, id uuid.UUID) (*model.Disease, error)
		List(ctx context.Context) ([]*model.Disease, error)
	}

	AnalyticsRepository interface {
		DocumentStats(ctx context.Context) (*model.DocumentStats, error)
		PatientStats(ctx context.Context) (*model.PatientStats, error)
		DiseaseStats(ctx context.Context) (*model.DiseaseStats, error)
		TopDiseases(ctx context.Context, limit int) ([]model.DiseaseCount, error)
		// PatientFacts returns demographics for all patients, or for those
		// linked to diseaseID when set.
		PatientFacts(ctx context.Context, diseaseID *uuid.UUID) ([]model.PatientFact, error)
		// DiagnosisFacts returns patient-disease links created at or after since.
		DiagnosisFacts(ctx context.Context, since *time.Time) ([]model.DiagnosisFact, error)
		FilterOptions(ctx context.Context) (*model.FilterOptions, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, tx *sql.Tx, limit int) ([]*model.OutboxEvent, error)
		BeginTx(ctx context.Context) (*sql.Tx, error)
		UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		MoveToDeadLetter(ctx context.Context, tx *sql.Tx, event *model.OutboxEvent) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	RawDocumentStore interface {
		SaveUpload(ctx context.Context, upload *model.RawUpload) error
		GetUpload(ctx context.Context, documentID uuid.UUID) (*model.RawUpload, error)
		DeleteUpload(ctx context.Context, documentID uuid.UUID) error
		SaveExtraction(ctx context.Context, record *model.ExtractionRecord) error
	}
)
