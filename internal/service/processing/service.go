package processing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/healthbridge/internal/ingestion"
	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/repository"
	"github.com/jwalitptl/healthbridge/internal/service/event"
	apperrors "github.com/jwalitptl/healthbridge/pkg/errors"
	"github.com/jwalitptl/healthbridge/pkg/metrics"
)

// SupportedFormats is reported by the status endpoint.
var SupportedFormats = []string{"pdf", "png", "jpg", "jpeg", "csv", "json", "txt"}

// Runner is the extraction pipeline.
type Runner interface {
	Run(ctx context.Context, req ingestion.Request) (*ingestion.Outcome, error)
	Services() map[string]bool
}

type ProcessingService interface {
	Extract(ctx context.Context, req ingestion.Request) (*ingestion.Outcome, error)
	UpsertPatients(ctx context.Context, drafts []ingestion.PatientDraft, sourceDocumentID *uuid.UUID) ([]*model.Patient, []error)
	ProcessDocument(ctx context.Context, req ingestion.Request) (*DocumentResult, error)
	ProcessText(ctx context.Context, req TextRequest) (*DocumentResult, error)
	ProcessBatch(ctx context.Context, req ingestion.Request) (*BatchResult, error)
	Status() *StatusResult
}

type TextRequest struct {
	Text         string `json:"text" binding:"required"`
	HospitalName string `json:"hospital_name"`
	Location     string `json:"location"`
}

// DocumentResult is returned by the single-shot document and text endpoints.
type DocumentResult struct {
	Success          bool                   `json:"success"`
	DocumentType     ingestion.DocumentType `json:"document_type"`
	ProcessingMethod string                 `json:"processing_method"`
	ServicesTried    []string               `json:"services_tried"`
	ServiceUsed      string                 `json:"service_used,omitempty"`
	PatientsCreated  int                    `json:"patients_created"`
	Patients         []model.PatientSummary `json:"patients"`
	DiseasesFound    []string               `json:"diseases_found"`
	ExtractedData    map[string]interface{} `json:"extracted_data,omitempty"`
	Errors           []ingestion.RowError   `json:"errors,omitempty"`
	Error            string                 `json:"error,omitempty"`
}

type BatchResult struct {
	Success        bool                   `json:"success"`
	TotalRecords   int                    `json:"total_records"`
	ProcessedCount int                    `json:"processed_count"`
	FailedCount    int                    `json:"failed_count"`
	Patients       []model.PatientSummary `json:"patients"`
	Errors         []ingestion.RowError   `json:"errors"`
}

type StatusResult struct {
	Services         map[string]bool `json:"services"`
	SupportedFormats []string        `json:"supported_formats"`
}

type Service struct {
	pipeline Runner
	patients repository.PatientRepository
	events   event.EventService
	metrics  *metrics.Metrics
}

func NewService(pipeline Runner, patients repository.PatientRepository, events event.EventService, m *metrics.Metrics) *Service {
	return &Service{
		pipeline: pipeline,
		patients: patients,
		events:   events,
		metrics:  m,
	}
}

func (s *Service) Extract(ctx context.Context, req ingestion.Request) (*ingestion.Outcome, error) {
	return s.pipeline.Run(ctx, req)
}

func (s *Service) Status() *StatusResult {
	return &StatusResult{
		Services:         s.pipeline.Services(),
		SupportedFormats: SupportedFormats,
	}
}

// UpsertPatients stores every draft. A failed draft does not stop the rest;
// its error is returned at the same index, nil for drafts that succeeded.
func (s *Service) UpsertPatients(ctx context.Context, drafts []ingestion.PatientDraft, sourceDocumentID *uuid.UUID) ([]*model.Patient, []error) {
	patients := make([]*model.Patient, 0, len(drafts))
	errs := make([]error, len(drafts))
	for i := range drafts {
		p, err := s.upsertPatient(ctx, &drafts[i], sourceDocumentID)
		if err != nil {
			errs[i] = err
			continue
		}
		patients = append(patients, p)
	}
	return patients, errs
}

// upsertPatient matches on name and phone, or on name alone when the draft
// has no phone, then links every disease. The match, write and links commit
// together under a lock on the name.
func (s *Service) upsertPatient(ctx context.Context, draft *ingestion.PatientDraft, sourceDocumentID *uuid.UUID) (*model.Patient, error) {
	incoming := draft.ToPatient()
	incoming.SourceDocumentID = sourceDocumentID

	var patient *model.Patient
	err := s.patients.WithMatchLock(ctx, incoming.Name, func(tx repository.PatientTx) error {
		existing, err := tx.FindMatch(ctx, incoming.Name, incoming.PhoneNumber)
		if err != nil {
			return err
		}

		p := incoming
		if existing != nil {
			mergePatient(existing, incoming)
			if err := tx.Update(ctx, existing); err != nil {
				return err
			}
			p = existing
		} else {
			p.Diseases = nil
			if err := tx.Create(ctx, p); err != nil {
				return err
			}
		}

		for _, d := range draft.Diseases {
			disease, err := tx.GetOrCreateDisease(ctx, d.Name, d.ICDCode)
			if err != nil {
				return err
			}
			err = tx.LinkDisease(ctx, &model.PatientDisease{
				PatientID:        p.ID,
				DiseaseID:        disease.ID,
				Severity:         d.Severity,
				SourceDocumentID: sourceDocumentID,
			})
			if err != nil {
				return err
			}
			p.Diseases = appendUnique(p.Diseases, disease.Name)
		}
		patient = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PatientsUpserted.Inc()
	}
	return patient, nil
}

// mergePatient copies non-empty values from src onto dst.
func mergePatient(dst, src *model.Patient) {
	set := func(d *string, v string) {
		if v != "" {
			*d = v
		}
	}
	if src.Age != nil {
		dst.Age = src.Age
	}
	if src.Gender != "" && src.Gender != model.GenderUnknown {
		dst.Gender = src.Gender
	}
	set(&dst.PhoneNumber, src.PhoneNumber)
	set(&dst.Email, src.Email)
	set(&dst.Address, src.Address)
	set(&dst.City, src.City)
	set(&dst.District, src.District)
	set(&dst.State, src.State)
	set(&dst.Pincode, src.Pincode)
	set(&dst.Location, src.Location)
	set(&dst.HospitalClinic, src.HospitalClinic)
	set(&dst.DoctorName, src.DoctorName)
	if src.SourceDocumentID != nil {
		dst.SourceDocumentID = src.SourceDocumentID
	}
}

func appendUnique(list []string, name string) []string {
	for _, v := range list {
		if strings.EqualFold(v, name) {
			return list
		}
	}
	return append(list, name)
}

func summaries(patients []*model.Patient) []model.PatientSummary {
	out := make([]model.PatientSummary, 0, len(patients))
	for _, p := range patients {
		out = append(out, p.Summary())
	}
	return out
}

func patientIDs(patients []*model.Patient) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(patients))
	for _, p := range patients {
		ids = append(ids, p.ID)
	}
	return ids
}

// ProcessDocument runs one file or text straight through extraction and
// upsert without creating a document row.
func (s *Service) ProcessDocument(ctx context.Context, req ingestion.Request) (*DocumentResult, error) {
	outcome, err := s.pipeline.Run(ctx, req)
	result := &DocumentResult{
		Patients:      []model.PatientSummary{},
		DiseasesFound: []string{},
	}
	if outcome != nil {
		result.DocumentType = outcome.Classification.Type
		result.ProcessingMethod = outcome.ProcessingMethod()
		result.ServicesTried = outcome.ServicesTried
		result.ServiceUsed = outcome.ServiceUsed
	}
	if err != nil {
		result.Error = err.Error()
		if s.metrics != nil {
			s.metrics.DocumentsProcessed.WithLabelValues(string(model.StatusFailed)).Inc()
		}
		log.Warn().Err(err).Str("filename", req.Filename).Msg("Direct processing failed")
		if _, ok := apperrors.As(err); ok {
			return result, err
		}
		return result, apperrors.Unprocessable(err.Error(), err)
	}

	patients, errs := s.UpsertPatients(ctx, outcome.Drafts, nil)
	if err := joinErrors(errs); err != nil && len(patients) == 0 {
		result.Error = err.Error()
		return result, apperrors.Internal(err)
	}
	if outcome.Batch != nil {
		result.Errors = outcome.Batch.Errors()
	}

	result.Success = true
	result.PatientsCreated = len(patients)
	result.Patients = summaries(patients)
	result.DiseasesFound = outcome.DiseasesFound()
	if outcome.Result != nil {
		result.ExtractedData = outcome.Result.Data
	}
	if s.metrics != nil {
		s.metrics.DocumentsProcessed.WithLabelValues(string(model.StatusCompleted)).Inc()
	}
	if len(patients) > 0 {
		s.events.DataChanged(ctx, "direct_processing", nil, patientIDs(patients))
	}
	return result, nil
}

func (s *Service) ProcessText(ctx context.Context, req TextRequest) (*DocumentResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperrors.BadRequest("text is required", nil)
	}
	return s.ProcessDocument(ctx, ingestion.Request{
		Text:     req.Text,
		Hint:     string(ingestion.TypeClinicalText),
		Hospital: req.HospitalName,
		Location: req.Location,
	})
}

// ProcessBatch parses a CSV/JSON file and upserts each valid row. Bad rows
// and rows that fail to store are reported, never fatal.
func (s *Service) ProcessBatch(ctx context.Context, req ingestion.Request) (*BatchResult, error) {
	req.Hint = string(ingestion.TypeStructuredData)
	outcome, err := s.pipeline.Run(ctx, req)
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return nil, err
		}
		return nil, apperrors.Unprocessable(err.Error(), err)
	}
	if outcome.Batch == nil {
		return nil, apperrors.UnsupportedMedia("batch processing accepts CSV or JSON files only")
	}

	rows := outcome.Batch.Valid()
	drafts := make([]ingestion.PatientDraft, len(rows))
	for i, r := range rows {
		drafts[i] = r.Draft
	}
	patients, errs := s.UpsertPatients(ctx, drafts, nil)

	rowErrors := outcome.Batch.Errors()
	for i, err := range errs {
		if err != nil {
			rowErrors = append(rowErrors, ingestion.RowError{Row: rows[i].Row, Error: err.Error()})
		}
	}
	if rowErrors == nil {
		rowErrors = []ingestion.RowError{}
	}

	result := &BatchResult{
		Success:        true,
		TotalRecords:   outcome.Batch.Total(),
		ProcessedCount: len(patients),
		FailedCount:    len(rowErrors),
		Patients:       summaries(patients),
		Errors:         rowErrors,
	}
	if len(patients) > 0 {
		s.events.DataChanged(ctx, "batch_processing", nil, patientIDs(patients))
	}
	return result, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}

// Describe formats a pipeline failure for storage on a document.
func Describe(err error) string {
	var extractionErr *ingestion.ExtractionError
	if errors.As(err, &extractionErr) {
		return extractionErr.Error()
	}
	return fmt.Sprintf("processing failed: %v", err)
}
