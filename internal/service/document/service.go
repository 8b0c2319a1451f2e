package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/healthbridge/internal/ingestion"
	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/repository"
	"github.com/jwalitptl/healthbridge/internal/service/event"
	"github.com/jwalitptl/healthbridge/internal/service/processing"
	apperrors "github.com/jwalitptl/healthbridge/pkg/errors"
	"github.com/jwalitptl/healthbridge/pkg/metrics"
)

type DocumentService interface {
	Upload(ctx context.Context, req *UploadRequest) (*model.Document, error)
	BulkUpload(ctx context.Context, reqs []*UploadRequest) *BulkUploadResult
	Get(ctx context.Context, id uuid.UUID) (*model.Document, error)
	List(ctx context.Context, filters *model.DocumentFilters) ([]*model.Document, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Process(ctx context.Context, id uuid.UUID) (*model.Document, error)
	ProcessAllPending(ctx context.Context) (*model.ProcessAllResult, error)
	Logs(ctx context.Context, id uuid.UUID) ([]*model.ProcessingLog, error)
}

type UploadRequest struct {
	File         ingestion.Upload
	DocumentType model.DeclaredType
	Hospital     string
	Location     string
	UploadedBy   string

	// ColumnMapping overrides synonym lookup for CSV/JSON columns.
	ColumnMapping map[string]string
}

type UploadError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

type BulkUploadResult struct {
	Uploaded []*model.Document `json:"uploaded"`
	Errors   []UploadError     `json:"errors"`
}

type Config struct {
	MaxUploadSize int64
	Concurrency   int
}

type Service struct {
	docs      repository.DocumentRepository
	logs      repository.ProcessingLogRepository
	raw       repository.RawDocumentStore
	processor processing.ProcessingService
	events    event.EventService
	metrics   *metrics.Metrics
	cfg       Config
}

func NewService(
	docs repository.DocumentRepository,
	logs repository.ProcessingLogRepository,
	raw repository.RawDocumentStore,
	processor processing.ProcessingService,
	events event.EventService,
	m *metrics.Metrics,
	cfg Config,
) *Service {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = ingestion.DefaultMaxUploadSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Service{
		docs:      docs,
		logs:      logs,
		raw:       raw,
		processor: processor,
		events:    events,
		metrics:   m,
		cfg:       cfg,
	}
}

// Upload validates the file, keeps its bytes in the raw store and creates a
// pending document.
func (s *Service) Upload(ctx context.Context, req *UploadRequest) (*model.Document, error) {
	info, err := ingestion.ValidateUpload(req.File, s.cfg.MaxUploadSize)
	if err != nil {
		return nil, err
	}

	docType := req.DocumentType
	if docType == "" {
		docType = model.DeclaredOther
	}
	if !docType.Valid() {
		return nil, apperrors.BadRequest(fmt.Sprintf("invalid document_type %q", docType), nil)
	}

	doc := &model.Document{
		OriginalFilename:   req.File.Filename,
		DocumentType:       docType,
		FileType:           info.MIMEType,
		FileSize:           int64(len(req.File.Data)),
		PageCount:          info.PageCount,
		ProcessingStatus:   model.StatusPending,
		HospitalClinicName: strings.TrimSpace(req.Hospital),
		SourceLocation:     strings.TrimSpace(req.Location),
		UploadedBy:         req.UploadedBy,
	}
	doc.ID = uuid.New()
	if len(req.ColumnMapping) > 0 {
		doc.StructuredData = model.JSONMap{columnMappingKey: req.ColumnMapping}
	}

	err = s.raw.SaveUpload(ctx, &model.RawUpload{
		DocumentID:  doc.ID,
		Filename:    req.File.Filename,
		ContentType: info.MIMEType,
		Size:        doc.FileSize,
		Data:        req.File.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	if err := s.docs.Create(ctx, doc); err != nil {
		_ = s.raw.DeleteUpload(ctx, doc.ID)
		return nil, err
	}

	log.Info().
		Str("document_id", doc.ID.String()).
		Str("filename", doc.OriginalFilename).
		Str("file_type", doc.FileType).
		Int64("size", doc.FileSize).
		Msg("Document uploaded")
	return doc, nil
}

// BulkUpload stores each file independently; one bad file does not stop the rest.
func (s *Service) BulkUpload(ctx context.Context, reqs []*UploadRequest) *BulkUploadResult {
	result := &BulkUploadResult{Uploaded: []*model.Document{}, Errors: []UploadError{}}
	for _, req := range reqs {
		doc, err := s.Upload(ctx, req)
		if err != nil {
			result.Errors = append(result.Errors, UploadError{Filename: req.File.Filename, Error: err.Error()})
			continue
		}
		result.Uploaded = append(result.Uploaded, doc)
	}
	return result
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	return s.docs.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filters *model.DocumentFilters) ([]*model.Document, int, error) {
	return s.docs.List(ctx, filters)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.docs.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.raw.DeleteUpload(ctx, id); err != nil {
		log.Warn().Err(err).Str("document_id", id.String()).Msg("Failed to delete raw upload")
	}
	s.events.DataChanged(ctx, "document_deleted", &id, nil)
	return nil
}

func (s *Service) Logs(ctx context.Context, id uuid.UUID) ([]*model.ProcessingLog, error) {
	if _, err := s.docs.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.logs.ListByDocument(ctx, id)
}

// Process runs one document through extraction. Pending, completed and
// failed documents may be (re)processed; one already processing may not.
// An extraction failure is stored on the document and is not an error.
func (s *Service) Process(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.ProcessingStatus.CanTransitionTo(model.StatusProcessing) {
		return nil, apperrors.BadRequest("document is already being processed", nil)
	}

	claimed, err := s.docs.Transition(ctx, id, model.SourcesOf(model.StatusProcessing), model.StatusProcessing)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, apperrors.BadRequest("document is already being processed", nil)
	}
	doc.ProcessingStatus = model.StatusProcessing

	s.run(ctx, doc)
	return s.docs.Get(ctx, id)
}

// ProcessAllPending processes every pending document with bounded
// concurrency. Only documents still pending when claimed are counted.
func (s *Service) ProcessAllPending(ctx context.Context) (*model.ProcessAllResult, error) {
	ids, err := s.docs.ListIDsByStatus(ctx, model.StatusPending)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		result = &model.ProcessAllResult{Errors: []model.DocumentError{}}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			claimed, err := s.docs.Transition(gctx, id,
				[]model.ProcessingStatus{model.StatusPending}, model.StatusProcessing)
			if err != nil {
				return err
			}
			if !claimed {
				return nil
			}
			doc, err := s.docs.Get(gctx, id)
			if err != nil {
				return err
			}

			runErr := s.run(gctx, doc)

			mu.Lock()
			defer mu.Unlock()
			if runErr != nil {
				result.Failed++
				result.Errors = append(result.Errors, model.DocumentError{DocumentID: id, Error: runErr.Error()})
			} else {
				result.Processed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("failed to process pending documents: %w", err)
	}

	log.Info().
		Int("processed", result.Processed).
		Int("failed", result.Failed).
		Msg("Processed pending documents")
	return result, nil
}

// run does one processing attempt on a claimed document and records the
// outcome on it. The returned error is the processing failure, already stored.
func (s *Service) run(ctx context.Context, doc *model.Document) error {
	upload, err := s.raw.GetUpload(ctx, doc.ID)
	if err != nil {
		return s.fail(ctx, doc, model.StepClassify, "", fmt.Errorf("original upload unavailable: %w", err))
	}

	req := ingestion.Request{
		Filename:    upload.Filename,
		ContentType: upload.ContentType,
		Data:        upload.Data,
		Hint:        ingestion.HintFromDeclared(doc.DocumentType),
		Hospital:    doc.HospitalClinicName,
		Location:    doc.SourceLocation,
	}
	req.ColumnMapping = columnMapping(doc.StructuredData)

	outcome, err := s.processor.Extract(ctx, req)
	if outcome != nil {
		s.writeLog(ctx, doc.ID, model.StepClassify, "success",
			fmt.Sprintf("classified as %s (%s)", outcome.Classification.Type, outcome.Classification.Category), "",
			model.JSONMap{"classification": outcome.Classification})
	}
	if err != nil {
		used := ""
		if outcome != nil {
			used = strings.Join(outcome.ServicesTried, ",")
		}
		return s.fail(ctx, doc, model.StepExtract, used, err)
	}

	s.saveExtraction(ctx, doc.ID, outcome)
	s.writeLog(ctx, doc.ID, model.StepExtract, "success",
		fmt.Sprintf("extracted with %s", outcome.ServiceUsed), outcome.ServiceUsed, responseData(outcome))

	patients, errs := s.processor.UpsertPatients(ctx, outcome.Drafts, &doc.ID)
	var upsertErrors []string
	for _, e := range errs {
		if e != nil {
			upsertErrors = append(upsertErrors, e.Error())
		}
	}
	if len(patients) == 0 && len(upsertErrors) > 0 {
		return s.fail(ctx, doc, model.StepNormalize, outcome.ServiceUsed, fmt.Errorf("%s", strings.Join(upsertErrors, "; ")))
	}
	s.writeLog(ctx, doc.ID, model.StepNormalize, "success",
		fmt.Sprintf("stored %d patient(s)", len(patients)), outcome.ServiceUsed, nil)

	doc.StructuredData = structuredData(outcome, upsertErrors, req.ColumnMapping)
	doc.PatientsCount = len(patients)
	if outcome.Result != nil {
		doc.RawExtractedText = outcome.Result.Text
	}
	if err := s.docs.Complete(ctx, doc); err != nil {
		return s.fail(ctx, doc, model.StepComplete, outcome.ServiceUsed, err)
	}
	s.writeLog(ctx, doc.ID, model.StepComplete, "success", "processing completed", outcome.ServiceUsed, nil)

	if s.metrics != nil {
		s.metrics.DocumentsProcessed.WithLabelValues(string(model.StatusCompleted)).Inc()
	}
	ids := make([]uuid.UUID, 0, len(patients))
	for _, p := range patients {
		ids = append(ids, p.ID)
	}
	s.events.DataChanged(ctx, "document_processed", &doc.ID, ids)

	log.Info().
		Str("document_id", doc.ID.String()).
		Str("service", outcome.ServiceUsed).
		Int("patients", len(patients)).
		Msg("Document processed")
	return nil
}

func (s *Service) fail(ctx context.Context, doc *model.Document, step, service string, cause error) error {
	msg := processing.Describe(cause)
	// The attempt is over even if the request was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := s.docs.Fail(ctx, doc.ID, msg); err != nil {
		if errors.Is(err, repository.ErrNotProcessing) {
			log.Warn().Str("document_id", doc.ID.String()).Msg("Document left processing before it could be marked failed")
		} else {
			log.Error().Err(err).Str("document_id", doc.ID.String()).Msg("Failed to mark document failed")
		}
	}
	s.writeLog(ctx, doc.ID, step, "error", msg, service, nil)
	if s.metrics != nil {
		s.metrics.DocumentsProcessed.WithLabelValues(string(model.StatusFailed)).Inc()
	}
	log.Warn().Err(cause).Str("document_id", doc.ID.String()).Str("step", step).Msg("Document processing failed")
	return fmt.Errorf("%s", msg)
}

func (s *Service) writeLog(ctx context.Context, documentID uuid.UUID, step, status, message, apiUsed string, data model.JSONMap) {
	err := s.logs.Create(ctx, &model.ProcessingLog{
		DocumentID:   documentID,
		Step:         step,
		Status:       status,
		Message:      message,
		APIUsed:      apiUsed,
		ResponseData: data,
	})
	if err != nil {
		log.Error().Err(err).Str("document_id", documentID.String()).Str("step", step).Msg("Failed to write processing log")
	}
}

func (s *Service) saveExtraction(ctx context.Context, documentID uuid.UUID, outcome *ingestion.Outcome) {
	if outcome.Result == nil || len(outcome.Result.Raw) == 0 {
		return
	}
	err := s.raw.SaveExtraction(ctx, &model.ExtractionRecord{
		DocumentID: documentID,
		Service:    outcome.ServiceUsed,
		Response:   string(outcome.Result.Raw),
		CreatedAt:  time.Now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("document_id", documentID.String()).Msg("Failed to store raw extractor response")
	}
}

// columnMappingKey holds the upload's custom CSV/JSON column mapping in
// structured_data until, and after, the document is processed.
const columnMappingKey = "column_mapping"

func columnMapping(data model.JSONMap) map[string]string {
	raw, ok := data[columnMappingKey].(map[string]interface{})
	if !ok {
		if m, ok := data[columnMappingKey].(map[string]string); ok {
			return m
		}
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func responseData(outcome *ingestion.Outcome) model.JSONMap {
	data := model.JSONMap{"services_tried": outcome.ServicesTried}
	if len(outcome.Errors) > 0 {
		data["errors"] = outcome.Errors
	}
	if outcome.Batch != nil {
		data["total_records"] = outcome.Batch.Total()
		data["row_errors"] = len(outcome.Batch.Errors())
	}
	return data
}

// structuredData is what the document row keeps of an extraction: the
// extractor payload, or a summary of a batch.
func structuredData(outcome *ingestion.Outcome, upsertErrors []string, mapping map[string]string) model.JSONMap {
	data := model.JSONMap{
		"document_type":     outcome.Classification.Type,
		"processing_method": outcome.ProcessingMethod(),
		"service_used":      outcome.ServiceUsed,
		"diseases_found":    outcome.DiseasesFound(),
	}
	if outcome.Result != nil {
		data["extracted"] = outcome.Result.Data
	}
	if outcome.Batch != nil {
		rows := outcome.Batch.Errors()
		if rows == nil {
			rows = []ingestion.RowError{}
		}
		data["total_records"] = outcome.Batch.Total()
		data["row_errors"] = rows
	}
	if len(upsertErrors) > 0 {
		data["upsert_errors"] = upsertErrors
	}
	if len(mapping) > 0 {
		data[columnMappingKey] = mapping
	}
	// Round-trip so the map holds plain JSON values, as it will after a reload.
	raw, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var out model.JSONMap
	if err := json.Unmarshal(raw, &out); err != nil {
		return data
	}
	return out
}
