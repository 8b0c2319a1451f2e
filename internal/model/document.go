package model

import (
	"time"

	"github.com/google/uuid"
)

// DeclaredType is the document kind chosen by the uploader.
type DeclaredType string

const (
	DeclaredHandwritten DeclaredType = "handwritten"
	DeclaredPrintedLab  DeclaredType = "printed_lab"
	DeclaredClinicalDB  DeclaredType = "clinical_db"
	DeclaredOther       DeclaredType = "other"
)

func (t DeclaredType) Valid() bool {
	switch t {
	case DeclaredHandwritten, DeclaredPrintedLab, DeclaredClinicalDB, DeclaredOther:
		return true
	}
	return false
}

type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// CanTransitionTo reports whether a document may move from s to next.
// A finished document only goes back to processing through an explicit re-process.
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted, StatusFailed:
		return next == StatusProcessing
	}
	return false
}

var processingStatuses = []ProcessingStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// SourcesOf lists the statuses a document may leave to enter next.
func SourcesOf(next ProcessingStatus) []ProcessingStatus {
	var out []ProcessingStatus
	for _, s := range processingStatuses {
		if s.CanTransitionTo(next) {
			out = append(out, s)
		}
	}
	return out
}

type Document struct {
	Base
	OriginalFilename   string           `json:"original_filename" db:"original_filename"`
	DocumentType       DeclaredType     `json:"document_type" db:"document_type"`
	FileType           string           `json:"file_type" db:"file_type"`
	FileSize           int64            `json:"file_size" db:"file_size"`
	PageCount          *int             `json:"page_count,omitempty" db:"page_count"`
	ProcessingStatus   ProcessingStatus `json:"processing_status" db:"processing_status"`
	ProcessingError    *string          `json:"processing_error,omitempty" db:"processing_error"`
	RawExtractedText   string           `json:"raw_extracted_text,omitempty" db:"raw_extracted_text"`
	StructuredData     JSONMap          `json:"structured_data,omitempty" db:"structured_data"`
	HospitalClinicName string           `json:"hospital_clinic_name" db:"hospital_clinic_name"`
	SourceLocation     string           `json:"source_location" db:"source_location"`
	UploadedBy         string           `json:"uploaded_by" db:"uploaded_by"`
	ProcessedAt        *time.Time       `json:"processed_at,omitempty" db:"processed_at"`
	PatientsCount      int              `json:"patients_count" db:"patients_count"`
}

// ProcessingLog is one step of a processing attempt.
type ProcessingLog struct {
	ID           uuid.UUID `json:"id" db:"id"`
	DocumentID   uuid.UUID `json:"document_id" db:"document_id"`
	Step         string    `json:"step" db:"step"`
	Status       string    `json:"status" db:"status"`
	Message      string    `json:"message" db:"message"`
	APIUsed      string    `json:"api_used" db:"api_used"`
	ResponseData JSONMap   `json:"response_data,omitempty" db:"response_data"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

const (
	StepClassify  = "classify"
	StepExtract   = "extract"
	StepNormalize = "normalize"
	StepComplete  = "complete"
)

type DocumentFilters struct {
	Status       ProcessingStatus `form:"status"`
	DocumentType DeclaredType     `form:"document_type"`
	Search       string           `form:"search"`
	Pagination
}

// ProcessAllResult summarizes a "process all pending" run.
type ProcessAllResult struct {
	Processed int             `json:"processed"`
	Failed    int             `json:"failed"`
	Errors    []DocumentError `json:"errors"`
}

type DocumentError struct {
	DocumentID uuid.UUID `json:"document_id"`
	Error      string    `json:"error"`
}
