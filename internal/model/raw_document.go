package model

import (
	"time"

	"github.com/google/uuid"
)

// RawUpload is the original file kept for re-processing.
type RawUpload struct {
	DocumentID  uuid.UUID `json:"document_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Data        []byte    `json:"-"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// ExtractionRecord is one unmodified extractor response.
type ExtractionRecord struct {
	DocumentID uuid.UUID `json:"document_id"`
	Service    string    `json:"service"`
	Response   string    `json:"response"`
	CreatedAt  time.Time `json:"created_at"`
}
