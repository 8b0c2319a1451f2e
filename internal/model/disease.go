package model

import (
	"time"

	"github.com/google/uuid"
)

type Disease struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	NormalizedName string    `json:"normalized_name" db:"normalized_name"`
	Category       string    `json:"category" db:"category"`
	ICDCode        string    `json:"icd_code" db:"icd_code"`
	Description    string    `json:"description" db:"description"`
	Abbreviations  string    `json:"abbreviations" db:"abbreviations"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	// PatientCount is derived: distinct patients linked to this disease.
	PatientCount int `json:"patient_count" db:"patient_count"`
}

type PatientDisease struct {
	PatientID        uuid.UUID  `json:"patient_id" db:"patient_id"`
	DiseaseID        uuid.UUID  `json:"disease_id" db:"disease_id"`
	Severity         string     `json:"severity" db:"severity"`
	Status           string     `json:"status" db:"status"`
	DiagnosisDate    *time.Time `json:"diagnosis_date,omitempty" db:"diagnosis_date"`
	SourceDocumentID *uuid.UUID `json:"source_document_id,omitempty" db:"source_document_id"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// DiseasePatients groups patients under one disease for the by_disease view.
type DiseasePatients struct {
	Disease  string             `json:"disease"`
	ID       uuid.UUID          `json:"disease_id"`
	Count    int                `json:"count"`
	Patients []*PatientResponse `json:"patients"`
}
