package model

import (
	"time"

	"github.com/google/uuid"
)

// CountItem is one group-by bucket.
type CountItem struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// DiseaseCount pairs a disease with its distinct patient count.
type DiseaseCount struct {
	ID    uuid.UUID `json:"id" db:"id"`
	Name  string    `json:"name" db:"name"`
	Count int       `json:"count" db:"count"`
}

// PatientFact is the slice of a patient row the breakdowns need.
type PatientFact struct {
	ID             uuid.UUID `db:"id"`
	Age            *int      `db:"age"`
	Gender         Gender    `db:"gender"`
	City           string    `db:"city"`
	State          string    `db:"state"`
	Location       string    `db:"location"`
	HospitalClinic string    `db:"hospital_clinic"`
}

// DiagnosisFact is one patient-disease link joined with patient demographics.
type DiagnosisFact struct {
	PatientID   uuid.UUID `db:"patient_id"`
	DiseaseID   uuid.UUID `db:"disease_id"`
	DiseaseName string    `db:"disease_name"`
	Age         *int      `db:"age"`
	Gender      Gender    `db:"gender"`
	State       string    `db:"state"`
	Location    string    `db:"location"`
	CreatedAt   time.Time `db:"created_at"`
}

type DocumentStats struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
}

type PatientStats struct {
	Total       int `json:"total"`
	WithContact int `json:"with_contact"`
}

type DiseaseStats struct {
	UniqueDiseases int `json:"unique_diseases"`
	TotalDiagnoses int `json:"total_diagnoses"`
}

type Dashboard struct {
	Documents          DocumentStats  `json:"documents"`
	Patients           PatientStats   `json:"patients"`
	Diseases           DiseaseStats   `json:"diseases"`
	GenderDistribution []CountItem    `json:"gender_distribution"`
	TopDiseases        []DiseaseCount `json:"top_diseases"`
	RecentDocuments    []*Document    `json:"recent_documents"`
}

type DiseaseAnalytics struct {
	DiseaseID     *uuid.UUID  `json:"disease_id,omitempty"`
	TotalPatients int         `json:"total_patients"`
	AgeGroups     []CountItem `json:"age_groups"`
	Gender        []CountItem `json:"gender"`
	Locations     []CountItem `json:"locations"`
}

type LocationAnalytics struct {
	ByState    []CountItem `json:"by_state"`
	ByCity     []CountItem `json:"by_city"`
	ByHospital []CountItem `json:"by_hospital"`
	ByLocation []CountItem `json:"by_location"`
}

type DiseaseAgeBreakdown struct {
	Disease   string      `json:"disease"`
	AgeGroups []CountItem `json:"age_groups"`
}

type GenderAgeBreakdown struct {
	Gender    Gender      `json:"gender"`
	AgeGroups []CountItem `json:"age_groups"`
}

type AgeAnalytics struct {
	Overall   []CountItem           `json:"overall"`
	ByDisease []DiseaseAgeBreakdown `json:"by_disease"`
	ByGender  []GenderAgeBreakdown  `json:"by_gender"`
}

type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityWarning  AlertSeverity = "warning"
)

type OutbreakAlert struct {
	Disease       string        `json:"disease"`
	DiseaseID     uuid.UUID     `json:"disease_id"`
	Severity      AlertSeverity `json:"severity"`
	RecentCases   int           `json:"recent_cases"`
	BaselineAvg   float64       `json:"baseline_avg"`
	IncreaseRatio *float64      `json:"increase_ratio"`
	Message       string        `json:"message"`
}

type NamedCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type GeographicCluster struct {
	Type         string       `json:"type"`
	Location     string       `json:"location,omitempty"`
	State        string       `json:"state,omitempty"`
	PatientCount int          `json:"patient_count"`
	DiseaseCount int          `json:"disease_count"`
	TopDiseases  []NamedCount `json:"top_diseases"`
}

type AgeGroupShare struct {
	Count       int     `json:"count"`
	Percentage  float64 `json:"percentage"`
	Description string  `json:"description"`
}

type AgeConcentration struct {
	Disease          string                   `json:"disease"`
	DiseaseID        uuid.UUID                `json:"disease_id"`
	DominantAgeGroup string                   `json:"dominant_age_group"`
	Concentration    float64                  `json:"concentration"`
	PatientCount     int                      `json:"patient_count"`
	TotalPatients    int                      `json:"total_patients"`
	Description      string                   `json:"description"`
	AllAgeGroups     map[string]AgeGroupShare `json:"all_age_groups"`
}

type Comorbidity struct {
	Disease1          string `json:"disease_1"`
	Disease2          string `json:"disease_2"`
	CoOccurrenceCount int    `json:"co_occurrence_count"`
}

type TrendPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type DiseaseTrend struct {
	Disease string       `json:"disease"`
	Trend   []TrendPoint `json:"trend"`
}

type SurveillanceReport struct {
	GeneratedAt        time.Time           `json:"generated_at"`
	Alerts             []OutbreakAlert     `json:"alerts"`
	GeographicClusters []GeographicCluster `json:"geographic_clusters"`
	AgeConcentrations  []AgeConcentration  `json:"age_concentrations"`
	Comorbidities      []Comorbidity       `json:"comorbidities"`
	Trends             []DiseaseTrend      `json:"trends"`
}

type FilterOptions struct {
	States    []string       `json:"states"`
	Cities    []string       `json:"cities"`
	Districts []string       `json:"districts"`
	Hospitals []string       `json:"hospitals"`
	Diseases  []DiseaseCount `json:"diseases"`
	Genders   []string       `json:"genders"`
	AgeGroups []string       `json:"age_groups"`
}
