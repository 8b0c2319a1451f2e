package model

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderOther   Gender = "other"
	GenderUnknown Gender = "unknown"
)

// Age buckets used by every analytics view.
const (
	AgeGroup0To17   = "0-17"
	AgeGroup18To29  = "18-29"
	AgeGroup30To44  = "30-44"
	AgeGroup45To59  = "45-59"
	AgeGroup60Plus  = "60+"
	AgeGroupUnknown = "Unknown"
)

// AgeGroups lists the buckets in display order, Unknown last.
var AgeGroups = []string{AgeGroup0To17, AgeGroup18To29, AgeGroup30To44, AgeGroup45To59, AgeGroup60Plus, AgeGroupUnknown}

// AgeGroup assigns an age to its bucket. Lower bounds are inclusive.
func AgeGroup(age *int) string {
	if age == nil {
		return AgeGroupUnknown
	}
	switch a := *age; {
	case a < 18:
		return AgeGroup0To17
	case a < 30:
		return AgeGroup18To29
	case a < 45:
		return AgeGroup30To44
	case a < 60:
		return AgeGroup45To59
	default:
		return AgeGroup60Plus
	}
}

// AgeRange returns the inclusive bounds of a bucket; ok is false for Unknown.
func AgeRange(group string) (min, max int, ok bool) {
	switch group {
	case AgeGroup0To17:
		return 0, 17, true
	case AgeGroup18To29:
		return 18, 29, true
	case AgeGroup30To44:
		return 30, 44, true
	case AgeGroup45To59:
		return 45, 59, true
	case AgeGroup60Plus:
		return 60, 200, true
	}
	return 0, 0, false
}

func IsAgeGroup(group string) bool {
	_, _, ok := AgeRange(group)
	return ok || group == AgeGroupUnknown
}

type Patient struct {
	Base
	Name             string     `json:"name" db:"name"`
	Age              *int       `json:"age" db:"age"`
	Gender           Gender     `json:"gender" db:"gender"`
	PhoneNumber      string     `json:"phone_number" db:"phone_number"`
	Email            string     `json:"email" db:"email"`
	Address          string     `json:"address" db:"address"`
	City             string     `json:"city" db:"city"`
	District         string     `json:"district" db:"district"`
	State            string     `json:"state" db:"state"`
	Pincode          string     `json:"pincode" db:"pincode"`
	Location         string     `json:"location" db:"location"`
	HospitalClinic   string     `json:"hospital_clinic" db:"hospital_clinic"`
	DoctorName       string     `json:"doctor_name" db:"doctor_name"`
	SourceDocumentID *uuid.UUID `json:"source_document_id,omitempty" db:"source_document_id"`
	Notes            string     `json:"notes" db:"notes"`
	EconomicStatus   string     `json:"economic_status" db:"economic_status"`

	Diseases []string `json:"diseases" db:"-"`
}

func (p *Patient) AgeGroup() string {
	return AgeGroup(p.Age)
}

// DisplayID is the short, human-facing patient reference.
func (p *Patient) DisplayID() string {
	id := strings.ReplaceAll(p.ID.String(), "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return "P-" + strings.ToUpper(id)
}

// AnonymizedName keeps the first and last letter of each word.
func (p *Patient) AnonymizedName() string {
	if p.Name == "" {
		return "Anonymous"
	}
	words := strings.Fields(p.Name)
	for i, w := range words {
		n := utf8.RuneCountInString(w)
		if n <= 2 {
			continue
		}
		r := []rune(w)
		words[i] = string(r[0]) + strings.Repeat("*", n-2) + string(r[n-1])
	}
	return strings.Join(words, " ")
}

// MaskedPhone shows only the last four digits.
func (p *Patient) MaskedPhone() string {
	if len(p.PhoneNumber) < 4 {
		return ""
	}
	return strings.Repeat("*", len(p.PhoneNumber)-4) + p.PhoneNumber[len(p.PhoneNumber)-4:]
}

// PatientResponse is the API shape with derived fields.
type PatientResponse struct {
	*Patient
	DisplayID      string `json:"display_id"`
	AnonymizedName string `json:"anonymized_name"`
	MaskedPhone    string `json:"masked_phone"`
	AgeGroup       string `json:"age_group"`
}

func NewPatientResponse(p *Patient) *PatientResponse {
	if p.Diseases == nil {
		p.Diseases = []string{}
	}
	return &PatientResponse{
		Patient:        p,
		DisplayID:      p.DisplayID(),
		AnonymizedName: p.AnonymizedName(),
		MaskedPhone:    p.MaskedPhone(),
		AgeGroup:       p.AgeGroup(),
	}
}

func NewPatientResponses(patients []*Patient) []*PatientResponse {
	out := make([]*PatientResponse, 0, len(patients))
	for _, p := range patients {
		out = append(out, NewPatientResponse(p))
	}
	return out
}

// PatientSummary is the compact form returned by processing endpoints.
type PatientSummary struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Age      *int      `json:"age"`
	Gender   Gender    `json:"gender"`
	Diseases []string  `json:"diseases"`
}

func (p *Patient) Summary() PatientSummary {
	diseases := p.Diseases
	if diseases == nil {
		diseases = []string{}
	}
	return PatientSummary{ID: p.ID, Name: p.Name, Age: p.Age, Gender: p.Gender, Diseases: diseases}
}

type PatientFilters struct {
	Gender         string     `form:"gender"`
	City           string     `form:"city"`
	District       string     `form:"district"`
	State          string     `form:"state"`
	HospitalClinic string     `form:"hospital_clinic"`
	DiseaseID      *uuid.UUID `form:"-"`
	DiseaseName    string     `form:"disease_name"`
	MinAge         *int       `form:"min_age"`
	MaxAge         *int       `form:"max_age"`
	AgeGroup       string     `form:"age_group"`
	Search         string     `form:"search"`
	Pagination
}

type UpdatePatientRequest struct {
	Name           *string `json:"name" validate:"omitempty,min=1"`
	Age            *int    `json:"age" validate:"omitempty,gte=0,lte=150"`
	Gender         *Gender `json:"gender" validate:"omitempty,oneof=male female other unknown"`
	PhoneNumber    *string `json:"phone_number"`
	Email          *string `json:"email" validate:"omitempty,email"`
	Address        *string `json:"address"`
	City           *string `json:"city"`
	District       *string `json:"district"`
	State          *string `json:"state"`
	Pincode        *string `json:"pincode"`
	Location       *string `json:"location"`
	HospitalClinic *string `json:"hospital_clinic"`
	DoctorName     *string `json:"doctor_name"`
	Notes          *string `json:"notes"`
	EconomicStatus *string `json:"economic_status"`
}

// Apply copies the set fields onto p.
func (r *UpdatePatientRequest) Apply(p *Patient) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.Name, r.Name)
	if r.Age != nil {
		p.Age = r.Age
	}
	if r.Gender != nil {
		p.Gender = *r.Gender
	}
	set(&p.PhoneNumber, r.PhoneNumber)
	set(&p.Email, r.Email)
	set(&p.Address, r.Address)
	set(&p.City, r.City)
	set(&p.District, r.District)
	set(&p.State, r.State)
	set(&p.Pincode, r.Pincode)
	set(&p.Location, r.Location)
	set(&p.HospitalClinic, r.HospitalClinic)
	set(&p.DoctorName, r.DoctorName)
	set(&p.Notes, r.Notes)
	set(&p.EconomicStatus, r.EconomicStatus)
}
