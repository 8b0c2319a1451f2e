// Package ingestion turns uploads and extractor output into canonical patient drafts.
package ingestion

import (
	"strings"

	"github.com/jwalitptl/healthbridge/internal/model"
)

// PatientDraft is the canonical patient shape produced from one input unit,
// before it is matched against stored patients.
type PatientDraft struct {
	Name      string         `json:"name" validate:"required"`
	Age       *int           `json:"age,omitempty" validate:"omitempty,gte=0,lte=150"`
	Gender    model.Gender   `json:"gender"`
	Phone     string         `json:"phone,omitempty"`
	Email     string         `json:"email,omitempty"`
	Address   string         `json:"address,omitempty"`
	City      string         `json:"city,omitempty"`
	District  string         `json:"district,omitempty"`
	State     string         `json:"state,omitempty"`
	Pincode   string         `json:"pincode,omitempty"`
	Location  string         `json:"location,omitempty"`
	Hospital  string         `json:"hospital,omitempty"`
	Doctor    string         `json:"doctor,omitempty"`
	VisitDate string         `json:"visit_date,omitempty"`
	Diseases  []DiseaseDraft `json:"diseases"`
}

type DiseaseDraft struct {
	Name     string `json:"name"`
	ICDCode  string `json:"icd_code,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// DiseaseNames returns the normalized disease names in order.
func (d *PatientDraft) DiseaseNames() []string {
	names := make([]string, 0, len(d.Diseases))
	for _, dis := range d.Diseases {
		names = append(names, dis.Name)
	}
	return names
}

// ApplyDefaults fills hospital and location from request metadata when the
// extractor found none. Location falls back to "city, state" last.
func (d *PatientDraft) ApplyDefaults(hospital, location string) {
	if d.Hospital == "" {
		d.Hospital = strings.TrimSpace(hospital)
	}
	if d.Location == "" {
		d.Location = strings.TrimSpace(location)
	}
	if d.Location == "" {
		d.Location = JoinLocation(d.City, d.State)
	}
}

// ToPatient maps the draft onto a patient row. Empty strings stay empty so
// the upsert can tell "not provided" from a value.
func (d *PatientDraft) ToPatient() *model.Patient {
	gender := d.Gender
	if gender == "" {
		gender = model.GenderUnknown
	}
	return &model.Patient{
		Name:           d.Name,
		Age:            d.Age,
		Gender:         gender,
		PhoneNumber:    d.Phone,
		Email:          d.Email,
		Address:        d.Address,
		City:           d.City,
		District:       d.District,
		State:          d.State,
		Pincode:        d.Pincode,
		Location:       d.Location,
		HospitalClinic: d.Hospital,
		DoctorName:     d.Doctor,
		Diseases:       d.DiseaseNames(),
	}
}
