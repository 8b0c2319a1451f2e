package ingestion

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/healthbridge/internal/model"
)

func decode(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestReconcile_Synonyms(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, d PatientDraft)
	}{
		{
			name: "phone_number preferred over phone",
			raw:  `{"name":"Asha","phone":"1111111111","phone_number":"+91 98765 43210"}`,
			check: func(t *testing.T, d PatientDraft) {
				assert.Equal(t, "+919876543210", d.Phone)
			},
		},
		{
			name: "blank preferred key does not hide a filled synonym",
			raw:  `{"name":"Asha","phone_number":"","mobile":"98765-43210"}`,
			check: func(t *testing.T, d PatientDraft) {
				assert.Equal(t, "9876543210", d.Phone)
			},
		},
		{
			name: "hospital_clinic preferred over hospital",
			raw:  `{"name":"Asha","hospital":"General","hospital_clinic":"Apollo Clinic"}`,
			check: func(t *testing.T, d PatientDraft) {
				assert.Equal(t, "Apollo Clinic", d.Hospital)
			},
		},
		{
			name: "nested patient and facility objects",
			raw: `{"patient":{"name":"Ravi Kumar","age":"45 years","gender":"M"},
			       "facility":{"hospital_name":"AIIMS","doctor_name":"Dr. Rao","visit_date":"2024-05-01"},
			       "diseases":[{"name":"htn","icd_code":"I10","severity":"Moderate"}]}`,
			check: func(t *testing.T, d PatientDraft) {
				assert.Equal(t, "Ravi Kumar", d.Name)
				require.NotNil(t, d.Age)
				assert.Equal(t, 45, *d.Age)
				assert.Equal(t, model.GenderMale, d.Gender)
				assert.Equal(t, "AIIMS", d.Hospital)
				assert.Equal(t, "Dr. Rao", d.Doctor)
				assert.Equal(t, "2024-05-01", d.VisitDate)
				assert.Equal(t, []DiseaseDraft{{Name: "Hypertension", ICDCode: "I10", Severity: "moderate"}}, d.Diseases)
			},
		},
		{
			name: "city and state leave location for defaults",
			raw:  `{"name":"Meera","city":"Pune","state":"Maharashtra"}`,
			check: func(t *testing.T, d PatientDraft) {
				assert.Empty(t, d.Location)
				d.ApplyDefaults("", "")
				assert.Equal(t, "Pune, Maharashtra", d.Location)
			},
		},
		{
			name: "structured location object",
			raw:  `{"name":"Meera","location":{"city":"Jaipur","state":"Rajasthan","pincode":"302001"}}`,
			check: func(t *testing.T, d PatientDraft) {
				assert.Equal(t, "Jaipur", d.City)
				assert.Equal(t, "Rajasthan", d.State)
				assert.Equal(t, "302001", d.Pincode)
				d.ApplyDefaults("", "")
				assert.Equal(t, "Jaipur, Rajasthan", d.Location)
			},
		},
		{
			name: "location string wins over city/state",
			raw:  `{"name":"Meera","location":"Ward 4, Kota","city":"Kota","state":"Rajasthan"}`,
			check: func(t *testing.T, d PatientDraft) {
				assert.Equal(t, "Ward 4, Kota", d.Location)
			},
		},
		{
			name: "comma separated diseases, deduplicated",
			raw:  `{"Patient Name":"  Anil   Sharma ","Diagnosis":"DM, dengue fever, Dengue Fever"}`,
			check: func(t *testing.T, d PatientDraft) {
				assert.Equal(t, "Anil Sharma", d.Name)
				assert.Equal(t, []string{"Diabetes Mellitus", "Dengue Fever"}, d.DiseaseNames())
			},
		},
		{
			name: "short phone dropped, unknown gender",
			raw:  `{"name":"X","contact":"12345","sex":"n/a"}`,
			check: func(t *testing.T, d PatientDraft) {
				assert.Empty(t, d.Phone)
				assert.Equal(t, model.GenderUnknown, d.Gender)
				assert.Equal(t, []DiseaseDraft{}, d.Diseases)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Reconcile(decode(t, tt.raw)))
		})
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	raw := decode(t, `{
		"patient_info": {"name": "Sunita Devi", "age": 52, "gender": "female", "mobile": "9812345678"},
		"hospital_info": {"hospital_name": "District Hospital"},
		"location": {"city": "Patna", "state": "Bihar"},
		"diagnosis": ["Anemia", {"diagnosis": "t2dm", "code": "E11"}]
	}`)

	first := Reconcile(raw)
	second := Reconcile(raw)
	assert.Equal(t, first, second)

	// Feeding the canonical draft back in changes nothing.
	b, err := json.Marshal(first)
	require.NoError(t, err)
	again := Reconcile(decode(t, string(b)))
	assert.Equal(t, first, again)
}

func TestReconciler_CustomMapping(t *testing.T) {
	r := NewReconciler(map[string]string{"name": "Naam", "disease": "Rog", "bogus": "x"})
	d := r.Reconcile(map[string]interface{}{
		"Naam":      "Kiran",
		"name":      "ignored",
		"Rog":       "Malaria",
		"diagnosis": "Typhoid",
	})
	assert.Equal(t, "Kiran", d.Name)
	assert.Equal(t, []string{"Malaria"}, d.DiseaseNames())
}

func TestApplyDefaults(t *testing.T) {
	d := PatientDraft{Name: "A", City: "Indore", State: "MP"}
	d.ApplyDefaults("Camp Clinic", "")
	assert.Equal(t, "Camp Clinic", d.Hospital)
	assert.Equal(t, "Indore, MP", d.Location)

	d = PatientDraft{Name: "A", Hospital: "Own", City: "Indore"}
	d.ApplyDefaults("Camp Clinic", "Ward 9")
	assert.Equal(t, "Own", d.Hospital)
	assert.Equal(t, "Ward 9", d.Location)
}

func TestApplyDefaults_UploadLocationBeatsExtractedCity(t *testing.T) {
	d := Reconcile(map[string]interface{}{"name": "Asha", "city": "Indore", "state": "MP"})
	d.ApplyDefaults("", "Ward 9")
	assert.Equal(t, "Ward 9", d.Location)
	assert.Equal(t, "Indore", d.City)

	d = Reconcile(map[string]interface{}{"name": "Asha", "location": "PHC Mhow", "city": "Indore"})
	d.ApplyDefaults("", "Ward 9")
	assert.Equal(t, "PHC Mhow", d.Location)
}
