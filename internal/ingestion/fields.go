package ingestion

import "strings"

// Field is a canonical patient attribute.
type Field string

const (
	FieldName     Field = "name"
	FieldAge      Field = "age"
	FieldGender   Field = "gender"
	FieldPhone    Field = "phone"
	FieldEmail    Field = "email"
	FieldAddress  Field = "address"
	FieldCity     Field = "city"
	FieldDistrict Field = "district"
	FieldState    Field = "state"
	FieldPincode  Field = "pincode"
	FieldLocation Field = "location"
	FieldHospital Field = "hospital"
	FieldDoctor   Field = "doctor"
	FieldDate     Field = "date"
	FieldDisease  Field = "disease"
)

type scope int

const (
	scopeTop scope = iota
	scopePatient
	scopeFacility
	scopeMedical
)

// FieldSpec lists the keys that may carry a field, most specific first, and
// the nested objects searched for them, in order.
type FieldSpec struct {
	Field    Field
	Synonyms []string
	scopes   []scope
}

var (
	patientScopes  = []scope{scopePatient, scopeTop}
	facilityScopes = []scope{scopeFacility, scopePatient, scopeTop}
	medicalScopes  = []scope{scopeMedical, scopeTop, scopePatient}
)

// FieldTable is the one place synonyms are resolved. Order within Synonyms is
// precedence: when several keys are present the earliest one wins.
var FieldTable = []FieldSpec{
	{FieldName, []string{"patient_name", "full_name", "fullname", "name"}, patientScopes},
	{FieldAge, []string{"patient_age", "age", "years"}, patientScopes},
	{FieldGender, []string{"patient_gender", "gender", "sex"}, patientScopes},
	{FieldPhone, []string{"phone_number", "mobile_number", "contact_number", "phone", "mobile", "contact"}, patientScopes},
	{FieldEmail, []string{"email", "email_address"}, patientScopes},
	{FieldAddress, []string{"patient_address", "address", "addr"}, patientScopes},
	{FieldCity, []string{"city", "town"}, patientScopes},
	{FieldDistrict, []string{"district"}, patientScopes},
	{FieldState, []string{"state", "province"}, patientScopes},
	{FieldPincode, []string{"pincode", "postal_code", "zipcode", "zip", "pin"}, patientScopes},
	{FieldLocation, []string{"location", "source_location"}, patientScopes},
	{FieldHospital, []string{"hospital_clinic", "hospital_name", "clinic_name", "hospital", "clinic", "facility"}, facilityScopes},
	{FieldDoctor, []string{"doctor_name", "treating_doctor", "doctor", "physician"}, facilityScopes},
	{FieldDate, []string{"visit_date", "admission_date", "report_date", "date"}, facilityScopes},
	{FieldDisease, []string{"diseases", "diagnoses", "diagnosis", "disease", "conditions", "condition", "medical_history"}, medicalScopes},
}

// scopeKeys are the keys under which nested objects appear in extractor output.
var scopeKeys = map[scope][]string{
	scopePatient:  {"patient", "patient_info", "patient_details"},
	scopeFacility: {"facility", "hospital_info"},
	scopeMedical:  {"medical"},
}

// normalizeKey folds case and separators so "Patient Name", "patient-name"
// and "patient_name" compare equal.
func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(k)
}

func specFor(f Field) (FieldSpec, bool) {
	for _, s := range FieldTable {
		if s.Field == f {
			return s, true
		}
	}
	return FieldSpec{}, false
}
