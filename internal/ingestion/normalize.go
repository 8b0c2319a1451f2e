package ingestion

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jwalitptl/healthbridge/internal/model"
)

const minPhoneLength = 10

var (
	digitsRe  = regexp.MustCompile(`\d+`)
	titleCase = cases.Title(language.English)
)

var genderAliases = map[string]model.Gender{
	"m":      model.GenderMale,
	"male":   model.GenderMale,
	"man":    model.GenderMale,
	"f":      model.GenderFemale,
	"female": model.GenderFemale,
	"woman":  model.GenderFemale,
	"o":      model.GenderOther,
	"other":  model.GenderOther,
}

// NormalizeGender maps free-form gender values onto the four stored values.
func NormalizeGender(v string) model.Gender {
	if g, ok := genderAliases[strings.ToLower(strings.TrimSpace(v))]; ok {
		return g
	}
	return model.GenderUnknown
}

// CleanPhone keeps digits and '+', and drops numbers too short to dial.
func CleanPhone(v string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(v) {
		if unicode.IsDigit(r) || r == '+' {
			b.WriteRune(r)
		}
	}
	if b.Len() < minPhoneLength {
		return ""
	}
	return b.String()
}

// ParseAge reads the first run of digits ("45 Y", "45 years", 45, 45.0).
func ParseAge(v interface{}) *int {
	var age int
	switch t := v.(type) {
	case nil:
		return nil
	case int:
		age = t
	case int64:
		age = int(t)
	case float64:
		age = int(t)
	case string:
		m := digitsRe.FindString(t)
		if m == "" {
			return nil
		}
		n, err := strconv.Atoi(m)
		if err != nil {
			return nil
		}
		age = n
	default:
		return nil
	}
	if age < 0 || age > 150 {
		return nil
	}
	return &age
}

var diseaseAbbreviations = map[string]string{
	"dm":           "Diabetes Mellitus",
	"dm2":          "Type 2 Diabetes Mellitus",
	"t2dm":         "Type 2 Diabetes Mellitus",
	"dm1":          "Type 1 Diabetes Mellitus",
	"t1dm":         "Type 1 Diabetes Mellitus",
	"htn":          "Hypertension",
	"cad":          "Coronary Artery Disease",
	"ckd":          "Chronic Kidney Disease",
	"copd":         "Chronic Obstructive Pulmonary Disease",
	"mi":           "Myocardial Infarction",
	"chf":          "Congestive Heart Failure",
	"af":           "Atrial Fibrillation",
	"tb":           "Tuberculosis",
	"hiv":          "HIV/AIDS",
	"acs":          "Acute Coronary Syndrome",
	"cva":          "Cerebrovascular Accident",
	"dvt":          "Deep Vein Thrombosis",
	"pe":           "Pulmonary Embolism",
	"uti":          "Urinary Tract Infection",
	"gerd":         "Gastroesophageal Reflux Disease",
	"ibs":          "Irritable Bowel Syndrome",
	"ra":           "Rheumatoid Arthritis",
	"oa":           "Osteoarthritis",
	"hypothyroid":  "Hypothyroidism",
	"hyperthyroid": "Hyperthyroidism",
}

// NormalizeDiseaseName expands known abbreviations and title-cases names
// written entirely in one case. Mixed-case names are kept as written.
func NormalizeDiseaseName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}
	if full, ok := diseaseAbbreviations[strings.ToLower(name)]; ok {
		return full
	}
	if name == strings.ToUpper(name) || name == strings.ToLower(name) {
		return titleCase.String(strings.ToLower(name))
	}
	return name
}

// JoinLocation builds the "city, state" display string.
func JoinLocation(city, state string) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{city, state} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
