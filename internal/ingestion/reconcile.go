package ingestion

import (
	"sort"
	"strconv"
	"strings"
)

// Reconciler resolves field synonyms in raw extractor output or batch rows.
// A Reconciler is immutable and safe for concurrent use.
type Reconciler struct {
	// overrides holds caller-supplied column names, consulted before FieldTable.
	overrides map[Field]string
}

// NewReconciler builds a reconciler. custom maps canonical field names
// ("name", "phone", ...) to the column that carries them.
func NewReconciler(custom map[string]string) *Reconciler {
	r := &Reconciler{overrides: make(map[Field]string)}
	for field, column := range custom {
		f := Field(normalizeKey(field))
		if _, ok := specFor(f); ok && strings.TrimSpace(column) != "" {
			r.overrides[f] = normalizeKey(column)
		}
	}
	return r
}

var defaultReconciler = NewReconciler(nil)

// Reconcile maps raw extractor output to a canonical draft with the default table.
func Reconcile(raw map[string]interface{}) PatientDraft {
	return defaultReconciler.Reconcile(raw)
}

// Reconcile is a pure function of raw: the same input always yields the same draft.
func (r *Reconciler) Reconcile(raw map[string]interface{}) PatientDraft {
	src := newSource(raw)

	d := PatientDraft{
		Name:      collapse(r.str(src, FieldName)),
		Age:       ParseAge(r.lookup(src, FieldAge)),
		Gender:    NormalizeGender(r.str(src, FieldGender)),
		Phone:     CleanPhone(r.str(src, FieldPhone)),
		Email:     strings.ToLower(r.str(src, FieldEmail)),
		Address:   r.str(src, FieldAddress),
		City:      r.str(src, FieldCity),
		District:  r.str(src, FieldDistrict),
		State:     r.str(src, FieldState),
		Pincode:   r.str(src, FieldPincode),
		Hospital:  r.str(src, FieldHospital),
		Doctor:    r.str(src, FieldDoctor),
		VisitDate: r.str(src, FieldDate),
	}

	switch loc := r.lookup(src, FieldLocation).(type) {
	case string:
		d.Location = strings.TrimSpace(loc)
	case map[string]interface{}:
		r.mergeStructuredLocation(&d, loc)
	}

	d.Diseases = parseDiseases(r.lookup(src, FieldDisease))
	return d
}

// mergeStructuredLocation fills missing address parts from a location object
// and uses its display name, if any, as the location string.
func (r *Reconciler) mergeStructuredLocation(d *PatientDraft, loc map[string]interface{}) {
	obj := lowerKeys(loc)
	fill := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, k := range keys {
			if v := stringValue(obj[k]); v != "" {
				*dst = v
				return
			}
		}
	}
	fill(&d.City, "city", "town")
	fill(&d.District, "district")
	fill(&d.State, "state", "province")
	fill(&d.Pincode, "pincode", "postal_code", "zipcode", "zip", "pin")
	fill(&d.Address, "address", "street", "addr")
	fill(&d.Location, "name", "display", "location")
}

func (r *Reconciler) str(src *source, f Field) string {
	return stringValue(r.lookup(src, f))
}

// lookup walks the field's scopes in order and, inside each scope, the
// override column followed by the synonyms in precedence order. Empty values
// are skipped so a blank "phone_number" does not hide a filled "mobile".
func (r *Reconciler) lookup(src *source, f Field) interface{} {
	spec, ok := specFor(f)
	if !ok {
		return nil
	}
	keys := spec.Synonyms
	if col, ok := r.overrides[f]; ok {
		keys = append([]string{col}, keys...)
	}
	for _, sc := range spec.scopes {
		for _, obj := range src.scoped(sc) {
			for _, k := range keys {
				v, ok := obj[normalizeKey(k)]
				if !ok || isEmpty(v) {
					continue
				}
				return v
			}
		}
	}
	return nil
}

type source struct {
	scopes map[scope][]map[string]interface{}
}

func newSource(raw map[string]interface{}) *source {
	top := lowerKeys(raw)
	s := &source{scopes: map[scope][]map[string]interface{}{scopeTop: {top}}}
	for sc, keys := range scopeKeys {
		for _, k := range keys {
			if nested, ok := top[k].(map[string]interface{}); ok {
				s.scopes[sc] = append(s.scopes[sc], lowerKeys(nested))
			}
		}
	}
	return s
}

func (s *source) scoped(sc scope) []map[string]interface{} {
	return s.scopes[sc]
}

// lowerKeys normalizes keys. When two keys fold together ("Phone", "phone")
// the first non-empty one in sorted key order wins, so the result does not
// depend on map iteration order.
func lowerKeys(m map[string]interface{}) map[string]interface{} {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]interface{}, len(m))
	for _, k := range keys {
		v := m[k]
		nk := normalizeKey(k)
		if existing, exists := out[nk]; exists && !isEmpty(existing) {
			continue
		}
		out[nk] = v
	}
	return out
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

// stringValue renders scalars; objects and lists render as "".
func stringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parseDiseases accepts a list of strings or objects, or a single
// comma-separated string. Names are normalized and de-duplicated
// case-insensitively, keeping first occurrence order.
func parseDiseases(v interface{}) []DiseaseDraft {
	var out []DiseaseDraft
	seen := make(map[string]bool)
	add := func(d DiseaseDraft) {
		d.Name = NormalizeDiseaseName(d.Name)
		if d.Name == "" {
			return
		}
		key := strings.ToLower(d.Name)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, d)
	}

	switch t := v.(type) {
	case string:
		for _, part := range strings.Split(t, ",") {
			add(DiseaseDraft{Name: part})
		}
	case []interface{}:
		for _, item := range t {
			switch it := item.(type) {
			case string:
				add(DiseaseDraft{Name: it})
			case map[string]interface{}:
				obj := lowerKeys(it)
				add(DiseaseDraft{
					Name:     firstString(obj, "name", "diagnosis", "disease", "condition"),
					ICDCode:  firstString(obj, "icd_code", "icd10", "code"),
					Severity: strings.ToLower(firstString(obj, "severity")),
				})
			}
		}
	case []string:
		for _, it := range t {
			add(DiseaseDraft{Name: it})
		}
	}
	if out == nil {
		out = []DiseaseDraft{}
	}
	return out
}

func firstString(obj map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s := stringValue(obj[k]); s != "" {
			return s
		}
	}
	return ""
}
