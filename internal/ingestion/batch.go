package ingestion

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/jwalitptl/healthbridge/pkg/errors"
	"github.com/jwalitptl/healthbridge/pkg/validator"
)

// ErrMissingName marks a record that cannot become a patient.
var ErrMissingName = stderrors.New("missing patient name")

// BatchRow is one parsed record. Row is 1-based over data rows.
type BatchRow struct {
	Row   int
	Draft PatientDraft
	Err   error
}

// RowError is the per-row failure reported to callers.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// Batch is a parsed CSV/JSON file.
type Batch struct {
	Rows []BatchRow
}

func (b *Batch) Total() int {
	return len(b.Rows)
}

// Valid returns rows that produced a usable draft.
func (b *Batch) Valid() []BatchRow {
	out := make([]BatchRow, 0, len(b.Rows))
	for _, r := range b.Rows {
		if r.Err == nil {
			out = append(out, r)
		}
	}
	return out
}

// Errors returns the per-row failures found while parsing.
func (b *Batch) Errors() []RowError {
	var out []RowError
	for _, r := range b.Rows {
		if r.Err != nil {
			out = append(out, RowError{Row: r.Row, Error: r.Err.Error()})
		}
	}
	return out
}

var jsonRecordKeys = []string{"records", "patients", "data", "results"}

// ParseBatch parses CSV or JSON into drafts. Only a file that cannot be read
// at all fails; bad rows are recorded on the row and the rest continue.
func ParseBatch(filename, contentType string, data []byte, customMapping map[string]string) (*Batch, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	rec := NewReconciler(customMapping)

	mt := DetectMIME(contentType, data)
	isJSON := strings.Contains(mt, "json") || strings.HasSuffix(strings.ToLower(filename), ".json")
	if !isJSON && !strings.Contains(mt, "csv") && !strings.HasSuffix(strings.ToLower(filename), ".csv") {
		trimmed := bytes.TrimSpace(data)
		isJSON = len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{')
	}

	if isJSON {
		return parseJSONBatch(data, rec)
	}
	return parseCSVBatch(data, rec)
}

func parseCSVBatch(data []byte, rec *Reconciler) (*Batch, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errors.Unprocessable("CSV file has no header row", nil)
		}
		return nil, errors.Unprocessable("failed to read CSV header", err)
	}

	batch := &Batch{}
	for row := 1; ; row++ {
		values, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if stderrors.As(err, &pe) {
				batch.Rows = append(batch.Rows, BatchRow{Row: row, Err: fmt.Errorf("malformed CSV row: %v", pe.Err)})
				continue
			}
			return nil, errors.Unprocessable("failed to read CSV", err)
		}
		if isBlankRecord(values) {
			row--
			continue
		}

		raw := make(map[string]interface{}, len(header))
		for i, col := range header {
			if i < len(values) {
				raw[col] = values[i]
			}
		}
		batch.Rows = append(batch.Rows, draftRow(row, raw, rec))
	}
	return batch, nil
}

func parseJSONBatch(data []byte, rec *Reconciler) (*Batch, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Unprocessable("invalid JSON", err)
	}

	var items []interface{}
	switch t := doc.(type) {
	case []interface{}:
		items = t
	case map[string]interface{}:
		items = []interface{}{t}
		for _, k := range jsonRecordKeys {
			if list, ok := t[k].([]interface{}); ok {
				items = list
				break
			}
		}
	default:
		return nil, errors.Unprocessable("invalid JSON structure: expected an array or object", nil)
	}

	batch := &Batch{}
	for i, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			batch.Rows = append(batch.Rows, BatchRow{Row: i + 1, Err: fmt.Errorf("record is not an object")})
			continue
		}
		batch.Rows = append(batch.Rows, draftRow(i+1, obj, rec))
	}
	return batch, nil
}

func draftRow(row int, raw map[string]interface{}, rec *Reconciler) BatchRow {
	d := rec.Reconcile(raw)
	if d.Name == "" {
		return BatchRow{Row: row, Err: ErrMissingName}
	}
	if err := validator.New().Validate(&d); err != nil {
		return BatchRow{Row: row, Err: err}
	}
	return BatchRow{Row: row, Draft: d}
}

func isBlankRecord(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
