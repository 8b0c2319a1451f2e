package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultEkaBaseURL      = "https://api.eka.care"
	DefaultEkaPollInterval = 3 * time.Second
	DefaultEkaMaxPolls     = 80
)

type EkaLabConfig struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxPolls     int
}

// EkaLab uploads a lab report and polls until Eka finishes parsing it.
type EkaLab struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	maxPolls     int
	client       httpDoer
}

func NewEkaLab(cfg EkaLabConfig) *EkaLab {
	e := &EkaLab{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		pollInterval: cfg.PollInterval,
		maxPolls:     cfg.MaxPolls,
		client:       newHTTPClient(cfg.Timeout),
	}
	if e.baseURL == "" {
		e.baseURL = DefaultEkaBaseURL
	}
	if e.pollInterval <= 0 {
		e.pollInterval = DefaultEkaPollInterval
	}
	if e.maxPolls <= 0 {
		e.maxPolls = DefaultEkaMaxPolls
	}
	return e
}

func (e *EkaLab) Name() string          { return ServiceEkaLab }
func (e *EkaLab) Available() bool       { return e.apiKey != "" }
func (e *EkaLab) Accepts(in Input) bool { return !in.IsText() && isImageOrPDF(in.MIMEType) }

func (e *EkaLab) Extract(ctx context.Context, in Input) (*Result, error) {
	if !e.Available() {
		return nil, ErrNotConfigured
	}
	if !e.Accepts(in) {
		return nil, ErrUnsupportedInput
	}

	docID, err := e.upload(ctx, in)
	if err != nil {
		return nil, err
	}
	body, err := e.poll(ctx, docID)
	if err != nil {
		return nil, err
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode eka_lab result: %w", err)
	}
	return &Result{
		Service: ServiceEkaLab,
		Data:    labData(resp),
		Raw:     body,
	}, nil
}

func (e *EkaLab) upload(ctx context.Context, in Input) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := in.Filename
	if filename == "" {
		filename = "document"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", in.MIMEType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("failed to build eka_lab upload: %w", err)
	}
	if _, err := part.Write(in.Data); err != nil {
		return "", fmt.Errorf("failed to build eka_lab upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to build eka_lab upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/mr/api/v2/docs?task=smart", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to build eka_lab upload: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	body, err := do(e.client, ServiceEkaLab, req)
	if err != nil {
		return "", err
	}
	var resp struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode eka_lab upload response: %w", err)
	}
	if resp.DocumentID == "" {
		return "", fmt.Errorf("eka_lab upload returned no document_id")
	}
	return resp.DocumentID, nil
}

// poll waits for the parse result. Eka answers 202 or 404 while the document
// is queued, and otherwise reports queued/inprogress/completed/error/deleted.
func (e *EkaLab) poll(ctx context.Context, docID string) ([]byte, error) {
	url := fmt.Sprintf("%s/mr/api/v1/docs/%s/result", e.baseURL, docID)

	for attempt := 0; attempt < e.maxPolls; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(e.pollInterval)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build eka_lab poll: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+e.apiKey)

		body, err := do(e.client, ServiceEkaLab, req)
		if err != nil {
			if se, ok := err.(*StatusError); ok && se.StatusCode == http.StatusNotFound {
				continue
			}
			return nil, err
		}
		if len(body) == 0 {
			continue
		}

		var status struct {
			Status string          `json:"status"`
			Error  json.RawMessage `json:"error"`
			Data   json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &status); err != nil {
			return nil, fmt.Errorf("failed to decode eka_lab status: %w", err)
		}
		switch strings.ToLower(status.Status) {
		case "completed":
			return body, nil
		case "error":
			return nil, fmt.Errorf("eka_lab processing error: %s", string(status.Error))
		case "deleted":
			return nil, fmt.Errorf("eka_lab document %s was deleted", docID)
		case "queued", "inprogress", "":
			if status.Status == "" && len(status.Data) > 0 && string(status.Data) != "null" {
				return body, nil
			}
		}
	}
	return nil, fmt.Errorf("eka_lab result not ready after %d polls", e.maxPolls)
}

// labData maps Eka's data.output into the common extraction shape.
func labData(resp map[string]interface{}) map[string]interface{} {
	data, _ := resp["data"].(map[string]interface{})
	output, _ := data["output"].(map[string]interface{})

	out := map[string]interface{}{
		"patient":  map[string]interface{}{},
		"facility": map[string]interface{}{},
	}
	if t, ok := data["document_classification"]; ok {
		out["document_type"] = t
	}
	if output == nil {
		return out
	}

	if page := firstPIIPage(output["pii"]); page != nil {
		patient := page
		if p, ok := page["Patient"].(map[string]interface{}); ok && len(p) > 0 {
			patient = p
		}
		out["patient"] = map[string]interface{}{
			"name":   patient["Name"],
			"age":    piiAge(patient["Age"]),
			"gender": patient["Gender"],
		}

		report := page
		if r, ok := page["Report"].(map[string]interface{}); ok && len(r) > 0 {
			report = r
		}
		out["facility"] = map[string]interface{}{
			"hospital_name": report["Facility"],
			"doctor_name":   report["Doctor"],
			"visit_date":    page["DocumentDate"],
		}
	}
	if meta, ok := output["meta"].(map[string]interface{}); ok {
		if src, _ := meta["source_display_name"].(string); strings.Contains(src, "|") {
			fac := out["facility"].(map[string]interface{})
			if s, _ := fac["hospital_name"].(string); s == "" {
				parts := strings.SplitN(src, "|", 2)
				fac["doctor_name"] = strings.TrimSpace(parts[0])
				fac["hospital_name"] = strings.TrimSpace(parts[1])
			}
		}
	}

	var diseases []interface{}
	seen := make(map[string]bool)
	if list, ok := output["diagnosis"].([]interface{}); ok {
		for _, item := range list {
			if d, ok := item.(map[string]interface{}); ok {
				name, _ := d["name"].(string)
				if name != "" && !seen[strings.ToLower(name)] {
					seen[strings.ToLower(name)] = true
					diseases = append(diseases, map[string]interface{}{"name": name})
				}
			}
		}
	}

	labs := labResults(output["data"])
	for _, name := range inferDiseases(labs) {
		if !seen[strings.ToLower(name)] {
			seen[strings.ToLower(name)] = true
			diseases = append(diseases, map[string]interface{}{"name": name})
		}
	}
	out["diseases"] = diseases

	var results []interface{}
	for _, l := range labs {
		results = append(results, map[string]interface{}{
			"test":         l.Test,
			"value":        l.Value,
			"unit":         l.Unit,
			"normal_range": l.Range,
			"is_abnormal":  l.Abnormal(),
		})
	}
	out["lab_results"] = results
	if meds, ok := output["medications"]; ok {
		out["medications"] = meds
	}
	if sym, ok := output["symptoms"]; ok {
		out["symptoms"] = sym
	}
	if vit, ok := output["labVitals"]; ok {
		out["vitals"] = vit
	}
	return out
}

// firstPIIPage returns the first page of the first file. Prescriptions list
// pages; lab reports key them by page number.
func firstPIIPage(pii interface{}) map[string]interface{} {
	files, ok := pii.(map[string]interface{})
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch pages := files[k].(type) {
		case []interface{}:
			for _, p := range pages {
				if m, ok := p.(map[string]interface{}); ok {
					return m
				}
			}
		case map[string]interface{}:
			pk := make([]string, 0, len(pages))
			for n := range pages {
				pk = append(pk, n)
			}
			sort.Strings(pk)
			for _, n := range pk {
				if m, ok := pages[n].(map[string]interface{}); ok {
					return m
				}
			}
		}
		return nil
	}
	return nil
}

func piiAge(v interface{}) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		if y, ok := m["Years"]; ok {
			return y
		}
		return m["years"]
	}
	return v
}

type labResult struct {
	Test  string
	Value string
	Unit  string
	Range string
}

var (
	numberPattern = regexp.MustCompile(`[\d.]+`)
	rangePattern  = regexp.MustCompile(`([\d.]+)\s*-\s*([\d.]+)`)
)

// bounds returns the value and the normal range, if all three parse.
func (l labResult) bounds() (value, low, high float64, ok bool) {
	v := numberPattern.FindString(l.Value)
	m := rangePattern.FindStringSubmatch(l.Range)
	if v == "" || m == nil {
		return 0, 0, 0, false
	}
	var err error
	if value, err = strconv.ParseFloat(v, 64); err != nil {
		return 0, 0, 0, false
	}
	if low, err = strconv.ParseFloat(m[1], 64); err != nil {
		return 0, 0, 0, false
	}
	if high, err = strconv.ParseFloat(m[2], 64); err != nil {
		return 0, 0, 0, false
	}
	return value, low, high, true
}

func (l labResult) Abnormal() bool {
	v, low, high, ok := l.bounds()
	return ok && (v < low || v > high)
}

func labResults(v interface{}) []labResult {
	tests, _ := v.([]interface{})
	var out []labResult
	for _, item := range tests {
		t, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		raw, _ := t["data"].(map[string]interface{})
		norm, _ := t["normalised_data"].(map[string]interface{})
		pick := func(keys ...string) string {
			for _, src := range []map[string]interface{}{norm, raw} {
				for _, k := range keys {
					if s := fmt.Sprint(src[k]); src[k] != nil && s != "" {
						return s
					}
				}
			}
			return ""
		}
		name, _ := t["test_name"].(string)
		out = append(out, labResult{
			Test:  name,
			Value: pick("value"),
			Unit:  pick("unit", "unit_processed"),
			Range: pick("normal_range_eka", "normal_range_report", "display_range"),
		})
	}
	return out
}

type labRule struct {
	key  string
	high string
	low  string
}

// labRules map an out-of-range test, matched by substring, to a likely condition.
var labRules = []labRule{
	{key: "hba1c", high: "Diabetes Mellitus"},
	{key: "fasting_glucose", high: "Diabetes Mellitus"},
	{key: "blood_sugar", high: "Diabetes Mellitus"},
	{key: "creatinine", high: "Chronic Kidney Disease"},
	{key: "hemoglobin", low: "Anemia"},
	{key: "tsh", high: "Hypothyroidism", low: "Hyperthyroidism"},
	{key: "cholesterol", high: "Hyperlipidemia"},
	{key: "ldl", high: "Hyperlipidemia"},
	{key: "triglycerides", high: "Hypertriglyceridemia"},
	{key: "uric_acid", high: "Hyperuricemia"},
	{key: "bilirubin", high: "Liver Disease"},
	{key: "sgpt", high: "Liver Disease"},
	{key: "sgot", high: "Liver Disease"},
}

func inferDiseases(labs []labResult) []string {
	var out []string
	seen := make(map[string]bool)
	for _, l := range labs {
		v, low, high, ok := l.bounds()
		if !ok || (v >= low && v <= high) {
			continue
		}
		test := strings.ReplaceAll(strings.ToLower(l.Test), " ", "_")
		for _, rule := range labRules {
			if !strings.Contains(test, rule.key) {
				continue
			}
			name := rule.low
			if v > high {
				name = rule.high
			}
			if name != "" && !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}
