package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type EkaScribeConfig struct {
	URL     string
	Timeout time.Duration
}

// EkaScribe turns free clinical text into an EMR template. It needs no key,
// only a reachable URL.
type EkaScribe struct {
	url    string
	client httpDoer
}

func NewEkaScribe(cfg EkaScribeConfig) *EkaScribe {
	return &EkaScribe{url: cfg.URL, client: newHTTPClient(cfg.Timeout)}
}

func (e *EkaScribe) Name() string          { return ServiceEkaScribe }
func (e *EkaScribe) Available() bool       { return e.url != "" }
func (e *EkaScribe) Accepts(in Input) bool { return in.IsText() && strings.TrimSpace(in.Text) != "" }

func (e *EkaScribe) Extract(ctx context.Context, in Input) (*Result, error) {
	if !e.Available() {
		return nil, ErrNotConfigured
	}
	if !e.Accepts(in) {
		return nil, ErrUnsupportedInput
	}

	body, err := postJSON(ctx, e.client, ServiceEkaScribe, e.url, nil, map[string]string{
		"transcript":    in.Text,
		"model_type":    "pro",
		"txn_id":        "healthbridge",
		"response_type": "json",
	})
	if err != nil {
		return nil, err
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode eka_scribe response: %w", err)
	}
	return &Result{
		Service: ServiceEkaScribe,
		Data:    scribeData(resp),
		Raw:     body,
	}, nil
}

// scribeData merges diagnoses with conditions/medical history, which the
// template reports separately, into one diseases list.
func scribeData(resp map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(resp)+1)
	for k, v := range resp {
		out[k] = v
	}

	var diseases []interface{}
	seen := make(map[string]bool)
	add := func(name string, v interface{}) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		diseases = append(diseases, v)
	}

	for _, key := range []string{"diagnosis", "diagnoses", "conditions", "medical_history"} {
		list, ok := resp[key].([]interface{})
		if !ok {
			continue
		}
		for _, item := range list {
			switch t := item.(type) {
			case string:
				add(t, strings.TrimSpace(t))
			case map[string]interface{}:
				name, _ := t["name"].(string)
				if name == "" {
					name, _ = t["diagnosis"].(string)
				}
				add(name, t)
			}
		}
	}
	if len(diseases) > 0 {
		out["diseases"] = diseases
	}
	return out
}
