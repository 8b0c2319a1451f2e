// Package extractor holds the clients for the external OCR/LLM services that
// turn documents and clinical text into loosely structured patient data.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Service names as recorded in processing logs and services_tried.
const (
	ServiceEkaLab       = "eka_lab"
	ServiceEkaScribe    = "eka_scribe"
	ServiceGemini       = "gemini"
	ServiceOpenAI       = "openai"
	ServiceDirectParser = "direct_parser"
)

var (
	ErrNotConfigured    = errors.New("extraction service is not configured")
	ErrUnsupportedInput = errors.New("extraction service does not accept this input")
	ErrEmptyResponse    = errors.New("extraction service returned no data")
)

// Input is one unit handed to an extractor: either file bytes or text.
type Input struct {
	Data         []byte
	MIMEType     string
	Filename     string
	Text         string
	DocumentType string
}

func (in Input) IsText() bool {
	return len(in.Data) == 0
}

// Result is the structured guess from one service. Data is fed to field
// reconciliation; Raw keeps the unmodified service response for auditing.
type Result struct {
	Service string                 `json:"service"`
	Data    map[string]interface{} `json:"data"`
	Raw     json.RawMessage        `json:"raw,omitempty"`
	Text    string                 `json:"text,omitempty"`
}

type Extractor interface {
	Name() string
	// Available reports whether the service has the credentials or URL it needs.
	Available() bool
	Accepts(in Input) bool
	Extract(ctx context.Context, in Input) (*Result, error)
}

var (
	fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	bareObject = regexp.MustCompile(`(?s)\{.*\}`)
)

// ParseJSONText decodes a model reply that should be a JSON object but may be
// wrapped in a markdown fence or surrounded by prose.
func ParseJSONText(text string) (map[string]interface{}, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, nil
	}
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &out); err == nil {
			return out, nil
		}
	}
	if m := bareObject.FindString(text); m != "" {
		if err := json.Unmarshal([]byte(m), &out); err == nil {
			return out, nil
		}
	}
	return nil, errors.New("could not parse JSON from model response")
}

func isImageOrPDF(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/") || mimeType == "application/pdf"
}
