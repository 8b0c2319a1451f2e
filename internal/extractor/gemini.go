package extractor

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

// Gemini extracts from images, PDFs and text with a single multimodal call.
type Gemini struct {
	models contentGenerator
	model  string
}

// NewGemini returns an unavailable extractor when no API key is set.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	g := &Gemini{model: cfg.Model}
	if g.model == "" {
		g.model = DefaultGeminiModel
	}
	if cfg.APIKey == "" {
		return g, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.models = client.Models
	return g, nil
}

func (g *Gemini) Name() string    { return ServiceGemini }
func (g *Gemini) Available() bool { return g.models != nil }

func (g *Gemini) Accepts(in Input) bool {
	return in.IsText() || isImageOrPDF(in.MIMEType)
}

func (g *Gemini) Extract(ctx context.Context, in Input) (*Result, error) {
	if !g.Available() {
		return nil, ErrNotConfigured
	}
	if !g.Accepts(in) {
		return nil, ErrUnsupportedInput
	}

	var parts []*genai.Part
	if in.IsText() {
		parts = []*genai.Part{{Text: textPrompt(in.DocumentType, in.Text)}}
	} else {
		parts = []*genai.Part{
			{Text: promptFor(in.DocumentType)},
			{
				InlineData: &genai.Blob{
					Data:     in.Data,
					MIMEType: in.MIMEType,
				},
			},
		}
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generate content failed: %w", err)
	}

	text := resp.Text()
	data, err := ParseJSONText(text)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	raw, _ := json.Marshal(data)

	return &Result{
		Service: ServiceGemini,
		Data:    data,
		Raw:     raw,
		Text:    text,
	}, nil
}
