package extractor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	DefaultOpenAIModel = "gpt-4o"
	openAIMaxTokens    = 2000
	openAIMaxRetries   = 1
)

type chatCompleter interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAI is the last-resort extractor. It accepts text and images; PDFs are
// left to services that can read them.
type OpenAI struct {
	completions chatCompleter
	model       string
}

// NewOpenAI returns an unavailable extractor when no API key is set.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	o := &OpenAI{model: cfg.Model}
	if o.model == "" {
		o.model = DefaultOpenAIModel
	}
	if cfg.APIKey == "" {
		return o
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(openAIMaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	client := openai.NewClient(opts...)
	o.completions = &client.Chat.Completions
	return o
}

func (o *OpenAI) Name() string    { return ServiceOpenAI }
func (o *OpenAI) Available() bool { return o.completions != nil }

func (o *OpenAI) Accepts(in Input) bool {
	return in.IsText() || strings.HasPrefix(in.MIMEType, "image/")
}

func (o *OpenAI) params(in Input) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(o.model),
		MaxTokens: openai.Int(openAIMaxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if in.IsText() {
		params.Messages = []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(promptFor(in.DocumentType)),
			openai.UserMessage("Extract medical information from this clinical text:\n\n" + in.Text),
		}
		return params
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", in.MIMEType, base64.StdEncoding.EncodeToString(in.Data))
	params.Messages = []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(promptFor(in.DocumentType)),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
		}),
	}
	return params
}

func (o *OpenAI) Extract(ctx context.Context, in Input) (*Result, error) {
	if !o.Available() {
		return nil, ErrNotConfigured
	}
	if !o.Accepts(in) {
		return nil, ErrUnsupportedInput
	}

	resp, err := o.completions.New(ctx, o.params(in))
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Service: ServiceOpenAI, StatusCode: apiErr.StatusCode, Body: snippet([]byte(apiErr.Message))}
		}
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	text := resp.Choices[0].Message.Content
	data, err := ParseJSONText(text)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	res := &Result{
		Service: ServiceOpenAI,
		Data:    data,
		Text:    text,
	}
	if raw := resp.RawJSON(); raw != "" && json.Valid([]byte(raw)) {
		res.Raw = json.RawMessage(raw)
	}
	return res, nil
}
