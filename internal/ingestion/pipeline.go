package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/healthbridge/internal/extractor"
	"github.com/jwalitptl/healthbridge/pkg/circuitbreaker"
	"github.com/jwalitptl/healthbridge/pkg/metrics"
)

// DefaultChains lists, per document type, the services tried in order.
var DefaultChains = map[DocumentType][]string{
	TypeLabReport:      {extractor.ServiceEkaLab, extractor.ServiceGemini, extractor.ServiceOpenAI},
	TypePrescription:   {extractor.ServiceGemini, extractor.ServiceOpenAI},
	TypeClinicalText:   {extractor.ServiceEkaScribe, extractor.ServiceGemini, extractor.ServiceOpenAI},
	TypeStructuredData: {extractor.ServiceDirectParser},
	TypeUnknown:        {extractor.ServiceGemini, extractor.ServiceOpenAI},
}

// Request is one unit of work: file bytes, or raw text when Data is empty.
type Request struct {
	Filename      string
	ContentType   string
	Data          []byte
	Text          string
	Hint          string
	Hospital      string
	Location      string
	ColumnMapping map[string]string
}

// Outcome is what a pipeline run produced. It is returned alongside an error
// too, so callers can log which services were attempted.
type Outcome struct {
	Classification Classification
	ServicesTried  []string
	ServiceUsed    string
	Drafts         []PatientDraft
	Batch          *Batch
	Result         *extractor.Result
	Errors         []string
}

// ProcessingMethod describes how the drafts were obtained.
func (o *Outcome) ProcessingMethod() string {
	if o.ServiceUsed == extractor.ServiceDirectParser {
		return "direct_parse"
	}
	return "ai_extraction"
}

// DiseasesFound returns the distinct disease names across all drafts.
func (o *Outcome) DiseasesFound() []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, d := range o.Drafts {
		for _, name := range d.DiseaseNames() {
			if key := strings.ToLower(name); !seen[key] {
				seen[key] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// ExtractionError means no service in the chain produced a result.
type ExtractionError struct {
	DocumentType  DocumentType
	ServicesTried []string
	Errors        []string
}

func (e *ExtractionError) Error() string {
	if len(e.ServicesTried) == 0 {
		return fmt.Sprintf("no extraction service available for %s", e.DocumentType)
	}
	return "all services failed: " + strings.Join(e.Errors, "; ")
}

// Pipeline classifies input and runs it through the matching extractor
// chain, falling back on failure.
type Pipeline struct {
	extractors map[string]extractor.Extractor
	breakers   map[string]*circuitbreaker.CircuitBreaker
	chains     map[DocumentType][]string
	metrics    *metrics.Metrics
}

func NewPipeline(m *metrics.Metrics, extractors ...extractor.Extractor) *Pipeline {
	p := &Pipeline{
		extractors: make(map[string]extractor.Extractor),
		breakers:   make(map[string]*circuitbreaker.CircuitBreaker),
		chains:     DefaultChains,
		metrics:    m,
	}
	for _, e := range extractors {
		p.extractors[e.Name()] = e
		p.breakers[e.Name()] = circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        e.Name(),
			MaxFailures: 5,
			Timeout:     time.Minute,
		})
	}
	return p
}

// Sub-service keys reported by Services next to the extractor names.
const (
	ServiceOCR        = "ocr"
	ServiceClassifier = "classifier"
	ServiceNormalizer = "normalizer"
)

var ocrInputs = []extractor.Input{
	{Data: []byte{0}, MIMEType: "image/png"},
	{Data: []byte{0}, MIMEType: "application/pdf"},
}

// Services reports whether each known service can currently be used. OCR
// is up when any available extractor reads images or PDFs; classification
// and normalization run in process.
func (p *Pipeline) Services() map[string]bool {
	out := map[string]bool{
		extractor.ServiceDirectParser: true,
		ServiceOCR:                    false,
		ServiceClassifier:             true,
		ServiceNormalizer:             true,
	}
	for _, name := range []string{extractor.ServiceEkaLab, extractor.ServiceEkaScribe, extractor.ServiceGemini, extractor.ServiceOpenAI} {
		e, ok := p.extractors[name]
		out[name] = ok && e.Available()
		if !out[name] {
			continue
		}
		for _, in := range ocrInputs {
			if e.Accepts(in) {
				out[ServiceOCR] = true
			}
		}
	}
	return out
}

func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	text := req.Text
	if len(req.Data) == 0 && strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("nothing to process: no file and no text")
	}

	var cls Classification
	if len(req.Data) == 0 {
		cls = Classify("", "text/plain", []byte(text), req.Hint)
	} else {
		cls = Classify(req.Filename, req.ContentType, req.Data, req.Hint)
		if cls.Category == CategoryText {
			text = string(req.Data)
		}
	}

	out := &Outcome{Classification: cls}
	if cls.Type == TypeStructuredData {
		return p.runDirect(req, out)
	}

	in := extractor.Input{
		MIMEType:     cls.MIMEType,
		Filename:     req.Filename,
		DocumentType: string(cls.Type),
	}
	if cls.Category == CategoryText || len(req.Data) == 0 {
		in.Text = text
	} else {
		in.Data = req.Data
	}

	for _, name := range p.chains[cls.Type] {
		e, ok := p.extractors[name]
		if !ok || !e.Available() || !e.Accepts(in) {
			continue
		}
		out.ServicesTried = append(out.ServicesTried, name)

		res, err := p.call(ctx, e, in)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", name, err))
			log.Warn().Err(err).Str("service", name).Str("document_type", string(cls.Type)).Msg("extraction service failed, trying next")
			if ctx.Err() != nil {
				break
			}
			continue
		}

		out.ServiceUsed = name
		out.Result = res
		draft := Reconcile(res.Data)
		draft.ApplyDefaults(req.Hospital, req.Location)
		if draft.Name != "" {
			out.Drafts = append(out.Drafts, draft)
		}
		return out, nil
	}

	return out, &ExtractionError{DocumentType: cls.Type, ServicesTried: out.ServicesTried, Errors: out.Errors}
}

func (p *Pipeline) call(ctx context.Context, e extractor.Extractor, in extractor.Input) (*extractor.Result, error) {
	start := time.Now()
	var res *extractor.Result
	err := p.breakers[e.Name()].Execute(func() error {
		var err error
		res, err = e.Extract(ctx, in)
		return err
	})

	result := "success"
	if err != nil {
		result = "failure"
	}
	if p.metrics != nil {
		p.metrics.ExtractorCalls.WithLabelValues(e.Name(), result).Inc()
		p.metrics.ExtractionLatency.WithLabelValues(e.Name()).Observe(time.Since(start).Seconds())
	}
	return res, err
}

func (p *Pipeline) runDirect(req Request, out *Outcome) (*Outcome, error) {
	out.ServicesTried = []string{extractor.ServiceDirectParser}

	batch, err := ParseBatch(req.Filename, req.ContentType, req.Data, req.ColumnMapping)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", extractor.ServiceDirectParser, err))
		return out, err
	}

	out.ServiceUsed = extractor.ServiceDirectParser
	out.Batch = batch
	for i := range batch.Rows {
		if batch.Rows[i].Err == nil {
			batch.Rows[i].Draft.ApplyDefaults(req.Hospital, req.Location)
			out.Drafts = append(out.Drafts, batch.Rows[i].Draft)
		}
	}
	if p.metrics != nil {
		p.metrics.BatchRows.WithLabelValues("ok").Add(float64(len(out.Drafts)))
		p.metrics.BatchRows.WithLabelValues("failed").Add(float64(len(batch.Rows) - len(out.Drafts)))
	}
	return out, nil
}
