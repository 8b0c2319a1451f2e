package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/healthbridge/internal/extractor"
	"github.com/jwalitptl/healthbridge/pkg/metrics"
)

type fakeExtractor struct {
	name      string
	available bool
	textOnly  bool
	data      map[string]interface{}
	err       error
	calls     int
	lastInput extractor.Input
}

func (f *fakeExtractor) Name() string    { return f.name }
func (f *fakeExtractor) Available() bool { return f.available }

func (f *fakeExtractor) Accepts(in extractor.Input) bool {
	return !f.textOnly || in.IsText()
}

func (f *fakeExtractor) Extract(_ context.Context, in extractor.Input) (*extractor.Result, error) {
	f.calls++
	f.lastInput = in
	if f.err != nil {
		return nil, f.err
	}
	return &extractor.Result{Service: f.name, Data: f.data}, nil
}

func patientData(name string, diseases ...interface{}) map[string]interface{} {
	return map[string]interface{}{
		"patient":  map[string]interface{}{"name": name, "age": float64(40)},
		"diseases": diseases,
	}
}

func TestPipeline_FallsBackThroughChain(t *testing.T) {
	eka := &fakeExtractor{name: extractor.ServiceEkaLab, available: true, err: errors.New("HTTP 500")}
	gemini := &fakeExtractor{name: extractor.ServiceGemini, available: true, data: patientData("Asha", "Anemia", "anemia")}
	openai := &fakeExtractor{name: extractor.ServiceOpenAI, available: true}

	p := NewPipeline(metrics.NewUnregistered(), eka, gemini, openai)
	out, err := p.Run(context.Background(), Request{
		Filename:    "scan.png",
		ContentType: "image/png",
		Data:        pngMagic,
		Hint:        "printed_lab",
		Hospital:    "Camp Clinic",
		Location:    "Ward 3",
	})
	require.NoError(t, err)

	assert.Equal(t, TypeLabReport, out.Classification.Type)
	assert.Equal(t, []string{extractor.ServiceEkaLab, extractor.ServiceGemini}, out.ServicesTried)
	assert.Equal(t, extractor.ServiceGemini, out.ServiceUsed)
	assert.Equal(t, "ai_extraction", out.ProcessingMethod())
	assert.Zero(t, openai.calls)
	require.Len(t, out.Drafts, 1)
	assert.Equal(t, "Camp Clinic", out.Drafts[0].Hospital)
	assert.Equal(t, "Ward 3", out.Drafts[0].Location)
	assert.Equal(t, []string{"Anemia"}, out.DiseasesFound())
	assert.Len(t, out.Errors, 1)
	assert.Equal(t, pngMagic, gemini.lastInput.Data)
}

func TestPipeline_SkipsUnavailableAndUnsupported(t *testing.T) {
	scribe := &fakeExtractor{name: extractor.ServiceEkaScribe, available: false}
	gemini := &fakeExtractor{name: extractor.ServiceGemini, available: true, data: patientData("Ravi", "Dengue")}

	p := NewPipeline(nil, scribe, gemini)
	out, err := p.Run(context.Background(), Request{Text: "Patient Ravi, chief complaint fever, diagnosis dengue"})
	require.NoError(t, err)

	assert.Equal(t, TypeClinicalText, out.Classification.Type)
	assert.Equal(t, []string{extractor.ServiceGemini}, out.ServicesTried)
	assert.Equal(t, "Patient Ravi, chief complaint fever, diagnosis dengue", gemini.lastInput.Text)
	assert.Zero(t, scribe.calls)
}

func TestPipeline_AllFail(t *testing.T) {
	gemini := &fakeExtractor{name: extractor.ServiceGemini, available: true, err: errors.New("quota")}
	openai := &fakeExtractor{name: extractor.ServiceOpenAI, available: true, err: errors.New("timeout")}

	p := NewPipeline(nil, gemini, openai)
	out, err := p.Run(context.Background(), Request{Filename: "rx.png", ContentType: "image/png", Data: pngMagic})

	var extErr *ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "all services failed: gemini: quota; openai: timeout", err.Error())
	assert.Equal(t, []string{extractor.ServiceGemini, extractor.ServiceOpenAI}, out.ServicesTried)
	assert.Empty(t, out.ServiceUsed)
}

func TestPipeline_NoServiceConfigured(t *testing.T) {
	p := NewPipeline(nil)
	_, err := p.Run(context.Background(), Request{Text: "fever"})
	require.Error(t, err)
	assert.Equal(t, "no extraction service available for clinical_text", err.Error())
}

func TestPipeline_NamelessResultYieldsNoDraft(t *testing.T) {
	gemini := &fakeExtractor{name: extractor.ServiceGemini, available: true, data: map[string]interface{}{"diseases": []interface{}{"Flu"}}}
	out, err := NewPipeline(nil, gemini).Run(context.Background(), Request{Text: "flu"})
	require.NoError(t, err)
	assert.Empty(t, out.Drafts)
	assert.Equal(t, extractor.ServiceGemini, out.ServiceUsed)
}

func TestPipeline_StructuredUsesDirectParser(t *testing.T) {
	gemini := &fakeExtractor{name: extractor.ServiceGemini, available: true}
	p := NewPipeline(nil, gemini)

	out, err := p.Run(context.Background(), Request{
		Filename:    "rows.csv",
		ContentType: "text/csv",
		Data:        []byte(tenRowCSV),
		Hospital:    "PHC Block A",
	})
	require.NoError(t, err)

	assert.Equal(t, extractor.ServiceDirectParser, out.ServiceUsed)
	assert.Equal(t, "direct_parse", out.ProcessingMethod())
	assert.Len(t, out.Drafts, 8)
	assert.Len(t, out.Batch.Errors(), 2)
	assert.Equal(t, "PHC Block A", out.Drafts[0].Hospital)
	assert.Zero(t, gemini.calls)
}

func TestPipeline_Services(t *testing.T) {
	p := NewPipeline(nil, &fakeExtractor{name: extractor.ServiceGemini, available: true})
	assert.Equal(t, map[string]bool{
		extractor.ServiceDirectParser: true,
		extractor.ServiceEkaLab:       false,
		extractor.ServiceEkaScribe:    false,
		extractor.ServiceGemini:       true,
		extractor.ServiceOpenAI:       false,
		ServiceOCR:                    true,
		ServiceClassifier:             true,
		ServiceNormalizer:             true,
	}, p.Services())

	textOnly := NewPipeline(nil, &fakeExtractor{name: extractor.ServiceEkaScribe, available: true, textOnly: true})
	assert.False(t, textOnly.Services()[ServiceOCR])
	assert.True(t, textOnly.Services()[extractor.ServiceEkaScribe])
}

func TestPipeline_EmptyRequest(t *testing.T) {
	_, err := NewPipeline(nil).Run(context.Background(), Request{Text: "  "})
	assert.Error(t, err)
}
