package processing

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/healthbridge/internal/extractor"
	"github.com/jwalitptl/healthbridge/internal/ingestion"
	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/repository/repotest"
	"github.com/jwalitptl/healthbridge/internal/service/event"
	apperrors "github.com/jwalitptl/healthbridge/pkg/errors"
	"github.com/jwalitptl/healthbridge/pkg/metrics"
)

type stubExtractor struct {
	name string
	data map[string]interface{}
	err  error
}

func (s *stubExtractor) Name() string                 { return s.name }
func (s *stubExtractor) Available() bool              { return true }
func (s *stubExtractor) Accepts(extractor.Input) bool { return true }
func (s *stubExtractor) Extract(context.Context, extractor.Input) (*extractor.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &extractor.Result{Service: s.name, Data: s.data}, nil
}

func newTestService(extractors ...extractor.Extractor) (*Service, *repotest.Store) {
	store := repotest.NewStore()
	m := metrics.NewUnregistered()
	pipeline := ingestion.NewPipeline(m, extractors...)
	events := event.NewEventService(store.OutboxRepository())
	return NewService(pipeline, store.PatientRepository(), events, m), store
}

const batchCSV = "Patient Name,Age,Sex,Mobile,City,State,Diagnosis\n" +
	"Asha Verma,34,F,9876543210,Pune,Maharashtra,Dengue\n" +
	"Ravi Kumar,45,M,9876500001,Patna,Bihar,Malaria\n" +
	",52,F,9876500002,Jaipur,Rajasthan,Malaria\n" +
	"Meera Nair,29,F,,Kochi,Kerala,Typhoid\n" +
	"Anil Sharma,61,M,9876500004,Indore,Madhya Pradesh,COPD\n" +
	"Sunita Devi,8,F,9876500005,Patna,Bihar,Dengue\n" +
	"   ,40,M,9876500006,Delhi,Delhi,Tuberculosis\n" +
	"Kiran Rao,17,O,9876500007,Hyderabad,Telangana,Asthma\n" +
	"Vikram Singh,72,M,9876500008,Lucknow,Uttar Pradesh,Anemia\n" +
	"Pooja Iyer,38,F,9876500009,Chennai,Tamil Nadu,Anemia\n"

func TestProcessBatch(t *testing.T) {
	svc, store := newTestService()

	res, err := svc.ProcessBatch(context.Background(), ingestion.Request{
		Filename:    "patients.csv",
		ContentType: "text/csv",
		Data:        []byte(batchCSV),
	})
	require.NoError(t, err)

	assert.Equal(t, 10, res.TotalRecords)
	assert.Equal(t, 8, res.ProcessedCount)
	assert.Equal(t, 2, res.FailedCount)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 3, res.Errors[0].Row)
	assert.Equal(t, 7, res.Errors[1].Row)
	assert.Len(t, res.Patients, 8)

	assert.Len(t, store.Patients, 8)
	require.Len(t, store.Events, 1)
	assert.Equal(t, model.EventDataChanged, store.Events[0].EventType)
}

func TestProcessBatch_UnreadableFile(t *testing.T) {
	svc, store := newTestService()

	_, err := svc.ProcessBatch(context.Background(), ingestion.Request{
		Filename:    "records.json",
		ContentType: "application/json",
		Data:        []byte("{not json"),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, apperrors.Status(err))
	assert.Empty(t, store.Patients)
}

func TestUpsertPatients_MatchesAndCountsDistinctPatients(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	age := 34
	drafts := []ingestion.PatientDraft{
		{Name: "Asha Verma", Age: &age, Phone: "9876543210", Diseases: []ingestion.DiseaseDraft{{Name: "Dengue"}}},
		{Name: "asha verma", Phone: "9876543210", City: "Pune", Diseases: []ingestion.DiseaseDraft{{Name: "dengue", ICDCode: "A90"}, {Name: "Typhoid"}}},
		{Name: "Ravi Kumar", Diseases: []ingestion.DiseaseDraft{{Name: "Dengue"}}},
	}
	patients, errs := svc.UpsertPatients(ctx, drafts, nil)
	require.NoError(t, errors.Join(errs...))
	require.Len(t, patients, 3)

	assert.Len(t, store.Patients, 2)
	assert.Equal(t, patients[0].ID, patients[1].ID)

	merged, err := store.PatientRepository().Get(ctx, patients[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Pune", merged.City)
	require.NotNil(t, merged.Age)
	assert.Equal(t, 34, *merged.Age)
	assert.ElementsMatch(t, []string{"Dengue", "Typhoid"}, merged.Diseases)

	diseases, err := store.DiseaseRepository().List(ctx)
	require.NoError(t, err)
	counts := map[string]int{}
	for _, d := range diseases {
		counts[d.Name] = d.PatientCount
		if d.Name == "Dengue" {
			assert.Equal(t, "A90", d.ICDCode)
		}
	}
	assert.Equal(t, map[string]int{"Dengue": 2, "Typhoid": 1}, counts)
}

func TestUpsertPatients_ConcurrentSamePatient(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	draft := ingestion.PatientDraft{Name: "Asha Verma", Phone: "9876543210", Diseases: []ingestion.DiseaseDraft{{Name: "Dengue"}}}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs := svc.UpsertPatients(ctx, []ingestion.PatientDraft{draft}, nil)
			assert.NoError(t, errors.Join(errs...))
		}()
	}
	wg.Wait()

	assert.Len(t, store.Patients, 1)
	assert.Len(t, store.Links, 1)
}

func TestUpsertPatients_FailedLinkRollsBack(t *testing.T) {
	svc, store := newTestService()

	drafts := []ingestion.PatientDraft{
		{Name: "Ravi Kumar", Diseases: []ingestion.DiseaseDraft{{Name: "Malaria"}, {Name: "  "}}},
		{Name: "Meera Nair", Diseases: []ingestion.DiseaseDraft{{Name: "Typhoid"}}},
	}
	patients, errs := svc.UpsertPatients(context.Background(), drafts, nil)
	require.Len(t, errs, 2)
	assert.Error(t, errs[0])
	assert.NoError(t, errs[1])
	require.Len(t, patients, 1)
	assert.Equal(t, "Meera Nair", patients[0].Name)

	assert.Len(t, store.Patients, 1)
	assert.Len(t, store.Links, 1)
	assert.Len(t, store.Diseases, 1)
}

func TestProcessText(t *testing.T) {
	gemini := &stubExtractor{name: extractor.ServiceGemini, data: map[string]interface{}{
		"patient":  map[string]interface{}{"name": "Meera Nair", "age": "29 years", "gender": "F"},
		"diseases": []interface{}{"Typhoid", map[string]interface{}{"name": "typhoid"}},
	}}
	svc, store := newTestService(gemini)

	res, err := svc.ProcessText(context.Background(), TextRequest{
		Text:         "Patient Meera Nair, 29F, diagnosed with typhoid",
		HospitalName: "City Clinic",
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, ingestion.TypeClinicalText, res.DocumentType)
	assert.Equal(t, "ai_extraction", res.ProcessingMethod)
	assert.Equal(t, []string{extractor.ServiceGemini}, res.ServicesTried)
	assert.Equal(t, 1, res.PatientsCreated)
	assert.Equal(t, []string{"Typhoid"}, res.DiseasesFound)

	require.Len(t, store.Patients, 1)
	for _, p := range store.Patients {
		assert.Equal(t, "City Clinic", p.HospitalClinic)
		assert.Equal(t, model.GenderFemale, p.Gender)
	}
}

func TestProcessText_Empty(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.ProcessText(context.Background(), TextRequest{Text: "  "})
	assert.Equal(t, http.StatusBadRequest, apperrors.Status(err))
}

func TestProcessDocument_ExtractionFailure(t *testing.T) {
	gemini := &stubExtractor{name: extractor.ServiceGemini, err: errors.New("quota exceeded")}
	openai := &stubExtractor{name: extractor.ServiceOpenAI, err: errors.New("timeout")}
	svc, store := newTestService(gemini, openai)

	res, err := svc.ProcessDocument(context.Background(), ingestion.Request{
		Text: "Patient complains of fever and chills",
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, apperrors.Status(err))
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, []string{extractor.ServiceGemini, extractor.ServiceOpenAI}, res.ServicesTried)
	assert.Contains(t, res.Error, "quota exceeded")
	assert.Empty(t, store.Patients)
	assert.Empty(t, store.Events)
}

func TestStatus(t *testing.T) {
	svc, _ := newTestService(&stubExtractor{name: extractor.ServiceGemini})

	st := svc.Status()
	assert.True(t, st.Services[extractor.ServiceDirectParser])
	assert.True(t, st.Services[extractor.ServiceGemini])
	assert.False(t, st.Services[extractor.ServiceEkaLab])
	assert.Contains(t, st.SupportedFormats, "csv")
}
