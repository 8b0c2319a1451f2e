package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/healthbridge/internal/extractor"
	"github.com/jwalitptl/healthbridge/internal/ingestion"
	"github.com/jwalitptl/healthbridge/internal/repository/repotest"
	"github.com/jwalitptl/healthbridge/internal/service/event"
	"github.com/jwalitptl/healthbridge/internal/service/processing"
	"github.com/jwalitptl/healthbridge/pkg/metrics"
)

type stubExtractor struct {
	data map[string]interface{}
	err  error
}

func (s *stubExtractor) Name() string                 { return extractor.ServiceGemini }
func (s *stubExtractor) Available() bool              { return true }
func (s *stubExtractor) Accepts(extractor.Input) bool { return true }
func (s *stubExtractor) Extract(context.Context, extractor.Input) (*extractor.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &extractor.Result{Service: extractor.ServiceGemini, Data: s.data}, nil
}

type envelope struct {
	Status  string                    `json:"status"`
	Message string                    `json:"message"`
	Data    processing.DocumentResult `json:"data"`
}

func setupRouter(t *testing.T, ext extractor.Extractor) (*gin.Engine, *repotest.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repotest.NewStore()
	m := metrics.NewUnregistered()
	var extractors []extractor.Extractor
	if ext != nil {
		extractors = append(extractors, ext)
	}
	svc := processing.NewService(ingestion.NewPipeline(m, extractors...),
		store.PatientRepository(),
		event.NewEventService(store.OutboxRepository()), m)

	r := gin.New()
	NewHandler(svc, 1<<20).RegisterRoutes(r.Group("/api/v1"))
	return r, store
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestProcessText(t *testing.T) {
	r, store := setupRouter(t, &stubExtractor{data: map[string]interface{}{
		"patient":   map[string]interface{}{"name": "Asha Verma", "age": "34 years", "phone_number": "98765 43210"},
		"diagnoses": []interface{}{"Dengue", map[string]interface{}{"name": "dengue"}},
	}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/process/text",
		strings.NewReader(`{"text":"34F with fever, NS1 positive","hospital_name":"City Clinic"}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Data.Success)
	assert.Equal(t, 1, env.Data.PatientsCreated)
	assert.Equal(t, []string{"Dengue"}, env.Data.DiseasesFound)
	assert.Len(t, store.Patients, 1)
}

func TestProcessText_MissingText(t *testing.T) {
	r, _ := setupRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/process/text", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, serve(r, req).Code)
}

func TestProcessDocument_ExtractionFailure(t *testing.T) {
	r, store := setupRouter(t, &stubExtractor{err: errors.New("quota exceeded")})

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("text", "patient complains of headache"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/process/document", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := serve(r, req)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "error", env.Status)
	assert.False(t, env.Data.Success)
	assert.Contains(t, env.Data.ServicesTried, extractor.ServiceGemini)
	assert.Empty(t, store.Patients)
}

func csvForm(t *testing.T, csv string, fields map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("file", "register.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/process/document", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestProcessDocument_ColumnMapping(t *testing.T) {
	r, store := setupRouter(t, nil)
	const register = "Naam,Umar,Rog\nKiran Rao,17,Asthma\n"

	w := serve(r, csvForm(t, register, map[string]string{
		"column_mapping": `{"name":"Naam","age":"Umar","disease":"Rog"}`,
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Data.Success)
	assert.Equal(t, 1, env.Data.PatientsCreated)
	assert.Equal(t, []string{"Asthma"}, env.Data.DiseasesFound)
	assert.Len(t, store.Patients, 1)

	w = serve(r, csvForm(t, register, map[string]string{"column_mapping": `["name"]`}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessDocument_RequiresInput(t *testing.T) {
	r, _ := setupRouter(t, nil)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/process/document", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, serve(r, req).Code)
}

func TestProcessBatch(t *testing.T) {
	r, store := setupRouter(t, nil)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", "patients.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("name,age,diagnosis\nAsha Verma,34,Dengue\n,40,Malaria\nRavi Kumar,45,Malaria\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/process/batch", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var env struct {
		Data processing.BatchResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, 3, env.Data.TotalRecords)
	assert.Equal(t, 2, env.Data.ProcessedCount)
	assert.Equal(t, 1, env.Data.FailedCount)
	require.Len(t, env.Data.Errors, 1)
	assert.Equal(t, 2, env.Data.Errors[0].Row)
	assert.Len(t, store.Patients, 2)
}

func TestStatus(t *testing.T) {
	r, _ := setupRouter(t, &stubExtractor{})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/process/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var env struct {
		Data processing.StatusResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Data.Services["direct_parser"])
	assert.True(t, env.Data.Services[extractor.ServiceGemini])
	assert.True(t, env.Data.Services["ocr"])
	assert.True(t, env.Data.Services["classifier"])
	assert.True(t, env.Data.Services["normalizer"])
	assert.False(t, env.Data.Services[extractor.ServiceEkaLab])
	assert.Contains(t, env.Data.SupportedFormats, "csv")
}

func TestStatus_NoOCRWithoutExtractors(t *testing.T) {
	r, _ := setupRouter(t, nil)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/process/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var env struct {
		Data processing.StatusResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.False(t, env.Data.Services["ocr"])
	assert.True(t, env.Data.Services["classifier"])
	assert.True(t, env.Data.Services["normalizer"])
}
