package patient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/repository/repotest"
	"github.com/jwalitptl/healthbridge/internal/service/event"
	"github.com/jwalitptl/healthbridge/internal/service/patient"
)

func intPtr(v int) *int { return &v }

func setupRouter(t *testing.T) (*gin.Engine, *repotest.Store, map[string]*model.Patient) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repotest.NewStore()
	svc := patient.NewService(store.PatientRepository(), store.DiseaseRepository(),
		event.NewEventService(store.OutboxRepository()))

	ctx := context.Background()
	seeded := map[string]*model.Patient{}
	for _, row := range []struct {
		p       model.Patient
		disease string
	}{
		{model.Patient{Name: "Asha Verma", Age: intPtr(34), Gender: model.GenderFemale, PhoneNumber: "9876543210", City: "Pune", State: "Maharashtra"}, "Dengue"},
		{model.Patient{Name: "Ravi Kumar", Age: intPtr(16), Gender: model.GenderMale, City: "Patna", State: "Bihar"}, "Malaria"},
	} {
		p := row.p
		require.NoError(t, store.PatientRepository().Create(ctx, &p))
		d, err := store.DiseaseRepository().GetOrCreate(ctx, row.disease, "")
		require.NoError(t, err)
		require.NoError(t, store.PatientRepository().LinkDisease(ctx, &model.PatientDisease{PatientID: p.ID, DiseaseID: d.ID}))
		seeded[p.Name] = &p
	}

	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"))
	return r, store, seeded
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type listEnvelope struct {
	Data       []map[string]interface{} `json:"data"`
	Pagination struct {
		Page     int `json:"page"`
		PageSize int `json:"page_size"`
		Total    int `json:"total"`
	} `json:"pagination"`
}

func TestListPatients(t *testing.T) {
	r, _, _ := setupRouter(t)

	tests := []struct {
		name  string
		query string
		want  int
		code  int
	}{
		{"all", "", 2, http.StatusOK},
		{"by gender", "?gender=female", 1, http.StatusOK},
		{"by age group", "?age_group=0-17", 1, http.StatusOK},
		{"by disease name", "?disease_name=mal", 1, http.StatusOK},
		{"search phone", "?search=98765", 1, http.StatusOK},
		{"bad age group", "?age_group=teen", 0, http.StatusBadRequest},
		{"bad disease id", "?disease=xyz", 0, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, http.MethodGet, "/api/v1/patients"+tt.query, "")
			require.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.code != http.StatusOK {
				return
			}
			var env listEnvelope
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
			assert.Equal(t, tt.want, env.Pagination.Total)
			assert.Equal(t, 20, env.Pagination.PageSize)
		})
	}
}

func TestGetPatient_DerivedFields(t *testing.T) {
	r, _, seeded := setupRouter(t)
	asha := seeded["Asha Verma"]

	w := serve(r, http.MethodGet, "/api/v1/patients/"+asha.ID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)

	var env struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "30-44", env.Data["age_group"])
	assert.Equal(t, "******3210", env.Data["masked_phone"])
	assert.Equal(t, "A**a V***a", env.Data["anonymized_name"])

	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/patients/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/api/v1/patients/42", "").Code)
}

func TestUpdateAndDeletePatient(t *testing.T) {
	r, store, seeded := setupRouter(t)
	ravi := seeded["Ravi Kumar"]

	w := serve(r, http.MethodPut, "/api/v1/patients/"+ravi.ID.String(), `{"city":"Gaya","age":17}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Gaya", store.Patients[ravi.ID].City)

	w = serve(r, http.MethodPut, "/api/v1/patients/"+ravi.ID.String(), `{"email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodDelete, "/api/v1/patients/"+ravi.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotContains(t, store.Patients, ravi.ID)
}

func TestExport(t *testing.T) {
	r, _, _ := setupRouter(t)

	w := serve(r, http.MethodGet, "/api/v1/patients/export?format=csv&state=Maharashtra", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "patients_export.csv")
	assert.Contains(t, w.Body.String(), "Patient Name")
	assert.Contains(t, w.Body.String(), "Asha Verma")
	assert.NotContains(t, w.Body.String(), "Ravi Kumar")

	w = serve(r, http.MethodGet, "/api/v1/patients/export?format=excel", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/patients/export?state=Goa", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/api/v1/patients/export?format=pdf", "").Code)
}

func TestDiseasesAndByDisease(t *testing.T) {
	r, _, _ := setupRouter(t)

	w := serve(r, http.MethodGet, "/api/v1/diseases", "")
	require.Equal(t, http.StatusOK, w.Code)
	var diseases struct {
		Data []model.Disease `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &diseases))
	require.Len(t, diseases.Data, 2)
	assert.Equal(t, 1, diseases.Data[0].PatientCount)

	w = serve(r, http.MethodGet, "/api/v1/diseases/"+diseases.Data[0].ID.String(), "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodGet, "/api/v1/patients/by_disease", "")
	require.Equal(t, http.StatusOK, w.Code)
	var groups struct {
		Data []struct {
			Disease  string                   `json:"disease"`
			Count    int                      `json:"count"`
			Patients []map[string]interface{} `json:"patients"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &groups))
	require.Len(t, groups.Data, 2)
	assert.Len(t, groups.Data[0].Patients, 1)
}
