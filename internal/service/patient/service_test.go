package patient

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/repository/repotest"
	"github.com/jwalitptl/healthbridge/internal/service/event"
	apperrors "github.com/jwalitptl/healthbridge/pkg/errors"
)

func intPtr(v int) *int { return &v }

func seed(t *testing.T, store *repotest.Store) map[string]*model.Patient {
	t.Helper()
	ctx := context.Background()
	patients := store.PatientRepository()
	diseases := store.DiseaseRepository()

	rows := []struct {
		p        model.Patient
		diseases []string
	}{
		{model.Patient{Name: "Asha Verma", Age: intPtr(34), Gender: model.GenderFemale, PhoneNumber: "9876543210", City: "Pune", State: "Maharashtra"}, []string{"Dengue"}},
		{model.Patient{Name: "Ravi Kumar", Age: intPtr(16), Gender: model.GenderMale, City: "Patna", State: "Bihar"}, []string{"Dengue", "Malaria"}},
		{model.Patient{Name: "Meera Nair", Age: intPtr(60), Gender: model.GenderFemale, City: "Kochi", State: "Kerala"}, []string{"Hypertension"}},
		{model.Patient{Name: "Unknown Age", Gender: model.GenderOther, City: "Pune", State: "Maharashtra"}, nil},
	}

	out := map[string]*model.Patient{}
	for i := range rows {
		p := rows[i].p
		require.NoError(t, patients.Create(ctx, &p))
		for _, name := range rows[i].diseases {
			d, err := diseases.GetOrCreate(ctx, name, "")
			require.NoError(t, err)
			require.NoError(t, patients.LinkDisease(ctx, &model.PatientDisease{PatientID: p.ID, DiseaseID: d.ID}))
		}
		out[p.Name] = &p
	}
	return out
}

func newTestService() (*Service, *repotest.Store) {
	store := repotest.NewStore()
	events := event.NewEventService(store.OutboxRepository())
	return NewService(store.PatientRepository(), store.DiseaseRepository(), events), store
}

func TestListPatients_Filters(t *testing.T) {
	svc, store := newTestService()
	seed(t, store)
	ctx := context.Background()

	tests := []struct {
		name    string
		filters model.PatientFilters
		want    []string
	}{
		{"gender", model.PatientFilters{Gender: "FEMALE"}, []string{"Asha Verma", "Meera Nair"}},
		{"disease name", model.PatientFilters{DiseaseName: "deng"}, []string{"Asha Verma", "Ravi Kumar"}},
		{"age group", model.PatientFilters{AgeGroup: model.AgeGroup0To17}, []string{"Ravi Kumar"}},
		{"age group 60+", model.PatientFilters{AgeGroup: model.AgeGroup60Plus}, []string{"Meera Nair"}},
		{"unknown age", model.PatientFilters{AgeGroup: model.AgeGroupUnknown}, []string{"Unknown Age"}},
		{"search city", model.PatientFilters{Search: "pune"}, []string{"Asha Verma", "Unknown Age"}},
		{"min age", model.PatientFilters{MinAge: intPtr(30)}, []string{"Asha Verma", "Meera Nair"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patients, total, err := svc.ListPatients(ctx, &tt.filters)
			require.NoError(t, err)
			var names []string
			for _, p := range patients {
				names = append(names, p.Name)
			}
			assert.ElementsMatch(t, tt.want, names)
			assert.Equal(t, len(tt.want), total)
		})
	}
}

func TestListPatients_InvalidAgeGroup(t *testing.T) {
	svc, _ := newTestService()
	_, _, err := svc.ListPatients(context.Background(), &model.PatientFilters{AgeGroup: "teen"})
	assert.Equal(t, http.StatusBadRequest, apperrors.Status(err))
}

func TestUpdatePatient(t *testing.T) {
	svc, store := newTestService()
	seeded := seed(t, store)
	ctx := context.Background()
	id := seeded["Asha Verma"].ID

	city := "Mumbai"
	updated, err := svc.UpdatePatient(ctx, id, &model.UpdatePatientRequest{City: &city})
	require.NoError(t, err)
	assert.Equal(t, "Mumbai", updated.City)
	assert.Equal(t, "Asha Verma", updated.Name)
	assert.Len(t, store.Events, 1)

	bad := model.Gender("robot")
	_, err = svc.UpdatePatient(ctx, id, &model.UpdatePatientRequest{Gender: &bad})
	assert.Equal(t, http.StatusBadRequest, apperrors.Status(err))

	_, err = svc.UpdatePatient(ctx, uuid.New(), &model.UpdatePatientRequest{City: &city})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDeletePatient(t *testing.T) {
	svc, store := newTestService()
	seeded := seed(t, store)
	ctx := context.Background()

	require.NoError(t, svc.DeletePatient(ctx, seeded["Ravi Kumar"].ID))
	assert.True(t, apperrors.IsNotFound(svc.DeletePatient(ctx, seeded["Ravi Kumar"].ID)))

	dengue, err := svc.ListDiseases(ctx)
	require.NoError(t, err)
	for _, d := range dengue {
		if d.Name == "Dengue" {
			assert.Equal(t, 1, d.PatientCount)
		}
	}
}

func TestByDisease(t *testing.T) {
	svc, store := newTestService()
	seed(t, store)

	groups, err := svc.ByDisease(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, "Dengue", groups[0].Disease)
	assert.Equal(t, 2, groups[0].Count)
	assert.Len(t, groups[0].Patients, 2)
	assert.NotEmpty(t, groups[0].Patients[0].DisplayID)
}

func TestExportCSV(t *testing.T) {
	svc, store := newTestService()
	seed(t, store)

	file, err := svc.Export(context.Background(), &model.PatientFilters{State: "bihar"}, "")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Equal(t, "patients_export.csv", file.Filename)

	records, err := csv.NewReader(bytes.NewReader(file.Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, exportHeaders, records[0])
	assert.Equal(t, "Ravi Kumar", records[1][0])
	assert.Equal(t, "16", records[1][1])
	assert.Equal(t, "0-17", records[1][2])
	assert.Equal(t, "Dengue, Malaria", records[1][14])
}

func TestExportExcel(t *testing.T) {
	svc, store := newTestService()
	seed(t, store)

	file, err := svc.Export(context.Background(), &model.PatientFilters{Gender: "female"}, FormatExcel)
	require.NoError(t, err)
	assert.Equal(t, "patients_export.xlsx", file.Filename)

	wb, err := excelize.OpenReader(bytes.NewReader(file.Data))
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Patient Name", rows[0][0])
	assert.ElementsMatch(t, []string{"Asha Verma", "Meera Nair"}, []string{rows[1][0], rows[2][0]})
}

func TestExport_Errors(t *testing.T) {
	svc, store := newTestService()
	seed(t, store)
	ctx := context.Background()

	_, err := svc.Export(ctx, &model.PatientFilters{State: "Goa"}, FormatCSV)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Export(ctx, &model.PatientFilters{}, "pdf")
	assert.Equal(t, http.StatusBadRequest, apperrors.Status(err))
}
