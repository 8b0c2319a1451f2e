package analytics

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/healthbridge/internal/model"
)

func intPtr(v int) *int { return &v }

func TestAgeGroupBoundaries(t *testing.T) {
	tests := []struct {
		age  *int
		want string
	}{
		{intPtr(0), "0-17"},
		{intPtr(16), "0-17"},
		{intPtr(17), "0-17"},
		{intPtr(18), "18-29"},
		{intPtr(30), "30-44"},
		{intPtr(44), "30-44"},
		{intPtr(45), "45-59"},
		{intPtr(59), "45-59"},
		{intPtr(60), "60+"},
		{intPtr(97), "60+"},
		{nil, "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, model.AgeGroup(tt.age))
	}
}

func TestClassifySpike(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name        string
		recent      int
		baselineAvg float64
		severity    model.AlertSeverity
		ratio       *float64
		ok          bool
	}{
		{"sharp rise", 156, 45.2, model.SeverityCritical, floatPtr(3.45), true},
		{"exactly double", 14, 7, model.SeverityCritical, floatPtr(2), true},
		{"elevated", 10, 7, model.SeverityWarning, floatPtr(1.43), true},
		{"just under double", 1996, 1000, model.SeverityWarning, floatPtr(2), true},
		{"normal", 8, 7, "", nil, false},
		{"new disease", 3, 0, model.SeverityWarning, nil, true},
		{"nothing", 0, 0, "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			severity, ratio, ok := ClassifySpike(tt.recent, tt.baselineAvg, th)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.severity, severity)
			if tt.ratio == nil {
				assert.Nil(t, ratio)
			} else {
				require.NotNil(t, ratio)
				assert.InDelta(t, *tt.ratio, *ratio, 0.001)
			}
		})
	}
}

func floatPtr(v float64) *float64 { return &v }

func diagnoses(id uuid.UUID, name string, n int, at time.Time) []model.DiagnosisFact {
	facts := make([]model.DiagnosisFact, n)
	for i := range facts {
		facts[i] = model.DiagnosisFact{
			PatientID:   uuid.New(),
			DiseaseID:   id,
			DiseaseName: name,
			CreatedAt:   at,
		}
	}
	return facts
}

func TestDetectOutbreaks(t *testing.T) {
	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	recent := now.AddDate(0, 0, -2)
	baseline := now.AddDate(0, 0, -10)
	th := DefaultThresholds()

	dengue, malaria, flu, cholera := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	var facts []model.DiagnosisFact
	// 23 baseline cases over 23 days scale to 7 per week.
	facts = append(facts, diagnoses(dengue, "Dengue", 23, baseline)...)
	facts = append(facts, diagnoses(dengue, "Dengue", 14, recent)...)
	facts = append(facts, diagnoses(malaria, "Malaria", 23, baseline)...)
	facts = append(facts, diagnoses(malaria, "Malaria", 10, recent)...)
	facts = append(facts, diagnoses(flu, "Influenza", 23, baseline)...)
	facts = append(facts, diagnoses(flu, "Influenza", 8, recent)...)
	facts = append(facts, diagnoses(flu, "Influenza", 50, now.AddDate(0, 0, -40))...)
	facts = append(facts, diagnoses(cholera, "Cholera", 3, recent)...)

	alerts := DetectOutbreaks(facts, now, th)
	require.Len(t, alerts, 3)

	assert.Equal(t, "Dengue", alerts[0].Disease)
	assert.Equal(t, model.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, 14, alerts[0].RecentCases)
	assert.Equal(t, 7.0, alerts[0].BaselineAvg)
	assert.Equal(t, "Dengue: 14 cases in last 7 days (100% above normal)", alerts[0].Message)

	assert.Equal(t, "Malaria", alerts[1].Disease)
	assert.Equal(t, model.SeverityWarning, alerts[1].Severity)
	require.NotNil(t, alerts[1].IncreaseRatio)
	assert.Equal(t, 1.43, *alerts[1].IncreaseRatio)
	assert.Equal(t, "Malaria: elevated cases detected", alerts[1].Message)

	assert.Equal(t, "Cholera", alerts[2].Disease)
	assert.Equal(t, cholera, alerts[2].DiseaseID)
	assert.Nil(t, alerts[2].IncreaseRatio)
	assert.Zero(t, alerts[2].BaselineAvg)
	assert.Equal(t, "Cholera: new disease emergence with 3 cases", alerts[2].Message)
}

func TestDetectOutbreaks_ClusterMinimumForEmergence(t *testing.T) {
	now := time.Now()
	th := DefaultThresholds()
	th.ClusterMinCases = 5

	facts := diagnoses(uuid.New(), "Cholera", 3, now.Add(-time.Hour))
	assert.Empty(t, DetectOutbreaks(facts, now, th))
}

func TestGeographicClusters(t *testing.T) {
	th := DefaultThresholds()
	th.ClusterMinCases = 2

	dengue, malaria := uuid.New(), uuid.New()
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	facts := []model.DiagnosisFact{
		{PatientID: p1, DiseaseID: dengue, DiseaseName: "Dengue", Location: "Pune, Maharashtra", State: "Maharashtra"},
		{PatientID: p2, DiseaseID: dengue, DiseaseName: "Dengue", Location: "Pune, Maharashtra", State: "Maharashtra"},
		{PatientID: p2, DiseaseID: malaria, DiseaseName: "Malaria", Location: "Pune, Maharashtra", State: "Maharashtra"},
		{PatientID: p3, DiseaseID: dengue, DiseaseName: "Dengue", Location: "Mumbai", State: "Maharashtra"},
		{PatientID: uuid.New(), DiseaseID: malaria, DiseaseName: "Malaria"},
	}

	clusters := GeographicClusters(facts, th)
	require.Len(t, clusters, 2)

	assert.Equal(t, "location", clusters[0].Type)
	assert.Equal(t, "Pune, Maharashtra", clusters[0].Location)
	assert.Equal(t, 2, clusters[0].PatientCount)
	assert.Equal(t, 2, clusters[0].DiseaseCount)

	assert.Equal(t, "state", clusters[1].Type)
	assert.Equal(t, "Maharashtra", clusters[1].State)
	assert.Equal(t, 3, clusters[1].PatientCount)
	assert.Equal(t, []model.NamedCount{{Name: "Dengue", Count: 3}, {Name: "Malaria", Count: 1}}, clusters[1].TopDiseases)
}

func TestAgeConcentrations(t *testing.T) {
	dengue, asthma, unknown := uuid.New(), uuid.New(), uuid.New()
	fact := func(id uuid.UUID, name string, age *int) model.DiagnosisFact {
		return model.DiagnosisFact{PatientID: uuid.New(), DiseaseID: id, DiseaseName: name, Age: age}
	}
	facts := []model.DiagnosisFact{
		fact(dengue, "Dengue", intPtr(5)),
		fact(dengue, "Dengue", intPtr(10)),
		fact(dengue, "Dengue", intPtr(40)),
		fact(dengue, "Dengue", nil),
		fact(asthma, "Asthma", intPtr(20)),
		fact(asthma, "Asthma", intPtr(35)),
		fact(asthma, "Asthma", intPtr(70)),
		fact(unknown, "Mystery", nil),
	}

	out := AgeConcentrations(facts, DefaultThresholds())
	require.Len(t, out, 2)

	assert.Equal(t, "Dengue", out[0].Disease)
	assert.Equal(t, "0-17", out[0].DominantAgeGroup)
	assert.Equal(t, 50.0, out[0].Concentration)
	assert.Equal(t, 2, out[0].PatientCount)
	assert.Equal(t, 4, out[0].TotalPatients)
	assert.Equal(t, "Dengue primarily affects Pediatric population", out[0].Description)
	assert.Len(t, out[0].AllAgeGroups, 5)
	assert.Equal(t, 25.0, out[0].AllAgeGroups["30-44"].Percentage)

	// Ties go to the younger bucket.
	assert.Equal(t, "Asthma", out[1].Disease)
	assert.Equal(t, "18-29", out[1].DominantAgeGroup)
	assert.Equal(t, 33.3, out[1].Concentration)

	th := DefaultThresholds()
	th.AgeConcentrationMin = 40
	filtered := AgeConcentrations(facts, th)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Dengue", filtered[0].Disease)
}

func TestComorbidities(t *testing.T) {
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	fact := func(p uuid.UUID, name string) model.DiagnosisFact {
		return model.DiagnosisFact{PatientID: p, DiseaseName: name}
	}
	facts := []model.DiagnosisFact{
		fact(p1, "Diabetes"), fact(p1, "Hypertension"), fact(p1, "Asthma"),
		fact(p2, "Hypertension"), fact(p2, "Diabetes"),
		fact(p3, "Asthma"),
	}

	got := Comorbidities(facts, 20)
	assert.Equal(t, []model.Comorbidity{
		{Disease1: "Diabetes", Disease2: "Hypertension", CoOccurrenceCount: 2},
		{Disease1: "Asthma", Disease2: "Diabetes", CoOccurrenceCount: 1},
		{Disease1: "Asthma", Disease2: "Hypertension", CoOccurrenceCount: 1},
	}, got)

	assert.Len(t, Comorbidities(facts, 1), 1)
}

func TestTrends(t *testing.T) {
	day1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	id := uuid.New()

	var facts []model.DiagnosisFact
	facts = append(facts, diagnoses(id, "Dengue", 2, day1)...)
	facts = append(facts, diagnoses(id, "Dengue", 3, day2)...)
	facts = append(facts, diagnoses(id, "Dengue", 4, day1.AddDate(0, 0, -30))...)

	got := Trends(facts, day1.Add(-time.Hour))
	require.Len(t, got, 1)
	assert.Equal(t, "Dengue", got[0].Disease)
	assert.Equal(t, []model.TrendPoint{{Date: "2024-03-01", Count: 2}, {Date: "2024-03-02", Count: 3}}, got[0].Trend)
}

func TestAgeDistribution(t *testing.T) {
	ages := []*int{intPtr(16), intPtr(60), intPtr(44), nil}

	all := ageDistribution(ages, model.AgeGroups, false)
	assert.Len(t, all, 6)
	assert.Equal(t, model.CountItem{Label: "Unknown", Count: 1}, all[5])

	nonEmpty := ageDistribution(ages, model.AgeGroups, true)
	assert.Equal(t, []model.CountItem{
		{Label: "0-17", Count: 1},
		{Label: "30-44", Count: 1},
		{Label: "60+", Count: 1},
		{Label: "Unknown", Count: 1},
	}, nonEmpty)
}
