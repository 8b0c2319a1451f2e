package postgres

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/healthbridge/internal/model"
)

func TestPatientWhere(t *testing.T) {
	t.Run("no filters", func(t *testing.T) {
		clause, args := patientWhere(&model.PatientFilters{})
		assert.Empty(t, clause)
		assert.Empty(t, args)
	})

	t.Run("placeholders follow argument order", func(t *testing.T) {
		diseaseID := uuid.New()
		clause, args := patientWhere(&model.PatientFilters{
			Gender:    "female",
			DiseaseID: &diseaseID,
			AgeGroup:  model.AgeGroup30To44,
			Search:    "ravi",
		})

		assert.Contains(t, clause, "LOWER(p.gender) = LOWER($1)")
		assert.Contains(t, clause, "pd.disease_id = $2")
		assert.Contains(t, clause, "p.age >= $3")
		assert.Contains(t, clause, "p.age <= $4")
		assert.Contains(t, clause, "p.name ILIKE $5 OR p.phone_number ILIKE $5")
		assert.Equal(t, []interface{}{"female", diseaseID, 30, 44, "%ravi%"}, args)
	})

	t.Run("unknown age group", func(t *testing.T) {
		clause, args := patientWhere(&model.PatientFilters{AgeGroup: model.AgeGroupUnknown})
		assert.Equal(t, " WHERE p.age IS NULL", clause)
		assert.Empty(t, args)
	})
}

func TestNormalizedKey(t *testing.T) {
	assert.Equal(t, "type 2 diabetes", normalizedKey("  Type 2 Diabetes "))
	assert.Equal(t, normalizedKey("ASTHMA"), normalizedKey("asthma"))
}

func TestMatchLockKey(t *testing.T) {
	assert.Equal(t, "patient:asha verma", matchLockKey("  Asha Verma "))
	assert.Equal(t, matchLockKey("RAVI KUMAR"), matchLockKey("ravi kumar"))
}
