package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/repository"
)

const diseaseSelect = `
	SELECT d.id, d.name, d.normalized_name, d.category, d.icd_code, d.description,
		d.abbreviations, d.created_at, COUNT(DISTINCT pd.patient_id) AS patient_count
	FROM diseases d
	LEFT JOIN patient_diseases pd ON pd.disease_id = d.id`

const diseaseGroupBy = `
	GROUP BY d.id, d.name, d.normalized_name, d.category, d.icd_code, d.description,
		d.abbreviations, d.created_at`

type diseaseRepository struct {
	BaseRepository
}

func NewDiseaseRepository(base BaseRepository) repository.DiseaseRepository {
	return &diseaseRepository{base}
}

func normalizedKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *diseaseRepository) GetOrCreate(ctx context.Context, name, icdCode string) (*model.Disease, error) {
	disease, err := getOrCreateDisease(ctx, r.db, name, icdCode)
	r.observe("disease_get_or_create", err)
	return disease, err
}

func getOrCreateDisease(ctx context.Context, ext sqlx.ExtContext, name, icdCode string) (*model.Disease, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("disease name cannot be empty")
	}

	query := `
		INSERT INTO diseases (id, name, normalized_name, icd_code, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (normalized_name) DO UPDATE
		SET icd_code = COALESCE(NULLIF(diseases.icd_code, ''), EXCLUDED.icd_code)
		RETURNING id, name, normalized_name, category, icd_code, description, abbreviations, created_at`

	var disease model.Disease
	err := sqlx.GetContext(ctx, ext, &disease, query, uuid.New(), name, normalizedKey(name), icdCode, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to get or create disease: %w", err)
	}
	return &disease, nil
}

func (r *diseaseRepository) Get(ctx context.Context, id uuid.UUID) (*model.Disease, error) {
	var disease model.Disease
	err := r.db.GetContext(ctx, &disease, diseaseSelect+` WHERE d.id = $1`+diseaseGroupBy, id)
	r.observe("disease_get", err)
	if err != nil {
		return nil, notFound("disease", err)
	}
	return &disease, nil
}

func (r *diseaseRepository) List(ctx context.Context) ([]*model.Disease, error) {
	diseases := []*model.Disease{}
	err := r.db.SelectContext(ctx, &diseases, diseaseSelect+diseaseGroupBy+` ORDER BY patient_count DESC, d.name ASC`)
	r.observe("disease_list", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list diseases: %w", err)
	}
	return diseases, nil
}
