package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/repository"
)

type analyticsRepository struct {
	BaseRepository
}

func NewAnalyticsRepository(base BaseRepository) repository.AnalyticsRepository {
	return &analyticsRepository{base}
}

func (r *analyticsRepository) DocumentStats(ctx context.Context) (*model.DocumentStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE processing_status = 'completed') AS processed,
			COUNT(*) FILTER (WHERE processing_status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE processing_status = 'failed') AS failed
		FROM documents`

	var stats model.DocumentStats
	err := r.db.QueryRowxContext(ctx, query).Scan(&stats.Total, &stats.Processed, &stats.Pending, &stats.Failed)
	r.observe("analytics_document_stats", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get document stats: %w", err)
	}
	return &stats, nil
}

func (r *analyticsRepository) PatientStats(ctx context.Context) (*model.PatientStats, error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE phone_number <> '')
		FROM patients`

	var stats model.PatientStats
	err := r.db.QueryRowxContext(ctx, query).Scan(&stats.Total, &stats.WithContact)
	r.observe("analytics_patient_stats", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get patient stats: %w", err)
	}
	return &stats, nil
}

// DiseaseStats counts diseases that have at least one patient.
func (r *analyticsRepository) DiseaseStats(ctx context.Context) (*model.DiseaseStats, error) {
	query := `SELECT COUNT(DISTINCT disease_id), COUNT(*) FROM patient_diseases`

	var stats model.DiseaseStats
	err := r.db.QueryRowxContext(ctx, query).Scan(&stats.UniqueDiseases, &stats.TotalDiagnoses)
	r.observe("analytics_disease_stats", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get disease stats: %w", err)
	}
	return &stats, nil
}

func (r *analyticsRepository) TopDiseases(ctx context.Context, limit int) ([]model.DiseaseCount, error) {
	query := `
		SELECT d.id, d.name, COUNT(DISTINCT pd.patient_id) AS count
		FROM diseases d
		JOIN patient_diseases pd ON pd.disease_id = d.id
		GROUP BY d.id, d.name
		ORDER BY count DESC, d.name ASC
		LIMIT $1`

	diseases := []model.DiseaseCount{}
	err := r.db.SelectContext(ctx, &diseases, query, limit)
	r.observe("analytics_top_diseases", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get top diseases: %w", err)
	}
	return diseases, nil
}

func (r *analyticsRepository) PatientFacts(ctx context.Context, diseaseID *uuid.UUID) ([]model.PatientFact, error) {
	query := `SELECT p.id, p.age, p.gender, p.city, p.state, p.location, p.hospital_clinic FROM patients p`
	var args []interface{}
	if diseaseID != nil {
		query += ` WHERE EXISTS (SELECT 1 FROM patient_diseases pd WHERE pd.patient_id = p.id AND pd.disease_id = $1)`
		args = append(args, *diseaseID)
	}

	facts := []model.PatientFact{}
	err := r.db.SelectContext(ctx, &facts, query, args...)
	r.observe("analytics_patient_facts", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get patient facts: %w", err)
	}
	return facts, nil
}

func (r *analyticsRepository) DiagnosisFacts(ctx context.Context, since *time.Time) ([]model.DiagnosisFact, error) {
	query := `
		SELECT pd.patient_id, pd.disease_id, d.name AS disease_name, p.age, p.gender,
			p.state, p.location, pd.created_at
		FROM patient_diseases pd
		JOIN diseases d ON d.id = pd.disease_id
		JOIN patients p ON p.id = pd.patient_id`
	var args []interface{}
	if since != nil {
		query += ` WHERE pd.created_at >= $1`
		args = append(args, *since)
	}
	query += ` ORDER BY pd.created_at ASC`

	facts := []model.DiagnosisFact{}
	err := r.db.SelectContext(ctx, &facts, query, args...)
	r.observe("analytics_diagnosis_facts", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get diagnosis facts: %w", err)
	}
	return facts, nil
}

func (r *analyticsRepository) FilterOptions(ctx context.Context) (*model.FilterOptions, error) {
	opts := &model.FilterOptions{AgeGroups: model.AgeGroups}

	distinct := func(column string, dst *[]string) error {
		query := fmt.Sprintf(
			`SELECT DISTINCT %[1]s FROM patients WHERE %[1]s <> '' ORDER BY %[1]s`, column)
		*dst = []string{}
		return r.db.SelectContext(ctx, dst, query)
	}
	for column, dst := range map[string]*[]string{
		"state":           &opts.States,
		"city":            &opts.Cities,
		"district":        &opts.Districts,
		"hospital_clinic": &opts.Hospitals,
		"gender":          &opts.Genders,
	} {
		if err := distinct(column, dst); err != nil {
			r.observe("analytics_filter_options", err)
			return nil, fmt.Errorf("failed to get %s options: %w", column, err)
		}
	}

	diseases, err := r.TopDiseases(ctx, 1000)
	if err != nil {
		return nil, err
	}
	opts.Diseases = diseases
	r.observe("analytics_filter_options", nil)
	return opts, nil
}
