package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/repository"
	apperrors "github.com/jwalitptl/healthbridge/pkg/errors"
)

const patientColumns = `
	p.id, p.name, p.age, p.gender, p.phone_number, p.email, p.address, p.city,
	p.district, p.state, p.pincode, p.location, p.hospital_clinic, p.doctor_name,
	p.source_document_id, p.notes, p.economic_status, p.created_at, p.updated_at`

type patientRepository struct {
	BaseRepository
}

func NewPatientRepository(base BaseRepository) repository.PatientRepository {
	return &patientRepository{base}
}

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	err := createPatient(ctx, r.db, patient)
	r.observe("patient_create", err)
	return err
}

func createPatient(ctx context.Context, ext sqlx.ExtContext, patient *model.Patient) error {
	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}
	now := time.Now()
	patient.CreatedAt = now
	patient.UpdatedAt = now
	if patient.Gender == "" {
		patient.Gender = model.GenderUnknown
	}

	query := `
		INSERT INTO patients (
			id, name, age, gender, phone_number, email, address, city, district, state,
			pincode, location, hospital_clinic, doctor_name, source_document_id, notes,
			economic_status, created_at, updated_at
		) VALUES (
			:id, :name, :age, :gender, :phone_number, :email, :address, :city, :district, :state,
			:pincode, :location, :hospital_clinic, :doctor_name, :source_document_id, :notes,
			:economic_status, :created_at, :updated_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, patient); err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	var patient model.Patient
	err := r.db.GetContext(ctx, &patient, `SELECT `+patientColumns+` FROM patients p WHERE p.id = $1`, id)
	r.observe("patient_get", err)
	if err != nil {
		return nil, notFound("patient", err)
	}
	if err := loadDiseases(ctx, r.db, []*model.Patient{&patient}); err != nil {
		return nil, err
	}
	return &patient, nil
}

func (r *patientRepository) Update(ctx context.Context, patient *model.Patient) error {
	err := updatePatient(ctx, r.db, patient)
	r.observe("patient_update", err)
	return err
}

func updatePatient(ctx context.Context, ext sqlx.ExtContext, patient *model.Patient) error {
	patient.UpdatedAt = time.Now()
	query := `
		UPDATE patients SET
			name = :name, age = :age, gender = :gender, phone_number = :phone_number,
			email = :email, address = :address, city = :city, district = :district,
			state = :state, pincode = :pincode, location = :location,
			hospital_clinic = :hospital_clinic, doctor_name = :doctor_name,
			source_document_id = :source_document_id, notes = :notes,
			economic_status = :economic_status, updated_at = :updated_at
		WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, ext, query, patient)
	if err != nil {
		return fmt.Errorf("failed to update patient: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFound("patient", nil)
	}
	return nil
}

func (r *patientRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM patients WHERE id = $1`, id)
	r.observe("patient_delete", err)
	if err != nil {
		return fmt.Errorf("failed to delete patient: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFound("patient", nil)
	}
	return nil
}

// patientWhere builds the WHERE clause shared by List and its count.
func patientWhere(f *model.PatientFilters) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(args))))
	}

	if f.Gender != "" {
		add("LOWER(p.gender) = LOWER(?)", f.Gender)
	}
	if f.City != "" {
		add("p.city ILIKE ?", "%"+f.City+"%")
	}
	if f.District != "" {
		add("p.district ILIKE ?", "%"+f.District+"%")
	}
	if f.State != "" {
		add("p.state ILIKE ?", "%"+f.State+"%")
	}
	if f.HospitalClinic != "" {
		add("p.hospital_clinic ILIKE ?", "%"+f.HospitalClinic+"%")
	}
	if f.DiseaseID != nil {
		add("EXISTS (SELECT 1 FROM patient_diseases pd WHERE pd.patient_id = p.id AND pd.disease_id = ?)", *f.DiseaseID)
	}
	if f.DiseaseName != "" {
		add(`EXISTS (SELECT 1 FROM patient_diseases pd JOIN diseases d ON d.id = pd.disease_id
			WHERE pd.patient_id = p.id AND d.name ILIKE ?)`, "%"+f.DiseaseName+"%")
	}
	if f.MinAge != nil {
		add("p.age >= ?", *f.MinAge)
	}
	if f.MaxAge != nil {
		add("p.age <= ?", *f.MaxAge)
	}
	if f.AgeGroup != "" {
		if lo, hi, ok := model.AgeRange(f.AgeGroup); ok {
			add("p.age >= ?", lo)
			add("p.age <= ?", hi)
		} else if f.AgeGroup == model.AgeGroupUnknown {
			where = append(where, "p.age IS NULL")
		}
	}
	if f.Search != "" {
		add("(p.name ILIKE ? OR p.phone_number ILIKE ? OR p.location ILIKE ? OR p.city ILIKE ?)", "%"+f.Search+"%")
	}

	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (r *patientRepository) List(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, int, error) {
	clause, args := patientWhere(filters)

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM patients p`+clause, args...); err != nil {
		r.observe("patient_list", err)
		return nil, 0, fmt.Errorf("failed to count patients: %w", err)
	}

	query := `SELECT ` + patientColumns + ` FROM patients p` + clause + ` ORDER BY p.created_at DESC`
	if filters.PageSize > 0 {
		args = append(args, filters.PageSize, filters.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	patients := []*model.Patient{}
	err := r.db.SelectContext(ctx, &patients, query, args...)
	r.observe("patient_list", err)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list patients: %w", err)
	}
	if err := loadDiseases(ctx, r.db, patients); err != nil {
		return nil, 0, err
	}
	return patients, total, nil
}

func (r *patientRepository) FindMatch(ctx context.Context, name, phone string) (*model.Patient, error) {
	patient, err := findMatch(ctx, r.db, name, phone)
	r.observe("patient_find_match", err)
	return patient, err
}

func findMatch(ctx context.Context, ext sqlx.ExtContext, name, phone string) (*model.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients p WHERE LOWER(p.name) = LOWER($1)`
	args := []interface{}{name}
	if phone != "" {
		query += ` AND p.phone_number = $2`
		args = append(args, phone)
	}
	query += ` ORDER BY p.created_at ASC LIMIT 1`

	patients := []*model.Patient{}
	if err := sqlx.SelectContext(ctx, ext, &patients, query, args...); err != nil {
		return nil, fmt.Errorf("failed to find patient: %w", err)
	}
	if len(patients) == 0 {
		return nil, nil
	}
	if err := loadDiseases(ctx, ext, patients); err != nil {
		return nil, err
	}
	return patients[0], nil
}

func (r *patientRepository) LinkDisease(ctx context.Context, link *model.PatientDisease) error {
	err := linkDisease(ctx, r.db, link)
	r.observe("patient_link_disease", err)
	return err
}

func linkDisease(ctx context.Context, ext sqlx.ExtContext, link *model.PatientDisease) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	if link.Status == "" {
		link.Status = "active"
	}

	query := `
		INSERT INTO patient_diseases (
			patient_id, disease_id, severity, status, diagnosis_date, source_document_id, created_at
		) VALUES (
			:patient_id, :disease_id, :severity, :status, :diagnosis_date, :source_document_id, :created_at
		)
		ON CONFLICT (patient_id, disease_id) DO UPDATE
		SET severity = COALESCE(NULLIF(EXCLUDED.severity, ''), patient_diseases.severity)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, link); err != nil {
		return fmt.Errorf("failed to link disease: %w", err)
	}
	return nil
}

// matchLockKey is the advisory lock key for upserts matching name. Name
// alone is used because a match without phone may hit any phone.
func matchLockKey(name string) string {
	return "patient:" + normalizedKey(name)
}

func (r *patientRepository) WithMatchLock(ctx context.Context, name string, fn func(tx repository.PatientTx) error) error {
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, matchLockKey(name)); err != nil {
			return fmt.Errorf("failed to lock patient match: %w", err)
		}
		return fn(patientTx{tx})
	})
	r.observe("patient_upsert_tx", err)
	return err
}

type patientTx struct {
	tx *sqlx.Tx
}

func (t patientTx) FindMatch(ctx context.Context, name, phone string) (*model.Patient, error) {
	return findMatch(ctx, t.tx, name, phone)
}

func (t patientTx) Create(ctx context.Context, patient *model.Patient) error {
	return createPatient(ctx, t.tx, patient)
}

func (t patientTx) Update(ctx context.Context, patient *model.Patient) error {
	return updatePatient(ctx, t.tx, patient)
}

func (t patientTx) LinkDisease(ctx context.Context, link *model.PatientDisease) error {
	return linkDisease(ctx, t.tx, link)
}

func (t patientTx) GetOrCreateDisease(ctx context.Context, name, icdCode string) (*model.Disease, error) {
	return getOrCreateDisease(ctx, t.tx, name, icdCode)
}

func (r *patientRepository) ListByDisease(ctx context.Context, diseaseID uuid.UUID, limit int) ([]*model.Patient, error) {
	query := `
		SELECT ` + patientColumns + `
		FROM patients p
		JOIN patient_diseases pd ON pd.patient_id = p.id
		WHERE pd.disease_id = $1
		ORDER BY p.created_at DESC
		LIMIT $2`

	patients := []*model.Patient{}
	err := r.db.SelectContext(ctx, &patients, query, diseaseID, limit)
	r.observe("patient_list_by_disease", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients by disease: %w", err)
	}
	if err := loadDiseases(ctx, r.db, patients); err != nil {
		return nil, err
	}
	return patients, nil
}

// loadDiseases fills Diseases for every patient with one query.
func loadDiseases(ctx context.Context, q sqlx.QueryerContext, patients []*model.Patient) error {
	if len(patients) == 0 {
		return nil
	}
	ids := make([]string, len(patients))
	byID := make(map[uuid.UUID]*model.Patient, len(patients))
	for i, p := range patients {
		ids[i] = p.ID.String()
		p.Diseases = []string{}
		byID[p.ID] = p
	}

	var rows []struct {
		PatientID uuid.UUID `db:"patient_id"`
		Name      string    `db:"name"`
	}
	query := `
		SELECT pd.patient_id, d.name
		FROM patient_diseases pd
		JOIN diseases d ON d.id = pd.disease_id
		WHERE pd.patient_id = ANY($1::uuid[])
		ORDER BY pd.created_at ASC, d.name ASC`
	if err := sqlx.SelectContext(ctx, q, &rows, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to load patient diseases: %w", err)
	}
	for _, row := range rows {
		if p, ok := byID[row.PatientID]; ok {
			p.Diseases = append(p.Diseases, row.Name)
		}
	}
	return nil
}
