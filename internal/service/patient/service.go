package patient

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/repository"
	"github.com/jwalitptl/healthbridge/internal/service/event"
	apperrors "github.com/jwalitptl/healthbridge/pkg/errors"
	"github.com/jwalitptl/healthbridge/pkg/validator"
)

// byDiseaseLimit caps the patients listed under each disease.
const byDiseaseLimit = 10

type PatientService interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	UpdatePatient(ctx context.Context, id uuid.UUID, req *model.UpdatePatientRequest) (*model.Patient, error)
	DeletePatient(ctx context.Context, id uuid.UUID) error
	ListPatients(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, int, error)
	Export(ctx context.Context, filters *model.PatientFilters, format string) (*ExportFile, error)
	ByDisease(ctx context.Context) ([]*model.DiseasePatients, error)
	ListDiseases(ctx context.Context) ([]*model.Disease, error)
	GetDisease(ctx context.Context, id uuid.UUID) (*model.Disease, error)
}

type Service struct {
	repo        repository.PatientRepository
	diseaseRepo repository.DiseaseRepository
	events      event.EventService
}

func NewService(repo repository.PatientRepository, diseaseRepo repository.DiseaseRepository, events event.EventService) *Service {
	return &Service{
		repo:        repo,
		diseaseRepo: diseaseRepo,
		events:      events,
	}
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, req *model.UpdatePatientRequest) (*model.Patient, error) {
	if err := validator.New().Validate(req); err != nil {
		return nil, apperrors.BadRequest("invalid patient data", err)
	}

	patient, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Apply(patient)

	if err := s.repo.Update(ctx, patient); err != nil {
		return nil, fmt.Errorf("failed to update patient: %w", err)
	}
	s.events.DataChanged(ctx, "patient_updated", nil, []uuid.UUID{id})
	return patient, nil
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.events.DataChanged(ctx, "patient_deleted", nil, []uuid.UUID{id})
	return nil
}

func (s *Service) ListPatients(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, int, error) {
	if filters.AgeGroup != "" && !model.IsAgeGroup(filters.AgeGroup) {
		return nil, 0, apperrors.BadRequest(fmt.Sprintf("invalid age_group %q", filters.AgeGroup), nil)
	}
	return s.repo.List(ctx, filters)
}

// ByDisease lists every disease with its patient count and a few of its patients.
func (s *Service) ByDisease(ctx context.Context) ([]*model.DiseasePatients, error) {
	diseases, err := s.diseaseRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*model.DiseasePatients, 0, len(diseases))
	for _, d := range diseases {
		patients, err := s.repo.ListByDisease(ctx, d.ID, byDiseaseLimit)
		if err != nil {
			return nil, err
		}
		out = append(out, &model.DiseasePatients{
			Disease:  d.Name,
			ID:       d.ID,
			Count:    d.PatientCount,
			Patients: model.NewPatientResponses(patients),
		})
	}
	return out, nil
}

func (s *Service) ListDiseases(ctx context.Context) ([]*model.Disease, error) {
	return s.diseaseRepo.List(ctx)
}

func (s *Service) GetDisease(ctx context.Context, id uuid.UUID) (*model.Disease, error) {
	return s.diseaseRepo.Get(ctx, id)
}
