package analytics

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/healthbridge/internal/config"
	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/repository"
	apperrors "github.com/jwalitptl/healthbridge/pkg/errors"
	"github.com/jwalitptl/healthbridge/pkg/metrics"
)

const (
	topDiseasesLimit     = 10
	recentDocumentsLimit = 5
	comorbidityLimit     = 20
	defaultTrendDays     = 30
)

// TrendWindows are the trailing windows accepted by Trends.
var TrendWindows = []int{7, 14, 30, 60, 90}

type AnalyticsService interface {
	Dashboard(ctx context.Context) (*model.Dashboard, error)
	DiseaseAnalytics(ctx context.Context, diseaseID *uuid.UUID) (*model.DiseaseAnalytics, error)
	Locations(ctx context.Context) (*model.LocationAnalytics, error)
	Age(ctx context.Context) (*model.AgeAnalytics, error)
	Surveillance(ctx context.Context, days int) (*model.SurveillanceReport, error)
	Trends(ctx context.Context, days int) ([]model.DiseaseTrend, error)
	Comorbidity(ctx context.Context) ([]model.Comorbidity, error)
	Filter(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, int, error)
	FilterOptions(ctx context.Context) (*model.FilterOptions, error)
	Invalidate()
}

type Service struct {
	repo       repository.AnalyticsRepository
	docs       repository.DocumentRepository
	patients   repository.PatientRepository
	diseases   repository.DiseaseRepository
	thresholds Thresholds
	cache      *cache.Cache
	generation atomic.Uint64
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(
	repo repository.AnalyticsRepository,
	docs repository.DocumentRepository,
	patients repository.PatientRepository,
	diseases repository.DiseaseRepository,
	cfg config.AnalyticsConfig,
	m *metrics.Metrics,
) *Service {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		repo:     repo,
		docs:     docs,
		patients: patients,
		diseases: diseases,
		thresholds: Thresholds{
			WarningRatio:        cfg.WarningRatio,
			CriticalRatio:       cfg.CriticalRatio,
			LookbackDays:        cfg.LookbackDays,
			BaselineDays:        cfg.BaselineDays,
			ClusterMinCases:     cfg.ClusterMinCases,
			AgeConcentrationMin: cfg.AgeConcentrationMin,
		},
		cache:   cache.New(ttl, 2*ttl),
		metrics: m,
		now:     time.Now,
	}
}

// cached returns the value stored under key or computes and stores it.
// A result computed across an Invalidate is returned but not stored.
func cached[T any](s *Service, view, key string, compute func() (T, error)) (T, error) {
	if v, ok := s.cache.Get(key); ok {
		s.metrics.CacheHits.WithLabelValues(view).Inc()
		return v.(T), nil
	}
	s.metrics.CacheMisses.WithLabelValues(view).Inc()

	gen := s.generation.Load()
	v, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	if s.generation.Load() == gen {
		s.cache.SetDefault(key, v)
	}
	return v, nil
}

// Invalidate drops every cached view.
func (s *Service) Invalidate() {
	s.generation.Add(1)
	s.cache.Flush()
	s.metrics.CacheInvalidations.Inc()
	log.Debug().Msg("analytics cache flushed")
}

func (s *Service) Dashboard(ctx context.Context) (*model.Dashboard, error) {
	return cached(s, "dashboard", "dashboard", func() (*model.Dashboard, error) {
		docStats, err := s.repo.DocumentStats(ctx)
		if err != nil {
			return nil, err
		}
		patientStats, err := s.repo.PatientStats(ctx)
		if err != nil {
			return nil, err
		}
		diseaseStats, err := s.repo.DiseaseStats(ctx)
		if err != nil {
			return nil, err
		}
		top, err := s.repo.TopDiseases(ctx, topDiseasesLimit)
		if err != nil {
			return nil, err
		}
		facts, err := s.repo.PatientFacts(ctx, nil)
		if err != nil {
			return nil, err
		}
		recent, err := s.docs.Recent(ctx, recentDocumentsLimit)
		if err != nil {
			return nil, err
		}
		return &model.Dashboard{
			Documents:          *docStats,
			Patients:           *patientStats,
			Diseases:           *diseaseStats,
			GenderDistribution: genderDistribution(facts),
			TopDiseases:        top,
			RecentDocuments:    recent,
		}, nil
	})
}

func (s *Service) DiseaseAnalytics(ctx context.Context, diseaseID *uuid.UUID) (*model.DiseaseAnalytics, error) {
	key := "diseases"
	if diseaseID != nil {
		key += ":" + diseaseID.String()
	}
	return cached(s, "diseases", key, func() (*model.DiseaseAnalytics, error) {
		if diseaseID != nil {
			if _, err := s.diseases.Get(ctx, *diseaseID); err != nil {
				return nil, err
			}
		}
		facts, err := s.repo.PatientFacts(ctx, diseaseID)
		if err != nil {
			return nil, err
		}

		ages := make([]*int, len(facts))
		locations := make(map[string]int)
		for i, f := range facts {
			ages[i] = f.Age
			locations[f.Location]++
		}
		return &model.DiseaseAnalytics{
			DiseaseID:     diseaseID,
			TotalPatients: len(facts),
			AgeGroups:     ageDistribution(ages, model.AgeGroups, true),
			Gender:        genderDistribution(facts),
			Locations:     rank(locations, 10),
		}, nil
	})
}

func (s *Service) Locations(ctx context.Context) (*model.LocationAnalytics, error) {
	return cached(s, "locations", "locations", func() (*model.LocationAnalytics, error) {
		facts, err := s.repo.PatientFacts(ctx, nil)
		if err != nil {
			return nil, err
		}
		states := make(map[string]int)
		cities := make(map[string]int)
		hospitals := make(map[string]int)
		locations := make(map[string]int)
		for _, f := range facts {
			states[f.State]++
			cities[f.City]++
			hospitals[f.HospitalClinic]++
			locations[f.Location]++
		}
		return &model.LocationAnalytics{
			ByState:    rank(states, 0),
			ByCity:     rank(cities, 20),
			ByHospital: rank(hospitals, 20),
			ByLocation: rank(locations, 20),
		}, nil
	})
}

func (s *Service) Age(ctx context.Context) (*model.AgeAnalytics, error) {
	return cached(s, "age", "age", func() (*model.AgeAnalytics, error) {
		facts, err := s.repo.PatientFacts(ctx, nil)
		if err != nil {
			return nil, err
		}
		top, err := s.repo.TopDiseases(ctx, topDiseasesLimit)
		if err != nil {
			return nil, err
		}
		diagnoses, err := s.repo.DiagnosisFacts(ctx, nil)
		if err != nil {
			return nil, err
		}

		all := make([]*int, len(facts))
		byGender := make(map[model.Gender][]*int)
		for i, f := range facts {
			all[i] = f.Age
			byGender[f.Gender] = append(byGender[f.Gender], f.Age)
		}
		byDisease := make(map[uuid.UUID][]*int)
		for _, d := range diagnoses {
			byDisease[d.DiseaseID] = append(byDisease[d.DiseaseID], d.Age)
		}

		out := &model.AgeAnalytics{
			Overall:   ageDistribution(all, model.AgeGroups, false),
			ByDisease: make([]model.DiseaseAgeBreakdown, 0, len(top)),
			ByGender:  make([]model.GenderAgeBreakdown, 0, 3),
		}
		for _, d := range top {
			out.ByDisease = append(out.ByDisease, model.DiseaseAgeBreakdown{
				Disease:   d.Name,
				AgeGroups: ageDistribution(byDisease[d.ID], knownAgeGroups, false),
			})
		}
		for _, g := range []model.Gender{model.GenderMale, model.GenderFemale, model.GenderOther} {
			out.ByGender = append(out.ByGender, model.GenderAgeBreakdown{
				Gender:    g,
				AgeGroups: ageDistribution(byGender[g], knownAgeGroups, false),
			})
		}
		return out, nil
	})
}

// Surveillance runs outbreak detection over a trailing window of days.
// Zero selects the configured lookback. The baseline always spans at
// least twice the window.
func (s *Service) Surveillance(ctx context.Context, days int) (*model.SurveillanceReport, error) {
	t := s.thresholds
	trendDays := defaultTrendDays
	if days != 0 {
		if err := validateWindow(days); err != nil {
			return nil, err
		}
		t.LookbackDays = days
		t.BaselineDays = max(t.BaselineDays, 2*days)
		trendDays = days
	}

	return cached(s, "surveillance", fmt.Sprintf("surveillance:%d", days), func() (*model.SurveillanceReport, error) {
		facts, err := s.repo.DiagnosisFacts(ctx, nil)
		if err != nil {
			return nil, err
		}
		return Surveillance(facts, s.now(), t, trendDays), nil
	})
}

func validateWindow(days int) error {
	for _, w := range TrendWindows {
		if w == days {
			return nil
		}
	}
	return apperrors.BadRequest(fmt.Sprintf("days must be one of %v", TrendWindows), nil)
}

func (s *Service) Trends(ctx context.Context, days int) ([]model.DiseaseTrend, error) {
	if err := validateWindow(days); err != nil {
		return nil, err
	}

	return cached(s, "trends", fmt.Sprintf("trends:%d", days), func() ([]model.DiseaseTrend, error) {
		since := s.now().AddDate(0, 0, -days)
		facts, err := s.repo.DiagnosisFacts(ctx, &since)
		if err != nil {
			return nil, err
		}
		return Trends(facts, since), nil
	})
}

func (s *Service) Comorbidity(ctx context.Context) ([]model.Comorbidity, error) {
	return cached(s, "comorbidity", "comorbidity", func() ([]model.Comorbidity, error) {
		facts, err := s.repo.DiagnosisFacts(ctx, nil)
		if err != nil {
			return nil, err
		}
		return Comorbidities(facts, comorbidityLimit), nil
	})
}

// Filter is not cached; it pages through live patient rows.
func (s *Service) Filter(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, int, error) {
	if filters.AgeGroup != "" && !model.IsAgeGroup(filters.AgeGroup) {
		return nil, 0, apperrors.BadRequest(fmt.Sprintf("invalid age_group %q", filters.AgeGroup), nil)
	}
	return s.patients.List(ctx, filters)
}

func (s *Service) FilterOptions(ctx context.Context) (*model.FilterOptions, error) {
	return cached(s, "filter_options", "filter_options", func() (*model.FilterOptions, error) {
		return s.repo.FilterOptions(ctx)
	})
}
