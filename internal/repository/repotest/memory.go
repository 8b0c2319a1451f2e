// Package repotest holds in-memory repositories for service and handler tests.
package repotest

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/repository"
	apperrors "github.com/jwalitptl/healthbridge/pkg/errors"
)

// Store backs every fake so links between patients and diseases stay consistent.
type Store struct {
	txMu        sync.Mutex
	mu          sync.Mutex
	Documents   map[uuid.UUID]*model.Document
	Logs        []*model.ProcessingLog
	Patients    map[uuid.UUID]*model.Patient
	Diseases    map[uuid.UUID]*model.Disease
	Links       []*model.PatientDisease
	Events      []*model.OutboxEvent
	Uploads     map[uuid.UUID]*model.RawUpload
	Extractions []*model.ExtractionRecord
}

func NewStore() *Store {
	return &Store{
		Documents: make(map[uuid.UUID]*model.Document),
		Patients:  make(map[uuid.UUID]*model.Patient),
		Diseases:  make(map[uuid.UUID]*model.Disease),
		Uploads:   make(map[uuid.UUID]*model.RawUpload),
	}
}

func (s *Store) DocumentRepository() repository.DocumentRepository { return &documents{s} }
func (s *Store) ProcessingLogRepository() repository.ProcessingLogRepository {
	return &logs{s}
}
func (s *Store) PatientRepository() repository.PatientRepository { return &patients{s} }
func (s *Store) DiseaseRepository() repository.DiseaseRepository { return &diseases{s} }
func (s *Store) OutboxRepository() repository.OutboxRepository   { return &outbox{s} }
func (s *Store) RawDocumentStore() repository.RawDocumentStore   { return &raw{s} }
func (s *Store) AnalyticsRepository() repository.AnalyticsRepository {
	return &analytics{s}
}

// diseaseNames must be called with mu held.
func (s *Store) diseaseNames(patientID uuid.UUID) []string {
	names := []string{}
	for _, l := range s.Links {
		if l.PatientID == patientID {
			names = append(names, s.Diseases[l.DiseaseID].Name)
		}
	}
	return names
}

func (s *Store) patientCopy(p *model.Patient) *model.Patient {
	cp := *p
	cp.Diseases = s.diseaseNames(p.ID)
	return &cp
}

type documents struct{ s *Store }

func (r *documents) Create(_ context.Context, doc *model.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.ProcessingStatus == "" {
		doc.ProcessingStatus = model.StatusPending
	}
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	cp := *doc
	r.s.Documents[doc.ID] = &cp
	return nil
}

func (r *documents) Get(_ context.Context, id uuid.UUID) (*model.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	doc, ok := r.s.Documents[id]
	if !ok {
		return nil, apperrors.NotFound("document", sql.ErrNoRows)
	}
	cp := *doc
	return &cp, nil
}

func (r *documents) List(_ context.Context, f *model.DocumentFilters) ([]*model.Document, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Document
	for _, d := range r.s.Documents {
		if f.Status != "" && d.ProcessingStatus != f.Status {
			continue
		}
		if f.DocumentType != "" && d.DocumentType != f.DocumentType {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Pagination), len(out), nil
}

func (r *documents) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.Documents[id]; !ok {
		return apperrors.NotFound("document", nil)
	}
	delete(r.s.Documents, id)
	return nil
}

func (r *documents) Transition(_ context.Context, id uuid.UUID, from []model.ProcessingStatus, to model.ProcessingStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	doc, ok := r.s.Documents[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if doc.ProcessingStatus == st {
			doc.ProcessingStatus = to
			if to == model.StatusProcessing {
				doc.ProcessingError = nil
			}
			return true, nil
		}
	}
	return false, nil
}

func (r *documents) Complete(_ context.Context, doc *model.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if cur, ok := r.s.Documents[doc.ID]; !ok || cur.ProcessingStatus != model.StatusProcessing {
		return repository.ErrNotProcessing
	}
	now := time.Now()
	doc.ProcessingStatus = model.StatusCompleted
	doc.ProcessingError = nil
	doc.ProcessedAt = &now
	cp := *doc
	r.s.Documents[doc.ID] = &cp
	return nil
}

func (r *documents) Fail(_ context.Context, id uuid.UUID, message string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	doc, ok := r.s.Documents[id]
	if !ok || doc.ProcessingStatus != model.StatusProcessing {
		return repository.ErrNotProcessing
	}
	now := time.Now()
	doc.ProcessingStatus = model.StatusFailed
	doc.ProcessingError = &message
	doc.ProcessedAt = &now
	return nil
}

func (r *documents) ListIDsByStatus(_ context.Context, status model.ProcessingStatus) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []uuid.UUID
	for id, d := range r.s.Documents {
		if d.ProcessingStatus == status {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *documents) Recent(ctx context.Context, limit int) ([]*model.Document, error) {
	docs, _, err := r.List(ctx, &model.DocumentFilters{Pagination: model.Pagination{Page: 1, PageSize: limit}})
	return docs, err
}

type logs struct{ s *Store }

func (r *logs) Create(_ context.Context, log *model.ProcessingLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	log.ID = uuid.New()
	log.CreatedAt = time.Now()
	r.s.Logs = append(r.s.Logs, log)
	return nil
}

func (r *logs) ListByDocument(_ context.Context, documentID uuid.UUID) ([]*model.ProcessingLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.ProcessingLog{}
	for _, l := range r.s.Logs {
		if l.DocumentID == documentID {
			out = append(out, l)
		}
	}
	return out, nil
}

type patients struct{ s *Store }

func (r *patients) Create(_ context.Context, p *model.Patient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	cp.Diseases = nil
	r.s.Patients[p.ID] = &cp
	return nil
}

func (r *patients) Get(_ context.Context, id uuid.UUID) (*model.Patient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.Patients[id]
	if !ok {
		return nil, apperrors.NotFound("patient", sql.ErrNoRows)
	}
	return r.s.patientCopy(p), nil
}

func (r *patients) Update(_ context.Context, p *model.Patient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.Patients[p.ID]; !ok {
		return apperrors.NotFound("patient", nil)
	}
	p.UpdatedAt = time.Now()
	cp := *p
	cp.Diseases = nil
	r.s.Patients[p.ID] = &cp
	return nil
}

func (r *patients) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.Patients[id]; !ok {
		return apperrors.NotFound("patient", nil)
	}
	delete(r.s.Patients, id)
	kept := r.s.Links[:0]
	for _, l := range r.s.Links {
		if l.PatientID != id {
			kept = append(kept, l)
		}
	}
	r.s.Links = kept
	return nil
}

func contains(field, needle string) bool {
	return strings.Contains(strings.ToLower(field), strings.ToLower(needle))
}

// matches mirrors the SQL filter; call with mu held.
func (r *patients) matches(p *model.Patient, f *model.PatientFilters) bool {
	if f.Gender != "" && !strings.EqualFold(string(p.Gender), f.Gender) {
		return false
	}
	if f.City != "" && !contains(p.City, f.City) {
		return false
	}
	if f.District != "" && !contains(p.District, f.District) {
		return false
	}
	if f.State != "" && !contains(p.State, f.State) {
		return false
	}
	if f.HospitalClinic != "" && !contains(p.HospitalClinic, f.HospitalClinic) {
		return false
	}
	if f.DiseaseID != nil {
		found := false
		for _, l := range r.s.Links {
			if l.PatientID == p.ID && l.DiseaseID == *f.DiseaseID {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if f.DiseaseName != "" {
		found := false
		for _, name := range r.s.diseaseNames(p.ID) {
			if contains(name, f.DiseaseName) {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if f.MinAge != nil && (p.Age == nil || *p.Age < *f.MinAge) {
		return false
	}
	if f.MaxAge != nil && (p.Age == nil || *p.Age > *f.MaxAge) {
		return false
	}
	if f.AgeGroup != "" && p.AgeGroup() != f.AgeGroup {
		return false
	}
	if f.Search != "" && !contains(p.Name, f.Search) && !contains(p.PhoneNumber, f.Search) &&
		!contains(p.Location, f.Search) && !contains(p.City, f.Search) {
		return false
	}
	return true
}

func (r *patients) List(_ context.Context, f *model.PatientFilters) ([]*model.Patient, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Patient
	for _, p := range r.s.Patients {
		if r.matches(p, f) {
			out = append(out, r.s.patientCopy(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Pagination), len(out), nil
}

func (r *patients) FindMatch(_ context.Context, name, phone string) (*model.Patient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.Patients {
		if !strings.EqualFold(p.Name, name) {
			continue
		}
		if phone != "" && p.PhoneNumber != phone {
			continue
		}
		return r.s.patientCopy(p), nil
	}
	return nil, nil
}

func (r *patients) LinkDisease(_ context.Context, link *model.PatientDisease) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, l := range r.s.Links {
		if l.PatientID == link.PatientID && l.DiseaseID == link.DiseaseID {
			return nil
		}
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	cp := *link
	r.s.Links = append(r.s.Links, &cp)
	return nil
}

func (r *patients) ListByDisease(_ context.Context, diseaseID uuid.UUID, limit int) ([]*model.Patient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.Patient{}
	for _, l := range r.s.Links {
		if l.DiseaseID == diseaseID && len(out) < limit {
			out = append(out, r.s.patientCopy(r.s.Patients[l.PatientID]))
		}
	}
	return out, nil
}

// WithMatchLock serializes every upsert and restores patients, diseases
// and links when fn fails.
func (r *patients) WithMatchLock(_ context.Context, _ string, fn func(tx repository.PatientTx) error) error {
	r.s.txMu.Lock()
	defer r.s.txMu.Unlock()

	r.s.mu.Lock()
	snap := r.s.snapshot()
	r.s.mu.Unlock()

	if err := fn(patientTx{patients: r, diseases: &diseases{r.s}}); err != nil {
		r.s.mu.Lock()
		r.s.restore(snap)
		r.s.mu.Unlock()
		return err
	}
	return nil
}

type patientTx struct {
	*patients
	diseases *diseases
}

func (t patientTx) GetOrCreateDisease(ctx context.Context, name, icdCode string) (*model.Disease, error) {
	return t.diseases.GetOrCreate(ctx, name, icdCode)
}

type storeSnapshot struct {
	patients map[uuid.UUID]*model.Patient
	diseases map[uuid.UUID]*model.Disease
	links    []*model.PatientDisease
}

// snapshot must be called with mu held.
func (s *Store) snapshot() storeSnapshot {
	snap := storeSnapshot{
		patients: make(map[uuid.UUID]*model.Patient, len(s.Patients)),
		diseases: make(map[uuid.UUID]*model.Disease, len(s.Diseases)),
		links:    append([]*model.PatientDisease(nil), s.Links...),
	}
	for id, p := range s.Patients {
		snap.patients[id] = p
	}
	for id, d := range s.Diseases {
		cp := *d
		snap.diseases[id] = &cp
	}
	return snap
}

// restore must be called with mu held.
func (s *Store) restore(snap storeSnapshot) {
	s.Patients = snap.patients
	s.Diseases = snap.diseases
	s.Links = snap.links
}

type diseases struct{ s *Store }

func (r *diseases) GetOrCreate(_ context.Context, name, icdCode string) (*model.Disease, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, errors.New("disease name cannot be empty")
	}
	for _, d := range r.s.Diseases {
		if d.NormalizedName == key {
			if d.ICDCode == "" {
				d.ICDCode = icdCode
			}
			cp := *d
			return &cp, nil
		}
	}
	d := &model.Disease{
		ID:             uuid.New(),
		Name:           strings.TrimSpace(name),
		NormalizedName: key,
		ICDCode:        icdCode,
		CreatedAt:      time.Now(),
	}
	r.s.Diseases[d.ID] = d
	cp := *d
	return &cp, nil
}

// count must be called with mu held.
func (r *diseases) count(id uuid.UUID) int {
	seen := make(map[uuid.UUID]bool)
	for _, l := range r.s.Links {
		if l.DiseaseID == id {
			seen[l.PatientID] = true
		}
	}
	return len(seen)
}

func (r *diseases) Get(_ context.Context, id uuid.UUID) (*model.Disease, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.Diseases[id]
	if !ok {
		return nil, apperrors.NotFound("disease", sql.ErrNoRows)
	}
	cp := *d
	cp.PatientCount = r.count(id)
	return &cp, nil
}

func (r *diseases) List(_ context.Context) ([]*model.Disease, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.Disease{}
	for id, d := range r.s.Diseases {
		cp := *d
		cp.PatientCount = r.count(id)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PatientCount != out[j].PatientCount {
			return out[i].PatientCount > out[j].PatientCount
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

type analytics struct{ s *Store }

func (r *analytics) DocumentStats(context.Context) (*model.DocumentStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stats := &model.DocumentStats{Total: len(r.s.Documents)}
	for _, d := range r.s.Documents {
		switch d.ProcessingStatus {
		case model.StatusCompleted:
			stats.Processed++
		case model.StatusPending:
			stats.Pending++
		case model.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (r *analytics) PatientStats(context.Context) (*model.PatientStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stats := &model.PatientStats{Total: len(r.s.Patients)}
	for _, p := range r.s.Patients {
		if p.PhoneNumber != "" {
			stats.WithContact++
		}
	}
	return stats, nil
}

func (r *analytics) DiseaseStats(context.Context) (*model.DiseaseStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	for _, l := range r.s.Links {
		seen[l.DiseaseID] = true
	}
	return &model.DiseaseStats{UniqueDiseases: len(seen), TotalDiagnoses: len(r.s.Links)}, nil
}

func (r *analytics) TopDiseases(_ context.Context, limit int) ([]model.DiseaseCount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d := &diseases{r.s}
	out := []model.DiseaseCount{}
	for id, disease := range r.s.Diseases {
		if n := d.count(id); n > 0 {
			out = append(out, model.DiseaseCount{ID: id, Name: disease.Name, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *analytics) PatientFacts(_ context.Context, diseaseID *uuid.UUID) ([]model.PatientFact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	linked := func(id uuid.UUID) bool {
		for _, l := range r.s.Links {
			if l.PatientID == id && l.DiseaseID == *diseaseID {
				return true
			}
		}
		return false
	}
	out := []model.PatientFact{}
	for _, p := range r.s.Patients {
		if diseaseID != nil && !linked(p.ID) {
			continue
		}
		out = append(out, model.PatientFact{
			ID:             p.ID,
			Age:            p.Age,
			Gender:         p.Gender,
			City:           p.City,
			State:          p.State,
			Location:       p.Location,
			HospitalClinic: p.HospitalClinic,
		})
	}
	return out, nil
}

func (r *analytics) DiagnosisFacts(_ context.Context, since *time.Time) ([]model.DiagnosisFact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.DiagnosisFact{}
	for _, l := range r.s.Links {
		if since != nil && l.CreatedAt.Before(*since) {
			continue
		}
		p := r.s.Patients[l.PatientID]
		out = append(out, model.DiagnosisFact{
			PatientID:   l.PatientID,
			DiseaseID:   l.DiseaseID,
			DiseaseName: r.s.Diseases[l.DiseaseID].Name,
			Age:         p.Age,
			Gender:      p.Gender,
			State:       p.State,
			Location:    p.Location,
			CreatedAt:   l.CreatedAt,
		})
	}
	return out, nil
}

func (r *analytics) FilterOptions(ctx context.Context) (*model.FilterOptions, error) {
	r.s.mu.Lock()
	sets := map[string]map[string]bool{}
	add := func(kind, v string) {
		if v == "" {
			return
		}
		if sets[kind] == nil {
			sets[kind] = map[string]bool{}
		}
		sets[kind][v] = true
	}
	for _, p := range r.s.Patients {
		add("state", p.State)
		add("city", p.City)
		add("district", p.District)
		add("hospital", p.HospitalClinic)
		add("gender", string(p.Gender))
	}
	r.s.mu.Unlock()

	sorted := func(kind string) []string {
		out := []string{}
		for v := range sets[kind] {
			out = append(out, v)
		}
		sort.Strings(out)
		return out
	}
	top, err := r.TopDiseases(ctx, 1000)
	if err != nil {
		return nil, err
	}
	return &model.FilterOptions{
		States:    sorted("state"),
		Cities:    sorted("city"),
		Districts: sorted("district"),
		Hospitals: sorted("hospital"),
		Diseases:  top,
		Genders:   sorted("gender"),
		AgeGroups: model.AgeGroups,
	}, nil
}

type outbox struct{ s *Store }

func (r *outbox) Create(_ context.Context, e *model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e.ID = uuid.New()
	e.Status = model.OutboxStatusPending
	e.CreatedAt = time.Now()
	r.s.Events = append(r.s.Events, e)
	return nil
}

func (r *outbox) GetPendingEventsWithLock(context.Context, *sql.Tx, int) ([]*model.OutboxEvent, error) {
	return nil, nil
}
func (r *outbox) BeginTx(context.Context) (*sql.Tx, error) { return nil, nil }
func (r *outbox) UpdateStatusTx(context.Context, *sql.Tx, uuid.UUID, model.OutboxStatus, *string, *time.Time) error {
	return nil
}
func (r *outbox) MoveToDeadLetter(context.Context, *sql.Tx, *model.OutboxEvent) error { return nil }
func (r *outbox) DeleteProcessedBefore(context.Context, time.Time) (int64, error)     { return 0, nil }

type raw struct{ s *Store }

func (r *raw) SaveUpload(_ context.Context, u *model.RawUpload) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *u
	r.s.Uploads[u.DocumentID] = &cp
	return nil
}

func (r *raw) GetUpload(_ context.Context, id uuid.UUID) (*model.RawUpload, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.Uploads[id]
	if !ok {
		return nil, apperrors.NotFound("raw upload", nil)
	}
	cp := *u
	return &cp, nil
}

func (r *raw) DeleteUpload(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.Uploads, id)
	return nil
}

func (r *raw) SaveExtraction(_ context.Context, rec *model.ExtractionRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.Extractions = append(r.s.Extractions, rec)
	return nil
}

func page[T any](items []T, p model.Pagination) []T {
	if items == nil {
		items = []T{}
	}
	if p.PageSize <= 0 {
		return items
	}
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.PageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
