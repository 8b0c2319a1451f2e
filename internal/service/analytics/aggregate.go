package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/healthbridge/internal/model"
)

// Thresholds tune the surveillance heuristics.
type Thresholds struct {
	WarningRatio        float64
	CriticalRatio       float64
	LookbackDays        int
	BaselineDays        int
	ClusterMinCases     int
	AgeConcentrationMin float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningRatio:    1.3,
		CriticalRatio:   2.0,
		LookbackDays:    7,
		BaselineDays:    30,
		ClusterMinCases: 1,
	}
}

var ageGroupDescriptions = map[string]string{
	model.AgeGroup0To17:  "Pediatric",
	model.AgeGroup18To29: "Young Adult",
	model.AgeGroup30To44: "Adult",
	model.AgeGroup45To59: "Middle Age",
	model.AgeGroup60Plus: "Elderly",
}

// knownAgeGroups is AgeGroups without Unknown.
var knownAgeGroups = model.AgeGroups[:len(model.AgeGroups)-1]

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// rank turns label counts into items sorted by count desc, then label.
// Empty labels are dropped and limit <= 0 keeps everything.
func rank(counts map[string]int, limit int) []model.CountItem {
	items := make([]model.CountItem, 0, len(counts))
	for label, n := range counts {
		if label == "" {
			continue
		}
		items = append(items, model.CountItem{Label: label, Count: n})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Label < items[j].Label
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// ageDistribution counts ages per bucket in display order.
func ageDistribution(ages []*int, groups []string, skipEmpty bool) []model.CountItem {
	counts := make(map[string]int, len(groups))
	for _, age := range ages {
		counts[model.AgeGroup(age)]++
	}
	items := make([]model.CountItem, 0, len(groups))
	for _, g := range groups {
		if skipEmpty && counts[g] == 0 {
			continue
		}
		items = append(items, model.CountItem{Label: g, Count: counts[g]})
	}
	return items
}

func genderDistribution(facts []model.PatientFact) []model.CountItem {
	counts := make(map[string]int)
	for _, f := range facts {
		g := string(f.Gender)
		if g == "" {
			g = string(model.GenderUnknown)
		}
		counts[g]++
	}
	return rank(counts, 0)
}

// ClassifySpike compares recent cases with the baseline average for the
// same window length. ok is false when no alert should be raised.
func ClassifySpike(recent int, baselineAvg float64, t Thresholds) (severity model.AlertSeverity, ratio *float64, ok bool) {
	if baselineAvg > 0 {
		raw := float64(recent) / baselineAvg
		r := round(raw, 2)
		switch {
		case raw >= t.CriticalRatio:
			return model.SeverityCritical, &r, true
		case raw >= t.WarningRatio:
			return model.SeverityWarning, &r, true
		}
		return "", nil, false
	}
	if recent > 0 && recent >= t.ClusterMinCases {
		return model.SeverityWarning, nil, true
	}
	return "", nil, false
}

type diseaseKey struct {
	id   uuid.UUID
	name string
}

// DetectOutbreaks flags diseases whose diagnoses in the lookback window
// exceed the scaled average of the preceding baseline window.
func DetectOutbreaks(facts []model.DiagnosisFact, now time.Time, t Thresholds) []model.OutbreakAlert {
	recentStart := now.AddDate(0, 0, -t.LookbackDays)
	baselineStart := now.AddDate(0, 0, -t.BaselineDays)
	baselineSpan := float64(t.BaselineDays - t.LookbackDays)

	recent := make(map[diseaseKey]int)
	baseline := make(map[diseaseKey]int)
	for _, f := range facts {
		k := diseaseKey{f.DiseaseID, f.DiseaseName}
		switch {
		case !f.CreatedAt.Before(recentStart):
			recent[k]++
		case !f.CreatedAt.Before(baselineStart):
			baseline[k]++
		}
	}

	alerts := []model.OutbreakAlert{}
	for k, n := range recent {
		avg := 0.0
		if baselineSpan > 0 {
			avg = float64(baseline[k]) / baselineSpan * float64(t.LookbackDays)
		}
		severity, ratio, ok := ClassifySpike(n, avg, t)
		if !ok {
			continue
		}
		alert := model.OutbreakAlert{
			Disease:       k.name,
			DiseaseID:     k.id,
			Severity:      severity,
			RecentCases:   n,
			BaselineAvg:   round(avg, 1),
			IncreaseRatio: ratio,
		}
		switch {
		case ratio == nil:
			alert.Message = fmt.Sprintf("%s: new disease emergence with %d cases", k.name, n)
		case severity == model.SeverityCritical:
			alert.Message = fmt.Sprintf("%s: %d cases in last %d days (%d%% above normal)",
				k.name, n, t.LookbackDays, int(math.Round((*ratio-1)*100)))
		default:
			alert.Message = fmt.Sprintf("%s: elevated cases detected", k.name)
		}
		alerts = append(alerts, alert)
	}

	sort.Slice(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.Severity != b.Severity {
			return a.Severity == model.SeverityCritical
		}
		ra, rb := ratioOrZero(a.IncreaseRatio), ratioOrZero(b.IncreaseRatio)
		if ra != rb {
			return ra > rb
		}
		return a.Disease < b.Disease
	})
	return alerts
}

func ratioOrZero(r *float64) float64 {
	if r == nil {
		return 0
	}
	return *r
}

type clusterAcc struct {
	patients map[uuid.UUID]struct{}
	diseases map[string]map[uuid.UUID]struct{}
}

func topNamed(diseases map[string]map[uuid.UUID]struct{}, limit int) []model.NamedCount {
	counts := make(map[string]int, len(diseases))
	for name, ps := range diseases {
		counts[name] = len(ps)
	}
	out := []model.NamedCount{}
	for _, item := range rank(counts, limit) {
		out = append(out, model.NamedCount{Name: item.Label, Count: item.Count})
	}
	return out
}

// GeographicClusters groups diagnosed patients by location string and by
// state, keeping groups with at least ClusterMinCases patients.
func GeographicClusters(facts []model.DiagnosisFact, t Thresholds) []model.GeographicCluster {
	build := func(kind string, key func(model.DiagnosisFact) string, limit int) []model.GeographicCluster {
		groups := make(map[string]*clusterAcc)
		for _, f := range facts {
			k := key(f)
			if k == "" {
				continue
			}
			acc, ok := groups[k]
			if !ok {
				acc = &clusterAcc{
					patients: make(map[uuid.UUID]struct{}),
					diseases: make(map[string]map[uuid.UUID]struct{}),
				}
				groups[k] = acc
			}
			acc.patients[f.PatientID] = struct{}{}
			if acc.diseases[f.DiseaseName] == nil {
				acc.diseases[f.DiseaseName] = make(map[uuid.UUID]struct{})
			}
			acc.diseases[f.DiseaseName][f.PatientID] = struct{}{}
		}

		clusters := []model.GeographicCluster{}
		for k, acc := range groups {
			if len(acc.patients) < t.ClusterMinCases {
				continue
			}
			c := model.GeographicCluster{
				Type:         kind,
				PatientCount: len(acc.patients),
				DiseaseCount: len(acc.diseases),
				TopDiseases:  topNamed(acc.diseases, 5),
			}
			if kind == "state" {
				c.State = k
			} else {
				c.Location = k
			}
			clusters = append(clusters, c)
		}
		sort.Slice(clusters, func(i, j int) bool {
			if clusters[i].PatientCount != clusters[j].PatientCount {
				return clusters[i].PatientCount > clusters[j].PatientCount
			}
			return clusters[i].Location+clusters[i].State < clusters[j].Location+clusters[j].State
		})
		if len(clusters) > limit {
			clusters = clusters[:limit]
		}
		return clusters
	}

	out := build("location", func(f model.DiagnosisFact) string { return f.Location }, 20)
	return append(out, build("state", func(f model.DiagnosisFact) string { return f.State }, 10)...)
}

// AgeConcentrations reports, per disease, the age bucket holding the
// largest share of its patients. Patients of unknown age count towards the
// total but never win a bucket.
func AgeConcentrations(facts []model.DiagnosisFact, t Thresholds) []model.AgeConcentration {
	type acc struct {
		key  diseaseKey
		ages map[uuid.UUID]*int
	}
	byDisease := make(map[uuid.UUID]*acc)
	for _, f := range facts {
		a, ok := byDisease[f.DiseaseID]
		if !ok {
			a = &acc{key: diseaseKey{f.DiseaseID, f.DiseaseName}, ages: make(map[uuid.UUID]*int)}
			byDisease[f.DiseaseID] = a
		}
		a.ages[f.PatientID] = f.Age
	}

	out := []model.AgeConcentration{}
	for _, a := range byDisease {
		total := len(a.ages)
		counts := make(map[string]int)
		for _, age := range a.ages {
			counts[model.AgeGroup(age)]++
		}

		shares := make(map[string]model.AgeGroupShare, len(knownAgeGroups))
		dominant, best := "", 0
		for _, g := range knownAgeGroups {
			shares[g] = model.AgeGroupShare{
				Count:       counts[g],
				Percentage:  round(float64(counts[g])/float64(total)*100, 1),
				Description: ageGroupDescriptions[g],
			}
			if counts[g] > best {
				dominant, best = g, counts[g]
			}
		}
		if best == 0 {
			continue
		}
		pct := shares[dominant].Percentage
		if pct < t.AgeConcentrationMin {
			continue
		}
		out = append(out, model.AgeConcentration{
			Disease:          a.key.name,
			DiseaseID:        a.key.id,
			DominantAgeGroup: dominant,
			Concentration:    pct,
			PatientCount:     best,
			TotalPatients:    total,
			Description:      fmt.Sprintf("%s primarily affects %s population", a.key.name, ageGroupDescriptions[dominant]),
			AllAgeGroups:     shares,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Concentration != out[j].Concentration {
			return out[i].Concentration > out[j].Concentration
		}
		return out[i].Disease < out[j].Disease
	})
	return out
}

// Comorbidities counts unordered disease pairs that share a patient.
func Comorbidities(facts []model.DiagnosisFact, limit int) []model.Comorbidity {
	perPatient := make(map[uuid.UUID]map[string]struct{})
	for _, f := range facts {
		if perPatient[f.PatientID] == nil {
			perPatient[f.PatientID] = make(map[string]struct{})
		}
		perPatient[f.PatientID][f.DiseaseName] = struct{}{}
	}

	type pair struct{ a, b string }
	counts := make(map[pair]int)
	for _, set := range perPatient {
		if len(set) < 2 {
			continue
		}
		names := make([]string, 0, len(set))
		for n := range set {
			names = append(names, n)
		}
		sort.Strings(names)
		for i := 0; i < len(names); i++ {
			for j := i + 1; j < len(names); j++ {
				counts[pair{names[i], names[j]}]++
			}
		}
	}

	out := make([]model.Comorbidity, 0, len(counts))
	for p, n := range counts {
		out = append(out, model.Comorbidity{Disease1: p.a, Disease2: p.b, CoOccurrenceCount: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CoOccurrenceCount != out[j].CoOccurrenceCount {
			return out[i].CoOccurrenceCount > out[j].CoOccurrenceCount
		}
		if out[i].Disease1 != out[j].Disease1 {
			return out[i].Disease1 < out[j].Disease1
		}
		return out[i].Disease2 < out[j].Disease2
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Trends returns daily diagnosis counts per disease from since onwards.
func Trends(facts []model.DiagnosisFact, since time.Time) []model.DiseaseTrend {
	daily := make(map[string]map[string]int)
	for _, f := range facts {
		if f.CreatedAt.Before(since) {
			continue
		}
		if daily[f.DiseaseName] == nil {
			daily[f.DiseaseName] = make(map[string]int)
		}
		daily[f.DiseaseName][f.CreatedAt.UTC().Format(time.DateOnly)]++
	}

	out := make([]model.DiseaseTrend, 0, len(daily))
	for name, days := range daily {
		trend := make([]model.TrendPoint, 0, len(days))
		for d, n := range days {
			trend = append(trend, model.TrendPoint{Date: d, Count: n})
		}
		sort.Slice(trend, func(i, j int) bool { return trend[i].Date < trend[j].Date })
		out = append(out, model.DiseaseTrend{Disease: name, Trend: trend})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Disease < out[j].Disease })
	return out
}

// Surveillance assembles the full report from one set of diagnosis facts.
func Surveillance(facts []model.DiagnosisFact, now time.Time, t Thresholds, trendDays int) *model.SurveillanceReport {
	return &model.SurveillanceReport{
		GeneratedAt:        now,
		Alerts:             DetectOutbreaks(facts, now, t),
		GeographicClusters: GeographicClusters(facts, t),
		AgeConcentrations:  AgeConcentrations(facts, t),
		Comorbidities:      Comorbidities(facts, 20),
		Trends:             Trends(facts, now.AddDate(0, 0, -trendDays)),
	}
}
