package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/healthbridge/internal/email"
	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/pkg/logger"
)

// SurveillanceSource produces fresh surveillance reports.
type SurveillanceSource interface {
	Surveillance(ctx context.Context, days int) (*model.SurveillanceReport, error)
	Invalidate()
}

// SurveillanceAlertJob mails critical outbreak alerts it has not sent yet.
type SurveillanceAlertJob struct {
	source   SurveillanceSource
	mailer   email.Service
	interval time.Duration
	logger   *logger.Logger

	mu   sync.Mutex
	sent map[string]int
}

func NewSurveillanceAlertJob(source SurveillanceSource, mailer email.Service, interval time.Duration, logger *logger.Logger) *SurveillanceAlertJob {
	return &SurveillanceAlertJob{
		source:   source,
		mailer:   mailer,
		interval: interval,
		logger:   logger,
		sent:     make(map[string]int),
	}
}

func (j *SurveillanceAlertJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("Starting surveillance alert job", "interval", j.interval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Error(err, "Surveillance alert run failed")
			}
		}
	}
}

// RunOnce mails new critical alerts and returns how many it sent. An alert
// is new when its disease was not critical on the previous run or its
// recent case count grew since the last mail.
func (j *SurveillanceAlertJob) RunOnce(ctx context.Context) (int, error) {
	j.source.Invalidate()
	report, err := j.source.Surveillance(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to build surveillance report: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	current := make(map[string]int)
	var fresh []model.OutbreakAlert
	for _, a := range report.Alerts {
		if a.Severity != model.SeverityCritical {
			continue
		}
		key := a.DiseaseID.String()
		current[key] = a.RecentCases
		if last, ok := j.sent[key]; ok && a.RecentCases <= last {
			current[key] = last
			continue
		}
		fresh = append(fresh, a)
	}

	if len(fresh) > 0 {
		if err := j.mailer.SendOutbreakAlerts(ctx, fresh); err != nil {
			return 0, err
		}
		j.logger.Info("Sent outbreak alerts", "count", len(fresh))
	}
	j.sent = current
	return len(fresh), nil
}
