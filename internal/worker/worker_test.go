package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/pkg/logger"
	"github.com/jwalitptl/healthbridge/pkg/messaging"
)

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate() { c.n++ }

type chanBroker struct {
	ch      chan []byte
	channel string
}

func (b *chanBroker) Publish(context.Context, string, interface{}) error { return nil }
func (b *chanBroker) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.channel = channel
	return b.ch, nil
}
func (b *chanBroker) Close() error { return nil }

func TestCacheInvalidationSubscriber(t *testing.T) {
	broker := &chanBroker{ch: make(chan []byte, 3)}
	inv := &countingInvalidator{}
	sub := NewCacheInvalidationSubscriber(broker, logger.Nop(), inv)

	payload, err := json.Marshal(model.DataChangedPayload{Reason: "document_processed"})
	require.NoError(t, err)
	msg, err := json.Marshal(messaging.Message{Type: model.EventDataChanged, Payload: payload})
	require.NoError(t, err)

	broker.ch <- msg
	broker.ch <- []byte("not json")
	broker.ch <- msg
	close(broker.ch)

	require.NoError(t, sub.Run(context.Background()))
	assert.Equal(t, messaging.ChannelDataChanged, broker.channel)
	assert.Equal(t, 2, inv.n)
}

type cleanupRepo struct {
	fakeOutbox
	before time.Time
}

func (r *cleanupRepo) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.before = before
	return 4, nil
}

// fakeOutbox satisfies the parts of the outbox repository the cleanup never calls.
type fakeOutbox struct{}

func (fakeOutbox) Create(context.Context, *model.OutboxEvent) error { return nil }
func (fakeOutbox) GetPendingEventsWithLock(context.Context, *sql.Tx, int) ([]*model.OutboxEvent, error) {
	return nil, nil
}
func (fakeOutbox) BeginTx(context.Context) (*sql.Tx, error) { return nil, nil }
func (fakeOutbox) UpdateStatusTx(context.Context, *sql.Tx, uuid.UUID, model.OutboxStatus, *string, *time.Time) error {
	return nil
}
func (fakeOutbox) MoveToDeadLetter(context.Context, *sql.Tx, *model.OutboxEvent) error { return nil }

func TestOutboxCleanup(t *testing.T) {
	repo := &cleanupRepo{}
	w := NewOutboxCleanupWorker(repo, 7, time.Hour, logger.Nop())
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	n, err := w.cleanup(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC), repo.before)
}

type stubSource struct {
	report      *model.SurveillanceReport
	invalidated int
}

func (s *stubSource) Surveillance(context.Context, int) (*model.SurveillanceReport, error) {
	return s.report, nil
}
func (s *stubSource) Invalidate() { s.invalidated++ }

type recordingMailer struct {
	batches [][]model.OutbreakAlert
	err     error
}

func (m *recordingMailer) SendOutbreakAlerts(_ context.Context, alerts []model.OutbreakAlert) error {
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, alerts)
	return nil
}
func (m *recordingMailer) SendCustom(context.Context, []string, string, string) error { return nil }

func TestSurveillanceAlertJob(t *testing.T) {
	dengue, malaria := uuid.New(), uuid.New()
	source := &stubSource{report: &model.SurveillanceReport{Alerts: []model.OutbreakAlert{
		{Disease: "Dengue", DiseaseID: dengue, Severity: model.SeverityCritical, RecentCases: 20},
		{Disease: "Malaria", DiseaseID: malaria, Severity: model.SeverityWarning, RecentCases: 9},
	}}}
	mailer := &recordingMailer{}
	job := NewSurveillanceAlertJob(source, mailer, time.Hour, logger.Nop())
	ctx := context.Background()

	n, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, mailer.batches, 1)
	assert.Equal(t, "Dengue", mailer.batches[0][0].Disease)
	assert.Equal(t, 1, source.invalidated)

	// Same numbers again: nothing new to send.
	n, err = job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// More cases re-arms the alert.
	source.report.Alerts[0].RecentCases = 31
	n, err = job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, mailer.batches, 2)
}

func TestSurveillanceAlertJob_RetriesAfterMailFailure(t *testing.T) {
	source := &stubSource{report: &model.SurveillanceReport{Alerts: []model.OutbreakAlert{
		{Disease: "Cholera", DiseaseID: uuid.New(), Severity: model.SeverityCritical, RecentCases: 5},
	}}}
	mailer := &recordingMailer{err: errors.New("smtp down")}
	job := NewSurveillanceAlertJob(source, mailer, time.Hour, logger.Nop())

	_, err := job.RunOnce(context.Background())
	assert.Error(t, err)

	mailer.err = nil
	n, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
