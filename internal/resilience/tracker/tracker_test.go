package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/cloudlink/internal/core/domain"
	"github.com/vietddude/cloudlink/internal/infra/events"
	"github.com/vietddude/cloudlink/internal/infra/kv"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Alert
	err  error
}

func (n *recordingNotifier) Send(ctx context.Context, userID string, alertType domain.AlertType, alert domain.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, alert)
	return nil
}

func (n *recordingNotifier) count(t domain.AlertType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, a := range n.sent {
		if a.Type == t {
			c++
		}
	}
	return c
}

type fixture struct {
	tracker  *Tracker
	notifier *recordingNotifier
	sink     *events.Recorder
	clock    clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC))
	n := &recordingNotifier{}
	sink := &events.Recorder{}
	return &fixture{
		tracker:  New(kv.NewMemoryStore(fc), n, sink, fc, DefaultConfig(), nil),
		notifier: n,
		sink:     sink,
		clock:    fc,
	}
}

func networkEvent(op domain.Operation) Event {
	return Event{
		Provider:  domain.ProviderGoogleDrive,
		UserID:    "u1",
		Operation: op,
		ErrorType: domain.ErrorNetwork,
		Err:       errors.New("connection refused"),
	}
}

func findAlert(alerts []domain.Alert, t domain.AlertType) *domain.Alert {
	for i := range alerts {
		if alerts[i].Type == t {
			return &alerts[i]
		}
	}
	return nil
}

func TestHighErrorRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		require.NoError(t, f.tracker.RecordError(ctx, networkEvent(domain.OpUpload)))
	}

	alerts, err := f.tracker.ActiveAlerts(ctx, domain.ProviderGoogleDrive, "u1")
	require.NoError(t, err)

	a := findAlert(alerts, domain.AlertHighErrorRate)
	require.NotNil(t, a)
	assert.Equal(t, int64(15), a.CurrentValue)
	assert.Equal(t, int64(10), a.Threshold)
	assert.Equal(t, domain.SeverityMedium, a.Severity)

	c := findAlert(alerts, domain.AlertConsecutiveFailures)
	require.NotNil(t, c)
	assert.Equal(t, domain.SeverityHigh, c.Severity)
	assert.Equal(t, "upload", c.Details["operation"])

	assert.Nil(t, findAlert(alerts, domain.AlertCriticalErrors), "network errors never need a user")

	// Each alert type went out once despite firing on every later error.
	assert.Equal(t, 1, f.notifier.count(domain.AlertHighErrorRate))
	assert.Equal(t, 1, f.notifier.count(domain.AlertConsecutiveFailures))
}

func TestHighErrorRate_NewHourStartsOver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		require.NoError(t, f.tracker.RecordError(ctx, networkEvent(domain.OpList)))
		require.NoError(t, f.tracker.RecordSuccess(ctx, domain.ProviderGoogleDrive, "u1", domain.OpList))
	}
	alerts, err := f.tracker.ActiveAlerts(ctx, domain.ProviderGoogleDrive, "u1")
	require.NoError(t, err)
	assert.NotNil(t, findAlert(alerts, domain.AlertHighErrorRate))

	f.clock.Advance(time.Hour)
	alerts, err = f.tracker.ActiveAlerts(ctx, domain.ProviderGoogleDrive, "u1")
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestDispatch_Suppressed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alert := domain.Alert{ID: "a1", Type: domain.AlertCriticalErrors, Provider: domain.ProviderAmazonS3, UserID: "u1"}

	sent, err := f.tracker.Dispatch(ctx, alert)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = f.tracker.Dispatch(ctx, alert)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, 1, f.notifier.count(domain.AlertCriticalErrors))

	suppressed := 0
	for _, ev := range f.sink.Events(events.ChannelAlerts) {
		if ev.Attrs["suppressed"].Bool() {
			suppressed++
		}
	}
	assert.Equal(t, 1, suppressed)

	f.clock.Advance(time.Hour)
	sent, err = f.tracker.Dispatch(ctx, alert)
	require.NoError(t, err)
	assert.True(t, sent, "suppression expires")
}

func TestDispatch_FailedSendIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alert := domain.Alert{ID: "a1", Type: domain.AlertHighErrorRate, Provider: domain.ProviderAmazonS3, UserID: "u1"}

	f.notifier.err = errors.New("smtp down")
	_, err := f.tracker.Dispatch(ctx, alert)
	assert.Error(t, err)

	f.notifier.err = nil
	sent, err := f.tracker.Dispatch(ctx, alert)
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestCriticalErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tracker.RecordError(ctx, Event{
		Provider:  domain.ProviderAmazonS3,
		UserID:    "u1",
		Operation: domain.OpConnectivityCheck,
		ErrorType: domain.ErrorBucketNotFound,
		Message:   "bucket missing",
	}))

	alerts, err := f.tracker.ActiveAlerts(ctx, domain.ProviderAmazonS3, "u1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertCriticalErrors, alerts[0].Type)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, int64(1), alerts[0].Details["bucket_not_found"])
	assert.Equal(t, 1, f.notifier.count(domain.AlertCriticalErrors))
}

func TestRecordSuccess_ResetsOnlyThatOperation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.tracker.RecordError(ctx, networkEvent(domain.OpUpload)))
		require.NoError(t, f.tracker.RecordError(ctx, networkEvent(domain.OpDownload)))
	}
	require.NoError(t, f.tracker.RecordSuccess(ctx, domain.ProviderGoogleDrive, "u1", domain.OpUpload))

	stats, err := f.tracker.Statistics(ctx, domain.ProviderGoogleDrive, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.TotalErrors)
	assert.NotContains(t, stats.ConsecutiveFailures, domain.OpUpload)
	assert.Equal(t, int64(3), stats.ConsecutiveFailures[domain.OpDownload])
}

func TestRecentErrors_Capped(t *testing.T) {
	fc := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.RecentCapacity = 5
	cfg.HighErrorRate = 1000
	cfg.ConsecutiveFailures = 1000
	tr := New(kv.NewMemoryStore(fc), &recordingNotifier{}, &events.Recorder{}, fc, cfg, nil)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		ev := networkEvent(domain.OpUpload)
		ev.Message = fmt.Sprintf("err-%d", i)
		require.NoError(t, tr.RecordError(ctx, ev))
	}

	recent, err := tr.Recent(ctx, domain.ProviderGoogleDrive, "u1", 0)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, "err-7", recent[0].Message)
	assert.Equal(t, "err-3", recent[4].Message)
	assert.Equal(t, "connection refused", recent[0].Exception)
}

func TestStatistics_Window(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tracker.RecordError(ctx, networkEvent(domain.OpUpload)))
	f.clock.Advance(time.Hour)
	require.NoError(t, f.tracker.RecordError(ctx, Event{
		Provider:  domain.ProviderGoogleDrive,
		UserID:    "u1",
		Operation: domain.OpTokenRefresh,
		ErrorType: domain.ErrorTimeout,
	}))
	require.NoError(t, f.tracker.RecordError(ctx, Event{
		Provider:  domain.ProviderGoogleDrive,
		UserID:    "u1",
		Operation: domain.OpTokenRefresh,
		ErrorType: "made_up",
	}))

	stats, err := f.tracker.Statistics(ctx, domain.ProviderGoogleDrive, "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalErrors)
	require.Len(t, stats.Hourly, 2)
	assert.Equal(t, int64(2), stats.Hourly[0].Count)
	assert.Equal(t, int64(1), stats.Hourly[1].Count)
	assert.Equal(t, int64(1), stats.ByType[domain.ErrorNetwork])
	assert.Equal(t, int64(1), stats.ByType[domain.ErrorTimeout])
	assert.Equal(t, int64(1), stats.ByType[domain.ErrorUnknown])
	assert.Equal(t, int64(2), stats.ByOperation[domain.OpTokenRefresh])
	assert.Len(t, stats.Recent, 3)

	stats, err = f.tracker.Statistics(ctx, domain.ProviderGoogleDrive, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalErrors)

	stats, err = f.tracker.Statistics(ctx, domain.ProviderGoogleDrive, "u1", 500)
	require.NoError(t, err)
	assert.Equal(t, MaxHours, stats.Hours)
}

// failingDeletes rejects every Delete.
type failingDeletes struct {
	kv.Store
}

func (failingDeletes) Delete(ctx context.Context, keys ...string) error {
	return errors.New("redis: connection pool timeout")
}

func TestDispatch_LogsWhenSuppressionCannotBeCleared(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	var logs bytes.Buffer
	n := &recordingNotifier{err: errors.New("smtp down")}
	tr := New(failingDeletes{kv.NewMemoryStore(fc)}, n, &events.Recorder{}, fc, DefaultConfig(),
		slog.New(slog.NewTextHandler(&logs, nil)))
	alert := domain.Alert{ID: "a1", Type: domain.AlertHighErrorRate, Provider: domain.ProviderAmazonS3, UserID: "u1"}

	_, err := tr.Dispatch(ctx, alert)
	require.Error(t, err)
	assert.Contains(t, logs.String(), "Failed to clear alert suppression")
	assert.Contains(t, logs.String(), "connection pool timeout")

	n.err = nil
	sent, err := tr.Dispatch(ctx, alert)
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestConsecutiveFailures_StreakOutlivesRetention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tracker.RecordError(ctx, networkEvent(domain.OpUpload)))
	f.clock.Advance(20 * time.Hour)
	require.NoError(t, f.tracker.RecordError(ctx, networkEvent(domain.OpUpload)))
	f.clock.Advance(10 * time.Hour)

	stats, err := f.tracker.Statistics(ctx, domain.ProviderGoogleDrive, "u1", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.ConsecutiveFailures[domain.OpUpload])

	f.clock.Advance(16 * time.Hour)
	stats, err = f.tracker.Statistics(ctx, domain.ProviderGoogleDrive, "u1", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.ConsecutiveFailures[domain.OpUpload])
}
