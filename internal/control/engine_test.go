package control

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/vietddude/cloudlink/internal/core/clock"
	"github.com/vietddude/cloudlink/internal/core/domain"
	"github.com/vietddude/cloudlink/internal/infra/events"
	"github.com/vietddude/cloudlink/internal/infra/kv"
	"github.com/vietddude/cloudlink/internal/infra/provider"
	"github.com/vietddude/cloudlink/internal/infra/storage/memory"
	"github.com/vietddude/cloudlink/internal/resilience/health"
	"github.com/vietddude/cloudlink/internal/resilience/ratelimit"
	"github.com/vietddude/cloudlink/internal/resilience/refresh"
	"github.com/vietddude/cloudlink/internal/resilience/tracker"
)

const user = "user-1"

type stubClient struct {
	mu           sync.Mutex
	refreshErr   error
	connErr      error
	refreshCalls int
	connCalls    int
	now          func() time.Time
}

func (c *stubClient) Name() domain.Provider { return domain.ProviderGoogleDrive }

func (c *stubClient) RefreshToken(ctx context.Context, cred *domain.Credential) (*domain.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshCalls++
	if c.refreshErr != nil {
		return nil, c.refreshErr
	}
	return &domain.Token{AccessToken: "fresh", ExpiresAt: c.now().Add(time.Hour)}, nil
}

func (c *stubClient) TestConnectivity(ctx context.Context, cred *domain.Credential) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connCalls++
	return c.connErr
}

func (c *stubClient) set(refreshErr, connErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshErr = refreshErr
	c.connErr = connErr
}

func (c *stubClient) refreshes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshCalls
}

type harness struct {
	engine *Engine
	store  *memory.MemoryStorage
	client *stubClient
	clock  clockwork.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	kvs := kv.NewMemoryStore(fc)
	store := memory.NewMemoryStorage()
	client := &stubClient{now: fc.Now}
	registry := provider.NewRegistry(client)
	sink := &events.Recorder{}
	limiter := ratelimit.New(kvs, nil, fc, nil)
	tr := tracker.New(kvs, nil, sink, fc, tracker.DefaultConfig(), nil)

	orch := refresh.New(refresh.Deps{
		Store:     store,
		KV:        kvs,
		Limiter:   limiter,
		Providers: registry,
		Tracker:   tr,
		Events:    sink,
		Clock:     fc,
		Sleep:     clock.Advancing(fc),
	}, refresh.DefaultConfig())
	machine := health.New(health.Deps{
		Store:     store,
		KV:        kvs,
		Tokens:    orch,
		Providers: registry,
		Limiter:   limiter,
		Tracker:   tr,
		Events:    sink,
		Clock:     fc,
	}, health.DefaultConfig())

	return &harness{
		engine: NewEngine(EngineDeps{
			Store:     store,
			Providers: registry,
			Refresh:   orch,
			Health:    machine,
			Tracker:   tr,
			Clock:     fc,
		}),
		store:  store,
		client: client,
		clock:  fc,
	}
}

func (h *harness) connect(t *testing.T, expiresIn time.Duration) {
	t.Helper()
	require.NoError(t, h.engine.Connect(context.Background(), &domain.Credential{
		UserID:       user,
		Provider:     domain.ProviderGoogleDrive,
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    h.clock.Now().Add(expiresIn),
	}))
}

func (h *harness) status(t *testing.T) domain.HealthStatus {
	t.Helper()
	rec, err := h.engine.GetHealthStatus(context.Background(), user, domain.ProviderGoogleDrive)
	require.NoError(t, err)
	return rec.Status
}

func TestClassifyAndHandle(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		err          error
		attempt      int
		wantType     domain.ErrorType
		wantRetry    bool
		wantDelay    time.Duration
		intervention bool
	}{
		{
			name:         "auth error",
			err:          &domain.ProviderError{Provider: domain.ProviderGoogleDrive, StatusCode: 401, Reason: "authError"},
			attempt:      1,
			wantType:     domain.ErrorTokenExpired,
			intervention: true,
		},
		{
			name:      "network first attempt",
			err:       &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
			attempt:   1,
			wantType:  domain.ErrorNetwork,
			wantRetry: true,
			wantDelay: 30 * time.Second,
		},
		{
			name:     "network third attempt",
			err:      &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
			attempt:  3,
			wantType: domain.ErrorNetwork,
		},
		{
			name:      "quota",
			err:       &domain.ProviderError{Provider: domain.ProviderGoogleDrive, StatusCode: 403, Reason: "userRateLimitExceeded"},
			attempt:   1,
			wantType:  domain.ErrorAPIQuotaExceeded,
			wantRetry: true,
			wantDelay: time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			got := h.engine.ClassifyAndHandle(ctx, tt.err, ErrorContext{
				Provider:  domain.ProviderGoogleDrive,
				Operation: domain.OpUpload,
				Attempt:   tt.attempt,
			})
			assert.Equal(t, tt.wantType, got.ErrorType)
			assert.Equal(t, tt.wantRetry, got.ShouldRetry)
			assert.Equal(t, tt.wantDelay, got.RetryDelay)
			assert.Equal(t, tt.intervention, got.RequiresIntervention)
			assert.NotEmpty(t, got.UserMessage)
			assert.NotEmpty(t, got.RecommendedActions)
		})
	}
}

func TestClassifyAndHandle_RecordsAndAlerts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	ec := ErrorContext{Provider: domain.ProviderGoogleDrive, UserID: user, Operation: domain.OpUpload, Attempt: 1}
	for i := 0; i < 11; i++ {
		h.engine.ClassifyAndHandle(ctx, errors.New("connection reset by peer"), ec)
	}

	stats, err := h.engine.GetErrorStatistics(ctx, domain.ProviderGoogleDrive, user, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 11, stats.TotalErrors)
	assert.EqualValues(t, 11, stats.ByOperation[domain.OpUpload])

	alerts, err := h.engine.GetActiveAlerts(ctx, domain.ProviderGoogleDrive, user)
	require.NoError(t, err)
	var types []domain.AlertType
	for _, a := range alerts {
		types = append(types, a.Type)
	}
	assert.Contains(t, types, domain.AlertHighErrorRate)
	assert.Contains(t, types, domain.AlertConsecutiveFailures)
}

func TestConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown provider", func(t *testing.T) {
		h := newHarness(t)
		err := h.engine.Connect(ctx, &domain.Credential{UserID: user, Provider: "dropbox"})
		assert.ErrorIs(t, err, domain.ErrProviderNotConfigured)
	})

	t.Run("clears reconnection flag", func(t *testing.T) {
		h := newHarness(t)
		rec := domain.NewHealthRecord(user, domain.ProviderGoogleDrive)
		rec.RequiresReconnection = true
		rec.ConsecutiveFailures = 4
		require.NoError(t, h.store.SaveHealth(ctx, rec))

		h.connect(t, time.Hour)

		assert.Equal(t, domain.StatusHealthy, h.status(t))
		stored, err := h.store.LoadHealth(ctx, user, domain.ProviderGoogleDrive)
		require.NoError(t, err)
		assert.False(t, stored.RequiresReconnection)
		assert.Zero(t, stored.ConsecutiveFailures)
	})
}

func TestResetConnection_DropsCachedStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.connect(t, time.Hour)
	h.client.set(nil, errors.New("connection refused"))

	assert.Equal(t, domain.StatusConnectionIssues, h.status(t))

	h.client.set(nil, nil)
	require.NoError(t, h.engine.ResetConnection(ctx, user, domain.ProviderGoogleDrive))
	assert.Equal(t, domain.StatusHealthy, h.status(t))
}

func TestRefreshToken_FailureNeedsReconnect(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.connect(t, 2*time.Minute)
	h.client.set(&oauth2.RetrieveError{
		Response:  &http.Response{StatusCode: 400, Status: "400 Bad Request"},
		ErrorCode: "invalid_grant",
	}, nil)

	res := h.engine.RefreshToken(ctx, user, domain.ProviderGoogleDrive)

	assert.False(t, res.Success)
	assert.True(t, res.RequiresUserIntervention)
	assert.Equal(t, domain.StatusRequiresIntervention, h.status(t))
}

func TestEnsureValidToken_Refreshes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.connect(t, time.Minute)

	assert.True(t, h.engine.EnsureValidToken(ctx, user, domain.ProviderGoogleDrive))
	assert.Equal(t, 1, h.client.refreshes())

	cred, err := h.store.LoadCredential(ctx, user, domain.ProviderGoogleDrive)
	require.NoError(t, err)
	assert.Equal(t, "fresh", cred.AccessToken)
}

func TestTestApiConnectivity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	assert.False(t, h.engine.TestApiConnectivity(ctx, user, domain.ProviderGoogleDrive))

	h.connect(t, time.Hour)
	assert.True(t, h.engine.TestApiConnectivity(ctx, user, domain.ProviderGoogleDrive))
}
