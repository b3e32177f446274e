package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestServer_Health(t *testing.T) {
	h := newHarness(t)

	t.Run("all checks pass", func(t *testing.T) {
		srv := NewServer(h.engine, 0, map[string]Check{
			"kv": func(context.Context) error { return nil },
		})
		rr := serve(t, srv.Handler(), http.MethodGet, "/health")
		assert.Equal(t, http.StatusOK, rr.Code)
		body := decode(t, rr)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, []any{"google-drive"}, body["providers"])
	})

	t.Run("failing check degrades", func(t *testing.T) {
		srv := NewServer(h.engine, 0, map[string]Check{
			"kv":       func(context.Context) error { return nil },
			"database": func(context.Context) error { return errors.New("connection refused") },
		})
		rr := serve(t, srv.Handler(), http.MethodGet, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		body := decode(t, rr)
		assert.Equal(t, "degraded", body["status"])
		deps := body["dependencies"].(map[string]any)
		assert.Equal(t, "connection refused", deps["database"])
		assert.Equal(t, "ok", deps["kv"])
	})
}

func TestServer_ConnectionRoutes(t *testing.T) {
	h := newHarness(t)
	handler := NewServer(h.engine, 0, nil).Handler()
	base := "/v1/connections/google-drive/" + user

	rr := serve(t, handler, http.MethodGet, base+"/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, string(domain.StatusNotConnected), decode(t, rr)["status"])

	h.connect(t, time.Hour)

	rr = serve(t, handler, http.MethodGet, base+"/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, string(domain.StatusHealthy), decode(t, rr)["status"])

	rr = serve(t, handler, http.MethodGet, base+"/token")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode(t, rr)["valid"])

	rr = serve(t, handler, http.MethodGet, base+"/connectivity")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode(t, rr)["connected"])

	rr = serve(t, handler, http.MethodGet, base+"/alerts")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []any{}, decode(t, rr)["alerts"])

	rr = serve(t, handler, http.MethodPost, base+"/refresh")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "already_valid", body["condition"])

	rr = serve(t, handler, http.MethodPost, base+"/reset")
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestServer_Errors(t *testing.T) {
	h := newHarness(t)
	handler := NewServer(h.engine, 0, nil).Handler()
	base := "/v1/connections/google-drive/" + user

	h.engine.ClassifyAndHandle(context.Background(), errors.New("connection reset by peer"), ErrorContext{
		Provider:  domain.ProviderGoogleDrive,
		UserID:    user,
		Operation: domain.OpDownload,
	})

	rr := serve(t, handler, http.MethodGet, base+"/errors?hours=2")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.EqualValues(t, 1, body["total_errors"])
	assert.EqualValues(t, 2, body["hours"])

	rr = serve(t, handler, http.MethodGet, base+"/errors")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 24, decode(t, rr)["hours"])

	for _, q := range []string{"abc", "0", "-3"} {
		rr = serve(t, handler, http.MethodGet, base+"/errors?hours="+q)
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	h := newHarness(t)
	handler := NewServer(h.engine, 0, nil).Handler()

	rr := serve(t, handler, http.MethodGet, "/v1/connections/google-drive/"+user+"/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
