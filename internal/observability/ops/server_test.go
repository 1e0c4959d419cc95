package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxrelay/pkg/logx"
)

func TestHealthz(t *testing.T) {
	healthy := true
	s := New(nil, func(context.Context) map[string]error {
		if healthy {
			return map[string]error{"notifier": nil}
		}
		return map[string]error{"notifier": errors.New("stopped")}
	}, logx.Nop())
	h := s.Handler(false)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["notifier"])

	healthy = false
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "stopped")
}

func TestPprofRoutesOptional(t *testing.T) {
	s := New(nil, nil, logx.Nop())

	rec := httptest.NewRecorder()
	s.Handler(false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler(true).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApplyStartsAndStops(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "voxrelay_up 1\n")
	})
	s := New(metrics, nil, logx.Nop())
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "voxrelay_up 1\n", string(body))

	// Same config keeps the listener.
	require.NoError(t, s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}))
	assert.Equal(t, addr, s.Addr())

	require.NoError(t, s.Apply(ctx, Config{Enabled: false}))
	assert.Empty(t, s.Addr())
	s.Stop(ctx)
}

func TestApplyReportsListenErrors(t *testing.T) {
	s := New(nil, nil, logx.Nop())
	assert.Error(t, s.Apply(context.Background(), Config{Enabled: true, Addr: "256.0.0.1:99999"}))
}
