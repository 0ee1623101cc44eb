package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-pool/internal/geo"
)

func TestTraceIDIsEchoedAndLogged(t *testing.T) {
	var buf bytes.Buffer
	s := newTestServer(t, nil)
	s.logger = slog.New(slog.NewJSONHandler(&buf, nil))

	req := httptest.NewRequest("GET", "/api/v1/ride-requests/req-7", nil)
	req.Header.Set("X-Request-ID", "trace-1")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "trace-1", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"trace_id":"trace-1"`)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "http_request", entry["msg"])
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "req-7", entry["request_id"])
	assert.Equal(t, "/api/v1/ride-requests/{id}", entry["route"])
}

func TestRidePathsLogRideID(t *testing.T) {
	var buf bytes.Buffer
	s := newTestServer(t, nil)
	s.logger = slog.New(slog.NewJSONHandler(&buf, nil))

	rec := do(t, s, "DELETE", "/api/v1/rides/r-9/passengers/p-3", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "r-9", entry["ride_id"])
	assert.Equal(t, "p-3", entry["passenger_id"])
	assert.NotEmpty(t, entry["trace_id"])
}

func TestOversizedBodyIsRejected(t *testing.T) {
	s := newTestServer(t, nil)
	body := `{"passenger_id":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	req := httptest.NewRequest("POST", "/api/v1/ride-requests", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type panickingGeo struct{ geo.Geo }

func TestPanicIsRecovered(t *testing.T) {
	s := newTestServer(t, nil)
	s.geo = panickingGeo{}
	s.logger = slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	rec := do(t, s, "POST", "/internal/driver/locations", map[string]any{"id": "d1", "loc": map[string]float64{"lat": 0, "lng": 0}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}
