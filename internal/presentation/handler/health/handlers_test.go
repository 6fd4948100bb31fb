package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHealth(t *testing.T) {
	w := httptest.NewRecorder()
	NewHandler().GetHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestGetReady(t *testing.T) {
	healthy := Check{Name: "store", Check: func(context.Context) error { return nil }}
	broken := Check{Name: "rabbitmq", Check: func(context.Context) error { return errors.New("disconnected") }}

	w := httptest.NewRecorder()
	NewHandler(healthy).GetReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	NewHandler(healthy, broken).GetReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unavailable", resp.Status)
	assert.Equal(t, "ok", resp.Checks["store"])
	assert.Equal(t, "disconnected", resp.Checks["rabbitmq"])
}
