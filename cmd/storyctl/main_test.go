package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer points the CLI at a canned handler and restores the
// previous server URL when the test ends.
func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	prev := serverURL
	serverURL = srv.URL
	t.Cleanup(func() { serverURL = prev })

	return srv
}

// setScope fills the scope flags for the duration of the test.
func setScope(t *testing.T) {
	t.Helper()

	prevUser, prevProject := userID, projectID
	userID, projectID = "u1", "p1"
	t.Cleanup(func() { userID, projectID = prevUser, prevProject })
}

func TestRunHealth(t *testing.T) {
	newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
	})

	require.NoError(t, runHealth(nil, nil))
}

func TestRunHealth_ServerError(t *testing.T) {
	newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	err := runHealth(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server returned status 500")
}

func TestRequireScope(t *testing.T) {
	prevUser, prevProject := userID, projectID
	defer func() { userID, projectID = prevUser, prevProject }()

	userID, projectID = "", ""
	require.Error(t, requireScope())

	userID = "u1"
	require.Error(t, requireScope())

	projectID = "p1"
	require.NoError(t, requireScope())
}
