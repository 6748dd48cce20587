package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atinyakov/ejauth/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI records requests and answers with canned responses.
type fakeAPI struct {
	mu       sync.Mutex
	requests []string
	bodies   []string
	status   int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.RequestURI())
	f.bodies = append(f.bodies, string(body))
	status := f.status
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	switch {
	case r.Method == http.MethodPost:
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodPut:
		w.WriteHeader(http.StatusNoContent)
	case strings.HasPrefix(r.URL.Path, "/api/events"):
		_ = json.NewEncoder(w).Encode([]models.AuthEvent{{
			Username: "user02", Server: "localhost", Command: "auth", Success: true,
			CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}})
	default:
		_, _ = w.Write([]byte(`{"user":"admin","server":"localhost","exists":true}`))
	}
}

func runAgainst(t *testing.T, api *fakeAPI, args ...string) (string, error) {
	t.Helper()
	ts := httptest.NewServer(api)
	t.Cleanup(ts.Close)

	var out bytes.Buffer
	full := append([]string{"--url", ts.URL, "--ca", ""}, args...)
	err := run(full, &out, func() (string, error) { return "s3cret", nil })
	return out.String(), err
}

func TestRun_Register(t *testing.T) {
	api := &fakeAPI{}
	out, err := runAgainst(t, api, "register", "carol", "localhost")
	require.NoError(t, err)
	assert.Equal(t, "registered carol@localhost\n", out)
	require.Len(t, api.requests, 1)
	assert.Equal(t, "POST /api/users", api.requests[0])
	assert.JSONEq(t, `{"user":"carol","server":"localhost","password":"s3cret"}`, api.bodies[0])
}

func TestRun_EnableDisable(t *testing.T) {
	api := &fakeAPI{}
	out, err := runAgainst(t, api, "disable", "user02", "localhost")
	require.NoError(t, err)
	assert.Equal(t, "disabled user02@localhost\n", out)

	out, err = runAgainst(t, api, "enable", "user02", "localhost")
	require.NoError(t, err)
	assert.Equal(t, "enabled user02@localhost\n", out)

	require.Len(t, api.bodies, 2)
	assert.Equal(t, "PUT /api/users/localhost/user02/active", api.requests[0])
	assert.JSONEq(t, `{"active":false}`, api.bodies[0])
	assert.JSONEq(t, `{"active":true}`, api.bodies[1])
}

func TestRun_Show(t *testing.T) {
	out, err := runAgainst(t, &fakeAPI{}, "show", "admin", "localhost")
	require.NoError(t, err)
	assert.Equal(t, "admin@localhost exists: true\n", out)
}

func TestRun_Events(t *testing.T) {
	api := &fakeAPI{}
	out, err := runAgainst(t, api, "events", "--user", "user02", "--limit", "3")
	require.NoError(t, err)
	assert.Equal(t, "GET /api/events?limit=3&user=user02", api.requests[0])
	assert.Contains(t, out, "COMMAND")
	assert.Contains(t, out, "user02@localhost")
	assert.Contains(t, out, "2026-01-02T03:04:05Z")
}

func TestRun_Errors(t *testing.T) {
	_, err := runAgainst(t, &fakeAPI{}, "register", "carol")
	assert.ErrorContains(t, err, "usage")

	_, err = runAgainst(t, &fakeAPI{}, "frobnicate", "a", "b")
	assert.ErrorContains(t, err, "unknown command")

	_, err = runAgainst(t, &fakeAPI{status: http.StatusConflict}, "register", "carol", "localhost")
	assert.ErrorContains(t, err, "already exists")

	_, err = runAgainst(t, &fakeAPI{status: http.StatusNotFound}, "enable", "ghost", "localhost")
	assert.ErrorContains(t, err, "not found")

	var out bytes.Buffer
	err = run([]string{"--ca", "", "register", "a", "b"}, &out, func() (string, error) {
		return "", errors.New("password is empty")
	})
	assert.ErrorContains(t, err, "password is empty")

	err = run([]string{"--ca", "/nonexistent/ca.crt", "show", "a", "b"}, &out, nil)
	assert.ErrorContains(t, err, "failed to read CA cert")
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"--version"}, &out, nil))
	assert.Contains(t, out.String(), "ejauthctl N/A")
}
