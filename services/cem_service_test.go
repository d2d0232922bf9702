package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cemServer struct {
	logins     atomic.Int32
	loginFails atomic.Int32
	rejectOnce atomic.Bool
	srv        *httptest.Server
}

func newCEMServer(t *testing.T) *cemServer {
	s := &cemServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if s.loginFails.Load() > 0 {
			s.loginFails.Add(-1)
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := s.logins.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "token-" + string(rune('0'+n))})
	})
	data := func(payload any) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if s.rejectOnce.CompareAndSwap(true, false) || r.Header.Get("Authorization") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		}
	}
	mux.HandleFunc("/api/users", data([]map[string]any{{"id": 1, "name": "Weraprat"}}))
	mux.HandleFunc("/api/tasks", data([]map[string]any{{"id": 7, "title": "Deploy"}}))
	mux.HandleFunc("/api/leave", data([]map[string]any{}))
	mux.HandleFunc("/api/daily-work", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"date": r.URL.Query().Get("date"), "userId": r.URL.Query().Get("userId")})
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func newTestCEM(s *cemServer, password string) *CEMClient {
	c := NewCEMClient(CEMConfig{BaseURL: s.srv.URL + "/api", Username: "admin", Password: password}, zerolog.Nop())
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestCEMClient_CachesToken(t *testing.T) {
	s := newCEMServer(t)
	c := newTestCEM(s, "secret")
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.Search(context.Background(), "users", nil)
	require.NoError(t, err)
	_, err = c.Search(context.Background(), "tasks", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), s.logins.Load())

	now = now.Add(2*time.Hour + time.Second)
	_, err = c.Search(context.Background(), "tasks", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), s.logins.Load())
}

func TestCEMClient_RelogsInOnUnauthorized(t *testing.T) {
	s := newCEMServer(t)
	c := newTestCEM(s, "secret")

	_, err := c.Search(context.Background(), "users", nil)
	require.NoError(t, err)

	s.rejectOnce.Store(true)
	data, err := c.Search(context.Background(), "tasks", nil)
	require.NoError(t, err)
	assert.Len(t, data, 1)
	assert.Equal(t, int32(2), s.logins.Load())
}

func TestCEMClient_LoginRetriesServerErrors(t *testing.T) {
	s := newCEMServer(t)
	s.loginFails.Store(2)
	c := newTestCEM(s, "secret")

	_, err := c.Search(context.Background(), "users", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), s.logins.Load())
}

func TestCEMClient_BadCredentialsFailFast(t *testing.T) {
	s := newCEMServer(t)
	c := newTestCEM(s, "wrong")

	_, err := c.Search(context.Background(), "users", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestCEMClient_DailyWorkFiltersAndAll(t *testing.T) {
	s := newCEMServer(t)
	c := newTestCEM(s, "secret")

	data, err := c.Search(context.Background(), "daily-work", map[string]any{"date": "2025-01-31", "userId": 12})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"date": "2025-01-31", "userId": "12"}, data)

	all, err := c.Search(context.Background(), "all", nil)
	require.NoError(t, err)
	m := all.(map[string]any)
	assert.Len(t, m["users"], 1)
	assert.Len(t, m["tasks"], 1)
	assert.Equal(t, []any{}, m["leaves"])
	assert.Equal(t, []any{}, m["bookings"], "missing endpoint is reported as empty")

	_, err = c.Search(context.Background(), "salaries", nil)
	assert.ErrorContains(t, err, "unknown category")
}
