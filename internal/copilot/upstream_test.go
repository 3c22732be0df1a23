package copilot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/copilot-gateway/internal/credential"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeUpstream plays GitHub, the GitHub API and Copilot on a single server.
type fakeUpstream struct {
	t      *testing.T
	server *httptest.Server
	clock  *testClock

	tokenHits  atomic.Int32
	modelHits  atomic.Int32
	tokenDelay time.Duration
	// tokenStatus overrides the session token endpoint status when non-zero.
	tokenStatus atomic.Int32
	modelsBody  string
	modelsFail  atomic.Bool
	// modelsGate, when set, holds the models answer until it is closed.
	modelsGate chan struct{}

	pollMu        sync.Mutex
	pollResponses []map[string]string

	chat http.HandlerFunc
}

func newFakeUpstream(t *testing.T, clock *testClock) *fakeUpstream {
	t.Helper()

	f := &fakeUpstream{
		t:     t,
		clock: clock,
		modelsBody: `{"object":"list","data":[
			{"id":"claude-sonnet-4.5","capabilities":{"supports":{"vision":true,"streaming":true}}},
			{"id":"gpt-4o-mini","capabilities":{"limits":{"max_output_tokens":4096},"supports":{"streaming":true}}}
		]}`,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /login/device/code", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("client_id") != ClientID {
			writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_client"})
			return
		}

		writeTestJSON(w, http.StatusOK, map[string]any{
			"device_code":      "dev-123",
			"user_code":        "ABCD-1234",
			"verification_uri": "https://github.com/login/device",
			"expires_in":       900,
			"interval":         5,
		})
	})

	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, DeviceGrantType, body["grant_type"])

		f.pollMu.Lock()
		defer f.pollMu.Unlock()

		if len(f.pollResponses) == 0 {
			writeTestJSON(w, http.StatusOK, map[string]string{"error": "authorization_pending"})
			return
		}

		next := f.pollResponses[0]
		f.pollResponses = f.pollResponses[1:]
		writeTestJSON(w, http.StatusOK, next)
	})

	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token gho_access" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
			return
		}

		writeTestJSON(w, http.StatusOK, map[string]string{
			"login":      "octocat",
			"name":       "The Octocat",
			"avatar_url": "https://avatars.example/octocat",
		})
	})

	mux.HandleFunc("GET /copilot_internal/v2/token", func(w http.ResponseWriter, r *http.Request) {
		hit := f.tokenHits.Add(1)

		if f.tokenDelay > 0 {
			time.Sleep(f.tokenDelay)
		}

		if status := int(f.tokenStatus.Load()); status != 0 {
			writeTestJSON(w, status, map[string]string{"message": "nope"})
			return
		}

		writeTestJSON(w, http.StatusOK, map[string]any{
			"token":      fmt.Sprintf("session-%d", hit),
			"expires_at": f.clock.Now().Add(2 * time.Hour).Unix(),
			"refresh_in": 1500,
		})
	})

	mux.HandleFunc("GET /models", func(w http.ResponseWriter, r *http.Request) {
		f.modelHits.Add(1)

		if f.modelsGate != nil {
			<-f.modelsGate
		}

		if f.modelsFail.Load() {
			writeTestJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(f.modelsBody))
	})

	mux.HandleFunc("POST /chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if f.chat == nil {
			http.NotFound(w, r)
			return
		}

		f.chat(w, r)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakeUpstream) endpoints() Endpoints {
	return Endpoints{GitHubURL: f.server.URL, GitHubAPIURL: f.server.URL, CopilotAPIURL: f.server.URL}
}

func (f *fakeUpstream) queuePoll(responses ...map[string]string) {
	f.pollMu.Lock()
	f.pollResponses = append(f.pollResponses, responses...)
	f.pollMu.Unlock()
}

func newTestManager(t *testing.T, f *fakeUpstream, store credential.Store) *Manager {
	t.Helper()

	return NewManager(store, Options{
		Endpoints:  f.endpoints(),
		HTTPClient: f.server.Client(),
		Logger:     testLogger,
		Now:        f.clock.Now,
	})
}

func newTestStore(t *testing.T) *credential.FileStore {
	t.Helper()

	return credential.NewFileStore(filepath.Join(t.TempDir(), credential.DefaultFilename))
}

// seedCredential stores a credential whose session token expires after ttl.
func seedCredential(t *testing.T, store credential.Store, clock *testClock, ttl time.Duration) credential.Credential {
	t.Helper()

	cred := credential.Credential{
		AccessToken:      "gho_access",
		SessionToken:     "session-seed",
		SessionExpiresAt: clock.Now().Add(ttl),
		Account:          credential.Account{Login: "octocat"},
		CreatedAt:        clock.Now(),
		UpdatedAt:        clock.Now(),
	}
	require.NoError(t, store.Save(t.Context(), cred))

	return cred
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
