package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/mihaisavezi/copilot-gateway/internal/copilot"
	"github.com/mihaisavezi/copilot-gateway/internal/credential"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

// fakeClient records chat requests and answers with a canned response.
type fakeClient struct {
	mu       sync.Mutex
	requests []copilot.ChatRequest

	status int
	body   io.Reader
	err    error
}

func respondWith(status int, body string) *fakeClient {
	return &fakeClient{status: status, body: strings.NewReader(body)}
}

func failWith(err error) *fakeClient {
	return &fakeClient{err: err}
}

func (f *fakeClient) ChatCompletions(_ context.Context, req copilot.ChatRequest) (*http.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	return &http.Response{
		StatusCode: f.status,
		Header:     http.Header{},
		Body:       io.NopCloser(f.body),
	}, nil
}

func (f *fakeClient) last() copilot.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.requests[len(f.requests)-1]
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.requests)
}

type fakeCapabilities struct {
	catalog *copilot.Catalog
	err     error
	vision  map[string]bool
	forced  bool
}

func (f *fakeCapabilities) Catalog(_ context.Context, force bool) (*copilot.Catalog, error) {
	f.forced = force
	return f.catalog, f.err
}

func (f *fakeCapabilities) SupportsMultimodal(_ context.Context, model string) bool {
	return f.vision[model]
}

type fakeAuthorizer struct {
	status     copilot.Status
	device     *copilot.DeviceAuthorization
	poll       copilot.PollResult
	pollErr    error
	polledCode string
	completed  string
	loggedOut  bool
	err        error
}

func (f *fakeAuthorizer) Status(context.Context) (copilot.Status, error) {
	return f.status, f.err
}

func (f *fakeAuthorizer) BeginDeviceAuthorization(context.Context) (*copilot.DeviceAuthorization, error) {
	return f.device, f.err
}

func (f *fakeAuthorizer) PollForToken(_ context.Context, deviceCode string) (copilot.PollResult, error) {
	f.polledCode = deviceCode
	return f.poll, f.pollErr
}

func (f *fakeAuthorizer) CompleteAuthorization(_ context.Context, accessToken string) (*credential.Credential, error) {
	f.completed = accessToken
	if f.err != nil {
		return nil, f.err
	}

	return &credential.Credential{
		AccessToken: accessToken,
		Account:     credential.Account{Login: "octocat", Name: "The Octocat"},
	}, nil
}

func (f *fakeAuthorizer) Logout(context.Context) error {
	f.loggedOut = true
	return f.err
}

func grantedToken(token string) *oauth2.Token {
	return &oauth2.Token{AccessToken: token, TokenType: "bearer"}
}

// chunkedReader returns at most size bytes per Read.
type chunkedReader struct {
	data string
	size int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.data == "" {
		return 0, io.EOF
	}

	n := min(c.size, len(p), len(c.data))
	copy(p, c.data[:n])
	c.data = c.data[n:]

	return n, nil
}
