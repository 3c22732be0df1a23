// Package copilot owns the GitHub Copilot credential lifecycle: the OAuth device flow, the
// short-lived session token derived from the account's access token, the model capability
// catalog, and the chat completion client that authenticates with that session token.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/mihaisavezi/copilot-gateway/internal/credential"
	"github.com/mihaisavezi/copilot-gateway/internal/metrics"
)

const (
	// RefreshMargin is how long before expiry a session token stops being handed out.
	RefreshMargin = time.Hour

	DefaultCatalogTTL = 24 * time.Hour
	defaultTimeout    = 30 * time.Second
)

type Options struct {
	Endpoints Endpoints
	// HTTPClient carries the short JSON calls to GitHub and Copilot.
	HTTPClient *http.Client
	CatalogTTL time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// credState is the in-memory replica of the store. A nil cred means "known absent".
type credState struct {
	cred *credential.Credential
}

// Manager hands out valid session tokens and caches the capability catalog. All shared
// state is replaced atomically, never mutated in place.
type Manager struct {
	store      credential.Store
	endpoints  Endpoints
	httpClient *http.Client
	oauth      *oauth2.Config
	github     *resty.Client
	api        *resty.Client
	copilot    *resty.Client
	catalogTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time

	state   atomic.Pointer[credState]
	catalog atomic.Pointer[Catalog]
	// epoch changes on every login and logout; a catalog fetched across a change is not cached.
	epoch   atomic.Uint64
	flights singleflight.Group

	deviceMu sync.Mutex
	device   *deviceState
}

func NewManager(store credential.Store, opts Options) *Manager {
	if opts.Endpoints == (Endpoints{}) {
		opts.Endpoints = DefaultEndpoints()
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}

	if opts.CatalogTTL <= 0 {
		opts.CatalogTTL = DefaultCatalogTTL
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	endpoints := opts.Endpoints.trimmed()

	return &Manager{
		store:      store,
		endpoints:  endpoints,
		httpClient: opts.HTTPClient,
		oauth: &oauth2.Config{
			ClientID: ClientID,
			Scopes:   []string{Scope},
			Endpoint: endpoints.oauth2(),
		},
		github:     resty.NewWithClient(opts.HTTPClient).SetBaseURL(endpoints.GitHubURL),
		api:        resty.NewWithClient(opts.HTTPClient).SetBaseURL(endpoints.GitHubAPIURL),
		copilot:    resty.NewWithClient(opts.HTTPClient).SetBaseURL(endpoints.CopilotAPIURL),
		catalogTTL: opts.CatalogTTL,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// Status summarizes the stored credential for display.
type Status struct {
	Authorized bool                `json:"authorized"`
	User       *credential.Account `json:"user,omitempty"`
	ExpiresAt  int64               `json:"expiresAt,omitempty"`
}

func (m *Manager) Status(ctx context.Context) (Status, error) {
	s, err := m.loadState(ctx)
	if err != nil {
		return Status{}, err
	}

	if s.cred == nil {
		return Status{Authorized: false}, nil
	}

	account := s.cred.Account
	status := Status{Authorized: true, User: &account}

	if !s.cred.SessionExpiresAt.IsZero() {
		status.ExpiresAt = s.cred.SessionExpiresAt.Unix()
	}

	return status, nil
}

// CompleteAuthorization turns a freshly granted access token into a stored credential.
func (m *Manager) CompleteAuthorization(ctx context.Context, accessToken string) (*credential.Credential, error) {
	account, err := m.fetchAccount(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	session, err := m.fetchSessionToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	now := m.now()
	cred := &credential.Credential{
		AccessToken:      accessToken,
		SessionToken:     session.token,
		SessionExpiresAt: session.expiresAt,
		Account:          account,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := m.store.Save(ctx, *cred); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}

	m.epoch.Add(1)
	m.state.Store(&credState{cred: cred})
	m.catalog.Store(nil)

	m.logger.Info("Authorization completed", "login", account.Login)

	return cred, nil
}

// SessionToken returns a session token valid for more than RefreshMargin, refreshing it
// first when needed. Concurrent callers share a single refresh.
func (m *Manager) SessionToken(ctx context.Context) (string, error) {
	s, err := m.loadState(ctx)
	if err != nil {
		return "", err
	}

	if s.cred == nil {
		return "", ErrNotAuthorized
	}

	if s.cred.SessionUsable(m.now(), RefreshMargin) {
		return s.cred.SessionToken, nil
	}

	v, err, _ := m.flights.Do("session", func() (any, error) {
		return m.refreshSession(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}

	return v.(*credential.Credential).SessionToken, nil
}

// TokenSource adapts SessionToken to oauth2 for requests made under ctx.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return sessionTokenSource{ctx: ctx, manager: m}
}

// Logout forgets the credential, the catalog and any pending device authorization.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}

	m.epoch.Add(1)
	m.state.Store(&credState{})
	m.catalog.Store(nil)
	m.resetDevice()

	m.logger.Info("Logged out")

	return nil
}

func (m *Manager) refreshSession(ctx context.Context) (*credential.Credential, error) {
	s, err := m.loadState(ctx)
	if err != nil {
		return nil, err
	}

	if s.cred == nil {
		return nil, ErrNotAuthorized
	}

	// A previous flight may have finished between the caller's check and this one.
	if s.cred.SessionUsable(m.now(), RefreshMargin) {
		return s.cred, nil
	}

	m.logger.Info("Refreshing session token", "login", s.cred.Account.Login, "expires_at", s.cred.SessionExpiresAt)

	session, err := m.fetchSessionToken(ctx, s.cred.AccessToken)
	if err != nil {
		metrics.SessionRefreshes.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}

	metrics.SessionRefreshes.WithLabelValues(metrics.ResultSuccess).Inc()

	updated := *s.cred
	updated.SessionToken = session.token
	updated.SessionExpiresAt = session.expiresAt
	updated.UpdatedAt = m.now()

	if !m.state.CompareAndSwap(s, &credState{cred: &updated}) {
		m.logger.Warn("Credential changed during refresh, not persisting refreshed token")
		return &updated, nil
	}

	if err := m.store.Save(ctx, updated); err != nil {
		m.logger.Error("Failed to persist refreshed credential", "error", err)
	}

	return &updated, nil
}

func (m *Manager) loadState(ctx context.Context) (*credState, error) {
	if s := m.state.Load(); s != nil {
		return s, nil
	}

	cred, err := m.store.Load(ctx)
	switch {
	case errors.Is(err, credential.ErrNotFound):
		cred = nil
	case err != nil:
		return nil, fmt.Errorf("load credential: %w", err)
	}

	s := &credState{cred: cred}
	if !m.state.CompareAndSwap(nil, s) {
		return m.state.Load(), nil
	}

	return s, nil
}

type sessionToken struct {
	token     string
	expiresAt time.Time
}

func (m *Manager) fetchSessionToken(ctx context.Context, accessToken string) (sessionToken, error) {
	const op = "fetch session token"

	var body struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
		RefreshIn int64  `json:"refresh_in"`
	}

	resp, err := m.api.R().
		SetContext(ctx).
		SetHeaders(ClientHeaders()).
		SetHeader("Authorization", "token "+accessToken).
		SetResult(&body).
		Get("/copilot_internal/v2/token")
	if err != nil {
		return sessionToken{}, &AuthError{Op: op, Err: err}
	}

	if resp.IsError() {
		return sessionToken{}, &AuthError{Op: op, StatusCode: resp.StatusCode(), Status: statusText(resp.StatusCode(), resp.Status())}
	}

	if body.Token == "" {
		return sessionToken{}, &AuthError{Op: op, StatusCode: resp.StatusCode(), Err: errors.New("response carried no token")}
	}

	expiresAt := time.Unix(body.ExpiresAt, 0)
	if body.ExpiresAt == 0 {
		expiresAt = m.now().Add(time.Duration(body.RefreshIn) * time.Second)
	}

	return sessionToken{token: body.Token, expiresAt: expiresAt}, nil
}

func (m *Manager) fetchAccount(ctx context.Context, accessToken string) (credential.Account, error) {
	const op = "fetch account"

	var body struct {
		Login     string `json:"login"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	}

	resp, err := m.api.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", "token "+accessToken).
		SetHeader("User-Agent", IdentityUserAgent).
		SetResult(&body).
		Get("/user")
	if err != nil {
		return credential.Account{}, &AuthError{Op: op, Err: err}
	}

	if resp.IsError() {
		return credential.Account{}, &AuthError{Op: op, StatusCode: resp.StatusCode(), Status: statusText(resp.StatusCode(), resp.Status())}
	}

	return credential.Account{Login: body.Login, Name: body.Name, AvatarURL: body.AvatarURL}, nil
}

type sessionTokenSource struct {
	ctx     context.Context
	manager *Manager
}

func (s sessionTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.manager.SessionToken(s.ctx)
	if err != nil {
		return nil, err
	}

	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}
