package copilot

import (
	"context"
	"errors"
	"math"
	"time"

	"golang.org/x/oauth2"
)

const (
	MaxPollAttempts = 120
	// PollInterval is the nominal wait between polls when the identity provider gives none.
	PollInterval = 5 * time.Second
)

// DeviceAuthorization is what a user needs to approve the gateway on github.com.
type DeviceAuthorization struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

type PollStatus string

const (
	PollPending PollStatus = "pending"
	PollGranted PollStatus = "granted"
	PollFailed  PollStatus = "failed"
)

// PollResult is the outcome of a single token exchange attempt. Token is set only when
// Status is PollGranted; Error and Description only when it is PollFailed.
type PollResult struct {
	Status      PollStatus
	Token       *oauth2.Token
	Error       string
	Description string
}

type deviceState struct {
	code     string
	attempts int
}

// BeginDeviceAuthorization requests a new device and user code pair, discarding any
// authorization still in progress.
func (m *Manager) BeginDeviceAuthorization(ctx context.Context) (*DeviceAuthorization, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	resp, err := m.oauth.DeviceAuth(ctx)
	if err != nil {
		authErr := &AuthError{Op: "request device code", Err: err}

		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			authErr.StatusCode = retrieveErr.Response.StatusCode
			authErr.Status = statusText(retrieveErr.Response.StatusCode, retrieveErr.Response.Status)
		}

		return nil, authErr
	}

	interval := int(resp.Interval)
	if interval <= 0 {
		interval = int(PollInterval / time.Second)
	}

	var expiresIn int
	if !resp.Expiry.IsZero() {
		expiresIn = int(math.Round(time.Until(resp.Expiry).Seconds()))
	}

	m.deviceMu.Lock()
	m.device = &deviceState{code: resp.DeviceCode}
	m.deviceMu.Unlock()

	m.logger.Info("Device code issued", "user_code", resp.UserCode, "verification_uri", resp.VerificationURI)

	return &DeviceAuthorization{
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		ExpiresIn:       expiresIn,
		Interval:        interval,
	}, nil
}

// PollForToken makes one token exchange attempt for deviceCode. An empty deviceCode polls
// the code issued by the last BeginDeviceAuthorization.
func (m *Manager) PollForToken(ctx context.Context, deviceCode string) (PollResult, error) {
	m.deviceMu.Lock()
	switch {
	case deviceCode == "" && m.device == nil:
		m.deviceMu.Unlock()
		return PollResult{}, ErrNoDeviceCode
	case deviceCode == "":
		deviceCode = m.device.code
	case m.device == nil || m.device.code != deviceCode:
		m.device = &deviceState{code: deviceCode}
	}

	if m.device.attempts >= MaxPollAttempts {
		m.device = nil
		m.deviceMu.Unlock()
		return PollResult{}, ErrPollingExhausted
	}

	m.device.attempts++
	attempt := m.device.attempts
	m.deviceMu.Unlock()

	var body struct {
		AccessToken      string `json:"access_token"`
		TokenType        string `json:"token_type"`
		Scope            string `json:"scope"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}

	resp, err := m.github.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"client_id":   ClientID,
			"device_code": deviceCode,
			"grant_type":  DeviceGrantType,
		}).
		SetResult(&body).
		SetError(&body).
		Post("/login/oauth/access_token")
	if err != nil {
		return PollResult{}, &AuthError{Op: "exchange device code", Err: err}
	}

	switch {
	case body.AccessToken != "":
		m.finishDevice(deviceCode)

		token := &oauth2.Token{AccessToken: body.AccessToken, TokenType: body.TokenType}
		token = token.WithExtra(map[string]any{"scope": body.Scope})

		return PollResult{Status: PollGranted, Token: token}, nil

	case body.Error == "authorization_pending":
		m.logger.Debug("Authorization pending", "attempt", attempt)
		return PollResult{Status: PollPending}, nil

	case body.Error != "":
		m.finishDevice(deviceCode)
		m.logger.Warn("Device authorization failed", "error", body.Error, "description", body.ErrorDescription)

		return PollResult{Status: PollFailed, Error: body.Error, Description: body.ErrorDescription}, nil

	default:
		m.finishDevice(deviceCode)

		return PollResult{}, &AuthError{
			Op:         "exchange device code",
			StatusCode: resp.StatusCode(),
			Status:     statusText(resp.StatusCode(), resp.Status()),
			Err:        errors.New("response carried neither a token nor an error"),
		}
	}
}

func (m *Manager) finishDevice(code string) {
	m.deviceMu.Lock()
	defer m.deviceMu.Unlock()

	if m.device != nil && m.device.code == code {
		m.device = nil
	}
}

func (m *Manager) resetDevice() {
	m.deviceMu.Lock()
	m.device = nil
	m.deviceMu.Unlock()
}
