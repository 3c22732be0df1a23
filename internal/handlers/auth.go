package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/copilot-gateway/internal/copilot"
)

// testPrompt is the fixed request POST /api/test sends upstream.
var testPrompt = []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"Say \"Hello from Copilot!\""}],"stream":false}`)

// AuthHandler exposes the account lifecycle as a JSON API.
type AuthHandler struct {
	auth   Authorizer
	client ChatCompleter
	logger *slog.Logger
}

func NewAuthHandler(auth Authorizer, client ChatCompleter, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		client: client,
		logger: logger,
	}
}

// Status serves GET /api/status.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.auth.Status(r.Context())
	if err != nil {
		h.writeFailure(w, http.StatusInternalServerError, err)
		return
	}

	_ = writeJSON(w, http.StatusOK, status)
}

// DeviceCode serves POST /api/device-code.
func (h *AuthHandler) DeviceCode(w http.ResponseWriter, r *http.Request) {
	device, err := h.auth.BeginDeviceAuthorization(r.Context())
	if err != nil {
		writeOpenAIError(w, h.logger, err)
		return
	}

	h.logger.Info("Device authorization started",
		"user_code", device.UserCode,
		"verification_uri", device.VerificationURI,
	)

	_ = writeJSON(w, http.StatusOK, device)
}

type pollRequest struct {
	DeviceCode string `json:"device_code"`
}

// Poll serves POST /api/poll-auth. A granted token is exchanged and stored before
// answering.
func (h *AuthHandler) Poll(w http.ResponseWriter, r *http.Request) {
	var req pollRequest

	body, err := readBody(r)
	if err != nil {
		h.writeFailure(w, classify(err).status, err)
		return
	}

	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.writeFailure(w, http.StatusBadRequest, err)
			return
		}
	}

	result, err := h.auth.PollForToken(r.Context(), req.DeviceCode)
	if err != nil {
		h.writeFailure(w, pollFailureStatus(err), err)
		return
	}

	switch result.Status {
	case copilot.PollGranted:
		cred, err := h.auth.CompleteAuthorization(r.Context(), result.Token.AccessToken)
		if err != nil {
			h.writeFailure(w, http.StatusInternalServerError, err)
			return
		}

		h.logger.Info("Authorization completed", "login", cred.Account.Login)

		_ = writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"authorized": true,
			"user":       cred.Account,
		})
	case copilot.PollPending:
		_ = writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"authorized": false,
			"pending":    true,
		})
	default:
		_ = writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   result.Error,
		})
	}
}

// Logout serves POST /api/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context()); err != nil {
		h.writeFailure(w, http.StatusInternalServerError, err)
		return
	}

	h.logger.Info("Logged out")

	_ = writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Test serves POST /api/test: one fixed completion, relayed as received.
func (h *AuthHandler) Test(w http.ResponseWriter, r *http.Request) {
	resp, err := h.client.ChatCompletions(r.Context(), copilot.ChatRequest{
		Operation: "test",
		Body:      testPrompt,
	})
	if err != nil {
		status := classify(err).status
		h.logger.Error("Test completion failed", "status", status, "error", err)
		_ = writeJSON(w, status, map[string]string{"error": err.Error()})

		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("Failed to relay test completion", "error", err)
	}
}

func (h *AuthHandler) writeFailure(w http.ResponseWriter, status int, err error) {
	h.logger.Error("Authorization request failed", "status", status, "error", err)
	_ = writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func pollFailureStatus(err error) int {
	switch status := classify(err).status; status {
	case http.StatusRequestTimeout, http.StatusBadRequest:
		return status
	default:
		return http.StatusInternalServerError
	}
}
