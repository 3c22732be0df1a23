package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/copilot-gateway/internal/copilot"
	"github.com/mihaisavezi/copilot-gateway/internal/providers"
)

const (
	CodeModelNotSupportVision = "model_not_support_vision"
	CodeInvalidImageURL       = "invalid_image_url"
)

// UnsupportedContentError rejects multimodal content the target model cannot take.
type UnsupportedContentError struct {
	Code    string
	Message string
}

func (e *UnsupportedContentError) Error() string {
	return e.Message
}

func visionNotSupported(model string) *UnsupportedContentError {
	return &UnsupportedContentError{
		Code:    CodeModelNotSupportVision,
		Message: fmt.Sprintf("Model %s does not support vision/multimodal content", model),
	}
}

func invalidImageURL() *UnsupportedContentError {
	return &UnsupportedContentError{
		Code:    CodeInvalidImageURL,
		Message: "Invalid image_url format: url is required",
	}
}

// malformedUpstreamError is a 2xx upstream reply that cannot be translated.
type malformedUpstreamError struct {
	err error
}

func (e *malformedUpstreamError) Error() string {
	return "malformed upstream response: " + e.err.Error()
}

func (e *malformedUpstreamError) Unwrap() error {
	return e.err
}

// errorClass is how one error renders in both public schemas.
type errorClass struct {
	status     int
	claudeType string
	openAIType string
	code       string
	message    string
}

func classify(err error) errorClass {
	var (
		authErr        *copilot.AuthError
		apiErr         *copilot.APIError
		validationErr  *providers.ValidationError
		unsupportedErr *UnsupportedContentError
		malformedErr   *malformedUpstreamError
		maxBytesErr    *http.MaxBytesError
	)

	switch {
	case errors.Is(err, copilot.ErrNotAuthorized):
		return errorClass{http.StatusUnauthorized, "authentication_error", "authentication_error", "unauthorized", err.Error()}
	case errors.Is(err, copilot.ErrPollingExhausted):
		return errorClass{http.StatusRequestTimeout, "timeout_error", "invalid_request_error", "polling_exhausted", err.Error()}
	case errors.Is(err, copilot.ErrNoDeviceCode):
		return errorClass{http.StatusBadRequest, "invalid_request_error", "invalid_request_error", "no_device_code", err.Error()}
	case errors.As(err, &authErr):
		return errorClass{http.StatusBadGateway, "api_error", "upstream_auth_error", "upstream_auth_failed", err.Error()}
	case errors.As(err, &apiErr):
		return errorClass{apiErr.StatusCode, "api_error", "api_error", "upstream_error", apiErr.Error()}
	case errors.As(err, &validationErr):
		return errorClass{http.StatusBadRequest, "invalid_request_error", "invalid_request_error", "invalid_request", validationErr.Message}
	case errors.As(err, &unsupportedErr):
		return errorClass{http.StatusBadRequest, "invalid_request_error", "invalid_request_error", unsupportedErr.Code, unsupportedErr.Message}
	case errors.As(err, &malformedErr):
		return errorClass{http.StatusBadGateway, "api_error", "api_error", "upstream_error", err.Error()}
	case errors.As(err, &maxBytesErr):
		return errorClass{http.StatusRequestEntityTooLarge, "request_too_large", "invalid_request_error", "request_too_large",
			fmt.Sprintf("request body exceeds %d bytes", maxBytesErr.Limit)}
	default:
		return errorClass{http.StatusInternalServerError, "internal_server_error", "proxy_error", "internal_error", err.Error()}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(v)
}

// writeOpenAIError renders err as {"error":{"message","type","code"}}.
func writeOpenAIError(w http.ResponseWriter, logger *slog.Logger, err error) {
	class := classify(err)
	logError(logger, class, err)

	_ = writeJSON(w, class.status, map[string]any{
		"error": map[string]string{
			"message": class.message,
			"type":    class.openAIType,
			"code":    class.code,
		},
	})
}

// writeClaudeError renders err as {"type":"error","error":{"type","message"}}.
func writeClaudeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	class := classify(err)
	logError(logger, class, err)

	_ = writeJSON(w, class.status, map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    class.claudeType,
			"message": class.message,
		},
	})
}

func logError(logger *slog.Logger, class errorClass, err error) {
	if class.status >= http.StatusInternalServerError {
		logger.Error("Request failed", "status", class.status, "error", err)
		return
	}

	logger.Warn("Request rejected", "status", class.status, "error", err)
}
