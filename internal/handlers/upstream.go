package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mihaisavezi/copilot-gateway/internal/copilot"
	"github.com/mihaisavezi/copilot-gateway/internal/credential"
	"github.com/mihaisavezi/copilot-gateway/internal/providers"
)

// ChatCompleter sends chat completions upstream. *copilot.Client implements it.
type ChatCompleter interface {
	ChatCompletions(ctx context.Context, req copilot.ChatRequest) (*http.Response, error)
}

// Capabilities answers model capability questions. *copilot.Manager implements it.
type Capabilities interface {
	Catalog(ctx context.Context, force bool) (*copilot.Catalog, error)
	SupportsMultimodal(ctx context.Context, model string) bool
}

// Authorizer drives the account lifecycle. *copilot.Manager implements it.
type Authorizer interface {
	Status(ctx context.Context) (copilot.Status, error)
	BeginDeviceAuthorization(ctx context.Context) (*copilot.DeviceAuthorization, error)
	PollForToken(ctx context.Context, deviceCode string) (copilot.PollResult, error)
	CompleteAuthorization(ctx context.Context, accessToken string) (*credential.Credential, error)
	Logout(ctx context.Context) error
}

const streamBufferSize = 32 << 10

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, err
		}

		return nil, &providers.ValidationError{Message: fmt.Sprintf("failed to read request body: %v", err)}
	}

	return body, nil
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func flushResponse(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
