package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/copilot-gateway/internal/copilot"
	"github.com/mihaisavezi/copilot-gateway/internal/providers"
)

const claudeRequest = `{
	"model": "claude-3-5-sonnet-20241022",
	"max_tokens": 256,
	"system": "Be brief.",
	"messages": [{"role": "user", "content": "Say hi"}]
}`

func serveMessages(t *testing.T, client *fakeClient, caps *fakeCapabilities, body string) *httptest.ResponseRecorder {
	t.Helper()

	if caps == nil {
		caps = &fakeCapabilities{}
	}

	handler := NewMessagesHandler(client, caps, NewTokenCounter(testLogger), testLogger)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("anthropic-version", "2023-06-01")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func TestMessagesHandler_JSON(t *testing.T) {
	client := respondWith(http.StatusOK, `{"id":"chatcmpl-9","choices":[{"message":{"role":"assistant","content":"Hi!"},"finish_reason":"stop"}],"usage":{"prompt_tokens":9,"completion_tokens":2}}`)

	rec := serveMessages(t, client, nil, claudeRequest)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"id": "chatcmpl-9",
		"type": "message",
		"role": "assistant",
		"content": [{"type": "text", "text": "Hi!"}],
		"model": "claude-3-5-sonnet-20241022",
		"stop_reason": "end_turn",
		"stop_sequence": null,
		"usage": {"input_tokens": 9, "output_tokens": 2}
	}`, rec.Body.String())

	sent := client.last()
	assert.Equal(t, "messages", sent.Operation)
	assert.False(t, sent.Stream)
	assert.False(t, sent.Vision)
	assert.Equal(t, "claude-sonnet-4.5", gjson.GetBytes(sent.Body, "model").String())
	assert.Equal(t, "system", gjson.GetBytes(sent.Body, "messages.0.role").String())
	assert.Equal(t, "Say hi", gjson.GetBytes(sent.Body, "messages.1.content").String())
}

func TestMessagesHandler_Stream(t *testing.T) {
	upstream := "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":\"\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: [DONE]\n\n"

	client := &fakeClient{status: http.StatusOK, body: &chunkedReader{data: upstream, size: 5}}

	rec := serveMessages(t, client, nil, `{"model":"gpt-4o","max_tokens":10,"stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, client.last().Stream)

	var names []string
	var text strings.Builder

	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
		}

		if data, ok := strings.CutPrefix(line, "data: "); ok && gjson.Get(data, "type").String() == providers.EventContentBlockDelta {
			text.WriteString(gjson.Get(data, "delta.text").String())
		}
	}

	assert.Equal(t, []string{
		providers.EventMessageStart,
		providers.EventContentBlockStart,
		providers.EventContentBlockDelta,
		providers.EventContentBlockDelta,
		providers.EventContentBlockStop,
		providers.EventMessageDelta,
		providers.EventMessageStop,
	}, names)
	assert.Equal(t, "Hello", text.String())
}

func TestMessagesHandler_ClientGone(t *testing.T) {
	client := &fakeClient{status: http.StatusOK, body: &chunkedReader{data: "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n", size: 8}}
	handler := NewMessagesHandler(client, &fakeCapabilities{}, NewTokenCounter(testLogger), testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"gpt-4o","max_tokens":10,"stream":true,"messages":[{"role":"user","content":"hi"}]}`)).WithContext(ctx)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Body.String(), "no events after the client disconnects")
}

func TestMessagesHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		client     *fakeClient
		body       string
		wantStatus int
		wantType   string
		wantMsg    string
	}{
		{
			name:       "validation",
			client:     respondWith(http.StatusOK, `{}`),
			body:       `{"model":"gpt-4o","max_tokens":0,"messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request_error",
			wantMsg:    "max_tokens must be a positive number",
		},
		{
			name:       "not authorized",
			client:     failWith(copilot.ErrNotAuthorized),
			body:       claudeRequest,
			wantStatus: http.StatusUnauthorized,
			wantType:   "authentication_error",
		},
		{
			name:       "session refresh failed",
			client:     failWith(&copilot.AuthError{Op: "refresh session token", StatusCode: 500, Status: "Internal Server Error"}),
			body:       claudeRequest,
			wantStatus: http.StatusBadGateway,
			wantType:   "api_error",
		},
		{
			name:       "upstream status",
			client:     failWith(&copilot.APIError{StatusCode: http.StatusTooManyRequests, Status: "Too Many Requests"}),
			body:       claudeRequest,
			wantStatus: http.StatusTooManyRequests,
			wantType:   "api_error",
			wantMsg:    "Upstream API error: Too Many Requests",
		},
		{
			name:       "no choices",
			client:     respondWith(http.StatusOK, `{"id":"x","choices":[]}`),
			body:       claudeRequest,
			wantStatus: http.StatusBadGateway,
			wantType:   "api_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveMessages(t, tt.client, nil, tt.body)

			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "error", gjson.Get(rec.Body.String(), "type").String())
			assert.Equal(t, tt.wantType, gjson.Get(rec.Body.String(), "error.type").String())

			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, gjson.Get(rec.Body.String(), "error.message").String())
			}
		})
	}
}

func TestMessagesHandler_VisionHeaderOnlyWithImages(t *testing.T) {
	caps := &fakeCapabilities{vision: map[string]bool{"claude-sonnet-4.5": true}}
	reply := `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`

	client := respondWith(http.StatusOK, reply)
	serveMessages(t, client, caps, claudeRequest)
	assert.False(t, client.last().Vision)

	client = respondWith(http.StatusOK, reply)
	serveMessages(t, client, caps, `{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 10,
		"messages": [{"role": "user", "content": [
			{"type": "text", "text": "what is this"},
			{"type": "image", "source": {"type": "base64", "media_type": "image/png", "data": "iVBORw0KGgo="}}
		]}]
	}`)
	assert.True(t, client.last().Vision)
}

func TestMessagesHandler_ImagesRejectedForTextOnlyModel(t *testing.T) {
	client := respondWith(http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)

	rec := serveMessages(t, client, &fakeCapabilities{vision: map[string]bool{}}, `{
		"model": "gpt-3.5-turbo",
		"max_tokens": 10,
		"messages": [{"role": "user", "content": [
			{"type": "text", "text": "what is this"},
			{"type": "image", "source": {"type": "url", "url": "https://example.com/cat.png"}}
		]}]
	}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", gjson.Get(rec.Body.String(), "type").String())
	assert.Equal(t, "invalid_request_error", gjson.Get(rec.Body.String(), "error.type").String())
	assert.Equal(t, "Model gpt-3.5-turbo does not support vision/multimodal content", gjson.Get(rec.Body.String(), "error.message").String())
	assert.Equal(t, 0, client.calls())
}

func TestCountTokensHandler(t *testing.T) {
	handler := NewCountTokensHandler(NewTokenCounter(testLogger), testLogger)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens",
		strings.NewReader(`{"model":"claude-3-5-sonnet-20241022","messages":[{"role":"user","content":"How many tokens is this sentence?"}]}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Positive(t, gjson.Get(rec.Body.String(), "input_tokens").Int())

	req = httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(`{"model":"gpt-4o","messages":[]}`))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "messages must be a non-empty array", gjson.Get(rec.Body.String(), "error.message").String())
}
