package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/copilot-gateway/internal/copilot"
	"github.com/mihaisavezi/copilot-gateway/internal/middleware"
	"github.com/mihaisavezi/copilot-gateway/internal/providers"
)

// ChatCompletionsHandler serves POST /v1/chat/completions. OpenAI requests are already in the
// upstream schema, so the body is forwarded as is after the multimodal checks.
type ChatCompletionsHandler struct {
	client       ChatCompleter
	capabilities Capabilities
	logger       *slog.Logger
}

func NewChatCompletionsHandler(client ChatCompleter, capabilities Capabilities, logger *slog.Logger) *ChatCompletionsHandler {
	return &ChatCompletionsHandler{
		client:       client,
		capabilities: capabilities,
		logger:       logger,
	}
}

func (h *ChatCompletionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readBody(r)
	if err != nil {
		writeOpenAIError(w, h.logger, err)
		return
	}

	if !gjson.ValidBytes(body) {
		writeOpenAIError(w, h.logger, &providers.ValidationError{Message: "invalid request body: malformed JSON"})
		return
	}

	model := gjson.GetBytes(body, "model").String()
	stream := gjson.GetBytes(body, "stream").Bool()
	middleware.SetLogAttrs(ctx, slog.String("model", model), slog.Bool("stream", stream))

	vision := h.capabilities.SupportsMultimodal(ctx, model)
	if vision {
		h.logger.Debug("Model supports vision", "model", model)
	}

	if err := checkMultimodal(body, model, vision); err != nil {
		writeOpenAIError(w, h.logger, err)
		return
	}

	resp, err := h.client.ChatCompletions(ctx, copilot.ChatRequest{
		Operation: "chat_completions",
		Body:      body,
		Stream:    stream,
		Vision:    vision,
	})
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}
	defer resp.Body.Close()

	if stream {
		h.relayStream(ctx, w, resp.Body)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("Failed to relay upstream response", "error", err)
	}
}

// checkMultimodal rejects array content for text-only models and image parts without a url.
func checkMultimodal(body []byte, model string, vision bool) error {
	var err error

	gjson.GetBytes(body, "messages").ForEach(func(_, message gjson.Result) bool {
		content := message.Get("content")
		if !content.IsArray() {
			return true
		}

		if !vision {
			err = visionNotSupported(model)
			return false
		}

		content.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "image_url" && part.Get("image_url.url").String() == "" {
				err = invalidImageURL()
				return false
			}

			return true
		})

		return err == nil
	})

	return err
}

// writeUpstreamError relays upstream JSON error bodies unchanged so OpenAI clients see the
// original error.
func (h *ChatCompletionsHandler) writeUpstreamError(w http.ResponseWriter, err error) {
	var apiErr *copilot.APIError
	if errors.As(err, &apiErr) && gjson.ValidBytes(apiErr.Body) && gjson.GetBytes(apiErr.Body, "error").Exists() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apiErr.StatusCode)
		_, _ = w.Write(apiErr.Body)

		return
	}

	writeOpenAIError(w, h.logger, err)
}

// relayStream copies upstream SSE bytes to the client, flushing after every read.
func (h *ChatCompletionsHandler) relayStream(ctx context.Context, w http.ResponseWriter, body io.Reader) {
	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	flushResponse(w)

	buf := make([]byte, streamBufferSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if ctx.Err() != nil {
				h.logger.Debug("Client closed connection")
				return
			}

			if _, werr := w.Write(buf[:n]); werr != nil {
				h.logger.Debug("Failed to write stream chunk", "error", werr)
				return
			}

			flushResponse(w)
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				h.logger.Error("Upstream stream failed", "error", err)
			}

			return
		}
	}
}
