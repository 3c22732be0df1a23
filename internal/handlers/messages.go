package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/copilot-gateway/internal/copilot"
	"github.com/mihaisavezi/copilot-gateway/internal/middleware"
	"github.com/mihaisavezi/copilot-gateway/internal/providers"
)

// MessagesHandler serves POST /v1/messages: Claude requests are converted to the upstream
// schema and the reply, streamed or not, is converted back.
type MessagesHandler struct {
	client       ChatCompleter
	capabilities Capabilities
	counter      *TokenCounter
	logger       *slog.Logger
}

func NewMessagesHandler(client ChatCompleter, capabilities Capabilities, counter *TokenCounter, logger *slog.Logger) *MessagesHandler {
	return &MessagesHandler{
		client:       client,
		capabilities: capabilities,
		counter:      counter,
		logger:       logger,
	}
}

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if version := r.Header.Get("anthropic-version"); version == "" {
		h.logger.Warn("Missing anthropic-version header")
	} else {
		h.logger.Debug("Claude request", "anthropic_version", version)
	}

	body, err := readBody(r)
	if err != nil {
		writeClaudeError(w, h.logger, err)
		return
	}

	req, err := providers.DecodeMessagesRequest(body)
	if err != nil {
		writeClaudeError(w, h.logger, err)
		return
	}

	upstream := providers.TransformRequest(req)
	inputTokens := h.counter.CountRequest(upstream)

	middleware.SetLogAttrs(ctx,
		slog.String("model", req.Model),
		slog.String("upstream_model", upstream.Model),
		slog.Bool("stream", req.Stream),
		slog.Int("input_tokens", inputTokens),
	)

	vision := upstream.HasImages()
	if vision && !h.capabilities.SupportsMultimodal(ctx, upstream.Model) {
		writeClaudeError(w, h.logger, visionNotSupported(upstream.Model))
		return
	}

	payload, err := json.Marshal(upstream)
	if err != nil {
		writeClaudeError(w, h.logger, fmt.Errorf("encode upstream request: %w", err))
		return
	}

	resp, err := h.client.ChatCompletions(ctx, copilot.ChatRequest{
		Operation: "messages",
		Body:      payload,
		Stream:    req.Stream,
		Vision:    vision,
	})
	if err != nil {
		writeClaudeError(w, h.logger, err)
		return
	}
	defer resp.Body.Close()

	if req.Stream {
		h.stream(ctx, w, resp.Body, req.Model)
		return
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		writeClaudeError(w, h.logger, fmt.Errorf("read upstream response: %w", err))
		return
	}

	reply, err := providers.TransformResponse(raw, req.Model)
	if err != nil {
		writeClaudeError(w, h.logger, &malformedUpstreamError{err: err})
		return
	}

	h.logger.Debug("Completed response",
		"stop_reason", reply.StopReason,
		"input_tokens", reply.Usage.InputTokens,
		"output_tokens", reply.Usage.OutputTokens,
	)

	if err := writeJSON(w, http.StatusOK, reply); err != nil {
		h.logger.Error("Failed to write response", "error", err)
	}
}

// stream transcodes upstream SSE into Claude events. Once headers are out, failures only
// end the stream.
func (h *MessagesHandler) stream(ctx context.Context, w http.ResponseWriter, body io.Reader, model string) {
	state := providers.NewStreamState(model)

	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	flushResponse(w)

	buf := make([]byte, streamBufferSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if ctx.Err() != nil {
				state.Discard()
				h.logger.Debug("Client closed connection", "message_id", state.MessageID)

				return
			}

			if events := state.Write(buf[:n]); len(events) > 0 {
				if _, werr := w.Write(events); werr != nil {
					state.Discard()
					h.logger.Debug("Failed to write stream events", "error", werr)

					return
				}

				flushResponse(w)
			}
		}

		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
			if events := state.Flush(); len(events) > 0 {
				_, _ = w.Write(events)
				flushResponse(w)
			}

			if !state.Done() {
				h.logger.Warn("Upstream stream ended without terminal marker", "message_id", state.MessageID)
			}
		case ctx.Err() != nil:
			state.Discard()
			h.logger.Debug("Client closed connection", "message_id", state.MessageID)
		default:
			state.Discard()
			h.logger.Error("Upstream stream failed", "error", err, "message_id", state.MessageID)
		}

		return
	}
}
