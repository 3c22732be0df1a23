package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/mihaisavezi/copilot-gateway/internal/providers"
)

const tokenEncoding = "cl100k_base"

// TokenCounter estimates prompt sizes with the cl100k_base encoding. The encoding is loaded
// on first use; if it cannot be loaded the counter falls back to four characters per token.
type TokenCounter struct {
	logger *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewTokenCounter(logger *slog.Logger) *TokenCounter {
	return &TokenCounter{logger: logger}
}

func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}

	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tokenEncoding)
		if err != nil {
			c.logger.Warn("Failed to get tiktoken encoding, estimating instead", "error", err)
			return
		}

		c.enc = enc
	})

	if c.enc == nil {
		return (utf8.RuneCountInString(text) + 3) / 4
	}

	return len(c.enc.Encode(text, nil, nil))
}

// CountRequest counts the text the upstream will actually see for req.
func (c *TokenCounter) CountRequest(req *providers.ChatRequest) int {
	var sb strings.Builder

	for _, message := range req.Messages {
		sb.WriteString(message.Role)
		sb.WriteByte('\n')
		sb.WriteString(message.Content)

		for _, part := range message.MultiContent {
			sb.WriteString(part.Text)
		}

		sb.WriteByte('\n')
	}

	return c.Count(sb.String())
}

// CountTokensHandler serves POST /v1/messages/count_tokens.
type CountTokensHandler struct {
	counter *TokenCounter
	logger  *slog.Logger
}

func NewCountTokensHandler(counter *TokenCounter, logger *slog.Logger) *CountTokensHandler {
	return &CountTokensHandler{
		counter: counter,
		logger:  logger,
	}
}

func (h *CountTokensHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeClaudeError(w, h.logger, err)
		return
	}

	// count_tokens requests carry no max_tokens, so only the shape is checked.
	var req providers.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeClaudeError(w, h.logger, &providers.ValidationError{Message: "invalid request body: " + err.Error()})
		return
	}

	if req.Model == "" {
		writeClaudeError(w, h.logger, &providers.ValidationError{Message: "model is required"})
		return
	}

	if len(req.Messages) == 0 {
		writeClaudeError(w, h.logger, &providers.ValidationError{Message: "messages must be a non-empty array"})
		return
	}

	count := h.counter.CountRequest(providers.TransformRequest(&req))

	if err := writeJSON(w, http.StatusOK, map[string]int{"input_tokens": count}); err != nil {
		h.logger.Error("Failed to write token count", "error", err)
	}
}
