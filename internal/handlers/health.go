package handlers

import (
	"log/slog"
	"net/http"
	"time"
)

type HealthHandler struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		logger: logger,
		now:    time.Now,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"timestamp": h.now().UnixMilli(),
	}

	if err := writeJSON(w, http.StatusOK, body); err != nil {
		h.logger.Error("Failed to write health check response", "error", err)
	}
}
