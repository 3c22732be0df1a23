package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mihaisavezi/copilot-gateway/internal/copilot"
)

// ModelsHandler serves the catalog. ?refresh=true bypasses the cache.
type ModelsHandler struct {
	capabilities Capabilities
	logger       *slog.Logger
}

func NewModelsHandler(capabilities Capabilities, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{
		capabilities: capabilities,
		logger:       logger,
	}
}

// List relays the upstream catalog as received.
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	catalog, ok := h.catalog(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(catalog.Raw()); err != nil {
		h.logger.Error("Failed to write models", "error", err)
	}
}

// Vision lists the models whose catalog entry declares vision support.
func (h *ModelsHandler) Vision(w http.ResponseWriter, r *http.Request) {
	catalog, ok := h.catalog(w, r)
	if !ok {
		return
	}

	models := catalog.VisionModels()
	if models == nil {
		models = []copilot.Model{}
	}

	body := map[string]any{
		"object": "list",
		"data":   models,
	}

	if err := writeJSON(w, http.StatusOK, body); err != nil {
		h.logger.Error("Failed to write vision models", "error", err)
	}
}

func (h *ModelsHandler) catalog(w http.ResponseWriter, r *http.Request) (*copilot.Catalog, bool) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	catalog, err := h.capabilities.Catalog(r.Context(), force)
	if err != nil {
		if errors.Is(err, copilot.ErrNotAuthorized) {
			err = errUnauthorizedCatalog
		}

		writeOpenAIError(w, h.logger, err)

		return nil, false
	}

	return catalog, true
}

var errUnauthorizedCatalog = &unauthorizedError{message: "Unauthorized. Please authorize first."}

type unauthorizedError struct {
	message string
}

func (e *unauthorizedError) Error() string {
	return e.message
}

func (e *unauthorizedError) Is(target error) bool {
	return target == copilot.ErrNotAuthorized
}
