package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/mihaisavezi/copilot-gateway/internal/metrics"
)

// visionPatterns guess image support for models the catalog does not describe.
var visionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)gpt-4o`),
	regexp.MustCompile(`(?i)gpt-4.*vision`),
	regexp.MustCompile(`(?i)claude-3`),
	regexp.MustCompile(`(?i)claude.*opus`),
	regexp.MustCompile(`(?i)gemini.*vision`),
	regexp.MustCompile(`(?i)o1`),
	regexp.MustCompile(`(?i)o1-mini`),
}

type Catalog struct {
	Object    string    `json:"object"`
	Models    []Model   `json:"data"`
	FetchedAt time.Time `json:"-"`

	raw []byte
}

type Model struct {
	ID           string       `json:"id"`
	Name         string       `json:"name,omitempty"`
	Vendor       string       `json:"vendor,omitempty"`
	Version      string       `json:"version,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

type Capabilities struct {
	Family   string   `json:"family,omitempty"`
	Type     string   `json:"type,omitempty"`
	Limits   Limits   `json:"limits"`
	Supports Supports `json:"supports"`
}

type Limits struct {
	MaxContextWindowTokens int `json:"max_context_window_tokens,omitempty"`
	MaxOutputTokens        int `json:"max_output_tokens,omitempty"`
	MaxPromptTokens        int `json:"max_prompt_tokens,omitempty"`
}

type Supports struct {
	Vision    bool `json:"vision,omitempty"`
	Streaming bool `json:"streaming,omitempty"`
	ToolCalls bool `json:"tool_calls,omitempty"`
}

func (c *Catalog) Lookup(id string) (Model, bool) {
	for _, model := range c.Models {
		if model.ID == id {
			return model, true
		}
	}

	return Model{}, false
}

// Raw is the upstream catalog body exactly as received, or the encoded catalog when it was
// built locally.
func (c *Catalog) Raw() []byte {
	if c.raw == nil {
		data, _ := json.Marshal(c)
		return data
	}

	return c.raw
}

// VisionModels returns the catalog entries that accept image input.
func (c *Catalog) VisionModels() []Model {
	var models []Model

	for _, model := range c.Models {
		if model.Capabilities.Supports.Vision {
			models = append(models, model)
		}
	}

	return models
}

// Catalog returns the cached model catalog, fetching it when it is missing, older than the
// TTL, or force is set.
func (m *Manager) Catalog(ctx context.Context, force bool) (*Catalog, error) {
	if c := m.catalog.Load(); c != nil && !force && m.now().Sub(c.FetchedAt) < m.catalogTTL {
		return c, nil
	}

	v, err, _ := m.flights.Do("catalog", func() (any, error) {
		return m.fetchCatalog(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}

	return v.(*Catalog), nil
}

// SupportsMultimodal reports whether model accepts image content. It never fails: when the
// catalog is unavailable or does not list the model, the name decides.
func (m *Manager) SupportsMultimodal(ctx context.Context, model string) bool {
	catalog, err := m.Catalog(ctx, false)
	if err != nil {
		m.logger.Warn("Model catalog unavailable, using name patterns", "model", model, "error", err)
		return matchesVisionPattern(model)
	}

	if entry, ok := catalog.Lookup(model); ok {
		return entry.Capabilities.Supports.Vision
	}

	return matchesVisionPattern(model)
}

func (m *Manager) fetchCatalog(ctx context.Context) (*Catalog, error) {
	epoch := m.epoch.Load()

	token, err := m.SessionToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := m.copilot.R().
		SetContext(ctx).
		SetHeaders(ClientHeaders()).
		SetAuthToken(token).
		Get("/models")
	if err != nil {
		metrics.CatalogFetches.WithLabelValues(metrics.ResultError).Inc()
		return nil, fmt.Errorf("fetch models: %w", err)
	}

	if resp.IsError() {
		metrics.CatalogFetches.WithLabelValues(metrics.ResultError).Inc()
		return nil, &APIError{StatusCode: resp.StatusCode(), Status: statusText(resp.StatusCode(), resp.Status()), Body: resp.Body()}
	}

	catalog := &Catalog{}
	if err := json.Unmarshal(resp.Body(), catalog); err != nil {
		metrics.CatalogFetches.WithLabelValues(metrics.ResultError).Inc()
		return nil, fmt.Errorf("decode models: %w", err)
	}

	catalog.FetchedAt = m.now()
	catalog.raw = resp.Body()

	m.catalog.Store(catalog)
	if m.epoch.Load() != epoch {
		m.catalog.CompareAndSwap(catalog, nil)
		m.logger.Debug("Discarding model catalog fetched for a previous account")
	}

	metrics.CatalogFetches.WithLabelValues(metrics.ResultSuccess).Inc()

	m.logger.Info("Model catalog refreshed", "models", len(catalog.Models))

	return catalog, nil
}

func matchesVisionPattern(model string) bool {
	for _, pattern := range visionPatterns {
		if pattern.MatchString(model) {
			return true
		}
	}

	return false
}
