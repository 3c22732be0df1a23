package providers

import (
	"log/slog"
	"regexp"
	"strings"
)

// modelAliases maps Claude API model names to the names Copilot serves. Canonical names map
// to themselves so they never reach the fuzzy rules.
var modelAliases = map[string]string{
	"claude-3-opus-20240229":     "claude-opus-41",
	"claude-3-5-sonnet-20241022": "claude-sonnet-4.5",
	"claude-3-5-sonnet-20240620": "claude-sonnet-4.5",
	"claude-3-sonnet-20240229":   "claude-sonnet-4",
	"claude-3-haiku-20240307":    "claude-haiku-4.5",
	"claude-3-5-haiku-20241022":  "claude-haiku-4.5",

	"claude-sonnet-4-20250514":   "claude-sonnet-4.5",
	"claude-sonnet-4.5-20250514": "claude-sonnet-4.5",

	"claude-3-opus":     "claude-opus-41",
	"claude-3-sonnet":   "claude-sonnet-4",
	"claude-3-haiku":    "claude-haiku-4.5",
	"claude-3.5-sonnet": "claude-sonnet-4.5",
	"claude-3.5-haiku":  "claude-haiku-4.5",

	"claude-opus-41":    "claude-opus-41",
	"claude-sonnet-4.5": "claude-sonnet-4.5",
	"claude-sonnet-4":   "claude-sonnet-4",
	"claude-haiku-4.5":  "claude-haiku-4.5",

	"claude-haiku-4-5":  "claude-haiku-4.5",
	"claude-sonnet-4-5": "claude-sonnet-4.5",
	"claude-opus-4-1":   "claude-opus-41",

	"gpt-4-turbo":         "gpt-4",
	"gpt-4-turbo-preview": "gpt-4",
}

var dateSuffix = regexp.MustCompile(`-\d{8}$`)

type modelRule struct {
	match  func(model string) bool
	result string
}

func hasAnyPrefix(prefixes ...string) func(string) bool {
	return func(model string) bool {
		for _, prefix := range prefixes {
			if strings.HasPrefix(model, prefix) {
				return true
			}
		}

		return false
	}
}

// modelRules are checked in order; the first match wins. claude-sonnet-4 must stay last
// since it is a prefix of the dashed 4-5 form.
var modelRules = []modelRule{
	{match: hasAnyPrefix("claude-3-opus"), result: "claude-opus-41"},
	{match: hasAnyPrefix("claude-3-5-sonnet", "claude-3.5-sonnet"), result: "claude-sonnet-4.5"},
	{match: hasAnyPrefix("claude-3-sonnet"), result: "claude-sonnet-4"},
	{match: hasAnyPrefix("claude-3-haiku", "claude-3-5-haiku", "claude-3.5-haiku"), result: "claude-haiku-4.5"},
	{match: hasAnyPrefix("claude-haiku-4-5"), result: "claude-haiku-4.5"},
	{match: hasAnyPrefix("claude-sonnet-4-5"), result: "claude-sonnet-4.5"},
	{match: hasAnyPrefix("claude-opus-4-1"), result: "claude-opus-41"},
	{match: hasAnyPrefix("claude-sonnet-4"), result: "claude-sonnet-4.5"},
}

// NormalizeModel resolves a caller supplied model name to the name Copilot serves. Unknown
// names are returned unchanged.
func NormalizeModel(model string) string {
	canonical, how := normalizeModel(model)

	switch {
	case how == "":
		slog.Debug("No model mapping found, using original name", "model", model)
	case canonical != model:
		slog.Info("Model mapped", "from", model, "to", canonical, "match", how)
	}

	return canonical
}

func normalizeModel(model string) (string, string) {
	if mapped, ok := modelAliases[model]; ok {
		return mapped, "exact"
	}

	if stripped := dateSuffix.ReplaceAllString(model, ""); stripped != model {
		if result, _ := normalizeModel(stripped); result != stripped {
			return result, "date"
		}
	}

	for _, rule := range modelRules {
		if rule.match(model) {
			return rule.result, "fuzzy"
		}
	}

	return model, ""
}
