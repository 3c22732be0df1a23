package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterEnv(t *testing.T) {
	env := []string{
		"PATH=/usr/bin",
		"ANTHROPIC_API_KEY=sk-ant",
		"ANTHROPIC_AUTH_TOKEN=old",
		"ANTHROPIC_API_KEY_EXTRA=keep",
		"HOME=/home/dev",
	}

	filtered := filterEnv(env, "ANTHROPIC_API_KEY", "ANTHROPIC_AUTH_TOKEN")

	assert.Equal(t, []string{"PATH=/usr/bin", "ANTHROPIC_API_KEY_EXTRA=keep", "HOME=/home/dev"}, filtered)
}

func TestMaskString(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{in: "", expected: "(not set)"},
		{in: "short", expected: "*****"},
		{in: "abcdefgh", expected: "********"},
		{in: "abcd1234wxyz", expected: "abcd****wxyz"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, maskString(tt.in))
		})
	}
}
