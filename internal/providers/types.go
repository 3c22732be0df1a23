package providers

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// MessagesRequest is the body of a Claude messages call.
type MessagesRequest struct {
	Model         string         `json:"model" validate:"required"`
	Messages      []Message      `json:"messages" validate:"required,min=1"`
	MaxTokens     *int           `json:"max_tokens" validate:"required,gt=0"`
	System        *SystemPrompt  `json:"system,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	StopSequences []string       `json:"stop_sequences,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type Message struct {
	Role    string         `json:"role" validate:"oneof=user assistant"`
	Content MessageContent `json:"content" validate:"required"`
}

// MessageContent is either a plain string or a list of content blocks.
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
}

func TextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

func BlockContent(blocks ...ContentBlock) MessageContent {
	return MessageContent{Blocks: blocks}
}

// IsEmpty reports whether the content is missing, null, an empty string or an empty list.
func (c MessageContent) IsEmpty() bool {
	return c.Text == "" && len(c.Blocks) == 0
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	*c = MessageContent{}

	switch value := gjson.ParseBytes(data); {
	case value.Type == gjson.Null:
		return nil
	case value.Type == gjson.String:
		c.Text = value.Str
		return nil
	case value.IsArray():
		return json.Unmarshal(data, &c.Blocks)
	default:
		return errors.New("content must be a string or an array of content blocks")
	}
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}

	return json.Marshal(c.Text)
}

type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    *ImageSource    `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// SystemPrompt is either a plain string or a list of text blocks.
type SystemPrompt struct {
	Text   string
	Blocks []ContentBlock
}

// String joins block texts with newlines.
func (s SystemPrompt) String() string {
	if s.Blocks == nil {
		return s.Text
	}

	texts := make([]string, 0, len(s.Blocks))
	for _, block := range s.Blocks {
		texts = append(texts, block.Text)
	}

	return strings.Join(texts, "\n")
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	*s = SystemPrompt{}

	switch value := gjson.ParseBytes(data); {
	case value.Type == gjson.Null:
		return nil
	case value.Type == gjson.String:
		s.Text = value.Str
		return nil
	case value.IsArray():
		return json.Unmarshal(data, &s.Blocks)
	default:
		return errors.New("system must be a string or an array of text blocks")
	}
}

func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if s.Blocks != nil {
		return json.Marshal(s.Blocks)
	}

	return json.Marshal(s.Text)
}

// toolResultText is the text a tool_result block contributes upstream.
func (b ContentBlock) toolResultText() string {
	if value := gjson.ParseBytes(bytes.TrimSpace(b.Content)); value.Type == gjson.String {
		return value.Str
	}

	return toolResultPlaceholder
}

// MessagesResponse is the body of a non-streaming Claude messages reply.
type MessagesResponse struct {
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	Role         string      `json:"role"`
	Content      []TextBlock `json:"content"`
	Model        string      `json:"model"`
	StopReason   string      `json:"stop_reason"`
	StopSequence *string     `json:"stop_sequence"`
	Usage        Usage       `json:"usage"`
}

type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
