package providers

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func decodeRequest(t *testing.T, body string) *MessagesRequest {
	t.Helper()

	req, err := DecodeMessagesRequest([]byte(body))
	require.NoError(t, err)

	return req
}

func TestTransformRequest_SystemPrompt(t *testing.T) {
	tests := []struct {
		name     string
		system   string
		expected string
		present  bool
	}{
		{name: "string", system: `"You are terse."`, expected: "You are terse.", present: true},
		{name: "blocks joined by newline", system: `[{"type":"text","text":"one"},{"type":"text","text":"two"}]`, expected: "one\ntwo", present: true},
		{name: "empty string omitted", system: `""`, present: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := decodeRequest(t, `{"model":"gpt-4o","max_tokens":10,"system":`+tt.system+`,"messages":[{"role":"user","content":"hi"}]}`)

			out := TransformRequest(req)

			if !tt.present {
				require.Len(t, out.Messages, 1)
				assert.Equal(t, RoleUser, out.Messages[0].Role)
				return
			}

			require.Len(t, out.Messages, 2)
			assert.Equal(t, RoleSystem, out.Messages[0].Role)
			assert.Equal(t, tt.expected, out.Messages[0].Content)
		})
	}
}

func TestTransformRequest_ContentFlattening(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 1024,
		"messages": [
			{"role": "user", "content": [
				{"type": "text", "text": "What is in these?"},
				{"type": "image", "source": {"type": "base64", "media_type": "image/png", "data": "iVBORw0KGgo="}},
				{"type": "image", "source": {"type": "url", "url": "https://example.com/cat.jpg"}}
			]},
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "Oslo"}},
				{"type": "text", "text": "Checking."}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": "Sunny, 21C"}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_2", "content": [{"type": "text", "text": "nested"}]}
			]}
		]
	}`)

	out := TransformRequest(req)

	assert.Equal(t, "claude-sonnet-4.5", out.Model)
	assert.Equal(t, 1024, out.MaxTokens)
	require.Len(t, out.Messages, 4)

	images := out.Messages[0].MultiContent
	require.Len(t, images, 3)
	assert.Equal(t, openai.ChatMessagePartTypeText, images[0].Type)
	assert.Equal(t, "What is in these?", images[0].Text)
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", images[1].ImageURL.URL)
	assert.Equal(t, "https://example.com/cat.jpg", images[2].ImageURL.URL)
	assert.True(t, out.HasImages())

	toolUse := out.Messages[1].MultiContent
	require.Len(t, toolUse, 2)
	assert.Equal(t, "[Tool Use: get_weather]", toolUse[0].Text)
	assert.Equal(t, "Checking.", toolUse[1].Text)

	assert.Equal(t, "Sunny, 21C", out.Messages[2].Content, "a single text part collapses to a string")
	assert.Nil(t, out.Messages[2].MultiContent)
	assert.Equal(t, "[Tool Result]", out.Messages[3].Content)
}

func TestTransformRequest_OptionalParameters(t *testing.T) {
	req := decodeRequest(t, `{"model":"gpt-4o","max_tokens":5,"temperature":0,"top_p":0.5,"stop_sequences":["END"],"stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	body, err := json.Marshal(TransformRequest(req))
	require.NoError(t, err)

	assert.True(t, gjson.GetBytes(body, "temperature").Exists(), "explicit zero temperature is sent")
	assert.InDelta(t, 0, gjson.GetBytes(body, "temperature").Float(), 0)
	assert.InDelta(t, 0.5, gjson.GetBytes(body, "top_p").Float(), 1e-6)
	assert.Equal(t, "END", gjson.GetBytes(body, "stop.0").String())
	assert.True(t, gjson.GetBytes(body, "stream").Bool())
	assert.Equal(t, int64(5), gjson.GetBytes(body, "max_tokens").Int())
	assert.Equal(t, "hi", gjson.GetBytes(body, "messages.0.content").String())

	req = decodeRequest(t, `{"model":"gpt-4o","max_tokens":5,"messages":[{"role":"user","content":"hi"}]}`)

	body, err = json.Marshal(TransformRequest(req))
	require.NoError(t, err)

	assert.False(t, gjson.GetBytes(body, "temperature").Exists())
	assert.False(t, gjson.GetBytes(body, "top_p").Exists())
	assert.False(t, gjson.GetBytes(body, "stop").Exists())
}

func TestTransformRequest_TextRoundTrip(t *testing.T) {
	texts := []string{"hello", "multi\nline\ntext", "unicode ✓ 日本語", `quotes "and" \\ slashes`}

	for _, text := range texts {
		req := &MessagesRequest{
			Model:    "gpt-4o",
			Messages: []Message{{Role: RoleUser, Content: BlockContent(ContentBlock{Type: ContentTypeText, Text: text})}},
		}

		upstream, err := json.Marshal(TransformRequest(req))
		require.NoError(t, err)
		assert.Equal(t, text, gjson.GetBytes(upstream, "messages.0.content").String())

		reply, err := json.Marshal(map[string]any{
			"id": "chatcmpl-1",
			"choices": []any{map[string]any{
				"message": map[string]any{"role": "assistant", "content": gjson.GetBytes(upstream, "messages.0.content").String()},
			}},
		})
		require.NoError(t, err)

		resp, err := TransformResponse(reply, "gpt-4o")
		require.NoError(t, err)
		require.Len(t, resp.Content, 1)
		assert.Equal(t, text, resp.Content[0].Text)
	}
}

func TestTransformResponse(t *testing.T) {
	body := `{
		"id": "chatcmpl-abc",
		"model": "claude-sonnet-4.5",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello there"}, "finish_reason": "length"}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
	}`

	resp, err := TransformResponse([]byte(body), "claude-3-5-sonnet-20241022")
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-abc", resp.ID)
	assert.Equal(t, "message", resp.Type)
	assert.Equal(t, RoleAssistant, resp.Role)
	assert.Equal(t, "claude-3-5-sonnet-20241022", resp.Model, "the reply echoes the requested model")
	assert.Equal(t, []TextBlock{{Type: ContentTypeText, Text: "Hello there"}}, resp.Content)
	assert.Equal(t, StopReasonMaxTokens, resp.StopReason)
	assert.Nil(t, resp.StopSequence)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 3}, resp.Usage)
}

func TestTransformResponse_Content(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		expected []TextBlock
	}{
		{
			name:     "null content becomes one empty block",
			message:  `{"role":"assistant","content":null}`,
			expected: []TextBlock{{Type: ContentTypeText, Text: ""}},
		},
		{
			name:     "array keeps text parts only",
			message:  `{"role":"assistant","content":[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"https://x"}},{"type":"text","text":"b"}]}`,
			expected: []TextBlock{{Type: ContentTypeText, Text: "a"}, {Type: ContentTypeText, Text: "b"}},
		},
		{
			name:     "array without text parts",
			message:  `{"role":"assistant","content":[{"type":"image_url","image_url":{"url":"https://x"}}]}`,
			expected: []TextBlock{{Type: ContentTypeText, Text: ""}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := TransformResponse([]byte(`{"choices":[{"message":`+tt.message+`}]}`), "gpt-4o")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, resp.Content)
			assert.True(t, strings.HasPrefix(resp.ID, "msg_"), "missing ids are generated")
			assert.Equal(t, Usage{}, resp.Usage)
		})
	}
}

func TestTransformResponse_NoChoices(t *testing.T) {
	_, err := TransformResponse([]byte(`{"id":"x","choices":[]}`), "gpt-4o")
	require.Error(t, err)

	_, err = TransformResponse([]byte(`not json`), "gpt-4o")
	require.Error(t, err)
}

func TestConvertStopReason(t *testing.T) {
	tests := []struct {
		reason   string
		expected string
		sequence *string
	}{
		{reason: "stop", expected: StopReasonEndTurn},
		{reason: "length", expected: StopReasonMaxTokens},
		{reason: "tool_calls", expected: StopReasonToolUse},
		{reason: "stop_sequence:###", expected: StopReasonStopSequence, sequence: ptr("###")},
		{reason: "content_filter", expected: StopReasonEndTurn},
		{reason: "", expected: StopReasonEndTurn},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			reason, sequence := ConvertStopReason(tt.reason)
			assert.Equal(t, tt.expected, reason)
			assert.Equal(t, tt.sequence, sequence)
		})
	}
}

func TestEndToEnd_ClaudeRequestThroughUpstreamReply(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 256,
		"system": [{"type":"text","text":"Be brief."}],
		"messages": [{"role":"user","content":[{"type":"text","text":"Say hi"}]}],
		"temperature": 0.2
	}`)

	upstream, err := json.Marshal(TransformRequest(req))
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4.5", gjson.GetBytes(upstream, "model").String())
	assert.Equal(t, int64(2), gjson.GetBytes(upstream, "messages.#").Int())
	assert.Equal(t, "system", gjson.GetBytes(upstream, "messages.0.role").String())
	assert.Equal(t, "Be brief.", gjson.GetBytes(upstream, "messages.0.content").String())
	assert.Equal(t, "user", gjson.GetBytes(upstream, "messages.1.role").String())
	assert.Equal(t, gjson.String, gjson.GetBytes(upstream, "messages.1.content").Type, "a single text block is sent as a string")
	assert.Equal(t, "Say hi", gjson.GetBytes(upstream, "messages.1.content").String())
	assert.Equal(t, int64(256), gjson.GetBytes(upstream, "max_tokens").Int())
	assert.InDelta(t, 0.2, gjson.GetBytes(upstream, "temperature").Float(), 1e-6)
	assert.False(t, gjson.GetBytes(upstream, "stream").Exists())

	resp, err := TransformResponse([]byte(`{"id":"chatcmpl-9","choices":[{"message":{"role":"assistant","content":"Hi!"},"finish_reason":"stop"}],"usage":{"prompt_tokens":9,"completion_tokens":2}}`), req.Model)
	require.NoError(t, err)

	encoded, err := json.Marshal(resp)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"id": "chatcmpl-9",
		"type": "message",
		"role": "assistant",
		"content": [{"type": "text", "text": "Hi!"}],
		"model": "claude-3-5-sonnet-20241022",
		"stop_reason": "end_turn",
		"stop_sequence": null,
		"usage": {"input_tokens": 9, "output_tokens": 2}
	}`, string(encoded))
}

func ptr[T any](v T) *T {
	return &v
}
