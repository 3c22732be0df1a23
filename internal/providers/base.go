package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// Common role and content type constants
	RoleSystem    = "system"
	RoleAssistant = "assistant"
	RoleUser      = "user"

	ContentTypeText       = "text"
	ContentTypeImage      = "image"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"

	ImageSourceBase64 = "base64"
	ImageSourceURL    = "url"

	// Stop reason constants
	StopReasonEndTurn      = "end_turn"
	StopReasonMaxTokens    = "max_tokens"
	StopReasonToolUse      = "tool_use"
	StopReasonStopSequence = "stop_sequence"

	// Content types
	ContentTypeEventStream = "text/event-stream"

	// Stream event types
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"

	toolResultPlaceholder = "[Tool Result]"
	stopSequencePrefix    = "stop_sequence:"
)

// IsStreamingContentType checks if the content type indicates streaming
func IsStreamingContentType(contentType string) bool {
	return strings.HasPrefix(contentType, ContentTypeEventStream)
}

// FormatSSEEvent formats data as a Server-Sent Event
func FormatSSEEvent(eventType string, data any) []byte {
	jsonData, err := json.Marshal(data)
	if err != nil {
		// Return a basic error event if marshalling fails
		return []byte("event: error\ndata: {\"error\":\"failed to marshal data\"}\n\n")
	}

	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, string(jsonData)))
}

// ConvertStopReason maps an upstream finish reason to a Claude stop reason. A reason of the
// form "stop_sequence:<seq>" also yields the sequence that ended generation.
func ConvertStopReason(reason string) (string, *string) {
	switch {
	case reason == "stop":
		return StopReasonEndTurn, nil
	case reason == "length":
		return StopReasonMaxTokens, nil
	case reason == "tool_calls":
		return StopReasonToolUse, nil
	case strings.HasPrefix(reason, StopReasonStopSequence):
		sequence := strings.TrimPrefix(reason, stopSequencePrefix)
		return StopReasonStopSequence, &sequence
	default:
		return StopReasonEndTurn, nil
	}
}

// CreateMessageStartEvent creates a standard Anthropic message_start event
func CreateMessageStartEvent(messageID, model string) map[string]any {
	return map[string]any{
		"type": EventMessageStart,
		"message": map[string]any{
			"id":            messageID,
			"type":          "message",
			"role":          RoleAssistant,
			"model":         model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage": map[string]any{
				"input_tokens":  0,
				"output_tokens": 0,
			},
		},
	}
}
