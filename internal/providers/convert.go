package providers

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/sjson"
)

// ChatRequest is the upstream chat completion request. Temperature and top_p are float32
// with omitempty in the embedded schema, so an explicit zero is tracked separately and
// written back on encode.
type ChatRequest struct {
	openai.ChatCompletionRequest

	explicitTemperature bool
	explicitTopP        bool
}

func (r ChatRequest) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(r.ChatCompletionRequest)
	if err != nil {
		return nil, err
	}

	if r.explicitTemperature && r.Temperature == 0 {
		if body, err = sjson.SetBytes(body, "temperature", 0); err != nil {
			return nil, err
		}
	}

	if r.explicitTopP && r.TopP == 0 {
		if body, err = sjson.SetBytes(body, "top_p", 0); err != nil {
			return nil, err
		}
	}

	return body, nil
}

// HasImages reports whether any message carries an image part.
func (r *ChatRequest) HasImages() bool {
	for _, msg := range r.Messages {
		for _, part := range msg.MultiContent {
			if part.Type == openai.ChatMessagePartTypeImageURL {
				return true
			}
		}
	}

	return false
}

// TransformRequest converts a validated Claude request into the upstream schema.
func TransformRequest(req *MessagesRequest) *ChatRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)

	if req.System != nil && (req.System.Text != "" || req.System.Blocks != nil) {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    RoleSystem,
			Content: req.System.String(),
		})
	}

	for _, msg := range req.Messages {
		messages = append(messages, convertMessage(msg))
	}

	out := &ChatRequest{
		ChatCompletionRequest: openai.ChatCompletionRequest{
			Model:    NormalizeModel(req.Model),
			Messages: messages,
			Stream:   req.Stream,
			Stop:     req.StopSequences,
		},
	}

	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}

	if req.Temperature != nil {
		out.Temperature = float32(*req.Temperature)
		out.explicitTemperature = true
	}

	if req.TopP != nil {
		out.TopP = float32(*req.TopP)
		out.explicitTopP = true
	}

	return out
}

func convertMessage(msg Message) openai.ChatCompletionMessage {
	if msg.Content.Blocks == nil {
		return openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content.Text}
	}

	parts := make([]openai.ChatMessagePart, 0, len(msg.Content.Blocks))

	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case ContentTypeText:
			parts = append(parts, textPart(block.Text))
		case ContentTypeImage:
			if block.Source == nil {
				continue
			}

			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: imageURL(block.Source)},
			})
		case ContentTypeToolUse:
			parts = append(parts, textPart(fmt.Sprintf("[Tool Use: %s]", block.Name)))
		case ContentTypeToolResult:
			parts = append(parts, textPart(block.toolResultText()))
		}
	}

	if len(parts) == 1 && parts[0].Type == openai.ChatMessagePartTypeText {
		return openai.ChatCompletionMessage{Role: msg.Role, Content: parts[0].Text}
	}

	return openai.ChatCompletionMessage{Role: msg.Role, MultiContent: parts}
}

func textPart(text string) openai.ChatMessagePart {
	return openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text}
}

func imageURL(source *ImageSource) string {
	if source.Type == ImageSourceBase64 {
		return fmt.Sprintf("data:%s;base64,%s", source.MediaType, source.Data)
	}

	return source.URL
}

// TransformResponse converts an upstream chat completion body into a Claude reply. model
// is the name the caller asked for, which the reply echoes.
func TransformResponse(body []byte, model string) (*MessagesResponse, error) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal upstream response: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in upstream response")
	}

	choice := resp.Choices[0]

	var content []TextBlock
	if choice.Message.MultiContent != nil {
		for _, part := range choice.Message.MultiContent {
			if part.Type == openai.ChatMessagePartTypeText {
				content = append(content, TextBlock{Type: ContentTypeText, Text: part.Text})
			}
		}
	} else {
		content = append(content, TextBlock{Type: ContentTypeText, Text: choice.Message.Content})
	}

	if len(content) == 0 {
		content = append(content, TextBlock{Type: ContentTypeText, Text: ""})
	}

	stopReason, stopSequence := ConvertStopReason(string(choice.FinishReason))

	id := resp.ID
	if id == "" {
		id = NewMessageID()
	}

	return &MessagesResponse{
		ID:           id,
		Type:         "message",
		Role:         RoleAssistant,
		Content:      content,
		Model:        model,
		StopReason:   stopReason,
		StopSequence: stopSequence,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func NewMessageID() string {
	return "msg_" + uuid.NewString()
}
