package providers

import (
	"bytes"

	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/copilot-gateway/internal/metrics"
)

// StreamState re-frames an upstream chat completion SSE stream as Claude stream events.
// It is owned by a single request and is not safe for concurrent use.
type StreamState struct {
	MessageID string
	Model     string

	buf     []byte
	started bool
	done    bool
	index   int
}

// NewStreamState starts a transcoder for a reply that reports model to the caller.
func NewStreamState(model string) *StreamState {
	return &StreamState{MessageID: NewMessageID(), Model: model}
}

// Write consumes a chunk of upstream bytes and returns the Claude events produced by the
// complete lines in it. A trailing partial line is kept for the next call.
func (s *StreamState) Write(chunk []byte) []byte {
	if s.done {
		return nil
	}

	s.buf = append(s.buf, chunk...)

	var events []byte

	for !s.done {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}

		line := s.buf[:i]
		s.buf = s.buf[i+1:]

		events = append(events, s.processLine(line)...)
	}

	if s.done {
		s.buf = nil
	}

	return events
}

// Flush processes whatever is left in the buffer as a final line.
func (s *StreamState) Flush() []byte {
	if s.done || len(bytes.TrimSpace(s.buf)) == 0 {
		s.buf = nil
		return nil
	}

	line := s.buf
	s.buf = nil

	return s.processLine(line)
}

// Discard drops buffered input without emitting anything, e.g. after the caller went away.
func (s *StreamState) Discard() {
	s.buf = nil
	s.done = true
}

// Done reports whether the terminal marker has been seen.
func (s *StreamState) Done() bool {
	return s.done
}

func (s *StreamState) processLine(line []byte) []byte {
	line = bytes.TrimRight(line, "\r")

	var events []byte

	if !s.started {
		s.started = true
		events = append(events, s.emit(EventMessageStart, CreateMessageStartEvent(s.MessageID, s.Model))...)
		events = append(events, s.emit(EventContentBlockStart, map[string]any{
			"type":  EventContentBlockStart,
			"index": s.index,
			"content_block": map[string]any{
				"type": ContentTypeText,
				"text": "",
			},
		})...)
	}

	payload, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return events
	}

	payload = bytes.TrimSpace(payload)

	if string(payload) == "[DONE]" {
		s.done = true
		return append(events, s.finish()...)
	}

	if !gjson.ValidBytes(payload) {
		metrics.StreamLinesSkipped.Inc()
		return events
	}

	text := gjson.GetBytes(payload, "choices.0.delta.content")
	if text.Type != gjson.String || text.Str == "" {
		return events
	}

	return append(events, s.emit(EventContentBlockDelta, map[string]any{
		"type":  EventContentBlockDelta,
		"index": s.index,
		"delta": map[string]any{
			"type": "text_delta",
			"text": text.Str,
		},
	})...)
}

func (s *StreamState) finish() []byte {
	var events []byte

	events = append(events, s.emit(EventContentBlockStop, map[string]any{
		"type":  EventContentBlockStop,
		"index": s.index,
	})...)
	s.index++

	events = append(events, s.emit(EventMessageDelta, map[string]any{
		"type": EventMessageDelta,
		"delta": map[string]any{
			"stop_reason":   StopReasonEndTurn,
			"stop_sequence": nil,
		},
		"usage": map[string]any{
			"output_tokens": 0,
		},
	})...)

	events = append(events, s.emit(EventMessageStop, map[string]any{
		"type": EventMessageStop,
	})...)

	return events
}

func (s *StreamState) emit(eventType string, data any) []byte {
	metrics.StreamEvents.WithLabelValues(eventType).Inc()
	return FormatSSEEvent(eventType, data)
}
