/*
Package providers translates between the two public chat schemas and the Copilot upstream.

# Request Flow

 1. Client sends a Claude messages request
 2. DecodeMessagesRequest parses and validates it
 3. TransformRequest normalizes the model name and flattens content into a ChatRequest
 4. The ChatRequest is sent upstream as an OpenAI chat completion
 5. TransformResponse, or a StreamState for streams, converts the reply back

# Model Names

NormalizeModel resolves Claude API names to the names Copilot serves. Resolution stops at
the first step that changes the name:

  - exact alias table (canonical names map to themselves)
  - strip a trailing -YYYYMMDD and resolve again
  - ordered prefix rules, e.g. claude-3-5-sonnet* → claude-sonnet-4.5

Anything else is passed through unchanged.

# Content Flattening

Copilot accepts text and image_url parts only, so Claude blocks are reduced:

	text         → text part
	image        → image_url part (base64 sources become data: URIs)
	tool_use     → "[Tool Use: <name>]"
	tool_result  → its string content, or "[Tool Result]"

A message that flattens to a single text part is sent as a plain string.

# Streaming

StreamState buffers partial lines across Write calls. The first line produces
message_start and content_block_start; each upstream delta with text produces one
content_block_delta; data: [DONE] produces content_block_stop, message_delta and
message_stop. Malformed lines are skipped.

	state := providers.NewStreamState(req.Model)
	for chunk := range upstream {
		w.Write(state.Write(chunk))
	}
	w.Write(state.Flush())
*/
package providers
