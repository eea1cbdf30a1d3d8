package converter

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// StreamState carries the per-request accumulator a streaming Gemini->OpenAI
// conversion needs across chunks: a stable id/created pair, whether the
// assistant role has already been attached to a delta, the next tool-call
// index to assign, and the latest usage snapshot (attached only once the
// stream reaches its final frame).
type StreamState struct {
	ResponseID      string
	Created         int64
	Model           string
	RoleSent        bool
	ToolCallIndex   int
	HasFunctionCall bool
	Usage           map[string]interface{}
}

// NewStreamState seeds a fresh accumulator for one in-flight request.
func NewStreamState(responseID, model string, created int64) *StreamState {
	return &StreamState{ResponseID: responseID, Model: model, Created: created}
}

// EmitChunk converts one Gemini streaming chunk into zero or more OpenAI SSE
// lines ("data: {...}\n\n"), updating state in place. When the chunk carries
// a finishReason, the returned lines include the terminal frame.
func (s *StreamState) EmitChunk(rawJSON []byte) string {
	root := gjson.ParseBytes(rawJSON)

	if blocked := blockedCandidateMessage(root); blocked != "" {
		frame := s.frame(map[string]interface{}{
			"index":         0,
			"delta":         map[string]interface{}{"role": "assistant", "content": blocked},
			"finish_reason": "stop",
		})
		s.RoleSent = true
		return sseLine(frame)
	}

	if usage := root.Get("usageMetadata"); usage.Exists() {
		s.Usage = usageFromRoot(root)
	}

	var b strings.Builder

	candidates := root.Get("candidates")
	candidates.ForEach(func(_, cand gjson.Result) bool {
		delta := map[string]interface{}{}

		var content, reasoning string
		var toolCalls []interface{}

		cand.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
			switch {
			case part.Get("thought").Bool() && part.Get("text").Exists():
				reasoning += part.Get("text").String()
			case part.Get("text").Exists():
				content += part.Get("text").String()
			case part.Get("inlineData").Exists():
				content += inlineDataMarkdown(part.Get("inlineData"))
			case part.Get("functionCall").Exists():
				s.HasFunctionCall = true
				toolCalls = append(toolCalls, functionCallToToolCall(s.ToolCallIndex, part.Get("functionCall")))
				s.ToolCallIndex++
			}
			return true
		})

		hasDelta := content != "" || reasoning != "" || len(toolCalls) > 0
		if !s.RoleSent && hasDelta {
			delta["role"] = "assistant"
			s.RoleSent = true
		}

		if content != "" {
			delta["content"] = content
		}
		if reasoning != "" {
			delta["reasoning_content"] = reasoning
		}
		if len(toolCalls) > 0 {
			delta["tool_calls"] = toolCalls
		}

		choice := map[string]interface{}{"index": int(cand.Get("index").Int()), "delta": delta}

		if finishReason := cand.Get("finishReason"); finishReason.Exists() {
			mapped := mapFinishReasonToOpenAI(finishReason.String())
			if s.HasFunctionCall {
				mapped = "tool_calls"
			}
			choice["finish_reason"] = mapped
		} else {
			choice["finish_reason"] = nil
		}

		b.WriteString(sseLine(s.frame(choice)))
		return true
	})

	if s.Usage != nil && !candidates.Exists() {
		b.WriteString(sseLine(s.usageOnlyFrame()))
	}

	return b.String()
}

// Done returns the terminal "[DONE]" SSE line, sent once after the stream's
// last chunk has been emitted.
func (s *StreamState) Done() string {
	return "data: [DONE]\n\n"
}

func (s *StreamState) frame(choice map[string]interface{}) map[string]interface{} {
	f := map[string]interface{}{
		"id":      s.ResponseID,
		"object":  "chat.completion.chunk",
		"created": s.Created,
		"model":   s.Model,
		"choices": []interface{}{choice},
	}
	if finishReason, _ := choice["finish_reason"].(string); finishReason != "" && s.Usage != nil {
		f["usage"] = s.Usage
	}
	return f
}

func (s *StreamState) usageOnlyFrame() map[string]interface{} {
	return map[string]interface{}{
		"id":      s.ResponseID,
		"object":  "chat.completion.chunk",
		"created": s.Created,
		"model":   s.Model,
		"choices": []interface{}{},
		"usage":   s.Usage,
	}
}

func sseLine(v map[string]interface{}) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return "data: " + string(encoded) + "\n\n"
}
