package converter

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/tidwall/gjson"
)

const callIDLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomCallSuffix generates the 24-character random suffix of a synthetic
// OpenAI tool_call id, matching the id shape real OpenAI responses use.
func randomCallSuffix() string {
	var b strings.Builder
	for i := 0; i < 24; i++ {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(callIDLetters))))
		b.WriteByte(callIDLetters[n.Int64()])
	}
	return b.String()
}

// GeminiToOpenAINonStream converts a complete (non-streaming) Gemini
// generateContent response into an OpenAI chat.completion object.
func GeminiToOpenAINonStream(rawJSON []byte, model, responseID string, created int64) ([]byte, error) {
	root := gjson.ParseBytes(rawJSON)

	if blocked := blockedCandidateMessage(root); blocked != "" {
		return marshalCompletion(responseID, model, created, []interface{}{
			map[string]interface{}{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": blocked},
			},
		}, usageFromRoot(root))
	}

	candidates := root.Get("candidates")
	var choices []interface{}

	candidates.ForEach(func(_, cand gjson.Result) bool {
		content, hasFunctionCall := "", false
		reasoning := ""
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
				hasFunctionCall = true
				toolCalls = append(toolCalls, functionCallToToolCall(len(toolCalls), part.Get("functionCall")))
			}
			return true
		})

		finishReason := mapFinishReasonToOpenAI(cand.Get("finishReason").String())
		if hasFunctionCall {
			finishReason = "tool_calls"
		}

		message := map[string]interface{}{"role": "assistant"}
		if content != "" || len(toolCalls) == 0 {
			message["content"] = content
		} else {
			message["content"] = nil
		}
		if reasoning != "" {
			message["reasoning_content"] = reasoning
		}
		if len(toolCalls) > 0 {
			message["tool_calls"] = toolCalls
		}

		choices = append(choices, map[string]interface{}{
			"index":         int(cand.Get("index").Int()),
			"finish_reason": finishReason,
			"message":       message,
		})
		return true
	})

	return marshalCompletion(responseID, model, created, choices, usageFromRoot(root))
}

func marshalCompletion(responseID, model string, created int64, choices []interface{}, usage map[string]interface{}) ([]byte, error) {
	out := map[string]interface{}{
		"id":      responseID,
		"object":  "chat.completion",
		"created": created,
		"model":   model,
		"choices": choices,
	}
	if usage != nil {
		out["usage"] = usage
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("gemini_to_openai: encode: %w", err)
	}
	return encoded, nil
}

// blockedCandidateMessage returns the synthetic error text when the response
// has no candidates but carries a promptFeedback block, signalling the
// request was blocked by safety filtering before generation began.
func blockedCandidateMessage(root gjson.Result) string {
	candidates := root.Get("candidates")
	if candidates.Exists() && len(candidates.Array()) > 0 {
		return ""
	}
	feedback := root.Get("promptFeedback")
	if !feedback.Exists() {
		return ""
	}
	reason := feedback.Get("blockReason").String()
	if reason == "" {
		reason = "unspecified"
	}
	return fmt.Sprintf("[ProxySystem Error] Request blocked due to safety settings (%s)", reason)
}

func inlineDataMarkdown(inlineData gjson.Result) string {
	mime := inlineData.Get("mimeType").String()
	if mime == "" {
		mime = "image/png"
	}
	return fmt.Sprintf("![image](data:%s;base64,%s)", mime, inlineData.Get("data").String())
}

func functionCallToToolCall(index int, fc gjson.Result) map[string]interface{} {
	args := fc.Get("args")
	argsJSON := "{}"
	if args.Exists() {
		argsJSON = args.Raw
	}
	return map[string]interface{}{
		"index": index,
		"id":    fmt.Sprintf("call_%s", randomCallSuffix()),
		"type":  "function",
		"function": map[string]interface{}{
			"name":      fc.Get("name").String(),
			"arguments": argsJSON,
		},
	}
}

func usageFromRoot(root gjson.Result) map[string]interface{} {
	usage := root.Get("usageMetadata")
	if !usage.Exists() {
		return nil
	}
	promptTokens := usage.Get("promptTokenCount").Int() + usage.Get("toolUsePromptTokenCount").Int()
	completionTokens := usage.Get("candidatesTokenCount").Int() + usage.Get("thoughtsTokenCount").Int()
	return map[string]interface{}{
		"prompt_tokens":     promptTokens,
		"completion_tokens": completionTokens,
		"total_tokens":      promptTokens + completionTokens,
		"completion_tokens_details": map[string]interface{}{
			"reasoning_tokens": usage.Get("thoughtsTokenCount").Int(),
		},
		"prompt_tokens_details": map[string]interface{}{
			"image_tokens": sumModalityTokens(usage.Get("promptTokensDetails"), "IMAGE"),
		},
	}
}

// sumModalityTokens sums tokenCount entries in a Gemini modalityTokenCount[]
// array whose modality matches, used to split prompt token accounting by
// content type.
func sumModalityTokens(details gjson.Result, modality string) int64 {
	if !details.Exists() {
		return 0
	}
	var total int64
	details.ForEach(func(_, d gjson.Result) bool {
		if strings.EqualFold(d.Get("modality").String(), modality) {
			total += d.Get("tokenCount").Int()
		}
		return true
	})
	return total
}
