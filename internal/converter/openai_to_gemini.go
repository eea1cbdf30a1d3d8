package converter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/aistudio-bridge/bridge/internal/flags"
)

var httpImageClient = &http.Client{Timeout: 15 * time.Second}

// safetyCategories are always forced to BLOCK_NONE, matching the upstream's
// own default behavior when driven from the AI Studio web client.
var safetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// OpenAIToGemini converts an OpenAI Chat Completions request body into a
// Gemini generateContent request body. It returns the translated body and
// the model name extracted from the request.
func OpenAIToGemini(rawJSON []byte) ([]byte, string, error) {
	root := gjson.ParseBytes(rawJSON)
	if !root.Exists() {
		return nil, "", fmt.Errorf("openai_to_gemini: empty request body")
	}

	model := root.Get("model").String()

	out := map[string]interface{}{}

	var systemParts []string
	var contents []interface{}
	var toolRun []interface{}

	flushToolRun := func() {
		if len(toolRun) == 0 {
			return
		}
		contents = append(contents, map[string]interface{}{
			"role":  "user",
			"parts": toolRun,
		})
		toolRun = nil
	}

	messages := root.Get("messages")
	if messages.IsArray() {
		messages.ForEach(func(_, msg gjson.Result) bool {
			role := msg.Get("role").String()

			if role == "system" || role == "developer" {
				if text := messageTextContent(msg); text != "" {
					systemParts = append(systemParts, text)
				}
				return true
			}

			if role == "tool" {
				toolRun = append(toolRun, map[string]interface{}{
					"functionResponse": map[string]interface{}{
						"name":     msg.Get("name").String(),
						"response": toolResponsePayload(msg),
					},
				})
				return true
			}

			flushToolRun()

			parts := messageParts(msg)
			if toolCalls := msg.Get("tool_calls"); toolCalls.Exists() && toolCalls.IsArray() {
				first := true
				toolCalls.ForEach(func(_, tc gjson.Result) bool {
					if tc.Get("type").String() != "function" && tc.Get("type").Exists() {
						return true
					}
					fn := tc.Get("function")
					var args map[string]interface{}
					_ = json.Unmarshal([]byte(fn.Get("arguments").String()), &args)
					if args == nil {
						args = map[string]interface{}{}
					}
					part := map[string]interface{}{
						"functionCall": map[string]interface{}{
							"name": fn.Get("name").String(),
							"args": args,
						},
					}
					if first {
						part["thoughtSignature"] = "placeholder-thought-signature"
						first = false
					}
					parts = append(parts, part)
					return true
				})
			}

			geminiRole := "user"
			if role == "assistant" {
				geminiRole = "model"
			}
			contents = append(contents, map[string]interface{}{
				"role":  geminiRole,
				"parts": parts,
			})
			return true
		})
	}
	flushToolRun()

	if len(systemParts) > 0 {
		out["systemInstruction"] = map[string]interface{}{
			"role":  "user",
			"parts": []interface{}{map[string]interface{}{"text": strings.Join(systemParts, "\n")}},
		}
	}
	out["contents"] = contents

	if tools := buildTools(root); tools != nil {
		out["tools"] = tools
	}
	if toolChoice := root.Get("tool_choice"); toolChoice.Exists() {
		mode, allowed := mapToolChoice(decodeAny(toolChoice))
		fcc := map[string]interface{}{"mode": mode}
		if len(allowed) > 0 {
			fcc["allowedFunctionNames"] = allowed
		}
		out["toolConfig"] = map[string]interface{}{"functionCallingConfig": fcc}
	}

	if forceWebSearch := flags.ForceWebSearch(); forceWebSearch {
		appendToolIfAbsent(out, "googleSearch")
	}
	if flags.ForceURLContext() {
		appendToolIfAbsent(out, "urlContext")
	}

	out["generationConfig"] = buildGenerationConfig(root)

	safetySettings := make([]interface{}, 0, len(safetyCategories))
	for _, cat := range safetyCategories {
		safetySettings = append(safetySettings, map[string]interface{}{
			"category":  cat,
			"threshold": "BLOCK_NONE",
		})
	}
	out["safetySettings"] = safetySettings

	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, "", fmt.Errorf("openai_to_gemini: encode: %w", err)
	}
	return encoded, model, nil
}

// messageTextContent returns the flattened text of a message's content,
// whether it is a bare string or an array of text parts.
func messageTextContent(msg gjson.Result) string {
	content := msg.Get("content")
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var b strings.Builder
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "text" {
				b.WriteString(part.Get("text").String())
			}
			return true
		})
		return b.String()
	}
	return ""
}

// messageParts converts an OpenAI message's content into Gemini parts,
// handling both the plain-string case and the multi-part array case
// (text and image_url entries).
func messageParts(msg gjson.Result) []interface{} {
	content := msg.Get("content")
	if content.Type == gjson.String {
		if content.String() == "" {
			return []interface{}{}
		}
		return []interface{}{map[string]interface{}{"text": content.String()}}
	}

	var parts []interface{}
	if content.IsArray() {
		content.ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case "text":
				parts = append(parts, map[string]interface{}{"text": part.Get("text").String()})
			case "image_url":
				if p := imagePart(part.Get("image_url").Get("url").String()); p != nil {
					parts = append(parts, p)
				}
			}
			return true
		})
	}
	return parts
}

// imagePart resolves an image_url value (data: URL or http(s) URL) into a
// Gemini inlineData part, downloading remote images synchronously.
func imagePart(url string) map[string]interface{} {
	if strings.HasPrefix(url, "data:") {
		mime, data, ok := parseDataURL(url)
		if !ok {
			return failedImageNote()
		}
		return map[string]interface{}{"inlineData": map[string]interface{}{"mimeType": mime, "data": data}}
	}

	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		resp, err := httpImageClient.Get(url)
		if err != nil {
			return failedImageNote()
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return failedImageNote()
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return failedImageNote()
		}
		mime := resp.Header.Get("Content-Type")
		if mime == "" {
			mime = mimeFromFilename(url)
		}
		return map[string]interface{}{
			"inlineData": map[string]interface{}{
				"mimeType": mime,
				"data":     base64.StdEncoding.EncodeToString(body),
			},
		}
	}

	return failedImageNote()
}

func failedImageNote() map[string]interface{} {
	return map[string]interface{}{"text": "[System Note: Failed to load image from URL]"}
}

func parseDataURL(url string) (mime, data string, ok bool) {
	rest := strings.TrimPrefix(url, "data:")
	comma := strings.Index(rest, ",")
	if comma == -1 {
		return "", "", false
	}
	meta := rest[:comma]
	data = rest[comma+1:]
	mime = strings.TrimSuffix(meta, ";base64")
	if mime == "" {
		mime = "image/jpeg"
	}
	return mime, data, true
}

// mimeFromFilename falls back to the file extension when a remote image's
// response carries no Content-Type. mime.TypeByExtension consults the
// system's registered MIME types; extensions it doesn't know (notably
// .webp on some platforms) fall through to a small literal table before
// defaulting to JPEG, AI Studio's own default.
func mimeFromFilename(url string) string {
	ext := strings.ToLower(path.Ext(strings.SplitN(url, "?", 2)[0]))
	if t := mime.TypeByExtension(ext); t != "" {
		return strings.SplitN(t, ";", 2)[0]
	}
	switch ext {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

// toolResponsePayload wraps a tool message's content as the Gemini
// functionResponse "response" object, which must itself be a JSON object.
func toolResponsePayload(msg gjson.Result) map[string]interface{} {
	text := messageTextContent(msg)
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed
	}
	return map[string]interface{}{"result": text}
}

// buildTools converts OpenAI tools[] into Gemini tools[{functionDeclarations}].
func buildTools(root gjson.Result) []interface{} {
	tools := root.Get("tools")
	if !tools.Exists() || !tools.IsArray() || len(tools.Array()) == 0 {
		return nil
	}

	var decls []interface{}
	tools.ForEach(func(_, tool gjson.Result) bool {
		if tool.Get("type").String() != "function" && tool.Get("type").Exists() {
			return true
		}
		fn := tool.Get("function")
		decl := map[string]interface{}{
			"name":        fn.Get("name").String(),
			"description": fn.Get("description").String(),
		}
		if params := fn.Get("parameters"); params.Exists() {
			decl["parameters"] = rewriteToolSchema(decodeAny(params))
		} else if params := fn.Get("parametersJsonSchema"); params.Exists() {
			decl["parametersJsonSchema"] = rewriteToolSchema(decodeAny(params))
		}
		decls = append(decls, decl)
		return true
	})
	if len(decls) == 0 {
		return nil
	}
	return []interface{}{map[string]interface{}{"functionDeclarations": decls}}
}

func appendToolIfAbsent(out map[string]interface{}, key string) {
	existing, _ := out["tools"].([]interface{})
	for _, t := range existing {
		if m, ok := t.(map[string]interface{}); ok {
			if _, has := m[key]; has {
				return
			}
		}
	}
	out["tools"] = append(existing, map[string]interface{}{key: map[string]interface{}{}})
}

// thinkingConfigAliases lists, in priority order, the gjson paths a client
// may use to carry thinking configuration into an OpenAI-shaped request.
var thinkingConfigAliases = []string{
	"extra_body.google.thinking_config",
	"extra_body.thinkingConfig",
	"thinking_config",
	"thinkingConfig",
}

func buildGenerationConfig(root gjson.Result) map[string]interface{} {
	gen := map[string]interface{}{}

	if v := root.Get("max_tokens"); v.Exists() {
		gen["maxOutputTokens"] = v.Int()
	}
	if v := root.Get("stop"); v.Exists() {
		if v.IsArray() {
			var stops []interface{}
			v.ForEach(func(_, s gjson.Result) bool {
				stops = append(stops, s.String())
				return true
			})
			gen["stopSequences"] = stops
		} else {
			gen["stopSequences"] = []interface{}{v.String()}
		}
	}
	if v := root.Get("temperature"); v.Exists() {
		gen["temperature"] = v.Float()
	}
	if v := root.Get("top_k"); v.Exists() {
		gen["topK"] = v.Int()
	}
	if v := root.Get("top_p"); v.Exists() {
		gen["topP"] = v.Float()
	}

	var thinking map[string]interface{}
	for _, alias := range thinkingConfigAliases {
		if tc := root.Get(alias); tc.Exists() {
			thinking = normalizeThinkingConfig(tc)
			break
		}
	}
	if thinking == nil && root.Get("reasoning_effort").Exists() {
		thinking = map[string]interface{}{"includeThoughts": true}
	}
	if thinking == nil && flags.ForceThinking() {
		thinking = map[string]interface{}{"includeThoughts": true}
	}
	if thinking != nil {
		gen["thinkingConfig"] = thinking
	}

	return gen
}

func normalizeThinkingConfig(tc gjson.Result) map[string]interface{} {
	include := tc.Get("includeThoughts").Bool() || tc.Get("include_thoughts").Bool()
	out := map[string]interface{}{"includeThoughts": include}
	if level := tc.Get("thinkingLevel"); level.Exists() {
		out["thinkingLevel"] = strings.ToUpper(level.String())
	}
	return out
}

// decodeAny converts a gjson.Result into a plain Go interface{} via its raw
// JSON, which is the simplest way to hand it to encoding/json-based helpers.
func decodeAny(r gjson.Result) interface{} {
	var v interface{}
	_ = json.Unmarshal([]byte(r.Raw), &v)
	return v
}
