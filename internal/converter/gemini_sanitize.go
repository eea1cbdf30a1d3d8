package converter

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// SanitizeGeminiNative runs both native-Gemini inbound sanitizers over a
// request body submitted directly against a Gemini-shaped endpoint (as
// opposed to one translated from an OpenAI request): tool schema cleanup and
// thoughtSignature backfill. Both sanitizers mutate the raw JSON in place via
// sjson rather than decoding to a map and re-encoding, matching the
// gjson/sjson style the rest of this package reads and writes JSON with.
func SanitizeGeminiNative(rawJSON []byte) ([]byte, error) {
	out, err := sanitizeGeminiTools(rawJSON)
	if err != nil {
		return nil, fmt.Errorf("sanitize_gemini_native: tools: %w", err)
	}
	out, err = sanitizeThoughtSignatures(out)
	if err != nil {
		return nil, fmt.Errorf("sanitize_gemini_native: thought_signatures: %w", err)
	}
	return out, nil
}

// sanitizeGeminiTools strips the same schema cruft rewriteToolSchema removes
// from OpenAI-sourced tool schemas, since some native Gemini clients still
// carry JSON-Schema-dialect fields ($schema, additionalProperties) copied
// verbatim from an OpenAI tool definition.
func sanitizeGeminiTools(rawJSON []byte) ([]byte, error) {
	tools := gjson.GetBytes(rawJSON, "tools")
	if !tools.IsArray() {
		return rawJSON, nil
	}

	out := rawJSON
	var rewriteErr error
	tools.ForEach(func(tk, tool gjson.Result) bool {
		decls := tool.Get("functionDeclarations")
		if !decls.IsArray() {
			return true
		}
		decls.ForEach(func(dk, decl gjson.Result) bool {
			for _, field := range []string{"parameters", "parametersJsonSchema"} {
				schema := decl.Get(field)
				if !schema.Exists() {
					continue
				}
				rewritten := rewriteToolSchema(decodeAny(schema))
				encoded, err := json.Marshal(rewritten)
				if err != nil {
					rewriteErr = fmt.Errorf("encoding rewritten %s: %w", field, err)
					return false
				}
				path := fmt.Sprintf("tools.%d.functionDeclarations.%d.%s", tk.Int(), dk.Int(), field)
				out, err = sjson.SetRawBytes(out, path, encoded)
				if err != nil {
					rewriteErr = fmt.Errorf("setting %s: %w", path, err)
					return false
				}
			}
			return true
		})
		return rewriteErr == nil
	})
	if rewriteErr != nil {
		return nil, rewriteErr
	}
	return out, nil
}

// sanitizeThoughtSignatures ensures every functionCall part carries a
// thoughtSignature, injecting the same placeholder used by openai_to_gemini
// so models that validate its presence don't reject a native request whose
// client omitted it.
func sanitizeThoughtSignatures(rawJSON []byte) ([]byte, error) {
	contents := gjson.GetBytes(rawJSON, "contents")
	if !contents.IsArray() {
		return rawJSON, nil
	}

	out := rawJSON
	var setErr error
	contents.ForEach(func(ck, entry gjson.Result) bool {
		parts := entry.Get("parts")
		if !parts.IsArray() {
			return true
		}
		parts.ForEach(func(pk, part gjson.Result) bool {
			if !part.Get("functionCall").Exists() {
				return true
			}
			if part.Get("thoughtSignature").Exists() {
				return true
			}
			path := fmt.Sprintf("contents.%d.parts.%d.thoughtSignature", ck.Int(), pk.Int())
			var err error
			out, err = sjson.SetBytes(out, path, "placeholder-thought-signature")
			if err != nil {
				setErr = fmt.Errorf("setting %s: %w", path, err)
				return false
			}
			return true
		})
		return setErr == nil
	})
	if setErr != nil {
		return nil, setErr
	}
	return out, nil
}
