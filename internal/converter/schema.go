// Package converter implements the Format Converter: symmetric translation
// between OpenAI Chat Completions wire shapes and Gemini generateContent
// wire shapes, for both requests and responses, streaming and non-streaming.
package converter

import "strings"

// rewriteToolSchema recursively rewrites an OpenAI/JSON-Schema tool parameter
// schema into Gemini's schema dialect: $schema and additionalProperties are
// stripped, type values are uppercased, and a ["T","null"] union collapses to
// type:"T" with nullable:true. A schema left with no type after null-filtering
// defaults to STRING.
func rewriteToolSchema(schema interface{}) interface{} {
	switch v := schema.(type) {
	case map[string]interface{}:
		return rewriteSchemaObject(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, e := range v {
			out[i] = rewriteToolSchema(e)
		}
		return out
	default:
		return schema
	}
}

func rewriteSchemaObject(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if k == "$schema" || k == "additionalProperties" {
			continue
		}
		out[k] = v
	}

	if rawType, ok := out["type"]; ok {
		out["type"] = normalizeSchemaType(rawType, out)
	}

	for _, key := range []string{"properties", "items", "anyOf", "oneOf", "allOf"} {
		if nested, ok := out[key]; ok {
			out[key] = rewriteToolSchema(nested)
		}
	}

	return out
}

// normalizeSchemaType handles both the plain string case and the
// ["T","null"] union case, mutating m["nullable"] when a null branch is
// found. It returns the new value for m["type"].
func normalizeSchemaType(rawType interface{}, m map[string]interface{}) interface{} {
	switch t := rawType.(type) {
	case string:
		return strings.ToUpper(t)
	case []interface{}:
		var kept []string
		nullable := false
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				continue
			}
			if strings.EqualFold(s, "null") {
				nullable = true
				continue
			}
			kept = append(kept, strings.ToUpper(s))
		}
		if nullable {
			m["nullable"] = true
		}
		if len(kept) == 0 {
			return "STRING"
		}
		return kept[0]
	default:
		return rawType
	}
}

// mapToolChoice maps an OpenAI tool_choice value to Gemini's toolConfig
// functionCallingConfig shape: (mode, allowedFunctionNames).
func mapToolChoice(choice interface{}) (mode string, allowed []string) {
	switch v := choice.(type) {
	case string:
		switch v {
		case "none":
			return "NONE", nil
		case "required":
			return "ANY", nil
		default:
			return "AUTO", nil
		}
	case map[string]interface{}:
		if fn, ok := v["function"].(map[string]interface{}); ok {
			if name, ok := fn["name"].(string); ok && name != "" {
				return "ANY", []string{name}
			}
		}
		return "ANY", nil
	default:
		return "AUTO", nil
	}
}

// mapFinishReasonToOpenAI applies the Gemini->OpenAI finish reason map.
func mapFinishReasonToOpenAI(geminiReason string) string {
	switch geminiReason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY":
		return "content_filter"
	case "RECITATION":
		return "stop"
	case "OTHER":
		return "stop"
	case "":
		return "stop"
	default:
		return "stop"
	}
}
