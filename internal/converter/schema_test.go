package converter

import "testing"

func TestRewriteToolSchemaStripsAndUppercases(t *testing.T) {
	schema := map[string]interface{}{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"city": map[string]interface{}{"type": "string"},
		},
	}

	out := rewriteToolSchema(schema).(map[string]interface{})
	if _, ok := out["$schema"]; ok {
		t.Fatal("expected $schema stripped")
	}
	if _, ok := out["additionalProperties"]; ok {
		t.Fatal("expected additionalProperties stripped")
	}
	if out["type"] != "OBJECT" {
		t.Fatalf("expected uppercased type OBJECT, got %v", out["type"])
	}
	props := out["properties"].(map[string]interface{})
	city := props["city"].(map[string]interface{})
	if city["type"] != "STRING" {
		t.Fatalf("expected nested type STRING, got %v", city["type"])
	}
}

func TestRewriteToolSchemaNullableUnion(t *testing.T) {
	schema := map[string]interface{}{"type": []interface{}{"string", "null"}}
	out := rewriteToolSchema(schema).(map[string]interface{})
	if out["type"] != "STRING" {
		t.Fatalf("expected STRING, got %v", out["type"])
	}
	if out["nullable"] != true {
		t.Fatal("expected nullable:true")
	}
}

func TestRewriteToolSchemaEmptyAfterNullFilterDefaultsToString(t *testing.T) {
	schema := map[string]interface{}{"type": []interface{}{"null"}}
	out := rewriteToolSchema(schema).(map[string]interface{})
	if out["type"] != "STRING" {
		t.Fatalf("expected default STRING, got %v", out["type"])
	}
	if out["nullable"] != true {
		t.Fatal("expected nullable:true")
	}
}

func TestMapToolChoice(t *testing.T) {
	cases := []struct {
		in       interface{}
		wantMode string
	}{
		{"auto", "AUTO"},
		{"none", "NONE"},
		{"required", "ANY"},
	}
	for _, c := range cases {
		mode, allowed := mapToolChoice(c.in)
		if mode != c.wantMode {
			t.Errorf("mapToolChoice(%v) mode = %s, want %s", c.in, mode, c.wantMode)
		}
		if allowed != nil {
			t.Errorf("mapToolChoice(%v) allowed = %v, want nil", c.in, allowed)
		}
	}

	mode, allowed := mapToolChoice(map[string]interface{}{
		"function": map[string]interface{}{"name": "get_weather"},
	})
	if mode != "ANY" || len(allowed) != 1 || allowed[0] != "get_weather" {
		t.Fatalf("object tool_choice mapped to mode=%s allowed=%v", mode, allowed)
	}
}

func TestMapFinishReasonToOpenAI(t *testing.T) {
	cases := map[string]string{
		"STOP":       "stop",
		"MAX_TOKENS": "length",
		"SAFETY":     "content_filter",
		"RECITATION": "stop",
		"OTHER":      "stop",
		"":           "stop",
		"UNKNOWN":    "stop",
	}
	for in, want := range cases {
		if got := mapFinishReasonToOpenAI(in); got != want {
			t.Errorf("mapFinishReasonToOpenAI(%q) = %q, want %q", in, got, want)
		}
	}
}
