package converter

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestSanitizeGeminiNativeBackfillsThoughtSignature(t *testing.T) {
	req := `{"contents":[
		{"role":"user","parts":[{"text":"hi"}]},
		{"role":"model","parts":[{"functionCall":{"name":"get_weather","args":{}}}]}
	]}`
	out, err := SanitizeGeminiNative([]byte(req))
	if err != nil {
		t.Fatal(err)
	}
	sig := gjson.GetBytes(out, "contents.1.parts.0.thoughtSignature").String()
	if sig == "" {
		t.Fatal("expected thoughtSignature backfilled")
	}
}

func TestSanitizeGeminiNativePreservesExistingThoughtSignature(t *testing.T) {
	req := `{"contents":[
		{"role":"model","parts":[{"functionCall":{"name":"f","args":{}},"thoughtSignature":"real-sig"}]}
	]}`
	out, err := SanitizeGeminiNative([]byte(req))
	if err != nil {
		t.Fatal(err)
	}
	if gjson.GetBytes(out, "contents.0.parts.0.thoughtSignature").String() != "real-sig" {
		t.Fatal("expected existing thoughtSignature preserved")
	}
}

func TestSanitizeGeminiNativeToolsSchemaCleanup(t *testing.T) {
	req := `{"tools":[{"functionDeclarations":[{"name":"f","parameters":{
		"$schema":"http://json-schema.org/draft-07/schema#",
		"type":"object",
		"additionalProperties":false,
		"properties":{"x":{"type":"string"}}
	}}]}],"contents":[]}`
	out, err := SanitizeGeminiNative([]byte(req))
	if err != nil {
		t.Fatal(err)
	}
	params := gjson.GetBytes(out, "tools.0.functionDeclarations.0.parameters")
	if params.Get("$schema").Exists() {
		t.Fatal("expected $schema stripped")
	}
	if params.Get("type").String() != "OBJECT" {
		t.Fatalf("expected OBJECT, got %s", params.Get("type").String())
	}
}
