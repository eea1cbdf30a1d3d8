package converter

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestGeminiToOpenAINonStreamTextAndReasoning(t *testing.T) {
	resp := `{"candidates":[{"index":0,"finishReason":"STOP","content":{"role":"model","parts":[
		{"thought":true,"text":"thinking..."},
		{"text":"the answer is 4"}
	]}}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":5,"thoughtsTokenCount":2}}`

	out, err := GeminiToOpenAINonStream([]byte(resp), "gemini-2.5-pro", "chatcmpl-abc", 1000)
	if err != nil {
		t.Fatal(err)
	}
	root := gjson.ParseBytes(out)
	msg := root.Get("choices.0.message")
	if msg.Get("content").String() != "the answer is 4" {
		t.Fatalf("content = %q", msg.Get("content").String())
	}
	if msg.Get("reasoning_content").String() != "thinking..." {
		t.Fatalf("reasoning_content = %q", msg.Get("reasoning_content").String())
	}
	if root.Get("choices.0.finish_reason").String() != "stop" {
		t.Fatal("expected stop finish reason")
	}
	usage := root.Get("usage")
	if usage.Get("prompt_tokens").Int() != 10 {
		t.Fatal("expected prompt_tokens 10")
	}
	if usage.Get("completion_tokens").Int() != 7 {
		t.Fatalf("expected completion_tokens 5+2=7, got %d", usage.Get("completion_tokens").Int())
	}
}

func TestGeminiToOpenAINonStreamToolCalling(t *testing.T) {
	resp := `{"candidates":[{"index":0,"finishReason":"STOP","content":{"role":"model","parts":[
		{"functionCall":{"name":"get_weather","args":{"city":"Tokyo"}}}
	]}}]}`
	out, err := GeminiToOpenAINonStream([]byte(resp), "m", "chatcmpl-1", 1000)
	if err != nil {
		t.Fatal(err)
	}
	root := gjson.ParseBytes(out)
	if root.Get("choices.0.finish_reason").String() != "tool_calls" {
		t.Fatal("expected finish_reason overridden to tool_calls")
	}
	tc := root.Get("choices.0.message.tool_calls.0")
	if tc.Get("function.name").String() != "get_weather" {
		t.Fatal("expected function name get_weather")
	}
	if tc.Get("function.arguments").String() != `{"city":"Tokyo"}` {
		t.Fatalf("arguments = %q", tc.Get("function.arguments").String())
	}
	if tc.Get("index").Int() != 0 {
		t.Fatal("expected index 0")
	}
}

func TestGeminiToOpenAIBlockedCandidate(t *testing.T) {
	resp := `{"promptFeedback":{"blockReason":"SAFETY"}}`
	out, err := GeminiToOpenAINonStream([]byte(resp), "m", "chatcmpl-1", 1000)
	if err != nil {
		t.Fatal(err)
	}
	root := gjson.ParseBytes(out)
	content := root.Get("choices.0.message.content").String()
	if content == "" {
		t.Fatal("expected synthetic blocked message content")
	}
	if root.Get("choices.0.finish_reason").String() != "stop" {
		t.Fatal("expected finish_reason stop on blocked candidate")
	}
}

func TestGeminiToOpenAIInlineDataAsMarkdown(t *testing.T) {
	resp := `{"candidates":[{"index":0,"finishReason":"STOP","content":{"role":"model","parts":[
		{"inlineData":{"mimeType":"image/png","data":"aGVsbG8="}}
	]}}]}`
	out, err := GeminiToOpenAINonStream([]byte(resp), "m", "chatcmpl-1", 1000)
	if err != nil {
		t.Fatal(err)
	}
	content := gjson.GetBytes(out, "choices.0.message.content").String()
	if content != "![image](data:image/png;base64,aGVsbG8=)" {
		t.Fatalf("content = %q", content)
	}
}
