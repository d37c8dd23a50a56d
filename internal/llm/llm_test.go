package llm

import (
	"strings"
	"testing"
)

func TestBuildSystemPromptIncludesFieldsAndSchema(t *testing.T) {
	prompt := BuildSystemPrompt([]string{"title", "price"}, map[string]interface{}{"type": "object"}, "ignore ads")
	if !strings.Contains(prompt, `["title","price"]`) {
		t.Errorf("prompt missing fields: %q", prompt)
	}
	if !strings.Contains(prompt, `"type":"object"`) {
		t.Errorf("prompt missing schema: %q", prompt)
	}
	if !strings.Contains(prompt, "ignore ads") {
		t.Errorf("prompt missing instructions: %q", prompt)
	}
}

func TestBuildUserMessageWrapsContentInMarkers(t *testing.T) {
	msg := BuildUserMessage("page content", []string{"title"}, nil)
	if !strings.Contains(msg, contentMarkerStart) || !strings.Contains(msg, contentMarkerEnd) {
		t.Errorf("message missing content markers: %q", msg)
	}
	if !strings.Contains(msg, "page content") {
		t.Errorf("message missing content: %q", msg)
	}
}

func TestParseJSONDirect(t *testing.T) {
	data, err := ParseJSON(`{"title": "Example"}`)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if data["title"] != "Example" {
		t.Errorf("data = %+v", data)
	}
}

func TestParseJSONStripsCodeFence(t *testing.T) {
	data, err := ParseJSON("```json\n{\"title\": \"Example\"}\n```")
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if data["title"] != "Example" {
		t.Errorf("data = %+v", data)
	}
}

func TestParseJSONFallsBackToSubstring(t *testing.T) {
	data, err := ParseJSON(`Sure, here is the result: {"title": "Example"} Hope that helps!`)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if data["title"] != "Example" {
		t.Errorf("data = %+v", data)
	}
}

func TestParseJSONReturnsEmptyOnFailure(t *testing.T) {
	data, err := ParseJSON("not json at all")
	if err == nil {
		t.Fatal("expected error for unparseable reply")
	}
	if len(data) != 0 {
		t.Errorf("data = %+v, want empty map", data)
	}
}

func TestRotationTriesPrimaryFirst(t *testing.T) {
	in := ExtractInput{
		Model:          "m1",
		APIKey:         "k1",
		FallbackModels: []string{"m2", "m3"},
		FallbackKeys:   []string{"k2"},
	}
	attempts := rotation(in)
	if len(attempts) != 4 {
		t.Fatalf("len(attempts) = %d, want 4", len(attempts))
	}
	if attempts[0] != (modelKeyAttempt{model: "m1", apiKey: "k1"}) {
		t.Errorf("attempts[0] = %+v, want primary pair first", attempts[0])
	}
	if attempts[1].model != "m2" || attempts[2].model != "m3" {
		t.Errorf("fallback models out of order: %+v", attempts)
	}
	if attempts[3].apiKey != "k2" || attempts[3].model != "m1" {
		t.Errorf("fallback key attempt wrong: %+v", attempts[3])
	}
}

func TestRotationSingleAttemptWithNoFallbacks(t *testing.T) {
	attempts := rotation(ExtractInput{Model: "m1", APIKey: "k1"})
	if len(attempts) != 1 {
		t.Fatalf("len(attempts) = %d, want 1", len(attempts))
	}
}
