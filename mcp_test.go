package dcquery

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"a", []string{"a"}},
		{"a,b,c", []string{"a", "b", "c"}},
		{"a, b ,  c", []string{"a", "b", "c"}},
		{"a,,b", []string{"a", "b"}},
	}
	for _, c := range cases {
		got := splitCSV(c.in)
		if len(got) != len(c.want) {
			t.Errorf("splitCSV(%q) = %v, want %v", c.in, got, c.want)
			continue
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("splitCSV(%q)[%d] = %q, want %q", c.in, i, got[i], c.want[i])
			}
		}
	}
}

func TestResultLength_NilResult(t *testing.T) {
	if n := resultLength(nil); n != 0 {
		t.Errorf("expected 0 for nil result, got %d", n)
	}
}

func TestResultLength_TextContent(t *testing.T) {
	result := mcp.NewToolResultText("hello")
	if n := resultLength(result); n != len("hello") {
		t.Errorf("expected %d, got %d", len("hello"), n)
	}
}

func TestJSONToolResult_MarshalsValue(t *testing.T) {
	result, err := jsonToolResult(map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("jsonToolResult: %v", err)
	}
	if result == nil || len(result.Content) == 0 {
		t.Fatal("expected non-empty tool result content")
	}
}
