package plugins

import (
	"strings"
	"testing"
)

func TestRenderHelpTextStripsMarkup(t *testing.T) {
	text, err := renderHelpText()
	if err != nil {
		t.Fatalf("renderHelpText: %v", err)
	}
	if text == "" {
		t.Fatal("renderHelpText returned empty string")
	}
	for _, bad := range []string{"<h1>", "</h1>", "<li>", "**"} {
		if strings.Contains(text, bad) {
			t.Errorf("rendered help text still contains markup %q:\n%s", bad, text)
		}
	}
	if !strings.Contains(text, "/echo") {
		t.Errorf("rendered help text missing /echo command:\n%s", text)
	}
}
