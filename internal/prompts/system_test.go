package prompts

import (
	"strings"
	"testing"
)

func TestSystemInjectsDocs(t *testing.T) {
	docs := `{"functions":[{"module":"internal","function":"add_tool"}]}`
	got := System(docs)

	if strings.Contains(got, internalDocsPlaceholder) {
		t.Error("placeholder left in rendered prompt")
	}
	if !strings.Contains(got, `"function":"add_tool"`) {
		t.Error("docs not injected")
	}
	if !strings.Contains(got, "<assistant>") || !strings.Contains(got, "<end>") {
		t.Error("output format section missing")
	}
}
