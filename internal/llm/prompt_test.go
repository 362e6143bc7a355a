package llm_test

import (
	"strings"
	"testing"

	"github.com/Rrens/imagegen-studio/internal/llm"
)

func intPtr(v int) *int { return &v }

func TestBuildPrompt(t *testing.T) {
	prompt := llm.BuildPrompt(llm.PromptRequest{
		UserPrompt: "  a red fox in snow  ",
	})

	if prompt != "a red fox in snow" {
		t.Errorf("plain prompt should be trimmed and unchanged, got %q", prompt)
	}
}

func TestBuildPrompt_Order(t *testing.T) {
	req := llm.PromptRequest{
		UserPrompt:       "a red fox",
		StylePreset:      "watercolor",
		NegativePrompt:   "text, watermark",
		Conversational:   true,
		HasCharacterRefs: true,
		HasStyleRef:      true,
		ImageWeight:      intPtr(80),
	}

	prompt := llm.BuildPrompt(req)

	// Check components appear in assembly order
	ordered := []string{
		"maintain consistent appearance",
		"Adopt the visual style",
		"a red fox",
		"Watercolor painting",
		"Do NOT include the following in the generated image: text, watermark",
		"Reproduce the reference image as closely as possible, applying only minimal changes",
	}

	last := -1
	for _, s := range ordered {
		idx := strings.Index(prompt, s)
		if idx == -1 {
			t.Fatalf("prompt should contain %q, got %q", s, prompt)
		}
		if idx < last {
			t.Errorf("%q appears out of order", s)
		}
		last = idx
	}
}

func TestBuildPrompt_ImageOnlyModel(t *testing.T) {
	prompt := llm.BuildPrompt(llm.PromptRequest{
		UserPrompt:     "a castle",
		NegativePrompt: "people",
		HasStyleRef:    true,
		ImageWeight:    intPtr(30),
	})

	if !contains(prompt, "Avoid: people") {
		t.Errorf("image-only negative prompt should use Avoid form, got %q", prompt)
	}
	if !contains(prompt, "Moderately reference the provided image") {
		t.Errorf("weight 30 should map to medium_low image-only text, got %q", prompt)
	}
}

func TestBuildPrompt_WeightIgnoredWithoutReferences(t *testing.T) {
	prompt := llm.BuildPrompt(llm.PromptRequest{
		UserPrompt:  "a castle",
		StylePreset: "none",
		ImageWeight: intPtr(100),
	})

	if prompt != "a castle" {
		t.Errorf("weight without refs and preset none should not change prompt, got %q", prompt)
	}
}

func TestWeightBracket(t *testing.T) {
	tests := []struct {
		weight int
		want   string
	}{
		{0, "low"},
		{25, "low"},
		{26, "medium_low"},
		{40, "medium_low"},
		{60, "medium"},
		{75, "medium_high"},
		{76, "high"},
		{100, "high"},
	}

	for _, tt := range tests {
		if got := llm.WeightBracket(tt.weight); got != tt.want {
			t.Errorf("WeightBracket(%d) = %q, want %q", tt.weight, got, tt.want)
		}
	}
}

func TestListStylePresets(t *testing.T) {
	presets := llm.ListStylePresets()
	if len(presets) != len(llm.StylePresets) {
		t.Fatalf("expected %d presets, got %d", len(llm.StylePresets), len(presets))
	}
	if presets[0].Key != "none" {
		t.Errorf("first preset should be none, got %q", presets[0].Key)
	}
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}
