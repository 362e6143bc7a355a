package llm

import (
	"fmt"
	"strings"
)

// StylePresets maps a preset key to the suffix appended to the prompt
var StylePresets = map[string]string{
	"none":                "",
	"photorealistic":      "Photorealistic, shot on a professional DSLR camera, natural lighting, sharp focus, high detail",
	"cinematic":           "Cinematic still, dramatic lighting, shallow depth of field, film grain, anamorphic lens",
	"anime":               "Anime style, cel-shaded, vibrant colors, clean linework",
	"watercolor":          "Watercolor painting, soft edges, visible brush strokes, pigment bleeding",
	"oil_painting":        "Oil painting, textured canvas, visible impasto brushwork, rich color depth",
	"line_art":            "Clean line art, black ink on white paper, precise linework, no shading",
	"flat_illustration":   "Flat vector illustration, bold colors, clean shapes, minimal shading",
	"isometric":           "Isometric 3D illustration, clean geometry, consistent lighting, technical precision",
	"pixel_art":           "Pixel art, retro gaming aesthetic, limited color palette, crisp pixels",
	"3d_render":           "3D render, physically-based rendering, studio lighting, smooth surfaces",
	"product_photography": "Professional product photography, white background, studio lighting, commercial quality",
}

// StylePreset is a selectable preset for the UI
type StylePreset struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Suffix string `json:"suffix"`
}

var styleOrder = []struct{ key, name string }{
	{"none", "None"},
	{"photorealistic", "Photorealistic"},
	{"cinematic", "Cinematic"},
	{"anime", "Anime / Manga"},
	{"watercolor", "Watercolor"},
	{"oil_painting", "Oil Painting"},
	{"line_art", "Line Art / Sketch"},
	{"flat_illustration", "Flat Illustration"},
	{"isometric", "Isometric"},
	{"pixel_art", "Pixel Art"},
	{"3d_render", "3D Render"},
	{"product_photography", "Product Photography"},
}

// ListStylePresets returns the presets in display order
func ListStylePresets() []StylePreset {
	presets := make([]StylePreset, 0, len(styleOrder))
	for _, s := range styleOrder {
		presets = append(presets, StylePreset{Key: s.key, Name: s.name, Suffix: StylePresets[s.key]})
	}
	return presets
}

type weightInstruction struct {
	conversational string
	imageOnly      string
}

var imageWeightInstructions = map[string]weightInstruction{
	"low": {
		conversational: "Use the reference image only as loose inspiration. Focus primarily on the text prompt. The reference is a general mood guide, not a strict template.",
		imageOnly:      "Loosely reference the provided image. Prioritize the text prompt over visual similarity to the reference.",
	},
	"medium_low": {
		conversational: "Take moderate inspiration from the reference image while following the text prompt closely. Borrow general composition and color mood from the reference.",
		imageOnly:      "Moderately reference the provided image. Follow the text prompt but incorporate the reference's general composition.",
	},
	"medium": {
		conversational: "Balance the reference image and the text prompt equally. Maintain the reference's overall composition and style while incorporating the prompted changes.",
		imageOnly:      "Balance the reference image and text prompt. Maintain similar composition and visual elements from the reference.",
	},
	"medium_high": {
		conversational: "Closely follow the reference image. Make only the changes described in the text prompt. Preserve most visual elements, colors, and composition from the reference.",
		imageOnly:      "Closely follow the reference image. Preserve most visual elements and composition. Apply only the changes described in the prompt.",
	},
	"high": {
		conversational: "Reproduce the reference image as closely as possible, applying only minimal changes as described in the text prompt. Preserve details, colors, lighting, composition, and style from the reference.",
		imageOnly:      "Reproduce the reference image as closely as possible with only the prompted modifications. Maintain all visual details from the reference.",
	},
}

const (
	subjectConsistencyInstruction = "Use the provided reference image(s) to maintain consistent appearance " +
		"for the subject. Preserve facial features, body proportions, clothing " +
		"details, and distinguishing characteristics"
	styleReferenceInstruction = "Adopt the visual style, color palette, lighting, and artistic technique " +
		"of the provided style reference image. Do not replicate the subject matter " +
		"of the reference"
)

// PromptRequest contains the user prompt and its modifiers
type PromptRequest struct {
	UserPrompt       string
	StylePreset      string
	NegativePrompt   string
	Conversational   bool
	HasCharacterRefs bool
	HasStyleRef      bool
	ImageWeight      *int
}

// WeightBracket maps a 0-100 slider value to its bracket name
func WeightBracket(weight int) string {
	switch {
	case weight <= 25:
		return "low"
	case weight <= 40:
		return "medium_low"
	case weight <= 60:
		return "medium"
	case weight <= 75:
		return "medium_high"
	default:
		return "high"
	}
}

// BuildPrompt assembles the final prompt. The user prompt is kept as typed;
// the modifiers are placed around it in a fixed order.
func BuildPrompt(req PromptRequest) string {
	var parts []string

	if req.HasCharacterRefs {
		parts = append(parts, subjectConsistencyInstruction)
	}
	if req.HasStyleRef {
		parts = append(parts, styleReferenceInstruction)
	}

	parts = append(parts, strings.TrimSpace(req.UserPrompt))

	if req.StylePreset != "" && req.StylePreset != "none" {
		if suffix := StylePresets[req.StylePreset]; suffix != "" {
			parts = append(parts, suffix)
		}
	}

	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		if req.Conversational {
			parts = append(parts, fmt.Sprintf("Do NOT include the following in the generated image: %s", neg))
		} else {
			parts = append(parts, fmt.Sprintf("Avoid: %s", neg))
		}
	}

	if req.ImageWeight != nil && (req.HasCharacterRefs || req.HasStyleRef) {
		instr := imageWeightInstructions[WeightBracket(*req.ImageWeight)]
		if req.Conversational {
			parts = append(parts, instr.conversational)
		} else {
			parts = append(parts, instr.imageOnly)
		}
	}

	return strings.Join(parts, ". ")
}
