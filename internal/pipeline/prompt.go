package pipeline

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/phrazzld/lookbook/internal/generation"
)

// PromptInput is everything a prompt may depend on
type PromptInput struct {
	Analysis    generation.Analysis
	View        string
	Scene       string
	AspectRatio string
	Gender      string
	Description string
}

// PromptBuilder renders the text prompt of one generation job
type PromptBuilder interface {
	Build(in PromptInput) (string, error)
}

// PromptBuilderFunc adapts a function to the PromptBuilder interface
type PromptBuilderFunc func(in PromptInput) (string, error)

// Build calls f
func (f PromptBuilderFunc) Build(in PromptInput) (string, error) {
	return f(in)
}

var aspectDescriptions = map[string]string{
	"1:1":  "square format",
	"16:9": "wide landscape format",
	"4:3":  "standard landscape format",
	"3:4":  "standard portrait format",
	"9:16": "tall portrait format",
}

const defaultPromptTemplate = `Create a photorealistic fashion catalogue image of a professional {{.Model}} model wearing the exact garment shown in the reference images.

Scene: {{.Scene}}.
Format: {{.Format}} ({{.AspectRatio}}).

Garment:
{{- with .Analysis.GarmentType}}
- Type: {{.}}{{end}}
{{- with .Analysis.Colors}}
- Colors: {{join . ", "}}{{end}}
{{- with .Analysis.Materials}}
- Materials: {{join . ", "}}{{end}}
{{- with .Analysis.Pattern}}
- Pattern: {{.}}{{end}}
{{- with .Analysis.Fit}}
- Fit: {{.}}{{end}}
{{- with .Analysis.Style}}
- Style: {{.}}{{end}}
{{- with .Analysis.Details}}
- Details: {{join . ", "}}{{end}}
{{- with .Description}}

Notes from the seller: {{.}}{{end}}

Reproduce the garment faithfully: same color, pattern, texture and construction as the references. Do not add logos, text or watermarks.`

// TemplatePromptBuilder renders prompts from a text/template
type TemplatePromptBuilder struct {
	tmpl *template.Template
}

// NewTemplatePromptBuilder parses text, or the built-in catalogue template
// when text is empty
func NewTemplatePromptBuilder(text string) (*TemplatePromptBuilder, error) {
	if text == "" {
		text = defaultPromptTemplate
	}
	tmpl, err := template.New("prompt").
		Funcs(template.FuncMap{"join": strings.Join}).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	return &TemplatePromptBuilder{tmpl: tmpl}, nil
}

// Build implements PromptBuilder
func (b *TemplatePromptBuilder) Build(in PromptInput) (string, error) {
	format, ok := aspectDescriptions[in.AspectRatio]
	if !ok {
		format = aspectDescriptions[DefaultAspectRatio]
	}
	data := struct {
		PromptInput
		Model  string
		Format string
	}{
		PromptInput: in,
		Model:       modelType(in.Gender, in.Analysis.Gender),
		Format:      format,
	}

	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// modelType prefers the request hint over the analyzed gender
func modelType(hint, analyzed string) string {
	for _, g := range []string{hint, analyzed} {
		switch strings.ToLower(strings.TrimSpace(g)) {
		case "male", "men", "man":
			return "male"
		case "female", "women", "woman":
			return "female"
		}
	}
	return "fashion"
}
