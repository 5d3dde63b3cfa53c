package generation

import (
	"context"
)

// Reference is a named input artifact supplied with a request, such as the
// front view photo of a garment.
type Reference struct {
	// Name is the view the artifact depicts, e.g. "frontside" or "detailview"
	Name string `json:"name"`

	// MIMEType is the detected content type, e.g. "image/jpeg"
	MIMEType string `json:"mime_type"`

	// Data holds the raw artifact bytes
	Data []byte `json:"-"`
}

// Analysis is the structured description of a garment produced by the
// analysis stage and consumed by prompt building, video synthesis and
// reporting.
type Analysis struct {
	GarmentType string            `json:"garment_type"`
	Gender      string            `json:"gender"`
	Colors      []string          `json:"colors"`
	Materials   []string          `json:"materials"`
	Pattern     string            `json:"pattern"`
	Fit         string            `json:"fit"`
	Style       string            `json:"style"`
	Details     []string          `json:"details"`
	Description string            `json:"description"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// AnalysisInput bundles what the analysis stage looks at
type AnalysisInput struct {
	References []Reference
	// FreeText is the optional user description of the garment
	FreeText string
	// Gender is an optional hint, "male", "female" or "unisex"
	Gender string
}

// Analyzer extracts structured garment parameters from reference artifacts.
// Any error is fatal to the request.
type Analyzer interface {
	Analyze(ctx context.Context, in AnalysisInput) (Analysis, error)
}

// ImageGenerator renders one image for a prompt, conditioned on references.
// formatHint carries the target aspect ratio such as "9:16".
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string, refs []Reference, formatHint string) ([]byte, error)
}

// VideoSynthesizer turns the primary artifact into a short video clip
type VideoSynthesizer interface {
	SynthesizeVideo(ctx context.Context, primary []byte, analysis Analysis) ([]byte, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface
type AnalyzerFunc func(ctx context.Context, in AnalysisInput) (Analysis, error)

// Analyze calls f
func (f AnalyzerFunc) Analyze(ctx context.Context, in AnalysisInput) (Analysis, error) {
	return f(ctx, in)
}

// ImageGeneratorFunc adapts a function to the ImageGenerator interface
type ImageGeneratorFunc func(ctx context.Context, prompt string, refs []Reference, formatHint string) ([]byte, error)

// Generate calls f
func (f ImageGeneratorFunc) Generate(ctx context.Context, prompt string, refs []Reference, formatHint string) ([]byte, error) {
	return f(ctx, prompt, refs, formatHint)
}

// VideoSynthesizerFunc adapts a function to the VideoSynthesizer interface
type VideoSynthesizerFunc func(ctx context.Context, primary []byte, analysis Analysis) ([]byte, error)

// SynthesizeVideo calls f
func (f VideoSynthesizerFunc) SynthesizeVideo(ctx context.Context, primary []byte, analysis Analysis) ([]byte, error) {
	return f(ctx, primary, analysis)
}
