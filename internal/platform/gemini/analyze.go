package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phrazzld/lookbook/internal/generation"
	"github.com/sethvargo/go-retry"
	"google.golang.org/genai"
)

const (
	analysisAttempts = 3
	analysisBackoff  = 2 * time.Second
)

const analysisPrompt = `You are a fashion catalogue analyst. Study the reference photos of a single garment and describe it.

Return JSON only, matching the response schema. Use lowercase values.
- garment_type: the kind of garment, e.g. "kurta", "dress", "shirt"
- gender: "male", "female" or "unisex"
- colors, materials, details: short phrases
- pattern, fit, style: a single short phrase each
- description: two or three sentences suitable for a product listing`

var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"garment_type": {Type: genai.TypeString},
		"gender":       {Type: genai.TypeString, Enum: []string{"male", "female", "unisex"}},
		"colors":       {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"materials":    {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"pattern":      {Type: genai.TypeString},
		"fit":          {Type: genai.TypeString},
		"style":        {Type: genai.TypeString},
		"details":      {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"description":  {Type: genai.TypeString},
	},
	Required: []string{"garment_type", "colors", "description"},
}

// Analyze implements generation.Analyzer. Transient API failures are retried
// with exponential backoff; blocked or malformed responses are returned at once.
func (c *Client) Analyze(ctx context.Context, in generation.AnalysisInput) (generation.Analysis, error) {
	if len(in.References) == 0 {
		return generation.Analysis{}, fmt.Errorf("%w: no reference artifacts", generation.ErrInvalidConfig)
	}

	parts := []*genai.Part{genai.NewPartFromText(analysisText(in))}
	for _, ref := range in.References {
		parts = append(parts,
			genai.NewPartFromText("Reference view: "+ref.Name),
			genai.NewPartFromBytes(ref.Data, ref.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   analysisSchema,
	}

	b := retry.WithMaxRetries(analysisAttempts-1, retry.NewExponential(analysisBackoff))
	attempt := 0
	analysis, err := retry.DoValue(ctx, b, func(ctx context.Context) (generation.Analysis, error) {
		attempt++
		c.logger.InfoContext(ctx, "requesting garment analysis",
			"attempt", attempt,
			"references", len(in.References))

		resp, err := c.models.GenerateContent(ctx, c.config.AnalysisModel, contents, cfg)
		if err != nil {
			err = classifyError("analysis", err)
			if errors.Is(err, generation.ErrTransientFailure) {
				c.logger.WarnContext(ctx, "analysis call failed, retrying",
					"attempt", attempt,
					"error", err)
				return generation.Analysis{}, retry.RetryableError(err)
			}
			return generation.Analysis{}, err
		}
		return parseAnalysis(resp)
	})
	if err != nil {
		return generation.Analysis{}, err
	}

	if analysis.Gender == "" {
		analysis.Gender = in.Gender
	}
	c.logger.InfoContext(ctx, "garment analysis complete",
		"garment_type", analysis.GarmentType,
		"attempts", attempt)
	return analysis, nil
}

func analysisText(in generation.AnalysisInput) string {
	var b strings.Builder
	b.WriteString(analysisPrompt)
	if in.Gender != "" {
		b.WriteString("\n\nThe garment is intended for: ")
		b.WriteString(in.Gender)
	}
	if in.FreeText != "" {
		b.WriteString("\n\nSeller description: ")
		b.WriteString(in.FreeText)
	}
	return b.String()
}

func parseAnalysis(resp *genai.GenerateContentResponse) (generation.Analysis, error) {
	parts, err := firstCandidate(resp)
	if err != nil {
		return generation.Analysis{}, err
	}

	var a generation.Analysis
	if err := json.Unmarshal([]byte(stripFence(joinText(parts))), &a); err != nil {
		return generation.Analysis{}, fmt.Errorf("%w: failed to parse analysis JSON: %v", generation.ErrInvalidResponse, err)
	}
	if a.GarmentType == "" {
		return generation.Analysis{}, fmt.Errorf("%w: analysis is missing garment_type", generation.ErrInvalidResponse)
	}
	return a, nil
}
