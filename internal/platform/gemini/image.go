package gemini

import (
	"context"
	"fmt"

	"github.com/phrazzld/lookbook/internal/generation"
	"google.golang.org/genai"
)

// Generate implements generation.ImageGenerator. The executor owns retries,
// so a single API call is made per invocation.
func (c *Client) Generate(ctx context.Context, prompt string, refs []generation.Reference, formatHint string) ([]byte, error) {
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt cannot be empty", generation.ErrInvalidConfig)
	}

	text := prompt
	if formatHint != "" {
		text += "\n\nOutput aspect ratio: " + formatHint
	}
	parts := []*genai.Part{genai.NewPartFromText(text)}
	for _, ref := range refs {
		parts = append(parts, genai.NewPartFromBytes(ref.Data, ref.MIMEType))
	}

	resp, err := c.models.GenerateContent(ctx, c.config.ImageModel,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}})
	if err != nil {
		return nil, classifyError("image generation", err)
	}

	out, err := firstCandidate(resp)
	if err != nil {
		return nil, err
	}
	data, ok := firstImage(out)
	if !ok {
		c.logger.WarnContext(ctx, "image response carried no image part",
			"text_length", len(joinText(out)))
		return nil, generation.ErrNoArtifact
	}

	c.logger.DebugContext(ctx, "image generated",
		"references", len(refs),
		"bytes", len(data))
	return data, nil
}
