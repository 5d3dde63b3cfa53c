package gemini

import (
	"fmt"
	"strings"

	"github.com/phrazzld/lookbook/internal/generation"
	"google.golang.org/genai"
)

var blockingFinishReasons = map[genai.FinishReason]bool{
	genai.FinishReasonSafety:            true,
	genai.FinishReasonBlocklist:         true,
	genai.FinishReasonProhibitedContent: true,
	genai.FinishReasonSPII:              true,
}

// firstCandidate returns the first candidate's parts, translating prompt
// blocks and safety finish reasons into ErrContentBlocked
func firstCandidate(resp *genai.GenerateContentResponse) ([]*genai.Part, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified {
		return nil, fmt.Errorf("%w: prompt blocked: %s", generation.ErrContentBlocked, fb.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, fmt.Errorf("%w: no candidates", generation.ErrInvalidResponse)
	}
	c := resp.Candidates[0]
	if blockingFinishReasons[c.FinishReason] {
		return nil, fmt.Errorf("%w: finish reason %s", generation.ErrContentBlocked, c.FinishReason)
	}
	if c.Content == nil || len(c.Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty content", generation.ErrInvalidResponse)
	}
	return c.Content.Parts, nil
}

// joinText concatenates the non-thought text parts
func joinText(parts []*genai.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if p == nil || p.Thought {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// firstImage returns the first inline image part
func firstImage(parts []*genai.Part) ([]byte, bool) {
	for _, p := range parts {
		if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
			continue
		}
		if p.InlineData.MIMEType == "" || strings.HasPrefix(p.InlineData.MIMEType, "image/") {
			return p.InlineData.Data, true
		}
	}
	return nil, false
}

// stripFence removes a markdown code fence some models wrap JSON in
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
