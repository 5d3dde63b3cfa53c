package pipeline

import (
	"fmt"

	"github.com/phrazzld/lookbook/internal/generation"
)

// Background categories
const (
	BackgroundWhite  = "white"
	BackgroundPlain  = "plain"
	BackgroundRandom = "random"
)

// Occasions are the scenes used for random backgrounds, in the order they
// are assigned. Random counts beyond len(Occasions) are capped.
var Occasions = []string{
	"modern urban cafe with natural lighting",
	"peaceful garden setting with soft sunlight",
	"contemporary living room with large windows",
	"elegant evening party venue with warm lighting",
	"upscale rooftop lounge at sunset",
	"luxurious indoor party setting with ambient lighting",
	"grand wedding venue with decorative elements",
	"outdoor garden wedding setup",
	"elegant ballroom with chandeliers",
	"scenic beach during golden hour",
	"tropical resort poolside",
	"beachfront terrace with ocean view",
	"sophisticated hotel lobby",
	"upscale restaurant interior",
	"classic architectural backdrop",
}

// JobID builds the composite key of a generation job, e.g. "frontside_white_1"
func JobID(view, background string, n int) string {
	return fmt.Sprintf("%s_%s_%d", view, background, n)
}

// BuildJobs expands the request's background configuration into generation
// jobs. Views are visited in PrimaryViews order; a view with counts but no
// reference is skipped. Each job sees its own view plus the detail view
// when one was supplied.
func BuildJobs(req *Request, analysis generation.Analysis, prompts PromptBuilder) ([]generation.Job, error) {
	var jobs []generation.Job
	detail, hasDetail := req.References[ViewDetail]

	for _, view := range PrimaryViews {
		ref, ok := req.References[view]
		if !ok {
			continue
		}
		counts := req.Backgrounds[view]
		if counts.Total() == 0 {
			continue
		}

		if ref.Name == "" {
			ref.Name = view
		}
		refs := []generation.Reference{ref}
		if hasDetail {
			if detail.Name == "" {
				detail.Name = ViewDetail
			}
			refs = append(refs, detail)
		}

		add := func(background string, n int, scene string) error {
			prompt, err := prompts.Build(PromptInput{
				Analysis:    analysis,
				View:        view,
				Scene:       scene,
				AspectRatio: req.AspectRatio,
				Gender:      req.Gender,
				Description: req.Description,
			})
			if err != nil {
				return fmt.Errorf("failed to build prompt for %s: %w", JobID(view, background, n), err)
			}
			jobs = append(jobs, generation.Job{
				ID:         JobID(view, background, n),
				Prompt:     prompt,
				References: refs,
				FormatHint: req.AspectRatio,
			})
			return nil
		}

		for i := 1; i <= counts.White; i++ {
			if err := add(BackgroundWhite, i, view+" view in a clean white studio background"); err != nil {
				return nil, err
			}
		}
		for i := 1; i <= counts.Plain; i++ {
			if err := add(BackgroundPlain, i, view+" view in a plain colored background"); err != nil {
				return nil, err
			}
		}
		for i := 1; i <= min(counts.Random, len(Occasions)); i++ {
			if err := add(BackgroundRandom, i, view+" view in a "+Occasions[i-1]); err != nil {
				return nil, err
			}
		}
	}

	if len(jobs) == 0 {
		return nil, ErrNoJobs
	}
	return jobs, nil
}
