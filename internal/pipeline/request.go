package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/lookbook/internal/generation"
)

// View names accepted as reference artifacts
const (
	ViewFront  = "frontside"
	ViewBack   = "backside"
	ViewSide   = "sideview"
	ViewDetail = "detailview"
)

// PrimaryViews are the views that can seed generation jobs, in job order
var PrimaryViews = []string{ViewFront, ViewBack, ViewSide}

// MaxReferenceBytes caps a single uploaded reference artifact
const MaxReferenceBytes = 10 << 20

// Defaults applied by Normalize
const (
	DefaultAspectRatio     = "9:16"
	DefaultNumberOfOutputs = 1
	MaxNumberOfOutputs     = 4
)

// BackgroundCounts is how many images of each background category to
// generate for one view. JSON accepts either an object or a three element
// array in [white, plain, random] order.
type BackgroundCounts struct {
	White  int `json:"white" validate:"min=0,max=15"`
	Plain  int `json:"plain" validate:"min=0,max=15"`
	Random int `json:"random" validate:"min=0,max=15"`
}

// Total returns the number of jobs the counts produce
func (c BackgroundCounts) Total() int {
	return c.White + c.Plain + c.Random
}

// UnmarshalJSON accepts {"white":1,...} or [1,0,2]
func (c *BackgroundCounts) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var triple []int
		if err := json.Unmarshal(trimmed, &triple); err != nil {
			return err
		}
		if len(triple) != 3 {
			return fmt.Errorf("background counts need 3 values [white, plain, random], got %d", len(triple))
		}
		*c = BackgroundCounts{White: triple[0], Plain: triple[1], Random: triple[2]}
		return nil
	}

	type plain BackgroundCounts
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*c = BackgroundCounts(p)
	return nil
}

// Request is one lookbook generation request
type Request struct {
	// RequestID is the idempotency key; generated when empty
	RequestID string `json:"request_id" validate:"omitempty,max=128,printascii,excludesall=/"`

	// References maps view names to uploaded artifacts
	References map[string]generation.Reference `json:"-" validate:"required,min=1"`

	// Description is optional free text about the garment
	Description string `json:"description,omitempty" validate:"max=4000"`

	// Product is an optional label carried into the report
	Product string `json:"product,omitempty" validate:"max=256"`

	// Gender hints the model type: "male", "female" or "unisex"
	Gender string `json:"gender,omitempty" validate:"omitempty,oneof=male female unisex"`

	AspectRatio     string `json:"aspect_ratio" validate:"oneof=1:1 16:9 4:3 3:4 9:16"`
	NumberOfOutputs int    `json:"number_of_outputs" validate:"min=1,max=4"`

	// Backgrounds maps a primary view to its per-category counts
	Backgrounds map[string]BackgroundCounts `json:"backgrounds,omitempty" validate:"omitempty,dive"`

	WantsUpscale bool `json:"upscale"`
	WantsVideo   bool `json:"video"`
}

// Normalize fills unset options with their defaults
func (r *Request) Normalize() {
	if r.AspectRatio == "" {
		r.AspectRatio = DefaultAspectRatio
	}
	if r.NumberOfOutputs == 0 {
		r.NumberOfOutputs = DefaultNumberOfOutputs
	}
	if len(r.Backgrounds) == 0 {
		r.Backgrounds = DefaultBackgrounds(r.References, r.NumberOfOutputs)
	}
}

// DefaultBackgrounds returns one white background image for every supplied
// primary view, plus numberOfOutputs random scenes for the front view.
func DefaultBackgrounds(refs map[string]generation.Reference, numberOfOutputs int) map[string]BackgroundCounts {
	out := make(map[string]BackgroundCounts)
	for _, view := range PrimaryViews {
		if _, ok := refs[view]; !ok {
			continue
		}
		counts := BackgroundCounts{White: 1}
		if view == ViewFront {
			counts.Random = numberOfOutputs
		}
		out[view] = counts
	}
	return out
}

// Validate checks the request after Normalize has been applied
func (r *Request) Validate(v *validator.Validate) error {
	if err := v.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if _, ok := r.References[ViewFront]; !ok {
		return fmt.Errorf("%w: %s reference is required", ErrInvalidRequest, ViewFront)
	}
	for name, ref := range r.References {
		if name != ViewDetail && !slices.Contains(PrimaryViews, name) {
			return fmt.Errorf("%w: unknown reference view %q", ErrInvalidRequest, name)
		}
		if len(ref.Data) == 0 {
			return fmt.Errorf("%w: %s reference is empty", ErrInvalidRequest, name)
		}
		if len(ref.Data) > MaxReferenceBytes {
			return fmt.Errorf("%w: %s reference exceeds %d bytes", ErrInvalidRequest, name, MaxReferenceBytes)
		}
	}

	total := 0
	for view, counts := range r.Backgrounds {
		if !slices.Contains(PrimaryViews, view) {
			return fmt.Errorf("%w: unknown background view %q", ErrInvalidRequest, view)
		}
		if _, ok := r.References[view]; ok {
			total += counts.Total()
		}
	}
	if total == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, ErrNoJobs)
	}
	return nil
}

// orderedReferences returns the supplied references in a stable order
func (r *Request) orderedReferences() []generation.Reference {
	refs := make([]generation.Reference, 0, len(r.References))
	for _, view := range append(slices.Clone(PrimaryViews), ViewDetail) {
		if ref, ok := r.References[view]; ok {
			if ref.Name == "" {
				ref.Name = view
			}
			refs = append(refs, ref)
		}
	}
	return refs
}
