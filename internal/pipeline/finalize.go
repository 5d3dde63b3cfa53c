package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/phrazzld/lookbook/internal/generation"
	"golang.org/x/sync/errgroup"
)

// Storage key prefixes used when both original and upscaled artifacts exist
const (
	OriginalPrefix = "original/"
	UpscaledPrefix = "upscaled/"
	VideoPrefix    = "video/"
)

type persistItem struct {
	key  string
	data []byte
	url  string
}

// finalize persists every artifact, builds the report and assembles the
// Result. Failing to persist a variation is fatal; video and report
// failures are recorded as branch errors.
func (o *Orchestrator) finalize(
	ctx context.Context,
	log *slog.Logger,
	req *Request,
	analysis generation.Analysis,
	batch *generation.BatchResult,
	post postResult,
) (*Result, error) {
	id := req.RequestID
	variations := batch.Variations
	keys := variations.Keys()

	originalPrefix := ""
	if post.upscaled != nil {
		originalPrefix = OriginalPrefix
	}

	items := make([]persistItem, 0, 2*len(keys))
	for _, key := range keys {
		data, _ := variations.Get(key)
		items = append(items, persistItem{key: originalPrefix + key, data: data})
	}
	if post.upscaled != nil {
		for _, key := range keys {
			data, ok := post.upscaled.Get(key)
			if !ok {
				continue
			}
			items = append(items, persistItem{key: UpscaledPrefix + key, data: data})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.PersistConcurrency)
	for i := range items {
		g.Go(func() error {
			url, err := o.deps.Persister.Persist(gctx, items[i].data, id, items[i].key)
			if err != nil {
				return fmt.Errorf("failed to persist %s: %w", items[i].key, err)
			}
			items[i].url = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		RequestID:          id,
		VariationKeys:      keys,
		VariationURLs:      make(map[string]string, len(keys)),
		Analysis:           analysis,
		RequestedCount:     batch.Requested,
		SucceededCount:     batch.Succeeded(),
		Variations:         variations,
		UpscaledVariations: post.upscaled,
		Video:              post.video,
	}
	for i, key := range keys {
		result.VariationURLs[key] = items[i].url
	}
	if post.upscaled != nil {
		result.UpscaledURLs = make(map[string]string, len(keys))
		for _, item := range items[len(keys):] {
			result.UpscaledURLs[item.key[len(UpscaledPrefix):]] = item.url
		}
		for key, err := range post.upscaleReport.Fallbacks {
			if result.UpscaleFallbacks == nil {
				result.UpscaleFallbacks = make(map[string]string)
			}
			result.UpscaleFallbacks[key] = err.Error()
		}
	}
	if len(batch.Failures) > 0 {
		result.FailedJobs = make(map[string]string, len(batch.Failures))
		for _, f := range batch.Failures {
			result.FailedJobs[f.ID] = f.Err.Error()
		}
	}

	// The primary is chosen among the generated variations; its displayed
	// URL is the upscaled one when available.
	primaryKey, _, _ := variations.Primary(o.config.PrimaryTag)
	result.PrimaryKey = primaryKey
	result.PrimaryURL = result.VariationURLs[primaryKey]
	if url, ok := result.UpscaledURLs[primaryKey]; ok {
		result.PrimaryURL = url
	}

	branchErrors := make(map[string]string)
	for branch, err := range post.branchErrors {
		branchErrors[branch] = err.Error()
	}

	if post.video != nil {
		url, err := o.deps.Persister.Persist(ctx, post.video, id, VideoPrefix+primaryKey+".mp4")
		if err != nil {
			log.WarnContext(ctx, "failed to persist video", "error", err)
			branchErrors[BranchVideo] = fmt.Errorf("%w: %s: %w", ErrOptionalBranch, BranchVideo, err).Error()
		} else {
			result.VideoURL = url
		}
	}

	result.Metadata = buildMetadata(req)

	if o.deps.Reporter != nil {
		url, err := o.buildReport(ctx, result)
		if err != nil {
			log.WarnContext(ctx, "failed to build report", "error", err)
			branchErrors[BranchReport] = fmt.Errorf("%w: %s: %w", ErrOptionalBranch, BranchReport, err).Error()
		} else {
			result.ReportURL = url
		}
	}

	if len(branchErrors) > 0 {
		result.BranchErrors = branchErrors
	}
	return result, nil
}

func (o *Orchestrator) buildReport(ctx context.Context, result *Result) (string, error) {
	urls := make(map[string]string, len(result.VariationURLs))
	for key, url := range result.VariationURLs {
		if up, ok := result.UpscaledURLs[key]; ok {
			url = up
		}
		urls[key] = url
	}

	data, err := o.deps.Reporter.BuildReport(ctx, ReportInput{
		RequestID:     result.RequestID,
		Product:       result.Metadata.Product,
		Analysis:      result.Analysis,
		PrimaryKey:    result.PrimaryKey,
		VariationKeys: result.VariationKeys,
		ArtifactURLs:  urls,
		VideoURL:      result.VideoURL,
		Metadata:      result.Metadata,
	})
	if err != nil {
		return "", err
	}
	return o.deps.Persister.Persist(ctx, data, result.RequestID, o.config.ReportKey)
}

func buildMetadata(req *Request) Metadata {
	refs := make([]string, 0, len(req.References))
	for name := range req.References {
		refs = append(refs, name)
	}
	slices.Sort(refs)

	return Metadata{
		Product:         req.Product,
		Gender:          req.Gender,
		AspectRatio:     req.AspectRatio,
		NumberOfOutputs: req.NumberOfOutputs,
		Backgrounds:     req.Backgrounds,
		Upscale:         req.WantsUpscale,
		Video:           req.WantsVideo,
		References:      refs,
		CompletedAt:     time.Now().UTC(),
	}
}
