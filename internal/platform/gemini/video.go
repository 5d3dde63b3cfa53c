package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/lookbook/internal/generation"
	"google.golang.org/genai"
)

const videoAspectRatio = "9:16"

// SynthesizeVideo implements generation.VideoSynthesizer. It starts a video
// operation seeded with the primary image, polls it every VideoPollInterval
// until done and downloads the first generated clip. The caller bounds the
// whole call through ctx.
func (c *Client) SynthesizeVideo(ctx context.Context, primary []byte, analysis generation.Analysis) ([]byte, error) {
	if len(primary) == 0 {
		return nil, fmt.Errorf("%w: primary image is empty", generation.ErrInvalidConfig)
	}

	start := time.Now()
	op, err := c.models.GenerateVideos(ctx, c.config.VideoModel, videoPrompt(analysis),
		&genai.Image{ImageBytes: primary, MIMEType: http.DetectContentType(primary)},
		&genai.GenerateVideosConfig{AspectRatio: videoAspectRatio, NumberOfVideos: 1})
	if err != nil {
		return nil, classifyError("video generation", err)
	}
	if op == nil {
		return nil, fmt.Errorf("%w: nil video operation", generation.ErrInvalidResponse)
	}
	c.logger.InfoContext(ctx, "video operation started", "operation", op.Name)

	ticker := time.NewTicker(c.config.VideoPollInterval)
	defer ticker.Stop()

	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("video operation %s: %w", op.Name, ctx.Err())
		case <-ticker.C:
		}

		next, err := c.operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return nil, classifyError("video poll", err)
		}
		if next == nil {
			return nil, fmt.Errorf("%w: nil operation while polling", generation.ErrInvalidResponse)
		}
		op = next
		c.logger.DebugContext(ctx, "video operation polled",
			"operation", op.Name,
			"done", op.Done,
			"elapsed_ms", time.Since(start).Milliseconds())
	}

	if len(op.Error) > 0 {
		return nil, fmt.Errorf("%w: video operation failed: %v", generation.ErrGenerationFailed, op.Error)
	}
	resp := op.Response
	if resp == nil || len(resp.GeneratedVideos) == 0 || resp.GeneratedVideos[0] == nil || resp.GeneratedVideos[0].Video == nil {
		if resp != nil && resp.RAIMediaFilteredCount > 0 {
			return nil, fmt.Errorf("%w: %s", generation.ErrContentBlocked, strings.Join(resp.RAIMediaFilteredReasons, "; "))
		}
		return nil, generation.ErrNoArtifact
	}

	video := resp.GeneratedVideos[0].Video
	data := video.VideoBytes
	if len(data) == 0 {
		data, err = c.files.Download(ctx, genai.NewDownloadURIFromVideo(video), nil)
		if err != nil {
			return nil, classifyError("video download", err)
		}
	}
	if len(data) == 0 {
		return nil, generation.ErrNoArtifact
	}

	c.logger.InfoContext(ctx, "video synthesized",
		"operation", op.Name,
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds())
	return data, nil
}

func videoPrompt(a generation.Analysis) string {
	garment := a.GarmentType
	if garment == "" {
		garment = "outfit"
	}
	if len(a.Colors) > 0 {
		garment = strings.Join(a.Colors, " and ") + " " + garment
	}
	return fmt.Sprintf("A fashion model wearing the %s from the image walks slowly toward the camera, "+
		"turns to show the garment from the side and back, and returns to face the camera. "+
		"Studio lighting, steady camera, the garment stays identical to the image.", garment)
}
