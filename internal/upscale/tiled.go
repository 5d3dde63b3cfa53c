package upscale

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register webp decoding for model outputs
)

// Upscaler enlarges a single encoded image by scale, processing the source
// in square tiles of tileSize pixels.
type Upscaler interface {
	Upscale(ctx context.Context, data []byte, scale, tileSize int) ([]byte, error)
}

// UpscalerFunc adapts a function to the Upscaler interface
type UpscalerFunc func(ctx context.Context, data []byte, scale, tileSize int) ([]byte, error)

// Upscale calls f
func (f UpscalerFunc) Upscale(ctx context.Context, data []byte, scale, tileSize int) ([]byte, error) {
	return f(ctx, data, scale, tileSize)
}

// TiledUpscalerConfig bounds the memory a single upscale may use
type TiledUpscalerConfig struct {
	// MaxTilePixels caps the output pixels produced per tile
	MaxTilePixels int

	// MaxOutputPixels caps the output pixels of the whole image
	MaxOutputPixels int

	// JPEGQuality is used when re-encoding JPEG sources
	JPEGQuality int
}

// DefaultTiledUpscalerConfig returns limits suitable for 2x-4x upscaling of
// typical generation outputs
func DefaultTiledUpscalerConfig() TiledUpscalerConfig {
	return TiledUpscalerConfig{
		MaxTilePixels:   2048 * 2048,
		MaxOutputPixels: 8192 * 8192,
		JPEGQuality:     95,
	}
}

// TiledUpscaler is a CPU upscaler using Catmull-Rom resampling. Tiles bound
// the working set of each resampling pass, so a smaller tile size is the
// degradation path when a large tile exceeds the budget.
type TiledUpscaler struct {
	config TiledUpscalerConfig
	kernel *draw.Kernel
}

// NewTiledUpscaler creates a TiledUpscaler, filling unset limits with defaults
func NewTiledUpscaler(config TiledUpscalerConfig) *TiledUpscaler {
	defaults := DefaultTiledUpscalerConfig()
	if config.MaxTilePixels <= 0 {
		config.MaxTilePixels = defaults.MaxTilePixels
	}
	if config.MaxOutputPixels <= 0 {
		config.MaxOutputPixels = defaults.MaxOutputPixels
	}
	if config.JPEGQuality <= 0 || config.JPEGQuality > 100 {
		config.JPEGQuality = defaults.JPEGQuality
	}
	return &TiledUpscaler{config: config, kernel: draw.CatmullRom}
}

// Upscale implements Upscaler. PNG and WebP sources are re-encoded as PNG,
// everything else as JPEG.
func (u *TiledUpscaler) Upscale(ctx context.Context, data []byte, scale, tileSize int) ([]byte, error) {
	if scale < 1 {
		return nil, fmt.Errorf("%w: scale must be at least 1, got %d", ErrInvalidConfig, scale)
	}
	if tileSize <= 0 {
		return nil, fmt.Errorf("%w: tile size must be positive, got %d", ErrInvalidConfig, tileSize)
	}
	if scale == 1 {
		return data, nil
	}
	if out := tileSize * scale; out*out > u.config.MaxTilePixels {
		return nil, fmt.Errorf("%w: tile %d at %dx needs %d pixels, budget %d",
			ErrTileTooLarge, tileSize, scale, out*out, u.config.MaxTilePixels)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}

	b := src.Bounds()
	width, height := b.Dx()*scale, b.Dy()*scale
	if width*height > u.config.MaxOutputPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, width, height)
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := b.Min.Y; y < b.Max.Y; y += tileSize {
		for x := b.Min.X; x < b.Max.X; x += tileSize {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			sr := image.Rect(x, y, min(x+tileSize, b.Max.X), min(y+tileSize, b.Max.Y))
			dr := image.Rect(
				(sr.Min.X-b.Min.X)*scale, (sr.Min.Y-b.Min.Y)*scale,
				(sr.Max.X-b.Min.X)*scale, (sr.Max.Y-b.Min.Y)*scale,
			)
			u.kernel.Scale(dst, dr, src, sr, draw.Src, nil)
		}
	}

	var buf bytes.Buffer
	switch format {
	case "png", "webp":
		err = png.Encode(&buf, dst)
	default:
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: u.config.JPEGQuality})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode upscaled image: %w", err)
	}
	return buf.Bytes(), nil
}
