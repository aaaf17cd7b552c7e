package upload

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"repost/internal/models"
)

var extensions = map[string]string{
	"jpeg": ".jpg",
	"png":  ".png",
	"gif":  ".gif",
	"bmp":  ".bmp",
	"tiff": ".tif",
	"webp": ".webp",
}

// ImageInfo is what validation learns about an upload.
type ImageInfo struct {
	Format      string
	Extension   string
	ContentType string
	Width       int
	Height      int
}

// Inspect fully decodes data and fails with models.ErrValidation when it is
// not a supported image. Images with more than maxPixels pixels are refused
// from their header alone; maxPixels <= 0 disables the check.
func Inspect(data []byte, maxPixels int64) (ImageInfo, error) {
	const op = "upload.Inspect"

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%s: %w", op, models.Validationf("unrecognised image: %v", err))
	}
	ext, ok := extensions[format]
	if !ok {
		return ImageInfo{}, fmt.Errorf("%s: %w", op, models.Validationf("unsupported image format %q", format))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return ImageInfo{}, fmt.Errorf("%s: %w", op, models.Validationf("image has no pixels"))
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return ImageInfo{}, fmt.Errorf("%s: %w", op,
			models.Validationf("%dx%d image exceeds %d pixels", cfg.Width, cfg.Height, maxPixels))
	}

	// DecodeConfig only reads the header; a full decode catches truncated files.
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%s: %w", op, models.Validationf("corrupt image: %v", err))
	}

	bounds := img.Bounds()
	return ImageInfo{
		Format:      format,
		Extension:   ext,
		ContentType: "image/" + format,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, nil
}
