package extract

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"

	// Decoders registered for image.DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var defaultImageExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp",
}

// ImageOptions configures the image plugin.
type ImageOptions struct {
	Extensions []string
}

// ImageOptionsFrom reads image plugin options from an open option map.
func ImageOptionsFrom(m map[string]any) ImageOptions {
	return ImageOptions{Extensions: optStrings(m, "extensions")}
}

// Image extracts dimensions, color mode, and format from raster images.
// A decode failure produces a failed record for that file only; it never
// aborts the crawl.
type Image struct {
	extensions map[string]bool
}

// NewImage creates the image plugin.
func NewImage(opts ImageOptions) (*Image, error) {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = defaultImageExtensions
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[strings.ToLower(e)] = true
	}
	return &Image{extensions: set}, nil
}

func (p *Image) Name() string { return "image" }

func (p *Image) Applicable(path string, entry Entry) bool {
	return p.extensions[strings.ToLower(filepath.Ext(path))]
}

func (p *Image) Extract(ctx context.Context, path string, entry Entry) Record {
	f, err := os.Open(path)
	if err != nil {
		return Failed(path, p.Name(), fmt.Errorf("open: %w", err))
	}
	defer f.Close()

	// Magic bytes first: the extension claimed the file, the content
	// decides what it really is.
	header := make([]byte, 261)
	n, _ := f.Read(header)
	kind, _ := filetype.Match(header[:n])

	if _, err := f.Seek(0, 0); err != nil {
		return Failed(path, p.Name(), fmt.Errorf("seek: %w", err))
	}

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return Failed(path, p.Name(), fmt.Errorf("decode %s: %w", filepath.Base(path), err))
	}

	fields := map[string]any{
		"format":      format,
		"width":       cfg.Width,
		"height":      cfg.Height,
		"pixel_count": cfg.Width * cfg.Height,
		"color_mode":  colorMode(cfg.ColorModel),
	}
	if cfg.Height > 0 {
		fields["aspect_ratio"] = float64(cfg.Width) / float64(cfg.Height)
	}
	if kind != filetype.Unknown {
		fields["detected_mime"] = kind.MIME.Value
	}

	return Success(path, p.Name(), fields)
}

func colorMode(m color.Model) string {
	switch m {
	case color.RGBAModel, color.NRGBAModel:
		return "rgba"
	case color.RGBA64Model, color.NRGBA64Model:
		return "rgba64"
	case color.GrayModel:
		return "gray"
	case color.Gray16Model:
		return "gray16"
	case color.YCbCrModel:
		return "ycbcr"
	case color.CMYKModel:
		return "cmyk"
	case color.AlphaModel, color.Alpha16Model:
		return "alpha"
	}
	if _, ok := m.(color.Palette); ok {
		return "paletted"
	}
	return "unknown"
}

var _ Plugin = (*Image)(nil)
