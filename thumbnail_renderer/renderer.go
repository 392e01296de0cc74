package thumbnail_renderer

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"comfy_studio/atomic_file"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxWidth  = 384
	DefaultMaxHeight = 384
	DefaultQuality   = 85

	// Extension is the suffix of every thumbnail the renderer writes.
	Extension = ".jpg"
)

type rendererImpl struct {
	maxWidth  int
	maxHeight int
	quality   int
}

type Config struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

func New(cfg Config) (Renderer, error) {
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = DefaultMaxWidth
	}

	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = DefaultMaxHeight
	}

	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultQuality
	}

	return &rendererImpl{
		maxWidth:  cfg.MaxWidth,
		maxHeight: cfg.MaxHeight,
		quality:   cfg.Quality,
	}, nil
}

func (r *rendererImpl) RenderFile(srcPath, dstPath string) error {
	src, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}

	return r.write(src, dstPath)
}

func (r *rendererImpl) RenderBytes(data []byte, dstPath string) error {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}

	return r.write(src, dstPath)
}

// write fits src inside the bounding box and writes a JPEG through a temp file,
// so a half-written thumbnail is never visible under dstPath.
func (r *rendererImpl) write(src image.Image, dstPath string) error {
	thumbnail := imaging.Fit(src, r.maxWidth, r.maxHeight, imaging.Lanczos)

	return atomic_file.WriteFunc(dstPath, func(w io.Writer) error {
		return encode(w, thumbnail, r.quality)
	})
}

func encode(w io.Writer, img image.Image, quality int) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
}
