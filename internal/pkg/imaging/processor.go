package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

// ErrUndecodable is returned for bytes no registered decoder understands.
var ErrUndecodable = errors.New("image cannot be decoded")

// Normalized is a screenshot re-encoded for storage.
type Normalized struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Config for image processing
type Config struct {
	MaxWidth  int // Max width of the stored image (default 1600)
	MaxHeight int // Max height of the stored image (default 3200)
	Quality   int // JPEG quality 1-100 (default 85)
}

// DefaultConfig returns default processing config. Phone screenshots are tall,
// hence the asymmetric bound.
func DefaultConfig() Config {
	return Config{
		MaxWidth:  1600,
		MaxHeight: 3200,
		Quality:   85,
	}
}

// Processor handles image processing
type Processor struct {
	config Config
}

// NewProcessor creates image processor
func NewProcessor(config Config) *Processor {
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = DefaultConfig().Quality
	}
	return &Processor{config: config}
}

// Normalize decodes data, applies EXIF orientation, shrinks it to fit the
// configured box and re-encodes it as JPEG.
func (p *Processor) Normalize(data []byte) (*Normalized, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	b := img.Bounds()
	if (p.config.MaxWidth > 0 && b.Dx() > p.config.MaxWidth) || (p.config.MaxHeight > 0 && b.Dy() > p.config.MaxHeight) {
		img = imaging.Fit(img, p.config.MaxWidth, p.config.MaxHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.config.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &Normalized{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
	}, nil
}
