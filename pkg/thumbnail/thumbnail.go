package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"path"
	"strings"

	"github.com/disintegration/imaging"
)

// Suffix is appended to the object key (minus extension) of a thumbnail.
const Suffix = "_thumb.jpg"

// Generator produces square JPEG thumbnails.
type Generator struct {
	size    int
	quality int
}

// NewGenerator returns a generator for size×size thumbnails.
func NewGenerator(size int) *Generator {
	if size <= 0 {
		size = 256
	}
	return &Generator{size: size, quality: 85}
}

// Generate decodes src (JPEG or PNG), honouring EXIF orientation, and returns
// a center-cropped JPEG thumbnail.
func (g *Generator) Generate(src io.Reader) ([]byte, error) {
	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return g.encode(img)
}

func (g *Generator) encode(img image.Image) ([]byte, error) {
	thumb := imaging.Fill(img, g.size, g.size, imaging.Center, imaging.Lanczos)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, thumb, imaging.JPEG, imaging.JPEGQuality(g.quality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// PathFor derives the thumbnail key of an object key.
func PathFor(key string) string {
	return strings.TrimSuffix(key, path.Ext(key)) + Suffix
}

// Supported reports whether a content type can be thumbnailed.
func Supported(contentType string) bool {
	switch contentType {
	case "image/jpeg", "image/png":
		return true
	default:
		return false
	}
}
