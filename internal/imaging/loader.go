package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder

	"github.com/ironsheep/orthoscan/internal/apperr"
)

// MaxPixels bounds the decoded size of an upload. Larger images are rejected
// before their pixel data is allocated.
const MaxPixels = 80_000_000

// Source is an uploaded image decoded once per request.
//
// Image is never mutated after Decode returns; every stage reads it or
// derives resized copies. Data keeps the original bytes for collaborators
// that need the encoded form (the classification oracle, the report store).
type Source struct {
	// Image is the decoded raster, EXIF orientation applied.
	Image image.Image

	// Data is the uploaded byte stream, unmodified.
	Data []byte

	// Format is the codec name reported by the decoder ("png", "jpeg", ...).
	Format string
}

// Width returns the decoded image width in pixels.
func (s *Source) Width() int { return s.Image.Bounds().Dx() }

// Height returns the decoded image height in pixels.
func (s *Source) Height() int { return s.Image.Bounds().Dy() }

// MIMEType returns the MIME type matching Format.
func (s *Source) MIMEType() string {
	switch s.Format {
	case "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// Decode parses raw image bytes in any registered codec.
//
// All failures carry apperr.ImageDecodeFailure: empty input, unknown codec,
// truncated data, or dimensions beyond MaxPixels.
func Decode(data []byte) (*Source, error) {
	if len(data) == 0 {
		return nil, apperr.E(apperr.ImageDecodeFailure, "decode image", fmt.Errorf("empty upload"))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.E(apperr.ImageDecodeFailure, "decode image", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > MaxPixels {
		return nil, apperr.E(apperr.ImageDecodeFailure, "decode image",
			fmt.Errorf("unsupported dimensions %dx%d", cfg.Width, cfg.Height))
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperr.E(apperr.ImageDecodeFailure, "decode image", err)
	}

	return &Source{Image: img, Data: data, Format: format}, nil
}

// MaxCachedImages bounds ImageCache. Loading a new path beyond it evicts the
// least recently loaded one.
const MaxCachedImages = 8

// ImageCache provides thread-safe caching of decoded images keyed by file
// path, so repeated tool calls on the same file skip disk reads and decoding.
// The cached Source is handed to the pipeline as is.
type ImageCache struct {
	mu      sync.RWMutex
	sources map[string]*Source
	order   []string
	limit   int
}

// NewImageCache creates an empty cache holding at most MaxCachedImages
// sources, ready for concurrent use.
func NewImageCache() *ImageCache {
	return &ImageCache{
		sources: make(map[string]*Source),
		limit:   MaxCachedImages,
	}
}

// Load returns the cached source for path or reads and decodes the file.
//
// The path string is the cache key; a relative and an absolute path to the
// same file are cached separately.
func (c *ImageCache) Load(path string) (*Source, error) {
	c.mu.RLock()
	if src, ok := c.sources[path]; ok {
		c.mu.RUnlock()
		return src, nil
	}
	c.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.E(apperr.InvalidInput, "load image", fmt.Errorf("failed to open image: %w", err))
	}

	src, err := Decode(data)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.sources[path]; ok {
		return cached, nil
	}
	for len(c.order) >= c.limit {
		delete(c.sources, c.order[0])
		c.order = c.order[1:]
	}
	c.sources[path] = src
	c.order = append(c.order, path)
	return src, nil
}

// Len returns the number of cached images.
func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sources)
}

// Clear removes all images from the cache.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	c.sources = make(map[string]*Source)
	c.order = nil
	c.mu.Unlock()
}

// Evict removes a single path from the cache. Unknown paths are ignored.
func (c *ImageCache) Evict(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sources[path]; !ok {
		return
	}
	delete(c.sources, path)
	for i, p := range c.order {
		if p == path {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
