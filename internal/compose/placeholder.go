package compose

import (
	"context"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// PlaceholderURL stands in for words the backend could not render.
const PlaceholderURL = "asset:blank-text.png"

// PlaceholderPath is where the console serves the placeholder asset.
const PlaceholderPath = "/static/blank-text.png"

// Placeholder returns a blank white tile of the given edge length.
func Placeholder(size int) *image.NRGBA {
	if size <= 0 {
		size = 1
	}
	return imaging.New(size, size, color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
}

// WithPlaceholder wraps next so that PlaceholderURL resolves locally
// without touching the network.
func WithPlaceholder(next Loader, size int) Loader {
	tile := Placeholder(size)
	return LoaderFunc(func(ctx context.Context, sourceURL string) (image.Image, error) {
		if sourceURL == PlaceholderURL {
			return tile, nil
		}
		return next.Load(ctx, sourceURL)
	})
}
