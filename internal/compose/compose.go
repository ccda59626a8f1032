// Package compose draws generated thumbnails onto a single surface and
// derives the downloadable variants from it.
package compose

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"calligraphy/internal/domain"
	"calligraphy/internal/infra"
	"calligraphy/internal/layout"
)

// ErrNothingToCompose is returned when there are no placements to draw.
// It is a composition error for callers that only map domain kinds.
var ErrNothingToCompose = fmt.Errorf("%w: nothing to compose", domain.ErrComposition)

// Loader resolves a source URL into a decoded image.
type Loader interface {
	Load(ctx context.Context, sourceURL string) (image.Image, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, sourceURL string) (image.Image, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, sourceURL string) (image.Image, error) {
	return f(ctx, sourceURL)
}

// Options configures a Compositor.
type Options struct {
	Loader Loader
	// Concurrency caps parallel loads. Zero or less means one at a time.
	Concurrency int
	// OnComposed fires once per successful Compose, after the last draw.
	OnComposed func(*image.NRGBA)
	Logger     *infra.Logger
}

// Compositor draws placements onto a destination surface.
type Compositor struct {
	loader      Loader
	concurrency int
	onComposed  func(*image.NRGBA)
	logger      *infra.Logger
}

// NewCompositor constructs a compositor. A nil loader is a programming error.
func NewCompositor(opts Options) *Compositor {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Compositor{
		loader:      opts.Loader,
		concurrency: concurrency,
		onComposed:  opts.OnComposed,
		logger:      infra.LoggerOrDiscard(opts.Logger),
	}
}

// Compose allocates a transparent surface of the canvas size, loads every
// source and draws it, scaled, into its placement. Loads may finish in any
// order; the surface is only returned (and OnComposed only fired) once all
// of them have been drawn. Any failed load aborts the composition.
func (c *Compositor) Compose(ctx context.Context, canvas layout.Canvas, placements []layout.Placement) (*image.NRGBA, error) {
	if len(placements) == 0 || canvas.Empty() {
		return nil, ErrNothingToCompose
	}
	if c.loader == nil {
		return nil, fmt.Errorf("%w: no image loader configured", domain.ErrComposition)
	}

	dst := imaging.New(canvas.Width, canvas.Height, color.NRGBA{})
	var mu sync.Mutex
	drawn := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, p := range placements {
		g.Go(func() error {
			src, err := c.loader.Load(gctx, p.SourceURL)
			if err != nil {
				return fmt.Errorf("%w: load %s: %w", domain.ErrComposition, p.SourceURL, err)
			}
			rect := image.Rect(p.OffsetX, p.OffsetY, p.OffsetX+p.Width, p.OffsetY+p.Height)
			mu.Lock()
			xdraw.CatmullRom.Scale(dst, rect, src, src.Bounds(), xdraw.Over, nil)
			drawn++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Warn().Err(err).Int("placements", len(placements)).Msg("compose: composition aborted")
		return nil, err
	}
	if drawn != len(placements) {
		return nil, fmt.Errorf("%w: drew %d of %d images", domain.ErrComposition, drawn, len(placements))
	}

	c.logger.Debug().
		Int("images", drawn).
		Int("width", canvas.Width).
		Int("height", canvas.Height).
		Msg("compose: all images drawn")
	if c.onComposed != nil {
		c.onComposed(dst)
	}
	return dst, nil
}
