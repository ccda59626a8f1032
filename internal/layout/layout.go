// Package layout computes grid placements for equally sized thumbnails.
package layout

import "errors"

// ErrInvalidGrid is returned for a non-positive row capacity or image size,
// or a negative margin.
var ErrInvalidGrid = errors.New("layout: invalid grid parameters")

// Grid describes how thumbnails are packed.
type Grid struct {
	PerRow int
	Size   int
	Margin int
}

// Placement is where a single source image lands on the composed surface.
type Placement struct {
	SourceURL string
	OffsetX   int
	OffsetY   int
	Width     int
	Height    int
}

// Canvas is the destination surface size. Both sides are zero when there
// is nothing to draw.
type Canvas struct {
	Width  int
	Height int
}

// Empty reports whether the canvas has no drawable area.
func (c Canvas) Empty() bool {
	return c.Width <= 0 || c.Height <= 0
}

func (g Grid) validate() error {
	if g.PerRow <= 0 || g.Size <= 0 || g.Margin < 0 {
		return ErrInvalidGrid
	}
	return nil
}

// CanvasSize returns the surface needed for n thumbnails. The width is
// capped by both a full row and the images actually present, so a short
// final row or a small n never over-allocates.
func (g Grid) CanvasSize(n int) (Canvas, error) {
	if err := g.validate(); err != nil {
		return Canvas{}, err
	}
	if n <= 0 {
		return Canvas{}, nil
	}
	step := g.Size + g.Margin
	rows := (n + g.PerRow - 1) / g.PerRow
	return Canvas{
		Width:  min(g.PerRow*step-g.Margin, n*step-g.Margin),
		Height: rows*step - g.Margin,
	}, nil
}

// Arrange places every source row-major and returns the canvas they fit on.
func (g Grid) Arrange(sources []string) (Canvas, []Placement, error) {
	canvas, err := g.CanvasSize(len(sources))
	if err != nil {
		return Canvas{}, nil, err
	}
	if len(sources) == 0 {
		return canvas, nil, nil
	}
	step := g.Size + g.Margin
	placements := make([]Placement, len(sources))
	for i, src := range sources {
		placements[i] = Placement{
			SourceURL: src,
			OffsetX:   (i % g.PerRow) * step,
			OffsetY:   (i / g.PerRow) * step,
			Width:     g.Size,
			Height:    g.Size,
		}
	}
	return canvas, placements, nil
}
