// Package pipeline turns a completed job's word results into the
// downloadable artifacts: a white-backed and a background-removed composite.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	"calligraphy/internal/compose"
	"calligraphy/internal/domain"
	"calligraphy/internal/infra"
	"calligraphy/internal/layout"
	"calligraphy/internal/storage"
	"calligraphy/pkg/zip"
)

const (
	VariantWhiteBG = "white-bg"
	VariantNoBG    = "no-bg"
	VariantBundle  = "bundle"
)

// ImageSource resolves and downloads rendered word images.
type ImageSource interface {
	ImageURL(imageID string) string
	FetchImage(ctx context.Context, imageURL string) ([]byte, string, error)
}

// Options configures an Exporter.
type Options struct {
	Source      ImageSource
	Store       *storage.FileStore
	Grid        layout.Grid
	Threshold   uint8
	Background  color.Color
	BaseName    string
	Concurrency int
	Logger      *infra.Logger
}

// Exporter builds and writes the composite downloads.
type Exporter struct {
	source     ImageSource
	store      *storage.FileStore
	grid       layout.Grid
	threshold  uint8
	background color.Color
	baseName   string
	compositor *compose.Compositor
	logger     *infra.Logger
}

// Artifact is one encoded variant ready to be saved or streamed.
type Artifact struct {
	Variant  string
	Filename string
	Data     []byte
}

// New constructs an Exporter.
func New(opts Options) *Exporter {
	bg := opts.Background
	if bg == nil {
		bg = color.White
	}
	base := opts.BaseName
	if base == "" {
		base = "ai-calligraphy-output"
	}
	logger := infra.LoggerOrDiscard(opts.Logger)
	e := &Exporter{
		source:     opts.Source,
		store:      opts.Store,
		grid:       opts.Grid,
		threshold:  opts.Threshold,
		background: bg,
		baseName:   base,
		logger:     logger,
	}
	e.compositor = compose.NewCompositor(compose.Options{
		Loader:      compose.WithPlaceholder(compose.LoaderFunc(e.load), opts.Grid.Size),
		Concurrency: opts.Concurrency,
		Logger:      logger,
	})
	return e
}

// Sources maps each word result onto the URL its thumbnail is drawn from.
// Failed words and results without an image id use the placeholder.
func (e *Exporter) Sources(results []domain.WordResult) []string {
	sources := make([]string, len(results))
	for i, r := range results {
		if r.Resolved() && e.source != nil {
			sources[i] = e.source.ImageURL(r.ImageID)
			continue
		}
		sources[i] = compose.PlaceholderURL
	}
	return sources
}

// Compose lays out and draws every result onto one transparent surface.
func (e *Exporter) Compose(ctx context.Context, results []domain.WordResult) (*image.NRGBA, error) {
	canvas, placements, err := e.grid.Arrange(e.Sources(results))
	if err != nil {
		return nil, err
	}
	return e.compositor.Compose(ctx, canvas, placements)
}

// Render composes the results and encodes both variants under one stamp.
func (e *Exporter) Render(ctx context.Context, results []domain.WordResult) (int64, []Artifact, error) {
	composed, err := e.Compose(ctx, results)
	if err != nil {
		return 0, nil, err
	}
	stamp := e.nextStamp()
	surfaces := []struct {
		variant string
		img     image.Image
	}{
		{VariantWhiteBG, compose.AddOpaqueBackground(composed, e.background)},
		{VariantNoBG, compose.RemoveBackground(composed, e.threshold)},
	}
	artifacts := make([]Artifact, 0, len(surfaces))
	for _, s := range surfaces {
		data, err := compose.Encode(s.img)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %w", domain.ErrComposition, err)
		}
		artifacts = append(artifacts, Artifact{
			Variant:  s.variant,
			Filename: storage.VariantName(e.baseName, stamp, s.variant, compose.Extension),
			Data:     data,
		})
	}
	return stamp, artifacts, nil
}

// Variant renders a single named variant.
func (e *Exporter) Variant(ctx context.Context, results []domain.WordResult, variant string) (Artifact, error) {
	if variant == VariantBundle {
		return e.Bundle(ctx, results)
	}
	_, artifacts, err := e.Render(ctx, results)
	if err != nil {
		return Artifact{}, err
	}
	for _, a := range artifacts {
		if a.Variant == variant {
			return a, nil
		}
	}
	return Artifact{}, fmt.Errorf("pipeline: unknown variant %q", variant)
}

// Bundle renders both variants into a single zip artifact.
func (e *Exporter) Bundle(ctx context.Context, results []domain.WordResult) (Artifact, error) {
	stamp, artifacts, err := e.Render(ctx, results)
	if err != nil {
		return Artifact{}, err
	}
	return e.Pack(stamp, artifacts)
}

// Pack zips already rendered artifacts under their shared stamp.
func (e *Exporter) Pack(stamp int64, artifacts []Artifact) (Artifact, error) {
	entries := make([]zip.Entry, len(artifacts))
	for i, a := range artifacts {
		entries[i] = zip.Entry{Filename: a.Filename, Data: a.Data}
	}
	data, err := zip.Archive(entries, time.UnixMilli(stamp))
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Variant:  VariantBundle,
		Filename: storage.VariantName(e.baseName, stamp, "", "zip"),
		Data:     data,
	}, nil
}

// Export renders the variants and writes them to the store. With bundle
// set both variants are written inside one zip instead.
func (e *Exporter) Export(ctx context.Context, results []domain.WordResult, bundle bool) ([]string, error) {
	if e.store == nil {
		return nil, errors.New("pipeline: no store configured")
	}
	var artifacts []Artifact
	if bundle {
		a, err := e.Bundle(ctx, results)
		if err != nil {
			return nil, err
		}
		artifacts = []Artifact{a}
	} else {
		_, rendered, err := e.Render(ctx, results)
		if err != nil {
			return nil, err
		}
		artifacts = rendered
	}
	paths := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		path, err := e.store.Save(ctx, a.Filename, a.Data)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
		e.logger.Info().Str("variant", a.Variant).Str("file", a.Filename).Int("bytes", len(a.Data)).Msg("pipeline: download written")
	}
	return paths, nil
}

func (e *Exporter) nextStamp() int64 {
	if e.store != nil {
		return e.store.NextStamp()
	}
	return time.Now().UnixMilli()
}

func (e *Exporter) load(ctx context.Context, sourceURL string) (image.Image, error) {
	if e.source == nil {
		return nil, errors.New("pipeline: no image source configured")
	}
	data, _, err := e.source.FetchImage(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return compose.Decode(data)
}
