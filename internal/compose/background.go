package compose

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// DefaultThreshold is the luminance cut-off used for the transparent variant.
const DefaultThreshold uint8 = 200

// AddOpaqueBackground returns a copy of img flattened onto bg, so that no
// transparent pixels remain.
func AddOpaqueBackground(img image.Image, bg color.Color) *image.NRGBA {
	b := img.Bounds()
	base := imaging.New(b.Dx(), b.Dy(), opaque(bg))
	return imaging.Overlay(base, img, image.Pt(0, 0), 1.0)
}

// RemoveBackground returns a copy of img in which every pixel whose mean
// channel value exceeds threshold is fully transparent. Colour channels are
// never modified and darker pixels keep their alpha. Light foreground
// strokes are removed as well; it is a luminance matte, not a colour key.
func RemoveBackground(img image.Image, threshold uint8) *image.NRGBA {
	out := imaging.Clone(img)
	limit := 3 * int(threshold)
	pix := out.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		if int(pix[i])+int(pix[i+1])+int(pix[i+2]) > limit {
			pix[i+3] = 0
		}
	}
	return out
}

func opaque(c color.Color) color.NRGBA {
	if c == nil {
		return color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	n.A = 0xff
	return n
}
