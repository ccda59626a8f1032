package compose

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Extension is the file extension of encoded surfaces.
const Extension = "png"

// MIMEType is the content type of encoded surfaces.
const MIMEType = "image/png"

// Encode serializes a surface losslessly so that matte edges survive.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("compose: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses PNG, JPEG, GIF, BMP, TIFF or WebP image bytes.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("compose: decode image: %w", err)
	}
	return img, nil
}
