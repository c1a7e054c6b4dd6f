package imagery

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/tiff"
)

// ErrEmptyImage is returned when there are no bytes to decode.
var ErrEmptyImage = errors.New("empty image payload")

// Decode decodes raw bytes in any registered format (PNG, JPEG, GIF, TIFF)
// and reports the format name.
func Decode(raw []byte) (image.Image, string, error) {
	if len(raw) == 0 {
		return nil, "", ErrEmptyImage
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ToRGB normalizes img to an opaque 3-channel raster anchored at (0,0).
// Straight (non-premultiplied) colour is kept and the alpha channel is
// discarded, so a transparent pixel keeps its colour values.
func ToRGB(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := dst.PixOffset(x, y)
			dst.Pix[i+0] = c.R
			dst.Pix[i+1] = c.G
			dst.Pix[i+2] = c.B
			dst.Pix[i+3] = 0xff
		}
	}
	return dst
}

// toGray converts img to single-channel ITU-R 601 luminance after dropping alpha.
func toGray(img image.Image) *image.Gray {
	rgb := ToRGB(img)
	g := image.NewGray(rgb.Rect)
	for i, j := 0, 0; i < len(rgb.Pix); i, j = i+4, j+1 {
		c := color.NRGBA{R: rgb.Pix[i], G: rgb.Pix[i+1], B: rgb.Pix[i+2], A: 0xff}
		g.Pix[j] = color.GrayModel.Convert(c).(color.Gray).Y
	}
	return g
}
