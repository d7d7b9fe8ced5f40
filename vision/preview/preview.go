// Package preview renders labeled copies of network inputs for visual
// inspection during training.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gorgonia.org/tensor"
)

const (
	// Width is the minimum width of a rendered preview
	Width = 500
	// BannerHeight is the height of each text banner
	BannerHeight = 40
)

var (
	textColor    = color.RGBA{A: 255}
	correctColor = color.RGBA{G: 255, A: 255}
	wrongColor   = color.RGBA{R: 255, A: 255}
)

// Compose renders a CHW image with values in [0, 1], centred and padded with
// white to at least Width pixels, followed by a ground truth banner and a prediction
// banner. The prediction is green when correct and red otherwise.
func Compose(img *tensor.Dense, gtText, predText string, correct bool) (*image.RGBA, error) {
	picture, err := toRGBA(img)
	if err != nil {
		return nil, err
	}
	bounds := picture.Bounds()
	width := max(Width, bounds.Dx())
	height := bounds.Dy() + 2*BannerHeight

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	left := (width - bounds.Dx()) / 2
	draw.Draw(out, bounds.Add(image.Pt(left, 0)), picture, image.Point{}, draw.Src)

	predColor := wrongColor
	if correct {
		predColor = correctColor
	}
	drawCentered(out, gtText, textColor, bounds.Dy())
	drawCentered(out, predText, predColor, bounds.Dy()+BannerHeight)
	return out, nil
}

// toRGBA converts a (C, H, W) tensor with one or three channels
func toRGBA(img *tensor.Dense) (*image.RGBA, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	shape := img.Shape()
	if len(shape) != 3 || (shape[0] != 1 && shape[0] != 3) {
		return nil, fmt.Errorf("expected a (C, H, W) image with 1 or 3 channels, got shape %v", shape)
	}
	var data []float64
	switch backing := img.Data().(type) {
	case []float64:
		data = backing
	case []float32:
		data = make([]float64, len(backing))
		for i, v := range backing {
			data[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("unsupported image dtype %v", img.Dtype())
	}

	channels, height, width := shape[0], shape[1], shape[2]
	plane := height * width
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			px := out.Pix[y*out.Stride+x*4:]
			for c := 0; c < 3; c++ {
				src := c
				if channels == 1 {
					src = 0
				}
				px[c] = toByte(data[src*plane+idx])
			}
			px[3] = 255
		}
	}
	return out, nil
}

func toByte(v float64) uint8 {
	v *= 255
	switch {
	case v != v || v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}

// drawCentered writes text centred in the banner starting at row top
func drawCentered(dst *image.RGBA, text string, c color.Color, top int) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
	}
	textWidth := d.MeasureString(text).Round()
	metrics := face.Metrics()
	textHeight := (metrics.Ascent + metrics.Descent).Round()

	x := (dst.Bounds().Dx() - textWidth) / 2
	y := top + (BannerHeight-textHeight)/2 + metrics.Ascent.Round()
	d.Dot = fixed.P(x, y)
	d.DrawString(text)
}

// SavePNG writes img to path
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create preview: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode preview: %w", err)
	}
	return f.Close()
}
