package preview

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"gorgonia.org/tensor"
)

func grayImage(size int, v float64) *tensor.Dense {
	data := make([]float64, 3*size*size)
	for i := range data {
		data[i] = v
	}
	return tensor.New(tensor.WithShape(3, size, size), tensor.WithBacking(data))
}

// countColor counts pixels of an exact color inside rows [top, bottom)
func countColor(img *image.RGBA, c color.RGBA, top, bottom int) int {
	n := 0
	for y := top; y < bottom; y++ {
		for x := 0; x < img.Bounds().Dx(); x++ {
			if img.RGBAAt(x, y) == c {
				n++
			}
		}
	}
	return n
}

func TestCompose(t *testing.T) {
	out, err := Compose(grayImage(8, 0), "Step: 10 - cat", "Pred: cat", true)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if out.Bounds().Dx() != Width || out.Bounds().Dy() != 8+2*BannerHeight {
		t.Fatalf("Unexpected size %v", out.Bounds())
	}

	// image is centred, padding is white
	left := (Width - 8) / 2
	if got := out.RGBAAt(left, 0); got != (color.RGBA{A: 255}) {
		t.Errorf("Expected black image pixel, got %v", got)
	}
	white := color.RGBA{255, 255, 255, 255}
	if got := out.RGBAAt(left-1, 0); got != white {
		t.Errorf("Expected white left padding, got %v", got)
	}
	if got := out.RGBAAt(left+8, 0); got != white {
		t.Errorf("Expected white right padding, got %v", got)
	}

	if countColor(out, textColor, 8, 8+BannerHeight) == 0 {
		t.Error("Expected black ground truth text")
	}
	predTop := 8 + BannerHeight
	if countColor(out, correctColor, predTop, predTop+BannerHeight) == 0 {
		t.Error("Expected green prediction text")
	}
	if countColor(out, wrongColor, predTop, predTop+BannerHeight) != 0 {
		t.Error("Expected no red for a correct prediction")
	}
}

func TestComposeWrongPrediction(t *testing.T) {
	out, err := Compose(grayImage(4, 1), "Step: 1 - dog", "Pred: cat", false)
	if err != nil {
		t.Fatal(err)
	}
	predTop := 4 + BannerHeight
	if countColor(out, wrongColor, predTop, predTop+BannerHeight) == 0 {
		t.Error("Expected red prediction text")
	}
	if countColor(out, correctColor, predTop, predTop+BannerHeight) != 0 {
		t.Error("Expected no green for a wrong prediction")
	}
}

func TestComposeWideImage(t *testing.T) {
	data := make([]float64, 600*2)
	img := tensor.New(tensor.WithShape(1, 2, 600), tensor.WithBacking(data))
	out, err := Compose(img, "a", "b", true)
	if err != nil {
		t.Fatal(err)
	}
	if out.Bounds().Dx() != 600 {
		t.Errorf("Expected wide images to keep their width, got %d", out.Bounds().Dx())
	}
}

func TestComposeInvalid(t *testing.T) {
	if _, err := Compose(nil, "", "", true); err == nil {
		t.Error("Expected error for nil image")
	}
	bad := tensor.New(tensor.WithShape(2, 4, 4), tensor.WithBacking(make([]float64, 32)))
	if _, err := Compose(bad, "", "", true); err == nil {
		t.Error("Expected error for two channel image")
	}
}

func TestToByte(t *testing.T) {
	tests := map[float64]uint8{-1: 0, 0: 0, 0.5: 128, 1: 255, 2: 255}
	for in, want := range tests {
		if got := toByte(in); got != want {
			t.Errorf("toByte(%v) = %d, expected %d", in, got, want)
		}
	}
}

func TestSavePNG(t *testing.T) {
	out, err := Compose(grayImage(4, 0.5), "gt", "pred", true)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "preview.png")
	if err := SavePNG(path, out); err != nil {
		t.Fatalf("SavePNG failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode saved preview: %v", err)
	}
	if decoded.Bounds() != out.Bounds() {
		t.Errorf("Expected bounds %v, got %v", out.Bounds(), decoded.Bounds())
	}

	if err := SavePNG(filepath.Join(t.TempDir(), "missing", "x.png"), out); err == nil {
		t.Error("Expected error for missing directory")
	}
}
