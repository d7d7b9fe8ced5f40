package preprocessing

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

func solidImage(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func writeImage(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch filepath.Ext(path) {
	case ".png":
		err = png.Encode(&buf, img)
	case ".bmp":
		err = bmp.Encode(&buf, img)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	}
	if err != nil {
		t.Fatalf("Failed to encode %s: %v", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestNewImageProcessor(t *testing.T) {
	if _, err := NewImageProcessor(Transform{Size: 0}); err == nil {
		t.Error("Expected error for zero size")
	}
	p, err := NewImageProcessor(Transform{Size: 8})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if p.Transform().Numel() != 3*8*8 {
		t.Errorf("Expected %d values, got %d", 3*8*8, p.Transform().Numel())
	}
}

func TestProcessSolidColor(t *testing.T) {
	p, err := NewImageProcessor(Transform{Size: 4})
	if err != nil {
		t.Fatal(err)
	}
	data, err := p.Process(solidImage(10, 6, color.RGBA{R: 255, G: 0, B: 51, A: 255}))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(data) != 3*16 {
		t.Fatalf("Expected 48 values, got %d", len(data))
	}
	want := []float64{1, 0, 0.2}
	for c := 0; c < 3; c++ {
		for i := 0; i < 16; i++ {
			if v := data[c*16+i]; math.Abs(v-want[c]) > 1e-9 {
				t.Fatalf("Channel %d pixel %d: expected %f, got %f", c, i, want[c], v)
			}
		}
	}
}

func TestProcessPretrainedNormalization(t *testing.T) {
	p, err := NewImageProcessor(Transform{Size: 2, Pretrained: true})
	if err != nil {
		t.Fatal(err)
	}
	data, err := p.Process(solidImage(2, 2, color.RGBA{R: 255, G: 255, B: 255, A: 255}))
	if err != nil {
		t.Fatal(err)
	}
	for c := 0; c < 3; c++ {
		want := (1 - ImageNetMean[c]) / ImageNetStd[c]
		if math.Abs(data[c*4]-want) > 1e-9 {
			t.Errorf("Channel %d: expected %f, got %f", c, want, data[c*4])
		}
	}
}

func TestProcessCenterCrop(t *testing.T) {
	// left half black, right half white; after the shorter side is scaled to
	// 4 the crop keeps the middle of a 12x4 image, half of each
	img := solidImage(6, 2, color.RGBA{A: 255})
	for y := 0; y < 2; y++ {
		for x := 3; x < 6; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	p, err := NewImageProcessor(Transform{Size: 4})
	if err != nil {
		t.Fatal(err)
	}
	data, err := p.Process(img)
	if err != nil {
		t.Fatal(err)
	}
	if data[0] > 0.1 {
		t.Errorf("Expected dark left edge, got %f", data[0])
	}
	if data[3] < 0.9 {
		t.Errorf("Expected bright right edge, got %f", data[3])
	}
}

func TestResizedShape(t *testing.T) {
	tests := []struct {
		w, h, size int
		wantW      int
		wantH      int
	}{
		{10, 10, 5, 5, 5},
		{20, 10, 5, 10, 5},
		{10, 30, 5, 5, 15},
		{3, 4, 224, 224, 298},
	}
	for _, tt := range tests {
		w, h := resizedShape(tt.w, tt.h, tt.size)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("resizedShape(%d, %d, %d) = (%d, %d), expected (%d, %d)",
				tt.w, tt.h, tt.size, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestDecodeFormats(t *testing.T) {
	dir := t.TempDir()
	p, err := NewImageProcessor(Transform{Size: 3})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.png", "b.bmp", "c.jpg"} {
		path := filepath.Join(dir, name)
		writeImage(t, path, solidImage(5, 7, color.RGBA{R: 128, G: 128, B: 128, A: 255}))
		data, err := p.ProcessFile(path)
		if err != nil {
			t.Errorf("%s: unexpected error %v", name, err)
			continue
		}
		if math.Abs(data[0]-128.0/255.0) > 0.03 {
			t.Errorf("%s: expected mid gray, got %f", name, data[0])
		}
	}

	if _, err := Decode(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Error("Expected error decoding garbage")
	}
	if _, err := p.ProcessFile(filepath.Join(dir, "missing.png")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestPreprocessBatch(t *testing.T) {
	dir := t.TempDir()
	shades := []uint8{0, 100, 200, 255, 50}
	paths := make([]string, len(shades))
	for i, s := range shades {
		paths[i] = filepath.Join(dir, string(rune('a'+i))+".png")
		writeImage(t, paths[i], solidImage(6, 6, color.RGBA{R: s, G: s, B: s, A: 255}))
	}

	results, err := PreprocessBatch(paths, Transform{Size: 4}, 3)
	if err != nil {
		t.Fatalf("PreprocessBatch failed: %v", err)
	}
	if len(results) != len(paths) {
		t.Fatalf("Expected %d results, got %d", len(paths), len(results))
	}
	// results keep input order
	for i, s := range shades {
		if want := float64(s) / 255; math.Abs(results[i][0]-want) > 1e-9 {
			t.Errorf("Image %d: expected %f, got %f", i, want, results[i][0])
		}
	}

	bad := append(append([]string(nil), paths...), filepath.Join(dir, "missing.png"))
	if _, err := PreprocessBatch(bad, Transform{Size: 4}, 2); err == nil {
		t.Error("Expected error when one image is missing")
	}
	if _, err := PreprocessBatch(paths, Transform{}, 2); err == nil {
		t.Error("Expected error for invalid transform")
	}
}
