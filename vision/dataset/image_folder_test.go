package dataset

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// createTestDataset creates a temporary directory structure with small PNG images
func createTestDataset(t *testing.T, counts map[string]int) string {
	t.Helper()
	tempDir := t.TempDir()

	for className, n := range counts {
		classDir := filepath.Join(tempDir, className)
		if err := os.MkdirAll(classDir, 0755); err != nil {
			t.Fatalf("Failed to create class directory %s: %v", classDir, err)
		}
		for i := 0; i < n; i++ {
			writePNG(t, filepath.Join(classDir, fmt.Sprintf("image_%d.png", i)))
		}
	}
	return tempDir
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode %s: %v", path, err)
	}
}

func TestNewImageFolderDataset(t *testing.T) {
	tempDir := createTestDataset(t, map[string]int{"dog": 2, "cat": 3, "bird": 1})

	ds, err := NewImageFolderDataset(tempDir, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if ds.Len() != 6 {
		t.Errorf("Expected 6 images, got %d", ds.Len())
	}
	if ds.NumClasses() != 3 {
		t.Errorf("Expected 3 classes, got %d", ds.NumClasses())
	}

	// classes are sorted by name
	want := []string{"bird", "cat", "dog"}
	for i, name := range ds.ClassNames() {
		if name != want[i] {
			t.Errorf("Expected class %d to be %s, got %s", i, want[i], name)
		}
	}
	if idx, ok := ds.ClassIndex("dog"); !ok || idx != 2 {
		t.Errorf("Expected dog at index 2, got %d (%v)", idx, ok)
	}

	dist := ds.ClassDistribution()
	if dist["bird"] != 1 || dist["cat"] != 3 || dist["dog"] != 2 {
		t.Errorf("Unexpected distribution %v", dist)
	}

	path, label, err := ds.GetItem(0)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if label != 0 || !strings.Contains(path, "bird") {
		t.Errorf("Expected first item to be the bird image, got %s (%d)", path, label)
	}
	if _, _, err := ds.GetItem(6); err == nil {
		t.Error("Expected error for out of range index")
	}
	if _, _, err := ds.GetItem(-1); err == nil {
		t.Error("Expected error for negative index")
	}
}

func TestImageFolderDatasetExtensions(t *testing.T) {
	tempDir := createTestDataset(t, map[string]int{"a": 1})
	// upper case extension is accepted, unrelated files are ignored
	writePNG(t, filepath.Join(tempDir, "a", "UPPER.PNG"))
	if err := os.WriteFile(filepath.Join(tempDir, "a", "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	// loose files at the root are not classes
	if err := os.WriteFile(filepath.Join(tempDir, "README"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	ds, err := NewImageFolderDataset(tempDir, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ds.Len() != 2 {
		t.Errorf("Expected 2 images, got %d", ds.Len())
	}
	if ds.NumClasses() != 1 {
		t.Errorf("Expected 1 class, got %d", ds.NumClasses())
	}

	ds, err = NewImageFolderDataset(tempDir, []string{".jpg"})
	if err == nil {
		t.Errorf("Expected error when no image matches, got %d images", ds.Len())
	}
}

func TestImageFolderDatasetErrors(t *testing.T) {
	if _, err := NewImageFolderDataset(filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Error("Expected error for missing root")
	}
	if _, err := NewImageFolderDataset(t.TempDir(), nil); err == nil {
		t.Error("Expected error for root without classes")
	}
}

func TestClassWeights(t *testing.T) {
	tempDir := createTestDataset(t, map[string]int{"a": 1, "b": 3})
	if err := os.MkdirAll(filepath.Join(tempDir, "c"), 0755); err != nil {
		t.Fatal(err)
	}

	ds, err := NewImageFolderDataset(tempDir, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	weights := ds.ClassWeights()
	want := []float64{4.0 / 3.0, 4.0 / 9.0, 0}
	if len(weights) != len(want) {
		t.Fatalf("Expected %d weights, got %d", len(want), len(weights))
	}
	for i := range want {
		if math.Abs(weights[i]-want[i]) > 1e-12 {
			t.Errorf("Weight %d: expected %f, got %f", i, want[i], weights[i])
		}
	}
}

func TestDatasetString(t *testing.T) {
	ds, err := NewImageFolderDataset(createTestDataset(t, map[string]int{"x": 2}), nil)
	if err != nil {
		t.Fatal(err)
	}
	s := ds.String()
	if !strings.Contains(s, "2 samples, 1 classes") || !strings.Contains(s, "x: 2 samples") {
		t.Errorf("Unexpected string %q", s)
	}
}
