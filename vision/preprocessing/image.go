package preprocessing

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"
	"sync"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// Channels is the number of color planes fed to the network
const Channels = 3

// ImageNet channel statistics applied when the network starts from
// pretrained weights
var (
	ImageNetMean = [Channels]float64{0.485, 0.456, 0.406}
	ImageNetStd  = [Channels]float64{0.229, 0.224, 0.225}
)

// Transform describes the preprocessing applied to every input image:
// resize the shorter side to Size, center crop Size x Size, scale to [0, 1]
// and, when Pretrained is set, normalize with the ImageNet statistics.
type Transform struct {
	Size       int
	Pretrained bool
}

// Numel returns the number of values produced per image
func (t Transform) Numel() int {
	return Channels * t.Size * t.Size
}

func (t Transform) validate() error {
	if t.Size <= 0 {
		return fmt.Errorf("transform size must be positive, got %d", t.Size)
	}
	return nil
}

// ImageProcessor applies a Transform, reusing its resize buffer between images.
// A processor is safe for concurrent use but serializes its work.
type ImageProcessor struct {
	mu        sync.Mutex
	transform Transform
	resized   *image.RGBA
}

// NewImageProcessor creates a new image processor for the transform
func NewImageProcessor(transform Transform) (*ImageProcessor, error) {
	if err := transform.validate(); err != nil {
		return nil, err
	}
	return &ImageProcessor{transform: transform}, nil
}

// Transform returns the transform applied by the processor
func (p *ImageProcessor) Transform() Transform {
	return p.transform
}

// Decode reads a JPEG, PNG or BMP image
func Decode(reader io.Reader) (image.Image, error) {
	img, format, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("empty %s image", format)
	}
	return img, nil
}

// DecodeAndPreprocess decodes an image and preprocesses it for network input.
// Returns data in CHW format (channels, height, width).
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) ([]float64, error) {
	img, err := Decode(reader)
	if err != nil {
		return nil, err
	}
	return p.Process(img)
}

// ProcessFile reads and preprocesses the image at path
func (p *ImageProcessor) ProcessFile(path string) ([]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := p.DecodeAndPreprocess(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

// Process applies the transform to a decoded image
func (p *ImageProcessor) Process(img image.Image) ([]float64, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("empty image")
	}
	size := p.transform.Size
	width, height := resizedShape(bounds.Dx(), bounds.Dy(), size)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.resized == nil || p.resized.Bounds().Dx() != width || p.resized.Bounds().Dy() != height {
		p.resized = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	draw.BiLinear.Scale(p.resized, p.resized.Bounds(), img, bounds, draw.Src, nil)

	top := int(math.Round(float64(height-size) / 2))
	left := int(math.Round(float64(width-size) / 2))

	plane := size * size
	data := make([]float64, Channels*plane)
	for y := 0; y < size; y++ {
		row := p.resized.Pix[(top+y)*p.resized.Stride:]
		for x := 0; x < size; x++ {
			px := row[(left+x)*4:]
			idx := y*size + x
			for c := 0; c < Channels; c++ {
				v := float64(px[c]) / 255.0
				if p.transform.Pretrained {
					v = (v - ImageNetMean[c]) / ImageNetStd[c]
				}
				data[c*plane+idx] = v
			}
		}
	}
	return data, nil
}

// resizedShape scales the shorter side to size, keeping the aspect ratio
func resizedShape(width, height, size int) (int, int) {
	if width <= height {
		return size, max(size, int(float64(size)*float64(height)/float64(width)))
	}
	return max(size, int(float64(size)*float64(width)/float64(height))), size
}

// PreprocessBatch preprocesses multiple images concurrently. Results are in the
// order of imagePaths; the first failing image aborts the batch.
func PreprocessBatch(imagePaths []string, transform Transform, maxWorkers int) ([][]float64, error) {
	if err := transform.validate(); err != nil {
		return nil, err
	}
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if maxWorkers > len(imagePaths) {
		maxWorkers = len(imagePaths)
	}

	results := make([][]float64, len(imagePaths))
	errors := make([]error, len(imagePaths))

	// Create worker pool
	type job struct {
		index int
		path  string
	}

	jobs := make(chan job, len(imagePaths))
	var wg sync.WaitGroup

	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor := &ImageProcessor{transform: transform}

			for j := range jobs {
				results[j.index], errors[j.index] = processor.ProcessFile(j.path)
			}
		}()
	}

	for i, path := range imagePaths {
		jobs <- job{index: i, path: path}
	}
	close(jobs)

	wg.Wait()

	for i, err := range errors {
		if err != nil {
			return nil, fmt.Errorf("failed to process image %d: %w", i, err)
		}
	}

	return results, nil
}
