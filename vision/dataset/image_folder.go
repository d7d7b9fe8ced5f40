package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions are the image file extensions picked up when none are given
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// ImageFolderDataset represents a dataset loaded from a directory structure
// where each subdirectory represents a class:
//
//	root/<class>/<image>
//
// Classes are indexed in lexical order of their directory names and images
// in lexical order within a class.
type ImageFolderDataset struct {
	root       string
	imagePaths []string
	labels     []int
	classNames []string
	classToIdx map[string]int
}

// NewImageFolderDataset creates a dataset from a directory structure.
// Extensions are matched case-insensitively.
func NewImageFolderDataset(root string, extensions []string) (*ImageFolderDataset, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = true
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}

	dataset := &ImageFolderDataset{
		root:       root,
		classToIdx: make(map[string]int),
	}

	// os.ReadDir returns entries sorted by name
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		className := entry.Name()
		classIdx := len(dataset.classNames)
		dataset.classNames = append(dataset.classNames, className)
		dataset.classToIdx[className] = classIdx

		files, err := listImages(filepath.Join(root, className), allowed)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			dataset.imagePaths = append(dataset.imagePaths, file)
			dataset.labels = append(dataset.labels, classIdx)
		}
	}

	if len(dataset.classNames) == 0 {
		return nil, fmt.Errorf("no class directories found in %s", root)
	}
	if len(dataset.imagePaths) == 0 {
		return nil, fmt.Errorf("no images found in %s", root)
	}

	return dataset, nil
}

// listImages walks a class directory, including nested folders
func listImages(dir string, allowed map[string]bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if allowed[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list images in %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// Root returns the directory the dataset was read from
func (d *ImageFolderDataset) Root() string { return d.root }

// Len returns the number of items in the dataset
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// GetItem returns the image path and label at the given index
func (d *ImageFolderDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

// NumClasses returns the number of classes
func (d *ImageFolderDataset) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns the list of class names
func (d *ImageFolderDataset) ClassNames() []string {
	return append([]string(nil), d.classNames...)
}

// ClassIndex returns the label of a class name
func (d *ImageFolderDataset) ClassIndex(name string) (int, bool) {
	idx, ok := d.classToIdx[name]
	return idx, ok
}

// ClassCounts returns the number of samples per class index
func (d *ImageFolderDataset) ClassCounts() []int {
	counts := make([]int, len(d.classNames))
	for _, label := range d.labels {
		counts[label]++
	}
	return counts
}

// ClassDistribution returns the distribution of samples per class
func (d *ImageFolderDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int, len(d.classNames))
	for i, count := range d.ClassCounts() {
		dist[d.classNames[i]] = count
	}
	return dist
}

// ClassWeights returns balanced loss weights, total / (classes * count) per
// class. Empty classes get weight 0.
func (d *ImageFolderDataset) ClassWeights() []float64 {
	counts := d.ClassCounts()
	weights := make([]float64, len(counts))
	total := float64(len(d.labels))
	for i, count := range counts {
		if count > 0 {
			weights[i] = total / (float64(len(counts)) * float64(count))
		}
	}
	return weights
}

// String returns a string representation of the dataset
func (d *ImageFolderDataset) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ImageFolderDataset: %d samples, %d classes\n", len(d.imagePaths), len(d.classNames))
	sb.WriteString("Class distribution:\n")

	for i, count := range d.ClassCounts() {
		fmt.Fprintf(&sb, "  %s: %d samples\n", d.classNames[i], count)
	}
	return sb.String()
}
