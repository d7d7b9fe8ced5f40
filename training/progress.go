package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// ProgressBar provides PyTorch-style training progress visualization
type ProgressBar struct {
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	metrics     map[string]float64
	out         io.Writer
}

// NewProgressBar creates a new progress bar writing to stdout
func NewProgressBar(description string, total int) *ProgressBar {
	return &ProgressBar{
		description: description,
		total:       total,
		current:     0,
		startTime:   time.Now(),
		width:       40, // Character width of progress bar
		showRate:    true,
		showETA:     true,
		metrics:     make(map[string]float64),
		out:         os.Stdout,
	}
}

// SetOutput redirects rendering, mainly for tests
func (pb *ProgressBar) SetOutput(w io.Writer) {
	pb.out = w
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// UpdateMetrics updates metrics without advancing progress
func (pb *ProgressBar) UpdateMetrics(metrics map[string]float64) {
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out) // New line after completion
}

// Line returns the current progress line without the leading carriage return
func (pb *ProgressBar) Line() string {
	percentage := 1.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	if filled > pb.width {
		filled = pb.width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	// Calculate timing information
	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			totalTime := time.Duration(float64(elapsed) / percentage)
			eta = totalTime - elapsed
		}
	}

	line := fmt.Sprintf("%s: %3.0f%%|%s| %d/%d",
		pb.description,
		percentage*100,
		bar,
		pb.current,
		pb.total,
	)

	if pb.showETA && eta > 0 {
		line += fmt.Sprintf(" [%s<%s", formatDuration(elapsed), formatDuration(eta))
	} else {
		line += fmt.Sprintf(" [%s<00:00", formatDuration(elapsed))
	}

	if pb.showRate && rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	// Metrics in a stable order
	keys := make([]string, 0, len(pb.metrics))
	for key := range pb.metrics {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := pb.metrics[key]
		if strings.Contains(key, "acc") {
			line += fmt.Sprintf(", %s=%.2f%%", key, value*100)
		} else {
			line += fmt.Sprintf(", %s=%.4f", key, value)
		}
	}

	return line + "]"
}

// render draws the progress bar; the carriage return overwrites the previous line
func (pb *ProgressBar) render() {
	fmt.Fprint(pb.out, "\r"+pb.Line())
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// TrainingSession tracks epochs of a training run and reports their progress
type TrainingSession struct {
	modelName     string
	epochs        int
	stepsPerEpoch int
	currentEpoch  int
	out           io.Writer

	trainProgress *ProgressBar

	// Metrics tracking
	trainLoss     float64
	lossSum       float64
	lossCount     int
	trainAccuracy float64
}

// NewTrainingSession creates a new training session with progress visualization
func NewTrainingSession(modelName string, epochs, stepsPerEpoch int) *TrainingSession {
	return &TrainingSession{
		modelName:     modelName,
		epochs:        epochs,
		stepsPerEpoch: stepsPerEpoch,
		trainAccuracy: -1,
		out:           os.Stdout,
	}
}

// SetOutput redirects rendering, mainly for tests
func (ts *TrainingSession) SetOutput(w io.Writer) {
	ts.out = w
}

// StartEpoch begins a new epoch
func (ts *TrainingSession) StartEpoch(epoch int) {
	ts.currentEpoch = epoch
	ts.lossSum, ts.lossCount = 0, 0
	ts.trainAccuracy = -1

	description := fmt.Sprintf("%s epoch %d/%d", ts.modelName, epoch, ts.epochs)
	ts.trainProgress = NewProgressBar(description, ts.stepsPerEpoch)
	ts.trainProgress.SetOutput(ts.out)
}

// UpdateTrainingProgress records the loss of a step. accuracy < 0 is not shown.
func (ts *TrainingSession) UpdateTrainingProgress(step int, loss float64, accuracy float64) {
	ts.trainLoss = loss
	ts.lossSum += loss
	ts.lossCount++
	ts.trainAccuracy = accuracy

	metrics := map[string]float64{
		"loss": loss,
	}
	if accuracy >= 0 {
		metrics["accuracy"] = accuracy
	}
	ts.trainProgress.Update(step, metrics)
}

// FinishTrainingEpoch completes the training phase of an epoch
func (ts *TrainingSession) FinishTrainingEpoch() {
	if ts.trainProgress != nil {
		ts.trainProgress.Finish()
	}
}

// MeanLoss returns the average loss of the current epoch
func (ts *TrainingSession) MeanLoss() float64 {
	if ts.lossCount == 0 {
		return 0
	}
	return ts.lossSum / float64(ts.lossCount)
}

// PrintEpochSummary prints a summary of the completed epoch
func (ts *TrainingSession) PrintEpochSummary() {
	fmt.Fprintf(ts.out, "Epoch %d/%d Summary:\n", ts.currentEpoch, ts.epochs)
	fmt.Fprintf(ts.out, "  Training - Loss: %.4f (last %.4f)", ts.MeanLoss(), ts.trainLoss)
	if ts.trainAccuracy >= 0 {
		fmt.Fprintf(ts.out, ", Accuracy: %.2f%%", ts.trainAccuracy*100)
	}
	fmt.Fprintln(ts.out)
	fmt.Fprintln(ts.out)
}
