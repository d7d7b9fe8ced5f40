package training

import (
	"math"
	"testing"
)

const tolerance = 1e-9

// TestMetricTypeString tests the string representation of MetricType
func TestMetricTypeString(t *testing.T) {
	tests := []struct {
		metric   MetricType
		expected string
	}{
		{Precision, "Precision"},
		{Recall, "Recall"},
		{F1Score, "F1Score"},
		{MacroPrecision, "MacroPrecision"},
		{MacroRecall, "MacroRecall"},
		{MacroF1, "MacroF1"},
		{MicroF1, "MicroF1"},
		{AUCROC, "AUCROC"},
		{MetricType(999), "Unknown(999)"},
	}

	for _, test := range tests {
		result := test.metric.String()
		if result != test.expected {
			t.Errorf("MetricType(%d).String() = %s, expected %s", test.metric, result, test.expected)
		}
	}
}

func TestConfusionMatrixBinary(t *testing.T) {
	cm := NewConfusionMatrix(2)
	// TP=3, FN=1, FP=2, TN=4
	gts := []int{1, 1, 1, 1, 0, 0, 0, 0, 0, 0}
	preds := []int{1, 1, 1, 0, 1, 1, 0, 0, 0, 0}
	if err := cm.Update(gts, preds); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if got := cm.GetAccuracy(); math.Abs(got-0.7) > tolerance {
		t.Errorf("Expected accuracy 0.7, got %f", got)
	}
	if got := cm.GetMetric(Precision); math.Abs(got-0.6) > tolerance {
		t.Errorf("Expected precision 0.6, got %f", got)
	}
	if got := cm.GetMetric(Recall); math.Abs(got-0.75) > tolerance {
		t.Errorf("Expected recall 0.75, got %f", got)
	}
	wantF1 := 2 * 0.6 * 0.75 / 1.35
	if got := cm.GetMetric(F1Score); math.Abs(got-wantF1) > tolerance {
		t.Errorf("Expected F1 %f, got %f", wantF1, got)
	}

	cm.Reset()
	if cm.TotalSamples != 0 || cm.GetAccuracy() != 0 {
		t.Error("Expected empty matrix after reset")
	}
	if err := cm.Update([]int{2}, []int{0}); err == nil {
		t.Error("Expected error for out of range class")
	}
}

func TestCalculateF1Score(t *testing.T) {
	tests := []struct {
		name  string
		gts   []int
		preds []int
		want  float64
	}{
		{"perfect", []int{0, 1, 2}, []int{0, 1, 2}, 1},
		{"all wrong", []int{0, 0}, []int{1, 1}, 0},
		// class 0 is never predicted (F1 0); class 1 has P=0.5 R=1 (F1 2/3)
		{"one of two", []int{0, 1}, []int{1, 1}, 1.0 / 3.0},
		{"half", []int{0, 0, 1, 1}, []int{0, 1, 1, 0}, 0.5},
		// labels need not be contiguous; macro over {3, 7}
		{"sparse labels", []int{7, 7, 3}, []int{7, 3, 3}, 2.0 / 3.0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateF1Score(tt.gts, tt.preds); math.Abs(got-tt.want) > tolerance {
				t.Errorf("Expected %f, got %f", tt.want, got)
			}
		})
	}
}

func TestMulticlassROCAUCScore(t *testing.T) {
	tests := []struct {
		name  string
		gts   []int
		preds []int
		want  float64
	}{
		{"perfect", []int{0, 1, 0, 1}, []int{0, 1, 0, 1}, 1},
		{"inverted", []int{0, 1}, []int{1, 0}, 0},
		{"one of two", []int{0, 1}, []int{1, 1}, 0.5},
		// only one class in the ground truth: no class can be scored
		{"single class", []int{1, 1}, []int{1, 0}, 0},
		{"three classes", []int{0, 1, 2}, []int{0, 1, 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MulticlassROCAUCScore(tt.gts, tt.preds); math.Abs(got-tt.want) > tolerance {
				t.Errorf("Expected %f, got %f", tt.want, got)
			}
		})
	}
}

func TestCalculateAUCROC(t *testing.T) {
	scores := []float64{0.9, 0.8, 0.7, 0.6, 0.55, 0.4}
	labels := []int{1, 1, 0, 1, 0, 0}
	// 9 positive/negative pairs, 8 ranked correctly
	if got := CalculateAUCROC(scores, labels); math.Abs(got-8.0/9.0) > tolerance {
		t.Errorf("Expected 8/9, got %f", got)
	}

	// all scores tied: the curve is the diagonal
	if got := CalculateAUCROC([]float64{0.5, 0.5, 0.5, 0.5}, []int{1, 0, 1, 0}); math.Abs(got-0.5) > tolerance {
		t.Errorf("Expected 0.5 for tied scores, got %f", got)
	}

	if got := CalculateAUCROC([]float64{0.1, 0.2}, []int{1, 1}); got != 0 {
		t.Errorf("Expected 0 without negatives, got %f", got)
	}
}

func TestROCCurveEndpoints(t *testing.T) {
	curve := ROCCurve([]float64{0.3, 0.9, 0.1}, []int{0, 1, 0})
	if len(curve) != 4 {
		t.Fatalf("Expected 4 points, got %d", len(curve))
	}
	first, last := curve[0], curve[len(curve)-1]
	if first.TPR != 0 || first.FPR != 0 || last.TPR != 1 || last.FPR != 1 {
		t.Errorf("Expected curve from (0,0) to (1,1), got %+v .. %+v", first, last)
	}
}
