package training

import (
	"fmt"
	"sort"
)

// MetricType represents different evaluation metrics
type MetricType int

const (
	// Binary Classification Metrics
	Precision MetricType = iota
	Recall
	F1Score

	// Multi-class Metrics
	MacroPrecision
	MacroRecall
	MacroF1
	MicroF1

	// Ranking Metrics
	AUCROC
)

func (mt MetricType) String() string {
	switch mt {
	case Precision:
		return "Precision"
	case Recall:
		return "Recall"
	case F1Score:
		return "F1Score"
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	case MicroF1:
		return "MicroF1"
	case AUCROC:
		return "AUCROC"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix represents a confusion matrix for classification tasks
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
}

// Update adds label/prediction pairs to the matrix
func (cm *ConfusionMatrix) Update(trueLabels, predictions []int) error {
	if len(trueLabels) != len(predictions) {
		return fmt.Errorf("labels length mismatch: %d labels, %d predictions", len(trueLabels), len(predictions))
	}
	for i, trueClass := range trueLabels {
		predClass := predictions[i]
		if trueClass < 0 || trueClass >= cm.NumClasses || predClass < 0 || predClass >= cm.NumClasses {
			return fmt.Errorf("class index out of range at %d: true %d, predicted %d", i, trueClass, predClass)
		}
		cm.Matrix[trueClass][predClass]++
		cm.TotalSamples++
	}
	return nil
}

// GetMetric calculates evaluation metrics from the current counts
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	switch metric {
	case Precision:
		return cm.precision(1)
	case Recall:
		return cm.recall(1)
	case F1Score:
		return f1(cm.precision(1), cm.recall(1))
	case MacroPrecision:
		return cm.macro(cm.precision)
	case MacroRecall:
		return cm.macro(cm.recall)
	case MacroF1:
		return cm.macro(func(c int) float64 { return f1(cm.precision(c), cm.recall(c)) })
	case MicroF1:
		// every misclassification is one false positive and one false negative
		return cm.GetAccuracy()
	default:
		return 0.0
	}
}

func (cm *ConfusionMatrix) precision(class int) float64 {
	if class >= cm.NumClasses {
		return 0
	}
	tp := float64(cm.Matrix[class][class])
	predicted := 0.0
	for trueClass := 0; trueClass < cm.NumClasses; trueClass++ {
		predicted += float64(cm.Matrix[trueClass][class])
	}
	if predicted == 0 {
		return 0
	}
	return tp / predicted
}

func (cm *ConfusionMatrix) recall(class int) float64 {
	if class >= cm.NumClasses {
		return 0
	}
	tp := float64(cm.Matrix[class][class])
	actual := 0.0
	for predClass := 0; predClass < cm.NumClasses; predClass++ {
		actual += float64(cm.Matrix[class][predClass])
	}
	if actual == 0 {
		return 0
	}
	return tp / actual
}

// macro averages a per-class score over classes that appear as a label or a
// prediction
func (cm *ConfusionMatrix) macro(score func(class int) float64) float64 {
	sum := 0.0
	present := 0
	for class := 0; class < cm.NumClasses; class++ {
		if !cm.present(class) {
			continue
		}
		sum += score(class)
		present++
	}
	if present == 0 {
		return 0
	}
	return sum / float64(present)
}

func (cm *ConfusionMatrix) present(class int) bool {
	for other := 0; other < cm.NumClasses; other++ {
		if cm.Matrix[class][other] > 0 || cm.Matrix[other][class] > 0 {
			return true
		}
	}
	return false
}

func f1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// GetAccuracy returns overall classification accuracy
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

// labelIndex maps every label found in either list to a dense class index,
// ordered by label value
func labelIndex(gts, preds []int) map[int]int {
	seen := make(map[int]bool)
	for _, l := range gts {
		seen[l] = true
	}
	for _, l := range preds {
		seen[l] = true
	}
	labels := make([]int, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Ints(labels)

	index := make(map[int]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	return index
}

// CalculateF1Score returns the macro-averaged F1 score over every label that
// occurs in the ground truth or the predictions. Classes with no true or
// predicted positives contribute 0.
func CalculateF1Score(gts, preds []int) float64 {
	if len(gts) != len(preds) || len(gts) == 0 {
		return 0
	}
	index := labelIndex(gts, preds)
	cm := NewConfusionMatrix(len(index))
	for i := range gts {
		cm.Matrix[index[gts[i]]][index[preds[i]]]++
		cm.TotalSamples++
	}
	return cm.GetMetric(MacroF1)
}

// MulticlassROCAUCScore binarizes labels and predictions one-vs-rest over
// every label present and returns the macro average ROC AUC across classes
// that have both positive and negative ground truth. It returns 0 when no
// class qualifies.
func MulticlassROCAUCScore(gts, preds []int) float64 {
	if len(gts) != len(preds) || len(gts) == 0 {
		return 0
	}
	index := labelIndex(gts, preds)

	sum := 0.0
	scored := 0
	for label := range index {
		scores := make([]float64, len(gts))
		truth := make([]int, len(gts))
		positives := 0
		for i := range gts {
			if preds[i] == label {
				scores[i] = 1
			}
			if gts[i] == label {
				truth[i] = 1
				positives++
			}
		}
		if positives == 0 || positives == len(gts) {
			continue
		}
		sum += CalculateAUCROC(scores, truth)
		scored++
	}
	if scored == 0 {
		return 0
	}
	return sum / float64(scored)
}

// ROCPoint represents a point on the ROC curve
type ROCPoint struct {
	Threshold float64
	TPR       float64 // True Positive Rate (Recall)
	FPR       float64 // False Positive Rate (1 - Specificity)
}

// ROCCurve returns the ROC curve for binary labels (1 = positive), one
// point per distinct score, starting at (0, 0)
func ROCCurve(scores []float64, labels []int) []ROCPoint {
	if len(scores) != len(labels) || len(scores) == 0 {
		return nil
	}

	// Create prediction-label pairs for sorting
	type predLabel struct {
		score float64
		label int
	}
	pairs := make([]predLabel, len(scores))
	for i := range scores {
		pairs[i] = predLabel{score: scores[i], label: labels[i]}
	}

	// Sort by prediction score (descending)
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].score > pairs[j].score
	})

	totalPos, totalNeg := 0, 0
	for _, pair := range pairs {
		if pair.label == 1 {
			totalPos++
		} else {
			totalNeg++
		}
	}
	if totalPos == 0 || totalNeg == 0 {
		return nil
	}

	curve := []ROCPoint{{Threshold: pairs[0].score + 1}}
	tp, fp := 0, 0
	for i, pair := range pairs {
		if pair.label == 1 {
			tp++
		} else {
			fp++
		}
		// tied scores form a single threshold
		if i+1 < len(pairs) && pairs[i+1].score == pair.score {
			continue
		}
		curve = append(curve, ROCPoint{
			Threshold: pair.score,
			TPR:       float64(tp) / float64(totalPos),
			FPR:       float64(fp) / float64(totalNeg),
		})
	}
	return curve
}

// CalculateAUCROC calculates Area Under ROC Curve for binary classification
// using the trapezoidal rule
func CalculateAUCROC(scores []float64, labels []int) float64 {
	curve := ROCCurve(scores, labels)
	if curve == nil {
		return 0.0 // Cannot calculate AUC without both classes
	}

	auc := 0.0
	for i := 1; i < len(curve); i++ {
		auc += (curve[i].FPR - curve[i-1].FPR) * (curve[i].TPR + curve[i-1].TPR) / 2.0
	}
	return auc
}
