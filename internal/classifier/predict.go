package classifier

import (
	"math"
	"sort"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

// rankPredictions turns raw model logits into the bounded ranked list:
// softmax, pair with labels, sort by probability descending with label
// as tie break so identical inputs always rank identically.
func rankPredictions(labels []string, logits []float32) ([]Prediction, error) {
	probabilities, err := pairLabelsAndProbabilities(labels, softmax(logits))
	if err != nil {
		return nil, err
	}

	sortPredictions(probabilities)

	return trimPredictionsToMax(probabilities, maxPredictions), nil
}

// softmax converts logits to a probability distribution. Shifting by
// the max logit keeps the exponentials finite for any input range.
func softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}

	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}

	probabilities := make([]float32, len(logits))
	var sum float64
	for i, l := range logits {
		e := math.Exp(float64(l - maxLogit))
		probabilities[i] = float32(e)
		sum += e
	}
	for i := range probabilities {
		probabilities[i] = float32(float64(probabilities[i]) / sum)
	}

	return probabilities
}

// pairLabelsAndProbabilities pairs labels with probability values.
func pairLabelsAndProbabilities(labels []string, probabilities []float32) ([]Prediction, error) {
	if len(labels) != len(probabilities) {
		return nil, errors.Newf("mismatched labels and predictions lengths: %d vs %d",
			len(labels), len(probabilities)).
			Component("classifier").
			Category(errors.CategoryValidation).
			Build()
	}

	predictions := make([]Prediction, len(labels))
	for i, label := range labels {
		predictions[i] = Prediction{Label: label, Probability: probabilities[i]}
	}
	return predictions, nil
}

// sortPredictions sorts by probability descending, label ascending.
func sortPredictions(predictions []Prediction) {
	sort.Slice(predictions, func(i, j int) bool {
		if predictions[i].Probability != predictions[j].Probability {
			return predictions[i].Probability > predictions[j].Probability
		}
		return predictions[i].Label < predictions[j].Label
	})
}

// trimPredictionsToMax trims the ranked list to at most maxCount entries.
func trimPredictionsToMax(predictions []Prediction, maxCount int) []Prediction {
	if len(predictions) > maxCount {
		return predictions[:maxCount]
	}
	return predictions
}
