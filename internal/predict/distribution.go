package predict

import (
	"errors"
	"fmt"
	"math"
)

// Tolerance is the allowed distance of a distribution's sum from 1.
const Tolerance = 1e-4

// Distribution holds one probability per label in vocabulary order.
type Distribution struct {
	Labels []string  `json:"labels"`
	Probs  []float64 `json:"probs"`
}

// NewDistribution turns raw classifier scores into probabilities. A vector
// that is already a distribution is renormalized; anything else is treated
// as logits and passed through softmax.
func NewDistribution(labels []string, scores []float32) (Distribution, error) {
	if len(labels) == 0 {
		return Distribution{}, errors.New("empty vocabulary")
	}
	if len(scores) != len(labels) {
		return Distribution{}, fmt.Errorf("got %d scores for %d labels", len(scores), len(labels))
	}

	probs := make([]float64, len(scores))
	for i, s := range scores {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Distribution{}, fmt.Errorf("score %d for %q is not finite", i, labels[i])
		}
		probs[i] = v
	}

	if isProbabilities(probs) {
		sum := 0.0
		for _, p := range probs {
			sum += p
		}
		for i := range probs {
			probs[i] /= sum
		}
	} else {
		softmax(probs)
	}

	return Distribution{
		Labels: append([]string(nil), labels...),
		Probs:  probs,
	}, nil
}

func isProbabilities(values []float64) bool {
	sum := 0.0
	for _, v := range values {
		if v < 0 || v > 1 {
			return false
		}
		sum += v
	}
	return math.Abs(sum-1) <= Tolerance
}

func softmax(values []float64) {
	maxVal := values[0]
	for _, v := range values[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	sum := 0.0
	for i, v := range values {
		values[i] = math.Exp(v - maxVal)
		sum += values[i]
	}
	for i := range values {
		values[i] /= sum
	}
}

// ArgMax returns the index of the highest probability; ties go to the
// earliest label.
func (d Distribution) ArgMax() int {
	best := 0
	for i, p := range d.Probs {
		if p > d.Probs[best] {
			best = i
		}
	}
	return best
}

func (d Distribution) Prob(label string) (float64, bool) {
	for i, l := range d.Labels {
		if l == label {
			return d.Probs[i], true
		}
	}
	return 0, false
}

func (d Distribution) Sum() float64 {
	sum := 0.0
	for _, p := range d.Probs {
		sum += p
	}
	return sum
}

func (d Distribution) Map() map[string]float64 {
	m := make(map[string]float64, len(d.Labels))
	for i, l := range d.Labels {
		m[l] = d.Probs[i]
	}
	return m
}

func (d Distribution) Len() int {
	return len(d.Labels)
}
