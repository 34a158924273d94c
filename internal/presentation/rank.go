package presentation

import (
	"sort"

	"github.com/Brownie44l1/snapclass/internal/predict"
)

// Ranked is one row of the probability list.
type Ranked struct {
	Label     string  `json:"label"`
	Prob      float64 `json:"probability"`
	Percent   float64 `json:"percent"`
	Highlight bool    `json:"highlight,omitempty"`
}

// Rank orders a distribution by probability, highest first. Equal
// probabilities keep vocabulary order, so the output is deterministic.
func Rank(d predict.Distribution) []Ranked {
	ranked := make([]Ranked, len(d.Labels))
	for i, label := range d.Labels {
		ranked[i] = Ranked{Label: label, Prob: d.Probs[i], Percent: d.Probs[i] * 100}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Prob > ranked[j].Prob
	})
	return ranked
}
