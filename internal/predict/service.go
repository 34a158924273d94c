// Package predict runs a classifier over a decoded image and shapes its
// output into a probability distribution.
package predict

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"
)

// ErrInference wraps failures of the classifier itself.
var ErrInference = errors.New("inference failed")

// Classifier is the subset of a loaded model the service needs.
type Classifier interface {
	Labels() []string
	Scores(img image.Image) ([]float32, error)
}

// Result is created fresh for every prediction.
type Result struct {
	Label        string       `json:"label"`
	Distribution Distribution `json:"distribution"`
}

// Probability of the predicted label.
func (r Result) Probability() float64 {
	p, _ := r.Distribution.Prob(r.Label)
	return p
}

type Service struct {
	log *slog.Logger
}

func NewService(log *slog.Logger) *Service {
	return &Service{log: log}
}

// Predict runs c synchronously on img, which must already be decoded and upright.
func (s *Service) Predict(ctx context.Context, c Classifier, img image.Image) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if img == nil {
		return Result{}, fmt.Errorf("%w: nil image", ErrInference)
	}

	start := time.Now()
	scores, err := c.Scores(img)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInference, err)
	}

	dist, err := NewDistribution(c.Labels(), scores)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInference, err)
	}

	result := Result{
		Label:        dist.Labels[dist.ArgMax()],
		Distribution: dist,
	}

	s.log.Debug("Prediction done",
		"label", result.Label,
		"probability", result.Probability(),
		"duration", time.Since(start))

	return result, nil
}
