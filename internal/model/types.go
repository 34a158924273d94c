package model

import (
	"errors"
	"image"
)

// ErrStartup marks failures to fetch or load the classifier artifact.
// The service must not serve predictions after it.
var ErrStartup = errors.New("model startup failed")

// Metadata describes the tensors and vocabulary of a classifier artifact.
type Metadata struct {
	InputName   string    `json:"input_name,omitempty"`
	OutputName  string    `json:"output_name,omitempty"`
	InputShape  []int64   `json:"input_shape"`
	OutputShape []int64   `json:"output_shape"`
	Classes     []string  `json:"classes"`
	ImageSize   int       `json:"image_size"`
	Mean        []float32 `json:"mean,omitempty"`
	Std         []float32 `json:"std,omitempty"`
}

// Classifier is a loaded, ready-to-query model.
type Classifier interface {
	// Labels returns the vocabulary in classifier order.
	Labels() []string
	// Scores returns one raw output value per label.
	Scores(img image.Image) ([]float32, error)
	Close()
}
