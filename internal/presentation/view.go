// Package presentation shapes a prediction and catalog content into what
// the page and the JSON API display.
package presentation

import (
	"slices"

	"github.com/Brownie44l1/snapclass/internal/catalog"
	"github.com/Brownie44l1/snapclass/internal/predict"
)

// Video is a video link with its preview image when one could be derived.
type Video struct {
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// View is everything needed to display one prediction.
type View struct {
	Predicted   string          `json:"label"`
	Probability float64         `json:"probability"`
	Labels      []string        `json:"labels"`
	Ranking     []Ranked        `json:"probabilities"`
	Selected    string          `json:"selected"`
	Content     catalog.Content `json:"content"`
	Videos      []Video         `json:"videos"`
	NoContent   bool            `json:"no_content"`
}

// Contents is the read side of the catalog.
type Contents interface {
	Lookup(label string) catalog.Content
}

// Render combines the ranking of result with the content for selected.
// An empty or unknown selection falls back to the predicted label.
func Render(result predict.Result, selected string, contents Contents) View {
	labels := result.Distribution.Labels

	if !slices.Contains(labels, selected) {
		selected = result.Label
	}
	if !slices.Contains(labels, selected) && len(labels) > 0 {
		selected = labels[0]
	}

	ranking := Rank(result.Distribution)
	for i := range ranking {
		ranking[i].Highlight = ranking[i].Label == result.Label
	}

	view := View{
		Predicted:   result.Label,
		Probability: result.Probability(),
		Labels:      append([]string(nil), labels...),
		Ranking:     ranking,
		Selected:    selected,
	}
	view.fillContent(contents.Lookup(selected))
	return view
}

// RenderContent builds a content-only view for label.
func RenderContent(label string, contents Contents) View {
	view := View{Selected: label}
	view.fillContent(contents.Lookup(label))
	return view
}

func (v *View) fillContent(content catalog.Content) {
	v.Content = content
	v.NoContent = content.Empty()
	v.Videos = make([]Video, 0, len(content.Videos))
	for _, u := range content.Videos {
		thumb, _ := catalog.Thumbnail(u)
		v.Videos = append(v.Videos, Video{URL: u, Thumbnail: thumb})
	}
}

// ProbabilityPercent is the predicted label's probability scaled to 0-100.
func (v View) ProbabilityPercent() float64 {
	return v.Probability * 100
}
