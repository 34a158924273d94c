// Package session keeps the latest upload and prediction per browser session.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Brownie44l1/snapclass/internal/predict"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrNoPrediction = errors.New("session has no prediction yet")

// State is the short-lived state of one interaction session.
type State struct {
	ID         string
	ImageBytes []byte
	ImageMIME  string
	Prediction *predict.Result
	// Selected is the label whose content is shown; empty means the prediction.
	Selected  string
	UpdatedAt time.Time
}

// HasPrediction reports whether an image has been classified in this session.
func (s State) HasPrediction() bool {
	return s.Prediction != nil
}

// Store is a bounded, in-memory session table. The oldest sessions are
// evicted first once capacity is reached.
type Store struct {
	mu     sync.Mutex
	states *lru.Cache[string, State]
	now    func() time.Time
}

func NewStore(capacity int) (*Store, error) {
	states, err := lru.New[string, State](capacity)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	return &Store{states: states, now: time.Now}, nil
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id looks like one produced by NewID.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Get returns the state for id, or an empty state if the session is unknown.
func (s *Store) Get(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states.Get(id)
	if !ok {
		return State{ID: id}, false
	}
	return state, true
}

// Replace overwrites the session with a new input and its prediction.
// The previous image, prediction and selection are discarded.
func (s *Store) Replace(id string, image []byte, mime string, result predict.Result) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := State{
		ID:         id,
		ImageBytes: append([]byte(nil), image...),
		ImageMIME:  mime,
		Prediction: &result,
		UpdatedAt:  s.now(),
	}
	s.states.Add(id, state)
	return state
}

// Select changes the label whose content is displayed. It never touches the
// stored prediction.
func (s *Store) Select(id, label string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states.Get(id)
	if !ok || state.Prediction == nil {
		return State{ID: id}, ErrNoPrediction
	}
	if _, known := state.Prediction.Distribution.Prob(label); !known {
		return state, fmt.Errorf("unknown label %q", label)
	}
	state.Selected = label
	state.UpdatedAt = s.now()
	s.states.Add(id, state)
	return state, nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.states.Len()
}
