package player

import "sync"

// StoreState is a snapshot of the playback store.
type StoreState struct {
	StreamURL   string `json:"currentStreamUrl"`
	Title       string `json:"currentTitle"`
	Subtitle    string `json:"currentSubtitle"`
	IsPlaying   bool   `json:"isPlaying"`
	IsMinimized bool   `json:"isMinimized"`
}

// Store holds the user-visible playback state: what is playing, how it is
// labelled, and whether the player view is minimized. It deliberately knows
// nothing about engines or resolution; the player updates it at the
// boundaries of the stream lifecycle.
type Store struct {
	mu    sync.RWMutex
	state StoreState
}

// NewStore creates a store in the initial idle state.
func NewStore() *Store {
	return &Store{
		state: StoreState{
			Title:    "Player Ready",
			Subtitle: "Select content to play",
		},
	}
}

// SetStream records a new active stream. Starting a stream always restores
// the full player view.
func (s *Store) SetStream(url, title, subtitle string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.StreamURL = url
	s.state.Title = title
	s.state.Subtitle = subtitle
	s.state.IsPlaying = true
	s.state.IsMinimized = false
}

// Stop clears the active stream. The minimized flag is left untouched so a
// minimized player stays minimized across a stop.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.StreamURL = ""
	s.state.Title = "Stream stopped"
	s.state.Subtitle = "Player ready"
	s.state.IsPlaying = false
}

// ToggleMinimize flips the minimized flag.
func (s *Store) ToggleMinimize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.IsMinimized = !s.state.IsMinimized
}

// SetMinimized sets the minimized flag directly.
func (s *Store) SetMinimized(minimized bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.IsMinimized = minimized
}

// State returns a copy of the current state.
func (s *Store) State() StoreState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
