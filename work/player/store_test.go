package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreInitialState(t *testing.T) {
	state := NewStore().State()

	assert.Empty(t, state.StreamURL)
	assert.Equal(t, "Player Ready", state.Title)
	assert.Equal(t, "Select content to play", state.Subtitle)
	assert.False(t, state.IsPlaying)
	assert.False(t, state.IsMinimized)
}

func TestStoreSetStreamRestoresFullView(t *testing.T) {
	s := NewStore()
	s.SetMinimized(true)

	s.SetStream("http://origin/live/1.ts", "CNN", "News")

	state := s.State()
	assert.Equal(t, "http://origin/live/1.ts", state.StreamURL)
	assert.Equal(t, "CNN", state.Title)
	assert.Equal(t, "News", state.Subtitle)
	assert.True(t, state.IsPlaying)
	assert.False(t, state.IsMinimized, "starting a stream must un-minimize the player")
}

func TestStoreStopKeepsMinimized(t *testing.T) {
	s := NewStore()
	s.SetStream("http://origin/live/1.ts", "CNN", "News")
	s.ToggleMinimize()

	s.Stop()

	state := s.State()
	assert.Empty(t, state.StreamURL)
	assert.Equal(t, "Stream stopped", state.Title)
	assert.Equal(t, "Player ready", state.Subtitle)
	assert.False(t, state.IsPlaying)
	assert.True(t, state.IsMinimized, "stop must not touch the minimized flag")
}

func TestStoreToggleMinimize(t *testing.T) {
	s := NewStore()

	s.ToggleMinimize()
	assert.True(t, s.State().IsMinimized)

	s.ToggleMinimize()
	assert.False(t, s.State().IsMinimized)
}
