package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurfaceSingleHolder(t *testing.T) {
	s := NewSurface(playerConfig())

	_, err := s.acquire("video/mp2t")
	require.NoError(t, err)
	assert.True(t, s.IsAttached())
	assert.Equal(t, "video/mp2t", s.ContentType())

	_, err = s.acquire("video/mp4")
	assert.Error(t, err, "a held surface rejects a second engine")

	s.release()
	assert.False(t, s.IsAttached())
}

func TestSupersededWriterCannotPolluteSurface(t *testing.T) {
	s := NewSurface(playerConfig())

	old, err := s.acquire("video/mp2t")
	require.NoError(t, err)
	old.Write([]byte("stale"))
	require.Equal(t, int64(5), s.BufferedBytes())
	s.release()

	// the handoff resets the buffer and invalidates the old handle
	cur, err := s.acquire("video/mp2t")
	require.NoError(t, err)

	n, err := old.Write([]byte("late bytes"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Zero(t, s.BufferedBytes(), "writes from a replaced engine are dropped")

	cur.Write([]byte("fresh"))
	assert.Equal(t, int64(5), s.BufferedBytes())
	assert.Equal(t, []byte("fresh"), s.PeekRecent(64))

	s.release()
}

func TestStartPlaybackHonorsAutoplayPolicy(t *testing.T) {
	cfg := playerConfig()
	cfg.Autoplay = false
	s := NewSurface(cfg)

	_, err := s.acquire("video/mp2t")
	require.NoError(t, err)

	assert.ErrorIs(t, s.StartPlayback(), ErrPlaybackNotPermitted)
	assert.False(t, s.IsPlaying())

	s.ForcePlayback()
	assert.True(t, s.IsPlaying())

	s.release()
	assert.False(t, s.IsPlaying(), "release stops playback")
}
