package framestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	s := New(time.Minute)

	data := []byte{0xff, 0xd8, 0xff, 0xe0, 0x01, 0x02}
	f := &Frame{ID: NewID(), CameraID: "cam-1", Data: data, Width: 640, Height: 480, Timestamp: time.Now()}
	s.Put(f)

	got, err := s.Get(f.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)
	assert.Equal(t, "cam-1", got.CameraID)
	assert.Equal(t, 640, got.Width)
	assert.Equal(t, 480, got.Height)
}

func TestExpiry(t *testing.T) {
	s := New(50 * time.Millisecond)

	f := &Frame{ID: NewID(), CameraID: "cam-1", Data: []byte{1}, Timestamp: time.Now()}
	s.Put(f)

	_, err := s.Get(f.ID)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	_, err = s.Get(f.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnknownID(t *testing.T) {
	s := New(time.Minute)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
