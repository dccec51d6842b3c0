package framestore

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// ErrNotFound is returned when a frame id is unknown or has expired
var ErrNotFound = errors.New("frame not found")

// Frame is an ingested video frame kept for a bounded retention window
type Frame struct {
	ID        string
	CameraID  string
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// NewID generates a fresh frame id. Ids are generated at broadcast time
// so the persisted frame and the broadcast event share one key.
func NewID() string {
	return uuid.NewString()
}

// Store keeps recent frames in memory with TTL expiry. Frames are never
// mutated after Put; lookups past the retention window miss.
type Store struct {
	cache *cache.Cache
}

// New creates a frame store retaining frames for ttl
func New(ttl time.Duration) *Store {
	return &Store{
		cache: cache.New(ttl, ttl/2),
	}
}

// Put stores a frame under its id
func (s *Store) Put(f *Frame) {
	s.cache.Set(f.ID, f, cache.DefaultExpiration)
}

// Get retrieves a frame by id
func (s *Store) Get(id string) (*Frame, error) {
	v, found := s.cache.Get(id)
	if !found {
		return nil, ErrNotFound
	}
	return v.(*Frame), nil
}

// Count returns the number of retained frames
func (s *Store) Count() int {
	return s.cache.ItemCount()
}
