package registry

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"trafficwatch/internal/database"
)

var (
	ErrMissingCredentials = errors.New("camera id and api key are required")
	ErrUnknownCamera      = errors.New("unknown camera")
	ErrInvalidAPIKey      = errors.New("invalid api key")
)

// Lane describes one lane of a camera's view. MaxX is the lane's right
// boundary as a fraction of frame width; lanes are ordered left to right.
type Lane struct {
	MaxX           float64
	AllowedClasses []string
}

// Allows reports whether a vehicle class may occupy the lane
func (l Lane) Allows(class string) bool {
	for _, c := range l.AllowedClasses {
		if c == class {
			return true
		}
	}
	return false
}

// Camera represents a registered traffic camera
type Camera struct {
	ID       string
	Name     string
	Location string
	Status   string

	// CountingLine is the crossing line position as a percentage of
	// frame height, 0-100.
	CountingLine float64
	Lanes        []Lane

	apiKeyHash []byte
	CreatedAt  time.Time
}

// Registry manages registered cameras and authenticates producers
type Registry struct {
	cameras map[string]*Camera
	mu      sync.RWMutex
	db      *database.Database
}

// New creates a registry backed by the given database. Cameras are
// loaded eagerly so authentication is a memory lookup.
func New(db *database.Database) (*Registry, error) {
	r := &Registry{
		cameras: make(map[string]*Camera),
		db:      db,
	}

	if db != nil {
		if err := r.loadFromDB(); err != nil {
			return nil, fmt.Errorf("failed to load cameras: %w", err)
		}
	}
	return r, nil
}

func (r *Registry) loadFromDB() error {
	records, err := r.db.ListCameras()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		r.cameras[rec.ID] = cameraFromRecord(rec)
	}

	log.Printf("[Registry] Loaded %d cameras from database", len(records))
	return nil
}

func cameraFromRecord(rec *database.CameraRecord) *Camera {
	lanes := make([]Lane, 0, len(rec.Lanes))
	for _, l := range rec.Lanes {
		lanes = append(lanes, Lane{MaxX: l.MaxX, AllowedClasses: l.AllowedClasses})
	}
	return &Camera{
		ID:           rec.ID,
		Name:         rec.Name,
		Location:     rec.Location,
		Status:       rec.Status,
		CountingLine: rec.CountingLine,
		Lanes:        lanes,
		apiKeyHash:   []byte(rec.APIKeyHash),
		CreatedAt:    rec.CreatedAt,
	}
}

// Authenticate validates a camera id and API key pair. On success the
// full camera record is returned; any failure means the connection must
// be refused.
func (r *Registry) Authenticate(cameraID, apiKey string) (*Camera, error) {
	if cameraID == "" || apiKey == "" {
		return nil, ErrMissingCredentials
	}

	r.mu.RLock()
	cam, ok := r.cameras[cameraID]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrUnknownCamera
	}

	if err := bcrypt.CompareHashAndPassword(cam.apiKeyHash, []byte(apiKey)); err != nil {
		return nil, ErrInvalidAPIKey
	}
	return cam, nil
}

// Get returns a camera by id, or nil if not registered
func (r *Registry) Get(cameraID string) *Camera {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cameras[cameraID]
}

// Status returns a camera's current status, or "" if not registered
func (r *Registry) Status(cameraID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cam, ok := r.cameras[cameraID]; ok {
		return cam.Status
	}
	return ""
}

// List returns all registered cameras
func (r *Registry) List() []*Camera {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cameras := make([]*Camera, 0, len(r.cameras))
	for _, cam := range r.cameras {
		cameras = append(cameras, cam)
	}
	return cameras
}

// ListIDs returns the ids of all registered cameras. Callers that fan
// out to every camera room enumerate through here so newly registered
// cameras are always included.
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.cameras))
	for id := range r.cameras {
		ids = append(ids, id)
	}
	return ids
}

// Add registers a camera with a plaintext API key. The key is stored as
// a bcrypt hash; the caller is responsible for handing the plaintext to
// the camera operator.
func (r *Registry) Add(cam *Camera, apiKey string) error {
	if cam.ID == "" || apiKey == "" {
		return ErrMissingCredentials
	}
	if cam.CountingLine < 0 || cam.CountingLine > 100 {
		return fmt.Errorf("counting line %v out of range 0-100", cam.CountingLine)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash api key: %w", err)
	}
	cam.apiKeyHash = hash
	if cam.Status == "" {
		cam.Status = "active"
	}
	if cam.CreatedAt.IsZero() {
		cam.CreatedAt = time.Now()
	}

	if r.db != nil {
		lanes := make([]database.LaneRecord, 0, len(cam.Lanes))
		for _, l := range cam.Lanes {
			lanes = append(lanes, database.LaneRecord{MaxX: l.MaxX, AllowedClasses: l.AllowedClasses})
		}
		rec := &database.CameraRecord{
			ID:           cam.ID,
			Name:         cam.Name,
			Location:     cam.Location,
			Status:       cam.Status,
			APIKeyHash:   string(hash),
			CountingLine: cam.CountingLine,
			Lanes:        lanes,
			CreatedAt:    cam.CreatedAt,
		}
		if err := r.db.SaveCamera(rec); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.cameras[cam.ID] = cam
	r.mu.Unlock()

	log.Printf("[Registry] Registered camera %s (%s)", cam.Name, cam.ID)
	return nil
}

// SetStatus flips a camera between active and inactive
func (r *Registry) SetStatus(cameraID, status string) error {
	r.mu.Lock()
	cam, ok := r.cameras[cameraID]
	if ok {
		cam.Status = status
	}
	r.mu.Unlock()

	if !ok {
		return ErrUnknownCamera
	}
	if r.db != nil {
		return r.db.UpdateCameraStatus(cameraID, status)
	}
	return nil
}
