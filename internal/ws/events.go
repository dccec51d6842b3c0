package ws

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"trafficwatch/internal/correlator"
	"trafficwatch/internal/database"
	"trafficwatch/internal/framestore"
	"trafficwatch/internal/lightstore"
	"trafficwatch/internal/registry"
	"trafficwatch/internal/stats"
)

// Violation record statuses
const (
	StatusPending = "pending"
)

// handlerFunc processes one inbound event from a client connection
type handlerFunc func(c *Client, data json.RawMessage)

// EventRouter dispatches named events to their handlers. Handlers never
// tear down the connection: a malformed payload is logged and dropped.
type EventRouter struct {
	hub        *Hub
	registry   *registry.Registry
	frames     *framestore.Store
	lights     *lightstore.Store
	correlator *correlator.Correlator
	stats      *stats.Aggregator
	db         *database.Database

	handlers map[string]handlerFunc
}

// NewEventRouter creates the router and its dispatch table
func NewEventRouter(hub *Hub, reg *registry.Registry, frames *framestore.Store,
	lights *lightstore.Store, corr *correlator.Correlator, agg *stats.Aggregator,
	db *database.Database) *EventRouter {

	r := &EventRouter{
		hub:        hub,
		registry:   reg,
		frames:     frames,
		lights:     lights,
		correlator: corr,
		stats:      agg,
		db:         db,
	}
	r.handlers = map[string]handlerFunc{
		EventJoinCamera:    r.handleJoinCamera,
		EventJoinAllCamera: r.handleJoinAllCamera,
		EventLeaveCamera:   r.handleLeaveCamera,
		EventImage:         r.handleImage,
		EventTrafficLight:  r.handleTrafficLight,
		EventCarDetected:   r.handleCarDetected,
		EventLicensePlate:  r.handleLicensePlate,
	}
	return r
}

// Dispatch routes one raw inbound message to its handler
func (r *EventRouter) Dispatch(c *Client, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		log.Printf("[Events] Client %s sent malformed envelope: %v", c.id, err)
		return
	}

	handler, ok := r.handlers[env.Event]
	if !ok {
		log.Printf("[Events] Client %s sent unknown event %q", c.id, env.Event)
		return
	}
	handler(c, env.Data)
}

func (r *EventRouter) handleJoinCamera(c *Client, data json.RawMessage) {
	var p JoinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CameraID == "" {
		log.Printf("[Events] Client %s sent invalid join_camera payload", c.id)
		return
	}
	r.hub.Join(c, p.CameraID)
}

func (r *EventRouter) handleJoinAllCamera(c *Client, _ json.RawMessage) {
	r.hub.JoinAll(c)
}

func (r *EventRouter) handleLeaveCamera(c *Client, data json.RawMessage) {
	var p JoinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CameraID == "" {
		log.Printf("[Events] Client %s sent invalid leave_camera payload", c.id)
		return
	}
	r.hub.Leave(c, p.CameraID)
}

// handleImage relays a server-side image event to the camera room. Raw
// ingest frames take the binary channel instead; this path serves
// clients that republish frames over the event channel.
func (r *EventRouter) handleImage(c *Client, data json.RawMessage) {
	var p ImagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.CameraID == "" {
		log.Printf("[Events] Client %s sent invalid image payload", c.id)
		return
	}
	r.hub.BroadcastRaw(p.CameraID, EventImage, data, c)
}

// handleTrafficLight summarizes a traffic-light event down to its
// highest-confidence detection, broadcasts the summary and records the
// observation for later crossing correlation.
func (r *EventRouter) handleTrafficLight(c *Client, data json.RawMessage) {
	var p TrafficLightPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CameraID == "" {
		log.Printf("[Events] Client %s sent invalid traffic_light payload", c.id)
		return
	}
	if len(p.Detections) == 0 {
		log.Printf("[Events] traffic_light from %s carried no detections", p.CameraID)
		return
	}

	// Highest confidence wins; the first occurrence wins ties
	best := p.Detections[0]
	for _, d := range p.Detections[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}

	state := TrafficLightState{
		CameraID:    p.CameraID,
		FrameID:     p.FrameID,
		Detection:   best,
		InferenceMs: p.InferenceMs,
		Width:       p.Width,
		Height:      p.Height,
		Timestamp:   p.Timestamp,
	}
	r.hub.Broadcast(p.CameraID, EventTrafficLight, state, c)

	r.lights.Add(lightstore.Observation{
		CameraID:   p.CameraID,
		Color:      best.Color,
		Confidence: best.Confidence,
		Timestamp:  eventTime(p.Timestamp),
	})
}

// handleCarDetected relays the raw payload immediately, then fans out
// statistics, persistence and violation checks. The sub-tasks are
// independent failure domains: any one of them failing is logged and
// must not stop the others.
func (r *EventRouter) handleCarDetected(c *Client, data json.RawMessage) {
	var p CarDetectedPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CameraID == "" {
		log.Printf("[Events] Client %s sent invalid car_detected payload", c.id)
		return
	}

	// Low latency first: relay unmodified before any processing
	r.hub.BroadcastRaw(p.CameraID, EventCarDetected, data, c)

	ts := eventTime(p.Timestamp)

	go func() {
		if err := r.stats.SaveStatistics(p.CameraID, p.NewCrossings, ts); err != nil {
			log.Printf("[Events] Failed to save statistics for %s: %v", p.CameraID, err)
		}
	}()

	go r.persistDetection(&p, ts)
	go r.checkViolations(c, &p, ts)
}

func (r *EventRouter) persistDetection(p *CarDetectedPayload, ts time.Time) {
	detJSON, err := json.Marshal(p.Detections)
	if err != nil {
		log.Printf("[Events] Failed to marshal detections for %s: %v", p.CameraID, err)
		return
	}

	rec := &database.DetectionRecord{
		ID:           uuid.NewString(),
		CameraID:     p.CameraID,
		FrameID:      p.FrameID,
		Timestamp:    ts,
		VehicleCount: p.Counts.Total,
		Detections:   detJSON,
		Tracks:       p.Tracks,
	}
	if err := r.db.SaveDetection(rec); err != nil {
		log.Printf("[Events] Failed to persist detection for %s: %v", p.CameraID, err)
	}
}

// checkViolations runs the red-light and lane-encroachment checks and,
// when either yields violations, broadcasts violation_detect with the
// evidence frame and persists the records. Persistence failure never
// suppresses the broadcast.
func (r *EventRouter) checkViolations(c *Client, p *CarDetectedPayload, ts time.Time) {
	cam := r.registry.Get(p.CameraID)

	redLight := r.correlator.RedLightViolations(ts, p.NewCrossings)
	laneEncroach := correlator.LaneEncroachments(p.Detections, p.Width, cam)

	if len(redLight) > 0 {
		r.broadcastViolation(c, p, correlator.KindRedLight, redLight)
	}
	if len(laneEncroach) > 0 {
		r.broadcastViolation(c, p, correlator.KindLaneEncroachment, laneEncroach)
	}
}

func (r *EventRouter) broadcastViolation(c *Client, p *CarDetectedPayload, kind string, trackIDs []string) {
	var image []byte
	if p.FrameID != "" {
		if frame, err := r.frames.Get(p.FrameID); err == nil {
			image = frame.Data
		} else {
			log.Printf("[Events] Evidence frame %s unavailable: %v", p.FrameID, err)
		}
	}

	r.hub.Broadcast(p.CameraID, EventViolationDetect, ViolationDetectPayload{
		CameraID:   p.CameraID,
		FrameID:    p.FrameID,
		Kind:       kind,
		TrackIDs:   trackIDs,
		Image:      image,
		Detections: p.Detections,
		Timestamp:  p.Timestamp,
	}, c)

	for _, trackID := range trackIDs {
		rec := &database.ViolationRecord{
			ID:        uuid.NewString(),
			CameraID:  p.CameraID,
			TrackID:   trackID,
			Kind:      kind,
			Status:    StatusPending,
			FrameID:   p.FrameID,
			CreatedAt: eventTime(p.Timestamp),
		}
		if err := r.db.SaveViolation(rec); err != nil {
			log.Printf("[Events] Failed to persist %s violation for track %s: %v", kind, trackID, err)
		}
	}
}

// handleLicensePlate relays the plate event and persists a license-plate
// violation record best-effort.
func (r *EventRouter) handleLicensePlate(c *Client, data json.RawMessage) {
	var p LicensePlatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.CameraID == "" {
		log.Printf("[Events] Client %s sent invalid violation_license_plate payload", c.id)
		return
	}

	r.hub.BroadcastRaw(p.CameraID, EventLicensePlate, data, c)

	go func() {
		rec := &database.ViolationRecord{
			ID:        uuid.NewString(),
			CameraID:  p.CameraID,
			TrackID:   p.TrackID,
			Plate:     p.Plate,
			Kind:      "license_plate",
			Status:    StatusPending,
			FrameID:   p.FrameID,
			CreatedAt: eventTime(p.Timestamp),
		}
		if err := r.db.SaveViolation(rec); err != nil {
			log.Printf("[Events] Failed to persist license plate for %s: %v", p.CameraID, err)
		}
	}()
}
