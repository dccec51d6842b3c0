package ws

import (
	"encoding/json"
	"time"

	"trafficwatch/internal/correlator"
)

// Event names carried on the viewer channel
const (
	EventJoinCamera    = "join_camera"
	EventJoinAllCamera = "join_all_camera"
	EventLeaveCamera   = "leave_camera"

	EventImage           = "image"
	EventTrafficLight    = "traffic_light"
	EventCarDetected     = "car_detected"
	EventViolationDetect = "violation_detect"
	EventLicensePlate    = "violation_license_plate"
)

// Envelope wraps every event on the viewer channel
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinPayload identifies a camera room to join or leave
type JoinPayload struct {
	CameraID string `json:"camera_id"`
}

// ImagePayload carries one video frame. Image bytes travel base64
// encoded inside the JSON envelope.
type ImagePayload struct {
	CameraID  string `json:"camera_id"`
	FrameID   string `json:"frame_id"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Image     []byte `json:"image"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// LightDetection is one traffic-light state detection
type LightDetection struct {
	Color      string          `json:"color"`
	Confidence float64         `json:"confidence"`
	BBox       correlator.BBox `json:"bbox"`
}

// TrafficLightPayload is the inbound traffic-light event: every light
// detection found in one frame
type TrafficLightPayload struct {
	CameraID    string           `json:"camera_id"`
	FrameID     string           `json:"frame_id"`
	Detections  []LightDetection `json:"detections"`
	InferenceMs float64          `json:"inference_ms"`
	Width       int              `json:"width"`
	Height      int              `json:"height"`
	Timestamp   int64            `json:"timestamp"`
}

// TrafficLightState is the summarized broadcast: only the selected
// highest-confidence detection
type TrafficLightState struct {
	CameraID    string         `json:"camera_id"`
	FrameID     string         `json:"frame_id"`
	Detection   LightDetection `json:"detection"`
	InferenceMs float64        `json:"inference_ms"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	Timestamp   int64          `json:"timestamp"`
}

// VehicleCounts summarizes counted crossings, total and per class split
// by crossing direction
type VehicleCounts struct {
	Total int            `json:"total"`
	Up    map[string]int `json:"up,omitempty"`
	Down  map[string]int `json:"down,omitempty"`
}

// CarDetectedPayload is the inbound vehicle detection event
type CarDetectedPayload struct {
	CameraID     string                 `json:"camera_id"`
	FrameID      string                 `json:"frame_id"`
	Detections   []correlator.Detection `json:"detections"`
	NewCrossings []correlator.Crossing  `json:"new_crossings"`
	Counts       VehicleCounts          `json:"counts"`
	Tracks       json.RawMessage        `json:"tracks,omitempty"`
	Width        int                    `json:"width"`
	Height       int                    `json:"height"`
	Timestamp    int64                  `json:"timestamp"`
}

// ViolationDetectPayload is broadcast when the correlator finds one or
// more violations in a detection event
type ViolationDetectPayload struct {
	CameraID   string                 `json:"camera_id"`
	FrameID    string                 `json:"frame_id"`
	Kind       string                 `json:"kind"`
	TrackIDs   []string               `json:"track_ids"`
	Image      []byte                 `json:"image,omitempty"`
	Detections []correlator.Detection `json:"detections"`
	Timestamp  int64                  `json:"timestamp"`
}

// LicensePlatePayload carries a recognized plate for a violating track
type LicensePlatePayload struct {
	CameraID   string  `json:"camera_id"`
	FrameID    string  `json:"frame_id"`
	TrackID    string  `json:"track_id"`
	Plate      string  `json:"plate"`
	Confidence float64 `json:"confidence"`
	Image      []byte  `json:"image,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

// eventTime converts a unix-millisecond payload timestamp, falling back
// to the current time when the field is absent
func eventTime(millis int64) time.Time {
	if millis <= 0 {
		return time.Now()
	}
	return time.UnixMilli(millis)
}
