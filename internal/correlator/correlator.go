package correlator

import (
	"fmt"
	"time"

	"trafficwatch/internal/lightstore"
	"trafficwatch/internal/registry"
)

// Violation kinds produced by the correlator
const (
	KindRedLight         = "red_light"
	KindLaneEncroachment = "lane_encroachment"
)

// Crossing directions as reported by the tracker
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// BBox is a detection bounding box in pixel coordinates
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// CenterX returns the horizontal center of the box
func (b BBox) CenterX() float64 {
	return (b.X1 + b.X2) / 2
}

// Detection is a single detected vehicle
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
	TrackID    string  `json:"track_id,omitempty"`
}

// Crossing is a track's transition over a camera's counting line
type Crossing struct {
	TrackID   string `json:"track_id"`
	Class     string `json:"class"`
	Direction string `json:"direction"`
}

// Correlator decides violations by matching detection events against
// recent traffic-light state and camera lane geometry. It only reads;
// persistence and broadcasting belong to the caller.
type Correlator struct {
	lights     *lightstore.Store
	qualifying map[string]bool
}

// New creates a correlator. directions lists the crossing directions
// that qualify as red-light violations.
func New(lights *lightstore.Store, directions []string) *Correlator {
	qualifying := make(map[string]bool, len(directions))
	for _, d := range directions {
		qualifying[d] = true
	}
	return &Correlator{
		lights:     lights,
		qualifying: qualifying,
	}
}

// RedLightViolations returns the track ids of crossings that entered
// during a stop phase. The signal state is the most recent observation
// at or before ts; with no observation the state is unknown and no
// violations are produced.
func (c *Correlator) RedLightViolations(ts time.Time, crossings []Crossing) []string {
	obs, ok := c.lights.NearestBefore(ts)
	if !ok {
		return nil
	}
	if obs.Color != lightstore.ColorRed && obs.Color != lightstore.ColorYellow {
		return nil
	}

	var violating []string
	for _, cr := range crossings {
		if c.qualifying[cr.Direction] {
			violating = append(violating, cr.TrackID)
		}
	}
	return violating
}

// LaneEncroachments returns ids of vehicles occupying a lane whose
// allowed-class set excludes their detected class. Boxes outside every
// configured lane are ignored.
func LaneEncroachments(detections []Detection, frameWidth int, cam *registry.Camera) []string {
	if cam == nil || len(cam.Lanes) == 0 || frameWidth <= 0 {
		return nil
	}

	var violating []string
	for i, det := range detections {
		x := det.BBox.CenterX() / float64(frameWidth)
		lane, ok := laneFor(x, cam.Lanes)
		if !ok {
			continue
		}
		if !lane.Allows(det.Class) {
			violating = append(violating, detectionID(det, i))
		}
	}
	return violating
}

// laneFor buckets a normalized x coordinate into the first lane whose
// right boundary is at or past it
func laneFor(x float64, lanes []registry.Lane) (registry.Lane, bool) {
	for _, lane := range lanes {
		if x <= lane.MaxX {
			return lane, true
		}
	}
	return registry.Lane{}, false
}

func detectionID(det Detection, index int) string {
	if det.TrackID != "" {
		return det.TrackID
	}
	return fmt.Sprintf("detection-%d", index)
}
