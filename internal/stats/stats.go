package stats

import (
	"time"

	"trafficwatch/internal/correlator"
	"trafficwatch/internal/database"
)

// Aggregator folds counted vehicle crossings into per-minute traffic
// buckets. One logical bucket exists per (camera, date, minute);
// concurrent contributions are applied additively by the store.
type Aggregator struct {
	db *database.Database
}

// New creates a statistics aggregator over the given store
func New(db *database.Database) *Aggregator {
	return &Aggregator{db: db}
}

// SaveStatistics applies the crossings of one detection event to the
// bucket for the event's minute of day.
func (a *Aggregator) SaveStatistics(cameraID string, crossings []correlator.Crossing, ts time.Time) error {
	if len(crossings) == 0 {
		return nil
	}

	var delta database.StatisticDelta
	for _, cr := range crossings {
		delta.Vehicles++
		switch cr.Direction {
		case correlator.DirectionUp:
			delta.Up++
		case correlator.DirectionDown:
			delta.Down++
		}
		switch cr.Class {
		case "car":
			delta.Cars++
		case "truck":
			delta.Trucks++
		case "bus":
			delta.Buses++
		case "motorcycle", "motorbike":
			delta.Motorcycles++
		case "bicycle":
			delta.Bicycles++
		default:
			delta.Others++
		}
	}

	date := ts.Format("2006-01-02")
	minute := ts.Hour()*60 + ts.Minute()
	return a.db.IncrementStatistics(cameraID, date, minute, delta)
}

// GetStatisticsByDate returns all buckets for a camera on one date
func (a *Aggregator) GetStatisticsByDate(cameraID string, date time.Time) ([]*database.StatisticRecord, error) {
	return a.db.GetStatisticsByDate(cameraID, date.Format("2006-01-02"))
}

// GetStatisticsByDateRange returns buckets between two dates inclusive
func (a *Aggregator) GetStatisticsByDateRange(cameraID string, from, to time.Time) ([]*database.StatisticRecord, error) {
	return a.db.GetStatisticsByDateRange(cameraID, from.Format("2006-01-02"), to.Format("2006-01-02"))
}

// GetTrafficStatistics returns buckets for the trailing duration ending now
func (a *Aggregator) GetTrafficStatistics(cameraID string, window time.Duration) ([]*database.StatisticRecord, error) {
	now := time.Now()
	return a.GetStatisticsByDateRange(cameraID, now.Add(-window), now)
}
