package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// CameraRecord represents a camera stored in the database
type CameraRecord struct {
	ID           string
	Name         string
	Location     string
	Status       string
	APIKeyHash   string
	CountingLine float64
	Lanes        []LaneRecord
	CreatedAt    time.Time
}

// LaneRecord describes one lane by its right x-boundary (fraction of
// frame width) and the vehicle classes allowed in it
type LaneRecord struct {
	MaxX           float64  `json:"max_x"`
	AllowedClasses []string `json:"allowed_classes"`
}

// DetectionRecord represents a vehicle detection event stored in the database
type DetectionRecord struct {
	ID           string
	CameraID     string
	FrameID      string
	Timestamp    time.Time
	VehicleCount int
	Detections   json.RawMessage
	Tracks       json.RawMessage
}

// ViolationRecord represents a traffic violation stored in the database
type ViolationRecord struct {
	ID        string
	CameraID  string
	TrackID   string
	Plate     string
	Kind      string
	Status    string
	FrameID   string
	CreatedAt time.Time
}

// StatisticRecord is one (camera, date, minute) traffic bucket
type StatisticRecord struct {
	CameraID     string
	Date         string // YYYY-MM-DD
	Minute       int    // minute of day, 0-1439
	VehicleCount int
	CountUp      int
	CountDown    int
	Cars         int
	Trucks       int
	Buses        int
	Motorcycles  int
	Bicycles     int
	Others       int
}

// StatisticDelta carries the per-event contribution applied to a bucket
type StatisticDelta struct {
	Vehicles    int
	Up          int
	Down        int
	Cars        int
	Trucks      int
	Buses       int
	Motorcycles int
	Bicycles    int
	Others      int
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait out writer contention instead of failing concurrent upserts
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			location TEXT,
			status TEXT DEFAULT 'inactive',
			api_key_hash TEXT NOT NULL,
			counting_line REAL DEFAULT 50,
			lanes TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS detections (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			frame_id TEXT,
			timestamp DATETIME NOT NULL,
			vehicle_count INTEGER DEFAULT 0,
			detections TEXT,
			tracks TEXT,
			FOREIGN KEY (camera_id) REFERENCES cameras(id)
		)`,
		`CREATE TABLE IF NOT EXISTS violations (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			track_id TEXT,
			plate TEXT,
			kind TEXT NOT NULL,
			status TEXT DEFAULT 'pending',
			frame_id TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (camera_id) REFERENCES cameras(id)
		)`,
		`CREATE TABLE IF NOT EXISTS traffic_statistics (
			camera_id TEXT NOT NULL,
			date TEXT NOT NULL,
			minute INTEGER NOT NULL,
			vehicle_count INTEGER DEFAULT 0,
			count_up INTEGER DEFAULT 0,
			count_down INTEGER DEFAULT 0,
			cars INTEGER DEFAULT 0,
			trucks INTEGER DEFAULT 0,
			buses INTEGER DEFAULT 0,
			motorcycles INTEGER DEFAULT 0,
			bicycles INTEGER DEFAULT 0,
			others INTEGER DEFAULT 0,
			PRIMARY KEY (camera_id, date, minute)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_camera_time ON detections(camera_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_violations_camera_time ON violations(camera_id, created_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// SaveCamera saves or updates a camera
func (d *Database) SaveCamera(cam *CameraRecord) error {
	lanesJSON, err := json.Marshal(cam.Lanes)
	if err != nil {
		return fmt.Errorf("failed to marshal lanes: %w", err)
	}

	query := `INSERT INTO cameras (id, name, location, status, api_key_hash, counting_line, lanes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location,
			status = excluded.status,
			api_key_hash = excluded.api_key_hash,
			counting_line = excluded.counting_line,
			lanes = excluded.lanes`

	_, err = d.db.Exec(query, cam.ID, cam.Name, cam.Location, cam.Status,
		cam.APIKeyHash, cam.CountingLine, string(lanesJSON), cam.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save camera: %w", err)
	}
	return nil
}

// GetCamera retrieves a camera by ID
func (d *Database) GetCamera(id string) (*CameraRecord, error) {
	query := `SELECT id, name, location, status, api_key_hash, counting_line, lanes, created_at
		FROM cameras WHERE id = ?`

	var cam CameraRecord
	var lanesJSON string
	err := d.db.QueryRow(query, id).Scan(&cam.ID, &cam.Name, &cam.Location, &cam.Status,
		&cam.APIKeyHash, &cam.CountingLine, &lanesJSON, &cam.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	if lanesJSON != "" {
		if err := json.Unmarshal([]byte(lanesJSON), &cam.Lanes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal lanes: %w", err)
		}
	}
	return &cam, nil
}

// ListCameras returns all cameras
func (d *Database) ListCameras() ([]*CameraRecord, error) {
	query := `SELECT id, name, location, status, api_key_hash, counting_line, lanes, created_at
		FROM cameras ORDER BY created_at DESC`

	rows, err := d.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []*CameraRecord
	for rows.Next() {
		var cam CameraRecord
		var lanesJSON string
		if err := rows.Scan(&cam.ID, &cam.Name, &cam.Location, &cam.Status,
			&cam.APIKeyHash, &cam.CountingLine, &lanesJSON, &cam.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		if lanesJSON != "" {
			if err := json.Unmarshal([]byte(lanesJSON), &cam.Lanes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal lanes: %w", err)
			}
		}
		cameras = append(cameras, &cam)
	}
	return cameras, rows.Err()
}

// UpdateCameraStatus updates only the status of a camera
func (d *Database) UpdateCameraStatus(id, status string) error {
	_, err := d.db.Exec("UPDATE cameras SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update camera status: %w", err)
	}
	return nil
}

// SaveDetection saves a vehicle detection event
func (d *Database) SaveDetection(det *DetectionRecord) error {
	query := `INSERT INTO detections (id, camera_id, frame_id, timestamp, vehicle_count, detections, tracks)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.Exec(query, det.ID, det.CameraID, det.FrameID, det.Timestamp,
		det.VehicleCount, string(det.Detections), string(det.Tracks))
	if err != nil {
		return fmt.Errorf("failed to save detection: %w", err)
	}
	return nil
}

// SaveViolation saves a violation record
func (d *Database) SaveViolation(v *ViolationRecord) error {
	query := `INSERT INTO violations (id, camera_id, track_id, plate, kind, status, frame_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.Exec(query, v.ID, v.CameraID, v.TrackID, v.Plate, v.Kind,
		v.Status, v.FrameID, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save violation: %w", err)
	}
	return nil
}

// GetViolation retrieves a violation by ID
func (d *Database) GetViolation(id string) (*ViolationRecord, error) {
	query := `SELECT id, camera_id, track_id, plate, kind, status, frame_id, created_at
		FROM violations WHERE id = ?`

	var v ViolationRecord
	err := d.db.QueryRow(query, id).Scan(&v.ID, &v.CameraID, &v.TrackID, &v.Plate,
		&v.Kind, &v.Status, &v.FrameID, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get violation: %w", err)
	}
	return &v, nil
}

// ListViolations returns violations with optional filtering
func (d *Database) ListViolations(cameraID string, limit int) ([]*ViolationRecord, error) {
	query := `SELECT id, camera_id, track_id, plate, kind, status, frame_id, created_at
		FROM violations WHERE 1=1`
	args := []interface{}{}

	if cameraID != "" {
		query += " AND camera_id = ?"
		args = append(args, cameraID)
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	var violations []*ViolationRecord
	for rows.Next() {
		var v ViolationRecord
		if err := rows.Scan(&v.ID, &v.CameraID, &v.TrackID, &v.Plate, &v.Kind,
			&v.Status, &v.FrameID, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		violations = append(violations, &v)
	}
	return violations, rows.Err()
}

// UpdateViolationStatus updates only the status of a violation
func (d *Database) UpdateViolationStatus(id, status string) error {
	res, err := d.db.Exec("UPDATE violations SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update violation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update violation status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("violation %s not found", id)
	}
	return nil
}

// IncrementStatistics applies a delta to the (camera, date, minute) bucket.
// The increment happens inside the upsert so concurrent writers for the
// same bucket are additive.
func (d *Database) IncrementStatistics(cameraID, date string, minute int, delta StatisticDelta) error {
	query := `INSERT INTO traffic_statistics
		(camera_id, date, minute, vehicle_count, count_up, count_down,
		 cars, trucks, buses, motorcycles, bicycles, others)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(camera_id, date, minute) DO UPDATE SET
			vehicle_count = vehicle_count + excluded.vehicle_count,
			count_up = count_up + excluded.count_up,
			count_down = count_down + excluded.count_down,
			cars = cars + excluded.cars,
			trucks = trucks + excluded.trucks,
			buses = buses + excluded.buses,
			motorcycles = motorcycles + excluded.motorcycles,
			bicycles = bicycles + excluded.bicycles,
			others = others + excluded.others`

	_, err := d.db.Exec(query, cameraID, date, minute, delta.Vehicles, delta.Up, delta.Down,
		delta.Cars, delta.Trucks, delta.Buses, delta.Motorcycles, delta.Bicycles, delta.Others)
	if err != nil {
		return fmt.Errorf("failed to increment statistics: %w", err)
	}
	return nil
}

// GetStatisticsByDate returns all buckets for a camera on a calendar date
func (d *Database) GetStatisticsByDate(cameraID, date string) ([]*StatisticRecord, error) {
	query := `SELECT camera_id, date, minute, vehicle_count, count_up, count_down,
		cars, trucks, buses, motorcycles, bicycles, others
		FROM traffic_statistics WHERE camera_id = ? AND date = ? ORDER BY minute`

	return d.queryStatistics(query, cameraID, date)
}

// GetStatisticsByDateRange returns buckets for a camera between two dates inclusive
func (d *Database) GetStatisticsByDateRange(cameraID, from, to string) ([]*StatisticRecord, error) {
	query := `SELECT camera_id, date, minute, vehicle_count, count_up, count_down,
		cars, trucks, buses, motorcycles, bicycles, others
		FROM traffic_statistics WHERE camera_id = ? AND date >= ? AND date <= ?
		ORDER BY date, minute`

	return d.queryStatistics(query, cameraID, from, to)
}

func (d *Database) queryStatistics(query string, args ...interface{}) ([]*StatisticRecord, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}
	defer rows.Close()

	var stats []*StatisticRecord
	for rows.Next() {
		var s StatisticRecord
		if err := rows.Scan(&s.CameraID, &s.Date, &s.Minute, &s.VehicleCount,
			&s.CountUp, &s.CountDown, &s.Cars, &s.Trucks, &s.Buses,
			&s.Motorcycles, &s.Bicycles, &s.Others); err != nil {
			return nil, fmt.Errorf("failed to scan statistic: %w", err)
		}
		stats = append(stats, &s)
	}
	return stats, rows.Err()
}

// Ping verifies the database connection is alive
func (d *Database) Ping() error {
	return d.db.Ping()
}
