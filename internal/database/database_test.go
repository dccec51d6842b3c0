package database

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *Database {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func saveTestCamera(t *testing.T, db *Database, id string) {
	t.Helper()
	require.NoError(t, db.SaveCamera(&CameraRecord{
		ID:           id,
		Name:         "Test " + id,
		APIKeyHash:   "hash",
		CountingLine: 50,
		CreatedAt:    time.Now(),
	}))
}

func TestCameraRoundTrip(t *testing.T) {
	db := setupDB(t)

	cam := &CameraRecord{
		ID:           "cam-1",
		Name:         "North Junction",
		Location:     "52.52,13.40",
		Status:       "active",
		APIKeyHash:   "$2a$10$hash",
		CountingLine: 45,
		Lanes: []LaneRecord{
			{MaxX: 0.5, AllowedClasses: []string{"car"}},
			{MaxX: 1.0, AllowedClasses: []string{"car", "truck"}},
		},
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.SaveCamera(cam))

	got, err := db.GetCamera("cam-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cam.Name, got.Name)
	assert.Equal(t, cam.Lanes, got.Lanes)
	assert.Equal(t, 45.0, got.CountingLine)

	missing, err := db.GetCamera("cam-9")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestViolationLifecycle(t *testing.T) {
	db := setupDB(t)
	saveTestCamera(t, db, "cam-1")

	v := &ViolationRecord{
		ID:        "v-1",
		CameraID:  "cam-1",
		TrackID:   "t-7",
		Kind:      "red_light",
		Status:    "pending",
		FrameID:   "f-1",
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.SaveViolation(v))

	got, err := db.GetViolation("v-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pending", got.Status)

	require.NoError(t, db.UpdateViolationStatus("v-1", "confirmed"))
	got, err = db.GetViolation("v-1")
	require.NoError(t, err)
	assert.Equal(t, "confirmed", got.Status)

	assert.Error(t, db.UpdateViolationStatus("v-9", "confirmed"))
}

func TestListViolationsFilters(t *testing.T) {
	db := setupDB(t)
	saveTestCamera(t, db, "cam-1")
	saveTestCamera(t, db, "cam-2")

	for i, camID := range []string{"cam-1", "cam-1", "cam-2"} {
		require.NoError(t, db.SaveViolation(&ViolationRecord{
			ID:        string(rune('a' + i)),
			CameraID:  camID,
			Kind:      "lane_encroachment",
			Status:    "pending",
			CreatedAt: time.Now(),
		}))
	}

	all, err := db.ListViolations("", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	cam1, err := db.ListViolations("cam-1", 0)
	require.NoError(t, err)
	assert.Len(t, cam1, 2)

	limited, err := db.ListViolations("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSaveDetection(t *testing.T) {
	db := setupDB(t)
	saveTestCamera(t, db, "cam-1")

	det := &DetectionRecord{
		ID:           "d-1",
		CameraID:     "cam-1",
		FrameID:      "f-1",
		Timestamp:    time.Now(),
		VehicleCount: 2,
		Detections:   json.RawMessage(`[{"class":"car"}]`),
		Tracks:       json.RawMessage(`[]`),
	}
	require.NoError(t, db.SaveDetection(det))
}

func TestIncrementStatisticsUpserts(t *testing.T) {
	db := setupDB(t)

	delta := StatisticDelta{Vehicles: 2, Up: 1, Down: 1, Cars: 1, Trucks: 1}
	require.NoError(t, db.IncrementStatistics("cam-1", "2026-08-30", 630, delta))
	require.NoError(t, db.IncrementStatistics("cam-1", "2026-08-30", 630, delta))

	buckets, err := db.GetStatisticsByDate("cam-1", "2026-08-30")
	require.NoError(t, err)
	require.Len(t, buckets, 1, "one logical bucket per (camera, date, minute)")
	assert.Equal(t, 4, buckets[0].VehicleCount)
	assert.Equal(t, 2, buckets[0].Cars)
	assert.Equal(t, 2, buckets[0].CountUp)
}
