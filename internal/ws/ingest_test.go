package ws

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficwatch/internal/framestore"
	"trafficwatch/internal/registry"
)

func ingestServer(t *testing.T) (*httptest.Server, *Hub, *registry.Registry, *framestore.Store) {
	t.Helper()

	reg, err := registry.New(nil)
	require.NoError(t, err)
	require.NoError(t, reg.Add(&registry.Camera{ID: "cam-1", Name: "Ingest", CountingLine: 50}, "cam-key"))

	hub := NewHub(reg)
	frames := framestore.New(time.Minute)

	srv := httptest.NewServer(NewIngestHandler(hub, reg, frames, 4<<20))
	t.Cleanup(srv.Close)
	return srv, hub, reg, frames
}

func wsURL(srv *httptest.Server, query string) string {
	return strings.Replace(srv.URL, "http", "ws", 1) + "?" + query
}

func tinyPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestIngestRejectsBadCredentials(t *testing.T) {
	srv, _, _, _ := ingestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "cameraId=cam-1&apiKey=wrong"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "cameraId=ghost&apiKey=cam-key"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIngestBroadcastsAndStoresFrames(t *testing.T) {
	srv, hub, _, frames := ingestServer(t)

	viewer := NewClient(hub, nil, 8)
	hub.Join(viewer, "cam-1")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "cameraId=cam-1&apiKey=cam-key"), nil)
	require.NoError(t, err)
	defer conn.Close()

	frame := tinyPNG(t, 2, 3)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))

	env := recvEnvelope(t, viewer)
	require.Equal(t, EventImage, env.Event)

	var p ImagePayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "cam-1", p.CameraID)
	assert.NotEmpty(t, p.FrameID)
	assert.Equal(t, 2, p.Width)
	assert.Equal(t, 3, p.Height)
	assert.Equal(t, frame, p.Image)

	// Persistence runs in the background; the frame id from the broadcast
	// must become retrievable with the same bytes
	require.Eventually(t, func() bool {
		stored, err := frames.Get(p.FrameID)
		return err == nil && bytes.Equal(stored.Data, frame)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIngestSkipsNonBinaryMessages(t *testing.T) {
	srv, hub, _, frames := ingestServer(t)

	viewer := NewClient(hub, nil, 8)
	hub.Join(viewer, "cam-1")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "cameraId=cam-1&apiKey=cam-key"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, tinyPNG(t, 4, 4)))

	env := recvEnvelope(t, viewer)
	require.Equal(t, EventImage, env.Event)
	var p ImagePayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, 4, p.Width)

	// Only the binary message produced a frame
	require.Eventually(t, func() bool {
		return frames.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assertNoEvent(t, viewer)
}

func TestIngestMarksCameraStatus(t *testing.T) {
	srv, _, reg, _ := ingestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "cameraId=cam-1&apiKey=cam-key"), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return reg.Status("cam-1") == "active"
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return reg.Status("cam-1") == "inactive"
	}, 2*time.Second, 10*time.Millisecond)
}
