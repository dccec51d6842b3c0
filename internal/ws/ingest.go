package ws

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	_ "golang.org/x/image/webp"

	"trafficwatch/internal/framestore"
	"trafficwatch/internal/registry"
)

// IngestHandler serves the per-camera binary frame channel. A camera
// connects with its id and API key as query parameters and then streams
// raw image bytes, one frame per binary message.
type IngestHandler struct {
	hub           *Hub
	registry      *registry.Registry
	frames        *framestore.Store
	maxFrameBytes int64
}

// NewIngestHandler creates the frame ingest endpoint handler
func NewIngestHandler(hub *Hub, reg *registry.Registry, frames *framestore.Store, maxFrameBytes int64) *IngestHandler {
	return &IngestHandler{
		hub:           hub,
		registry:      reg,
		frames:        frames,
		maxFrameBytes: maxFrameBytes,
	}
}

// ServeHTTP authenticates the camera and upgrades to the frame stream.
// Authentication failure refuses the connection before the upgrade.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := r.URL.Query().Get("cameraId")
	apiKey := r.URL.Query().Get("apiKey")

	cam, err := h.registry.Authenticate(cameraID, apiKey)
	if err != nil {
		log.Printf("[Ingest] Refused connection for camera %q: %v", cameraID, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Ingest] Upgrade error for camera %s: %v", cam.ID, err)
		return
	}

	log.Printf("[Ingest] Camera %s (%s) connected from %s", cam.Name, cam.ID, r.RemoteAddr)
	if err := h.registry.SetStatus(cam.ID, "active"); err != nil {
		log.Printf("[Ingest] Failed to mark camera %s active: %v", cam.ID, err)
	}

	go h.readFrames(cam, conn)
}

// readFrames is the per-connection frame loop. The first decodable
// frame fixes the stream's dimensions; every frame is broadcast to the
// camera room synchronously and persisted best-effort in the
// background.
func (h *IngestHandler) readFrames(cam *registry.Camera, conn *websocket.Conn) {
	defer func() {
		conn.Close()
		if err := h.registry.SetStatus(cam.ID, "inactive"); err != nil {
			log.Printf("[Ingest] Failed to mark camera %s inactive: %v", cam.ID, err)
		}
		log.Printf("[Ingest] Camera %s disconnected", cam.ID)
	}()

	conn.SetReadLimit(h.maxFrameBytes)

	var width, height int
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Ingest] Read error for camera %s: %v", cam.ID, err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		if width == 0 {
			cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				log.Printf("[Ingest] Undecodable first frame from camera %s: %v", cam.ID, err)
				continue
			}
			width, height = cfg.Width, cfg.Height
			log.Printf("[Ingest] Camera %s streaming %dx%d %s", cam.ID, width, height, format)
		}

		frameID := framestore.NewID()
		ts := time.Now()

		h.hub.Broadcast(cam.ID, EventImage, ImagePayload{
			CameraID:  cam.ID,
			FrameID:   frameID,
			Width:     width,
			Height:    height,
			Image:     data,
			Timestamp: ts.UnixMilli(),
		}, nil)

		frame := &framestore.Frame{
			ID:        frameID,
			CameraID:  cam.ID,
			Data:      data,
			Width:     width,
			Height:    height,
			Timestamp: ts,
		}
		go h.frames.Put(frame)
	}
}
