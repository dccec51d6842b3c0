package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"trafficwatch/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 256 * 1024, // base64 encoded JPEG frames
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		// In production, this should be more restrictive
		return true
	},
}

// Handler serves the viewer event endpoint. Each connection becomes a
// hub client whose inbound events go through the event router.
type Handler struct {
	hub             *Hub
	router          *EventRouter
	jwt             *auth.JWTManager
	authEnabled     bool
	queueLen        int
	maxMessageBytes int64
}

// NewHandler creates the viewer endpoint handler
func NewHandler(hub *Hub, router *EventRouter, jwt *auth.JWTManager, authEnabled bool, queueLen int, maxMessageBytes int64) *Handler {
	return &Handler{
		hub:             hub,
		router:          router,
		jwt:             jwt,
		authEnabled:     authEnabled,
		queueLen:        queueLen,
		maxMessageBytes: maxMessageBytes,
	}
}

// ServeHTTP handles WebSocket upgrade requests on /ws/events
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authEnabled {
		token := viewerToken(r)
		if token == "" {
			http.Error(w, "token required", http.StatusUnauthorized)
			return
		}
		if _, err := h.jwt.ValidateToken(token); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	c := NewClient(h.hub, conn, h.queueLen)
	log.Printf("[WS] New viewer %s from %s", c.id, r.RemoteAddr)

	go c.writePump()
	go func() {
		c.readPump(h.router, h.maxMessageBytes)
		h.hub.Disconnect(c)
	}()
}

func viewerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if bearer := r.Header.Get("Authorization"); strings.HasPrefix(bearer, "Bearer ") {
		return strings.TrimPrefix(bearer, "Bearer ")
	}
	return ""
}
