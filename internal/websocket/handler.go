package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mtr002/jobpulse/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TokenVerifier resolves a bearer token to the owner id it was issued for
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Handler upgrades authenticated requests and keeps the connection
// registered until the client goes away
type Handler struct {
	registry *Registry
	verifier TokenVerifier
}

func NewHandler(registry *Registry, verifier TokenVerifier) *Handler {
	return &Handler{registry: registry, verifier: verifier}
}

func tokenFrom(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := tokenFrom(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	ownerID, err := h.verifier.Verify(token)
	if err != nil {
		logger.Logger.Debug().Err(err).Msg("Rejected websocket token")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	conn := NewConn(ws)
	h.registry.Register(ownerID, conn)
	logger.WithOwnerID(ownerID).Info().Msg("WebSocket connected")

	go h.keepAlive(conn)
	h.readLoop(ownerID, conn)
}

// readLoop drains client frames so control messages are processed, and
// unregisters once the peer disconnects
func (h *Handler) readLoop(ownerID string, conn *Conn) {
	defer func() {
		h.registry.Unregister(ownerID, conn)
		conn.Close()
		logger.WithOwnerID(ownerID).Info().Msg("WebSocket disconnected")
	}()

	ws := conn.ws
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithOwnerID(ownerID).Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
		if strings.TrimSpace(string(data)) == "ping" {
			if err := conn.Send([]byte("pong")); err != nil {
				return
			}
		}
	}
}

func (h *Handler) keepAlive(conn *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
