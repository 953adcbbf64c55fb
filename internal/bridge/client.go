package bridge

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"ShopChat/internal/lib/sl"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	surfaceWriteWait = 10 * time.Second
	surfaceIdle      = 60 * time.Second
	surfacePing      = surfaceIdle / 2
	// commands carry at most one chat message
	maxCommandSize = 8192
	surfaceQueue   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin lets native surfaces (no Origin header) and pages served from the
// bridge host itself attach.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// surface is one attached chat surface: a widget, an admin page or another
// terminal outside the process.
type surface struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	id       string
	username string
	log      *slog.Logger
}

// listen feeds text frames to the hub as commands until the surface goes away.
func (s *surface) listen() {
	defer func() {
		s.hub.detach(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxCommandSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(surfaceIdle))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(surfaceIdle))
	})

	for {
		kind, command, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.With(sl.Err(err)).Debug("surface dropped")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.hub.HandleClientMessage(s.username, command)
	}
}

// push writes hub events to the surface and keeps it alive with pings. A
// closed queue means the hub let the surface go.
func (s *surface) push() {
	keepalive := time.NewTicker(surfacePing)
	defer func() {
		keepalive.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case event, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(surfaceWriteWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge stopped"))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, event); err != nil {
				s.log.With(sl.Err(err)).Debug("push to surface")
				return
			}

		case <-keepalive.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(surfaceWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Authenticator validates a token and returns the username.
type Authenticator interface {
	ValidateToken(token string) (string, error)
}

// ServeWs attaches a surface. Browsers cannot set headers on a websocket
// handshake, so the bridge key comes in the token query parameter.
func ServeWs(hub *Hub, auth Authenticator, log *slog.Logger, w http.ResponseWriter, r *http.Request) {
	username, err := auth.ValidateToken(r.URL.Query().Get("token"))
	if err != nil {
		log.With(slog.String("remote", r.RemoteAddr)).Debug("surface rejected")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.With(sl.Err(err)).Warn("surface upgrade failed")
		return
	}

	id := uuid.NewString()
	s := &surface{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, surfaceQueue),
		id:       id,
		username: username,
		log:      log.With(sl.Module("bridge.surface"), slog.String("surface", id)),
	}
	if !hub.attach(s) {
		_ = conn.Close()
		return
	}

	go s.push()
	go s.listen()
}
