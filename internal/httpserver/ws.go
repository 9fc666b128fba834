// internal/httpserver/ws.go
//
// Websocket push of the game document.
// GET /games/{code}/ws upgrades the connection and sends
// {"type":"game","game":{...}} on every committed change, starting with
// the current document. Inbound frames are only read for close/pong.

package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"

	"github.com/robalobadob/timeline/internal/game"
	"github.com/robalobadob/timeline/internal/identity"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

type pushMsg struct {
	Type string     `json:"type"`
	Game *game.Game `json:"game"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || strings.EqualFold(strings.TrimRight(origin, "/"), strings.TrimRight(s.opts.ClientOrigin, "/"))
		},
	}
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	c := code(r)
	if _, err := s.svc.Get(r.Context(), c); err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		writeError(w, r, err)
		return
	}
	uid := identity.UID(r.Context())
	logger := hlog.FromRequest(r).With().Str("code", c).Logger()

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// one slot: a slow client only ever gets the latest document
	send := make(chan []byte, 1)
	unsub, err := s.svc.Subscribe(ctx, c, func(g *game.Game) {
		data, err := json.Marshal(pushMsg{Type: "game", Game: view(g, uid)})
		if err != nil {
			return
		}
		select {
		case send <- data:
		default:
			select {
			case <-send:
			default:
			}
			select {
			case send <- data:
			default:
			}
		}
	})
	if err != nil {
		logger.Warn().Err(err).Msg("subscribe")
		_ = conn.Close()
		return
	}
	defer unsub()

	go readPump(conn, cancel)
	writePump(ctx, conn, send)
	logger.Debug().Msg("websocket closed")
}

// readPump discards inbound frames and cancels ctx when the peer goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
