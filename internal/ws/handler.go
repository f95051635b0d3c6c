package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/DoyleJ11/lobby-sync/internal/hub"
	"github.com/DoyleJ11/lobby-sync/internal/lobby"
	"github.com/DoyleJ11/lobby-sync/internal/protocol"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 10 * time.Second
	// Large enough that an oversize handshake still reaches the approval
	// check instead of failing inside the websocket reader.
	readLimit = 16 * protocol.MaxConnectPayload
)

func Handler(h *hub.Hub, t *Transport) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		lb := h.Lookup(r.Context(), code)
		if lb == nil {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		conn.SetReadLimit(readLimit)

		p := t.register(conn)
		log := t.log.With(zap.String("lobby", code), zap.Uint64("conn", p.id))
		defer t.unregister(p.id)

		// The first frame is the handshake payload.
		hctx, cancel := context.WithTimeout(r.Context(), handshakeTimeout)
		_, hello, err := conn.Read(hctx)
		cancel()
		if err != nil {
			log.Debug("no handshake", zap.Error(err))
			conn.CloseNow()
			return
		}
		if !lb.Post(lobby.Connect{Conn: p.id, Payload: hello}) {
			_ = conn.Close(websocket.StatusGoingAway, "lobby gone")
			return
		}
		defer lb.Post(lobby.Disconnect{Conn: p.id})

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Debug("peer left")
				default:
					log.Debug("read ended", zap.Error(err))
				}
				return
			}

			var cm protocol.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				log.Debug("bad json from peer", zap.Error(err))
				continue
			}
			if !lb.Post(lobby.FromClient{Conn: p.id, Msg: cm}) {
				return
			}
		}
	}
}
