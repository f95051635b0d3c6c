package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DoyleJ11/lobby-sync/internal/protocol"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

var (
	ErrUnknownPeer = errors.New("unknown peer")
	ErrSlowPeer    = errors.New("peer outbox full")
)

const (
	outboxSize   = 64
	writeTimeout = 5 * time.Second
)

type frame struct {
	payload []byte
	close   bool
	reason  protocol.ConnectStatus
}

type peer struct {
	id   uint64
	conn *websocket.Conn
	out  chan frame
	done chan struct{}
	once sync.Once
}

func (p *peer) stop() { p.once.Do(func() { close(p.done) }) }

// Transport is the per-peer message channel the lobbies write to. Frames for
// one peer leave in the order they were queued; a close is just another
// frame, so it never overtakes the sends before it.
type Transport struct {
	mu    sync.Mutex
	peers map[uint64]*peer
	next  atomic.Uint64
	log   *zap.Logger
}

func NewTransport(log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{peers: make(map[uint64]*peer), log: log.Named("ws")}
}

// register hands out a connection id (never 0) and starts the peer's writer.
func (t *Transport) register(conn *websocket.Conn) *peer {
	p := &peer{
		id:   t.next.Add(1),
		conn: conn,
		out:  make(chan frame, outboxSize),
		done: make(chan struct{}),
	}
	t.mu.Lock()
	t.peers[p.id] = p
	t.mu.Unlock()

	go t.writer(p)
	return p
}

func (t *Transport) unregister(id uint64) {
	t.mu.Lock()
	p := t.peers[id]
	delete(t.peers, id)
	t.mu.Unlock()
	if p != nil {
		p.stop()
	}
}

func (t *Transport) lookup(id uint64) *peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peers[id]
}

// Len reports how many peers are currently registered.
func (t *Transport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

func (t *Transport) Send(conn uint64, msg protocol.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return t.enqueue(conn, frame{payload: payload})
}

func (t *Transport) Close(conn uint64, reason protocol.ConnectStatus) error {
	return t.enqueue(conn, frame{close: true, reason: reason})
}

func (t *Transport) enqueue(conn uint64, f frame) error {
	p := t.lookup(conn)
	if p == nil {
		return ErrUnknownPeer
	}
	select {
	case p.out <- f:
		return nil
	case <-p.done:
		return ErrUnknownPeer
	default:
		// A peer that cannot keep up would stall the lobby loop.
		t.log.Warn("dropping slow peer", zap.Uint64("conn", conn))
		p.stop()
		p.conn.CloseNow()
		return ErrSlowPeer
	}
}

func (t *Transport) writer(p *peer) {
	for {
		select {
		case <-p.done:
			return
		case f := <-p.out:
			if f.close {
				code, text := closeStatus(f.reason)
				if err := p.conn.Close(code, text); err != nil {
					t.log.Debug("close handshake", zap.Uint64("conn", p.id), zap.Error(err))
				}
				p.stop()
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := p.conn.Write(ctx, websocket.MessageText, f.payload)
			cancel()
			if err != nil {
				t.log.Debug("write failed", zap.Uint64("conn", p.id), zap.Error(err))
				p.stop()
				p.conn.CloseNow()
				return
			}
		}
	}
}

func closeStatus(reason protocol.ConnectStatus) (websocket.StatusCode, string) {
	switch reason {
	case protocol.StatusUserRequestedDisconnect:
		return websocket.StatusNormalClosure, reason.String()
	case protocol.StatusServerFull:
		return websocket.StatusTryAgainLater, reason.String()
	case protocol.StatusLoggedInAgain:
		return websocket.StatusPolicyViolation, reason.String()
	case protocol.StatusGenericDisconnect:
		return websocket.StatusGoingAway, reason.String()
	default:
		return websocket.StatusPolicyViolation, "handshake rejected"
	}
}
