// Package client is the player-side end of the lobby channel. It performs the
// handshake, keeps a read-only mirror of the roster and reports lobby events
// to registered observers.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/DoyleJ11/lobby-sync/internal/protocol"
	"github.com/DoyleJ11/lobby-sync/internal/roster"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("client closed")

// Observer is what UI-side consumers implement to follow the lobby.
type Observer interface {
	OnRosterChanged(op roster.Op, records []roster.SeatRecord)
	OnAssignedSeat(seat int)
	OnFatalError(code protocol.FatalLobbyError)
}

// Optional observer capabilities, checked with a type assertion.
type (
	ConnectObserver interface {
		OnConnectResult(status protocol.ConnectStatus)
	}
	DisconnectObserver interface {
		OnDisconnectReason(status protocol.ConnectStatus)
	}
	StatusObserver interface {
		OnLobbyStatus(closed bool)
	}
	SceneObserver interface {
		OnSwitchScene(scene string)
	}
)

type Options struct {
	PersistentID string // generated when empty
	PlayerName   string
	Scene        int32
	Log          *zap.Logger

	// Observers registered before the first frame is read.
	Observers []Observer
}

type Client struct {
	conn *websocket.Conn
	id   string
	log  *zap.Logger

	mu        sync.Mutex
	mirror    *roster.Mirror
	seat      int
	result    protocol.ConnectStatus
	reason    protocol.ConnectStatus
	closed    bool
	scene     string
	observers map[int]Observer
	nextObs   int
	err       error

	done chan struct{}
}

// Dial connects to a lobby websocket URL (ws://host/ws?code=XXXXXX) and sends
// the handshake.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.PersistentID == "" {
		opts.PersistentID = uuid.NewString()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	hello, err := json.Marshal(protocol.ConnectionRequest{
		PersistentID: opts.PersistentID,
		CurrentScene: opts.Scene,
		PlayerName:   opts.PlayerName,
	})
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	c := &Client{
		conn:      conn,
		id:        opts.PersistentID,
		log:       opts.Log.With(zap.String("persistent_id", opts.PersistentID)),
		mirror:    roster.NewMirror(),
		seat:      -1,
		observers: make(map[int]Observer),
		done:      make(chan struct{}),
	}
	for _, o := range opts.Observers {
		c.Register(o)
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) PersistentID() string  { return c.id }
func (c *Client) Done() <-chan struct{} { return c.done }

// Register adds an observer and returns the function that removes it.
func (c *Client) Register(o Observer) func() {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = o
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

func (c *Client) Roster() []roster.SeatRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror.Records()
}

func (c *Client) RosterSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror.Seq()
}

// Seat returns the seat the server assigned, if any.
func (c *Client) Seat() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seat, c.seat >= 0
}

func (c *Client) ConnectResult() protocol.ConnectStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// DisconnectReason is the last reason the server gave before closing us.
func (c *Client) DisconnectReason() protocol.ConnectStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Client) LobbyClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) NextScene() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scene
}

// Err reports why the read loop stopped. Nil while running and after a clean
// close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) ChangeSeat(ctx context.Context) error {
	return c.send(ctx, protocol.ClientMessage{Type: protocol.MsgChangeSeat})
}

func (c *Client) CloseLobby(ctx context.Context) error {
	return c.send(ctx, protocol.ClientMessage{Type: protocol.MsgCloseLobby})
}

func (c *Client) SceneChanged(ctx context.Context, scene int32) error {
	return c.send(ctx, protocol.ClientMessage{Type: protocol.MsgClientSceneChanged, Scene: scene})
}

func (c *Client) RequestDisconnect(ctx context.Context) error {
	return c.send(ctx, protocol.ClientMessage{Type: protocol.MsgRequestDisconnect})
}

func (c *Client) send(ctx context.Context, m protocol.ClientMessage) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close drops every observer and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	clear(c.observers)
	c.mu.Unlock()

	var err error
	select {
	case <-c.done:
	default:
		err = c.conn.Close(websocket.StatusNormalClosure, "bye")
	}
	<-c.done
	return multierr.Combine(err, c.Err())
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			c.stop(err)
			return
		}
		var msg protocol.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("bad server frame", zap.Error(err))
			continue
		}
		if err := c.handle(msg); err != nil {
			// A broken op stream means our mirror no longer matches the server.
			c.log.Error("roster out of sync", zap.Error(err))
			c.setErr(err)
			c.conn.CloseNow()
			return
		}
	}
}

func (c *Client) stop(err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway,
		websocket.StatusPolicyViolation, websocket.StatusTryAgainLater:
		// Server closed us on purpose; DisconnectReason says why.
		c.log.Debug("connection closed", zap.Error(err))
		return
	}
	c.mu.Lock()
	expected := c.reason != protocol.StatusUndefined
	c.mu.Unlock()
	if expected || errors.Is(err, net.ErrClosed) {
		return
	}
	c.setErr(err)
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

func (c *Client) handle(msg protocol.ServerMessage) error {
	c.mu.Lock()
	var notify func(Observer)

	switch msg.Type {
	case protocol.MsgConnectResult:
		c.result = msg.Status
		notify = func(o Observer) {
			if co, ok := o.(ConnectObserver); ok {
				co.OnConnectResult(msg.Status)
			}
		}

	case protocol.MsgSetDisconnectReason:
		c.reason = msg.Status
		notify = func(o Observer) {
			if do, ok := o.(DisconnectObserver); ok {
				do.OnDisconnectReason(msg.Status)
			}
		}

	case protocol.MsgAssignSeatNumber:
		if msg.Seat == nil {
			break
		}
		seat := *msg.Seat
		c.seat = seat
		notify = func(o Observer) { o.OnAssignedSeat(seat) }

	case protocol.MsgFatalLobbyError:
		code := msg.Error
		notify = func(o Observer) { o.OnFatalError(code) }

	case protocol.MsgRosterOp:
		if msg.Op == nil {
			break
		}
		op := *msg.Op
		if err := c.mirror.Apply(op); err != nil {
			c.mu.Unlock()
			return err
		}
		records := c.mirror.Records()
		notify = func(o Observer) { o.OnRosterChanged(op, records) }

	case protocol.MsgLobbyStatus:
		c.closed = msg.Closed
		notify = func(o Observer) {
			if so, ok := o.(StatusObserver); ok {
				so.OnLobbyStatus(msg.Closed)
			}
		}

	case protocol.MsgSwitchScene:
		c.scene = msg.Scene
		notify = func(o Observer) {
			if so, ok := o.(SceneObserver); ok {
				so.OnSwitchScene(msg.Scene)
			}
		}

	default:
		c.log.Debug("unknown server message", zap.String("type", msg.Type))
	}

	observers := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o)
	}
	c.mu.Unlock()

	if notify != nil {
		for _, o := range observers {
			notify(o)
		}
	}
	return nil
}
