package lobby

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/lobby-sync/internal/engine"
	"github.com/DoyleJ11/lobby-sync/internal/protocol"
	"github.com/DoyleJ11/lobby-sync/internal/roster"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const collaboratorTimeout = 10 * time.Second

type Msg interface{ isLobbyMsg() }

// Connect carries the raw handshake frame of a newly connected peer.
type Connect struct {
	Conn    uint64
	Payload []byte
}

func (Connect) isLobbyMsg() {}

type Disconnect struct{ Conn uint64 }

func (Disconnect) isLobbyMsg() {}

type FromClient struct {
	Conn uint64
	Msg  protocol.ClientMessage
}

func (FromClient) isLobbyMsg() {}

// Close is the server-side close trigger (operator or all-ready check).
type Close struct{}

func (Close) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type bootDue struct{ Conn uint64 }

func (bootDue) isLobbyMsg() {}

type endDue struct{}

func (endDue) isLobbyMsg() {}

type retireDue struct{}

func (retireDue) isLobbyMsg() {}

// Channel is the reliable, ordered, per-peer message channel. A Close issued
// after a Send must not overtake it.
type Channel interface {
	Send(conn uint64, msg protocol.ServerMessage) error
	Close(conn uint64, reason protocol.ConnectStatus) error
}

// ResultStore receives the seat-to-choice mapping when the lobby closes.
type ResultStore interface {
	SaveResults(ctx context.Context, res *engine.Results) error
}

// Handoff is the next stage (gameplay scene load).
type Handoff interface {
	Transition(ctx context.Context, res *engine.Results) error
}

type HandoffFunc func(ctx context.Context, res *engine.Results) error

func (f HandoffFunc) Transition(ctx context.Context, res *engine.Results) error { return f(ctx, res) }

type Deps struct {
	Channel Channel
	Store   ResultStore
	Handoff Handoff
	Log     *zap.Logger
}

type View struct {
	ID              string
	Code            string
	Phase           engine.Phase
	Closed          bool
	Seq             uint64
	Roster          []roster.SeatRecord
	NumClients      int
	InLobbyScene    int
	AllInLobbyScene bool
}

type Lobby struct {
	id    string
	code  string
	inbox chan Msg
	state *engine.State
	deps  Deps
	log   *zap.Logger

	start       time.Time
	boots       map[uint64]*time.Timer
	endTimer    *time.Timer
	retireTimer *time.Timer
	unwatch     func()
	bg          errgroup.Group

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLobby(parent context.Context, code string, rules engine.Rules, deps Deps) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	id := uuid.NewString()

	l := &Lobby{
		id:     id,
		code:   code,
		inbox:  make(chan Msg, 64),
		state:  engine.NewState(id, code, rules),
		deps:   deps,
		log:    deps.Log.With(zap.String("lobby", code), zap.String("lobby_id", id)),
		start:  time.Now(),
		boots:  make(map[uint64]*time.Timer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	l.unwatch = l.state.Roster.Subscribe(func(op roster.Op) {
		l.log.Debug("roster changed",
			zap.Uint64("seq", op.Seq),
			zap.String("kind", string(op.Kind)),
			zap.Int("index", op.Index))
	})

	go l.loop()
	return l
}

func (l *Lobby) ID() string            { return l.id }
func (l *Lobby) Code() string          { return l.code }
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Expose the inbox so tests or the transport can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Post delivers m unless the lobby has already stopped.
func (l *Lobby) Post(m Msg) bool {
	select {
	case l.inbox <- m:
		return true
	case <-l.done:
		return false
	}
}

// View asks the loop for a consistent copy of its state.
func (l *Lobby) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if !l.Post(GetState{Reply: reply}) {
		return View{}, errors.New("lobby stopped")
	}
	select {
	case v := <-reply:
		return v, nil
	case <-l.done:
		return View{}, errors.New("lobby stopped")
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Connect:
				l.apply(engine.Command{Type: engine.CmdConnect, Conn: msg.Conn, Payload: msg.Payload, Now: l.now()})

			case Disconnect:
				l.apply(engine.Command{Type: engine.CmdDisconnect, Conn: msg.Conn})

			case FromClient:
				cmd, ok := toEngineCommand(msg)
				if !ok {
					l.log.Debug("unknown client message", zap.Uint64("conn", msg.Conn), zap.String("type", msg.Msg.Type))
					break
				}
				cmd.Now = l.now()
				l.apply(cmd)

			case Close:
				l.apply(engine.Command{Type: engine.CmdCloseLobby, Conn: engine.ServerConn})

			case bootDue:
				delete(l.boots, msg.Conn)
				l.apply(engine.Command{Type: engine.CmdBootDue, Conn: msg.Conn})

			case endDue:
				l.endTimer = nil
				l.apply(engine.Command{Type: engine.CmdEndLobby})

			case GetState:
				msg.Reply <- l.view()

			case Shutdown:
				l.shutdown()
				return

			case retireDue:
				l.log.Info("lobby retired")
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) apply(cmd engine.Command) {
	effects, err := engine.Apply(l.state, cmd)
	if err != nil {
		l.logRejected(cmd, err)
	}
	for _, e := range effects {
		l.run(e)
	}
}

func (l *Lobby) run(e engine.Effect) {
	switch e.Type {
	case engine.EffSend:
		if err := l.deps.Channel.Send(e.Conn, e.Message); err != nil {
			l.log.Warn("send failed", zap.Uint64("conn", e.Conn), zap.String("msg", e.Message.Type), zap.Error(err))
		}

	case engine.EffClose:
		if err := l.deps.Channel.Close(e.Conn, e.Reason); err != nil {
			l.log.Debug("close failed", zap.Uint64("conn", e.Conn), zap.Error(err))
		}

	case engine.EffScheduleBoot:
		conn := e.Conn
		if t, ok := l.boots[conn]; ok {
			t.Stop()
		}
		// Even a zero delay goes back through the inbox, giving the transport
		// a round to flush the reason before the close.
		l.boots[conn] = time.AfterFunc(e.Delay, func() { l.post(bootDue{Conn: conn}) })

	case engine.EffCancelBoot:
		if t, ok := l.boots[e.Conn]; ok {
			t.Stop()
			delete(l.boots, e.Conn)
		}

	case engine.EffScheduleEnd:
		if l.endTimer != nil {
			return
		}
		l.log.Info("lobby closing", zap.Duration("delay", e.Delay))
		l.endTimer = time.AfterFunc(e.Delay, func() { l.post(endDue{}) })

	case engine.EffPersist:
		if l.deps.Store == nil {
			return
		}
		res := e.Results
		l.background("persist results", func(ctx context.Context) error {
			return l.deps.Store.SaveResults(ctx, res)
		})

	case engine.EffTransition:
		l.log.Info("lobby handing off", zap.String("scene", l.state.Rules.NextScene), zap.Int("players", len(e.Results.Choices)))
		if l.deps.Handoff == nil {
			return
		}
		res := e.Results
		l.background("handoff", func(ctx context.Context) error {
			return l.deps.Handoff.Transition(ctx, res)
		})

	case engine.EffRetire:
		// The roster and session state are done once gameplay owns the players.
		if l.retireTimer != nil {
			return
		}
		l.retireTimer = time.AfterFunc(e.Delay, func() { l.post(retireDue{}) })
	}
}

// background runs a collaborator call off the loop so the loop stays
// responsive. Calls outlive cancellation of the lobby context.
func (l *Lobby) background(what string, fn func(ctx context.Context) error) {
	l.bg.Go(func() error {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(l.ctx), collaboratorTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			l.log.Error(what+" failed", zap.Error(err))
			return err
		}
		return nil
	})
}

func (l *Lobby) post(m Msg) {
	select {
	case l.inbox <- m:
	case <-l.ctx.Done():
	}
}

func (l *Lobby) shutdown() {
	for conn, t := range l.boots {
		t.Stop()
		delete(l.boots, conn)
	}
	if l.endTimer != nil {
		l.endTimer.Stop()
	}
	if l.retireTimer != nil {
		l.retireTimer.Stop()
	}
	l.unwatch()

	for _, conn := range l.state.Live() {
		_ = l.deps.Channel.Send(conn, protocol.SetDisconnectReason(protocol.StatusGenericDisconnect))
		_ = l.deps.Channel.Close(conn, protocol.StatusGenericDisconnect)
	}
	// These already have their reason.
	for _, conn := range l.state.Pending() {
		_ = l.deps.Channel.Close(conn, protocol.StatusGenericDisconnect)
	}
	l.cancel()
	_ = l.bg.Wait()
}

func (l *Lobby) view() View {
	s := l.state
	return View{
		ID:              l.id,
		Code:            l.code,
		Phase:           s.Phase,
		Closed:          s.Closed,
		Seq:             s.Roster.Seq(),
		Roster:          s.Roster.Records(),
		NumClients:      len(s.Live()),
		InLobbyScene:    s.Directory.CountInScene(s.Rules.LobbyScene),
		AllInLobbyScene: s.Directory.AllInScene(s.Rules.LobbyScene),
	}
}

func (l *Lobby) now() float64 { return time.Since(l.start).Seconds() }

func (l *Lobby) logRejected(cmd engine.Command, err error) {
	fields := []zap.Field{zap.String("cmd", string(cmd.Type)), zap.Uint64("conn", cmd.Conn), zap.Error(err)}
	switch {
	case errors.Is(err, engine.ErrUnknownConnection), errors.Is(err, engine.ErrLobbyClosed):
		l.log.Debug("discarded", fields...)
	case errors.Is(err, engine.ErrLobbyFull), errors.Is(err, engine.ErrNotHost),
		errors.Is(err, protocol.ErrPayloadTooLarge), errors.Is(err, protocol.ErrMalformedPayload):
		l.log.Info("rejected", fields...)
	default:
		l.log.Warn("command failed", fields...)
	}
}

func toEngineCommand(m FromClient) (engine.Command, bool) {
	switch m.Msg.Type {
	case protocol.MsgClientSceneChanged:
		return engine.Command{Type: engine.CmdSceneChanged, Conn: m.Conn, Scene: m.Msg.Scene}, true
	case protocol.MsgChangeSeat:
		return engine.Command{Type: engine.CmdChangeSeat, Conn: m.Conn}, true
	case protocol.MsgCloseLobby:
		return engine.Command{Type: engine.CmdCloseLobby, Conn: m.Conn}, true
	case protocol.MsgRequestDisconnect:
		return engine.Command{Type: engine.CmdRequestDisconnect, Conn: m.Conn}, true
	default:
		return engine.Command{}, false
	}
}
