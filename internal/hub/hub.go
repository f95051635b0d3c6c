package hub

import (
	"context"
	"slices"

	"github.com/DoyleJ11/lobby-sync/internal/engine"
	"github.com/DoyleJ11/lobby-sync/internal/lobby"
	"go.uber.org/zap"
)

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type EnsureLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

// RemoveLobby drops Code from the registry. A non-empty ID only removes the
// lobby if it is still that instance.
type RemoveLobby struct {
	Code string
	ID   string
}

type ListLobbies struct {
	Reply chan []string
}

type ShutdownHub struct{}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ListLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

// Hub owns the code -> lobby registry. Every lobby it creates shares the same
// rules and collaborators.
type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	rules   engine.Rules
	deps    lobby.Deps
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(parent context.Context, rules engine.Rules, deps lobby.Deps) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		rules:   rules,
		deps:    deps,
		log:     deps.Log.Named("hub"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg  { return h.inbox }
func (h *Hub) Done() <-chan struct{} { return h.done }

// Lookup is a blocking convenience around GetLobby. It returns nil when the
// code is unknown or the hub has stopped.
func (h *Hub) Lookup(ctx context.Context, code string) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	select {
	case h.inbox <- GetLobby{Code: code, Reply: reply}:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return nil
	}
	select {
	case lb := <-reply:
		return lb
	case <-ctx.Done():
		return nil
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					msg.Reply <- lb
					break
				}
				msg.Reply <- h.spawn(msg.Code)

			case GetLobby:
				msg.Reply <- h.lobbies[msg.Code] // May be nil

			case EnsureLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					msg.Reply <- lb
					break
				}
				msg.Reply <- h.spawn(msg.Code)

			case RemoveLobby:
				if lb := h.lobbies[msg.Code]; lb != nil && (msg.ID == "" || msg.ID == lb.ID()) {
					delete(h.lobbies, msg.Code)
					lb.Post(lobby.Shutdown{})
					h.log.Info("lobby removed", zap.String("code", msg.Code))
				}

			case ListLobbies:
				codes := make([]string, 0, len(h.lobbies))
				for code := range h.lobbies {
					codes = append(codes, code)
				}
				slices.Sort(codes)
				msg.Reply <- codes

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) spawn(code string) *lobby.Lobby {
	lb := lobby.NewLobby(h.ctx, code, h.rules, h.deps)
	h.lobbies[code] = lb
	h.log.Info("lobby created", zap.String("code", code), zap.String("lobby_id", lb.ID()))

	// Forget lobbies that stop on their own.
	go func() {
		select {
		case <-lb.Done():
			select {
			case h.inbox <- RemoveLobby{Code: code, ID: lb.ID()}:
			case <-h.ctx.Done():
			}
		case <-h.ctx.Done():
		}
	}()
	return lb
}

// shutdown stops every lobby and waits for their loops to finish.
func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.Post(lobby.Shutdown{})
	}
	for code, lb := range h.lobbies {
		<-lb.Done()
		delete(h.lobbies, code)
	}
	h.cancel()
}
