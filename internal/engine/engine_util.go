package engine

import (
	"maps"
	"slices"

	"github.com/DoyleJ11/lobby-sync/internal/protocol"
	"github.com/DoyleJ11/lobby-sync/internal/roster"
	"github.com/DoyleJ11/lobby-sync/internal/session"
)

func NewState(lobbyID, code string, rules Rules) *State {
	if rules.MaxSeats <= 0 {
		rules.MaxSeats = roster.DefaultMaxSeats
	}
	if rules.Policy == "" {
		rules.Policy = PolicyStrict
	}
	return &State{
		LobbyID:   lobbyID,
		Code:      code,
		Rules:     rules,
		Phase:     PhaseOpen,
		Directory: session.NewDirectory(),
		Roster:    roster.New(rules.MaxSeats),
		live:      map[uint64]bool{},
		pending:   map[uint64]bool{},
		booting:   map[uint64]protocol.ConnectStatus{},
	}
}

// Live returns the approved connections that receive broadcasts, ascending.
func (s *State) Live() []uint64 {
	return slices.Sorted(maps.Keys(s.live))
}

// Pending returns connections that are waiting to be booted, ascending.
func (s *State) Pending() []uint64 {
	return slices.Sorted(maps.Keys(s.pending))
}

func (s *State) Booting(conn uint64) bool {
	_, ok := s.booting[conn]
	return ok
}

func ContainsEffect(effects []Effect, t EffectType) bool {
	for _, e := range effects {
		if e.Type == t {
			return true
		}
	}
	return false
}

func send(conn uint64, msg protocol.ServerMessage) Effect {
	return Effect{Type: EffSend, Conn: conn, Message: msg}
}

func (s *State) broadcast(msg protocol.ServerMessage) []Effect {
	var effects []Effect
	for _, conn := range s.Live() {
		effects = append(effects, send(conn, msg))
	}
	return effects
}

func (s *State) broadcastExcept(skip uint64, msg protocol.ServerMessage) []Effect {
	var effects []Effect
	for _, conn := range s.Live() {
		if conn != skip {
			effects = append(effects, send(conn, msg))
		}
	}
	return effects
}
