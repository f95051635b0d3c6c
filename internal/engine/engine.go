package engine

import (
	"errors"
	"time"

	"github.com/DoyleJ11/lobby-sync/internal/protocol"
	"github.com/DoyleJ11/lobby-sync/internal/roster"
	"github.com/DoyleJ11/lobby-sync/internal/session"
)

var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrLobbyFull = errors.New("lobby full")
var ErrUnknownConnection = errors.New("unknown connection")
var ErrLobbyClosed = errors.New("lobby closed")
var ErrNotHost = errors.New("only the host seat may close the lobby")

// ServerConn is the connection id used for triggers raised by the server
// itself rather than by a client. Transport ids start at 1.
const ServerConn uint64 = 0

const HostSeat = 0

type Phase string

const (
	PhaseOpen    Phase = "open"
	PhaseClosing Phase = "closing"
	PhaseClosed  Phase = "closed"
)

type Rules struct {
	MaxSeats       int
	Policy         Policy
	CloseDelay     time.Duration
	BootFlushDelay time.Duration
	NextScene      string
	LobbyScene     int32
	RetireDelay    time.Duration // hand-off -> lobby stops
}

type CommandType string

const (
	CmdConnect           CommandType = "Connect"
	CmdDisconnect        CommandType = "Disconnect"
	CmdChangeSeat        CommandType = "ChangeSeat"
	CmdSceneChanged      CommandType = "SceneChanged"
	CmdCloseLobby        CommandType = "CloseLobby"
	CmdRequestDisconnect CommandType = "RequestDisconnect"
	CmdBootDue           CommandType = "BootDue"
	CmdEndLobby          CommandType = "EndLobby"
)

/*
	CmdConnect           -> Send(ConnectResult) -> Send(roster snapshot) -> Send(AssignSeatNumber), others get the append op
	                     -> on full: Send(ConnectResult) -> Send(FatalLobbyError) -> Send(SetDisconnectReason) -> ScheduleBoot
	CmdDisconnect        -> roster remove op to everyone left, CancelBoot if one was pending
	CmdRequestDisconnect -> Send(SetDisconnectReason) -> ScheduleBoot
	CmdBootDue           -> roster remove op -> Close
	CmdCloseLobby        -> LobbyStatus(closed) -> Persist -> ScheduleEnd
	CmdEndLobby          -> SwitchScene to everyone -> Transition -> Retire
*/

type Command struct {
	Type    CommandType
	Conn    uint64
	Payload []byte
	Scene   int32
	Now     float64 // seconds since the lobby started
}

type EffectType string

const (
	EffSend         EffectType = "Send"
	EffClose        EffectType = "Close"
	EffScheduleBoot EffectType = "ScheduleBoot"
	EffCancelBoot   EffectType = "CancelBoot"
	EffPersist      EffectType = "Persist"
	EffScheduleEnd  EffectType = "ScheduleEnd"
	EffTransition   EffectType = "Transition"
	EffRetire       EffectType = "Retire"
)

// Effect is an instruction for the event loop. Effects are returned in the
// order they must be carried out.
type Effect struct {
	Type    EffectType
	Conn    uint64
	Message protocol.ServerMessage
	Reason  protocol.ConnectStatus
	Delay   time.Duration
	Results *Results
}

type Choice struct {
	ConnectionID uint64 `json:"connectionId"`
	PersistentID string `json:"persistentId"`
	PlayerName   string `json:"playerName"`
	SeatNumber   int    `json:"seatNumber"`
}

// Results is the seat-to-choice mapping captured when the lobby closes.
type Results struct {
	LobbyID string   `json:"lobbyId"`
	Code    string   `json:"code"`
	Scene   string   `json:"scene"`
	Choices []Choice `json:"choices"`
}

// State is one lobby instance. It is not safe for concurrent use; the lobby
// loop serializes every call.
type State struct {
	LobbyID   string
	Code      string
	Rules     Rules
	Phase     Phase
	Closed    bool
	Directory *session.Directory
	Roster    *roster.Roster

	live    map[uint64]bool                   // approved and still receiving
	pending map[uint64]bool                   // connected, waiting to be booted
	booting map[uint64]protocol.ConnectStatus // boot scheduled, with its reason
	results *Results
}

func Apply(s *State, cmd Command) ([]Effect, error) {
	switch cmd.Type {
	case CmdConnect:
		d, effects := s.Approve(cmd.Conn, cmd.Payload, cmd.Now)
		return effects, d.Err

	case CmdDisconnect:
		if !s.live[cmd.Conn] && !s.pending[cmd.Conn] {
			return nil, nil
		}
		return s.drop(cmd.Conn), nil

	case CmdChangeSeat:
		idx := s.Roster.IndexOf(cmd.Conn)
		if idx == -1 {
			// Late message for a seat a disconnect already removed.
			return nil, ErrUnknownConnection
		}
		if s.Closed {
			return nil, ErrLobbyClosed
		}
		rec, _ := s.Roster.At(idx)
		rec.LastChangeTime = cmd.Now
		op, err := s.Roster.UpdateAt(idx, rec)
		if err != nil {
			return nil, err
		}
		return s.broadcast(protocol.RosterChanged(op)), nil

	case CmdSceneChanged:
		if !s.live[cmd.Conn] {
			return nil, ErrUnknownConnection
		}
		s.Directory.SetScene(cmd.Conn, cmd.Scene)
		return nil, nil

	case CmdRequestDisconnect:
		if !s.live[cmd.Conn] {
			return nil, ErrUnknownConnection
		}
		return s.boot(cmd.Conn, protocol.StatusUserRequestedDisconnect), nil

	case CmdBootDue:
		if !s.live[cmd.Conn] && !s.pending[cmd.Conn] {
			// Left on its own before the flush delay ran out.
			return nil, nil
		}
		reason := s.booting[cmd.Conn]
		delete(s.booting, cmd.Conn)
		effects := s.drop(cmd.Conn)
		return append(effects, Effect{Type: EffClose, Conn: cmd.Conn, Reason: reason}), nil

	case CmdCloseLobby:
		return s.close(cmd.Conn)

	case CmdEndLobby:
		return s.end(), nil

	default:
		return nil, ErrUnsupportedCommand
	}
}
