package engine

import (
	"github.com/DoyleJ11/lobby-sync/internal/protocol"
	"github.com/DoyleJ11/lobby-sync/internal/roster"
	"github.com/DoyleJ11/lobby-sync/internal/session"
)

// Decision is the outcome of Approve. Seat is -1 when no seat was assigned.
type Decision struct {
	Approved     bool
	Status       protocol.ConnectStatus
	PersistentID string
	Seat         int
	Err          error
}

// Approve runs the connection approval protocol for a freshly connected peer
// and, on success, seats it.
func (s *State) Approve(conn uint64, payload []byte, now float64) (Decision, []Effect) {
	req, err := protocol.ParseConnectionRequest(payload)
	if err != nil {
		// Never completed a valid handshake: nothing recorded, nothing owed.
		return Decision{Seat: -1, Err: err}, []Effect{{Type: EffClose, Conn: conn}}
	}

	pid := req.PersistentID
	var kick uint64
	kicking := false
	if prev, dup := s.Directory.Lookup(pid); dup {
		switch s.Rules.Policy {
		case PolicyPermissive:
			pid = s.Directory.Disambiguate(pid)
		default:
			kick, kicking = prev.ConnectionID, true
		}
	}

	seat := -1
	if !s.Closed {
		var leaving []uint64
		if kicking {
			leaving = append(leaving, kick)
		}
		n, err := s.Roster.Allocate(leaving...)
		if err != nil {
			s.pending[conn] = true
			effects := []Effect{
				send(conn, protocol.ConnectResult(protocol.StatusServerFull)),
				send(conn, protocol.FatalError(protocol.FatalLobbyFull)),
			}
			effects = append(effects, s.boot(conn, protocol.StatusServerFull)...)
			return Decision{Status: protocol.StatusServerFull, PersistentID: pid, Seat: -1, Err: ErrLobbyFull}, effects
		}
		seat = n
	}

	var effects []Effect
	if kicking {
		effects = append(effects, s.evict(kick, protocol.StatusLoggedInAgain)...)
	}

	s.Directory.Bind(session.ClientIdentity{PersistentID: pid, ConnectionID: conn, PlayerName: req.PlayerName})
	s.Directory.SetScene(conn, req.CurrentScene)
	s.live[conn] = true
	effects = append(effects, send(conn, protocol.ConnectResult(protocol.StatusSuccess)))

	d := Decision{Approved: true, Status: protocol.StatusSuccess, PersistentID: pid, Seat: seat}
	if s.Closed {
		// Joining a closed lobby seats nobody; the peer just follows the others out.
		effects = append(effects,
			send(conn, protocol.RosterChanged(s.Roster.Snapshot())),
			send(conn, protocol.LobbyStatus(true)))
		if s.Phase == PhaseClosed {
			effects = append(effects, send(conn, protocol.SwitchScene(s.Rules.NextScene)))
		}
		return d, effects
	}

	rec := roster.SeatRecord{
		ConnectionID:   conn,
		PlayerName:     s.Directory.PlayerName(conn, seat),
		SeatNumber:     seat,
		LastChangeTime: now,
	}
	op, err := s.Roster.Append(rec)
	if err != nil {
		d.Err = err
		return d, effects
	}
	effects = append(effects, s.broadcastExcept(conn, protocol.RosterChanged(op))...)
	effects = append(effects,
		send(conn, protocol.RosterChanged(s.Roster.Snapshot())),
		send(conn, protocol.AssignSeatNumber(seat)))
	return d, effects
}

// boot delivers the reason first and leaves the close to a later loop round,
// so the transport gets a chance to flush the reason.
func (s *State) boot(conn uint64, reason protocol.ConnectStatus) []Effect {
	if _, already := s.booting[conn]; already {
		return nil
	}
	delete(s.live, conn)
	s.pending[conn] = true
	s.booting[conn] = reason
	return []Effect{
		send(conn, protocol.SetDisconnectReason(reason)),
		{Type: EffScheduleBoot, Conn: conn, Reason: reason, Delay: s.Rules.BootFlushDelay},
	}
}

// evict boots conn and frees its seat straight away so the replacement
// login can take it.
func (s *State) evict(conn uint64, reason protocol.ConnectStatus) []Effect {
	effects := s.boot(conn, reason)
	if idx := s.Roster.IndexOf(conn); idx >= 0 {
		if op, err := s.Roster.RemoveAt(idx); err == nil {
			effects = append(effects, s.broadcast(protocol.RosterChanged(op))...)
		}
	}
	return effects
}

// drop forgets everything about conn and frees its seat.
func (s *State) drop(conn uint64) []Effect {
	var effects []Effect
	if _, ok := s.booting[conn]; ok {
		delete(s.booting, conn)
		effects = append(effects, Effect{Type: EffCancelBoot, Conn: conn})
	}
	delete(s.live, conn)
	delete(s.pending, conn)
	s.Directory.Release(conn)

	if idx := s.Roster.IndexOf(conn); idx >= 0 {
		if op, err := s.Roster.RemoveAt(idx); err == nil {
			effects = append(effects, s.broadcast(protocol.RosterChanged(op))...)
		}
	}
	return effects
}
