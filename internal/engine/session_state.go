package engine

import "github.com/DoyleJ11/lobby-sync/internal/protocol"

// close moves Open -> Closing. The closed flag flips before anything else so
// a seat change already in the inbox is refused from here on.
func (s *State) close(conn uint64) ([]Effect, error) {
	if conn != ServerConn {
		idx := s.Roster.IndexOf(conn)
		rec, ok := s.Roster.At(idx)
		if !s.live[conn] || !ok || rec.SeatNumber != HostSeat {
			return nil, ErrNotHost
		}
	}
	if s.Phase != PhaseOpen {
		return nil, nil
	}

	s.Closed = true
	s.Phase = PhaseClosing
	s.results = s.snapshotResults()

	effects := s.broadcast(protocol.LobbyStatus(true))
	effects = append(effects,
		Effect{Type: EffPersist, Results: s.results},
		Effect{Type: EffScheduleEnd, Delay: s.Rules.CloseDelay},
	)
	return effects, nil
}

// end is the terminal transition. Only the first call after close does
// anything. The lobby retires once the hand-off is issued.
func (s *State) end() []Effect {
	if s.Phase != PhaseClosing {
		return nil
	}
	s.Phase = PhaseClosed

	effects := s.broadcast(protocol.SwitchScene(s.Rules.NextScene))
	return append(effects,
		Effect{Type: EffTransition, Results: s.results},
		Effect{Type: EffRetire, Delay: s.Rules.RetireDelay},
	)
}

func (s *State) snapshotResults() *Results {
	res := &Results{LobbyID: s.LobbyID, Code: s.Code, Scene: s.Rules.NextScene}
	for _, rec := range s.Roster.Records() {
		c := Choice{
			ConnectionID: rec.ConnectionID,
			PlayerName:   rec.PlayerName,
			SeatNumber:   rec.SeatNumber,
		}
		if id, ok := s.Directory.ByConnection(rec.ConnectionID); ok {
			c.PersistentID = id.PersistentID
		}
		res.Choices = append(res.Choices, c)
	}
	return res
}

// Results returns the snapshot taken at close, nil while the lobby is open.
func (s *State) Results() *Results { return s.results }
