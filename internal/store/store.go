// Package store persists the seat-to-choice mapping a lobby captures when it
// closes.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DoyleJ11/lobby-sync/internal/engine"
)

var ErrNotFound = errors.New("results not found")

type Store interface {
	SaveResults(ctx context.Context, res *engine.Results) error
	LoadResults(ctx context.Context, lobbyID string) (*engine.Results, error)
	// LoadResultsByCode returns the most recent results saved under a lobby
	// code. Codes outlive their lobbies here; the hub forgets them.
	LoadResultsByCode(ctx context.Context, code string) (*engine.Results, error)
	Close() error
}

// LobbyResult is one closed lobby.
type LobbyResult struct {
	ID       uint   `gorm:"primaryKey"`
	LobbyID  string `gorm:"size:64;uniqueIndex;not null"`
	Code     string `gorm:"size:16;index"`
	Scene    string `gorm:"size:128"`
	ClosedAt time.Time
	Seats    []SeatChoice `gorm:"foreignKey:ResultID;constraint:OnDelete:CASCADE"`
}

// SeatChoice is one occupied seat at the moment the lobby closed.
type SeatChoice struct {
	ID           uint `gorm:"primaryKey"`
	ResultID     uint `gorm:"index;not null"`
	SeatNumber   int
	ConnectionID uint64
	PersistentID string `gorm:"size:128;index"`
	PlayerName   string `gorm:"size:128"`
}

// Open picks a backend from the URL scheme:
//
//	""                          in-memory
//	postgres://, postgresql://  Postgres
//	sqlite:<path>               SQLite file (sqlite::memory: for a throwaway db)
func Open(url string) (Store, error) {
	switch {
	case strings.TrimSpace(url) == "":
		return NewMemory(), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return OpenPostgres(url)
	case strings.HasPrefix(url, "sqlite:"):
		return OpenSQLite(strings.TrimPrefix(url, "sqlite:"))
	default:
		return nil, fmt.Errorf("unsupported database url %q", url)
	}
}

func toRow(res *engine.Results, closedAt time.Time) LobbyResult {
	row := LobbyResult{LobbyID: res.LobbyID, Code: res.Code, Scene: res.Scene, ClosedAt: closedAt}
	for _, c := range res.Choices {
		row.Seats = append(row.Seats, SeatChoice{
			SeatNumber:   c.SeatNumber,
			ConnectionID: c.ConnectionID,
			PersistentID: c.PersistentID,
			PlayerName:   c.PlayerName,
		})
	}
	return row
}

func fromRow(row LobbyResult) *engine.Results {
	res := &engine.Results{LobbyID: row.LobbyID, Code: row.Code, Scene: row.Scene}
	for _, s := range row.Seats {
		res.Choices = append(res.Choices, engine.Choice{
			ConnectionID: s.ConnectionID,
			PersistentID: s.PersistentID,
			PlayerName:   s.PlayerName,
			SeatNumber:   s.SeatNumber,
		})
	}
	return res
}
