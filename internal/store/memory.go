package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/DoyleJ11/lobby-sync/internal/engine"
)

// Memory keeps results for the life of the process. Used when no database is
// configured.
type Memory struct {
	mu      sync.Mutex
	results map[string]engine.Results
	byCode  map[string]string // code -> newest lobby id
}

func NewMemory() *Memory {
	return &Memory{
		results: make(map[string]engine.Results),
		byCode:  make(map[string]string),
	}
}

func (m *Memory) SaveResults(_ context.Context, res *engine.Results) error {
	if res == nil || res.LobbyID == "" {
		return fmt.Errorf("results need a lobby id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[res.LobbyID]; ok {
		return nil
	}
	cp := *res
	cp.Choices = slices.Clone(res.Choices)
	m.results[res.LobbyID] = cp
	if res.Code != "" {
		m.byCode[res.Code] = res.LobbyID
	}
	return nil
}

func (m *Memory) LoadResults(_ context.Context, lobbyID string) (*engine.Results, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.results[lobbyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, lobbyID)
	}
	res.Choices = slices.Clone(res.Choices)
	return &res, nil
}

func (m *Memory) LoadResultsByCode(ctx context.Context, code string) (*engine.Results, error) {
	m.mu.Lock()
	id, ok := m.byCode[code]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	return m.LoadResults(ctx, id)
}

func (m *Memory) Close() error { return nil }
