package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DoyleJ11/lobby-sync/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResults(id string) *engine.Results {
	return &engine.Results{
		LobbyID: id,
		Code:    "ROOM01",
		Scene:   "GameRoom",
		Choices: []engine.Choice{
			{ConnectionID: 1, PersistentID: "p-a", PlayerName: "Ann", SeatNumber: 0},
			{ConnectionID: 3, PersistentID: "p-c", PlayerName: "Cid", SeatNumber: 2},
			{ConnectionID: 4, PersistentID: "p-d", PlayerName: "Player1", SeatNumber: 1},
		},
	}
}

func openTempStore(t *testing.T) *DB {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "lobby.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func backends(t *testing.T) map[string]Store {
	mem, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	return map[string]Store{
		"sqlite-file":   openTempStore(t),
		"sqlite-memory": mem,
		"memory":        NewMemory(),
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	require.Error(t, err)
}

func TestOpenDispatch(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open("sqlite::memory:")
	require.NoError(t, err)
	assert.IsType(t, &DB{}, s)
	require.NoError(t, s.Close())

	_, err = Open("mysql://nope")
	require.Error(t, err)

	_, err = Open("postgres://user@%zz/db")
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := sampleResults("lobby-1")
			require.NoError(t, s.SaveResults(ctx, want))

			got, err := s.LoadResults(ctx, "lobby-1")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestSaveTwiceKeepsFirst(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveResults(ctx, sampleResults("lobby-2")))

			other := sampleResults("lobby-2")
			other.Choices = other.Choices[:1]
			require.NoError(t, s.SaveResults(ctx, other))

			got, err := s.LoadResults(ctx, "lobby-2")
			require.NoError(t, err)
			assert.Len(t, got.Choices, 3)
		})
	}
}

func TestLoadByCode_NewestWins(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveResults(ctx, sampleResults("first")))

			second := sampleResults("second")
			second.Choices = second.Choices[:2]
			require.NoError(t, s.SaveResults(ctx, second))

			got, err := s.LoadResultsByCode(ctx, "ROOM01")
			require.NoError(t, err)
			assert.Equal(t, second, got)

			_, err = s.LoadResultsByCode(ctx, "NOPE00")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLoadMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.LoadResults(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSaveRejectsEmptyID(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, s.SaveResults(context.Background(), &engine.Results{}))
			assert.Error(t, s.SaveResults(context.Background(), nil))
		})
	}
}

func TestEmptyLobbyResults(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveResults(ctx, &engine.Results{LobbyID: "empty", Scene: "GameRoom"}))
	got, err := s.LoadResults(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, got.Choices)
	assert.Equal(t, "GameRoom", got.Scene)
}
