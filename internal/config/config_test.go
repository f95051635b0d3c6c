package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DoyleJ11/lobby-sync/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Lobby.MaxSeats)
	assert.Equal(t, 3*time.Second, cfg.Lobby.CloseDelay)
	assert.Equal(t, time.Duration(0), cfg.Lobby.BootFlushDelay)
	assert.Equal(t, 5*time.Second, cfg.Lobby.RetireDelay)

	rules := cfg.Rules()
	assert.Equal(t, engine.PolicyStrict, rules.Policy)
	assert.Equal(t, "GameRoom", rules.NextScene)
	assert.Equal(t, int32(1), rules.LobbyScene)
}

func TestLoad_TOMLFile(t *testing.T) {
	path := writeFile(t, "lobby.toml", `
[server]
addr = "127.0.0.1:9000"

[database]
url = "sqlite:/tmp/lobby.db"

[logging]
level = "debug"
format = "json"

[lobby]
max_seats = 4
policy = "permissive"
close_delay = "500ms"
boot_flush_delay = "50ms"
retire_delay = "2s"
next_scene = "Arena"
lobby_scene = 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "sqlite:/tmp/lobby.db", cfg.Database.URL)
	assert.Equal(t, "json", cfg.Logging.Format)

	rules := cfg.Rules()
	assert.Equal(t, 4, rules.MaxSeats)
	assert.Equal(t, engine.PolicyPermissive, rules.Policy)
	assert.Equal(t, 500*time.Millisecond, rules.CloseDelay)
	assert.Equal(t, 50*time.Millisecond, rules.BootFlushDelay)
	assert.Equal(t, 2*time.Second, rules.RetireDelay)
	assert.Equal(t, "Arena", rules.NextScene)
	assert.Equal(t, int32(2), rules.LobbyScene)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "lobby.toml", "[lobby]\nmax_seats = 4\n")
	t.Setenv("LOBBY_MAX_SEATS", "6")
	t.Setenv("LOBBY_CLOSE_DELAY", "1s")
	t.Setenv("LOBBY_POLICY", "PERMISSIVE")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Lobby.MaxSeats)
	assert.Equal(t, time.Second, cfg.Lobby.CloseDelay)
	assert.Equal(t, engine.PolicyPermissive, cfg.Rules().Policy)
}

func TestLoad_DotenvFile(t *testing.T) {
	env := writeFile(t, "test.env", "LOBBY_NEXT_SCENE=Dungeon\nLOBBY_SCENE=7\n")
	t.Setenv("LOBBY_NEXT_SCENE", "")
	os.Unsetenv("LOBBY_NEXT_SCENE")
	t.Setenv("LOBBY_SCENE", "")
	os.Unsetenv("LOBBY_SCENE")

	cfg, err := Load("", env)
	require.NoError(t, err)
	assert.Equal(t, "Dungeon", cfg.Lobby.NextScene)
	assert.Equal(t, int32(7), cfg.Lobby.LobbyScene)
}

func TestLoad_ProcessEnvBeatsDotenv(t *testing.T) {
	env := writeFile(t, "test.env", "LOBBY_ADDR=:7000\n")
	t.Setenv("LOBBY_ADDR", ":6000")

	cfg, err := Load("", env)
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.Server.Addr)
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "bad policy", env: map[string]string{"LOBBY_POLICY": "lenient"}},
		{name: "zero seats", env: map[string]string{"LOBBY_MAX_SEATS": "0"}},
		{name: "absurd seat count", env: map[string]string{"LOBBY_MAX_SEATS": "1099511627776"}},
		{name: "seats just over the cap", env: map[string]string{"LOBBY_MAX_SEATS": "65"}},
		{name: "seats not a number", env: map[string]string{"LOBBY_MAX_SEATS": "many"}},
		{name: "bad duration", env: map[string]string{"LOBBY_CLOSE_DELAY": "soon"}},
		{name: "negative delay", env: map[string]string{"LOBBY_BOOT_FLUSH_DELAY": "-1s"}},
		{name: "negative retire delay", env: map[string]string{"LOBBY_RETIRE_DELAY": "-1s"}},
		{name: "broken toml", file: "[lobby\nmax_seats = 3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := ""
			if tc.file != "" {
				path = writeFile(t, "bad.toml", tc.file)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_SeatCapAccepted(t *testing.T) {
	t.Setenv("LOBBY_MAX_SEATS", "64")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Rules().MaxSeats)
}

func TestLoad_MissingFiles(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)

	_, err = Load("", filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}
