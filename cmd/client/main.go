package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/DoyleJ11/lobby-sync/internal/client"
	"github.com/DoyleJ11/lobby-sync/internal/logging"
	"github.com/DoyleJ11/lobby-sync/internal/protocol"
	"github.com/DoyleJ11/lobby-sync/internal/roster"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// printer writes lobby events to stdout.
type printer struct{}

func (printer) OnRosterChanged(op roster.Op, records []roster.SeatRecord) {
	fmt.Printf("roster #%d (%s):\n", op.Seq, op.Kind)
	for _, r := range records {
		fmt.Printf("  seat %d  %-20s conn=%d\n", r.SeatNumber, r.PlayerName, r.ConnectionID)
	}
}

func (printer) OnAssignedSeat(seat int) { fmt.Printf("you are in seat %d\n", seat) }

func (printer) OnFatalError(code protocol.FatalLobbyError) {
	fmt.Printf("lobby error: %s\n", code)
}

func (printer) OnConnectResult(status protocol.ConnectStatus) {
	fmt.Printf("connect: %s\n", status)
}

func (printer) OnDisconnectReason(status protocol.ConnectStatus) {
	fmt.Printf("disconnecting: %s\n", status)
}

func (printer) OnLobbyStatus(closed bool) {
	if closed {
		fmt.Println("lobby closed, waiting for the game to start")
	}
}

func (printer) OnSwitchScene(scene string) { fmt.Printf("switching to %s\n", scene) }

func main() {
	server := flag.String("server", "http://localhost:8080", "lobby server base URL")
	code := flag.String("code", "", "lobby code to join (empty creates a lobby)")
	name := flag.String("name", "", "display name")
	id := flag.String("id", "", "persistent id (random when empty)")
	scene := flag.Int("scene", 1, "scene index reported in the handshake")
	host := flag.Bool("close", false, "close the lobby once joined (host seat only)")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	log, err := logging.New(*logLevel, "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := run(log, *server, *code, *name, *id, int32(*scene), *host); err != nil {
		log.Error("client stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(log *zap.Logger, server, code, name, id string, scene int32, closeWhenSeated bool) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if code == "" {
		if code, err = createLobby(ctx, server); err != nil {
			return err
		}
		fmt.Printf("created lobby %s\n", code)
	}

	wsURL, err := websocketURL(server, code)
	if err != nil {
		return err
	}
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.Dial(dctx, wsURL, client.Options{
		PersistentID: id,
		PlayerName:   name,
		Scene:        scene,
		Log:          log,
		Observers:    []client.Observer{printer{}},
	})
	cancel()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, c.Close()) }()

	if closeWhenSeated {
		go closeOnceSeated(ctx, c, log)
	}

	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.RequestDisconnect(wctx); err != nil && !errors.Is(err, client.ErrClosed) {
			return err
		}
		select {
		case <-c.Done():
		case <-wctx.Done():
		}
		return nil
	}
}

func closeOnceSeated(ctx context.Context, c *client.Client, log *zap.Logger) {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case <-t.C:
			if _, ok := c.Seat(); ok {
				if err := c.CloseLobby(ctx); err != nil {
					log.Warn("close lobby", zap.Error(err))
				}
				return
			}
		}
	}
}

func createLobby(ctx context.Context, server string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/lobbies", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create lobby: %s", resp.Status)
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Code, nil
}

func websocketURL(server, code string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"code": {code}}.Encode()
	return u.String(), nil
}
