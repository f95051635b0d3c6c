package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/lobby-sync/internal/config"
	"github.com/DoyleJ11/lobby-sync/internal/engine"
	"github.com/DoyleJ11/lobby-sync/internal/httpapi"
	"github.com/DoyleJ11/lobby-sync/internal/hub"
	"github.com/DoyleJ11/lobby-sync/internal/lobby"
	"github.com/DoyleJ11/lobby-sync/internal/logging"
	"github.com/DoyleJ11/lobby-sync/internal/store"
	"github.com/DoyleJ11/lobby-sync/internal/ws"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st, err := store.Open(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := ws.NewTransport(log)
	// The hub outlives the signal so it can be stopped after the listener.
	h := hub.NewHub(context.Background(), cfg.Rules(), lobby.Deps{
		Channel: transport,
		Store:   st,
		Handoff: lobby.HandoffFunc(func(_ context.Context, res *engine.Results) error {
			// Gameplay picks the lobby up from the persisted results.
			log.Info("lobby handed off", zap.String("lobby_id", res.LobbyID), zap.String("scene", res.Scene), zap.Int("players", len(res.Choices)))
			return nil
		}),
		Log: log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.SetupRoutes(h, transport, st, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.Int("max_seats", cfg.Lobby.MaxSeats), zap.String("policy", cfg.Lobby.Policy))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		shutdownErr := srv.Shutdown(sctx)

		// Lobbies tell their peers GenericDisconnect before the process exits.
		select {
		case h.Inbox() <- hub.ShutdownHub{}:
		case <-h.Done():
		}
		select {
		case <-h.Done():
		case <-sctx.Done():
			shutdownErr = multierr.Append(shutdownErr, errors.New("lobbies did not stop in time"))
		}
		return shutdownErr
	})
	return g.Wait()
}
