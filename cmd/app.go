package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/edverse/presence/access"
	"github.com/edverse/presence/broadcast"
	"github.com/edverse/presence/config"
	httpServer "github.com/edverse/presence/server/http"
	websocketServer "github.com/edverse/presence/server/websocket"
	"github.com/edverse/presence/service"
	store "github.com/edverse/presence/storage/memory"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	fs.StringP("api-listen-addr", "a", ":8080", "api listen address")
	fs.StringP("ws-listen-addr", "w", ":8888", "websocket presence listen address")
	fs.StringP("log-level", "l", "debug", "log level")
	fs.String("auth-secret", "", "shared secret for auth signature verification")
	fs.String("ledger-url", "http://localhost:9933/verify-enrollment", "enrollment ledger endpoint")
	fs.Duration("session-ttl", access.DefaultSessionTTL, "auth session lifetime")
	fs.Duration("authorize-timeout", 5*time.Second, "bound on per-message authorization")
	fs.Duration("gate-cache-ttl", 30*time.Second, "access grant cache lifetime, 0 disables caching")
	fs.Bool("cleanup-on-disconnect", false, "remove participants from rooms on abnormal disconnect")

	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	cfg, err := config.Load(fs)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)
	logger.Trace().Str("config", spew.Sdump(cfg)).Msg("resolved configuration")

	sessions := access.NewSessionStore(cfg.SessionTTL)
	var gate access.Gate = access.NewChecker(access.Config{
		Sessions: sessions,
		Ledger:   access.NewHTTPLedger(cfg.LedgerURL),
		Timeout:  cfg.AuthorizeTimeout,
		Logger:   &logger,
	})
	if cfg.GateCacheTTL > 0 {
		gate = access.NewCached(gate, cfg.GateCacheTTL)
	}

	registry := store.NewMemStore()
	svc := service.NewService(service.Config{
		Registry:            registry,
		Gate:                gate,
		Broadcaster:         broadcast.NewSwitch(&logger),
		Logger:              &logger,
		CleanupOnDisconnect: cfg.CleanupOnDisconnect,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:      &logger,
		RoomService: svc,
		Sessions:    sessions,
		Verifier:    access.NewHMACVerifier(cfg.AuthSecret),
		ListenAddr:  cfg.APIListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:          &logger,
		PresenceService: svc,
		ListenAddr:      cfg.WSListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
