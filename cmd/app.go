package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	httpServer "github.com/imr4n4lif/clipboard-fly-server/server/http"
	websocketServer "github.com/imr4n4lif/clipboard-fly-server/server/websocket"
	"github.com/imr4n4lif/clipboard-fly-server/service"
	"github.com/imr4n4lif/clipboard-fly-server/session"
	store "github.com/imr4n4lif/clipboard-fly-server/storage/memory"
)

const defaultPort = "3000"

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		listenAddr    = fs.StringP("listen-addr", "a", defaultListenAddr(), "listen address")
		logLevel      = fs.StringP("log-level", "l", "info", "log level")
		roomTimeout   = fs.Duration("room-timeout", session.DefaultTimeout, "room inactivity timeout")
		sweepInterval = fs.Duration("sweep-interval", session.DefaultSweepInterval, "stale room sweep period")
		sweepGrace    = fs.Duration("sweep-grace", session.DefaultSweepGrace, "extra age beyond timeout before a sweep kills a room")
		rateBurst     = fs.Int("rate-burst", 0, "per-connection message burst (0 for default)")
		rateRefill    = fs.Duration("rate-refill", 0, "per-connection token refill interval (0 for default)")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	registry := store.NewMemStore(*roomTimeout, &logger)
	svc := service.NewService(service.Config{
		RoomStore: registry,
		Logger:    &logger,
	})
	wsHandler := websocketServer.NewHandler(websocketServer.Config{
		Logger:     &logger,
		Dispatcher: svc,
		RateBurst:  *rateBurst,
		RateRefill: *rateRefill,
	})
	srv := httpServer.NewServer(httpServer.Config{
		Logger:     &logger,
		Stats:      svc,
		WS:         wsHandler,
		ListenAddr: *listenAddr,
	})
	sweeper := session.NewSweeper(session.SweeperConfig{
		Store:    registry,
		Interval: *sweepInterval,
		MaxAge:   *roomTimeout + *sweepGrace,
		Logger:   &logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	wg.Add(2)
	go srv.Run(ctx, wg, errc)
	go sweeper.Run(ctx, wg)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()

	// Destroy every live room first so members get a clean close frame
	// before the listener goes away.
	registry.Drain()
	wg.Wait()
}

func defaultListenAddr() string {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	return ":" + port
}
