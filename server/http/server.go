package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	banner = "clipboard-fly relay: encrypted clipboard sync between two devices sharing a PIN\n"
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

// Stats is what the health endpoint reports about the session core.
type Stats interface {
	RoomCount() int
}

type HealthResponse struct {
	Status string `json:"status"`
	Rooms  int    `json:"rooms"`
}

// Server is the single public listener: health check, plain-text banner,
// and the websocket endpoint all share one port.
type Server struct {
	logger zerolog.Logger
	stats  Stats
	*http.Server
}

type Config struct {
	Logger     *zerolog.Logger
	Stats      Stats
	WS         http.Handler
	ListenAddr string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "http-server").Logger(),
		stats:  cfg.Stats,
	}

	r := http.NewServeMux()
	r.HandleFunc("GET /health", srv.health)
	r.Handle("/ws", cfg.WS)
	r.HandleFunc("/", srv.root)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func (srv *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	b, err := json.Marshal(&HealthResponse{
		Status: "ok",
		Rooms:  srv.stats.RoomCount(),
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeBytes(w, http.StatusOK, "application/json", b, &srv.logger)
}

func (srv *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeBytes(w, http.StatusOK, "text/plain", []byte(banner), &srv.logger)
}

func writeBytes(w http.ResponseWriter, code int, contentType string, b []byte, logger *zerolog.Logger) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err := w.Write(b); err != nil {
		logger.Error().Err(err).Msg("failed to write response")
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
