package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/imr4n4lif/clipboard-fly-server/model"
	"github.com/imr4n4lif/clipboard-fly-server/service"
)

const (
	defaultWebsocketReadBufferSize   = 4096
	defaultWebsocketWriteBufferSize  = 4096
	defaultWebSocketMaxMessageSize   = 256 * 1024
	defaultWebSocketHandshakeTimeout = 3 * time.Second

	defaultRateBurst  = 30
	defaultRateRefill = time.Second
)

type (
	// Dispatcher is the per-connection protocol router.
	Dispatcher interface {
		Register(peer model.Peer) (*service.State, error)
		HandleFrame(st *service.State, peer model.Peer, frame []byte)
		HandleDisconnect(st *service.State)
	}

	Config struct {
		Logger     *zerolog.Logger
		Dispatcher Dispatcher
		RateBurst  int
		RateRefill time.Duration
	}

	// Handler upgrades HTTP requests to websocket connections and runs
	// one read loop per peer, feeding frames to the dispatcher.
	Handler struct {
		svc        Dispatcher
		ws         *websocket.Upgrader
		rateBurst  int
		rateRefill time.Duration

		logger zerolog.Logger
	}
)

func NewHandler(cfg Config) *Handler {
	h := &Handler{
		logger:     cfg.Logger.With().Str("component", "websocket").Logger(),
		svc:        cfg.Dispatcher,
		rateBurst:  cfg.RateBurst,
		rateRefill: cfg.RateRefill,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			// Clients are browser extensions and native apps on
			// arbitrary origins; possession of the pin hash is the
			// only admission control.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if h.rateBurst == 0 {
		h.rateBurst = defaultRateBurst
	}
	if h.rateRefill == 0 {
		h.rateRefill = defaultRateRefill
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.ws.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	logger := h.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	p := newPeer(conn, logger)
	go p.writePump()

	st, err := h.svc.Register(p)
	if err != nil {
		logger.Error().Err(err).Msg("failed to register peer")
		p.Close(websocket.CloseInternalServerErr, "registration failed")
		return
	}

	go h.readLoop(p, st)
}

// readLoop is the single reader for the connection. It exits when the
// client goes away or the server closes the peer; either way the
// disconnect path runs exactly once.
func (h *Handler) readLoop(p *peer, st *service.State) {
	logger := p.logger.With().Str("peerID", st.PeerID()).Logger()

	defer func() {
		h.svc.HandleDisconnect(st)
		p.Close(model.CloseNormal, "")
	}()

	p.conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadlineFunc := func() error {
		return p.conn.SetReadDeadline(time.Now().Add(defaultPongWait))
	}
	p.conn.SetPongHandler(func(string) error {
		return readDeadlineFunc()
	})
	if err := readDeadlineFunc(); err != nil {
		logger.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	lim := newLimiter(h.rateBurst, h.rateRefill)

	for {
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				logger.Debug().Msg("connection closed")
			} else {
				logger.Debug().Err(err).Msg("receive failed")
			}
			return
		}
		if !lim.allow() {
			logger.Warn().Msg("rate limit exceeded, dropping frame")
			continue
		}
		h.svc.HandleFrame(st, p, frame)
	}
}
