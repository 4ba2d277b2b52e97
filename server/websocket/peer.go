package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/imr4n4lif/clipboard-fly-server/model"
)

const (
	defaultSendQueueSize = 32

	defaultWriteDeadline      = 5 * time.Second
	defaultCloseWriteDeadline = 2 * time.Second

	// defaultPongWait - defaultPingInterval == how long a client gets
	// to answer a protocol-level ping.
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 40 * time.Second
)

// peer owns one websocket connection. The session core talks to it only
// through the model.Peer interface: a non-blocking Send into the
// outbound queue and a once-only Close.
type peer struct {
	conn *websocket.Conn
	send chan model.Message

	once        sync.Once
	done        chan struct{}
	closeCode   int
	closeReason string

	logger zerolog.Logger
}

func newPeer(conn *websocket.Conn, logger zerolog.Logger) *peer {
	return &peer{
		conn:   conn,
		send:   make(chan model.Message, defaultSendQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send queues a frame for the write pump. It never blocks: a closed or
// backed-up connection drops the frame and reports false.
func (p *peer) Send(msg model.Message) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- msg:
		return true
	case <-p.done:
		return false
	default:
		return false
	}
}

// Close stops the write pump, which in turn sends the close frame and
// tears the connection down. Subsequent calls are no-ops.
func (p *peer) Close(code int, reason string) {
	p.once.Do(func() {
		p.closeCode = code
		p.closeReason = reason
		close(p.done)
	})
}

// writePump is the single writer for the connection. It drains the send
// queue, keeps the connection alive with protocol pings, and writes the
// close frame when the peer is shut down.
func (p *peer) writePump() {
	ticker := time.NewTicker(defaultPingInterval)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case <-p.done:
			p.writeClose()
			return

		case msg := <-p.send:
			if err := p.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
				p.logger.Debug().Err(err).Msg("failed to set write deadline")
				return
			}
			if err := p.conn.WriteJSON(msg); err != nil {
				p.logger.Debug().Err(err).Str("type", msg.Type).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			if err := p.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
				return
			}
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.logger.Debug().Err(err).Msg("failed to send ping")
				return
			}
		}
	}
}

func (p *peer) writeClose() {
	code := p.closeCode
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	if err := p.conn.SetWriteDeadline(time.Now().Add(defaultCloseWriteDeadline)); err != nil {
		return
	}
	frame := websocket.FormatCloseMessage(code, p.closeReason)
	if err := p.conn.WriteMessage(websocket.CloseMessage, frame); err != nil {
		p.logger.Debug().Err(err).Msg("failed to write close frame")
	}
}
