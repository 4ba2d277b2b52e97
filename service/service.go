package service

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/imr4n4lif/clipboard-fly-server/model"
	"github.com/imr4n4lif/clipboard-fly-server/session"
	"github.com/rs/zerolog"
)

// Reason strings sent to clients in error replies.
const (
	ErrTextInvalidJSON      = "Invalid JSON"
	ErrTextInvalidFormat    = "Invalid message format"
	ErrTextMissingPinHash   = "Missing pinHash"
	ErrTextMissingEncrypted = "Missing encrypted"
	ErrTextRoomExists       = "Room already exists. Try a different PIN."
	ErrTextRoomNotFound     = "Room not found"
	ErrTextRoomFull         = "Room is full."
	ErrTextNotInRoom        = "Not in a room"
)

var ErrPeerID = errors.New("unable to generate peer id")

type (
	// RoomStore is the registry the dispatcher drives.
	RoomStore interface {
		Create(roomID string) (*session.Room, error)
		Get(roomID string) (*session.Room, error)
		Len() int
	}

	// Service routes inbound frames to registry and room operations.
	// One Service serves every connection; per-connection protocol
	// state lives in State.
	Service struct {
		store  RoomStore
		logger zerolog.Logger
	}

	Config struct {
		RoomStore RoomStore
		Logger    *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		store:  cfg.RoomStore,
		logger: cfg.Logger.With().Str("component", "dispatcher").Logger(),
	}
}

// State is one connection's protocol state: the server-assigned peer id
// and the room the peer currently occupies, if any. It is owned by the
// connection's read loop and must not be shared across connections.
type State struct {
	peerID string
	room   *session.Room
}

// PeerID returns the id assigned at connect time.
func (st *State) PeerID() string {
	return st.peerID
}

// Register assigns a fresh 128-bit peer id and announces it to the peer.
func (svc *Service) Register(peer model.Peer) (*State, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, errors.Join(ErrPeerID, err)
	}
	st := &State{peerID: hex.EncodeToString(buf[:])}
	peer.Send(model.Message{Type: model.TypeConnected, PeerID: st.peerID})
	svc.logger.Debug().Str("peerID", st.peerID).Msg("peer connected")
	return st, nil
}

// HandleFrame parses one inbound frame and dispatches it. Protocol and
// session errors are reported to the peer; none of them close the
// connection. Unknown message types are ignored on purpose.
func (svc *Service) HandleFrame(st *State, peer model.Peer, frame []byte) {
	var msg model.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			peer.Send(model.ErrorMessage(ErrTextInvalidFormat))
		} else {
			peer.Send(model.ErrorMessage(ErrTextInvalidJSON))
		}
		return
	}
	if msg.Type == "" {
		peer.Send(model.ErrorMessage(ErrTextInvalidFormat))
		return
	}

	switch msg.Type {
	case model.TypeCreateRoom:
		svc.createRoom(st, peer, msg)
	case model.TypeJoinRoom:
		svc.joinRoom(st, peer, msg)
	case model.TypeClipboard:
		svc.clipboard(st, peer, msg)
	case model.TypePing:
		svc.ping(st, peer)
	case model.TypeLeave:
		svc.leave(st)
	default:
		svc.logger.Debug().
			Str("peerID", st.peerID).
			Str("type", msg.Type).
			Msg("ignoring unknown message type")
	}
}

// HandleDisconnect runs the leave path when a connection closes for any
// reason. Safe to call after an explicit leave already emptied the
// state; leaving twice is a no-op.
func (svc *Service) HandleDisconnect(st *State) {
	svc.leave(st)
	svc.logger.Debug().Str("peerID", st.peerID).Msg("peer disconnected")
}

// RoomCount reports live rooms, for the health endpoint.
func (svc *Service) RoomCount() int {
	return svc.store.Len()
}

func (svc *Service) createRoom(st *State, peer model.Peer, msg model.Message) {
	if msg.PinHash == "" {
		peer.Send(model.ErrorMessage(ErrTextMissingPinHash))
		return
	}
	// A peer opening a new session abandons its current one first,
	// keeping connection and room membership in step.
	svc.leave(st)

	room, err := svc.store.Create(msg.PinHash)
	if err != nil {
		peer.Send(model.ErrorMessage(ErrTextRoomExists))
		return
	}
	if _, err = room.AddClient(st.peerID, peer); err != nil {
		// Freshly created room, only a concurrent sweep could race us here.
		peer.Send(model.ErrorMessage(ErrTextRoomNotFound))
		return
	}
	st.room = room

	peer.Send(model.Message{
		Type:    model.TypeRoomCreated,
		RoomID:  room.ID(),
		Timeout: room.Timeout().Milliseconds(),
	})
	svc.logger.Info().
		Str("peerID", st.peerID).
		Str("room", session.Tag(room.ID())).
		Msg("room created")
}

func (svc *Service) joinRoom(st *State, peer model.Peer, msg model.Message) {
	if msg.PinHash == "" {
		peer.Send(model.ErrorMessage(ErrTextMissingPinHash))
		return
	}
	svc.leave(st)

	room, err := svc.store.Get(msg.PinHash)
	if err != nil {
		peer.Send(model.ErrorMessage(ErrTextRoomNotFound))
		return
	}
	count, err := room.AddClient(st.peerID, peer)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRoomFull):
			peer.Send(model.ErrorMessage(ErrTextRoomFull))
		default:
			peer.Send(model.ErrorMessage(ErrTextRoomNotFound))
		}
		return
	}
	st.room = room

	peer.Send(model.Message{
		Type:      model.TypeRoomJoined,
		RoomID:    room.ID(),
		PeerCount: model.Count(count),
		Timeout:   room.Timeout().Milliseconds(),
	})
	svc.logger.Info().
		Str("peerID", st.peerID).
		Str("room", session.Tag(room.ID())).
		Int("peers", count).
		Msg("peer joined room")
}

func (svc *Service) clipboard(st *State, peer model.Peer, msg model.Message) {
	room := svc.currentRoom(st)
	if room == nil {
		peer.Send(model.ErrorMessage(ErrTextNotInRoom))
		return
	}
	if msg.Encrypted == "" {
		peer.Send(model.ErrorMessage(ErrTextMissingEncrypted))
		return
	}
	// Payload relayed verbatim, never inspected, never echoed back.
	room.Broadcast(model.Message{
		Type:      model.TypeClipboard,
		Encrypted: msg.Encrypted,
		FromPeer:  st.peerID,
	}, st.peerID)
}

func (svc *Service) ping(st *State, peer model.Peer) {
	if room := svc.currentRoom(st); room != nil {
		room.Touch()
	}
	peer.Send(model.Message{Type: model.TypePong})
}

func (svc *Service) leave(st *State) {
	if room := svc.currentRoom(st); room != nil {
		room.Leave(st.peerID)
	}
	st.room = nil
}

// currentRoom resolves the connection's room, dropping the reference if
// the room died underneath it (expiry or sweep).
func (svc *Service) currentRoom(st *State) *session.Room {
	if st.room != nil && !st.room.Alive() {
		st.room = nil
	}
	return st.room
}
