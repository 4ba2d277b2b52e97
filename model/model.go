package model

// Message types sent by clients.
const (
	TypeCreateRoom = "create_room"
	TypeJoinRoom   = "join_room"
	TypeClipboard  = "clipboard"
	TypePing       = "ping"
	TypeLeave      = "leave"
)

// Message types sent by server.
const (
	TypeConnected      = "connected"
	TypeRoomCreated    = "room_created"
	TypeRoomJoined     = "room_joined"
	TypePeerJoined     = "peer_joined"
	TypePeerLeft       = "peer_left"
	TypePong           = "pong"
	TypeSessionExpired = "session_expired"
	TypeError          = "error"
)

// ReasonTimeout is the only reason carried by session_expired.
const ReasonTimeout = "timeout"

// CloseNormal is the websocket normal-closure code used when the server
// shuts a peer channel down.
const CloseNormal = 1000

// Message is the single envelope for every frame in both directions.
// Empty fields are omitted, so each concrete message only carries what
// its type defines.
type Message struct {
	Type      string `json:"type"`
	PeerID    string `json:"peerId,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
	PinHash   string `json:"pinHash,omitempty"`
	PeerCount *int   `json:"peerCount,omitempty"`
	Timeout   int64  `json:"timeout,omitempty"` // milliseconds
	Encrypted string `json:"encrypted,omitempty"`
	FromPeer  string `json:"fromPeer,omitempty"`
	Text      string `json:"message,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Count boxes a peer count so that an explicit zero survives omitempty.
func Count(n int) *int {
	if n < 0 {
		n = 0
	}
	return &n
}

// ErrorMessage builds a generic error reply.
func ErrorMessage(text string) Message {
	return Message{Type: TypeError, Text: text}
}

// Peer is a non-owning handle to one connected party. The session core
// uses it to push frames and to shut the channel down; it never owns the
// underlying transport.
type Peer interface {
	// Send queues a frame for delivery. Fire-and-forget: delivery is
	// best-effort and a dropped send is not an error the caller can
	// act on.
	Send(msg Message) bool

	// Close shuts the channel down with a websocket close code and
	// reason. Safe to call more than once.
	Close(code int, reason string)
}
