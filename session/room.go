package session

import (
	"errors"
	"sync"
	"time"

	"github.com/imr4n4lif/clipboard-fly-server/model"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout is the inactivity window after which a room expires.
	DefaultTimeout = 15 * time.Minute

	// MaxMembers bounds room membership. Rooms relay between exactly
	// two parties, never more.
	MaxMembers = 2

	destroyReason = "Room closed"
)

var (
	ErrRoomFull   = errors.New("room is full")
	ErrRoomClosed = errors.New("room is closed")
)

// Tag returns a short log-safe prefix of a room id. Room ids are
// client-chosen secrets and must never appear in logs in full.
func Tag(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Room is a bounded, self-expiring two-party session. All mutations of
// membership, the activity clock, and the expiry timer are serialized
// under a single mutex; the expiry timer and the sweeper re-enter
// through the same lock.
type Room struct {
	id      string
	timeout time.Duration

	mx           sync.Mutex
	members      map[string]model.Peer
	createdAt    time.Time
	lastActivity time.Time
	timer        *time.Timer
	destroyed    bool
	onDestroy    func()

	logger zerolog.Logger
}

// NewRoom creates an empty room and arms its inactivity timer.
// onDestroy runs exactly once when the room is destroyed, with the room
// lock held; it is the registry's chance to drop the id.
func NewRoom(id string, timeout time.Duration, onDestroy func(), logger *zerolog.Logger) *Room {
	now := time.Now()
	r := &Room{
		id:        id,
		timeout:   timeout,
		members:   make(map[string]model.Peer, MaxMembers),
		createdAt: now,
		onDestroy: onDestroy,
		logger:    logger.With().Str("component", "room").Str("room", Tag(id)).Logger(),
	}
	r.mx.Lock()
	r.touchLocked()
	r.mx.Unlock()
	return r
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) Timeout() time.Duration {
	return r.timeout
}

func (r *Room) CreatedAt() time.Time {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.createdAt
}

// Len returns current membership size.
func (r *Room) Len() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.members)
}

// Alive reports whether the room has not been destroyed yet.
func (r *Room) Alive() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	return !r.destroyed
}

// AddClient inserts a member and returns the new membership size.
// Going from one member to two announces peer_joined to the member that
// was already present.
func (r *Room) AddClient(peerID string, peer model.Peer) (int, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.destroyed {
		return 0, ErrRoomClosed
	}
	if len(r.members) >= MaxMembers {
		return 0, ErrRoomFull
	}
	r.members[peerID] = peer
	r.touchLocked()

	count := len(r.members)
	if count > 1 {
		r.broadcastLocked(model.Message{
			Type:      model.TypePeerJoined,
			PeerID:    peerID,
			PeerCount: model.Count(count),
		}, peerID)
	}
	r.logger.Debug().Str("peerID", peerID).Int("members", count).Msg("peer added")
	return count, nil
}

// RemoveClient drops a member. The last member leaving destroys the
// room synchronously. Removing an absent peer is a no-op.
func (r *Room) RemoveClient(peerID string) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.destroyed {
		return
	}
	if _, ok := r.members[peerID]; !ok {
		return
	}
	delete(r.members, peerID)
	r.logger.Debug().Str("peerID", peerID).Int("members", len(r.members)).Msg("peer removed")

	if len(r.members) == 0 {
		r.destroyLocked()
		return
	}
	r.touchLocked()
}

// Leave announces the departure to the remaining member and then removes
// the peer. peerCount in the announce is the number of counterpart peers
// the receiver still has, which is zero when one of two members departs.
func (r *Room) Leave(peerID string) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.destroyed {
		return
	}
	if _, ok := r.members[peerID]; !ok {
		return
	}
	r.broadcastLocked(model.Message{
		Type:      model.TypePeerLeft,
		PeerID:    peerID,
		PeerCount: model.Count(len(r.members) - 2),
	}, peerID)

	delete(r.members, peerID)
	if len(r.members) == 0 {
		r.destroyLocked()
		return
	}
	r.touchLocked()
}

// Touch updates the activity clock and re-arms the inactivity timer.
func (r *Room) Touch() {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.destroyed {
		return
	}
	r.touchLocked()
}

// Broadcast counts as activity and delivers msg to every member except
// excludePeerID. Delivery is best-effort per member; one dead peer does
// not stop the others from receiving.
func (r *Room) Broadcast(msg model.Message, excludePeerID string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.destroyed {
		return
	}
	r.touchLocked()
	r.broadcastLocked(msg, excludePeerID)
}

// Destroy tears the room down: cancels the pending timer, closes every
// member connection with a normal closure, clears membership, and drops
// the id from the registry. Idempotent.
func (r *Room) Destroy() {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.destroyLocked()
}

// expire fires from the inactivity timer.
func (r *Room) expire() {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.destroyed {
		return
	}
	if time.Since(r.lastActivity) < r.timeout {
		// A touch re-armed the timer while this firing waited on the
		// lock; the newer timer owns expiry.
		return
	}
	r.logger.Info().Msg("room expired due to inactivity")
	r.broadcastLocked(model.Message{
		Type:   model.TypeSessionExpired,
		Reason: model.ReasonTimeout,
	}, "")
	r.destroyLocked()
}

// touchLocked re-arms the inactivity timer, cancelling the previous
// instance so that at most one scheduled expiry is live.
func (r *Room) touchLocked() {
	r.lastActivity = time.Now()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.timeout, r.expire)
}

func (r *Room) broadcastLocked(msg model.Message, excludePeerID string) {
	for peerID, peer := range r.members {
		if peerID == excludePeerID {
			continue
		}
		if !peer.Send(msg) {
			// Transport gone or backed up. Skipped silently, the
			// disconnect path will reap the member.
			r.logger.Debug().Str("peerID", peerID).Str("type", msg.Type).Msg("send skipped")
		}
	}
}

func (r *Room) destroyLocked() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	for peerID, peer := range r.members {
		peer.Close(model.CloseNormal, destroyReason)
		delete(r.members, peerID)
	}
	if r.onDestroy != nil {
		r.onDestroy()
	}
	r.logger.Debug().Msg("room destroyed")
}
