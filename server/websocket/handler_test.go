package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/imr4n4lif/clipboard-fly-server/model"
	"github.com/imr4n4lif/clipboard-fly-server/service"
	"github.com/imr4n4lif/clipboard-fly-server/storage/memory"
)

const testReadWait = 2 * time.Second

func newTestServer(t *testing.T, timeout time.Duration) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()
	svc := service.NewService(service.Config{
		RoomStore: memory.NewMemStore(timeout, &logger),
		Logger:    &logger,
	})
	h := NewHandler(Config{
		Logger:     &logger,
		Dispatcher: svc,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) model.Message {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(testReadWait)); err != nil {
		t.Fatal(err)
	}
	var msg model.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func writeRaw(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// connectClient dials and consumes the connected announce, returning the
// assigned peer id.
func connectClient(t *testing.T, srv *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	conn := dial(t, srv)
	msg := readMessage(t, conn)
	if msg.Type != model.TypeConnected || msg.PeerID == "" {
		t.Fatalf("unexpected first frame: %s", spew.Sdump(msg))
	}
	return conn, msg.PeerID
}

func TestSessionOverWire(t *testing.T) {
	srv := newTestServer(t, 15*time.Minute)

	c1, id1 := connectClient(t, srv)
	c2, id2 := connectClient(t, srv)

	// Create.
	writeRaw(t, c1, `{"type":"create_room","pinHash":"h1"}`)
	created := readMessage(t, c1)
	if created.Type != model.TypeRoomCreated || created.RoomID != "h1" || created.Timeout != 900000 {
		t.Fatalf("unexpected room_created: %s", spew.Sdump(created))
	}

	// Duplicate create from the other side.
	writeRaw(t, c2, `{"type":"create_room","pinHash":"h1"}`)
	if msg := readMessage(t, c2); msg.Type != model.TypeError ||
		msg.Text != "Room already exists. Try a different PIN." {
		t.Fatalf("unexpected duplicate-create reply: %s", spew.Sdump(msg))
	}

	// Join.
	writeRaw(t, c2, `{"type":"join_room","pinHash":"h1"}`)
	joined := readMessage(t, c2)
	if joined.Type != model.TypeRoomJoined || joined.RoomID != "h1" ||
		joined.PeerCount == nil || *joined.PeerCount != 2 {
		t.Fatalf("unexpected room_joined: %s", spew.Sdump(joined))
	}
	announce := readMessage(t, c1)
	if announce.Type != model.TypePeerJoined || announce.PeerID != id2 {
		t.Fatalf("unexpected peer_joined: %s", spew.Sdump(announce))
	}

	// Relay. Sender gets no echo, so the next frame c1 reads must be
	// the pong for its ping, not the clipboard.
	writeRaw(t, c1, `{"type":"clipboard","encrypted":"AAA"}`)
	relayed := readMessage(t, c2)
	if relayed.Type != model.TypeClipboard || relayed.Encrypted != "AAA" || relayed.FromPeer != id1 {
		t.Fatalf("unexpected relay: %s", spew.Sdump(relayed))
	}
	writeRaw(t, c1, `{"type":"ping"}`)
	if msg := readMessage(t, c1); msg.Type != model.TypePong {
		t.Fatalf("sender received an echo before pong: %s", spew.Sdump(msg))
	}
}

func TestDisconnectOverWire(t *testing.T) {
	srv := newTestServer(t, 15*time.Minute)

	c1, id1 := connectClient(t, srv)
	c2, _ := connectClient(t, srv)

	writeRaw(t, c1, `{"type":"create_room","pinHash":"h1"}`)
	readMessage(t, c1) // room_created
	writeRaw(t, c2, `{"type":"join_room","pinHash":"h1"}`)
	readMessage(t, c2) // room_joined
	readMessage(t, c1) // peer_joined

	if err := c1.Close(); err != nil {
		t.Fatal(err)
	}

	left := readMessage(t, c2)
	if left.Type != model.TypePeerLeft || left.PeerID != id1 ||
		left.PeerCount == nil || *left.PeerCount != 0 {
		t.Fatalf("unexpected peer_left: %s", spew.Sdump(left))
	}

	// Remaining member leaves; the id becomes available again.
	writeRaw(t, c2, `{"type":"leave"}`)

	c3, _ := connectClient(t, srv)
	deadline := time.Now().Add(testReadWait)
	for {
		writeRaw(t, c3, `{"type":"create_room","pinHash":"h1"}`)
		msg := readMessage(t, c3)
		if msg.Type == model.TypeRoomCreated {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("room id never freed: %s", spew.Sdump(msg))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	srv := newTestServer(t, time.Minute)
	c1, _ := connectClient(t, srv)

	writeRaw(t, c1, `{oops`)
	if msg := readMessage(t, c1); msg.Type != model.TypeError || msg.Text != "Invalid JSON" {
		t.Fatalf("unexpected reply: %s", spew.Sdump(msg))
	}

	// Connection survives; protocol still works.
	writeRaw(t, c1, `{"type":"ping"}`)
	if msg := readMessage(t, c1); msg.Type != model.TypePong {
		t.Fatalf("connection unusable after bad frame: %s", spew.Sdump(msg))
	}
}

func TestExpiryClosesConnection(t *testing.T) {
	srv := newTestServer(t, 80*time.Millisecond)
	c1, _ := connectClient(t, srv)

	writeRaw(t, c1, `{"type":"create_room","pinHash":"h1"}`)
	readMessage(t, c1) // room_created

	expired := readMessage(t, c1)
	if expired.Type != model.TypeSessionExpired || expired.Reason != model.ReasonTimeout {
		t.Fatalf("unexpected expiry notice: %s", spew.Sdump(expired))
	}

	// Server follows up with a normal closure.
	if err := c1.SetReadDeadline(time.Now().Add(testReadWait)); err != nil {
		t.Fatal(err)
	}
	_, _, err := c1.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("want normal closure, got %v", err)
	}
}

func TestRateLimiter(t *testing.T) {
	lim := newLimiter(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		if !lim.allow() {
			t.Fatalf("frame %d dropped within burst", i)
		}
	}
	if lim.allow() {
		t.Fatal("burst not enforced")
	}

	time.Sleep(60 * time.Millisecond)
	if !lim.allow() {
		t.Fatal("token not refilled after interval")
	}

	if l := newLimiter(0, time.Second); !l.allow() {
		t.Fatal("disabled limiter must allow everything")
	}
}
