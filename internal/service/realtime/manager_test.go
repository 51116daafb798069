package realtime

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newChannelServer upgrades every request and keeps the socket open until
// the client goes away. onConn runs once per accepted connection.
func newChannelServer(t *testing.T, handshakes *atomic.Int32, onConn func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handshakes.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		if onConn != nil {
			onConn(conn)
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func testOptions(url string) Options {
	return Options{
		URL:              url,
		HandshakeTimeout: time.Second,
		PingInterval:     time.Minute,
		PongWait:         time.Minute,
		WriteTimeout:     time.Second,
		MaxRetries:       2,
	}
}

func waitReady(t *testing.T, m *Manager) {
	t.Helper()
	select {
	case <-m.Ready():
	case <-time.After(3 * time.Second):
		state, err := m.State()
		t.Fatalf("channel never became ready (state=%s err=%v)", state, err)
	}
}

func TestConnectDeliversReadiness(t *testing.T) {
	var handshakes atomic.Int32
	srv := newChannelServer(t, &handshakes, nil)

	m := NewManager(testOptions(wsURL(srv)))
	defer m.Disconnect()

	if err := m.Connect(context.Background(), "tok-1"); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	waitReady(t, m)

	if state, _ := m.State(); state != StateConnected {
		t.Fatalf("expected connected state, got %s", state)
	}
	if _, ok := m.Get(); !ok {
		t.Fatal("expected Get to return the live handle")
	}
}

func TestConnectIdempotentUnderRace(t *testing.T) {
	var handshakes atomic.Int32
	srv := newChannelServer(t, &handshakes, nil)

	m := NewManager(testOptions(wsURL(srv)))
	defer m.Disconnect()

	ctx := context.Background()
	if err := m.Connect(ctx, "tok-1"); err != nil {
		t.Fatalf("first Connect err: %v", err)
	}
	if err := m.Connect(ctx, "tok-1"); err != nil {
		t.Fatalf("second Connect err: %v", err)
	}
	waitReady(t, m)
	// Give a racing second dial time to land if one was started.
	time.Sleep(100 * time.Millisecond)

	if got := handshakes.Load(); got != 1 {
		t.Fatalf("expected exactly one handshake, got %d", got)
	}
}

func TestHandshakeCarriesCredentialAndClientID(t *testing.T) {
	var handshakes atomic.Int32
	params := make(chan [2]string, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handshakes.Add(1)
		params <- [2]string{r.URL.Query().Get("token"), r.URL.Query().Get("client_id")}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m := NewManager(testOptions(wsURL(srv)))
	defer m.Disconnect()

	if err := m.Connect(context.Background(), "tok-42"); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	waitReady(t, m)

	got := <-params
	if got[0] != "tok-42" {
		t.Fatalf("expected credential in handshake, got %q", got[0])
	}
	if got[1] == "" {
		t.Fatal("expected a client instance id in handshake")
	}
}

func TestEventDelivery(t *testing.T) {
	var handshakes atomic.Int32
	srv := newChannelServer(t, &handshakes, func(conn *websocket.Conn) {
		payload := `{"type":"message.created","conversationId":"c7"}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			t.Errorf("server write failed: %v", err)
		}
	})

	m := NewManager(testOptions(wsURL(srv)))
	defer m.Disconnect()

	if err := m.Connect(context.Background(), "tok-1"); err != nil {
		t.Fatalf("Connect err: %v", err)
	}

	select {
	case evt := <-m.Events():
		if evt.ConversationID != "c7" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestConnectRejectsEmptyCredential(t *testing.T) {
	m := NewManager(testOptions("ws://127.0.0.1:1/ws"))
	if err := m.Connect(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty credential")
	}
}

func TestConnectExhaustsRetriesIntoErroredState(t *testing.T) {
	opts := testOptions("ws://127.0.0.1:1/ws") // nothing listens here
	opts.HandshakeTimeout = 100 * time.Millisecond
	opts.MaxRetries = 2

	var transitions atomic.Int32
	m := NewManager(opts)
	m.OnState(func(state State, err error) {
		if state == StateErrored {
			transitions.Add(1)
		}
	})

	if err := m.Connect(context.Background(), "tok-1"); err != nil {
		t.Fatalf("Connect err: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if state, err := m.State(); state == StateErrored {
			if err == nil {
				t.Fatal("errored state must carry the failure")
			}
			if transitions.Load() != 1 {
				t.Fatalf("expected one errored notification, got %d", transitions.Load())
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("channel never reached errored state")
}

func TestDisconnectWinsOverStaleDialFailure(t *testing.T) {
	// Accepts the TCP connection but never answers the websocket
	// handshake, so the dial can only fail by timeout — after the
	// Disconnect below has already run.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen err: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn
		}
	}()

	opts := testOptions("ws://" + ln.Addr().String() + "/ws")
	opts.HandshakeTimeout = 500 * time.Millisecond
	opts.MaxRetries = 1

	m := NewManager(opts)
	if err := m.Connect(context.Background(), "tok-1"); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	m.Disconnect()

	// Let the in-flight dial attempt expire before checking.
	time.Sleep(time.Second)
	state, lastErr := m.State()
	if state != StateDisconnected || lastErr != nil {
		t.Fatalf("explicit disconnect overwritten by stale dial: state=%s err=%v", state, lastErr)
	}
}

// TestTransportDropTriggersAutomaticReconnect drops the server side of a
// live connection and expects the manager to redial on its own, reusing the
// credential from the original handshake without a new Connect call.
func TestTransportDropTriggersAutomaticReconnect(t *testing.T) {
	var handshakes atomic.Int32
	tokens := make(chan string, 4)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := handshakes.Add(1)
		tokens <- r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			// Kill the first connection under the client.
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m := NewManager(testOptions(wsURL(srv)))
	defer m.Disconnect()

	if err := m.Connect(context.Background(), "tok-1"); err != nil {
		t.Fatalf("Connect err: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		state, _ := m.State()
		if handshakes.Load() >= 2 && state == StateConnected {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if state, err := m.State(); state != StateConnected {
		t.Fatalf("never reconnected after transport drop (state=%s err=%v)", state, err)
	}

	first, second := <-tokens, <-tokens
	if first != "tok-1" || second != "tok-1" {
		t.Fatalf("reconnect must reuse the original credential, got %q then %q", first, second)
	}
}

func TestDisconnectSafeWithoutChannel(t *testing.T) {
	m := NewManager(testOptions("ws://127.0.0.1:1/ws"))
	m.Disconnect()
	m.Disconnect()

	if state, _ := m.State(); state != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", state)
	}
}

func TestDisconnectResetsForNextConnect(t *testing.T) {
	var handshakes atomic.Int32
	srv := newChannelServer(t, &handshakes, nil)

	m := NewManager(testOptions(wsURL(srv)))
	if err := m.Connect(context.Background(), "tok-1"); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	waitReady(t, m)

	m.Disconnect()
	if _, ok := m.Get(); ok {
		t.Fatal("expected no handle after disconnect")
	}

	if err := m.Connect(context.Background(), "tok-2"); err != nil {
		t.Fatalf("reconnect err: %v", err)
	}
	waitReady(t, m)

	if got := handshakes.Load(); got != 2 {
		t.Fatalf("expected two handshakes across the cycle, got %d", got)
	}
}
