package server

import (
	"net"
	"os"
	"testing"
	"time"

	"msimchat/internal/activitylog"
	"msimchat/internal/config"
	"msimchat/internal/frame"
	"msimchat/internal/roster"
	"msimchat/internal/store"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	dbFile, err := os.CreateTemp("", "msim-server-test-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	dbFile.Close()
	os.Remove(dbFile.Name())
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	st, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logFile, err := os.CreateTemp("", "msim-activity-test-*.log")
	if err != nil {
		t.Fatalf("create temp log: %v", err)
	}
	logFile.Close()
	t.Cleanup(func() { os.Remove(logFile.Name()) })

	alog, err := activitylog.Open(logFile.Name())
	if err != nil {
		t.Fatalf("open activity log: %v", err)
	}
	t.Cleanup(func() { alog.Close() })

	cfg := &config.Config{SessionCap: 10}
	return New(cfg, st, alog)
}

// connectedClient spins up handleConnection on one half of a net.Pipe
// and returns the other half for the test to drive directly, bypassing
// the TCP accept loop entirely.
func connectedClient(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	go srv.handleConnection(serverConn)
	t.Cleanup(func() { clientConn.Close() })
	return clientConn
}

func withDeadline(conn net.Conn, d time.Duration) {
	conn.SetReadDeadline(time.Now().Add(d))
	conn.SetWriteDeadline(time.Now().Add(d))
}

func TestRegistrationThenLogin(t *testing.T) {
	srv := setupTestServer(t)
	conn := connectedClient(t, srv)
	withDeadline(conn, 2*time.Second)

	if err := frame.Write(conn, frame.TypeRegister, "alice", "pw"); err != nil {
		t.Fatalf("write register: %v", err)
	}
	f, err := frame.Read(conn)
	if err != nil {
		t.Fatalf("read register response: %v", err)
	}
	if f.Content != frame.AuthResponseContent(true) {
		t.Fatalf("expected registration success")
	}

	// A successful register already authenticates its connection, so the
	// login goes out on a new one.
	login := connectedClient(t, srv)
	withDeadline(login, 2*time.Second)
	if err := frame.Write(login, frame.TypeLogin, "alice", "pw"); err != nil {
		t.Fatalf("write login: %v", err)
	}
	f, err = frame.Read(login)
	if err != nil {
		t.Fatalf("read login response: %v", err)
	}
	if f.Content != frame.AuthResponseContent(true) {
		t.Fatalf("expected login success")
	}
}

func TestFriendshipHandshake(t *testing.T) {
	srv := setupTestServer(t)

	alice := connectedClient(t, srv)
	withDeadline(alice, 2*time.Second)
	frame.Write(alice, frame.TypeRegister, "alice", "pw")
	frame.Read(alice)

	bob := connectedClient(t, srv)
	withDeadline(bob, 2*time.Second)
	frame.Write(bob, frame.TypeRegister, "bob", "pw")
	frame.Read(bob)

	if err := frame.Write(alice, frame.TypeFriendRequest, "alice", "bob"); err != nil {
		t.Fatalf("write friend-request: %v", err)
	}
	resp, err := frame.Read(alice)
	if err != nil {
		t.Fatalf("read friend-request response: %v", err)
	}
	if resp.Content != frame.AuthResponseContent(true) {
		t.Fatalf("expected friend-request success")
	}

	if err := frame.Write(bob, frame.TypeFriendAccept, "bob", "alice"); err != nil {
		t.Fatalf("write friend-accept: %v", err)
	}
	resp, err = frame.Read(bob)
	if err != nil {
		t.Fatalf("read friend-accept response: %v", err)
	}
	if resp.Content != frame.AuthResponseContent(true) {
		t.Fatalf("expected friend-accept success")
	}
}

func TestDirectMessageLiveDelivery(t *testing.T) {
	srv := setupTestServer(t)

	alice := connectedClient(t, srv)
	withDeadline(alice, 2*time.Second)
	frame.Write(alice, frame.TypeRegister, "alice", "pw")
	frame.Read(alice)

	bob := connectedClient(t, srv)
	withDeadline(bob, 2*time.Second)
	frame.Write(bob, frame.TypeRegister, "bob", "pw")
	frame.Read(bob)

	// Give bob's session goroutine a moment to register in the roster
	// before alice's message is dispatched.
	time.Sleep(20 * time.Millisecond)

	if err := frame.Write(alice, frame.TypeDirectMessage, "bob", "hello"); err != nil {
		t.Fatalf("write direct-message: %v", err)
	}

	got, err := frame.Read(bob)
	if err != nil {
		t.Fatalf("read live delivery: %v", err)
	}
	if got.Type != frame.TypeText || got.Username != "alice" || got.Content != "hello" {
		t.Fatalf("unexpected live frame: %+v", got)
	}

	if err := frame.Write(bob, frame.TypeHistoryRequest, "alice", ""); err != nil {
		t.Fatalf("write history-request: %v", err)
	}
	hist, err := frame.Read(bob)
	if err != nil {
		t.Fatalf("read history-response: %v", err)
	}
	if hist.Type != frame.TypeHistoryResponse {
		t.Fatalf("expected history-response, got type %d", hist.Type)
	}
}

func TestGroupCreateAddAndBroadcast(t *testing.T) {
	srv := setupTestServer(t)

	alice := connectedClient(t, srv)
	withDeadline(alice, 2*time.Second)
	frame.Write(alice, frame.TypeRegister, "alice", "pw")
	frame.Read(alice)

	bob := connectedClient(t, srv)
	withDeadline(bob, 2*time.Second)
	frame.Write(bob, frame.TypeRegister, "bob", "pw")
	frame.Read(bob)

	time.Sleep(20 * time.Millisecond)

	frame.Write(alice, frame.TypeGroupCreate, "alice", "team")
	resp, err := frame.Read(alice)
	if err != nil || resp.Content != frame.AuthResponseContent(true) {
		t.Fatalf("group-create failed: %v %+v", err, resp)
	}

	frame.Write(alice, frame.TypeGroupAdd, "team", "bob")
	resp, err = frame.Read(alice)
	if err != nil || resp.Content != frame.AuthResponseContent(true) {
		t.Fatalf("group-add failed: %v %+v", err, resp)
	}

	frame.Write(alice, frame.TypeGroupMessage, "team", "hi all")

	got, err := frame.Read(bob)
	if err != nil {
		t.Fatalf("read group-text: %v", err)
	}
	if got.Type != frame.TypeGroupText || got.Username != "team" || got.Content != "alice: hi all" {
		t.Fatalf("unexpected group-text frame: %+v", got)
	}
}

func TestAdmissionCap(t *testing.T) {
	srv := setupTestServer(t)
	srv.cfg.SessionCap = 1
	// New sized the roster from the earlier config; rebuild it at the new cap.
	srv.roster = roster.New(srv.cfg.SessionCap)
	srv.cfg.Port = 0
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Stop()

	addr := srv.listener.Addr().String()

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()
	withDeadline(first, 2*time.Second)
	frame.Write(first, frame.TypeRegister, "alice", "pw")
	frame.Read(first)

	time.Sleep(20 * time.Millisecond)
	if !srv.roster.AtCapacity() {
		t.Fatalf("expected roster to be at capacity after first registration")
	}

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()

	// The accept loop drops the connection before the auth gate runs,
	// so the peer observes a closed socket rather than any frame.
	withDeadline(second, 2*time.Second)
	buf := make([]byte, 1)
	if _, err := second.Read(buf); err == nil {
		t.Fatalf("expected second connection to be refused")
	}
}
