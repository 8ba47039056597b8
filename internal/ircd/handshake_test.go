package ircd

import (
	"net"
	"testing"
	"time"

	"gopkg.in/irc.v3"
)

func pipeClient(t *testing.T) (*Client, *irc.Conn, net.Conn) {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() { c1.Close(); c2.Close() })
	client := NewClient(c1, nil)
	peer := irc.NewConn(c2)
	return client, peer, c2
}

func expectMessage(t *testing.T, peerConn net.Conn, peer *irc.Conn, cmd string) *irc.Message {
	t.Helper()
	peerConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := peer.ReadMessage()
	if err != nil {
		t.Fatalf("reading %s: %v", cmd, err)
	}
	if msg.Command != cmd {
		t.Fatalf("got %s, want %s (%v)", msg.Command, cmd, msg)
	}
	return msg
}

func TestHandshakeRequiresNickAndPassBeforeUser(t *testing.T) {
	client, peer, _ := pipeClient(t)

	go func() { client.WriteLoop() }()

	done := make(chan struct{})
	var nick, pass string
	var err error
	go func() {
		nick, pass, err = client.RunHandshake()
		close(done)
	}()

	peer.WriteMessage(&irc.Message{Command: "NICK", Params: []string{"alice"}})
	peer.WriteMessage(&irc.Message{Command: "PASS", Params: []string{"hunter2"}})
	peer.WriteMessage(&irc.Message{Command: "USER", Params: []string{"alice", "0", "*", "alice"}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunHandshake did not return")
	}
	if err != nil {
		t.Fatalf("RunHandshake: %v", err)
	}
	if nick != "alice" || pass != "hunter2" {
		t.Fatalf("got nick=%q pass=%q", nick, pass)
	}
}

func TestHandshakeRejectsUserWithoutPass(t *testing.T) {
	client, peer, peerConn := pipeClient(t)
	go func() { client.WriteLoop() }()

	done := make(chan error, 1)
	go func() {
		_, _, err := client.RunHandshake()
		done <- err
	}()

	peer.WriteMessage(&irc.Message{Command: "NICK", Params: []string{"alice"}})
	peer.WriteMessage(&irc.Message{Command: "USER", Params: []string{"alice", "0", "*", "alice"}})
	expectMessage(t, peerConn, peer, "ERROR")

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error when USER arrives without PASS")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunHandshake did not return")
	}
}

func TestWelcomeJoinsReservedTarget(t *testing.T) {
	client, peer, peerConn := pipeClient(t)
	go func() { client.WriteLoop() }()

	client.setNick("alice")
	client.Welcome()

	expectMessage(t, peerConn, peer, "001")
	join := expectMessage(t, peerConn, peer, "JOIN")
	if join.Params[0] != "matrirc" {
		t.Fatalf("JOIN target = %q, want matrirc", join.Params[0])
	}
}
