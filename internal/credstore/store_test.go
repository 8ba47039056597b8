package credstore

import (
	"testing"

	"github.com/martinetd/matrirc/internal/upstream"
)

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, false)

	want := upstream.Session{AccessToken: "tok", UserID: "@alice:hs.example", DeviceID: "DEV1"}
	if err := s.CreateUser("alice", "hunter2", "https://hs.example", want); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	hs, got, err := s.Login("alice", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if hs != "https://hs.example" {
		t.Errorf("homeserver = %q, want https://hs.example", hs)
	}
	if got != want {
		t.Errorf("session round-trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestBadPassword(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, false)

	if err := s.CreateUser("alice", "hunter2", "https://hs.example", upstream.Session{}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if _, _, err := s.Login("alice", "wrong"); err == nil {
		t.Fatal("Login with wrong password succeeded")
	} else if got := err.Error(); got == "" {
		t.Fatal("expected a non-empty bad-password error")
	}
}

func TestUnknownUser(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, false)

	if _, _, err := s.Login("nobody", "whatever"); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestNoSessionAllowsRegister(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true)

	_, _, err := s.Login("newuser", "whatever")
	if err != ErrNoSession {
		t.Fatalf("Login = %v, want ErrNoSession", err)
	}
}

func TestCreateUserRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, false)

	if err := s.CreateUser("alice", "hunter2", "https://hs.example", upstream.Session{}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.CreateUser("alice", "hunter2", "https://hs.example", upstream.Session{}); err == nil {
		t.Fatal("expected second CreateUser to fail")
	}
}
