package ircd

import (
	"context"
	"testing"

	"github.com/martinetd/matrirc/internal/credstore"
	"github.com/martinetd/matrirc/internal/upstream"
)

// fakeDialer is a minimal upstream.Dialer test double, grounded on the
// same "boundary named, not vendored" shape as cmd/matrircd's
// unconfiguredDialer, but configurable enough to drive the login FSM.
type fakeDialer struct {
	flow     upstream.LoginFlow
	password upstream.Client
}

func (d *fakeDialer) DiscoverFlows(ctx context.Context, homeserver string) (upstream.LoginFlow, error) {
	return d.flow, nil
}

func (d *fakeDialer) LoginPassword(ctx context.Context, homeserver, user, pass string) (upstream.Client, error) {
	return d.password, nil
}

func (d *fakeDialer) LoginSSO(ctx context.Context, homeserver, idp string) (string, func(context.Context) (upstream.Client, error), error) {
	return "https://example.org/sso", func(context.Context) (upstream.Client, error) {
		return d.password, nil
	}, nil
}

func (d *fakeDialer) Restore(ctx context.Context, homeserver string, session upstream.Session) (upstream.Client, error) {
	return d.password, nil
}

func TestLoginStateRestoreReturnsNilWhenNoSessionStored(t *testing.T) {
	store := credstore.New(t.TempDir(), true)
	dialer := &fakeDialer{}
	l := NewLoginState(store, dialer, "alice", "hunter2")

	client, err := l.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if client != nil {
		t.Fatal("expected nil client when no session is stored")
	}
}

func TestLoginStatePasswordFlowCompletes(t *testing.T) {
	store := credstore.New(t.TempDir(), true)
	upClient := upstream.NewFakeClient("@alice:hs", "hs")
	dialer := &fakeDialer{flow: upstream.LoginFlow{Password: true}, password: upClient}
	l := NewLoginState(store, dialer, "alice", "hunter2")

	lines, client, err := l.Advance(context.Background(), "hs.example.org")
	if err != nil {
		t.Fatalf("Advance(homeserver): %v", err)
	}
	if client != nil {
		t.Fatal("expected no client yet after only entering a homeserver")
	}
	if len(lines) == 0 {
		t.Fatal("expected prompt lines after entering a homeserver")
	}

	lines, client, err = l.Advance(context.Background(), "password alice hunter2")
	if err != nil {
		t.Fatalf("Advance(password): %v", err)
	}
	if client != upClient {
		t.Fatalf("got client %v, want the dialer's client", client)
	}
	if len(lines) != 1 || lines[0] != "login complete" {
		t.Fatalf("got lines %v, want [\"login complete\"]", lines)
	}

	restored, err := NewLoginState(store, dialer, "alice", "hunter2").Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore after CreateUser: %v", err)
	}
	if restored == nil {
		t.Fatal("expected a restorable session after password login stored one")
	}
}

func TestLoginStateResetReturnsToInit(t *testing.T) {
	store := credstore.New(t.TempDir(), true)
	dialer := &fakeDialer{flow: upstream.LoginFlow{Password: true}}
	l := NewLoginState(store, dialer, "alice", "hunter2")

	if _, _, err := l.Advance(context.Background(), "hs.example.org"); err != nil {
		t.Fatalf("Advance(homeserver): %v", err)
	}
	lines, client, err := l.Advance(context.Background(), "reset")
	if err != nil {
		t.Fatalf("Advance(reset): %v", err)
	}
	if client != nil {
		t.Fatal("reset should not produce a client")
	}
	if len(lines) != 1 || lines[0] != "ok, starting over" {
		t.Fatalf("got lines %v", lines)
	}

	// back at LoginInit: a bare word is once again parsed as a homeserver.
	if _, _, err := l.Advance(context.Background(), "hs.example.org"); err != nil {
		t.Fatalf("Advance after reset: %v", err)
	}
}
