package ircd

import (
	"context"
	"fmt"
	"strings"

	"github.com/martinetd/matrirc/internal/credstore"
	"github.com/martinetd/matrirc/internal/upstream"
)

// ssoOutcome is what the background SSO confirmation task reports
// (spec §4.4: "the confirmation task completes in the background").
type ssoOutcome struct {
	client upstream.Client
	err    error
}

// LoginStep is one state of the interactive login dialog (spec §4.4).
type LoginStep int

const (
	LoginInit LoginStep = iota
	LoginHomeserver
	LoginComplete
)

// LoginState drives the Init/Homeserver(choices)/Complete state
// machine described in spec §4.4, reading each transition's input from
// a body line the client PRIVMSGs to the reserved "matrirc" target.
type LoginState struct {
	step       LoginStep
	homeserver string
	flow       upstream.LoginFlow

	store  *credstore.Store
	dialer upstream.Dialer
	nick   string
	pass   string

	ssoDone chan ssoOutcome
}

// SSODone returns the channel the background SSO confirmation task
// reports its outcome on, or nil if no SSO attempt is in flight.
func (l *LoginState) SSODone() <-chan ssoOutcome {
	return l.ssoDone
}

// CompleteSSO marks the dialog Complete once the caller has consumed a
// successful ssoOutcome from SSODone.
func (l *LoginState) CompleteSSO() {
	l.step = LoginComplete
}

func NewLoginState(store *credstore.Store, dialer upstream.Dialer, nick, pass string) *LoginState {
	return &LoginState{step: LoginInit, store: store, dialer: dialer, nick: nick, pass: pass}
}

// Restore attempts to decrypt a stored session for nick/pass before
// falling back to interactive login (spec §4.4 "session restore path").
// It returns the restored client, or (nil, nil) when interactive login
// should proceed instead.
func (l *LoginState) Restore(ctx context.Context) (upstream.Client, error) {
	homeserver, session, err := l.store.Login(l.nick, l.pass)
	if err == credstore.ErrNoSession {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	client, err := l.dialer.Restore(ctx, homeserver, session)
	if err != nil {
		return nil, fmt.Errorf("ircd: restore session: %w", err)
	}
	return client, nil
}

// Advance feeds one body line through the state machine. lines is the
// set of notice lines to deliver back to the client; client is non-nil
// only once LoginComplete is reached.
func (l *LoginState) Advance(ctx context.Context, body string) (lines []string, client upstream.Client, err error) {
	switch l.step {
	case LoginInit:
		return l.advanceInit(ctx, body)
	case LoginHomeserver:
		return l.advanceHomeserver(ctx, body)
	default:
		return []string{"login already complete"}, nil, nil
	}
}

func (l *LoginState) advanceInit(ctx context.Context, body string) ([]string, upstream.Client, error) {
	fields := strings.Fields(body)
	switch len(fields) {
	case 1:
		return l.enterHomeserver(ctx, fields[0])
	case 3:
		client, err := l.complete(ctx, fields[0], fields[1], fields[2])
		if err != nil {
			l.step = LoginInit
			return []string{fmt.Sprintf("error: %v", err)}, nil, nil
		}
		return []string{"login complete"}, client, nil
	default:
		return []string{"usage: <homeserver>  or  <homeserver> <user> <pass>"}, nil, nil
	}
}

func (l *LoginState) enterHomeserver(ctx context.Context, homeserver string) ([]string, upstream.Client, error) {
	flow, err := l.dialer.DiscoverFlows(ctx, homeserver)
	if err != nil {
		l.step = LoginInit
		return []string{fmt.Sprintf("error: %v", err)}, nil, nil
	}
	l.homeserver = homeserver
	l.flow = flow
	l.step = LoginHomeserver

	lines := []string{fmt.Sprintf("connected to %s, choose a login method:", homeserver)}
	if flow.Password {
		lines = append(lines, "password <user> <pass>")
	}
	if flow.SSO {
		if len(flow.IdentityProviders) == 0 {
			lines = append(lines, "sso")
		}
		for _, idp := range flow.IdentityProviders {
			lines = append(lines, "sso "+idp)
		}
	}
	lines = append(lines, "(or \"reset\" to start over)")
	return lines, nil, nil
}

func (l *LoginState) advanceHomeserver(ctx context.Context, body string) ([]string, upstream.Client, error) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return []string{"usage: see the choices above, or \"reset\""}, nil, nil
	}

	switch fields[0] {
	case "reset":
		l.step = LoginInit
		return []string{"ok, starting over"}, nil, nil
	case "password":
		if !l.flow.Password || len(fields) != 3 {
			l.step = LoginInit
			return []string{"usage: password <user> <pass>"}, nil, nil
		}
		client, err := l.complete(ctx, l.homeserver, fields[1], fields[2])
		if err != nil {
			l.step = LoginInit
			return []string{fmt.Sprintf("error: %v", err)}, nil, nil
		}
		return []string{"login complete"}, client, nil
	case "sso":
		if !l.flow.SSO {
			l.step = LoginInit
			return []string{"sso is not offered by this homeserver"}, nil, nil
		}
		idp := ""
		if len(fields) == 2 {
			idp = fields[1]
		}
		return l.startSSO(ctx, idp)
	default:
		l.step = LoginInit
		return []string{"usage: see the choices above, or \"reset\""}, nil, nil
	}
}

// startSSO obtains an SSO URL synchronously and relays it, letting the
// confirmation itself complete in the background (spec §4.4).
func (l *LoginState) startSSO(ctx context.Context, idp string) ([]string, upstream.Client, error) {
	ssoURL, await, err := l.dialer.LoginSSO(ctx, l.homeserver, idp)
	if err != nil {
		l.step = LoginInit
		return []string{fmt.Sprintf("error: %v", err)}, nil, nil
	}

	l.ssoDone = make(chan ssoOutcome, 1)
	homeserver := l.homeserver
	go func() {
		client, err := await(context.Background())
		if err == nil {
			err = l.store.CreateUser(l.nick, l.pass, homeserver, client.Session())
		}
		l.ssoDone <- ssoOutcome{client: client, err: err}
	}()

	return []string{"open this URL to finish login:", ssoURL}, nil, nil
}

func (l *LoginState) complete(ctx context.Context, homeserver, user, pass string) (upstream.Client, error) {
	client, err := l.dialer.LoginPassword(ctx, homeserver, user, pass)
	if err != nil {
		return nil, err
	}
	if err := l.store.CreateUser(l.nick, l.pass, homeserver, client.Session()); err != nil {
		return nil, err
	}
	l.step = LoginComplete
	return client, nil
}
