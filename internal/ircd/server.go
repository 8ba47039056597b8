package ircd

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/pires/go-proxyproto"
	"gopkg.in/irc.v3"
	"nhooyr.io/websocket"

	"github.com/martinetd/matrirc/internal/credstore"
	"github.com/martinetd/matrirc/internal/errs"
	"github.com/martinetd/matrirc/internal/ircproto"
	"github.com/martinetd/matrirc/internal/metrics"
	"github.com/martinetd/matrirc/internal/session"
	"github.com/martinetd/matrirc/internal/translate"
	"github.com/martinetd/matrirc/internal/upstream"
)

// Server accepts downstream IRC connections and drives each one
// through the handshake, login and dispatch phases (spec §4.1).
type Server struct {
	Store       *credstore.Store
	Dialer      upstream.Dialer
	Media       translate.MediaConfig
	Logger      Logger
	Metrics     *metrics.Metrics
	NamesBudget int
}

// Serve wraps ln with PROXY-protocol support (spec's DOMAIN STACK:
// deployments fronted by a TCP load balancer) and accepts connections
// until ln is closed; on accept failure, log and continue (spec §4.1).
func (s *Server) Serve(ln net.Listener) error {
	pln := &proxyproto.Listener{Listener: ln}
	for {
		conn, err := pln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && !ne.Temporary() {
				return fmt.Errorf("ircd: listener closed: %w", err)
			}
			s.logf("accept error: %v", err)
			continue
		}
		go s.handleConn(conn)
	}
}

// ServeWebsocket tunnels the same IRC frame protocol over a secondary
// WebSocket listener (SPEC_FULL.md DOMAIN STACK supplement).
func (s *Server) ServeWebsocket(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn := websocket.NetConn(r.Context(), wsConn, websocket.MessageText)
		s.handleConn(conn)
	})
	return http.ListenAndServe(addr, mux)
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// handleConn drives one connection through handshake, login and
// steady-state dispatch; on per-connection failure, best-effort send a
// trailing ERROR frame then close (spec §4.1).
func (s *Server) handleConn(conn net.Conn) {
	client := NewClient(conn, s.Logger)

	writeDone := make(chan error, 1)
	go func() { writeDone <- client.WriteLoop() }()

	nick, pass, err := client.RunHandshake()
	if err != nil {
		client.Stop(err.Error())
		<-writeDone
		return
	}
	client.Welcome()

	ctx := context.Background()
	upClient, err := s.login(ctx, client, nick, pass)
	if err != nil {
		if s.Metrics != nil {
			s.Metrics.LoginFailed()
		}
		client.Stop(fmt.Sprintf("login failed: %v", err))
		<-writeDone
		return
	}
	if s.Metrics != nil {
		s.Metrics.LoginSucceeded()
	}

	coord := session.New(upClient, client, s.Media, nick, s.NamesBudget)

	if s.Metrics != nil {
		coord.SetMetrics(s.Metrics)
		s.Metrics.SessionStarted()
		defer s.Metrics.SessionEnded()
	}

	go func() {
		if err := coord.RunUpstreamSync(ctx); err != nil {
			s.logf("upstream sync for %s ended: %v", nick, err)
		}
	}()

	s.readLoop(ctx, client, coord, upClient)
	<-writeDone
}

// login attempts a stored-session restore first, falling back to the
// interactive dialog on restore failure (spec §4.4).
func (s *Server) login(ctx context.Context, client *Client, nick, pass string) (upstream.Client, error) {
	loginState := NewLoginState(s.Store, s.Dialer, nick, pass)

	restored, err := loginState.Restore(ctx)
	if err != nil {
		if errs.IsKind(err, errs.Auth) {
			s.notice(client, "wrong password for a stored session, starting interactive login")
		} else {
			s.notice(client, fmt.Sprintf("could not restore session: %v, starting interactive login", err))
		}
	} else if restored != nil {
		s.notice(client, "restored saved session")
		return restored, nil
	}

	s.notice(client, "no session on file, send your homeserver address to begin")
	return s.interactiveLogin(ctx, client, loginState)
}

func (s *Server) notice(client *Client, line string) {
	client.Enqueue(ircproto.Notice(ircproto.ServerName, client.Nick(), line))
}

// interactiveLogin funnels inbound frames and background SSO
// completion into a single select loop until LoginState reaches
// Complete (spec §4.4).
func (s *Server) interactiveLogin(ctx context.Context, client *Client, loginState *LoginState) (upstream.Client, error) {
	msgCh := make(chan *irc.Message)
	errCh := make(chan error, 1)
	go func() {
		for {
			msg, err := client.readMessage()
			if err != nil {
				errCh <- err
				return
			}
			msgCh <- msg
		}
	}()

	for {
		var ssoDone <-chan ssoOutcome
		if d := loginState.SSODone(); d != nil {
			ssoDone = d
		}

		select {
		case msg := <-msgCh:
			switch msg.Command {
			case "PING":
				client.Enqueue(ircproto.Pong(msg.Params...))
			case "PRIVMSG":
				if len(msg.Params) < 2 {
					continue
				}
				lines, upClient, err := loginState.Advance(ctx, msg.Params[1])
				for _, l := range lines {
					s.notice(client, l)
				}
				if err != nil {
					return nil, err
				}
				if upClient != nil {
					return upClient, nil
				}
			case "QUIT":
				return nil, fmt.Errorf("ircd: client quit during login")
			}
		case outcome := <-ssoDone:
			if outcome.err != nil {
				s.notice(client, fmt.Sprintf("sso login failed: %v", outcome.err))
				continue
			}
			loginState.CompleteSSO()
			s.notice(client, "sso login complete")
			return outcome.client, nil
		case err := <-errCh:
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// readLoop dispatches inbound frames once login has completed
// (spec §4.9), stopping the coordinator when the reader exits.
func (s *Server) readLoop(ctx context.Context, client *Client, coord *session.Coordinator, upClient upstream.Client) {
	defer coord.Stop("reader exited")
	for {
		msg, err := client.readMessage()
		if err != nil {
			return
		}
		if client.Dispatch(ctx, coord.Engine(), upClient, msg) {
			return
		}
	}
}
