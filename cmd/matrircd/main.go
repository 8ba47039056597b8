// Command matrircd is the matrirc process entrypoint: it loads
// configuration, opens the credential store, starts the optional
// metrics endpoint and the IRC-side listeners, and blocks until the
// first listener fails.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/martinetd/matrirc/internal/config"
	"github.com/martinetd/matrirc/internal/credstore"
	"github.com/martinetd/matrirc/internal/errs"
	"github.com/martinetd/matrirc/internal/ircd"
	"github.com/martinetd/matrirc/internal/metrics"
	"github.com/martinetd/matrirc/internal/translate"
	"github.com/martinetd/matrirc/internal/upstream"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("matrircd: %v", err)
	}

	logger := log.New(os.Stderr, "matrircd: ", log.LstdFlags)

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(cfg config.Config, logger *log.Logger) error {
	store := credstore.New(cfg.StateDir, cfg.AllowRegister)

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, m.Handler()); err != nil {
				logger.Printf("metrics listener on %s ended: %v", cfg.MetricsAddr, err)
			}
		}()
	}

	srv := &ircd.Server{
		Store:  store,
		Dialer: unconfiguredDialer{},
		Media: translate.MediaConfig{
			Dir: cfg.MediaDir,
			URL: cfg.MediaURL,
		},
		Logger:      logger,
		Metrics:     m,
		NamesBudget: cfg.NamesLineBudget,
	}

	ln, err := net.Listen("tcp", cfg.IrcdListen)
	if err != nil {
		return fmt.Errorf("matrircd: listen on %s: %w", cfg.IrcdListen, err)
	}
	logger.Printf("listening on %s", cfg.IrcdListen)

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Serve(ln) }()

	if cfg.WebsocketAddr != "" {
		logger.Printf("websocket listening on %s", cfg.WebsocketAddr)
		go func() { errCh <- srv.ServeWebsocket(cfg.WebsocketAddr) }()
	}

	return <-errCh
}

// unconfiguredDialer is the default upstream.Dialer: matrircd names the
// Matrix client-server SDK as an external collaborator it does not
// vendor, so a real deployment must supply its own Dialer (mirroring
// how database/sql consumers register a concrete driver). Until one is
// wired in, every login attempt fails with a clear message instead of
// panicking or silently hanging.
type unconfiguredDialer struct{}

func (unconfiguredDialer) DiscoverFlows(ctx context.Context, homeserver string) (upstream.LoginFlow, error) {
	return upstream.LoginFlow{}, errs.New(errs.UpstreamErr, "no Matrix client SDK wired into this build")
}

func (unconfiguredDialer) LoginPassword(ctx context.Context, homeserver, user, pass string) (upstream.Client, error) {
	return nil, errs.New(errs.UpstreamErr, "no Matrix client SDK wired into this build")
}

func (unconfiguredDialer) LoginSSO(ctx context.Context, homeserver, idp string) (string, func(context.Context) (upstream.Client, error), error) {
	return "", nil, errs.New(errs.UpstreamErr, "no Matrix client SDK wired into this build")
}

func (unconfiguredDialer) Restore(ctx context.Context, homeserver string, session upstream.Session) (upstream.Client, error) {
	return nil, errs.New(errs.UpstreamErr, "no Matrix client SDK wired into this build")
}
