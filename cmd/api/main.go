// Command api runs the careloop HTTP service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"careloop.org/internal/config"
	"careloop.org/internal/httpapi"
	"careloop.org/internal/identity"
	"careloop.org/internal/invites"
	"careloop.org/internal/notify"
	"careloop.org/internal/obs"
	"careloop.org/internal/relationships"
	"careloop.org/internal/store/pg"
)

// Populated via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Printf(`{"level":"fatal","msg":%q}`, err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("CARELOOP_PG_DSN is required")
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, err := pg.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	var dispatcher notify.Dispatcher = notify.LogDispatcher{}
	if cfg.SMTPHost != "" {
		dispatcher, err = notify.NewSMTPDispatcher(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom,
			notify.WithSMTPAuth(cfg.SMTPUsername, cfg.SMTPPassword),
			notify.WithSMTPTimeout(cfg.SMTPTimeout),
		)
		if err != nil {
			return err
		}
	}

	verifier := identity.NewChain(
		identity.NewIntrospectionVerifier(cfg.ProviderDomain,
			identity.WithIntrospectionTimeout(cfg.ProviderTimeout)),
		identity.NewDecodeVerifier(cfg.ProviderDomain),
	)
	authorizer := identity.NewAuthorizer(store)

	inviteSvc, err := invites.NewService(store, dispatcher, cfg.ConsentBaseURL,
		invites.WithCircleCap(cfg.CircleCap))
	if err != nil {
		return err
	}
	relSvc, err := relationships.NewService(store, dispatcher, cfg.OptOutBaseURL)
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.Options{
		Verifier:            verifier,
		Authorizer:          authorizer,
		Invitations:         inviteSvc,
		Relationships:       relSvc,
		ReadyProbe:          dbProbe{store: store},
		Version:             version,
		AllowedOrigins:      cfg.AllowedOrigins,
		PublicRateBurst:     cfg.PublicRateBurst,
		PublicRatePerSecond: cfg.PublicRatePerSecond,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		obs.LogRequest(map[string]any{
			"level":   "info",
			"msg":     "listening",
			"addr":    cfg.Addr,
			"version": version,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type dbProbe struct {
	store *pg.Store
}

func (p dbProbe) Ping(ctx context.Context) error {
	return p.store.DB().PingContext(ctx)
}
