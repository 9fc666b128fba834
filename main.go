package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/robalobadob/timeline/internal/config"
	"github.com/robalobadob/timeline/internal/httpserver"
	"github.com/robalobadob/timeline/internal/identity"
	"github.com/robalobadob/timeline/internal/janitor"
	"github.com/robalobadob/timeline/internal/play"
	"github.com/robalobadob/timeline/internal/store"
)

const releaseVersion = "0.1.0"

func main() {
	config.LoadDotEnv()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := &config.Config{}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newCmd(cfg).ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("timeline exited")
	}
}

func newCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "timeline",
		Short:         "Team quiz game server: reveal letters, guess the riddle, beat the clock.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			zerolog.SetGlobalLevel(cfg.Level())
			return serve(cmd.Context(), cfg)
		},
	}
	config.Bind(cmd.Flags(), cfg)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("timeline v{{.Version}}\n")
	return cmd
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case "sqlite":
		return store.OpenSQLite(cfg.DBPath)
	case "redis":
		return store.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return store.NewMemoryStore(), nil
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	svc := play.New(st)
	iss := identity.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	srv := httpserver.New(svc, iss, httpserver.Options{
		ClientOrigin:  cfg.ClientOrigin,
		PublicURL:     cfg.PublicURL,
		SecureCookies: !cfg.Dev,
		RateLimit:     rate.Limit(cfg.RateLimit),
		RateBurst:     cfg.RateBurst,
	})

	jan, err := janitor.New(svc, cfg.Cleanup, cfg.IdleTimeout)
	if err != nil {
		return err
	}
	jan.Start()
	defer jan.Stop()

	hs := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", hs.Addr).Str("store", cfg.Store).Msg("starting timeline server")
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}
