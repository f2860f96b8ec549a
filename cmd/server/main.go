package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/VoiceHub/internal/adapters/cache"
	router "github.com/dkeye/VoiceHub/internal/adapters/http"
	"github.com/dkeye/VoiceHub/internal/adapters/identity"
	"github.com/dkeye/VoiceHub/internal/adapters/sink"
	wsignal "github.com/dkeye/VoiceHub/internal/adapters/signal"
	"github.com/dkeye/VoiceHub/internal/adapters/store"
	"github.com/dkeye/VoiceHub/internal/app"
	"github.com/dkeye/VoiceHub/internal/app/orch"
	"github.com/dkeye/VoiceHub/internal/config"
	"github.com/dkeye/VoiceHub/internal/core"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg == nil || cfg.Mode == "debug" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level := zerolog.InfoLevel
	if cfg != nil {
		if l, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && l != zerolog.NoLevel {
			level = l
		}
	}
	zerolog.SetGlobalLevel(level)
}

func newVerifier(cfg *config.Config) (core.IdentityVerifier, func(), error) {
	if cfg.Identity.Addr == "" {
		log.Warn().Str("module", "main").Int("tokens", len(cfg.Identity.Tokens)).Msg("no identity service configured, using static tokens")
		v, err := identity.NewStatic(cfg.Identity.Tokens)
		return v, func() {}, err
	}
	c, err := identity.NewClient(cfg.Identity.Addr, cfg.Identity.Timeout)
	if err != nil {
		return nil, nil, err
	}
	return c, func() { _ = c.Close() }, nil
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Console logger until config says otherwise, so config.Load can log.
	setupLogger(nil)
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg)

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ch, err := cache.Open(ctx, cfg.Cache.Driver, cfg.Cache.URL)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = ch.Close() }()

	verifier, closeVerifier, err := newVerifier(cfg)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	defer closeVerifier()

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Presence: app.NewPresence(ch, cfg.Hub.ProfileTTL),
		Rooms:    app.NewRoomResolver(st, ch, cfg.Hub.RoomCacheTTL),
		Messages: app.NewMessagePipeline(st, ch, cfg.Hub.RecentMessages),
		Calls:    app.NewCallManager(st, ch, cfg.Hub.RingTimeout, cfg.Hub.CallStatusTTL),
		Recorder: app.NewRecorder(st, sink.NewOSFileSinks(cfg.Recording.Dir)),
		Identity: verifier,
		Policy:   app.PolicyForMode(cfg.Mode),
		PageSize: cfg.Hub.PageSize,
	}
	o.Init()

	ctrl := wsignal.NewSignalWSController(o, cfg.RateLimit.Messages, cfg.RateLimit.Interval, wsignal.Options{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		PongWait:       cfg.PongWait,
		WriteWait:      cfg.WriteWait,
		SendBuffer:     cfg.SendBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
		Debug:          cfg.Mode == "debug",
	})

	health := func(ctx context.Context) error {
		return errors.Join(st.Ping(ctx), ch.Ping(ctx))
	}
	r := router.SetupRouter(ctx, cfg, o, ctrl, health)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("VoiceHub server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		o.Shutdown(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
