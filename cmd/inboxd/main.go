package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/inboxd/inboxd/internal/api"
	"github.com/inboxd/inboxd/internal/config"
	"github.com/inboxd/inboxd/internal/handler"
	"github.com/inboxd/inboxd/internal/service/realtime"
	sessionservice "github.com/inboxd/inboxd/internal/service/session"
	"github.com/inboxd/inboxd/internal/service/syncer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store := sessionservice.NewStore(cfg.Session.Path)
	client := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout)

	channelOpts := realtime.DefaultOptions(cfg.Realtime.URL)
	channelOpts.MaxRetries = cfg.Realtime.MaxRetries
	channelOpts.PingInterval = cfg.Realtime.PingInterval
	channel := realtime.NewManager(channelOpts)
	defer channel.Disconnect()

	engine := syncer.New(client, store, channel)

	onLogout := func() {
		log.Println("[session] logged out; authenticate again to resume syncing")
	}
	controller := sessionservice.NewController(store, client, channel, onLogout, engine.Kick)
	engine.OnAuthFailure(controller.InvalidateCredential)

	// Hydration runs off the main goroutine; everything auth-gated waits on
	// store.Ready().
	go func() {
		if err := store.Hydrate(); err != nil {
			log.Printf("warning: session hydration degraded: %v", err)
		}
	}()

	go engine.Run(ctx)

	go func() {
		if err := controller.Resume(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("warning: could not resume persisted session: %v", err)
		}
	}()

	router := handler.NewRouter(store, channel, engine)
	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("inboxd status API listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
