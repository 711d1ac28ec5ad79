package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/activitypub/oauth"
	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/activitypub/token"
	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/config"
	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/database"
	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/handlers"
	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/logging"
	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/session"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	port := flag.String("port", cfg.Port, "The port the web server should listen on")
	host := flag.String("host", cfg.Host, "The host the web server is running on")
	flag.Parse()

	logger := logging.New(cfg.Environment)
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o750); err != nil {
		logger.Error("failed to create the database directory", "error", err)
		os.Exit(1)
	}

	d, err := database.Init(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open the database", "error", err)
		os.Exit(1)
	}

	sealer, err := token.NewSealer([]byte(cfg.SecretJWK))
	if err != nil {
		logger.Error("invalid SECRET_JWK", "error", err)
		os.Exit(1)
	}

	st := database.New(d, sealer)
	client := &http.Client{Timeout: cfg.HTTPTimeout}

	flows, closeFlows, err := flowStorage(cfg, d)
	if err != nil {
		logger.Error("failed to set up the flow storage", "error", err)
		os.Exit(1)
	}
	defer closeFlows()

	o := oauth.NewClient(cfg.PublicURL, cfg.ClientName,
		oauth.WithStorage(flows),
		oauth.WithTokenStore(oauth.NewSQLiteTokenStore(st.OAuth)),
		oauth.WithClient(client),
		oauth.WithLogger(logger),
		oauth.WithScope(cfg.Scope),
	)

	s := session.Init(cfg.SessionKey, cfg.IsProduction())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	h := handlers.New(s, st, o, client, logger)

	server := &http.Server{
		Handler:      h.Router(),
		Addr:         fmt.Sprintf("%s:%s", *host, *port),
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info(fmt.Sprintf("Server listening on %s", server.Addr), "client_id", o.ClientID(), "flow_storage", cfg.FlowStorage)
		if err := server.ListenAndServe(); err != nil {
			if err != http.ErrServerClosed {
				logger.Error("server stopped", "error", err)
				os.Exit(1)
			}
		}
	}()

	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("an error occurred while shutting down the server", "error", err)
	}

	logger.Info("server was successfully shutdown")
}

// flowStorage picks where pending authorizations wait for their callback.
func flowStorage(cfg *config.Config, d *gorm.DB) (oauth.Storage, func(), error) {
	switch cfg.FlowStorage {
	case config.FlowStorageRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		return oauth.NewRedisStorage(rdb, cfg.FlowTTL), func() { rdb.Close() }, nil
	case config.FlowStorageMemory:
		return oauth.NewInMemoryStorage(cfg.FlowTTL), func() {}, nil
	}
	return oauth.NewSQLiteStorage(d, cfg.FlowTTL), func() {}, nil
}
