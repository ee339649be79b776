package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"warden.org/internal/auth"
	"warden.org/internal/httpapi"
	"warden.org/internal/obs"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("WARDEN_COMMIT"))

	keys, err := auth.LoadKeys(
		envOrFile("WARDEN_PRIVATE_KEY", "WARDEN_PRIVATE_KEY_FILE"),
		envOrFile("WARDEN_PUBLIC_KEY", "WARDEN_PUBLIC_KEY_FILE"),
	)
	if err != nil {
		log.Fatalf("load signing keys: %v", err)
	}

	// Postgres when a DSN is configured; in-memory store otherwise so the
	// service stays runnable in development.
	var (
		store auth.Store
		probe httpapi.ReadyProbe
	)
	if dsn := os.Getenv("WARDEN_PG_DSN"); dsn != "" {
		pg, err := auth.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pg.Close()
		store = pg
		probe = httpapi.ReadyProbe{DB: pg.DB()}
	} else {
		log.Println("WARDEN_PG_DSN not set, using in-memory store")
		store = auth.NewMemoryStore()
	}

	opts := []auth.ServiceOption{}
	if issuer := os.Getenv("WARDEN_ISSUER"); issuer != "" {
		opts = append(opts, auth.WithIssuer(issuer))
	}
	if ttl := envDuration("WARDEN_ACCESS_TTL"); ttl > 0 {
		opts = append(opts, auth.WithAccessTTL(ttl))
	}
	if ttl := envDuration("WARDEN_REFRESH_TTL"); ttl > 0 {
		opts = append(opts, auth.WithRefreshTTL(ttl))
	}

	svc, err := auth.NewService(store, keys, opts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.EnsureRoles(ctx); err != nil {
		log.Fatalf("seed roles: %v", err)
	}

	// The revocation ledger stays bounded: records older than the refresh
	// lifetime cannot belong to a verifiable token.
	go purgeLoop(ctx, svc)

	api := httpapi.New(svc, store, probe, version)

	addr := os.Getenv("WARDEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting warden-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}

func purgeLoop(ctx context.Context, svc *auth.Service) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := svc.PurgeRevokedTokens(ctx); err != nil {
				log.Printf("purge revoked tokens: %v", err)
			} else if n > 0 {
				log.Printf("purged %d expired revoked tokens", n)
			}
		}
	}
}

func envOrFile(envKey, fileKey string) string {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v
	}
	if path := strings.TrimSpace(os.Getenv(fileKey)); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read %s: %v", fileKey, err)
		}
		return string(data)
	}
	return ""
}

func envDuration(key string) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("parse %s: %v", key, err)
	}
	return d
}
