package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"nutriguard.org/internal/auth"
	"nutriguard.org/internal/httpapi"
	"nutriguard.org/internal/market"
	"nutriguard.org/internal/nutrition"
	"nutriguard.org/internal/obs"
	"nutriguard.org/internal/payments"
	"nutriguard.org/internal/ratelimit"
	"nutriguard.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()

	secret := os.Getenv("NUTRIGUARD_AUTH_SECRET")
	if secret == "" {
		log.Fatal("NUTRIGUARD_AUTH_SECRET is required")
	}

	tokenOpts := []auth.TokenOption{}
	if ttl := envDuration("NUTRIGUARD_TOKEN_TTL", 0); ttl > 0 {
		tokenOpts = append(tokenOpts, auth.WithTTL(ttl))
	}
	tokens, err := auth.NewTokenService([]byte(secret), tokenOpts...)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	// Persistence: PostgreSQL when a DSN is configured, in-memory otherwise.
	var (
		credStore   auth.CredentialStore
		analyses    nutrition.Store
		predictions nutrition.PredictionStore
		marketStore market.Store
		donations   payments.DonationStore
		ready       httpapi.ReadyProbe
		pgStore     *pg.Store
	)
	if dsn := os.Getenv("NUTRIGUARD_PG_DSN"); dsn != "" {
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		credStore = pgStore
		analyses = pgStore
		predictions = pgStore
		marketStore = pgStore
		donations = pgStore
		ready = httpapi.ReadyProbe{Check: pgStore.Ping}
	} else {
		log.Print("NUTRIGUARD_PG_DSN not set; using in-memory stores")
		credStore = auth.NewInMemory()
		mem := nutrition.NewInMemory()
		analyses = mem
		predictions = mem
		marketStore = market.NewInMemory()
		donations = payments.NewInMemory()
	}

	authOpts := []auth.Option{}
	if n := envInt("NUTRIGUARD_MIN_PASSWORD_LEN", 0); n > 0 {
		authOpts = append(authOpts, auth.WithMinPasswordLength(n))
	}
	authSvc, err := auth.NewService(credStore, tokens, authOpts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	rateLimit := envInt("NUTRIGUARD_RATE_LIMIT", 60)
	rateWindow := envDuration("NUTRIGUARD_RATE_WINDOW", time.Minute)

	analyzer := nutrition.NewAnalyzer(
		os.Getenv("OPENAI_API_KEY"),
		os.Getenv("OPENAI_BASE_URL"),
		os.Getenv("OPENAI_MODEL"),
	)
	predictor := nutrition.NewCropPredictor(
		os.Getenv("OPENAI_API_KEY"),
		os.Getenv("OPENAI_BASE_URL"),
		os.Getenv("OPENAI_MODEL"),
	)

	gateway := payments.NewClient(
		os.Getenv("INTASEND_PUBLIC_KEY"),
		os.Getenv("INTASEND_SECRET_KEY"),
		os.Getenv("INTASEND_ENVIRONMENT"),
	)

	api := httpapi.New(httpapi.Config{
		Version:         version,
		Auth:            authSvc,
		Tokens:          tokens,
		Analyzer:        analyzer,
		Predictor:       predictor,
		Analyses:        analyses,
		Predictions:     predictions,
		Market:          market.NewService(marketStore),
		Donations:       payments.NewService(gateway, donations),
		OriginLimiter:   ratelimit.New(rateLimit, rateWindow),
		IdentityLimiter: ratelimit.New(rateLimit, rateWindow),
		Ready:           ready,
	})

	addr := os.Getenv("NUTRIGUARD_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second, // model calls can be slow
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting nutriguard-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return val
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return val
}
