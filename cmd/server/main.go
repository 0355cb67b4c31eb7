package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	activationservice "carelink/backend/internal/activation/service"
	"carelink/backend/internal/clock"
	"carelink/backend/internal/config"
	"carelink/backend/internal/db"
	"carelink/backend/internal/security"
	sessionservice "carelink/backend/internal/session/service"
	telemetryotel "carelink/backend/internal/telemetry/otel"
)

// App aggregates the wired services. Transport layers (mobile API gateway,
// internal admin) register against this.
type App struct {
	Activation *activationservice.Service
	Sessions   *sessionservice.Service
}

// Ready reports whether all services are wired.
func (a *App) Ready() bool { return a.Activation != nil && a.Sessions != nil }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, "carelink-auth", cfg.OTLPInsecure)
	if err != nil {
		logger.Fatal("otel init failed", zap.Error(err))
	}
	providers.SetGlobal()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database open failed", zap.Error(err))
	}
	defer database.Close()

	signer, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		logger.Fatal("jwt private key", zap.Error(err))
	}
	publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		logger.Fatal("jwt public key", zap.Error(err))
	}
	clk := clock.Real{}
	tokens := security.NewTokenProvider(signer, publicKey,
		cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL(), clk)
	hasher := security.NewPinHasher(security.PinParams{
		Algorithm: "scrypt",
		N:         cfg.PinScryptN,
		R:         cfg.PinScryptR,
		P:         cfg.PinScryptP,
		KeyLen:    cfg.PinScryptKeyLen,
	})
	emitter := telemetryotel.NewEventEmitter(providers.LoggerProvider)

	app := &App{
		Activation: activationservice.NewService(
			&activationservice.SQLStore{DB: database},
			hasher, tokens, clk, logger.Named("activation"), emitter,
			activationservice.Config{
				TokenTTL:      cfg.ActivationTTL(),
				MaxAttempts:   cfg.ActivationMaxAttempts,
				AttemptWindow: cfg.AttemptWindow(),
			}),
		Sessions: sessionservice.NewService(
			&sessionservice.SQLStore{DB: database},
			tokens, clk, logger.Named("session"), emitter, cfg.TouchInterval()),
	}
	logger.Info("services initialized",
		zap.Bool("ready", app.Ready()),
		zap.String("env", cfg.Env),
		zap.String("issuer", cfg.JWTIssuer))

	<-ctx.Done()
	logger.Info("shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := providers.Shutdown(drainCtx); err != nil {
		logger.Warn("otel shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
