// cmd/api/main.go
package main

import (
	"net/http"
	"os"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/bperks/internal/auth"
	"github.com/briangreenhill/bperks/internal/config"
	"github.com/briangreenhill/bperks/internal/http/routes"
	"github.com/briangreenhill/bperks/internal/rewards"
	"github.com/briangreenhill/bperks/internal/storage"
)

func main() {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("svc", "api").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.ValidateServer(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}

	// DB
	store, err := storage.Open(cfg.Server.DBDriver, cfg.Server.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Server.DBDriver).Msg("db error")
	}
	defer store.Close() //nolint:errcheck

	secret := []byte(cfg.Server.Secret)
	svc := rewards.New(store, auth.ClaimCodes{Secret: secret}, rewards.WithLogger(logger))

	// Sessions
	sess := scs.New()
	sess.Lifetime = 12 * time.Hour
	sess.Cookie.HttpOnly = true
	sess.Cookie.SameSite = http.SameSiteLaxMode
	sess.Cookie.Secure = cfg.Server.SecureCookies

	// Background jobs
	tasks := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Server.RedisAddr})
	defer tasks.Close() //nolint:errcheck

	s := routes.New(routes.ServerOptions{
		Sess:     sess,
		Svc:      svc,
		Tokens:   auth.Tokens{Secret: secret},
		TokenTTL: cfg.Server.TokenTTL,
		Tasks:    tasks,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info().Str("port", cfg.Server.Port).Str("driver", cfg.Server.DBDriver).Msg("starting api")
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
