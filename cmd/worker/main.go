package main

import (
	"os"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/bperks/internal/auth"
	"github.com/briangreenhill/bperks/internal/config"
	"github.com/briangreenhill/bperks/internal/email"
	"github.com/briangreenhill/bperks/internal/jobs"
	"github.com/briangreenhill/bperks/internal/rewards"
	"github.com/briangreenhill/bperks/internal/storage"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("svc", "worker").Logger()

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

	store, err := storage.Open(cfg.Server.DBDriver, cfg.Server.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer store.Close() //nolint:errcheck

	svc := rewards.New(store, auth.ClaimCodes{Secret: []byte(cfg.Server.Secret)}, rewards.WithLogger(logger))

	// Without an SMTP relay, mail goes to the log.
	var sender email.Sender = email.StdoutSender{Log: logger}
	if cfg.Server.SMTPAddr != "" {
		sender = email.NewSMTPSender(cfg.Server.SMTPAddr, cfg.Server.MailFrom)
	}

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.Server.RedisAddr}, asynq.Config{
		Concurrency:    8,
		StrictPriority: false,
		Queues: map[string]int{
			jobs.QueueNotify: 10, // higher priority
			"default":        5,
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(jobs.TaskNotifyNews, jobs.HandleNotifyNews(svc, sender, logger))

	logger.Info().Str("redis", cfg.Server.RedisAddr).Msg("worker running")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped")
	}
}
