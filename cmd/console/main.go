package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"calligraphy/internal/console"
	"calligraphy/internal/domain"
	"calligraphy/internal/infra"
	"calligraphy/internal/jobapi"
	"calligraphy/internal/layout"
	"calligraphy/internal/pipeline"
	"calligraphy/internal/session"
	"calligraphy/internal/storage"
)

func main() {
	// Muat .env (opsional)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	client := jobapi.NewClient(jobapi.Options{
		BaseURL:        cfg.BackendBaseURL,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         &logger,
	})
	sess := session.New(client, session.Options{
		PollInterval: cfg.PollInterval,
		Logger:       &logger,
		OnStatus: func(u domain.StatusUpdate) {
			logger.Debug().Str("job_id", u.JobID).Str("status", string(u.Status)).Msg(u.Text())
		},
	})

	store, err := storage.NewFileStore(cfg.DownloadDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("console: download dir unavailable")
	}
	exporter := pipeline.New(pipeline.Options{
		Source:      client,
		Store:       store,
		Grid:        layout.Grid{PerRow: cfg.ImagesPerRow, Size: cfg.ImageSize, Margin: cfg.ImageMargin},
		Threshold:   uint8(cfg.BackgroundThresh),
		Background:  cfg.BackgroundColor,
		BaseName:    cfg.DownloadBaseName,
		Concurrency: cfg.LoadConcurrency,
		Logger:      &logger,
	})

	tracker := console.NewTracker(sess, exporter, console.TrackerOptions{
		DownloadWindow: cfg.DownloadWindow,
		Logger:         &logger,
	})
	defer tracker.Close()

	app, err := console.NewApp(tracker, logger, cfg.ImageSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("console: placeholder encode failed")
	}
	router := console.NewRouter(app, console.RouterOptions{
		AllowedOrigins:  cfg.AllowedOrigins,
		SubmitRateLimit: cfg.SubmitRateLimit,
	})
	server := infra.NewHTTPServer(cfg, router)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("backend", client.BaseURL()).Msgf("console listening on %s", server.Addr())
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("http server failed")
	}

	if id := sess.JobID(); id != "" {
		interruptCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		if err := sess.Interrupt(interruptCtx); err != nil {
			logger.Warn().Err(err).Str("job_id", id).Msg("console: interrupt on shutdown failed")
		}
		cancel()
	}
	logger.Info().Msg("console stopped")
}
