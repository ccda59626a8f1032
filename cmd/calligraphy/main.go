package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"calligraphy/internal/domain"
	"calligraphy/internal/infra"
	"calligraphy/internal/jobapi"
	"calligraphy/internal/layout"
	"calligraphy/internal/pipeline"
	"calligraphy/internal/session"
	"calligraphy/internal/storage"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	outDir := flag.String("out", cfg.DownloadDir, "directory for the generated downloads")
	bundle := flag.Bool("zip", false, "write both variants into one zip archive")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-out dir] [-zip] <text>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	text := strings.Join(flag.Args(), " ")

	logger := infra.NewLogger(cfg.AppEnv)
	if err := run(cfg, &logger, text, *outDir, *bundle); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", domain.ErrorCode(err), err)
		os.Exit(1)
	}
}

func run(cfg *infra.Config, logger *infra.Logger, text, outDir string, bundle bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := jobapi.NewClient(jobapi.Options{
		BaseURL:        cfg.BackendBaseURL,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
	sess := session.New(client, session.Options{
		PollInterval: cfg.PollInterval,
		Logger:       logger,
		OnStatus: func(u domain.StatusUpdate) {
			fmt.Printf("[%s] %s\n", u.SeenAt.Format(time.TimeOnly), u.Text())
		},
	})

	jobID, err := sess.Submit(ctx, text)
	if err != nil {
		return err
	}
	fmt.Printf("job %s submitted\n", jobID)

	// The poll loop keeps its own context so an interrupt can be observed
	// through the backend's cancelled status instead of being cut short.
	waitCtx, cancelWait := context.WithCancel(context.Background())
	defer cancelWait()
	go func() {
		select {
		case <-ctx.Done():
		case <-waitCtx.Done():
			return
		}
		fmt.Println("interrupting...")
		intCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer cancel()
		if err := sess.Interrupt(intCtx); err != nil && !errors.Is(err, domain.ErrNoActiveJob) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", domain.ErrorCode(err), err)
		}
	}()

	job, err := sess.Wait(waitCtx)
	if err != nil {
		return err
	}
	cancelWait()

	store, err := storage.NewFileStore(outDir)
	if err != nil {
		return err
	}
	exporter := pipeline.New(pipeline.Options{
		Source:      client,
		Store:       store,
		Grid:        layout.Grid{PerRow: cfg.ImagesPerRow, Size: cfg.ImageSize, Margin: cfg.ImageMargin},
		Threshold:   uint8(cfg.BackgroundThresh),
		Background:  cfg.BackgroundColor,
		BaseName:    cfg.DownloadBaseName,
		Concurrency: cfg.LoadConcurrency,
		Logger:      logger,
	})
	for _, r := range job.Result {
		if !r.Success {
			fmt.Printf("  %s: not generated, using placeholder\n", r.Word)
		}
	}
	paths, err := exporter.Export(ctx, job.Result, bundle)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}
