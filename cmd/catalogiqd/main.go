package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/colorcorrect"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/config"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/daemon"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/dispatch"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/feed"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/logging"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/notifications"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/publish"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/services/vision"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/services/wordpress"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/task"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := task.Open(cfg)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	notifier := notifications.NewService(cfg)

	visionClient := vision.NewClient(vision.Config{
		APIKey:         cfg.Vision.APIKey,
		BaseURL:        cfg.Vision.BaseURL,
		TimeoutSeconds: cfg.Vision.TimeoutSeconds,
	})
	wordpressClient := wordpress.NewClient(wordpress.Config{
		URL:            cfg.WordPress.URL,
		Username:       cfg.WordPress.Username,
		Password:       cfg.WordPress.Password,
		TimeoutSeconds: cfg.WordPress.TimeoutSeconds,
	})

	listener := feed.NewListener(cfg, store, logger)
	dispatcher := dispatch.New(cfg, store, logger, notifier,
		colorcorrect.New(cfg, visionClient, logger),
		publish.New(cfg, wordpressClient, logger),
	)

	d, err := daemon.New(cfg, store, logger, listener, dispatcher)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-ctx.Done()
	logger.Info("catalogiqd shutting down")
	d.Stop()
	return nil
}
