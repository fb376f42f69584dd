// Command repostd runs the repost automation service: it watches
// subscribed channels for new content, downloads published videos into
// a bounded cache and re-uploads them to the configured destination,
// exposing the whole pipeline over an HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/repost/internal/api"
	"github.com/GoCodeAlone/repost/internal/config"
	"github.com/GoCodeAlone/repost/internal/eventbus"
	"github.com/GoCodeAlone/repost/internal/logging"
	"github.com/GoCodeAlone/repost/internal/model"
	"github.com/GoCodeAlone/repost/internal/scheduler"
	"github.com/GoCodeAlone/repost/internal/store"
	"github.com/GoCodeAlone/repost/internal/subscriber"
	"github.com/GoCodeAlone/repost/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var debug bool
	cmd := &cobra.Command{
		Use:   "repostd",
		Short: "Repost automation service",
		Long: "repostd watches subscribed channels, downloads newly published\n" +
			"videos and re-uploads them to the configured destination.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func run(ctx context.Context, configPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(slogger)
	logger := logging.Slog{L: slogger}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	downloads := store.NewDownloadTasks(svc)
	uploads := store.NewUploadTasks(svc)
	hubs := store.NewHubs(svc)
	subs := store.NewSubscriptions(svc)
	feeds := store.NewFeedXMLs(svc)

	bus := eventbus.New(eventbus.WithLogger(slogger))

	if err := os.MkdirAll(cfg.Cache.Path, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	policy := worker.CachePolicy{
		Path:          cfg.Cache.Path,
		MaxSize:       cfg.Cache.MaxSize,
		CheckInterval: time.Duration(cfg.Cache.CheckIntervalSeconds) * time.Second,
	}

	var feedMapper func(*model.Feed) model.Item
	if cfg.Automation.EnableAutoDownload {
		autoWait := time.Duration(cfg.Download.AutoWaitSeconds) * time.Second
		feedMapper = func(feed *model.Feed) model.Item {
			task := subscriber.DownloadTaskFromFeed(feed)
			task.Path = cfg.Cache.Path
			if autoWait > 0 {
				task.WaitTime = time.Now().Add(autoWait).Unix()
			}
			return task
		}
	}

	downloadSched, err := scheduler.New(scheduler.Config{
		Name:          "download",
		MaxConcurrent: cfg.Download.MaxConcurrent,
		RetryDelay:    cfg.Download.RetryDelay(),
		AutoRetry:     cfg.Download.AutoRetry,
		FeedMapper:    feedMapper,
	}, downloads, bus, worker.NewDownloadFactory(policy, logger), scheduler.DownloadTopics(), logger)
	if err != nil {
		return err
	}
	uploadSched, err := scheduler.New(scheduler.Config{
		Name:          "upload",
		MaxConcurrent: cfg.Upload.MaxConcurrent,
		RetryDelay:    cfg.Upload.RetryDelay(),
		AutoRetry:     cfg.Upload.AutoRetry,
	}, uploads, bus, worker.NewUploadFactory(cfg.Uploader.Command, cfg.Uploader.Args, logger), scheduler.UploadTopics(), logger)
	if err != nil {
		return err
	}
	pair := &scheduler.Pair{Download: downloadSched, Upload: uploadSched}

	if cfg.Automation.EnableAutoUpload {
		bindAutoUpload(bus, cfg.Uploader.Destination,
			time.Duration(cfg.Upload.AutoWaitSeconds)*time.Second)
	}

	keyPassphrase := cfg.WebSub.SecretKey
	if keyPassphrase == "" {
		keyPassphrase, err = config.NewSubscriptionToken()
		if err != nil {
			return err
		}
		logger.Warn("websub.secret_key not set, using an ephemeral key; " +
			"subscription secrets will not survive a restart")
	}
	verifyToken, err := config.NewSubscriptionToken()
	if err != nil {
		return err
	}
	websub := subscriber.NewWebSub(subscriber.Config{
		CallbackURL:        cfg.Automation.CallbackURL,
		VerifyToken:        verifyToken,
		ValidationInterval: time.Duration(cfg.Automation.ValidationIntervalSeconds) * time.Second,
	}, hubs, subs, feeds, model.NewSecretKey(keyPassphrase), bus, logger)
	rss := subscriber.NewRSS(websub, logger)

	if err := pair.Load(ctx); err != nil {
		return err
	}
	schedDone := make(chan error, 1)
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go func() { schedDone <- pair.Run(runCtx) }()

	if cfg.Automation.EnableAutoSubscription {
		if err := rss.Start(ctx); err != nil {
			return err
		}
	}

	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		applyCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		applyDirection(applyCtx, downloadSched, next.Download, logger)
		applyDirection(applyCtx, uploadSched, next.Upload, logger)
	}, logger)
	if err != nil {
		return err
	}
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Error("config watcher stopped", "error", err)
		}
	}()

	server := &http.Server{
		Addr: cfg.Server.Listen,
		Handler: api.New(api.Deps{
			AppToken:      cfg.Server.AppToken,
			Bus:           bus,
			Downloads:     downloads,
			Uploads:       uploads,
			DownloadSched: downloadSched,
			UploadSched:   uploadSched,
			WebSub:        websub,
			RSS:           rss,
			Hubs:          hubs,
			Subs:          subs,
			Logger:        logger,
		}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverDone := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Listen)
		serverDone <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverDone:
		return fmt.Errorf("http server: %w", err)
	case err := <-schedDone:
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	if cfg.Automation.EnableAutoSubscription {
		if err := rss.Stop(shutdownCtx); err != nil {
			logger.Warn("rss poller shutdown", "error", err)
		}
	}
	cancelRun()
	if err := pair.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler shutdown", "error", err)
	}
	if err := bus.Close(shutdownCtx); err != nil {
		logger.Warn("event bus shutdown", "error", err)
	}
	saveLiveSettings(cfg, configPath, downloadSched, uploadSched, logger)
	return nil
}

// bindAutoUpload chains the pipeline: every completed download spawns an
// upload task for the same artifact.
func bindAutoUpload(bus *eventbus.Bus, destination string, wait time.Duration) {
	bus.Bind(eventbus.TopicDownloadComplete, func(ctx context.Context, payload any) error {
		download, ok := payload.(*model.DownloadTask)
		if !ok {
			return fmt.Errorf("%w on %s", scheduler.ErrWrongPayload, eventbus.TopicDownloadComplete)
		}
		upload := &model.UploadTask{Destination: destination}
		upload.Name = download.Name
		upload.Extension = download.Extension
		upload.Path = download.Path
		upload.Priority = model.PriorityDefault
		if wait > 0 {
			upload.WaitTime = time.Now().Add(wait).Unix()
		}
		bus.Emit(ctx, eventbus.TopicNewUpload, upload)
		return nil
	})
}

// applyDirection pushes reloaded live-tunable settings into a scheduler.
func applyDirection(ctx context.Context, sched *scheduler.Scheduler, next config.Direction, logger logging.Logger) {
	if next.MaxConcurrent != sched.Concurrent() {
		if err := sched.SetConcurrent(ctx, next.MaxConcurrent); err != nil {
			logger.Error("applying max_concurrent", "error", err)
		}
	}
	sched.SetRetryDelay(next.RetryDelay())
}

// saveLiveSettings writes API-tuned scheduler knobs back to the config
// file so they survive a restart.
func saveLiveSettings(cfg *config.Config, path string, download, upload *scheduler.Scheduler, logger logging.Logger) {
	cfg.Download.MaxConcurrent = download.Concurrent()
	cfg.Download.RetryDelayMinutes = int(download.RetryDelay() / time.Minute)
	cfg.Upload.MaxConcurrent = upload.Concurrent()
	cfg.Upload.RetryDelayMinutes = int(upload.RetryDelay() / time.Minute)
	if err := cfg.Save(path); err != nil {
		logger.Warn("persisting live settings", "error", err)
	}
}
