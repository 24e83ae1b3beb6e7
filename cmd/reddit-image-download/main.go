package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"reddit-image-download/internal/censor"
	"reddit-image-download/internal/config"
	"reddit-image-download/internal/database"
	"reddit-image-download/internal/filesys"
	"reddit-image-download/internal/harvest"
	"reddit-image-download/internal/logging"
	"reddit-image-download/internal/mirror"
	"reddit-image-download/internal/reconcile"
	"reddit-image-download/internal/render"
	"reddit-image-download/internal/resolve"
)

var (
	// Version will be set during build
	Version = "dev"

	configPath = flag.String("config", "", "Path to config file (default: reddit_image_download.yaml in the user config directory)")
	schedule   = flag.String("schedule", "", "Cron schedule to keep running on (default: run once, or the schedule config key)")
	version    = flag.Bool("version", false, "Print version information")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [credentials file]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *version {
		fmt.Printf("reddit_image_download version %s\n", Version)
		return
	}
	if flag.NArg() > 1 {
		usage()
		os.Exit(2)
	}
	credentialsPath := "auth.txt"
	if flag.NArg() == 1 {
		credentialsPath = flag.Arg(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *schedule != "" {
		cfg.Schedule = *schedule
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting reddit_image_download",
		zap.String("version", Version),
		zap.String("config", cfg.File),
		zap.String("images", cfg.Paths.Images),
		zap.String("database", cfg.Paths.Database))

	if err := filesys.EnsureDir(cfg.Paths.Images); err != nil {
		logger.Fatal("Failed to create images directory", zap.Error(err))
	}

	db, err := database.Open(cfg.Paths.Database, database.DefaultConfig(), logger.Named("database"))
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := newSource(ctx, cfg, credentialsPath, logger.Named("harvest"))
	if err != nil {
		logger.Fatal("Failed to set up feed", zap.Error(err))
	}

	mir, err := mirror.New(cfg.Mirror, logger.Named("mirror"))
	if err != nil {
		logger.Fatal("Failed to set up mirror", zap.Error(err))
	}

	renderer := render.New(cfg.Paths.Images, cfg.Processing, cfg.TitleFont, cfg.TimestampFont, logger.Named("render"))

	driver := reconcile.NewDriver(reconcile.Deps{
		Store:    db,
		Source:   source,
		Filter:   harvest.NewFilter(cfg.Allow.Over18, cfg.Limits.Age, nil, logger.Named("filter")),
		Censor:   censor.New(cfg.TitleFilter, cfg.UserFilter, cfg.SubredditFilter, nil, logger.Named("censor")),
		Resolver: resolve.NewResolver(resolve.NewClient(), logger.Named("resolve")),
		Renderer: renderer,
		Mirror:   mir,
	}, reconcile.Options{
		Dir:          cfg.Paths.Images,
		PostsLimit:   cfg.Limits.Posts,
		ImagesLimit:  cfg.Limits.Images,
		AgeDays:      cfg.Limits.Age,
		PurgeAgeDays: cfg.PurgeAgeDays(),
		RateLimit:    time.Duration(cfg.RateLimit.Seconds * float64(time.Second)),
	}, logger)

	if cfg.Schedule == "" {
		if _, err := driver.Run(ctx); err != nil {
			logger.Error("Run failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	svc, err := reconcile.NewService(driver, cfg.Schedule, logger)
	if err != nil {
		logger.Fatal("Failed to schedule runs", zap.Error(err))
	}
	logger.Info("running on schedule", zap.String("schedule", cfg.Schedule))
	svc.Start()
	<-ctx.Done()
	svc.Stop()
}

func newSource(ctx context.Context, cfg *config.Config, credentialsPath string, logger *zap.Logger) (harvest.Source, error) {
	if cfg.Feed.Kind == "rss" {
		return harvest.NewRSS(cfg.Feed.URL, resolve.NewClient(), logger), nil
	}
	creds, err := config.ReadCredentials(credentialsPath)
	if err != nil {
		return nil, err
	}
	return harvest.NewReddit(ctx, creds, cfg.Multireddit, harvest.RedditOptions{}, logger), nil
}
