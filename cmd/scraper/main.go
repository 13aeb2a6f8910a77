package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/Elon-F/Discord-scraper/app/config"
	"github.com/Elon-F/Discord-scraper/app/discord"
	"github.com/Elon-F/Discord-scraper/app/scraper"
	"github.com/Elon-F/Discord-scraper/app/storage"
	"github.com/Elon-F/Discord-scraper/pkg/logger"
)

var Revision = "dev"

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.Debug)
	log.Info("starting scraper", "revision", Revision, "channels", len(cfg.TargetChannels))

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:     cfg.SentryDSN,
			Release: Revision,
		})
		if err != nil {
			log.Error("initializing sentry", "error", err)
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.NewMongo(ctx, cfg.MongoHost, cfg.MongoPort)
	if err != nil {
		log.Error("connecting to mongodb", "error", err)
		sentry.CaptureException(err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(context.Background()); err != nil {
			log.Error("closing mongodb connection", "error", err)
		}
	}()

	scr := &scraper.Scraper{
		Log:        log,
		Store:      db,
		Channels:   cfg.TargetChannels,
		FetchLimit: cfg.FetchLimit,
	}

	// a broken store means nothing gets recorded, so the whole process goes down
	var storeDown atomic.Bool
	scr.OnStorageError = func(err error) {
		if storeDown.CompareAndSwap(false, true) {
			log.Error("message store is unhealthy, shutting down", "error", err)
			sentry.CaptureException(err)
			cancel()
		}
	}

	client := &discord.Client{
		Log:        log,
		Token:      cfg.DiscordToken,
		Bot:        cfg.DiscordBot,
		WorkersNum: cfg.WorkersNum,
		Handler:    scr,
		OnResume: func() {
			scr.CatchUp(ctx)
		},
	}
	scr.History = client

	err = client.Start(ctx)
	if err != nil {
		log.Error("starting discord client", "error", err)
		sentry.CaptureException(err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Error("closing discord session", "error", err)
		}
	}()

	go scr.Run(ctx, cfg.RescanInterval)

	<-ctx.Done()
	log.Info("stopping scraper")

	client.Wait()

	if storeDown.Load() {
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}
