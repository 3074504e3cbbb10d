package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"flatbot/application"
	"flatbot/browser"
	"flatbot/captcha"
	"flatbot/config"
	"flatbot/mailbox"
	"flatbot/pipeline"
	"flatbot/processor"
	"flatbot/storage"
	"flatbot/utils"
)

func main() {
	cfg := config.Load()

	logger := utils.NewFileLogger(cfg.LogDir)
	defer logger.Close()
	if cfg.Debug {
		logger.EnableDebug()
	}

	logger.Info("[main] Starting flatbot")

	store, err := storage.NewPostgresStore(cfg.DSN(), cfg.MaxAttempts, logger)
	if err != nil {
		logger.Error("[main] Database connection failed: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	cookies, err := storage.NewCookieFileStore(cfg.CookiesDir)
	if err != nil {
		logger.Error("[main] Cookie store unavailable: %v", err)
		os.Exit(1)
	}

	var resolver *captcha.Resolver
	if cfg.CaptchaAPIKey != "" {
		resolver = captcha.NewResolver(captcha.NewTwoCaptcha(cfg.CaptchaAPIKey), cfg.CaptchaAttempts, logger)
	} else {
		logger.Warn("[main] No captcha API key configured, challenges will not be solved automatically")
	}

	generator := application.NewGenerator(cfg.TemplatePath, cfg.FallbackText, cfg.Applicant, logger)

	registry := processor.NewRegistry(
		processor.NewImmobilienScout24(cfg, generator, resolver, logger),
	)

	fetcher := mailbox.NewFetcher(mailbox.Options{
		Host:               cfg.MailHost,
		Port:               cfg.MailPort,
		User:               cfg.MailUser,
		Password:           cfg.MailPassword,
		SubjectFilter:      cfg.SubjectFilter,
		DeleteAfterExtract: cfg.DeleteAfterExtract,
	}, store, registry, logger)

	newSession := func(ctx context.Context) (*browser.Session, error) {
		return browser.NewSession(ctx, cfg, logger, cookies)
	}

	driver := pipeline.NewDriver(store, fetcher, registry, newSession, cfg.PollIdleInterval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := driver.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("[main] Pipeline stopped: %v", err)
		os.Exit(1)
	}
	logger.Info("[main] Shutdown complete")
}
