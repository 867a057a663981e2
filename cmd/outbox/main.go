package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/config"
	"github.com/lalithlochan/nudge/internal/observ"
	"github.com/lalithlochan/nudge/internal/outbox"
	"github.com/lalithlochan/nudge/internal/resilience"
	"github.com/lalithlochan/nudge/internal/senders"
	"github.com/lalithlochan/nudge/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting nudge outbox sender", zap.String("env", cfg.Env))

	ctx := context.Background()

	database, err := store.New(ctx, store.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := store.NewRepository(database, logger)

	emailSender, err := senders.NewEmailSender(ctx, senders.EmailConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create email sender: %w", err)
	}

	var multiSender *senders.MultiSender
	chatSender, err := senders.NewChatSender(ctx, senders.ChatConfig{
		Region: cfg.AWSRegion,
	}, logger)
	if err != nil {
		logger.Warn("chat sender unavailable, chat deliveries will fail over to logging",
			zap.Error(err),
		)
		multiSender = senders.NewMultiSender(logger, emailSender, senders.NewLogSender(logger))
	} else {
		multiSender = senders.NewMultiSender(logger, emailSender, chatSender)
	}

	breaker := resilience.New(resilience.DefaultConfig("outbox-send"), logger)

	sender := outbox.New(repo, multiSender, breaker, outbox.Config{
		PollInterval: cfg.OutboxPollInterval,
		MaxAttempts:  cfg.OutboxMaxAttempts,
	}, logger)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		sender.Run(runCtx)
		close(done)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	cancel()
	<-done

	return nil
}
