package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bridgecall/bridgecall/internal/config"
	"github.com/bridgecall/bridgecall/internal/notify"
	"github.com/bridgecall/bridgecall/internal/queue"
)

func main() {
	if err := run(); err != nil {
		slog.Error("mailer error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	if cfg.AMQPURL == "" {
		return fmt.Errorf("AMQP_URL is required for the mailer")
	}

	conn, err := queue.NewConnection(cfg.AMQPURL)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer conn.Close()

	mailer, err := notify.NewMailer(sender(cfg))
	if err != nil {
		return fmt.Errorf("create mailer: %w", err)
	}

	consumer := queue.NewConsumer(conn, mailer.Deliver, queue.DefaultConsumerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	slog.Info("mailer running", "smtp_addr", cfg.SMTPAddr, "debug", cfg.Debug)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("received signal, shutting down", "signal", sig.String())
	consumer.Stop()
	slog.Info("mailer stopped")
	return nil
}

// sender picks the delivery transport. Without an SMTP server configured the
// mailer logs messages instead of sending them, which is what you want in
// development.
func sender(cfg *config.Config) notify.SendFunc {
	if cfg.SMTPAddr == "" {
		slog.Warn("SMTP_ADDR not set, emails will only be logged")
		return func(to, subject, body string) error {
			slog.Info("email (not sent)", "to", to, "subject", subject)
			slog.Debug("email body", "to", to, "body", body)
			return nil
		}
	}
	return notify.SMTPSend(cfg.SMTPAddr, cfg.SMTPFrom)
}
