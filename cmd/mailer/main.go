// Command mailer drains the ticket delivery queue that the API server
// fills when MAIL_TRANSPORT=amqp, sends each ticket over SMTP and writes
// the outcome to the delivery audit log.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/iliyamo/evento/internal/config"
	"github.com/iliyamo/evento/internal/database"
	"github.com/iliyamo/evento/internal/mail"
	"github.com/iliyamo/evento/internal/queue"
	"github.com/iliyamo/evento/internal/repository"
	"github.com/iliyamo/evento/internal/service"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
	configFile := pflag.String("config", "", "optional YAML file with environment keys")
	prefetch := pflag.Int("prefetch", 0, "unacked deliveries per consumer (0 keeps the default)")
	dryRun := pflag.Bool("dry-run", false, "log messages instead of sending them over SMTP")
	pflag.Parse()

	if err := config.LoadFiles(*envFile, *configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg.Env, os.Stdout).With("component", "mailer")
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Error("open database", "dialect", cfg.Database.Dialect, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	var sender queue.Sender = mail.NewSMTPSender(cfg.Mail)
	if *dryRun {
		sender = mail.LogSender{Log: log}
	}
	consumer := &queue.Consumer{
		URL:      cfg.Mail.AMQPURL,
		Queue:    cfg.Mail.Queue,
		Sender:   sender,
		Recorder: service.NewAuditLog(repository.NewDeliveryLogRepo(db), log),
		Log:      log,
		Timeout:  cfg.Mail.Timeout,
		Prefetch: *prefetch,
	}

	log.Info("consuming", "queue", cfg.Mail.Queue, "smtp_host", cfg.Mail.SMTPHost, "dry_run", *dryRun)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer stopped", "err", err)
		os.Exit(1)
	}
	log.Info("bye")
}
