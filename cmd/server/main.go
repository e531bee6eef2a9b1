package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/iliyamo/evento/internal/config"
	"github.com/iliyamo/evento/internal/credential"
	"github.com/iliyamo/evento/internal/database"
	"github.com/iliyamo/evento/internal/handler"
	"github.com/iliyamo/evento/internal/handoff"
	"github.com/iliyamo/evento/internal/mail"
	"github.com/iliyamo/evento/internal/middleware"
	"github.com/iliyamo/evento/internal/model"
	"github.com/iliyamo/evento/internal/queue"
	"github.com/iliyamo/evento/internal/repository"
	"github.com/iliyamo/evento/internal/router"
	"github.com/iliyamo/evento/internal/service"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
	configFile := pflag.String("config", "", "optional YAML file with environment keys")
	addr := pflag.String("addr", "", "listen address (default :$APP_PORT)")
	migrate := pflag.Bool("migrate", false, "apply the schema before serving")
	promote := pflag.String("promote-staff", "", "grant the STAFF role to the user with this email and exit")
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
	log := config.NewLogger(cfg.Env, os.Stdout)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Error("open database", "dialect", cfg.Database.Dialect, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if *migrate || cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			log.Error("migrate", "err", err)
			os.Exit(1)
		}
		log.Info("schema applied", "dialect", cfg.Database.Dialect)
	}

	users := repository.NewUserRepo(db)
	if *promote != "" {
		if err := promoteStaff(ctx, users, *promote); err != nil {
			log.Error("promote staff", "email", *promote, "err", err)
			os.Exit(1)
		}
		log.Info("user promoted to staff", "email", *promote)
		return
	}

	rdb := config.NewRedisClient(ctx)
	if rdb == nil {
		log.Warn("redis unavailable: rate limiting and caching disabled, handoffs kept in memory")
	} else {
		defer rdb.Close()
	}

	mailer, err := newMailer(cfg, log)
	if err != nil {
		log.Error("mail transport", "err", err)
		os.Exit(1)
	}

	events := repository.NewEventRepo(db)
	groups := repository.NewGroupRepo(db)
	regs := repository.NewRegistrationRepo(db)
	ledger := service.NewLedger(repository.NewWalletRepo(db), cfg.Currency, log)
	audit := service.NewAuditLog(repository.NewDeliveryLogRepo(db), log)
	admission := service.NewAdmission(service.AdmissionDeps{
		DB:            db,
		Events:        events,
		Groups:        groups,
		Registrations: regs,
		Users:         users,
		Ledger:        ledger,
		Credentials:   credential.DefaultQR,
		Delivery:      service.NewDelivery(mailer, audit, cfg.Mail.Timeout, cfg.PublicBaseURL, log),
		Audit:         audit,
		Log:           log,
		Retries:       cfg.AdmissionRetries,
	})
	validator := service.NewEntryValidator(db, regs, events, groups, users, cfg.AdmissionRetries, log)

	cacheCfg := config.LoadCacheConfig()
	e := echo.New()
	router.Setup(e, log, cfg.AllowedOrigins)
	router.Register(e, router.Handlers{
		Health:       &handler.HealthHandler{DB: db, Redis: rdb},
		Auth:         handler.NewAuthHandler(cfg, users, repository.NewTokenRepo(db), newHandoffStore(rdb), log),
		Registration: handler.NewRegistrationHandler(admission, validator, cfg.PublicBaseURL, log),
		Wallet:       handler.NewWalletHandler(ledger, log),
		Event: &handler.EventHandler{
			Events:      events,
			Groups:      groups,
			Users:       users,
			Admission:   admission,
			Audit:       audit,
			Redis:       rdb,
			CachePrefix: cacheCfg.Prefix,
			Currency:    cfg.Currency,
			Log:         log,
		},
	}, router.Middleware{
		RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log),
		Cache:     middleware.NewRedisCache(cacheCfg, rdb, log),
	}, cfg.JWTSecret)

	listen := *addr
	if listen == "" {
		listen = ":" + cfg.Port
	}
	go func() {
		log.Info("listening", "addr", listen, "env", cfg.Env, "mail_transport", cfg.Mail.Transport)
		if err := e.Start(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
	log.Info("bye")
}

func newMailer(cfg config.Config, log *slog.Logger) (service.Mailer, error) {
	switch cfg.Mail.Transport {
	case "smtp":
		return mail.NewSMTPSender(cfg.Mail), nil
	case "amqp":
		return queue.NewPublisher(cfg.Mail.AMQPURL, cfg.Mail.Queue), nil
	case "log":
		return mail.LogSender{Log: log}, nil
	}
	return nil, fmt.Errorf("unsupported mail transport %q", cfg.Mail.Transport)
}

func newHandoffStore(rdb *redis.Client) handoff.Store {
	if rdb == nil {
		return handoff.NewMemoryStore()
	}
	return handoff.NewRedisStore(rdb, "")
}

func promoteStaff(ctx context.Context, users *repository.UserRepo, email string) error {
	u, err := users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return err
	}
	if u.IsStaff() {
		return nil
	}
	return users.SetRole(ctx, u.ID, model.RoleStaff)
}
