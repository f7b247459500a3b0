package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"VPN-MiniApp/config"
	"VPN-MiniApp/internal/admin"
	"VPN-MiniApp/internal/api"
	"VPN-MiniApp/internal/auth"
	"VPN-MiniApp/internal/bot"
	"VPN-MiniApp/internal/bybit"
	"VPN-MiniApp/internal/credential"
	"VPN-MiniApp/internal/db"
	"VPN-MiniApp/internal/logger"
	"VPN-MiniApp/internal/memstore"
	"VPN-MiniApp/internal/services"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API, Telegram bot and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

type storage struct {
	store     services.Store
	ping      func(ctx context.Context) error
	dsn       string
	backupDir string
}

type job struct {
	spec string
	name string
	run  func()
}

func openStorage(ctx context.Context, cfg *config.AppConfig) (*storage, error) {
	if cfg.StorageDriver == config.StorageMemory {
		mem := memstore.New()
		for _, p := range db.DefaultPackages() {
			mem.AddPackage(p)
		}
		logger.Degraded("storage", "in-memory store, data is lost on restart")
		return &storage{store: mem}, nil
	}
	gdb, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}
	store := db.NewStore(gdb)
	if _, err := store.SeedPackages(ctx, db.DefaultPackages()); err != nil {
		return nil, err
	}
	return &storage{store: store, ping: store.Ping, dsn: cfg.DatabaseURL, backupDir: cfg.BackupDir}, nil
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	defer logger.NotifyOnPanic("serve")

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	var (
		notifier services.Notifier = services.NopNotifier{}
		botapi   *tgbotapi.BotAPI
		launcher *bot.Bot
	)
	botapi, err = tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logger.Error("telegram bot unavailable", zap.Error(err))
	} else {
		logger.InitNotifier(botapi, cfg.AdminTelegramID)
		launcher = bot.New(botapi, st.store, cfg.WebAppURL, cfg.AdminTelegramID)
		notifier = launcher
	}

	gateway := bybit.NewClient(bybit.Config{
		BaseURL:    cfg.BybitAPIURL,
		APIKey:     cfg.BybitAPIKey,
		APISecret:  cfg.BybitAPISecret,
		RecvWindow: cfg.BybitRecvWindow,
		Timeout:    cfg.BybitTimeout,
		OrderTTL:   cfg.OrderTTL,
	})
	if !gateway.Configured() {
		if cfg.DemoPayments {
			logger.Degraded("payments", "Bybit keys are missing, orders are settled in demo mode")
		} else {
			logger.Warn("Bybit keys are missing, crypto orders will fail with 503")
		}
	}
	if cfg.BybitWebhookSecret == "" {
		logger.Warn("BYBIT_WEBHOOK_SECRET is empty, every webhook will be rejected")
	}

	sessions, err := auth.NewSessionIssuer(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return err
	}
	issuer := services.NewSubscriptionIssuer(st.store, credential.NewGenerator(cfg.VPNServer, cfg.VPNDNS), notifier)
	payments := services.NewPaymentService(st.store, gateway, issuer, services.PaymentConfig{
		Currency:     cfg.PaymentCurrency,
		OrderTTL:     cfg.OrderTTL,
		CallbackURL:  cfg.PublicURL + "/payments/webhook",
		DemoPayments: cfg.DemoPayments,
		DemoDelay:    cfg.DemoPaymentDelay,
	})
	sweeper := services.NewSweeper(st.store, issuer, notifier)

	limiter := api.NewRateLimiter(5, 20, 3*time.Minute)
	go limiter.Run(ctx)
	router := api.NewRouter(api.Deps{
		Login:    services.NewLoginService(cfg.BotToken, cfg.InitDataMaxAge, st.store, sessions),
		Sessions: sessions,
		Store:    st.store,
		Payments: payments,
		Webhook:  services.NewWebhookProcessor(cfg.BybitWebhookSecret, st.store, payments),
		Wallet:   services.NewWalletService(st.store, cfg.WalletMaxCredit),
		Limiter:  limiter,
		Ping:     st.ping,
	})

	c, err := scheduleJobs(ctx, sweeper, st)
	if err != nil {
		return err
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	if launcher != nil {
		go bot.Start(ctx, botapi, launcher)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// scheduleJobs регистрирует фоновые задачи. Бэкап: только для Postgres.
func scheduleJobs(ctx context.Context, sweeper *services.Sweeper, st *storage) (*cron.Cron, error) {
	c := cron.New()
	jobs := []job{
		{"@every 1m", "expire pending orders", func() {
			if _, err := sweeper.ExpirePendingOrders(ctx); err != nil {
				logger.Error("expire pending orders", zap.Error(err))
			}
		}},
		{"@every 5m", "reconcile subscriptions", func() {
			if _, err := sweeper.ReconcileSubscriptions(ctx); err != nil {
				logger.Error("reconcile subscriptions", zap.Error(err))
			}
		}},
		// Отключение закончившихся подписок (каждый день в 03:30)
		{"30 3 * * *", "disable expired subscriptions", func() {
			if _, err := sweeper.DisableExpiredSubscriptions(ctx); err != nil {
				logger.Error("disable expired subscriptions", zap.Error(err))
			}
		}},
		// Уведомления о скором окончании подписки (раз в сутки в 10:00)
		{"0 10 * * *", "notify expiring subscriptions", func() {
			if _, err := sweeper.NotifyExpiringSubscriptions(ctx, 3); err != nil {
				logger.Error("notify expiring subscriptions", zap.Error(err))
			}
		}},
	}
	if st.dsn != "" {
		backuper := admin.NewBackuper(st.backupDir, st.dsn, 31*24*time.Hour)
		// Автоматический бэкап БД раз в сутки
		jobs = append(jobs, job{"0 3 * * *", "database backup", func() { backuper.Run(ctx) }})
	}

	for _, j := range jobs {
		if _, err := c.AddFunc(j.spec, func() {
			defer logger.NotifyOnPanic(j.name)
			j.run()
		}); err != nil {
			return nil, err
		}
	}
	return c, nil
}
