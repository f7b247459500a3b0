package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type AppConfig struct {
	BotToken        string
	AdminTelegramID int64
	WebAppURL       string
	PublicURL       string
	HTTPAddr        string

	JWTSecret      string
	SessionTTL     time.Duration
	InitDataMaxAge time.Duration

	StorageDriver string
	DatabaseURL   string
	BackupDir     string

	BybitAPIURL        string
	BybitAPIKey        string
	BybitAPISecret     string
	BybitRecvWindow    int
	BybitWebhookSecret string
	BybitTimeout       time.Duration

	PaymentCurrency  string
	OrderTTL         time.Duration
	DemoPayments     bool
	DemoPaymentDelay time.Duration
	WalletMaxCredit  decimal.Decimal

	VPNServer string
	VPNDNS    []string
}

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

var AppCfg AppConfig

// LoadConfig читает .env (если есть) и переменные окружения.
func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, relying on environment variables")
	}

	cfg := AppConfig{
		BotToken:  os.Getenv("BOT_TOKEN"),
		WebAppURL: os.Getenv("WEBAPP_URL"),
		PublicURL: strings.TrimRight(os.Getenv("PUBLIC_URL"), "/"),
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		StorageDriver: getEnv("STORAGE_DRIVER", StoragePostgres),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		BackupDir:     getEnv("BACKUP_DIR", "backups"),

		BybitAPIURL:        getEnv("BYBIT_API_URL", "https://api.bybit.com"),
		BybitAPIKey:        os.Getenv("BYBIT_API_KEY"),
		BybitAPISecret:     os.Getenv("BYBIT_API_SECRET"),
		BybitWebhookSecret: os.Getenv("BYBIT_WEBHOOK_SECRET"),

		PaymentCurrency: getEnv("PAYMENT_CURRENCY", "USDT"),

		VPNServer: getEnv("VPN_SERVER", "vpn.example.com"),
		VPNDNS:    strings.Split(getEnv("VPN_DNS", "8.8.8.8,8.8.4.4"), ","),
	}

	var err error
	if cfg.AdminTelegramID, err = getInt64("ADMIN_TELEGRAM_ID", 0); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.InitDataMaxAge, err = getDuration("INIT_DATA_MAX_AGE", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.BybitTimeout, err = getDuration("BYBIT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.OrderTTL, err = getDuration("ORDER_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DemoPaymentDelay, err = getDuration("DEMO_PAYMENT_DELAY", 10*time.Second); err != nil {
		return nil, err
	}
	recv, err := getInt64("BYBIT_RECV_WINDOW", 5000)
	if err != nil {
		return nil, err
	}
	cfg.BybitRecvWindow = int(recv)
	if cfg.DemoPayments, err = getBool("DEMO_PAYMENTS", false); err != nil {
		return nil, err
	}
	if cfg.WalletMaxCredit, err = decimal.NewFromString(getEnv("WALLET_MAX_CREDIT", "100")); err != nil {
		return nil, fmt.Errorf("WALLET_MAX_CREDIT: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	AppCfg = cfg
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	var missing []string
	if c.BotToken == "" {
		missing = append(missing, "BOT_TOKEN")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.StorageDriver == StoragePostgres && c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("critical environment variables are missing: %s", strings.Join(missing, ", "))
	}
	if c.StorageDriver != StoragePostgres && c.StorageDriver != StorageMemory {
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.SessionTTL <= 0 || c.OrderTTL <= 0 {
		return errors.New("SESSION_TTL and ORDER_TTL must be positive")
	}
	return nil
}

// GatewayConfigured сообщает, заданы ли ключи Bybit.
func (c *AppConfig) GatewayConfigured() bool {
	return c.BybitAPIKey != "" && c.BybitAPISecret != ""
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
