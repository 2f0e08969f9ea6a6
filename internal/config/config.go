package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	AppPort    string
	AppEnv     string
	AppBaseURL string
	JWTSecret  string

	// Gateways enabled for purchase and callbacks, e.g. "payjs".
	PaymentGateways []string

	PayJS    PayJSConfig
	Telegram TelegramConfig
	Outbox   OutboxConfig
	Admin    AdminConfig
}

// PayJSConfig carries the merchant settings shared with the gateway.
type PayJSConfig struct {
	MerchantID string
	Key        string
	BaseURL    string
	OrderBody  string
	Timeout    time.Duration

	// InsecureSkipVerify disables TLS certificate validation on outbound
	// gateway calls. Some gateway deployments do not present a trusted
	// chain; enabling this accepts man-in-the-middle exposure.
	InsecureSkipVerify bool
}

type TelegramConfig struct {
	Enable bool
	Token  string
	ChatID int64
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

type AdminConfig struct {
	User         string
	PasswordHash string
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:          os.Getenv("DB_HOST"),
		DBUser:          os.Getenv("DB_USER"),
		DBPassword:      os.Getenv("DB_PASSWORD"),
		DBName:          os.Getenv("DB_NAME"),
		DBPort:          os.Getenv("DB_PORT"),
		AppPort:         getEnv("APP_PORT", "8080"),
		AppEnv:          os.Getenv("APP_ENV"),
		AppBaseURL:      strings.TrimRight(os.Getenv("APP_BASE_URL"), "/"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		PaymentGateways: splitList(getEnv("PAYMENT_GATEWAYS", "payjs")),
		PayJS: PayJSConfig{
			MerchantID:         os.Getenv("PAYJS_MCHID"),
			Key:                os.Getenv("PAYJS_KEY"),
			BaseURL:            getEnv("PAYJS_URL", "https://payjs.cn/api/"),
			OrderBody:          os.Getenv("PAYJS_ORDER_BODY"),
			Timeout:            getDuration("PAYJS_HTTP_TIMEOUT", 15*time.Second),
			InsecureSkipVerify: getBool("PAYJS_INSECURE_SKIP_VERIFY", false),
		},
		Telegram: TelegramConfig{
			Enable: getBool("TELEGRAM_ENABLE", false),
			Token:  os.Getenv("TELEGRAM_TOKEN"),
			ChatID: getInt64("TELEGRAM_CHAT_ID", 0),
		},
		Outbox: OutboxConfig{
			PollInterval: getDuration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:    int(getInt64("OUTBOX_BATCH_SIZE", 50)),
			MaxAttempts:  int(getInt64("OUTBOX_MAX_ATTEMPTS", 10)),
		},
		Admin: AdminConfig{
			User:         os.Getenv("ADMIN_USER"),
			PasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		},
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getInt64(key string, def int64) int64 {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
