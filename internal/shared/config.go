package shared

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string

	PMSBase         string
	PMSClientID     string
	PMSClientSecret string
	PropertyID      string
	PropertyIDs     []string

	WebhookSecret   string
	SignatureHeader string
	TimestampHeader string

	PageSize     int
	MaxRetries   int
	Workers      int
	RetryDelay   time.Duration
	SyncInterval time.Duration
	IdemTTL      time.Duration
	CacheTTL     time.Duration
	Debug        bool
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9100"),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/pmsync?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:   env("REDIS_ADDR", "localhost:6379"),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),

		PMSBase:         env("PMS_BASE_URL", "https://api.hotelpms.example.com/v1"),
		PMSClientID:     env("PMS_CLIENT_ID", ""),
		PMSClientSecret: env("PMS_CLIENT_SECRET", ""),
		PropertyID:      env("PMS_PROPERTY_ID", ""),

		WebhookSecret:   env("WEBHOOK_SECRET", ""),
		SignatureHeader: env("WEBHOOK_SIGNATURE_HEADER", "X-PMS-Signature"),
		TimestampHeader: env("WEBHOOK_TIMESTAMP_HEADER", "X-PMS-Timestamp"),

		PageSize:     atoi("SYNC_PAGE_SIZE", 1000),
		MaxRetries:   atoi("SYNC_MAX_RETRIES", 3),
		Workers:      atoi("SYNC_WORKERS", 4),
		RetryDelay:   time.Duration(atoi("SYNC_RETRY_DELAY_MS", 1000)) * time.Millisecond,
		SyncInterval: time.Duration(atoi("SYNC_INTERVAL_SECONDS", 0)) * time.Second,
		IdemTTL:      time.Duration(atoi("IDEMPOTENCY_TTL_SECONDS", 86400)) * time.Second,
		CacheTTL:     time.Duration(atoi("CACHE_TTL_SECONDS", 900)) * time.Second,
		Debug:        env("DEBUG", "") == "true",
	}

	// PMS_PROPERTY_IDS is a comma-separated list for the poller; it falls
	// back to the single PMS_PROPERTY_ID.
	if v := os.Getenv("PMS_PROPERTY_IDS"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.PropertyIDs = append(c.PropertyIDs, p)
			}
		}
	} else if c.PropertyID != "" {
		c.PropertyIDs = []string{c.PropertyID}
	}

	if c.PMSClientID == "" || c.PMSClientSecret == "" {
		log.Warn().Msg("PMS client credentials are empty")
	}
	if c.WebhookSecret == "" {
		log.Warn().Msg("WEBHOOK_SECRET is empty")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
