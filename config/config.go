package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"bankverify-backend/utils"
)

// Config is the full environment-driven configuration of the service.
type Config struct {
	Port           string `validate:"required"`
	BodyLimitBytes int    `validate:"gt=0"`
	AllowedOrigins string
	RateLimitMax   int           `validate:"gt=0"`
	RateLimitWin   time.Duration `validate:"gt=0"`

	RedisAddr     string `validate:"required"`
	RedisPassword string
	RedisDB       int

	PowerCredHost     string        `validate:"required,url"`
	PowerCredClientID string        `validate:"required"`
	PowerCredKeyFile  string        `validate:"required"`
	PowerCredValidity time.Duration `validate:"gt=0"`

	PerfiosHost        string        `validate:"required,url"`
	PerfiosAPIKey      string        `validate:"required"`
	PerfiosValidity    time.Duration `validate:"gt=0"`
	PerfiosClickWindow time.Duration `validate:"gt=0"`

	AppStoreURL     string        `validate:"required,url"`
	AppStoreTimeout time.Duration `validate:"gt=0"`
	VendorTimeout   time.Duration `validate:"gt=0"`

	BlobRoot    string `validate:"required"`
	BlobBucket  string `validate:"required"`
	ScratchRoot string `validate:"required"`

	SplitCounterKey string        `validate:"required"`
	SplitCounterTTL time.Duration `validate:"gt=0"`
	SplitConfigKey  string        `validate:"required"`
	PrimaryVendor   string        `validate:"required"`
	SecondaryVendor string        `validate:"required"`

	FraudWatchList       []string
	RetryStatuses        []string `validate:"min=1"`
	DisqualifyingReasons []string
	StatusAccepted       string `validate:"required"`
	StatusRejected       string `validate:"required"`
	AcceptReason         string `validate:"required"`
}

var validate = validator.New()

// Load reads .env (best effort, matching local-dev expectations) and the
// process environment, applies defaults, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           envStr("PORT", "8080"),
		BodyLimitBytes: bodyLimit(),
		AllowedOrigins: envStr("ALLOWED_ORIGINS", "*"),
		RateLimitMax:   utils.ParseIntDefault(os.Getenv("RATE_LIMIT_MAX"), 60),
		RateLimitWin:   time.Duration(utils.ParseIntDefault(os.Getenv("RATE_LIMIT_WINDOW_SECONDS"), 60)) * time.Second,

		RedisAddr:     envStr("REDIS_ADDR", "redis:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       utils.ParseIntDefault(os.Getenv("REDIS_DB"), 0),

		PowerCredHost:     envStr("POWERCRED_HOST", ""),
		PowerCredClientID: envStr("POWERCRED_CLIENT_ID", ""),
		PowerCredKeyFile:  envStr("POWERCRED_KEY_FILE", ""),
		PowerCredValidity: envDuration("POWERCRED_SESSION_VALIDITY", 24*time.Hour),

		PerfiosHost:        envStr("PERFIOS_HOST", ""),
		PerfiosAPIKey:      envStr("PERFIOS_API_KEY", ""),
		PerfiosValidity:    envDuration("PERFIOS_SESSION_VALIDITY", 72*time.Hour),
		PerfiosClickWindow: envDuration("PERFIOS_CLICK_WINDOW", 30*time.Minute),

		AppStoreURL:     envStr("APP_STORE_URL", ""),
		AppStoreTimeout: envDuration("APP_STORE_TIMEOUT", 10*time.Second),
		VendorTimeout:   envDuration("VENDOR_HTTP_TIMEOUT", 30*time.Second),

		BlobRoot:    envStr("BLOB_ROOT", "/var/lib/bankverify/blobs"),
		BlobBucket:  envStr("BLOB_BUCKET", "bank-statements"),
		ScratchRoot: envStr("SCRATCH_ROOT", os.TempDir()),

		SplitCounterKey: envStr("SPLIT_COUNTER_KEY", "bankverify:split:counter"),
		SplitCounterTTL: envDuration("SPLIT_COUNTER_TTL", 24*time.Hour),
		SplitConfigKey:  envStr("SPLIT_CONFIG_KEY", "bankverify:split:config"),
		PrimaryVendor:   envStr("PRIMARY_VENDOR", "powercred"),
		SecondaryVendor: envStr("SECONDARY_VENDOR", "perfios"),

		FraudWatchList:       envList("FRAUD_WATCHLIST", nil),
		RetryStatuses:        envList("RETRY_STATUSES", []string{"bank_statement_pending", "bank_statement_resubmission"}),
		DisqualifyingReasons: envList("RETRY_DISQUALIFYING_REASONS", []string{"fraud", "manual_review_rejected"}),
		StatusAccepted:       envStr("STATUS_EVIDENCE_ACCEPTED", "bank_statement_accepted"),
		StatusRejected:       envStr("STATUS_EVIDENCE_REJECTED", "bank_statement_rejected"),
		AcceptReason:         envStr("ACCEPT_REASON", "bank_statement_verified"),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	return cfg, nil
}

// PowerCredKey reads the PEM signing key from disk.
func (c *Config) PowerCredKey() ([]byte, error) {
	key, err := os.ReadFile(c.PowerCredKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	return key, nil
}

func bodyLimit() int {
	if n := utils.ParseIntDefault(os.Getenv("BODY_LIMIT_BYTES"), 0); n > 0 {
		return n
	}
	return utils.ParseIntDefault(os.Getenv("BODY_LIMIT_MB"), 4) * 1024 * 1024
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
