package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Gateway struct {
		BaseURL         string `yaml:"base_url"`
		SecretKey       string `yaml:"secret_key"`
		WebhookSecret   string `yaml:"webhook_secret"`
		SuccessURL      string `yaml:"success_url"`
		CancelURL       string `yaml:"cancel_url"`
		RequireVerified bool   `yaml:"require_verified"`
	} `yaml:"gateway"`
	Checkout struct {
		Currency string `yaml:"currency"`
	} `yaml:"checkout"`
	Downstream struct {
		OrdersURL        string `yaml:"orders_url"`
		NotificationsURL string `yaml:"notifications_url"`
	} `yaml:"downstream"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Sweeper struct {
		IntervalSeconds int64 `yaml:"interval_seconds"`
		MinAgeSeconds   int64 `yaml:"min_age_seconds"`
	} `yaml:"sweeper"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Gateway.BaseURL == "" || cfg.Gateway.SecretKey == "" {
		return nil, errors.New("gateway config is incomplete")
	}
	if cfg.Gateway.SuccessURL == "" || cfg.Gateway.CancelURL == "" {
		return nil, errors.New("gateway redirect urls are required")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Checkout.Currency == "" {
		cfg.Checkout.Currency = "usd"
	}
	if cfg.Sweeper.IntervalSeconds <= 0 {
		cfg.Sweeper.IntervalSeconds = 60
	}
	if cfg.Sweeper.MinAgeSeconds <= 0 {
		cfg.Sweeper.MinAgeSeconds = 120
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_SECRET_KEY"); v != "" {
		cfg.Gateway.SecretKey = v
	}
	if v := os.Getenv("GATEWAY_WEBHOOK_SECRET"); v != "" {
		cfg.Gateway.WebhookSecret = v
	}
	if v := os.Getenv("GATEWAY_SUCCESS_URL"); v != "" {
		cfg.Gateway.SuccessURL = v
	}
	if v := os.Getenv("GATEWAY_CANCEL_URL"); v != "" {
		cfg.Gateway.CancelURL = v
	}
	if v := os.Getenv("GATEWAY_REQUIRE_VERIFIED"); v != "" {
		cfg.Gateway.RequireVerified = boolOr(cfg.Gateway.RequireVerified, v)
	}
	if v := os.Getenv("CHECKOUT_CURRENCY"); v != "" {
		cfg.Checkout.Currency = v
	}
	if v := os.Getenv("ORDERS_SERVICE_URL"); v != "" {
		cfg.Downstream.OrdersURL = v
	}
	if v := os.Getenv("NOTIFICATIONS_SERVICE_URL"); v != "" {
		cfg.Downstream.NotificationsURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCommaList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("SWEEPER_INTERVAL_SECONDS"); v != "" {
		cfg.Sweeper.IntervalSeconds = atoi64Or(cfg.Sweeper.IntervalSeconds, v)
	}
	if v := os.Getenv("SWEEPER_MIN_AGE_SECONDS"); v != "" {
		cfg.Sweeper.MinAgeSeconds = atoi64Or(cfg.Sweeper.MinAgeSeconds, v)
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func boolOr(fallback bool, v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
