package config

import (
	"encoding/json"
	"log"
	"os"

	"github.com/caarlos0/env/v11"
)

type Configuration struct {
	ApiPort string `env:"API_PORT" json:"api_port"`
	LogPath string `env:"LOG_PATH" json:"log_path"`
	Debug   bool   `env:"DEBUG"    json:"debug"`

	Database string `env:"DATABASE" json:"database"` // "sqlite3" or "postgres"
	DbPath   string `env:"DB_PATH"  json:"db_path"`  // sqlite file
	DbHost   string `env:"DB_HOST"  json:"db_host"`
	DbPort   string `env:"DB_PORT"  json:"db_port"`
	DbUser   string `env:"DB_USER"  json:"db_user"`
	DbName   string `env:"DB_NAME"  json:"db_name"`
	DbPass   string `env:"DB_PASS"  json:"db_pass"`

	AutoMigrate bool `env:"AUTOMIGRATE" json:"automigrate"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," json:"allowed_origins"`

	Security struct {
		JwtSecret     string `env:"JWT_SECRET"      json:"jwt_secret"`
		TokenTTLHours int    `env:"TOKEN_TTL_HOURS" json:"token_ttl_hours"`
	} `json:"security"`

	Bilibili struct {
		PassportBaseURL string `env:"BILI_PASSPORT_BASE_URL" json:"passport_base_url"`
		APIBaseURL      string `env:"BILI_API_BASE_URL"      json:"api_base_url"`
		VCBaseURL       string `env:"BILI_VC_BASE_URL"       json:"vc_base_url"`
		UserAgent       string `env:"BILI_USER_AGENT"        json:"user_agent"`
		TimeoutSeconds  int    `env:"BILI_TIMEOUT_SECONDS"   json:"timeout_seconds"`
	} `json:"bilibili"`

	AutoReply struct {
		WorkerEnabled          bool   `env:"AUTOREPLY_WORKER_ENABLED"  json:"worker_enabled"`
		TickSeconds            int    `env:"AUTOREPLY_TICK_SECONDS"    json:"tick_seconds"`
		DefaultIntervalSeconds int    `env:"AUTOREPLY_INTERVAL_SECONDS" json:"default_interval_seconds"`
		RecencyWindowSeconds   int    `env:"AUTOREPLY_RECENCY_SECONDS" json:"recency_window_seconds"`
		LockTTLSeconds         int    `env:"AUTOREPLY_LOCK_TTL_SECONDS" json:"lock_ttl_seconds"`
		Mode                   string `env:"AUTOREPLY_MODE"            json:"mode"` // "latest" or "history"
		HistoryLimit           int    `env:"AUTOREPLY_HISTORY_LIMIT"   json:"history_limit"`
	} `json:"auto_reply"`
}

// Load reads the JSON file (missing file means defaults only), then applies
// environment overrides and finally fills anything still empty.
func Load(path string) (Configuration, error) {
	var c Configuration

	b, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return c, err
	}
	if err == nil {
		if err := json.Unmarshal(b, &c); err != nil {
			return c, err
		}
	}

	if err := env.Parse(&c); err != nil {
		return c, err
	}

	applyDefaults(&c)
	return c, nil
}

// Get is Load for main: any error is fatal.
func Get(path string) Configuration {
	c, err := Load(path)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func applyDefaults(c *Configuration) {
	if c.ApiPort == "" {
		c.ApiPort = "8080"
	}
	if c.LogPath == "" {
		c.LogPath = "logs/server.log"
	}
	if c.Database == "" {
		c.Database = "sqlite3"
	}
	if c.DbPath == "" {
		c.DbPath = "db/database.db"
	}
	if c.Security.JwtSecret == "" {
		c.Security.JwtSecret = "CHANGE_ME"
	}
	if c.Security.TokenTTLHours <= 0 {
		c.Security.TokenTTLHours = 24 * 7
	}

	if c.Bilibili.PassportBaseURL == "" {
		c.Bilibili.PassportBaseURL = "https://passport.bilibili.com"
	}
	if c.Bilibili.APIBaseURL == "" {
		c.Bilibili.APIBaseURL = "https://api.bilibili.com"
	}
	if c.Bilibili.VCBaseURL == "" {
		c.Bilibili.VCBaseURL = "https://api.vc.bilibili.com"
	}
	if c.Bilibili.UserAgent == "" {
		c.Bilibili.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	if c.Bilibili.TimeoutSeconds <= 0 {
		c.Bilibili.TimeoutSeconds = 30
	}

	if c.AutoReply.TickSeconds <= 0 {
		c.AutoReply.TickSeconds = 1
	}
	if c.AutoReply.DefaultIntervalSeconds <= 0 {
		c.AutoReply.DefaultIntervalSeconds = 60
	}
	if c.AutoReply.RecencyWindowSeconds <= 0 {
		c.AutoReply.RecencyWindowSeconds = 60
	}
	if c.AutoReply.LockTTLSeconds <= 0 {
		c.AutoReply.LockTTLSeconds = 300
	}
	if c.AutoReply.Mode == "" {
		c.AutoReply.Mode = "latest"
	}
	if c.AutoReply.HistoryLimit <= 0 {
		c.AutoReply.HistoryLimit = 50
	}
}
