package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"pool-verifier/internal/constants"
)

type Config struct {
	BotToken  string
	BotUserID string
	GuildID   string

	OCREndpoint string
	OCRAPIKey   string

	DBPath     string
	ServerPort string
	LogLevel   string
	AdminToken string

	// RankTablePath overrides the embedded rank table when set.
	RankTablePath string

	// NoticeTTL is how long an ephemeral notification DM lives before the
	// scheduler deletes it.
	NoticeTTL time.Duration

	// CleanupChannelIDs are swept for leftover bot messages at startup.
	CleanupChannelIDs []string
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		BotToken:      getEnv("BOT_TOKEN", ""),
		BotUserID:     getEnv("BOT_USER_ID", ""),
		GuildID:       getEnv("GUILD_ID", ""),
		OCREndpoint:   getEnv("OCR_ENDPOINT", "https://api.ocr.space/parse/image"),
		OCRAPIKey:     getEnv("OCR_API_KEY", ""),
		DBPath:        getEnv("DB_PATH", "verifier.db"),
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		AdminToken:    getEnv("ADMIN_TOKEN", ""),
		RankTablePath: getEnv("RANK_TABLE_PATH", ""),
		NoticeTTL:     getEnvDuration("NOTICE_TTL", constants.DefaultNoticeTTL),
	}

	if channels := getEnv("CLEANUP_CHANNEL_IDS", ""); channels != "" {
		for _, id := range strings.Split(channels, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.CleanupChannelIDs = append(cfg.CleanupChannelIDs, id)
			}
		}
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}
	if cfg.OCRAPIKey == "" {
		return nil, fmt.Errorf("OCR_API_KEY is required")
	}
	if cfg.GuildID == "" {
		return nil, fmt.Errorf("GUILD_ID is required")
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Dur("notice_ttl", cfg.NoticeTTL).
		Int("cleanup_channels", len(cfg.CleanupChannelIDs)).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

var Module = fx.Provide(Load)
