// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	LogLevel     string
	Team         string
	SeedFile     string

	ScanIntervalMinutes int
	ScanSources         []string

	MaxItems             int
	MaxStoriesPerScan    int
	MaxUsersPerStory     int
	MaxCommentsPerStory  int
	MaxCommentDepth      int
	MinKeywordScore      int
	MinKarma             int
	MinConfidence        float64
	AutoPromoteThreshold int
	RescanAfterHours     int
	UserConcurrency      int
	MaxArticleAgeHours   int
	EnrichWithGitHub     bool

	UserAgent string
	ProxyURLs []string

	TelegramBotToken string
	TelegramChatID   int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath: getEnv("DATABASE_PATH", "./data/scout.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Team:         getEnv("TEAM", "default"),
		SeedFile:     getEnv("SEED_FILE", "./seed.yaml"),
		UserAgent:    getEnv("USER_AGENT", "signalscout/1.0"),
		ScanSources:  splitEnv("SCAN_SOURCES", []string{"hn", "rss"}),
		ProxyURLs:    splitEnv("PROXY_URLS", nil),
	}

	var err error
	if cfg.ScanIntervalMinutes, err = intEnv("SCAN_INTERVAL_MINUTES", 30); err != nil {
		return nil, err
	}
	if cfg.MaxItems, err = intEnv("MAX_ITEMS", 30); err != nil {
		return nil, err
	}
	if cfg.MaxStoriesPerScan, err = intEnv("MAX_STORIES_PER_SCAN", 10); err != nil {
		return nil, err
	}
	if cfg.MaxUsersPerStory, err = intEnv("MAX_USERS_PER_STORY", 50); err != nil {
		return nil, err
	}
	if cfg.MaxCommentsPerStory, err = intEnv("MAX_COMMENTS_PER_STORY", 100); err != nil {
		return nil, err
	}
	if cfg.MaxCommentDepth, err = intEnv("MAX_COMMENT_DEPTH", 3); err != nil {
		return nil, err
	}
	if cfg.MinKeywordScore, err = intEnv("MIN_KEYWORD_SCORE", 3); err != nil {
		return nil, err
	}
	if cfg.MinKarma, err = intEnv("MIN_KARMA", 50); err != nil {
		return nil, err
	}
	if cfg.MinConfidence, err = floatEnv("MIN_CONFIDENCE", 0.7); err != nil {
		return nil, err
	}
	if cfg.AutoPromoteThreshold, err = intEnv("AUTO_PROMOTE_THRESHOLD", 80); err != nil {
		return nil, err
	}
	if cfg.RescanAfterHours, err = intEnv("RESCAN_AFTER_HOURS", 72); err != nil {
		return nil, err
	}
	if cfg.UserConcurrency, err = intEnv("USER_CONCURRENCY", 5); err != nil {
		return nil, err
	}
	if cfg.MaxArticleAgeHours, err = intEnv("MAX_ARTICLE_AGE_HOURS", 24); err != nil {
		return nil, err
	}
	cfg.EnrichWithGitHub = getEnv("ENRICH_WITH_GITHUB", "") == "true"

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		cfg.TelegramChatID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", raw, err)
		}
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID == 0 {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitEnv(key string, def []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func floatEnv(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
