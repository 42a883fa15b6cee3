package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"signalscout/internal/config"
	"signalscout/internal/discovery"
	"signalscout/internal/extract"
	"signalscout/internal/feed"
	"signalscout/internal/hn"
	"signalscout/internal/httpx"
	"signalscout/internal/keywords"
	"signalscout/internal/model"
	"signalscout/internal/notify"
	"signalscout/internal/scan"
	"signalscout/internal/storage"
)

func main() {
	scanOnce := flag.String("scan", "", "run one scan (hn|hn-comments|rss) and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	seed := loadSeed(cfg.SeedFile, log)
	if err := seedKeywords(ctx, store, seed, log); err != nil {
		log.Error("seed keywords", "error", err)
		os.Exit(1)
	}

	httpClient, err := httpx.New(httpx.Config{
		UserAgent: cfg.UserAgent,
		ProxyURLs: cfg.ProxyURLs,
	}, log)
	if err != nil {
		log.Error("create http client", "error", err)
		os.Exit(1)
	}

	matcher := keywords.NewMatcher(store)
	disc := discovery.New(store, cfg.AutoPromoteThreshold, log)

	var validator *extract.GitHubValidator
	if cfg.EnrichWithGitHub {
		validator = extract.NewGitHubValidator(httpClient)
	}

	var notifier scan.Notifier
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, log)
		if err != nil {
			log.Error("create telegram notifier", "error", err)
			os.Exit(1)
		}
		notifier = tg
	}

	orch := scan.New(scanConfig(cfg, seed), store, hn.New(httpClient, log),
		feed.New(httpClient, log), matcher, disc, validator, notifier, log)

	if *scanOnce != "" {
		runOnce(ctx, orch, *scanOnce, log)
		return
	}

	sources := scanSources(cfg.ScanSources, log)
	if len(sources) == 0 {
		log.Error("no valid scan sources configured", "sources", cfg.ScanSources)
		os.Exit(1)
	}

	log.Info("starting scheduler", "interval_minutes", cfg.ScanIntervalMinutes, "sources", cfg.ScanSources)
	sched := scan.NewScheduler(orch, sources, time.Duration(cfg.ScanIntervalMinutes)*time.Minute, log)
	sched.Run(ctx)
	log.Info("scheduler stopped")
}

func runOnce(ctx context.Context, orch *scan.Orchestrator, source string, log *slog.Logger) {
	var (
		run *model.ScanRun
		err error
	)
	switch source {
	case "hn":
		run, err = orch.ScanHNFrontPage(ctx)
	case "hn-comments":
		run, err = orch.ScanHNComments(ctx)
	case "rss":
		run, err = orch.ScanFeeds(ctx)
	default:
		log.Error("unknown scan source", "source", source)
		os.Exit(1)
	}
	if err != nil {
		log.Error("scan failed", "source", source, "error", err)
		os.Exit(1)
	}
	log.Info("scan done", "run_id", run.ID, "status", run.Status)
}

// loadSeed reads the seed file; a missing or broken file is logged and
// treated as empty so the scanner can still run on existing data.
func loadSeed(path string, log *slog.Logger) *config.Seed {
	seed, err := config.LoadSeed(path)
	if err != nil {
		log.Warn("seed file not loaded", "path", path, "error", err)
		return &config.Seed{}
	}
	return seed
}

// seedKeywords inserts the seed taxonomy on first run only.
func seedKeywords(ctx context.Context, store storage.Storage, seed *config.Seed, log *slog.Logger) error {
	if len(seed.Keywords) == 0 {
		return nil
	}
	existing, err := store.ListKeywords(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, k := range seed.Keywords {
		kw := &model.KeywordDefinition{
			Keyword:     k.Keyword,
			Category:    model.KeywordCategory(k.Category),
			Weight:      k.Weight,
			Active:      true,
			ProductTags: k.ProductTags,
		}
		if err := store.CreateKeyword(ctx, kw); err != nil {
			return err
		}
	}
	log.Info("seeded keyword taxonomy", "count", len(seed.Keywords))
	return nil
}

func scanConfig(cfg *config.Config, seed *config.Seed) scan.Config {
	feeds := make([]feed.Feed, 0, len(seed.Feeds))
	for _, f := range seed.Feeds {
		feeds = append(feeds, feed.Feed{Name: f.Name, URL: f.URL})
	}
	return scan.Config{
		Team:                 cfg.Team,
		MaxItems:             cfg.MaxItems,
		MaxStoriesPerScan:    cfg.MaxStoriesPerScan,
		MaxUsersPerStory:     cfg.MaxUsersPerStory,
		MaxCommentsPerStory:  cfg.MaxCommentsPerStory,
		MaxCommentDepth:      cfg.MaxCommentDepth,
		MinKeywordScore:      cfg.MinKeywordScore,
		MinKarma:             cfg.MinKarma,
		MinConfidence:        cfg.MinConfidence,
		AutoPromoteThreshold: cfg.AutoPromoteThreshold,
		RescanAfter:          time.Duration(cfg.RescanAfterHours) * time.Hour,
		UserConcurrency:      cfg.UserConcurrency,
		MaxArticleAge:        time.Duration(cfg.MaxArticleAgeHours) * time.Hour,
		EnrichWithGitHub:     cfg.EnrichWithGitHub,
		Feeds:                feeds,
	}
}

func scanSources(names []string, log *slog.Logger) []model.SourceType {
	var out []model.SourceType
	for _, name := range names {
		switch name {
		case "hn":
			out = append(out, model.SourceHNPost)
		case "hn-comments":
			out = append(out, model.SourceHNProfile)
		case "rss":
			out = append(out, model.SourceNewsArticle)
		default:
			log.Warn("unknown scan source in config", "source", name)
		}
	}
	return out
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
