// Package scan ties the source clients, extractors, scorer, and
// discovery lifecycle together into per-source scan pipelines.
package scan

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"signalscout/internal/discovery"
	"signalscout/internal/extract"
	"signalscout/internal/feed"
	"signalscout/internal/hn"
	"signalscout/internal/keywords"
	"signalscout/internal/model"
	"signalscout/internal/scoring"
	"signalscout/internal/storage"
)

// ErrScanInProgress is returned when a scan for the same source type is
// already running. The caller is expected to retry the whole scan later.
var ErrScanInProgress = errors.New("scan already in progress for source")

const triggerTextLimit = 500

// Notifier receives auto-promotion events. Implementations must not block.
type Notifier interface {
	DiscoveryPromoted(d *model.Discovery)
}

// Config holds the per-scan tunables.
type Config struct {
	Team                 string
	MaxItems             int           // stories/articles per scan
	MaxStoriesPerScan    int           // comment mining: stories to mine
	MaxUsersPerStory     int           // comment mining: commenters per story
	MaxCommentsPerStory  int           // comment tree traversal cap
	MaxCommentDepth      int           // comment tree depth cap
	MinKeywordScore      int           // relevance gate for items
	MinKarma             int           // profile mining karma gate
	MinConfidence        float64       // profile extraction quality gate
	AutoPromoteThreshold int           // discovery auto-promotion score
	RescanAfter          time.Duration // author rescan-skip window
	UserConcurrency      int           // profile fan-out workers
	MaxArticleAge        time.Duration // rss article freshness window
	EnrichWithGitHub     bool
	Feeds                []feed.Feed
}

func (c *Config) defaults() {
	if c.Team == "" {
		c.Team = "default"
	}
	if c.MaxItems <= 0 {
		c.MaxItems = 30
	}
	if c.MaxStoriesPerScan <= 0 {
		c.MaxStoriesPerScan = 10
	}
	if c.MaxUsersPerStory <= 0 {
		c.MaxUsersPerStory = 50
	}
	if c.MaxCommentsPerStory <= 0 {
		c.MaxCommentsPerStory = 100
	}
	if c.MaxCommentDepth <= 0 {
		c.MaxCommentDepth = 3
	}
	if c.MinKeywordScore <= 0 {
		c.MinKeywordScore = 3
	}
	if c.MinKarma <= 0 {
		c.MinKarma = 50
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.7
	}
	if c.AutoPromoteThreshold <= 0 {
		c.AutoPromoteThreshold = scoring.DefaultAutoPromoteThreshold
	}
	if c.RescanAfter <= 0 {
		c.RescanAfter = 72 * time.Hour
	}
	if c.UserConcurrency <= 0 {
		c.UserConcurrency = 5
	}
	if c.MaxArticleAge <= 0 {
		c.MaxArticleAge = 24 * time.Hour
	}
}

// Orchestrator runs scans. At most one scan per source type runs at a
// time; concurrent invocations for the same source are rejected.
type Orchestrator struct {
	cfg      Config
	store    storage.Storage
	hn       *hn.Client
	feeds    *feed.Client
	matcher  *keywords.Matcher
	disc     *discovery.Service
	github   *extract.GitHubValidator
	notifier Notifier
	log      *slog.Logger

	mu      sync.Mutex
	running map[model.SourceType]bool
}

// New creates an Orchestrator. github and notifier may be nil.
func New(cfg Config, store storage.Storage, hnClient *hn.Client, feedClient *feed.Client,
	matcher *keywords.Matcher, disc *discovery.Service, github *extract.GitHubValidator,
	notifier Notifier, log *slog.Logger) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		hn:       hnClient,
		feeds:    feedClient,
		matcher:  matcher,
		disc:     disc,
		github:   github,
		notifier: notifier,
		log:      log,
		running:  make(map[model.SourceType]bool),
	}
}

// ScanHNFrontPage scans the HN front page for company signals.
func (o *Orchestrator) ScanHNFrontPage(ctx context.Context) (*model.ScanRun, error) {
	return o.runScan(ctx, model.SourceHNPost, "front_page", o.scanFrontPage)
}

// ScanHNComments mines commenter profiles on keyword-relevant stories.
func (o *Orchestrator) ScanHNComments(ctx context.Context) (*model.ScanRun, error) {
	return o.runScan(ctx, model.SourceHNProfile, "comment_mining", o.mineProfiles)
}

// ScanFeeds scans the configured news feeds.
func (o *Orchestrator) ScanFeeds(ctx context.Context) (*model.ScanRun, error) {
	return o.runScan(ctx, model.SourceNewsArticle, "rss", o.scanFeeds)
}

// runScan owns the run lifecycle: the per-source exclusion, run
// creation, cache clearing, and the exactly-once finalization. An error
// escaping the body marks the run failed and propagates to the caller,
// whose scheduler owns whole-scan retry.
func (o *Orchestrator) runScan(ctx context.Context, source model.SourceType, runType string,
	body func(ctx context.Context, run *model.ScanRun) error) (*model.ScanRun, error) {

	if !o.acquire(source) {
		return nil, fmt.Errorf("%w: %s", ErrScanInProgress, source)
	}
	defer o.release(source)
	defer o.hn.PurgeCaches()

	run := &model.ScanRun{
		ID:         uuid.NewString(),
		SourceType: source,
		RunType:    runType,
		StartedAt:  time.Now().UTC(),
		Status:     model.RunRunning,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	o.log.Info("scan started", "run_id", run.ID, "source", source, "type", runType)

	err := body(ctx, run)
	now := time.Now().UTC()
	run.CompletedAt = &now
	switch {
	case err != nil:
		run.Status = model.RunFailed
		run.AddError(err.Error())
	case run.ErrorsCount > 0:
		run.Status = model.RunPartial
	default:
		run.Status = model.RunCompleted
	}
	if uerr := o.store.UpdateRun(ctx, run); uerr != nil {
		o.log.Error("finalize run", "run_id", run.ID, "error", uerr)
	}

	o.log.Info("scan finished", "run_id", run.ID, "status", run.Status,
		"items", run.ItemsScanned, "created", run.DiscoveriesCreated,
		"duplicates", run.DuplicatesSkipped, "promoted", run.AutoPromoted,
		"errors", run.ErrorsCount)

	if err != nil {
		return run, fmt.Errorf("scan %s: %w", source, err)
	}
	return run, nil
}

func (o *Orchestrator) acquire(source model.SourceType) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[source] {
		return false
	}
	o.running[source] = true
	return true
}

func (o *Orchestrator) release(source model.SourceType) {
	o.mu.Lock()
	delete(o.running, source)
	o.mu.Unlock()
}

func (o *Orchestrator) scanFrontPage(ctx context.Context, run *model.ScanRun) error {
	items, fetchErrs, err := o.hn.FrontPage(ctx, o.cfg.MaxItems)
	if err != nil {
		return err
	}
	for _, e := range fetchErrs {
		run.AddError(e.Error())
	}

	profiles := newProfileCache()
	maxID := int64(0)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.processItem(ctx, run, item, hn.PermalinkURL(item.ID), profiles)
		if id, err := strconv.ParseInt(item.ID, 10, 64); err == nil && id > maxID {
			maxID = id
		}
	}
	if maxID > 0 {
		run.Cursor = strconv.FormatInt(maxID, 10)
	}
	return nil
}

func (o *Orchestrator) scanFeeds(ctx context.Context, run *model.ScanRun) error {
	items, feedErrs := o.feeds.RecentArticles(ctx, o.cfg.Feeds, o.cfg.MaxItems, o.cfg.MaxArticleAge)
	for _, e := range feedErrs {
		run.AddError(e.Error())
	}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.processItem(ctx, run, item, item.URL, nil)
	}
	if len(items) > 0 {
		run.Cursor = items[0].ID
	}
	return nil
}

// processItem is the per-item pipeline: relevance gate, domain
// extraction (with author-profile fallback), scoring, and discovery
// creation. Item-level failures are counted and skipped.
func (o *Orchestrator) processItem(ctx context.Context, run *model.ScanRun, item model.Item,
	sourceURL string, profiles *profileCache) {

	run.ItemsScanned++

	text := itemText(item)
	match, err := o.matcher.Match(ctx, text)
	if err != nil {
		run.AddError(fmt.Sprintf("match item %s: %v", item.ID, err))
		o.log.Error("match item", "id", item.ID, "error", err)
		return
	}
	if !match.Relevant(o.cfg.MinKeywordScore) {
		return
	}

	candidates := extract.FromSource(item.URL, item.Title, item.Body)
	fromAuthor := false
	if len(candidates) == 0 && item.Author != "" && profiles != nil {
		if ed := o.authorDomain(ctx, run, item.Author, profiles); ed != nil {
			candidates = append(candidates, *ed)
			fromAuthor = true
		}
	}

	trigger := truncate(text, triggerTextLimit)
	for _, ed := range candidates {
		ok, err := o.disc.ShouldCreate(ctx, o.cfg.Team, ed.Domain)
		if err != nil {
			run.AddError(fmt.Sprintf("dedup check %s: %v", ed.Domain, err))
			o.log.Error("dedup check", "domain", ed.Domain, "error", err)
			continue
		}
		if !ok {
			run.DuplicatesSkipped++
			continue
		}
		if o.createDiscovery(ctx, run, item, sourceURL, ed, match, trigger) && fromAuthor {
			o.creditAuthor(ctx, run, item.Author)
		}
	}
}

// createDiscovery reports whether a new discovery row was created.
func (o *Orchestrator) createDiscovery(ctx context.Context, run *model.ScanRun, item model.Item,
	sourceURL string, ed model.ExtractedDomain, match *keywords.Result, trigger string) bool {

	var published *time.Time
	if !item.PublishedAt.IsZero() {
		t := item.PublishedAt
		published = &t
	}

	factors := scoring.Confidence(scoring.Candidate{
		Domain:        ed,
		Source:        item.Source,
		SourceTitle:   item.Title,
		TriggerText:   trigger,
		KeywordWeight: match.TotalScore,
		PublishedAt:   published,
	}, time.Now())

	cand := &model.Discovery{
		Team:              o.cfg.Team,
		CompanyDomain:     ed.Domain,
		SourceType:        item.Source,
		SourceURL:         sourceURL,
		SourceTitle:       item.Title,
		TriggerText:       trigger,
		KeywordsMatched:   matchedKeywords(match),
		ConfidenceScore:   factors.Total(),
		ProductTags:       match.ProductTags,
		SourcePublishedAt: published,
	}
	if len(match.Categories) > 0 {
		cand.KeywordCategory = match.Categories[0]
	}

	outcome, err := o.disc.Create(ctx, cand)
	if err != nil && outcome == "" {
		run.AddError(fmt.Sprintf("create discovery %s: %v", ed.Domain, err))
		o.log.Error("create discovery", "domain", ed.Domain, "error", err)
		return false
	}
	if err != nil {
		// Created but the auto-promotion step failed.
		run.AddError(fmt.Sprintf("promote discovery %s: %v", ed.Domain, err))
		o.log.Error("promote discovery", "domain", ed.Domain, "error", err)
	}

	switch outcome {
	case discovery.OutcomeCreated:
		run.DiscoveriesCreated++
		return true
	case discovery.OutcomeAutoPromoted:
		run.DiscoveriesCreated++
		run.AutoPromoted++
		if o.notifier != nil {
			o.notifier.DiscoveryPromoted(cand)
		}
		return true
	case discovery.OutcomeDuplicate:
		run.DuplicatesSkipped++
	}
	return false
}

func itemText(item model.Item) string {
	if item.Body == "" {
		return item.Title
	}
	if item.Title == "" {
		return item.Body
	}
	return item.Title + "\n" + item.Body
}

func matchedKeywords(match *keywords.Result) []string {
	out := make([]string, 0, len(match.Matches))
	for _, m := range match.Matches {
		out = append(out, m.Keyword)
	}
	return out
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func decodeBio(about string) string {
	return html.UnescapeString(about)
}
