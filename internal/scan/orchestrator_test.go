package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"signalscout/internal/discovery"
	"signalscout/internal/feed"
	"signalscout/internal/hn"
	"signalscout/internal/httpx"
	"signalscout/internal/keywords"
	"signalscout/internal/model"
	"signalscout/internal/storage"
)

const hnBase = "https://hacker-news.firebaseio.com/v0"

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string][]byte
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ httpx.Options) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("no response for %s", url)
	}
	return body, nil
}

type recordNotifier struct {
	promoted []*model.Discovery
}

func (n *recordNotifier) DiscoveryPromoted(d *model.Discovery) {
	n.promoted = append(n.promoted, d)
}

func seedKeywords(t *testing.T, store *storage.SQLite) {
	t.Helper()
	ctx := context.Background()
	for _, kw := range []model.KeywordDefinition{
		{Keyword: "ddos", Category: model.CategoryPainSignal, Weight: 8, Active: true, ProductTags: []string{"edge"}},
		{Keyword: "outage", Category: model.CategoryPainSignal, Weight: 6, Active: true},
		{Keyword: "captcha", Category: model.CategoryPainSignal, Weight: 5, Active: true, ProductTags: []string{"bot-defense"}},
	} {
		k := kw
		if err := store.CreateKeyword(ctx, &k); err != nil {
			t.Fatalf("seed keyword: %v", err)
		}
	}
}

func newTestOrchestrator(t *testing.T, ff *fakeFetcher, cfg Config, n Notifier) (*Orchestrator, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	seedKeywords(t, store)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	matcher := keywords.NewMatcher(store)
	disc := discovery.New(store, 80, log)
	hnClient := hn.New(ff, log)
	feedClient := feed.New(ff, log)
	return New(cfg, store, hnClient, feedClient, matcher, disc, nil, n, log), store
}

// frontPageFixture serves three stories: one with a moderate signal,
// one irrelevant, and one strong enough to auto-promote. Story 1
// carries comments used by the mining tests.
func frontPageFixture(t *testing.T) *fakeFetcher {
	t.Helper()
	now := time.Now().Unix()
	return &fakeFetcher{responses: map[string][]byte{
		hnBase + "/topstories.json": []byte("[1,2,3]"),
		hnBase + "/item/1.json": []byte(fmt.Sprintf(
			`{"id":1,"type":"story","by":"alice","time":%d,"title":"Initech checkout broken by captcha outage","url":"https://www.initech.com/status","kids":[101,102,103]}`, now)),
		hnBase + "/item/2.json": []byte(fmt.Sprintf(
			`{"id":2,"type":"story","by":"dave","time":%d,"title":"Show HN: a tiny window manager","url":"https://example.org/wm"}`, now)),
		hnBase + "/item/3.json": []byte(fmt.Sprintf(
			`{"id":3,"type":"story","by":"erin","time":%d,"title":"hooli.com fighting a ddos outage with captcha walls","url":"https://www.hooli.com/blog","text":"Status at hooli.com and hooli.com updates."}`, now)),
		hnBase + "/item/101.json": []byte(fmt.Sprintf(
			`{"id":101,"type":"comment","by":"bob","time":%d,"text":"we keep hitting this too","parent":1}`, now)),
		hnBase + "/item/102.json": []byte(fmt.Sprintf(
			`{"id":102,"type":"comment","by":"ghost","time":%d,"text":"same here","parent":1}`, now)),
		hnBase + "/item/103.json": []byte(fmt.Sprintf(
			`{"id":103,"type":"comment","by":"lowkarma","time":%d,"text":"ouch","parent":1}`, now)),
		hnBase + "/user/bob.json": []byte(
			`{"id":"bob","karma":100,"created":1262304000,"about":"Founder of Acme (YC W22), check out acme.io"}`),
		hnBase + "/user/ghost.json":    []byte("null"),
		hnBase + "/user/lowkarma.json": []byte(`{"id":"lowkarma","karma":5,"created":1262304000,"about":"just lurking"}`),
	}}
}

func TestScanHNFrontPage(t *testing.T) {
	ctx := context.Background()
	notifier := &recordNotifier{}
	o, store := newTestOrchestrator(t, frontPageFixture(t), Config{}, notifier)

	run, err := o.ScanHNFrontPage(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if run.Status != model.RunCompleted {
		t.Errorf("status = %s, want %s", run.Status, model.RunCompleted)
	}
	if run.ItemsScanned != 3 {
		t.Errorf("items scanned = %d, want 3", run.ItemsScanned)
	}
	if run.DiscoveriesCreated != 2 {
		t.Errorf("discoveries created = %d, want 2", run.DiscoveriesCreated)
	}
	if run.AutoPromoted != 1 {
		t.Errorf("auto promoted = %d, want 1", run.AutoPromoted)
	}
	if run.ErrorsCount != 0 {
		t.Errorf("errors = %d (%v)", run.ErrorsCount, run.ErrorDetails)
	}
	if run.Cursor != "3" {
		t.Errorf("cursor = %q, want %q", run.Cursor, "3")
	}

	// The moderate signal is created below the threshold.
	ds, err := store.ListDiscoveries(ctx, storage.DiscoveryFilter{Domain: "initech.com"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ds) != 1 {
		t.Fatalf("got %d initech discoveries, want 1", len(ds))
	}
	d := ds[0]
	if d.Status != model.StatusNew {
		t.Errorf("initech status = %s, want %s", d.Status, model.StatusNew)
	}
	if d.ConfidenceScore != 77 {
		t.Errorf("initech score = %d, want 77", d.ConfidenceScore)
	}
	if d.SourceURL != "https://news.ycombinator.com/item?id=1" {
		t.Errorf("initech source url = %q", d.SourceURL)
	}
	if d.KeywordCategory != model.CategoryPainSignal {
		t.Errorf("initech category = %s", d.KeywordCategory)
	}

	// The strong signal auto-promotes and notifies.
	ds, err = store.ListDiscoveries(ctx, storage.DiscoveryFilter{Domain: "hooli.com"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ds) != 1 {
		t.Fatalf("got %d hooli discoveries, want 1", len(ds))
	}
	if ds[0].Status != model.StatusPromoted {
		t.Errorf("hooli status = %s, want %s", ds[0].Status, model.StatusPromoted)
	}
	if ds[0].ConfidenceScore != 93 {
		t.Errorf("hooli score = %d, want 93", ds[0].ConfidenceScore)
	}
	if len(notifier.promoted) != 1 || notifier.promoted[0].CompanyDomain != "hooli.com" {
		t.Errorf("notifications = %+v", notifier.promoted)
	}

	// The run is persisted.
	stored, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != model.RunCompleted || stored.CompletedAt == nil {
		t.Errorf("stored run not finalized: %+v", stored)
	}
}

func TestScanHNFrontPageDeduplicates(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, frontPageFixture(t), Config{}, nil)

	if _, err := o.ScanHNFrontPage(ctx); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	run, err := o.ScanHNFrontPage(ctx)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if run.DiscoveriesCreated != 0 {
		t.Errorf("discoveries created = %d, want 0", run.DiscoveriesCreated)
	}
	if run.DuplicatesSkipped != 2 {
		t.Errorf("duplicates skipped = %d, want 2", run.DuplicatesSkipped)
	}
	if run.Status != model.RunCompleted {
		t.Errorf("status = %s, want %s", run.Status, model.RunCompleted)
	}
}

func TestScanRejectsConcurrentSource(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, frontPageFixture(t), Config{}, nil)

	if !o.acquire(model.SourceHNPost) {
		t.Fatal("acquire failed")
	}
	if _, err := o.ScanHNFrontPage(ctx); !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("scan while held = %v, want ErrScanInProgress", err)
	}
	o.release(model.SourceHNPost)

	if _, err := o.ScanHNFrontPage(ctx); err != nil {
		t.Fatalf("scan after release: %v", err)
	}
}

func TestScanAuthorFallback(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Unix()
	ff := &fakeFetcher{responses: map[string][]byte{
		hnBase + "/topstories.json": []byte("[5]"),
		hnBase + "/item/5.json": []byte(fmt.Sprintf(
			`{"id":5,"type":"story","by":"carol","time":%d,"title":"Ask HN: how do you deal with captcha outage pages?","text":"Our vendor keeps breaking."}`, now)),
		hnBase + "/user/carol.json": []byte(`{"id":"carol","karma":120,"created":1262304000,"about":"I work at Stripe."}`),
	}}
	o, store := newTestOrchestrator(t, ff, Config{}, nil)

	run, err := o.ScanHNFrontPage(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if run.Status != model.RunCompleted {
		t.Errorf("status = %s (%v)", run.Status, run.ErrorDetails)
	}
	if run.DiscoveriesCreated != 1 {
		t.Fatalf("discoveries created = %d, want 1", run.DiscoveriesCreated)
	}

	ds, err := store.ListDiscoveries(ctx, storage.DiscoveryFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ds) != 1 {
		t.Fatalf("got %d discoveries, want 1", len(ds))
	}
	d := ds[0]
	if d.CompanyDomain != "stripe.com" {
		t.Errorf("domain = %q, want stripe.com", d.CompanyDomain)
	}
	if d.SourceURL != "https://news.ycombinator.com/item?id=5" {
		t.Errorf("source url = %q", d.SourceURL)
	}
	if d.Status != model.StatusNew {
		t.Errorf("status = %s, want %s", d.Status, model.StatusNew)
	}

	// The author lookup leaves a profile record behind, credited with
	// the discovery it produced.
	p, err := store.GetAuthorProfile(ctx, "carol")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.CompanyDomain != "stripe.com" || p.ScanCount != 1 {
		t.Errorf("profile = %+v", p)
	}
	if p.DiscoveriesCreated != 1 {
		t.Errorf("discoveries created = %d, want 1", p.DiscoveriesCreated)
	}
}

func TestScanHNFrontPageCountsFetchFailures(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Unix()
	ff := &fakeFetcher{responses: map[string][]byte{
		hnBase + "/topstories.json": []byte("[6,7]"),
		hnBase + "/item/6.json": []byte(fmt.Sprintf(
			`{"id":6,"type":"story","by":"dave","time":%d,"title":"Quiet release notes","url":"https://example.org/notes"}`, now)),
		// item 7 has no canned response, so its fetch fails.
	}}
	o, _ := newTestOrchestrator(t, ff, Config{}, nil)

	run, err := o.ScanHNFrontPage(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if run.Status != model.RunPartial {
		t.Errorf("status = %s, want %s", run.Status, model.RunPartial)
	}
	if run.ErrorsCount != 1 {
		t.Errorf("errors = %d (%v)", run.ErrorsCount, run.ErrorDetails)
	}
	if run.ItemsScanned != 1 {
		t.Errorf("items scanned = %d, want 1", run.ItemsScanned)
	}
}

func TestScanFeeds(t *testing.T) {
	ctx := context.Background()
	xml, err := os.ReadFile("../../testdata/feed.xml")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	const feedURL = "https://techwire.example.com/rss"
	ff := &fakeFetcher{responses: map[string][]byte{feedURL: xml}}

	cfg := Config{
		MaxArticleAge: 1000000 * time.Hour,
		Feeds:         []feed.Feed{{Name: "Tech Wire", URL: feedURL}},
	}
	o, store := newTestOrchestrator(t, ff, cfg, nil)

	run, err := o.ScanFeeds(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if run.Status != model.RunCompleted {
		t.Errorf("status = %s (%v)", run.Status, run.ErrorDetails)
	}
	if run.ItemsScanned != 3 {
		t.Errorf("items scanned = %d, want 3", run.ItemsScanned)
	}
	if run.DiscoveriesCreated != 1 {
		t.Fatalf("discoveries created = %d, want 1", run.DiscoveriesCreated)
	}
	if run.Cursor != "twire-1001" {
		t.Errorf("cursor = %q", run.Cursor)
	}

	ds, err := store.ListDiscoveries(ctx, storage.DiscoveryFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ds) != 1 {
		t.Fatalf("got %d discoveries, want 1", len(ds))
	}
	d := ds[0]
	if d.CompanyDomain != "ticketmaster.com" {
		t.Errorf("domain = %q, want ticketmaster.com", d.CompanyDomain)
	}
	if d.SourceType != model.SourceNewsArticle {
		t.Errorf("source type = %s", d.SourceType)
	}
	// Keyword, source, and domain factors are fixed; recency drifts
	// with the fixture's publish date.
	if d.ConfidenceScore < 66 || d.ConfidenceScore > 74 {
		t.Errorf("score = %d, want 66..74", d.ConfidenceScore)
	}
}

func TestScanFeedsUnreachableFeed(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFetcher{responses: map[string][]byte{}}
	cfg := Config{
		Feeds: []feed.Feed{{Name: "Broken", URL: "https://broken.example.com/rss"}},
	}
	o, _ := newTestOrchestrator(t, ff, cfg, nil)

	run, err := o.ScanFeeds(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if run.Status != model.RunPartial {
		t.Errorf("status = %s, want %s", run.Status, model.RunPartial)
	}
	if run.ErrorsCount != 1 {
		t.Errorf("errors = %d (%v)", run.ErrorsCount, run.ErrorDetails)
	}
	if run.ItemsScanned != 0 || run.DiscoveriesCreated != 0 {
		t.Errorf("counters = %+v", run)
	}
}

func TestScanHNComments(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOrchestrator(t, frontPageFixture(t), Config{}, nil)

	run, err := o.ScanHNComments(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	// The unknown commenter is recorded as an item error.
	if run.Status != model.RunPartial {
		t.Errorf("status = %s, want %s", run.Status, model.RunPartial)
	}
	if run.ErrorsCount != 1 {
		t.Errorf("errors = %d (%v)", run.ErrorsCount, run.ErrorDetails)
	}
	if run.ItemsScanned != 2 {
		t.Errorf("items scanned = %d, want 2", run.ItemsScanned)
	}
	if run.DiscoveriesCreated != 1 {
		t.Fatalf("discoveries created = %d, want 1", run.DiscoveriesCreated)
	}

	ds, err := store.ListDiscoveries(ctx, storage.DiscoveryFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ds) != 1 {
		t.Fatalf("got %d discoveries, want 1", len(ds))
	}
	d := ds[0]
	if d.CompanyDomain != "acme.io" {
		t.Errorf("domain = %q, want acme.io", d.CompanyDomain)
	}
	if d.SourceType != model.SourceHNProfile {
		t.Errorf("source type = %s", d.SourceType)
	}
	if d.SourceURL != "https://news.ycombinator.com/user?id=bob" {
		t.Errorf("source url = %q", d.SourceURL)
	}
	// Bio signals carry no publication date, so recency scores as
	// unknown rather than from the account age.
	if d.SourcePublishedAt != nil {
		t.Errorf("published at = %v, want nil", d.SourcePublishedAt)
	}
	if d.ConfidenceScore != 34 {
		t.Errorf("score = %d, want 34", d.ConfidenceScore)
	}

	bob, err := store.GetAuthorProfile(ctx, "bob")
	if err != nil {
		t.Fatalf("get bob: %v", err)
	}
	if bob.CompanyDomain != "acme.io" || bob.DiscoveriesCreated != 1 {
		t.Errorf("bob profile = %+v", bob)
	}

	// Low-karma profiles are recorded but never mined for signals.
	low, err := store.GetAuthorProfile(ctx, "lowkarma")
	if err != nil {
		t.Fatalf("get lowkarma: %v", err)
	}
	if low.Karma != 5 || low.CompanyDomain != "" {
		t.Errorf("lowkarma profile = %+v", low)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		s     string
		limit int
		want  string
	}{
		{"short passes through", "abc", 10, "abc"},
		{"exact limit", "abcde", 5, "abcde"},
		{"ascii cut", "abcdef", 4, "abcd"},
		{"does not split a rune", "aééé", 4, "aé"},
		{"cut lands on boundary", "aééé", 3, "aé"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.s, tt.limit)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.s, tt.limit, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) produced invalid utf-8", tt.s, tt.limit)
			}
		})
	}
}
