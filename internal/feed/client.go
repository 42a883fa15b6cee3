// Package feed handles RSS/Atom feed downloading and normalization.
package feed

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"signalscout/internal/httpx"
	"signalscout/internal/model"
)

// Feed is one configured news source.
type Feed struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Fetcher is the subset of the fetch layer the client needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts httpx.Options) ([]byte, error)
}

// Client downloads and parses news feeds.
type Client struct {
	fetcher  Fetcher
	sanitize *bluemonday.Policy
	log      *slog.Logger
}

// New creates a Client using the shared fetch layer.
func New(f Fetcher, log *slog.Logger) *Client {
	return &Client{
		fetcher:  f,
		sanitize: bluemonday.StrictPolicy(),
		log:      log,
	}
}

// Fetch downloads and parses one feed. gofeed handles RSS 2.0 with an
// Atom fallback and decodes HTML entities.
func (c *Client) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	body, err := c.fetcher.Fetch(ctx, url, httpx.Options{UseRateLimiter: true})
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// RecentArticles fetches all configured feeds in parallel, keeps
// articles newer than maxAge (undated articles count as recent enough),
// sorts the union by publish date descending, and truncates to
// maxArticles. A feed that fails to fetch or parse contributes zero
// articles and one entry in errs; the others are unaffected.
func (c *Client) RecentArticles(ctx context.Context, feeds []Feed, maxArticles int, maxAge time.Duration) (items []model.Item, errs []error) {
	cutoff := time.Now().Add(-maxAge)

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, f := range feeds {
		g.Go(func() error {
			parsed, err := c.Fetch(ctx, f.URL)
			if err != nil {
				c.log.Warn("fetch feed", "feed", f.Name, "url", f.URL, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("feed %s: %w", f.Name, err))
				mu.Unlock()
				return nil
			}
			var batch []model.Item
			for _, it := range parsed.Items {
				item := c.normalize(it)
				if !item.PublishedAt.IsZero() && item.PublishedAt.Before(cutoff) {
					continue
				}
				batch = append(batch, item)
			}
			mu.Lock()
			items = append(items, batch...)
			mu.Unlock()
			return nil
		})
	}
	// Workers record failures instead of returning them.
	_ = g.Wait()

	sort.Slice(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
	if maxArticles > 0 && len(items) > maxArticles {
		items = items[:maxArticles]
	}
	return items, errs
}

func (c *Client) normalize(it *gofeed.Item) model.Item {
	body := it.Description
	if body == "" {
		body = it.Content
	}
	body = strings.TrimSpace(c.sanitize.Sanitize(body))

	author := ""
	if it.Author != nil {
		author = it.Author.Name
	}

	var published time.Time
	if it.PublishedParsed != nil {
		published = it.PublishedParsed.UTC()
	} else if it.UpdatedParsed != nil {
		published = it.UpdatedParsed.UTC()
	}

	return model.Item{
		Source:      model.SourceNewsArticle,
		ID:          itemGUID(it),
		Author:      author,
		Title:       it.Title,
		Body:        body,
		URL:         it.Link,
		PublishedAt: published,
	}
}

// itemGUID returns the GUID for a feed item, falling back to a hash of
// title+link for feeds that omit GUIDs.
func itemGUID(it *gofeed.Item) string {
	if it.GUID != "" {
		return it.GUID
	}
	h := sha256.Sum256([]byte(it.Title + "|" + it.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}
