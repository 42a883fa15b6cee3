// Package hn is the Hacker News Firebase API client. It normalizes
// stories, comments, and user profiles into domain types, caching
// per-id lookups for the duration of a scan.
package hn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"signalscout/internal/httpx"
	"signalscout/internal/model"
)

const defaultBaseURL = "https://hacker-news.firebaseio.com/v0"

// maxChildrenPerComment bounds the comment-tree traversal: only the
// first few replies of each visited comment are followed.
const maxChildrenPerComment = 5

// Cache sizing for one scan.
const (
	itemCacheSize = 4000
	userCacheSize = 1000
	cacheTTL      = 30 * time.Minute
)

// Fetcher is the subset of the fetch layer the client needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts httpx.Options) ([]byte, error)
}

// User is a Hacker News user profile.
type User struct {
	Username  string
	Karma     int
	About     string
	CreatedAt time.Time
}

// apiItem is the raw Firebase item payload.
type apiItem struct {
	ID      int64   `json:"id"`
	Deleted bool    `json:"deleted"`
	Type    string  `json:"type"`
	By      string  `json:"by"`
	Time    int64   `json:"time"`
	Text    string  `json:"text"`
	Dead    bool    `json:"dead"`
	Parent  int64   `json:"parent"`
	Kids    []int64 `json:"kids"`
	URL     string  `json:"url"`
	Title   string  `json:"title"`
}

// apiUser is the raw Firebase user payload.
type apiUser struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Karma   int    `json:"karma"`
	About   string `json:"about"`
}

// Client fetches and normalizes Hacker News content.
type Client struct {
	fetcher Fetcher
	baseURL string
	items   *httpx.Cache[*model.Item]
	users   *httpx.Cache[*User]
	log     *slog.Logger
}

// New creates a Client using the shared fetch layer.
func New(f Fetcher, log *slog.Logger) *Client {
	return &Client{
		fetcher: f,
		baseURL: defaultBaseURL,
		items:   httpx.NewCache[*model.Item](itemCacheSize, cacheTTL),
		users:   httpx.NewCache[*User](userCacheSize, cacheTTL),
		log:     log,
	}
}

// PermalinkURL returns the canonical HN discussion URL for an item.
func PermalinkURL(id string) string {
	return "https://news.ycombinator.com/item?id=" + id
}

// FrontPage returns up to limit normalized front-page stories, plus
// per-story fetch errors.
func (c *Client) FrontPage(ctx context.Context, limit int) ([]model.Item, []error, error) {
	return c.stories(ctx, "topstories", limit)
}

// AskHN returns up to limit Ask HN stories.
func (c *Client) AskHN(ctx context.Context, limit int) ([]model.Item, []error, error) {
	return c.stories(ctx, "askstories", limit)
}

// ShowHN returns up to limit Show HN stories.
func (c *Client) ShowHN(ctx context.Context, limit int) ([]model.Item, []error, error) {
	return c.stories(ctx, "showstories", limit)
}

// stories returns the listed items plus one errs entry per story that
// failed to fetch, so callers can count partial failures. The error
// return is reserved for the id-list fetch itself.
func (c *Client) stories(ctx context.Context, list string, limit int) ([]model.Item, []error, error) {
	var ids []int64
	if err := c.get(ctx, fmt.Sprintf("%s/%s.json", c.baseURL, list), &ids); err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", list, err)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	items := make([]model.Item, 0, len(ids))
	var errs []error
	for _, id := range ids {
		item, err := c.Item(ctx, id)
		if err != nil {
			c.log.Warn("fetch story", "id", id, "error", err)
			errs = append(errs, err)
			continue
		}
		if item == nil {
			continue
		}
		items = append(items, *item)
	}
	return items, errs, nil
}

// Item fetches one item by id, returning nil for deleted or dead items.
// Results are cached for the duration of the scan.
func (c *Client) Item(ctx context.Context, id int64) (*model.Item, error) {
	key := strconv.FormatInt(id, 10)
	if item, ok := c.items.Get(key); ok {
		return item, nil
	}

	var raw apiItem
	if err := c.get(ctx, fmt.Sprintf("%s/item/%d.json", c.baseURL, id), &raw); err != nil {
		return nil, fmt.Errorf("fetch item %d: %w", id, err)
	}
	if raw.ID == 0 || raw.Deleted || raw.Dead {
		c.items.Put(key, nil)
		return nil, nil
	}

	item := normalizeItem(raw)
	c.items.Put(key, item)
	return item, nil
}

// User fetches one user profile, cached for the duration of the scan.
// Returns nil for unknown users.
func (c *Client) User(ctx context.Context, username string) (*User, error) {
	if u, ok := c.users.Get(username); ok {
		return u, nil
	}

	var raw apiUser
	if err := c.get(ctx, fmt.Sprintf("%s/user/%s.json", c.baseURL, username), &raw); err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", username, err)
	}
	if raw.ID == "" {
		c.users.Put(username, nil)
		return nil, nil
	}

	u := &User{
		Username:  raw.ID,
		Karma:     raw.Karma,
		About:     raw.About,
		CreatedAt: time.Unix(raw.Created, 0).UTC(),
	}
	c.users.Put(username, u)
	return u, nil
}

// Users fetches profiles with a bounded worker pool: concurrency
// workers pull usernames off a shared index until exhausted, so the
// politeness floor still paces the overall request stream. Individual
// failures are logged and skipped.
func (c *Client) Users(ctx context.Context, usernames []string, concurrency int) (map[string]*User, error) {
	if concurrency <= 0 {
		concurrency = 5
	}
	if concurrency > len(usernames) {
		concurrency = len(usernames)
	}

	var (
		mu   sync.Mutex
		out  = make(map[string]*User, len(usernames))
		next atomic.Int64
	)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			for {
				i := int(next.Add(1)) - 1
				if i >= len(usernames) {
					return nil
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				name := usernames[i]
				u, err := c.User(ctx, name)
				if err != nil {
					c.log.Warn("fetch user", "username", name, "error", err)
					continue
				}
				if u == nil {
					continue
				}
				mu.Lock()
				out[name] = u
				mu.Unlock()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

// StoryComments walks a story's comment tree breadth-first, bounded by
// maxDepth and maxComments. The initial batch is the story's direct
// children; each visited comment contributes at most five replies.
func (c *Client) StoryComments(ctx context.Context, storyID int64, maxDepth, maxComments int) ([]model.Item, error) {
	story, err := c.Item(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story == nil {
		return nil, nil
	}

	type frame struct {
		id    int64
		depth int
	}
	var queue []frame
	for _, kid := range story.ChildIDs {
		if id, err := strconv.ParseInt(kid, 10, 64); err == nil {
			queue = append(queue, frame{id: id, depth: 1})
		}
	}

	var comments []model.Item
	for len(queue) > 0 && len(comments) < maxComments {
		f := queue[0]
		queue = queue[1:]
		if f.depth > maxDepth {
			continue
		}

		item, err := c.Item(ctx, f.id)
		if err != nil {
			c.log.Warn("fetch comment", "id", f.id, "error", err)
			continue
		}
		if item == nil || item.Source != model.SourceHNComment {
			continue
		}
		comments = append(comments, *item)

		kids := item.ChildIDs
		if len(kids) > maxChildrenPerComment {
			kids = kids[:maxChildrenPerComment]
		}
		for _, kid := range kids {
			if id, err := strconv.ParseInt(kid, 10, 64); err == nil {
				queue = append(queue, frame{id: id, depth: f.depth + 1})
			}
		}
	}
	return comments, nil
}

// PurgeCaches drops the item and user caches. Called at the end of
// every scan run, success or failure.
func (c *Client) PurgeCaches() {
	c.items.Purge()
	c.users.Purge()
}

func (c *Client) get(ctx context.Context, url string, v any) error {
	body, err := c.fetcher.Fetch(ctx, url, httpx.Options{UseRateLimiter: true})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func normalizeItem(raw apiItem) *model.Item {
	item := &model.Item{
		ID:          strconv.FormatInt(raw.ID, 10),
		Author:      raw.By,
		Title:       raw.Title,
		Body:        raw.Text,
		URL:         raw.URL,
		PublishedAt: time.Unix(raw.Time, 0).UTC(),
	}
	switch raw.Type {
	case "comment":
		item.Source = model.SourceHNComment
	default:
		item.Source = model.SourceHNPost
	}
	if raw.Parent != 0 {
		item.ParentID = strconv.FormatInt(raw.Parent, 10)
	}
	for _, kid := range raw.Kids {
		item.ChildIDs = append(item.ChildIDs, strconv.FormatInt(kid, 10))
	}
	return item
}
