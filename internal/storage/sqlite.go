package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"signalscout/internal/model"
	"signalscout/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

const discoveryCols = `id, team, company_domain, company_name, source_type, source_url,
	source_title, trigger_text, keywords_matched, keyword_category, confidence_score,
	product_tags, status, promoted_prospect_id, discovered_at, source_published_at`

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// --- keyword taxonomy ---

// CreateKeyword inserts a new taxonomy entry and populates its ID.
func (s *SQLite) CreateKeyword(ctx context.Context, kw *model.KeywordDefinition) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO keywords (keyword, category, weight, active, product_tags, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		kw.Keyword, string(kw.Category), kw.Weight, boolToInt(kw.Active), joinList(kw.ProductTags), now,
	)
	if err != nil {
		return fmt.Errorf("insert keyword: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	kw.ID = id
	kw.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// UpdateKeyword persists changes to an existing taxonomy entry.
func (s *SQLite) UpdateKeyword(ctx context.Context, kw *model.KeywordDefinition) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE keywords SET keyword = ?, category = ?, weight = ?, active = ?, product_tags = ?
		 WHERE id = ?`,
		kw.Keyword, string(kw.Category), kw.Weight, boolToInt(kw.Active), joinList(kw.ProductTags), kw.ID,
	)
	if err != nil {
		return fmt.Errorf("update keyword: %w", err)
	}
	return nil
}

// DeleteKeyword removes a taxonomy entry by its ID.
func (s *SQLite) DeleteKeyword(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM keywords WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete keyword: %w", err)
	}
	return nil
}

// ListKeywords returns the full taxonomy, active or not.
func (s *SQLite) ListKeywords(ctx context.Context) ([]model.KeywordDefinition, error) {
	return s.queryKeywords(ctx,
		`SELECT id, keyword, category, weight, active, product_tags, created_at
		 FROM keywords ORDER BY weight DESC, id`)
}

// ListActiveKeywords returns active taxonomy entries, highest weight first.
func (s *SQLite) ListActiveKeywords(ctx context.Context) ([]model.KeywordDefinition, error) {
	return s.queryKeywords(ctx,
		`SELECT id, keyword, category, weight, active, product_tags, created_at
		 FROM keywords WHERE active = 1 ORDER BY weight DESC, id`)
}

func (s *SQLite) queryKeywords(ctx context.Context, query string) ([]model.KeywordDefinition, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var kws []model.KeywordDefinition
	for rows.Next() {
		var kw model.KeywordDefinition
		var category, tags, created string
		var active int
		if err := rows.Scan(&kw.ID, &kw.Keyword, &category, &kw.Weight, &active, &tags, &created); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		kw.Category = model.KeywordCategory(category)
		kw.Active = active == 1
		kw.ProductTags = splitList(tags)
		kw.CreatedAt, _ = time.Parse(timeLayout, created)
		kws = append(kws, kw)
	}
	return kws, rows.Err()
}

// --- discoveries ---

// InsertDiscovery inserts a new discovery, populating its ID. Returns
// ErrDuplicateDiscovery if the (company_domain, source_url) key exists.
func (s *SQLite) InsertDiscovery(ctx context.Context, d *model.Discovery) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO discoveries (team, company_domain, company_name, source_type, source_url,
		   source_title, trigger_text, keywords_matched, keyword_category, confidence_score,
		   product_tags, status, promoted_prospect_id, discovered_at, source_published_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Team, d.CompanyDomain, d.CompanyName, string(d.SourceType), d.SourceURL,
		d.SourceTitle, d.TriggerText, joinList(d.KeywordsMatched), string(d.KeywordCategory),
		d.ConfidenceScore, joinList(d.ProductTags), string(d.Status), d.PromotedProspectID,
		now.Format(timeLayout), formatTimePtr(d.SourcePublishedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateDiscovery
		}
		return fmt.Errorf("insert discovery: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	d.ID = id
	d.DiscoveredAt = now
	return nil
}

// GetDiscovery returns a single discovery by its ID.
func (s *SQLite) GetDiscovery(ctx context.Context, id int64) (*model.Discovery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+discoveryCols+` FROM discoveries WHERE id = ?`, id)
	return scanDiscovery(row)
}

// FindDiscoveryByKey looks a discovery up by its true uniqueness key.
func (s *SQLite) FindDiscoveryByKey(ctx context.Context, domain, sourceURL string) (*model.Discovery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+discoveryCols+` FROM discoveries WHERE company_domain = ? AND source_url = ?`,
		domain, sourceURL)
	return scanDiscovery(row)
}

// RefreshDiscoverySignal updates a discovery's score, keywords, and tags
// after a stronger repeat sighting. Callers only pass higher scores.
func (s *SQLite) RefreshDiscoverySignal(ctx context.Context, id int64, score int, keywords, tags []string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE discoveries SET confidence_score = ?, keywords_matched = ?, product_tags = ?
		 WHERE id = ?`,
		score, joinList(keywords), joinList(tags), id,
	)
	if err != nil {
		return fmt.Errorf("refresh discovery: %w", err)
	}
	return nil
}

// SetDiscoveryStatus updates a discovery's lifecycle state and, when
// non-zero, its linked prospect.
func (s *SQLite) SetDiscoveryStatus(ctx context.Context, id int64, status model.DiscoveryStatus, prospectID int64) error {
	var err error
	if prospectID != 0 {
		_, err = s.db.ExecContext(ctx,
			`UPDATE discoveries SET status = ?, promoted_prospect_id = ? WHERE id = ?`,
			string(status), prospectID, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE discoveries SET status = ? WHERE id = ?`, string(status), id)
	}
	if err != nil {
		return fmt.Errorf("set discovery status: %w", err)
	}
	return nil
}

// ListDiscoveries returns discoveries matching the filter, newest first.
func (s *SQLite) ListDiscoveries(ctx context.Context, f DiscoveryFilter) ([]model.Discovery, error) {
	q := sq.Select(discoveryCols).From("discoveries").OrderBy("discovered_at DESC, id DESC")
	if f.Team != "" {
		q = q.Where(sq.Eq{"team": f.Team})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.Domain != "" {
		q = q.Where(sq.Eq{"company_domain": f.Domain})
	}
	if f.MinScore > 0 {
		q = q.Where(sq.GtOrEq{"confidence_score": f.MinScore})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build discovery query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query discoveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Discovery
	for rows.Next() {
		d, err := scanDiscovery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// RecentDiscoveryExists reports whether a non-dismissed discovery for
// (team, domain) exists since the given time, regardless of source URL.
func (s *SQLite) RecentDiscoveryExists(ctx context.Context, team, domain string, since time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM discoveries
		 WHERE team = ? AND company_domain = ? AND status != ? AND discovered_at >= ?`,
		team, domain, string(model.StatusDismissed), since.UTC().Format(timeLayout),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check recent discovery: %w", err)
	}
	return count > 0, nil
}

// --- author profiles ---

// UpsertAuthorProfile inserts or updates a profile by username.
// first_seen_at is preserved on update; everything else is overwritten
// with the caller's values.
func (s *SQLite) UpsertAuthorProfile(ctx context.Context, p *model.AuthorProfile) error {
	now := time.Now().UTC()
	if p.FirstSeenAt.IsZero() {
		p.FirstSeenAt = now
	}
	if p.LastScannedAt.IsZero() {
		p.LastScannedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO author_profiles (username, karma, account_created_at, company_domain,
		   company_name, company_confidence, github, linkedin, twitter, first_seen_at,
		   last_scanned_at, scan_count, discoveries_created, excluded, exclude_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET
		   karma = excluded.karma,
		   account_created_at = excluded.account_created_at,
		   company_domain = excluded.company_domain,
		   company_name = excluded.company_name,
		   company_confidence = excluded.company_confidence,
		   github = excluded.github,
		   linkedin = excluded.linkedin,
		   twitter = excluded.twitter,
		   last_scanned_at = excluded.last_scanned_at,
		   scan_count = excluded.scan_count,
		   discoveries_created = excluded.discoveries_created,
		   excluded = excluded.excluded,
		   exclude_reason = excluded.exclude_reason`,
		p.Username, p.Karma, formatTimePtr(p.AccountCreatedAt), p.CompanyDomain,
		p.CompanyName, p.CompanyConfidence, p.Social.GitHub, p.Social.LinkedIn,
		p.Social.Twitter, p.FirstSeenAt.UTC().Format(timeLayout),
		p.LastScannedAt.UTC().Format(timeLayout), p.ScanCount, p.DiscoveriesCreated,
		boolToInt(p.Excluded), p.ExcludeReason,
	)
	if err != nil {
		return fmt.Errorf("upsert author profile: %w", err)
	}
	return nil
}

// GetAuthorProfile returns a profile by username.
func (s *SQLite) GetAuthorProfile(ctx context.Context, username string) (*model.AuthorProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, karma, account_created_at, company_domain, company_name,
		   company_confidence, github, linkedin, twitter, first_seen_at, last_scanned_at,
		   scan_count, discoveries_created, excluded, exclude_reason
		 FROM author_profiles WHERE username = ?`, username)

	var p model.AuthorProfile
	var accountCreated sql.NullString
	var firstSeen, lastScanned string
	var excluded int
	err := row.Scan(&p.Username, &p.Karma, &accountCreated, &p.CompanyDomain, &p.CompanyName,
		&p.CompanyConfidence, &p.Social.GitHub, &p.Social.LinkedIn, &p.Social.Twitter,
		&firstSeen, &lastScanned, &p.ScanCount, &p.DiscoveriesCreated, &excluded, &p.ExcludeReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan author profile: %w", err)
	}
	p.AccountCreatedAt = parseTimePtr(accountCreated)
	p.FirstSeenAt, _ = time.Parse(timeLayout, firstSeen)
	p.LastScannedAt, _ = time.Parse(timeLayout, lastScanned)
	p.Excluded = excluded == 1
	return &p, nil
}

// ExcludeAuthor flags a profile as excluded from future scans.
func (s *SQLite) ExcludeAuthor(ctx context.Context, username, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE author_profiles SET excluded = 1, exclude_reason = ? WHERE username = ?`,
		reason, username)
	if err != nil {
		return fmt.Errorf("exclude author: %w", err)
	}
	return nil
}

// --- scan runs ---

// CreateRun inserts a run in its initial state.
func (s *SQLite) CreateRun(ctx context.Context, run *model.ScanRun) error {
	details, err := json.Marshal(run.ErrorDetails)
	if err != nil {
		return fmt.Errorf("marshal error details: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scan_runs (id, source_type, run_type, started_at, completed_at, status,
		   items_scanned, discoveries_created, duplicates_skipped, auto_promoted,
		   errors_count, error_details, cursor)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.SourceType), run.RunType, run.StartedAt.UTC().Format(timeLayout),
		formatTimePtr(run.CompletedAt), string(run.Status), run.ItemsScanned,
		run.DiscoveriesCreated, run.DuplicatesSkipped, run.AutoPromoted,
		run.ErrorsCount, string(details), run.Cursor,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun persists a run's current counters and status.
func (s *SQLite) UpdateRun(ctx context.Context, run *model.ScanRun) error {
	details, err := json.Marshal(run.ErrorDetails)
	if err != nil {
		return fmt.Errorf("marshal error details: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE scan_runs SET completed_at = ?, status = ?, items_scanned = ?,
		   discoveries_created = ?, duplicates_skipped = ?, auto_promoted = ?,
		   errors_count = ?, error_details = ?, cursor = ?
		 WHERE id = ?`,
		formatTimePtr(run.CompletedAt), string(run.Status), run.ItemsScanned,
		run.DiscoveriesCreated, run.DuplicatesSkipped, run.AutoPromoted,
		run.ErrorsCount, string(details), run.Cursor, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// GetRun returns a run by its ID.
func (s *SQLite) GetRun(ctx context.Context, id string) (*model.ScanRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_type, run_type, started_at, completed_at, status, items_scanned,
		   discoveries_created, duplicates_skipped, auto_promoted, errors_count,
		   error_details, cursor
		 FROM scan_runs WHERE id = ?`, id)

	var run model.ScanRun
	var sourceType, status, started, details string
	var completed sql.NullString
	err := row.Scan(&run.ID, &sourceType, &run.RunType, &started, &completed, &status,
		&run.ItemsScanned, &run.DiscoveriesCreated, &run.DuplicatesSkipped,
		&run.AutoPromoted, &run.ErrorsCount, &details, &run.Cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run row: %w", err)
	}
	run.SourceType = model.SourceType(sourceType)
	run.Status = model.RunStatus(status)
	run.StartedAt, _ = time.Parse(timeLayout, started)
	run.CompletedAt = parseTimePtr(completed)
	if details != "" {
		_ = json.Unmarshal([]byte(details), &run.ErrorDetails)
	}
	return &run, nil
}

// --- prospects ---

// FindProspect returns the prospect id for (team, domain), or ErrNotFound.
func (s *SQLite) FindProspect(ctx context.Context, team, domain string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM prospects WHERE team = ? AND domain = ?`, team, domain).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("find prospect: %w", err)
	}
	return id, nil
}

// FindOrCreateProspect returns the prospect id for (team, domain),
// creating a minimal record if none exists. Name falls back to the
// bare domain.
func (s *SQLite) FindOrCreateProspect(ctx context.Context, team, domain, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM prospects WHERE team = ? AND domain = ?`, team, domain).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("find prospect: %w", err)
	}

	if name == "" {
		name = domain
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO prospects (team, domain, name, created_at) VALUES (?, ?, ?, ?)`,
		team, domain, name, time.Now().UTC().Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			// Lost an insert race; the row exists now.
			err = s.db.QueryRowContext(ctx,
				`SELECT id FROM prospects WHERE team = ? AND domain = ?`, team, domain).Scan(&id)
			if err != nil {
				return 0, fmt.Errorf("find prospect after race: %w", err)
			}
			return id, nil
		}
		return 0, fmt.Errorf("insert prospect: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// --- helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// joinList serializes a string slice as a JSON array, empty slice as "".
func joinList(list []string) string {
	if len(list) == 0 {
		return ""
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func formatTimePtr(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDiscovery(row scannable) (*model.Discovery, error) {
	var d model.Discovery
	var sourceType, status, keywords, category, tags, discovered string
	var published sql.NullString
	err := row.Scan(&d.ID, &d.Team, &d.CompanyDomain, &d.CompanyName, &sourceType,
		&d.SourceURL, &d.SourceTitle, &d.TriggerText, &keywords, &category,
		&d.ConfidenceScore, &tags, &status, &d.PromotedProspectID, &discovered, &published)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan discovery: %w", err)
	}
	d.SourceType = model.SourceType(sourceType)
	d.Status = model.DiscoveryStatus(status)
	d.KeywordsMatched = splitList(keywords)
	d.KeywordCategory = model.KeywordCategory(category)
	d.ProductTags = splitList(tags)
	d.DiscoveredAt, _ = time.Parse(timeLayout, discovered)
	d.SourcePublishedAt = parseTimePtr(published)
	return &d, nil
}
