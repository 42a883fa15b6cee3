// Package model defines the domain types used across the application.
package model

import "time"

// SourceType identifies where a signal was observed.
type SourceType string

// Known source types.
const (
	SourceStatusPage    SourceType = "status_page"
	SourceNewsArticle   SourceType = "news_article"
	SourceHNPost        SourceType = "hn_post"
	SourceGitHubIssue   SourceType = "github_issue"
	SourceHNProfile     SourceType = "hn_profile"
	SourceRedditPost    SourceType = "reddit_post"
	SourceManual        SourceType = "manual"
	SourceTwitter       SourceType = "twitter"
	SourceHNComment     SourceType = "hn_comment"
	SourceRedditComment SourceType = "reddit_comment"
)

// Item is a normalized unit of content from any source.
// Immutable once fetched.
type Item struct {
	Source      SourceType
	ID          string
	Author      string
	Title       string
	Body        string
	URL         string
	PublishedAt time.Time
	ParentID    string
	ChildIDs    []string
}

// ExtractionMethod describes how a domain was found in source content.
type ExtractionMethod string

// Supported extraction methods.
const (
	MethodURL     ExtractionMethod = "url"
	MethodMention ExtractionMethod = "mention"
	MethodEmail   ExtractionMethod = "email"
)

// ExtractedDomain is one candidate company domain pulled from an item.
type ExtractedDomain struct {
	Domain     string
	Method     ExtractionMethod
	Confidence float64
	Context    string
}

// KeywordCategory groups taxonomy keywords by the kind of signal they indicate.
type KeywordCategory string

// Supported keyword categories.
const (
	CategoryPainSignal KeywordCategory = "pain_signal"
	CategoryRegulatory KeywordCategory = "regulatory"
	CategoryCost       KeywordCategory = "cost"
	CategoryCompetitor KeywordCategory = "competitor"
)

// KeywordDefinition is one entry in the mutable keyword taxonomy.
type KeywordDefinition struct {
	ID          int64
	Keyword     string
	Category    KeywordCategory
	Weight      int
	Active      bool
	ProductTags []string
	CreatedAt   time.Time
}

// KeywordMatch records one keyword hit in a piece of text.
type KeywordMatch struct {
	Keyword     string
	Category    KeywordCategory
	Weight      int
	MatchedText string
	Position    int
}

// ConfidenceFactors are the five components of a discovery confidence score.
type ConfidenceFactors struct {
	KeywordScore      int // 0-40
	SourceReliability int // 0-20
	DomainQuality     int // 0-20
	Recency           int // 0-10
	ContextRelevance  int // 0-10
}

// Total returns the combined score clamped to [0,100].
func (f ConfidenceFactors) Total() int {
	t := f.KeywordScore + f.SourceReliability + f.DomainQuality + f.Recency + f.ContextRelevance
	if t < 0 {
		return 0
	}
	if t > 100 {
		return 100
	}
	return t
}

// DiscoveryStatus is the lifecycle state of a discovery.
type DiscoveryStatus string

// Discovery lifecycle states. Promoted and dismissed are terminal.
const (
	StatusNew       DiscoveryStatus = "new"
	StatusReviewing DiscoveryStatus = "reviewing"
	StatusPromoted  DiscoveryStatus = "promoted"
	StatusDismissed DiscoveryStatus = "dismissed"
	StatusDuplicate DiscoveryStatus = "duplicate"
)

// Discovery is a persisted candidate sales signal tying a company domain
// to one source sighting. At most one discovery exists per
// (CompanyDomain, SourceURL) pair.
type Discovery struct {
	ID                 int64
	Team               string
	CompanyDomain      string
	CompanyName        string
	SourceType         SourceType
	SourceURL          string
	SourceTitle        string
	TriggerText        string
	KeywordsMatched    []string
	KeywordCategory    KeywordCategory
	ConfidenceScore    int
	ProductTags        []string
	Status             DiscoveryStatus
	PromotedProspectID int64
	DiscoveredAt       time.Time
	SourcePublishedAt  *time.Time
}

// SocialLinks are profile handles extracted from an author bio.
type SocialLinks struct {
	GitHub   string
	LinkedIn string
	Twitter  string
}

// AuthorProfile is the persistent per-username record of inferred
// employer info, used to skip rescanning recently-seen authors.
// Profiles are never deleted, only flagged excluded.
type AuthorProfile struct {
	Username           string
	Karma              int
	AccountCreatedAt   *time.Time
	CompanyDomain      string
	CompanyName        string
	CompanyConfidence  float64
	Social             SocialLinks
	FirstSeenAt        time.Time
	LastScannedAt      time.Time
	ScanCount          int
	DiscoveriesCreated int
	Excluded           bool
	ExcludeReason      string
}

// RunStatus is the lifecycle state of a scan run.
type RunStatus string

// Scan run states.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunPartial   RunStatus = "partial"
)

// MaxRunErrors caps how many error details a run keeps.
const MaxRunErrors = 50

// ScanRun is one execution of a source scan and its bookkeeping.
type ScanRun struct {
	ID                 string
	SourceType         SourceType
	RunType            string
	StartedAt          time.Time
	CompletedAt        *time.Time
	Status             RunStatus
	ItemsScanned       int
	DiscoveriesCreated int
	DuplicatesSkipped  int
	AutoPromoted       int
	ErrorsCount        int
	ErrorDetails       []string
	Cursor             string
}

// AddError records an error detail, keeping at most MaxRunErrors entries.
// ErrorsCount still counts every error.
func (r *ScanRun) AddError(detail string) {
	r.ErrorsCount++
	if len(r.ErrorDetails) < MaxRunErrors {
		r.ErrorDetails = append(r.ErrorDetails, detail)
	}
}

// Prospect is the minimal tracked-company record a discovery promotes into.
// Owned by the CRM side; the engine only finds-or-creates by (team, domain).
type Prospect struct {
	ID        int64
	Team      string
	Domain    string
	Name      string
	CreatedAt time.Time
}
