// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"signalscout/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateDiscovery is returned when an insert hits the
// (company_domain, source_url) uniqueness constraint. This is the
// expected duplicate path, not a failure.
var ErrDuplicateDiscovery = errors.New("duplicate discovery")

// DiscoveryFilter narrows a discovery listing. Zero values mean "any".
type DiscoveryFilter struct {
	Team     string
	Status   model.DiscoveryStatus
	Domain   string
	MinScore int
	Limit    int
}

// Storage is the interface for all persistence operations.
type Storage interface {
	// Keyword taxonomy. Writers must invalidate the matcher cache.
	CreateKeyword(ctx context.Context, kw *model.KeywordDefinition) error
	UpdateKeyword(ctx context.Context, kw *model.KeywordDefinition) error
	DeleteKeyword(ctx context.Context, id int64) error
	ListKeywords(ctx context.Context) ([]model.KeywordDefinition, error)
	ListActiveKeywords(ctx context.Context) ([]model.KeywordDefinition, error)

	// Discoveries. InsertDiscovery returns ErrDuplicateDiscovery when the
	// (company_domain, source_url) key already exists.
	InsertDiscovery(ctx context.Context, d *model.Discovery) error
	GetDiscovery(ctx context.Context, id int64) (*model.Discovery, error)
	FindDiscoveryByKey(ctx context.Context, domain, sourceURL string) (*model.Discovery, error)
	RefreshDiscoverySignal(ctx context.Context, id int64, score int, keywords, tags []string) error
	SetDiscoveryStatus(ctx context.Context, id int64, status model.DiscoveryStatus, prospectID int64) error
	ListDiscoveries(ctx context.Context, f DiscoveryFilter) ([]model.Discovery, error)
	RecentDiscoveryExists(ctx context.Context, team, domain string, since time.Time) (bool, error)

	// Author profiles. Upsert preserves first_seen_at; profiles are never
	// deleted, only excluded.
	UpsertAuthorProfile(ctx context.Context, p *model.AuthorProfile) error
	GetAuthorProfile(ctx context.Context, username string) (*model.AuthorProfile, error)
	ExcludeAuthor(ctx context.Context, username, reason string) error

	// Scan runs.
	CreateRun(ctx context.Context, run *model.ScanRun) error
	UpdateRun(ctx context.Context, run *model.ScanRun) error
	GetRun(ctx context.Context, id string) (*model.ScanRun, error)

	// Prospect collaborator contract: find-or-create by (team, domain).
	FindProspect(ctx context.Context, team, domain string) (int64, error)
	FindOrCreateProspect(ctx context.Context, team, domain, name string) (int64, error)

	Close() error
}
