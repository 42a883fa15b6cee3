// Package discovery owns the discovery lifecycle: dedupe, create,
// promote, and dismiss, including the auto-promotion path.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"signalscout/internal/model"
	"signalscout/internal/storage"
)

// Outcome reports what Create did with a candidate.
type Outcome string

// Create outcomes.
const (
	OutcomeCreated      Outcome = "created"
	OutcomeAutoPromoted Outcome = "auto_promoted"
	OutcomeDuplicate    Outcome = "duplicate"
)

// ErrInvalidTransition is returned for a disallowed status change.
var ErrInvalidTransition = errors.New("invalid status transition")

// dedupWindow is the recency window of the cheap domain-level pre-check.
// Deliberately coarser than the (domain, sourceURL) uniqueness key: it
// exists to skip extraction and scoring work, not to enforce uniqueness.
const dedupWindow = 7 * 24 * time.Hour

// Service implements the discovery state machine on top of storage.
type Service struct {
	store     storage.Storage
	log       *slog.Logger
	threshold int
	now       func() time.Time
}

// New creates a Service. threshold is the auto-promote score.
func New(store storage.Storage, threshold int, log *slog.Logger) *Service {
	return &Service{store: store, threshold: threshold, log: log, now: time.Now}
}

// Create persists a candidate, deduplicating against the
// (companyDomain, sourceURL) key and auto-promoting at the threshold.
//
// A repeat sighting only ever raises the stored score, keywords, and
// tags; a later, weaker signal never lowers them. An insert that loses
// a uniqueness race is folded into the duplicate path.
func (s *Service) Create(ctx context.Context, cand *model.Discovery) (Outcome, error) {
	if dup, err := s.refreshExisting(ctx, cand); err != nil {
		return "", err
	} else if dup {
		return OutcomeDuplicate, nil
	}

	cand.Status = model.StatusNew
	err := s.store.InsertDiscovery(ctx, cand)
	if errors.Is(err, storage.ErrDuplicateDiscovery) {
		// Lost the race; treat exactly like finding it up front.
		if _, err := s.refreshExisting(ctx, cand); err != nil {
			return "", err
		}
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", fmt.Errorf("create discovery: %w", err)
	}

	s.log.Debug("discovery created",
		"domain", cand.CompanyDomain, "source_url", cand.SourceURL, "score", cand.ConfidenceScore)

	if cand.ConfidenceScore >= s.threshold {
		pid, err := s.Promote(ctx, cand.ID, cand.Team)
		if err != nil {
			return OutcomeCreated, fmt.Errorf("auto-promote discovery %d: %w", cand.ID, err)
		}
		cand.PromotedProspectID = pid
		return OutcomeAutoPromoted, nil
	}
	return OutcomeCreated, nil
}

// refreshExisting looks the candidate's key up and, when found, applies
// the raise-only score refresh. Reports whether a row already existed.
func (s *Service) refreshExisting(ctx context.Context, cand *model.Discovery) (bool, error) {
	existing, err := s.store.FindDiscoveryByKey(ctx, cand.CompanyDomain, cand.SourceURL)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find discovery: %w", err)
	}
	if cand.ConfidenceScore > existing.ConfidenceScore {
		err := s.store.RefreshDiscoverySignal(ctx, existing.ID,
			cand.ConfidenceScore, cand.KeywordsMatched, cand.ProductTags)
		if err != nil {
			return false, err
		}
		s.log.Debug("discovery score raised",
			"id", existing.ID, "from", existing.ConfidenceScore, "to", cand.ConfidenceScore)
	}
	cand.ID = existing.ID
	return true, nil
}

// Promote converts a discovery into a prospect. Idempotent: an already
// promoted discovery returns its linked prospect id. If a prospect for
// (team, domain) already exists, the discovery is marked duplicate and
// linked instead of promoted.
func (s *Service) Promote(ctx context.Context, id int64, team string) (int64, error) {
	d, err := s.store.GetDiscovery(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("load discovery %d: %w", id, err)
	}
	if d.Status == model.StatusPromoted {
		return d.PromotedProspectID, nil
	}
	if d.Status == model.StatusDismissed {
		return 0, fmt.Errorf("promote discovery %d: %w: %s -> %s",
			id, ErrInvalidTransition, d.Status, model.StatusPromoted)
	}

	pid, err := s.store.FindProspect(ctx, team, d.CompanyDomain)
	if err == nil {
		if err := s.store.SetDiscoveryStatus(ctx, id, model.StatusDuplicate, pid); err != nil {
			return 0, err
		}
		s.log.Info("discovery linked to existing prospect", "id", id, "prospect_id", pid)
		return pid, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}

	pid, err = s.store.FindOrCreateProspect(ctx, team, d.CompanyDomain, d.CompanyName)
	if err != nil {
		return 0, err
	}
	if err := s.store.SetDiscoveryStatus(ctx, id, model.StatusPromoted, pid); err != nil {
		return 0, err
	}
	s.log.Info("discovery promoted", "id", id, "domain", d.CompanyDomain, "prospect_id", pid)
	return pid, nil
}

// Dismiss marks a discovery dismissed.
func (s *Service) Dismiss(ctx context.Context, id int64) error {
	return s.SetStatus(ctx, id, model.StatusDismissed)
}

// SetStatus applies a guarded status transition. Promoted and dismissed
// are terminal.
func (s *Service) SetStatus(ctx context.Context, id int64, status model.DiscoveryStatus) error {
	d, err := s.store.GetDiscovery(ctx, id)
	if err != nil {
		return fmt.Errorf("load discovery %d: %w", id, err)
	}
	if d.Status == status {
		return nil
	}
	if d.Status == model.StatusPromoted || d.Status == model.StatusDismissed {
		return fmt.Errorf("discovery %d: %w: %s -> %s", id, ErrInvalidTransition, d.Status, status)
	}
	return s.store.SetDiscoveryStatus(ctx, id, status, 0)
}

// ShouldCreate is the cheap pre-check scan orchestrators run before
// spending extraction and scoring work on a domain: skip it when any
// non-dismissed discovery for (team, domain) exists within the window.
func (s *Service) ShouldCreate(ctx context.Context, team, domain string) (bool, error) {
	exists, err := s.store.RecentDiscoveryExists(ctx, team, domain, s.now().Add(-dedupWindow))
	if err != nil {
		return false, err
	}
	return !exists, nil
}
