package scan

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"signalscout/internal/model"
)

// Scheduler periodically runs the configured scans.
type Scheduler struct {
	orch     *Orchestrator
	log      *slog.Logger
	interval time.Duration
	sources  []model.SourceType
}

// NewScheduler creates a Scheduler that runs the given source scans on
// a fixed interval.
func NewScheduler(orch *Orchestrator, sources []model.SourceType, interval time.Duration, log *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Scheduler{
		orch:     orch,
		log:      log,
		interval: interval,
		sources:  sources,
	}
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
// The first cycle runs immediately.
func (s *Scheduler) Run(ctx context.Context) {
	s.scanAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanAll(ctx)
		}
	}
}

func (s *Scheduler) scanAll(ctx context.Context) {
	for _, source := range s.sources {
		if ctx.Err() != nil {
			return
		}
		var err error
		switch source {
		case model.SourceHNPost:
			_, err = s.orch.ScanHNFrontPage(ctx)
		case model.SourceHNProfile:
			_, err = s.orch.ScanHNComments(ctx)
		case model.SourceNewsArticle:
			_, err = s.orch.ScanFeeds(ctx)
		default:
			s.log.Warn("unsupported scan source", "source", source)
			continue
		}
		if errors.Is(err, ErrScanInProgress) {
			s.log.Warn("scan still running, skipping cycle", "source", source)
			continue
		}
		if err != nil {
			s.log.Error("scheduled scan", "source", source, "error", err)
		}
	}
}
