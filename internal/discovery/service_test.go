package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"signalscout/internal/model"
	"signalscout/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, 80, log), store
}

func candidate(domain string, score int) *model.Discovery {
	return &model.Discovery{
		Team:            "default",
		CompanyDomain:   domain,
		CompanyName:     "Acme",
		SourceType:      model.SourceHNPost,
		SourceURL:       "https://news.ycombinator.com/item?id=1",
		SourceTitle:     "Acme is down",
		TriggerText:     "captcha outage",
		KeywordsMatched: []string{"captcha"},
		KeywordCategory: model.CategoryPainSignal,
		ConfidenceScore: score,
		ProductTags:     []string{"bot-defense"},
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	cand := candidate("acme.io", 72)
	outcome, err := svc.Create(ctx, cand)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeCreated)
	}
	got, err := store.GetDiscovery(ctx, cand.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusNew {
		t.Errorf("status = %s, want %s", got.Status, model.StatusNew)
	}
}

func TestCreateAutoPromotes(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	cand := candidate("acme.io", 85)
	outcome, err := svc.Create(ctx, cand)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if outcome != OutcomeAutoPromoted {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeAutoPromoted)
	}
	if cand.PromotedProspectID == 0 {
		t.Fatal("expected prospect id on candidate")
	}

	got, err := store.GetDiscovery(ctx, cand.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusPromoted {
		t.Errorf("status = %s, want %s", got.Status, model.StatusPromoted)
	}
	if got.PromotedProspectID != cand.PromotedProspectID {
		t.Errorf("prospect id = %d, want %d", got.PromotedProspectID, cand.PromotedProspectID)
	}

	pid, err := store.FindProspect(ctx, "default", "acme.io")
	if err != nil {
		t.Fatalf("find prospect: %v", err)
	}
	if pid != cand.PromotedProspectID {
		t.Errorf("stored prospect = %d, want %d", pid, cand.PromotedProspectID)
	}
}

func TestCreateDuplicateRaiseOnly(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	first := candidate("acme.io", 72)
	if _, err := svc.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	// A weaker repeat sighting changes nothing.
	weaker := candidate("acme.io", 50)
	weaker.KeywordsMatched = []string{"slow"}
	outcome, err := svc.Create(ctx, weaker)
	if err != nil {
		t.Fatalf("create weaker: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeDuplicate)
	}
	if weaker.ID != first.ID {
		t.Errorf("duplicate resolved to id %d, want %d", weaker.ID, first.ID)
	}
	got, err := store.GetDiscovery(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ConfidenceScore != 72 {
		t.Errorf("score lowered to %d", got.ConfidenceScore)
	}
	if diff := cmp.Diff([]string{"captcha"}, got.KeywordsMatched); diff != "" {
		t.Errorf("keywords mismatch (-want +got):\n%s", diff)
	}

	// A stronger one refreshes score, keywords, and tags.
	stronger := candidate("acme.io", 77)
	stronger.KeywordsMatched = []string{"captcha", "ddos"}
	stronger.ProductTags = []string{"bot-defense", "edge"}
	outcome, err = svc.Create(ctx, stronger)
	if err != nil {
		t.Fatalf("create stronger: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeDuplicate)
	}
	got, err = store.GetDiscovery(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ConfidenceScore != 77 {
		t.Errorf("score = %d, want 77", got.ConfidenceScore)
	}
	if diff := cmp.Diff([]string{"captcha", "ddos"}, got.KeywordsMatched); diff != "" {
		t.Errorf("keywords mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"bot-defense", "edge"}, got.ProductTags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestPromote(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	cand := candidate("acme.io", 60)
	if _, err := svc.Create(ctx, cand); err != nil {
		t.Fatalf("create: %v", err)
	}

	pid, err := svc.Promote(ctx, cand.ID, "default")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if pid == 0 {
		t.Fatal("expected non-zero prospect id")
	}

	// Idempotent.
	again, err := svc.Promote(ctx, cand.ID, "default")
	if err != nil {
		t.Fatalf("promote again: %v", err)
	}
	if again != pid {
		t.Errorf("second promote = %d, want %d", again, pid)
	}
}

func TestPromoteExistingProspect(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	first := candidate("acme.io", 60)
	if _, err := svc.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	pid, err := svc.Promote(ctx, first.ID, "default")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}

	second := candidate("acme.io", 60)
	second.SourceURL = "https://news.ycombinator.com/item?id=2"
	if _, err := svc.Create(ctx, second); err != nil {
		t.Fatalf("create second: %v", err)
	}
	got, err := svc.Promote(ctx, second.ID, "default")
	if err != nil {
		t.Fatalf("promote second: %v", err)
	}
	if got != pid {
		t.Errorf("linked prospect = %d, want %d", got, pid)
	}

	d, err := store.GetDiscovery(ctx, second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.Status != model.StatusDuplicate {
		t.Errorf("status = %s, want %s", d.Status, model.StatusDuplicate)
	}
	if d.PromotedProspectID != pid {
		t.Errorf("prospect id = %d, want %d", d.PromotedProspectID, pid)
	}
}

func TestPromoteDismissed(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	cand := candidate("acme.io", 60)
	if _, err := svc.Create(ctx, cand); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Dismiss(ctx, cand.ID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if _, err := svc.Promote(ctx, cand.ID, "default"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("promote dismissed = %v, want ErrInvalidTransition", err)
	}
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	cand := candidate("acme.io", 60)
	if _, err := svc.Create(ctx, cand); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.SetStatus(ctx, cand.ID, model.StatusReviewing); err != nil {
		t.Fatalf("set reviewed: %v", err)
	}
	d, err := store.GetDiscovery(ctx, cand.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.Status != model.StatusReviewing {
		t.Errorf("status = %s, want %s", d.Status, model.StatusReviewing)
	}

	// Setting the current status is a no-op.
	if err := svc.SetStatus(ctx, cand.ID, model.StatusReviewing); err != nil {
		t.Errorf("repeat set: %v", err)
	}

	// Terminal states reject further transitions.
	if err := svc.Dismiss(ctx, cand.ID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if err := svc.SetStatus(ctx, cand.ID, model.StatusNew); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("revive dismissed = %v, want ErrInvalidTransition", err)
	}
}

func TestShouldCreate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	ok, err := svc.ShouldCreate(ctx, "default", "acme.io")
	if err != nil {
		t.Fatalf("should create: %v", err)
	}
	if !ok {
		t.Error("expected true for unseen domain")
	}

	cand := candidate("acme.io", 72)
	if _, err := svc.Create(ctx, cand); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err = svc.ShouldCreate(ctx, "default", "acme.io")
	if err != nil {
		t.Fatalf("should create: %v", err)
	}
	if ok {
		t.Error("expected false inside the dedupe window")
	}

	// Other teams are unaffected.
	ok, err = svc.ShouldCreate(ctx, "other", "acme.io")
	if err != nil {
		t.Fatalf("should create: %v", err)
	}
	if !ok {
		t.Error("expected true for other team")
	}

	// A dismissed discovery stops suppressing.
	if err := svc.Dismiss(ctx, cand.ID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	ok, err = svc.ShouldCreate(ctx, "default", "acme.io")
	if err != nil {
		t.Fatalf("should create: %v", err)
	}
	if !ok {
		t.Error("expected true after dismissal")
	}
}
