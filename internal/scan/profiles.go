package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"signalscout/internal/discovery"
	"signalscout/internal/extract"
	"signalscout/internal/model"
	"signalscout/internal/scoring"
	"signalscout/internal/storage"
)

// profileCache remembers author lookups within a single run so an
// author commenting on several items costs one fetch at most.
type profileCache struct {
	domains map[string]*model.ExtractedDomain // nil value = looked up, nothing found
}

func newProfileCache() *profileCache {
	return &profileCache{domains: make(map[string]*model.ExtractedDomain)}
}

// authorDomain resolves an item author to a company domain: in-run
// cache first, then the stored profile if scanned recently enough,
// then a live profile fetch and bio extraction.
func (o *Orchestrator) authorDomain(ctx context.Context, run *model.ScanRun, username string,
	cache *profileCache) *model.ExtractedDomain {

	if ed, ok := cache.domains[username]; ok {
		return ed
	}

	stored, err := o.store.GetAuthorProfile(ctx, username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		run.AddError(fmt.Sprintf("load profile %s: %v", username, err))
		o.log.Error("load profile", "username", username, "error", err)
		return nil
	}
	if stored != nil {
		if stored.Excluded {
			cache.domains[username] = nil
			return nil
		}
		if time.Since(stored.LastScannedAt) < o.cfg.RescanAfter {
			ed := domainFromProfile(stored, o.cfg.MinConfidence)
			cache.domains[username] = ed
			return ed
		}
	}

	res, profile, err := o.scanProfile(ctx, username, stored)
	if err != nil {
		run.AddError(fmt.Sprintf("scan profile %s: %v", username, err))
		o.log.Error("scan profile", "username", username, "error", err)
		cache.domains[username] = nil
		return nil
	}
	if err := o.store.UpsertAuthorProfile(ctx, profile); err != nil {
		run.AddError(fmt.Sprintf("save profile %s: %v", username, err))
		o.log.Error("save profile", "username", username, "error", err)
	}

	var ed *model.ExtractedDomain
	if res != nil && res.Domain != "" && res.Confidence >= o.cfg.MinConfidence {
		ed = &model.ExtractedDomain{
			Domain:     res.Domain,
			Method:     model.MethodMention,
			Confidence: res.Confidence,
			Context:    "author profile: " + res.Source,
		}
	}
	cache.domains[username] = ed
	return ed
}

// scanProfile fetches a user, extracts company signals from the bio,
// and folds the result into a fresh or updated AuthorProfile record.
// res is nil when the bio was skipped (low karma or empty).
func (o *Orchestrator) scanProfile(ctx context.Context, username string,
	stored *model.AuthorProfile) (*extract.BioResult, *model.AuthorProfile, error) {

	user, err := o.hn.User(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, fmt.Errorf("user %s not found", username)
	}

	now := time.Now().UTC()
	profile := stored
	if profile == nil {
		profile = &model.AuthorProfile{Username: username, FirstSeenAt: now}
	}
	profile.Karma = user.Karma
	if !user.CreatedAt.IsZero() {
		t := user.CreatedAt
		profile.AccountCreatedAt = &t
	}
	profile.LastScannedAt = now
	profile.ScanCount++

	if user.Karma < o.cfg.MinKarma || user.About == "" {
		return nil, profile, nil
	}

	bio := decodeBio(user.About)
	res := extract.FromBio(bio)
	if o.cfg.EnrichWithGitHub && o.github != nil && res.Social.GitHub != "" {
		if err := o.github.Validate(ctx, &res); err != nil {
			o.log.Warn("github validation", "username", username, "error", err)
		}
	}

	profile.CompanyDomain = res.Domain
	profile.CompanyName = res.Name
	profile.CompanyConfidence = res.Confidence
	profile.Social = res.Social
	return &res, profile, nil
}

func domainFromProfile(p *model.AuthorProfile, minConfidence float64) *model.ExtractedDomain {
	if p.CompanyDomain == "" || p.CompanyConfidence < minConfidence {
		return nil
	}
	return &model.ExtractedDomain{
		Domain:     p.CompanyDomain,
		Method:     model.MethodMention,
		Confidence: p.CompanyConfidence,
		Context:    "author profile",
	}
}

// mineProfiles is the comment-mining pipeline: pick the most
// keyword-relevant front-page stories, walk their comment trees,
// and scan the distinct commenters' profiles for company signals.
func (o *Orchestrator) mineProfiles(ctx context.Context, run *model.ScanRun) error {
	stories, fetchErrs, err := o.hn.FrontPage(ctx, o.cfg.MaxItems)
	if err != nil {
		return err
	}
	for _, e := range fetchErrs {
		run.AddError(e.Error())
	}

	type scored struct {
		item  model.Item
		score int
	}
	relevant := make([]scored, 0, len(stories))
	for _, s := range stories {
		match, err := o.matcher.Match(ctx, itemText(s))
		if err != nil {
			return fmt.Errorf("match story %s: %v", s.ID, err)
		}
		if match.Relevant(o.cfg.MinKeywordScore) {
			relevant = append(relevant, scored{item: s, score: match.TotalScore})
		}
	}
	sort.SliceStable(relevant, func(i, j int) bool { return relevant[i].score > relevant[j].score })
	if len(relevant) > o.cfg.MaxStoriesPerScan {
		relevant = relevant[:o.cfg.MaxStoriesPerScan]
	}

	seen := make(map[string]bool)
	var pending []string
	for _, s := range relevant {
		if err := ctx.Err(); err != nil {
			return err
		}
		storyID, err := strconv.ParseInt(s.item.ID, 10, 64)
		if err != nil {
			continue
		}
		comments, err := o.hn.StoryComments(ctx, storyID, o.cfg.MaxCommentDepth, o.cfg.MaxCommentsPerStory)
		if err != nil {
			run.AddError(fmt.Sprintf("comments for story %s: %v", s.item.ID, err))
			o.log.Error("story comments", "story", s.item.ID, "error", err)
			continue
		}
		count := 0
		for _, c := range comments {
			if c.Author == "" || seen[c.Author] {
				continue
			}
			seen[c.Author] = true
			pending = append(pending, c.Author)
			count++
			if count >= o.cfg.MaxUsersPerStory {
				break
			}
		}
	}

	// Drop authors scanned recently or excluded before fetching.
	targets := pending[:0]
	for _, username := range pending {
		stored, err := o.store.GetAuthorProfile(ctx, username)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			run.AddError(fmt.Sprintf("load profile %s: %v", username, err))
			continue
		}
		if stored != nil {
			if stored.Excluded || time.Since(stored.LastScannedAt) < o.cfg.RescanAfter {
				continue
			}
		}
		targets = append(targets, username)
	}

	users, err := o.hn.Users(ctx, targets, o.cfg.UserConcurrency)
	if err != nil {
		return err
	}

	for _, username := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		user := users[username]
		if user == nil {
			run.AddError(fmt.Sprintf("profile %s: not found", username))
			continue
		}
		o.mineProfile(ctx, run, username)
	}
	return nil
}

// mineProfile scans one commenter profile and creates a discovery when
// the extracted company signal is strong enough. The user itself is
// served from the client cache warmed by the Users fan-out.
func (o *Orchestrator) mineProfile(ctx context.Context, run *model.ScanRun, username string) {
	run.ItemsScanned++

	stored, err := o.store.GetAuthorProfile(ctx, username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		run.AddError(fmt.Sprintf("load profile %s: %v", username, err))
		return
	}

	res, profile, err := o.scanProfile(ctx, username, stored)
	if err != nil {
		run.AddError(fmt.Sprintf("scan profile %s: %v", username, err))
		o.log.Error("scan profile", "username", username, "error", err)
		return
	}
	if res == nil || res.Domain == "" || res.Confidence < o.cfg.MinConfidence {
		o.saveProfile(ctx, run, profile)
		return
	}

	ok, err := o.disc.ShouldCreate(ctx, o.cfg.Team, res.Domain)
	if err != nil {
		run.AddError(fmt.Sprintf("dedup check %s: %v", res.Domain, err))
		o.saveProfile(ctx, run, profile)
		return
	}
	if !ok {
		run.DuplicatesSkipped++
		o.saveProfile(ctx, run, profile)
		return
	}

	ed := model.ExtractedDomain{
		Domain:     res.Domain,
		Method:     model.MethodMention,
		Confidence: res.Confidence,
	}
	// A bio signal has no publication date; account age says nothing
	// about how fresh the signal is.
	factors := scoring.Confidence(scoring.Candidate{
		Domain:      ed,
		Source:      model.SourceHNProfile,
		SourceTitle: username,
		TriggerText: res.Source,
	}, time.Now().UTC())

	cand := &model.Discovery{
		Team:            o.cfg.Team,
		CompanyDomain:   res.Domain,
		CompanyName:     res.Name,
		SourceType:      model.SourceHNProfile,
		SourceURL:       profileURL(username),
		SourceTitle:     username,
		TriggerText:     truncate(res.Source, triggerTextLimit),
		ConfidenceScore: factors.Total(),
	}

	outcome, err := o.disc.Create(ctx, cand)
	if err != nil && outcome == "" {
		run.AddError(fmt.Sprintf("create discovery %s: %v", res.Domain, err))
		o.saveProfile(ctx, run, profile)
		return
	}
	switch outcome {
	case discovery.OutcomeCreated, discovery.OutcomeAutoPromoted:
		run.DiscoveriesCreated++
		profile.DiscoveriesCreated++
		if outcome == discovery.OutcomeAutoPromoted {
			run.AutoPromoted++
			if o.notifier != nil {
				o.notifier.DiscoveryPromoted(cand)
			}
		}
	case discovery.OutcomeDuplicate:
		run.DuplicatesSkipped++
	}
	o.saveProfile(ctx, run, profile)
}

// creditAuthor bumps the stored profile's discovery counter after a
// discovery sourced from that author's bio domain.
func (o *Orchestrator) creditAuthor(ctx context.Context, run *model.ScanRun, username string) {
	profile, err := o.store.GetAuthorProfile(ctx, username)
	if err != nil {
		run.AddError(fmt.Sprintf("credit profile %s: %v", username, err))
		o.log.Error("credit profile", "username", username, "error", err)
		return
	}
	profile.DiscoveriesCreated++
	o.saveProfile(ctx, run, profile)
}

func (o *Orchestrator) saveProfile(ctx context.Context, run *model.ScanRun, p *model.AuthorProfile) {
	if err := o.store.UpsertAuthorProfile(ctx, p); err != nil {
		run.AddError(fmt.Sprintf("save profile %s: %v", p.Username, err))
		o.log.Error("save profile", "username", p.Username, "error", err)
	}
}

func profileURL(username string) string {
	return "https://news.ycombinator.com/user?id=" + username
}
