// Package scoring combines keyword, source, domain, recency, and
// context factors into a single 0-100 confidence score.
package scoring

import (
	"math"
	"strings"
	"time"

	"signalscout/internal/extract"
	"signalscout/internal/model"
)

// DefaultAutoPromoteThreshold is the score at or above which a
// discovery is promoted without human review.
const DefaultAutoPromoteThreshold = 80

// fullKeywordWeight is the total keyword weight that earns the maximum
// keyword factor (roughly three high-weight keywords).
const fullKeywordWeight = 15

// sourceReliability is the fixed per-source reliability table.
var sourceReliability = map[model.SourceType]int{
	model.SourceStatusPage:    20,
	model.SourceNewsArticle:   18,
	model.SourceHNPost:        15,
	model.SourceGitHubIssue:   15,
	model.SourceHNProfile:     12,
	model.SourceRedditPost:    12,
	model.SourceManual:        10,
	model.SourceTwitter:       10,
	model.SourceHNComment:     8,
	model.SourceRedditComment: 6,
}

// Candidate is an unpersisted, scored discovery proposal.
type Candidate struct {
	Domain        model.ExtractedDomain
	CompanyName   string
	Source        model.SourceType
	SourceTitle   string
	TriggerText   string
	KeywordWeight int
	PublishedAt   *time.Time
}

// Confidence computes the factor breakdown for a candidate. The total
// is always within [0,100].
func Confidence(c Candidate, now time.Time) model.ConfidenceFactors {
	return model.ConfidenceFactors{
		KeywordScore:      keywordFactor(c.KeywordWeight),
		SourceReliability: reliabilityFactor(c.Source),
		DomainQuality:     domainFactor(c.Domain),
		Recency:           recencyFactor(c.PublishedAt, now),
		ContextRelevance:  contextFactor(c),
	}
}

// ShouldAutoPromote reports whether a score clears the promotion threshold.
func ShouldAutoPromote(score, threshold int) bool {
	return score >= threshold
}

func keywordFactor(totalWeight int) int {
	if totalWeight <= 0 {
		return 0
	}
	scaled := int(math.Round(float64(totalWeight) / fullKeywordWeight * 40))
	if scaled > 40 {
		return 40
	}
	return scaled
}

func reliabilityFactor(src model.SourceType) int {
	if v, ok := sourceReliability[src]; ok {
		return v
	}
	return 10
}

func domainFactor(d model.ExtractedDomain) int {
	if extract.IsKnownCompanyDomain(d.Domain) {
		return 20
	}
	switch d.Method {
	case model.MethodURL:
		return 18
	case model.MethodMention:
		return 12
	case model.MethodEmail:
		return 10
	}
	return 10
}

func recencyFactor(published *time.Time, now time.Time) int {
	if published == nil || published.IsZero() {
		return 5
	}
	age := now.Sub(*published)
	switch {
	case age < 24*time.Hour:
		return 10
	case age < 3*24*time.Hour:
		return 8
	case age < 7*24*time.Hour:
		return 6
	case age < 30*24*time.Hour:
		return 4
	default:
		return 2
	}
}

func contextFactor(c Candidate) int {
	score := 5

	title := strings.ToLower(c.SourceTitle)
	domain := strings.ToLower(c.Domain.Domain)
	name := strings.ToLower(c.CompanyName)
	if domain != "" && strings.Contains(title, domain) ||
		name != "" && strings.Contains(title, name) {
		score += 3
	}

	trigger := strings.ToLower(c.TriggerText)
	mentions := 0
	if domain != "" {
		mentions += strings.Count(trigger, domain)
	}
	if name != "" && name != domain {
		mentions += strings.Count(trigger, name)
	}
	switch {
	case mentions >= 3:
		score += 2
	case mentions >= 2:
		score++
	}
	return score
}
