package scoring

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"signalscout/internal/model"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestConfidence(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		cand Candidate
		want model.ConfidenceFactors
	}{
		{
			name: "maximum across all factors",
			cand: Candidate{
				Domain:        model.ExtractedDomain{Domain: "stripe.com", Method: model.MethodMention},
				Source:        model.SourceStatusPage,
				SourceTitle:   "stripe.com degraded performance",
				TriggerText:   "stripe.com is down, stripe.com checkout failing, stripe.com api erroring",
				KeywordWeight: 15,
				PublishedAt:   timePtr(now.Add(-time.Hour)),
			},
			want: model.ConfidenceFactors{
				KeywordScore:      40,
				SourceReliability: 20,
				DomainQuality:     20, // known company overrides method
				Recency:           10,
				ContextRelevance:  10,
			},
		},
		{
			name: "hn post with url domain",
			cand: Candidate{
				Domain:        model.ExtractedDomain{Domain: "initech.com", Method: model.MethodURL},
				Source:        model.SourceHNPost,
				SourceTitle:   "Show HN: our new thing",
				TriggerText:   "we built a thing",
				KeywordWeight: 6,
				PublishedAt:   timePtr(now.Add(-2 * 24 * time.Hour)),
			},
			want: model.ConfidenceFactors{
				KeywordScore:      16,
				SourceReliability: 15,
				DomainQuality:     18,
				Recency:           8,
				ContextRelevance:  5,
			},
		},
		{
			name: "comment with email domain and no keywords",
			cand: Candidate{
				Domain:      model.ExtractedDomain{Domain: "hooli.systems", Method: model.MethodEmail},
				Source:      model.SourceHNComment,
				TriggerText: "ping me at x@hooli.systems",
				PublishedAt: timePtr(now.Add(-40 * 24 * time.Hour)),
			},
			want: model.ConfidenceFactors{
				KeywordScore:      0,
				SourceReliability: 8,
				DomainQuality:     10,
				Recency:           2,
				ContextRelevance:  5,
			},
		},
		{
			name: "unknown source and missing date use middle defaults",
			cand: Candidate{
				Domain:        model.ExtractedDomain{Domain: "acme.io", Method: model.MethodMention},
				Source:        model.SourceType("pastebin"),
				KeywordWeight: 3,
			},
			want: model.ConfidenceFactors{
				KeywordScore:      8,
				SourceReliability: 10,
				DomainQuality:     12,
				Recency:           5,
				ContextRelevance:  5,
			},
		},
		{
			name: "keyword factor caps at 40",
			cand: Candidate{
				Domain:        model.ExtractedDomain{Domain: "acme.io", Method: model.MethodMention},
				Source:        model.SourceNewsArticle,
				KeywordWeight: 100,
			},
			want: model.ConfidenceFactors{
				KeywordScore:      40,
				SourceReliability: 18,
				DomainQuality:     12,
				Recency:           5,
				ContextRelevance:  5,
			},
		},
		{
			name: "company name in title",
			cand: Candidate{
				Domain:      model.ExtractedDomain{Domain: "acme.io", Method: model.MethodMention},
				CompanyName: "Acme",
				Source:      model.SourceNewsArticle,
				SourceTitle: "Acme reports a breach",
				PublishedAt: timePtr(now.Add(-5 * 24 * time.Hour)),
			},
			want: model.ConfidenceFactors{
				KeywordScore:      0,
				SourceReliability: 18,
				DomainQuality:     12,
				Recency:           6,
				ContextRelevance:  8,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Confidence(tt.cand, now)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("factors mismatch (-want +got):\n%s", diff)
			}
			total := got.Total()
			if total < 0 || total > 100 {
				t.Errorf("total %d out of range", total)
			}
		})
	}
}

func TestShouldAutoPromote(t *testing.T) {
	tests := []struct {
		score     int
		threshold int
		want      bool
	}{
		{85, 80, true},
		{80, 80, true},
		{79, 80, false},
		{100, 85, true},
	}
	for _, tt := range tests {
		if got := ShouldAutoPromote(tt.score, tt.threshold); got != tt.want {
			t.Errorf("ShouldAutoPromote(%d, %d) = %v, want %v", tt.score, tt.threshold, got, tt.want)
		}
	}
}
