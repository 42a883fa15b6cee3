package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"signalscout/internal/httpx"
)

// Fetcher is the subset of the fetch layer the GitHub lookup needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts httpx.Options) ([]byte, error)
}

const githubAPIBase = "https://api.github.com"

// githubUser is the slice of the GitHub users API payload we read.
type githubUser struct {
	Login   string `json:"login"`
	Company string `json:"company"`
	Blog    string `json:"blog"`
}

// GitHubValidator cross-checks a bio extraction against the public
// company field of the author's GitHub account.
type GitHubValidator struct {
	fetcher Fetcher
	baseURL string
}

// NewGitHubValidator creates a validator using the shared fetch client.
func NewGitHubValidator(f Fetcher) *GitHubValidator {
	return &GitHubValidator{fetcher: f, baseURL: githubAPIBase}
}

// Validate refines a bio extraction using the GitHub account referenced
// in the bio's social links. Agreement between the primary extraction
// and GitHub's company field boosts confidence; when the primary
// extraction found nothing, GitHub's company is used at a fixed medium
// confidence. Lookup failures leave the result unchanged.
func (v *GitHubValidator) Validate(ctx context.Context, res *BioResult) error {
	login := res.Social.GitHub
	if login == "" {
		return nil
	}

	body, err := v.fetcher.Fetch(ctx, fmt.Sprintf("%s/users/%s", v.baseURL, login), httpx.Options{
		UseRateLimiter: true,
	})
	if err != nil {
		return fmt.Errorf("github user %s: %w", login, err)
	}
	var gu githubUser
	if err := json.Unmarshal(body, &gu); err != nil {
		return fmt.Errorf("decode github user %s: %w", login, err)
	}

	ghName := strings.Trim(strings.TrimSpace(gu.Company), "@ ")
	ghDomain := ""
	if gu.Blog != "" {
		if d := NormalizeDomain(gu.Blog); IsCompanyDomain(d) {
			ghDomain = d
		}
	}
	if ghDomain == "" && ghName != "" {
		if d, ok := knownCompanies[collapse(ghName)]; ok {
			ghDomain = d
		}
	}
	if ghName == "" && ghDomain == "" {
		return nil
	}

	if res.Domain != "" {
		if ghDomain == res.Domain || (ghName != "" && collapse(ghName) == labelOf(res.Domain)) {
			res.Confidence = minf(res.Confidence+githubBoost, 1.0)
			res.Source += "+github"
		}
		return nil
	}

	// Primary extraction found nothing; fall back to GitHub alone.
	if ghDomain != "" {
		res.Domain = ghDomain
		res.Name = ghName
		if res.Name == "" {
			res.Name = labelName(ghDomain)
		}
		res.Confidence = githubFallback
		res.Source = "github"
	}
	return nil
}
