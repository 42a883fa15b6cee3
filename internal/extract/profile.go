package extract

import (
	"regexp"
	"strings"

	"signalscout/internal/model"
)

// Signal is one independent guess at an author's employer.
type Signal struct {
	Domain     string
	Name       string
	Confidence float64
	Source     string
}

// BioResult is the aggregated outcome of running all signal extractors
// over an author bio. Domain is empty when no extractor fired.
type BioResult struct {
	Domain     string
	Name       string
	Confidence float64
	Source     string
	Signals    []Signal
	Social     model.SocialLinks
}

// Boosts applied during aggregation.
const (
	knownCompanyBoost = 0.15
	agreementBoost    = 0.1
	agreementCap      = 0.95
	githubBoost       = 0.15
	githubFallback    = 0.7
)

// knownCompanies maps collapsed company names to their primary domain.
// Hand-maintained; a name hit here earns a confidence boost.
var knownCompanies = map[string]string{
	"stripe":      "stripe.com",
	"notion":      "notion.so",
	"figma":       "figma.com",
	"vercel":      "vercel.com",
	"datadog":     "datadoghq.com",
	"openai":      "openai.com",
	"anthropic":   "anthropic.com",
	"shopify":     "shopify.com",
	"hashicorp":   "hashicorp.com",
	"plaid":       "plaid.com",
	"brex":        "brex.com",
	"ramp":        "ramp.com",
	"snyk":        "snyk.io",
	"retool":      "retool.com",
	"linear":      "linear.app",
	"airtable":    "airtable.com",
	"zapier":      "zapier.com",
	"cloudflare":  "cloudflare.com",
	"mongodb":     "mongodb.com",
	"elastic":     "elastic.co",
	"gitlab":      "gitlab.com",
	"supabase":    "supabase.com",
	"planetscale": "planetscale.com",
	"railway":     "railway.app",
	"tailscale":   "tailscale.com",
	"huggingface": "huggingface.co",
	"segment":     "segment.com",
	"twilio":      "twilio.com",
}

var knownCompanyDomains = func() map[string]bool {
	m := make(map[string]bool, len(knownCompanies))
	for _, d := range knownCompanies {
		m[d] = true
	}
	return m
}()

// IsKnownCompanyDomain reports whether a domain is in the hand-maintained
// known-company table.
func IsKnownCompanyDomain(domain string) bool {
	return knownCompanyDomains[domain]
}

// nameStopwords are captures that look like company names but never are.
var nameStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "my": true, "our": true,
	"his": true, "her": true, "their": true, "this": true, "that": true,
	"stealth": true, "startup": true, "astartup": true, "various": true,
	"software": true, "a startup": true, "home": true, "remote": true,
	"staff": true, "senior": true, "lead": true, "principal": true,
	"backend": true, "frontend": true, "fullstack": true, "devops": true,
	"security": true, "platform": true, "data": true, "systems": true,
}

// companyCapture matches a capitalized company name of up to three words.
// Deliberately case-sensitive even where the surrounding verb is not.
const companyCapture = `([A-Z][\w&.'-]*(?: [A-Z][\w&.'-]*){0,2})`

// workPatterns is the ordered regex cascade for employer extraction.
// Each pattern is an independent signal with its own base confidence.
var workPatterns = []struct {
	tag  string
	re   *regexp.Regexp
	conf float64
}{
	{"works_at", regexp.MustCompile(`(?i:\b(?:work(?:s|ing)?|employed) (?:at|for|@) +)` + companyCapture), 0.7},
	{"founder_of", regexp.MustCompile(`(?i:\b(?:co[- ]?)?founder (?:of|at|@) +)` + companyCapture), 0.7},
	{"yc_batch", regexp.MustCompile(companyCapture + ` +\(YC [WSF]\d{2}\)`), 0.7},
	{"yc_batch_rev", regexp.MustCompile(`\(YC [WSF]\d{2}\)[ ,:–—-]+` + companyCapture), 0.65},
	{"exec_at", regexp.MustCompile(`(?i:\b(?:CEO|CTO|COO|CPO|VP of [a-z]+|head of [a-z]+) (?:of|at|@) +)` + companyCapture), 0.65},
	{"currently_at", regexp.MustCompile(`(?i:\bcurrently (?:at|@) +)` + companyCapture), 0.65},
	{"building", regexp.MustCompile(`(?i:\bbuilding +)` + companyCapture), 0.6},
	{"runs", regexp.MustCompile(`(?i:\bI run +)` + companyCapture), 0.6},
	{"prev_at", regexp.MustCompile(`(?i:\bprev(?:iously)? (?:at|@) +)` + companyCapture), 0.55},
	{"ex_company", regexp.MustCompile(`\bex-([A-Z][\w.-]+)`), 0.55},
	{"role_first", regexp.MustCompile(`\b([A-Z][\w.-]+) (?:engineer|developer|eng)\b`), 0.5},
}

var (
	githubHandleRe   = regexp.MustCompile(`(?i)github\.com/([A-Za-z0-9-]+)`)
	linkedinHandleRe = regexp.MustCompile(`(?i)linkedin\.com/in/([A-Za-z0-9_-]+)`)
	twitterHandleRe  = regexp.MustCompile(`(?i)\b(?:twitter|x)\.com/([A-Za-z0-9_]+)`)
)

// FromBio runs every signal extractor over a free-text bio, applies the
// multi-signal agreement boost, and returns the best candidate along
// with every raw signal and any social links found.
//
// All extractors run; nothing short-circuits. When two or more signals
// resolve to the same domain, that domain's confidence is boosted
// before the winner is picked.
func FromBio(bio string) BioResult {
	res := BioResult{Social: socialLinks(bio)}
	if strings.TrimSpace(bio) == "" {
		return res
	}

	mentioned := make(map[string]bool)
	var urls, emails, patterns, mentions []Signal

	for _, ed := range FromText(bio) {
		mentioned[ed.Domain] = true
		switch ed.Method {
		case model.MethodURL:
			urls = append(urls, Signal{ed.Domain, labelName(ed.Domain), 0.9, "bio_url"})
		case model.MethodEmail:
			emails = append(emails, Signal{ed.Domain, labelName(ed.Domain), 0.85, "email"})
		case model.MethodMention:
			mentions = append(mentions, Signal{ed.Domain, labelName(ed.Domain), 0.7, "domain_mention"})
		}
	}

	for _, wp := range workPatterns {
		for _, m := range wp.re.FindAllStringSubmatch(bio, -1) {
			name := m[1]
			// The capture is greedy and can run past a sentence break.
			if i := strings.Index(name, ". "); i >= 0 {
				name = name[:i]
			}
			name = strings.Trim(name, " .,'")
			domain, boost := resolveName(name, mentioned)
			if domain == "" {
				continue
			}
			patterns = append(patterns, Signal{domain, name, wp.conf + boost, "pattern:" + wp.tag})
		}
	}

	// Extractor precedence: URL, email, work patterns, bare mentions.
	res.Signals = append(res.Signals, urls...)
	res.Signals = append(res.Signals, emails...)
	res.Signals = append(res.Signals, patterns...)
	res.Signals = append(res.Signals, mentions...)
	if len(res.Signals) == 0 {
		return res
	}

	counts := make(map[string]int)
	for _, s := range res.Signals {
		counts[s.Domain]++
	}

	best := -1
	for i := range res.Signals {
		if counts[res.Signals[i].Domain] >= 2 {
			res.Signals[i].Confidence = minf(res.Signals[i].Confidence+agreementBoost, agreementCap)
		}
		if best < 0 || res.Signals[i].Confidence > res.Signals[best].Confidence {
			best = i
		}
	}

	res.Domain = res.Signals[best].Domain
	res.Name = res.Signals[best].Name
	res.Confidence = res.Signals[best].Confidence
	res.Source = res.Signals[best].Source
	return res
}

// resolveName turns an extracted company name into a domain: first via
// the known-company table, then via a bare domain mentioned in the same
// bio whose first label matches the name, finally by guessing
// <name>.com. Table and bio-mention hits earn the known-company boost.
func resolveName(name string, mentioned map[string]bool) (string, float64) {
	collapsed := collapse(name)
	if len(collapsed) < 2 || nameStopwords[collapsed] || nameStopwords[strings.ToLower(name)] {
		return "", 0
	}
	if d, ok := knownCompanies[collapsed]; ok {
		return d, knownCompanyBoost
	}
	for m := range mentioned {
		if labelOf(m) == collapsed {
			return m, knownCompanyBoost
		}
	}
	guess := collapsed + ".com"
	if len(collapsed) < 3 || !IsCompanyDomain(guess) {
		return "", 0
	}
	return guess, 0
}

func socialLinks(bio string) model.SocialLinks {
	var s model.SocialLinks
	if m := githubHandleRe.FindStringSubmatch(bio); m != nil {
		s.GitHub = m[1]
	}
	if m := linkedinHandleRe.FindStringSubmatch(bio); m != nil {
		s.LinkedIn = m[1]
	}
	if m := twitterHandleRe.FindStringSubmatch(bio); m != nil {
		s.Twitter = m[1]
	}
	return s
}

// labelOf returns the first label of a domain ("acme" for "acme.io").
func labelOf(domain string) string {
	if i := strings.IndexByte(domain, '.'); i > 0 {
		return domain[:i]
	}
	return domain
}

// labelName turns a domain's first label into a display name.
func labelName(domain string) string {
	l := labelOf(domain)
	if l == "" {
		return ""
	}
	return strings.ToUpper(l[:1]) + l[1:]
}

// collapse lowercases a name and strips everything but letters and digits.
func collapse(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
