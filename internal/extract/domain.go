// Package extract pulls candidate company domains out of URLs, free
// text, email addresses, and author bios.
package extract

import (
	"net"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"signalscout/internal/model"
)

// Confidence assigned per extraction pass.
const (
	confURL       = 0.9
	confMention   = 0.7
	confEmail     = 0.6
	confSourceURL = 0.95
	confBoostCap  = 0.95
	contextRadius = 100
)

// allowlist holds platforms that are themselves potential customers and
// must never be filtered, even if they also appear on the blocklist.
var allowlist = map[string]bool{
	"reddit.com":       true,
	"discord.com":      true,
	"twitch.tv":        true,
	"ebay.com":         true,
	"ticketmaster.com": true,
}

// blocklist holds platforms, aggregators, and news sites that show up
// constantly in source content but are never sales targets. Matched
// exactly or as a dot-suffix, so subdomains are caught too.
var blocklist = map[string]bool{
	"news.ycombinator.com": true,
	"ycombinator.com":      true,
	"github.com":           true,
	"gitlab.com":           true,
	"twitter.com":          true,
	"x.com":                true,
	"linkedin.com":         true,
	"facebook.com":         true,
	"instagram.com":        true,
	"google.com":           true,
	"youtube.com":          true,
	"medium.com":           true,
	"substack.com":         true,
	"wikipedia.org":        true,
	"stackoverflow.com":    true,
	"amazonaws.com":        true,
	"amazon.com":           true,
	"apple.com":            true,
	"microsoft.com":        true,
	"bit.ly":               true,
	"t.co":                 true,
	"imgur.com":            true,
	"arxiv.org":            true,
	"archive.org":          true,
	"nytimes.com":          true,
	"theverge.com":         true,
	"techcrunch.com":       true,
	"bbc.co.uk":            true,
	"reuters.com":          true,
	"bloomberg.com":        true,
	"theguardian.com":      true,
	"wsj.com":              true,
	"example.com":          true,
}

// freemailProviders are consumer email hosts whose domains say nothing
// about an employer.
var freemailProviders = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"live.com":       true,
	"msn.com":        true,
	"aol.com":        true,
	"icloud.com":     true,
	"me.com":         true,
	"protonmail.com": true,
	"proton.me":      true,
	"pm.me":          true,
	"fastmail.com":   true,
	"hey.com":        true,
	"gmx.com":        true,
	"mail.com":       true,
	"zoho.com":       true,
	"yandex.ru":      true,
}

// mentionTLDs restricts bare domain-like mentions to TLDs where a hit
// is plausibly a company rather than line noise.
var mentionTLDs = "com|io|co|ai|dev|app|net|org|tech|cloud|so|gg"

var (
	urlRe     = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	mentionRe = regexp.MustCompile(`(?i)\b(?:[a-z0-9][a-z0-9-]*\.)+(?:` + mentionTLDs + `)\b`)
	emailRe   = regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@((?:[a-z0-9][a-z0-9-]*\.)+[a-z]{2,})\b`)
	ipv4Re    = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)
)

// NormalizeDomain lowercases a domain and strips scheme, www prefix,
// path, port, and trailing dots. Idempotent.
func NormalizeDomain(s string) string {
	d := strings.ToLower(strings.TrimSpace(s))
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "https://")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.IndexByte(d, ':'); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	return strings.Trim(d, "./")
}

// IsCompanyDomain reports whether a normalized domain plausibly belongs
// to a company worth tracking. Allowlisted platforms always pass;
// blocklisted domains (and their subdomains), dotless strings, and bare
// IPv4 literals never do.
func IsCompanyDomain(domain string) bool {
	if domain == "" {
		return false
	}
	if allowlist[domain] {
		return true
	}
	for b := range blocklist {
		if domain == b || strings.HasSuffix(domain, "."+b) {
			return false
		}
	}
	if !strings.Contains(domain, ".") {
		return false
	}
	if ipv4Re.MatchString(domain) && net.ParseIP(domain) != nil {
		return false
	}
	return true
}

// IsFreemail reports whether a domain belongs to a consumer email provider.
func IsFreemail(domain string) bool {
	return freemailProviders[domain]
}

// FromText runs three extraction passes over free text: explicit URLs,
// bare domain mentions, and email-address domains. The first pass to
// find a domain wins; later passes never overwrite it.
func FromText(text string) []model.ExtractedDomain {
	var out []model.ExtractedDomain
	seen := make(map[string]bool)

	add := func(domain string, method model.ExtractionMethod, conf float64, pos int) {
		d := NormalizeDomain(domain)
		if d == "" || seen[d] || !IsCompanyDomain(d) {
			return
		}
		if method != model.MethodURL && IsFreemail(d) {
			return
		}
		seen[d] = true
		out = append(out, model.ExtractedDomain{
			Domain:     d,
			Method:     method,
			Confidence: conf,
			Context:    snippet(text, pos),
		})
	}

	for _, loc := range urlRe.FindAllStringIndex(text, -1) {
		add(text[loc[0]:loc[1]], model.MethodURL, confURL, loc[0])
	}
	for _, loc := range mentionRe.FindAllStringIndex(text, -1) {
		add(text[loc[0]:loc[1]], model.MethodMention, confMention, loc[0])
	}
	for _, loc := range emailRe.FindAllStringSubmatchIndex(text, -1) {
		add(text[loc[2]:loc[3]], model.MethodEmail, confEmail, loc[0])
	}
	return out
}

// FromSource extracts domains from a source item's URL, title, and body.
// The URL-derived domain carries the highest confidence; a domain seen
// in both the URL and the text is boosted, capped at 0.95.
func FromSource(sourceURL, title, body string) []model.ExtractedDomain {
	var out []model.ExtractedDomain
	seen := make(map[string]int) // domain -> index in out

	if sourceURL != "" {
		if u, err := url.Parse(sourceURL); err == nil && u.Host != "" {
			d := NormalizeDomain(u.Host)
			if IsCompanyDomain(d) {
				seen[d] = len(out)
				out = append(out, model.ExtractedDomain{
					Domain:     d,
					Method:     model.MethodURL,
					Confidence: confSourceURL,
					Context:    title,
				})
			}
		}
	}

	text := strings.TrimSpace(title + "\n" + body)
	for _, ed := range FromText(text) {
		if i, ok := seen[ed.Domain]; ok {
			// Repeated between URL and text: boost, capped.
			if c := out[i].Confidence + 0.05; c < confBoostCap {
				out[i].Confidence = c
			} else {
				out[i].Confidence = confBoostCap
			}
			continue
		}
		seen[ed.Domain] = len(out)
		out = append(out, ed)
	}
	return out
}

// snippet returns the text surrounding pos, clamped to the string and
// to rune boundaries.
func snippet(text string, pos int) string {
	start := pos - contextRadius
	if start < 0 {
		start = 0
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	end := pos + contextRadius
	if end > len(text) {
		end = len(text)
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end--
	}
	return strings.TrimSpace(text[start:end])
}
