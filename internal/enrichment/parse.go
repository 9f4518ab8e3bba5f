package enrichment

import (
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lead-engine/internal/models"
)

// socialHosts maps a registrable host to the profile key it is stored under
var socialHosts = map[string]string{
	"linkedin.com":  "linkedin",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"facebook.com":  "facebook",
	"instagram.com": "instagram",
	"github.com":    "github",
	"youtube.com":   "youtube",
}

// techSignatures are substrings of script src / link href values
var techSignatures = []struct {
	needle string
	name   string
}{
	{"wp-content", "WordPress"},
	{"wp-includes", "WordPress"},
	{"cdn.shopify.com", "Shopify"},
	{"static.squarespace.com", "Squarespace"},
	{"jquery", "jQuery"},
	{"bootstrap", "Bootstrap"},
	{"googletagmanager.com", "Google Tag Manager"},
	{"google-analytics.com", "Google Analytics"},
	{"js.stripe.com", "Stripe"},
	{"static.hotjar.com", "Hotjar"},
	{"js.hs-scripts.com", "HubSpot"},
	{"widget.intercom.io", "Intercom"},
	{"_next/static", "Next.js"},
}

// Parse extracts enrichment attributes from an HTML page. pageURL resolves
// relative links and may be nil. Output is deterministic for identical input.
func Parse(r io.Reader, pageURL *url.URL) (*models.Enrichment, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	e := &models.Enrichment{}

	emails := extractEmails(doc)
	if len(emails) > 0 {
		e.Email = emails[0]
		if len(emails) > 1 {
			e.AdditionalEmails = emails[1:]
		}
	}
	e.PhoneNumbers = extractPhones(doc)
	e.SocialProfiles = extractSocialProfiles(doc, pageURL)
	e.Technologies = extractTechnologies(doc)
	e.CompanyInfo = extractCompanyInfo(doc)

	return e, nil
}

// extractEmails returns mailto addresses in document order, deduplicated
func extractEmails(doc *goquery.Document) []string {
	seen := make(map[string]bool)
	var out []string

	doc.Find("a[href^='mailto:'], a[href^='MAILTO:']").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addr := href[len("mailto:"):]
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if unescaped, err := url.PathUnescape(addr); err == nil {
			addr = unescaped
		}
		addr = strings.ToLower(strings.TrimSpace(addr))
		if !strings.Contains(addr, "@") || seen[addr] {
			return
		}
		seen[addr] = true
		out = append(out, addr)
	})
	return out
}

// extractPhones returns tel: numbers reduced to digits and a leading +
func extractPhones(doc *goquery.Document) []string {
	seen := make(map[string]bool)
	var out []string

	doc.Find("a[href^='tel:']").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		number := normalizePhone(href[len("tel:"):])
		if len(strings.TrimPrefix(number, "+")) < 6 || seen[number] {
			return
		}
		seen[number] = true
		out = append(out, number)
	})
	return out
}

func normalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// extractSocialProfiles keeps the first link found per network
func extractSocialProfiles(doc *goquery.Document, base *url.URL) map[string]string {
	profiles := make(map[string]string)

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		if base != nil {
			u = base.ResolveReference(u)
		}
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		network, ok := socialHosts[host]
		if !ok || strings.Trim(u.Path, "/") == "" {
			return
		}
		if _, exists := profiles[network]; exists {
			return
		}
		u.RawQuery = ""
		u.Fragment = ""
		profiles[network] = u.String()
	})

	if len(profiles) == 0 {
		return nil
	}
	return profiles
}

// extractTechnologies combines the generator meta tag with asset signatures
func extractTechnologies(doc *goquery.Document) []string {
	found := make(map[string]bool)

	if gen, ok := doc.Find("meta[name='generator']").Attr("content"); ok {
		if name := generatorName(gen); name != "" {
			found[name] = true
		}
	}

	doc.Find("script[src], link[href]").Each(func(_ int, s *goquery.Selection) {
		ref, ok := s.Attr("src")
		if !ok {
			ref, _ = s.Attr("href")
		}
		ref = strings.ToLower(ref)
		for _, sig := range techSignatures {
			if strings.Contains(ref, sig.needle) {
				found[sig.name] = true
			}
		}
	})

	if len(found) == 0 {
		return nil
	}
	out := make([]string, 0, len(found))
	for name := range found {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// generatorName drops a trailing version: "WordPress 6.4.2" -> "WordPress"
func generatorName(content string) string {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return ""
	}
	last := fields[len(fields)-1]
	if len(fields) > 1 && last != "" && last[0] >= '0' && last[0] <= '9' {
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}

// extractCompanyInfo prefers og:site_name, then <title>
func extractCompanyInfo(doc *goquery.Document) *models.CompanyInfo {
	name := ""
	if site, ok := doc.Find("meta[property='og:site_name']").Attr("content"); ok {
		name = strings.TrimSpace(site)
	}
	if name == "" {
		name = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if name == "" {
		return nil
	}

	info := &models.CompanyInfo{Name: name}
	if desc, ok := doc.Find("meta[name='description']").Attr("content"); ok && strings.TrimSpace(desc) != "" {
		info.Description = strings.TrimSpace(desc)
	} else if og, ok := doc.Find("meta[property='og:description']").Attr("content"); ok {
		info.Description = strings.TrimSpace(og)
	}
	return info
}
