package rules

import (
	"regexp"
	"strings"
)

var (
	urlPattern    = regexp.MustCompile(`http[s]?://(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*\\(\\),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`)
	emailPattern  = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
	netlocPattern = regexp.MustCompile(`://([^/]+)`)
)

// ExtractURLs returns every http(s) URL in text, in order of appearance.
func ExtractURLs(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

// ExtractEmails returns every email address in text, in order of appearance.
func ExtractEmails(text string) []string {
	return emailPattern.FindAllString(text, -1)
}

// ExtractDomains returns the distinct hosts referenced by URLs and email
// addresses in text, lowercased. URL hosts come first, each domain appears once.
func ExtractDomains(text string) []string {
	seen := make(map[string]bool)
	var domains []string

	add := func(d string) {
		d = strings.ToLower(d)
		if d == "" || seen[d] {
			return
		}
		seen[d] = true
		domains = append(domains, d)
	}

	for _, u := range ExtractURLs(text) {
		if m := netlocPattern.FindStringSubmatch(u); m != nil {
			add(m[1])
		}
	}
	for _, email := range ExtractEmails(text) {
		if _, host, ok := strings.Cut(email, "@"); ok {
			add(host)
		}
	}

	return domains
}
