// Package scope implements the crawl boundary check: given a source URL and a
// containment mode, it decides whether a candidate URL may ever be fetched.
package scope

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"sitecrawl/pkg/utils"
)

// Mode is the containment rule relative to the source URL
type Mode string

const (
	ModePath   Mode = "path"   // Same host, path equal to or under the source path
	ModeHost   Mode = "host"   // Exact host match, any path
	ModeDomain Mode = "domain" // Same registrable base domain, subdomains included
)

// ParseMode validates a scope string from config or the source registry
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePath, ModeHost, ModeDomain:
		return Mode(s), nil
	}
	return "", utils.WrapErrorf(utils.ErrConfigValidation, "unknown crawl scope '%s'", s)
}

// Validator answers in/out-of-scope for candidates against one source URL.
// Construct one per crawl; it is immutable and safe for reuse.
type Validator struct {
	mode       Mode
	scheme     string
	host       string
	baseDomain string
	sourcePath string
}

// NewValidator builds a Validator for the given source URL and mode
func NewValidator(source *url.URL, mode Mode) (*Validator, error) {
	if source == nil || source.Hostname() == "" {
		return nil, fmt.Errorf("scope validator needs an absolute source URL")
	}
	v := &Validator{
		mode:       mode,
		scheme:     strings.ToLower(source.Scheme),
		host:       strings.ToLower(source.Hostname()),
		sourcePath: normalizePath(source.Path),
	}
	if mode == ModeDomain {
		v.baseDomain = registrableDomain(v.host)
	}
	return v, nil
}

// InScope reports whether the candidate URL lies inside the crawl boundary.
// Scheme comparison is mandatory: http and https are different boundaries.
// Query strings and fragments never influence the decision.
func (v *Validator) InScope(candidate *url.URL) bool {
	if candidate == nil {
		return false
	}
	if !strings.EqualFold(candidate.Scheme, v.scheme) {
		return false
	}
	host := strings.ToLower(candidate.Hostname())
	if host == "" {
		return false
	}

	switch v.mode {
	case ModeHost:
		return host == v.host
	case ModeDomain:
		return registrableDomain(host) == v.baseDomain
	case ModePath:
		if host != v.host {
			return false
		}
		p := normalizePath(candidate.Path)
		return p == v.sourcePath || strings.HasPrefix(p, v.sourcePath+"/")
	}
	return false
}

// normalizePath makes "" and trailing-slash variants comparable:
// "" -> "/", "/docs/" -> "/docs", "/" stays "/".
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		return p[:len(p)-1]
	}
	return p
}

// registrableDomain returns the eTLD+1 for a hostname. IP addresses and
// names without a public suffix (localhost, test hosts) fall back to the
// hostname itself, which degrades domain scope to exact-host matching.
func registrableDomain(host string) string {
	base, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return base
}
