package domain

import (
	"net/url"
	"strings"
)

// Of returns the bare, lower-cased hostname of an absolute URL with a leading "www." label removed.
// ok is false for anything that cannot be parsed into a host; such pages are never trusted by domain.
func Of(rawURL string) (host string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !u.IsAbs() {
		return "", false
	}
	host = strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return "", false
	}

	return host, true
}

// Same reports whether both URLs resolve to the same domain. Undefined domains never match.
func Same(a, b string) bool {
	da, okA := Of(a)
	db, okB := Of(b)
	return okA && okB && da == db
}

// Whitelist is a read-only set of trusted domain suffixes.
type Whitelist struct {
	entries map[string]struct{}
}

func NewWhitelist(entries []string) *Whitelist {
	w := &Whitelist{entries: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = strings.Trim(strings.ToLower(strings.TrimSpace(e)), ".")
		e = strings.TrimPrefix(e, "www.")
		if e != "" {
			w.entries[e] = struct{}{}
		}
	}

	return w
}

// Contains matches host against the entries by suffix equality:
// "docs.github.com" matches "github.com", "evilgithub.com" does not.
func (w *Whitelist) Contains(host string) bool {
	if w == nil || host == "" {
		return false
	}
	for candidate := host; ; {
		if _, ok := w.entries[candidate]; ok {
			return true
		}
		i := strings.IndexByte(candidate, '.')
		if i < 0 {
			return false
		}
		candidate = candidate[i+1:]
	}
}

// Len returns the number of trusted suffixes.
func (w *Whitelist) Len() int {
	if w == nil {
		return 0
	}
	return len(w.entries)
}
