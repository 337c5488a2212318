// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playlist implements the playlist rewriter (C5): it normalizes
// malformed upstream segment references and rewrites every media-segment
// line of an HLS playlist to a local /segment/... path.
package playlist

import (
	"fmt"
	"net/url"
	"strings"
)

// Rewrite rewrites every non-comment, non-empty line of text to a local
// /segment/{scheme}/{authority}{path} reference, resolving relative
// references against base. Comment lines (starting with "#") and blank
// lines are passed through byte-for-byte, and line order is preserved.
func Rewrite(text string, base string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("playlist: invalid base url %q: %w", base, err)
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		rewritten, err := rewriteLine(line, baseURL)
		if err != nil {
			// A segment reference we cannot parse is left as-is rather
			// than dropped; the downstream player will simply fail that
			// one segment instead of the whole playlist.
			continue
		}
		lines[i] = rewritten
	}

	return strings.Join(lines, "\n"), nil
}

func rewriteLine(line string, base *url.URL) (string, error) {
	normalized := normalize(line)

	abs, err := resolve(normalized, base)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("/segment/%s/%s%s", abs.Scheme, abs.Host, abs.Path), nil
}

// normalize implements spec.md §4.5 step 1: percent-decode, trim, then fix
// up the three malformed-scheme shapes seen from real Stalker portals.
func normalize(line string) string {
	decoded, err := url.PathUnescape(line)
	if err != nil {
		decoded = line
	}
	s := strings.TrimSpace(decoded)

	// These three checks cascade rather than being mutually exclusive: a
	// doubly percent-encoded input can still look like "%3A//..." after a
	// single decode pass. The first rule turns it into "httpA//...", and
	// the third rule then lands it on a clean "http://" form.
	if strings.HasPrefix(s, "%3A//") {
		s = "http" + s[2:]
	}
	if strings.HasPrefix(s, "://") {
		s = "http" + s
	}
	if strings.Contains(s, "//") &&
		!strings.HasPrefix(s, "http://") &&
		!strings.HasPrefix(s, "https://") &&
		!strings.HasPrefix(s, "/") {
		idx := strings.Index(s, "//")
		s = "http://" + s[idx+2:]
	}

	return s
}

// resolve implements spec.md §4.5 step 2.
func resolve(normalized string, base *url.URL) (*url.URL, error) {
	if strings.HasPrefix(normalized, "http://") || strings.HasPrefix(normalized, "https://") {
		return url.Parse(normalized)
	}
	ref, err := url.Parse(normalized)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(ref), nil
}
