// SPDX-License-Identifier: MIT

// Package manifest rewrites upstream HLS/DASH manifests so every
// decryption-key URI points back at this service's key-token endpoint,
// and caches the raw upstream text per content and manifest type.
package manifest

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/reelverse/edgeauth/internal/authz"
)

// Fetcher produces the raw upstream manifest for a content ID. It is an
// external collaborator; origin storage and transcoding are not this
// service's concern.
type Fetcher interface {
	Fetch(ctx context.Context, contentID string, mtype authz.ManifestType) (string, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, contentID string, mtype authz.ManifestType) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, contentID string, mtype authz.ManifestType) (string, error) {
	return f(ctx, contentID, mtype)
}

// Sanitizer rewrites key URIs to the service's key-token endpoint.
type Sanitizer struct {
	// keyBase is the path prefix of the key endpoint, e.g. "/keys".
	keyBase string
}

// NewSanitizer creates a sanitizer rewriting key URIs under keyBase.
func NewSanitizer(keyBase string) *Sanitizer {
	return &Sanitizer{keyBase: strings.TrimSuffix(keyBase, "/")}
}

var (
	hlsURIAttr   = regexp.MustCompile(`URI="([^"]*)"`)
	dashLicURL   = regexp.MustCompile(`licenseUrl="([^"]*)"`)
	dashLaurlTag = regexp.MustCompile(`(<(?:dashif:)?Laurl[^>]*>)([^<]*)(</(?:dashif:)?Laurl>)`)
)

// Sanitize rewrites every key URI in the manifest and returns the rewritten
// text together with the list of rewritten URIs. CMAF playlists share the
// HLS syntax and take the HLS path.
func (s *Sanitizer) Sanitize(raw string, mtype authz.ManifestType, contentID, ticketID string) (string, []string, error) {
	switch mtype {
	case authz.ManifestHLS, authz.ManifestCMAF:
		return s.sanitizeHLS(raw, contentID, ticketID)
	case authz.ManifestDASH:
		return s.sanitizeDASH(raw, contentID, ticketID)
	default:
		return "", nil, fmt.Errorf("unsupported manifest type %q", mtype)
	}
}

// sanitizeHLS rewrites the URI attribute of #EXT-X-KEY and
// #EXT-X-SESSION-KEY lines. Everything else passes through untouched.
func (s *Sanitizer) sanitizeHLS(raw, contentID, ticketID string) (string, []string, error) {
	var (
		out     strings.Builder
		keyURIs []string
	)
	out.Grow(len(raw))

	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			if !strings.HasPrefix(strings.TrimSpace(line), "#EXTM3U") {
				return "", nil, fmt.Errorf("not an HLS playlist: missing #EXTM3U header")
			}
			first = false
		}

		if strings.HasPrefix(line, "#EXT-X-KEY:") || strings.HasPrefix(line, "#EXT-X-SESSION-KEY:") {
			line = hlsURIAttr.ReplaceAllStringFunc(line, func(attr string) string {
				orig := hlsURIAttr.FindStringSubmatch(attr)[1]
				rewritten := s.keyURI(contentID, keyIDFromURI(orig), ticketID)
				keyURIs = append(keyURIs, rewritten)
				return `URI="` + rewritten + `"`
			})
		}

		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", nil, err
	}
	if first {
		return "", nil, fmt.Errorf("not an HLS playlist: empty input")
	}
	return out.String(), keyURIs, nil
}

// sanitizeDASH rewrites license URLs in ContentProtection descriptors, both
// the licenseUrl attribute form and the dashif:Laurl element form. The
// cenc:pssh payload is opaque init data and passes through unchanged.
func (s *Sanitizer) sanitizeDASH(raw, contentID, ticketID string) (string, []string, error) {
	if !strings.Contains(raw, "<MPD") {
		return "", nil, fmt.Errorf("not a DASH manifest: missing MPD element")
	}

	var keyURIs []string

	out := dashLicURL.ReplaceAllStringFunc(raw, func(attr string) string {
		orig := dashLicURL.FindStringSubmatch(attr)[1]
		rewritten := s.keyURI(contentID, keyIDFromURI(orig), ticketID)
		keyURIs = append(keyURIs, rewritten)
		return `licenseUrl="` + rewritten + `"`
	})
	out = dashLaurlTag.ReplaceAllStringFunc(out, func(tag string) string {
		m := dashLaurlTag.FindStringSubmatch(tag)
		rewritten := s.keyURI(contentID, keyIDFromURI(strings.TrimSpace(m[2])), ticketID)
		keyURIs = append(keyURIs, rewritten)
		return m[1] + rewritten + m[3]
	})

	return out, keyURIs, nil
}

// keyURI builds the rewritten key endpoint URI.
func (s *Sanitizer) keyURI(contentID, keyID, ticketID string) string {
	return fmt.Sprintf("%s/%s/%s?ticket=%s",
		s.keyBase, url.PathEscape(contentID), url.PathEscape(keyID), url.QueryEscape(ticketID))
}

// keyIDFromURI recovers the key identifier from the upstream key URI: the
// last path element without its extension. Opaque or empty URIs map to
// "default".
func keyIDFromURI(raw string) string {
	if raw == "" {
		return "default"
	}
	u, err := url.Parse(raw)
	p := raw
	if err == nil && u.Path != "" {
		p = u.Path
	}
	base := path.Base(p)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	base = strings.Trim(base, "/.")
	if base == "" {
		return "default"
	}
	return base
}

// ExtractKeyURIs returns the key URIs embedded in a manifest without
// rewriting it. Used for observability on cached manifests.
func ExtractKeyURIs(text string, mtype authz.ManifestType) []string {
	var uris []string
	switch mtype {
	case authz.ManifestHLS, authz.ManifestCMAF:
		scanner := bufio.NewScanner(strings.NewReader(text))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "#EXT-X-KEY:") && !strings.HasPrefix(line, "#EXT-X-SESSION-KEY:") {
				continue
			}
			for _, m := range hlsURIAttr.FindAllStringSubmatch(line, -1) {
				uris = append(uris, m[1])
			}
		}
	case authz.ManifestDASH:
		for _, m := range dashLicURL.FindAllStringSubmatch(text, -1) {
			uris = append(uris, m[1])
		}
		for _, m := range dashLaurlTag.FindAllStringSubmatch(text, -1) {
			uris = append(uris, strings.TrimSpace(m[2]))
		}
	}
	return uris
}
