// Package source discovers raw documentation files in a version-partitioned
// tree and computes their content identity.
//
// Layout expected under the configured root:
//
//	<root>/versions/16.0/**/*.md
//	<root>/versions/17.0/**/*.md
//	<root>/versions/18.0/**/*.md
//
// Versions are carried as integers (16.0 → 160) so they can be stored and
// filtered as a plain column. Each file is identified by its slash-separated
// path relative to the version directory; the same path maps to the same
// public documentation URL across versions.
package source

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Document is a single raw documentation file for one version.
type Document struct {
	Version int       // e.g. 180 for the 18.0 release line
	Path    string    // relative path within the version tree, slash-separated
	URL     string    // public documentation URL derived from Path
	Content string    // raw Markdown content
	Hash    string    // hex-encoded sha256 of Content
	ModTime time.Time // filesystem mtime, informational only
}

// docsBaseURL is the public site the markdown tree mirrors.
const docsBaseURL = "https://www.odoo.com/documentation"

// HashContent returns the hex-encoded sha256 of content. Change detection is
// content-based so checkouts that reset timestamps do not force re-ingestion.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// VersionString formats an integer version as its release-line form,
// e.g. 180 → "18.0".
func VersionString(version int) string {
	return fmt.Sprintf("%d.%d", version/10, version%10)
}

// ParseVersion parses a release-line string such as "18.0" into its integer
// form. Bare majors ("18") are accepted and treated as ".0".
func ParseVersion(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty version")
	}

	major, minor := s, "0"
	if i := strings.IndexByte(s, '.'); i >= 0 {
		major, minor = s[:i], s[i+1:]
	}

	maj, err := strconv.Atoi(major)
	if err != nil || maj <= 0 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	min, err := strconv.Atoi(minor)
	if err != nil || min < 0 || min > 9 {
		return 0, fmt.Errorf("invalid version %q", s)
	}

	return maj*10 + min, nil
}

// URLForPath maps a relative markdown path to the public documentation URL,
// e.g. ("applications/sales.md", 180) →
// "https://www.odoo.com/documentation/18.0/applications/sales.html".
func URLForPath(relPath string, version int) string {
	p := strings.TrimSuffix(relPath, ".md")
	return fmt.Sprintf("%s/%s/%s.html", docsBaseURL, VersionString(version), p)
}
