package sourcemap

import (
	"path"
	"regexp"
	"strings"
)

// SetSourceRoot replaces sourceRoot when root is non-empty.
// An empty root keeps whatever the map already carries.
func (m *SourceMap) SetSourceRoot(root string) {
	if root != "" {
		m.SourceRoot = root
	}
}

// MapSources replaces every entry of sources with fn(entry).
func (m *SourceMap) MapSources(fn func(string) string) {
	for i, src := range m.Sources {
		m.Sources[i] = fn(src)
	}
}

// schemeRx matches URL-style sources such as "webpack:///src/a.js" or
// "https://host/a.js". A single letter followed by ':' is a drive letter.
var schemeRx = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]+:`)

// driveRx matches a Windows drive prefix after separators were normalized.
var driveRx = regexp.MustCompile(`^[A-Za-z]:/`)

// RelativeTo returns a mapper that rewrites absolute source paths relative
// to base using forward slashes.
//
// Sources that are URLs or already relative are returned unchanged, as are
// sources on a different drive than base since they share no ancestor.
func RelativeTo(base string) func(string) string {
	base = toSlash(base)
	return func(src string) string {
		if schemeRx.MatchString(src) {
			return src
		}
		p := toSlash(src)
		if !isAbs(p) || !isAbs(base) {
			return src
		}
		rel, ok := relative(base, p)
		if !ok {
			return src
		}
		return rel
	}
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

func isAbs(p string) bool {
	return strings.HasPrefix(p, "/") || driveRx.MatchString(p)
}

// relative computes target relative to base. Both must be absolute.
func relative(base, target string) (string, bool) {
	baseVol, basePath := splitVolume(base)
	targetVol, targetPath := splitVolume(target)
	if !strings.EqualFold(baseVol, targetVol) {
		return "", false
	}

	baseParts := segments(path.Clean(basePath))
	targetParts := segments(path.Clean(targetPath))

	common := 0
	for common < len(baseParts) && common < len(targetParts) && baseParts[common] == targetParts[common] {
		common++
	}

	parts := make([]string, 0, len(baseParts)-common+len(targetParts)-common)
	for range baseParts[common:] {
		parts = append(parts, "..")
	}
	parts = append(parts, targetParts[common:]...)
	if len(parts) == 0 {
		return ".", true
	}
	return strings.Join(parts, "/"), true
}

func splitVolume(p string) (string, string) {
	if driveRx.MatchString(p) {
		return p[:2], p[2:]
	}
	return "", p
}

func segments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
