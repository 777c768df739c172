package sourcemap

import "regexp"

// Style is the comment syntax used for a sourceMappingURL annotation.
type Style int

const (
	// StyleLine is "//# sourceMappingURL=..." as used by JavaScript.
	StyleLine Style = iota
	// StyleBlock is "/*# sourceMappingURL=... */" as used by CSS.
	StyleBlock
)

func (s Style) String() string {
	if s == StyleBlock {
		return "block"
	}
	return "line"
}

// Comment renders the annotation pointing at url.
func (s Style) Comment(url string) string {
	if s == StyleBlock {
		return "/*# sourceMappingURL=" + url + " */"
	}
	return "//# sourceMappingURL=" + url
}

var styleRx = regexp.MustCompile(`(?m)^\s*/(/|\*)[@#]\s+sourceMappingURL`)

// DetectStyle returns the style of the first annotation found in body, or
// StyleLine when there is none.
func DetectStyle(body string) Style {
	m := styleRx.FindStringSubmatch(body)
	if m == nil {
		return StyleLine
	}
	return styleOf(m[1])
}

func styleOf(opener string) Style {
	if opener == "*" {
		return StyleBlock
	}
	return StyleLine
}
