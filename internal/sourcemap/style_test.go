package sourcemap

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDetectStyle(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Style
	}{
		{"no annotation", "var a = 1;\n", StyleLine},
		{"line hash", "var a = 1;\n//# sourceMappingURL=a.js.map\n", StyleLine},
		{"line at", "var a = 1;\n//@ sourceMappingURL=a.js.map\n", StyleLine},
		{"block hash", "a { color: red }\n/*# sourceMappingURL=a.css.map */\n", StyleBlock},
		{"block at", "a { color: red }\n/*@ sourceMappingURL=a.css.map */\n", StyleBlock},
		{"indented block", "a {}\n   /*# sourceMappingURL=a.css.map */", StyleBlock},
		{"not at line start", "var x = 1; /*# sourceMappingURL=a.css.map */\n", StyleLine},
		{"first annotation decides", "/*# sourceMappingURL=a */\n//# sourceMappingURL=b\n", StyleBlock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DetectStyle(tt.body))
		})
	}
}

func TestStyle_Comment(t *testing.T) {
	require.Equal(t, "//# sourceMappingURL=bundle.js.map", StyleLine.Comment("bundle.js.map"))
	require.Equal(t, "/*# sourceMappingURL=to.css.map */", StyleBlock.Comment("to.css.map"))
	require.Equal(t, "line", StyleLine.String())
	require.Equal(t, "block", StyleBlock.String())
}

func TestStyle_CommentIsDetectedAsItsOwnStyle(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		style := rapid.SampledFrom([]Style{StyleLine, StyleBlock}).Draw(t, "style")
		url := rapid.StringMatching(`[A-Za-z0-9./_-]{1,40}`).Draw(t, "url")
		prefix := rapid.StringMatching(`(var [a-z]+ = [0-9]+;\n){0,3}`).Draw(t, "prefix")

		body := prefix + style.Comment(url) + "\n"
		if got := DetectStyle(body); got != style {
			t.Fatalf("DetectStyle(%q) = %v, want %v", body, got, style)
		}

		ext, err := Extract(body, nil)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if ext.Annotation == nil || ext.Annotation.Style != style || ext.Annotation.URL != url {
			t.Fatalf("Extract annotation = %+v, want style %v url %q", ext.Annotation, style, url)
		}
	})
}
