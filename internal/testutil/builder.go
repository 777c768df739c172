// Package testutil builds generated bundles and stylesheets carrying inline
// source maps for tests.
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// sourceData holds one entry of the map's sources list.
type sourceData struct {
	path    string
	content *string
}

// Builder accumulates the pieces of a bundle and renders it with a trailing
// sourceMappingURL annotation.
type Builder struct {
	t          *testing.T
	lines      []string
	sources    []sourceData
	names      []string
	file       string
	sourceRoot *string
	mappings   string
	opts       bundleOptions
}

// NewBuilder creates an empty JavaScript bundle builder.
func NewBuilder(t *testing.T, opts ...BundleOption) *Builder {
	t.Helper()
	b := &Builder{t: t, mappings: "AAAA", opts: defaultBundleOptions()}
	for _, opt := range opts {
		opt(&b.opts)
	}
	return b
}

// WithLine appends a line of code to the bundle body.
func (b *Builder) WithLine(line string) *Builder {
	b.lines = append(b.lines, line)
	return b
}

// WithSource adds an entry to the map's sources.
func (b *Builder) WithSource(path string, opts ...SourceOption) *Builder {
	src := sourceData{path: path}
	for _, opt := range opts {
		opt(&src)
	}
	b.sources = append(b.sources, src)
	return b
}

// WithName adds an entry to the map's names.
func (b *Builder) WithName(name string) *Builder {
	b.names = append(b.names, name)
	return b
}

// WithFile sets the map's file field.
func (b *Builder) WithFile(file string) *Builder {
	b.file = file
	return b
}

// WithSourceRoot sets the map's sourceRoot field.
func (b *Builder) WithSourceRoot(root string) *Builder {
	b.sourceRoot = &root
	return b
}

// WithMappings sets the map's mappings field.
func (b *Builder) WithMappings(mappings string) *Builder {
	b.mappings = mappings
	return b
}

// Body returns the bundle without any annotation, lines joined by the
// configured newline and terminated by one.
func (b *Builder) Body() string {
	if len(b.lines) == 0 {
		return ""
	}
	nl := b.newline()
	return strings.Join(b.lines, nl) + nl
}

// Map returns the source map JSON.
func (b *Builder) Map() string {
	b.t.Helper()

	m := map[string]any{
		"version":  3,
		"mappings": b.mappings,
	}
	if b.file != "" {
		m["file"] = b.file
	}
	if b.sourceRoot != nil {
		m["sourceRoot"] = *b.sourceRoot
	}
	if b.names != nil {
		m["names"] = b.names
	}

	sources := make([]string, 0, len(b.sources))
	contents := make([]*string, 0, len(b.sources))
	hasContent := false
	for _, s := range b.sources {
		sources = append(sources, s.path)
		contents = append(contents, s.content)
		hasContent = hasContent || s.content != nil
	}
	m["sources"] = sources
	if hasContent {
		m["sourcesContent"] = contents
	}

	data, err := json.Marshal(m)
	require.NoError(b.t, err)
	return string(data)
}

// DataURI returns the map encoded as a data URI.
func (b *Builder) DataURI() string {
	b.t.Helper()
	if b.opts.uriEncoded {
		return "data:application/json;charset=utf-8," + url.PathEscape(b.Map())
	}
	return "data:application/json;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte(b.Map()))
}

// Build renders the bundle followed by an inline map annotation.
func (b *Builder) Build() string {
	b.t.Helper()
	return b.Body() + b.annotation(b.DataURI()) + b.newline()
}

// BuildWithReference renders the bundle followed by an annotation pointing
// at ref instead of an inline map.
func (b *Builder) BuildWithReference(ref string) string {
	return b.Body() + b.annotation(ref) + b.newline()
}

func (b *Builder) annotation(ref string) string {
	if b.opts.block {
		return "/*# sourceMappingURL=" + ref + " */"
	}
	return "//# sourceMappingURL=" + ref
}

func (b *Builder) newline() string {
	if b.opts.crlf {
		return "\r\n"
	}
	return "\n"
}
