package testutil

import "testing"

// ProjectDir is the absolute directory the preset sources live under.
const ProjectDir = "/Users/dev/project"

// Browserify returns a builder for a small browserify-style bundle whose
// sources are absolute paths under ProjectDir.
func Browserify(t *testing.T, opts ...BundleOption) *Builder {
	t.Helper()
	return NewBuilder(t, opts...).
		WithLine("(function e(t,n,r){function s(o,u){return u}})({1:[function(require,module,exports){").
		WithLine("console.log('foo line 1');").
		WithLine("},{}]},{},[1]);").
		WithFile("generated.js").
		WithSourceRoot("").
		WithSource(ProjectDir+"/node_modules/browser-pack/_prelude.js", Content("(function e(t,n,r){})")).
		WithSource(ProjectDir+"/example/foo.js", Content("console.log('foo line 1');")).
		WithMappings("AAAA;ACAA")
}

// Sass returns a builder for a compiled stylesheet with a block-comment
// annotation.
func Sass(t *testing.T, opts ...BundleOption) *Builder {
	t.Helper()
	return NewBuilder(t, append([]BundleOption{BlockComments()}, opts...)...).
		WithLine("body {").
		WithLine("  color: red; }").
		WithFile("to.css").
		WithSource(ProjectDir+"/styles/main.scss").
		WithSource("partials/_colors.scss").
		WithMappings("AAAA,IAAI")
}
