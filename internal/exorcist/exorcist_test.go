package exorcist

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"pgregory.net/rapid"

	"github.com/zjrosen/exorcist/internal/pubsub"
	"github.com/zjrosen/exorcist/internal/sink"
	"github.com/zjrosen/exorcist/internal/sourcemap"
	"github.com/zjrosen/exorcist/internal/testutil"
	"github.com/zjrosen/exorcist/internal/tracing"
)

const bundleJS = "(function () {\n  console.log('hello');\n})();\n"

const bundleMap = `{
  "version": 3,
  "file": "generated.js",
  "sources": [
    "/Users/dev/project/node_modules/browser-pack/_prelude.js",
    "/Users/dev/project/src/main.js"
  ],
  "names": [],
  "mappings": "AAAA;ACAA",
  "sourceRoot": "",
  "sourcesContent": ["(function(){})", "console.log('hello')"]
}`

const styleCSS = "body {\n  color: red;\n}\n"

const styleMap = `{"version":3,"file":"to.css","sources":["/Users/dev/project/a.scss","b.scss"],"mappings":"AAAA"}`

func withInlineMap(body string, style sourcemap.Style, mapJSON string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(mapJSON))
	return body + style.Comment("data:application/json;charset=utf-8;base64,"+encoded) + "\n"
}

func newFileTransformer(t *testing.T, opts Options) (*Transformer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.js.map")
	opts.Destination = sink.NewFile(path)
	tr, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	return tr, path
}

func readMap(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestRun_ExtractsMapToFile(t *testing.T) {
	tr, path := newFileTransformer(t, Options{})

	var out bytes.Buffer
	res, err := tr.Run(context.Background(), &out, strings.NewReader(withInlineMap(bundleJS, sourcemap.StyleLine, bundleMap)))
	require.NoError(t, err)

	require.Equal(t, KindSuccess, res.Kind)
	require.Equal(t, "bundle.js.map", res.URL)
	require.Equal(t, bundleJS+"//# sourceMappingURL=bundle.js.map\n", out.String())

	m := readMap(t, path)
	require.Equal(t, "generated.js", m["file"])
	require.Equal(t, "", m["sourceRoot"])
	require.Len(t, m["sources"], 2)
	require.Len(t, m["sourcesContent"], 2)
	require.NotContains(t, out.String(), "base64", "inline map must be stripped")
}

func TestRun_MapFileIsIndentedWithTwoSpaces(t *testing.T) {
	tr, path := newFileTransformer(t, Options{})

	_, err := tr.Run(context.Background(), &bytes.Buffer{}, strings.NewReader(withInlineMap(bundleJS, sourcemap.StyleLine, bundleMap)))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "{\n  \"version\": 3,"), string(data))
}

func TestRun_URLOption(t *testing.T) {
	tr, _ := newFileTransformer(t, Options{URL: "http://my.awesome.site/bundle.js.map"})

	var out bytes.Buffer
	res, err := tr.Run(context.Background(), &out, strings.NewReader(withInlineMap(bundleJS, sourcemap.StyleLine, bundleMap)))
	require.NoError(t, err)
	require.Equal(t, "http://my.awesome.site/bundle.js.map", res.URL)
	require.True(t, strings.HasSuffix(out.String(), "//# sourceMappingURL=http://my.awesome.site/bundle.js.map\n"))
}

func TestRun_RootOption(t *testing.T) {
	tr, path := newFileTransformer(t, Options{Root: "/hello/world.map.json"})

	_, err := tr.Run(context.Background(), &bytes.Buffer{}, strings.NewReader(withInlineMap(bundleJS, sourcemap.StyleLine, bundleMap)))
	require.NoError(t, err)
	require.Equal(t, "/hello/world.map.json", readMap(t, path)["sourceRoot"])
}

func TestRun_EmptyRootKeepsExisting(t *testing.T) {
	withRoot := strings.Replace(bundleMap, `"sourceRoot": ""`, `"sourceRoot": "/src"`, 1)
	tr, path := newFileTransformer(t, Options{})

	_, err := tr.Run(context.Background(), &bytes.Buffer{}, strings.NewReader(withInlineMap(bundleJS, sourcemap.StyleLine, withRoot)))
	require.NoError(t, err)
	require.Equal(t, "/src", readMap(t, path)["sourceRoot"])
}

func TestRun_BaseOption(t *testing.T) {
	tr, path := newFileTransformer(t, Options{Base: "/Users/dev/project"})

	res, err := tr.Run(context.Background(), &bytes.Buffer{}, strings.NewReader(withInlineMap(bundleJS, sourcemap.StyleLine, bundleMap)))
	require.NoError(t, err)

	want := []any{"node_modules/browser-pack/_prelude.js", "src/main.js"}
	require.Equal(t, want, readMap(t, path)["sources"])
	require.Equal(t, []string{"node_modules/browser-pack/_prelude.js", "src/main.js"}, res.Map.Sources)
}

func TestRun_WithoutBaseKeepsAbsoluteSources(t *testing.T) {
	tr, path := newFileTransformer(t, Options{})

	_, err := tr.Run(context.Background(), &bytes.Buffer{}, strings.NewReader(withInlineMap(bundleJS, sourcemap.StyleLine, bundleMap)))
	require.NoError(t, err)
	require.Equal(t, "/Users/dev/project/src/main.js", readMap(t, path)["sources"].([]any)[1])
}

func TestRun_BlockStyleForCSS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "to.css.map")
	tr, err := New(Options{Destination: sink.NewFile(path), Base: "/Users/dev/project"})
	require.NoError(t, err)

	var out bytes.Buffer
	res, err := tr.Run(context.Background(), &out, strings.NewReader(withInlineMap(styleCSS, sourcemap.StyleBlock, styleMap)))
	require.NoError(t, err)
	require.Equal(t, "/*# sourceMappingURL=to.css.map */", res.Comment)
	require.Equal(t, styleCSS+"/*# sourceMappingURL=to.css.map */\n", out.String())
	require.Equal(t, []any{"a.scss", "b.scss"}, readMap(t, path)["sources"])
}

func TestRun_BodyWithoutTrailingNewline(t *testing.T) {
	tr, _ := newFileTransformer(t, Options{})
	encoded := base64.StdEncoding.EncodeToString([]byte(bundleMap))
	input := "var a = 1;\n//# sourceMappingURL=data:application/json;base64," + encoded

	var out bytes.Buffer
	_, err := tr.Run(context.Background(), &out, strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, "var a = 1;\n//# sourceMappingURL=bundle.js.map\n", out.String())
}

func TestRun_PreservesCRLF(t *testing.T) {
	tr, _ := newFileTransformer(t, Options{})
	encoded := base64.StdEncoding.EncodeToString([]byte(bundleMap))
	input := "var a = 1;\r\nvar b = 2;\r\n//# sourceMappingURL=data:application/json;base64," + encoded + "\r\n"

	var out bytes.Buffer
	_, err := tr.Run(context.Background(), &out, strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, "var a = 1;\r\nvar b = 2;\r\n//# sourceMappingURL=bundle.js.map\r\n", out.String())
}

func TestRun_MissingMapPassesThrough(t *testing.T) {
	tr, path := newFileTransformer(t, Options{})
	events := tr.Events().Subscribe(context.Background())

	var out bytes.Buffer
	res, err := tr.Run(context.Background(), &out, strings.NewReader(bundleJS))
	require.NoError(t, err)

	require.Equal(t, KindMissingMap, res.Kind)
	require.Equal(t, bundleJS, out.String(), "output must be byte-identical")
	require.Contains(t, res.Message, MissingMapMessage)
	require.Contains(t, res.Message, "piped through as is")

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr), "no map file should be written")

	ev := receive(t, events)
	require.Equal(t, EventMissingMap, ev.Type)
	require.Equal(t, res.Message, ev.Payload.Message)
	requireNoEvent(t, events)
}

func TestRun_ErrorOnMissing(t *testing.T) {
	tr, path := newFileTransformer(t, Options{ErrorOnMissing: true})
	events := tr.Events().Subscribe(context.Background())

	var out bytes.Buffer
	_, err := tr.Run(context.Background(), &out, strings.NewReader(bundleJS))
	require.ErrorIs(t, err, ErrMissingMap)
	require.Empty(t, out.String(), "nothing may be emitted")

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))

	ev := receive(t, events)
	require.Equal(t, EventError, ev.Type)
	require.ErrorIs(t, ev.Payload.Err, ErrMissingMap)
}

func TestRun_Idempotent(t *testing.T) {
	tr, path := newFileTransformer(t, Options{})

	var first bytes.Buffer
	_, err := tr.Run(context.Background(), &first, strings.NewReader(withInlineMap(bundleJS, sourcemap.StyleLine, bundleMap)))
	require.NoError(t, err)
	written, err := os.ReadFile(path)
	require.NoError(t, err)

	var second bytes.Buffer
	res, err := tr.Run(context.Background(), &second, bytes.NewReader(first.Bytes()))
	require.NoError(t, err)
	require.Equal(t, KindMissingMap, res.Kind)
	require.Equal(t, first.String(), second.String())

	again, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, written, again, "map file must not be touched")
}

func TestRun_MalformedInlineMap(t *testing.T) {
	tr, path := newFileTransformer(t, Options{})
	events := tr.Events().Subscribe(context.Background())

	var out bytes.Buffer
	_, err := tr.Run(context.Background(), &out, strings.NewReader(withInlineMap(bundleJS, sourcemap.StyleLine, `{"version":3,`)))
	require.ErrorIs(t, err, ErrParse)
	require.Empty(t, out.String())

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
	require.Equal(t, EventError, receive(t, events).Type)
}

func TestRun_CreatesMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noexists", "bundle.js.map")
	tr, err := New(Options{Destination: sink.NewFile(path)})
	require.NoError(t, err)

	_, err = tr.Run(context.Background(), &bytes.Buffer{}, strings.NewReader(withInlineMap(bundleJS, sourcemap.StyleLine, bundleMap)))
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestRun_UnwritableDestination(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	tr, err := New(Options{Destination: sink.NewFile(filepath.Join(blocker, "bundle.js.map"))})
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = tr.Run(context.Background(), &out, strings.NewReader(withInlineMap(bundleJS, sourcemap.StyleLine, bundleMap)))

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	require.Empty(t, out.String(), "body must not be emitted when the map was not stored")
}

type failingSink struct{ err error }

func (f failingSink) WriteMap(context.Context, []byte) error { return f.err }
func (f failingSink) Name() (string, bool)                   { return "x.map", true }

func TestRun_WrapsForeignSinkErrors(t *testing.T) {
	tr, err := New(Options{Destination: failingSink{err: errors.New("disk on fire")}})
	require.NoError(t, err)

	_, err = tr.Run(context.Background(), &bytes.Buffer{}, strings.NewReader(withInlineMap(bundleJS, sourcemap.StyleLine, bundleMap)))
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	require.Equal(t, "x.map", ioErr.Path)
	require.ErrorContains(t, err, "disk on fire")
}

func TestNew_StreamWithoutURL(t *testing.T) {
	_, err := New(Options{Destination: sink.NewStream(&bytes.Buffer{})})
	require.ErrorIs(t, err, ErrMissingURL)
	require.Equal(t, "When specifying a stream to write source map to you must specify a url.", err.Error())
}

func TestNew_NilDestination(t *testing.T) {
	_, err := New(Options{})
	require.ErrorIs(t, err, ErrNoDestination)
}

func TestRun_StreamDestination(t *testing.T) {
	var mapOut bytes.Buffer
	tr, err := New(Options{Destination: sink.NewStream(&mapOut), URL: "bundle.js.map"})
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = tr.Run(context.Background(), &out, strings.NewReader(withInlineMap(bundleJS, sourcemap.StyleLine, bundleMap)))
	require.NoError(t, err)
	require.Equal(t, bundleJS+"//# sourceMappingURL=bundle.js.map\n", out.String())

	m, err := sourcemap.Parse(mapOut.Bytes())
	require.NoError(t, err)
	require.Equal(t, "generated.js", m.File)
}

func TestRun_MapWrittenEvent(t *testing.T) {
	tr, _ := newFileTransformer(t, Options{})
	events := tr.Events().Subscribe(context.Background())

	_, err := tr.Run(context.Background(), &bytes.Buffer{}, strings.NewReader(withInlineMap(bundleJS, sourcemap.StyleLine, bundleMap)))
	require.NoError(t, err)

	ev := receive(t, events)
	require.Equal(t, EventMapWritten, ev.Type)
	require.Equal(t, "bundle.js.map", ev.Payload.URL)
}

func TestRun_CancelledContext(t *testing.T) {
	tr, path := newFileTransformer(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	_, err := tr.Run(ctx, &out, strings.NewReader(withInlineMap(bundleJS, sourcemap.StyleLine, bundleMap)))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, out.String())

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestRun_ResolvesExternalMapWhenEnabled(t *testing.T) {
	inputDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "bundle.js.orig.map"), []byte(bundleMap), 0644))

	tr, path := newFileTransformer(t, Options{MapDir: inputDir, Root: "/src"})

	var out bytes.Buffer
	res, err := tr.Run(context.Background(), &out, strings.NewReader(bundleJS+"//# sourceMappingURL=bundle.js.orig.map?v=2\n"))
	require.NoError(t, err)
	require.Equal(t, KindSuccess, res.Kind)
	require.Equal(t, bundleJS+"//# sourceMappingURL=bundle.js.map\n", out.String())
	require.Equal(t, "/src", readMap(t, path)["sourceRoot"])
}

func TestRun_ExternalMapIgnoredByDefault(t *testing.T) {
	tr, _ := newFileTransformer(t, Options{})
	input := bundleJS + "//# sourceMappingURL=bundle.js.orig.map\n"

	var out bytes.Buffer
	res, err := tr.Run(context.Background(), &out, strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, KindMissingMap, res.Kind)
	require.Equal(t, input, out.String())
}

func TestRun_ExternalMapMissingOnDisk(t *testing.T) {
	tr, _ := newFileTransformer(t, Options{MapDir: t.TempDir()})
	input := bundleJS + "//# sourceMappingURL=gone.map\n"

	var out bytes.Buffer
	res, err := tr.Run(context.Background(), &out, strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, KindMissingMap, res.Kind)
	require.Equal(t, input, out.String())
}

func TestRun_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	tr, _ := newFileTransformer(t, Options{Tracer: provider.Tracer("test")})
	_, err := tr.Run(context.Background(), &bytes.Buffer{}, strings.NewReader(withInlineMap(bundleJS, sourcemap.StyleLine, bundleMap)))
	require.NoError(t, err)

	spans := recorder.Ended()
	names := make([]string, 0, len(spans))
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		names = append(names, s.Name())
		byName[s.Name()] = s
	}
	require.ElementsMatch(t, []string{
		tracing.SpanRead, tracing.SpanExtract, tracing.SpanRewrite,
		tracing.SpanWriteMap, tracing.SpanEmit, tracing.SpanRun,
	}, names)

	run := byName[tracing.SpanRun]
	require.Equal(t, codes.Ok, run.Status().Code)
	for _, name := range []string{tracing.SpanRead, tracing.SpanEmit} {
		require.Equal(t, run.SpanContext().SpanID(), byName[name].Parent().SpanID(), name)
	}

	var kind string
	for _, attr := range run.Attributes() {
		if string(attr.Key) == tracing.AttrResultKind {
			kind = attr.Value.AsString()
		}
	}
	require.Equal(t, "success", kind)
}

func TestRun_RecordsErrorOnSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	tr, _ := newFileTransformer(t, Options{Tracer: provider.Tracer("test"), ErrorOnMissing: true})
	_, err := tr.Run(context.Background(), &bytes.Buffer{}, strings.NewReader(bundleJS))
	require.Error(t, err)

	for _, s := range recorder.Ended() {
		if s.Name() == tracing.SpanRun {
			require.Equal(t, codes.Error, s.Status().Code)
			require.Equal(t, MissingMapMessage, s.Status().Description)
			return
		}
	}
	t.Fatal("run span not recorded")
}

func TestRun_PassThroughProperty(t *testing.T) {
	dir := t.TempDir()
	tr, err := New(Options{Destination: sink.NewFile(filepath.Join(dir, "out.map"))})
	require.NoError(t, err)
	defer tr.Close()

	rapid.Check(t, func(t *rapid.T) {
		// No '/' means no annotation can appear.
		body := rapid.StringMatching(`[a-z0-9 ;(){}=.'\n\r\t]{0,200}`).Draw(t, "body")

		var out bytes.Buffer
		res, err := tr.Run(context.Background(), &out, strings.NewReader(body))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Kind != KindMissingMap {
			t.Fatalf("kind = %v, want missing-map", res.Kind)
		}
		if out.String() != body {
			t.Fatalf("output differs from input")
		}
	})
}

func TestRun_ExtractProperty(t *testing.T) {
	dir := t.TempDir()
	tr, err := New(Options{Destination: sink.NewFile(filepath.Join(dir, "out.map"))})
	require.NoError(t, err)
	defer tr.Close()

	rapid.Check(t, func(t *rapid.T) {
		lines := rapid.SliceOfN(rapid.StringMatching(`[a-z0-9 ;(){}=.']{0,40}`), 0, 10).Draw(t, "lines")
		body := strings.Join(lines, "\n")
		if body != "" {
			body += "\n"
		}
		sources := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,8}\.js`), 0, 5).Draw(t, "sources")
		if sources == nil {
			sources = []string{}
		}
		mapJSON, _ := json.Marshal(map[string]any{"version": 3, "sources": sources, "mappings": "AAAA"})

		var out bytes.Buffer
		res, err := tr.Run(context.Background(), &out, strings.NewReader(withInlineMap(body, sourcemap.StyleLine, string(mapJSON))))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := body + "//# sourceMappingURL=out.map\n"; out.String() != want {
			t.Fatalf("output = %q, want %q", out.String(), want)
		}
		if len(res.Map.Sources) != len(sources) {
			t.Fatalf("sources = %v, want %v", res.Map.Sources, sources)
		}
	})
}

func receive(t *testing.T, ch <-chan pubsub.Event[Notification]) pubsub.Event[Notification] {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return pubsub.Event[Notification]{}
	}
}

func requireNoEvent(t *testing.T, ch <-chan pubsub.Event[Notification]) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %q", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRun_Fixtures(t *testing.T) {
	tests := []struct {
		name        string
		bundle      *testutil.Builder
		wantComment string
		wantSources []string
	}{
		{
			name:        "browserify bundle",
			bundle:      testutil.Browserify(t),
			wantComment: "//# sourceMappingURL=bundle.js.map",
			wantSources: []string{"node_modules/browser-pack/_prelude.js", "example/foo.js"},
		},
		{
			name:        "uri encoded with CRLF",
			bundle:      testutil.Browserify(t, testutil.URIEncoded(), testutil.CRLF()),
			wantComment: "//# sourceMappingURL=bundle.js.map",
			wantSources: []string{"node_modules/browser-pack/_prelude.js", "example/foo.js"},
		},
		{
			name:        "sass stylesheet",
			bundle:      testutil.Sass(t),
			wantComment: "/*# sourceMappingURL=bundle.js.map */",
			wantSources: []string{"styles/main.scss", "partials/_colors.scss"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newFileTransformer(t, Options{Base: testutil.ProjectDir})

			var out bytes.Buffer
			res, err := tr.Run(context.Background(), &out, strings.NewReader(tt.bundle.Build()))
			require.NoError(t, err)
			require.Equal(t, tt.wantComment, res.Comment)
			require.Equal(t, tt.wantSources, res.Map.Sources)
			require.Equal(t, tt.bundle.BuildWithReference("bundle.js.map"), out.String())
		})
	}
}

func TestRun_ExternalMapReloadedWhenChanged(t *testing.T) {
	inputDir := t.TempDir()
	mapPath := filepath.Join(inputDir, "in.js.map")
	require.NoError(t, os.WriteFile(mapPath, []byte(`{"version":3,"sources":["a.js"],"mappings":""}`), 0644))

	tr, _ := newFileTransformer(t, Options{MapDir: inputDir})
	input := bundleJS + "//# sourceMappingURL=in.js.map\n"

	res, err := tr.Run(context.Background(), &bytes.Buffer{}, strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []string{"a.js"}, res.Map.Sources)

	res, err = tr.Run(context.Background(), &bytes.Buffer{}, strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []string{"a.js"}, res.Map.Sources, "cached copy must not be mutated by rewriting")

	require.NoError(t, os.WriteFile(mapPath, []byte(`{"version":3,"sources":["a.js","bb.js"],"mappings":""}`), 0644))
	res, err = tr.Run(context.Background(), &bytes.Buffer{}, strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []string{"a.js", "bb.js"}, res.Map.Sources)
}
