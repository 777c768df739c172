// Package exorcist moves an inline source map out of a generated JavaScript
// or CSS artifact.
//
// A Transformer reads the whole artifact, takes the map from its trailing
// sourceMappingURL data URI, adjusts the map's sourceRoot and source paths,
// writes the map to a sink and only then emits the artifact followed by an
// annotation that references the written map:
//
//	t, err := exorcist.New(exorcist.Options{
//		Destination: sink.NewFile("dist/bundle.js.map"),
//	})
//	res, err := t.Run(ctx, os.Stdout, os.Stdin)
//
// An artifact without a map is passed through unchanged and reported as
// KindMissingMap, unless ErrorOnMissing is set.
package exorcist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/exorcist/internal/cachemanager"
	"github.com/zjrosen/exorcist/internal/log"
	"github.com/zjrosen/exorcist/internal/pubsub"
	"github.com/zjrosen/exorcist/internal/sink"
	"github.com/zjrosen/exorcist/internal/sourcemap"
	"github.com/zjrosen/exorcist/internal/tracing"
)

// Options configures a Transformer.
type Options struct {
	// Destination receives the map JSON. Required.
	Destination sink.Sink

	// URL is written into the trailing annotation. Defaults to the
	// destination's name; required when the destination has none.
	URL string

	// Root replaces the map's sourceRoot when non-empty.
	Root string

	// Base, when set, makes absolute source paths relative to it.
	Base string

	// ErrorOnMissing turns a missing map into ErrMissingMap instead of a
	// pass-through.
	ErrorOnMissing bool

	// MapDir enables loading maps behind external sourceMappingURL
	// references, resolved relative to this directory.
	MapDir string

	// Tracer records a span per stage. Defaults to a no-op tracer.
	Tracer trace.Tracer
}

// Kind classifies a completed run.
type Kind int

const (
	// KindSuccess means the map was written and the annotation rewritten.
	KindSuccess Kind = iota
	// KindMissingMap means the input had no map and was passed through.
	KindMissingMap
)

func (k Kind) String() string {
	if k == KindMissingMap {
		return "missing-map"
	}
	return "success"
}

// Result describes a completed run.
type Result struct {
	Kind Kind

	// URL and Comment are the annotation that was emitted (KindSuccess).
	URL     string
	Comment string

	// Map is the rewritten map (KindSuccess).
	Map *sourcemap.SourceMap

	// Message is the missing-map notification text (KindMissingMap).
	Message string
}

// Notification event types published on Events.
const (
	EventMissingMap pubsub.EventType = "missing-map"
	EventMapWritten pubsub.EventType = "map-written"
	EventError      pubsub.EventType = "error"
)

// Notification is the payload of an event published on Events.
type Notification struct {
	Message string
	URL     string
	Err     error
}

// Transformer externalizes source maps. It is safe for concurrent use; each
// Run works on its own copy of the map.
type Transformer struct {
	opts   Options
	tracer trace.Tracer
	events *pubsub.Broker[Notification]

	// externalMaps holds external map files keyed by path, size and mtime.
	externalMaps *cachemanager.ReadThroughCache[[]byte, string]
}

// externalMapTTL bounds how long an unchanged external map stays cached.
const externalMapTTL = 5 * time.Minute

// New validates opts and returns a Transformer. It fails with ErrMissingURL
// before any input is read when the destination has no name and no URL is
// set.
func New(opts Options) (*Transformer, error) {
	if opts.Destination == nil {
		return nil, ErrNoDestination
	}
	if opts.URL == "" {
		if _, ok := opts.Destination.Name(); !ok {
			return nil, ErrMissingURL
		}
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("exorcist")
	}

	t := &Transformer{
		opts:   opts,
		tracer: tracer,
		events: pubsub.NewBroker[Notification](),
	}
	if opts.MapDir != "" {
		cache := cachemanager.NewInMemoryCacheManager[[]byte]("external-maps", externalMapTTL, cachemanager.DefaultCleanupInterval)
		t.externalMaps = cachemanager.NewReadThroughCache[[]byte, string](cache, readMapFile)
	}
	return t, nil
}

// Events returns the broker on which missing-map, map-written and error
// notifications are published.
func (t *Transformer) Events() *pubsub.Broker[Notification] {
	return t.events
}

// Close closes every Events subscription.
func (t *Transformer) Close() {
	t.events.Close()
}

// URL returns the reference the trailing annotation will carry.
func (t *Transformer) URL() string {
	if t.opts.URL != "" {
		return t.opts.URL
	}
	name, _ := t.opts.Destination.Name()
	return name
}

// Run reads the artifact from src, writes the map to the destination and
// then writes the rewritten artifact to dst. Nothing is written to dst
// unless the map was stored successfully or the input is passed through.
func (t *Transformer) Run(ctx context.Context, dst io.Writer, src io.Reader) (Result, error) {
	ctx, span := t.tracer.Start(ctx, tracing.SpanRun, trace.WithAttributes(
		attribute.Bool(tracing.AttrErrorOnMissing, t.opts.ErrorOnMissing),
	))
	defer span.End()

	res, err := t.run(ctx, dst, src)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.ErrorErr(log.CatRewrite, "transform failed", err)
		t.events.Publish(EventError, Notification{Message: err.Error(), Err: err})
		return Result{}, err
	}

	span.SetAttributes(attribute.String(tracing.AttrResultKind, res.Kind.String()))
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (t *Transformer) run(ctx context.Context, dst io.Writer, src io.Reader) (Result, error) {
	input, err := t.read(ctx, src)
	if err != nil {
		return Result{}, err
	}

	ext, err := t.extract(ctx, input)
	if err != nil {
		return Result{}, err
	}

	if ext.Map == nil {
		return t.passThrough(ctx, dst, input)
	}

	data, style, err := t.rewrite(ctx, ext)
	if err != nil {
		return Result{}, err
	}

	url := t.URL()
	if err := t.writeMap(ctx, data, url); err != nil {
		return Result{}, err
	}

	comment := style.Comment(url)
	if err := t.emit(ctx, dst, ext.Body, comment); err != nil {
		return Result{}, err
	}

	return Result{
		Kind:    KindSuccess,
		URL:     url,
		Comment: comment,
		Map:     ext.Map,
	}, nil
}

func (t *Transformer) read(ctx context.Context, src io.Reader) (string, error) {
	_, span := t.tracer.Start(ctx, tracing.SpanRead)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	span.SetAttributes(attribute.Int(tracing.AttrInputBytes, len(data)))
	return string(data), nil
}

func (t *Transformer) extract(ctx context.Context, input string) (sourcemap.Extraction, error) {
	_, span := t.tracer.Start(ctx, tracing.SpanExtract)
	defer span.End()

	ext, err := sourcemap.Extract(input, t.resolver(ctx))
	if err != nil {
		span.RecordError(err)
		return sourcemap.Extraction{}, err
	}

	span.SetAttributes(attribute.Bool(tracing.AttrMapFound, ext.Map != nil))
	if ext.Annotation != nil {
		span.SetAttributes(attribute.Bool(tracing.AttrMapInline, ext.Annotation.Inline))
		log.Debug(log.CatExtract, "found annotation",
			"style", ext.Annotation.Style, "inline", ext.Annotation.Inline, "map", ext.Map != nil)
	}
	return ext, nil
}

// resolver loads external map references from MapDir. Only plain relative
// file references are followed.
func (t *Transformer) resolver(ctx context.Context) sourcemap.Resolver {
	if t.externalMaps == nil {
		return nil
	}
	return func(ref string) ([]byte, error) {
		if strings.Contains(ref, "://") || strings.HasPrefix(ref, "/") {
			return nil, fs.ErrNotExist
		}
		if i := strings.IndexAny(ref, "?#"); i >= 0 {
			ref = ref[:i]
		}
		path := filepath.Join(t.opts.MapDir, filepath.FromSlash(ref))

		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		key := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
		data, err := t.externalMaps.Get(ctx, key, path, externalMapTTL)
		if err != nil {
			return nil, err
		}
		log.Debug(log.CatExtract, "resolved external map", "path", path, "bytes", len(data))
		return data, nil
	}
}

func readMapFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path) //nolint:gosec // G304: reference comes from the artifact being processed
}

func (t *Transformer) passThrough(ctx context.Context, dst io.Writer, input string) (Result, error) {
	span := trace.SpanFromContext(ctx)

	if t.opts.ErrorOnMissing {
		return Result{}, ErrMissingMap
	}

	message := MissingMapMessage + "\n" + missingMapDetail
	span.AddEvent(tracing.EventMissingMap)
	log.Warn(log.CatExtract, "no source map in input, passing through", "bytes", len(input))
	t.events.Publish(EventMissingMap, Notification{Message: message})

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if _, err := io.WriteString(dst, input); err != nil {
		return Result{}, fmt.Errorf("writing output: %w", err)
	}
	return Result{Kind: KindMissingMap, Message: message}, nil
}

func (t *Transformer) rewrite(ctx context.Context, ext sourcemap.Extraction) ([]byte, sourcemap.Style, error) {
	_, span := t.tracer.Start(ctx, tracing.SpanRewrite)
	defer span.End()

	m := ext.Map
	m.SetSourceRoot(t.opts.Root)
	if t.opts.Base != "" {
		m.MapSources(sourcemap.RelativeTo(t.opts.Base))
	}
	if err := m.Validate(); err != nil {
		log.Warn(log.CatRewrite, "inconsistent source map", "problem", err)
	}

	data, err := m.Indent()
	if err != nil {
		return nil, sourcemap.StyleLine, err
	}

	style := sourcemap.DetectStyle(ext.Body)
	if ext.Annotation != nil && ext.Annotation.Style == sourcemap.StyleBlock {
		style = sourcemap.StyleBlock
	}

	span.SetAttributes(
		attribute.String(tracing.AttrSourceRoot, m.SourceRoot),
		attribute.String(tracing.AttrBase, t.opts.Base),
		attribute.Int(tracing.AttrMapSources, len(m.Sources)),
		attribute.String(tracing.AttrCommentStyle, style.String()),
	)
	log.Debug(log.CatRewrite, "rewrote map",
		"sourceRoot", m.SourceRoot, "sources", len(m.Sources), "style", style)

	return data, style, nil
}

func (t *Transformer) writeMap(ctx context.Context, data []byte, url string) error {
	ctx, span := t.tracer.Start(ctx, tracing.SpanWriteMap, trace.WithAttributes(
		attribute.Int(tracing.AttrMapBytes, len(data)),
		attribute.String(tracing.AttrMapURL, url),
	))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.opts.Destination.WriteMap(ctx, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var ioErr *IOError
		if errors.As(err, &ioErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &IOError{Op: "write", Path: url, Err: err}
	}

	span.AddEvent(tracing.EventMapWritten)
	t.events.Publish(EventMapWritten, Notification{URL: url})
	return nil
}

func (t *Transformer) emit(ctx context.Context, dst io.Writer, body, comment string) error {
	_, span := t.tracer.Start(ctx, tracing.SpanEmit)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}

	newline := "\n"
	if strings.Contains(body, "\r\n") {
		newline = "\r\n"
	}

	var out bytes.Buffer
	out.Grow(len(body) + len(comment) + 2*len(newline))
	out.WriteString(body)
	if body != "" && !strings.HasSuffix(body, "\n") {
		out.WriteString(newline)
	}
	out.WriteString(comment)
	out.WriteString(newline)

	n, err := dst.Write(out.Bytes())
	span.SetAttributes(attribute.Int(tracing.AttrOutputBytes, n))
	if err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
