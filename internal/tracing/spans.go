package tracing

// Span names for the stages of a transform run.
const (
	SpanRun      = "exorcist.run"
	SpanRead     = "exorcist.read"
	SpanExtract  = "exorcist.extract"
	SpanRewrite  = "exorcist.rewrite"
	SpanWriteMap = "exorcist.write_map"
	SpanEmit     = "exorcist.emit"
)

// Span attribute keys.
const (
	AttrInputBytes     = "input.bytes"
	AttrOutputBytes    = "output.bytes"
	AttrMapBytes       = "map.bytes"
	AttrMapFound       = "map.found"
	AttrMapInline      = "map.inline"
	AttrMapSources     = "map.sources"
	AttrMapURL         = "map.url"
	AttrCommentStyle   = "comment.style"
	AttrSourceRoot     = "rewrite.source_root"
	AttrBase           = "rewrite.base"
	AttrResultKind     = "result.kind"
	AttrErrorOnMissing = "options.error_on_missing"
)

// Span event names.
const (
	EventMissingMap = "missing_map"
	EventMapWritten = "map_written"
)
