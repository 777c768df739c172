package sourcemap

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"regexp"
	"strings"
)

// annotationRx matches a sourceMappingURL comment occupying its own line.
// Group 1 is the comment opener ("/" for //, "*" for /*), group 2 the URL.
var annotationRx = regexp.MustCompile(`(?m)^[ \t]*/(/|\*)[@#][ \t]+sourceMappingURL=(\S*?)[ \t]*(?:\*/)?[ \t]*\r?$`)

// Annotation describes the sourceMappingURL comment a map was taken from.
type Annotation struct {
	Style  Style
	URL    string // the raw reference; the data URI for inline maps
	Inline bool
}

// Extraction is the outcome of scanning an artifact for its source map.
type Extraction struct {
	// Body is the artifact with the honored annotation line removed, or the
	// untouched input when no map was found.
	Body string

	// Map is nil when the artifact carries no usable map.
	Map *SourceMap

	// Annotation is the last sourceMappingURL comment in the artifact, if
	// any, whether or not a map could be obtained from it.
	Annotation *Annotation
}

// Resolver loads the map behind an external sourceMappingURL reference.
// Returning an error matching fs.ErrNotExist means "no map".
type Resolver func(ref string) ([]byte, error)

// Extract finds the last sourceMappingURL annotation in body and returns the
// map it references along with the body minus that annotation line.
//
// Inline data URIs are always decoded. External references are only loaded
// when resolve is non-nil. Earlier annotations are left in the body.
func Extract(body string, resolve Resolver) (Extraction, error) {
	matches := annotationRx.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return Extraction{Body: body}, nil
	}

	last := matches[len(matches)-1]
	ann := &Annotation{
		Style: styleOf(body[last[2]:last[3]]),
		URL:   body[last[4]:last[5]],
	}
	result := Extraction{Body: body, Annotation: ann}

	var payload []byte
	if strings.HasPrefix(ann.URL, "data:") {
		data, isJSON, err := decodeDataURI(ann.URL)
		if err != nil {
			return Extraction{}, &ParseError{Err: err}
		}
		if !isJSON {
			return result, nil
		}
		ann.Inline = true
		payload = data
	} else {
		if resolve == nil {
			return result, nil
		}
		data, err := resolve(ann.URL)
		if errors.Is(err, fs.ErrNotExist) {
			return result, nil
		}
		if err != nil {
			return Extraction{}, fmt.Errorf("resolving %s: %w", ann.URL, err)
		}
		payload = data
	}

	m, err := Parse(payload)
	if err != nil {
		return Extraction{}, err
	}
	result.Map = m
	result.Body = removeLine(body, last[0], last[1])
	return result, nil
}

// removeLine drops body[start:end] together with the line break ending it.
func removeLine(body string, start, end int) string {
	if end < len(body) && body[end] == '\n' {
		end++
	}
	return body[:start] + body[end:]
}

// decodeDataURI returns the payload of a data URI and whether its media type
// is JSON.
func decodeDataURI(uri string) ([]byte, bool, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, false, errors.New("data URI has no payload separator")
	}

	params := strings.Split(header, ";")
	mediaType := strings.ToLower(strings.TrimSpace(params[0]))
	if mediaType != "application/json" && mediaType != "text/json" {
		return nil, false, nil
	}

	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	if isBase64 {
		data, err := decodeBase64(payload)
		if err != nil {
			return nil, true, fmt.Errorf("decoding base64 payload: %w", err)
		}
		return data, true, nil
	}

	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return nil, true, fmt.Errorf("decoding URI payload: %w", err)
	}
	return []byte(decoded), true, nil
}

// decodeBase64 accepts the standard and URL alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
