// Package sourcemap holds the source map record carried through the
// exorcist transform, along with the helpers that pull an inline map out of
// a generated artifact and adjust its root and source paths.
//
// Only the fields the transform touches are decoded. Every other top-level
// key is kept verbatim so that serializing a map loses nothing.
package sourcemap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrParse is matched by every error returned for a malformed map payload.
var ErrParse = errors.New("invalid source map")

// ParseError reports a source map payload that could not be decoded.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing source map: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrParse) match any ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// SourceMap is a revision 3 source map.
type SourceMap struct {
	Version        int
	File           string
	SourceRoot     string
	Sources        []string
	SourcesContent []*string // entries may be null
	Mappings       string

	// Extra holds the remaining top-level keys (names, sections,
	// x_google_ignoreList, ...) exactly as they were read.
	Extra map[string]json.RawMessage
}

// Keys decoded into SourceMap fields. Serialization writes them in this order,
// followed by "names" and then the remaining extras sorted by key.
const (
	keyVersion        = "version"
	keyFile           = "file"
	keySourceRoot     = "sourceRoot"
	keySources        = "sources"
	keySourcesContent = "sourcesContent"
	keyNames          = "names"
	keyMappings       = "mappings"
)

// Parse decodes a JSON source map.
func Parse(data []byte) (*SourceMap, error) {
	var m SourceMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{Err: err}
	}
	return &m, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *SourceMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("source map must be a JSON object")
	}

	fields := []struct {
		key string
		dst any
	}{
		{keyVersion, &m.Version},
		{keyFile, &m.File},
		{keySourceRoot, &m.SourceRoot},
		{keySources, &m.Sources},
		{keySourcesContent, &m.SourcesContent},
		{keyMappings, &m.Mappings},
	}
	for _, f := range fields {
		value, ok := raw[f.key]
		if !ok {
			continue
		}
		delete(raw, f.key)
		if string(value) == "null" {
			continue
		}
		if err := json.Unmarshal(value, f.dst); err != nil {
			return fmt.Errorf("field %q: %w", f.key, err)
		}
	}

	if len(raw) > 0 {
		m.Extra = raw
	} else {
		m.Extra = nil
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (m SourceMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	first := true
	write := func(key string, value any) error {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		name, _ := json.Marshal(key)
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(encoded)
		return nil
	}

	if m.Version != 0 {
		if err := write(keyVersion, m.Version); err != nil {
			return nil, err
		}
	}
	if m.File != "" {
		if err := write(keyFile, m.File); err != nil {
			return nil, err
		}
	}
	if err := write(keySourceRoot, m.SourceRoot); err != nil {
		return nil, err
	}
	sources := m.Sources
	if sources == nil {
		sources = []string{}
	}
	if err := write(keySources, sources); err != nil {
		return nil, err
	}
	if m.SourcesContent != nil {
		if err := write(keySourcesContent, m.SourcesContent); err != nil {
			return nil, err
		}
	}
	if names, ok := m.Extra[keyNames]; ok {
		if err := write(keyNames, names); err != nil {
			return nil, err
		}
	}
	if err := write(keyMappings, m.Mappings); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		if k != keyNames {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, m.Extra[k]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Indent serializes the map as JSON indented with two spaces.
func (m *SourceMap) Indent() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serializing source map: %w", err)
	}
	return data, nil
}

// Validate reports a sourcesContent list that is not parallel to sources.
func (m *SourceMap) Validate() error {
	if m.Sources != nil && m.SourcesContent != nil && len(m.Sources) != len(m.SourcesContent) {
		return fmt.Errorf("source map lists %d sources but %d sourcesContent entries",
			len(m.Sources), len(m.SourcesContent))
	}
	return nil
}
