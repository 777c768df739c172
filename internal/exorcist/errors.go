package exorcist

import (
	"errors"

	"github.com/zjrosen/exorcist/internal/sink"
	"github.com/zjrosen/exorcist/internal/sourcemap"
)

// MissingMapMessage is the text of the missing-map notification and of
// ErrMissingMap.
const MissingMapMessage = "The code that you piped into exorcist contains no source map!"

// missingMapDetail follows MissingMapMessage in the missing-map notification.
const missingMapDetail = "Therefore it was piped through as is and no external map file generated."

var (
	// ErrMissingMap is returned when the input has no map and ErrorOnMissing is set.
	ErrMissingMap = errors.New(MissingMapMessage) //nolint:staticcheck // user-facing text

	// ErrMissingURL is returned by New when the destination has no name and
	// no URL was given.
	ErrMissingURL = errors.New("When specifying a stream to write source map to you must specify a url.") //nolint:staticcheck // user-facing text

	// ErrNoDestination is returned by New when Options.Destination is nil.
	ErrNoDestination = errors.New("a destination for the source map is required")

	// ErrParse matches malformed inline map payloads.
	ErrParse = sourcemap.ErrParse
)

// IOError reports a failure to create or write the map destination.
type IOError = sink.IOError
