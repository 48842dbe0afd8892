package ingest

import (
	"fmt"
	"strings"
)

// SchemaError signals a tabular file missing mandatory columns.
type SchemaError struct {
	File    string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: missing required column(s): %s", e.File, strings.Join(e.Missing, ", "))
}

// EncodingError signals that no attempted text encoding could decode the file.
type EncodingError struct {
	File string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s: unable to decode file content with any supported encoding", e.File)
}

// DecompressionError signals a corrupt compressed stream.
type DecompressionError struct {
	File string
	Err  error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("%s: corrupt compressed stream: %v", e.File, e.Err)
}

func (e *DecompressionError) Unwrap() error { return e.Err }

// NoMatchingEntriesError signals a log file in which zero lines produced a
// qualifying crawl event. It carries the counts and a short sample of the
// first lines as the diagnostic surface for malformed input.
type NoMatchingEntriesError struct {
	File    string
	Total   int
	Invalid int
	Sample  []string
}

func (e *NoMatchingEntriesError) Error() string {
	return fmt.Sprintf("%s: no crawl entries found in %d line(s); first lines: %s",
		e.File, e.Total, strings.Join(e.Sample, " | "))
}
