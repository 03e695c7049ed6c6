package decode

import "errors"

var (
	// ErrFileNotFound is returned when the input path does not exist or is not a regular file.
	ErrFileNotFound = errors.New("input file not found")

	// ErrUnsupportedFormat is returned when no decoder accepts the input.
	ErrUnsupportedFormat = errors.New("unsupported input format")

	// ErrMalformedLine marks a line or row that could not be read as a record at all.
	ErrMalformedLine = errors.New("malformed record")

	// ErrRead wraps fatal I/O failures of the underlying reader.
	ErrRead = errors.New("read input")
)
