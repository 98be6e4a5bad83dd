package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// EmailField is the multipart field the inbound webhook delivers the raw message in.
const EmailField = "email"

// DefaultMaxMemory bounds how much of a multipart body is held in memory before spilling to disk.
const DefaultMaxMemory = 32 << 20

var (
	// ErrMissingEmailField is returned when the form has no "email" field.
	ErrMissingEmailField = errors.New("missing email field")
	// ErrMalformedRequest is returned when the body is not a readable multipart form.
	ErrMalformedRequest = errors.New("malformed multipart request")
)

// ReadRawEmail extracts the raw MIME message from a multipart form request.
// The field may arrive as an uploaded file part or as a plain text value.
func ReadRawEmail(r *http.Request, maxMemory int64) (io.Reader, error) {
	if maxMemory <= 0 {
		maxMemory = DefaultMaxMemory
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}

	if files := r.MultipartForm.File[EmailField]; len(files) > 0 {
		file, err := files[0].Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
		}
		defer func() { _ = file.Close() }()

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, file); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
		}
		return &buf, nil
	}

	if values := r.MultipartForm.Value[EmailField]; len(values) > 0 && values[0] != "" {
		return bytes.NewReader([]byte(values[0])), nil
	}

	return nil, ErrMissingEmailField
}
