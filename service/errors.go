package service

import "errors"

// Failure kinds surfaced by the analysis pipeline. Callers match them with errors.Is.
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrEmptyDocument     = errors.New("empty document")
	ErrExtraction        = errors.New("extraction error")
	ErrMalformedResponse = errors.New("malformed response")
	ErrSchemaViolation   = errors.New("schema violation")
	ErrService           = errors.New("service error")

	ErrNotFound = errors.New("analysis not found")
	ErrStorage  = errors.New("storage error")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrUnsupportedFormat, "unsupported_format"},
	{ErrEmptyDocument, "empty_document"},
	{ErrExtraction, "extraction_error"},
	{ErrMalformedResponse, "malformed_response"},
	{ErrSchemaViolation, "schema_violation"},
	{ErrService, "service_error"},
	{ErrNotFound, "not_found"},
	{ErrStorage, "storage_error"},
}

// ErrorKind names the failure kind of err, or "internal" when it has none
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// IsClientError reports failures caused by the uploaded document itself
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrEmptyDocument) ||
		errors.Is(err, ErrExtraction)
}
