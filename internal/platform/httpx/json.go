package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxBody bounds JSON request bodies.
const DefaultMaxBody = 64 << 10

// DecodeJSON reads exactly one JSON value from the request body into dst, rejecting unknown
// fields and trailing data. Failures come back as a 400 Error ready for WriteError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) *Error {
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	reader := http.MaxBytesReader(w, r.Body, limit)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			e := NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge)
			return &e
		case errors.Is(err, io.EOF):
			e := NewError("invalid_request", "request body is required", http.StatusBadRequest)
			return &e
		default:
			e := NewError("invalid_request", fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return &e
		}
	}
	if decoder.More() {
		e := NewError("invalid_request", "invalid request body: extraneous data", http.StatusBadRequest)
		return &e
	}
	return nil
}
