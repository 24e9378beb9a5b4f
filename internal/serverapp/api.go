package serverapp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"dynamic-graphql/internal/backend"
	"dynamic-graphql/internal/dbexec"
	"dynamic-graphql/internal/resolverrecord"
	"dynamic-graphql/internal/sqlguard"
	"dynamic-graphql/internal/synth"
)

// apiResponse is the payload of every non-GraphQL endpoint.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeAPIResponse(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeAPIData(w http.ResponseWriter, message string, data any) {
	writeAPIResponse(w, http.StatusOK, apiResponse{Success: true, Message: message, Data: data})
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeAPIResponse(w, status, apiResponse{Success: false, Message: message})
}

// statusForError maps the error taxonomy onto HTTP status codes. Unclassified
// errors report false so callers can hide their text.
func statusForError(err error) (int, bool) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, true
	case errors.Is(err, synth.ErrInvalidArgument),
		errors.Is(err, sqlguard.ErrInvalidSQL),
		errors.Is(err, resolverrecord.ErrInvalidRecord),
		errors.Is(err, backend.ErrUnsupportedKind),
		errors.Is(err, backend.ErrUnknownVariant),
		errors.Is(err, errMalformedBody):
		return http.StatusBadRequest, true
	case errors.Is(err, synth.ErrUnknownResolver),
		errors.Is(err, resolverrecord.ErrNotFound),
		errors.Is(err, backend.ErrTableNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, synth.ErrSynthesis):
		return http.StatusUnprocessableEntity, true
	case errors.Is(err, backend.ErrNotConfigured):
		return http.StatusServiceUnavailable, true
	case errors.Is(err, dbexec.ErrExecution):
		return http.StatusBadGateway, true
	default:
		return http.StatusInternalServerError, false
	}
}

// writeError writes err with its mapped status. Unclassified errors are
// reported as a generic message.
func writeError(w http.ResponseWriter, err error) int {
	status, known := statusForError(err)
	message := err.Error()
	if !known {
		message = "internal error"
	}
	writeAPIError(w, status, message)
	return status
}

var errMalformedBody = errors.New("malformed request body")

// decodeJSONBody decodes r's body into dst. An empty body leaves dst
// untouched. Numbers decode as json.Number so declared types decide their
// conversion.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	body := r.Body
	if maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %s", errMalformedBody, err.Error())
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after JSON value", errMalformedBody)
	}
	return nil
}
