package geocode

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrBatchTooLarge is returned when a call exceeds a provider's hard ceiling.
var ErrBatchTooLarge = eris.New("geocode: batch exceeds provider limit")

// TransportError covers network failures, timeouts, non-2xx responses and
// unreadable payloads.
type TransportError struct {
	Provider   string
	StatusCode int
	Body       []byte // response body of a non-2xx reply
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("geocode: %s: transport error (HTTP %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("geocode: %s: transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CredentialError means the provider's key is missing or was rejected.
type CredentialError struct {
	Provider string
	Reason   string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("geocode: %s: credential error: %s", e.Provider, e.Reason)
}

// MalformedRecordError means a record lacks address parts the provider needs.
type MalformedRecordError struct {
	RecordID string
	Missing  []string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("geocode: record %s missing %s", e.RecordID, strings.Join(e.Missing, ", "))
}

// UnknownProviderError is returned by New for unregistered names.
type UnknownProviderError struct {
	Name      string
	Available []string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("geocode: unknown provider %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}
