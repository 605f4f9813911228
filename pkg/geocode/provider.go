package geocode

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
)

// Mode says whether a provider accepts many records per request.
type Mode int

const (
	// ModeBatch providers take a whole batch in one request.
	ModeBatch Mode = iota
	// ModeIndividual providers are called once per record, paced by a fixed delay.
	ModeIndividual
)

func (m Mode) String() string {
	if m == ModeBatch {
		return "batch"
	}
	return "individual"
}

// Provider is the contract every lookup backend implements. Geocode is the
// only entry point the pipeline calls.
type Provider interface {
	Name() string
	Mode() Mode
	RequiresCredential() bool
	// MaxBatchSize is the hard per-call ceiling; 0 means none.
	MaxBatchSize() int
	// Validate rejects records missing the address parts this provider needs.
	Validate(addr AddressInput) error
	Geocode(ctx context.Context, addrs []AddressInput) ([]Result, error)
}

// Stages splits a provider into format, transport and parse steps so the
// steps can be exercised separately.
type Stages[In, Out any] interface {
	Prepare(addrs []AddressInput) (In, error)
	Submit(ctx context.Context, in In) (Out, error)
	Parse(out Out, addrs []AddressInput) ([]Result, error)
}

// Run composes prepare, submit and parse for p. Oversized input is rejected
// before any network call.
func Run[In, Out any](ctx context.Context, p Provider, s Stages[In, Out], addrs []AddressInput) ([]Result, error) {
	if limit := p.MaxBatchSize(); limit > 0 && len(addrs) > limit {
		return nil, eris.Wrapf(ErrBatchTooLarge, "geocode: %s: %d records, limit %d", p.Name(), len(addrs), limit)
	}
	if len(addrs) == 0 {
		return nil, nil
	}

	in, err := s.Prepare(addrs)
	if err != nil {
		var credErr *CredentialError
		if errors.As(err, &credErr) {
			return nil, err
		}
		return nil, eris.Wrapf(err, "geocode: %s: prepare", p.Name())
	}

	out, err := s.Submit(ctx, in)
	if err != nil {
		return nil, err
	}

	results, err := s.Parse(out, addrs)
	if err != nil {
		var credErr *CredentialError
		if errors.As(err, &credErr) {
			return nil, err
		}
		return nil, &TransportError{Provider: p.Name(), Err: eris.Wrap(err, "parse response")}
	}
	return results, nil
}

// requireFields checks the named address parts; "street", "city" and "zip" are understood.
func requireFields(addr AddressInput, fields ...string) error {
	var missing []string
	for _, f := range fields {
		var v string
		switch f {
		case "street":
			v = addr.Street
		case "city":
			v = addr.City
		case "zip":
			v = addr.ZipCode
		}
		if strings.TrimSpace(v) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &MalformedRecordError{RecordID: addr.ID, Missing: missing}
	}
	return nil
}
