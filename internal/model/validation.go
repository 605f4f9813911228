package model

import "time"

// ValidationStatus is the outcome of checking a record's address with the
// postal service.
type ValidationStatus string

const (
	ValidationValidated ValidationStatus = "validated" // accepted as written
	ValidationCorrected ValidationStatus = "corrected" // accepted with changes to street, city or zip
	ValidationFailed    ValidationStatus = "failed"
)

// Validation is the latest postal check of one record's address. Unlike
// attempts there is one row per record, replaced on every check.
type Validation struct {
	RecordID        string           `json:"record_id"`
	Status          ValidationStatus `json:"status"`
	Street          string           `json:"street,omitempty"`
	City            string           `json:"city,omitempty"`
	State           string           `json:"state,omitempty"`
	Zip             string           `json:"zip,omitempty"`
	ZipPlus4        string           `json:"zip_plus4,omitempty"`
	DeliveryPoint   string           `json:"delivery_point,omitempty"`
	CarrierRoute    string           `json:"carrier_route,omitempty"`
	DPVConfirmation string           `json:"dpv_confirmation,omitempty"` // Y, D, S or N
	Business        string           `json:"business,omitempty"`
	Vacant          string           `json:"vacant,omitempty"`
	Error           string           `json:"error,omitempty"`
	ValidatedAt     time.Time        `json:"validated_at"`
}
