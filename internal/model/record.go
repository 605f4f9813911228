package model

import "strings"

// Record is a person/address entity keyed by a stable external identifier.
// Records are created by ingestion and only mutated through Location.
type Record struct {
	ID         string            `json:"id"`
	Address    Address           `json:"address"`
	Registered map[string]string `json:"registered,omitempty"` // boundary-set type -> self-reported value
	Location   *Location         `json:"location,omitempty"`
}

// Address holds the raw residence address components of a record.
type Address struct {
	StreetNumber    string `json:"street_number,omitempty"`
	StreetDirection string `json:"street_direction,omitempty"`
	StreetName      string `json:"street_name,omitempty"`
	StreetType      string `json:"street_type,omitempty"`
	Apartment       string `json:"apartment,omitempty"`
	City            string `json:"city,omitempty"`
	State           string `json:"state,omitempty"`
	Zip             string `json:"zip,omitempty"`
}

// Street builds the street line: number, direction, name and type, plus "Apt X".
func (a Address) Street() string {
	s := a.Primary()
	if apt := strings.TrimSpace(a.Apartment); apt != "" {
		if s != "" {
			s += " "
		}
		s += "Apt " + apt
	}
	return s
}

// Primary is the street line without the unit.
func (a Address) Primary() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.StreetNumber, a.StreetDirection, a.StreetName, a.StreetType} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Location is the denormalized "current location" copied from the best attempt.
type Location struct {
	Lon         float64 `json:"lon"`
	Lat         float64 `json:"lat"`
	Provider    string  `json:"provider"`
	Quality     Quality `json:"quality"`
	MatchedText string  `json:"matched_text,omitempty"`
}
