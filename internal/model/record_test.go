package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressStreet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		addr Address
		want string
	}{
		{"full", Address{StreetNumber: "123", StreetDirection: "N", StreetName: "Main", StreetType: "St", Apartment: "4B"}, "123 N Main St Apt 4B"},
		{"no direction", Address{StreetNumber: "9", StreetName: "Peachtree", StreetType: "Rd"}, "9 Peachtree Rd"},
		{"trims parts", Address{StreetNumber: " 9 ", StreetName: " Oak "}, "9 Oak"},
		{"empty", Address{}, ""},
		{"unit only", Address{Apartment: "2"}, "Apt 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.addr.Street())
		})
	}
}

func TestAddressPrimary(t *testing.T) {
	a := Address{StreetNumber: "123", StreetDirection: "N", StreetName: "Main", StreetType: "St", Apartment: "4B"}
	assert.Equal(t, "123 N Main St", a.Primary())
	assert.Empty(t, Address{Apartment: "4B"}.Primary())
}
