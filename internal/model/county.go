// Package model defines the county, scrape, record and run types shared by
// every stage of the wage ETL.
package model

import (
	"fmt"
	"strings"
)

const (
	// StateCodeWidth is the fixed width of a state FIPS code.
	StateCodeWidth = 2
	// CountyCodeWidth is the fixed width of a county FIPS code within a state.
	CountyCodeWidth = 3
	// FullCodeWidth is the width of the concatenated state+county code.
	FullCodeWidth = StateCodeWidth + CountyCodeWidth
)

// CountyIdentity identifies one county. Codes are always zero-padded.
type CountyIdentity struct {
	Name       string
	StateCode  string
	CountyCode string
}

// NewCountyIdentity pads and checks the code parts of a county.
func NewCountyIdentity(name, stateCode, countyCode string) (CountyIdentity, error) {
	state, err := PadCode(stateCode, StateCodeWidth)
	if err != nil {
		return CountyIdentity{}, fmt.Errorf("state code: %w", err)
	}
	county, err := PadCode(countyCode, CountyCodeWidth)
	if err != nil {
		return CountyIdentity{}, fmt.Errorf("county code: %w", err)
	}
	return CountyIdentity{
		Name:       strings.TrimSpace(name),
		StateCode:  state,
		CountyCode: county,
	}, nil
}

// FullCode returns the 5-digit state+county FIPS code.
func (c CountyIdentity) FullCode() string {
	return c.StateCode + c.CountyCode
}

// PadCode left-pads a numeric code with zeros to width.
func PadCode(code string, width int) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("empty code")
	}
	if len(code) > width {
		return "", fmt.Errorf("code %q is wider than %d digits", code, width)
	}
	if !IsDigits(code) {
		return "", fmt.Errorf("code %q is not numeric", code)
	}
	return strings.Repeat("0", width-len(code)) + code, nil
}

// IsDigits reports whether s is non-empty and made only of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
