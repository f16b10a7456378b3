package census

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/county-wage-etl/internal/model"
)

// stateAbbreviations maps state FIPS codes to USPS abbreviations.
var stateAbbreviations = map[string]string{
	"01": "AL", "02": "AK", "04": "AZ", "05": "AR", "06": "CA",
	"08": "CO", "09": "CT", "10": "DE", "11": "DC", "12": "FL",
	"13": "GA", "15": "HI", "16": "ID", "17": "IL", "18": "IN",
	"19": "IA", "20": "KS", "21": "KY", "22": "LA", "23": "ME",
	"24": "MD", "25": "MA", "26": "MI", "27": "MN", "28": "MS",
	"29": "MO", "30": "MT", "31": "NE", "32": "NV", "33": "NH",
	"34": "NJ", "35": "NM", "36": "NY", "37": "NC", "38": "ND",
	"39": "OH", "40": "OK", "41": "OR", "42": "PA", "44": "RI",
	"45": "SC", "46": "SD", "47": "TN", "48": "TX", "49": "UT",
	"50": "VT", "51": "VA", "53": "WA", "54": "WV", "55": "WI",
	"56": "WY", "72": "PR",
}

var stateCodesByAbbreviation = func() map[string]string {
	out := make(map[string]string, len(stateAbbreviations))
	for code, abbr := range stateAbbreviations {
		out[abbr] = code
	}
	return out
}()

// ResolveState accepts a FIPS code ("1", "01") or a USPS abbreviation ("al")
// and returns the 2-digit FIPS code.
func ResolveState(codeOrAbbreviation string) (string, error) {
	v := strings.TrimSpace(codeOrAbbreviation)
	if model.IsDigits(v) {
		code, err := model.PadCode(v, model.StateCodeWidth)
		if err != nil {
			return "", fmt.Errorf("resolve state %q: %w", v, err)
		}
		if _, ok := stateAbbreviations[code]; !ok {
			return "", fmt.Errorf("unknown state code %q", code)
		}
		return code, nil
	}
	if code, ok := stateCodesByAbbreviation[strings.ToUpper(v)]; ok {
		return code, nil
	}
	return "", fmt.Errorf("unknown state %q", v)
}

// Abbreviation returns the USPS abbreviation for a state FIPS code, or "".
func Abbreviation(stateCode string) string {
	return stateAbbreviations[stateCode]
}
