package transform

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/county-wage-etl/internal/model"
)

// familyConfigs enumerates every household header the source publishes, keyed
// by headerKey. Anything else is a format change and must fail.
var familyConfigs = map[string]model.FamilyConfig{
	"1 adult":                         {Adults: 1, WorkingAdults: 1, Children: 0},
	"1 adult 1 child":                 {Adults: 1, WorkingAdults: 1, Children: 1},
	"1 adult 2 children":              {Adults: 1, WorkingAdults: 1, Children: 2},
	"1 adult 3 children":              {Adults: 1, WorkingAdults: 1, Children: 3},
	"2 adults (1 working)":            {Adults: 2, WorkingAdults: 1, Children: 0},
	"2 adults (1 working) 1 child":    {Adults: 2, WorkingAdults: 1, Children: 1},
	"2 adults (1 working) 2 children": {Adults: 2, WorkingAdults: 1, Children: 2},
	"2 adults (1 working) 3 children": {Adults: 2, WorkingAdults: 1, Children: 3},
	"2 adults":                        {Adults: 2, WorkingAdults: 2, Children: 0},
	"2 adults 1 child":                {Adults: 2, WorkingAdults: 2, Children: 1},
	"2 adults 2 children":             {Adults: 2, WorkingAdults: 2, Children: 2},
	"2 adults 3 children":             {Adults: 2, WorkingAdults: 2, Children: 3},
}

var wageCategoryKeys = map[string]string{
	"living wage":  model.WageLiving,
	"poverty wage": model.WagePoverty,
	"minimum wage": model.WageMinimum,
}

var expenseCategoryKeys = map[string]string{
	"food":                                model.ExpenseFood,
	"child care":                          model.ExpenseChildcare,
	"childcare":                           model.ExpenseChildcare,
	"medical":                             model.ExpenseHealthcare,
	"medical care":                        model.ExpenseHealthcare,
	"health care":                         model.ExpenseHealthcare,
	"healthcare":                          model.ExpenseHealthcare,
	"housing":                             model.ExpenseHousing,
	"transportation":                      model.ExpenseTransportation,
	"other":                               model.ExpenseOther,
	"civic":                               model.ExpenseCivic,
	"internet mobile":                     model.ExpenseInternetMobile,
	"internet_mobile":                     model.ExpenseInternetMobile,
	"required annual income after taxes":  model.ExpenseRequiredAfterTax,
	"annual taxes":                        model.ExpenseAnnualTaxes,
	"required annual income before taxes": model.ExpenseRequiredBeforeTax,
}

var parenPattern = regexp.MustCompile(`(\w)\(`)

// headerKey folds the spelling variants of a household header onto the
// familyConfigs keys: "2 ADULTS (BOTH WORKING) - 0 Children" becomes "2 adults".
func headerKey(header string) string {
	s := strings.ToLower(header)
	s = strings.ReplaceAll(s, " - ", " ")
	s = parenPattern.ReplaceAllString(s, "$1 (")
	s = collapse(s)
	s = strings.TrimSpace(strings.ReplaceAll(s, "(both working)", ""))
	s = strings.ReplaceAll(s, " 0 children", "")
	s = strings.ReplaceAll(s, " 0 child", "")
	return collapse(s)
}

var nonWord = regexp.MustCompile(`[^\w]+`)

// categoryKey lowercases a category label and folds punctuation runs to a
// single space: "Internet & Mobile" becomes "internet mobile".
func categoryKey(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	return strings.TrimSpace(nonWord.ReplaceAllString(s, " "))
}

// LookupFamily maps a household header to its configuration.
func LookupFamily(header string) (model.FamilyConfig, bool) {
	fc, ok := familyConfigs[headerKey(header)]
	return fc, ok
}

// LookupWageCategory maps a wage table label to its canonical key.
func LookupWageCategory(label string) (string, bool) {
	key, ok := wageCategoryKeys[categoryKey(label)]
	return key, ok
}

// LookupExpenseCategory maps an expense table label to its canonical key.
func LookupExpenseCategory(label string) (string, bool) {
	key, ok := expenseCategoryKeys[categoryKey(label)]
	return key, ok
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanCurrency strips the currency symbol, grouping separators and spaces.
func cleanCurrency(raw string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '$', ',', ' ', '\t', '\u00a0':
			return -1
		}
		return r
	}, raw)
}
