package model

import (
	"time"

	"github.com/google/uuid"
)

// Wage category keys.
const (
	WageLiving  = "living"
	WagePoverty = "poverty"
	WageMinimum = "minimum"
)

// Expense category keys.
const (
	ExpenseFood              = "food"
	ExpenseChildcare         = "childcare"
	ExpenseHousing           = "housing"
	ExpenseTransportation    = "transportation"
	ExpenseHealthcare        = "healthcare"
	ExpenseOther             = "other"
	ExpenseCivic             = "civic"
	ExpenseInternetMobile    = "internet_mobile"
	ExpenseRequiredAfterTax  = "required_after_tax"
	ExpenseAnnualTaxes       = "annual_taxes"
	ExpenseRequiredBeforeTax = "required_before_tax"
)

var wageCategories = map[string]struct{}{
	WageLiving:  {},
	WagePoverty: {},
	WageMinimum: {},
}

var expenseCategories = map[string]struct{}{
	ExpenseFood:              {},
	ExpenseChildcare:         {},
	ExpenseHousing:           {},
	ExpenseTransportation:    {},
	ExpenseHealthcare:        {},
	ExpenseOther:             {},
	ExpenseCivic:             {},
	ExpenseInternetMobile:    {},
	ExpenseRequiredAfterTax:  {},
	ExpenseAnnualTaxes:       {},
	ExpenseRequiredBeforeTax: {},
}

// IsWageCategory reports whether key is a known wage category.
func IsWageCategory(key string) bool {
	_, ok := wageCategories[key]
	return ok
}

// IsExpenseCategory reports whether key is a known expense category.
func IsExpenseCategory(key string) bool {
	_, ok := expenseCategories[key]
	return ok
}

// FamilyConfig is a household composition.
type FamilyConfig struct {
	Adults        int
	WorkingAdults int
	Children      int
}

// RecordKey is the natural key shared by wage and expense records.
type RecordKey struct {
	FullCode    string
	PageUpdated time.Time
	Family      FamilyConfig
	Category    string
}

// WageRecord is one long-format hourly wage value.
type WageRecord struct {
	Key        RecordKey
	HourlyWage float64
	// Blank marks a record built from an empty source cell.
	Blank bool
	// Raw is the source cell the record was built from.
	Raw map[string]any
}

// ExpenseRecord is one long-format annual expense value.
type ExpenseRecord struct {
	Key          RecordKey
	AnnualAmount Money
	Blank        bool
	Raw          map[string]any
}

// RejectRecord is a record, or table, that failed validation.
type RejectRecord struct {
	RunID  uuid.UUID
	Raw    map[string]any
	Reason string
}
