package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an exact decimal amount held as integer cents.
type Money int64

// ParseMoney parses an already-cleaned decimal string such as "1234.5" or
// "-12.05". At most two fraction digits are accepted.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	negative := false
	if s[0] == '-' || s[0] == '+' {
		negative = s[0] == '-'
		s = s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" && !hasFrac {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if whole == "" {
		whole = "0"
	}
	if !IsDigits(whole) || (hasFrac && frac != "" && !IsDigits(frac)) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	frac += strings.Repeat("0", 2-len(frac))
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if units > (math.MaxInt64-99)/100 {
		return 0, fmt.Errorf("amount %q is out of range", s)
	}
	total := units*100 + cents
	if negative {
		total = -total
	}
	return Money(total), nil
}

// Cents returns the amount in cents.
func (m Money) Cents() int64 {
	return int64(m)
}

// Float64 returns an approximate floating-point value.
func (m Money) Float64() float64 {
	return float64(m) / 100
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
