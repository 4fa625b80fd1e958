// Package domain defines the core types of the position monitor: instruments,
// orders, positions, price ticks, and lifecycle events, plus the store and
// gateway interfaces everything else is written against.
package domain

import (
	"fmt"
	"time"
)

// OptionType distinguishes call and put contracts.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// Instrument identifies a tradable option contract. It is an immutable value;
// two instruments are the same contract iff all fields are equal.
type Instrument struct {
	Symbol      string     `json:"symbol"`
	OptionType  OptionType `json:"optionType"`
	StrikePrice float64    `json:"strikePrice"`
	// ExpiryDate is the contract expiry in YYYY-MM-DD.
	ExpiryDate string `json:"expiryDate"`
	// LotSize is the minimum tradable quantity; order quantities must be a
	// positive multiple of it.
	LotSize int `json:"lotSize"`
}

// Key returns a stable string identity for the contract, used as the map and
// cache key wherever positions or prices are grouped by instrument.
func (i Instrument) Key() string {
	return fmt.Sprintf("%s|%s|%.2f|%s", i.Symbol, i.OptionType, i.StrikePrice, i.ExpiryDate)
}

// Validate checks the instrument's static constraints.
func (i Instrument) Validate() error {
	if i.Symbol == "" {
		return fmt.Errorf("%w: instrument symbol must not be empty", ErrValidation)
	}
	if i.OptionType != OptionCall && i.OptionType != OptionPut {
		return fmt.Errorf("%w: unknown option type %q", ErrValidation, i.OptionType)
	}
	if i.StrikePrice < 0 {
		return fmt.Errorf("%w: strike price must not be negative, got %.2f", ErrValidation, i.StrikePrice)
	}
	if i.ExpiryDate == "" {
		return fmt.Errorf("%w: expiry date must not be empty", ErrValidation)
	}
	if _, err := time.Parse("2006-01-02", i.ExpiryDate); err != nil {
		return fmt.Errorf("%w: expiry date %q is not YYYY-MM-DD", ErrValidation, i.ExpiryDate)
	}
	if i.LotSize < 1 {
		return fmt.Errorf("%w: lot size must be at least 1, got %d", ErrValidation, i.LotSize)
	}
	return nil
}
