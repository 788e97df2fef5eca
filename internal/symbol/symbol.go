// Package symbol handles option instrument symbol parsing and validation.
// A symbol encodes underlying, strike, and option type in one opaque
// identifier, e.g. NIFTY22500CE or BANKNIFTY48000PE.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Option types.
const (
	TypeCall = "CE"
	TypePut  = "PE"
)

// symbolRegex matches: {underlying}{strike}{CE|PE}
// Example: NIFTY22500CE
var symbolRegex = regexp.MustCompile(`^([A-Z]+)(\d+)(CE|PE)$`)

var (
	ErrInvalidSymbol = errors.New("symbol: invalid symbol format")
	ErrInvalidStrike = errors.New("symbol: strike must be positive")
)

// Option is a parsed option instrument.
type Option struct {
	Symbol     string `json:"symbol"`
	Underlying string `json:"underlying"`
	Strike     int64  `json:"strike"`
	OptionType string `json:"option_type"`
}

// Parse parses and validates an option symbol string.
// Format: {underlying}{strike}{CE|PE}
func Parse(sym string) (*Option, error) {
	matches := symbolRegex.FindStringSubmatch(sym)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected {underlying}{strike}{CE|PE})",
			ErrInvalidSymbol, sym)
	}

	strike, err := strconv.ParseInt(matches[2], 10, 64)
	if err != nil || strike <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStrike, matches[2])
	}

	return &Option{
		Symbol:     sym,
		Underlying: matches[1],
		Strike:     strike,
		OptionType: matches[3],
	}, nil
}
