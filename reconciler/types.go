// Package reconciler keeps the two amount inputs of a trading panel
// consistent with live token prices and an optional leverage multiplier.
package reconciler

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	// InputPrecision is the number of decimal places a derived amount is rounded to.
	InputPrecision int32 = 8
	// DisplayPrecision is the number of decimal places shown for USD values.
	DisplayPrecision int32 = 6
)

var (
	ErrEmptyAllowedTokens    = errors.New("allowed token list is empty")
	ErrInvalidLeverageBounds = errors.New("invalid leverage bounds")
)

// Slot identifies one of the two inputs.
type Slot int

const (
	SlotA Slot = iota // pay / collateral
	SlotB             // receive / position size
)

// Opposite returns the other slot.
func (s Slot) Opposite() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

func (s Slot) String() string {
	switch s {
	case SlotA:
		return "A"
	case SlotB:
		return "B"
	default:
		return fmt.Sprintf("Slot(%d)", int(s))
	}
}

// ReferenceMark records which slot the user edited last.
type ReferenceMark int

const (
	ReferenceNone ReferenceMark = iota
	ReferenceA
	ReferenceB
)

// ReferenceFor returns the mark that designates s as the reference.
func ReferenceFor(s Slot) ReferenceMark {
	if s == SlotA {
		return ReferenceA
	}
	return ReferenceB
}

// Slot returns the referenced slot, or false when no reference is set.
func (r ReferenceMark) Slot() (Slot, bool) {
	switch r {
	case ReferenceA:
		return SlotA, true
	case ReferenceB:
		return SlotB, true
	default:
		return SlotA, false
	}
}

// Flip swaps A and B. ReferenceNone stays as is.
func (r ReferenceMark) Flip() ReferenceMark {
	switch r {
	case ReferenceA:
		return ReferenceB
	case ReferenceB:
		return ReferenceA
	default:
		return ReferenceNone
	}
}

func (r ReferenceMark) String() string {
	switch r {
	case ReferenceA:
		return "A"
	case ReferenceB:
		return "B"
	default:
		return "none"
	}
}

// Mode selects how the USD value of the derived slot relates to the reference.
type Mode int

const (
	// ModePlain keeps both slots at the same USD value (swap, liquidity).
	ModePlain Mode = iota
	// ModeLeveraged makes slot B worth slot A times the leverage (long/short sizing).
	ModeLeveraged
)

func (m Mode) String() string {
	if m == ModeLeveraged {
		return "leveraged"
	}
	return "plain"
}

// TokenRef describes the asset selected in a slot.
type TokenRef struct {
	Symbol          string `json:"symbol" yaml:"symbol"`
	Decimals        int32  `json:"decimals" yaml:"decimals"`
	DisplayDecimals int32  `json:"display_decimals" yaml:"display_decimals"`
}

func (t TokenRef) String() string { return t.Symbol }

// InputSlot is the rendered state of one input.
//
// RawAmount is nil when the field is empty. USDPrice is only valid when
// RawAmount parses as a finite number and the token price is known.
type InputSlot struct {
	RawAmount *string
	USDPrice  decimal.NullDecimal
	Token     TokenRef
}

// Amount returns the parsed raw amount.
func (s InputSlot) Amount() (decimal.Decimal, bool) {
	return ParseAmount(s.RawAmount)
}

func (s *InputSlot) clear() {
	s.RawAmount = nil
	s.USDPrice = decimal.NullDecimal{}
}

// PriceTable is a read-only view of token USD prices. A missing entry
// means the price has not been loaded yet.
type PriceTable interface {
	Price(symbol string) (float64, bool)
}

// PriceMap is a PriceTable backed by a map. A nil value marks a price
// that is known to be unavailable.
type PriceMap map[string]*float64

// Price implements PriceTable. Non-finite and non-positive prices are
// reported as unavailable.
func (m PriceMap) Price(symbol string) (float64, bool) {
	p, ok := m[symbol]
	if !ok || p == nil {
		return 0, false
	}
	if !UsablePrice(*p) {
		return 0, false
	}
	return *p, true
}

// Set stores a loaded price.
func (m PriceMap) Set(symbol string, price float64) {
	m[symbol] = &price
}

// Unset marks a price as not loaded.
func (m PriceMap) Unset(symbol string) {
	m[symbol] = nil
}

// UsablePrice reports whether a price can take part in a conversion.
func UsablePrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

// LeverageBounds is the configured leverage range.
type LeverageBounds struct {
	Min  decimal.Decimal
	Max  decimal.Decimal
	Step decimal.Decimal
}

// DefaultLeverageBounds returns 1x to 50x in 0.1 steps.
func DefaultLeverageBounds() LeverageBounds {
	return LeverageBounds{
		Min:  decimal.NewFromInt(1),
		Max:  decimal.NewFromInt(50),
		Step: decimal.NewFromFloat(0.1),
	}
}

// Validate checks that the bounds describe a non-empty positive range.
func (b LeverageBounds) Validate() error {
	if !b.Min.IsPositive() {
		return fmt.Errorf("%w: min %s must be positive", ErrInvalidLeverageBounds, b.Min)
	}
	if b.Max.LessThan(b.Min) {
		return fmt.Errorf("%w: max %s below min %s", ErrInvalidLeverageBounds, b.Max, b.Min)
	}
	if b.Step.IsNegative() {
		return fmt.Errorf("%w: negative step %s", ErrInvalidLeverageBounds, b.Step)
	}
	return nil
}

// Clamp limits v to [Min, Max].
func (b LeverageBounds) Clamp(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(b.Min) {
		return b.Min
	}
	if v.GreaterThan(b.Max) {
		return b.Max
	}
	return v
}

// Default returns 1x clamped into the bounds.
func (b LeverageBounds) Default() decimal.Decimal {
	return b.Clamp(decimal.NewFromInt(1))
}

// AllowedTokens lists the tokens each slot may hold, in preference order.
type AllowedTokens struct {
	A []TokenRef
	B []TokenRef
}

// Validate reports ErrEmptyAllowedTokens when either list is empty.
func (a AllowedTokens) Validate() error {
	if len(a.A) == 0 {
		return fmt.Errorf("%w: slot A", ErrEmptyAllowedTokens)
	}
	if len(a.B) == 0 {
		return fmt.Errorf("%w: slot B", ErrEmptyAllowedTokens)
	}
	return nil
}

// For returns the list for a slot.
func (a AllowedTokens) For(s Slot) []TokenRef {
	if s == SlotA {
		return a.A
	}
	return a.B
}

// Contains reports whether symbol is allowed in slot s.
func (a AllowedTokens) Contains(s Slot, symbol string) bool {
	for _, t := range a.For(s) {
		if t.Symbol == symbol {
			return true
		}
	}
	return false
}

// fallback returns token when it is allowed in s, otherwise the first
// allowed token. Panics on an empty list.
func (a AllowedTokens) fallback(s Slot, token TokenRef) TokenRef {
	list := a.For(s)
	if len(list) == 0 {
		panic(fmt.Sprintf("reconciler: %v for slot %s", ErrEmptyAllowedTokens, s))
	}
	if a.Contains(s, token.Symbol) {
		return token
	}
	return list[0]
}

// State is the full input pair plus the parameters that drive it.
type State struct {
	A         InputSlot
	B         InputSlot
	Reference ReferenceMark
	Mode      Mode
	Leverage  decimal.Decimal
}

// Slot returns a copy of the given slot.
func (s State) Slot(sl Slot) InputSlot {
	if sl == SlotA {
		return s.A
	}
	return s.B
}

func (s *State) slot(sl Slot) *InputSlot {
	if sl == SlotA {
		return &s.A
	}
	return &s.B
}

// Outcome classifies the last recomputation.
type Outcome int

const (
	OutcomeIdle                Outcome = iota // no reference yet
	OutcomeInvalidInput                       // reference amount empty or unparseable
	OutcomeMissingPrice                       // reference token price not loaded
	OutcomeMissingCounterPrice                // other token price not loaded
	OutcomeResolved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeInvalidInput:
		return "invalid_input"
	case OutcomeMissingPrice:
		return "missing_price"
	case OutcomeMissingCounterPrice:
		return "missing_counter_price"
	case OutcomeResolved:
		return "ok"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}
