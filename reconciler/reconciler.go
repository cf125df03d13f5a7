package reconciler

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// maxAmountMagnitude bounds the decimal order of magnitude of a typed
// amount. Anything past it is outside the float64 range.
const maxAmountMagnitude = 330

// ParseAmount parses user-entered amount text. Empty, blank or
// non-numeric text is reported as not ok, as is any value that does not
// fit a finite non-zero float64 (including non-zero values that would
// underflow).
func ParseAmount(raw *string) (decimal.Decimal, bool) {
	if raw == nil {
		return decimal.Zero, false
	}
	trimmed := strings.TrimSpace(*raw)
	if trimmed == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, false
	}
	if d.IsZero() {
		return decimal.Zero, true
	}
	// Checked before Float64 so huge exponents never reach big.Int math.
	magnitude := int64(d.Exponent()) + int64(d.NumDigits())
	if magnitude > maxAmountMagnitude || magnitude < -maxAmountMagnitude {
		return decimal.Zero, false
	}
	if f, _ := d.Float64(); f == 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return decimal.Zero, false
	}
	return d, true
}

// Text wraps amount text for SetReference.
func Text(s string) *string {
	return &s
}

// FromFloat converts a numeric amount to its canonical text. NaN and
// infinities yield nil.
func FromFloat(v float64) *string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	s := decimal.NewFromFloat(v).String()
	return &s
}

// Reconcile derives the non-reference slot from the reference slot.
// It is a pure function of its arguments.
func Reconcile(s State, prices PriceTable) State {
	next, _ := ReconcileOutcome(s, prices)
	return next
}

// ReconcileOutcome is Reconcile that also reports which branch was taken.
func ReconcileOutcome(s State, prices PriceTable) (State, Outcome) {
	refSlot, ok := s.Reference.Slot()
	if !ok {
		return s, OutcomeIdle
	}
	ref := s.slot(refSlot)
	other := s.slot(refSlot.Opposite())

	amount, ok := ref.Amount()
	if !ok {
		ref.USDPrice = decimal.NullDecimal{}
		other.clear()
		return s, OutcomeInvalidInput
	}

	refPrice, ok := prices.Price(ref.Token.Symbol)
	if !ok {
		ref.USDPrice = decimal.NullDecimal{}
		other.clear()
		return s, OutcomeMissingPrice
	}

	refUSD := amount.Mul(decimal.NewFromFloat(refPrice))
	ref.USDPrice = decimal.NewNullDecimal(refUSD)

	otherPrice, ok := prices.Price(other.Token.Symbol)
	if !ok {
		other.clear()
		return s, OutcomeMissingCounterPrice
	}

	otherUSD := s.scaleUSD(refSlot, refUSD)
	other.USDPrice = decimal.NewNullDecimal(otherUSD)
	derived := otherUSD.DivRound(decimal.NewFromFloat(otherPrice), InputPrecision).String()
	other.RawAmount = &derived

	return s, OutcomeResolved
}

// scaleUSD converts the reference USD value into the other slot's USD
// value. In leveraged mode B is always A times the leverage, whichever
// side is the reference. A zero or negative leverage, only reachable
// through a hand-built State, counts as 1x.
func (s State) scaleUSD(from Slot, usd decimal.Decimal) decimal.Decimal {
	if s.Mode != ModeLeveraged {
		return usd
	}
	lev := s.Leverage
	if !lev.IsPositive() {
		lev = decimal.NewFromInt(1)
	}
	if from == SlotA {
		return usd.Mul(lev)
	}
	return usd.Div(lev)
}

// Config describes a reconciler instance.
type Config struct {
	Mode     Mode
	Allowed  AllowedTokens
	Leverage LeverageBounds

	// Initial tokens. Zero values select the first allowed token.
	TokenA TokenRef
	TokenB TokenRef
}

// Reconciler holds the mutable input state of one trading panel. It is
// not safe for concurrent use; callers serialise events.
type Reconciler struct {
	state   State
	allowed AllowedTokens
	bounds  LeverageBounds
	prices  PriceTable
	outcome Outcome
}

// New validates cfg and returns a reconciler reading prices from prices.
func New(cfg Config, prices PriceTable) (*Reconciler, error) {
	if err := cfg.Allowed.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Leverage.Validate(); err != nil {
		return nil, err
	}
	if prices == nil {
		prices = PriceMap{}
	}

	tokenA := cfg.TokenA
	if tokenA.Symbol == "" {
		tokenA = cfg.Allowed.A[0]
	}
	tokenB := cfg.TokenB
	if tokenB.Symbol == "" {
		tokenB = cfg.Allowed.B[0]
	}

	return &Reconciler{
		state: State{
			A:        InputSlot{Token: tokenA},
			B:        InputSlot{Token: tokenB},
			Mode:     cfg.Mode,
			Leverage: cfg.Leverage.Default(),
		},
		allowed: cfg.Allowed,
		bounds:  cfg.Leverage,
		prices:  prices,
	}, nil
}

// State returns the current state.
func (r *Reconciler) State() State { return r.state }

// Outcome returns how the last recomputation resolved.
func (r *Reconciler) Outcome() Outcome { return r.outcome }

// Allowed returns the allowed token lists.
func (r *Reconciler) Allowed() AllowedTokens { return r.allowed }

// SetReference records a user edit on slot s and recomputes.
func (r *Reconciler) SetReference(s Slot, raw *string) State {
	r.state.Reference = ReferenceFor(s)
	r.state.slot(s).RawAmount = raw
	return r.Recompute()
}

// Recompute re-derives the state from the current reference and prices.
func (r *Reconciler) Recompute() State {
	r.state, r.outcome = ReconcileOutcome(r.state, r.prices)
	return r.state
}

// SwapSides exchanges the two slots and keeps the user's edit as the
// reference. A token that is not allowed on its new side is replaced by
// the first allowed token. It panics if an allowed list is empty.
func (r *Reconciler) SwapSides() State {
	a, b := r.state.A, r.state.B

	r.state.A = InputSlot{
		RawAmount: b.RawAmount,
		USDPrice:  b.USDPrice,
		Token:     r.allowed.fallback(SlotA, b.Token),
	}
	r.state.B = InputSlot{
		RawAmount: a.RawAmount,
		USDPrice:  a.USDPrice,
		Token:     r.allowed.fallback(SlotB, a.Token),
	}
	r.state.Reference = r.state.Reference.Flip()

	return r.Recompute()
}

// SetLeverage clamps v into the configured bounds and recomputes.
func (r *Reconciler) SetLeverage(v decimal.Decimal) State {
	r.state.Leverage = r.bounds.Clamp(v)
	return r.Recompute()
}

// SetToken selects a token for slot s. Both amounts are cleared and the
// reference is dropped until the next edit.
func (r *Reconciler) SetToken(s Slot, token TokenRef) State {
	r.state.slot(s).Token = token
	r.state.A.clear()
	r.state.B.clear()
	r.state.Reference = ReferenceNone
	return r.Recompute()
}

// Reset clears both amounts and the reference and restores the default
// leverage. Selected tokens are kept.
func (r *Reconciler) Reset() State {
	r.state.A.clear()
	r.state.B.clear()
	r.state.Reference = ReferenceNone
	r.state.Leverage = r.bounds.Default()
	return r.Recompute()
}
