// Package panel hosts a reconciler for one trading form and keeps it in
// step with the application store.
package panel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-inputs/client"
	"trade-inputs/reconciler"
	"trade-inputs/store"
)

var (
	ErrUnknownVariant = errors.New("unknown panel variant")
	ErrUnknownToken   = errors.New("token not allowed in slot")
	ErrNoBalance      = errors.New("no wallet balance for token")
	ErrNotLeveraged   = errors.New("panel does not open positions")
)

// Variant is the kind of form the panel backs.
type Variant string

const (
	VariantSwap  Variant = "swap"
	VariantLong  Variant = "long"
	VariantShort Variant = "short"
)

// ParseVariant accepts swap, long or short in any case.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case VariantSwap, VariantLong, VariantShort:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
	}
}

// Mode returns the reconciler mode for the variant.
func (v Variant) Mode() reconciler.Mode {
	if v == VariantLong || v == VariantShort {
		return reconciler.ModeLeveraged
	}
	return reconciler.ModePlain
}

// Side returns the position side of a leveraged variant.
func (v Variant) Side() (client.Side, bool) {
	switch v {
	case VariantLong:
		return client.SideLong, true
	case VariantShort:
		return client.SideShort, true
	default:
		return "", false
	}
}

// Config describes one panel.
type Config struct {
	Variant  Variant
	Allowed  reconciler.AllowedTokens
	Leverage reconciler.LeverageBounds

	// Optional initial selections.
	TokenA reconciler.TokenRef
	TokenB reconciler.TokenRef
}

// ResultListener receives every state the panel publishes. It runs while
// the panel lock is held and must not call back into the panel.
type ResultListener func(reconciler.State)

// Panel serialises user edits and price notifications onto a single
// reconciler and publishes each resulting state.
type Panel struct {
	mu          sync.Mutex
	variant     Variant
	rec         *reconciler.Reconciler
	store       *store.Store
	logger      *zap.Logger
	metrics     *Metrics
	listeners   []ResultListener
	unsubscribe func()
}

// New creates a panel reading prices from st and subscribes to it.
func New(cfg Config, st *store.Store, logger *zap.Logger, metrics *Metrics) (*Panel, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if _, err := ParseVariant(string(cfg.Variant)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics("", nil)
	}

	rec, err := reconciler.New(reconciler.Config{
		Mode:     cfg.Variant.Mode(),
		Allowed:  cfg.Allowed,
		Leverage: cfg.Leverage,
		TokenA:   cfg.TokenA,
		TokenB:   cfg.TokenB,
	}, st)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciler: %w", err)
	}

	p := &Panel{
		variant: cfg.Variant,
		rec:     rec,
		store:   st,
		logger:  logger.Named("panel").With(zap.String("variant", string(cfg.Variant))),
		metrics: metrics,
	}
	p.unsubscribe = st.Subscribe(p.onStoreChange)

	p.logger.Debug("panel created",
		zap.Stringer("token_a", rec.State().A.Token),
		zap.Stringer("token_b", rec.State().B.Token))
	return p, nil
}

// Close detaches the panel from the store.
func (p *Panel) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}

// Variant returns the panel variant.
func (p *Panel) Variant() Variant { return p.variant }

// OnResult registers a listener for published states.
func (p *Panel) OnResult(l ResultListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// State returns the current state.
func (p *Panel) State() reconciler.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rec.State()
}

// SetReference records a user edit of slot s.
func (p *Panel) SetReference(s reconciler.Slot, raw *string) reconciler.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.apply(func() reconciler.State { return p.rec.SetReference(s, raw) })
}

// SetAmount is SetReference for typed text.
func (p *Panel) SetAmount(s reconciler.Slot, text string) reconciler.State {
	return p.SetReference(s, reconciler.Text(text))
}

// SwapSides exchanges the two inputs.
func (p *Panel) SwapSides() reconciler.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.apply(p.rec.SwapSides)
}

// SetLeverage updates the leverage multiplier.
func (p *Panel) SetLeverage(v decimal.Decimal) reconciler.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.apply(func() reconciler.State { return p.rec.SetLeverage(v) })
}

// SetToken selects an allowed token by symbol for slot s.
func (p *Panel) SetToken(s reconciler.Slot, symbol string) (reconciler.State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range p.rec.Allowed().For(s) {
		if strings.EqualFold(t.Symbol, symbol) {
			return p.apply(func() reconciler.State { return p.rec.SetToken(s, t) }), nil
		}
	}
	return p.rec.State(), fmt.Errorf("%w: %s in %s", ErrUnknownToken, symbol, s)
}

// Reset clears the form.
func (p *Panel) Reset() reconciler.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.apply(p.rec.Reset)
}

// MaxCollateral fills slot A with the whole wallet balance of its token.
func (p *Panel) MaxCollateral() (reconciler.State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	token := p.rec.State().A.Token
	balance, ok := p.store.WalletTokenBalance(token.Symbol)
	if !ok {
		return p.rec.State(), fmt.Errorf("%w: %s", ErrNoBalance, token.Symbol)
	}
	if token.Decimals > 0 {
		balance = balance.Truncate(token.Decimals)
	}
	amount := balance.String()
	return p.apply(func() reconciler.State { return p.rec.SetReference(reconciler.SlotA, &amount) }), nil
}

// PositionRequest builds the request for the current inputs.
func (p *Panel) PositionRequest() (client.PositionRequest, error) {
	side, ok := p.variant.Side()
	if !ok {
		return client.PositionRequest{}, fmt.Errorf("%w: %s", ErrNotLeveraged, p.variant)
	}
	return client.RequestFromState(side, p.State())
}

// OpenPosition submits the current inputs through c. The panel lock is
// not held during the request.
func (p *Panel) OpenPosition(ctx context.Context, c client.TradingClient) (*client.PositionReceipt, error) {
	req, err := p.PositionRequest()
	if err != nil {
		return nil, err
	}

	receipt, err := c.OpenPosition(ctx, req)
	if err != nil {
		p.metrics.Positions.WithLabelValues(string(req.Side), "error").Inc()
		p.logger.Error("failed to open position", zap.Error(err))
		return nil, err
	}
	p.metrics.Positions.WithLabelValues(string(req.Side), "ok").Inc()
	return receipt, nil
}

func (p *Panel) onStoreChange(c store.Change) {
	if c.Kind != store.ChangeTokenPrices {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.rec.State()
	if !c.Touches(state.A.Token.Symbol, state.B.Token.Symbol) {
		return
	}
	p.metrics.PriceTriggers.Inc()
	p.apply(p.rec.Recompute)
}

// apply runs op and publishes its result. Callers hold p.mu.
func (p *Panel) apply(op func() reconciler.State) reconciler.State {
	state := op()
	outcome := p.rec.Outcome()
	p.metrics.Recomputes.WithLabelValues(string(p.variant), outcome.String()).Inc()

	if ce := p.logger.Check(zap.DebugLevel, "inputs reconciled"); ce != nil {
		ce.Write(
			zap.Stringer("reference", state.Reference),
			zap.Stringer("outcome", outcome),
			zap.String("a", reconciler.FormatAmount(state.A.RawAmount, state.A.Token)),
			zap.String("b", reconciler.FormatAmount(state.B.RawAmount, state.B.Token)),
			zap.String("leverage", state.Leverage.String()))
	}

	for _, l := range p.listeners {
		l(state)
	}
	return state
}
