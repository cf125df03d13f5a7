package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"trade-inputs/panel"
	"trade-inputs/reconciler"
)

var (
	ErrUnknownToken = errors.New("unknown token")
	ErrUnknownPanel = errors.New("panel not configured")
)

// TokenCatalog lists the tradable tokens and, per panel variant, which of
// them each slot may hold.
type TokenCatalog struct {
	Tokens []reconciler.TokenRef  `yaml:"tokens"`
	Panels map[string]PanelTokens `yaml:"panels"`
}

// PanelTokens holds symbol lists in preference order.
type PanelTokens struct {
	A []string `yaml:"a"`
	B []string `yaml:"b"`
}

// DefaultTokenCatalog is used when no tokens file is configured.
func DefaultTokenCatalog() TokenCatalog {
	return TokenCatalog{
		Tokens: []reconciler.TokenRef{
			{Symbol: "USDC", Decimals: 6, DisplayDecimals: 2},
			{Symbol: "ETH", Decimals: 18, DisplayDecimals: 4},
			{Symbol: "SOL", Decimals: 9, DisplayDecimals: 4},
			{Symbol: "BTC", Decimals: 8, DisplayDecimals: 6},
		},
		Panels: map[string]PanelTokens{
			string(panel.VariantSwap): {
				A: []string{"USDC", "ETH", "SOL", "BTC"},
				B: []string{"ETH", "SOL", "BTC", "USDC"},
			},
			string(panel.VariantLong): {
				A: []string{"USDC", "SOL"},
				B: []string{"ETH", "SOL", "BTC"},
			},
			string(panel.VariantShort): {
				A: []string{"USDC"},
				B: []string{"ETH", "SOL", "BTC"},
			},
		},
	}
}

// LoadTokenCatalog reads and validates a YAML catalogue.
func LoadTokenCatalog(path string) (TokenCatalog, error) {
	if path == "" {
		return TokenCatalog{}, fmt.Errorf("tokens file path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return TokenCatalog{}, fmt.Errorf("open tokens file: %w", err)
	}
	defer file.Close()

	var catalog TokenCatalog
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&catalog); err != nil {
		return TokenCatalog{}, fmt.Errorf("decode tokens file: %w", err)
	}

	catalog.normalize()
	if err := catalog.validate(); err != nil {
		return TokenCatalog{}, err
	}
	return catalog, nil
}

func (c *TokenCatalog) normalize() {
	for i := range c.Tokens {
		c.Tokens[i].Symbol = normalizeSymbol(c.Tokens[i].Symbol)
	}
	panels := make(map[string]PanelTokens, len(c.Panels))
	for name, p := range c.Panels {
		panels[strings.ToLower(strings.TrimSpace(name))] = PanelTokens{
			A: normalizeSymbols(p.A),
			B: normalizeSymbols(p.B),
		}
	}
	c.Panels = panels
}

func (c TokenCatalog) validate() error {
	if len(c.Tokens) == 0 {
		return fmt.Errorf("at least one token must be configured")
	}
	seen := make(map[string]bool, len(c.Tokens))
	for _, t := range c.Tokens {
		if t.Symbol == "" {
			return fmt.Errorf("token symbol must not be empty")
		}
		if seen[t.Symbol] {
			return fmt.Errorf("duplicate token %s", t.Symbol)
		}
		if t.Decimals < 0 || t.DisplayDecimals < 0 {
			return fmt.Errorf("token %s: decimals must not be negative", t.Symbol)
		}
		seen[t.Symbol] = true
	}

	for name, p := range c.Panels {
		if _, err := panel.ParseVariant(name); err != nil {
			return fmt.Errorf("panels.%s: %w", name, err)
		}
		for slot, symbols := range map[string][]string{"a": p.A, "b": p.B} {
			if len(symbols) == 0 {
				return fmt.Errorf("panels.%s.%s: %w", name, slot, reconciler.ErrEmptyAllowedTokens)
			}
			for _, sym := range symbols {
				if !seen[sym] {
					return fmt.Errorf("panels.%s.%s: %w: %s", name, slot, ErrUnknownToken, sym)
				}
			}
		}
	}
	return nil
}

// Token looks up a token by symbol, ignoring case.
func (c TokenCatalog) Token(symbol string) (reconciler.TokenRef, bool) {
	symbol = normalizeSymbol(symbol)
	for _, t := range c.Tokens {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return reconciler.TokenRef{}, false
}

// Allowed resolves the allowed token lists for a panel variant.
func (c TokenCatalog) Allowed(v panel.Variant) (reconciler.AllowedTokens, error) {
	p, ok := c.Panels[string(v)]
	if !ok {
		return reconciler.AllowedTokens{}, fmt.Errorf("%w: %s", ErrUnknownPanel, v)
	}
	a, err := c.resolve(p.A)
	if err != nil {
		return reconciler.AllowedTokens{}, err
	}
	b, err := c.resolve(p.B)
	if err != nil {
		return reconciler.AllowedTokens{}, err
	}
	allowed := reconciler.AllowedTokens{A: a, B: b}
	return allowed, allowed.Validate()
}

// Symbols returns every catalogue symbol, sorted.
func (c TokenCatalog) Symbols() []string {
	out := make([]string, 0, len(c.Tokens))
	for _, t := range c.Tokens {
		out = append(out, t.Symbol)
	}
	sort.Strings(out)
	return out
}

func (c TokenCatalog) resolve(symbols []string) ([]reconciler.TokenRef, error) {
	out := make([]reconciler.TokenRef, 0, len(symbols))
	for _, sym := range symbols {
		t, ok := c.Token(sym)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownToken, sym)
		}
		out = append(out, t)
	}
	return out, nil
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := normalizeSymbol(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}
