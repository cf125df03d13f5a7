package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trade-inputs/client"
	"trade-inputs/config"
	"trade-inputs/panel"
	"trade-inputs/reconciler"
)

type quoteOptions struct {
	variant  string
	amountA  string
	amountB  string
	tokenA   string
	tokenB   string
	leverage string
	prices   []string
	fetch    bool
}

var quoteOpts quoteOptions

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Derive one side of a trade from the other",
	Long: `Reconcile a single input pair and print both sides. Prices come from
--price flags and, with --fetch, from the trading API for any token still
missing one.`,
	Example: `  trade-inputs quote --a 100 --token-b ETH --price USDC=1 --price ETH=2000
  trade-inputs quote --variant long --a 10 --leverage 5 --fetch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, catalog, err := loadConfig()
		if err != nil {
			return err
		}
		var fetcher priceFetcher
		if quoteOpts.fetch {
			cfg.API.PrivateKeyHex = ""
			c, err := client.NewHTTPClient(cfg.API, zap.NewNop())
			if err != nil {
				return err
			}
			fetcher = c
		}
		return runQuote(cmd.Context(), cmd.OutOrStdout(), quoteOpts, catalog, cfg.Leverage, fetcher)
	},
}

func init() {
	f := quoteCmd.Flags()
	f.StringVar(&quoteOpts.variant, "variant", string(panel.VariantSwap), "panel variant: swap, long or short")
	f.StringVar(&quoteOpts.amountA, "a", "", "amount typed into slot A")
	f.StringVar(&quoteOpts.amountB, "b", "", "amount typed into slot B")
	f.StringVar(&quoteOpts.tokenA, "token-a", "", "token for slot A (default first allowed)")
	f.StringVar(&quoteOpts.tokenB, "token-b", "", "token for slot B (default first allowed)")
	f.StringVar(&quoteOpts.leverage, "leverage", "", "leverage multiplier for long/short")
	f.StringArrayVar(&quoteOpts.prices, "price", nil, "USD price as SYMBOL=PRICE, repeatable")
	f.BoolVar(&quoteOpts.fetch, "fetch", false, "fetch missing prices from the trading API")
	quoteCmd.MarkFlagsMutuallyExclusive("a", "b")

	rootCmd.AddCommand(quoteCmd)
}

type priceFetcher interface {
	TokenPrice(ctx context.Context, symbol string) (float64, error)
}

func runQuote(ctx context.Context, out io.Writer, opts quoteOptions, catalog config.TokenCatalog, bounds reconciler.LeverageBounds, fetcher priceFetcher) error {
	variant, err := panel.ParseVariant(opts.variant)
	if err != nil {
		return err
	}
	allowed, err := catalog.Allowed(variant)
	if err != nil {
		return err
	}

	tokenA, err := pickToken(catalog, allowed, reconciler.SlotA, opts.tokenA)
	if err != nil {
		return err
	}
	tokenB, err := pickToken(catalog, allowed, reconciler.SlotB, opts.tokenB)
	if err != nil {
		return err
	}

	prices, err := parsePrices(opts.prices)
	if err != nil {
		return err
	}
	if fetcher != nil {
		for _, t := range []reconciler.TokenRef{tokenA, tokenB} {
			if _, ok := prices.Price(t.Symbol); ok {
				continue
			}
			p, err := fetcher.TokenPrice(ctx, t.Symbol)
			if err != nil {
				if errors.Is(err, client.ErrPriceUnavailable) {
					continue
				}
				return err
			}
			prices.Set(t.Symbol, p)
		}
	}

	rec, err := reconciler.New(reconciler.Config{
		Mode:     variant.Mode(),
		Allowed:  allowed,
		Leverage: bounds,
		TokenA:   tokenA,
		TokenB:   tokenB,
	}, prices)
	if err != nil {
		return err
	}

	if opts.leverage != "" {
		lev, err := decimal.NewFromString(opts.leverage)
		if err != nil {
			return fmt.Errorf("invalid leverage %q: %w", opts.leverage, err)
		}
		rec.SetLeverage(lev)
	}

	switch {
	case opts.amountA != "":
		rec.SetReference(reconciler.SlotA, reconciler.Text(opts.amountA))
	case opts.amountB != "":
		rec.SetReference(reconciler.SlotB, reconciler.Text(opts.amountB))
	default:
		return errors.New("one of --a or --b is required")
	}

	writeState(out, rec.State())
	if outcome := rec.Outcome(); outcome != reconciler.OutcomeResolved {
		fmt.Fprintf(out, "unresolved: %s\n", outcome)
	}
	return nil
}

func pickToken(catalog config.TokenCatalog, allowed reconciler.AllowedTokens, s reconciler.Slot, symbol string) (reconciler.TokenRef, error) {
	if symbol == "" {
		return allowed.For(s)[0], nil
	}
	t, ok := catalog.Token(symbol)
	if !ok || !allowed.Contains(s, t.Symbol) {
		return reconciler.TokenRef{}, fmt.Errorf("%w: %s in slot %s", config.ErrUnknownToken, symbol, s)
	}
	return t, nil
}

func parsePrices(pairs []string) (reconciler.PriceMap, error) {
	prices := reconciler.PriceMap{}
	for _, pair := range pairs {
		sym, px, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid price %q, want SYMBOL=PRICE", pair)
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(px), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid price %q: %w", pair, err)
		}
		prices.Set(strings.ToUpper(strings.TrimSpace(sym)), val)
	}
	return prices, nil
}
