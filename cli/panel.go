package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trade-inputs/client"
	"trade-inputs/config"
	"trade-inputs/marketdata"
	"trade-inputs/panel"
	"trade-inputs/reconciler"
	"trade-inputs/store"
)

var (
	panelVariant string
	panelTokenA  string
	panelTokenB  string
	metricsAddr  string
)

var panelCmd = &cobra.Command{
	Use:   "panel",
	Short: "Run an interactive trading panel on live prices",
	Long: `Start a trading panel fed by the streaming price feed. Commands are read
from standard input, one per line; type "help" for the list.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runPanel(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
	},
}

func init() {
	f := panelCmd.Flags()
	f.StringVar(&panelVariant, "variant", string(panel.VariantLong), "panel variant: swap, long or short")
	f.StringVar(&panelTokenA, "token-a", "", "initial token for slot A")
	f.StringVar(&panelTokenB, "token-b", "", "initial token for slot B")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (disabled when empty)")

	rootCmd.AddCommand(panelCmd)
}

func runPanel(ctx context.Context, in io.Reader, out io.Writer, logger *zap.Logger) error {
	cfg, catalog, err := loadConfig()
	if err != nil {
		return err
	}
	variant, err := panel.ParseVariant(panelVariant)
	if err != nil {
		return err
	}
	allowed, err := catalog.Allowed(variant)
	if err != nil {
		return err
	}
	tokenA, err := pickToken(catalog, allowed, reconciler.SlotA, panelTokenA)
	if err != nil {
		return err
	}
	tokenB, err := pickToken(catalog, allowed, reconciler.SlotB, panelTokenB)
	if err != nil {
		return err
	}

	st := store.New()

	api, err := client.NewHTTPClient(cfg.API, logger)
	if err != nil {
		return fmt.Errorf("failed to create trading client: %w", err)
	}
	if addr := api.Address(); addr != "" {
		st.SetWallet(store.Wallet{Address: addr, Connected: true})
		loadBalances(ctx, api, st, logger)
	} else {
		logger.Info("no wallet key configured, positions cannot be opened")
	}
	checkCatalog(ctx, api, catalog, logger)
	seedPrices(ctx, api, st, logger, tokenA.Symbol, tokenB.Symbol)

	reg := prometheus.NewRegistry()
	metrics := panel.NewMetrics("", reg)
	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	p, err := panel.New(panel.Config{
		Variant:  variant,
		Allowed:  allowed,
		Leverage: cfg.Leverage,
		TokenA:   tokenA,
		TokenB:   tokenB,
	}, st, logger, metrics)
	if err != nil {
		return err
	}
	defer p.Close()
	p.OnResult(func(s reconciler.State) { writeState(out, s) })

	feedConfig := cfg.Feed
	feedConfig.Symbols = catalog.Symbols()
	feed, err := marketdata.New(feedConfig, st, logger)
	if err != nil {
		return err
	}
	if err := feed.Start(ctx); err != nil {
		logger.Warn("price feed unavailable, using API prices only", zap.Error(err))
	} else {
		defer feed.Stop()
	}

	session := &panelSession{panel: p, api: api, feed: feed, out: out}
	writeState(out, p.State())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := session.exec(ctx, line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

const panelHelp = `commands:
  a <amount>          type an amount into slot A (empty clears)
  b <amount>          type an amount into slot B
  swap                swap the two sides
  lev <x>             set leverage
  token a|b <SYMBOL>  select a token
  max                 use the whole wallet balance as collateral
  open                open a position from the current inputs
  reset               clear both inputs
  show                print the current inputs
  status              print price feed health and latest prices
  quit                exit`

type panelSession struct {
	panel *panel.Panel
	api   client.TradingClient
	feed  marketdata.Feed
	out   io.Writer
}

// exec runs one panel command. It reports true when the session should
// end.
func (s *panelSession) exec(ctx context.Context, line string) (bool, error) {
	p, out := s.panel, s.out
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	switch strings.ToLower(fields[0]) {
	case "a":
		p.SetAmount(reconciler.SlotA, arg(1))
	case "b":
		p.SetAmount(reconciler.SlotB, arg(1))
	case "swap":
		p.SwapSides()
	case "lev", "leverage":
		lev, err := decimal.NewFromString(arg(1))
		if err != nil {
			return false, fmt.Errorf("invalid leverage %q", arg(1))
		}
		p.SetLeverage(lev)
	case "token":
		var slot reconciler.Slot
		switch strings.ToLower(arg(1)) {
		case "a":
			slot = reconciler.SlotA
		case "b":
			slot = reconciler.SlotB
		default:
			return false, errors.New("usage: token a|b <SYMBOL>")
		}
		if _, err := p.SetToken(slot, arg(2)); err != nil {
			return false, err
		}
	case "max":
		if _, err := p.MaxCollateral(); err != nil {
			return false, err
		}
	case "open":
		receipt, err := p.OpenPosition(ctx, s.api)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "position %s %s\n", receipt.PositionID, receipt.Status)
	case "reset":
		p.Reset()
	case "show":
		writeState(out, p.State())
	case "status":
		s.writeStatus()
	case "help", "?":
		fmt.Fprintln(out, panelHelp)
	case "quit", "exit", "q":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q, type help", fields[0])
	}
	return false, nil
}

func (s *panelSession) writeStatus() {
	status := s.feed.Status()
	fmt.Fprintf(s.out, "feed: connected=%t messages=%d reconnects=%d errors=%d stale=%d\n",
		status.IsConnected, status.MessageCount, status.ReconnectCount, status.ErrorCount, status.StaleCount)

	state := s.panel.State()
	for _, t := range []reconciler.TokenRef{state.A.Token, state.B.Token} {
		price, err := s.feed.LatestPrice(t.Symbol)
		if err != nil {
			fmt.Fprintf(s.out, "  %s %s (%v)\n", t, reconciler.Placeholder, err)
			continue
		}
		fmt.Fprintf(s.out, "  %s %s\n", t, strconv.FormatFloat(price, 'f', -1, 64))
	}
}

// checkCatalog warns about catalogue tokens the API does not list and
// returns them.
func checkCatalog(ctx context.Context, api client.TradingClient, catalog config.TokenCatalog, logger *zap.Logger) []string {
	tokens, err := api.TokenList(ctx)
	if err != nil {
		logger.Warn("failed to load token list", zap.Error(err))
		return nil
	}
	listed := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		listed[strings.ToUpper(t.Symbol)] = true
	}

	var unknown []string
	for _, sym := range catalog.Symbols() {
		if !listed[sym] {
			unknown = append(unknown, sym)
			logger.Warn("catalogue token not listed by the trading API", zap.String("symbol", sym))
		}
	}
	return unknown
}

func seedPrices(ctx context.Context, api client.TradingClient, st *store.Store, logger *zap.Logger, symbols ...string) {
	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		price, err := api.TokenPrice(ctx, sym)
		if err != nil {
			logger.Warn("failed to load price", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		prices[sym] = price
	}
	st.SetTokenPrices(prices)
}

func loadBalances(ctx context.Context, api *client.HTTPClient, st *store.Store, logger *zap.Logger) {
	balances, err := api.WalletBalances(ctx, api.Address())
	if err != nil {
		logger.Warn("failed to load wallet balances", zap.Error(err))
		return
	}
	for sym, amount := range balances {
		st.SetWalletTokenBalance(strings.ToUpper(sym), amount)
	}
}
