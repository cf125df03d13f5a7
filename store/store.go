// Package store holds the session-wide reactive state shared by trading
// panels: token prices, the connected wallet and its token balances.
package store

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"trade-inputs/reconciler"
)

// ChangeKind identifies which slice of the store changed.
type ChangeKind int

const (
	ChangeTokenPrices ChangeKind = iota
	ChangeWallet
	ChangeWalletTokenBalances
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeTokenPrices:
		return "token_prices"
	case ChangeWallet:
		return "wallet"
	case ChangeWalletTokenBalances:
		return "wallet_token_balances"
	default:
		return "unknown"
	}
}

// Change is delivered to listeners after every mutation. Symbols lists
// the affected tokens for price and balance changes.
type Change struct {
	Kind    ChangeKind
	Symbols []string
}

// Touches reports whether the change concerns any of the given symbols.
func (c Change) Touches(symbols ...string) bool {
	for _, have := range c.Symbols {
		for _, want := range symbols {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Listener is called synchronously after the store has been updated and
// its lock released.
type Listener func(Change)

// Wallet is the connected wallet, if any.
type Wallet struct {
	Address   string
	Connected bool
}

// Store is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	prices    map[string]float64
	wallet    Wallet
	balances  map[string]decimal.Decimal
	listeners map[int]Listener
	nextID    int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		prices:    make(map[string]float64),
		balances:  make(map[string]decimal.Decimal),
		listeners: make(map[int]Listener),
	}
}

// Price implements reconciler.PriceTable.
func (s *Store) Price(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// TokenPrices returns a snapshot of the loaded prices.
func (s *Store) TokenPrices() reconciler.PriceMap {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(reconciler.PriceMap, len(s.prices))
	for sym, p := range s.prices {
		out.Set(sym, p)
	}
	return out
}

// SetTokenPrice stores a single price. Unusable prices unload the symbol.
func (s *Store) SetTokenPrice(symbol string, price float64) {
	s.SetTokenPrices(map[string]float64{symbol: price})
}

// SetTokenPrices stores a batch of prices and notifies listeners once.
func (s *Store) SetTokenPrices(prices map[string]float64) {
	if len(prices) == 0 {
		return
	}
	changed := make([]string, 0, len(prices))

	s.mu.Lock()
	for sym, p := range prices {
		old, had := s.prices[sym]
		if !reconciler.UsablePrice(p) {
			if had {
				delete(s.prices, sym)
				changed = append(changed, sym)
			}
			continue
		}
		if had && old == p {
			continue
		}
		s.prices[sym] = p
		changed = append(changed, sym)
	}
	s.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)
	s.notify(Change{Kind: ChangeTokenPrices, Symbols: changed})
}

// InvalidatePrice marks symbols as not loaded.
func (s *Store) InvalidatePrice(symbols ...string) {
	changed := make([]string, 0, len(symbols))

	s.mu.Lock()
	for _, sym := range symbols {
		if _, ok := s.prices[sym]; ok {
			delete(s.prices, sym)
			changed = append(changed, sym)
		}
	}
	s.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)
	s.notify(Change{Kind: ChangeTokenPrices, Symbols: changed})
}

// Wallet returns the current wallet.
func (s *Store) Wallet() Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wallet
}

// SetWallet replaces the wallet. Disconnecting clears balances.
func (s *Store) SetWallet(w Wallet) {
	s.mu.Lock()
	s.wallet = w
	var cleared []string
	if !w.Connected {
		for sym := range s.balances {
			cleared = append(cleared, sym)
		}
		s.balances = make(map[string]decimal.Decimal)
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeWallet})
	if len(cleared) > 0 {
		sort.Strings(cleared)
		s.notify(Change{Kind: ChangeWalletTokenBalances, Symbols: cleared})
	}
}

// WalletTokenBalance returns the balance held for symbol.
func (s *Store) WalletTokenBalance(symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[symbol]
	return b, ok
}

// WalletTokenBalances returns a snapshot of all balances.
func (s *Store) WalletTokenBalances() map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(s.balances))
	for sym, b := range s.balances {
		out[sym] = b
	}
	return out
}

// SetWalletTokenBalance stores the wallet balance for symbol.
func (s *Store) SetWalletTokenBalance(symbol string, amount decimal.Decimal) {
	s.mu.Lock()
	s.balances[symbol] = amount
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeWalletTokenBalances, Symbols: []string{symbol}})
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(c)
	}
}
