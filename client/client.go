// Package client talks to the trading API: token metadata, prices and
// position opening from a reconciled input pair.
package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trade-inputs/reconciler"
)

var (
	ErrNoWallet         = errors.New("no wallet key configured")
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrUnresolvedInputs = errors.New("trade inputs are not resolved")
	ErrOrderRejected    = errors.New("order rejected")
	ErrUnsupportedSide  = errors.New("unsupported position side")
	ErrRateLimited      = errors.New("rate limited by API")
)

// TradingClient is what panels need from the trading backend.
type TradingClient interface {
	TokenList(ctx context.Context) ([]reconciler.TokenRef, error)
	TokenPrice(ctx context.Context, symbol string) (float64, error)
	OpenPosition(ctx context.Context, req PositionRequest) (*PositionReceipt, error)
}

// Side is the direction of a leveraged position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// PositionRequest opens a position with Collateral of CollateralToken,
// sized at Size units of SizeToken.
type PositionRequest struct {
	Side            Side            `json:"side"`
	CollateralToken string          `json:"collateral_token"`
	Collateral      decimal.Decimal `json:"collateral"`
	SizeToken       string          `json:"size_token"`
	Size            decimal.Decimal `json:"size"`
	SizeUSD         decimal.Decimal `json:"size_usd"`
	Leverage        decimal.Decimal `json:"leverage"`
}

// PositionReceipt is returned by the API once a position is accepted.
type PositionReceipt struct {
	PositionID string    `json:"position_id"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// RequestFromState builds a request from a leveraged panel state. Slot A
// is the collateral and slot B the position size.
func RequestFromState(side Side, s reconciler.State) (PositionRequest, error) {
	if side != SideLong && side != SideShort {
		return PositionRequest{}, fmt.Errorf("%w: %q", ErrUnsupportedSide, side)
	}
	if s.Mode != reconciler.ModeLeveraged {
		return PositionRequest{}, fmt.Errorf("%w: panel is not leveraged", ErrUnresolvedInputs)
	}
	collateral, ok := s.A.Amount()
	if !ok || !collateral.IsPositive() {
		return PositionRequest{}, fmt.Errorf("%w: collateral", ErrUnresolvedInputs)
	}
	size, ok := s.B.Amount()
	if !ok || !size.IsPositive() || !s.B.USDPrice.Valid {
		return PositionRequest{}, fmt.Errorf("%w: size", ErrUnresolvedInputs)
	}

	return PositionRequest{
		Side:            side,
		CollateralToken: s.A.Token.Symbol,
		Collateral:      collateral,
		SizeToken:       s.B.Token.Symbol,
		Size:            size,
		SizeUSD:         s.B.USDPrice.Decimal,
		Leverage:        s.Leverage,
	}, nil
}

// Config configures the HTTP client.
type Config struct {
	BaseURL       string        `json:"base_url"`
	PrivateKeyHex string        `json:"-"`
	Timeout       time.Duration `json:"timeout"`
	RateLimitRPS  int           `json:"rate_limit_rps"`
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://api.adrena.xyz",
		Timeout:      30 * time.Second,
		RateLimitRPS: 10,
	}
}

// HTTPClient implements TradingClient over the REST API.
type HTTPClient struct {
	config     Config
	httpClient *http.Client
	privateKey *ecdsa.PrivateKey
	address    string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewHTTPClient creates a client. The private key is optional; without
// it the client is read-only.
func NewHTTPClient(config Config, logger *zap.Logger) (*HTTPClient, error) {
	if config.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.RateLimitRPS <= 0 {
		config.RateLimitRPS = DefaultConfig().RateLimitRPS
	}

	c := &HTTPClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimitRPS), config.RateLimitRPS),
		logger:     logger.Named("client"),
	}

	if config.PrivateKeyHex != "" {
		key, err := ParsePrivateKey(config.PrivateKeyHex)
		if err != nil {
			return nil, err
		}
		c.privateKey = key
		c.address = crypto.PubkeyToAddress(key.PublicKey).Hex()
	}

	return c, nil
}

// ParsePrivateKey decodes a hex secp256k1 key, with or without 0x.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.Trim(strings.TrimSpace(hexKey), `"'`)
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(trimmed, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// Address returns the wallet address, or "" for a read-only client.
func (c *HTTPClient) Address() string { return c.address }

type tokenListResponse struct {
	Tokens []reconciler.TokenRef `json:"tokens"`
}

// TokenList fetches the tradable tokens.
func (c *HTTPClient) TokenList(ctx context.Context) ([]reconciler.TokenRef, error) {
	body, err := c.makeAPIRequest(ctx, http.MethodGet, "/tokens", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch token list: %w", err)
	}
	var resp tokenListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse token list: %w", err)
	}
	return resp.Tokens, nil
}

type priceResponse struct {
	Symbol string           `json:"symbol"`
	Price  *decimal.Decimal `json:"price"`
}

// TokenPrice fetches the USD price of symbol.
func (c *HTTPClient) TokenPrice(ctx context.Context, symbol string) (float64, error) {
	body, err := c.makeAPIRequest(ctx, http.MethodGet, "/prices/"+url.PathEscape(symbol), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch price for %s: %w", symbol, err)
	}
	var resp priceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to parse price for %s: %w", symbol, err)
	}
	if resp.Price == nil {
		return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	price, _ := resp.Price.Float64()
	if !reconciler.UsablePrice(price) {
		return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	return price, nil
}

type balancesResponse struct {
	Balances map[string]decimal.Decimal `json:"balances"`
}

// WalletBalances fetches the token balances held by address.
func (c *HTTPClient) WalletBalances(ctx context.Context, address string) (map[string]decimal.Decimal, error) {
	if address == "" {
		return nil, ErrNoWallet
	}
	body, err := c.makeAPIRequest(ctx, http.MethodGet, "/balances/"+url.PathEscape(address), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balances: %w", err)
	}
	var resp balancesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse balances: %w", err)
	}
	return resp.Balances, nil
}

type exchangeRequest struct {
	Action    PositionRequest `json:"action"`
	Nonce     int64           `json:"nonce"`
	Signer    string          `json:"signer"`
	Signature string          `json:"signature"`
}

type exchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// OpenPosition signs and submits req.
func (c *HTTPClient) OpenPosition(ctx context.Context, req PositionRequest) (*PositionReceipt, error) {
	if c.privateKey == nil {
		return nil, ErrNoWallet
	}

	signature, err := c.signAction(req)
	if err != nil {
		return nil, fmt.Errorf("failed to sign position request: %w", err)
	}

	body, err := c.makeAPIRequest(ctx, http.MethodPost, "/positions", exchangeRequest{
		Action:    req,
		Nonce:     time.Now().UnixMilli(),
		Signer:    c.address,
		Signature: signature,
	})
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}

	var resp exchangeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("%w: %s", ErrOrderRejected, string(resp.Response))
	}

	var receipt PositionReceipt
	if err := json.Unmarshal(resp.Response, &receipt); err != nil {
		return nil, fmt.Errorf("invalid response format: %w", err)
	}

	c.logger.Info("position opened",
		zap.String("id", receipt.PositionID),
		zap.String("side", string(req.Side)),
		zap.String("size", req.Size.String()),
		zap.String("size_token", req.SizeToken),
		zap.String("leverage", req.Leverage.String()))

	return &receipt, nil
}

// signAction signs the Keccak-256 hash of the JSON-encoded action.
func (c *HTTPClient) signAction(action interface{}) (string, error) {
	actionBytes, err := json.Marshal(action)
	if err != nil {
		return "", err
	}
	hash := crypto.Keccak256Hash(actionBytes)
	signature, err := crypto.Sign(hash.Bytes(), c.privateKey)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(signature), nil
}

func (c *HTTPClient) makeAPIRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.config.BaseURL, "/")+endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, endpoint)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
