package client

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-inputs/reconciler"
)

func testKeyHex(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(crypto.FromECDSA(key))
}

func TestNewHTTPClient(t *testing.T) {
	_, err := NewHTTPClient(Config{}, nil)
	require.Error(t, err)

	_, err = NewHTTPClient(Config{BaseURL: "http://x", PrivateKeyHex: "zz"}, nil)
	require.Error(t, err)

	c, err := NewHTTPClient(Config{BaseURL: "http://x"}, nil)
	require.NoError(t, err)
	assert.Empty(t, c.Address())

	keyHex := testKeyHex(t)
	c, err = NewHTTPClient(Config{BaseURL: "http://x", PrivateKeyHex: `"` + keyHex + `"`}, nil)
	require.NoError(t, err)

	key, err := ParsePrivateKey(keyHex)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), c.Address())
}

func TestTokenListAndPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tokens":
			w.Write([]byte(`{"tokens":[{"symbol":"USDC","decimals":6,"display_decimals":2},{"symbol":"ETH","decimals":18,"display_decimals":4}]}`))
		case "/prices/ETH":
			w.Write([]byte(`{"symbol":"ETH","price":"2000.25"}`))
		case "/prices/HOT":
			http.Error(w, "slow down", http.StatusTooManyRequests)
		case "/prices/NEW":
			w.Write([]byte(`{"symbol":"NEW","price":null}`))
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer server.Close()

	c, err := NewHTTPClient(Config{BaseURL: server.URL}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	tokens, err := c.TokenList(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, reconciler.TokenRef{Symbol: "ETH", Decimals: 18, DisplayDecimals: 4}, tokens[1])

	price, err := c.TokenPrice(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, 2000.25, price)

	_, err = c.TokenPrice(ctx, "NEW")
	require.ErrorIs(t, err, ErrPriceUnavailable)

	_, err = c.TokenPrice(ctx, "HOT")
	require.ErrorIs(t, err, ErrRateLimited)

	_, err = c.TokenPrice(ctx, "MISSING")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error 404")
}

func leveragedState() reconciler.State {
	return reconciler.State{
		A: reconciler.InputSlot{
			RawAmount: reconciler.Text("10"),
			USDPrice:  decimal.NewNullDecimal(decimal.NewFromInt(500)),
			Token:     reconciler.TokenRef{Symbol: "USDC"},
		},
		B: reconciler.InputSlot{
			RawAmount: reconciler.Text("1.25"),
			USDPrice:  decimal.NewNullDecimal(decimal.NewFromInt(2500)),
			Token:     reconciler.TokenRef{Symbol: "ETH"},
		},
		Reference: reconciler.ReferenceA,
		Mode:      reconciler.ModeLeveraged,
		Leverage:  decimal.NewFromInt(5),
	}
}

func TestRequestFromState(t *testing.T) {
	req, err := RequestFromState(SideLong, leveragedState())
	require.NoError(t, err)
	assert.Equal(t, SideLong, req.Side)
	assert.Equal(t, "USDC", req.CollateralToken)
	assert.True(t, req.Collateral.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "ETH", req.SizeToken)
	assert.True(t, req.Size.Equal(decimal.RequireFromString("1.25")))
	assert.True(t, req.SizeUSD.Equal(decimal.NewFromInt(2500)))
	assert.True(t, req.Leverage.Equal(decimal.NewFromInt(5)))

	_, err = RequestFromState("sideways", leveragedState())
	require.ErrorIs(t, err, ErrUnsupportedSide)

	plain := leveragedState()
	plain.Mode = reconciler.ModePlain
	_, err = RequestFromState(SideShort, plain)
	require.ErrorIs(t, err, ErrUnresolvedInputs)

	missing := leveragedState()
	missing.B.RawAmount = nil
	missing.B.USDPrice = decimal.NullDecimal{}
	_, err = RequestFromState(SideShort, missing)
	require.ErrorIs(t, err, ErrUnresolvedInputs)

	zero := leveragedState()
	zero.A.RawAmount = reconciler.Text("0")
	_, err = RequestFromState(SideShort, zero)
	require.ErrorIs(t, err, ErrUnresolvedInputs)
}

func TestOpenPosition_SignsRequest(t *testing.T) {
	keyHex := testKeyHex(t)
	var received exchangeRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/positions" || r.Method != http.MethodPost {
			http.Error(w, "unexpected", http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"status":"ok","response":{"position_id":"pos-1","status":"open"}}`))
	}))
	defer server.Close()

	c, err := NewHTTPClient(Config{BaseURL: server.URL, PrivateKeyHex: keyHex}, nil)
	require.NoError(t, err)

	req, err := RequestFromState(SideShort, leveragedState())
	require.NoError(t, err)

	receipt, err := c.OpenPosition(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "pos-1", receipt.PositionID)
	assert.Equal(t, "open", receipt.Status)

	assert.Equal(t, c.Address(), received.Signer)
	assert.Equal(t, SideShort, received.Action.Side)

	// The signature recovers to the client's address.
	actionBytes, err := json.Marshal(received.Action)
	require.NoError(t, err)
	sig, err := hex.DecodeString(received.Signature)
	require.NoError(t, err)
	pub, err := crypto.SigToPub(crypto.Keccak256Hash(actionBytes).Bytes(), sig)
	require.NoError(t, err)
	assert.Equal(t, c.Address(), crypto.PubkeyToAddress(*pub).Hex())
}

func TestOpenPosition_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"err","response":"insufficient collateral"}`))
	}))
	defer server.Close()

	c, err := NewHTTPClient(Config{BaseURL: server.URL, PrivateKeyHex: testKeyHex(t)}, nil)
	require.NoError(t, err)

	req, err := RequestFromState(SideLong, leveragedState())
	require.NoError(t, err)

	_, err = c.OpenPosition(context.Background(), req)
	require.ErrorIs(t, err, ErrOrderRejected)
}

func TestOpenPosition_ReadOnly(t *testing.T) {
	c, err := NewHTTPClient(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)

	_, err = c.OpenPosition(context.Background(), PositionRequest{})
	require.ErrorIs(t, err, ErrNoWallet)
}

func TestWalletBalances(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/balances/0xabc" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"balances":{"USDC":"1250.5","ETH":"0.75"}}`))
	}))
	defer server.Close()

	c, err := NewHTTPClient(Config{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	balances, err := c.WalletBalances(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.True(t, balances["USDC"].Equal(decimal.RequireFromString("1250.5")))

	_, err = c.WalletBalances(context.Background(), "")
	require.ErrorIs(t, err, ErrNoWallet)
}
