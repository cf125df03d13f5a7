package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-inputs/panel"
	"trade-inputs/reconciler"
)

var envKeys = []string{
	"TRADING_API_URL", "WALLET_PRIVATE_KEY", "TRADING_API_RATE_LIMIT",
	"PRICE_FEED_WS_URL", "PRICE_MAX_AGE",
	"LEVERAGE_MIN", "LEVERAGE_MAX", "LEVERAGE_STEP", "TOKENS_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	catalog, err := cfg.Catalog()
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenCatalog(), catalog)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRADING_API_URL", " http://localhost:8080 ")
	t.Setenv("WALLET_PRIVATE_KEY", `"0xabc"`)
	t.Setenv("TRADING_API_RATE_LIMIT", "3")
	t.Setenv("PRICE_FEED_WS_URL", "ws://localhost:9000/ws")
	t.Setenv("PRICE_MAX_AGE", "45s")
	t.Setenv("LEVERAGE_MIN", "1.1")
	t.Setenv("LEVERAGE_MAX", "20")
	t.Setenv("LEVERAGE_STEP", "not-a-number")
	t.Setenv("TOKENS_FILE", "tokens.yaml")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	assert.Equal(t, "0xabc", cfg.API.PrivateKeyHex)
	assert.Equal(t, 3, cfg.API.RateLimitRPS)
	assert.Equal(t, "ws://localhost:9000/ws", cfg.Feed.WSURL)
	assert.Equal(t, 45*time.Second, cfg.Feed.PriceMaxAge)
	assert.True(t, cfg.Leverage.Min.Equal(decimal.RequireFromString("1.1")))
	assert.True(t, cfg.Leverage.Max.Equal(decimal.NewFromInt(20)))
	assert.True(t, cfg.Leverage.Step.Equal(reconciler.DefaultLeverageBounds().Step))
	assert.Equal(t, "tokens.yaml", cfg.TokensFile)
}

func TestLoadFromEnv_InvalidLeverage(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEVERAGE_MIN", "10")
	t.Setenv("LEVERAGE_MAX", "5")

	_, err := LoadFromEnv()
	require.ErrorIs(t, err, reconciler.ErrInvalidLeverageBounds)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, ".env", "TRADING_API_URL=http://from-file\nLEVERAGE_MAX=25\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-file", cfg.API.BaseURL)
	assert.True(t, cfg.Leverage.Max.Equal(decimal.NewFromInt(25)))

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoad_DefaultEnvFile(t *testing.T) {
	clearEnv(t)

	chdir(t, t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().API.BaseURL, cfg.API.BaseURL)

	path := writeFile(t, ".env", "TRADING_API_URL=\"unterminated\n")
	chdir(t, filepath.Dir(path))
	_, err = Load()
	require.Error(t, err)
}

func TestLoadTokenCatalog(t *testing.T) {
	path := writeFile(t, "tokens.yaml", `
tokens:
  - symbol: " usdc "
    decimals: 6
    display_decimals: 2
  - symbol: jitosol
    decimals: 9
    display_decimals: 4
  - symbol: BTC
    decimals: 8
    display_decimals: 6
panels:
  Long:
    a: [usdc, " JITOSOL "]
    b: [btc]
  swap:
    a: [USDC]
    b: [BTC, JITOSOL]
`)
	catalog, err := LoadTokenCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "JITOSOL", "USDC"}, catalog.Symbols())

	allowed, err := catalog.Allowed(panel.VariantLong)
	require.NoError(t, err)
	require.Len(t, allowed.A, 2)
	assert.Equal(t, reconciler.TokenRef{Symbol: "USDC", Decimals: 6, DisplayDecimals: 2}, allowed.A[0])
	assert.Equal(t, "JITOSOL", allowed.A[1].Symbol)
	assert.Equal(t, "BTC", allowed.B[0].Symbol)

	_, err = catalog.Allowed(panel.VariantShort)
	require.ErrorIs(t, err, ErrUnknownPanel)

	tok, ok := catalog.Token("jitosol")
	assert.True(t, ok)
	assert.Equal(t, int32(9), tok.Decimals)
}

func TestLoadTokenCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		wantErr  error
	}{
		{
			name:     "no tokens",
			contents: "tokens: []\n",
		},
		{
			name: "duplicate",
			contents: `
tokens:
  - {symbol: ETH, decimals: 18}
  - {symbol: eth, decimals: 18}
`,
		},
		{
			name: "unknown token in panel",
			contents: `
tokens:
  - {symbol: ETH, decimals: 18}
panels:
  swap: {a: [ETH], b: [SOL]}
`,
			wantErr: ErrUnknownToken,
		},
		{
			name: "empty slot",
			contents: `
tokens:
  - {symbol: ETH, decimals: 18}
panels:
  long: {a: [ETH], b: []}
`,
			wantErr: reconciler.ErrEmptyAllowedTokens,
		},
		{
			name: "unknown variant",
			contents: `
tokens:
  - {symbol: ETH, decimals: 18}
panels:
  limit: {a: [ETH], b: [ETH]}
`,
			wantErr: panel.ErrUnknownVariant,
		},
		{
			name:     "unknown field",
			contents: "tokenz: []\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTokenCatalog(writeFile(t, "tokens.yaml", tt.contents))
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	_, err := LoadTokenCatalog("")
	require.Error(t, err)
}

func TestDefaultTokenCatalog_AllVariants(t *testing.T) {
	catalog := DefaultTokenCatalog()
	require.NoError(t, catalog.validate())
	for _, v := range []panel.Variant{panel.VariantSwap, panel.VariantLong, panel.VariantShort} {
		allowed, err := catalog.Allowed(v)
		require.NoError(t, err, v)
		assert.NotEmpty(t, allowed.A)
		assert.NotEmpty(t, allowed.B)
	}
}
