package reconciler

import "github.com/shopspring/decimal"

// Placeholder is rendered for values that cannot be computed.
const Placeholder = "-"

// FormatUSD truncates a USD value to DisplayPrecision decimals. The
// stored value keeps its full precision.
func FormatUSD(v decimal.NullDecimal) string {
	if !v.Valid {
		return Placeholder
	}
	return v.Decimal.Truncate(DisplayPrecision).String()
}

// USDLabel renders the "≈ $X USD" hint shown under an input.
func USDLabel(v decimal.NullDecimal) string {
	if !v.Valid {
		return Placeholder
	}
	return "≈ $" + FormatUSD(v) + " USD"
}

// FormatAmount renders an amount with the token's display decimals,
// falling back to InputPrecision when the token does not define them.
func FormatAmount(raw *string, token TokenRef) string {
	d, ok := ParseAmount(raw)
	if !ok {
		return Placeholder
	}
	places := token.DisplayDecimals
	if places <= 0 {
		places = InputPrecision
	}
	return d.Truncate(places).String()
}
