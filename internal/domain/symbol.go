package domain

import (
	"regexp"
	"strings"
)

// occOptionPattern matches OCC-style option symbols: root, six-digit
// expiration (YYMMDD), C or P, eight-digit strike in thousandths.
var occOptionPattern = regexp.MustCompile(`^[A-Z]{1,6}\d{6}[CP]\d{8}$`)

// futuresPattern matches futures contract codes: short root, a month-code
// letter, and a two-digit year.
var futuresPattern = regexp.MustCompile(`^[A-Z]{1,3}[FGHJKMNQUVXZ]\d{2}$`)

// cryptoBases is the allowlist of crypto base assets recognised in symbols.
var cryptoBases = map[string]bool{
	"BTC": true, "ETH": true, "SOL": true, "DOGE": true, "ADA": true,
	"XRP": true, "DOT": true, "AVAX": true, "MATIC": true, "LINK": true,
	"LTC": true, "BCH": true, "UNI": true, "ATOM": true, "SHIB": true,
	"NEAR": true, "ALGO": true, "XLM": true, "AAVE": true, "FIL": true,
}

// cryptoQuotes is the allowlist of quote currencies a crypto pair may end in.
var cryptoQuotes = []string{"USDT", "USDC", "USD", "BTC", "ETH"}

// fiatCurrencies is the allowlist of ISO currency codes recognised in forex
// pairs.
var fiatCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true,
	"CAD": true, "AUD": true, "NZD": true, "SEK": true, "NOK": true,
	"SGD": true, "HKD": true, "MXN": true, "ZAR": true, "TRY": true,
	"CNH": true,
}

// IsCryptoBase reports whether s is a recognised crypto base asset.
func IsCryptoBase(s string) bool {
	return cryptoBases[strings.ToUpper(s)]
}

// IsFiatCurrency reports whether s is a recognised ISO currency code.
func IsFiatCurrency(s string) bool {
	return fiatCurrencies[strings.ToUpper(s)]
}

// stripSeparators removes the pair separators brokers use in symbols.
func stripSeparators(s string) string {
	return strings.NewReplacer("-", "", "/", "", "_", "").Replace(s)
}

// SplitCryptoPair splits a symbol into a crypto base and quote currency.
// Accepts bare bases ("BTC", quote defaults to empty), separator-joined
// pairs ("BTC-USD", "BTC/USD") and concatenated pairs ("BTCUSDT").
func SplitCryptoPair(symbol string) (base, quote string, ok bool) {
	s := stripSeparators(strings.ToUpper(strings.TrimSpace(symbol)))
	if cryptoBases[s] {
		return s, "", true
	}
	for _, q := range cryptoQuotes {
		if strings.HasSuffix(s, q) {
			b := strings.TrimSuffix(s, q)
			if cryptoBases[b] {
				return b, q, true
			}
		}
	}
	return "", "", false
}

// DetectAssetClass classifies a bare symbol string, case-insensitively.
// Precedence matters: the options and futures patterns are checked before
// crypto and forex so a six-character contract code is never mistaken for a
// currency pair. Anything unmatched is a US equity.
func DetectAssetClass(symbol string) AssetClass {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return AssetUSEquity
	}

	if occOptionPattern.MatchString(s) {
		return AssetOptions
	}
	if futuresPattern.MatchString(s) {
		return AssetFutures
	}
	if _, _, ok := SplitCryptoPair(s); ok {
		return AssetCrypto
	}
	if isForexPair(s) {
		return AssetForex
	}
	return AssetUSEquity
}

// isForexPair reports whether s is exactly two ISO currency codes, joined
// directly or by a separator, neither of which is a crypto base asset.
func isForexPair(s string) bool {
	stripped := stripSeparators(s)
	if len(stripped) != 6 {
		return false
	}
	a, b := stripped[:3], stripped[3:]
	if cryptoBases[a] || cryptoBases[b] {
		return false
	}
	return fiatCurrencies[a] && fiatCurrencies[b]
}
