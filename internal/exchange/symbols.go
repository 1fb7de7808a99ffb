package exchange

import (
	"sort"
	"strings"
)

// quoteCurrencies is ordered longest first so USDT wins over USD.
var quoteCurrencies = func() []string {
	q := []string{
		"USDT", "USD", "EUR", "USDC", "BTC", "ETH", "BUSD", "DAI", "GBP", "AUD",
		"JPY", "KRW", "TRY", "CNY", "SGD", "HKD", "CAD", "CHF", "NZD",
	}
	sort.SliceStable(q, func(i, j int) bool { return len(q[i]) > len(q[j]) })
	return q
}()

// Canonical converts an exchange-native symbol such as "btc-usdt" or
// "BTC_USDT" to the canonical "BTCUSDT" form.
func Canonical(native string) string {
	return strings.ToUpper(strings.NewReplacer("-", "", "_", "", "/", "").Replace(native))
}

// SplitSymbol splits a canonical symbol into base and quote currency.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	symbol = Canonical(symbol)
	for _, q := range quoteCurrencies {
		if len(symbol) > len(q) && strings.HasSuffix(symbol, q) {
			return symbol[:len(symbol)-len(q)], q, true
		}
	}
	return "", "", false
}

// joinSymbol renders a canonical symbol with sep between base and quote.
// Symbols without a recognised quote currency are returned unchanged.
func joinSymbol(symbol, sep string) string {
	base, quote, ok := SplitSymbol(symbol)
	if !ok {
		return Canonical(symbol)
	}
	return base + sep + quote
}
