package venue

import (
	"strings"

	"depthflow/config"
)

// WSSymbol maps a base/quote pair to the symbol form the venue expects in
// WS subscription topics.
func WSSymbol(venueName, base, quote string) string {
	base = strings.ToUpper(base)
	quote = strings.ToUpper(quote)
	concat := base + quote
	dashed := base + "-" + quote

	switch venueName {
	case config.VenueBinance:
		// Binance WS paths expect lowercase "btcusdt"
		return strings.ToLower(concat)
	case config.VenueOKX:
		return dashed
	case config.VenueBybit:
		return concat
	case config.VenueBitget:
		return concat
	case config.VenueKucoin:
		return dashed
	default:
		return concat
	}
}

// RESTSymbol maps a base/quote pair to the symbol form the venue expects in
// REST query strings.
func RESTSymbol(venueName, base, quote string) string {
	base = strings.ToUpper(base)
	quote = strings.ToUpper(quote)
	concat := base + quote
	dashed := base + "-" + quote

	switch venueName {
	case config.VenueBinance:
		return concat
	case config.VenueOKX:
		return dashed
	case config.VenueBybit:
		return concat
	case config.VenueBitget:
		// Bitget REST uses the dashed instId even though WS topics do not
		return dashed
	case config.VenueKucoin:
		return dashed
	default:
		return concat
	}
}
