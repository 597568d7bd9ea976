package core

// Pair names the single market the engine trades.
type Pair struct {
	Symbol     string // e.g. "MINI-USDX"
	BaseAsset  string
	QuoteAsset string
}
