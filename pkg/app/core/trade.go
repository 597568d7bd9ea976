package core

// Trade is one settled match between a resting maker and an incoming taker.
// Price is always the sell side's limit price.
type Trade struct {
	MakerOrderID uint64 `json:"makerOrderId"`
	TakerOrderID uint64 `json:"takerOrderId"`
	TakerSide    string `json:"takerSide"` // "buy" or "sell"
	Price        uint64 `json:"price"`
	Qty          uint64 `json:"qty"`
	Timestamp    uint64 `json:"timestamp"` // Unix milliseconds
}
