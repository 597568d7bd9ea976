package api

// API request/response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// PairInfo describes the single market this node trades
type PairInfo struct {
	Symbol     string `json:"symbol"`     // e.g., "MINI-USDX"
	BaseAsset  string `json:"baseAsset"`  // e.g., "MINI"
	QuoteAsset string `json:"quoteAsset"` // e.g., "USDX"
}

// OrderbookSnapshot represents current orderbook state
type OrderbookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`      // Sorted high to low
	Asks      []PriceLevel `json:"asks"`      // Sorted low to high
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// PriceLevel represents [price, qty] tuple
type PriceLevel struct {
	Price uint64 `json:"price"` // Limit price in quote units per base unit
	Qty   uint64 `json:"qty"`   // Open quantity in base units
}

// TradeInfo represents a settled trade
type TradeInfo struct {
	MakerOrderID uint64 `json:"makerOrderId"`
	TakerOrderID uint64 `json:"takerOrderId"`
	Price        uint64 `json:"price"`
	Qty          uint64 `json:"qty"`
	TakerSide    string `json:"takerSide"` // "buy" or "sell"
	Timestamp    uint64 `json:"timestamp"` // Unix milliseconds
}

// AssetBalance holds one ledger slot as decimal strings
type AssetBalance struct {
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

// AccountInfo represents both balance slots of an account
type AccountInfo struct {
	Address string       `json:"address"`
	Base    AssetBalance `json:"base"`
	Quote   AssetBalance `json:"quote"`
}

// FillInfo is one leg of a match, as returned from order placement
type FillInfo struct {
	OrderID uint64 `json:"orderId"`
	Side    string `json:"side"`
	Price   uint64 `json:"price"`
	Qty     uint64 `json:"qty"`
}

// ==============================
// REST Request Types
// ==============================

// PlaceOrderRequest is the payload for POST /api/v1/orders.
// The address identifies the caller; signature auth is out of scope.
type PlaceOrderRequest struct {
	Address string `json:"address"`
	Side    string `json:"side"` // "buy" or "sell"
	Price   uint64 `json:"price"`
	Qty     uint64 `json:"qty"`
}

// PlaceOrderResponse is the response from order placement
type PlaceOrderResponse struct {
	OrderID uint64     `json:"orderId"`
	Status  string     `json:"status"` // "open", "filled", "partially_filled"
	Fills   []FillInfo `json:"fills"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel
type CancelOrderRequest struct {
	Address string `json:"address"`
	OrderID uint64 `json:"orderId"`
}

// AmountRequest is the payload for deposit and withdraw endpoints.
// Amount is a decimal string so the full 256-bit range is expressible.
type AmountRequest struct {
	Asset  string `json:"asset"` // "base" or "quote"
	Amount string `json:"amount"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "orderbook", "trades"
}

// OrderbookUpdate is broadcast on the "orderbook" channel after every
// placement or cancel that changed the book
type OrderbookUpdate struct {
	Type      string       `json:"type"` // "orderbook"
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// TradeUpdate is broadcast on the "trades" channel when a trade executes
type TradeUpdate struct {
	Type      string `json:"type"` // "trade"
	Symbol    string `json:"symbol"`
	Price     uint64 `json:"price"`
	Qty       uint64 `json:"qty"`
	TakerSide string `json:"takerSide"`
	Timestamp uint64 `json:"timestamp"`
}
