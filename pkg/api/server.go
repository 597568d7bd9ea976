package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/lythesia/minidex/pkg/app/core"
	"github.com/lythesia/minidex/pkg/app/core/book"
	"github.com/lythesia/minidex/pkg/app/core/ledger"
	"github.com/lythesia/minidex/pkg/storage"
	"github.com/lythesia/minidex/pkg/util"
)

// Server handles REST API and WebSocket connections.
// The address in each request identifies the caller; signature auth is out
// of scope for this node.
type Server struct {
	engine *core.Engine
	store  *storage.Store
	router *mux.Router
	hub    *Hub
	clock  util.Clock
	log    *zap.SugaredLogger

	allowedOrigins []string
	tradeLimit     int
}

// Options configures a Server beyond its collaborators
type Options struct {
	AllowedOrigins    []string
	TradeHistoryLimit int
}

// NewServer creates a new API server
func NewServer(engine *core.Engine, store *storage.Store, clock util.Clock, log *zap.SugaredLogger, opts Options) *Server {
	if opts.TradeHistoryLimit <= 0 {
		opts.TradeHistoryLimit = 100
	}
	s := &Server{
		engine:         engine,
		store:          store,
		router:         mux.NewRouter(),
		hub:            NewHub(log),
		clock:          clock,
		log:            log,
		allowedOrigins: opts.AllowedOrigins,
		tradeLimit:     opts.TradeHistoryLimit,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/pair", s.handleGetPair).Methods("GET")
	api.HandleFunc("/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/accounts/{address}/withdraw", s.handleWithdraw).Methods("POST")

	// Order submission
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	// Start WebSocket hub
	go s.hub.Run()

	// CORS configuration
	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	handler := c.Handler(s.router)

	s.log.Infow("api_server_listening", "addr", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	pair := s.engine.Pair()
	respondJSON(w, PairInfo{
		Symbol:     pair.Symbol,
		BaseAsset:  pair.BaseAsset,
		QuoteAsset: pair.QuoteAsset,
	})
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.orderbookSnapshot())
}

func (s *Server) orderbookSnapshot() OrderbookSnapshot {
	return OrderbookSnapshot{
		Symbol:    s.engine.Pair().Symbol,
		Bids:      toPriceLevels(s.engine.BidLevels()),
		Asks:      toPriceLevels(s.engine.AskLevels()),
		Timestamp: s.clock.Now().UnixMilli(),
	}
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.LoadRecentTrades(s.tradeLimit)
	if err != nil {
		s.log.Errorw("trade_history_load_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to load trades", err.Error())
		return
	}

	response := make([]TradeInfo, len(trades))
	for i, t := range trades {
		response[i] = TradeInfo{
			MakerOrderID: t.MakerOrderID,
			TakerOrderID: t.TakerOrderID,
			Price:        t.Price,
			Qty:          t.Qty,
			TakerSide:    t.TakerSide,
			Timestamp:    t.Timestamp,
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	s.respondAccount(w, addr)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	asset, amount, ok := parseAmountRequest(w, r)
	if !ok {
		return
	}

	if err := s.engine.Deposit(addr, asset, amount); err != nil {
		respondEngineError(w, err)
		return
	}

	s.log.Infow("deposit", "address", addr.Hex(), "asset", asset.String(), "amount", amount.Dec())
	s.respondAccount(w, addr)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	asset, amount, ok := parseAmountRequest(w, r)
	if !ok {
		return
	}

	if err := s.engine.Withdraw(addr, asset, amount); err != nil {
		respondEngineError(w, err)
		return
	}

	s.log.Infow("withdraw", "address", addr.Hex(), "asset", asset.String(), "amount", amount.Dec())
	s.respondAccount(w, addr)
}

// respondAccount writes the account's current balances, shared by the
// account query and the deposit/withdraw responses
func (s *Server) respondAccount(w http.ResponseWriter, addr common.Address) {
	respondJSON(w, AccountInfo{
		Address: addr.Hex(),
		Base: AssetBalance{
			Available: s.engine.BalanceOf(addr, ledger.Base).Dec(),
			Locked:    s.engine.LockedOf(addr, ledger.Base).Dec(),
		},
		Quote: AssetBalance{
			Available: s.engine.BalanceOf(addr, ledger.Quote).Dec(),
			Locked:    s.engine.LockedOf(addr, ledger.Quote).Dec(),
		},
	})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid address", req.Address)
		return
	}
	side, ok := book.ParseSide(req.Side)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid side", req.Side)
		return
	}

	addr := common.HexToAddress(req.Address)
	now := uint64(s.clock.Now().UnixMilli())

	orderID, fills, err := s.engine.PlaceLimitOrder(s.engine.Pair().Symbol, side, req.Price, req.Qty, addr, now)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	s.log.Infow("order_placed",
		"order_id", orderID,
		"address", addr.Hex(),
		"side", side.String(),
		"price", req.Price,
		"qty", req.Qty,
		"fills", len(fills)/2)

	s.broadcastFills(fills, now)
	s.broadcastOrderbook()

	status := "open"
	if _, open := s.engine.OpenOrder(orderID); !open {
		status = "filled"
	} else if len(fills) > 0 {
		status = "partially_filled"
	}

	response := PlaceOrderResponse{
		OrderID: orderID,
		Status:  status,
		Fills:   make([]FillInfo, len(fills)),
	}
	for i, f := range fills {
		response.Fills[i] = FillInfo{
			OrderID: f.OrderID,
			Side:    f.Side.String(),
			Price:   f.Price,
			Qty:     f.Qty,
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid address", req.Address)
		return
	}

	addr := common.HexToAddress(req.Address)
	if err := s.engine.CancelOrder(addr, req.OrderID); err != nil {
		respondEngineError(w, err)
		return
	}

	s.log.Infow("order_cancelled", "order_id", req.OrderID, "address", addr.Hex())
	s.broadcastOrderbook()

	respondJSON(w, map[string]interface{}{
		"status":  "cancelled",
		"orderId": req.OrderID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// WebSocket broadcasts
// ==============================

// broadcastFills publishes one trade per maker/taker fill pair
func (s *Server) broadcastFills(fills []book.Fill, now uint64) {
	symbol := s.engine.Pair().Symbol
	for i := 0; i+1 < len(fills); i += 2 {
		taker := fills[i+1]
		s.hub.BroadcastToChannel("trades", TradeUpdate{
			Type:      "trade",
			Symbol:    symbol,
			Price:     taker.Price,
			Qty:       taker.Qty,
			TakerSide: taker.Side.String(),
			Timestamp: now,
		})
	}
}

func (s *Server) broadcastOrderbook() {
	snapshot := s.orderbookSnapshot()
	s.hub.BroadcastToChannel("orderbook", OrderbookUpdate{
		Type:      "orderbook",
		Symbol:    snapshot.Symbol,
		Bids:      snapshot.Bids,
		Asks:      snapshot.Asks,
		Timestamp: snapshot.Timestamp,
	})
}

// ==============================
// Helper Functions
// ==============================

func toPriceLevels(levels []book.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: l.Price, Qty: l.Qty}
	}
	return out
}

func parseAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", addressStr)
		return common.Address{}, false
	}
	return common.HexToAddress(addressStr), true
}

func parseAmountRequest(w http.ResponseWriter, r *http.Request) (ledger.Asset, *uint256.Int, bool) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return 0, nil, false
	}
	asset, ok := ledger.ParseAsset(req.Asset)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset", req.Asset)
		return 0, nil, false
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", req.Amount)
		return 0, nil, false
	}
	return asset, amount, true
}

// respondEngineError maps engine and ledger errors to HTTP statuses
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, book.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order not found", err.Error())
	case errors.Is(err, book.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "not order owner", err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientLocked):
		respondError(w, http.StatusUnprocessableEntity, "insufficient funds", err.Error())
	case errors.Is(err, core.ErrUnsupportedPair),
		errors.Is(err, core.ErrInvalidSide),
		errors.Is(err, core.ErrInvalidPrice),
		errors.Is(err, core.ErrInvalidQuantity),
		errors.Is(err, core.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
