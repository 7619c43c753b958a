package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/flashdex/flashdex/pkg/exchange"
	"github.com/flashdex/flashdex/pkg/token"
)

// Server exposes the exchange engine over REST and streams committed audit
// events over WebSocket. Flash loans are not invokable here: the recipient
// callback is an in-process interface.
type Server struct {
	engine *exchange.Exchange
	assets *token.Registry
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

func NewServer(engine *exchange.Exchange, assets *token.Registry, logger *zap.Logger) *Server {
	s := &Server{
		engine: engine,
		assets: assets,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		log:    logger.Sugar(),
	}
	s.setupRoutes()
	return s
}

// EventSink returns the sink that feeds committed engine events into the
// WebSocket hub. Wire it with exchange.WithSink at engine construction.
func (s *Server) EventSink() exchange.Sink {
	return exchange.SinkFunc(s.hub.BroadcastEvent)
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/assets", s.handleGetAssets).Methods("GET")
	api.HandleFunc("/balances/{asset}/{account}", s.handleGetBalance).Methods("GET")

	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders", s.handleMakeOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/fill", s.handleFillOrder).Methods("POST")

	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")

	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/state", s.handleGetState).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and serves HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// Handler returns the HTTP handler (tests).
func (s *Server) Handler() http.Handler { return s.router }

// ==============================
// Handlers
// ==============================

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ConfigInfo{
		Exchange:   s.engine.Address().Hex(),
		FeeAccount: s.engine.FeeAccount().Hex(),
		FeePercent: s.engine.FeePercent(),
		LoanFeeBps: s.engine.LoanFeeBps(),
	})
}

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	ledgers := s.assets.List()
	out := make([]AssetInfo, 0, len(ledgers))
	for _, l := range ledgers {
		info := AssetInfo{
			Address: l.Address().Hex(),
			OnHand:  l.BalanceOf(s.engine.Address()).String(),
		}
		if t, ok := l.(*token.Token); ok {
			info.Name = t.Name()
			info.Symbol = t.Symbol()
			info.Decimals = t.Decimals()
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	asset, ok := parseAddress(vars["asset"])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid asset address")
		return
	}
	account, ok := parseAddress(vars["account"])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	bal := s.engine.TotalBalanceOf(asset, account)
	writeJSON(w, http.StatusOK, BalanceInfo{
		Asset:   asset.Hex(),
		Account: account.Hex(),
		Balance: bal.String(),
	})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.engine.Orders()
	out := make([]OrderInfo, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderInfo(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	o, found := s.engine.Order(id)
	if !found {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, orderInfo(o))
}

func (s *Server) handleMakeOrder(w http.ResponseWriter, r *http.Request) {
	var req MakeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	maker, ok1 := parseAddress(req.Maker)
	assetGet, ok2 := parseAddress(req.AssetGet)
	assetGive, ok3 := parseAddress(req.AssetGive)
	amountGet, ok4 := parseAmount(req.AmountGet)
	amountGive, ok5 := parseAmount(req.AmountGive)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		writeError(w, http.StatusBadRequest, "invalid address or amount")
		return
	}

	o, err := s.engine.MakeOrder(maker, assetGet, amountGet, assetGive, amountGive)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderInfo(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.engine.CancelOrder)
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.engine.FillOrder)
}

func (s *Server) handleOrderAction(w http.ResponseWriter, r *http.Request, action func(common.Address, uint64) error) {
	id, ok := parseOrderID(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	var req OrderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	if err := action(caller, id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	o, _ := s.engine.Order(id)
	writeJSON(w, http.StatusOK, orderInfo(o))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleMove(w, r, s.engine.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleMove(w, r, s.engine.Withdraw)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request, move func(common.Address, common.Address, *big.Int) error) {
	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	asset, ok1 := parseAddress(req.Asset)
	account, ok2 := parseAddress(req.Account)
	amount, ok3 := parseAmount(req.Amount)
	if !ok1 || !ok2 || !ok3 {
		writeError(w, http.StatusBadRequest, "invalid address or amount")
		return
	}

	if err := move(asset, account, amount); err != nil {
		s.writeEngineError(w, err)
		return
	}
	bal := s.engine.TotalBalanceOf(asset, account)
	writeJSON(w, http.StatusOK, BalanceInfo{
		Asset:   asset.Hex(),
		Account: account.Hex(),
		Balance: bal.String(),
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	events, err := s.engine.RecentEvents(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	if events == nil {
		events = []exchange.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StateInfo{
		Digest:     s.engine.StateDigest().Hex(),
		OrderCount: s.engine.OrderCount(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func orderInfo(o *exchange.Order) OrderInfo {
	return OrderInfo{
		ID:         o.ID,
		Maker:      o.Maker.Hex(),
		AssetGet:   o.AssetGet.Hex(),
		AmountGet:  o.AmountGet.String(),
		AssetGive:  o.AssetGive.Hex(),
		AmountGive: o.AmountGive.String(),
		CreatedAt:  o.CreatedAt,
		Status:     o.Status.String(),
	}
}

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseAmount(s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

func parseOrderID(s string) (uint64, bool) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// writeEngineError maps engine failure kinds onto HTTP statuses. The error
// text carries the offending quantities for diagnosis.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, exchange.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, exchange.ErrInvalidOrderState):
		status = http.StatusConflict
	case errors.Is(err, exchange.ErrInsufficientBalance),
		errors.Is(err, exchange.ErrInsufficientLoanFunds),
		errors.Is(err, exchange.ErrRepaymentShortfall),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, token.ErrUnknownAsset):
		status = http.StatusNotFound
	}
	s.log.Infow("operation_rejected", "error", err.Error(), "status", status)
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
