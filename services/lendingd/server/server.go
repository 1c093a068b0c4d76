package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"slotlend/core/state"
	"slotlend/native/lending"
	"slotlend/observability/metrics"
)

const requestBodyLimit = 1 << 20

// Server exposes the lending engine over HTTP: market bootstrap, refresh
// submission and record reads. Engine calls are serialized; each request
// carries its own ledger slot.
type Server struct {
	log     *slog.Logger
	state   *state.Manager
	engine  *lending.Engine
	markets lending.Config
	metrics *metrics.LendingMetrics
	limiter *rate.Limiter

	mu sync.Mutex
}

// New wires a server around the persistent state manager.
func New(log *slog.Logger, manager *state.Manager, markets lending.Config, rps float64, burst int) *Server {
	engine := lending.NewEngine(markets.Params())
	engine.SetState(manager)
	return &Server{
		log:     log,
		state:   manager,
		engine:  engine,
		markets: markets,
		metrics: metrics.Lending(),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Handler builds the HTTP routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.rateLimit)
		v1.Get("/reserves", s.listReserves)
		v1.Post("/reserves/{id}", s.createReserve)
		v1.Get("/reserves/{id}", s.getReserve)
		v1.Post("/reserves/{id}/refresh", s.refreshReserve)
		v1.Put("/obligations/{id}", s.createObligation)
		v1.Get("/obligations/{id}", s.getObligation)
		v1.Post("/obligations/{id}/refresh", s.refreshObligation)
	})

	return otelhttp.NewHandler(r, "lendingd")
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type lastUpdateView struct {
	Slot  uint64 `json:"slot"`
	Fresh bool   `json:"fresh"`
}

type reserveView struct {
	AvailableAmount         lending.Decimal       `json:"available_amount"`
	BorrowedAmount          lending.Decimal       `json:"borrowed_amount"`
	CumulativeBorrowRate    lending.Decimal       `json:"cumulative_borrow_rate"`
	MarketPrice             lending.Decimal       `json:"market_price"`
	AccumulatedProtocolFees lending.Decimal       `json:"accumulated_protocol_fees"`
	MintDecimals            uint32                `json:"mint_decimals"`
	CollateralSupply        lending.Decimal       `json:"collateral_supply"`
	Config                  lending.ReserveConfig `json:"config"`
	LastUpdate              lastUpdateView        `json:"last_update"`
}

func newReserveView(r *lending.Reserve) reserveView {
	return reserveView{
		AvailableAmount:         r.Liquidity.AvailableAmount,
		BorrowedAmount:          r.Liquidity.BorrowedAmount,
		CumulativeBorrowRate:    r.Liquidity.CumulativeBorrowRate,
		MarketPrice:             r.Liquidity.MarketPrice,
		AccumulatedProtocolFees: r.Liquidity.AccumulatedProtocolFees,
		MintDecimals:            r.Liquidity.MintDecimals,
		CollateralSupply:        r.Collateral.TotalSupply,
		Config:                  r.Config,
		LastUpdate:              lastUpdateView{Slot: r.LastUpdate.Slot, Fresh: r.LastUpdate.Status == lending.Fresh},
	}
}

type obligationEntryView struct {
	ReserveID   string          `json:"reserve_id"`
	Amount      lending.Decimal `json:"amount"`
	MarketValue lending.Decimal `json:"market_value"`
	Snapshot    lending.Decimal `json:"cumulative_borrow_rate_snapshot"`
}

type obligationView struct {
	Deposits             []obligationEntryView `json:"deposits"`
	Borrows              []obligationEntryView `json:"borrows"`
	DepositedValue       lending.Decimal       `json:"deposited_value"`
	BorrowedValue        lending.Decimal       `json:"borrowed_value"`
	AllowedBorrowValue   lending.Decimal       `json:"allowed_borrow_value"`
	UnhealthyBorrowValue lending.Decimal       `json:"unhealthy_borrow_value"`
	LastUpdate           lastUpdateView        `json:"last_update"`
}

func newObligationView(o *lending.Obligation) obligationView {
	view := obligationView{
		Deposits:             make([]obligationEntryView, 0, len(o.Deposits)),
		Borrows:              make([]obligationEntryView, 0, len(o.Borrows)),
		DepositedValue:       o.DepositedValue,
		BorrowedValue:        o.BorrowedValue,
		AllowedBorrowValue:   o.AllowedBorrowValue,
		UnhealthyBorrowValue: o.UnhealthyBorrowValue,
		LastUpdate:           lastUpdateView{Slot: o.LastUpdate.Slot, Fresh: o.LastUpdate.Status == lending.Fresh},
	}
	for _, deposit := range o.Deposits {
		view.Deposits = append(view.Deposits, obligationEntryView{
			ReserveID:   deposit.ReserveID,
			Amount:      deposit.DepositedAmount,
			MarketValue: deposit.MarketValue,
		})
	}
	for _, borrow := range o.Borrows {
		view.Borrows = append(view.Borrows, obligationEntryView{
			ReserveID:   borrow.ReserveID,
			Amount:      borrow.BorrowedAmount,
			MarketValue: borrow.MarketValue,
			Snapshot:    borrow.CumulativeBorrowRateSnapshot,
		})
	}
	return view
}

func (s *Server) listReserves(w http.ResponseWriter, _ *http.Request) {
	ids, err := s.state.ReserveIDs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"reserves": ids})
}

type createReserveRequest struct {
	MintDecimals uint32 `json:"mint_decimals"`
	Slot         uint64 `json:"slot"`
}

func (s *Server) createReserve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req createReserveRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, listed := s.markets.Reserves[id]
	if !listed {
		writeError(w, http.StatusNotFound, errors.New("asset not listed in markets config"))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.state.GetReserve(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, errors.New("reserve already exists"))
		return
	}
	reserve, err := lending.NewReserve(cfg, req.MintDecimals, req.Slot)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if err := s.state.PutReserve(id, reserve); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("reserve created", "reserve", id, "slot", req.Slot)
	writeJSON(w, http.StatusCreated, newReserveView(reserve))
}

func (s *Server) getReserve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reserve, err := s.state.GetReserve(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if reserve == nil {
		writeError(w, http.StatusNotFound, lending.ErrUnknownReserve)
		return
	}
	writeJSON(w, http.StatusOK, newReserveView(reserve))
}

type refreshReserveRequest struct {
	Slot      uint64             `json:"slot"`
	Primary   lending.PriceData  `json:"primary"`
	Secondary *lending.PriceData `json:"secondary,omitempty"`
}

func (s *Server) refreshReserve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req refreshReserveRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	start := time.Now()
	s.mu.Lock()
	reserve, err := s.engine.RefreshReserve(id, req.Slot, req.Primary, req.Secondary)
	s.mu.Unlock()
	elapsed := time.Since(start).Seconds()

	if err != nil {
		s.metrics.ObserveReserveRefresh(outcomeForError(err), elapsed)
		if isOracleError(err) {
			s.metrics.IncOracleRejection(outcomeForError(err))
		}
		s.log.Warn("reserve refresh failed", "reserve", id, "slot", req.Slot, "error", err)
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveReserveRefresh("ok", elapsed)
	s.publishReserveGauges(id, reserve)
	s.log.Info("reserve refreshed", "reserve", id, "slot", req.Slot,
		"borrowed", reserve.Liquidity.BorrowedAmount.String(),
		"cumulative_rate", reserve.Liquidity.CumulativeBorrowRate.String())
	writeJSON(w, http.StatusOK, newReserveView(reserve))
}

type obligationEntryRequest struct {
	ReserveID string          `json:"reserve_id"`
	Amount    lending.Decimal `json:"amount"`
}

type createObligationRequest struct {
	Slot     uint64                   `json:"slot"`
	Deposits []obligationEntryRequest `json:"deposits"`
	Borrows  []obligationEntryRequest `json:"borrows"`
}

func (s *Server) createObligation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req createObligationRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Deposits)+len(req.Borrows) > lending.MaxObligationReserves {
		writeError(w, http.StatusUnprocessableEntity, lending.ErrObligationEntries)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.state.GetObligation(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, errors.New("obligation already exists"))
		return
	}

	obligation := lending.NewObligation(req.Slot)
	for _, deposit := range req.Deposits {
		reserve, err := s.state.GetReserve(deposit.ReserveID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if reserve == nil {
			writeError(w, http.StatusUnprocessableEntity, lending.ErrMissingObligationEntry)
			return
		}
		obligation.Deposits = append(obligation.Deposits, lending.ObligationCollateral{
			ReserveID:       deposit.ReserveID,
			DepositedAmount: deposit.Amount,
		})
	}
	for _, borrow := range req.Borrows {
		reserve, err := s.state.GetReserve(borrow.ReserveID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if reserve == nil {
			writeError(w, http.StatusUnprocessableEntity, lending.ErrMissingObligationEntry)
			return
		}
		obligation.Borrows = append(obligation.Borrows, lending.ObligationLiquidity{
			ReserveID:                    borrow.ReserveID,
			BorrowedAmount:               borrow.Amount,
			CumulativeBorrowRateSnapshot: reserve.Liquidity.CumulativeBorrowRate,
		})
	}
	if err := s.state.PutObligation(id, obligation); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("obligation created", "obligation", id,
		"deposits", len(obligation.Deposits), "borrows", len(obligation.Borrows))
	writeJSON(w, http.StatusCreated, newObligationView(obligation))
}

func (s *Server) getObligation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	obligation, err := s.state.GetObligation(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if obligation == nil {
		writeError(w, http.StatusNotFound, lending.ErrUnknownObligation)
		return
	}
	writeJSON(w, http.StatusOK, newObligationView(obligation))
}

type refreshObligationRequest struct {
	Slot uint64 `json:"slot"`
}

func (s *Server) refreshObligation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req refreshObligationRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	start := time.Now()
	s.mu.Lock()
	obligation, err := s.engine.RefreshObligation(id, req.Slot)
	s.mu.Unlock()
	elapsed := time.Since(start).Seconds()

	if err != nil {
		s.metrics.ObserveObligationRefresh(outcomeForError(err), elapsed)
		s.log.Warn("obligation refresh failed", "obligation", id, "slot", req.Slot, "error", err)
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveObligationRefresh("ok", elapsed)
	s.log.Info("obligation refreshed", "obligation", id, "slot", req.Slot,
		"deposited_value", obligation.DepositedValue.String(),
		"borrowed_value", obligation.BorrowedValue.String())
	writeJSON(w, http.StatusOK, newObligationView(obligation))
}

func (s *Server) publishReserveGauges(id string, reserve *lending.Reserve) {
	borrowRate, err := reserve.CurrentBorrowRate()
	if err != nil {
		return
	}
	utilization, err := lending.Utilization(reserve.Liquidity.BorrowedAmount, reserve.Liquidity.AvailableAmount)
	if err != nil {
		return
	}
	s.metrics.SetReserveRates(id, rateFloat(borrowRate), rateFloat(utilization))
}

func rateFloat(r lending.Rate) float64 {
	f, err := strconv.ParseFloat(r.String(), 64)
	if err != nil {
		return 0
	}
	return f
}

func decodeRequest(r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, requestBodyLimit))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func isOracleError(err error) bool {
	return errors.Is(err, lending.ErrOracleStale) ||
		errors.Is(err, lending.ErrOracleNonPositive) ||
		errors.Is(err, lending.ErrOracleConfidence) ||
		errors.Is(err, lending.ErrOracleDivergence)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, lending.ErrUnknownReserve), errors.Is(err, lending.ErrUnknownObligation):
		return http.StatusNotFound
	case isOracleError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lending.ErrReserveStale),
		errors.Is(err, lending.ErrSlotRegression),
		errors.Is(err, lending.ErrNegativeInterest):
		return http.StatusConflict
	case errors.Is(err, lending.ErrMathOverflow),
		errors.Is(err, lending.ErrDivideByZero),
		errors.Is(err, lending.ErrSlotAdvance),
		errors.Is(err, lending.ErrObligationEntries),
		errors.Is(err, lending.ErrMissingObligationEntry):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func outcomeForError(err error) string {
	switch {
	case errors.Is(err, lending.ErrOracleStale):
		return "oracle_stale"
	case errors.Is(err, lending.ErrOracleNonPositive):
		return "oracle_nonpositive"
	case errors.Is(err, lending.ErrOracleConfidence):
		return "oracle_confidence"
	case errors.Is(err, lending.ErrOracleDivergence):
		return "oracle_divergence"
	case errors.Is(err, lending.ErrReserveStale):
		return "stale_reserve"
	case errors.Is(err, lending.ErrSlotRegression):
		return "slot_regression"
	case errors.Is(err, lending.ErrSlotAdvance):
		return "slot_advance"
	case errors.Is(err, lending.ErrNegativeInterest):
		return "negative_interest"
	case errors.Is(err, lending.ErrMathOverflow), errors.Is(err, lending.ErrDivideByZero):
		return "math"
	case errors.Is(err, lending.ErrUnknownReserve), errors.Is(err, lending.ErrUnknownObligation):
		return "not_found"
	case errors.Is(err, lending.ErrMissingObligationEntry):
		return "missing_reserve"
	case errors.Is(err, lending.ErrObligationEntries):
		return "entry_limit"
	default:
		return "error"
	}
}
