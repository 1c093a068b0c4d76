package lending

import "fmt"

// Freshness is the two-state machine every refreshable record carries. A
// record is Fresh only when it was refreshed in the slot currently being
// executed; everything else is Stale.
type Freshness uint8

const (
	// Stale means the record may not be trusted for solvency math until it
	// is refreshed.
	Stale Freshness = iota
	// Fresh means the record was refreshed in the current slot.
	Fresh
)

// LastUpdate records when a reserve or obligation was last refreshed.
type LastUpdate struct {
	Slot   uint64
	Status Freshness
}

// Update marks the record fresh as of the given slot.
func (u *LastUpdate) Update(slot uint64) {
	u.Slot = slot
	u.Status = Fresh
}

// MarkStale invalidates the record without touching the slot. External
// handlers call this after any mutation that changes pool composition.
func (u *LastUpdate) MarkStale() {
	u.Status = Stale
}

// IsStale reports whether the record needs a refresh before it may be used in
// the given slot.
func (u LastUpdate) IsStale(currentSlot uint64) bool {
	return u.Status != Fresh || u.Slot != currentSlot
}

// SlotsElapsed returns the number of slots since the last refresh. The clock
// is monotonic; a current slot behind the recorded one is a caller bug.
func (u LastUpdate) SlotsElapsed(currentSlot uint64) (uint64, error) {
	if currentSlot < u.Slot {
		return 0, ErrSlotRegression
	}
	return currentSlot - u.Slot, nil
}

// ReserveConfig holds the per-asset parameters that stay fixed between
// governance updates.
type ReserveConfig struct {
	// LoanToValueBps caps borrowing against collateral deposited into this
	// reserve, in basis points of its market value.
	LoanToValueBps uint64 `toml:"LoanToValueBps" json:"loan_to_value_bps"`
	// LiquidationThresholdBps is the collateral value ratio at which a
	// position becomes liquidatable.
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps" json:"liquidation_threshold_bps"`
	// LiquidationBonusBps is the discount a liquidator receives on seized
	// collateral. Consumed by the external liquidation handler.
	LiquidationBonusBps uint64 `toml:"LiquidationBonusBps" json:"liquidation_bonus_bps"`
	// OptimalUtilizationPct is the utilization breakpoint between the two
	// segments of the borrow rate curve.
	OptimalUtilizationPct uint64 `toml:"OptimalUtilizationPct" json:"optimal_utilization_pct"`
	// MinBorrowRatePct, OptimalBorrowRatePct and MaxBorrowRatePct are the
	// annualized rate curve anchors at 0%, optimal and 100% utilization.
	MinBorrowRatePct     uint64 `toml:"MinBorrowRatePct" json:"min_borrow_rate_pct"`
	OptimalBorrowRatePct uint64 `toml:"OptimalBorrowRatePct" json:"optimal_borrow_rate_pct"`
	MaxBorrowRatePct     uint64 `toml:"MaxBorrowRatePct" json:"max_borrow_rate_pct"`
	// ProtocolTakeRatePct is the share of newly accrued interest skimmed
	// into protocol fees.
	ProtocolTakeRatePct uint64 `toml:"ProtocolTakeRatePct" json:"protocol_take_rate_pct"`
	// Oracle bounds trust in the price feeds backing this reserve.
	Oracle OracleConfig `toml:"oracle" json:"oracle"`
}

// Validate rejects configurations the rate curve cannot interpolate over.
func (c ReserveConfig) Validate() error {
	if c.OptimalUtilizationPct > 100 {
		return fmt.Errorf("%w: optimal utilization %d%% above 100%%", ErrInvalidReserveConfig, c.OptimalUtilizationPct)
	}
	if c.MinBorrowRatePct > c.OptimalBorrowRatePct || c.OptimalBorrowRatePct > c.MaxBorrowRatePct {
		return fmt.Errorf("%w: borrow rate anchors must be non-decreasing", ErrInvalidReserveConfig)
	}
	if c.LoanToValueBps > 10_000 || c.LiquidationThresholdBps > 10_000 {
		return fmt.Errorf("%w: ratios above 100%%", ErrInvalidReserveConfig)
	}
	if c.LoanToValueBps > c.LiquidationThresholdBps {
		return fmt.Errorf("%w: loan-to-value above liquidation threshold", ErrInvalidReserveConfig)
	}
	if c.ProtocolTakeRatePct > 100 {
		return fmt.Errorf("%w: protocol take rate above 100%%", ErrInvalidReserveConfig)
	}
	if c.Oracle.MaxAgeSlots == 0 {
		return fmt.Errorf("%w: oracle staleness bound required", ErrInvalidReserveConfig)
	}
	return nil
}

// ReserveLiquidity tracks the funds side of a pool.
type ReserveLiquidity struct {
	// AvailableAmount is idle liquidity awaiting borrows or withdrawals.
	AvailableAmount Decimal
	// BorrowedAmount is outstanding principal plus accrued interest owed by
	// borrowers. Monotone outside of explicit repays.
	BorrowedAmount Decimal
	// CumulativeBorrowRate is the monotone compounding index borrowers
	// snapshot at borrow time. Starts at 1.0 and only ever grows.
	CumulativeBorrowRate Decimal
	// MarketPrice is the canonical price per whole unit of the asset, set on
	// every refresh.
	MarketPrice Decimal
	// AccumulatedProtocolFees is skimmed revenue awaiting withdrawal. It is
	// a claim against borrower debt, not a deduction from it.
	AccumulatedProtocolFees Decimal
	// MintDecimals is the native decimal precision of the underlying asset;
	// market values divide amounts by 10^MintDecimals to reach the common
	// value unit.
	MintDecimals uint32
}

// ReserveCollateral tracks the receipt-token side of a pool. Depositors hold
// receipt tokens whose exchange rate against underlying liquidity drifts as
// interest accrues.
type ReserveCollateral struct {
	TotalSupply Decimal
}

// Reserve is one per-asset lending pool.
type Reserve struct {
	Liquidity  ReserveLiquidity
	Collateral ReserveCollateral
	Config     ReserveConfig
	LastUpdate LastUpdate
}

// NewReserve initialises a pool with a unit cumulative rate and no balances.
// The creation slot anchors the accrual clock so the first refresh does not
// compound over the ledger's entire history.
func NewReserve(cfg ReserveConfig, mintDecimals uint32, currentSlot uint64) (*Reserve, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reserve{
		Liquidity: ReserveLiquidity{
			CumulativeBorrowRate: OneDecimal(),
			MintDecimals:         mintDecimals,
		},
		Config:     cfg,
		LastUpdate: LastUpdate{Slot: currentSlot, Status: Stale},
	}, nil
}

// Clone returns a deep copy. Value semantics of Decimal make the field copy
// sufficient.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// CurrentBorrowRate derives the annualized borrow rate from the pool's
// pre-refresh utilization.
func (r *Reserve) CurrentBorrowRate() (Rate, error) {
	utilization, err := Utilization(r.Liquidity.BorrowedAmount, r.Liquidity.AvailableAmount)
	if err != nil {
		return Rate{}, err
	}
	return BorrowRate(utilization, r.Config)
}

// CollateralExchangeRate returns the receipt-token per underlying ratio. A
// pool with no receipts or no liquidity trades 1:1.
func (r *Reserve) CollateralExchangeRate() (Rate, error) {
	total, err := r.TotalLiquidity()
	if err != nil {
		return Rate{}, err
	}
	if r.Collateral.TotalSupply.IsZero() || total.IsZero() {
		return OneRate(), nil
	}
	ratio, err := r.Collateral.TotalSupply.Div(total)
	if err != nil {
		return Rate{}, err
	}
	return ratio.AsRate()
}

// TotalLiquidity is available plus borrowed funds; protocol fees are a claim
// on borrowed amounts and therefore not added again.
func (r *Reserve) TotalLiquidity() (Decimal, error) {
	return r.Liquidity.AvailableAmount.Add(r.Liquidity.BorrowedAmount)
}

// accrueInterest compounds borrow interest over the elapsed slots and skims
// the protocol's take of the newly accrued debt. The computation runs on
// scratch values and commits only when every step has succeeded, so a failed
// refresh leaves the reserve untouched.
func (r *Reserve) accrueInterest(currentSlot uint64, params Params) error {
	elapsed, err := r.LastUpdate.SlotsElapsed(currentSlot)
	if err != nil {
		return err
	}
	if elapsed == 0 {
		return nil
	}
	if elapsed > params.MaxSlotAdvance {
		return fmt.Errorf("%w: %d slots elapsed, limit %d", ErrSlotAdvance, elapsed, params.MaxSlotAdvance)
	}

	borrowRate, err := r.CurrentBorrowRate()
	if err != nil {
		return err
	}
	slotRate, err := borrowRate.DivUint(params.SlotsPerYear)
	if err != nil {
		return err
	}
	compoundBase, err := OneRate().Add(slotRate)
	if err != nil {
		return err
	}
	compounded, err := compoundBase.Pow(elapsed)
	if err != nil {
		return err
	}

	cumulative, err := r.Liquidity.CumulativeBorrowRate.MulRate(compounded)
	if err != nil {
		return err
	}
	borrowedAfter, err := r.Liquidity.BorrowedAmount.MulRate(compounded)
	if err != nil {
		return err
	}
	netNewDebt, err := borrowedAfter.Sub(r.Liquidity.BorrowedAmount)
	if err != nil {
		return err
	}
	takeRate := RateFromPercent(r.Config.ProtocolTakeRatePct)
	protocolFee, err := netNewDebt.MulRate(takeRate)
	if err != nil {
		return err
	}
	fees, err := r.Liquidity.AccumulatedProtocolFees.Add(protocolFee)
	if err != nil {
		return err
	}

	r.Liquidity.CumulativeBorrowRate = cumulative
	r.Liquidity.BorrowedAmount = borrowedAfter
	r.Liquidity.AccumulatedProtocolFees = fees
	return nil
}

// RefreshReserve advances a reserve to the current slot: it validates and
// resolves the oracle price, compounds interest over the elapsed slots, and
// marks the reserve fresh. Refreshing twice in one slot re-validates and
// overwrites the price but accrues nothing further. Any failure leaves the
// reserve exactly as it was.
func RefreshReserve(reserve *Reserve, primary PriceData, secondary *PriceData, currentSlot uint64, params Params) error {
	if reserve == nil {
		return ErrUnknownReserve
	}
	price, err := ResolvePrice(primary, secondary, currentSlot, reserve.Config.Oracle)
	if err != nil {
		return err
	}

	scratch := reserve.Clone()
	if err := scratch.accrueInterest(currentSlot, params.Normalise()); err != nil {
		return err
	}
	scratch.Liquidity.MarketPrice = price
	scratch.LastUpdate.Update(currentSlot)

	*reserve = *scratch
	return nil
}
