package lending

import "fmt"

// ObligationCollateral is one collateral deposit inside an obligation,
// denominated in receipt tokens of the referenced reserve.
type ObligationCollateral struct {
	ReserveID       string
	DepositedAmount Decimal
	// MarketValue is derived on every refresh; never mutated directly.
	MarketValue Decimal
}

// ObligationLiquidity is one outstanding borrow inside an obligation.
type ObligationLiquidity struct {
	ReserveID string
	// BorrowedAmount is principal plus interest accrued up to the snapshot.
	BorrowedAmount Decimal
	// CumulativeBorrowRateSnapshot is the reserve's compounding index at the
	// entry's last accrual; the ratio against the reserve's current index
	// catches the entry up without iterating other borrowers.
	CumulativeBorrowRateSnapshot Decimal
	MarketValue                  Decimal
}

// Obligation aggregates one account's collateral deposits and debt borrows
// across reserves. The four derived values are recomputed wholesale on every
// refresh from the component entries.
type Obligation struct {
	Deposits []ObligationCollateral
	Borrows  []ObligationLiquidity

	DepositedValue       Decimal
	BorrowedValue        Decimal
	AllowedBorrowValue   Decimal
	UnhealthyBorrowValue Decimal

	LastUpdate LastUpdate
}

// NewObligation returns an empty obligation anchored at the given slot.
func NewObligation(currentSlot uint64) *Obligation {
	return &Obligation{LastUpdate: LastUpdate{Slot: currentSlot, Status: Stale}}
}

// Clone returns a deep copy, including the entry slices.
func (o *Obligation) Clone() *Obligation {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Deposits = append([]ObligationCollateral(nil), o.Deposits...)
	clone.Borrows = append([]ObligationLiquidity(nil), o.Borrows...)
	return &clone
}

// ReserveIDs lists every reserve the obligation references, deposits first,
// in entry order without deduplication across the two sides.
func (o *Obligation) ReserveIDs() []string {
	ids := make([]string, 0, len(o.Deposits)+len(o.Borrows))
	for _, deposit := range o.Deposits {
		ids = append(ids, deposit.ReserveID)
	}
	for _, borrow := range o.Borrows {
		ids = append(ids, borrow.ReserveID)
	}
	return ids
}

// accrueEntryInterest catches a borrow entry up to the reserve's current
// cumulative rate. The reserve index never regresses; seeing it go backwards
// means the caller handed in mismatched records.
func (l *ObligationLiquidity) accrueEntryInterest(cumulativeBorrowRate Decimal) error {
	switch cumulativeBorrowRate.Cmp(l.CumulativeBorrowRateSnapshot) {
	case -1:
		return ErrNegativeInterest
	case 0:
		return nil
	}
	compounded, err := cumulativeBorrowRate.Div(l.CumulativeBorrowRateSnapshot)
	if err != nil {
		return err
	}
	accrued, err := l.BorrowedAmount.Mul(compounded)
	if err != nil {
		return err
	}
	l.BorrowedAmount = accrued
	l.CumulativeBorrowRateSnapshot = cumulativeBorrowRate
	return nil
}

// RefreshObligation recomputes an obligation's market values and risk limits
// against reserves already refreshed in the current slot. A stale or missing
// reserve fails the whole refresh; the caller must refresh reserves first and
// use one consistent slot across the batch. On success the obligation is
// rewritten atomically; on failure it is untouched.
func RefreshObligation(obligation *Obligation, reserves map[string]*Reserve, currentSlot uint64) error {
	if obligation == nil {
		return ErrUnknownObligation
	}
	if len(obligation.Deposits)+len(obligation.Borrows) > MaxObligationReserves {
		return ErrObligationEntries
	}

	scratch := obligation.Clone()
	depositedValue := DecimalZero()
	borrowedValue := DecimalZero()
	allowedBorrowValue := DecimalZero()
	unhealthyBorrowValue := DecimalZero()

	for i := range scratch.Deposits {
		deposit := &scratch.Deposits[i]
		reserve, err := lookupFreshReserve(reserves, deposit.ReserveID, currentSlot)
		if err != nil {
			return err
		}
		marketValue, err := collateralMarketValue(reserve, deposit.DepositedAmount)
		if err != nil {
			return err
		}
		deposit.MarketValue = marketValue

		if depositedValue, err = depositedValue.Add(marketValue); err != nil {
			return err
		}
		ltvShare, err := marketValue.MulRate(RateFromBps(reserve.Config.LoanToValueBps))
		if err != nil {
			return err
		}
		if allowedBorrowValue, err = allowedBorrowValue.Add(ltvShare); err != nil {
			return err
		}
		thresholdShare, err := marketValue.MulRate(RateFromBps(reserve.Config.LiquidationThresholdBps))
		if err != nil {
			return err
		}
		if unhealthyBorrowValue, err = unhealthyBorrowValue.Add(thresholdShare); err != nil {
			return err
		}
	}

	for i := range scratch.Borrows {
		borrow := &scratch.Borrows[i]
		reserve, err := lookupFreshReserve(reserves, borrow.ReserveID, currentSlot)
		if err != nil {
			return err
		}
		if err := borrow.accrueEntryInterest(reserve.Liquidity.CumulativeBorrowRate); err != nil {
			return err
		}
		marketValue, err := liquidityMarketValue(reserve, borrow.BorrowedAmount)
		if err != nil {
			return err
		}
		borrow.MarketValue = marketValue
		if borrowedValue, err = borrowedValue.Add(marketValue); err != nil {
			return err
		}
	}

	scratch.DepositedValue = depositedValue
	scratch.BorrowedValue = borrowedValue
	scratch.AllowedBorrowValue = allowedBorrowValue
	scratch.UnhealthyBorrowValue = unhealthyBorrowValue
	scratch.LastUpdate.Update(currentSlot)

	*obligation = *scratch
	return nil
}

func lookupFreshReserve(reserves map[string]*Reserve, id string, currentSlot uint64) (*Reserve, error) {
	reserve, ok := reserves[id]
	if !ok || reserve == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingObligationEntry, id)
	}
	if reserve.LastUpdate.IsStale(currentSlot) {
		return nil, fmt.Errorf("%w: %s", ErrReserveStale, id)
	}
	return reserve, nil
}

// collateralMarketValue prices a receipt-token deposit: convert to underlying
// through the exchange rate, multiply by the market price, then scale down by
// the asset's native decimals to reach the common value unit.
func collateralMarketValue(reserve *Reserve, depositedAmount Decimal) (Decimal, error) {
	exchangeRate, err := reserve.CollateralExchangeRate()
	if err != nil {
		return Decimal{}, err
	}
	priced, err := depositedAmount.Mul(reserve.Liquidity.MarketPrice)
	if err != nil {
		return Decimal{}, err
	}
	underlying, err := priced.DivRate(exchangeRate)
	if err != nil {
		return Decimal{}, err
	}
	return scaleByMintDecimals(underlying, reserve.Liquidity.MintDecimals)
}

func liquidityMarketValue(reserve *Reserve, borrowedAmount Decimal) (Decimal, error) {
	priced, err := borrowedAmount.Mul(reserve.Liquidity.MarketPrice)
	if err != nil {
		return Decimal{}, err
	}
	return scaleByMintDecimals(priced, reserve.Liquidity.MintDecimals)
}

func scaleByMintDecimals(value Decimal, mintDecimals uint32) (Decimal, error) {
	if mintDecimals > 19 {
		return Decimal{}, ErrMathOverflow
	}
	divisor := uint64(1)
	for i := uint32(0); i < mintDecimals; i++ {
		divisor *= 10
	}
	return value.DivUint(divisor)
}
