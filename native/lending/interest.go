package lending

// Utilization computes the pool utilization ratio
// borrowed / (borrowed + available). When the pool holds nothing at all the
// utilization is defined as zero.
func Utilization(borrowed, available Decimal) (Rate, error) {
	total, err := borrowed.Add(available)
	if err != nil {
		return Rate{}, err
	}
	if total.IsZero() {
		return RateZero(), nil
	}
	ratio, err := borrowed.Div(total)
	if err != nil {
		return Rate{}, err
	}
	return ratio.AsRate()
}

// BorrowRate derives the current annualized borrow rate from utilization as a
// two-segment piecewise-linear curve. Below the optimal utilization
// breakpoint the rate interpolates between the minimum and optimal borrow
// rates; at or above it the rate interpolates between the optimal and maximum
// borrow rates, reaching the maximum at 100% utilization. Overflow during
// interpolation propagates to the caller, never clamps.
func BorrowRate(utilization Rate, cfg ReserveConfig) (Rate, error) {
	optimalUtilization := RateFromPercent(cfg.OptimalUtilizationPct)
	lowUtilization := utilization.Cmp(optimalUtilization) < 0
	if lowUtilization || cfg.OptimalUtilizationPct == 100 {
		normalized, err := utilization.Div(optimalUtilization)
		if err != nil {
			return Rate{}, err
		}
		minRate := RateFromPercent(cfg.MinBorrowRatePct)
		rateRange := RateFromPercent(cfg.OptimalBorrowRatePct - cfg.MinBorrowRatePct)
		scaled, err := normalized.Mul(rateRange)
		if err != nil {
			return Rate{}, err
		}
		return scaled.Add(minRate)
	}

	excess, err := utilization.Sub(optimalUtilization)
	if err != nil {
		return Rate{}, err
	}
	normalized, err := excess.Div(RateFromPercent(100 - cfg.OptimalUtilizationPct))
	if err != nil {
		return Rate{}, err
	}
	minRate := RateFromPercent(cfg.OptimalBorrowRatePct)
	rateRange := RateFromPercent(cfg.MaxBorrowRatePct - cfg.OptimalBorrowRatePct)
	scaled, err := normalized.Mul(rateRange)
	if err != nil {
		return Rate{}, err
	}
	return scaled.Add(minRate)
}
