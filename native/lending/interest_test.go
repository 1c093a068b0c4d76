package lending

import "testing"

func curveConfig() ReserveConfig {
	return ReserveConfig{
		LoanToValueBps:          5_000,
		LiquidationThresholdBps: 5_500,
		LiquidationBonusBps:     500,
		OptimalUtilizationPct:   80,
		MinBorrowRatePct:        2,
		OptimalBorrowRatePct:    10,
		MaxBorrowRatePct:        30,
		ProtocolTakeRatePct:     20,
		Oracle:                  OracleConfig{MaxAgeSlots: 240},
	}
}

func TestUtilization(t *testing.T) {
	util, err := Utilization(mustUint(t, 50), mustUint(t, 50))
	if err != nil {
		t.Fatalf("utilization: %v", err)
	}
	if util.Cmp(RateFromPercent(50)) != 0 {
		t.Fatalf("50/100 utilization: got %s", util)
	}

	empty, err := Utilization(DecimalZero(), DecimalZero())
	if err != nil {
		t.Fatalf("empty pool: %v", err)
	}
	if !empty.IsZero() {
		t.Fatalf("empty pool utilization: got %s", empty)
	}

	full, err := Utilization(mustUint(t, 75), DecimalZero())
	if err != nil {
		t.Fatalf("full pool: %v", err)
	}
	if full.Cmp(OneRate()) != 0 {
		t.Fatalf("fully borrowed utilization: got %s", full)
	}
}

func TestBorrowRateTwoSegmentCurve(t *testing.T) {
	cfg := curveConfig()
	cases := []struct {
		name    string
		utilPct uint64
		wantPct uint64
	}{
		{"idle pool pays the minimum", 0, 2},
		{"halfway to optimal", 40, 6},
		{"at the breakpoint", 80, 10},
		{"halfway up the steep segment", 90, 20},
		{"fully borrowed", 100, 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rate, err := BorrowRate(RateFromPercent(tc.utilPct), cfg)
			if err != nil {
				t.Fatalf("borrow rate at %d%%: %v", tc.utilPct, err)
			}
			if rate.Cmp(RateFromPercent(tc.wantPct)) != 0 {
				t.Fatalf("borrow rate at %d%%: got %s want %d%%", tc.utilPct, rate, tc.wantPct)
			}
		})
	}
}

func TestBorrowRateDegenerateBreakpoint(t *testing.T) {
	cfg := curveConfig()
	cfg.OptimalUtilizationPct = 100
	cfg.MaxBorrowRatePct = 10

	rate, err := BorrowRate(RateFromPercent(100), cfg)
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if rate.Cmp(RateFromPercent(10)) != 0 {
		t.Fatalf("single-segment curve at full utilization: got %s", rate)
	}
}

func TestBorrowRateMonotoneInUtilization(t *testing.T) {
	cfg := curveConfig()
	prev := RateZero()
	for pct := uint64(0); pct <= 100; pct += 5 {
		rate, err := BorrowRate(RateFromPercent(pct), cfg)
		if err != nil {
			t.Fatalf("borrow rate at %d%%: %v", pct, err)
		}
		if rate.Cmp(prev) < 0 {
			t.Fatalf("borrow rate regressed at %d%% utilization: %s < %s", pct, rate, prev)
		}
		prev = rate
	}
}
