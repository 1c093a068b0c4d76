package lending

import (
	"errors"
	"testing"
)

func oracleConfig() OracleConfig {
	return OracleConfig{MaxAgeSlots: 240, MaxDeviationBps: 100, MaxConfidenceBps: 200}
}

func TestResolvePriceAcceptsFreshFeed(t *testing.T) {
	price, err := ResolvePrice(PriceData{Mantissa: 2_000, Exponent: -2, PublishSlot: 1_000}, nil, 1_000, oracleConfig())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !price.Eq(mustUint(t, 20)) {
		t.Fatalf("2000e-2: got %s", price)
	}
}

func TestResolvePriceStaleness(t *testing.T) {
	cfg := oracleConfig()

	if _, err := ResolvePrice(PriceData{Mantissa: 1, PublishSlot: 759}, nil, 1_000, cfg); !errors.Is(err, ErrOracleStale) {
		t.Fatalf("expected stale feed, got %v", err)
	}
	// Exactly at the bound is still acceptable.
	if _, err := ResolvePrice(PriceData{Mantissa: 1, PublishSlot: 760}, nil, 1_000, cfg); err != nil {
		t.Fatalf("feed at staleness bound: %v", err)
	}
	// Early in the ledger no reading can be older than the bound.
	if _, err := ResolvePrice(PriceData{Mantissa: 1, PublishSlot: 0}, nil, 100, cfg); err != nil {
		t.Fatalf("early ledger feed: %v", err)
	}
}

func TestResolvePriceRejectsNonPositive(t *testing.T) {
	cfg := oracleConfig()
	for _, mantissa := range []int64{0, -5} {
		if _, err := ResolvePrice(PriceData{Mantissa: mantissa, PublishSlot: 1_000}, nil, 1_000, cfg); !errors.Is(err, ErrOracleNonPositive) {
			t.Fatalf("mantissa %d: expected non-positive rejection, got %v", mantissa, err)
		}
	}
	// A positive mantissa whose scaled value truncates to zero is equally
	// unusable.
	if _, err := ResolvePrice(PriceData{Mantissa: 1, Exponent: -19, PublishSlot: 1_000}, nil, 1_000, cfg); !errors.Is(err, ErrOracleNonPositive) {
		t.Fatalf("expected underflowed price rejection, got %v", err)
	}
}

func TestResolvePriceConfidenceBand(t *testing.T) {
	cfg := oracleConfig()
	wide := PriceData{Mantissa: 100, Confidence: 3, PublishSlot: 1_000}
	if _, err := ResolvePrice(wide, nil, 1_000, cfg); !errors.Is(err, ErrOracleConfidence) {
		t.Fatalf("expected confidence rejection, got %v", err)
	}
	tight := PriceData{Mantissa: 100, Confidence: 2, PublishSlot: 1_000}
	if _, err := ResolvePrice(tight, nil, 1_000, cfg); err != nil {
		t.Fatalf("confidence at the bound: %v", err)
	}

	cfg.MaxConfidenceBps = 0
	if _, err := ResolvePrice(wide, nil, 1_000, cfg); err != nil {
		t.Fatalf("disabled confidence check: %v", err)
	}
}

func TestResolvePriceDeviation(t *testing.T) {
	cfg := oracleConfig()
	primary := PriceData{Mantissa: 100, PublishSlot: 1_000}

	diverged := PriceData{Mantissa: 102, PublishSlot: 1_000}
	if _, err := ResolvePrice(primary, &diverged, 1_000, cfg); !errors.Is(err, ErrOracleDivergence) {
		t.Fatalf("expected divergence rejection, got %v", err)
	}

	within := PriceData{Mantissa: 101, PublishSlot: 1_000}
	if _, err := ResolvePrice(primary, &within, 1_000, cfg); err != nil {
		t.Fatalf("deviation at the bound: %v", err)
	}

	// Deviation is symmetric: a secondary below the primary is measured the
	// same way.
	below := PriceData{Mantissa: 99, PublishSlot: 1_000}
	if _, err := ResolvePrice(primary, &below, 1_000, cfg); err != nil {
		t.Fatalf("secondary below primary: %v", err)
	}

	stale := PriceData{Mantissa: 100, PublishSlot: 0}
	if _, err := ResolvePrice(primary, &stale, 1_000, cfg); !errors.Is(err, ErrOracleStale) {
		t.Fatalf("expected stale secondary rejection, got %v", err)
	}

	cfg.MaxDeviationBps = 0
	wild := PriceData{Mantissa: 900, PublishSlot: 1_000}
	if _, err := ResolvePrice(primary, &wild, 1_000, cfg); err != nil {
		t.Fatalf("disabled deviation check: %v", err)
	}
}
