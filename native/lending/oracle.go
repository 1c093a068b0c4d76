package lending

import (
	"fmt"
	"math"
)

// PriceData is one reading from an external price feed: the price is
// Mantissa × 10^Exponent, Confidence is the feed's uncertainty interval in the
// same scale, and PublishSlot is the slot the feed last updated.
type PriceData struct {
	Mantissa    int64  `json:"mantissa"`
	Exponent    int32  `json:"exponent"`
	Confidence  uint64 `json:"confidence"`
	PublishSlot uint64 `json:"publish_slot"`
}

// OracleConfig bounds how much an external feed is trusted before its price
// enters solvency math.
type OracleConfig struct {
	// MaxAgeSlots is the staleness bound: a reading older than
	// currentSlot - MaxAgeSlots is rejected outright.
	MaxAgeSlots uint64 `toml:"MaxAgeSlots" json:"max_age_slots"`
	// MaxDeviationBps is the tolerance band for primary/secondary feed
	// disagreement, in basis points of the primary price. Zero disables the
	// cross-check even when a secondary reading is supplied.
	MaxDeviationBps uint64 `toml:"MaxDeviationBps" json:"max_deviation_bps"`
	// MaxConfidenceBps caps the feed's own confidence interval relative to
	// its price. Zero disables the check.
	MaxConfidenceBps uint64 `toml:"MaxConfidenceBps" json:"max_confidence_bps"`
}

// ResolvePrice validates the primary feed reading, optionally cross-checks it
// against a secondary feed, and converts it into the canonical market price.
// Every rejection is a distinct typed failure; a reserve refresh aborts on any
// of them. With no secondary feed the primary price is accepted alone, which
// is the weaker single-feed deployment mode.
func ResolvePrice(primary PriceData, secondary *PriceData, currentSlot uint64, cfg OracleConfig) (Decimal, error) {
	price, err := validateFeed(primary, currentSlot, cfg)
	if err != nil {
		return Decimal{}, fmt.Errorf("primary feed: %w", err)
	}

	if secondary != nil && cfg.MaxDeviationBps > 0 {
		secondaryPrice, err := validateFeed(*secondary, currentSlot, cfg)
		if err != nil {
			return Decimal{}, fmt.Errorf("secondary feed: %w", err)
		}
		if err := checkDeviation(price, secondaryPrice, cfg.MaxDeviationBps); err != nil {
			return Decimal{}, err
		}
	}

	return price, nil
}

func validateFeed(data PriceData, currentSlot uint64, cfg OracleConfig) (Decimal, error) {
	if currentSlot > cfg.MaxAgeSlots && data.PublishSlot < currentSlot-cfg.MaxAgeSlots {
		return Decimal{}, ErrOracleStale
	}
	if data.Mantissa <= 0 {
		return Decimal{}, ErrOracleNonPositive
	}
	price, err := DecimalFromScaled(data.Mantissa, data.Exponent)
	if err != nil {
		return Decimal{}, err
	}
	if price.IsZero() {
		return Decimal{}, ErrOracleNonPositive
	}
	if cfg.MaxConfidenceBps > 0 && data.Confidence > 0 {
		if data.Confidence > math.MaxInt64 {
			return Decimal{}, ErrOracleConfidence
		}
		confidence, err := DecimalFromScaled(int64(data.Confidence), data.Exponent)
		if err != nil {
			return Decimal{}, err
		}
		// confidence × 10000 > price × MaxConfidenceBps means the feed is
		// less certain than the config tolerates.
		lhs, err := confidence.MulUint(10_000)
		if err != nil {
			return Decimal{}, err
		}
		rhs, err := price.MulUint(cfg.MaxConfidenceBps)
		if err != nil {
			return Decimal{}, err
		}
		if lhs.Cmp(rhs) > 0 {
			return Decimal{}, ErrOracleConfidence
		}
	}
	return price, nil
}

func checkDeviation(primary, secondary Decimal, maxDeviationBps uint64) error {
	diff, err := primary.Sub(secondary)
	if err != nil {
		// Underflow means secondary > primary; take the difference the
		// other way around.
		diff, err = secondary.Sub(primary)
		if err != nil {
			return err
		}
	}
	lhs, err := diff.MulUint(10_000)
	if err != nil {
		return err
	}
	rhs, err := primary.MulUint(maxDeviationBps)
	if err != nil {
		return err
	}
	if lhs.Cmp(rhs) > 0 {
		return ErrOracleDivergence
	}
	return nil
}
