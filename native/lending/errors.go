package lending

import "errors"

// Arithmetic failures. Every fixed-point operation either returns the exact
// truncated result or one of these; nothing wraps silently.
var (
	ErrMathOverflow = errors.New("lending math: overflow")
	ErrDivideByZero = errors.New("lending math: divide by zero")
)

// Oracle validation failures. Surfaced distinctly so callers can decide
// whether a retry with fresher feed data is worthwhile.
var (
	ErrOracleStale       = errors.New("lending oracle: feed update too old")
	ErrOracleNonPositive = errors.New("lending oracle: price must be positive")
	ErrOracleConfidence  = errors.New("lending oracle: confidence interval too wide")
	ErrOracleDivergence  = errors.New("lending oracle: primary and secondary feeds disagree")
)

// Precondition and state failures.
var (
	ErrNilState               = errors.New("lending engine: state not configured")
	ErrUnknownReserve         = errors.New("lending engine: reserve not found")
	ErrUnknownObligation      = errors.New("lending engine: obligation not found")
	ErrReserveStale           = errors.New("lending engine: reserve must be refreshed in the current slot")
	ErrObligationEntries      = errors.New("lending engine: obligation entry count exceeds limit")
	ErrNegativeInterest       = errors.New("lending engine: cumulative borrow rate regressed")
	ErrSlotRegression         = errors.New("lending engine: current slot behind last update")
	ErrSlotAdvance            = errors.New("lending engine: slot advance exceeds limit")
	ErrInvalidReserveConfig   = errors.New("lending engine: invalid reserve config")
	ErrMissingObligationEntry = errors.New("lending engine: obligation references unknown reserve")
)
