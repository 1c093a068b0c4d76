package lending

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Decimal and Rate share a common fixed-point scale of 18 fractional digits
// (one "wad" = 1e18). Decimal is the wide type used for token amounts, market
// values and cumulative indexes; Rate is the narrower type used for
// percentages and per-slot interest rates. Both are immutable value types and
// every operation is checked: the result is either exact under truncation
// toward zero or an ErrMathOverflow/ErrDivideByZero failure. No other package
// performs raw integer arithmetic on monetary quantities.

const wadDigits = 18

var wad = uint256.NewInt(1_000_000_000_000_000_000)

// Rate values are capped at 128 bits to mirror the narrower register the
// original accounting format reserves for ratios. Decimal uses the full
// 256-bit width.
const rateMaxBits = 128

// Decimal is an unsigned fixed-point number with 18 fractional digits.
type Decimal struct {
	v uint256.Int
}

// Rate is an unsigned fixed-point ratio with 18 fractional digits.
type Rate struct {
	v uint256.Int
}

// DecimalZero returns the zero amount.
func DecimalZero() Decimal { return Decimal{} }

// RateZero returns the zero ratio.
func RateZero() Rate { return Rate{} }

// OneRate returns the ratio 1.0 exactly.
func OneRate() Rate {
	var r Rate
	r.v.Set(wad)
	return r
}

// OneDecimal returns the amount 1.0 exactly.
func OneDecimal() Decimal {
	var d Decimal
	d.v.Set(wad)
	return d
}

// DecimalFromUint converts a whole token amount into its fixed-point form.
func DecimalFromUint(u uint64) (Decimal, error) {
	var d Decimal
	if _, overflow := d.v.MulOverflow(uint256.NewInt(u), wad); overflow {
		return Decimal{}, ErrMathOverflow
	}
	return d, nil
}

// RateFromPercent converts a whole percentage into a ratio. The conversion is
// exact: RateFromPercent(50) == 0.5.
func RateFromPercent(pct uint64) Rate {
	var r Rate
	// pct * 1e16 stays far below the ratio register width for any
	// percentage config validation admits.
	r.v.MulDivOverflow(uint256.NewInt(pct), wad, uint256.NewInt(100))
	return r
}

// RateFromBps converts basis points into a ratio. Exact for all inputs.
func RateFromBps(bps uint64) Rate {
	var r Rate
	r.v.MulDivOverflow(uint256.NewInt(bps), wad, uint256.NewInt(10_000))
	return r
}

// DecimalFromWad reconstructs a Decimal from its raw scaled integer, as stored
// by the persistence layer. Negative or oversized values are rejected.
func DecimalFromWad(raw *big.Int) (Decimal, error) {
	if raw == nil || raw.Sign() < 0 {
		return Decimal{}, ErrMathOverflow
	}
	var d Decimal
	if overflow := d.v.SetFromBig(raw); overflow {
		return Decimal{}, ErrMathOverflow
	}
	return d, nil
}

// RateFromWad reconstructs a Rate from its raw scaled integer.
func RateFromWad(raw *big.Int) (Rate, error) {
	d, err := DecimalFromWad(raw)
	if err != nil {
		return Rate{}, err
	}
	return d.AsRate()
}

// Wad returns the raw scaled integer backing the value.
func (d Decimal) Wad() *big.Int { return d.v.ToBig() }

// Wad returns the raw scaled integer backing the ratio.
func (r Rate) Wad() *big.Int { return r.v.ToBig() }

// AsDecimal widens a Rate into a Decimal. Always exact.
func (r Rate) AsDecimal() Decimal {
	var d Decimal
	d.v.Set(&r.v)
	return d
}

// AsRate narrows a Decimal into a Rate, failing when the value exceeds the
// ratio register width.
func (d Decimal) AsRate() (Rate, error) {
	if d.v.BitLen() > rateMaxBits {
		return Rate{}, ErrMathOverflow
	}
	var r Rate
	r.v.Set(&d.v)
	return r, nil
}

// Add returns d + o.
func (d Decimal) Add(o Decimal) (Decimal, error) {
	var out Decimal
	if _, overflow := out.v.AddOverflow(&d.v, &o.v); overflow {
		return Decimal{}, ErrMathOverflow
	}
	return out, nil
}

// Sub returns d - o, failing on underflow.
func (d Decimal) Sub(o Decimal) (Decimal, error) {
	var out Decimal
	if _, underflow := out.v.SubOverflow(&d.v, &o.v); underflow {
		return Decimal{}, ErrMathOverflow
	}
	return out, nil
}

// Mul returns d × o truncated toward zero. The 512-bit intermediate product
// keeps the multiplication exact before rescaling.
func (d Decimal) Mul(o Decimal) (Decimal, error) {
	var out Decimal
	if _, overflow := out.v.MulDivOverflow(&d.v, &o.v, wad); overflow {
		return Decimal{}, ErrMathOverflow
	}
	return out, nil
}

// MulRate returns d × r truncated toward zero.
func (d Decimal) MulRate(r Rate) (Decimal, error) {
	return d.Mul(r.AsDecimal())
}

// Div returns d / o truncated toward zero.
func (d Decimal) Div(o Decimal) (Decimal, error) {
	if o.v.IsZero() {
		return Decimal{}, ErrDivideByZero
	}
	var out Decimal
	if _, overflow := out.v.MulDivOverflow(&d.v, wad, &o.v); overflow {
		return Decimal{}, ErrMathOverflow
	}
	return out, nil
}

// DivRate returns d / r truncated toward zero.
func (d Decimal) DivRate(r Rate) (Decimal, error) {
	return d.Div(r.AsDecimal())
}

// MulUint returns d × u.
func (d Decimal) MulUint(u uint64) (Decimal, error) {
	var out Decimal
	if _, overflow := out.v.MulOverflow(&d.v, uint256.NewInt(u)); overflow {
		return Decimal{}, ErrMathOverflow
	}
	return out, nil
}

// DivUint returns d / u truncated toward zero.
func (d Decimal) DivUint(u uint64) (Decimal, error) {
	if u == 0 {
		return Decimal{}, ErrDivideByZero
	}
	var out Decimal
	out.v.Div(&d.v, uint256.NewInt(u))
	return out, nil
}

// Floor truncates to a whole token amount.
func (d Decimal) Floor() (uint64, error) {
	var q uint256.Int
	q.Div(&d.v, wad)
	if q.BitLen() > 64 {
		return 0, ErrMathOverflow
	}
	return q.Uint64(), nil
}

// Ceil rounds up to a whole token amount.
func (d Decimal) Ceil() (uint64, error) {
	var sum uint256.Int
	rem := new(uint256.Int).Sub(wad, uint256.NewInt(1))
	if _, overflow := sum.AddOverflow(&d.v, rem); overflow {
		return 0, ErrMathOverflow
	}
	sum.Div(&sum, wad)
	if sum.BitLen() > 64 {
		return 0, ErrMathOverflow
	}
	return sum.Uint64(), nil
}

// Cmp compares two amounts: -1 when d < o, 0 when equal, 1 when d > o.
func (d Decimal) Cmp(o Decimal) int { return d.v.Cmp(&o.v) }

// Eq reports exact equality.
func (d Decimal) Eq(o Decimal) bool { return d.v.Eq(&o.v) }

// IsZero reports whether the amount is exactly zero.
func (d Decimal) IsZero() bool { return d.v.IsZero() }

// Add returns r + o.
func (r Rate) Add(o Rate) (Rate, error) {
	var out Rate
	if _, overflow := out.v.AddOverflow(&r.v, &o.v); overflow {
		return Rate{}, ErrMathOverflow
	}
	if out.v.BitLen() > rateMaxBits {
		return Rate{}, ErrMathOverflow
	}
	return out, nil
}

// Sub returns r - o, failing on underflow.
func (r Rate) Sub(o Rate) (Rate, error) {
	var out Rate
	if _, underflow := out.v.SubOverflow(&r.v, &o.v); underflow {
		return Rate{}, ErrMathOverflow
	}
	return out, nil
}

// Mul returns r × o truncated toward zero.
func (r Rate) Mul(o Rate) (Rate, error) {
	var out Rate
	if _, overflow := out.v.MulDivOverflow(&r.v, &o.v, wad); overflow {
		return Rate{}, ErrMathOverflow
	}
	if out.v.BitLen() > rateMaxBits {
		return Rate{}, ErrMathOverflow
	}
	return out, nil
}

// Div returns r / o truncated toward zero.
func (r Rate) Div(o Rate) (Rate, error) {
	if o.v.IsZero() {
		return Rate{}, ErrDivideByZero
	}
	var out Rate
	if _, overflow := out.v.MulDivOverflow(&r.v, wad, &o.v); overflow {
		return Rate{}, ErrMathOverflow
	}
	if out.v.BitLen() > rateMaxBits {
		return Rate{}, ErrMathOverflow
	}
	return out, nil
}

// DivUint returns r / u truncated toward zero.
func (r Rate) DivUint(u uint64) (Rate, error) {
	if u == 0 {
		return Rate{}, ErrDivideByZero
	}
	var out Rate
	out.v.Div(&r.v, uint256.NewInt(u))
	return out, nil
}

// Pow raises r to the given power by iterated multiplication. Each step is
// truncated the same way a chain of single-slot accruals would be, so the
// result matches slot-by-slot compounding exactly.
func (r Rate) Pow(exp uint64) (Rate, error) {
	out := OneRate()
	var err error
	for i := uint64(0); i < exp; i++ {
		out, err = out.Mul(r)
		if err != nil {
			return Rate{}, err
		}
	}
	return out, nil
}

// Cmp compares two ratios.
func (r Rate) Cmp(o Rate) int { return r.v.Cmp(&o.v) }

// IsZero reports whether the ratio is exactly zero.
func (r Rate) IsZero() bool { return r.v.IsZero() }

// DecimalFromScaled converts a feed reading of the form mantissa × 10^exponent
// into a Decimal. Negative mantissas are rejected; fractional digits beyond
// the fixed scale truncate toward zero.
func DecimalFromScaled(mantissa int64, exponent int32) (Decimal, error) {
	if mantissa < 0 {
		return Decimal{}, ErrMathOverflow
	}
	var base Decimal
	if _, overflow := base.v.MulOverflow(uint256.NewInt(uint64(mantissa)), wad); overflow {
		return Decimal{}, ErrMathOverflow
	}
	switch {
	case exponent > 0:
		scale, err := pow10(uint32(exponent))
		if err != nil {
			return Decimal{}, err
		}
		var out Decimal
		if _, overflow := out.v.MulOverflow(&base.v, scale); overflow {
			return Decimal{}, ErrMathOverflow
		}
		return out, nil
	case exponent < 0:
		scale, err := pow10(uint32(-exponent))
		if err != nil {
			return Decimal{}, err
		}
		var out Decimal
		out.v.Div(&base.v, scale)
		return out, nil
	default:
		return base, nil
	}
}

func pow10(n uint32) (*uint256.Int, error) {
	out := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint32(0); i < n; i++ {
		if _, overflow := out.MulOverflow(out, ten); overflow {
			return nil, ErrMathOverflow
		}
	}
	return out, nil
}

// DecimalFromString parses a non-negative decimal literal such as "12.5".
// Fractional digits beyond the fixed scale are rejected rather than silently
// rounded.
func DecimalFromString(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Decimal{}, fmt.Errorf("lending math: empty decimal literal")
	}
	intPart := s
	fracPart := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart = s[:idx]
		fracPart = s[idx+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > wadDigits {
		return Decimal{}, fmt.Errorf("lending math: too many fractional digits in %q", s)
	}
	var whole uint256.Int
	if err := whole.SetFromDecimal(intPart); err != nil {
		return Decimal{}, fmt.Errorf("lending math: invalid decimal literal %q", s)
	}
	var out Decimal
	if _, overflow := out.v.MulOverflow(&whole, wad); overflow {
		return Decimal{}, ErrMathOverflow
	}
	if fracPart != "" {
		padded := fracPart + strings.Repeat("0", wadDigits-len(fracPart))
		var frac uint256.Int
		if err := frac.SetFromDecimal(padded); err != nil {
			return Decimal{}, fmt.Errorf("lending math: invalid decimal literal %q", s)
		}
		if _, overflow := out.v.AddOverflow(&out.v, &frac); overflow {
			return Decimal{}, ErrMathOverflow
		}
	}
	return out, nil
}

// RateFromString parses a non-negative decimal literal into a Rate.
func RateFromString(s string) (Rate, error) {
	d, err := DecimalFromString(s)
	if err != nil {
		return Rate{}, err
	}
	return d.AsRate()
}

// String renders the value as a decimal literal with trailing zeros trimmed.
func (d Decimal) String() string {
	var q, r uint256.Int
	q.DivMod(&d.v, wad, &r)
	if r.IsZero() {
		return q.Dec()
	}
	frac := fmt.Sprintf("%0*s", wadDigits, r.Dec())
	frac = strings.TrimRight(frac, "0")
	return q.Dec() + "." + frac
}

// String renders the ratio as a decimal literal.
func (r Rate) String() string { return r.AsDecimal().String() }

// MarshalText implements encoding.TextMarshaler for JSON and log output.
func (d Decimal) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Decimal) UnmarshalText(text []byte) error {
	parsed, err := DecimalFromString(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (r Rate) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rate) UnmarshalText(text []byte) error {
	parsed, err := RateFromString(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
