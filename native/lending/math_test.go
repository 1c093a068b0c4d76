package lending

import (
	"errors"
	"math/big"
	"testing"
)

func mustDecimal(t *testing.T, s string) Decimal {
	t.Helper()
	d, err := DecimalFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func mustUint(t *testing.T, u uint64) Decimal {
	t.Helper()
	d, err := DecimalFromUint(u)
	if err != nil {
		t.Fatalf("decimal from uint %d: %v", u, err)
	}
	return d
}

func TestDecimalArithmetic(t *testing.T) {
	six, err := mustUint(t, 2).Mul(mustUint(t, 3))
	if err != nil {
		t.Fatalf("mul: %v", err)
	}
	if !six.Eq(mustUint(t, 6)) {
		t.Fatalf("2*3: got %s", six)
	}

	sum, err := mustDecimal(t, "1.5").Add(mustDecimal(t, "2.25"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if sum.String() != "3.75" {
		t.Fatalf("1.5+2.25: got %s", sum)
	}

	diff, err := sum.Sub(mustDecimal(t, "0.75"))
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if !diff.Eq(mustUint(t, 3)) {
		t.Fatalf("3.75-0.75: got %s", diff)
	}
}

func TestDecimalDivTruncatesTowardZero(t *testing.T) {
	third, err := mustUint(t, 1).Div(mustUint(t, 3))
	if err != nil {
		t.Fatalf("div: %v", err)
	}
	want := big.NewInt(333_333_333_333_333_333)
	if third.Wad().Cmp(want) != 0 {
		t.Fatalf("1/3 wad: got %s want %s", third.Wad(), want)
	}
}

func TestDecimalDivByZero(t *testing.T) {
	if _, err := mustUint(t, 1).Div(DecimalZero()); !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("expected divide-by-zero, got %v", err)
	}
	if _, err := mustUint(t, 1).DivUint(0); !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("expected divide-by-zero, got %v", err)
	}
}

func TestDecimalOverflowNeverWraps(t *testing.T) {
	limit := new(big.Int).Lsh(big.NewInt(1), 256)
	limit.Sub(limit, big.NewInt(1))
	max, err := DecimalFromWad(limit)
	if err != nil {
		t.Fatalf("from wad: %v", err)
	}
	if _, err := max.Add(OneDecimal()); !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("expected overflow on add, got %v", err)
	}
	if _, err := max.Mul(mustUint(t, 2)); !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("expected overflow on mul, got %v", err)
	}
	if _, err := DecimalZero().Sub(OneDecimal()); !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("expected underflow on sub, got %v", err)
	}
}

func TestRateConstructorsExact(t *testing.T) {
	if got := RateFromPercent(100); got.Cmp(OneRate()) != 0 {
		t.Fatalf("100%%: got %s", got)
	}
	if got := RateFromPercent(50).String(); got != "0.5" {
		t.Fatalf("50%%: got %s", got)
	}
	if got := RateFromBps(5_000).String(); got != "0.5" {
		t.Fatalf("5000 bps: got %s", got)
	}
	if got := RateFromBps(1).Wad(); got.Cmp(big.NewInt(100_000_000_000_000)) != 0 {
		t.Fatalf("1 bps wad: got %s", got)
	}
}

func TestRatePowMatchesRepeatedMul(t *testing.T) {
	base, err := RateFromString("1.5")
	if err != nil {
		t.Fatalf("parse rate: %v", err)
	}
	cubed, err := base.Pow(3)
	if err != nil {
		t.Fatalf("pow: %v", err)
	}
	if cubed.String() != "3.375" {
		t.Fatalf("1.5^3: got %s", cubed)
	}
	identity, err := base.Pow(0)
	if err != nil {
		t.Fatalf("pow zero: %v", err)
	}
	if identity.Cmp(OneRate()) != 0 {
		t.Fatalf("x^0: got %s", identity)
	}
}

func TestRateNarrowing(t *testing.T) {
	wide, err := DecimalFromWad(new(big.Int).Lsh(big.NewInt(1), 200))
	if err != nil {
		t.Fatalf("from wad: %v", err)
	}
	if _, err := wide.AsRate(); !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("expected overflow narrowing to rate, got %v", err)
	}
	narrow := RateFromPercent(7)
	if !narrow.AsDecimal().Eq(mustDecimal(t, "0.07")) {
		t.Fatalf("rate widening: got %s", narrow.AsDecimal())
	}
}

func TestDecimalFromScaled(t *testing.T) {
	price, err := DecimalFromScaled(12_345, -2)
	if err != nil {
		t.Fatalf("scaled: %v", err)
	}
	if price.String() != "123.45" {
		t.Fatalf("12345e-2: got %s", price)
	}

	big5, err := DecimalFromScaled(7, 3)
	if err != nil {
		t.Fatalf("scaled: %v", err)
	}
	if !big5.Eq(mustUint(t, 7_000)) {
		t.Fatalf("7e3: got %s", big5)
	}

	if _, err := DecimalFromScaled(-1, 0); !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("expected rejection of negative mantissa, got %v", err)
	}
}

func TestDecimalFloorCeil(t *testing.T) {
	v := mustDecimal(t, "2.1")
	floor, err := v.Floor()
	if err != nil || floor != 2 {
		t.Fatalf("floor(2.1): got %d err %v", floor, err)
	}
	ceil, err := v.Ceil()
	if err != nil || ceil != 3 {
		t.Fatalf("ceil(2.1): got %d err %v", ceil, err)
	}
	exact := mustUint(t, 5)
	ceilExact, err := exact.Ceil()
	if err != nil || ceilExact != 5 {
		t.Fatalf("ceil(5): got %d err %v", ceilExact, err)
	}
}

func TestDecimalTextRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1", "0.000000000000000001", "123.45", "99999999999999999.999999999999999999"} {
		d := mustDecimal(t, s)
		text, err := d.MarshalText()
		if err != nil {
			t.Fatalf("marshal %q: %v", s, err)
		}
		var back Decimal
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("unmarshal %q: %v", text, err)
		}
		if !back.Eq(d) {
			t.Fatalf("round trip %q: got %s", s, back)
		}
	}
}

func TestDecimalStringRejectsExcessPrecision(t *testing.T) {
	if _, err := DecimalFromString("1.0000000000000000001"); err == nil {
		t.Fatal("expected rejection of 19 fractional digits")
	}
}
