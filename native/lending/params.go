package lending

// DefaultSlotsPerYear is the number of ledger slots in a year on the target
// chain. Annualized rates are divided by this constant to obtain the per-slot
// rate used for compounding. Deployments on ledgers with a different slot
// cadence override it through Params.
const DefaultSlotsPerYear uint64 = 78_840_000

// DefaultMaxSlotAdvance bounds how many slots a single refresh may compound
// over. Accrual cost is linear in the elapsed slot count, so the cap keeps one
// call's work bounded; a gap beyond it (about two days at the reference
// cadence) indicates a wrong clock rather than a dormant pool.
const DefaultMaxSlotAdvance uint64 = 432_000

// MaxObligationReserves bounds the combined number of collateral deposits and
// liquidity borrows a single obligation may reference.
const MaxObligationReserves = 10

// Params carries the protocol-wide constants threaded into every refresh.
// They are explicit inputs rather than package state so that independent
// re-executions see identical values.
type Params struct {
	SlotsPerYear   uint64
	MaxSlotAdvance uint64
}

// DefaultParams returns the parameters for the reference deployment.
func DefaultParams() Params {
	return Params{SlotsPerYear: DefaultSlotsPerYear, MaxSlotAdvance: DefaultMaxSlotAdvance}
}

// Normalise fills zero fields with their defaults.
func (p Params) Normalise() Params {
	if p.SlotsPerYear == 0 {
		p.SlotsPerYear = DefaultSlotsPerYear
	}
	if p.MaxSlotAdvance == 0 {
		p.MaxSlotAdvance = DefaultMaxSlotAdvance
	}
	return p
}
