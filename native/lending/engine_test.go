package lending

import (
	"errors"
	"testing"
)

type mockLendingState struct {
	reserves    map[string]*Reserve
	obligations map[string]*Obligation

	reservePuts    int
	obligationPuts int
}

func newMockLendingState() *mockLendingState {
	return &mockLendingState{
		reserves:    make(map[string]*Reserve),
		obligations: make(map[string]*Obligation),
	}
}

func (m *mockLendingState) GetReserve(id string) (*Reserve, error) {
	return m.reserves[id], nil
}

func (m *mockLendingState) PutReserve(id string, reserve *Reserve) error {
	m.reservePuts++
	m.reserves[id] = reserve
	return nil
}

func (m *mockLendingState) GetObligation(id string) (*Obligation, error) {
	return m.obligations[id], nil
}

func (m *mockLendingState) PutObligation(id string, obligation *Obligation) error {
	m.obligationPuts++
	m.obligations[id] = obligation
	return nil
}

func newTestEngine(state *mockLendingState) *Engine {
	engine := NewEngine(DefaultParams())
	engine.SetState(state)
	return engine
}

func TestEngineRequiresState(t *testing.T) {
	engine := NewEngine(DefaultParams())
	if _, err := engine.RefreshReserve("usd", 1, unitFeed(1), nil); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected nil state rejection, got %v", err)
	}
	if _, err := engine.RefreshObligation("alice", 1); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected nil state rejection, got %v", err)
	}
}

func TestEngineRefreshReservePersists(t *testing.T) {
	state := newMockLendingState()
	reserve := newTestReserve(t, fixedRateConfig(), 239)
	reserve.Liquidity.BorrowedAmount = mustUint(t, 100)
	state.reserves["usd"] = reserve

	engine := newTestEngine(state)
	refreshed, err := engine.RefreshReserve("usd", 240, unitFeed(240), nil)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.LastUpdate.IsStale(240) {
		t.Fatal("returned reserve must be fresh")
	}
	if state.reservePuts != 1 {
		t.Fatalf("expected one persisted reserve, got %d", state.reservePuts)
	}
	if state.reserves["usd"] != refreshed {
		t.Fatal("persisted copy must be the returned one")
	}
	if refreshed.Liquidity.BorrowedAmount.Cmp(mustUint(t, 100)) <= 0 {
		t.Fatalf("borrowed did not accrue: %s", refreshed.Liquidity.BorrowedAmount)
	}
}

func TestEngineRefreshReserveUnknown(t *testing.T) {
	engine := newTestEngine(newMockLendingState())
	if _, err := engine.RefreshReserve("ghost", 240, unitFeed(240), nil); !errors.Is(err, ErrUnknownReserve) {
		t.Fatalf("expected unknown reserve, got %v", err)
	}
}

func TestEngineFailedRefreshDoesNotPersist(t *testing.T) {
	state := newMockLendingState()
	reserve := newTestReserve(t, fixedRateConfig(), 239)
	state.reserves["usd"] = reserve

	engine := newTestEngine(state)
	if _, err := engine.RefreshReserve("usd", 1_000, unitFeed(0), nil); !errors.Is(err, ErrOracleStale) {
		t.Fatalf("expected stale oracle, got %v", err)
	}
	if state.reservePuts != 0 {
		t.Fatalf("failed refresh must not persist, got %d puts", state.reservePuts)
	}
	if state.reserves["usd"] != reserve {
		t.Fatal("stored reserve must be the original record")
	}
}

func TestEngineRefreshObligationFlow(t *testing.T) {
	const slot = 240
	state := newMockLendingState()
	collateral := newTestReserve(t, fixedRateConfig(), 239)
	collateral.Liquidity.AvailableAmount = mustUint(t, 1_000)
	debt := newTestReserve(t, fixedRateConfig(), 239)
	debt.Liquidity.BorrowedAmount = mustUint(t, 100)
	state.reserves["col"] = collateral
	state.reserves["debt"] = debt

	obligation := NewObligation(239)
	obligation.Deposits = []ObligationCollateral{{ReserveID: "col", DepositedAmount: mustUint(t, 100)}}
	obligation.Borrows = []ObligationLiquidity{{
		ReserveID:                    "debt",
		BorrowedAmount:               mustUint(t, 100),
		CumulativeBorrowRateSnapshot: OneDecimal(),
	}}
	state.obligations["alice"] = obligation

	engine := newTestEngine(state)
	if _, err := engine.RefreshReserve("col", slot, unitFeed(slot), nil); err != nil {
		t.Fatalf("refresh collateral reserve: %v", err)
	}
	if _, err := engine.RefreshReserve("debt", slot, unitFeed(slot), nil); err != nil {
		t.Fatalf("refresh debt reserve: %v", err)
	}

	refreshed, err := engine.RefreshObligation("alice", slot)
	if err != nil {
		t.Fatalf("refresh obligation: %v", err)
	}
	if refreshed.LastUpdate.IsStale(slot) {
		t.Fatal("obligation must be fresh")
	}
	if state.obligationPuts != 1 {
		t.Fatalf("expected one persisted obligation, got %d", state.obligationPuts)
	}
	if !refreshed.DepositedValue.Eq(mustUint(t, 100)) {
		t.Fatalf("deposited value: got %s", refreshed.DepositedValue)
	}
	if !refreshed.AllowedBorrowValue.Eq(mustUint(t, 50)) {
		t.Fatalf("allowed borrow value: got %s", refreshed.AllowedBorrowValue)
	}
	// The debt entry caught up to the reserve's post-accrual index.
	if refreshed.Borrows[0].BorrowedAmount.Cmp(mustUint(t, 100)) <= 0 {
		t.Fatalf("borrow entry did not accrue: %s", refreshed.Borrows[0].BorrowedAmount)
	}
	if !refreshed.Borrows[0].CumulativeBorrowRateSnapshot.Eq(state.reserves["debt"].Liquidity.CumulativeBorrowRate) {
		t.Fatal("borrow snapshot must match the reserve index")
	}
}

func TestEngineRefreshObligationRequiresFreshReserves(t *testing.T) {
	state := newMockLendingState()
	state.reserves["col"] = newTestReserve(t, fixedRateConfig(), 239)

	obligation := NewObligation(239)
	obligation.Deposits = []ObligationCollateral{{ReserveID: "col", DepositedAmount: mustUint(t, 100)}}
	state.obligations["alice"] = obligation

	engine := newTestEngine(state)
	if _, err := engine.RefreshObligation("alice", 240); !errors.Is(err, ErrReserveStale) {
		t.Fatalf("expected stale reserve rejection, got %v", err)
	}
	if state.obligationPuts != 0 {
		t.Fatalf("failed refresh must not persist, got %d puts", state.obligationPuts)
	}
}

func TestEngineRefreshObligationUnknown(t *testing.T) {
	engine := newTestEngine(newMockLendingState())
	if _, err := engine.RefreshObligation("ghost", 240); !errors.Is(err, ErrUnknownObligation) {
		t.Fatalf("expected unknown obligation, got %v", err)
	}
}

func TestEngineRefreshObligationMissingReserve(t *testing.T) {
	state := newMockLendingState()
	obligation := NewObligation(239)
	obligation.Borrows = []ObligationLiquidity{{
		ReserveID:                    "ghost",
		BorrowedAmount:               mustUint(t, 1),
		CumulativeBorrowRateSnapshot: OneDecimal(),
	}}
	state.obligations["alice"] = obligation

	engine := newTestEngine(state)
	if _, err := engine.RefreshObligation("alice", 240); !errors.Is(err, ErrMissingObligationEntry) {
		t.Fatalf("expected missing reserve rejection, got %v", err)
	}
}

func TestEngineSlotTravelsPerCall(t *testing.T) {
	state := newMockLendingState()
	state.reserves["usd"] = newTestReserve(t, fixedRateConfig(), 239)

	engine := newTestEngine(state)
	first, err := engine.RefreshReserve("usd", 240, unitFeed(240), nil)
	if err != nil {
		t.Fatalf("refresh at 240: %v", err)
	}
	if first.LastUpdate.Slot != 240 {
		t.Fatalf("expected slot 240, got %d", first.LastUpdate.Slot)
	}

	// No cursor lingers between calls: the next refresh lands exactly on the
	// slot it was handed.
	second, err := engine.RefreshReserve("usd", 300, unitFeed(300), nil)
	if err != nil {
		t.Fatalf("refresh at 300: %v", err)
	}
	if second.LastUpdate.Slot != 300 {
		t.Fatalf("expected slot 300, got %d", second.LastUpdate.Slot)
	}
}
