package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"slotlend/native/lending"
	"slotlend/storage"
)

var (
	reserveRecordPrefix    = []byte("lending/reserve/")
	obligationRecordPrefix = []byte("lending/obligation/")
	reserveIndexKey        = []byte("lending/reserves")
)

// Manager persists lending market records into a key-value backend and
// satisfies the engine's state interface. Records cross the boundary as RLP
// mirror structs carrying raw scaled integers; the fixed-point types are
// reconstructed, and re-checked, on the way out.
type Manager struct {
	db storage.Database
}

// NewManager wraps a storage backend.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func reserveKey(id string) []byte {
	return append(append([]byte(nil), reserveRecordPrefix...), id...)
}

func obligationKey(id string) []byte {
	return append(append([]byte(nil), obligationRecordPrefix...), id...)
}

type storedLastUpdate struct {
	Slot   uint64
	Status uint8
}

func (s storedLastUpdate) toLastUpdate() (lending.LastUpdate, error) {
	if s.Status > uint8(lending.Fresh) {
		return lending.LastUpdate{}, fmt.Errorf("lending state: invalid freshness %d", s.Status)
	}
	return lending.LastUpdate{Slot: s.Slot, Status: lending.Freshness(s.Status)}, nil
}

type storedOracleConfig struct {
	MaxAgeSlots      uint64
	MaxDeviationBps  uint64
	MaxConfidenceBps uint64
}

type storedReserveConfig struct {
	LoanToValueBps          uint64
	LiquidationThresholdBps uint64
	LiquidationBonusBps     uint64
	OptimalUtilizationPct   uint64
	MinBorrowRatePct        uint64
	OptimalBorrowRatePct    uint64
	MaxBorrowRatePct        uint64
	ProtocolTakeRatePct     uint64
	Oracle                  storedOracleConfig
}

type storedReserve struct {
	AvailableAmount         *big.Int
	BorrowedAmount          *big.Int
	CumulativeBorrowRate    *big.Int
	MarketPrice             *big.Int
	AccumulatedProtocolFees *big.Int
	MintDecimals            uint32
	CollateralSupply        *big.Int
	Config                  storedReserveConfig
	LastUpdate              storedLastUpdate
}

func wadOrZero(d lending.Decimal) *big.Int { return d.Wad() }

func newStoredReserve(r *lending.Reserve) *storedReserve {
	cfg := r.Config
	return &storedReserve{
		AvailableAmount:         wadOrZero(r.Liquidity.AvailableAmount),
		BorrowedAmount:          wadOrZero(r.Liquidity.BorrowedAmount),
		CumulativeBorrowRate:    wadOrZero(r.Liquidity.CumulativeBorrowRate),
		MarketPrice:             wadOrZero(r.Liquidity.MarketPrice),
		AccumulatedProtocolFees: wadOrZero(r.Liquidity.AccumulatedProtocolFees),
		MintDecimals:            r.Liquidity.MintDecimals,
		CollateralSupply:        wadOrZero(r.Collateral.TotalSupply),
		Config: storedReserveConfig{
			LoanToValueBps:          cfg.LoanToValueBps,
			LiquidationThresholdBps: cfg.LiquidationThresholdBps,
			LiquidationBonusBps:     cfg.LiquidationBonusBps,
			OptimalUtilizationPct:   cfg.OptimalUtilizationPct,
			MinBorrowRatePct:        cfg.MinBorrowRatePct,
			OptimalBorrowRatePct:    cfg.OptimalBorrowRatePct,
			MaxBorrowRatePct:        cfg.MaxBorrowRatePct,
			ProtocolTakeRatePct:     cfg.ProtocolTakeRatePct,
			Oracle: storedOracleConfig{
				MaxAgeSlots:      cfg.Oracle.MaxAgeSlots,
				MaxDeviationBps:  cfg.Oracle.MaxDeviationBps,
				MaxConfidenceBps: cfg.Oracle.MaxConfidenceBps,
			},
		},
		LastUpdate: storedLastUpdate{Slot: r.LastUpdate.Slot, Status: uint8(r.LastUpdate.Status)},
	}
}

func (s *storedReserve) toReserve() (*lending.Reserve, error) {
	if s == nil {
		return nil, fmt.Errorf("lending state: nil reserve record")
	}
	available, err := lending.DecimalFromWad(s.AvailableAmount)
	if err != nil {
		return nil, fmt.Errorf("lending state: available amount: %w", err)
	}
	borrowed, err := lending.DecimalFromWad(s.BorrowedAmount)
	if err != nil {
		return nil, fmt.Errorf("lending state: borrowed amount: %w", err)
	}
	cumulative, err := lending.DecimalFromWad(s.CumulativeBorrowRate)
	if err != nil {
		return nil, fmt.Errorf("lending state: cumulative rate: %w", err)
	}
	price, err := lending.DecimalFromWad(s.MarketPrice)
	if err != nil {
		return nil, fmt.Errorf("lending state: market price: %w", err)
	}
	fees, err := lending.DecimalFromWad(s.AccumulatedProtocolFees)
	if err != nil {
		return nil, fmt.Errorf("lending state: protocol fees: %w", err)
	}
	supply, err := lending.DecimalFromWad(s.CollateralSupply)
	if err != nil {
		return nil, fmt.Errorf("lending state: collateral supply: %w", err)
	}
	lastUpdate, err := s.LastUpdate.toLastUpdate()
	if err != nil {
		return nil, err
	}
	return &lending.Reserve{
		Liquidity: lending.ReserveLiquidity{
			AvailableAmount:         available,
			BorrowedAmount:          borrowed,
			CumulativeBorrowRate:    cumulative,
			MarketPrice:             price,
			AccumulatedProtocolFees: fees,
			MintDecimals:            s.MintDecimals,
		},
		Collateral: lending.ReserveCollateral{TotalSupply: supply},
		Config: lending.ReserveConfig{
			LoanToValueBps:          s.Config.LoanToValueBps,
			LiquidationThresholdBps: s.Config.LiquidationThresholdBps,
			LiquidationBonusBps:     s.Config.LiquidationBonusBps,
			OptimalUtilizationPct:   s.Config.OptimalUtilizationPct,
			MinBorrowRatePct:        s.Config.MinBorrowRatePct,
			OptimalBorrowRatePct:    s.Config.OptimalBorrowRatePct,
			MaxBorrowRatePct:        s.Config.MaxBorrowRatePct,
			ProtocolTakeRatePct:     s.Config.ProtocolTakeRatePct,
			Oracle: lending.OracleConfig{
				MaxAgeSlots:      s.Config.Oracle.MaxAgeSlots,
				MaxDeviationBps:  s.Config.Oracle.MaxDeviationBps,
				MaxConfidenceBps: s.Config.Oracle.MaxConfidenceBps,
			},
		},
		LastUpdate: lastUpdate,
	}, nil
}

type storedObligationCollateral struct {
	ReserveID       string
	DepositedAmount *big.Int
	MarketValue     *big.Int
}

type storedObligationLiquidity struct {
	ReserveID                    string
	BorrowedAmount               *big.Int
	CumulativeBorrowRateSnapshot *big.Int
	MarketValue                  *big.Int
}

type storedObligation struct {
	Deposits             []storedObligationCollateral
	Borrows              []storedObligationLiquidity
	DepositedValue       *big.Int
	BorrowedValue        *big.Int
	AllowedBorrowValue   *big.Int
	UnhealthyBorrowValue *big.Int
	LastUpdate           storedLastUpdate
}

func newStoredObligation(o *lending.Obligation) *storedObligation {
	stored := &storedObligation{
		Deposits:             make([]storedObligationCollateral, 0, len(o.Deposits)),
		Borrows:              make([]storedObligationLiquidity, 0, len(o.Borrows)),
		DepositedValue:       wadOrZero(o.DepositedValue),
		BorrowedValue:        wadOrZero(o.BorrowedValue),
		AllowedBorrowValue:   wadOrZero(o.AllowedBorrowValue),
		UnhealthyBorrowValue: wadOrZero(o.UnhealthyBorrowValue),
		LastUpdate:           storedLastUpdate{Slot: o.LastUpdate.Slot, Status: uint8(o.LastUpdate.Status)},
	}
	for _, deposit := range o.Deposits {
		stored.Deposits = append(stored.Deposits, storedObligationCollateral{
			ReserveID:       deposit.ReserveID,
			DepositedAmount: wadOrZero(deposit.DepositedAmount),
			MarketValue:     wadOrZero(deposit.MarketValue),
		})
	}
	for _, borrow := range o.Borrows {
		stored.Borrows = append(stored.Borrows, storedObligationLiquidity{
			ReserveID:                    borrow.ReserveID,
			BorrowedAmount:               wadOrZero(borrow.BorrowedAmount),
			CumulativeBorrowRateSnapshot: wadOrZero(borrow.CumulativeBorrowRateSnapshot),
			MarketValue:                  wadOrZero(borrow.MarketValue),
		})
	}
	return stored
}

func (s *storedObligation) toObligation() (*lending.Obligation, error) {
	if s == nil {
		return nil, fmt.Errorf("lending state: nil obligation record")
	}
	depositedValue, err := lending.DecimalFromWad(s.DepositedValue)
	if err != nil {
		return nil, fmt.Errorf("lending state: deposited value: %w", err)
	}
	borrowedValue, err := lending.DecimalFromWad(s.BorrowedValue)
	if err != nil {
		return nil, fmt.Errorf("lending state: borrowed value: %w", err)
	}
	allowed, err := lending.DecimalFromWad(s.AllowedBorrowValue)
	if err != nil {
		return nil, fmt.Errorf("lending state: allowed borrow value: %w", err)
	}
	unhealthy, err := lending.DecimalFromWad(s.UnhealthyBorrowValue)
	if err != nil {
		return nil, fmt.Errorf("lending state: unhealthy borrow value: %w", err)
	}
	lastUpdate, err := s.LastUpdate.toLastUpdate()
	if err != nil {
		return nil, err
	}
	out := &lending.Obligation{
		Deposits:             make([]lending.ObligationCollateral, 0, len(s.Deposits)),
		Borrows:              make([]lending.ObligationLiquidity, 0, len(s.Borrows)),
		DepositedValue:       depositedValue,
		BorrowedValue:        borrowedValue,
		AllowedBorrowValue:   allowed,
		UnhealthyBorrowValue: unhealthy,
		LastUpdate:           lastUpdate,
	}
	for _, deposit := range s.Deposits {
		amount, err := lending.DecimalFromWad(deposit.DepositedAmount)
		if err != nil {
			return nil, fmt.Errorf("lending state: deposit %s: %w", deposit.ReserveID, err)
		}
		value, err := lending.DecimalFromWad(deposit.MarketValue)
		if err != nil {
			return nil, fmt.Errorf("lending state: deposit %s: %w", deposit.ReserveID, err)
		}
		out.Deposits = append(out.Deposits, lending.ObligationCollateral{
			ReserveID:       deposit.ReserveID,
			DepositedAmount: amount,
			MarketValue:     value,
		})
	}
	for _, borrow := range s.Borrows {
		amount, err := lending.DecimalFromWad(borrow.BorrowedAmount)
		if err != nil {
			return nil, fmt.Errorf("lending state: borrow %s: %w", borrow.ReserveID, err)
		}
		snapshot, err := lending.DecimalFromWad(borrow.CumulativeBorrowRateSnapshot)
		if err != nil {
			return nil, fmt.Errorf("lending state: borrow %s: %w", borrow.ReserveID, err)
		}
		value, err := lending.DecimalFromWad(borrow.MarketValue)
		if err != nil {
			return nil, fmt.Errorf("lending state: borrow %s: %w", borrow.ReserveID, err)
		}
		out.Borrows = append(out.Borrows, lending.ObligationLiquidity{
			ReserveID:                    borrow.ReserveID,
			BorrowedAmount:               amount,
			CumulativeBorrowRateSnapshot: snapshot,
			MarketValue:                  value,
		})
	}
	return out, nil
}

// GetReserve loads a reserve record. Missing records return (nil, nil) so the
// engine can surface its own unknown-reserve failure.
func (m *Manager) GetReserve(id string) (*lending.Reserve, error) {
	data, err := m.db.Get(reserveKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedReserve)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("lending state: decode reserve %s: %w", id, err)
	}
	return stored.toReserve()
}

// PutReserve persists a reserve record and keeps the market index current.
func (m *Manager) PutReserve(id string, reserve *lending.Reserve) error {
	if reserve == nil {
		return fmt.Errorf("lending state: nil reserve")
	}
	if id == "" {
		return fmt.Errorf("lending state: empty reserve id")
	}
	encoded, err := rlp.EncodeToBytes(newStoredReserve(reserve))
	if err != nil {
		return err
	}
	if err := m.db.Put(reserveKey(id), encoded); err != nil {
		return err
	}
	return m.indexReserve(id)
}

// GetObligation loads an obligation record, (nil, nil) when missing.
func (m *Manager) GetObligation(id string) (*lending.Obligation, error) {
	data, err := m.db.Get(obligationKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedObligation)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("lending state: decode obligation %s: %w", id, err)
	}
	return stored.toObligation()
}

// PutObligation persists an obligation record.
func (m *Manager) PutObligation(id string, obligation *lending.Obligation) error {
	if obligation == nil {
		return fmt.Errorf("lending state: nil obligation")
	}
	if id == "" {
		return fmt.Errorf("lending state: empty obligation id")
	}
	encoded, err := rlp.EncodeToBytes(newStoredObligation(obligation))
	if err != nil {
		return err
	}
	return m.db.Put(obligationKey(id), encoded)
}

// ReserveIDs lists every persisted reserve in lexical order. The backend has
// no range scans, so the manager maintains an explicit index record.
func (m *Manager) ReserveIDs() ([]string, error) {
	data, err := m.db.Get(reserveIndexKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := rlp.DecodeBytes(data, &ids); err != nil {
		return nil, fmt.Errorf("lending state: decode reserve index: %w", err)
	}
	return ids, nil
}

func (m *Manager) indexReserve(id string) error {
	ids, err := m.ReserveIDs()
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	sort.Strings(ids)
	encoded, err := rlp.EncodeToBytes(ids)
	if err != nil {
		return err
	}
	return m.db.Put(reserveIndexKey, encoded)
}
