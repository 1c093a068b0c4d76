package lending

import "fmt"

type engineState interface {
	GetReserve(id string) (*Reserve, error)
	PutReserve(id string, reserve *Reserve) error
	GetObligation(id string) (*Obligation, error)
	PutObligation(id string, obligation *Obligation) error
}

// Engine orchestrates refreshes against an external persistence layer. Each
// call loads the records it needs, runs the pure core on clones, and persists
// only on success, so storage never observes a partially mutated record.
// Ownership of the records is exclusive for the duration of one call; the
// engine holds no mutable state of its own beyond configuration, so the
// current slot travels with every call. Callers must use one consistent slot
// for every refresh within a transaction.
type Engine struct {
	state  engineState
	params Params
}

// NewEngine constructs an engine with the given protocol parameters.
func NewEngine(params Params) *Engine {
	return &Engine{params: params.Normalise()}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// RefreshReserve advances the identified reserve to the given slot using the
// supplied feed readings and persists the result. The returned reserve is the
// freshly persisted copy.
func (e *Engine) RefreshReserve(id string, currentSlot uint64, primary PriceData, secondary *PriceData) (*Reserve, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	reserve, err := e.state.GetReserve(id)
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReserve, id)
	}

	working := reserve.Clone()
	if err := RefreshReserve(working, primary, secondary, currentSlot, e.params); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(id, working); err != nil {
		return nil, err
	}
	return working, nil
}

// RefreshObligation revalues the identified obligation against its referenced
// reserves, all of which must already be fresh in the given slot.
func (e *Engine) RefreshObligation(id string, currentSlot uint64) (*Obligation, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	obligation, err := e.state.GetObligation(id)
	if err != nil {
		return nil, err
	}
	if obligation == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObligation, id)
	}

	reserves := make(map[string]*Reserve)
	for _, reserveID := range obligation.ReserveIDs() {
		if _, ok := reserves[reserveID]; ok {
			continue
		}
		reserve, err := e.state.GetReserve(reserveID)
		if err != nil {
			return nil, err
		}
		if reserve == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingObligationEntry, reserveID)
		}
		reserves[reserveID] = reserve
	}

	working := obligation.Clone()
	if err := RefreshObligation(working, reserves, currentSlot); err != nil {
		return nil, err
	}
	if err := e.state.PutObligation(id, working); err != nil {
		return nil, err
	}
	return working, nil
}
