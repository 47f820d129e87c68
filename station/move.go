package station

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/semanticallynull/dockingengine-backend/bike"
)

// ErrUnauthorized means the caller does not resolve to the operator role.
var ErrUnauthorized = errors.New("caller is not an operator")

// MoveResult classifies the outcome of a cross-station move.
type MoveResult int

const (
	MoveSuccess MoveResult = iota
	// MoveUnauthorized: the role check failed, the bike never left source.
	MoveUnauthorized
	// MoveRejected: the source take failed, the bike never left source.
	MoveRejected
	// MovePartialFailure: the bike left source but could not dock at the
	// destination. It is now in neither station and needs manual
	// reconciliation; the core does not retry or roll back.
	MovePartialFailure
)

func (r MoveResult) String() string {
	return [...]string{"success", "unauthorized", "rejected", "partial_failure"}[r]
}

// PartialMoveError carries everything an operator needs to reconcile a bike
// stranded mid-move.
type PartialMoveError struct {
	Bike     *bike.Bicycle
	SourceID uuid.UUID
	DestID   uuid.UUID
	cause    error
}

func (e *PartialMoveError) Error() string {
	return fmt.Sprintf("bike %s left station %s but could not dock at %s: %v",
		e.Bike.Label, e.SourceID, e.DestID, e.cause)
}

func (e *PartialMoveError) Unwrap() error { return e.cause }

// StrandedBikeFromError extracts the stranded bike from a partial-failure
// move error.
func StrandedBikeFromError(err error) (*bike.Bicycle, bool) {
	var pme *PartialMoveError
	if errors.As(err, &pme) {
		return pme.Bike, true
	}
	return nil, false
}

// OperatorCheck resolves whether a caller holds the operator role. Identity
// and role lookup live outside the domain core.
type OperatorCheck interface {
	IsOperator(ctx context.Context, callerID uuid.UUID) (bool, error)
}

// Mover runs the two-station move protocol.
type Mover struct {
	roles  OperatorCheck
	logger *slog.Logger
}

func NewMover(roles OperatorCheck, logger *slog.Logger) *Mover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mover{roles: roles, logger: logger}
}

// Move takes a bike out of src and docks it at dst (at dstDock if given).
// Both station locks are held for the duration, acquired in station-ID
// order rather than argument order so that two concurrent opposite moves
// between the same pair can never deadlock. No other code path may ever
// hold two station locks; anything added here must respect the same order.
func (m *Mover) Move(ctx context.Context, callerID uuid.UUID, bikeID uuid.UUID, src, dst *DockingStation, dstDock *uuid.UUID) (MoveResult, error) {
	ok, err := m.roles.IsOperator(ctx, callerID)
	if err != nil {
		return MoveUnauthorized, err
	}
	if !ok {
		return MoveUnauthorized, ErrUnauthorized
	}
	if src.ID == dst.ID {
		return MoveRejected, ErrRejected
	}

	first, second := src, dst
	if bytes.Compare(dst.ID[:], src.ID[:]) < 0 {
		first, second = dst, src
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	now := src.deps.Now()
	src.expireReservation(now)
	dst.expireReservation(now)

	caller := Caller{ID: callerID}
	b, err := src.takeLocked(bikeID, false, caller, now, true)
	if err != nil {
		return MoveRejected, err
	}

	if err := dst.returnLocked(b, dstDock, caller, now, true); err != nil {
		m.logger.Error("bike stranded mid-move",
			"bike", b.Label, "source", src.Name, "destination", dst.Name, "error", err)
		return MovePartialFailure, &PartialMoveError{
			Bike:     b,
			SourceID: src.ID,
			DestID:   dst.ID,
			cause:    err,
		}
	}
	return MoveSuccess, nil
}
