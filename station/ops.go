package station

import (
	"time"

	"github.com/google/uuid"

	"github.com/semanticallynull/dockingengine-backend/bike"
	"github.com/semanticallynull/dockingengine-backend/notify"
)

// expireReservation resolves an expired hold: bike back to Available, the
// reservation fields cleared. It runs at the head of every mutating
// operation under the lock, so staleness is bounded by the gap until the
// next operation on this station; there is no background sweep.
func (s *DockingStation) expireReservation(now time.Time) bool {
	if !s.reservationActive {
		return false
	}
	_, b := s.reservedDock()
	if b == nil || b.ReservationExpiry == nil {
		// Should be unreachable: restore validates this and live mutations
		// keep it consistent.
		s.clearReservation()
		return false
	}
	if !now.After(*b.ReservationExpiry) {
		return false
	}
	_ = b.CancelReservation(now)
	s.clearReservation()
	return true
}

// UpdateReservation runs the lazy-expiry check on its own. Calling it before
// expiry is a no-op; repeated calls are idempotent.
func (s *DockingStation) UpdateReservation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expireReservation(s.deps.Now())
}

// CanTakeBike reports whether the station state admits a checkout at all.
func (s *DockingStation) CanTakeBike() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireReservation(s.deps.Now())
	switch s.status {
	case PartiallyFilled, Full:
		return true
	default:
		return false
	}
}

// ReserveBike holds a docked bike for the caller. A nil bikeID picks any
// available bike. At most one reservation may be active per station.
func (s *DockingStation) ReserveBike(bikeID *uuid.UUID, caller Caller) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.deps.Now()
	s.expireReservation(now)

	switch s.status {
	case Empty, OutOfService:
		return ErrRejected
	}
	if s.reservationActive {
		return ErrRejected
	}

	var target *bike.Bicycle
	if bikeID != nil {
		_, target = s.dockWithBike(*bikeID)
		if target == nil {
			return ErrNotFound
		}
		if target.Status != bike.Available {
			return ErrRejected
		}
	} else {
		target = s.firstAvailableBike()
		if target == nil {
			return ErrRejected
		}
	}

	if err := target.Reserve(s.holdDuration, now); err != nil {
		return ErrRejected
	}
	s.reservationActive = true
	id := caller.ID
	s.reservingUserID = &id
	s.reservingToken = caller.Token

	s.scheduleReservationWarnings(target, *target.ReservationExpiry, caller.Token)
	return nil
}

// TakeBike checks a bike out and returns it to the caller. fromReservation
// requires the caller to be the rider who holds the reservation.
func (s *DockingStation) TakeBike(bikeID uuid.UUID, fromReservation bool, caller Caller) (*bike.Bicycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.deps.Now()
	s.expireReservation(now)
	return s.takeLocked(bikeID, fromReservation, caller, now, false)
}

func (s *DockingStation) takeLocked(bikeID uuid.UUID, fromReservation bool, caller Caller, now time.Time, quiet bool) (*bike.Bicycle, error) {
	switch s.status {
	case Empty, OutOfService:
		return nil, ErrRejected
	}

	d, b := s.dockWithBike(bikeID)
	if b == nil {
		return nil, ErrNotFound
	}

	if fromReservation {
		if !s.reservationActive || s.reservingUserID == nil || *s.reservingUserID != caller.ID {
			return nil, ErrRejected
		}
		if b.Status != bike.Reserved {
			return nil, ErrRejected
		}
	} else if b.Status != bike.Available {
		return nil, ErrRejected
	}

	if err := b.Checkout(fromReservation, now); err != nil {
		return nil, ErrRejected
	}
	if fromReservation {
		s.clearReservation()
	}

	d.Bike = nil
	d.Status = DockEmpty
	s.occupiedDocks--
	s.freeDocks++
	s.recomputeStatus(now)

	if !fromReservation && !quiet {
		s.scheduleOvertimeWarnings(b, now, caller.Token)
	}
	return b, nil
}

// ReturnBike docks a bike. A nil dockID picks any empty dock. Handing back
// the reserved bike cancels the reservation instead of docking a new bike;
// at a Full station that cancellation is the only accepted return.
func (s *DockingStation) ReturnBike(b *bike.Bicycle, dockID *uuid.UUID, caller Caller) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.deps.Now()
	s.expireReservation(now)
	return s.returnLocked(b, dockID, caller, now, false)
}

func (s *DockingStation) returnLocked(b *bike.Bicycle, dockID *uuid.UUID, caller Caller, now time.Time, quiet bool) error {
	if s.status == OutOfService {
		return ErrRejected
	}

	if b.Status == bike.Reserved {
		if s.status == Empty {
			return ErrRejected
		}
		if _, docked := s.dockWithBike(b.ID); docked == nil {
			return ErrNotFound
		}
		if !s.reservationActive || s.reservingUserID == nil || *s.reservingUserID != caller.ID {
			return ErrRejected
		}
		if err := b.CancelReservation(now); err != nil {
			return ErrRejected
		}
		s.clearReservation()
		return nil
	}

	if s.status == Full {
		// No free dock for a new arrival.
		return ErrRejected
	}
	if b.Status != bike.OnTrip {
		return ErrRejected
	}

	var d *Dock
	if dockID != nil {
		d = s.dock(*dockID)
		if d == nil {
			return ErrNotFound
		}
		if d.Status != DockEmpty {
			return ErrRejected
		}
	} else {
		d = s.firstEmptyDock()
		if d == nil {
			return ErrRejected
		}
	}

	if err := b.ReturnToDock(now); err != nil {
		return ErrRejected
	}
	d.Bike = b
	d.Status = DockOccupied
	s.freeDocks--
	s.occupiedDocks++
	s.recomputeStatus(now)

	if !quiet {
		s.notifyAsync(notify.TripEnded(s.Name, caller.Token))
	}
	return nil
}

// CancelReservation hands the reserved bike back without a trip, the same
// path as returning a Reserved bike. Rejected when no live reservation
// belongs to the caller (including one that just lapsed).
func (s *DockingStation) CancelReservation(caller Caller) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.deps.Now()
	s.expireReservation(now)

	_, b := s.reservedDock()
	if b == nil {
		return ErrRejected
	}
	return s.returnLocked(b, nil, caller, now, true)
}

// SendBikeToMaintenance pulls a docked bike out of circulation; its dock
// empties and the bike leaves the station with the operator.
func (s *DockingStation) SendBikeToMaintenance(bikeID uuid.UUID) (*bike.Bicycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.deps.Now()
	s.expireReservation(now)

	if s.status == OutOfService {
		return nil, ErrRejected
	}
	d, b := s.dockWithBike(bikeID)
	if b == nil {
		return nil, ErrNotFound
	}
	if b.Status == bike.Reserved {
		// An active hold wins over maintenance; expire or cancel it first.
		return nil, ErrRejected
	}
	if err := b.SendToMaintenance(now); err != nil {
		return nil, ErrRejected
	}
	d.Bike = nil
	d.Status = DockEmpty
	s.occupiedDocks--
	s.freeDocks++
	s.recomputeStatus(now)
	return b, nil
}

// SetDockOutOfService forces an empty dock out of service. An occupied dock
// is rejected; a dock already out of service is a no-op (changed=false).
func (s *DockingStation) SetDockOutOfService(dockID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.deps.Now()
	s.expireReservation(now)

	d := s.dock(dockID)
	if d == nil {
		return false, ErrNotFound
	}
	switch d.Status {
	case DockOutOfService:
		return false, nil
	case DockOccupied:
		return false, ErrRejected
	}
	d.Status = DockOutOfService
	s.recomputeStatus(now)
	return true, nil
}

// RestoreDock brings a dock back into service. A dock already in service is
// a no-op (changed=false).
func (s *DockingStation) RestoreDock(dockID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.deps.Now()
	s.expireReservation(now)

	d := s.dock(dockID)
	if d == nil {
		return false, ErrNotFound
	}
	if d.Status != DockOutOfService {
		return false, nil
	}
	d.Status = DockEmpty
	s.recomputeStatus(now)
	return true, nil
}

// scheduleReservationWarnings registers the "expiring soon" and "expired"
// callbacks. Neither is cancelled if the hold resolves earlier; each
// re-checks that this exact reservation still stands at fire time. The
// callbacks capture the bike's ID, never the bike: they only look at what is
// still docked here, so they never touch a bike some other station's lock
// now guards.
func (s *DockingStation) scheduleReservationWarnings(b *bike.Bicycle, expiry time.Time, token string) {
	if s.deps.Scheduler == nil {
		return
	}
	bikeID := b.ID

	s.deps.Scheduler.Schedule(expiry.Add(-time.Minute), func() {
		if s.holdStillStands(bikeID, expiry) {
			s.notifyAsync(notify.ReservationExpiring(s.Name, 1, token))
		}
	})

	// A second past the deadline: expiry is strict, so a callback firing at
	// the exact instant would resolve nothing and the one-shot notice would
	// be lost.
	s.deps.Scheduler.Schedule(expiry.Add(time.Second), func() {
		s.mu.Lock()
		expired := false
		if s.holdStandsLocked(bikeID, expiry) {
			expired = s.expireReservation(s.deps.Now())
		}
		s.mu.Unlock()
		if expired {
			s.notifyAsync(notify.ReservationExpiring(s.Name, 0, token))
		}
	})
}

func (s *DockingStation) holdStillStands(bikeID uuid.UUID, expiry time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdStandsLocked(bikeID, expiry)
}

// holdStandsLocked reports whether the reserved bike docked here is the one
// the callback was scheduled for, with this exact expiry. A bike that has
// left the station is unreachable from the dock array and is never read.
func (s *DockingStation) holdStandsLocked(bikeID uuid.UUID, expiry time.Time) bool {
	_, b := s.reservedDock()
	return b != nil && b.ID == bikeID &&
		b.ReservationExpiry != nil && b.ReservationExpiry.Equal(expiry)
}

// scheduleOvertimeWarnings registers the three checkout warnings: before the
// threshold, at it, and an hour past it with the accrued surcharge. A bike
// on trip belongs to no station lock, so the callbacks capture the immutable
// fields they need and ask the trip index whether this checkout is still
// running; they never dereference the bike.
func (s *DockingStation) scheduleOvertimeWarnings(b *bike.Bicycle, start time.Time, token string) {
	if s.deps.Scheduler == nil || s.deps.Trips == nil {
		return
	}
	bikeID, label, bikeType := b.ID, b.Label, b.Type
	threshold := bikeType.OvertimeThreshold()

	s.deps.Scheduler.Schedule(start.Add(threshold-5*time.Minute), func() {
		if s.deps.Trips.TripRunning(bikeID, start) {
			s.notifyAsync(notify.OvertimeApproaching(label, 5, token))
		}
	})

	s.deps.Scheduler.Schedule(start.Add(threshold), func() {
		if s.deps.Trips.TripRunning(bikeID, start) {
			s.notifyAsync(notify.OvertimeStarted(label, token))
		}
	})

	s.deps.Scheduler.Schedule(start.Add(threshold+time.Hour), func() {
		if !s.deps.Trips.TripRunning(bikeID, start) {
			return
		}
		overtime := bike.CostFor(bikeType, bike.StandardPlan, s.deps.Now().Sub(start)).Overtime
		s.notifyAsync(notify.OvertimeAccruing(label, overtime, token))
	})
}
