package station

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/semanticallynull/dockingengine-backend/bike"
)

// DockSnapshot is one dock's persisted form.
type DockSnapshot struct {
	ID     uuid.UUID     `json:"id"`
	Status string        `json:"status"`
	Bike   *bike.Bicycle `json:"bike,omitempty"`
}

// Snapshot is the aggregate's persisted form. It carries everything needed
// to rebuild the station; the status tag itself is re-derived from the last
// logged transition, falling back to dock composition for a fresh station.
type Snapshot struct {
	ID                uuid.UUID          `json:"id"`
	Name              string             `json:"name"`
	Address           string             `json:"address"`
	Lat               float64            `json:"lat"`
	Lng               float64            `json:"lng"`
	Capacity          int                `json:"capacity"`
	FreeDocks         int                `json:"freeDocks"`
	OccupiedDocks     int                `json:"occupiedDocks"`
	Docks             []DockSnapshot     `json:"docks"`
	ReservationActive bool               `json:"reservationActive"`
	ReservingUserID   *uuid.UUID         `json:"reservingUserId,omitempty"`
	ReservingToken    string             `json:"reservingToken,omitempty"`
	HoldDuration      time.Duration      `json:"holdDuration"`
	StatusTransitions []StatusTransition `json:"statusTransitions"`
}

// Snapshot captures a consistent copy of the aggregate under the lock.
func (s *DockingStation) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:                s.ID,
		Name:              s.Name,
		Address:           s.Address,
		Lat:               s.Location.P.X,
		Lng:               s.Location.P.Y,
		Capacity:          s.capacity,
		FreeDocks:         s.freeDocks,
		OccupiedDocks:     s.occupiedDocks,
		Docks:             make([]DockSnapshot, len(s.docks)),
		ReservationActive: s.reservationActive,
		ReservingToken:    s.reservingToken,
		HoldDuration:      s.holdDuration,
		StatusTransitions: append([]StatusTransition(nil), s.transitions...),
	}
	if s.reservingUserID != nil {
		id := *s.reservingUserID
		snap.ReservingUserID = &id
	}
	for i, d := range s.docks {
		snap.Docks[i] = DockSnapshot{ID: d.ID, Status: d.Status.String()}
		if d.Bike != nil {
			cp := *d.Bike
			cp.Transitions = append([]bike.Transition(nil), d.Bike.Transitions...)
			snap.Docks[i].Bike = &cp
		}
	}
	return snap
}

// Restore rebuilds an aggregate from its snapshot. Business rules already
// assumed true by the snapshot's producer are not re-run; only structural
// invariants are checked, and a failure is fatal for the load.
func Restore(snap Snapshot, deps Deps) (*DockingStation, error) {
	deps.fill()

	s := &DockingStation{
		ID:      snap.ID,
		Name:    snap.Name,
		Address: snap.Address,
		Location: pgtype.Point{
			P:     pgtype.Vec2{X: snap.Lat, Y: snap.Lng},
			Valid: true,
		},
		deps:              deps,
		capacity:          snap.Capacity,
		freeDocks:         snap.FreeDocks,
		occupiedDocks:     snap.OccupiedDocks,
		reservationActive: snap.ReservationActive,
		reservingToken:    snap.ReservingToken,
		holdDuration:      snap.HoldDuration,
		transitions:       append([]StatusTransition(nil), snap.StatusTransitions...),
	}
	if snap.ReservingUserID != nil {
		id := *snap.ReservingUserID
		s.reservingUserID = &id
	}

	s.docks = make([]Dock, len(snap.Docks))
	for i, ds := range snap.Docks {
		d := Dock{ID: ds.ID}
		switch ds.Status {
		case "empty":
			d.Status = DockEmpty
		case "occupied":
			d.Status = DockOccupied
		case "out_of_service":
			d.Status = DockOutOfService
		default:
			return nil, &InvariantError{StationID: snap.ID,
				Reason: "unknown dock status " + ds.Status}
		}
		if ds.Bike != nil {
			cp := *ds.Bike
			cp.Transitions = append([]bike.Transition(nil), ds.Bike.Transitions...)
			d.Bike = &cp
		}
		s.docks[i] = d
	}

	if n := len(s.transitions); n > 0 {
		s.status = s.transitions[n-1].To
	} else {
		s.status = derive(s.composition())
	}

	if err := s.checkInvariants(); err != nil {
		return nil, err
	}
	return s, nil
}
