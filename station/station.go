// Package station holds the DockingStation aggregate: a dock array, derived
// capacity counters, the station status machine, the single active
// reservation and the per-station lock that guards all of it.
package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/semanticallynull/dockingengine-backend/bike"
	"github.com/semanticallynull/dockingengine-backend/notify"
)

var (
	ErrRejected = errors.New("operation not allowed in current station state")
	ErrNotFound = errors.New("not found")
)

// InvariantError reports a snapshot that fails a structural invariant. It is
// raised only at construction or restore time; a live operation can never
// produce one.
type InvariantError struct {
	StationID uuid.UUID
	Reason    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("station %s: invariant violation: %s", e.StationID, e.Reason)
}

type DockStatus int

const (
	DockEmpty DockStatus = iota
	DockOccupied
	DockOutOfService
)

func (s DockStatus) String() string {
	return [...]string{"empty", "occupied", "out_of_service"}[s]
}

// Dock is a single slot. It exclusively owns at most one bike; a dock forced
// out of service holds none.
type Dock struct {
	ID     uuid.UUID
	Status DockStatus
	Bike   *bike.Bicycle
}

// StatusTransition is one entry in the station's append-only status log.
type StatusTransition struct {
	From Status    `json:"from"`
	To   Status    `json:"to"`
	At   time.Time `json:"at"`
}

// Caller identifies who is performing an operation. Token is the rider's
// push delivery token and may be empty.
type Caller struct {
	ID    uuid.UUID
	Token string
}

// CallbackScheduler registers a deferred one-shot callback. There is no
// cancellation; callbacks re-check live state at fire time.
type CallbackScheduler interface {
	Schedule(at time.Time, fn func())
}

// TripIndex answers whether the checkout that started at a given instant is
// still in progress. Fire-time callbacks consult it instead of the bike
// itself: once a bike docks at another station its fields belong to that
// station's lock, and reading them from here would race.
type TripIndex interface {
	TripRunning(bikeID uuid.UUID, start time.Time) bool
}

// Deps are the station's collaborators. Zero values fall back to time.Now,
// no scheduling, no delivery, no trip index (overtime warnings need one)
// and the default logger.
type Deps struct {
	Now       func() time.Time
	Scheduler CallbackScheduler
	Notifier  notify.Notifier
	Trips     TripIndex
	Logger    *slog.Logger
}

func (d *Deps) fill() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
}

// DockingStation is the aggregate root. All mutable state below mu is
// guarded by it; bikes are mutated only while the lock of the station whose
// dock owns them is held.
type DockingStation struct {
	ID       uuid.UUID
	Name     string
	Address  string
	Location pgtype.Point

	deps Deps

	mu                sync.Mutex
	capacity          int
	freeDocks         int
	occupiedDocks     int
	docks             []Dock
	reservationActive bool
	reservingUserID   *uuid.UUID
	reservingToken    string
	holdDuration      time.Duration
	status            Status
	transitions       []StatusTransition
}

// Config describes a new station. Bikes are docked into the first
// len(Bikes) docks.
type Config struct {
	ID           uuid.UUID
	Name         string
	Address      string
	Lat          float64
	Lng          float64
	Capacity     int
	HoldDuration time.Duration
	Bikes        []*bike.Bicycle
}

func New(cfg Config, deps Deps) (*DockingStation, error) {
	deps.fill()

	id := cfg.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	s := &DockingStation{
		ID:      id,
		Name:    cfg.Name,
		Address: cfg.Address,
		Location: pgtype.Point{
			P:     pgtype.Vec2{X: cfg.Lat, Y: cfg.Lng},
			Valid: true,
		},
		deps:         deps,
		capacity:     cfg.Capacity,
		holdDuration: cfg.HoldDuration,
	}

	if cfg.Capacity <= 0 {
		return nil, &InvariantError{StationID: id, Reason: "capacity must be positive"}
	}
	if len(cfg.Bikes) > cfg.Capacity {
		return nil, &InvariantError{StationID: id,
			Reason: fmt.Sprintf("%d bikes exceed capacity %d", len(cfg.Bikes), cfg.Capacity)}
	}

	s.docks = make([]Dock, cfg.Capacity)
	for i := range s.docks {
		s.docks[i] = Dock{ID: uuid.New()}
	}
	for i, b := range cfg.Bikes {
		s.docks[i].Bike = b
		s.docks[i].Status = DockOccupied
	}
	s.occupiedDocks = len(cfg.Bikes)
	s.freeDocks = cfg.Capacity - len(cfg.Bikes)
	s.status = derive(s.composition())

	if err := s.checkInvariants(); err != nil {
		return nil, err
	}
	return s, nil
}

// Accessors take the lock so callers always see a consistent view.

func (s *DockingStation) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *DockingStation) Capacity() int { return s.capacity }

func (s *DockingStation) FreeDocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freeDocks
}

func (s *DockingStation) OccupiedDocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.occupiedDocks
}

func (s *DockingStation) ReservationActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reservationActive
}

// Docks returns a copy of the dock array. Bikes are copied by value so the
// caller cannot mutate aggregate state.
func (s *DockingStation) Docks() []Dock {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Dock, len(s.docks))
	for i, d := range s.docks {
		out[i] = Dock{ID: d.ID, Status: d.Status}
		if d.Bike != nil {
			cp := *d.Bike
			cp.Transitions = append([]bike.Transition(nil), d.Bike.Transitions...)
			out[i].Bike = &cp
		}
	}
	return out
}

// StatusTransitions returns a copy of the status log.
func (s *DockingStation) StatusTransitions() []StatusTransition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StatusTransition(nil), s.transitions...)
}

// BikeIDByLabel resolves a docked bike's label to its ID.
func (s *DockingStation) BikeIDByLabel(label string) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.docks {
		if b := s.docks[i].Bike; b != nil && b.Label == label {
			return b.ID, true
		}
	}
	return uuid.Nil, false
}

// ReservedBikeID returns the ID of the currently reserved bike, if any.
func (s *DockingStation) ReservedBikeID() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, b := s.reservedDock(); b != nil {
		return b.ID, true
	}
	return uuid.Nil, false
}

// internal lookups, lock held

func (s *DockingStation) dock(id uuid.UUID) *Dock {
	for i := range s.docks {
		if s.docks[i].ID == id {
			return &s.docks[i]
		}
	}
	return nil
}

func (s *DockingStation) dockWithBike(bikeID uuid.UUID) (*Dock, *bike.Bicycle) {
	for i := range s.docks {
		if b := s.docks[i].Bike; b != nil && b.ID == bikeID {
			return &s.docks[i], b
		}
	}
	return nil, nil
}

func (s *DockingStation) firstEmptyDock() *Dock {
	for i := range s.docks {
		if s.docks[i].Status == DockEmpty {
			return &s.docks[i]
		}
	}
	return nil
}

func (s *DockingStation) firstAvailableBike() *bike.Bicycle {
	for i := range s.docks {
		if b := s.docks[i].Bike; b != nil && b.Status == bike.Available {
			return b
		}
	}
	return nil
}

func (s *DockingStation) reservedDock() (*Dock, *bike.Bicycle) {
	for i := range s.docks {
		if b := s.docks[i].Bike; b != nil && b.Status == bike.Reserved {
			return &s.docks[i], b
		}
	}
	return nil, nil
}

func (s *DockingStation) clearReservation() {
	s.reservationActive = false
	s.reservingUserID = nil
	s.reservingToken = ""
}

// notifyAsync delivers off the lock; a failed delivery is logged, never
// surfaced to the operation that triggered it.
func (s *DockingStation) notifyAsync(msg notify.Message) {
	if s.deps.Notifier == nil {
		return
	}
	go func() {
		if err := s.deps.Notifier.Send(context.Background(), msg); err != nil {
			s.deps.Logger.Error("failed to send notification", "station", s.Name, "title", msg.Title, "error", err)
		}
	}()
}

func (s *DockingStation) checkInvariants() error {
	fail := func(format string, args ...any) error {
		return &InvariantError{StationID: s.ID, Reason: fmt.Sprintf(format, args...)}
	}

	if s.holdDuration <= 0 {
		return fail("reservation hold duration must be positive, got %s", s.holdDuration)
	}
	if len(s.docks) != s.capacity {
		return fail("%d docks for capacity %d", len(s.docks), s.capacity)
	}
	if s.capacity != s.freeDocks+s.occupiedDocks {
		return fail("capacity %d != free %d + occupied %d", s.capacity, s.freeDocks, s.occupiedDocks)
	}

	comp := s.composition()
	if comp.occupied != s.occupiedDocks {
		return fail("%d occupied docks but occupiedDocks=%d", comp.occupied, s.occupiedDocks)
	}
	if comp.empty+comp.outOfService != s.freeDocks {
		return fail("%d empty + %d out-of-service docks but freeDocks=%d",
			comp.empty, comp.outOfService, s.freeDocks)
	}

	seen := make(map[uuid.UUID]bool, len(s.docks))
	reserved := 0
	for i := range s.docks {
		d := &s.docks[i]
		switch d.Status {
		case DockOccupied:
			if d.Bike == nil {
				return fail("dock %s occupied without a bike", d.ID)
			}
		default:
			if d.Bike != nil {
				return fail("dock %s holds a bike while %s", d.ID, d.Status)
			}
		}
		if d.Bike == nil {
			continue
		}
		if seen[d.Bike.ID] {
			return fail("bike %s docked twice", d.Bike.ID)
		}
		seen[d.Bike.ID] = true
		if err := d.Bike.Validate(); err != nil {
			return fail("%v", err)
		}
		if d.Bike.Status == bike.Reserved {
			reserved++
		}
	}
	if reserved > 1 {
		return fail("%d bikes reserved at once", reserved)
	}
	if s.reservationActive != (reserved == 1) {
		return fail("reservationActive=%t with %d reserved bikes", s.reservationActive, reserved)
	}
	if s.reservationActive && s.reservingUserID == nil {
		return fail("active reservation without a reserving user")
	}

	if want := derive(comp); s.status != want {
		return fail("status %s does not match dock composition (want %s)", s.status, want)
	}
	if n := len(s.transitions); n > 0 && s.transitions[n-1].To != s.status {
		return fail("status %s does not match last logged transition to %s",
			s.status, s.transitions[n-1].To)
	}
	return nil
}
