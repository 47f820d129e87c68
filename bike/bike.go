// Package bike models the bicycle lifecycle: status transitions, the
// append-only transition log and trip cost calculation.
package bike

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

var (
	ErrNotAvailable  = errors.New("bike not available")
	ErrNotReserved   = errors.New("bike not reserved")
	ErrNotOnTrip     = errors.New("bike not on trip")
	ErrOnTrip        = errors.New("bike on trip")
	ErrNotApplicable = errors.New("cost not applicable outside a trip")
)

type Status int

const (
	Available Status = iota
	Reserved
	OnTrip
	Maintenance
)

func (s Status) String() string {
	return [...]string{"available", "reserved", "on_trip", "maintenance"}[s]
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v {
	case "available":
		*s = Available
	case "reserved":
		*s = Reserved
	case "on_trip":
		*s = OnTrip
	case "maintenance":
		*s = Maintenance
	default:
		return fmt.Errorf("unknown bike status %q", v)
	}
	return nil
}

// Type distinguishes pedal bikes from e-bikes. The two differ only in
// pricing and in how long a trip may run before overtime kicks in.
type Type int

const (
	Pedal Type = iota
	Electric
)

func (t Type) String() string {
	return [...]string{"pedal", "electric"}[t]
}

func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Type) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v {
	case "pedal":
		*t = Pedal
	case "electric":
		*t = Electric
	default:
		return fmt.Errorf("unknown bike type %q", v)
	}
	return nil
}

// OvertimeThreshold is the free-ride window for the bike type.
func (t Type) OvertimeThreshold() time.Duration {
	if t == Electric {
		return 2 * time.Hour
	}
	return 45 * time.Minute
}

// Transition is one entry in a bike's append-only state log.
type Transition struct {
	From Status    `json:"from"`
	To   Status    `json:"to"`
	At   time.Time `json:"at"`
}

// Bicycle is a bike or e-bike. It carries no lock of its own: it is only
// ever mutated while the lock of the station whose dock owns it is held.
type Bicycle struct {
	// ID is an internal identifier for a bike
	ID uuid.UUID `json:"id"`
	// Label is a physical label which is on the bike. It should be scannable (e.g. "CARGO-123")
	// in QR Code or Code-128 format.
	Label string `json:"label"`

	Type   Type   `json:"type"`
	Status Status `json:"status"`

	// ReservationExpiry is set iff Status is Reserved.
	ReservationExpiry *time.Time `json:"reservationExpiry,omitempty"`

	// Transitions is the audit trail and the source of truth for trip
	// duration. The last entry's To always equals Status.
	Transitions []Transition `json:"transitions"`
}

func New(label string, t Type) *Bicycle {
	return &Bicycle{
		ID:     uuid.New(),
		Label:  label,
		Type:   t,
		Status: Available,
	}
}

func (b *Bicycle) transition(to Status, now time.Time) {
	b.Transitions = append(b.Transitions, Transition{From: b.Status, To: to, At: now})
	b.Status = to
}

// Reserve marks an available bike as held until now + hold.
func (b *Bicycle) Reserve(hold time.Duration, now time.Time) error {
	if b.Status != Available {
		return ErrNotAvailable
	}
	b.transition(Reserved, now)
	exp := now.Add(hold)
	b.ReservationExpiry = &exp
	return nil
}

// Checkout starts a trip. With fromReservation the bike must be Reserved,
// otherwise plain Available.
func (b *Bicycle) Checkout(fromReservation bool, now time.Time) error {
	if fromReservation {
		if b.Status != Reserved {
			return ErrNotReserved
		}
	} else if b.Status != Available {
		return ErrNotAvailable
	}
	b.ReservationExpiry = nil
	b.transition(OnTrip, now)
	return nil
}

// ReturnToDock ends a trip.
func (b *Bicycle) ReturnToDock(now time.Time) error {
	if b.Status != OnTrip {
		return ErrNotOnTrip
	}
	b.transition(Available, now)
	return nil
}

// CancelReservation releases a held bike back to Available.
func (b *Bicycle) CancelReservation(now time.Time) error {
	if b.Status != Reserved {
		return ErrNotReserved
	}
	b.ReservationExpiry = nil
	b.transition(Available, now)
	return nil
}

// SendToMaintenance pulls a docked bike out of circulation.
func (b *Bicycle) SendToMaintenance(now time.Time) error {
	if b.Status == OnTrip {
		return ErrOnTrip
	}
	b.ReservationExpiry = nil
	b.transition(Maintenance, now)
	return nil
}

// Validate checks the status/log agreement. It is only called when a bike
// is restored from a snapshot; a live mutation can never break it.
func (b *Bicycle) Validate() error {
	if n := len(b.Transitions); n > 0 && b.Transitions[n-1].To != b.Status {
		return fmt.Errorf("bike %s: status %s does not match last transition to %s",
			b.Label, b.Status, b.Transitions[n-1].To)
	}
	if (b.ReservationExpiry != nil) != (b.Status == Reserved) {
		return fmt.Errorf("bike %s: reservation expiry set=%t with status %s",
			b.Label, b.ReservationExpiry != nil, b.Status)
	}
	return nil
}

// tripWindow returns the start of the current trip and, when the trip has
// just completed, its end. ok is false when neither applies.
func (b *Bicycle) tripWindow() (start, end time.Time, ok bool) {
	n := len(b.Transitions)
	if b.Status == OnTrip && n > 0 {
		return b.Transitions[n-1].At, time.Time{}, true
	}
	if n >= 2 && b.Transitions[n-1].To == Available && b.Transitions[n-2].To == OnTrip {
		return b.Transitions[n-2].At, b.Transitions[n-1].At, true
	}
	return time.Time{}, time.Time{}, false
}
