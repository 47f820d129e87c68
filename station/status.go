package station

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Status is the station state machine, a closed set dispatched by switch.
// It is pure data derived from dock composition; the legality of every
// transition is exactly "the dock composition matches the target state".
type Status int

const (
	Empty Status = iota
	PartiallyFilled
	Full
	OutOfService
)

func (s Status) String() string {
	return [...]string{"empty", "partially_filled", "full", "out_of_service"}[s]
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
	case "empty":
		*s = Empty
	case "partially_filled":
		*s = PartiallyFilled
	case "full":
		*s = Full
	case "out_of_service":
		*s = OutOfService
	default:
		return fmt.Errorf("unknown station status %q", v)
	}
	return nil
}

type composition struct {
	occupied     int
	empty        int
	outOfService int
}

func (s *DockingStation) composition() composition {
	var c composition
	for i := range s.docks {
		switch s.docks[i].Status {
		case DockOccupied:
			c.occupied++
		case DockOutOfService:
			c.outOfService++
		default:
			c.empty++
		}
	}
	return c
}

// derive maps a dock composition onto the one status it is legal for.
func derive(c composition) Status {
	switch {
	case c.occupied == 0 && c.empty == 0:
		return OutOfService
	case c.occupied == 0:
		return Empty
	case c.empty == 0:
		return Full
	default:
		return PartiallyFilled
	}
}

func (s *DockingStation) appendTransition(to Status, now time.Time) {
	s.transitions = append(s.transitions, StatusTransition{From: s.status, To: to, At: now})
	s.status = to
}

// recomputeStatus moves the station to the status its dock composition now
// demands. A single return at an empty station conceptually passes through
// PartiallyFilled on its way to Full (and a take at a full single-dock
// station the reverse), so the log records the intermediate hop.
func (s *DockingStation) recomputeStatus(now time.Time) {
	next := derive(s.composition())
	if next == s.status {
		return
	}
	if (s.status == Empty && next == Full) || (s.status == Full && next == Empty) {
		s.appendTransition(PartiallyFilled, now)
	}
	s.appendTransition(next, now)
}
