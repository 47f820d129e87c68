package station

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/semanticallynull/dockingengine-backend/bike"
)

// Registry is the in-process set of live station aggregates, plus an index
// of bikes currently on trip (a bike on trip belongs to no dock, so someone
// has to remember it until it is returned). The index is keyed by bike ID;
// labels are physical stickers and nothing stops two bikes from wearing the
// same one.
type Registry struct {
	mu       sync.RWMutex
	stations map[uuid.UUID]*DockingStation
	trips    map[uuid.UUID]tripEntry
}

type tripEntry struct {
	bike  *bike.Bicycle
	start time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		stations: make(map[uuid.UUID]*DockingStation),
		trips:    make(map[uuid.UUID]tripEntry),
	}
}

func (r *Registry) Add(s *DockingStation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stations[s.ID] = s
}

func (r *Registry) Get(id uuid.UUID) (*DockingStation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stations[id]
	return s, ok
}

// All returns the stations sorted by name for stable listings.
func (r *Registry) All() []*DockingStation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*DockingStation, 0, len(r.stations))
	for _, s := range r.stations {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TrackTrip records a checked-out bike so a later return can find it and so
// fire-time callbacks can ask whether the checkout is still in progress.
func (r *Registry) TrackTrip(b *bike.Bicycle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var start time.Time
	if n := len(b.Transitions); n > 0 {
		start = b.Transitions[n-1].At
	}
	r.trips[b.ID] = tripEntry{bike: b, start: start}
}

// TripByLabel looks up a bike currently on trip by the label the rider
// scanned. With duplicate labels in the fleet it returns whichever entry the
// scan hits first.
func (r *Registry) TripByLabel(label string) (*bike.Bicycle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.trips {
		if e.bike.Label == label {
			return e.bike, true
		}
	}
	return nil, false
}

// EndTrip drops a bike from the on-trip index once it is docked again.
func (r *Registry) EndTrip(bikeID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.trips, bikeID)
}

// TripRunning reports whether the checkout that started at start is still in
// progress. It reads only the index's own state under its own lock.
func (r *Registry) TripRunning(bikeID uuid.UUID, start time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.trips[bikeID]
	return ok && e.start.Equal(start)
}
