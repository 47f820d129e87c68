package station

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semanticallynull/dockingengine-backend/bike"
	"github.com/semanticallynull/dockingengine-backend/notify"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type schedEntry struct {
	at time.Time
	fn func()
}

// fakeScheduler captures callbacks so tests can fire them by hand.
type fakeScheduler struct {
	mu      sync.Mutex
	entries []schedEntry
}

func (f *fakeScheduler) Schedule(at time.Time, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, schedEntry{at: at, fn: fn})
}

func (f *fakeScheduler) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// fire runs and discards every captured callback due by the given time.
func (f *fakeScheduler) fire(upTo time.Time) {
	f.mu.Lock()
	var due, rest []schedEntry
	for _, e := range f.entries {
		if !e.at.After(upTo) {
			due = append(due, e)
		} else {
			rest = append(rest, e)
		}
	}
	f.entries = rest
	f.mu.Unlock()

	for _, e := range due {
		e.fn()
	}
}

type chanNotifier struct {
	msgs chan notify.Message
}

func newChanNotifier() *chanNotifier {
	return &chanNotifier{msgs: make(chan notify.Message, 16)}
}

func (n *chanNotifier) Send(_ context.Context, msg notify.Message) error {
	n.msgs <- msg
	return nil
}

func (n *chanNotifier) expect(t *testing.T, title string) notify.Message {
	t.Helper()
	select {
	case msg := <-n.msgs:
		assert.Equal(t, title, msg.Title)
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for notification %q", title)
		return notify.Message{}
	}
}

// drain discards deliveries until the channel has been quiet for a moment,
// covering notifications still in flight on their own goroutines.
func (n *chanNotifier) drain() {
	for {
		select {
		case <-n.msgs:
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}

func (n *chanNotifier) expectNone(t *testing.T) {
	t.Helper()
	select {
	case msg := <-n.msgs:
		t.Fatalf("unexpected notification %q", msg.Title)
	case <-time.After(50 * time.Millisecond):
	}
}

type testRig struct {
	clock    *fakeClock
	sched    *fakeScheduler
	notifier *chanNotifier
	trips    *Registry
}

func newRig() *testRig {
	return &testRig{
		clock:    newFakeClock(),
		sched:    &fakeScheduler{},
		notifier: newChanNotifier(),
		trips:    NewRegistry(),
	}
}

func (r *testRig) deps() Deps {
	return Deps{
		Now:       r.clock.Now,
		Scheduler: r.sched,
		Notifier:  r.notifier,
		Trips:     r.trips,
	}
}

func newTestStation(t *testing.T, rig *testRig, capacity, nBikes int) *DockingStation {
	t.Helper()
	bikes := make([]*bike.Bicycle, nBikes)
	for i := range bikes {
		bikes[i] = bike.New(fmt.Sprintf("PED-%03d", i+1), bike.Pedal)
	}
	s, err := New(Config{
		Name:         "Merrion Square",
		Address:      "Merrion Square W, Dublin 2",
		Lat:          53.3399,
		Lng:          -6.2503,
		Capacity:     capacity,
		HoldDuration: 10 * time.Minute,
		Bikes:        bikes,
	}, rig.deps())
	require.NoError(t, err)
	return s
}

func assertCounters(t *testing.T, s *DockingStation) {
	t.Helper()
	free, occupied := s.FreeDocks(), s.OccupiedDocks()
	assert.Equal(t, s.Capacity(), free+occupied, "capacity must equal free + occupied")

	docked := 0
	for _, d := range s.Docks() {
		if d.Bike != nil {
			docked++
		}
	}
	assert.Equal(t, occupied, docked, "occupiedDocks must match docked bikes")
}

func TestNewDerivesStatus(t *testing.T) {
	rig := newRig()

	assert.Equal(t, Empty, newTestStation(t, rig, 5, 0).Status())
	assert.Equal(t, PartiallyFilled, newTestStation(t, rig, 5, 2).Status())
	assert.Equal(t, Full, newTestStation(t, rig, 5, 5).Status())
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Capacity: 0, HoldDuration: time.Minute}, Deps{})
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)

	_, err = New(Config{Capacity: 3}, Deps{})
	require.ErrorAs(t, err, &ie, "zero hold duration must be rejected")
}

func TestReserveThenTakeScenario(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 10, 2)
	u1 := Caller{ID: uuid.New()}
	u2 := Caller{ID: uuid.New()}

	p1, ok := s.BikeIDByLabel("PED-001")
	require.True(t, ok)

	require.NoError(t, s.ReserveBike(&p1, u1))
	assert.Equal(t, PartiallyFilled, s.Status())
	assert.True(t, s.ReservationActive())
	assertCounters(t, s)

	// A different caller cannot claim the reservation.
	_, err := s.TakeBike(p1, true, u2)
	assert.ErrorIs(t, err, ErrRejected)

	b, err := s.TakeBike(p1, true, u1)
	require.NoError(t, err)
	assert.Equal(t, bike.OnTrip, b.Status)
	assert.Equal(t, 1, s.OccupiedDocks())
	assert.Equal(t, 9, s.FreeDocks())
	assert.False(t, s.ReservationActive())
	assertCounters(t, s)
}

func TestTakeRejectsReservedBikeForPlainCheckout(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 10, 2)
	u1 := Caller{ID: uuid.New()}

	p1, _ := s.BikeIDByLabel("PED-001")
	require.NoError(t, s.ReserveBike(&p1, u1))

	_, err := s.TakeBike(p1, false, Caller{ID: uuid.New()})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestRoundTripLaw(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 10, 3)
	u := Caller{ID: uuid.New()}

	freeBefore, occupiedBefore := s.FreeDocks(), s.OccupiedDocks()

	p1, _ := s.BikeIDByLabel("PED-001")
	b, err := s.TakeBike(p1, false, u)
	require.NoError(t, err)
	require.NoError(t, s.ReturnBike(b, nil, u))

	assert.Equal(t, freeBefore, s.FreeDocks())
	assert.Equal(t, occupiedBefore, s.OccupiedDocks())
	assertCounters(t, s)
}

func TestReturnToExplicitDock(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 3, 2)
	u := Caller{ID: uuid.New()}

	p1, _ := s.BikeIDByLabel("PED-001")
	b, err := s.TakeBike(p1, false, u)
	require.NoError(t, err)

	var emptyDock, occupiedDock uuid.UUID
	for _, d := range s.Docks() {
		if d.Status == DockEmpty {
			emptyDock = d.ID
		} else {
			occupiedDock = d.ID
		}
	}

	assert.ErrorIs(t, s.ReturnBike(b, &occupiedDock, u), ErrRejected)

	unknown := uuid.New()
	assert.ErrorIs(t, s.ReturnBike(b, &unknown, u), ErrNotFound)

	require.NoError(t, s.ReturnBike(b, &emptyDock, u))
	assertCounters(t, s)
}

func TestReserveRejections(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 10, 2)
	u1 := Caller{ID: uuid.New()}

	unknown := uuid.New()
	assert.ErrorIs(t, s.ReserveBike(&unknown, u1), ErrNotFound)

	p1, _ := s.BikeIDByLabel("PED-001")
	require.NoError(t, s.ReserveBike(&p1, u1))

	// Only one reservation per station, whoever asks.
	p2, _ := s.BikeIDByLabel("PED-002")
	assert.ErrorIs(t, s.ReserveBike(&p2, Caller{ID: uuid.New()}), ErrRejected)

	empty := newTestStation(t, rig, 4, 0)
	assert.ErrorIs(t, empty.ReserveBike(nil, u1), ErrRejected)
	assert.False(t, empty.CanTakeBike())
}

func TestReserveAnyPicksAvailableBike(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 5, 2)

	require.NoError(t, s.ReserveBike(nil, Caller{ID: uuid.New()}))
	assert.True(t, s.ReservationActive())
	_, ok := s.ReservedBikeID()
	assert.True(t, ok)
}

func TestLazyExpiry(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 10, 2)
	u1 := Caller{ID: uuid.New()}

	p1, _ := s.BikeIDByLabel("PED-001")
	require.NoError(t, s.ReserveBike(&p1, u1))

	// Before expiry the check is a no-op, no matter how often it runs.
	rig.clock.Advance(9 * time.Minute)
	assert.False(t, s.UpdateReservation())
	assert.False(t, s.UpdateReservation())
	assert.True(t, s.ReservationActive())

	rig.clock.Advance(2 * time.Minute)
	assert.True(t, s.UpdateReservation())
	assert.False(t, s.ReservationActive())
	assert.False(t, s.UpdateReservation())

	// The bike is plain Available again for anyone.
	_, err := s.TakeBike(p1, false, Caller{ID: uuid.New()})
	assert.NoError(t, err)
}

func TestExpiryResolvedByNextOperation(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 10, 2)
	u1 := Caller{ID: uuid.New()}

	p1, _ := s.BikeIDByLabel("PED-001")
	require.NoError(t, s.ReserveBike(&p1, u1))
	rig.clock.Advance(11 * time.Minute)

	// No explicit expiry call: the next mutating operation resolves it.
	b, err := s.TakeBike(p1, false, Caller{ID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, bike.OnTrip, b.Status)
	assert.False(t, s.ReservationActive())
}

func TestCancelReservation(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 10, 2)
	u1 := Caller{ID: uuid.New()}

	p1, _ := s.BikeIDByLabel("PED-001")
	require.NoError(t, s.ReserveBike(&p1, u1))

	assert.ErrorIs(t, s.CancelReservation(Caller{ID: uuid.New()}), ErrRejected)

	require.NoError(t, s.CancelReservation(u1))
	assert.False(t, s.ReservationActive())
	assertCounters(t, s)

	assert.ErrorIs(t, s.CancelReservation(u1), ErrRejected)
}

func TestFullStationOnlyAcceptsReservationCancellation(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 2, 2)
	require.Equal(t, Full, s.Status())

	other := newTestStation(t, rig, 2, 1)
	u := Caller{ID: uuid.New()}
	pid, _ := other.BikeIDByLabel("PED-001")
	b, err := other.TakeBike(pid, false, u)
	require.NoError(t, err)

	// No free dock for a new arrival.
	assert.ErrorIs(t, s.ReturnBike(b, nil, u), ErrRejected)

	p1, _ := s.BikeIDByLabel("PED-001")
	require.NoError(t, s.ReserveBike(&p1, u))
	require.NoError(t, s.CancelReservation(u))
	assert.Equal(t, Full, s.Status())
}

func TestAllDocksOutOfService(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 3, 0)
	u := Caller{ID: uuid.New()}

	for _, d := range s.Docks() {
		changed, err := s.SetDockOutOfService(d.ID)
		require.NoError(t, err)
		assert.True(t, changed)
	}
	require.Equal(t, OutOfService, s.Status())

	assert.ErrorIs(t, s.ReserveBike(nil, u), ErrRejected)
	_, err := s.TakeBike(uuid.New(), false, u)
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, s.CanTakeBike())

	other := newTestStation(t, rig, 2, 1)
	pid, _ := other.BikeIDByLabel("PED-001")
	b, err := other.TakeBike(pid, false, u)
	require.NoError(t, err)
	assert.ErrorIs(t, s.ReturnBike(b, nil, u), ErrRejected)

	// Restoring any dock brings the station back into service.
	changed, err := s.RestoreDock(s.Docks()[0].ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, Empty, s.Status())
}

func TestDockToggleEdges(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 3, 1)

	var emptyDock, occupiedDock uuid.UUID
	for _, d := range s.Docks() {
		if d.Status == DockEmpty {
			emptyDock = d.ID
		} else {
			occupiedDock = d.ID
		}
	}

	// An occupied dock cannot be forced out of service.
	_, err := s.SetDockOutOfService(occupiedDock)
	assert.ErrorIs(t, err, ErrRejected)

	changed, err := s.SetDockOutOfService(emptyDock)
	require.NoError(t, err)
	assert.True(t, changed)

	// Terminal no-ops in both directions.
	changed, err = s.SetDockOutOfService(emptyDock)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.RestoreDock(occupiedDock)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.RestoreDock(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	assertCounters(t, s)
}

func TestCapacityOneStationChainsThroughPartiallyFilled(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 1, 0)
	require.Equal(t, Empty, s.Status())

	other := newTestStation(t, rig, 2, 1)
	u := Caller{ID: uuid.New()}
	pid, _ := other.BikeIDByLabel("PED-001")
	b, err := other.TakeBike(pid, false, u)
	require.NoError(t, err)

	require.NoError(t, s.ReturnBike(b, nil, u))
	require.Equal(t, Full, s.Status())

	trs := s.StatusTransitions()
	require.Len(t, trs, 2)
	assert.Equal(t, Empty, trs[0].From)
	assert.Equal(t, PartiallyFilled, trs[0].To)
	assert.Equal(t, PartiallyFilled, trs[1].From)
	assert.Equal(t, Full, trs[1].To)

	bid, _ := s.BikeIDByLabel("PED-001")
	_, err = s.TakeBike(bid, false, u)
	require.NoError(t, err)
	assert.Equal(t, Empty, s.Status())

	trs = s.StatusTransitions()
	require.Len(t, trs, 4)
	assert.Equal(t, PartiallyFilled, trs[2].To)
	assert.Equal(t, Empty, trs[3].To)
}

func TestSendBikeToMaintenance(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 3, 2)
	u := Caller{ID: uuid.New()}

	p1, _ := s.BikeIDByLabel("PED-001")
	b, err := s.SendBikeToMaintenance(p1)
	require.NoError(t, err)
	assert.Equal(t, bike.Maintenance, b.Status)
	assert.Equal(t, 1, s.OccupiedDocks())
	assertCounters(t, s)

	// A reserved bike cannot be pulled while the hold stands.
	p2, _ := s.BikeIDByLabel("PED-002")
	require.NoError(t, s.ReserveBike(&p2, u))
	_, err = s.SendBikeToMaintenance(p2)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestReservationNotifications(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 10, 2)
	u1 := Caller{ID: uuid.New(), Token: "tok-1"}

	p1, _ := s.BikeIDByLabel("PED-001")
	require.NoError(t, s.ReserveBike(&p1, u1))
	require.Equal(t, 2, rig.sched.len())

	// Warning a minute before the hold lapses.
	rig.clock.Advance(9 * time.Minute)
	rig.sched.fire(t0.Add(9 * time.Minute))
	msg := rig.notifier.expect(t, "Reservation expiring")
	assert.Equal(t, "tok-1", msg.Token)

	// The expiry callback resolves the hold itself and says so.
	rig.clock.Advance(2 * time.Minute)
	rig.sched.fire(t0.Add(11 * time.Minute))
	rig.notifier.expect(t, "Reservation expired")
	assert.False(t, s.ReservationActive())
}

func TestReservationWarningsSelfCancel(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 10, 2)
	u1 := Caller{ID: uuid.New(), Token: "tok-1"}

	p1, _ := s.BikeIDByLabel("PED-001")
	require.NoError(t, s.ReserveBike(&p1, u1))

	// Rider claims the bike before the warnings fire; the callbacks find
	// the reservation gone and stay silent.
	_, err := s.TakeBike(p1, true, u1)
	require.NoError(t, err)

	rig.clock.Advance(11 * time.Minute)
	rig.sched.fire(t0.Add(11 * time.Minute))
	rig.notifier.expectNone(t)
}

func TestOvertimeNotifications(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 10, 2)
	u := Caller{ID: uuid.New(), Token: "tok-9"}

	p1, _ := s.BikeIDByLabel("PED-001")
	b, err := s.TakeBike(p1, false, u)
	require.NoError(t, err)
	rig.trips.TrackTrip(b)
	require.Equal(t, 3, rig.sched.len())

	rig.clock.Advance(40 * time.Minute)
	rig.sched.fire(t0.Add(40 * time.Minute))
	rig.notifier.expect(t, "Overtime approaching")

	rig.clock.Advance(5 * time.Minute)
	rig.sched.fire(t0.Add(45 * time.Minute))
	rig.notifier.expect(t, "Overtime started")

	rig.clock.Advance(60 * time.Minute)
	rig.sched.fire(t0.Add(105 * time.Minute))
	msg := rig.notifier.expect(t, "Overtime charge accruing")
	assert.Contains(t, msg.Body, "PED-001")
}

func TestOvertimeWarningsSelfCancelAfterReturn(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 10, 2)
	u := Caller{ID: uuid.New(), Token: "tok-9"}

	p1, _ := s.BikeIDByLabel("PED-001")
	b, err := s.TakeBike(p1, false, u)
	require.NoError(t, err)
	rig.trips.TrackTrip(b)

	rig.clock.Advance(30 * time.Minute)
	require.NoError(t, s.ReturnBike(b, nil, u))
	rig.trips.EndTrip(b.ID)
	rig.notifier.expect(t, "Trip ended")

	rig.clock.Advance(90 * time.Minute)
	rig.sched.fire(t0.Add(2 * time.Hour))
	rig.notifier.expectNone(t)
}

func TestOvertimeCheckSafeAfterReturnElsewhere(t *testing.T) {
	rig := newRig()
	src := newTestStation(t, rig, 3, 1)
	dst := newTestStation(t, rig, 3, 0)
	u := Caller{ID: uuid.New(), Token: "tok-1"}

	p1, _ := src.BikeIDByLabel("PED-001")
	b, err := src.TakeBike(p1, false, u)
	require.NoError(t, err)
	rig.trips.TrackTrip(b)

	// The first warning fires while the bike is being docked at a different
	// station. The callback consults the trip index, never the bike, so the
	// two may run concurrently.
	rig.clock.Advance(40 * time.Minute)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rig.sched.fire(t0.Add(40 * time.Minute))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, dst.ReturnBike(b, nil, u))
		rig.trips.EndTrip(b.ID)
	}()
	wg.Wait()
	rig.notifier.drain()

	// With the trip over, the remaining warnings stay silent.
	rig.clock.Advance(5 * time.Minute)
	rig.sched.fire(t0.Add(45 * time.Minute))
	rig.notifier.expectNone(t)
	assertCounters(t, dst)
}

func TestReservationExpiryNoticeFiresOnSchedule(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 10, 2)
	u := Caller{ID: uuid.New(), Token: "tok-1"}

	p1, _ := s.BikeIDByLabel("PED-001")
	require.NoError(t, s.ReserveBike(&p1, u))

	// Advance only to the callbacks' own due times; the expiry notice must
	// land without any later operation nudging the station.
	rig.clock.Advance(10*time.Minute + time.Second)
	rig.sched.fire(t0.Add(10*time.Minute + time.Second))

	// Both notices are delivered on their own goroutines, in either order.
	titles := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-rig.notifier.msgs:
			titles[msg.Title] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for reservation notices")
		}
	}
	assert.True(t, titles["Reservation expiring"])
	assert.True(t, titles["Reservation expired"])
	assert.False(t, s.ReservationActive())
}

func TestReservationCheckoutSchedulesNoOvertimeWarnings(t *testing.T) {
	rig := newRig()
	s := newTestStation(t, rig, 10, 2)
	u := Caller{ID: uuid.New()}

	p1, _ := s.BikeIDByLabel("PED-001")
	require.NoError(t, s.ReserveBike(&p1, u))
	require.Equal(t, 2, rig.sched.len())

	_, err := s.TakeBike(p1, true, u)
	require.NoError(t, err)
	assert.Equal(t, 2, rig.sched.len(), "reservation checkout must not add overtime warnings")
}
