package station

import (
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semanticallynull/dockingengine-backend/bike"
)

// seededSnapshot builds a station with some history (a completed trip, a
// populated status log and a live reservation) and returns its snapshot.
func seededSnapshot(t *testing.T, rig *testRig) Snapshot {
	t.Helper()
	s := newTestStation(t, rig, 3, 3)
	u := Caller{ID: uuid.New(), Token: "tok-1"}

	p1, _ := s.BikeIDByLabel("PED-001")
	b, err := s.TakeBike(p1, false, u)
	require.NoError(t, err)
	rig.clock.Advance(20 * time.Minute)
	require.NoError(t, s.ReturnBike(b, nil, u))
	rig.notifier.expect(t, "Trip ended")

	p2, _ := s.BikeIDByLabel("PED-002")
	require.NoError(t, s.ReserveBike(&p2, u))

	return s.Snapshot()
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	rig := newRig()
	snap := seededSnapshot(t, rig)

	restored, err := Restore(snap, rig.deps())
	require.NoError(t, err)

	got := restored.Snapshot()
	require.Equal(t, snap, got, "restored snapshot diverged:\n%s", spew.Sdump(got))

	// The restored aggregate is live: the reservation survives and expires
	// on schedule.
	assert.True(t, restored.ReservationActive())
	rig.clock.Advance(11 * time.Minute)
	assert.True(t, restored.UpdateReservation())
}

func TestRestoreStatusFromTransitionLog(t *testing.T) {
	rig := newRig()
	snap := seededSnapshot(t, rig)
	require.NotEmpty(t, snap.StatusTransitions)

	restored, err := Restore(snap, rig.deps())
	require.NoError(t, err)
	last := snap.StatusTransitions[len(snap.StatusTransitions)-1]
	assert.Equal(t, last.To, restored.Status())
}

func TestRestoreFreshStationDerivesStatus(t *testing.T) {
	rig := newRig()
	snap := newTestStation(t, rig, 5, 2).Snapshot()
	require.Empty(t, snap.StatusTransitions)

	restored, err := Restore(snap, rig.deps())
	require.NoError(t, err)
	assert.Equal(t, PartiallyFilled, restored.Status())
}

func TestRestoreRejectsCounterMismatch(t *testing.T) {
	rig := newRig()
	snap := seededSnapshot(t, rig)
	snap.FreeDocks++

	_, err := Restore(snap, rig.deps())
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, snap.ID, ie.StationID)
}

func TestRestoreRejectsOccupiedDockWithoutBike(t *testing.T) {
	rig := newRig()
	snap := seededSnapshot(t, rig)
	for i := range snap.Docks {
		if snap.Docks[i].Bike != nil {
			snap.Docks[i].Bike = nil
			break
		}
	}

	_, err := Restore(snap, rig.deps())
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
}

func TestRestoreRejectsDuplicateBike(t *testing.T) {
	rig := newRig()
	snap := seededSnapshot(t, rig)

	var first *bike.Bicycle
	for i := range snap.Docks {
		if snap.Docks[i].Bike == nil {
			continue
		}
		if first == nil {
			first = snap.Docks[i].Bike
			continue
		}
		snap.Docks[i].Bike = first
		break
	}

	_, err := Restore(snap, rig.deps())
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
}

func TestRestoreRejectsUnknownDockStatus(t *testing.T) {
	rig := newRig()
	snap := seededSnapshot(t, rig)
	snap.Docks[0].Status = "charging"

	_, err := Restore(snap, rig.deps())
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
}

func TestRestoreRejectsZeroHoldDuration(t *testing.T) {
	rig := newRig()
	snap := seededSnapshot(t, rig)
	snap.HoldDuration = 0

	_, err := Restore(snap, rig.deps())
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
}

func TestRestoreRejectsReservationWithoutUser(t *testing.T) {
	rig := newRig()
	snap := seededSnapshot(t, rig)
	require.True(t, snap.ReservationActive)
	snap.ReservingUserID = nil

	_, err := Restore(snap, rig.deps())
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
}

func TestRestoreRejectsStatusLogMismatch(t *testing.T) {
	rig := newRig()
	snap := seededSnapshot(t, rig)
	require.NotEmpty(t, snap.StatusTransitions)
	snap.StatusTransitions[len(snap.StatusTransitions)-1].To = Empty

	_, err := Restore(snap, rig.deps())
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
}
