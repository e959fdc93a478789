package planassembler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routeplan/internal/domain"
	"routeplan/internal/routingclient"
)

type fakeRoutingClient struct {
	result *routingclient.TripResult
	err    error
	calls  int
}

func (f *fakeRoutingClient) Trip(ctx context.Context, points []domain.Coordinate) (*routingclient.TripResult, error) {
	f.calls++
	return f.result, f.err
}

var depot = domain.Coordinate{Lat: 37.0, Lon: -122.0}

func TestAssembleZone_EmptyZoneYieldsNoRoute(t *testing.T) {
	fake := &fakeRoutingClient{}
	a := New(fake, depot)

	route, err := a.AssembleZone(context.Background(), "R1", "driver1", "truck1", "co1", nil, time.Now())

	require.NoError(t, err)
	assert.Nil(t, route)
	assert.Zero(t, fake.calls)
}

func TestAssembleZone_SingleParcelBypassesEngine(t *testing.T) {
	fake := &fakeRoutingClient{}
	a := New(fake, depot)
	parcel := &domain.Parcel{ID: "P1", Location: domain.Coordinate{Lat: 1, Lon: 2}, WeightKg: 1, Status: domain.ParcelStatusPending}

	route, err := a.AssembleZone(context.Background(), "R1", "driver1", "truck1", "co1", []*domain.Parcel{parcel}, time.Now())

	require.NoError(t, err)
	require.NotNil(t, route)
	assert.Zero(t, fake.calls)
	require.Len(t, route.Sequence, 3)
	assert.Equal(t, "DEPOT", route.Sequence[0].Snapshot.ParcelID)
	assert.Equal(t, "P1", route.Sequence[1].Snapshot.ParcelID)
	assert.True(t, route.Sequence[2].IsReturnLeg)
	assert.Equal(t, "DEPOT", route.Sequence[2].Snapshot.ParcelID)
}

func TestAssembleZone_MultiParcelBuildsVisitOrderedSequence(t *testing.T) {
	p1 := &domain.Parcel{ID: "P1", Location: domain.Coordinate{Lat: 1, Lon: 1}, WeightKg: 1, Status: domain.ParcelStatusPending}
	p2 := &domain.Parcel{ID: "P2", Location: domain.Coordinate{Lat: 2, Lon: 2}, WeightKg: 1, Status: domain.ParcelStatusPending}

	fake := &fakeRoutingClient{
		result: &routingclient.TripResult{
			Visits: []routingclient.Visit{
				{InputIndex: 0, Snapped: depot, LegDurationS: 0},
				{InputIndex: 2, Snapped: p2.Location, LegDurationS: 50},
				{InputIndex: 1, Snapped: p1.Location, LegDurationS: 80},
			},
			ClosingLegDurationS: 30,
			Geometry:            []domain.Coordinate{depot, p2.Location, p1.Location, depot},
		},
	}
	a := New(fake, depot)

	route, err := a.AssembleZone(context.Background(), "R1", "driver1", "truck1", "co1", []*domain.Parcel{p1, p2}, time.Now())

	require.NoError(t, err)
	require.NotNil(t, route)
	require.NoError(t, route.Validate())
	require.Len(t, route.Sequence, 4)
	assert.Equal(t, "DEPOT", route.Sequence[0].Snapshot.ParcelID)
	assert.Equal(t, "P2", route.Sequence[1].Snapshot.ParcelID)
	assert.Equal(t, 50.0, route.Sequence[1].InboundDurationS)
	assert.Equal(t, "P1", route.Sequence[2].Snapshot.ParcelID)
	assert.Equal(t, 80.0, route.Sequence[2].InboundDurationS)
	assert.True(t, route.Sequence[3].IsReturnLeg)
	assert.Equal(t, 30.0, route.Sequence[3].InboundDurationS)
	assert.Equal(t, 1, fake.calls)
}

func TestSelectEligibleParcels_FiltersAndOrdersByDueDate(t *testing.T) {
	today := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	overdue := &domain.Parcel{ID: "P1", DueDate: today.AddDate(0, 0, -2), Status: domain.ParcelStatusPending}
	dueToday := &domain.Parcel{ID: "P2", DueDate: today, Status: domain.ParcelStatusPending}
	future := &domain.Parcel{ID: "P3", DueDate: today.AddDate(0, 0, 5), Status: domain.ParcelStatusPending}
	alreadyTransit := &domain.Parcel{ID: "P4", DueDate: today.AddDate(0, 0, -1), Status: domain.ParcelStatusInTransit}

	eligible := SelectEligibleParcels([]*domain.Parcel{future, dueToday, overdue, alreadyTransit}, today)

	require.Len(t, eligible, 2)
	assert.Equal(t, "P1", eligible[0].ID)
	assert.Equal(t, "P2", eligible[1].ID)
}

func TestSelectEligibleParcels_TieBreaksByID(t *testing.T) {
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	a := &domain.Parcel{ID: "B", DueDate: today, Status: domain.ParcelStatusPending}
	b := &domain.Parcel{ID: "A", DueDate: today, Status: domain.ParcelStatusPending}

	eligible := SelectEligibleParcels([]*domain.Parcel{a, b}, today)

	require.Len(t, eligible, 2)
	assert.Equal(t, "A", eligible[0].ID)
	assert.Equal(t, "B", eligible[1].ID)
}

func TestAssembleZone_EngineErrorPropagates(t *testing.T) {
	fake := &fakeRoutingClient{err: assert.AnError}
	a := New(fake, depot)
	parcels := []*domain.Parcel{
		{ID: "P1", Location: domain.Coordinate{Lat: 1, Lon: 1}, WeightKg: 1},
		{ID: "P2", Location: domain.Coordinate{Lat: 2, Lon: 2}, WeightKg: 1},
	}

	route, err := a.AssembleZone(context.Background(), "R1", "driver1", "truck1", "co1", parcels, time.Now())

	require.Error(t, err)
	assert.Nil(t, route)
}
