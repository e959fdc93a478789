package planservice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routeplan/internal/clock"
	"routeplan/internal/domain"
	"routeplan/internal/driverstore"
	"routeplan/internal/execution"
	"routeplan/internal/historymat"
	"routeplan/internal/historystore"
	"routeplan/internal/notify"
	"routeplan/internal/officedeliverystore"
	"routeplan/internal/officefallback"
	"routeplan/internal/officestore"
	"routeplan/internal/parcelfsm"
	"routeplan/internal/parcelstore"
	"routeplan/internal/planassembler"
	"routeplan/internal/routestore"
	"routeplan/internal/routingclient"
	"routeplan/internal/truckstore"
	"routeplan/pkg/apperror"
)

type fakeParcelStore struct {
	parcels map[string]*domain.Parcel
}

func (s *fakeParcelStore) Create(ctx context.Context, p *domain.Parcel) error {
	s.parcels[p.ID] = p
	return nil
}
func (s *fakeParcelStore) GetByID(ctx context.Context, id string) (*domain.Parcel, error) {
	p, ok := s.parcels[id]
	if !ok {
		return nil, parcelstore.ErrNotFound
	}
	return p, nil
}
func (s *fakeParcelStore) ListPendingByCompany(ctx context.Context, companyID string, asOf time.Time) ([]*domain.Parcel, error) {
	var results []*domain.Parcel
	for _, p := range s.parcels {
		if p.CompanyID == companyID && p.Status == domain.ParcelStatusPending {
			results = append(results, p)
		}
	}
	return results, nil
}
func (s *fakeParcelStore) ListByIDs(ctx context.Context, ids []string) ([]*domain.Parcel, error) {
	var results []*domain.Parcel
	for _, id := range ids {
		if p, ok := s.parcels[id]; ok {
			results = append(results, p)
		}
	}
	return results, nil
}
func (s *fakeParcelStore) ListDueOn(ctx context.Context, companyID string, day time.Time, statuses []domain.ParcelStatus) ([]*domain.Parcel, error) {
	return nil, nil
}
func (s *fakeParcelStore) UpdateStatus(ctx context.Context, id string, status domain.ParcelStatus, officeRef, signature string, updatedAt time.Time) error {
	p, ok := s.parcels[id]
	if !ok {
		return parcelstore.ErrNotFound
	}
	p.Status = status
	p.OfficeRef = officeRef
	p.Signature = signature
	p.UpdatedAt = updatedAt
	return nil
}

type fakeTruckStore struct {
	trucks map[string]*domain.Truck
}

func (s *fakeTruckStore) GetByPlate(ctx context.Context, plate string) (*domain.Truck, error) {
	t, ok := s.trucks[plate]
	if !ok {
		return nil, truckstore.ErrNotFound
	}
	return t, nil
}
func (s *fakeTruckStore) ListAvailable(ctx context.Context, companyID string) ([]*domain.Truck, error) {
	var results []*domain.Truck
	for _, t := range s.trucks {
		if t.CompanyID == companyID && !t.InUse {
			results = append(results, t)
		}
	}
	return results, nil
}
func (s *fakeTruckStore) SetInUse(ctx context.Context, plate string, inUse bool) error {
	t, ok := s.trucks[plate]
	if !ok {
		return truckstore.ErrNotFound
	}
	t.InUse = inUse
	return nil
}

type fakeDriverStore struct {
	drivers map[string]*domain.Driver
}

func (s *fakeDriverStore) GetByUsername(ctx context.Context, username string) (*domain.Driver, error) {
	d, ok := s.drivers[username]
	if !ok {
		return nil, driverstore.ErrNotFound
	}
	return d, nil
}
func (s *fakeDriverStore) ListVerifiedByCompany(ctx context.Context, companyID string) ([]*domain.Driver, error) {
	return nil, nil
}

type fakeRouteStore struct {
	routes      map[string]*domain.RouteAssignment
	activeByDrv map[string]string
}

func newFakeRouteStore() *fakeRouteStore {
	return &fakeRouteStore{routes: map[string]*domain.RouteAssignment{}, activeByDrv: map[string]string{}}
}

func (s *fakeRouteStore) Create(ctx context.Context, route *domain.RouteAssignment) error {
	if _, ok := s.activeByDrv[route.DriverRef]; ok {
		return apperror.New(apperror.CodeActiveRouteExists, "driver already has an active route")
	}
	s.routes[route.RouteID] = route
	s.activeByDrv[route.DriverRef] = route.RouteID
	return nil
}
func (s *fakeRouteStore) GetActiveForDriver(ctx context.Context, driverRef string) (*domain.RouteAssignment, error) {
	id, ok := s.activeByDrv[driverRef]
	if !ok {
		return nil, routestore.ErrNotFound
	}
	return s.routes[id], nil
}
func (s *fakeRouteStore) GetByDriver(ctx context.Context, driverRef string) (*domain.RouteAssignment, error) {
	return nil, routestore.ErrNotFound
}
func (s *fakeRouteStore) ListActiveOn(ctx context.Context, companyID string, date time.Time) ([]*domain.RouteAssignment, error) {
	return nil, nil
}
func (s *fakeRouteStore) Deactivate(ctx context.Context, routeID string) error {
	route, ok := s.routes[routeID]
	if !ok {
		return routestore.ErrNotFound
	}
	route.IsActive = false
	delete(s.activeByDrv, route.DriverRef)
	return nil
}
func (s *fakeRouteStore) DropAll(ctx context.Context, companyID string) ([]*domain.RouteAssignment, error) {
	return nil, nil
}
func (s *fakeRouteStore) UpdatePathGeometry(ctx context.Context, routeID string, geometry []domain.Coordinate) error {
	return nil
}
func (s *fakeRouteStore) UpdateVisitStatusInActiveRoutes(ctx context.Context, parcelID string, status domain.ParcelStatus) (int, error) {
	touched := 0
	for _, r := range s.routes {
		if !r.IsActive {
			continue
		}
		if v, ok := r.FindVisit(parcelID); ok {
			v.Status = status
			touched++
		}
	}
	return touched, nil
}

type fakeOfficeStore struct{}

func (fakeOfficeStore) GetByID(ctx context.Context, id string) (*domain.Office, error) {
	return nil, officestore.ErrNotFound
}
func (fakeOfficeStore) ListForCompany(ctx context.Context, companyID string) ([]*domain.Office, error) {
	return nil, nil
}
func (fakeOfficeStore) ListGlobal(ctx context.Context) ([]*domain.Office, error) { return nil, nil }

type fakeOfficeDeliveryStore struct{}

func (fakeOfficeDeliveryStore) Create(ctx context.Context, d *domain.OfficeDelivery) error { return nil }
func (fakeOfficeDeliveryStore) ListDroppedParcelIDs(ctx context.Context, driverRef string) (map[string]bool, error) {
	return map[string]bool{}, nil
}
func (fakeOfficeDeliveryStore) FilterNew(ctx context.Context, driverRef, officeRef string, date time.Time, parcelIDs []string) ([]string, error) {
	return parcelIDs, nil
}

type fakeHistoryStore struct{}

func (fakeHistoryStore) Upsert(ctx context.Context, h *domain.DeliveryHistory) error { return nil }
func (fakeHistoryStore) GetByDateAndDriver(ctx context.Context, date time.Time, driverRef string) (*domain.DeliveryHistory, error) {
	return nil, historystore.ErrNotFound
}
func (fakeHistoryStore) ListByCompanySince(ctx context.Context, companyID string, since time.Time) ([]*domain.DeliveryHistory, error) {
	return nil, nil
}
func (fakeHistoryStore) ListByCompanyOnDate(ctx context.Context, companyID string, date time.Time) ([]*domain.DeliveryHistory, error) {
	return nil, nil
}

type identityRoutingClient struct{}

func (identityRoutingClient) Trip(ctx context.Context, points []domain.Coordinate) (*routingclient.TripResult, error) {
	visits := make([]routingclient.Visit, len(points))
	for i, p := range points {
		visits[i] = routingclient.Visit{InputIndex: i, Snapped: p}
	}
	return &routingclient.TripResult{Visits: visits, Geometry: points}, nil
}

func buildService(t *testing.T, parcels map[string]*domain.Parcel, trucks map[string]*domain.Truck, drivers map[string]*domain.Driver) (*Service, *fakeRouteStore) {
	t.Helper()
	parcelStore := &fakeParcelStore{parcels: parcels}
	truckStore := &fakeTruckStore{trucks: trucks}
	driverStore := &fakeDriverStore{drivers: drivers}
	routes := newFakeRouteStore()

	depot := domain.Coordinate{Lat: 37.4220, Lon: -122.0841}
	assembler := planassembler.New(identityRoutingClient{}, depot)
	fsm := parcelfsm.New(parcelStore, routes, clock.Fixed{T: time.Now()})
	fallback := officefallback.New(fakeOfficeStore{}, fakeOfficeDeliveryStore{}, routes, fsm, identityRoutingClient{}, notify.New())
	historyMat := historymat.New(fakeHistoryStore{}, parcelStore)
	sup := execution.New(routes, truckStore, driverStore, fsm, fallback, historyMat, identityRoutingClient{}, notify.New(), depot, clock.Fixed{T: time.Now()})

	return New(parcelStore, truckStore, driverStore, assembler, sup), routes
}

func parcelNear(id, companyID string, lat, lon, weight float64, due time.Time) *domain.Parcel {
	return &domain.Parcel{
		ID: id, CompanyID: companyID, Location: domain.Coordinate{Lat: lat, Lon: lon},
		WeightKg: weight, Status: domain.ParcelStatusPending, DueDate: due,
	}
}

func TestCreatePlan_HappyPath_TwoDriversTwoTrucks(t *testing.T) {
	today := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	parcels := map[string]*domain.Parcel{}
	for i := 0; i < 5; i++ {
		id := "A" + string(rune('0'+i))
		parcels[id] = parcelNear(id, "co1", 37.40+float64(i)*0.01, -122.08, 6, today)
	}
	for i := 0; i < 5; i++ {
		id := "B" + string(rune('0'+i))
		parcels[id] = parcelNear(id, "co1", 10.0+float64(i)*0.01, 20.0, 14, today)
	}
	trucks := map[string]*domain.Truck{
		"T-small": {LicensePlate: "T-small", CompanyID: "co1", CapacityKg: 50},
		"T-big":   {LicensePlate: "T-big", CompanyID: "co1", CapacityKg: 200},
	}
	drivers := map[string]*domain.Driver{
		"driver1": {Username: "driver1", CompanyID: "co1", Verified: true},
		"driver2": {Username: "driver2", CompanyID: "co1", Verified: true},
	}
	svc, routes := buildService(t, parcels, trucks, drivers)

	created, err := svc.CreatePlan(context.Background(), "co1", []string{"driver1", "driver2"}, today)

	require.NoError(t, err)
	assert.Len(t, created, 2)
	for _, r := range created {
		assert.True(t, r.IsActive)
		assert.Equal(t, "DEPOT", r.Sequence[0].Snapshot.ParcelID)
		assert.True(t, r.Sequence[len(r.Sequence)-1].IsReturnLeg)
		_, ok := routes.activeByDrv[r.DriverRef]
		assert.True(t, ok)
	}
}

func TestCreatePlan_InsufficientCapacity_NoRoutesPersisted(t *testing.T) {
	today := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	parcels := map[string]*domain.Parcel{
		"P1": parcelNear("P1", "co1", 37.0, -122.0, 30, today),
	}
	trucks := map[string]*domain.Truck{
		"T1": {LicensePlate: "T1", CompanyID: "co1", CapacityKg: 20},
	}
	drivers := map[string]*domain.Driver{
		"driver1": {Username: "driver1", CompanyID: "co1", Verified: true},
	}
	svc, routes := buildService(t, parcels, trucks, drivers)

	_, err := svc.CreatePlan(context.Background(), "co1", []string{"driver1"}, today)

	require.Error(t, err)
	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.CodeInsufficientCapacity, appErr.Code)
	assert.Empty(t, routes.routes)
	assert.False(t, trucks["T1"].InUse)
}

func TestCreatePlan_NoEligibleParcels(t *testing.T) {
	svc, _ := buildService(t, map[string]*domain.Parcel{}, map[string]*domain.Truck{}, map[string]*domain.Driver{
		"driver1": {Username: "driver1", CompanyID: "co1", Verified: true},
	})

	_, err := svc.CreatePlan(context.Background(), "co1", []string{"driver1"}, time.Now())

	require.Error(t, err)
	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.CodeNoEligibleParcels, appErr.Code)
}

func TestCreatePlan_RequiresAtLeastOneDriver(t *testing.T) {
	svc, _ := buildService(t, map[string]*domain.Parcel{}, map[string]*domain.Truck{}, map[string]*domain.Driver{})

	_, err := svc.CreatePlan(context.Background(), "co1", nil, time.Now())

	require.Error(t, err)
	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.CodeMissingField, appErr.Code)
}

func TestAssignManual_PersistsSingleRoute(t *testing.T) {
	parcels := map[string]*domain.Parcel{
		"P1": {ID: "P1", CompanyID: "co1", WeightKg: 4, Status: domain.ParcelStatusPending, Location: domain.Coordinate{Lat: 1, Lon: 1}},
	}
	trucks := map[string]*domain.Truck{"T1": {LicensePlate: "T1", CompanyID: "co1", CapacityKg: 50}}
	drivers := map[string]*domain.Driver{"driver1": {Username: "driver1", CompanyID: "co1", Verified: true}}
	svc, routes := buildService(t, parcels, trucks, drivers)

	route, err := svc.AssignManual(context.Background(), "co1", "driver1", "T1", []*domain.Parcel{parcels["P1"]}, time.Now())

	require.NoError(t, err)
	require.NotNil(t, route)
	assert.True(t, route.IsActive)
	assert.Contains(t, routes.activeByDrv, "driver1")
	assert.Equal(t, domain.ParcelStatusInTransit, parcels["P1"].Status)
}

func TestAssignManual_RequiresParcels(t *testing.T) {
	svc, _ := buildService(t, map[string]*domain.Parcel{}, map[string]*domain.Truck{}, map[string]*domain.Driver{})

	_, err := svc.AssignManual(context.Background(), "co1", "driver1", "T1", nil, time.Now())

	require.Error(t, err)
	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.CodeNoEligibleParcels, appErr.Code)
}
