package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
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
	"routeplan/internal/planservice"
	"routeplan/internal/routestore"
	"routeplan/internal/routingclient"
	"routeplan/internal/statsquery"
	"routeplan/internal/truckstore"
	"routeplan/pkg/authctx"
)

const jwtSecret = "test-secret"

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
	var out []*domain.Parcel
	for _, p := range s.parcels {
		if p.CompanyID == companyID && p.Status == domain.ParcelStatusPending {
			out = append(out, p)
		}
	}
	return out, nil
}
func (s *fakeParcelStore) ListByIDs(ctx context.Context, ids []string) ([]*domain.Parcel, error) {
	var out []*domain.Parcel
	for _, id := range ids {
		if p, ok := s.parcels[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
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

type fakeTruckStore struct{ trucks map[string]*domain.Truck }

func (s *fakeTruckStore) GetByPlate(ctx context.Context, plate string) (*domain.Truck, error) {
	t, ok := s.trucks[plate]
	if !ok {
		return nil, truckstore.ErrNotFound
	}
	return t, nil
}
func (s *fakeTruckStore) ListAvailable(ctx context.Context, companyID string) ([]*domain.Truck, error) {
	var out []*domain.Truck
	for _, t := range s.trucks {
		if t.CompanyID == companyID && !t.InUse {
			out = append(out, t)
		}
	}
	return out, nil
}
func (s *fakeTruckStore) SetInUse(ctx context.Context, plate string, inUse bool) error {
	t, ok := s.trucks[plate]
	if !ok {
		return truckstore.ErrNotFound
	}
	t.InUse = inUse
	return nil
}

type fakeDriverStore struct{ drivers map[string]*domain.Driver }

func (s *fakeDriverStore) GetByUsername(ctx context.Context, username string) (*domain.Driver, error) {
	d, ok := s.drivers[username]
	if !ok {
		return nil, driverstore.ErrNotFound
	}
	return d, nil
}
func (s *fakeDriverStore) ListVerifiedByCompany(ctx context.Context, companyID string) ([]*domain.Driver, error) {
	var out []*domain.Driver
	for _, d := range s.drivers {
		if d.CompanyID == companyID && d.Verified {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeRouteStore struct {
	routes      map[string]*domain.RouteAssignment
	activeByDrv map[string]string
	lastByDrv   map[string]string
}

func newFakeRouteStore() *fakeRouteStore {
	return &fakeRouteStore{routes: map[string]*domain.RouteAssignment{}, activeByDrv: map[string]string{}, lastByDrv: map[string]string{}}
}
func (s *fakeRouteStore) Create(ctx context.Context, route *domain.RouteAssignment) error {
	s.routes[route.RouteID] = route
	s.activeByDrv[route.DriverRef] = route.RouteID
	s.lastByDrv[route.DriverRef] = route.RouteID
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
	id, ok := s.lastByDrv[driverRef]
	if !ok {
		return nil, routestore.ErrNotFound
	}
	return s.routes[id], nil
}
func (s *fakeRouteStore) ListActiveOn(ctx context.Context, companyID string, date time.Time) ([]*domain.RouteAssignment, error) {
	var out []*domain.RouteAssignment
	for _, r := range s.routes {
		if r.CompanyID == companyID && r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
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

func (fakeOfficeDeliveryStore) FilterNew(ctx context.Context, driverRef, officeRef string, date time.Time, parcelIDs []string) ([]string, error) {
	return parcelIDs, nil
}
func (fakeOfficeDeliveryStore) Create(ctx context.Context, d *domain.OfficeDelivery) error { return nil }
func (fakeOfficeDeliveryStore) ListDroppedParcelIDs(ctx context.Context, driverRef string) (map[string]bool, error) {
	return map[string]bool{}, nil
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

type testRig struct {
	engine  *gin.Engine
	parcels *fakeParcelStore
	trucks  *fakeTruckStore
	drivers *fakeDriverStore
	routes  *fakeRouteStore
}

func newTestRig() *testRig {
	gin.SetMode(gin.TestMode)
	parcels := &fakeParcelStore{parcels: map[string]*domain.Parcel{}}
	trucks := &fakeTruckStore{trucks: map[string]*domain.Truck{}}
	drivers := &fakeDriverStore{drivers: map[string]*domain.Driver{}}
	routes := newFakeRouteStore()

	depot := domain.Coordinate{Lat: 1, Lon: 1}
	assembler := planassembler.New(identityRoutingClient{}, depot)
	fsm := parcelfsm.New(parcels, routes, clock.Fixed{T: time.Now()})
	fallback := officefallback.New(fakeOfficeStore{}, fakeOfficeDeliveryStore{}, routes, fsm, identityRoutingClient{}, notify.New())
	historyMat := historymat.New(fakeHistoryStore{}, parcels)
	sup := execution.New(routes, trucks, drivers, fsm, fallback, historyMat, identityRoutingClient{}, notify.New(), depot, clock.Fixed{T: time.Now()})
	plan := planservice.New(parcels, trucks, drivers, assembler, sup)
	stats := statsquery.New(routes, parcels, drivers)

	handler := New(plan, sup, historyMat, stats, parcels, routes)

	engine := gin.New()
	engine.Use(authctx.Middleware(authctx.NewVerifier(jwtSecret)))
	RegisterRoutes(engine, handler)

	return &testRig{engine: engine, parcels: parcels, trucks: trucks, drivers: drivers, routes: routes}
}

func signToken(t *testing.T, subject, role, companyID string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":        subject,
		"role":       role,
		"company_id": companyID,
		"exp":        time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

func doRequest(t *testing.T, engine *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestCreatePlan_MissingAuth_Returns401(t *testing.T) {
	rig := newTestRig()

	rec := doRequest(t, rig.engine, http.MethodPost, "/route/", "", map[string]any{"drivers": []string{"driver1"}})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreatePlan_WrongRole_Returns403(t *testing.T) {
	rig := newTestRig()
	token := signToken(t, "driver1", "driver", "co1")

	rec := doRequest(t, rig.engine, http.MethodPost, "/route/", token, map[string]any{"drivers": []string{"driver1"}})

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreatePlan_Success(t *testing.T) {
	rig := newTestRig()
	rig.parcels.parcels["P1"] = &domain.Parcel{ID: "P1", CompanyID: "co1", WeightKg: 5, Status: domain.ParcelStatusPending, Location: domain.Coordinate{Lat: 2, Lon: 2}}
	rig.trucks.trucks["T1"] = &domain.Truck{LicensePlate: "T1", CompanyID: "co1", CapacityKg: 50}
	rig.drivers.drivers["driver1"] = &domain.Driver{Username: "driver1", CompanyID: "co1", Verified: true}
	token := signToken(t, "manager1", "manager", "co1")

	rec := doRequest(t, rig.engine, http.MethodPost, "/route/", token, map[string]any{"drivers": []string{"driver1"}})

	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["routes"])
}

func TestCreatePlan_NoEligibleParcels_MapsToUnprocessableEntity(t *testing.T) {
	rig := newTestRig()
	token := signToken(t, "manager1", "manager", "co1")

	rec := doRequest(t, rig.engine, http.MethodPost, "/route/", token, map[string]any{"drivers": []string{"driver1"}})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDashboard_ReturnsCompanyCounts(t *testing.T) {
	rig := newTestRig()
	rig.drivers.drivers["driver1"] = &domain.Driver{Username: "driver1", CompanyID: "co1", Verified: true}
	token := signToken(t, "manager1", "manager", "co1")

	rec := doRequest(t, rig.engine, http.MethodGet, "/dashboard/", token, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var dash statsquery.CompanyDashboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	assert.Equal(t, 1, dash.DriversVerified)
}

func TestMarkDelivered_AdvancesParcelStatus(t *testing.T) {
	rig := newTestRig()
	rig.parcels.parcels["P1"] = &domain.Parcel{ID: "P1", CompanyID: "co1", Status: domain.ParcelStatusInTransit}
	token := signToken(t, "driver1", "driver", "co1")

	rec := doRequest(t, rig.engine, http.MethodPost, "/packages_mark/", token, map[string]any{"packageID": "P1", "driver_username": "driver1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ParcelStatusDelivered, rig.parcels.parcels["P1"].Status)
}

func TestMarkDelivered_UnknownParcel_Returns404(t *testing.T) {
	rig := newTestRig()
	token := signToken(t, "driver1", "driver", "co1")

	rec := doRequest(t, rig.engine, http.MethodPost, "/packages_mark/", token, map[string]any{"packageID": "missing", "driver_username": "driver1"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckDriverStatus_AvailableWhenNoRoute(t *testing.T) {
	rig := newTestRig()
	token := signToken(t, "driver1", "driver", "co1")

	rec := doRequest(t, rig.engine, http.MethodPost, "/route/checkDriverStatus/", token, map[string]any{"username": "driver1"})

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "available", body["state"])
}

func TestManifest_RendersPDFForDriversMostRecentRoute(t *testing.T) {
	rig := newTestRig()
	route := &domain.RouteAssignment{
		RouteID: "R1", DriverRef: "driver1", TruckRef: "T1", CompanyID: "co1",
		CreationDate: time.Now(), IsActive: false,
		Sequence: []*domain.VisitRecord{{
			VisitOrder: 1, Status: domain.ParcelStatusDelivered,
			Snapshot: domain.Snapshot{Kind: domain.SnapshotKindParcel, Address: "1 Main St", Recipient: "Alice"},
		}},
	}
	require.NoError(t, rig.routes.Create(context.Background(), route))
	token := signToken(t, "manager1", "manager", "co1")

	rec := doRequest(t, rig.engine, http.MethodGet, "/history/manifest/?driver=driver1", token, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestManifest_UnknownDriver_Returns404(t *testing.T) {
	rig := newTestRig()
	token := signToken(t, "manager1", "manager", "co1")

	rec := doRequest(t, rig.engine, http.MethodGet, "/history/manifest/?driver=ghost", token, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManifest_RouteFromAnotherCompany_Returns404(t *testing.T) {
	rig := newTestRig()
	route := &domain.RouteAssignment{RouteID: "R1", DriverRef: "driver1", TruckRef: "T1", CompanyID: "co2", CreationDate: time.Now()}
	require.NoError(t, rig.routes.Create(context.Background(), route))
	token := signToken(t, "manager1", "manager", "co1")

	rec := doRequest(t, rig.engine, http.MethodGet, "/history/manifest/?driver=driver1", token, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
