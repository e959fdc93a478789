package domain

import (
	"testing"
	"time"
)

func TestHaversineKm_KnownDistance(t *testing.T) {
	// San Francisco to Los Angeles, roughly 559km great-circle.
	km := HaversineKm(37.7749, -122.4194, 34.0522, -118.2437)
	if km < 550 || km > 570 {
		t.Errorf("expected ~559km, got %f", km)
	}
}

func TestHaversineKm_SamePoint(t *testing.T) {
	km := HaversineKm(37.42, -122.08, 37.42, -122.08)
	if !FloatEquals(km, 0) {
		t.Errorf("expected 0km for identical points, got %f", km)
	}
}

func TestCoordinate_Validate(t *testing.T) {
	tests := []struct {
		name    string
		coord   Coordinate
		wantErr bool
	}{
		{"valid", Coordinate{Lat: 37.42, Lon: -122.08}, false},
		{"lat too high", Coordinate{Lat: 91, Lon: 0}, true},
		{"lat too low", Coordinate{Lat: -91, Lon: 0}, true},
		{"lon too high", Coordinate{Lat: 0, Lon: 181}, true},
		{"lon too low", Coordinate{Lat: 0, Lon: -181}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.coord.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParcelStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to ParcelStatus
		want     bool
	}{
		{ParcelStatusPending, ParcelStatusInTransit, true},
		{ParcelStatusPending, ParcelStatusDelivered, false},
		{ParcelStatusInTransit, ParcelStatusDelivered, true},
		{ParcelStatusInTransit, ParcelStatusUndelivered, true},
		{ParcelStatusUndelivered, ParcelStatusDelivered, true},
		{ParcelStatusUndelivered, ParcelStatusInTransit, false},
		{ParcelStatusDelivered, ParcelStatusInTransit, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParcelStatus_StringRoundTrip(t *testing.T) {
	for _, s := range []ParcelStatus{ParcelStatusPending, ParcelStatusInTransit, ParcelStatusDelivered, ParcelStatusUndelivered} {
		if got := ParcelStatusFromString(s.String()); got != s {
			t.Errorf("round trip failed for %v: got %v", s, got)
		}
	}
}

func TestParcel_Validate(t *testing.T) {
	p := &Parcel{
		ID:       "P1",
		Location: Coordinate{Lat: 37.42, Lon: -122.08},
		WeightKg: 5,
		Status:   ParcelStatusPending,
	}
	if err := p.Validate(); err != nil {
		t.Errorf("expected valid parcel, got %v", err)
	}

	bad := p.Clone()
	bad.WeightKg = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero weight")
	}
}

func TestRouteAssignment_Validate(t *testing.T) {
	depot := Coordinate{Lat: 37.42, Lon: -122.08}
	route := &RouteAssignment{
		RouteID:   "R1",
		DriverRef: "driver1",
		Sequence: []*VisitRecord{
			{VisitOrder: 0, Snapshot: DepotSnapshot(depot)},
			{VisitOrder: 1, Snapshot: ParcelSnapshot(&Parcel{ID: "P1"})},
			{VisitOrder: 2, Snapshot: DepotSnapshot(depot), IsReturnLeg: true},
		},
	}
	if err := route.Validate(); err != nil {
		t.Errorf("expected valid route, got %v", err)
	}

	ids := route.ParcelIDs()
	if len(ids) != 1 || ids[0] != "P1" {
		t.Errorf("expected [P1], got %v", ids)
	}

	if _, ok := route.FindVisit("P1"); !ok {
		t.Error("expected to find visit for P1")
	}
	if _, ok := route.FindVisit("missing"); ok {
		t.Error("expected no visit for unknown parcel")
	}
}

func TestRouteAssignment_Validate_MissingReturnLeg(t *testing.T) {
	route := &RouteAssignment{
		RouteID:   "R2",
		DriverRef: "driver1",
		Sequence: []*VisitRecord{
			{VisitOrder: 0, Snapshot: DepotSnapshot(Coordinate{})},
			{VisitOrder: 1, Snapshot: ParcelSnapshot(&Parcel{ID: "P1"})},
		},
	}
	if err := route.Validate(); err == nil {
		t.Error("expected validation error for route with no return leg")
	}
}

func TestRouteAssignment_Clone_IsDeep(t *testing.T) {
	route := &RouteAssignment{
		RouteID:   "R1",
		DriverRef: "driver1",
		Sequence: []*VisitRecord{
			{VisitOrder: 0, Snapshot: DepotSnapshot(Coordinate{}), IsReturnLeg: true},
		},
		PathGeometry: []Coordinate{{Lat: 1, Lon: 2}},
	}
	clone := route.Clone()
	clone.Sequence[0].Status = ParcelStatusDelivered
	clone.PathGeometry[0] = Coordinate{Lat: 9, Lon: 9}

	if route.Sequence[0].Status == ParcelStatusDelivered {
		t.Error("mutating the clone's sequence mutated the original")
	}
	if route.PathGeometry[0] == (Coordinate{Lat: 9, Lon: 9}) {
		t.Error("mutating the clone's geometry mutated the original")
	}
}

func TestTruck_Validate(t *testing.T) {
	truck := &Truck{LicensePlate: "ABC123", CapacityKg: 100}
	if err := truck.Validate(); err != nil {
		t.Errorf("expected valid truck, got %v", err)
	}

	bad := &Truck{LicensePlate: "ABC123", CapacityKg: 0}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for non-positive capacity")
	}
}

func TestDeliveryHistory_Fields(t *testing.T) {
	h := DeliveryHistory{
		Date:             time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		DriverRef:        "driver1",
		DeliveredCount:   3,
		DeliveredKilos:   20,
		UndeliveredCount: 1,
		UndeliveredKilos: 4,
		DurationHours:    2.5,
	}
	if h.DeliveredCount != 3 || h.UndeliveredKilos != 4 {
		t.Error("unexpected field values")
	}
}
