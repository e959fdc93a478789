package domain

import (
	"fmt"
	"time"
)

// VisitRecord is one stop in a route's sequence.
type VisitRecord struct {
	VisitOrder       int          `json:"visit_order"`
	Snapshot         Snapshot     `json:"snapshot"`
	Snapped          Coordinate   `json:"snapped"`
	InboundDurationS float64      `json:"inbound_duration_s"`
	Status           ParcelStatus `json:"status"`
	IsReturnLeg      bool         `json:"is_return_leg"`
}

// Clone returns a deep copy of the visit record.
func (v *VisitRecord) Clone() *VisitRecord {
	clone := *v
	return &clone
}

// RouteAssignment is a driver's optimized, persisted delivery route for a day.
type RouteAssignment struct {
	RouteID      string
	DriverRef    string
	TruckRef     string
	CompanyID    string
	CreationDate time.Time
	IsActive     bool
	Sequence     []*VisitRecord
	PathGeometry []Coordinate // ordered (lon,lat) pairs as returned by the routing engine, stored as lat/lon here
}

// Validate checks the structural invariants of the sequence: exactly one
// trailing return leg carrying the depot sentinel, and 0..N ordering.
func (r *RouteAssignment) Validate() error {
	if r.RouteID == "" {
		return fmt.Errorf("route id is required")
	}
	if r.DriverRef == "" {
		return fmt.Errorf("route %s: driver ref is required", r.RouteID)
	}
	if len(r.Sequence) == 0 {
		return fmt.Errorf("route %s: sequence must not be empty", r.RouteID)
	}

	returnLegs := 0
	for i, v := range r.Sequence {
		if v.VisitOrder != i {
			return fmt.Errorf("route %s: visit order %d out of sequence at index %d", r.RouteID, v.VisitOrder, i)
		}
		if v.IsReturnLeg {
			returnLegs++
			if v.Snapshot.ParcelID != DepotParcelID {
				return fmt.Errorf("route %s: return leg must carry the depot sentinel", r.RouteID)
			}
		}
	}
	if returnLegs != 1 {
		return fmt.Errorf("route %s: expected exactly one return leg, found %d", r.RouteID, returnLegs)
	}
	last := r.Sequence[len(r.Sequence)-1]
	if !last.IsReturnLeg {
		return fmt.Errorf("route %s: the last visit must be the return leg", r.RouteID)
	}

	return nil
}

// ParcelIDs returns the ids of every non-depot parcel referenced by the
// route's sequence, in visit order.
func (r *RouteAssignment) ParcelIDs() []string {
	ids := make([]string, 0, len(r.Sequence))
	for _, v := range r.Sequence {
		if v.Snapshot.Kind == SnapshotKindParcel {
			ids = append(ids, v.Snapshot.ParcelID)
		}
	}
	return ids
}

// FindVisit returns the visit record for the given parcel id, if the route
// references it.
func (r *RouteAssignment) FindVisit(parcelID string) (*VisitRecord, bool) {
	for _, v := range r.Sequence {
		if v.Snapshot.Kind == SnapshotKindParcel && v.Snapshot.ParcelID == parcelID {
			return v, true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the route, including its sequence and geometry.
func (r *RouteAssignment) Clone() *RouteAssignment {
	clone := *r
	clone.Sequence = make([]*VisitRecord, len(r.Sequence))
	for i, v := range r.Sequence {
		clone.Sequence[i] = v.Clone()
	}
	clone.PathGeometry = append([]Coordinate(nil), r.PathGeometry...)
	return &clone
}

// DeliveryHistory is the per-day, per-driver aggregate materialized when a
// journey finishes.
type DeliveryHistory struct {
	Date             time.Time
	DriverRef        string
	TruckRef         string
	DeliveredCount   int
	DeliveredKilos   float64
	UndeliveredCount int
	UndeliveredKilos float64
	DurationHours    float64
	RouteRef         string
}

// OfficeDelivery records a batch drop-off of undeliverable parcels at an office.
type OfficeDelivery struct {
	DriverRef  string
	OfficeRef  string
	ParcelRefs []string
	Timestamp  time.Time
	RouteRef   string
}
