package domain

import (
	"fmt"
	"time"
)

// ParcelStatus is the parcel's position in its lifecycle.
type ParcelStatus int

const (
	ParcelStatusUnspecified ParcelStatus = iota
	ParcelStatusPending
	ParcelStatusInTransit
	ParcelStatusDelivered
	ParcelStatusUndelivered
)

// String returns the wire/storage representation of the status.
func (s ParcelStatus) String() string {
	switch s {
	case ParcelStatusPending:
		return "pending"
	case ParcelStatusInTransit:
		return "in_transit"
	case ParcelStatusDelivered:
		return "delivered"
	case ParcelStatusUndelivered:
		return "undelivered"
	default:
		return "unspecified"
	}
}

// ParcelStatusFromString parses the storage representation back into a ParcelStatus.
func ParcelStatusFromString(s string) ParcelStatus {
	switch s {
	case "pending":
		return ParcelStatusPending
	case "in_transit":
		return ParcelStatusInTransit
	case "delivered":
		return ParcelStatusDelivered
	case "undelivered":
		return ParcelStatusUndelivered
	default:
		return ParcelStatusUnspecified
	}
}

// CanTransition reports whether a direct pending/in_transit/delivered/undelivered
// transition from s to next is legal. The undelivered -> delivered transition
// (office drop-off) is legal here too; parcelfsm.Machine accepts it only
// through MarkDeliveredAtOffice and rejects it from MarkDelivered.
func (s ParcelStatus) CanTransition(next ParcelStatus) bool {
	switch s {
	case ParcelStatusPending:
		return next == ParcelStatusInTransit
	case ParcelStatusInTransit:
		return next == ParcelStatusDelivered || next == ParcelStatusUndelivered
	case ParcelStatusUndelivered:
		return next == ParcelStatusDelivered
	default:
		return false
	}
}

// Parcel is a single shipment addressed to a recipient.
type Parcel struct {
	ID         string
	CompanyID  string
	Address    string
	Location   Coordinate
	Recipient  string
	Phone      string
	Email      string
	DueDate    time.Time
	WeightKg   float64
	Status     ParcelStatus
	OfficeRef  string // non-empty iff Status == undelivered and an office was assigned
	Signature  string // set on delivery, optional
	UpdatedAt  time.Time
}

// Validate checks the parcel's invariants independent of any store state.
func (p *Parcel) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("parcel id is required")
	}
	if p.WeightKg <= 0 {
		return fmt.Errorf("parcel %s: weight must be positive, got %f", p.ID, p.WeightKg)
	}
	if err := p.Location.Validate(); err != nil {
		return fmt.Errorf("parcel %s: %w", p.ID, err)
	}
	if p.Status == ParcelStatusUndelivered && p.OfficeRef == "" {
		// allowed transiently (no office available); not an error by itself.
		return nil
	}
	return nil
}

// Clone returns a deep copy of the parcel.
func (p *Parcel) Clone() *Parcel {
	clone := *p
	return &clone
}

// Snapshot captures the fields of a parcel that a VisitRecord needs to render
// a stop without re-querying the parcel store.
type Snapshot struct {
	Kind      SnapshotKind `json:"kind"`
	ParcelID  string       `json:"parcel_id"`
	Address   string       `json:"address,omitempty"`
	Location  Coordinate   `json:"location"`
	Recipient string       `json:"recipient,omitempty"`
	WeightKg  float64      `json:"weight_kg,omitempty"`
}

// SnapshotKind distinguishes a depot stop from a parcel stop.
type SnapshotKind int

const (
	SnapshotKindParcel SnapshotKind = iota
	SnapshotKindDepot
)

// String returns the snapshot kind's storage representation.
func (k SnapshotKind) String() string {
	if k == SnapshotKindDepot {
		return "depot"
	}
	return "parcel"
}

// DepotSnapshot builds the sentinel snapshot for a depot stop.
func DepotSnapshot(depot Coordinate) Snapshot {
	return Snapshot{
		Kind:     SnapshotKindDepot,
		ParcelID: DepotParcelID,
		Location: depot,
	}
}

// ParcelSnapshot builds a snapshot from a parcel.
func ParcelSnapshot(p *Parcel) Snapshot {
	return Snapshot{
		Kind:      SnapshotKindParcel,
		ParcelID:  p.ID,
		Address:   p.Address,
		Location:  p.Location,
		Recipient: p.Recipient,
		WeightKg:  p.WeightKg,
	}
}
