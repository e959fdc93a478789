// Package truckallocator assigns the smallest sufficient truck to each
// driver's zone.
package truckallocator

import (
	"fmt"
	"sort"

	"routeplan/internal/domain"
	"routeplan/pkg/apperror"
)

// ZoneDemand is the capacity a single driver's zone must be serviced by.
type ZoneDemand struct {
	DriverIndex int
	WeightKg    float64
}

// Assignment pairs a zone's driver with the truck allocated to it.
type Assignment struct {
	DriverIndex int
	Truck       *domain.Truck
}

// Allocate assigns each zone the smallest available truck whose capacity
// covers its weight, consuming trucks from the ascending-capacity list
// greedily as zones are serviced in order. Fails the whole plan — no
// partial assignments returned — if any zone cannot be serviced.
func Allocate(zones []ZoneDemand, trucks []*domain.Truck) ([]Assignment, error) {
	pool := make([]*domain.Truck, 0, len(trucks))
	for _, t := range trucks {
		if !t.InUse {
			pool = append(pool, t)
		}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].CapacityKg < pool[j].CapacityKg })

	used := make([]bool, len(pool))
	assignments := make([]Assignment, 0, len(zones))

	for _, z := range zones {
		idx := -1
		for i, t := range pool {
			if !used[i] && t.CapacityKg >= z.WeightKg {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil, apperror.New(apperror.CodeInsufficientCapacity,
				fmt.Sprintf("zone %d: no available truck has capacity for %.2fkg", z.DriverIndex, z.WeightKg)).
				WithDetails("zone_id", z.DriverIndex).
				WithDetails("weight_kg", z.WeightKg)
		}
		used[idx] = true
		assignments = append(assignments, Assignment{DriverIndex: z.DriverIndex, Truck: pool[idx]})
	}

	return assignments, nil
}
