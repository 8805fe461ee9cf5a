// Package partitioning decides which source partitions each parallel instance
// owns. Ownership is a pure function of the ordered partition list and the
// instance's position, so it is recomputed on every open or restore and never
// persisted.
package partitioning

import (
	"fmt"

	"reduction.dev/sourcemux/connectors"
	"reduction.dev/sourcemux/util/sliceu"
)

// SplitCount is the number of partitions to request from a source running on
// total instances. A positive desired count lowers it but it never exceeds the
// instance count.
func SplitCount(desired, total int) int {
	if desired <= 0 || desired > total {
		return total
	}
	return desired
}

// Assign returns the elements of all owned by instance index of total: every
// element at position p where p % total == index, in their original order.
func Assign[T any](all []T, index, total int) []T {
	if total < 1 {
		panic(fmt.Sprintf("partitioning.Assign total must be at least 1 but was %d", total))
	}
	if index < 0 || index >= total {
		panic(fmt.Sprintf("partitioning.Assign index %d out of range for %d instances", index, total))
	}
	return sliceu.Partition(all, total)[index]
}

// SplitSource splits the source for a job with total instances and returns the
// full ordered partition list along with the partitions owned by index.
func SplitSource(source connectors.UnboundedSource, desired, index, total int) (all, owned []connectors.Partition, err error) {
	all, err = source.Split(SplitCount(desired, total))
	if err != nil {
		return nil, nil, fmt.Errorf("splitting source: %w", err)
	}
	return all, Assign(all, index, total), nil
}
