package sliceu

func Map[T, U any](s []T, f func(T) U) []U {
	result := make([]U, len(s))
	for i, v := range s {
		result[i] = f(v)
	}
	return result
}

// Partition deals the slice elements round robin into groupCount groups so
// that the element at position p lands in group p % groupCount. Groups keep
// the relative order of the input.
func Partition[T any](slice []T, groupCount int) [][]T {
	if groupCount < 1 {
		panic("Partition groupCount must be at least 1")
	}
	groups := make([][]T, groupCount)
	groupIndex := 0
	maxGroupIndex := groupCount - 1
	for _, el := range slice {
		groups[groupIndex] = append(groups[groupIndex], el)
		if groupIndex < maxGroupIndex {
			groupIndex++
		} else {
			groupIndex = 0
		}
	}

	return groups
}
