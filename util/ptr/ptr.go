package ptr

// New returns a pointer to a copy of v.
func New[T any](v T) *T {
	return &v
}
