//go:build !debug

package channel

// New creates a bounded channel with the given capacity and overflow policy.
func New[T any](size int, policy Policy) Channel[T] {
	return NewBounded[T](size, policy)
}
