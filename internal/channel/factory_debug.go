//go:build debug

package channel

// New ignores size in debug builds and returns a single-slot queue, so
// overflow paths run on every burst.
func New[T any](_ int, policy Policy) Channel[T] {
	return NewBounded[T](1, policy)
}
