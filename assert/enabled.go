//go:build !assertions_disabled

package assert

// True asserts that the given value is true.
// If the assertion fails, it panics with a message built from args.
func True(value bool, args ...any) {
	if value {
		return
	}

	panic(message(args))
}

// False asserts that the given value is false.
func False(value bool, args ...any) {
	True(!value, args...)
}

// NotNil asserts that the given value is not nil.
func NotNil(value any, args ...any) {
	True(value != nil, args...)
}

// InRange asserts that 0 <= idx < n.
func InRange(idx, n int, args ...any) {
	if idx >= 0 && idx < n {
		return
	}

	if len(args) == 0 {
		panic(message([]any{"index %d out of range [0, %d)", idx, n}))
	}

	panic(message(args))
}
