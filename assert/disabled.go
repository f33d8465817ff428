//go:build assertions_disabled

package assert

// True asserts that the given value is true.
func True(value bool, args ...any) {
	// Intentionally left blank
}

// False asserts that the given value is false.
func False(value bool, args ...any) {
	// Intentionally left blank
}

// NotNil asserts that the given value is not nil.
func NotNil(value any, args ...any) {
	// Intentionally left blank
}

// InRange asserts that 0 <= idx < n.
func InRange(idx, n int, args ...any) {
	// Intentionally left blank
}
