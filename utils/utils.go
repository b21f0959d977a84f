// Package utils provides small generic helpers shared across the
// metadata-builder packages: panic-on-error wrappers for code paths that
// cannot actually fail once the builder's own invariants hold, and a couple
// of value helpers used by the cil, resource, and builder packages.
package utils

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// Takes an (error) return and panics if there is an error.
// Helps avoid `if err != nil` in scripts.
func Must[E comparableError](err E) {
	var zero E
	if err != zero {
		panic(err)
	}
}

// Takes a (something, error) return and panics if there is an error.
// Helps avoid `if err != nil` in scripts.
func Must1[T any, E comparableError](v T, err E) T {
	var zero E
	if err != zero {
		panic(err)
	}
	return v
}

// Max returns the larger of a and b.
func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// AlignUp rounds n up to the next multiple of align. align must be a
// power of two.
func AlignUp[T constraints.Integer](n, align T) T {
	return (n + align - 1) &^ (align - 1)
}

func Or[T comparable](v T, vElse T) T {
	var zero T
	if v == zero {
		return vElse
	}
	return v
}

func Assert[T comparable](v T, msg string, args ...any) {
	var zero T
	if v == zero {
		panic(fmt.Sprintf("Assert failed: "+msg, args...))
	}
}

// We have this because otherwise passing a nil *SomeError through Must or
// Must1 will result in a non-nil interface value and a spurious panic.
type comparableError interface {
	comparable
	error
}
