// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package vartype provides values that remember whether a sensor ever reported them.
package vartype

import (
	"fmt"
)

// VarFloat64 is an angle or distance that may not have been reported yet.
type VarFloat64 = Variable[float64]

// Variable holds a value of T and whether it was set. The zero value is unset and
// reads as the zero value of T.
type Variable[T any] struct {
	value T
	isset bool
}

// Set stores val and marks the Variable as set.
func (v *Variable[T]) Set(val T) {
	v.value, v.isset = val, true
}

// Value returns the stored value, or the zero value of T if unset.
func (v Variable[T]) Value() T {
	return v.value
}

// Get returns the stored value and whether it was set.
func (v Variable[T]) Get() (T, bool) {
	return v.value, v.isset
}

func (v Variable[T]) IsSet() bool {
	return v.isset
}

// String formats the value, or "unavailable" if it was never set.
func (v Variable[T]) String() string {
	if !v.isset {
		return "unavailable"
	}
	return fmt.Sprint(v.value)
}
