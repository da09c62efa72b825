// Package mathx holds generic range helpers shared by the drivers and the
// BLE layer.
package mathx

import "golang.org/x/exp/constraints"

func order[T constraints.Ordered](lo, hi T) (T, T) {
	if hi < lo {
		return hi, lo
	}
	return lo, hi
}

// Clamp limits v to the closed range spanned by lo and hi, in either order.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	lo, hi = order(lo, hi)
	return max(lo, min(v, hi))
}

// Between reports whether v lies in the closed range spanned by lo and hi.
func Between[T constraints.Ordered](v, lo, hi T) bool {
	lo, hi = order(lo, hi)
	return lo <= v && v <= hi
}
