package helpers

import "golang.org/x/exp/constraints"

func Min[T constraints.Ordered](numbers ...T) T {
	var min T = numbers[0]
	for _, n := range numbers {
		if n < min {
			min = n
		}
	}
	return min
}

// CeilDiv returns ceil(n / d) for unsigned integers.
func CeilDiv[T constraints.Unsigned](n, d T) T {
	if n == 0 {
		return 0
	}
	return (n-1)/d + 1
}
