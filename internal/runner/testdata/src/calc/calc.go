// Package calc is a target package for runner tests.
package calc

import "time"

// Abs returns the absolute value of n.
func Abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Must panics on a negative input.
func Must(n int) int {
	if n < 0 {
		panic("negative")
	}
	return n
}

// Slow sleeps for d.
func Slow(d time.Duration) {
	time.Sleep(d)
}
