// Package geo is a small target package used by the amplification
// tests.
package geo

import (
	"math"
	"strings"
)

// Factor scales values in Scaled.
var Factor = 2

var registry = map[string]int{"one": 1}

// Point is a position on the grid.
type Point struct {
	X, Y int
}

// NewPoint returns a point at (x, y).
func NewPoint(x, y int) *Point {
	return &Point{X: x, Y: y}
}

// Double returns twice n.
func Double(n int) int {
	return n * 2
}

// Move translates p in place.
func (p *Point) Move(dx, dy int) {
	p.X += dx
	p.Y += dy
}

// Norm returns the distance of p from the origin.
func (p Point) Norm() float64 {
	return math.Sqrt(float64(p.X*p.X + p.Y*p.Y))
}

// Shout upper-cases s.
func Shout(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s) + "!"
}

// Scaled multiplies n by Factor.
func Scaled(n int) int {
	return n * Factor
}

// Lookup returns the registered value for k.
func Lookup(k string) int {
	return lookup(k)
}

func lookup(k string) int {
	return registry[k]
}

// Sum adds xs.
func Sum(xs ...int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}

// Checked panics on negative input.
func Checked(n int) int {
	if n < 0 {
		panic("negative")
	}
	return n
}

// Split cuts s around sep.
func Split(s, sep string) []string {
	return strings.Split(s, sep)
}

type counter struct {
	n int
}

func (c *counter) inc() {
	c.n++
}
