// Package field owns the 2D periodic grids that back a Flow Lenia
// simulation: activation channels, scratch accumulators, and the
// double-buffered state that the propagator swaps each step.
package field

import "fmt"

// Grid is a row-major W×H array of float32 values with toroidal
// (periodic) neighbor lookup. It never allocates after construction;
// callers reuse the same Grid across steps.
type Grid struct {
	W, H int
	Data []float32
}

// NewGrid allocates a zeroed W×H grid.
func NewGrid(w, h int) *Grid {
	return &Grid{W: w, H: h, Data: make([]float32, w*h)}
}

// Idx converts already-in-range coordinates to a flat index.
func (g *Grid) Idx(x, y int) int {
	return y*g.W + x
}

// WrapX folds x into [0, W) under periodic boundary conditions.
func (g *Grid) WrapX(x int) int {
	x %= g.W
	if x < 0 {
		x += g.W
	}
	return x
}

// WrapY folds y into [0, H) under periodic boundary conditions.
func (g *Grid) WrapY(y int) int {
	y %= g.H
	if y < 0 {
		y += g.H
	}
	return y
}

// At reads a cell, wrapping out-of-range coordinates.
func (g *Grid) At(x, y int) float32 {
	return g.Data[g.WrapY(y)*g.W+g.WrapX(x)]
}

// Set writes a cell, wrapping out-of-range coordinates.
func (g *Grid) Set(x, y int, v float32) {
	g.Data[g.WrapY(y)*g.W+g.WrapX(x)] = v
}

// Zero resets every cell to 0 without reallocating.
func (g *Grid) Zero() {
	for i := range g.Data {
		g.Data[i] = 0
	}
}

// CopyFrom overwrites g's contents with src's. Both grids must share
// dimensions; this is a programmer error otherwise, not a runtime Config
// failure, since shapes are fixed for a simulation's lifetime.
func (g *Grid) CopyFrom(src *Grid) {
	if g.W != src.W || g.H != src.H {
		panic(fmt.Sprintf("field: shape mismatch copying %dx%d into %dx%d", src.W, src.H, g.W, g.H))
	}
	copy(g.Data, src.Data)
}

// Sum returns the total mass held in the grid.
func (g *Grid) Sum() float64 {
	var total float64
	for _, v := range g.Data {
		total += float64(v)
	}
	return total
}

// State is the full set of activation channels for a simulation,
// double-buffered so reintegration never aliases the buffer it reads
// from. Read and Write swap ownership at the end of every step; no
// copy is ever made for the swap itself.
type State struct {
	W, H, C int
	Read    []*Grid
	Write   []*Grid

	Step uint64
	Dt   float64
}

// NewState allocates a fresh double-buffered state of C channels.
func NewState(w, h, c int, dt float64) *State {
	s := &State{W: w, H: h, C: c, Dt: dt}
	s.Read = make([]*Grid, c)
	s.Write = make([]*Grid, c)
	for i := 0; i < c; i++ {
		s.Read[i] = NewGrid(w, h)
		s.Write[i] = NewGrid(w, h)
	}
	return s
}

// Swap exchanges the read and write buffers by reference and advances
// the step counter. The write buffer becomes garbage for the caller to
// overwrite on the next step; it is never observable in between.
func (s *State) Swap() {
	s.Read, s.Write = s.Write, s.Read
	s.Step++
}

// Time returns the simulation time t = step · dt.
func (s *State) Time() float64 {
	return float64(s.Step) * s.Dt
}

// TotalMass sums activation across every channel in the read buffer.
func (s *State) TotalMass() float64 {
	var total float64
	for _, g := range s.Read {
		total += g.Sum()
	}
	return total
}

// ResetShape zeroes every read and write buffer and the step counter
// in place, without reallocating. A requested shape that differs from
// the current one is rejected with an error and leaves the state as it
// was, since reset never changes a simulation's shape.
func (s *State) ResetShape(w, h, c int) error {
	if w != s.W || h != s.H || c != s.C {
		return fmt.Errorf("field: reset cannot change shape from %dx%dx%d to %dx%dx%d", s.W, s.H, s.C, w, h, c)
	}
	for i := 0; i < c; i++ {
		s.Read[i].Zero()
		s.Write[i].Zero()
	}
	s.Step = 0
	return nil
}
