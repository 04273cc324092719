package grid

import (
	"slices"
)

// FaceNeighbors returns the 6-connected neighbours of voxel n in ascending
// order. The slice is shared; callers must not modify it.
func (g *Grid) FaceNeighbors(n int) []int { return g.face[n] }

// ExtendedNeighbors returns the Moore (26-connected) neighbours of voxel n
// in ascending order, wrapped along periodic axes. The slice is shared.
func (g *Grid) ExtendedNeighbors(n int) []int { return g.extended[n] }

// ForwardNeighbors returns the subset of ExtendedNeighbors(n) with an index
// greater than n. Iterating every voxel's forward set visits each
// unordered neighbouring voxel pair exactly once, even when small periodic
// axes make several offsets land on the same voxel.
func (g *Grid) ForwardNeighbors(n int) []int { return g.forward[n] }

// BuildExtendedAdjacency rebuilds the Moore neighbourhood (and the face
// adjacency, which shares the wrap flags) for a new periodicity.
func (g *Grid) BuildExtendedAdjacency(p Periodicity) {
	g.periodic = p
	g.buildFaceAdjacency()
	g.buildExtendedAdjacency()
}

// axisSteps[c][d+1] is the coordinate reached from c by moving d in
// {-1,0,1} along one axis, or -1 when the move leaves a bounded axis.
type axisSteps [][3]int

func boundedSteps(n int) axisSteps {
	s := make(axisSteps, n)
	for c := 0; c < n; c++ {
		for d := -1; d <= 1; d++ {
			t := c + d
			if t < 0 || t >= n {
				t = -1
			}
			s[c][d+1] = t
		}
	}
	return s
}

func periodicSteps(n int) axisSteps {
	s := make(axisSteps, n)
	for c := 0; c < n; c++ {
		for d := -1; d <= 1; d++ {
			s[c][d+1] = ((c+d)%n + n) % n
		}
	}
	return s
}

// stepsFor picks the bounded or wrapping table for each axis; the three
// independent choices cover all eight periodicity combinations.
func (g *Grid) stepsFor() [3]axisSteps {
	var out [3]axisSteps
	for axis := 0; axis < 3; axis++ {
		if g.periodic.Axis(axis) {
			out[axis] = periodicSteps(g.dims[axis])
		} else {
			out[axis] = boundedSteps(g.dims[axis])
		}
	}
	return out
}

func (g *Grid) buildFaceAdjacency() {
	steps := g.stepsFor()
	g.face = make([][]int, len(g.voxels))
	for n := range g.voxels {
		i, j, k := g.Cartesian(n)
		c := [3]int{i, j, k}
		nb := make([]int, 0, 6)
		for axis := 0; axis < 3; axis++ {
			for _, d := range [2]int{-1, 1} {
				t := steps[axis][c[axis]][d+1]
				if t < 0 {
					continue
				}
				cc := c
				cc[axis] = t
				nb = insertUnique(nb, g.Linear(cc[0], cc[1], cc[2]), n)
			}
		}
		g.face[n] = nb
	}
}

func (g *Grid) buildExtendedAdjacency() {
	steps := g.stepsFor()
	g.extended = make([][]int, len(g.voxels))
	g.forward = make([][]int, len(g.voxels))
	for n := range g.voxels {
		i, j, k := g.Cartesian(n)
		nb := make([]int, 0, 26)
		for _, kk := range steps[2][k] {
			if kk < 0 {
				continue
			}
			for _, jj := range steps[1][j] {
				if jj < 0 {
					continue
				}
				for _, ii := range steps[0][i] {
					if ii < 0 {
						continue
					}
					nb = insertUnique(nb, g.Linear(ii, jj, kk), n)
				}
			}
		}
		g.extended[n] = nb

		// nb is sorted, so the forward set is a suffix.
		idx, _ := slices.BinarySearch(nb, n+1)
		g.forward[n] = nb[idx:]
	}
}

// insertUnique adds v to the sorted slice s unless it is already present
// or equal to self.
func insertUnique(s []int, v, self int) []int {
	if v == self {
		return s
	}
	idx, found := slices.BinarySearch(s, v)
	if found {
		return s
	}
	return slices.Insert(s, idx, v)
}

// EnumerateMoore returns the Moore neighbourhood of voxel n computed
// directly from the 26 offsets, without the cached tables. It is the
// reference the cached adjacency is checked against.
func (g *Grid) EnumerateMoore(n int) []int {
	i, j, k := g.Cartesian(n)
	seen := make(map[int]struct{}, 26)
	for dk := -1; dk <= 1; dk++ {
		for dj := -1; dj <= 1; dj++ {
			for di := -1; di <= 1; di++ {
				if di == 0 && dj == 0 && dk == 0 {
					continue
				}
				ii, ok1 := g.offsetAxis(0, i, di)
				jj, ok2 := g.offsetAxis(1, j, dj)
				kk, ok3 := g.offsetAxis(2, k, dk)
				if !ok1 || !ok2 || !ok3 {
					continue
				}
				m := g.Linear(ii, jj, kk)
				if m != n {
					seen[m] = struct{}{}
				}
			}
		}
	}
	out := make([]int, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

func (g *Grid) offsetAxis(axis, c, d int) (int, bool) {
	n := g.dims[axis]
	t := c + d
	if g.periodic.Axis(axis) {
		return ((t % n) + n) % n, true
	}
	return t, t >= 0 && t < n
}
