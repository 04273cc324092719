package cells

// exchange is a cell's secretion/uptake update precomputed for one dt:
// rho <- (rho + t1) / t2 + export, per substrate.
type exchange struct {
	dt     float64
	t1     []float64
	t2     []float64
	export []float64
}

// prepareExchange rebuilds the cached update when the rates, volume or dt changed.
func (c *Cell) prepareExchange(dt, voxelVolume float64, substrates int) {
	if !c.exchangeDirty && c.exchange.dt == dt && len(c.exchange.t1) == substrates {
		return
	}
	ex := &c.exchange
	ex.dt = dt
	ex.t1 = resize(ex.t1, substrates)
	ex.t2 = resize(ex.t2, substrates)
	ex.export = resize(ex.export, substrates)

	f := dt * c.volume / voxelVolume
	s := c.secretion
	for i := 0; i < substrates; i++ {
		sec, con := at(s.SecretionRates, i), at(s.ConsumptionRates, i)
		ex.t1[i] = sec * at(s.SaturationDensities, i) * f
		ex.t2[i] = 1 + f*(sec+con)
		ex.export[i] = at(s.NetExportRates, i) * dt / voxelVolume
	}
	c.exchangeDirty = false
}

func (c *Cell) applyExchange(rho []float64) {
	ex := &c.exchange
	for i := range rho {
		rho[i] = (rho[i]+ex.t1[i])/ex.t2[i] + ex.export[i]
	}
}

func at(s []float64, i int) float64 {
	if i < len(s) {
		return s[i]
	}
	return 0
}

func resize(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	return s[:n]
}

// secreteAndConsume applies every active cell's exchange to its
// microenvironment voxel. Cells are grouped by voxel with a counting sort
// so that each parallel task owns whole voxels and no two tasks write the
// same density vector.
func (c *Container) secreteAndConsume(dt float64) {
	if c.env == nil || c.env.NumSubstrates() == 0 {
		return
	}
	S := c.env.NumSubstrates()
	vv := c.env.VoxelVolume()

	c.groupByEnvVoxel()
	groups := len(c.groupVoxel)
	c.pool.For(groups, func(lo, hi int) {
		for g := lo; g < hi; g++ {
			rho := c.env.Densities(c.groupVoxel[g])
			for _, cell := range c.groupCells[c.groupStart[g]:c.groupStart[g+1]] {
				cell.prepareExchange(dt, vv, S)
				cell.applyExchange(rho)
			}
		}
	})
}

// groupByEnvVoxel fills groupVoxel with the distinct microenvironment
// voxels holding active cells, in first-seen order, and groupCells with
// the cells of group g at groupCells[groupStart[g]:groupStart[g+1]].
func (c *Container) groupByEnvVoxel() {
	index := make(map[int]int)
	counts := c.groupStart[:0]
	c.groupVoxel = c.groupVoxel[:0]
	for _, cell := range c.cells {
		if !cell.active || cell.envVoxel < 0 {
			continue
		}
		g, ok := index[cell.envVoxel]
		if !ok {
			g = len(c.groupVoxel)
			index[cell.envVoxel] = g
			c.groupVoxel = append(c.groupVoxel, cell.envVoxel)
			counts = append(counts, 0)
		}
		counts[g]++
	}

	// Exclusive prefix sum, with a trailing total.
	counts = append(counts, 0)
	sum := 0
	for g := range counts {
		counts[g], sum = sum, sum+counts[g]
	}
	c.groupStart = counts

	if cap(c.groupCells) < sum {
		c.groupCells = make([]*Cell, sum)
	}
	c.groupCells = c.groupCells[:sum]
	fill := make([]int, len(c.groupVoxel))
	for _, cell := range c.cells {
		if !cell.active || cell.envVoxel < 0 {
			continue
		}
		g := index[cell.envVoxel]
		c.groupCells[counts[g]+fill[g]] = cell
		fill[g]++
	}
}
