package pipeline

import (
	"github.com/Teng-xu/tensorflow-1/ir"
)

// Loop transformations: collapsing a multi-dimensional loop.parallel to a
// single dimension, and tiling with unroll-aware outer/inner tile sizes.
// Both are structural rewrites with no failure mode: loops that do not match
// are left alone.

// newCollapseParallelLoopsStep rewrites every normalized multi-dimensional
// loop.parallel into a 1-D loop over the iteration-space product, recovering
// the per-dimension indices with div/mod arithmetic.
func newCollapseParallelLoopsStep() Step {
	return newRewrite("collapse-parallel-loops", func(m *ir.Module) {
		for _, loop := range m.Op().Find(ir.OpParallel) {
			collapseLoop(loop)
		}
	})
}

func collapseLoop(loop *ir.Op) {
	dims := int(loop.IntAttr(dimsAttrName, 0))
	if dims <= 1 {
		return
	}
	// Only normalized loops collapse: zero lower bounds, unit steps.
	for i := 0; i < dims; i++ {
		if !isConstInt(loop.Operand(i), 0) || !isConstInt(loop.Operand(2*dims+i), 1) {
			return
		}
	}
	ubs := loop.Operands()[dims : 2*dims]

	bld := ir.NewBuilderBefore(loop)
	total := ubs[0]
	for _, ub := range ubs[1:] {
		total = bld.Create(opMulI, []*ir.Value{total, ub}, ir.Scalar(ir.Index)).Result()
	}
	collapsed := bld.Create(ir.OpParallel, []*ir.Value{loop.Operand(0), total, loop.Operand(2 * dims)})
	collapsed.SetAttr(dimsAttrName, int64(1))
	body := collapsed.AddRegion().AddBlock(ir.Scalar(ir.Index))

	// Decompose the flat index, innermost dimension fastest.
	inner := ir.NewBuilderAtEnd(body)
	indices := make([]*ir.Value, dims)
	flat := body.Arg(0)
	for i := dims - 1; i >= 0; i-- {
		indices[i] = inner.Create(opRemSI, []*ir.Value{flat, ubs[i]}, ir.Scalar(ir.Index)).Result()
		if i > 0 {
			flat = inner.Create(opDivSI, []*ir.Value{flat, ubs[i]}, ir.Scalar(ir.Index)).Result()
		}
	}
	oldBody := loop.Regions()[0].Entry()
	for _, op := range oldBody.OpsCopy() {
		inner.Take(op)
	}
	for i, iv := range oldBody.Args() {
		ir.ReplaceAllUses(collapsed, iv, indices[i])
	}
	loop.Erase()
}

// newTileParallelLoopsStep tiles every innermost loop.parallel. With matching
// arities the first tiling uses tileSizes[i]*unrollFactors[i] and the
// resulting inner loop is re-tiled by the unroll factors, leaving an
// innermost loop whose trip count equals the unroll factor. Loops guarded by
// a shape constraint are tiled once, by tileSizes only: their bounds are not
// static enough to make the unroll split worthwhile.
func newTileParallelLoopsStep(tileSizes, unrollFactors []int64) Step {
	return newRewrite("tile-parallel-loops", func(m *ir.Module) {
		tileParallelLoops(m, tileSizes, unrollFactors)
	})
}

func tileParallelLoops(m *ir.Module, tileSizes, unrollFactors []int64) {
	if len(tileSizes) == 0 {
		return
	}
	outerTile := tileSizes
	innerTile := []int64(nil)
	if len(unrollFactors) == len(tileSizes) && !allOnes(unrollFactors) {
		outerTile = make([]int64, len(tileSizes))
		for i := range tileSizes {
			outerTile[i] = tileSizes[i] * unrollFactors[i]
		}
		innerTile = unrollFactors
	}
	for _, loop := range innermostParallelLoops(m) {
		if loop.Ancestor(ir.OpAssuming) != nil {
			tileLoop(loop, tileSizes)
			continue
		}
		_, inner := tileLoop(loop, outerTile)
		if innerTile != nil {
			tileLoop(inner, innerTile)
		}
	}
}

func allOnes(factors []int64) bool {
	for _, f := range factors {
		if f != 1 {
			return false
		}
	}
	return true
}

// innermostParallelLoops returns the loop.parallel ops with no loop.parallel
// nested inside them.
func innermostParallelLoops(m *ir.Module) []*ir.Op {
	var innermost []*ir.Op
	for _, loop := range m.Op().Find(ir.OpParallel) {
		if len(loop.Find(ir.OpParallel)) == 1 {
			innermost = append(innermost, loop)
		}
	}
	return innermost
}

// tileLoop splits one loop.parallel into an outer loop stepping by the tile
// size and an inner loop covering a single tile. Dimensions beyond the tile
// arity keep a tile size of 1; extra tile sizes are ignored.
func tileLoop(loop *ir.Op, sizes []int64) (outer, inner *ir.Op) {
	dims := int(loop.IntAttr(dimsAttrName, 0))
	indexType := ir.Scalar(ir.Index)
	lbs := loop.Operands()[:dims]
	ubs := loop.Operands()[dims : 2*dims]
	steps := loop.Operands()[2*dims:]

	size := func(i int) int64 {
		if i < len(sizes) {
			return sizes[i]
		}
		return 1
	}

	bld := ir.NewBuilderBefore(loop)
	sizeVals := make([]*ir.Value, dims)
	for i := 0; i < dims; i++ {
		sizeVals[i] = constIndex(bld, size(i))
	}
	outerOperands := make([]*ir.Value, 0, 3*dims)
	outerOperands = append(outerOperands, lbs...)
	outerOperands = append(outerOperands, ubs...)
	outerOperands = append(outerOperands, sizeVals...)
	outer = bld.Create(ir.OpParallel, outerOperands)
	outer.SetAttr(dimsAttrName, int64(dims))
	argTypes := make([]ir.Type, dims)
	for i := range argTypes {
		argTypes[i] = indexType
	}
	outerBody := outer.AddRegion().AddBlock(argTypes...)

	// Inner bounds: the tile size where the range divides evenly, otherwise
	// min(size, ub-iv) to mask the partial tile at the edge.
	innerBld := ir.NewBuilderAtEnd(outerBody)
	zero := constIndex(innerBld, 0)
	innerUBs := make([]*ir.Value, dims)
	for i := 0; i < dims; i++ {
		if ub, ok := constIntValue(ubs[i]); ok && isConstInt(lbs[i], 0) && (ub-0)%size(i) == 0 {
			innerUBs[i] = constIndex(innerBld, size(i))
			continue
		}
		rem := innerBld.Create(opSubI, []*ir.Value{ubs[i], outerBody.Arg(i)}, indexType).Result()
		sizeInBody := constIndex(innerBld, size(i))
		innerUBs[i] = innerBld.Create(opMinSI, []*ir.Value{sizeInBody, rem}, indexType).Result()
	}
	innerOperands := make([]*ir.Value, 0, 3*dims)
	for i := 0; i < dims; i++ {
		innerOperands = append(innerOperands, zero)
	}
	innerOperands = append(innerOperands, innerUBs...)
	innerOperands = append(innerOperands, steps...)
	inner = innerBld.Create(ir.OpParallel, innerOperands)
	inner.SetAttr(dimsAttrName, int64(dims))
	innerBody := inner.AddRegion().AddBlock(argTypes...)

	// The original index is the tile origin plus the intra-tile offset.
	bodyBld := ir.NewBuilderAtEnd(innerBody)
	combined := make([]*ir.Value, dims)
	for i := 0; i < dims; i++ {
		combined[i] = bodyBld.Create(opAddI, []*ir.Value{outerBody.Arg(i), innerBody.Arg(i)}, indexType).Result()
	}
	oldBody := loop.Regions()[0].Entry()
	for _, op := range oldBody.OpsCopy() {
		bodyBld.Take(op)
	}
	for i, iv := range oldBody.Args() {
		ir.ReplaceAllUses(outer, iv, combined[i])
	}
	loop.Erase()
	return outer, inner
}
