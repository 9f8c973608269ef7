package pipeline

import (
	"testing"

	"github.com/Teng-xu/tensorflow-1/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupFoldsIntArithmetic(t *testing.T) {
	m := newTestModule()
	fn := m.AddFunc("main", nil, ir.Invalid())
	bld := ir.NewBuilderAtEnd(fn.Body())
	c2 := constIndex(bld, 2)
	c3 := constIndex(bld, 3)
	one := constIndex(bld, 1)
	sum := bld.Create(opAddI, []*ir.Value{c2, c3}, ir.Scalar(ir.Index)).Result()
	prod := bld.Create(opMulI, []*ir.Value{sum, one}, ir.Scalar(ir.Index)).Result()
	zero := constIndex(bld, 0)
	forOp := bld.Create(ir.OpFor, []*ir.Value{zero, prod, one})
	forOp.AddRegion().AddBlock(ir.Scalar(ir.Index))

	require.NoError(t, runCleanup(m))
	require.NoError(t, ir.Verify(m))

	ub, ok := constIntValue(forOp.Operand(1))
	require.True(t, ok)
	assert.Equal(t, int64(5), ub)
	assert.Empty(t, m.Op().Find(opAddI))
	assert.Empty(t, m.Op().Find(opMulI))
}

func TestCleanupCSE(t *testing.T) {
	m := newTestModule()
	fn := m.AddFunc("main", nil, ir.Invalid())
	bld := ir.NewBuilderAtEnd(fn.Body())
	a := constIndex(bld, 7)
	b := constIndex(bld, 7)
	c := constIndex(bld, 7)
	forOp := bld.Create(ir.OpFor, []*ir.Value{a, b, c})
	forOp.AddRegion().AddBlock(ir.Scalar(ir.Index))

	require.NoError(t, runCleanup(m))

	assert.Len(t, m.Op().Find(opConstant), 1)
	assert.Same(t, forOp.Operand(0), forOp.Operand(1))
	assert.Same(t, forOp.Operand(0), forOp.Operand(2))
}

func TestCleanupDoesNotMergeAllocations(t *testing.T) {
	m := newTestModule()
	fn := m.AddFunc("main", nil, ir.Invalid())
	bld := ir.NewBuilderAtEnd(fn.Body())
	bufType := ir.MemRef(ir.F32, 8)
	first := bld.Create(opRTAlloc, nil, bufType)
	second := bld.Create(opRTAlloc, nil, bufType)
	value := constFloat(bld, 1, ir.Scalar(ir.F32))
	zero := constIndex(bld, 0)
	bld.Create(opMemRefStore, []*ir.Value{value, first.Result(), zero})
	bld.Create(opMemRefStore, []*ir.Value{value, second.Result(), zero})

	require.NoError(t, runCleanup(m))
	assert.Len(t, m.Op().Find(opRTAlloc), 2)
}

func TestCleanupErasesDeadChains(t *testing.T) {
	m := newTestModule()
	fn := m.AddFunc("main", nil, ir.Invalid())
	bld := ir.NewBuilderAtEnd(fn.Body())
	a := constIndex(bld, 1)
	b := constIndex(bld, 2)
	sum := bld.Create(opAddI, []*ir.Value{a, b}, ir.Scalar(ir.Index))
	bld.Create(opMulI, []*ir.Value{sum.Result(), sum.Result()}, ir.Scalar(ir.Index))
	bld.Create(opRTAlloc, nil, ir.MemRef(ir.F32, 8))

	require.NoError(t, runCleanup(m))
	assert.Empty(t, fn.Body().Ops())
}

func TestCleanupFoldsDivisibleTileBound(t *testing.T) {
	m := newTestModule()
	fn := m.AddFunc("main", nil, ir.Invalid())
	bld := ir.NewBuilderAtEnd(fn.Body())
	zero := constIndex(bld, 0)
	ub := constIndex(bld, 16)
	tile := constIndex(bld, 4)
	loop := bld.Create(ir.OpParallel, []*ir.Value{zero, ub, tile})
	loop.SetAttr(dimsAttrName, int64(1))
	body := loop.AddRegion().AddBlock(ir.Scalar(ir.Index))

	inner := ir.NewBuilderAtEnd(body)
	innerZero := constIndex(inner, 0)
	rem := inner.Create(opSubI, []*ir.Value{ub, body.Arg(0)}, ir.Scalar(ir.Index))
	size := constIndex(inner, 4)
	bound := inner.Create(opMinSI, []*ir.Value{size, rem.Result()}, ir.Scalar(ir.Index))
	one := constIndex(inner, 1)
	innerLoop := inner.Create(ir.OpParallel, []*ir.Value{innerZero, bound.Result(), one})
	innerLoop.SetAttr(dimsAttrName, int64(1))
	innerLoop.AddRegion().AddBlock(ir.Scalar(ir.Index))

	require.NoError(t, runCleanup(m))
	require.NoError(t, ir.Verify(m))

	// The range divides evenly by the tile, so the min bound specializes to
	// the tile constant and the masking arithmetic dies.
	innerUB, ok := constIntValue(innerLoop.Operand(1))
	require.True(t, ok)
	assert.Equal(t, int64(4), innerUB)
	assert.Empty(t, m.Op().Find(opMinSI))
	assert.Empty(t, m.Op().Find(opSubI))
}

func TestCleanupKeepsPartialTileBound(t *testing.T) {
	m := newTestModule()
	fn := m.AddFunc("main", nil, ir.Invalid())
	bld := ir.NewBuilderAtEnd(fn.Body())
	zero := constIndex(bld, 0)
	ub := constIndex(bld, 10)
	tile := constIndex(bld, 4)
	loop := bld.Create(ir.OpParallel, []*ir.Value{zero, ub, tile})
	loop.SetAttr(dimsAttrName, int64(1))
	body := loop.AddRegion().AddBlock(ir.Scalar(ir.Index))

	inner := ir.NewBuilderAtEnd(body)
	innerZero := constIndex(inner, 0)
	rem := inner.Create(opSubI, []*ir.Value{ub, body.Arg(0)}, ir.Scalar(ir.Index))
	size := constIndex(inner, 4)
	bound := inner.Create(opMinSI, []*ir.Value{size, rem.Result()}, ir.Scalar(ir.Index))
	one := constIndex(inner, 1)
	innerLoop := inner.Create(ir.OpParallel, []*ir.Value{innerZero, bound.Result(), one})
	innerLoop.SetAttr(dimsAttrName, int64(1))
	innerLoop.AddRegion().AddBlock(ir.Scalar(ir.Index))

	require.NoError(t, runCleanup(m))
	assert.Len(t, m.Op().Find(opMinSI), 1)
}
