package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypes(t *testing.T) {
	scalar := Scalar(F32)
	assert.Equal(t, "f32", scalar.String())
	assert.Equal(t, 0, scalar.Rank())
	assert.True(t, scalar.IsStatic())

	tensor := Tensor(F32, 4, DynamicDim)
	assert.Equal(t, "tensor<4x?xf32>", tensor.String())
	assert.False(t, tensor.IsStatic())
	assert.Equal(t, 2, tensor.Rank())

	memref := tensor.AsMemRef()
	assert.Equal(t, "memref<4x?xf32>", memref.String())
	assert.True(t, memref.Eq(MemRef(F32, 4, DynamicDim)))
	assert.False(t, memref.Eq(tensor))

	static := MemRef(I32, 8, 8)
	assert.Equal(t, 64, static.NumElements())
	assert.Equal(t, Scalar(I32), static.Elem())

	assert.Panics(t, func() { Tensor("f128", 4) })
	assert.Panics(t, func() { MemRef(F32, 0) })
	assert.Panics(t, func() { Tensor(F32, -3) })
}

func TestContextDialects(t *testing.T) {
	ctx := NewContext()
	ctx.RegisterDialects("arith", "loop")
	assert.True(t, ctx.IsRegistered("arith"))
	assert.False(t, ctx.IsRegistered("tf"))
	assert.Equal(t, "arith", Dialect("arith.addf"))
	assert.Equal(t, "", Dialect("module"))
	assert.Panics(t, func() { ctx.RegisterDialects("") })
}

func TestAttrs(t *testing.T) {
	ctx := NewContext()
	m := NewModule(ctx)
	op := NewBuilderAtEnd(m.Body()).Create("func", nil)
	op.SetAttr("count", int64(3))
	op.SetAttr("name", "kernel")
	op.SetAttr("dims", []int64{1, 2})
	op.SetAttr("flag", true)

	assert.Equal(t, int64(3), op.IntAttr("count", 0))
	assert.Equal(t, int64(7), op.IntAttr("missing", 7))
	assert.Equal(t, "kernel", op.StrAttr("name"))
	assert.Equal(t, []int64{1, 2}, op.IntsAttr("dims"))
	assert.True(t, op.BoolAttr("flag"))
	assert.Equal(t, []string{"count", "dims", "flag", "name"}, op.AttrKeys())

	op.RemoveAttr("flag")
	assert.False(t, op.HasAttr("flag"))

	assert.Panics(t, func() { op.SetAttr("bad", 3.5+2i) })
}

func TestBuilderAndUses(t *testing.T) {
	ctx := NewContext()
	ctx.RegisterDialects("arith")
	m := NewModule(ctx)
	fn := m.AddFunc("main", []Type{Scalar(Index)}, Invalid())
	bld := NewBuilderAtEnd(fn.Body())
	a := bld.Create("arith.constant", nil, Scalar(Index))
	a.SetAttr("value", int64(1))
	sum := bld.Create("arith.addi", []*Value{a.Result(), fn.Params()[0]}, Scalar(Index))
	bld.Create("return", []*Value{sum.Result()})

	require.NoError(t, Verify(m))
	assert.True(t, HasUses(m.Op(), a.Result()))
	assert.False(t, a.Result().IsBlockArg())
	assert.True(t, fn.Params()[0].IsBlockArg())
	assert.Equal(t, sum, sum.Result().Def())

	// Insert before an existing op; it must land ahead of it.
	pre := NewBuilderBefore(sum).Create("arith.constant", nil, Scalar(Index))
	ops := fn.Body().Ops()
	assert.Equal(t, []*Op{a, pre, sum, ops[3]}, ops)

	ReplaceAllUses(m.Op(), a.Result(), pre.Result())
	assert.False(t, HasUses(m.Op(), a.Result()))
	assert.Same(t, pre.Result(), sum.Operand(0))
	a.Erase()
	require.NoError(t, Verify(m))
}

func TestWalkAndFind(t *testing.T) {
	ctx := NewContext()
	ctx.RegisterDialects("arith", "loop")
	m := NewModule(ctx)
	fn := m.AddFunc("main", nil, Invalid())
	bld := NewBuilderAtEnd(fn.Body())
	c0 := bld.Create("arith.constant", nil, Scalar(Index))
	c1 := bld.Create("arith.constant", nil, Scalar(Index))
	loop := bld.Create(OpParallel, []*Value{c0.Result(), c1.Result(), c1.Result()})
	loop.SetAttr("dims", int64(1))
	body := loop.AddRegion().AddBlock(Scalar(Index))
	NewBuilderAtEnd(body).Create("arith.addi", []*Value{body.Arg(0), body.Arg(0)}, Scalar(Index))

	require.NoError(t, Verify(m))
	assert.Len(t, m.Op().Find("arith.constant"), 2)
	assert.Len(t, m.Op().Find(OpParallel), 1)
	var names []string
	m.Op().Walk(func(op *Op) { names = append(names, op.Name()) })
	assert.Equal(t, []string{"module", "func", "arith.constant", "arith.constant", OpParallel, "arith.addi"}, names)

	assert.Equal(t, loop, body.Ops()[0].Ancestor(OpParallel))
	assert.Nil(t, loop.Ancestor(OpParallel))
	assert.Equal(t, fn.Op(), loop.Parent())
}

func TestVerifyRejections(t *testing.T) {
	ctx := NewContext()
	ctx.RegisterDialects("arith", "loop")
	m := NewModule(ctx)
	fn := m.AddFunc("main", nil, Invalid())
	bld := NewBuilderAtEnd(fn.Body())

	// Unregistered dialect.
	bad := bld.Create("tf.Add", nil)
	err := Verify(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered dialect")
	bad.Erase()

	// Use before def.
	c := bld.Create("arith.constant", nil, Scalar(Index))
	use := NewBuilderBefore(c).Create("arith.addi", []*Value{c.Result(), c.Result()}, Scalar(Index))
	err = Verify(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not visible")
	use.Erase()

	// loop.parallel arity mismatch.
	loop := bld.Create(OpParallel, []*Value{c.Result(), c.Result()})
	loop.SetAttr("dims", int64(1))
	loop.AddRegion().AddBlock(Scalar(Index))
	err = Verify(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operands")
}

func TestModuleFuncs(t *testing.T) {
	ctx := NewContext()
	m := NewModule(ctx)
	fn := m.AddFunc("first", []Type{MemRef(F32, 4)}, MemRef(F32, 4))
	m.AddFunc("second", nil, Invalid())

	assert.Len(t, m.Funcs(), 2)
	assert.Equal(t, fn.Op(), m.FuncByName("first").Op())
	assert.Nil(t, m.FuncByName("third"))
	assert.Equal(t, "memref<4xf32>", fn.Op().StrAttr(FuncTypeAttrName))
	assert.Empty(t, m.GPUModules())
}
