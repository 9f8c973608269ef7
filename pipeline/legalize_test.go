package pipeline

import (
	"testing"

	"github.com/Teng-xu/tensorflow-1/ir"
	"github.com/Teng-xu/tensorflow-1/ir/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// legalize parses the program and runs the TF lowering stage on it.
func legalize(t *testing.T, program string) *ir.Module {
	t.Helper()
	ctx := ir.NewContext()
	ctx.RegisterDialects(dialects...)
	m, err := parser.Parse(ctx, program)
	require.NoError(t, err)
	require.NoError(t, stageTFToLoops().Run(m))
	return m
}

func TestLegalizeFusesElementwiseChain(t *testing.T) {
	m := legalize(t, `
module {
  func @f(%a: tensor<8xf32>, %b: tensor<8xf32>) -> tensor<8xf32> {
    %s = tf.AddV2 %a, %b : tensor<8xf32>
    %t = tf.Tanh %s : tensor<8xf32>
    return %t
  }
}
`)
	maps := m.Op().Find(opLinalgMap)
	require.Len(t, maps, 1)
	assert.Equal(t, opAddF, maps[0].StrAttr(fnAttrName))
	assert.Equal(t, []string{opTanh}, maps[0].StrsAttr(postAttrName))

	fn := m.FuncByName("f")
	assert.Same(t, fn.Params()[0], maps[0].Operand(0))
	assert.Same(t, fn.Params()[1], maps[0].Operand(1))
}

func TestLegalizeBroadcast(t *testing.T) {
	m := legalize(t, `
module {
  func @f(%a: tensor<4x1xf32>, %b: tensor<4x8xf32>) -> tensor<4x8xf32> {
    %s = tf.AddV2 %a, %b : tensor<4x8xf32>
    return %s
  }
}
`)
	broadcasts := m.Op().Find(opLinalgBroadcast)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, []int64{1}, broadcasts[0].IntsAttr(dimsAttrName))
	assert.Equal(t, "tensor<4x8xf32>", broadcasts[0].Result().Type().String())

	maps := m.Op().Find(opLinalgMap)
	require.Len(t, maps, 1)
	assert.Same(t, broadcasts[0].Result(), maps[0].Operand(0))
}

func TestLegalizeIntegerAdd(t *testing.T) {
	m := legalize(t, `
module {
  func @f(%a: tensor<8xi32>, %b: tensor<8xi32>) -> tensor<8xi32> {
    %s = tf.AddV2 %a, %b : tensor<8xi32>
    return %s
  }
}
`)
	maps := m.Op().Find(opLinalgMap)
	require.Len(t, maps, 1)
	assert.Equal(t, opAddI, maps[0].StrAttr(fnAttrName))
}

func TestLegalizeRelu(t *testing.T) {
	m := legalize(t, `
module {
  func @f(%a: tensor<8xf32>) -> tensor<8xf32> {
    %r = tf.Relu %a : tensor<8xf32>
    return %r
  }
}
`)
	maps := m.Op().Find(opLinalgMap)
	require.Len(t, maps, 1)
	assert.Equal(t, opMaxF, maps[0].StrAttr(fnAttrName))

	// Relu is max against a scalar zero, broadcast implicitly by the map.
	zero := maps[0].Operand(1)
	assert.Equal(t, ir.KindScalar, zero.Type().Kind)
	def := zero.Def()
	require.NotNil(t, def)
	assert.Equal(t, opConstant, def.Name())
	assert.Equal(t, float64(0), def.FloatAttr(valueAttrName, -1))
}

func TestLegalizeCast(t *testing.T) {
	m := legalize(t, `
module {
  func @f(%a: tensor<8xf32>) -> tensor<8xi32> {
    %r = tf.Cast %a : tensor<8xi32>
    return %r
  }
}
`)
	maps := m.Op().Find(opLinalgMap)
	require.Len(t, maps, 1)
	assert.Equal(t, opFPToSI, maps[0].StrAttr(fnAttrName))
}

func TestLegalizeComplexAbs(t *testing.T) {
	m := legalize(t, `
module {
  func @f(%re: tensor<8xf32>, %im: tensor<8xf32>) -> tensor<8xf32> {
    %c = tf.Complex %re, %im : tensor<8xc64>
    %abs = tf.ComplexAbs %c : tensor<8xf32>
    return %abs
  }
}
`)
	// |a+bi| decomposes into real arithmetic: two squarings and a fused
	// add-then-sqrt, no complex values left.
	maps := m.Op().Find(opLinalgMap)
	require.Len(t, maps, 3)
	var sqrtMaps int
	for _, mp := range maps {
		if len(mp.StrsAttr(postAttrName)) > 0 {
			assert.Equal(t, []string{opSqrt}, mp.StrsAttr(postAttrName))
			assert.Equal(t, opAddF, mp.StrAttr(fnAttrName))
			sqrtMaps++
		} else {
			assert.Equal(t, opMulF, mp.StrAttr(fnAttrName))
		}
	}
	assert.Equal(t, 1, sqrtMaps)
	assertNoOpsWithPrefix(t, m.Op(), "tf.")
}

func TestLegalizeSplatConst(t *testing.T) {
	m := legalize(t, `
module {
  func @f(%a: tensor<8xf32>) -> tensor<8xf32> {
    %c = tf.Const {value = 2.0} : tensor<8xf32>
    %s = tf.Mul %a, %c : tensor<8xf32>
    return %s
  }
}
`)
	maps := m.Op().Find(opLinalgMap)
	require.Len(t, maps, 1)
	scalar := maps[0].Operand(1)
	assert.Equal(t, ir.KindScalar, scalar.Type().Kind)
	assert.Equal(t, float64(2), scalar.Def().FloatAttr(valueAttrName, -1))
}

func TestLegalizeDynamicShapeGetsGuard(t *testing.T) {
	m := legalize(t, `
module {
  func @f(%a: tensor<?xf32>) -> tensor<?xf32> {
    %r = tf.Abs %a : tensor<?xf32>
    return %r
  }
}
`)
	guards := m.Op().Find(ir.OpAssuming)
	require.Len(t, guards, 1)
	require.NotNil(t, guards[0].Result())
	assert.NotEmpty(t, guards[0].Find(opLinalgMap))
	assert.NotEmpty(t, guards[0].Find(ir.OpYield))
}
