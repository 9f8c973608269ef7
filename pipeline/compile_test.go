package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/Teng-xu/tensorflow-1/backends"
	_ "github.com/Teng-xu/tensorflow-1/backends/amd"
	_ "github.com/Teng-xu/tensorflow-1/backends/nvidia"
	"github.com/Teng-xu/tensorflow-1/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const addProgram = `
module {
  func @add(%a: tensor<16xf32>, %b: tensor<16xf32>) -> tensor<16xf32> {
    %sum = tf.AddV2 %a, %b : tensor<16xf32>
    return %sum
  }
}
`

const dynamicMulProgram = `
module {
  func @mul(%a: tensor<?xf32>, %b: tensor<?xf32>) -> tensor<?xf32> {
    %prod = tf.Mul %a, %b : tensor<?xf32>
    return %prod
  }
}
`

// findCalls returns all llvm.call ops with the given runtime callee.
func findCalls(m *ir.Module, callee string) []*ir.Op {
	var calls []*ir.Op
	for _, op := range m.Op().Find(opLLVMCall) {
		if op.StrAttr(calleeAttrName) == callee {
			calls = append(calls, op)
		}
	}
	return calls
}

// assertNoOpsWithPrefix fails when any op under root belongs to the dialect
// prefix, e.g. "tf." after legalization.
func assertNoOpsWithPrefix(t *testing.T, root *ir.Op, prefix string) {
	t.Helper()
	root.Walk(func(op *ir.Op) {
		assert.False(t, strings.HasPrefix(op.Name(), prefix),
			"unexpected op %q", op.Name())
	})
}

func TestCompileCPU(t *testing.T) {
	m, err := Compile(addProgram, Config{CPUCodegen: true, TileSizes: []int64{4}})
	require.NoError(t, err)
	require.NoError(t, ir.Verify(m))

	assertNoOpsWithPrefix(t, m.Op(), "tf.")
	assertNoOpsWithPrefix(t, m.Op(), "linalg.")
	assert.Empty(t, m.GPUModules())

	fn := m.FuncByName("add")
	require.NotNil(t, fn)
	for _, param := range fn.Params() {
		assert.Equal(t, ir.KindMemRef, param.Type().Kind)
	}
	assert.Equal(t, "memref<16xf32>", fn.Op().StrAttr(ir.FuncTypeAttrName))

	// 16 elements tiled by 4: an outer loop stepping by the tile and an inner
	// loop over one tile.
	loops := m.Op().Find(ir.OpParallel)
	require.Len(t, loops, 2)
	outer, inner := loops[0], loops[1]
	assert.Equal(t, int64(0), constOperand(t, outer, 0))
	assert.Equal(t, int64(16), constOperand(t, outer, 1))
	assert.Equal(t, int64(4), constOperand(t, outer, 2))
	assert.Equal(t, int64(4), constOperand(t, inner, 1))
	assert.Equal(t, int64(1), constOperand(t, inner, 2))

	// The 16-element output buffer is small enough to live on the stack, so
	// no runtime allocation call remains.
	assert.Len(t, m.Op().Find(opMemRefAlloca), 1)
	assert.Empty(t, m.Op().Find(opRTAlloc))
	assert.Empty(t, findCalls(m, "tf_alloc"))

	assert.NotEmpty(t, inner.Find(opAddF))
	assert.NotEmpty(t, inner.Find(opMemRefLoad))
	assert.NotEmpty(t, inner.Find(opMemRefStore))
}

func TestCompileCPUDynamic(t *testing.T) {
	m, err := Compile(dynamicMulProgram, Config{CPUCodegen: true, TileSizes: []int64{4}})
	require.NoError(t, err)
	require.NoError(t, ir.Verify(m))

	assert.Empty(t, m.GPUModules())
	assert.NotEmpty(t, m.Op().Find(opMemRefDim))

	// Dynamically sized buffers come from the runtime, and the broadcast
	// precondition is checked at runtime too.
	assert.Len(t, findCalls(m, "tf_alloc"), 1)
	assert.Len(t, findCalls(m, "tf_assert"), 1)
	assert.Empty(t, m.Op().Find(opMemRefAlloca))

	// The trip count is unknown, so the inner tile bound stays a min.
	loops := m.Op().Find(ir.OpParallel)
	require.Len(t, loops, 2)
	ub := loops[1].Operand(1).Def()
	require.NotNil(t, ub)
	assert.Equal(t, opMinSI, ub.Name())
}

func TestCompileGPU(t *testing.T) {
	m, err := Compile(addProgram, Config{
		Backend:        "nvidia",
		Architectures:  []string{"sm_70"},
		TileSizes:      []int64{4},
		UnrollFactors:  []int64{2},
		GenerateFatbin: true,
		PrintPTX:       true,
	})
	require.NoError(t, err)
	require.NoError(t, ir.Verify(m))

	gpuModules := m.GPUModules()
	require.Len(t, gpuModules, 1)
	gpuMod := gpuModules[0]
	assert.Equal(t, "kernel_module", gpuMod.StrAttr(ir.SymNameAttrName))

	artifacts, err := backends.DecodeFatbin(gpuMod.BytesAttr(ir.GPUBinaryAttrName))
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "sm_70", artifacts[0].Architecture)
	assert.True(t, strings.HasPrefix(string(artifacts[0].Binary), "CUBN\x00sm_70\x00"))
	assert.Contains(t, gpuMod.StrAttr(ir.GPUAssemblyAttrName), ".visible .entry add_kernel(")

	kernels := gpuMod.Find(ir.OpGPUFunc)
	require.Len(t, kernels, 1)
	kernel := kernels[0]
	assert.Equal(t, "add_kernel", kernel.StrAttr(ir.SymNameAttrName))

	// Two inputs plus the output buffer, all static 16-element buffers with
	// the runtime's ABI guarantees.
	params := ir.FuncFromOp(kernel).Params()
	require.Len(t, params, 3)
	for i, param := range params {
		assert.Equal(t, ir.Ptr, param.Type().DType)
		assert.Equal(t, []int64{16}, kernel.IntsAttr(staticShapeAttr(i)))
		assert.Equal(t, int64(16), kernel.IntAttr(alignmentAttr(i), 0))
		assert.True(t, kernel.BoolAttr(noaliasAttr(i)))
	}

	// The kernel body is fully converted: hardware ids plus llvm ops, no
	// structured loops and no arith left.
	assert.NotEmpty(t, kernel.Find("nvvm.block_id"))
	assert.NotEmpty(t, kernel.Find("nvvm.thread_id"))
	assert.NotEmpty(t, kernel.Find("llvm.getelementptr"))
	assertNoOpsWithPrefix(t, kernel, "arith.")
	assert.Empty(t, kernel.Find(ir.OpParallel))
	assert.Empty(t, kernel.Find(ir.OpFor))

	// Host side: the loop nest became one launch with a folded configuration.
	// 16 elements in tiles of 4*2 gives 2 blocks; each block covers its 8
	// elements with 4 threads unrolling by 2, so every launched thread is
	// live.
	assert.Empty(t, m.Op().Find(ir.OpParallel))
	launches := findCalls(m, "tf_launch_kernel")
	require.Len(t, launches, 1)
	launch := launches[0]
	assert.Equal(t, "add_kernel", launch.StrAttr(kernelAttrName))
	assert.Equal(t, "kernel_module", launch.StrAttr(kernelModuleAttrName))
	assert.Equal(t, int64(1), launch.IntAttr(gridDimsAttrName, 0))
	assert.Equal(t, int64(2), constOperand(t, launch, 0))
	assert.Equal(t, int64(4), constOperand(t, launch, 1))
}

func TestCompileAMD(t *testing.T) {
	m, err := Compile(addProgram, Config{
		Backend:        "amd",
		Architectures:  []string{"gfx906"},
		TileSizes:      []int64{4},
		GenerateFatbin: true,
	})
	require.NoError(t, err)
	require.NoError(t, ir.Verify(m))

	gpuModules := m.GPUModules()
	require.Len(t, gpuModules, 1)
	artifacts, err := backends.DecodeFatbin(gpuModules[0].BytesAttr(ir.GPUBinaryAttrName))
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.True(t, strings.HasPrefix(string(artifacts[0].Binary), "HSCO\x00gfx906\x00"))

	kernel := gpuModules[0].Find(ir.OpGPUFunc)[0]
	assert.NotEmpty(t, kernel.Find("rocdl.workgroup_id"))
	assert.NotEmpty(t, kernel.Find("rocdl.workitem_id"))
	assert.Empty(t, kernel.Find("nvvm.block_id"))
}

func TestCompileGPUDynamicStaysOnHost(t *testing.T) {
	m, err := Compile(dynamicMulProgram, Config{
		Backend:        "nvidia",
		Architectures:  []string{"sm_70"},
		TileSizes:      []int64{4},
		GenerateFatbin: true,
	})
	require.NoError(t, err)
	require.NoError(t, ir.Verify(m))

	// Shape-guarded loops are never offloaded; the whole program runs on the
	// host behind a runtime shape check.
	assert.Empty(t, m.GPUModules())
	assert.Empty(t, findCalls(m, "tf_launch_kernel"))
	assert.NotEmpty(t, m.Op().Find(ir.OpParallel))
	assert.Len(t, findCalls(m, "tf_assert"), 1)
	assert.Len(t, findCalls(m, "tf_alloc"), 1)
}

func TestCompileParseError(t *testing.T) {
	_, err := Compile("modul {}", Config{CPUCodegen: true})
	require.Error(t, err)
	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Contains(t, err.Error(), "parse error at ")
}

func TestCompileUnsupportedOp(t *testing.T) {
	program := `
module {
  func @conv(%a: tensor<16xf32>, %b: tensor<16xf32>) -> tensor<16xf32> {
    %r = tf.Conv2D %a, %b : tensor<16xf32>
    return %r
  }
}
`
	_, err := Compile(program, Config{CPUCodegen: true})
	require.Error(t, err)
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, "tf-to-loops", stageErr.Stage)
	assert.Equal(t, "Lowering TF to loops failed.", stageErr.Message)
	assert.Contains(t, err.Error(), "not supported by the kernel generator")
}

func TestCompileMissingLowering(t *testing.T) {
	program := `
module {
  func @pow(%a: tensor<16xf32>, %b: tensor<16xf32>) -> tensor<16xf32> {
    %r = tf.Pow %a, %b : tensor<16xf32>
    return %r
  }
}
`
	_, err := Compile(program, Config{CPUCodegen: true})
	require.Error(t, err)
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, "tf-to-loops", stageErr.Stage)
	assert.Contains(t, err.Error(), "no scalar lowering")
}

func TestCompileEmptyArchitectures(t *testing.T) {
	_, err := Compile(addProgram, Config{Backend: "nvidia"})
	require.Error(t, err)
	var backendErr *BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Nil(t, backendErr.Err)
	assert.Equal(t, "Generating device code failed", err.Error())
}

func TestCompileUnknownBackend(t *testing.T) {
	_, err := Compile(addProgram, Config{
		Backend:       "missing",
		Architectures: []string{"sm_70"},
	})
	require.Error(t, err)
	var configErr *ConfigurationError
	require.True(t, errors.As(err, &configErr))
	assert.Contains(t, err.Error(), "can't find backend")
}

func TestCompileBadArchitecture(t *testing.T) {
	_, err := Compile(addProgram, Config{
		Backend:        "nvidia",
		Architectures:  []string{"gfx906"},
		GenerateFatbin: true,
	})
	require.Error(t, err)
	var backendErr *BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Contains(t, err.Error(), "unsupported NVIDIA architecture")
}
