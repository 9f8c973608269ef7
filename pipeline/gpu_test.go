package pipeline

import (
	"testing"

	"github.com/Teng-xu/tensorflow-1/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutlineLaunchConfiguration(t *testing.T) {
	m := newTestModule()
	fn := m.AddFunc("main", nil, ir.Invalid())
	addLoop(fn.Body(), 16)

	tileParallelLoops(m, []int64{4}, []int64{2})
	require.NoError(t, newMapLoopsToHardwareStep().Apply(m))
	require.NoError(t, newOutlineKernelsStep().Apply(m))
	require.NoError(t, ir.Verify(m))
	require.NoError(t, runCleanup(m))

	kernels := m.GPUModules()[0].Find(ir.OpGPUFunc)
	require.Len(t, kernels, 1)
	assert.Equal(t, "main_kernel", kernels[0].StrAttr(ir.SymNameAttrName))

	launches := m.Op().Find(opGPULaunchFunc)
	require.Len(t, launches, 1)
	launch := launches[0]
	assert.Equal(t, int64(1), launch.IntAttr(gridDimsAttrName, 0))

	// The block loop covers 16 elements in steps of 8, so the grid is 2.
	// Each block runs one thread per thread-loop iteration: the block step
	// divided by the thread step, not the raw block step.
	assert.Equal(t, int64(2), constOperand(t, launch, 0))
	assert.Equal(t, int64(4), constOperand(t, launch, 1))
}

func TestOutlineBlockSizeWithoutThreadLoop(t *testing.T) {
	m := newTestModule()
	fn := m.AddFunc("main", nil, ir.Invalid())
	addLoop(fn.Body(), 16)

	tileParallelLoops(m, []int64{4}, nil)
	require.NoError(t, newMapLoopsToHardwareStep().Apply(m))

	// Drop the thread mapping so only the block loop is offloaded; every
	// block then runs single-threaded.
	for _, loop := range m.Op().Find(ir.OpParallel) {
		if firstMapping(loop) == "thread_x" {
			loop.RemoveAttr(mappingAttrName)
		}
	}
	require.NoError(t, newOutlineKernelsStep().Apply(m))
	require.NoError(t, ir.Verify(m))
	require.NoError(t, runCleanup(m))

	launches := m.Op().Find(opGPULaunchFunc)
	require.Len(t, launches, 1)
	assert.Equal(t, int64(4), constOperand(t, launches[0], 0))
	assert.Equal(t, int64(1), constOperand(t, launches[0], 1))
}
