package pipeline

import (
	"fmt"

	"github.com/Teng-xu/tensorflow-1/ir"
)

// Stage 5: annotate kernels with facts the device compiler cannot derive
// locally. The facts come from the host side of each gpu.launch_func: the
// launch operands still carry buffer shapes, and the host controls which
// buffers can alias. Both sweeps are best effort; a kernel without a launch
// site is simply left unannotated.

// hostABIAlignment is the byte alignment the runtime allocator guarantees
// for every buffer it hands to a kernel.
const hostABIAlignment = 16

func staticShapeAttr(arg int) string { return fmt.Sprintf("kernelgen.static_shape.arg%d", arg) }
func alignmentAttr(arg int) string   { return fmt.Sprintf("kernelgen.alignment.arg%d", arg) }
func noaliasAttr(arg int) string     { return fmt.Sprintf("kernelgen.noalias.arg%d", arg) }

// newAnnotateShapesStep records the static shape of every buffer argument on
// its kernel.
func newAnnotateShapesStep() Step {
	return newRewrite("annotate-static-shapes", func(m *ir.Module) {
		forEachLaunch(m, func(kernel *ir.Op, args []*ir.Value) {
			for i, arg := range args {
				t := arg.Type()
				if t.Kind != ir.KindMemRef || !t.IsStatic() {
					continue
				}
				dims := make([]int64, t.Rank())
				for d, dim := range t.Dims {
					dims[d] = int64(dim)
				}
				kernel.SetAttr(staticShapeAttr(i), dims)
			}
		})
	})
}

// newAnnotateABIStep records allocator alignment and non-aliasing facts for
// every buffer argument. A buffer passed twice to the same launch may alias
// itself, so those arguments are skipped.
func newAnnotateABIStep() Step {
	return newRewrite("annotate-host-abi", func(m *ir.Module) {
		forEachLaunch(m, func(kernel *ir.Op, args []*ir.Value) {
			counts := make(map[*ir.Value]int, len(args))
			for _, arg := range args {
				counts[arg]++
			}
			for i, arg := range args {
				if arg.Type().Kind != ir.KindMemRef {
					continue
				}
				kernel.SetAttr(alignmentAttr(i), int64(hostABIAlignment))
				if counts[arg] == 1 {
					kernel.SetAttr(noaliasAttr(i), true)
				}
			}
		})
	})
}

// forEachLaunch calls fn once per gpu.launch_func with the launched kernel op
// and the buffer/scalar arguments (grid and block sizes excluded).
func forEachLaunch(m *ir.Module, fn func(kernel *ir.Op, args []*ir.Value)) {
	kernels := make(map[string]*ir.Op)
	for _, gpuMod := range m.GPUModules() {
		for _, kernel := range gpuMod.Regions()[0].Entry().Ops() {
			if kernel.Name() == ir.OpGPUFunc {
				kernels[kernel.StrAttr(ir.SymNameAttrName)] = kernel
			}
		}
	}
	m.Op().Walk(func(op *ir.Op) {
		if op.Name() != opGPULaunchFunc {
			return
		}
		kernel, found := kernels[op.StrAttr(kernelAttrName)]
		if !found {
			return
		}
		gridDims := int(op.IntAttr(gridDimsAttrName, 0))
		fn(kernel, op.Operands()[2*gridDims:])
	})
}
