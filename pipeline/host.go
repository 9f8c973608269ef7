package pipeline

import (
	"github.com/Teng-xu/tensorflow-1/ir"
)

// Stage 6: lower the host side to its final form. Runtime-dialect ops and
// kernel launches become calls into the host runtime; host functions keep
// their memref-descriptor signatures and structured loops, which the runtime
// executes on its worker pool.

// runtimeCallees maps host-side ops to the runtime functions implementing
// them. The launch callee resolves the device binary through the gpu.binary
// attribute of the kernel module.
var runtimeCallees = map[string]string{
	opRTAlloc:       "tf_alloc",
	opRTAssert:      "tf_assert",
	opRTPrintMemRef: "tf_print_memref",
	opGPULaunchFunc: "tf_launch_kernel",
}

func newLowerHostRuntimeStep() Step {
	return newRewrite("host-to-runtime-calls", func(m *ir.Module) {
		eachFunc(m, func(fn *ir.Func) {
			fn.Op().Walk(func(op *ir.Op) {
				callee, found := runtimeCallees[op.Name()]
				if !found {
					return
				}
				op.Rename(opLLVMCall)
				op.SetAttr(calleeAttrName, callee)
			})
		})
	})
}
