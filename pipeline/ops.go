package pipeline

import (
	"github.com/Teng-xu/tensorflow-1/ir"
)

// Operation names of the non-structural dialects the passes produce and
// consume. The ir package only knows the structural ops; everything here is
// pipeline vocabulary.
const (
	// arith: scalar arithmetic on integers, indices and floats.
	opConstant = "arith.constant"
	opAddI     = "arith.addi"
	opSubI     = "arith.subi"
	opMulI     = "arith.muli"
	opDivSI    = "arith.divsi"
	opRemSI    = "arith.remsi"
	opMinSI    = "arith.minsi"
	opCmpI     = "arith.cmpi"
	opAndI     = "arith.andi"
	opAddF     = "arith.addf"
	opSubF     = "arith.subf"
	opMulF     = "arith.mulf"
	opDivF     = "arith.divf"
	opNegF     = "arith.negf"
	opMaxF     = "arith.maxf"
	opFPToSI   = "arith.fptosi"
	opSIToFP   = "arith.sitofp"
	opTruncI   = "arith.trunci"

	// math: transcendental scalar functions.
	opTanh = "math.tanh"
	opSqrt = "math.sqrt"
	opAbsF = "math.absf"

	// linalg: structured tensor computations, the frontend's output.
	opLinalgMap       = "linalg.map"
	opLinalgBroadcast = "linalg.broadcast"

	// memref: buffer access after bufferization.
	opMemRefLoad   = "memref.load"
	opMemRefStore  = "memref.store"
	opMemRefDim    = "memref.dim"
	opMemRefAlloca = "memref.alloca"

	// rt: the host runtime the generated code is embedded into.
	opRTAlloc       = "rt.alloc"
	opRTAssert      = "rt.assert"
	opRTPrintMemRef = "rt.print_memref"

	// gpu: device abstraction before a vendor dialect is chosen.
	opGPUBlockID    = "gpu.block_id"
	opGPUThreadID   = "gpu.thread_id"
	opGPULaunchFunc = "gpu.launch_func"

	// cf/llvm: unstructured control flow and the final low-level form.
	opBr       = "cf.br"
	opCondBr   = "cf.cond_br"
	opLLVMCall = "llvm.call"
)

// Attribute names used across passes.
const (
	// dimsAttrName carries the dimensionality of loop.parallel and the
	// broadcast axes of linalg.broadcast.
	dimsAttrName = "dims"

	// fnAttrName and postAttrName describe the scalar computation of a
	// linalg.map: fn combines the inputs, post is a chain of unary ops
	// applied afterwards.
	fnAttrName   = "fn"
	postAttrName = "post"

	// valueAttrName holds the literal of arith.constant.
	valueAttrName = "value"

	// predicateAttrName holds the comparison predicate of arith.cmpi.
	predicateAttrName = "predicate"

	// indexAttrName holds the queried axis of memref.dim.
	indexAttrName = "index"

	// mappingAttrName marks a loop.parallel with its hardware dimensions,
	// e.g. ["block_x"] or ["thread_x"].
	mappingAttrName = "mapping"

	// reuseInputAttrName marks an allocation that may alias a dead input
	// buffer of the surrounding function.
	reuseInputAttrName = "kernelgen.reuse_input"

	// kernelAttrName and kernelModuleAttrName name the callee of a
	// gpu.launch_func.
	kernelAttrName       = "kernel"
	kernelModuleAttrName = "kernel_module"

	// gridDimsAttrName is the number of leading gpu.launch_func operands
	// that are grid sizes; the same number of block sizes follows.
	gridDimsAttrName = "grid_dims"

	// calleeAttrName names the runtime function of an llvm.call.
	calleeAttrName = "callee"

	// msgAttrName carries the failure message of an rt.assert.
	msgAttrName = "msg"
)

// Hardware dimension names, indexed by loop dimension.
var hardwareDims = []string{"x", "y", "z"}

// constIndex creates an index-typed arith.constant at the builder's position.
func constIndex(bld *ir.Builder, value int64) *ir.Value {
	op := bld.Create(opConstant, nil, ir.Scalar(ir.Index))
	op.SetAttr(valueAttrName, value)
	return op.Result()
}

// constFloat creates a float arith.constant of the given scalar type.
func constFloat(bld *ir.Builder, value float64, t ir.Type) *ir.Value {
	op := bld.Create(opConstant, nil, t)
	op.SetAttr(valueAttrName, value)
	return op.Result()
}

// constIntValue returns the integer literal of an arith.constant defining v,
// or (0, false) when v is not a known integer constant.
func constIntValue(v *ir.Value) (int64, bool) {
	def := v.Def()
	if def == nil || def.Name() != opConstant {
		return 0, false
	}
	value, ok := def.Attr(valueAttrName).(int64)
	return value, ok
}

// isConstInt reports whether v is an integer arith.constant equal to want.
func isConstInt(v *ir.Value, want int64) bool {
	value, ok := constIntValue(v)
	return ok && value == want
}

// eachFunc applies fn to every top-level host function of the module.
func eachFunc(m *ir.Module, fn func(f *ir.Func)) {
	for _, f := range m.Funcs() {
		fn(f)
	}
}
