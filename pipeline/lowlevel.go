package pipeline

import (
	"github.com/Teng-xu/tensorflow-1/ir"
	"github.com/pkg/errors"
)

// Stages 3 and 4: vendor-specific fixups, then the lowering of kernel bodies
// to unstructured control flow and the selected backend's low-level dialect.

// newAMDFixupsStep rewrites float16-to-bool conversions inside kernels
// through an i16 intermediate. The AMD code generator miscompiles the direct
// f16 -> i1 form.
func newAMDFixupsStep() Step {
	return newRewrite("amd-fptosi-fixup", func(m *ir.Module) {
		for _, gpuMod := range m.GPUModules() {
			gpuMod.Walk(func(op *ir.Op) {
				if op.Name() != opFPToSI {
					return
				}
				if op.Operand(0).Type().DType != ir.F16 || op.Result().Type().DType != ir.I1 {
					return
				}
				bld := ir.NewBuilderBefore(op)
				wide := bld.Create(opFPToSI, []*ir.Value{op.Operand(0)}, ir.Scalar(ir.I16))
				narrow := bld.Create(opTruncI, []*ir.Value{wide.Result()}, ir.Scalar(ir.I1))
				ir.ReplaceAllUses(gpuMod, op.Result(), narrow.Result())
				op.Erase()
			})
		}
	})
}

// newLowerKernelCFGStep converts the structured control flow of every kernel
// into basic blocks with cf.br / cf.cond_br terminators.
func newLowerKernelCFGStep() Step {
	return newStep("kernel-structured-to-cfg", func(m *ir.Module) error {
		for _, gpuMod := range m.GPUModules() {
			for _, kernel := range gpuMod.Regions()[0].Entry().Ops() {
				if kernel.Name() != ir.OpGPUFunc {
					return errors.Errorf("unexpected op %q inside gpu.module", kernel.Name())
				}
				if err := lowerKernelCFG(kernel); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func lowerKernelCFG(kernel *ir.Op) error {
	region := kernel.Regions()[0]
	for {
		structured := firstStructuredOp(region)
		if structured == nil {
			return nil
		}
		switch structured.Name() {
		case ir.OpIf:
			lowerIfToCFG(region, structured)
		case ir.OpFor:
			lowerForToCFG(region, structured)
		case ir.OpParallel:
			return errors.Errorf("loop.parallel survived into kernel CFG lowering")
		}
	}
}

// firstStructuredOp returns a structured control-flow op sitting directly in
// one of the region's blocks, or nil. Nested structure is reached on later
// iterations, once its parent has been flattened.
func firstStructuredOp(region *ir.Region) *ir.Op {
	for _, block := range region.Blocks() {
		for _, op := range block.Ops() {
			switch op.Name() {
			case ir.OpIf, ir.OpFor, ir.OpParallel:
				return op
			}
		}
	}
	return nil
}

// opsAfter returns the ops following op in its block.
func opsAfter(op *ir.Op) []*ir.Op {
	ops := op.Block().OpsCopy()
	for i, candidate := range ops {
		if candidate == op {
			return ops[i+1:]
		}
	}
	return nil
}

func lowerIfToCFG(region *ir.Region, ifOp *ir.Op) {
	block := ifOp.Block()
	post := opsAfter(ifOp)
	thenBlock := region.InsertBlockAfter(block)
	contBlock := region.InsertBlockAfter(thenBlock)

	contBld := ir.NewBuilderAtEnd(contBlock)
	for _, op := range post {
		contBld.Take(op)
	}
	thenBld := ir.NewBuilderAtEnd(thenBlock)
	for _, op := range ifOp.Regions()[0].Entry().OpsCopy() {
		thenBld.Take(op)
	}
	thenBld.Create(opBr, nil).SetSuccessors(contBlock)

	cond := ifOp.Operand(0)
	ifOp.Erase()
	ir.NewBuilderAtEnd(block).Create(opCondBr, []*ir.Value{cond}).SetSuccessors(thenBlock, contBlock)
}

func lowerForToCFG(region *ir.Region, forOp *ir.Op) {
	indexType := ir.Scalar(ir.Index)
	block := forOp.Block()
	post := opsAfter(forOp)
	header := region.InsertBlockAfter(block, indexType)
	body := region.InsertBlockAfter(header)
	cont := region.InsertBlockAfter(body)
	iv := header.Arg(0)

	contBld := ir.NewBuilderAtEnd(cont)
	for _, op := range post {
		contBld.Take(op)
	}

	headerBld := ir.NewBuilderAtEnd(header)
	cmp := headerBld.Create(opCmpI, []*ir.Value{iv, forOp.Operand(1)}, ir.Scalar(ir.I1))
	cmp.SetAttr(predicateAttrName, "slt")
	headerBld.Create(opCondBr, []*ir.Value{cmp.Result()}).SetSuccessors(body, cont)

	bodyBld := ir.NewBuilderAtEnd(body)
	for _, op := range forOp.Regions()[0].Entry().OpsCopy() {
		bodyBld.Take(op)
	}
	next := bodyBld.Create(opAddI, []*ir.Value{iv, forOp.Operand(2)}, indexType)
	bodyBld.Create(opBr, []*ir.Value{next.Result()}).SetSuccessors(header)
	for _, oldIV := range forOp.Regions()[0].Entry().Args() {
		ir.ReplaceAllUses(region.Owner(), oldIV, iv)
	}

	lb := forOp.Operand(0)
	forOp.Erase()
	ir.NewBuilderAtEnd(block).Create(opBr, []*ir.Value{lb}).SetSuccessors(header)
}

// Vendor-dialect conversion tables. The llvm.* subset is shared; only the
// hardware-id ops differ per vendor.
var toLLVM = map[string]string{
	opAddI:   "llvm.add",
	opSubI:   "llvm.sub",
	opMulI:   "llvm.mul",
	opDivSI:  "llvm.sdiv",
	opRemSI:  "llvm.srem",
	opMinSI:  "llvm.smin",
	opAndI:   "llvm.and",
	opAddF:   "llvm.fadd",
	opSubF:   "llvm.fsub",
	opMulF:   "llvm.fmul",
	opDivF:   "llvm.fdiv",
	opNegF:   "llvm.fneg",
	opMaxF:   "llvm.fmax",
	opCmpI:   "llvm.icmp",
	opFPToSI: "llvm.fptosi",
	opSIToFP: "llvm.sitofp",
	opTruncI: "llvm.trunc",
	opTanh:   "llvm.tanh",
	opSqrt:   "llvm.sqrt",
	opAbsF:   "llvm.fabs",
}

// hardwareIDOps maps the generic gpu id ops to each vendor dialect.
var hardwareIDOps = map[string]map[string]string{
	"nvvm": {
		opGPUBlockID:  "nvvm.block_id",
		opGPUThreadID: "nvvm.thread_id",
	},
	"rocdl": {
		opGPUBlockID:  "rocdl.workgroup_id",
		opGPUThreadID: "rocdl.workitem_id",
	},
}

// newConvertKernelsStep rewrites kernel bodies into the given vendor dialect:
// arith/math become llvm ops, gpu ids become vendor ids, buffer accesses
// become pointer arithmetic plus llvm.load/llvm.store.
func newConvertKernelsStep(deviceDialect string) Step {
	return newStep("kernel-to-"+deviceDialect, func(m *ir.Module) error {
		idOps, found := hardwareIDOps[deviceDialect]
		if !found {
			return errors.Errorf("no conversion for device dialect %q", deviceDialect)
		}
		for _, gpuMod := range m.GPUModules() {
			for _, kernel := range gpuMod.Regions()[0].Entry().Ops() {
				if err := convertKernel(kernel, idOps); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func convertKernel(kernel *ir.Op, idOps map[string]string) error {
	// Buffer accesses first, while operand types still carry shapes.
	var failure error
	kernel.Walk(func(op *ir.Op) {
		if failure != nil {
			return
		}
		switch op.Name() {
		case opMemRefLoad:
			failure = lowerMemAccess(kernel, op, false)
		case opMemRefStore:
			failure = lowerMemAccess(kernel, op, true)
		}
	})
	if failure != nil {
		return failure
	}
	kernel.Walk(func(op *ir.Op) {
		switch op.Name() {
		case opConstant:
			if _, isFloat := op.Attr(valueAttrName).(float64); isFloat {
				op.Rename("llvm.fconstant")
			} else {
				op.Rename("llvm.constant")
			}
		case opGPUBlockID, opGPUThreadID:
			op.Rename(idOps[op.Name()])
		default:
			if name, found := toLLVM[op.Name()]; found {
				op.Rename(name)
			}
		}
	})
	for _, param := range ir.FuncFromOp(kernel).Params() {
		if param.Type().Kind == ir.KindMemRef {
			param.SetType(ir.Scalar(ir.Ptr))
		}
	}
	return nil
}

// lowerMemAccess rewrites a memref.load/store into llvm.getelementptr plus
// llvm.load/llvm.store, linearizing the indices with the buffer's static
// row-major strides.
func lowerMemAccess(kernel *ir.Op, op *ir.Op, isStore bool) error {
	memIdx := 0
	if isStore {
		memIdx = 1
	}
	mem := op.Operand(memIdx)
	memType := mem.Type()
	if memType.Kind != ir.KindMemRef {
		return errors.Errorf("%s on a value with unknown buffer shape", op.Name())
	}
	if !memType.IsStatic() {
		return errors.Errorf("dynamic buffer shapes are not supported inside kernels")
	}
	indices := op.Operands()[memIdx+1:]
	indexType := ir.Scalar(ir.Index)
	bld := ir.NewBuilderBefore(op)

	strides := rowMajorStrides(memType.Dims)
	var linear *ir.Value
	for d, idx := range indices {
		term := idx
		if strides[d] != 1 {
			strideOp := bld.Create("llvm.constant", nil, indexType)
			strideOp.SetAttr(valueAttrName, strides[d])
			term = bld.Create("llvm.mul", []*ir.Value{idx, strideOp.Result()}, indexType).Result()
		}
		if linear == nil {
			linear = term
		} else {
			linear = bld.Create("llvm.add", []*ir.Value{linear, term}, indexType).Result()
		}
	}
	if linear == nil {
		zeroOp := bld.Create("llvm.constant", nil, indexType)
		zeroOp.SetAttr(valueAttrName, int64(0))
		linear = zeroOp.Result()
	}
	addr := bld.Create("llvm.getelementptr", []*ir.Value{mem, linear}, ir.Scalar(ir.Ptr)).Result()
	if isStore {
		bld.Create("llvm.store", []*ir.Value{op.Operand(0), addr})
	} else {
		load := bld.Create("llvm.load", []*ir.Value{addr}, op.Result().Type())
		ir.ReplaceAllUses(kernel, op.Result(), load.Result())
	}
	op.Erase()
	return nil
}

func rowMajorStrides(dims []int) []int64 {
	strides := make([]int64, len(dims))
	stride := int64(1)
	for d := len(dims) - 1; d >= 0; d-- {
		strides[d] = stride
		stride *= int64(dims[d])
	}
	return strides
}

// newStripDebugInfoStep removes source-location attributes module-wide, so
// the device compiler never emits debug sections.
func newStripDebugInfoStep() Step {
	return newRewrite("strip-debug-info", func(m *ir.Module) {
		m.Op().Walk(func(op *ir.Op) {
			op.RemoveAttr(ir.LocAttrName)
		})
	})
}
