package pipeline

import (
	"fmt"
	"strings"

	"github.com/Teng-xu/tensorflow-1/ir"
)

// Stage 2, second half: decide which loops run on the device and outline them
// into gpu.module kernels.
//
// The mapping pass marks the outermost parallel loops with block dimensions
// and the loops directly below them with thread dimensions. Outlining then
// replaces every block-mapped loop with a gpu.launch_func and rebuilds the
// loop nest inside a gpu.func, driven by hardware ids behind bounds guards.

// newMapLoopsToHardwareStep annotates parallel loops with their hardware
// dimension. Loops inside a shape.assuming guard stay unmapped and keep
// running on the host.
func newMapLoopsToHardwareStep() Step {
	return newRewrite("map-parallel-loops-to-hardware", func(m *ir.Module) {
		eachFunc(m, func(fn *ir.Func) {
			for _, loop := range fn.Op().Find(ir.OpParallel) {
				mapLoop(loop)
			}
		})
	})
}

func mapLoop(loop *ir.Op) {
	if loop.Ancestor(ir.OpAssuming) != nil {
		return
	}
	dims := int(loop.IntAttr(dimsAttrName, 0))
	if dims > len(hardwareDims) {
		return
	}
	parent := loop.Ancestor(ir.OpParallel)
	var prefix string
	switch {
	case parent == nil:
		prefix = "block"
	case strings.HasPrefix(firstMapping(parent), "block"):
		prefix = "thread"
	default:
		// Below the thread level everything runs sequentially per thread.
		return
	}
	mapping := make([]string, dims)
	for d := 0; d < dims; d++ {
		mapping[d] = prefix + "_" + hardwareDims[d]
	}
	loop.SetAttr(mappingAttrName, mapping)
}

func firstMapping(loop *ir.Op) string {
	mapping := loop.StrsAttr(mappingAttrName)
	if len(mapping) == 0 {
		return ""
	}
	return mapping[0]
}

// newOutlineKernelsStep moves every block-mapped loop nest into a gpu.func
// kernel and replaces it with a gpu.launch_func.
func newOutlineKernelsStep() Step {
	return newStep("outline-gpu-kernels", outlineKernels)
}

func outlineKernels(m *ir.Module) error {
	var gpuMod *ir.Op
	kernelIdx := 0
	for _, fn := range m.Funcs() {
		var mapped []*ir.Op
		for _, loop := range fn.Op().Find(ir.OpParallel) {
			if strings.HasPrefix(firstMapping(loop), "block") {
				mapped = append(mapped, loop)
			}
		}
		for _, loop := range mapped {
			if gpuMod == nil {
				bld := ir.NewBuilderAtEnd(m.Body())
				gpuMod = bld.Create(ir.OpGPUModule, nil)
				gpuMod.SetAttr(ir.SymNameAttrName, "kernel_module")
				gpuMod.AddRegion().AddBlock()
			}
			name := fmt.Sprintf("%s_kernel", fn.Name())
			if kernelIdx > 0 {
				name = fmt.Sprintf("%s_kernel_%d", fn.Name(), kernelIdx)
			}
			kernelIdx++
			if err := outlineLoop(m, gpuMod, loop, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func outlineLoop(m *ir.Module, gpuMod *ir.Op, loop *ir.Op, name string) error {
	free := freeValues(loop)
	indexType := ir.Scalar(ir.Index)
	dims := int(loop.IntAttr(dimsAttrName, 0))
	lbs := append([]*ir.Value{}, loop.Operands()[:dims]...)
	ubs := append([]*ir.Value{}, loop.Operands()[dims:2*dims]...)
	steps := append([]*ir.Value{}, loop.Operands()[2*dims:]...)

	// Kernel signature: one parameter per non-constant free value. Constants
	// are cheaper to rematerialize than to pass.
	var params []*ir.Value
	var consts []*ir.Value
	for _, v := range free {
		if def := v.Def(); def != nil && def.Name() == opConstant {
			consts = append(consts, v)
			continue
		}
		params = append(params, v)
	}
	kernelBld := ir.NewBuilderAtEnd(gpuMod.Regions()[0].Entry())
	kernel := kernelBld.Create(ir.OpGPUFunc, nil)
	kernel.SetAttr(ir.SymNameAttrName, name)
	paramTypes := make([]ir.Type, len(params))
	for i, p := range params {
		paramTypes[i] = p.Type()
	}
	body := kernel.AddRegion().AddBlock(paramTypes...)

	// Host side: launch configuration. The grid covers ceil((ub-lb)/step)
	// tiles per dimension; the block size is the tile size, i.e. the step of
	// the block-mapped loop, when a thread loop exists below.
	hostBld := ir.NewBuilderBefore(loop)
	one := constIndex(hostBld, 1)
	grids := make([]*ir.Value, dims)
	for d := 0; d < dims; d++ {
		span := hostBld.Create(opSubI, []*ir.Value{ubs[d], lbs[d]}, indexType).Result()
		span = hostBld.Create(opAddI, []*ir.Value{span, steps[d]}, indexType).Result()
		span = hostBld.Create(opSubI, []*ir.Value{span, one}, indexType).Result()
		grids[d] = hostBld.Create(opDivSI, []*ir.Value{span, steps[d]}, indexType).Result()
	}
	// Block size: one thread per thread-loop iteration, i.e. the block-loop
	// step divided by the thread-loop step. Launching steps[d] threads would
	// leave every id failing the bounds guard idle.
	threads := threadMappedLoops(loop)
	blocks := make([]*ir.Value, dims)
	for d := 0; d < dims; d++ {
		blocks[d] = one
		if len(threads) == 0 {
			continue
		}
		blocks[d] = steps[d]
		threadDims := int(threads[0].IntAttr(dimsAttrName, 0))
		if d >= threadDims {
			continue
		}
		blockStep, blockOK := constIntValue(steps[d])
		threadStep, threadOK := constIntValue(threads[0].Operand(2*threadDims + d))
		if blockOK && threadOK && threadStep > 0 && blockStep%threadStep == 0 {
			blocks[d] = constIndex(hostBld, blockStep/threadStep)
		}
	}
	launchOperands := append(append(append([]*ir.Value{}, grids...), blocks...), params...)
	launch := hostBld.Create(opGPULaunchFunc, launchOperands)
	launch.SetAttr(kernelAttrName, name)
	launch.SetAttr(kernelModuleAttrName, gpuMod.StrAttr(ir.SymNameAttrName))
	launch.SetAttr(gridDimsAttrName, int64(dims))

	// Move the nest into the kernel and remap its free values.
	ir.NewBuilderAtEnd(body).Take(loop)
	entryBld := ir.NewBuilderBefore(loop)
	for _, v := range consts {
		clone := entryBld.Create(opConstant, nil, v.Type())
		clone.SetAttr(valueAttrName, v.Def().Attr(valueAttrName))
		ir.ReplaceAllUses(kernel, v, clone.Result())
	}
	for i, v := range params {
		ir.ReplaceAllUses(kernel, v, body.Arg(i))
	}

	// Rebuild the loops around hardware ids.
	lowerMappedLoop(loop, opGPUBlockID)
	for _, thread := range threads {
		lowerMappedLoop(thread, opGPUThreadID)
	}
	for {
		remaining := kernel.Find(ir.OpParallel)
		if len(remaining) == 0 {
			break
		}
		serializeLoop(remaining[0])
	}
	ir.NewBuilderAtEnd(body).Create(ir.OpGPUReturn, nil)
	return nil
}

// freeValues returns the values used under op but defined outside it, in
// first-use order.
func freeValues(root *ir.Op) []*ir.Value {
	defined := make(map[*ir.Value]bool)
	root.Walk(func(op *ir.Op) {
		if r := op.Result(); r != nil {
			defined[r] = true
		}
		for _, region := range op.Regions() {
			for _, block := range region.Blocks() {
				for _, arg := range block.Args() {
					defined[arg] = true
				}
			}
		}
	})
	var free []*ir.Value
	seen := make(map[*ir.Value]bool)
	root.Walk(func(op *ir.Op) {
		for _, operand := range op.Operands() {
			if defined[operand] || seen[operand] {
				continue
			}
			seen[operand] = true
			free = append(free, operand)
		}
	})
	return free
}

// threadMappedLoops returns the thread-mapped loops nested under loop.
func threadMappedLoops(loop *ir.Op) []*ir.Op {
	var threads []*ir.Op
	for _, nested := range loop.Find(ir.OpParallel) {
		if nested != loop && strings.HasPrefix(firstMapping(nested), "thread") {
			threads = append(threads, nested)
		}
	}
	return threads
}

// lowerMappedLoop replaces a hardware-mapped loop.parallel with hardware-id
// arithmetic guarded by a bounds check: iv = lb + id*step, executed only when
// iv < ub.
func lowerMappedLoop(loop *ir.Op, idOpName string) {
	dims := int(loop.IntAttr(dimsAttrName, 0))
	indexType := ir.Scalar(ir.Index)
	boolType := ir.Scalar(ir.I1)
	bld := ir.NewBuilderBefore(loop)
	ivs := make([]*ir.Value, dims)
	var cond *ir.Value
	for d := 0; d < dims; d++ {
		id := bld.Create(idOpName, nil, indexType)
		id.SetAttr("dim", hardwareDims[d])
		scaled := bld.Create(opMulI, []*ir.Value{id.Result(), loop.Operand(2*dims + d)}, indexType).Result()
		ivs[d] = bld.Create(opAddI, []*ir.Value{loop.Operand(d), scaled}, indexType).Result()
		inBounds := bld.Create(opCmpI, []*ir.Value{ivs[d], loop.Operand(dims + d)}, boolType)
		inBounds.SetAttr(predicateAttrName, "slt")
		if cond == nil {
			cond = inBounds.Result()
		} else {
			cond = bld.Create(opAndI, []*ir.Value{cond, inBounds.Result()}, boolType).Result()
		}
	}
	guard := bld.Create(ir.OpIf, []*ir.Value{cond})
	guardBody := guard.AddRegion().AddBlock()
	guardBld := ir.NewBuilderAtEnd(guardBody)
	oldBody := loop.Regions()[0].Entry()
	for _, op := range oldBody.OpsCopy() {
		guardBld.Take(op)
	}
	for d, iv := range oldBody.Args() {
		ir.ReplaceAllUses(guard, iv, ivs[d])
	}
	loop.Erase()
}

// serializeLoop rewrites an unmapped loop.parallel into a nest of sequential
// loop.for ops, one per dimension.
func serializeLoop(loop *ir.Op) {
	dims := int(loop.IntAttr(dimsAttrName, 0))
	indexType := ir.Scalar(ir.Index)
	bld := ir.NewBuilderBefore(loop)
	ivs := make([]*ir.Value, dims)
	var innermost *ir.Builder
	var outermost *ir.Op
	for d := 0; d < dims; d++ {
		forOp := bld.Create(ir.OpFor, []*ir.Value{loop.Operand(d), loop.Operand(dims + d), loop.Operand(2*dims + d)})
		body := forOp.AddRegion().AddBlock(indexType)
		ivs[d] = body.Arg(0)
		if outermost == nil {
			outermost = forOp
		}
		bld = ir.NewBuilderAtEnd(body)
		innermost = bld
	}
	oldBody := loop.Regions()[0].Entry()
	for _, op := range oldBody.OpsCopy() {
		innermost.Take(op)
	}
	for d, iv := range oldBody.Args() {
		ir.ReplaceAllUses(outermost, iv, ivs[d])
	}
	loop.Erase()
}
