package pipeline

import (
	"strings"

	"github.com/Teng-xu/tensorflow-1/ir"
	"github.com/pkg/errors"
)

// Stage 2, first half: replace tensor values with buffers and lower linalg
// structured ops to explicit parallel loops over those buffers.
//
// Bufferization is whole-function: parameters, intermediate values and the
// function result all switch from tensor to memref types in one sweep. Every
// linalg op gains a trailing output buffer, allocated through the runtime
// (rt.alloc); deallocation is the runtime's business, not the kernel's.

// promoteThreshold is the element count up to which an intermediate buffer is
// promoted from a runtime allocation to kernel stack storage.
const promoteThreshold = 64

func newBufferizeStep() Step {
	return newStep("bufferize", bufferize)
}

func bufferize(m *ir.Module) error {
	for _, fn := range m.Funcs() {
		for _, param := range fn.Params() {
			if param.Type().Kind == ir.KindTensor {
				param.SetType(param.Type().AsMemRef())
			}
		}
		if result := fn.Op().StrAttr(ir.FuncTypeAttrName); result != "" {
			fn.Op().SetAttr(ir.FuncTypeAttrName, strings.Replace(result, "tensor<", "memref<", 1))
		}
		if err := bufferizeBlock(m, fn.Body()); err != nil {
			return err
		}
	}
	// Nothing value-typed may survive.
	var leftover string
	m.Op().Walk(func(op *ir.Op) {
		if leftover != "" {
			return
		}
		for _, operand := range op.Operands() {
			if operand.Type().Kind == ir.KindTensor {
				leftover = op.Name()
			}
		}
		if r := op.Result(); r != nil && r.Type().Kind == ir.KindTensor {
			leftover = op.Name()
		}
	})
	if leftover != "" {
		return errors.Errorf("op %q survived bufferization with tensor-typed values", leftover)
	}
	return nil
}

func bufferizeBlock(m *ir.Module, block *ir.Block) error {
	for _, op := range block.OpsCopy() {
		switch op.Name() {
		case opLinalgMap, opLinalgBroadcast:
			if err := bufferizeLinalgOp(m, op); err != nil {
				return err
			}
		case ir.OpAssuming:
			if err := bufferizeBlock(m, op.Regions()[0].Entry()); err != nil {
				return err
			}
			if op.Result() != nil && op.Result().Type().Kind == ir.KindTensor {
				op.Result().SetType(op.Result().Type().AsMemRef())
			}
		}
	}
	return nil
}

// bufferizeLinalgOp allocates an output buffer for the op, appends it as the
// trailing operand and redirects all result uses to the buffer.
func bufferizeLinalgOp(m *ir.Module, op *ir.Op) error {
	resultType := op.Result().Type()
	if resultType.Kind != ir.KindTensor {
		return errors.Errorf("%s result already bufferized", op.Name())
	}
	memrefType := resultType.AsMemRef()
	bld := ir.NewBuilderBefore(op)
	var dimVals []*ir.Value
	for d, dim := range memrefType.Dims {
		if dim != ir.DynamicDim {
			continue
		}
		src := dynamicDimSource(op, d)
		if src == nil {
			return errors.Errorf("%s has a dynamic result dimension %d with no matching input", op.Name(), d)
		}
		dimOp := bld.Create(opMemRefDim, []*ir.Value{src}, ir.Scalar(ir.Index))
		dimOp.SetAttr(indexAttrName, int64(d))
		dimVals = append(dimVals, dimOp.Result())
	}
	alloc := bld.Create(opRTAlloc, dimVals, memrefType)
	ir.ReplaceAllUses(m.Op(), op.Result(), alloc.Result())
	op.Result().SetType(memrefType)
	op.SetOperands(append(op.Operands(), alloc.Result())...)
	return nil
}

// dynamicDimSource picks an input whose dimension d is dynamic too, so its
// runtime extent can seed the output allocation.
func dynamicDimSource(op *ir.Op, d int) *ir.Value {
	for _, operand := range op.Operands() {
		t := operand.Type()
		if t.Kind == ir.KindScalar || t.Rank() <= d {
			continue
		}
		if t.Dims[d] == ir.DynamicDim {
			return operand
		}
	}
	return nil
}

// newLowerLinalgToLoopsStep lowers every linalg op over buffers into a
// loop.parallel nest with explicit loads and stores.
func newLowerLinalgToLoopsStep() Step {
	return newStep("linalg-to-parallel-loops", func(m *ir.Module) error {
		var failure error
		m.Op().Walk(func(op *ir.Op) {
			if failure != nil {
				return
			}
			switch op.Name() {
			case opLinalgMap:
				failure = lowerMapToLoop(op)
			case opLinalgBroadcast:
				failure = lowerBroadcastToLoop(op)
			}
		})
		return failure
	})
}

func lowerMapToLoop(op *ir.Op) error {
	out := op.Operand(op.NumOperands() - 1)
	inputs := op.Operands()[:op.NumOperands()-1]
	outType := out.Type()
	elem := ir.Scalar(outType.DType)
	bld := ir.NewBuilderBefore(op)

	if outType.Rank() == 0 {
		inner := bld
		vals := loadInputs(inner, inputs, nil)
		result := applyScalarChain(inner, op, vals, elem)
		inner.Create(opMemRefStore, []*ir.Value{result, out})
		op.Erase()
		return nil
	}

	body, ivs := buildLoopNest(bld, out, outType)
	inner := ir.NewBuilderAtEnd(body)
	vals := loadInputs(inner, inputs, ivs)
	result := applyScalarChain(inner, op, vals, elem)
	inner.Create(opMemRefStore, append([]*ir.Value{result, out}, ivs...))
	op.Erase()
	return nil
}

func lowerBroadcastToLoop(op *ir.Op) error {
	in, out := op.Operand(0), op.Operand(1)
	outType := out.Type()
	bld := ir.NewBuilderBefore(op)
	body, ivs := buildLoopNest(bld, out, outType)
	inner := ir.NewBuilderAtEnd(body)
	var zero *ir.Value
	loadIdx := make([]*ir.Value, len(ivs))
	for d := range ivs {
		if in.Type().Dims[d] == 1 && outType.Dims[d] != 1 {
			if zero == nil {
				zero = constIndex(inner, 0)
			}
			loadIdx[d] = zero
		} else {
			loadIdx[d] = ivs[d]
		}
	}
	loaded := inner.Create(opMemRefLoad, append([]*ir.Value{in}, loadIdx...), ir.Scalar(outType.DType))
	inner.Create(opMemRefStore, append([]*ir.Value{loaded.Result(), out}, ivs...))
	op.Erase()
	return nil
}

// buildLoopNest creates a loop.parallel covering every element of out and
// returns its body block and induction variables.
func buildLoopNest(bld *ir.Builder, out *ir.Value, outType ir.Type) (*ir.Block, []*ir.Value) {
	rank := outType.Rank()
	zero := constIndex(bld, 0)
	one := constIndex(bld, 1)
	operands := make([]*ir.Value, 0, 3*rank)
	for i := 0; i < rank; i++ {
		operands = append(operands, zero)
	}
	for d, dim := range outType.Dims {
		if dim == ir.DynamicDim {
			dimOp := bld.Create(opMemRefDim, []*ir.Value{out}, ir.Scalar(ir.Index))
			dimOp.SetAttr(indexAttrName, int64(d))
			operands = append(operands, dimOp.Result())
		} else {
			operands = append(operands, constIndex(bld, int64(dim)))
		}
	}
	for i := 0; i < rank; i++ {
		operands = append(operands, one)
	}
	loop := bld.Create(ir.OpParallel, operands)
	loop.SetAttr(dimsAttrName, int64(rank))
	argTypes := make([]ir.Type, rank)
	for i := range argTypes {
		argTypes[i] = ir.Scalar(ir.Index)
	}
	body := loop.AddRegion().AddBlock(argTypes...)
	return body, body.Args()
}

// loadInputs materializes the scalar inputs of a map body: buffer operands
// are loaded at the current indices, scalar operands pass through, rank-0
// buffers are loaded without indices.
func loadInputs(bld *ir.Builder, inputs []*ir.Value, ivs []*ir.Value) []*ir.Value {
	vals := make([]*ir.Value, len(inputs))
	for i, input := range inputs {
		t := input.Type()
		if t.Kind == ir.KindScalar {
			vals[i] = input
			continue
		}
		idx := ivs
		if t.Rank() == 0 {
			idx = nil
		}
		load := bld.Create(opMemRefLoad, append([]*ir.Value{input}, idx...), ir.Scalar(t.DType))
		vals[i] = load.Result()
	}
	return vals
}

// applyScalarChain applies the map's combining fn and post chain to the
// loaded scalars.
func applyScalarChain(bld *ir.Builder, op *ir.Op, vals []*ir.Value, elem ir.Type) *ir.Value {
	result := bld.Create(op.StrAttr(fnAttrName), vals, elem).Result()
	for _, post := range op.StrsAttr(postAttrName) {
		result = bld.Create(post, []*ir.Value{result}, elem).Result()
	}
	return result
}

// newApproximateTanhStep replaces math.tanh with a Pade 3/2 rational
// approximation, x*(27+x^2)/(27+9*x^2). Device backends get plain float
// arithmetic instead of a transcendental call.
func newApproximateTanhStep() Step {
	return newRewrite("approximate-tanh", func(m *ir.Module) {
		m.Op().Walk(func(op *ir.Op) {
			if op.Name() != opTanh {
				return
			}
			x := op.Operand(0)
			t := x.Type()
			bld := ir.NewBuilderBefore(op)
			c27 := constFloat(bld, 27, t)
			c9 := constFloat(bld, 9, t)
			sq := bld.Create(opMulF, []*ir.Value{x, x}, t).Result()
			num := bld.Create(opAddF, []*ir.Value{c27, sq}, t).Result()
			num = bld.Create(opMulF, []*ir.Value{x, num}, t).Result()
			den := bld.Create(opMulF, []*ir.Value{c9, sq}, t).Result()
			den = bld.Create(opAddF, []*ir.Value{c27, den}, t).Result()
			y := bld.Create(opDivF, []*ir.Value{num, den}, t).Result()
			ir.ReplaceAllUses(m.Op(), op.Result(), y)
			op.Erase()
		})
	})
}

// newPromoteBuffersStep turns small, statically shaped runtime allocations
// into stack storage.
func newPromoteBuffersStep() Step {
	return newRewrite("promote-buffers-to-stack", func(m *ir.Module) {
		m.Op().Walk(func(op *ir.Op) {
			if op.Name() != opRTAlloc {
				return
			}
			t := op.Result().Type()
			if t.IsStatic() && t.NumElements() <= promoteThreshold {
				op.Rename(opMemRefAlloca)
			}
		})
	})
}

// newLowerShapeConstraintsStep dissolves shape.assuming guards: the broadcast
// precondition becomes a runtime assertion and the guarded ops are spliced
// into the surrounding block. Runs after loop mapping, so guarded loops have
// already been excluded from device offload.
func newLowerShapeConstraintsStep() Step {
	return newRewrite("lower-shape-constraints", func(m *ir.Module) {
		for _, op := range m.Op().Find(ir.OpAssuming) {
			bld := ir.NewBuilderBefore(op)
			assert := bld.Create(opRTAssert, nil)
			assert.SetAttr(msgAttrName, "required broadcastable shapes")
			var yielded *ir.Value
			for _, inner := range op.Regions()[0].Entry().OpsCopy() {
				if inner.Name() == ir.OpYield {
					yielded = inner.Operand(0)
					inner.Erase()
					continue
				}
				bld.Take(inner)
			}
			if op.Result() != nil && yielded != nil {
				ir.ReplaceAllUses(m.Op(), op.Result(), yielded)
			}
			op.Erase()
		}
	})
}

// newBufferReuseStep marks allocations that could alias an input buffer whose
// last read happens before the allocation. The runtime may then serve the
// allocation from the input's storage.
func newBufferReuseStep() Step {
	return newRewrite("annotate-buffer-reuse", func(m *ir.Module) {
		eachFunc(m, annotateBufferReuse)
	})
}

func annotateBufferReuse(fn *ir.Func) {
	entryOps := fn.Body().Ops()
	position := make(map[*ir.Op]int, len(entryOps))
	for i, op := range entryOps {
		position[op] = i
	}
	// lastUse of a value, in entry-block positions; uses inside nested
	// regions count as uses of the enclosing top-level op.
	lastUse := func(v *ir.Value) int {
		last := -1
		for _, top := range entryOps {
			top.Walk(func(op *ir.Op) {
				for _, operand := range op.Operands() {
					if operand == v && position[top] > last {
						last = position[top]
					}
				}
			})
		}
		return last
	}
	for _, op := range entryOps {
		if op.Name() != opRTAlloc {
			continue
		}
		for i, param := range fn.Params() {
			if param.Type().Kind != ir.KindMemRef || !param.Type().Eq(op.Result().Type()) {
				continue
			}
			if lastUse(param) < position[op] {
				op.SetAttr(reuseInputAttrName, int64(i))
				break
			}
		}
	}
}

// newEmbedPrintsStep inserts a runtime print of every buffer a function
// returns, directly before the return. Debugging aid, off by default.
func newEmbedPrintsStep() Step {
	return newRewrite("embed-memref-prints", func(m *ir.Module) {
		eachFunc(m, func(fn *ir.Func) {
			for _, op := range fn.Op().Find(ir.OpReturn) {
				bld := ir.NewBuilderBefore(op)
				for _, operand := range op.Operands() {
					if operand.Type().Kind == ir.KindMemRef {
						bld.Create(opRTPrintMemRef, []*ir.Value{operand})
					}
				}
			}
		})
	})
}
