package pipeline

import (
	"strings"

	"github.com/Teng-xu/tensorflow-1/flexallow"
	"github.com/Teng-xu/tensorflow-1/ir"
	"github.com/pkg/errors"
)

// Stage 1: legalize the TensorFlow dialect into linalg structured ops.
//
// Every tf.* operation becomes a linalg.map (with an optional linalg.broadcast
// feeding it), a plain constant, or a component of a decomposed complex
// expression. Operations producing dynamically shaped results are guarded by a
// shape.assuming region so later stages can tell them apart.

// newAllowlistStep rejects programs using TF operations outside the supported
// set before any rewriting happens.
func newAllowlistStep() Step {
	return newStep("check-tf-allowlist", func(m *ir.Module) error {
		var bad string
		m.Op().Walk(func(op *ir.Op) {
			if bad != "" || !strings.HasPrefix(op.Name(), "tf.") {
				return
			}
			if !flexallow.IsAllowlisted(op.Name()) {
				bad = op.Name()
			}
		})
		if bad != "" {
			return errors.Errorf("TF operation %q is not supported by the kernel generator", bad)
		}
		return nil
	})
}

// newLegalizeTFStep converts all tf.* operations to linalg form.
func newLegalizeTFStep() Step {
	return newStep("legalize-tf-to-linalg", legalizeTF)
}

// unaryTF maps element-wise unary TF operations to their scalar op.
var unaryTF = map[string]string{
	"tf.Abs":  opAbsF,
	"tf.Tanh": opTanh,
	"tf.Sqrt": opSqrt,
	"tf.Neg":  opNegF,
}

// scalarBinary returns the scalar op implementing a binary TF operation for
// the given element type.
func scalarBinary(tfName string, dtype ir.DType) (string, error) {
	isFloat := dtype.IsFloat()
	switch tfName {
	case "tf.Add", "tf.AddV2":
		if isFloat {
			return opAddF, nil
		}
		return opAddI, nil
	case "tf.Sub":
		if isFloat {
			return opSubF, nil
		}
		return opSubI, nil
	case "tf.Mul":
		if isFloat {
			return opMulF, nil
		}
		return opMulI, nil
	case "tf.Div", "tf.RealDiv":
		if isFloat {
			return opDivF, nil
		}
		return opDivSI, nil
	case "tf.Maximum":
		if isFloat {
			return opMaxF, nil
		}
		return "", errors.Errorf("%s is only supported for floating point element types", tfName)
	case "tf.Minimum":
		if !isFloat {
			return opMinSI, nil
		}
		return "", errors.Errorf("%s is only supported for integer element types", tfName)
	}
	return "", errors.Errorf("no scalar lowering for %q", tfName)
}

// legalizer carries per-module state of the TF legalization.
type legalizer struct {
	m *ir.Module

	// complexParts maps the result of a tf.Complex to its real and imaginary
	// component tensors, so consumers can be decomposed into real arithmetic.
	complexParts map[*ir.Value][2]*ir.Value
}

func legalizeTF(m *ir.Module) error {
	lg := &legalizer{m: m, complexParts: make(map[*ir.Value][2]*ir.Value)}
	for _, fn := range m.Funcs() {
		for _, op := range fn.Body().OpsCopy() {
			if !strings.HasPrefix(op.Name(), "tf.") {
				continue
			}
			if err := lg.legalizeOp(op); err != nil {
				return err
			}
		}
	}
	// tf.Complex ops survive until all their consumers are rewritten; by now
	// they must be dead.
	var leftover string
	m.Op().Walk(func(op *ir.Op) {
		if leftover != "" || !strings.HasPrefix(op.Name(), "tf.") {
			return
		}
		if op.Name() == "tf.Complex" && !ir.HasUses(m.Op(), op.Result()) {
			op.Erase()
			return
		}
		leftover = op.Name()
	})
	if leftover != "" {
		return errors.Errorf("could not legalize TF operation %q", leftover)
	}
	return nil
}

func (lg *legalizer) legalizeOp(op *ir.Op) error {
	switch op.Name() {
	case "tf.Const":
		return lg.legalizeConst(op)
	case "tf.Complex":
		// Kept as a marker; consumers pull the components out of complexParts.
		lg.complexParts[op.Result()] = [2]*ir.Value{op.Operand(0), op.Operand(1)}
		return nil
	case "tf.Real", "tf.Imag":
		parts, found := lg.complexParts[op.Operand(0)]
		if !found {
			return errors.Errorf("%s operand is not a locally constructed complex value", op.Name())
		}
		part := parts[0]
		if op.Name() == "tf.Imag" {
			part = parts[1]
		}
		ir.ReplaceAllUses(lg.m.Op(), op.Result(), part)
		op.Erase()
		return nil
	case "tf.ComplexAbs":
		return lg.legalizeComplexAbs(op)
	case "tf.Cast":
		return lg.legalizeCast(op)
	case "tf.Relu":
		bld := ir.NewBuilderBefore(op)
		zero := constFloat(bld, 0, ir.Scalar(op.Result().Type().DType))
		return lg.replaceWithMap(op, opMaxF, op.Operand(0), zero)
	}
	if scalar, found := unaryTF[op.Name()]; found {
		return lg.replaceWithMap(op, scalar, op.Operand(0))
	}
	scalar, err := scalarBinary(op.Name(), op.Result().Type().DType)
	if err != nil {
		return err
	}
	lhs, rhs, err := lg.broadcastOperands(op)
	if err != nil {
		return err
	}
	return lg.replaceWithMap(op, scalar, lhs, rhs)
}

// legalizeConst turns a splat tensor constant into a scalar constant; the
// consuming maps broadcast scalars implicitly.
func (lg *legalizer) legalizeConst(op *ir.Op) error {
	value := op.Attr(valueAttrName)
	switch value.(type) {
	case int64, float64:
	default:
		return errors.Errorf("tf.Const with non-splat value is not supported")
	}
	bld := ir.NewBuilderBefore(op)
	cst := bld.Create(opConstant, nil, ir.Scalar(op.Result().Type().DType))
	cst.SetAttr(valueAttrName, value)
	ir.ReplaceAllUses(lg.m.Op(), op.Result(), cst.Result())
	op.Erase()
	return nil
}

// legalizeComplexAbs rewrites |a+bi| into sqrt(a*a + b*b) on the component
// tensors.
func (lg *legalizer) legalizeComplexAbs(op *ir.Op) error {
	parts, found := lg.complexParts[op.Operand(0)]
	if !found {
		return errors.Errorf("tf.ComplexAbs operand is not a locally constructed complex value")
	}
	re, im := parts[0], parts[1]
	resultType := op.Result().Type()
	bld := ir.NewBuilderBefore(op)
	reSq := createMap(bld, opMulF, nil, resultType, re, re)
	imSq := createMap(bld, opMulF, nil, resultType, im, im)
	sum := createMap(bld, opAddF, nil, resultType, reSq.Result(), imSq.Result())
	abs := createMap(bld, opSqrt, nil, resultType, sum.Result())
	ir.ReplaceAllUses(lg.m.Op(), op.Result(), abs.Result())
	op.Erase()
	return nil
}

func (lg *legalizer) legalizeCast(op *ir.Op) error {
	from := op.Operand(0).Type().DType
	to := op.Result().Type().DType
	var scalar string
	switch {
	case from.IsFloat() && to.IsInt():
		scalar = opFPToSI
	case from.IsInt() && to.IsFloat():
		scalar = opSIToFP
	case from.IsInt() && to.IsInt():
		scalar = opTruncI
	default:
		return errors.Errorf("tf.Cast from %s to %s is not supported", from, to)
	}
	return lg.replaceWithMap(op, scalar, op.Operand(0))
}

// broadcastOperands reconciles the operand shapes of a binary op. Scalars pass
// through; static size-1 dimensions get an explicit linalg.broadcast; a
// dynamic shape mismatch is rejected.
func (lg *legalizer) broadcastOperands(op *ir.Op) (lhs, rhs *ir.Value, err error) {
	lhs, rhs = op.Operand(0), op.Operand(1)
	result := op.Result().Type()
	var reconciled []*ir.Value
	for _, operand := range []*ir.Value{lhs, rhs} {
		t := operand.Type()
		if t.Kind == ir.KindScalar || t.Rank() == 0 || t.Eq(result) {
			reconciled = append(reconciled, operand)
			continue
		}
		if !t.IsStatic() || !result.IsStatic() {
			return nil, nil, errors.Errorf("%s cannot broadcast dynamically shaped operands", op.Name())
		}
		if t.Rank() != result.Rank() {
			return nil, nil, errors.Errorf("%s operand rank %d does not match result rank %d", op.Name(), t.Rank(), result.Rank())
		}
		var dims []int64
		for i, d := range t.Dims {
			if d == result.Dims[i] {
				continue
			}
			if d != 1 {
				return nil, nil, errors.Errorf("%s cannot broadcast dimension %d from %d to %d", op.Name(), i, d, result.Dims[i])
			}
			dims = append(dims, int64(i))
		}
		bld := ir.NewBuilderBefore(op)
		bc := bld.Create(opLinalgBroadcast, []*ir.Value{operand}, result)
		bc.SetAttr(dimsAttrName, dims)
		reconciled = append(reconciled, bc.Result())
	}
	return reconciled[0], reconciled[1], nil
}

// replaceWithMap swaps op for a linalg.map computing fn over the inputs,
// wrapped in a shape.assuming guard when the result shape is dynamic.
func (lg *legalizer) replaceWithMap(op *ir.Op, fn string, inputs ...*ir.Value) error {
	resultType := op.Result().Type()
	bld := ir.NewBuilderBefore(op)
	var result *ir.Value
	if resultType.IsStatic() {
		result = createMap(bld, fn, nil, resultType, inputs...).Result()
	} else {
		assuming := bld.Create(ir.OpAssuming, nil, resultType)
		body := assuming.AddRegion().AddBlock()
		inner := ir.NewBuilderAtEnd(body)
		mapped := createMap(inner, fn, nil, resultType, inputs...)
		inner.Create(ir.OpYield, []*ir.Value{mapped.Result()})
		result = assuming.Result()
	}
	ir.ReplaceAllUses(lg.m.Op(), op.Result(), result)
	op.Erase()
	return nil
}

// createMap builds a linalg.map with the given combining fn and post chain.
func createMap(bld *ir.Builder, fn string, post []string, resultType ir.Type, inputs ...*ir.Value) *ir.Op {
	op := bld.Create(opLinalgMap, inputs, resultType)
	op.SetAttr(fnAttrName, fn)
	if len(post) > 0 {
		op.SetAttr(postAttrName, post)
	}
	return op
}

// newFuseMapsStep merges a linalg.map whose only consumer is a unary
// linalg.map into that consumer, extending its post chain. This keeps the
// element-wise pipeline in one loop nest after lowering.
func newFuseMapsStep() Step {
	return newRewrite("fuse-linalg-maps", func(m *ir.Module) {
		for fuseMapsOnce(m) {
		}
	})
}

func fuseMapsOnce(m *ir.Module) bool {
	fused := false
	m.Op().Walk(func(producer *ir.Op) {
		if fused || producer.Name() != opLinalgMap || producer.Result() == nil {
			return
		}
		consumer := soleUnaryMapConsumer(m, producer.Result())
		if consumer == nil || consumer.Block() != producer.Block() {
			return
		}
		post := append([]string{}, producer.StrsAttr(postAttrName)...)
		post = append(post, consumer.StrAttr(fnAttrName))
		post = append(post, consumer.StrsAttr(postAttrName)...)
		bld := ir.NewBuilderBefore(consumer)
		merged := createMap(bld, producer.StrAttr(fnAttrName), post, consumer.Result().Type(), producer.Operands()...)
		ir.ReplaceAllUses(m.Op(), consumer.Result(), merged.Result())
		consumer.Erase()
		producer.Erase()
		fused = true
	})
	return fused
}

// soleUnaryMapConsumer returns the single consumer of v if it is a one-input
// linalg.map, nil otherwise.
func soleUnaryMapConsumer(m *ir.Module, v *ir.Value) *ir.Op {
	var consumer *ir.Op
	multiple := false
	m.Op().Walk(func(op *ir.Op) {
		for _, operand := range op.Operands() {
			if operand != v {
				continue
			}
			if consumer != nil {
				multiple = true
			}
			consumer = op
		}
	})
	if multiple || consumer == nil {
		return nil
	}
	if consumer.Name() != opLinalgMap || consumer.NumOperands() != 1 {
		return nil
	}
	return consumer
}
