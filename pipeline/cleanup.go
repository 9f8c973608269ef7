package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Teng-xu/tensorflow-1/ir"
	"github.com/pkg/errors"
)

// Cleanup rewrites: canonicalization, common-subexpression elimination and
// dead-code elimination. They run interleaved with the lowering steps and as
// the closing step of most stages, always to a fixed point.

// maxCleanupIters bounds the fixed-point iteration. The pattern set is
// strictly reducing, so hitting the bound means a pattern pair is fighting.
const maxCleanupIters = 10

// pureOps are side-effect free and erasable when unused. Allocations are
// included: an allocation nobody loads from or stores to is dead weight left
// behind by an earlier rewrite.
var pureOps = map[string]bool{
	opConstant: true,
	opAddI:     true, opSubI: true, opMulI: true, opDivSI: true,
	opRemSI: true, opMinSI: true, opCmpI: true, opAndI: true,
	opAddF: true, opSubF: true, opMulF: true, opDivF: true,
	opNegF: true, opMaxF: true,
	opFPToSI: true, opSIToFP: true, opTruncI: true,
	opTanh: true, opSqrt: true, opAbsF: true,
	opMemRefLoad: true, opMemRefDim: true,
	opGPUBlockID: true, opGPUThreadID: true,
	opRTAlloc: true, opMemRefAlloca: true,
}

// newCleanupStep returns a step running canonicalization, CSE and DCE to a
// fixed point.
func newCleanupStep() Step {
	return newStep("canonicalize-cse-dce", runCleanup)
}

func runCleanup(m *ir.Module) error {
	for i := 0; i < maxCleanupIters; i++ {
		changed := canonicalize(m)
		changed = cse(m) || changed
		changed = dce(m) || changed
		if !changed {
			return nil
		}
	}
	return errors.New("pattern application did not converge")
}

// canonicalize folds trivial integer arithmetic. Float arithmetic is left
// untouched; reassociating it would change results.
func canonicalize(m *ir.Module) bool {
	changed := false
	m.Op().Walk(func(op *ir.Op) {
		repl := foldIntOp(op)
		if repl == nil {
			repl = foldMinTileBound(op)
		}
		if repl == nil {
			return
		}
		ir.ReplaceAllUses(m.Op(), op.Result(), repl)
		op.Erase()
		changed = true
	})
	return changed
}

// foldMinTileBound specializes the min(tile, ub-iv) bound of a partial tile
// to the tile constant when the enclosing loop range provably divides evenly:
// lb is 0, the step equals the tile and the constant upper bound is a
// multiple of it.
func foldMinTileBound(op *ir.Op) *ir.Value {
	if op.Name() != opMinSI {
		return nil
	}
	size, ok := constIntValue(op.Operand(0))
	if !ok || size == 0 {
		return nil
	}
	rem := op.Operand(1).Def()
	if rem == nil || rem.Name() != opSubI {
		return nil
	}
	ub, iv := rem.Operand(0), rem.Operand(1)
	if !iv.IsBlockArg() {
		return nil
	}
	loop := iv.Owner().Region().Owner()
	if loop == nil || loop.Name() != ir.OpParallel {
		return nil
	}
	d := slices.Index(iv.Owner().Args(), iv)
	dims := int(loop.IntAttr(dimsAttrName, 0))
	if d < 0 || d >= dims {
		return nil
	}
	ubConst, ok := constIntValue(ub)
	if !ok || loop.Operand(dims+d) != ub {
		return nil
	}
	if !isConstInt(loop.Operand(d), 0) || !isConstInt(loop.Operand(2*dims+d), size) {
		return nil
	}
	if ubConst%size != 0 {
		return nil
	}
	return op.Operand(0)
}

// foldIntOp returns the replacement value for a foldable integer op, or nil.
func foldIntOp(op *ir.Op) *ir.Value {
	switch op.Name() {
	case opAddI, opSubI, opMulI, opDivSI, opRemSI, opMinSI:
	default:
		return nil
	}
	lhs, rhs := op.Operand(0), op.Operand(1)
	lhsConst, lhsOK := constIntValue(lhs)
	rhsConst, rhsOK := constIntValue(rhs)
	switch op.Name() {
	case opAddI:
		if rhsOK && rhsConst == 0 {
			return lhs
		}
		if lhsOK && lhsConst == 0 {
			return rhs
		}
	case opSubI:
		if rhsOK && rhsConst == 0 {
			return lhs
		}
	case opMulI:
		if rhsOK && rhsConst == 1 {
			return lhs
		}
		if lhsOK && lhsConst == 1 {
			return rhs
		}
	case opDivSI:
		if rhsOK && rhsConst == 1 {
			return lhs
		}
	}
	if !lhsOK || !rhsOK {
		return nil
	}
	var folded int64
	switch op.Name() {
	case opAddI:
		folded = lhsConst + rhsConst
	case opSubI:
		folded = lhsConst - rhsConst
	case opMulI:
		folded = lhsConst * rhsConst
	case opDivSI:
		if rhsConst == 0 {
			return nil
		}
		folded = lhsConst / rhsConst
	case opRemSI:
		if rhsConst == 0 {
			return nil
		}
		folded = lhsConst % rhsConst
	case opMinSI:
		folded = min(lhsConst, rhsConst)
	}
	cst := ir.NewBuilderBefore(op).Create(opConstant, nil, op.Result().Type())
	cst.SetAttr(valueAttrName, folded)
	return cst.Result()
}

// cse deduplicates pure operations within each block. Allocations are never
// merged: two allocations are two distinct buffers.
func cse(m *ir.Module) bool {
	changed := false
	m.Op().Walk(func(parent *ir.Op) {
		for _, region := range parent.Regions() {
			for _, block := range region.Blocks() {
				changed = cseBlock(m, block) || changed
			}
		}
	})
	return changed
}

func cseBlock(m *ir.Module, block *ir.Block) bool {
	changed := false
	seen := make(map[string]*ir.Value)
	for _, op := range block.OpsCopy() {
		if !pureOps[op.Name()] || op.Result() == nil {
			continue
		}
		if op.Name() == opRTAlloc || op.Name() == opMemRefAlloca || op.Name() == opMemRefLoad {
			continue
		}
		key := cseKey(op)
		if prev, found := seen[key]; found {
			ir.ReplaceAllUses(m.Op(), op.Result(), prev)
			op.Erase()
			changed = true
			continue
		}
		seen[key] = op.Result()
	}
	return changed
}

func cseKey(op *ir.Op) string {
	var sb strings.Builder
	sb.WriteString(op.Name())
	for _, operand := range op.Operands() {
		fmt.Fprintf(&sb, "|%p", operand)
	}
	for _, key := range op.AttrKeys() {
		fmt.Fprintf(&sb, "|%s=%v", key, op.Attr(key))
	}
	fmt.Fprintf(&sb, "|%s", op.Result().Type())
	return sb.String()
}

// dce erases pure operations whose result is unused anywhere in the module.
// Repeats until stable so chains die in one call.
func dce(m *ir.Module) bool {
	changed := false
	for {
		erased := false
		m.Op().Walk(func(op *ir.Op) {
			if !pureOps[op.Name()] || op.Result() == nil {
				return
			}
			if ir.HasUses(m.Op(), op.Result()) {
				return
			}
			op.Erase()
			erased = true
		})
		if !erased {
			return changed
		}
		changed = true
	}
}
