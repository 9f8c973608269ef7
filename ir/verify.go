package ir

import (
	"github.com/pkg/errors"
)

// Verify checks structural well-formedness of the module: every operation
// belongs to a registered dialect, structured operations have the expected
// region and operand arities, and every operand is visible at its use
// (defined earlier in the same block, or an argument/result of an enclosing
// scope). Multi-block regions produced by CFG lowering are only checked for
// value membership, not dominance.
//
// Stages run Verify after their rewrites; a failure is reported as
// "verification failed after rewrite" by the stage machinery.
func Verify(m *Module) error {
	return verifyOp(m.ctx, m.op, newScope(nil))
}

// scope tracks the set of values visible at the current point.
type scope struct {
	parent *scope
	values map[*Value]bool
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, values: make(map[*Value]bool)}
}

func (s *scope) add(v *Value) { s.values[v] = true }

func (s *scope) visible(v *Value) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.values[v] {
			return true
		}
	}
	return false
}

func verifyOp(ctx *Context, op *Op, enclosing *scope) error {
	if dialect := Dialect(op.name); dialect != "" && !ctx.IsRegistered(dialect) {
		return errors.Errorf("op %q belongs to unregistered dialect %q", op.name, dialect)
	}
	if err := verifyArity(op); err != nil {
		return err
	}
	for _, operand := range op.operands {
		if operand == nil {
			return errors.Errorf("op %q has a nil operand", op.name)
		}
		if !enclosing.visible(operand) {
			return errors.Errorf("op %q uses a value that is not visible at its use", op.name)
		}
	}
	for _, region := range op.regions {
		regionScope := newScope(enclosing)
		if len(region.blocks) > 1 {
			// CFG region: collect everything up front, no dominance check.
			for _, b := range region.blocks {
				for _, arg := range b.args {
					regionScope.add(arg)
				}
				for _, nested := range b.ops {
					if r := nested.Result(); r != nil {
						regionScope.add(r)
					}
				}
			}
		}
		for _, b := range region.blocks {
			blockScope := newScope(regionScope)
			for _, arg := range b.args {
				blockScope.add(arg)
			}
			for _, nested := range b.ops {
				if err := verifyOp(ctx, nested, blockScope); err != nil {
					return err
				}
				if r := nested.Result(); r != nil {
					blockScope.add(r)
				}
			}
		}
	}
	return nil
}

func verifyArity(op *Op) error {
	switch op.name {
	case OpModule, OpFunc, OpGPUFunc, OpGPUModule, OpAssuming:
		if len(op.regions) != 1 {
			return errors.Errorf("op %q must have exactly one region, has %d", op.name, len(op.regions))
		}
	case OpParallel:
		dims := int(op.IntAttr("dims", 0))
		if dims < 1 {
			return errors.Errorf("loop.parallel must have a positive \"dims\" attribute")
		}
		if len(op.operands) != 3*dims {
			return errors.Errorf("loop.parallel with %d dims must have %d operands (lower, upper, step), has %d",
				dims, 3*dims, len(op.operands))
		}
		if len(op.regions) != 1 || op.regions[0].Entry() == nil || len(op.regions[0].Entry().args) != dims {
			return errors.Errorf("loop.parallel with %d dims must have one region with %d induction variables", dims, dims)
		}
	case OpFor:
		if len(op.operands) != 3 {
			return errors.Errorf("loop.for must have 3 operands, has %d", len(op.operands))
		}
		if len(op.regions) != 1 || op.regions[0].Entry() == nil || len(op.regions[0].Entry().args) != 1 {
			return errors.Errorf("loop.for must have one region with one induction variable")
		}
	case OpIf:
		if len(op.operands) != 1 {
			return errors.Errorf("loop.if must have exactly one operand, has %d", len(op.operands))
		}
		if len(op.regions) < 1 || len(op.regions) > 2 {
			return errors.Errorf("loop.if must have one or two regions, has %d", len(op.regions))
		}
	}
	return nil
}
