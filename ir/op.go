package ir

import (
	"slices"

	"github.com/gomlx/exceptions"
)

// Value is an SSA-like value: either the result of an Op or a block argument.
// Values are compared by pointer identity.
type Value struct {
	typ Type

	// def is the operation that produces this value; nil for block arguments.
	def *Op

	// owner is the block this value is an argument of; nil for op results.
	owner *Block

	// nameHint is the name the value had in the textual form, if any. Purely
	// cosmetic, used by the printer when present.
	nameHint string
}

// Type of the value.
func (v *Value) Type() Type { return v.typ }

// SetType mutates the value type in place. Used by type-changing rewrites such
// as bufferization, which convert whole functions at once.
func (v *Value) SetType(t Type) { v.typ = t }

// Def returns the operation defining this value, or nil for block arguments.
func (v *Value) Def() *Op { return v.def }

// Owner returns the block this value is an argument of, or nil for op results.
func (v *Value) Owner() *Block { return v.owner }

// IsBlockArg reports whether the value is a block argument.
func (v *Value) IsBlockArg() bool { return v.owner != nil }

// NameHint returns the cosmetic name carried over from the textual form.
func (v *Value) NameHint() string { return v.nameHint }

// SetNameHint sets the cosmetic name used by the printer.
func (v *Value) SetNameHint(name string) { v.nameHint = name }

// Op is one operation. The name is "dialect.op" (or a builtin name without a
// dot: "module", "func", "return"). Operations are generic: semantics live in
// the passes that interpret them, not in Go types.
type Op struct {
	name     string
	operands []*Value
	results  []*Value
	attrs    map[string]Attr
	regions  []*Region

	// successors are the target blocks of an unstructured-control-flow
	// terminator (cf.br, cf.cond_br). Empty for all other operations.
	successors []*Block

	// block is the parent block, nil for a detached op (the module root).
	block *Block
}

// Name returns the operation name, e.g. "loop.parallel".
func (op *Op) Name() string { return op.name }

// Rename changes the operation name in place. Used by dialect-conversion
// rewrites that keep operands and results intact.
func (op *Op) Rename(name string) { op.name = name }

// NumOperands returns the number of operands.
func (op *Op) NumOperands() int { return len(op.operands) }

// Operand returns the i-th operand.
func (op *Op) Operand(i int) *Value { return op.operands[i] }

// Operands returns the operand slice. Callers must not mutate it directly;
// use SetOperand or SetOperands.
func (op *Op) Operands() []*Value { return op.operands }

// SetOperand replaces the i-th operand.
func (op *Op) SetOperand(i int, v *Value) { op.operands[i] = v }

// SetOperands replaces all operands.
func (op *Op) SetOperands(values ...*Value) { op.operands = slices.Clone(values) }

// NumResults returns the number of results (0 or 1 for every op in this IR).
func (op *Op) NumResults() int { return len(op.results) }

// Result returns the single result of the operation, or nil if it has none.
func (op *Op) Result() *Value {
	if len(op.results) == 0 {
		return nil
	}
	return op.results[0]
}

// Regions returns the nested regions.
func (op *Op) Regions() []*Region { return op.regions }

// Successors returns the successor blocks of a CFG terminator.
func (op *Op) Successors() []*Block { return op.successors }

// SetSuccessors sets the successor blocks of a CFG terminator.
func (op *Op) SetSuccessors(blocks ...*Block) { op.successors = slices.Clone(blocks) }

// Block returns the parent block, or nil for the module root.
func (op *Op) Block() *Block { return op.block }

// Parent returns the operation owning the region this op lives in, or nil for
// the module root.
func (op *Op) Parent() *Op {
	if op.block == nil || op.block.region == nil {
		return nil
	}
	return op.block.region.owner
}

// Ancestor returns the closest ancestor operation (self excluded) with the
// given name, or nil. Used e.g. to detect loops nested inside shape guards.
func (op *Op) Ancestor(name string) *Op {
	for parent := op.Parent(); parent != nil; parent = parent.Parent() {
		if parent.name == name {
			return parent
		}
	}
	return nil
}

// AddRegion appends a new empty region to the operation.
func (op *Op) AddRegion() *Region {
	r := &Region{owner: op}
	op.regions = append(op.regions, r)
	return r
}

// Erase detaches the operation from its parent block. The operation's results
// must no longer have uses; this is not checked here (the verifier catches
// dangling uses on the next run).
func (op *Op) Erase() {
	if op.block == nil {
		exceptions.Panicf("ir: Erase called on detached op %q", op.name)
	}
	op.block.removeOp(op)
	op.block = nil
}

// Region is an ordered list of blocks owned by an operation. Structured
// operations (loop.parallel, shape.assuming, func bodies) have single-block
// regions; CFG lowering introduces multi-block regions.
type Region struct {
	owner  *Op
	blocks []*Block
}

// Owner returns the operation owning this region.
func (r *Region) Owner() *Op { return r.owner }

// Blocks returns the blocks of the region in order.
func (r *Region) Blocks() []*Block { return r.blocks }

// Entry returns the first block, or nil for an empty region.
func (r *Region) Entry() *Block {
	if len(r.blocks) == 0 {
		return nil
	}
	return r.blocks[0]
}

// AddBlock appends a new block with arguments of the given types.
func (r *Region) AddBlock(argTypes ...Type) *Block {
	b := &Block{region: r}
	for _, t := range argTypes {
		b.args = append(b.args, &Value{typ: t, owner: b})
	}
	r.blocks = append(r.blocks, b)
	return b
}

// InsertBlockAfter inserts a new block right after the given one.
func (r *Region) InsertBlockAfter(after *Block, argTypes ...Type) *Block {
	idx := slices.Index(r.blocks, after)
	if idx == -1 {
		exceptions.Panicf("ir: InsertBlockAfter: block not in region")
	}
	b := &Block{region: r}
	for _, t := range argTypes {
		b.args = append(b.args, &Value{typ: t, owner: b})
	}
	r.blocks = slices.Insert(r.blocks, idx+1, b)
	return b
}

// Block holds an ordered list of operations plus its arguments.
type Block struct {
	region *Region
	args   []*Value
	ops    []*Op
}

// Region returns the region this block belongs to.
func (b *Block) Region() *Region { return b.region }

// Args returns the block arguments.
func (b *Block) Args() []*Value { return b.args }

// Arg returns the i-th block argument.
func (b *Block) Arg(i int) *Value { return b.args[i] }

// AddArg appends a new block argument of the given type.
func (b *Block) AddArg(t Type) *Value {
	v := &Value{typ: t, owner: b}
	b.args = append(b.args, v)
	return v
}

// Ops returns the operations of the block in order. Callers iterating while
// mutating should copy the slice first (see OpsCopy).
func (b *Block) Ops() []*Op { return b.ops }

// OpsCopy returns a copy of the operation list, safe to iterate during
// rewrites that insert or erase operations.
func (b *Block) OpsCopy() []*Op { return slices.Clone(b.ops) }

// Terminator returns the last operation of the block, or nil if empty.
func (b *Block) Terminator() *Op {
	if len(b.ops) == 0 {
		return nil
	}
	return b.ops[len(b.ops)-1]
}

func (b *Block) removeOp(op *Op) {
	idx := slices.Index(b.ops, op)
	if idx == -1 {
		exceptions.Panicf("ir: op %q not found in its parent block", op.name)
	}
	b.ops = slices.Delete(b.ops, idx, idx+1)
}

// appendOp attaches an already-built op at the end of the block.
func (b *Block) appendOp(op *Op) {
	op.block = b
	b.ops = append(b.ops, op)
}

// TakeOp moves an operation from its current block to the end of this block.
// Values defined by the operation keep their identity, so uses remain valid as
// long as dominance is preserved by the caller.
func (b *Block) TakeOp(op *Op) {
	if op.block != nil {
		op.block.removeOp(op)
	}
	b.appendOp(op)
}

// Builder creates operations at a fixed insertion point inside a block.
type Builder struct {
	block *Block
	idx   int
}

// NewBuilderAtEnd returns a Builder appending at the end of the block.
func NewBuilderAtEnd(b *Block) *Builder {
	return &Builder{block: b, idx: -1}
}

// NewBuilderBefore returns a Builder inserting right before the given op.
// Subsequent creations keep inserting before it, in creation order.
func NewBuilderBefore(op *Op) *Builder {
	if op.block == nil {
		exceptions.Panicf("ir: NewBuilderBefore on detached op %q", op.name)
	}
	return &Builder{block: op.block, idx: slices.Index(op.block.ops, op)}
}

// Create builds a new operation with the given name, operands and result
// types, inserting it at the builder's position.
func (bld *Builder) Create(name string, operands []*Value, resultTypes ...Type) *Op {
	op := &Op{
		name:     name,
		operands: slices.Clone(operands),
	}
	for _, t := range resultTypes {
		op.results = append(op.results, &Value{typ: t, def: op})
	}
	if bld.idx == -1 {
		bld.block.appendOp(op)
	} else {
		op.block = bld.block
		bld.block.ops = slices.Insert(bld.block.ops, bld.idx, op)
		bld.idx++
	}
	return op
}

// Take moves an existing operation to the builder's insertion point. The op
// must not live before the insertion point in the same block; rewrites use
// this to splice ops across blocks.
func (bld *Builder) Take(op *Op) {
	if op.block != nil {
		op.block.removeOp(op)
	}
	if bld.idx == -1 {
		bld.block.appendOp(op)
		return
	}
	op.block = bld.block
	bld.block.ops = slices.Insert(bld.block.ops, bld.idx, op)
	bld.idx++
}

// Walk visits the operation and all nested operations in pre-order.
func (op *Op) Walk(fn func(*Op)) {
	fn(op)
	for _, region := range op.regions {
		for _, block := range region.blocks {
			for _, nested := range block.OpsCopy() {
				nested.Walk(fn)
			}
		}
	}
}

// Find returns all nested operations (self included) with the given name, in
// walk order.
func (op *Op) Find(name string) []*Op {
	var found []*Op
	op.Walk(func(candidate *Op) {
		if candidate.name == name {
			found = append(found, candidate)
		}
	})
	return found
}

// ReplaceAllUses swaps every use of from for to in all operations nested under
// scope (scope included).
func ReplaceAllUses(scope *Op, from, to *Value) {
	scope.Walk(func(op *Op) {
		for i, operand := range op.operands {
			if operand == from {
				op.operands[i] = to
			}
		}
	})
}

// HasUses reports whether the value is used as an operand anywhere under
// scope.
func HasUses(scope *Op, v *Value) bool {
	used := false
	scope.Walk(func(op *Op) {
		for _, operand := range op.operands {
			if operand == v {
				used = true
			}
		}
	})
	return used
}
