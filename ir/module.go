package ir

import (
	"github.com/gomlx/exceptions"
)

// Well-known structural operation names. Everything else is plain dialect ops
// interpreted by the passes.
const (
	OpModule    = "module"
	OpFunc      = "func"
	OpReturn    = "return"
	OpGPUModule = "gpu.module"
	OpGPUFunc   = "gpu.func"
	OpGPUReturn = "gpu.return"
	OpParallel  = "loop.parallel"
	OpFor       = "loop.for"
	OpIf        = "loop.if"
	OpYield     = "loop.yield"
	OpAssuming  = "shape.assuming"
)

// Well-known attribute names.
const (
	// SymNameAttrName holds the symbol name of func-like and module-like ops.
	SymNameAttrName = "sym_name"

	// FuncTypeAttrName holds the result type of a func as a type string.
	FuncTypeAttrName = "result"

	// LocAttrName holds source-location metadata. It is stripped before the
	// device binary is generated, so the device compiler never emits debug
	// sections.
	LocAttrName = "loc"

	// GPUBinaryAttrName is the attribute under which the compiled device
	// binary is attached to the gpu.module operation.
	GPUBinaryAttrName = "gpu.binary"

	// GPUAssemblyAttrName holds the human-readable device assembly when the
	// caller asked for it.
	GPUAssemblyAttrName = "gpu.asm"
)

// Module is the whole-program artifact threaded through every lowering stage.
// It wraps the root "module" operation and remembers its owning Context.
type Module struct {
	ctx *Context
	op  *Op
}

// NewModule creates an empty module with one region and one entry block.
func NewModule(ctx *Context) *Module {
	root := &Op{name: OpModule}
	root.AddRegion().AddBlock()
	return &Module{ctx: ctx, op: root}
}

// Context returns the Context the module was created under.
func (m *Module) Context() *Context { return m.ctx }

// Op returns the root "module" operation.
func (m *Module) Op() *Op { return m.op }

// Body returns the single top-level block of the module.
func (m *Module) Body() *Block {
	return m.op.regions[0].Entry()
}

// AddFunc creates a new top-level function with the given name, parameter
// types and optional result type (pass Invalid() for none).
func (m *Module) AddFunc(name string, paramTypes []Type, result Type) *Func {
	bld := NewBuilderAtEnd(m.Body())
	op := bld.Create(OpFunc, nil)
	op.SetAttr(SymNameAttrName, name)
	if result.Ok() {
		op.SetAttr(FuncTypeAttrName, result.String())
	}
	op.AddRegion().AddBlock(paramTypes...)
	return &Func{op: op}
}

// Funcs returns the top-level functions of the module, in order. Functions
// nested in device-code regions are not included; see GPUModules.
func (m *Module) Funcs() []*Func {
	var funcs []*Func
	for _, op := range m.Body().Ops() {
		if op.name == OpFunc {
			funcs = append(funcs, &Func{op: op})
		}
	}
	return funcs
}

// FuncByName returns the top-level function with the given symbol name, or
// nil.
func (m *Module) FuncByName(name string) *Func {
	for _, fn := range m.Funcs() {
		if fn.Name() == name {
			return fn
		}
	}
	return nil
}

// GPUModules returns all device-code regions ("gpu.module" ops) of the
// program. The emission stage expects exactly one; zero or more than one is
// tolerated but logged by the caller.
func (m *Module) GPUModules() []*Op {
	return m.op.Find(OpGPUModule)
}

// String returns the textual form of the whole module.
func (m *Module) String() string {
	return printOp(m.op)
}

// Func is a thin view over a "func" or "gpu.func" operation.
type Func struct {
	op *Op
}

// FuncFromOp wraps a func-like op. It panics if the op is not func-like.
func FuncFromOp(op *Op) *Func {
	if op.name != OpFunc && op.name != OpGPUFunc {
		exceptions.Panicf("ir: FuncFromOp called on %q", op.name)
	}
	return &Func{op: op}
}

// Op returns the underlying operation.
func (f *Func) Op() *Op { return f.op }

// Name returns the function symbol name.
func (f *Func) Name() string { return f.op.StrAttr(SymNameAttrName) }

// Body returns the entry block of the function.
func (f *Func) Body() *Block { return f.op.regions[0].Entry() }

// Region returns the body region of the function.
func (f *Func) Region() *Region { return f.op.regions[0] }

// Params returns the function parameters (the entry block arguments).
func (f *Func) Params() []*Value { return f.Body().Args() }
