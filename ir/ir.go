// Package ir implements the mutable program representation threaded through the
// kernel-generation lowering pipeline.
//
// The representation is deliberately small: a Module is an operation ("module")
// holding one region; regions hold blocks; blocks hold operations. Operations
// are generic -- they are identified by a "dialect.name" string, carry typed
// operand and result values, a string-keyed attribute map, and optionally
// nested regions (structured control flow) or block successors (unstructured
// control flow after CFG lowering).
//
// Dialects are not Go types, only registered name prefixes on the Context. The
// pipeline registers the dialect set it needs before parsing; the parser
// rejects operations from dialects that were never registered.
//
// Error handling follows the split used elsewhere in this repository:
// invalid-usage programming errors (malformed types, operations inserted in the
// wrong place) panic with a stack trace via github.com/gomlx/exceptions, while
// conditions that depend on the program being transformed are reported as
// errors (see Verify).
package ir

import (
	"strings"

	"github.com/gomlx/exceptions"
)

// Context owns the dialect registry for one compilation. A Context must not be
// shared by concurrent compilations; create one per Compile call.
type Context struct {
	dialects map[string]bool
}

// NewContext creates an empty Context with no registered dialects.
func NewContext() *Context {
	return &Context{dialects: make(map[string]bool)}
}

// RegisterDialects registers the given dialect name prefixes. Registering the
// same dialect twice is a no-op, so the full set can be registered defensively
// before parsing.
func (ctx *Context) RegisterDialects(names ...string) {
	for _, name := range names {
		if name == "" {
			exceptions.Panicf("ir.Context.RegisterDialects: empty dialect name")
		}
		ctx.dialects[name] = true
	}
}

// IsRegistered reports whether the dialect name was registered.
func (ctx *Context) IsRegistered(dialect string) bool {
	return ctx.dialects[dialect]
}

// Dialect extracts the dialect prefix of an operation name: "arith.addf" has
// dialect "arith". Operation names without a dot ("module", "func", "return")
// are builtin and belong to the empty dialect, which is always registered.
func Dialect(opName string) string {
	idx := strings.Index(opName, ".")
	if idx == -1 {
		return ""
	}
	return opName[:idx]
}
