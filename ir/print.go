package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// The textual form printed here is deterministic and, for the structured
// subset of the IR (everything before CFG lowering), re-parseable by
// ir/parser. Opaque byte-blob attributes print as "bytes<N>" and are not
// re-parseable; they only appear after device-code emission.

type printer struct {
	sb     strings.Builder
	indent int

	names     map[*Value]string
	nextValue int

	blockNames map[*Block]string
	nextBlock  int
}

func printOp(op *Op) string {
	p := &printer{
		names:      make(map[*Value]string),
		blockNames: make(map[*Block]string),
	}
	p.op(op)
	return p.sb.String()
}

func (p *printer) line(format string, args ...any) {
	p.sb.WriteString(strings.Repeat("  ", p.indent))
	fmt.Fprintf(&p.sb, format, args...)
	p.sb.WriteByte('\n')
}

func (p *printer) valueName(v *Value) string {
	if name, found := p.names[v]; found {
		return name
	}
	var name string
	if v.nameHint != "" {
		name = "%" + v.nameHint
	} else {
		name = "%" + strconv.Itoa(p.nextValue)
		p.nextValue++
	}
	p.names[v] = name
	return name
}

func (p *printer) blockName(b *Block) string {
	if name, found := p.blockNames[b]; found {
		return name
	}
	p.nextBlock++
	name := "^bb" + strconv.Itoa(p.nextBlock)
	p.blockNames[b] = name
	return name
}

func (p *printer) valueList(values []*Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = p.valueName(v)
	}
	return strings.Join(parts, ", ")
}

func attrString(value Attr) string {
	switch v := value.(type) {
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case string:
		return strconv.Quote(v)
	case []int64:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = strconv.FormatInt(e, 10)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = strconv.Quote(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []byte:
		return fmt.Sprintf("bytes<%d>", len(v))
	}
	return fmt.Sprintf("<unsupported %T>", value)
}

// attrDict prints the attribute dictionary, excluding the given keys. Returns
// "" when nothing is left to print.
func (p *printer) attrDict(op *Op, exclude ...string) string {
	var parts []string
outer:
	for _, key := range op.AttrKeys() {
		for _, ex := range exclude {
			if key == ex {
				continue outer
			}
		}
		parts = append(parts, fmt.Sprintf("%s = %s", key, attrString(op.attrs[key])))
	}
	if len(parts) == 0 {
		return ""
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (p *printer) op(op *Op) {
	switch op.name {
	case OpModule:
		p.line("module {")
		p.blockBody(op.regions[0].Entry())
		p.line("}")
	case OpFunc, OpGPUFunc:
		p.funcOp(op)
	case OpGPUModule:
		p.symModuleOp(op)
	case OpParallel:
		p.parallelOp(op)
	case OpFor:
		p.forOp(op)
	case OpIf:
		p.ifOp(op)
	case OpAssuming:
		p.regionOnlyOp(op)
	case OpReturn, OpGPUReturn, OpYield:
		if len(op.operands) == 0 {
			p.line("%s", op.name)
		} else {
			p.line("%s %s : %s", op.name, p.valueList(op.operands), op.operands[0].typ)
		}
	default:
		p.genericOp(op)
	}
}

func (p *printer) blockBody(b *Block) {
	p.indent++
	for _, op := range b.ops {
		p.op(op)
	}
	p.indent--
}

// region prints all blocks; non-entry blocks get "^bbN(args):" headers.
func (p *printer) region(r *Region) {
	p.indent++
	for i, b := range r.blocks {
		if i > 0 {
			var args []string
			for _, arg := range b.args {
				args = append(args, fmt.Sprintf("%s: %s", p.valueName(arg), arg.typ))
			}
			header := p.blockName(b)
			if len(args) > 0 {
				header += "(" + strings.Join(args, ", ") + ")"
			}
			p.indent--
			p.line("%s:", header)
			p.indent++
		}
		for _, op := range b.ops {
			p.op(op)
		}
	}
	p.indent--
}

func (p *printer) funcOp(op *Op) {
	body := op.regions[0].Entry()
	var params []string
	for _, arg := range body.args {
		params = append(params, fmt.Sprintf("%s: %s", p.valueName(arg), arg.typ))
	}
	header := fmt.Sprintf("%s @%s(%s)", op.name, op.StrAttr(SymNameAttrName), strings.Join(params, ", "))
	if result := op.StrAttr(FuncTypeAttrName); result != "" {
		header += " -> " + result
	}
	if attrs := p.attrDict(op, SymNameAttrName, FuncTypeAttrName); attrs != "" {
		header += " attributes " + attrs
	}
	p.line("%s {", header)
	p.region(op.regions[0])
	p.line("}")
}

func (p *printer) symModuleOp(op *Op) {
	header := fmt.Sprintf("%s @%s", op.name, op.StrAttr(SymNameAttrName))
	if attrs := p.attrDict(op, SymNameAttrName); attrs != "" {
		header += " attributes " + attrs
	}
	p.line("%s {", header)
	p.blockBody(op.regions[0].Entry())
	p.line("}")
}

func (p *printer) parallelOp(op *Op) {
	dims := int(op.IntAttr("dims", 0))
	body := op.regions[0].Entry()
	header := fmt.Sprintf("loop.parallel (%s) = (%s) to (%s) step (%s)",
		p.valueList(body.args),
		p.valueList(op.operands[:dims]),
		p.valueList(op.operands[dims:2*dims]),
		p.valueList(op.operands[2*dims:3*dims]))
	if attrs := p.attrDict(op, "dims"); attrs != "" {
		header += " attributes " + attrs
	}
	p.line("%s {", header)
	p.blockBody(body)
	p.line("}")
}

func (p *printer) forOp(op *Op) {
	body := op.regions[0].Entry()
	header := fmt.Sprintf("loop.for %s = %s to %s step %s",
		p.valueName(body.Arg(0)),
		p.valueName(op.operands[0]), p.valueName(op.operands[1]), p.valueName(op.operands[2]))
	if attrs := p.attrDict(op); attrs != "" {
		header += " attributes " + attrs
	}
	p.line("%s {", header)
	p.blockBody(body)
	p.line("}")
}

func (p *printer) ifOp(op *Op) {
	p.line("loop.if %s {", p.valueName(op.operands[0]))
	p.blockBody(op.regions[0].Entry())
	if len(op.regions) > 1 {
		p.line("} else {")
		p.blockBody(op.regions[1].Entry())
	}
	p.line("}")
}

func (p *printer) regionOnlyOp(op *Op) {
	header := op.name
	if result := op.Result(); result != nil {
		header = p.valueName(result) + " = " + header
	}
	if attrs := p.attrDict(op); attrs != "" {
		header += " attributes " + attrs
	}
	p.line("%s {", header)
	p.blockBody(op.regions[0].Entry())
	p.line("}")
}

func (p *printer) genericOp(op *Op) {
	var sb strings.Builder
	if result := op.Result(); result != nil {
		sb.WriteString(p.valueName(result))
		sb.WriteString(" = ")
	}
	sb.WriteString(op.name)
	if len(op.operands) > 0 {
		sb.WriteByte(' ')
		sb.WriteString(p.valueList(op.operands))
	}
	for _, succ := range op.successors {
		sb.WriteString(", ")
		sb.WriteString(p.blockName(succ))
	}
	if attrs := p.attrDict(op); attrs != "" {
		sb.WriteByte(' ')
		sb.WriteString(attrs)
	}
	if result := op.Result(); result != nil {
		sb.WriteString(" : ")
		sb.WriteString(result.typ.String())
	}
	p.line("%s", sb.String())
}

// String returns the textual form of the operation and everything nested
// under it.
func (op *Op) String() string { return printOp(op) }
