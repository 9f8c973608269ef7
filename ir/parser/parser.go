package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Teng-xu/tensorflow-1/ir"
)

// Parse parses program text into a fresh module under the given context.
// All dialects used by the text must have been registered on the context
// before the call. On malformed input it returns a *Error.
func Parse(ctx *ir.Context, text string) (*ir.Module, error) {
	p := &parser{lx: newLexer(text), ctx: ctx}
	if err := p.advance(); err != nil {
		return nil, err
	}
	m, err := p.parseModule()
	if err != nil {
		return nil, err
	}
	return m, nil
}

type parser struct {
	lx  *lexer
	tok token
	ctx *ir.Context

	// values maps textual value names to IR values, scoped per function.
	values map[string]*ir.Value
}

func (p *parser) advance() *Error {
	tok, err := p.lx.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) errorf(format string, args ...any) *Error {
	return &Error{Line: p.tok.line, Col: p.tok.col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expectPunct(text string) *Error {
	if p.tok.kind != tokPunct || p.tok.text != text {
		return p.errorf("expected %q, got %q", text, p.tok.text)
	}
	return p.advance()
}

func (p *parser) expectIdent(text string) *Error {
	if p.tok.kind != tokIdent || p.tok.text != text {
		return p.errorf("expected %q, got %q", text, p.tok.text)
	}
	return p.advance()
}

func (p *parser) isPunct(text string) bool {
	return p.tok.kind == tokPunct && p.tok.text == text
}

func (p *parser) isIdent(text string) bool {
	return p.tok.kind == tokIdent && p.tok.text == text
}

func (p *parser) parseModule() (*ir.Module, *Error) {
	if err := p.expectIdent("module"); err != nil {
		return nil, err
	}
	m := ir.NewModule(p.ctx)
	if p.isIdent("attributes") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.parseAttrDict(m.Op()); err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	for !p.isPunct("}") {
		switch {
		case p.isIdent("func"):
			if err := p.parseFunc(m.Body(), ir.OpFunc); err != nil {
				return nil, err
			}
		case p.isIdent("gpu.module"):
			if err := p.parseGPUModule(m.Body()); err != nil {
				return nil, err
			}
		default:
			return nil, p.errorf("expected \"func\" or \"gpu.module\" at module level, got %q", p.tok.text)
		}
	}
	if err := p.advance(); err != nil { // consume '}'
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected trailing input %q", p.tok.text)
	}
	return m, nil
}

func (p *parser) parseGPUModule(parent *ir.Block) *Error {
	if err := p.advance(); err != nil {
		return err
	}
	if p.tok.kind != tokSymbol {
		return p.errorf("expected @name after gpu.module")
	}
	op := ir.NewBuilderAtEnd(parent).Create(ir.OpGPUModule, nil)
	op.SetAttr(ir.SymNameAttrName, p.tok.text)
	if err := p.advance(); err != nil {
		return err
	}
	if p.isIdent("attributes") {
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.parseAttrDict(op); err != nil {
			return err
		}
	}
	body := op.AddRegion().AddBlock()
	if err := p.expectPunct("{"); err != nil {
		return err
	}
	for !p.isPunct("}") {
		if !p.isIdent("gpu.func") {
			return p.errorf("expected \"gpu.func\" inside gpu.module, got %q", p.tok.text)
		}
		if err := p.parseFunc(body, ir.OpGPUFunc); err != nil {
			return err
		}
	}
	return p.advance()
}

func (p *parser) parseFunc(parent *ir.Block, opName string) *Error {
	if err := p.advance(); err != nil {
		return err
	}
	if p.tok.kind != tokSymbol {
		return p.errorf("expected @name after %s", opName)
	}
	name := p.tok.text
	if err := p.advance(); err != nil {
		return err
	}
	op := ir.NewBuilderAtEnd(parent).Create(opName, nil)
	op.SetAttr(ir.SymNameAttrName, name)
	body := op.AddRegion().AddBlock()

	p.values = make(map[string]*ir.Value)
	if err := p.expectPunct("("); err != nil {
		return err
	}
	for !p.isPunct(")") {
		if p.tok.kind != tokValue {
			return p.errorf("expected %%name parameter, got %q", p.tok.text)
		}
		argName := p.tok.text
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct(":"); err != nil {
			return err
		}
		t, err := p.parseType()
		if err != nil {
			return err
		}
		arg := body.AddArg(t)
		arg.SetNameHint(argName)
		p.values[argName] = arg
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return err
			}
		}
	}
	if err := p.advance(); err != nil { // consume ')'
		return err
	}
	if p.isPunct("->") {
		if err := p.advance(); err != nil {
			return err
		}
		t, err := p.parseType()
		if err != nil {
			return err
		}
		op.SetAttr(ir.FuncTypeAttrName, t.String())
	}
	if p.isIdent("attributes") {
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.parseAttrDict(op); err != nil {
			return err
		}
	}
	return p.parseBlockBody(body)
}

// parseBlockBody parses "{ op* }" into the given block.
func (p *parser) parseBlockBody(block *ir.Block) *Error {
	if err := p.expectPunct("{"); err != nil {
		return err
	}
	for !p.isPunct("}") {
		if err := p.parseOp(block); err != nil {
			return err
		}
	}
	return p.advance()
}

func (p *parser) parseOp(block *ir.Block) *Error {
	switch {
	case p.tok.kind == tokValue:
		return p.parseResultOp(block)
	case p.isIdent(ir.OpParallel):
		return p.parseParallel(block)
	case p.isIdent(ir.OpFor):
		return p.parseFor(block)
	case p.isIdent(ir.OpIf):
		return p.parseIf(block)
	case p.isIdent(ir.OpAssuming):
		return p.parseAssuming(block)
	case p.tok.kind == tokIdent:
		_, err := p.parseGenericOp(block, "")
		return err
	default:
		return p.errorf("expected operation, got %q", p.tok.text)
	}
}

func (p *parser) parseResultOp(block *ir.Block) *Error {
	resultName := p.tok.text
	if err := p.advance(); err != nil {
		return err
	}
	if err := p.expectPunct("="); err != nil {
		return err
	}
	if p.tok.kind != tokIdent {
		return p.errorf("expected operation name, got %q", p.tok.text)
	}
	op, err := p.parseGenericOp(block, resultName)
	if err != nil {
		return err
	}
	if op.Result() == nil {
		return p.errorf("operation %q bound to %%%s has no result type", op.Name(), resultName)
	}
	return nil
}

// parseGenericOp parses "opname operands? attrs? (':' type)?". When
// resultName is non-empty the type clause is mandatory and defines the result.
func (p *parser) parseGenericOp(block *ir.Block, resultName string) (*ir.Op, *Error) {
	opName := p.tok.text
	line, col := p.tok.line, p.tok.col
	if dialect := ir.Dialect(opName); dialect != "" && !p.ctx.IsRegistered(dialect) {
		return nil, &Error{Line: line, Col: col, Msg: fmt.Sprintf("operation %q uses unregistered dialect %q", opName, dialect)}
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	var operands []*ir.Value
	for p.tok.kind == tokValue {
		operand, found := p.values[p.tok.text]
		if !found {
			return nil, p.errorf("use of undefined value %%%s", p.tok.text)
		}
		operands = append(operands, operand)
		if err := p.advance(); err != nil {
			return nil, err
		}
		if !p.isPunct(",") {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	op := ir.NewBuilderAtEnd(block).Create(opName, operands)
	if p.isPunct("{") {
		if err := p.parseAttrDict(op); err != nil {
			return nil, err
		}
	}
	if p.isPunct(":") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if resultName != "" {
			// Rebuild the op with its result type; Create is the only way to
			// attach results.
			op.Erase()
			op2 := ir.NewBuilderAtEnd(block).Create(opName, operands, t)
			for _, key := range op.AttrKeys() {
				op2.SetAttr(key, op.Attr(key))
			}
			op2.Result().SetNameHint(resultName)
			p.values[resultName] = op2.Result()
			return op2, nil
		}
	} else if resultName != "" {
		return nil, p.errorf("operation %q needs a \": type\" clause for its result", opName)
	}
	return op, nil
}

func (p *parser) parseValueRef() (*ir.Value, *Error) {
	if p.tok.kind != tokValue {
		return nil, p.errorf("expected %%value, got %q", p.tok.text)
	}
	v, found := p.values[p.tok.text]
	if !found {
		return nil, p.errorf("use of undefined value %%%s", p.tok.text)
	}
	return v, p.advance()
}

// parseValueTuple parses "(%a, %b, ...)".
func (p *parser) parseValueTuple() ([]*ir.Value, *Error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var values []*ir.Value
	for !p.isPunct(")") {
		v, err := p.parseValueRef()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	return values, p.advance()
}

func (p *parser) parseParallel(block *ir.Block) *Error {
	if err := p.advance(); err != nil {
		return err
	}
	// Induction variable names.
	if err := p.expectPunct("("); err != nil {
		return err
	}
	var ivNames []string
	for !p.isPunct(")") {
		if p.tok.kind != tokValue {
			return p.errorf("expected induction variable, got %q", p.tok.text)
		}
		ivNames = append(ivNames, p.tok.text)
		if err := p.advance(); err != nil {
			return err
		}
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return err
			}
		}
	}
	if err := p.advance(); err != nil {
		return err
	}
	if err := p.expectPunct("="); err != nil {
		return err
	}
	lbs, err := p.parseValueTuple()
	if err != nil {
		return err
	}
	if err := p.expectIdent("to"); err != nil {
		return err
	}
	ubs, err := p.parseValueTuple()
	if err != nil {
		return err
	}
	if err := p.expectIdent("step"); err != nil {
		return err
	}
	steps, err := p.parseValueTuple()
	if err != nil {
		return err
	}
	dims := len(ivNames)
	if len(lbs) != dims || len(ubs) != dims || len(steps) != dims {
		return p.errorf("loop.parallel bounds arity mismatch: %d induction variables, %d/%d/%d bounds",
			dims, len(lbs), len(ubs), len(steps))
	}
	operands := append(append(lbs, ubs...), steps...)
	op := ir.NewBuilderAtEnd(block).Create(ir.OpParallel, operands)
	op.SetAttr("dims", int64(dims))
	if p.isIdent("attributes") {
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.parseAttrDict(op); err != nil {
			return err
		}
	}
	ivTypes := make([]ir.Type, dims)
	for i := range ivTypes {
		ivTypes[i] = ir.Scalar(ir.Index)
	}
	body := op.AddRegion().AddBlock(ivTypes...)
	for i, name := range ivNames {
		body.Arg(i).SetNameHint(name)
		p.values[name] = body.Arg(i)
	}
	return p.parseBlockBody(body)
}

func (p *parser) parseFor(block *ir.Block) *Error {
	if err := p.advance(); err != nil {
		return err
	}
	if p.tok.kind != tokValue {
		return p.errorf("expected induction variable after loop.for")
	}
	ivName := p.tok.text
	if err := p.advance(); err != nil {
		return err
	}
	if err := p.expectPunct("="); err != nil {
		return err
	}
	lb, err := p.parseValueRef()
	if err != nil {
		return err
	}
	if err := p.expectIdent("to"); err != nil {
		return err
	}
	ub, err := p.parseValueRef()
	if err != nil {
		return err
	}
	if err := p.expectIdent("step"); err != nil {
		return err
	}
	step, err := p.parseValueRef()
	if err != nil {
		return err
	}
	op := ir.NewBuilderAtEnd(block).Create(ir.OpFor, []*ir.Value{lb, ub, step})
	body := op.AddRegion().AddBlock(ir.Scalar(ir.Index))
	body.Arg(0).SetNameHint(ivName)
	p.values[ivName] = body.Arg(0)
	return p.parseBlockBody(body)
}

func (p *parser) parseIf(block *ir.Block) *Error {
	if err := p.advance(); err != nil {
		return err
	}
	cond, err := p.parseValueRef()
	if err != nil {
		return err
	}
	op := ir.NewBuilderAtEnd(block).Create(ir.OpIf, []*ir.Value{cond})
	if err := p.parseBlockBody(op.AddRegion().AddBlock()); err != nil {
		return err
	}
	if p.isIdent("else") {
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.parseBlockBody(op.AddRegion().AddBlock()); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseAssuming(block *ir.Block) *Error {
	if err := p.advance(); err != nil {
		return err
	}
	op := ir.NewBuilderAtEnd(block).Create(ir.OpAssuming, nil)
	if p.isIdent("attributes") {
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.parseAttrDict(op); err != nil {
			return err
		}
	}
	return p.parseBlockBody(op.AddRegion().AddBlock())
}

func (p *parser) parseAttrDict(op *ir.Op) *Error {
	if err := p.expectPunct("{"); err != nil {
		return err
	}
	for !p.isPunct("}") {
		if p.tok.kind != tokIdent {
			return p.errorf("expected attribute name, got %q", p.tok.text)
		}
		key := p.tok.text
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct("="); err != nil {
			return err
		}
		value, err := p.parseAttrValue()
		if err != nil {
			return err
		}
		op.SetAttr(key, value)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return err
			}
		}
	}
	return p.advance()
}

func (p *parser) parseAttrValue() (ir.Attr, *Error) {
	switch {
	case p.tok.kind == tokInt:
		v, convErr := strconv.ParseInt(p.tok.text, 10, 64)
		if convErr != nil {
			return nil, p.errorf("invalid integer literal %q", p.tok.text)
		}
		return v, p.advance()
	case p.tok.kind == tokFloat:
		v, convErr := strconv.ParseFloat(p.tok.text, 64)
		if convErr != nil {
			return nil, p.errorf("invalid float literal %q", p.tok.text)
		}
		return v, p.advance()
	case p.tok.kind == tokString:
		v := p.tok.text
		return v, p.advance()
	case p.isIdent("true"):
		return true, p.advance()
	case p.isIdent("false"):
		return false, p.advance()
	case p.isPunct("["):
		return p.parseAttrList()
	default:
		return nil, p.errorf("unsupported attribute value %q", p.tok.text)
	}
}

func (p *parser) parseAttrList() (ir.Attr, *Error) {
	if err := p.advance(); err != nil { // consume '['
		return nil, err
	}
	var ints []int64
	var strs []string
	for !p.isPunct("]") {
		switch p.tok.kind {
		case tokInt:
			v, convErr := strconv.ParseInt(p.tok.text, 10, 64)
			if convErr != nil {
				return nil, p.errorf("invalid integer literal %q", p.tok.text)
			}
			ints = append(ints, v)
		case tokString:
			strs = append(strs, p.tok.text)
		default:
			return nil, p.errorf("unsupported list element %q", p.tok.text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.advance(); err != nil { // consume ']'
		return nil, err
	}
	if len(strs) > 0 && len(ints) > 0 {
		return nil, p.errorf("mixed integer and string list attribute")
	}
	if len(strs) > 0 {
		return strs, nil
	}
	return ints, nil
}

// parseType parses a scalar dtype name or a "tensor<...>"/"memref<...>"
// literal.
func (p *parser) parseType() (ir.Type, *Error) {
	switch p.tok.kind {
	case tokIdent:
		dtype := ir.DType(p.tok.text)
		if !ir.ValidDType(dtype) {
			return ir.Invalid(), p.errorf("unknown type %q", p.tok.text)
		}
		return ir.Scalar(dtype), p.advance()
	case tokTypeLit:
		t, err := parseShapedType(p.tok.text, p.tok.line, p.tok.col)
		if err != nil {
			return ir.Invalid(), err
		}
		return t, p.advance()
	default:
		return ir.Invalid(), p.errorf("expected type, got %q", p.tok.text)
	}
}

func parseShapedType(text string, line, col int) (ir.Type, *Error) {
	fail := func(msg string) (ir.Type, *Error) {
		return ir.Invalid(), &Error{Line: line, Col: col, Msg: msg + ": " + text}
	}
	open := strings.IndexByte(text, '<')
	kind := text[:open]
	inner := text[open+1 : len(text)-1]
	parts := strings.Split(inner, "x")
	if len(parts) == 0 {
		return fail("empty shaped type")
	}
	dtype := ir.DType(parts[len(parts)-1])
	if !ir.ValidDType(dtype) {
		return fail("unknown element type in shaped type")
	}
	dims := make([]int, 0, len(parts)-1)
	for _, part := range parts[:len(parts)-1] {
		if part == "?" {
			dims = append(dims, ir.DynamicDim)
			continue
		}
		dim, err := strconv.Atoi(part)
		if err != nil || dim <= 0 {
			return fail("invalid dimension in shaped type")
		}
		dims = append(dims, dim)
	}
	if kind == "memref" {
		return ir.MemRef(dtype, dims...), nil
	}
	return ir.Tensor(dtype, dims...), nil
}
