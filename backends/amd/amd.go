// Package amd implements the AMD device-code backend: it translates kernels
// lowered to the "rocdl" dialect into GCN-assembly text and wraps the result
// into an hsaco-style binary blob, one per requested gfx* architecture.
//
// Import it for its side effects to register the backend:
//
//	import _ "github.com/Teng-xu/tensorflow-1/backends/amd"
package amd

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Teng-xu/tensorflow-1/backends"
	"github.com/Teng-xu/tensorflow-1/ir"
	"github.com/pkg/errors"
)

// BackendName is the registry name of this backend.
const BackendName = "amd"

func init() {
	backends.Register(BackendName, func(config string) (backends.Compiler, error) {
		if config != "" {
			return nil, errors.Errorf("amd backend takes no configuration, got %q", config)
		}
		return &Compiler{}, nil
	})
}

// Compiler compiles rocdl-dialect kernels to GCN assembly and hsaco blobs.
type Compiler struct{}

// Compile-time check.
var _ backends.Compiler = (*Compiler)(nil)

// Name implements backends.Compiler.
func (c *Compiler) Name() string { return BackendName }

// Vendor implements backends.Compiler.
func (c *Compiler) Vendor() backends.Vendor { return backends.VendorAMD }

// Dialect implements backends.Compiler.
func (c *Compiler) Dialect() string { return "rocdl" }

// Finalize implements backends.Compiler. The compiler holds no resources.
func (c *Compiler) Finalize() {}

var archRegexp = regexp.MustCompile(`^gfx[0-9a-f]+$`)

// Compile implements backends.Compiler.
func (c *Compiler) Compile(gpuModule *ir.Op, architectures []string, opts backends.Options) ([]backends.Artifact, error) {
	if gpuModule.Name() != ir.OpGPUModule {
		return nil, errors.Errorf("amd backend expects a %q op, got %q", ir.OpGPUModule, gpuModule.Name())
	}
	if !opts.GenerateFatbin && len(architectures) != 1 {
		return nil, errors.Errorf("without fatbin generation exactly one architecture must be requested, got %d", len(architectures))
	}
	artifacts := make([]backends.Artifact, 0, len(architectures))
	for _, arch := range architectures {
		if !archRegexp.MatchString(arch) {
			return nil, errors.Errorf("unsupported AMD architecture %q, expected the form gfx<NNN>", arch)
		}
		asm, err := emitGCN(gpuModule, arch, opts.FlushToZero)
		if err != nil {
			return nil, errors.Wrapf(err, "emitting GCN assembly for %q", arch)
		}
		artifact := backends.Artifact{
			Architecture: arch,
			Binary:       wrapHsaco(arch, asm),
		}
		if opts.PrintAssembly {
			artifact.Assembly = asm
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

// wrapHsaco wraps assembly text into an hsaco-style container.
func wrapHsaco(arch, asm string) []byte {
	header := fmt.Sprintf("HSCO\x00%s\x00", arch)
	return append([]byte(header), []byte(asm)...)
}

type gcnEmitter struct {
	sb       strings.Builder
	ftz      bool
	regs     map[*ir.Value]string
	nextReg  int
	labels   map[*ir.Block]string
	nextBB   int
	funcName string
}

func emitGCN(gpuModule *ir.Op, arch string, ftz bool) (string, error) {
	e := &gcnEmitter{ftz: ftz}
	fmt.Fprintf(&e.sb, "\t.amdgcn_target \"amdgcn-amd-amdhsa--%s\"\n", arch)
	if ftz {
		e.sb.WriteString("\t.amdhsa_dx10_clamp 1\n")
	}
	e.sb.WriteString("\t.text\n")
	for _, fnOp := range gpuModule.Regions()[0].Entry().Ops() {
		if fnOp.Name() != ir.OpGPUFunc {
			return "", errors.Errorf("unexpected op %q inside gpu.module", fnOp.Name())
		}
		if err := e.function(fnOp); err != nil {
			return "", err
		}
	}
	return e.sb.String(), nil
}

func (e *gcnEmitter) function(fnOp *ir.Op) error {
	fn := ir.FuncFromOp(fnOp)
	e.regs = make(map[*ir.Value]string)
	e.nextReg = 0
	e.labels = make(map[*ir.Block]string)
	e.nextBB = 0
	e.funcName = fn.Name()

	fmt.Fprintf(&e.sb, "\t.globl %s\n%s:\n", fn.Name(), fn.Name())
	for i, arg := range fn.Params() {
		e.regs[arg] = fmt.Sprintf("s[%d:%d]", 2*i, 2*i+1)
		fmt.Fprintf(&e.sb, "\ts_load_dwordx2 %s, s[0:1], %#x\n", e.regs[arg], 8*i)
	}
	for _, block := range fn.Region().Blocks() {
		if block != fn.Region().Entry() {
			fmt.Fprintf(&e.sb, "%s:\n", e.label(block))
		}
		for _, op := range block.Ops() {
			if err := e.instruction(op); err != nil {
				return err
			}
		}
	}
	fmt.Fprintf(&e.sb, "\t.size %s, .-%s\n", fn.Name(), fn.Name())
	return nil
}

func (e *gcnEmitter) label(b *ir.Block) string {
	if label, found := e.labels[b]; found {
		return label
	}
	e.nextBB++
	label := fmt.Sprintf(".LBB_%s_%d", e.funcName, e.nextBB)
	e.labels[b] = label
	return label
}

func (e *gcnEmitter) reg(v *ir.Value) string {
	if reg, found := e.regs[v]; found {
		return reg
	}
	reg := fmt.Sprintf("v%d", e.nextReg)
	e.nextReg++
	e.regs[v] = reg
	return reg
}

var gcnBinary = map[string]string{
	"llvm.fadd": "v_add_f32",
	"llvm.fsub": "v_sub_f32",
	"llvm.fmul": "v_mul_f32",
	"llvm.fmax": "v_max_f32",
	"llvm.add":  "v_add_u32",
	"llvm.sub":  "v_sub_u32",
	"llvm.mul":  "v_mul_lo_u32",
	"llvm.smin": "v_min_i32",
	"llvm.and":  "v_and_b32",
}

func (e *gcnEmitter) instruction(op *ir.Op) error {
	if mnemonic, found := gcnBinary[op.Name()]; found {
		fmt.Fprintf(&e.sb, "\t%s %s, %s, %s\n", mnemonic,
			e.reg(op.Result()), e.reg(op.Operand(0)), e.reg(op.Operand(1)))
		return nil
	}
	switch op.Name() {
	case "llvm.constant":
		fmt.Fprintf(&e.sb, "\tv_mov_b32 %s, %d\n", e.reg(op.Result()), op.IntAttr("value", 0))
	case "llvm.fconstant":
		fmt.Fprintf(&e.sb, "\tv_mov_b32 %s, %g\n", e.reg(op.Result()), op.FloatAttr("value", 0))
	case "rocdl.workgroup_id":
		fmt.Fprintf(&e.sb, "\tv_mov_b32 %s, ttmp_%s\n", e.reg(op.Result()), op.StrAttr("dim"))
	case "rocdl.workitem_id":
		fmt.Fprintf(&e.sb, "\tv_mov_b32 %s, v_%s\n", e.reg(op.Result()), op.StrAttr("dim"))
	case "llvm.fneg":
		fmt.Fprintf(&e.sb, "\tv_xor_b32 %s, 0x80000000, %s\n", e.reg(op.Result()), e.reg(op.Operand(0)))
	case "llvm.fdiv":
		fmt.Fprintf(&e.sb, "\tv_rcp_f32 %s, %s\n", e.reg(op.Result()), e.reg(op.Operand(1)))
		fmt.Fprintf(&e.sb, "\tv_mul_f32 %s, %s, %s\n", e.reg(op.Result()), e.reg(op.Operand(0)), e.reg(op.Result()))
	case "llvm.sdiv":
		fmt.Fprintf(&e.sb, "\tv_cvt_div_i32 %s, %s, %s\n", e.reg(op.Result()), e.reg(op.Operand(0)), e.reg(op.Operand(1)))
	case "llvm.srem":
		fmt.Fprintf(&e.sb, "\tv_cvt_rem_i32 %s, %s, %s\n", e.reg(op.Result()), e.reg(op.Operand(0)), e.reg(op.Operand(1)))
	case "llvm.tanh":
		fmt.Fprintf(&e.sb, "\tv_tanh_f32 %s, %s\n", e.reg(op.Result()), e.reg(op.Operand(0)))
	case "llvm.sqrt":
		fmt.Fprintf(&e.sb, "\tv_sqrt_f32 %s, %s\n", e.reg(op.Result()), e.reg(op.Operand(0)))
	case "llvm.fabs":
		fmt.Fprintf(&e.sb, "\tv_and_b32 %s, 0x7fffffff, %s\n", e.reg(op.Result()), e.reg(op.Operand(0)))
	case "llvm.fptosi":
		fmt.Fprintf(&e.sb, "\tv_cvt_i32_f32 %s, %s\n", e.reg(op.Result()), e.reg(op.Operand(0)))
	case "llvm.sitofp":
		fmt.Fprintf(&e.sb, "\tv_cvt_f32_i32 %s, %s\n", e.reg(op.Result()), e.reg(op.Operand(0)))
	case "llvm.trunc":
		fmt.Fprintf(&e.sb, "\tv_and_b32 %s, 0xffff, %s\n", e.reg(op.Result()), e.reg(op.Operand(0)))
	case "llvm.icmp":
		fmt.Fprintf(&e.sb, "\tv_cmp_%s_i64 vcc, %s, %s\n", op.StrAttr("predicate"), e.reg(op.Operand(0)), e.reg(op.Operand(1)))
		fmt.Fprintf(&e.sb, "\tv_cndmask_b32 %s, 0, 1, vcc\n", e.reg(op.Result()))
	case "llvm.load":
		fmt.Fprintf(&e.sb, "\tglobal_load_dword %s, %s, off\n", e.reg(op.Result()), e.reg(op.Operand(0)))
	case "llvm.store":
		fmt.Fprintf(&e.sb, "\tglobal_store_dword %s, %s, off\n", e.reg(op.Operand(1)), e.reg(op.Operand(0)))
	case "llvm.getelementptr":
		fmt.Fprintf(&e.sb, "\tv_lshl_add_u64 %s, %s, 2, %s\n", e.reg(op.Result()), e.reg(op.Operand(1)), e.reg(op.Operand(0)))
	case "cf.br":
		succ := op.Successors()[0]
		for i, operand := range op.Operands() {
			fmt.Fprintf(&e.sb, "\tv_mov_b32 %s, %s\n", e.reg(succ.Arg(i)), e.reg(operand))
		}
		fmt.Fprintf(&e.sb, "\ts_branch %s\n", e.label(succ))
	case "cf.cond_br":
		fmt.Fprintf(&e.sb, "\ts_cbranch_vccnz %s\n", e.label(op.Successors()[0]))
		fmt.Fprintf(&e.sb, "\ts_branch %s\n", e.label(op.Successors()[1]))
	case ir.OpGPUReturn:
		e.sb.WriteString("\ts_endpgm\n")
	default:
		return errors.Errorf("amd backend cannot select an instruction for op %q in kernel %q", op.Name(), e.funcName)
	}
	return nil
}
