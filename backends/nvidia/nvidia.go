// Package nvidia implements the NVIDIA device-code backend: it translates
// kernels lowered to the "nvvm" dialect into PTX text and wraps the result
// into a cubin-style binary blob, one per requested sm_* architecture.
//
// Import it for its side effects to register the backend:
//
//	import _ "github.com/Teng-xu/tensorflow-1/backends/nvidia"
package nvidia

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/Teng-xu/tensorflow-1/backends"
	"github.com/Teng-xu/tensorflow-1/ir"
	"github.com/pkg/errors"
)

// BackendName is the registry name of this backend.
const BackendName = "nvidia"

func init() {
	backends.Register(BackendName, func(config string) (backends.Compiler, error) {
		if config != "" {
			return nil, errors.Errorf("nvidia backend takes no configuration, got %q", config)
		}
		return &Compiler{}, nil
	})
}

// Compiler compiles nvvm-dialect kernels to PTX and cubin blobs.
type Compiler struct{}

// Compile-time check.
var _ backends.Compiler = (*Compiler)(nil)

// Name implements backends.Compiler.
func (c *Compiler) Name() string { return BackendName }

// Vendor implements backends.Compiler.
func (c *Compiler) Vendor() backends.Vendor { return backends.VendorNVIDIA }

// Dialect implements backends.Compiler.
func (c *Compiler) Dialect() string { return "nvvm" }

// Finalize implements backends.Compiler. The compiler holds no resources.
func (c *Compiler) Finalize() {}

var archRegexp = regexp.MustCompile(`^sm_[0-9]+$`)

// Compile implements backends.Compiler.
func (c *Compiler) Compile(gpuModule *ir.Op, architectures []string, opts backends.Options) ([]backends.Artifact, error) {
	if gpuModule.Name() != ir.OpGPUModule {
		return nil, errors.Errorf("nvidia backend expects a %q op, got %q", ir.OpGPUModule, gpuModule.Name())
	}
	if !opts.GenerateFatbin && len(architectures) != 1 {
		return nil, errors.Errorf("without fatbin generation exactly one architecture must be requested, got %d", len(architectures))
	}
	artifacts := make([]backends.Artifact, 0, len(architectures))
	for _, arch := range architectures {
		if !archRegexp.MatchString(arch) {
			return nil, errors.Errorf("unsupported NVIDIA architecture %q, expected the form sm_<N>", arch)
		}
		ptx, err := emitPTX(gpuModule, arch, opts.FlushToZero)
		if err != nil {
			return nil, errors.Wrapf(err, "emitting PTX for %q", arch)
		}
		artifact := backends.Artifact{
			Architecture: arch,
			Binary:       wrapCubin(arch, ptx),
		}
		if opts.PrintAssembly {
			artifact.Assembly = ptx
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

// wrapCubin wraps PTX text into a cubin-style container. The header carries
// the architecture so a host runtime can pick the right entry from a fatbin.
func wrapCubin(arch, ptx string) []byte {
	header := fmt.Sprintf("CUBN\x00%s\x00", arch)
	return append([]byte(header), []byte(ptx)...)
}

// emitPTX generates PTX text for every kernel function in the module.
type ptxEmitter struct {
	sb       strings.Builder
	ftz      bool
	regs     map[*ir.Value]string
	nextReg  int
	labels   map[*ir.Block]string
	nextBB   int
	funcName string
}

func emitPTX(gpuModule *ir.Op, arch string, ftz bool) (string, error) {
	e := &ptxEmitter{ftz: ftz}
	fmt.Fprintf(&e.sb, "//\n// Generated by the kernel generator\n//\n")
	fmt.Fprintf(&e.sb, ".version 7.0\n.target %s\n.address_size 64\n\n", arch)
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

func (e *ptxEmitter) function(fnOp *ir.Op) error {
	fn := ir.FuncFromOp(fnOp)
	e.regs = make(map[*ir.Value]string)
	e.nextReg = 0
	e.labels = make(map[*ir.Block]string)
	e.nextBB = 0
	e.funcName = fn.Name()

	var params []string
	for i, arg := range fn.Params() {
		name := fmt.Sprintf(".param .u64 %s_param_%d", fn.Name(), i)
		params = append(params, name)
		e.regs[arg] = fmt.Sprintf("%%rd%d", i)
	}
	fmt.Fprintf(&e.sb, ".visible .entry %s(\n  %s\n)\n{\n", fn.Name(), strings.Join(params, ",\n  "))
	for i := range fn.Params() {
		fmt.Fprintf(&e.sb, "  ld.param.u64 %%rd%d, [%s_param_%d];\n", i, fn.Name(), i)
	}
	for _, block := range fn.Region().Blocks() {
		if label, found := e.labels[block]; found {
			fmt.Fprintf(&e.sb, "%s:\n", label)
		} else if block != fn.Region().Entry() {
			fmt.Fprintf(&e.sb, "%s:\n", e.label(block))
		}
		for _, op := range block.Ops() {
			if err := e.instruction(op); err != nil {
				return err
			}
		}
	}
	e.sb.WriteString("}\n\n")
	return nil
}

func (e *ptxEmitter) label(b *ir.Block) string {
	if label, found := e.labels[b]; found {
		return label
	}
	e.nextBB++
	label := fmt.Sprintf("$L__BB_%d", e.nextBB)
	e.labels[b] = label
	return label
}

func (e *ptxEmitter) reg(v *ir.Value) string {
	if reg, found := e.regs[v]; found {
		return reg
	}
	reg := fmt.Sprintf("%%r%d", e.nextReg)
	e.nextReg++
	e.regs[v] = reg
	return reg
}

// ftzSuffix applies the flush-to-zero modifier to f32 arithmetic.
func (e *ptxEmitter) ftzSuffix() string {
	if e.ftz {
		return ".ftz"
	}
	return ""
}

// floatBits returns the IEEE-754 single-precision bit pattern, the form PTX
// uses for float immediates.
func floatBits(v float64) uint32 {
	return math.Float32bits(float32(v))
}

var ptxBinary = map[string]string{
	"llvm.fadd": "add%s.f32",
	"llvm.fsub": "sub%s.f32",
	"llvm.fmul": "mul%s.f32",
	"llvm.fdiv": "div%s.rn.f32",
	"llvm.fmax": "max%s.f32",
	"llvm.add":  "add.s64",
	"llvm.sub":  "sub.s64",
	"llvm.mul":  "mul.lo.s64",
	"llvm.sdiv": "div.s64",
	"llvm.srem": "rem.s64",
	"llvm.smin": "min.s64",
	"llvm.and":  "and.b64",
}

func (e *ptxEmitter) instruction(op *ir.Op) error {
	if mnemonic, found := ptxBinary[op.Name()]; found {
		if strings.Contains(mnemonic, "%s") {
			mnemonic = fmt.Sprintf(mnemonic, e.ftzSuffix())
		}
		fmt.Fprintf(&e.sb, "  %s %s, %s, %s;\n", mnemonic,
			e.reg(op.Result()), e.reg(op.Operand(0)), e.reg(op.Operand(1)))
		return nil
	}
	switch op.Name() {
	case "llvm.constant":
		fmt.Fprintf(&e.sb, "  mov.b64 %s, %d;\n", e.reg(op.Result()), op.IntAttr("value", 0))
	case "llvm.fconstant":
		fmt.Fprintf(&e.sb, "  mov.f32 %s, 0F%08X;\n", e.reg(op.Result()), floatBits(op.FloatAttr("value", 0)))
	case "nvvm.block_id":
		fmt.Fprintf(&e.sb, "  mov.u32 %s, %%ctaid.%s;\n", e.reg(op.Result()), op.StrAttr("dim"))
	case "nvvm.thread_id":
		fmt.Fprintf(&e.sb, "  mov.u32 %s, %%tid.%s;\n", e.reg(op.Result()), op.StrAttr("dim"))
	case "nvvm.block_dim":
		fmt.Fprintf(&e.sb, "  mov.u32 %s, %%ntid.%s;\n", e.reg(op.Result()), op.StrAttr("dim"))
	case "llvm.fneg":
		fmt.Fprintf(&e.sb, "  neg%s.f32 %s, %s;\n", e.ftzSuffix(), e.reg(op.Result()), e.reg(op.Operand(0)))
	case "llvm.tanh":
		fmt.Fprintf(&e.sb, "  tanh.approx.f32 %s, %s;\n", e.reg(op.Result()), e.reg(op.Operand(0)))
	case "llvm.sqrt":
		fmt.Fprintf(&e.sb, "  sqrt%s.rn.f32 %s, %s;\n", e.ftzSuffix(), e.reg(op.Result()), e.reg(op.Operand(0)))
	case "llvm.fabs":
		fmt.Fprintf(&e.sb, "  abs%s.f32 %s, %s;\n", e.ftzSuffix(), e.reg(op.Result()), e.reg(op.Operand(0)))
	case "llvm.fptosi":
		fmt.Fprintf(&e.sb, "  cvt.rzi.s32.f32 %s, %s;\n", e.reg(op.Result()), e.reg(op.Operand(0)))
	case "llvm.sitofp":
		fmt.Fprintf(&e.sb, "  cvt.rn.f32.s32 %s, %s;\n", e.reg(op.Result()), e.reg(op.Operand(0)))
	case "llvm.trunc":
		fmt.Fprintf(&e.sb, "  cvt.u16.u32 %s, %s;\n", e.reg(op.Result()), e.reg(op.Operand(0)))
	case "llvm.icmp":
		fmt.Fprintf(&e.sb, "  setp.%s.s64 %s, %s, %s;\n", op.StrAttr("predicate"),
			e.reg(op.Result()), e.reg(op.Operand(0)), e.reg(op.Operand(1)))
	case "llvm.load":
		fmt.Fprintf(&e.sb, "  ld.global.f32 %s, [%s];\n", e.reg(op.Result()), e.reg(op.Operand(0)))
	case "llvm.store":
		fmt.Fprintf(&e.sb, "  st.global.f32 [%s], %s;\n", e.reg(op.Operand(1)), e.reg(op.Operand(0)))
	case "llvm.getelementptr":
		fmt.Fprintf(&e.sb, "  mad.lo.s64 %s, %s, 4, %s;\n", e.reg(op.Result()), e.reg(op.Operand(1)), e.reg(op.Operand(0)))
	case "cf.br":
		succ := op.Successors()[0]
		for i, operand := range op.Operands() {
			fmt.Fprintf(&e.sb, "  mov.b64 %s, %s;\n", e.reg(succ.Arg(i)), e.reg(operand))
		}
		fmt.Fprintf(&e.sb, "  bra %s;\n", e.label(succ))
	case "cf.cond_br":
		fmt.Fprintf(&e.sb, "  @%s bra %s;\n", e.reg(op.Operand(0)), e.label(op.Successors()[0]))
		fmt.Fprintf(&e.sb, "  bra %s;\n", e.label(op.Successors()[1]))
	case ir.OpGPUReturn:
		e.sb.WriteString("  ret;\n")
	default:
		return errors.Errorf("nvidia backend cannot select an instruction for op %q in kernel %q", op.Name(), e.funcName)
	}
	return nil
}
