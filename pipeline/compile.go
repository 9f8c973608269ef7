package pipeline

import (
	"github.com/Teng-xu/tensorflow-1/backends"
	"github.com/Teng-xu/tensorflow-1/ir"
	"github.com/Teng-xu/tensorflow-1/ir/parser"
	"k8s.io/klog/v2"
)

// Config selects what Compile produces and how aggressively loops are tiled.
type Config struct {
	// Architectures are the device architectures to compile for, e.g.
	// ["sm_70"] or ["gfx906"]. Ignored with CPUCodegen; required otherwise.
	Architectures []string

	// TileSizes tile the innermost parallel loops; empty disables tiling.
	TileSizes []int64

	// UnrollFactors split each tile again so the innermost trip count equals
	// the factor. Only applied when the arity matches TileSizes.
	UnrollFactors []int64

	// CPUCodegen keeps all loops on the host: no mapping, no outlining, no
	// device backend.
	CPUCodegen bool

	// GenerateFatbin bundles all architectures into one fatbin blob;
	// otherwise exactly one architecture must be requested.
	GenerateFatbin bool

	// PrintPTX logs the generated device assembly and attaches it to the
	// kernel module.
	PrintPTX bool

	// EnableFTZ compiles device code with flush-denormals-to-zero.
	EnableFTZ bool

	// EmbedMemrefPrints inserts runtime prints of returned buffers, for
	// debugging generated kernels.
	EmbedMemrefPrints bool

	// Backend optionally selects a registered device backend by name
	// ("<name>" or "<name>:<config>"), overriding the default selection.
	Backend string
}

// dialects every compiled program may use, registered on the fresh Context of
// each Compile call.
var dialects = []string{
	"tf", "linalg", "loop", "shape", "memref", "arith", "math",
	"rt", "gpu", "cf", "llvm", "nvvm", "rocdl",
}

// Compile parses the TF-dialect program text and lowers it to its final
// host-plus-device form. On success the returned module holds the host code
// with the device binary attached to its gpu.module; on failure the module is
// discarded and the error is one of ParseError, ConfigurationError,
// StageError or BackendError.
func Compile(programText string, config Config) (*ir.Module, error) {
	ctx := ir.NewContext()
	ctx.RegisterDialects(dialects...)
	m, err := parser.Parse(ctx, programText)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("Compiling %d byte program, cpu_codegen=%v, architectures=%v",
		len(programText), config.CPUCodegen, config.Architectures)

	if err := stageTFToLoops().Run(m); err != nil {
		return nil, err
	}
	if err := stageLoopsToGPUOrCPU(config).Run(m); err != nil {
		return nil, err
	}
	if !config.CPUCodegen {
		compiler, err := newBackend(config)
		if err != nil {
			return nil, &ConfigurationError{Msg: err.Error()}
		}
		defer compiler.Finalize()
		if compiler.Vendor() == backends.VendorAMD {
			if err := stageAMDFixups().Run(m); err != nil {
				return nil, err
			}
		}
		if err := stageKernelToLowLevel(compiler.Dialect()).Run(m); err != nil {
			return nil, err
		}
		if err := stageStaticKnowledge().Run(m); err != nil {
			return nil, err
		}
		if err := emitDeviceCode(m, compiler, config); err != nil {
			return nil, err
		}
	}
	if err := stageHostToFinal().Run(m); err != nil {
		return nil, err
	}
	return m, nil
}

func newBackend(config Config) (backends.Compiler, error) {
	if config.Backend != "" {
		return backends.NewWithConfig(config.Backend)
	}
	return backends.New()
}
