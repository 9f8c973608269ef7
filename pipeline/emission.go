package pipeline

import (
	"strings"

	"github.com/Teng-xu/tensorflow-1/backends"
	"github.com/Teng-xu/tensorflow-1/ir"
	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

// The emission adapter bridges the IR world and the device-code compiler:
// it hands every gpu.module to the backend and attaches the resulting binary
// to the module as an attribute. It is not a Stage: its failures surface as
// BackendError, not StageError.

// deviceCodeFailedMsg is the stable message of every emission failure.
const deviceCodeFailedMsg = "Generating device code failed"

func emitDeviceCode(m *ir.Module, compiler backends.Compiler, config Config) error {
	if len(config.Architectures) == 0 {
		return &BackendError{Msg: deviceCodeFailedMsg}
	}
	gpuModules := m.GPUModules()
	if len(gpuModules) != 1 {
		klog.Warningf("Expected exactly one GPU module, got %d. Currently we leak memory if there is more than one module.", len(gpuModules))
	}
	opts := backends.Options{
		GenerateFatbin: config.GenerateFatbin,
		PrintAssembly:  config.PrintPTX,
		FlushToZero:    config.EnableFTZ,
	}
	for _, gpuMod := range gpuModules {
		gpuMod.Walk(func(op *ir.Op) {
			op.RemoveAttr(ir.LocAttrName)
		})
		artifacts, err := compiler.Compile(gpuMod, config.Architectures, opts)
		if err != nil {
			return &BackendError{Msg: deviceCodeFailedMsg, Err: err}
		}
		var blob []byte
		if config.GenerateFatbin {
			blob = backends.EncodeFatbin(artifacts)
		} else {
			blob = artifacts[0].Binary
		}
		gpuMod.SetAttr(ir.GPUBinaryAttrName, blob)
		if config.PrintPTX {
			var sb strings.Builder
			for _, artifact := range artifacts {
				klog.Infof("Generated %s assembly for %q:\n%s", compiler.Name(), artifact.Architecture, artifact.Assembly)
				sb.WriteString(artifact.Assembly)
			}
			gpuMod.SetAttr(ir.GPUAssemblyAttrName, sb.String())
		}
		klog.V(1).Infof("Generated %s of device code for %q", humanize.Bytes(uint64(len(blob))), gpuMod.StrAttr(ir.SymNameAttrName))
	}
	return nil
}
