// Package backends defines the interface a device-code compiler needs to
// implement to serve as the low-level-IR-to-binary step of the kernel
// generation pipeline, and a registry to select one at runtime.
//
// The two maintained implementations are mutually exclusive in practice --
// a build links either the NVIDIA or the AMD backend (or neither, for
// CPU-only builds) by importing the corresponding subpackage for its side
// effects:
//
//	import _ "github.com/Teng-xu/tensorflow-1/backends/nvidia"
//
// The pipeline resolves the backend once per compile via New and selects
// vendor-conditional stages by the resolved Vendor value, never by build
// tags.
package backends

import (
	"os"
	"strings"

	"github.com/Teng-xu/tensorflow-1/ir"
	"github.com/pkg/errors"
)

// Vendor identifies the GPU vendor a backend compiles for.
type Vendor int

const (
	// VendorNVIDIA targets sm_* architectures and emits PTX/cubin.
	VendorNVIDIA Vendor = iota

	// VendorAMD targets gfx* architectures and emits GCN ISA/hsaco.
	VendorAMD
)

//go:generate go tool enumer -type Vendor -trimprefix=Vendor -output=gen_vendor_enumer.go backends.go

// Options configure one invocation of Compiler.Compile.
type Options struct {
	// GenerateFatbin requests a single multi-architecture binary; otherwise
	// exactly one architecture must be given and the raw per-architecture
	// binary is produced.
	GenerateFatbin bool

	// PrintAssembly additionally fills Artifact.Assembly with the
	// human-readable device assembly.
	PrintAssembly bool

	// FlushToZero enables flush-denormals-to-zero float semantics in the
	// generated code.
	FlushToZero bool
}

// Artifact is the compilation result for one target architecture.
type Artifact struct {
	// Architecture this artifact was compiled for, e.g. "sm_70" or "gfx906".
	Architecture string

	// Binary is the opaque device binary blob.
	Binary []byte

	// Assembly is the human-readable form, filled only when requested.
	Assembly string
}

// Compiler is the opaque "low-level IR in, device binary out" collaborator.
// Implementations must be safe for sequential reuse; they are not required to
// be safe for concurrent use.
type Compiler interface {
	// Name returns the short registry name of the backend, e.g. "nvidia".
	Name() string

	// Vendor returns the GPU vendor this backend compiles for.
	Vendor() Vendor

	// Dialect returns the low-level dialect prefix the kernel operations
	// must be converted to before Compile is called ("nvvm" or "rocdl").
	Dialect() string

	// Compile translates one device-code region (a "gpu.module" operation
	// whose kernels have been lowered to the backend's low-level dialect)
	// into one Artifact per requested architecture.
	//
	// It returns an error for unsupported architectures or malformed kernel
	// code; the error is surfaced by the pipeline as a BackendError.
	Compile(gpuModule *ir.Op, architectures []string, opts Options) ([]Artifact, error)

	// Finalize releases any resources held by the compiler immediately.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Compiler.
type Constructor func(config string) (Compiler, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a backend under the given name. To be safe, call Register during
// initialization of a package. The first registered backend is the default.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// Registered reports whether any backend has been registered, i.e. whether a
// device target was linked into this build at all.
func Registered() bool {
	return len(registeredConstructors) > 0
}

// DefaultConfig is the backend configuration to use when the environment
// variable is unset. See NewWithConfig for the format.
var DefaultConfig string

// KERNELGEN_BACKEND is the environment variable with the default backend
// configuration: "<backend_name>" or "<backend_name>:<backend_config>".
const KERNELGEN_BACKEND = "KERNELGEN_BACKEND"

// New returns the default backend Compiler:
//
//  1. The environment variable KERNELGEN_BACKEND, if set.
//  2. The variable DefaultConfig, if set.
//  3. The first registered backend with an empty configuration.
//
// It returns an error if no backend was registered, which means no device
// target was linked into the build.
func New() (Compiler, error) {
	if config, found := os.LookupEnv(KERNELGEN_BACKEND); found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig creates the backend selected by a configuration string
// formatted as "<backend_name>" or "<backend_name>:<backend_config>". An
// empty string selects the first registered backend.
func NewWithConfig(config string) (Compiler, error) {
	if !Registered() {
		return nil, errors.Errorf(
			"no registered device backends -- import one for its side effects, "+
				`e.g. import _ "github.com/Teng-xu/tensorflow-1/backends/nvidia", `+
				"or use CPU code generation")
	}
	backendName := firstRegistered
	backendConfig := ""
	if config != "" {
		backendName = config
		if idx := strings.Index(config, ":"); idx != -1 {
			backendName = config[:idx]
			backendConfig = config[idx+1:]
		}
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given", backendName, config)
	}
	return constructor(backendConfig)
}
