package amd

import (
	"strings"
	"testing"

	"github.com/Teng-xu/tensorflow-1/backends"
	"github.com/Teng-xu/tensorflow-1/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testKernelModule builds a gpu.module with one kernel that doubles the value
// at the work-item index: out[id] = in[id] + in[id].
func testKernelModule(t *testing.T) *ir.Op {
	t.Helper()
	ctx := ir.NewContext()
	ctx.RegisterDialects("gpu", "llvm", "rocdl")
	m := ir.NewModule(ctx)

	gpuModule := ir.NewBuilderAtEnd(m.Body()).Create(ir.OpGPUModule, nil)
	gpuModule.SetAttr(ir.SymNameAttrName, "kernel_module")
	moduleBody := gpuModule.AddRegion().AddBlock()

	kernel := ir.NewBuilderAtEnd(moduleBody).Create(ir.OpGPUFunc, nil)
	kernel.SetAttr(ir.SymNameAttrName, "add_kernel")
	body := kernel.AddRegion().AddBlock(ir.Scalar(ir.Ptr), ir.Scalar(ir.Ptr))

	bld := ir.NewBuilderAtEnd(body)
	id := bld.Create("rocdl.workitem_id", nil, ir.Scalar(ir.Index))
	id.SetAttr("dim", "x")
	src := bld.Create("llvm.getelementptr", []*ir.Value{body.Arg(0), id.Result()}, ir.Scalar(ir.Ptr))
	loaded := bld.Create("llvm.load", []*ir.Value{src.Result()}, ir.Scalar(ir.F32))
	sum := bld.Create("llvm.fadd", []*ir.Value{loaded.Result(), loaded.Result()}, ir.Scalar(ir.F32))
	dst := bld.Create("llvm.getelementptr", []*ir.Value{body.Arg(1), id.Result()}, ir.Scalar(ir.Ptr))
	bld.Create("llvm.store", []*ir.Value{sum.Result(), dst.Result()})
	bld.Create(ir.OpGPUReturn, nil)

	require.NoError(t, ir.Verify(m))
	return gpuModule
}

func TestCompile(t *testing.T) {
	gpuModule := testKernelModule(t)
	compiler := &Compiler{}
	artifacts, err := compiler.Compile(gpuModule, []string{"gfx906", "gfx90a"},
		backends.Options{GenerateFatbin: true, PrintAssembly: true})
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	assert.Equal(t, "gfx906", artifacts[0].Architecture)
	assert.True(t, strings.HasPrefix(string(artifacts[0].Binary), "HSCO\x00gfx906\x00"))
	assert.Equal(t, "gfx90a", artifacts[1].Architecture)

	asm := artifacts[0].Assembly
	assert.Contains(t, asm, `.amdgcn_target "amdgcn-amd-amdhsa--gfx906"`)
	assert.Contains(t, asm, ".globl add_kernel")
	assert.Contains(t, asm, "v_mov_b32 v0, v_x")
	assert.Contains(t, asm, "global_load_dword")
	assert.Contains(t, asm, "v_add_f32")
	assert.Contains(t, asm, "global_store_dword")
	assert.Contains(t, asm, "s_endpgm")
}

func TestCompileDeterministic(t *testing.T) {
	gpuModule := testKernelModule(t)
	compiler := &Compiler{}
	opts := backends.Options{GenerateFatbin: true}
	first, err := compiler.Compile(gpuModule, []string{"gfx906"}, opts)
	require.NoError(t, err)
	second, err := compiler.Compile(gpuModule, []string{"gfx906"}, opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCompileErrors(t *testing.T) {
	gpuModule := testKernelModule(t)
	compiler := &Compiler{}

	_, err := compiler.Compile(gpuModule, []string{"sm_70"}, backends.Options{GenerateFatbin: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported AMD architecture "sm_70"`)

	_, err = compiler.Compile(gpuModule, []string{"gfx906", "gfx90a"}, backends.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one architecture")

	notAModule := ir.NewModule(ir.NewContext())
	_, err = compiler.Compile(notAModule.Op(), []string{"gfx906"}, backends.Options{GenerateFatbin: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `expects a "gpu.module" op`)
}

func TestUnknownOp(t *testing.T) {
	gpuModule := testKernelModule(t)
	kernel := gpuModule.Find(ir.OpGPUFunc)[0]
	ret := kernel.Regions()[0].Entry().Terminator()
	ir.NewBuilderBefore(ret).Create("llvm.frobnicate", nil, ir.Scalar(ir.F32))

	compiler := &Compiler{}
	_, err := compiler.Compile(gpuModule, []string{"gfx906"}, backends.Options{GenerateFatbin: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot select an instruction")
}

func TestRegistered(t *testing.T) {
	compiler, err := backends.NewWithConfig(BackendName)
	require.NoError(t, err)
	assert.Equal(t, BackendName, compiler.Name())
	assert.Equal(t, backends.VendorAMD, compiler.Vendor())
	assert.Equal(t, "rocdl", compiler.Dialect())
}
