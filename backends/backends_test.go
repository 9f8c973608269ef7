package backends

import (
	"os"
	"testing"

	"github.com/Teng-xu/tensorflow-1/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompiler struct {
	name   string
	config string
}

func (f *fakeCompiler) Name() string    { return f.name }
func (f *fakeCompiler) Vendor() Vendor  { return VendorNVIDIA }
func (f *fakeCompiler) Dialect() string { return "nvvm" }
func (f *fakeCompiler) Finalize()       {}

func (f *fakeCompiler) Compile(gpuModule *ir.Op, architectures []string, opts Options) ([]Artifact, error) {
	return nil, nil
}

func fakeConstructor(name string) Constructor {
	return func(config string) (Compiler, error) {
		return &fakeCompiler{name: name, config: config}, nil
	}
}

// The registry is package-global state, so all phases run in one test in a
// fixed order: first without any backend, then with two registered fakes.
func TestRegistry(t *testing.T) {
	os.Unsetenv(KERNELGEN_BACKEND)

	require.False(t, Registered())
	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no registered device backends")

	Register("fake", fakeConstructor("fake"))
	Register("other", fakeConstructor("other"))
	require.True(t, Registered())

	// The first registered backend is the default.
	compiler, err := New()
	require.NoError(t, err)
	assert.Equal(t, "fake", compiler.Name())

	compiler, err = NewWithConfig("other")
	require.NoError(t, err)
	assert.Equal(t, "other", compiler.Name())

	compiler, err = NewWithConfig("fake:opt=1")
	require.NoError(t, err)
	assert.Equal(t, "opt=1", compiler.(*fakeCompiler).config)

	_, err = NewWithConfig("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `can't find backend "missing"`)

	t.Setenv(KERNELGEN_BACKEND, "other")
	compiler, err = New()
	require.NoError(t, err)
	assert.Equal(t, "other", compiler.Name())
}

func TestFatbinRoundTrip(t *testing.T) {
	artifacts := []Artifact{
		{Architecture: "sm_70", Binary: []byte("binary one"), Assembly: "not encoded"},
		{Architecture: "sm_80", Binary: []byte{0, 1, 2, 255}},
	}
	blob := EncodeFatbin(artifacts)
	assert.Equal(t, "KGFB", string(blob[:4]))

	decoded, err := DecodeFatbin(blob)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "sm_70", decoded[0].Architecture)
	assert.Equal(t, []byte("binary one"), decoded[0].Binary)
	assert.Empty(t, decoded[0].Assembly)
	assert.Equal(t, "sm_80", decoded[1].Architecture)
	assert.Equal(t, []byte{0, 1, 2, 255}, decoded[1].Binary)
}

func TestFatbinDecodeErrors(t *testing.T) {
	_, err := DecodeFatbin([]byte("not a fatbin"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad magic")

	blob := EncodeFatbin([]Artifact{{Architecture: "sm_70", Binary: []byte("binary one")}})
	_, err = DecodeFatbin(blob[:len(blob)-1])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")

	// Cutting into the middle of an entry must error, never yield a padded
	// artifact.
	for _, cut := range []int{10, 12, 16} {
		_, err = DecodeFatbin(blob[:cut])
		require.Error(t, err, "cut at %d", cut)
		assert.Contains(t, err.Error(), "truncated fatbin entry")
	}
}

func TestVendorEnum(t *testing.T) {
	assert.Equal(t, "NVIDIA", VendorNVIDIA.String())
	assert.Equal(t, "AMD", VendorAMD.String())

	vendor, err := VendorString("AMD")
	require.NoError(t, err)
	assert.Equal(t, VendorAMD, vendor)
	_, err = VendorString("intel")
	require.Error(t, err)
}
