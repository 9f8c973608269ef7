// kernelgen_compile lowers a TF-dialect program to its final host form with
// an embedded device binary, and prints the resulting module.
//
// Example:
//
//	kernelgen_compile -input=kernel.mlir -arch=sm_70,sm_80 -fatbin \
//	    -tile=16 -unroll=4
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Teng-xu/tensorflow-1/pipeline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/Teng-xu/tensorflow-1/backends/amd"
	_ "github.com/Teng-xu/tensorflow-1/backends/nvidia"
)

var (
	flagInput   = flag.String("input", "", "Input program file; reads stdin if empty.")
	flagOutput  = flag.String("output", "", "Output file for the lowered module; writes stdout if empty.")
	flagArchs   = flag.String("arch", "", "Comma-separated device architectures, e.g. sm_70,sm_80 or gfx906.")
	flagTile    = flag.String("tile", "", "Comma-separated tile sizes for the innermost parallel loops.")
	flagUnroll  = flag.String("unroll", "", "Comma-separated unroll factors, same arity as -tile.")
	flagCPU     = flag.Bool("cpu", false, "Generate CPU-only code: no device mapping, no backend.")
	flagFatbin  = flag.Bool("fatbin", true, "Bundle all architectures into one fatbin blob.")
	flagPTX     = flag.Bool("print_ptx", false, "Log the generated device assembly.")
	flagFTZ     = flag.Bool("ftz", false, "Compile device code with flush-denormals-to-zero.")
	flagPrints  = flag.Bool("embed_memref_prints", false, "Insert runtime prints of returned buffers.")
	flagBackend = flag.String("backend", "", "Device backend to use; defaults to the registry selection.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	var program []byte
	if *flagInput == "" {
		program = must.M1(os.ReadFile("/dev/stdin"))
	} else {
		program = must.M1(os.ReadFile(*flagInput))
	}

	config := pipeline.Config{
		Architectures:     splitList(*flagArchs),
		TileSizes:         parseInts(*flagTile),
		UnrollFactors:     parseInts(*flagUnroll),
		CPUCodegen:        *flagCPU,
		GenerateFatbin:    *flagFatbin,
		PrintPTX:          *flagPTX,
		EnableFTZ:         *flagFTZ,
		EmbedMemrefPrints: *flagPrints,
		Backend:           *flagBackend,
	}
	m, err := pipeline.Compile(string(program), config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kernelgen_compile: %v\n", err)
		os.Exit(1)
	}

	if *flagOutput == "" {
		fmt.Print(m.String())
		return
	}
	must.M(os.WriteFile(*flagOutput, []byte(m.String()), 0644))
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseInts(s string) []int64 {
	var values []int64
	for _, part := range splitList(s) {
		values = append(values, must.M1(strconv.ParseInt(part, 10, 64)))
	}
	return values
}
