package ir

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"golang.org/x/exp/constraints"
)

// DType is the element type of a tensor, buffer or scalar value, by name.
// The set is fixed; see dtypeNames.
type DType string

const (
	F16       DType = "f16"
	F32       DType = "f32"
	F64       DType = "f64"
	I1        DType = "i1"
	I8        DType = "i8"
	I16       DType = "i16"
	I32       DType = "i32"
	I64       DType = "i64"
	Index     DType = "index"
	Complex64 DType = "c64"
	Ptr       DType = "ptr"

	// InvalidDType is the zero value of DType.
	InvalidDType DType = ""
)

var dtypeNames = map[DType]bool{
	F16: true, F32: true, F64: true,
	I1: true, I8: true, I16: true, I32: true, I64: true,
	Index: true, Complex64: true, Ptr: true,
}

// ValidDType reports whether the name is one of the supported element types.
func ValidDType(d DType) bool { return dtypeNames[d] }

// IsFloat reports whether the DType is a floating point type.
func (d DType) IsFloat() bool { return d == F16 || d == F32 || d == F64 }

// IsInt reports whether the DType is an integer type (index included).
func (d DType) IsInt() bool {
	return d == I1 || d == I8 || d == I16 || d == I32 || d == I64 || d == Index
}

// TypeKind discriminates the three kinds of value types in the IR.
type TypeKind int

const (
	// KindScalar is a plain scalar value (loop indices, loaded elements).
	KindScalar TypeKind = iota

	// KindTensor is an immutable value-semantics tensor, the form produced
	// by the frontend and consumed by bufferization.
	KindTensor

	// KindMemRef is a mutable buffer with explicit load/store semantics,
	// the form produced by bufferization.
	KindMemRef
)

//go:generate go tool enumer -type TypeKind -trimprefix=Kind -output=gen_typekind_enumer.go types.go

// DynamicDim marks a dimension whose extent is only known at runtime.
const DynamicDim = -1

// Type describes the type of a Value. It is a small value object; compare with
// Eq, never with pointer identity.
type Type struct {
	Kind  TypeKind
	DType DType
	Dims  []int // Only for KindTensor and KindMemRef; DynamicDim entries allowed.
}

// Scalar returns the scalar Type of the given DType.
func Scalar(dtype DType) Type {
	checkDType(dtype)
	return Type{Kind: KindScalar, DType: dtype}
}

// Tensor returns a tensor Type with the given element type and dimensions.
func Tensor(dtype DType, dims ...int) Type {
	checkDType(dtype)
	checkDims(dims)
	return Type{Kind: KindTensor, DType: dtype, Dims: slices.Clone(dims)}
}

// MemRef returns a buffer Type with the given element type and dimensions.
func MemRef(dtype DType, dims ...int) Type {
	checkDType(dtype)
	checkDims(dims)
	return Type{Kind: KindMemRef, DType: dtype, Dims: slices.Clone(dims)}
}

func checkDType(dtype DType) {
	if !dtypeNames[dtype] {
		exceptions.Panicf("ir: unknown dtype %q", string(dtype))
	}
}

func checkDims(dims []int) {
	for _, dim := range dims {
		if dim <= 0 && dim != DynamicDim {
			exceptions.Panicf("ir: invalid dimension %d, must be positive or DynamicDim", dim)
		}
	}
}

// Invalid returns the invalid zero Type.
func Invalid() Type { return Type{} }

// Ok reports whether the type was properly constructed.
func (t Type) Ok() bool { return t.DType != InvalidDType }

// Rank is the number of axes. Scalars have rank 0.
func (t Type) Rank() int { return len(t.Dims) }

// IsStatic reports whether all dimensions are statically known.
func (t Type) IsStatic() bool {
	return !slices.Contains(t.Dims, DynamicDim)
}

// NumElements returns the static element count. It panics for types with
// dynamic dimensions; check IsStatic first.
func (t Type) NumElements() int {
	if !t.IsStatic() {
		exceptions.Panicf("ir: NumElements called on dynamically shaped type %s", t)
	}
	return Prod(t.Dims)
}

// Eq reports whether two types are identical, including every dimension.
func (t Type) Eq(other Type) bool {
	return t.Kind == other.Kind && t.DType == other.DType && slices.Equal(t.Dims, other.Dims)
}

// AsMemRef returns the buffer type with the same element type and dimensions.
func (t Type) AsMemRef() Type {
	return Type{Kind: KindMemRef, DType: t.DType, Dims: slices.Clone(t.Dims)}
}

// AsTensor returns the value-semantics type with the same element type and
// dimensions.
func (t Type) AsTensor() Type {
	return Type{Kind: KindTensor, DType: t.DType, Dims: slices.Clone(t.Dims)}
}

// Elem returns the scalar type of one element.
func (t Type) Elem() Type { return Scalar(t.DType) }

// String returns the textual form understood by the parser: "f32", "index",
// "tensor<4x?xf32>", "memref<64xf32>".
func (t Type) String() string {
	if !t.Ok() {
		return "<invalid>"
	}
	if t.Kind == KindScalar {
		return string(t.DType)
	}
	parts := make([]string, 0, len(t.Dims)+1)
	for _, dim := range t.Dims {
		if dim == DynamicDim {
			parts = append(parts, "?")
		} else {
			parts = append(parts, strconv.Itoa(dim))
		}
	}
	parts = append(parts, string(t.DType))
	name := "tensor"
	if t.Kind == KindMemRef {
		name = "memref"
	}
	return fmt.Sprintf("%s<%s>", name, strings.Join(parts, "x"))
}

// Prod returns the product of the elements, 1 for an empty slice.
func Prod[T constraints.Integer](values []T) T {
	prod := T(1)
	for _, v := range values {
		prod *= v
	}
	return prod
}
