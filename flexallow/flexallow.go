// Package flexallow holds the fixed allowlist of TensorFlow operations the
// kernel generator accepts as input. Programs using an operation outside this
// set are rejected up front, before any lowering runs.
//
// The set is immutable by construction: there is no registration API.
package flexallow

import "strings"

// IsAllowlisted reports whether the TF operation may appear in an input
// program. The name may carry the "tf." dialect prefix.
func IsAllowlisted(name string) bool {
	return allowlisted[strings.TrimPrefix(name, "tf.")]
}

// AllowlistedCount returns the size of the allowlist.
func AllowlistedCount() int { return len(allowlisted) }

var allowlisted = make(map[string]bool, len(names))

func init() {
	for _, name := range names {
		allowlisted[name] = true
	}
}

var names = []string{
	"Abs", "Acos", "Acosh", "Add", "AddN", "AddV2", "Angle",
	"Asin", "Asinh", "Atan", "Atan2", "Atanh", "BiasAdd",
	"BitwiseAnd", "BitwiseOr", "BitwiseXor", "Cast", "Ceil",
	"ClipByValue", "Complex", "ComplexAbs", "Conj", "Const",
	"Cos", "Cosh", "Digamma", "Div", "DivNoNan", "Elu", "Equal",
	"Erf", "Erfc", "Erfinv", "Exp", "Expm1", "Floor", "FloorDiv",
	"FloorMod", "Greater", "GreaterEqual", "Imag", "Inv", "Invert",
	"IsFinite", "IsInf", "IsNan", "LeakyRelu", "LeftShift", "Less",
	"LessEqual", "Lgamma", "Log", "Log1p", "LogicalAnd", "LogicalNot",
	"LogicalOr", "Maximum", "Minimum", "Mod", "Mul", "MulNoNan",
	"Neg", "NextAfter", "NotEqual", "OnesLike", "Polygamma", "Pow",
	"Real", "RealDiv", "Reciprocal", "Relu", "Relu6", "ReluGrad",
	"RightShift", "Rint", "Round", "Rsqrt", "Select", "SelectV2",
	"Selu", "Sigmoid", "Sign", "Sin", "Sinh", "Softplus", "Softsign",
	"Sqrt", "Square", "SquaredDifference", "Sub", "Tan", "Tanh",
	"TruncateDiv", "TruncateMod", "Xdivy", "Xlog1py", "Xlogy",
	"ZerosLike",
}
