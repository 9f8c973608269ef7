// Package pipeline lowers TensorFlow-dialect programs to launchable kernels.
//
// The pipeline is a fixed sequence of stages; each stage is a named list of
// steps rewriting one shared *ir.Module in place. Stages either complete or
// fail the whole compilation with a stage-specific message; there is no
// partial output.
package pipeline

import (
	"github.com/Teng-xu/tensorflow-1/ir"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Step is one rewrite of the module. Steps are applied in order and must
// leave the module verifiable.
type Step interface {
	Name() string
	Apply(m *ir.Module) error
}

type stepFunc struct {
	name string
	fn   func(m *ir.Module) error
}

func (s stepFunc) Name() string             { return s.name }
func (s stepFunc) Apply(m *ir.Module) error { return s.fn(m) }

// newStep wraps a fallible rewrite into a Step.
func newStep(name string, fn func(m *ir.Module) error) Step {
	return stepFunc{name: name, fn: fn}
}

// newRewrite wraps an infallible structural rewrite into a Step.
func newRewrite(name string, fn func(m *ir.Module)) Step {
	return stepFunc{name: name, fn: func(m *ir.Module) error {
		fn(m)
		return nil
	}}
}

// Stage is a named, ordered group of steps with a fixed failure message.
type Stage struct {
	// Name identifies the stage in logs and errors.
	Name string

	// FailureMessage is the stable message reported when any step fails,
	// e.g. "Lowering TF to loops failed.".
	FailureMessage string

	Steps []Step
}

// Run applies the stage's steps in order. After every step the module is
// re-verified; a step that leaves the module inconsistent fails the stage the
// same way a rewrite error does.
func (s *Stage) Run(m *ir.Module) error {
	klog.V(1).Infof("Running stage %q (%d steps)", s.Name, len(s.Steps))
	for _, step := range s.Steps {
		klog.V(2).Infof("Stage %q: step %q", s.Name, step.Name())
		if err := step.Apply(m); err != nil {
			return &StageError{Stage: s.Name, Message: s.FailureMessage, Err: errors.Wrapf(err, "step %q", step.Name())}
		}
		if err := ir.Verify(m); err != nil {
			return &StageError{
				Stage:   s.Name,
				Message: s.FailureMessage,
				Err:     errors.Wrapf(err, "verification failed after rewrite %q", step.Name()),
			}
		}
	}
	return nil
}
