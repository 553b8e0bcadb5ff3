// Package dag resolves a pipeline's stage-dependency expression into an
// ordered list of execution steps.
//
// The expression grammar is deliberately flat: ">>" sequences steps and
// "," separates stages that run concurrently within a step, e.g.
//
//	prepare >> train, validate >> serve
//
// Whitespace is insignificant. The grammar can only encode a sequence of
// concurrent sets, so no cycle detection beyond the syntax is needed.
package dag

import (
	"fmt"
	"strings"
)

const (
	stepSeparator  = ">>"
	stageSeparator = ","
)

var ErrEmptyExpression = fmt.Errorf("DAG expression contains no steps")

// UnknownStageError reports a stage named in the expression that has no
// configuration in the pipeline descriptor.
type UnknownStageError struct {
	Stage string
	Step  int
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("stage %q in step %d is not defined in the pipeline descriptor", e.Stage, e.Step)
}

// Step is a set of stages eligible to run concurrently. Steps execute in
// strict sequence, ordered by Index.
type Step struct {
	Index  int
	Stages []string
}

// Resolve parses expr into an ordered step list, checking every named
// stage against validStages. It is a pure function: the same inputs
// always yield the same steps.
func Resolve(expr string, validStages map[string]struct{}) ([]Step, error) {
	compact := strings.ReplaceAll(expr, " ", "")
	compact = strings.ReplaceAll(compact, "\t", "")
	if compact == "" {
		return nil, ErrEmptyExpression
	}

	rawSteps := strings.Split(compact, stepSeparator)

	steps := make([]Step, 0, len(rawSteps))
	for i, rawStep := range rawSteps {
		names := strings.Split(rawStep, stageSeparator)
		stages := make([]string, 0, len(names))
		for _, name := range names {
			if name == "" {
				return nil, fmt.Errorf("null stage name in step %d of DAG expression %q", i+1, expr)
			}
			if _, ok := validStages[name]; !ok {
				return nil, &UnknownStageError{Stage: name, Step: i + 1}
			}
			stages = append(stages, name)
		}
		steps = append(steps, Step{Index: i + 1, Stages: stages})
	}

	if len(steps) == 0 {
		return nil, ErrEmptyExpression
	}

	return steps, nil
}
