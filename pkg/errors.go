package pkg

import (
	"fmt"
	"strings"
)

// UndefinedVariableError is returned when a rendered string references a
// variable that is absent from the effective scope and carries no default.
type UndefinedVariableError struct {
	Variable string
	Template string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined variable %q in template %q", e.Variable, e.Template)
}

// RenderCycleError is returned when template expansion does not reach a
// fixpoint within the iteration cap, which indicates self-referential
// substitution.
type RenderCycleError struct {
	Template   string
	Iterations int
}

func (e *RenderCycleError) Error() string {
	return fmt.Sprintf("template expansion exceeded max iterations (%d) for: %s", e.Iterations, e.Template)
}

// UnknownModuleError is returned at load time when a task names a module
// that is not registered. It fails the run before any task executes.
type UnknownModuleError struct {
	Module string
	Task   string
}

func (e *UnknownModuleError) Error() string {
	if e.Task != "" {
		return fmt.Sprintf("unknown module %q in task %q", e.Module, e.Task)
	}
	return fmt.Sprintf("unknown module %q", e.Module)
}

// RoleNotFoundError is returned when a named role cannot be found in any of
// the configured roles paths. It fails the whole invocation before any host
// starts.
type RoleNotFoundError struct {
	Role          string
	SearchedPaths []string
}

func (e *RoleNotFoundError) Error() string {
	return fmt.Sprintf("role %q not found in paths: %s", e.Role, strings.Join(e.SearchedPaths, ", "))
}

// TaskError wraps a task-level failure with enough context to surface it
// verbatim to the operator.
type TaskError struct {
	Host  string
	Task  string
	Index int
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q (index %d) failed on host %s: %v", e.Task, e.Index, e.Host, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
