package depgraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCycleDetected     = errors.New("dependency cycle detected")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDuplicateNode     = errors.New("duplicate unit name")
	ErrEmptyName         = errors.New("unit name is empty")
	ErrInvalidName       = errors.New("unit name has surrounding whitespace")
)

// checkName rejects names that would index differently from how they are
// referenced.
func checkName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ErrEmptyName
	}
	if trimmed != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// CycleError names the participants of a cycle in traversal order. The first
// participant is repeated at the end of Path.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if e == nil || len(e.Path) == 0 {
		return ErrCycleDetected.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCycleDetected, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// Participants returns the distinct units on the cycle.
func (e *CycleError) Participants() []string {
	if e == nil || len(e.Path) == 0 {
		return nil
	}
	return append([]string(nil), e.Path[:len(e.Path)-1]...)
}

// UnknownDependencyError reports a dependency name with no declared node.
type UnknownDependencyError struct {
	Unit       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("unit %s needs missing dependency %q: %s", e.Unit, e.Dependency, ErrUnknownDependency)
}

func (e *UnknownDependencyError) Unwrap() error { return ErrUnknownDependency }
